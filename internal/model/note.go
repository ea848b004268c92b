package model

type Note struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Content     string   `json:"content"`
	Tags        []string `json:"tags"`
	Ctime       int64    `json:"ctime"`
	Mtime       int64    `json:"mtime"`
	SyncedMtime int64    `json:"synced_mtime"`
}

// NoteMatch is a keyword search hit from the notes store.
type NoteMatch struct {
	Note  Note
	Score float64
}

// NoteDraft is a generated note before it is persisted.
type NoteDraft struct {
	Content       string            `json:"content"`
	SourceContext []RetrievalResult `json:"source_context"`
}
