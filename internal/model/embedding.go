package model

type ChunkType string

const (
	ChunkTypeText  ChunkType = "text"
	ChunkTypeCode  ChunkType = "code"
	ChunkTypeMixed ChunkType = "mixed"
)

// NoteChunk is one embedded slice of a note held by the vector store.
type NoteChunk struct {
	ChunkID    string    `json:"chunk_id"`
	NoteID     string    `json:"note_id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	ChunkType  ChunkType `json:"chunk_type"`
	Position   int       `json:"position"`
	TokenCount int       `json:"token_count"`
	Embedding  []float32 `json:"embedding"`
	Mtime      int64     `json:"mtime"`
}

// ChunkMatch is a vector similarity hit.
type ChunkMatch struct {
	Chunk NoteChunk
	Score float64
}

type EmbeddingCache struct {
	ModelName   string    `json:"model_name"`
	TaskType    string    `json:"task_type"`
	ContentHash string    `json:"content_hash"`
	Embedding   []float32 `json:"embedding"`
	Ctime       int64     `json:"ctime"`
}
