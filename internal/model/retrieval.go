package model

const (
	OriginVector = "vector"
	OriginNotes  = "notes"
	OriginBoth   = "both"
)

// RetrievalResult is one ranked context snippet produced for a query.
type RetrievalResult struct {
	SourceID string  `json:"source_id"`
	ChunkID  string  `json:"chunk_id,omitempty"`
	Title    string  `json:"title,omitempty"`
	Snippet  string  `json:"snippet"`
	Score    float64 `json:"score"`
	Origin   string  `json:"origin"`
}
