package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/xxxsen/mnote-agent/internal/model"
)

type memoryConfig struct {
	// MinScore drops matches below this cosine similarity.
	MinScore float64 `json:"min_score"`
}

// memoryStore is a brute-force cosine store. It is lost on restart; the
// sync reconciler rebuilds it from the notes store.
type memoryStore struct {
	mu       sync.RWMutex
	byNote   map[string][]model.NoteChunk
	minScore float64
}

func init() {
	Register("memory", createMemoryStore)
}

func createMemoryStore(args interface{}, _ Env) (Store, error) {
	cfg := &memoryConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	return NewMemory(cfg.MinScore), nil
}

func NewMemory(minScore float64) Store {
	return &memoryStore{byNote: map[string][]model.NoteChunk{}, minScore: minScore}
}

func (s *memoryStore) ReplaceByNote(ctx context.Context, noteID string, chunks []model.NoteChunk) error {
	copied := make([]model.NoteChunk, 0, len(chunks))
	for _, c := range chunks {
		c.NoteID = noteID
		c.Embedding = append([]float32(nil), c.Embedding...)
		copied = append(copied, c)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(copied) == 0 {
		delete(s.byNote, noteID)
		return nil
	}
	s.byNote[noteID] = copied
	return nil
}

func (s *memoryStore) DeleteByNote(ctx context.Context, noteID string) error {
	s.mu.Lock()
	delete(s.byNote, noteID)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Search(ctx context.Context, vector []float32, topK int) ([]model.ChunkMatch, error) {
	if len(vector) == 0 || topK <= 0 {
		return []model.ChunkMatch{}, nil
	}
	qnorm := norm(vector)
	if qnorm == 0 {
		return []model.ChunkMatch{}, nil
	}
	s.mu.RLock()
	matches := make([]model.ChunkMatch, 0)
	for _, chunks := range s.byNote {
		for _, c := range chunks {
			if len(c.Embedding) != len(vector) {
				continue
			}
			score := cosine(vector, c.Embedding, qnorm)
			if score < s.minScore {
				continue
			}
			c.Embedding = nil
			matches = append(matches, model.ChunkMatch{Chunk: c, Score: score})
		}
	}
	s.mu.RUnlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Chunk.ChunkID < matches[j].Chunk.ChunkID
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func cosine(a, b []float32, anorm float64) float64 {
	bnorm := norm(b)
	if bnorm == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (anorm * bnorm)
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
