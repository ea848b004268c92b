// Package vectorstore holds the embedded note chunks searched by the
// retrieval layer. Backends register themselves by name.
package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xxxsen/mnote-agent/internal/config"
	"github.com/xxxsen/mnote-agent/internal/model"
)

type Store interface {
	// ReplaceByNote swaps every chunk of noteID for chunks.
	ReplaceByNote(ctx context.Context, noteID string, chunks []model.NoteChunk) error
	DeleteByNote(ctx context.Context, noteID string) error
	// Search returns at most topK chunks ordered by descending similarity.
	Search(ctx context.Context, vector []float32, topK int) ([]model.ChunkMatch, error)
}

// Env carries shared resources a backend may need.
type Env struct {
	PG *sql.DB
}

type Factory func(args interface{}, env Env) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

func New(cfg config.VectorStoreConfig, env Env) (Store, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	if key == "" {
		return nil, fmt.Errorf("vector_store.type is required")
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported vector store type: %s", cfg.Type)
	}
	return factory(cfg.Data, env)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode vector store config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode vector store config: %w", err)
	}
	return nil
}
