// Package embedcache layers caches in front of an embedding backend.
package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/xxxsen/mnote-agent/internal/llm"
)

type Embedder interface {
	Embed(ctx context.Context, req llm.EmbedRequest) ([]float32, error)
}

type EmbedderFunc func(ctx context.Context, req llm.EmbedRequest) ([]float32, error)

func (f EmbedderFunc) Embed(ctx context.Context, req llm.EmbedRequest) ([]float32, error) {
	return f(ctx, req)
}

func buildCacheKey(modelName, taskType, text string) (string, string, string) {
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		modelName = "unknown"
	}
	hash := sha256.Sum256([]byte(text))
	contentHash := hex.EncodeToString(hash[:])
	return "embed:" + modelName + ":" + taskType + ":" + contentHash, contentHash, modelName
}

func cloneEmbedding(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}
