package embedcache

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mnote-agent/internal/llm"
	"github.com/xxxsen/mnote-agent/internal/model"
)

// Store persists embeddings keyed by model, task type and content hash.
type Store interface {
	Get(ctx context.Context, modelName, taskType, contentHash string) ([]float32, bool, error)
	Save(ctx context.Context, item *model.EmbeddingCache) error
}

func WrapDB(e Embedder, store Store) Embedder {
	if e == nil || store == nil {
		return e
	}
	return &dbEmbedder{next: e, store: store}
}

type dbEmbedder struct {
	next  Embedder
	store Store
}

// Embed falls through to the backend when the store errors on read; a
// broken cache table must not take embeddings down with it.
func (d *dbEmbedder) Embed(ctx context.Context, req llm.EmbedRequest) ([]float32, error) {
	_, contentHash, modelName := buildCacheKey(req.Model, req.TaskType, req.Text)
	values, ok, err := d.store.Get(ctx, modelName, req.TaskType, contentHash)
	if err != nil {
		logutil.GetLogger(ctx).Warn("embedding cache read failed", zap.Error(err))
	}
	if err == nil && ok {
		logutil.GetLogger(ctx).Debug("embedding cache hit (db)", zap.String("task_type", req.TaskType))
		return values, nil
	}
	res, err := d.next.Embed(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := d.store.Save(ctx, &model.EmbeddingCache{
		ModelName:   modelName,
		TaskType:    req.TaskType,
		ContentHash: contentHash,
		Embedding:   res,
		Ctime:       time.Now().Unix(),
	}); err != nil {
		logutil.GetLogger(ctx).Warn("failed to cache embedding", zap.Error(err))
	}
	return res, nil
}
