package embedcache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xxxsen/mnote-agent/internal/llm"
)

// WrapLRU keeps up to size vectors in memory for ttl. Concurrent misses on
// one key share a single call to e. A non-positive size or ttl returns e
// unchanged.
func WrapLRU(e Embedder, size int, ttl time.Duration) Embedder {
	if e == nil || size <= 0 || ttl <= 0 {
		return e
	}
	return &lruEmbedder{
		next:  e,
		items: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

type lruEmbedder struct {
	next  Embedder
	items *expirable.LRU[string, []float32]
	group singleflight.Group
}

func (l *lruEmbedder) Embed(ctx context.Context, req llm.EmbedRequest) ([]float32, error) {
	key, _, _ := buildCacheKey(req.Model, req.TaskType, req.Text)
	if vec, ok := l.items.Get(key); ok {
		logutil.GetLogger(ctx).Debug("embedding served from memory",
			zap.String("model", req.Model), zap.String("task_type", req.TaskType))
		return cloneEmbedding(vec), nil
	}
	v, err, _ := l.group.Do(key, func() (interface{}, error) {
		vec, err := l.next.Embed(ctx, req)
		if err != nil {
			return nil, err
		}
		stored := cloneEmbedding(vec)
		l.items.Add(key, stored)
		return stored, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneEmbedding(v.([]float32)), nil
}
