package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type EmbeddingCachePurger interface {
	DeleteBefore(ctx context.Context, cutoff int64) (int64, error)
}

type EmbeddingCacheCleanupJob struct {
	store      EmbeddingCachePurger
	maxAgeDays int
	now        func() time.Time
}

func NewEmbeddingCacheCleanupJob(store EmbeddingCachePurger, maxAgeDays int) *EmbeddingCacheCleanupJob {
	if maxAgeDays <= 0 {
		maxAgeDays = 30
	}
	return &EmbeddingCacheCleanupJob{store: store, maxAgeDays: maxAgeDays, now: time.Now}
}

func (j *EmbeddingCacheCleanupJob) Name() string {
	return "embedding_cache_cleanup"
}

func (j *EmbeddingCacheCleanupJob) Run(ctx context.Context) error {
	if j.store == nil {
		return nil
	}
	cutoff := j.now().Add(-time.Duration(j.maxAgeDays) * 24 * time.Hour).Unix()
	deleted, err := j.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	logutil.GetLogger(ctx).Info("embedding cache purged", zap.Int64("deleted", deleted), zap.Int64("cutoff", cutoff))
	return nil
}
