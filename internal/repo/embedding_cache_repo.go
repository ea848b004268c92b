package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/didi/gendry/builder"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/mnote-agent/internal/model"
	"github.com/xxxsen/mnote-agent/internal/pkg/dbutil"
)

// EmbeddingCacheRepo persists embeddings keyed by (model, task, content hash)
// so a restart does not pay for vectors computed before.
type EmbeddingCacheRepo struct {
	db *sql.DB
}

func NewEmbeddingCacheRepo(db *sql.DB) *EmbeddingCacheRepo {
	return &EmbeddingCacheRepo{db: db}
}

func (r *EmbeddingCacheRepo) Get(ctx context.Context, modelName, taskType, contentHash string) ([]float32, bool, error) {
	where := map[string]interface{}{
		"model_name":   modelName,
		"task_type":    taskType,
		"content_hash": contentHash,
	}
	sqlStr, args, err := builder.BuildSelect("embedding_cache", where, []string{"embedding"})
	if err != nil {
		return nil, false, err
	}
	sqlStr, args = dbutil.Rebind(sqlStr, args)
	var vec pgvector.Vector
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&vec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return vec.Slice(), true, nil
}

// Save upserts item; a newer vector for the same key replaces the old one.
func (r *EmbeddingCacheRepo) Save(ctx context.Context, item *model.EmbeddingCache) error {
	const query = `
		INSERT INTO embedding_cache (model_name, task_type, content_hash, embedding, ctime)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (model_name, task_type, content_hash)
		DO UPDATE SET embedding = EXCLUDED.embedding, ctime = EXCLUDED.ctime
	`
	sqlStr, args := dbutil.Rebind(query, []interface{}{
		item.ModelName, item.TaskType, item.ContentHash, pgvector.NewVector(item.Embedding), item.Ctime,
	})
	_, err := r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

// DeleteBefore drops entries created before cutoff (unix seconds) and
// reports how many went.
func (r *EmbeddingCacheRepo) DeleteBefore(ctx context.Context, cutoff int64) (int64, error) {
	sqlStr, args, err := builder.BuildDelete("embedding_cache", map[string]interface{}{"ctime <": cutoff})
	if err != nil {
		return 0, err
	}
	sqlStr, args = dbutil.Rebind(sqlStr, args)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
