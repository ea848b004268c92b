package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type Reconciler interface {
	Reconcile(ctx context.Context, limit int) (int, error)
}

// NoteResyncJob re-embeds notes whose vectors are older than their content.
type NoteResyncJob struct {
	syncer    Reconciler
	batchSize int
}

func NewNoteResyncJob(syncer Reconciler, batchSize int) *NoteResyncJob {
	return &NoteResyncJob{syncer: syncer, batchSize: batchSize}
}

func (j *NoteResyncJob) Name() string {
	return "note_resync"
}

func (j *NoteResyncJob) Run(ctx context.Context) error {
	if j.syncer == nil {
		return nil
	}
	synced, err := j.syncer.Reconcile(ctx, j.batchSize)
	if synced > 0 {
		logutil.GetLogger(ctx).Info("stale notes synced", zap.Int("count", synced))
	}
	return err
}
