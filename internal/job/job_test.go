package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type reconcilerFunc func(ctx context.Context, limit int) (int, error)

func (f reconcilerFunc) Reconcile(ctx context.Context, limit int) (int, error) {
	return f(ctx, limit)
}

type purgerFunc func(ctx context.Context, cutoff int64) (int64, error)

func (f purgerFunc) DeleteBefore(ctx context.Context, cutoff int64) (int64, error) {
	return f(ctx, cutoff)
}

func TestNoteResyncJob(t *testing.T) {
	var gotLimit int
	j := NewNoteResyncJob(reconcilerFunc(func(ctx context.Context, limit int) (int, error) {
		gotLimit = limit
		return 3, nil
	}), 25)
	require.Equal(t, "note_resync", j.Name())
	require.NoError(t, j.Run(context.Background()))
	require.Equal(t, 25, gotLimit)

	boom := errors.New("notes db locked")
	j = NewNoteResyncJob(reconcilerFunc(func(ctx context.Context, limit int) (int, error) {
		return 0, boom
	}), 25)
	require.ErrorIs(t, j.Run(context.Background()), boom)

	require.NoError(t, NewNoteResyncJob(nil, 1).Run(context.Background()))
}

func TestEmbeddingCacheCleanupJob(t *testing.T) {
	var gotCutoff int64
	j := NewEmbeddingCacheCleanupJob(purgerFunc(func(ctx context.Context, cutoff int64) (int64, error) {
		gotCutoff = cutoff
		return 2, nil
	}), 0)
	now := time.Unix(100*24*3600, 0)
	j.now = func() time.Time { return now }

	require.NoError(t, j.Run(context.Background()))
	require.Equal(t, now.Add(-30*24*time.Hour).Unix(), gotCutoff)
}
