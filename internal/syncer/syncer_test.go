package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/mnote-agent/internal/llm"
	"github.com/xxxsen/mnote-agent/internal/llm/llmtest"
	"github.com/xxxsen/mnote-agent/internal/model"
	"github.com/xxxsen/mnote-agent/internal/repo"
	"github.com/xxxsen/mnote-agent/internal/settings"
	"github.com/xxxsen/mnote-agent/internal/vectorstore"
)

type fixture struct {
	notes   *repo.NoteRepo
	vectors vectorstore.Store
	fake    *llmtest.Client
	svc     *Service
}

func newFixture(t *testing.T, embeddingModel string) *fixture {
	t.Helper()
	db, err := repo.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, repo.ApplyMigrations(db))

	f := &fixture{
		notes:   repo.NewNoteRepo(db),
		vectors: vectorstore.NewMemory(0),
		fake:    &llmtest.Client{},
	}
	sp := settings.NewStore(settings.Settings{Embedding: settings.EmbeddingSettings{Model: embeddingModel}})
	f.svc = New(f.notes, f.vectors, f.fake, sp, Config{Workers: 1, QueueSize: 4})
	return f
}

func TestSyncNote(t *testing.T) {
	f := newFixture(t, "embed-1")
	ctx := context.Background()
	require.NoError(t, f.notes.Create(ctx, &model.Note{ID: "n1", Title: "Channels", Content: "# Intro\n\nchannels connect goroutines", Mtime: 7}))

	require.NoError(t, f.svc.SyncNote(ctx, "n1"))

	calls := f.fake.EmbedCalls()
	require.Len(t, calls, 1)
	require.Equal(t, "embed-1", calls[0].Model)
	require.Equal(t, llm.TaskRetrievalDocument, calls[0].TaskType)
	require.Contains(t, calls[0].Text, "channels connect goroutines")

	matches, err := f.vectors.Search(ctx, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "n1#0", matches[0].Chunk.ChunkID)
	require.Equal(t, "Channels", matches[0].Chunk.Title)
	require.Equal(t, int64(7), matches[0].Chunk.Mtime)

	stale, err := f.notes.ListStale(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, stale)
}

func TestSyncDeletedNote(t *testing.T) {
	f := newFixture(t, "embed-1")
	ctx := context.Background()
	require.NoError(t, f.vectors.ReplaceByNote(ctx, "gone", []model.NoteChunk{{ChunkID: "gone#0", Embedding: []float32{1, 0, 0}}}))

	require.NoError(t, f.svc.SyncNote(ctx, "gone"))
	matches, err := f.vectors.Search(ctx, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestSyncWithoutEmbeddingModel(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	require.NoError(t, f.notes.Create(ctx, &model.Note{ID: "n1", Content: "text", Mtime: 1}))

	err := f.svc.SyncNote(ctx, "n1")
	require.Error(t, err)
	require.Empty(t, f.fake.EmbedCalls())
	stale, err := f.notes.ListStale(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
}

func TestSyncEmbedFailureKeepsNoteStale(t *testing.T) {
	f := newFixture(t, "embed-1")
	f.fake.EmbedFunc = func(ctx context.Context, req llm.EmbedRequest) ([]float32, error) {
		return nil, errors.New("quota exceeded")
	}
	ctx := context.Background()
	require.NoError(t, f.notes.Create(ctx, &model.Note{ID: "n1", Content: "text", Mtime: 1}))

	n, err := f.svc.Reconcile(ctx, 10)
	require.Error(t, err)
	require.Equal(t, 0, n)
	stale, err := f.notes.ListStale(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
}

func TestReconcile(t *testing.T) {
	f := newFixture(t, "embed-1")
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, f.notes.Create(ctx, &model.Note{ID: id, Content: "note " + id, Mtime: 1}))
	}
	n, err := f.svc.Reconcile(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = f.svc.Reconcile(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = f.svc.Reconcile(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestTriggerIsAsynchronous(t *testing.T) {
	f := newFixture(t, "embed-1")
	ctx := context.Background()
	release := make(chan struct{})
	f.fake.EmbedFunc = func(ctx context.Context, req llm.EmbedRequest) ([]float32, error) {
		<-release
		return []float32{1, 0, 0}, nil
	}
	require.NoError(t, f.notes.Create(ctx, &model.Note{ID: "n1", Content: "text", Mtime: 1}))

	f.svc.Start(ctx)
	defer f.svc.Stop()

	require.True(t, f.svc.Trigger("n1"))
	close(release)
	require.Eventually(t, func() bool {
		stale, err := f.notes.ListStale(ctx, 10)
		return err == nil && len(stale) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTriggerQueueFull(t *testing.T) {
	f := newFixture(t, "embed-1")
	for _, id := range []string{"a", "b", "c", "d"} {
		require.True(t, f.svc.Trigger(id))
	}
	require.True(t, f.svc.Trigger("a"), "already queued")
	require.False(t, f.svc.Trigger("e"))

	f.svc.Stop()
	require.False(t, f.svc.Trigger("f"))
}
