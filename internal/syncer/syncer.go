// Package syncer keeps the vector store in step with the notes store.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xxxsen/mnote-agent/internal/embedcache"
	"github.com/xxxsen/mnote-agent/internal/llm"
	"github.com/xxxsen/mnote-agent/internal/model"
	appErr "github.com/xxxsen/mnote-agent/internal/pkg/errors"
	"github.com/xxxsen/mnote-agent/internal/settings"
	"github.com/xxxsen/mnote-agent/internal/vectorstore"
)

const embedParallelism = 4

type NotesSource interface {
	GetByID(ctx context.Context, id string) (*model.Note, error)
	ListStale(ctx context.Context, limit int) ([]model.Note, error)
	MarkSynced(ctx context.Context, id string, mtime int64) error
}

type Config struct {
	Workers        int
	QueueSize      int
	ChunkMaxTokens int
}

// Service embeds notes into the vector store. Trigger queues a note and
// returns at once; Reconcile catches up on anything a trigger missed.
type Service struct {
	notes    NotesSource
	vectors  vectorstore.Store
	embedder embedcache.Embedder
	settings settings.Provider
	chunker  *Chunker
	workers  int

	queue chan string

	mu      sync.Mutex
	pending map[string]struct{}
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(notes NotesSource, vectors vectorstore.Store, embedder embedcache.Embedder, sp settings.Provider, cfg Config) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Service{
		notes:    notes,
		vectors:  vectors,
		embedder: embedder,
		settings: sp,
		chunker:  NewChunker(cfg.ChunkMaxTokens),
		workers:  cfg.Workers,
		queue:    make(chan string, cfg.QueueSize),
		pending:  make(map[string]struct{}),
	}
}

// Start launches the workers. They run until Stop or until ctx ends.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.work(ctx)
	}
}

func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// Trigger queues noteID for sync without waiting. It reports false when the
// note could not be queued; the next Reconcile picks it up instead. A note
// already waiting in the queue is not queued twice.
func (s *Service) Trigger(noteID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	if _, ok := s.pending[noteID]; ok {
		return true
	}
	select {
	case s.queue <- noteID:
		s.pending[noteID] = struct{}{}
		return true
	default:
		logutil.GetLogger(context.Background()).Warn("sync queue full, leaving note to reconcile", zap.String("note_id", noteID))
		return false
	}
}

func (s *Service) work(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-s.queue:
			s.mu.Lock()
			delete(s.pending, id)
			s.mu.Unlock()
			if err := s.SyncNote(ctx, id); err != nil {
				logutil.GetLogger(ctx).Error("sync note failed", zap.String("note_id", id), zap.Error(err))
			}
		}
	}
}

// SyncNote replaces the vectors of one note with fresh ones. A note that no
// longer exists has its vectors removed.
func (s *Service) SyncNote(ctx context.Context, noteID string) error {
	note, err := s.notes.GetByID(ctx, noteID)
	if err != nil {
		if errors.Is(err, appErr.ErrNotFound) {
			return s.vectors.DeleteByNote(ctx, noteID)
		}
		return fmt.Errorf("load note: %w", err)
	}
	resolved := settings.ResolveEmbedding(nil, s.settings)
	if resolved.IsNone() {
		return &appErr.ConfigurationError{Stage: "sync"}
	}
	r := resolved.UnwrapOr(settings.Resolved{})

	chunks := s.chunker.Chunk(ctx, note.Content)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedParallelism)
	for i := range chunks {
		i := i
		chunks[i].ChunkID = note.ID + "#" + strconv.Itoa(chunks[i].Position)
		chunks[i].NoteID = note.ID
		chunks[i].Title = note.Title
		chunks[i].Mtime = note.Mtime
		g.Go(func() error {
			vec, err := s.embedder.Embed(gctx, llm.EmbedRequest{
				Model:    r.Model,
				Text:     embedText(note.Title, chunks[i].Content),
				TaskType: llm.TaskRetrievalDocument,
				Endpoint: r.Endpoint,
			})
			if err != nil {
				return fmt.Errorf("embed chunk %d: %w", chunks[i].Position, err)
			}
			chunks[i].Embedding = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := s.vectors.ReplaceByNote(ctx, note.ID, chunks); err != nil {
		return fmt.Errorf("store vectors: %w", err)
	}
	if err := s.notes.MarkSynced(ctx, note.ID, note.Mtime); err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	logutil.GetLogger(ctx).Debug("note synced", zap.String("note_id", note.ID), zap.Int("chunks", len(chunks)))
	return nil
}

// Reconcile syncs up to limit stale notes and returns how many succeeded.
// A failing note does not stop the batch.
func (s *Service) Reconcile(ctx context.Context, limit int) (int, error) {
	stale, err := s.notes.ListStale(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list stale notes: %w", err)
	}
	synced := 0
	var errs []error
	for _, note := range stale {
		if err := ctx.Err(); err != nil {
			return synced, err
		}
		if err := s.SyncNote(ctx, note.ID); err != nil {
			logutil.GetLogger(ctx).Warn("reconcile note failed", zap.String("note_id", note.ID), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		synced++
	}
	if synced == 0 && len(errs) > 0 {
		return 0, errors.Join(errs...)
	}
	return synced, nil
}

func embedText(title, content string) string {
	if title == "" {
		return content
	}
	return title + "\n" + content
}
