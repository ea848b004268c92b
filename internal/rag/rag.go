// Package rag retrieves note context for a query from the vector store and
// the notes store and fuses both rankings into one list.
package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xxxsen/mnote-agent/internal/embedcache"
	"github.com/xxxsen/mnote-agent/internal/llm"
	"github.com/xxxsen/mnote-agent/internal/model"
	appErr "github.com/xxxsen/mnote-agent/internal/pkg/errors"
	"github.com/xxxsen/mnote-agent/internal/settings"
)

const (
	StoreVector = "vector"
	StoreNotes  = "notes"

	stageRetrieve = "retrieve"
)

type VectorStore interface {
	Search(ctx context.Context, vector []float32, topK int) ([]model.ChunkMatch, error)
}

type NotesStore interface {
	Search(ctx context.Context, query string, tags []string, limit int) ([]model.NoteMatch, error)
}

// Recorder receives the outcome of each retrieval.
type Recorder interface {
	StageOutcome(stage string, outcome string)
}

type Config struct {
	TopK            int
	MaxResults      int
	MaxContextChars int
	VectorWeight    float64
	NotesWeight     float64
}

type Options struct {
	Tags   []string
	Config *model.LLMConfig
	// MaxResults overrides Config.MaxResults when positive.
	MaxResults int
}

// Retrieval is the fused context for one query. Errors lists the stores
// that could not be searched; the results come from the others.
type Retrieval struct {
	Results []model.RetrievalResult
	Errors  []*appErr.RetrievalError
}

func (r Retrieval) Degraded() bool {
	return len(r.Errors) > 0
}

type Service struct {
	vectors  VectorStore
	notes    NotesStore
	embedder embedcache.Embedder
	settings settings.Provider
	cfg      Config
	recorder Recorder
}

func New(vectors VectorStore, notes NotesStore, embedder embedcache.Embedder, sp settings.Provider, cfg Config) *Service {
	if cfg.TopK <= 0 {
		cfg.TopK = 8
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 6
	}
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = 6000
	}
	if cfg.VectorWeight <= 0 && cfg.NotesWeight <= 0 {
		cfg.VectorWeight, cfg.NotesWeight = 0.6, 0.4
	}
	return &Service{vectors: vectors, notes: notes, embedder: embedder, settings: sp, cfg: cfg}
}

func (s *Service) WithRecorder(r Recorder) *Service {
	s.recorder = r
	return s
}

// Retrieve never fails: an unavailable store contributes no results and is
// reported on the returned value.
func (s *Service) Retrieve(ctx context.Context, query string, opts Options) Retrieval {
	query = strings.TrimSpace(query)
	if query == "" {
		return Retrieval{Results: []model.RetrievalResult{}}
	}
	var (
		vectorHits []model.ChunkMatch
		noteHits   []model.NoteMatch
		vectorErr  error
		notesErr   error
		g          errgroup.Group
	)
	g.Go(func() error {
		vectorHits, vectorErr = s.searchVectors(ctx, query, opts)
		return nil
	})
	g.Go(func() error {
		noteHits, notesErr = s.searchNotes(ctx, query, opts)
		return nil
	})
	_ = g.Wait()

	var out Retrieval
	logger := logutil.GetLogger(ctx).With(zap.String("stage", stageRetrieve))
	if vectorErr != nil {
		out.Errors = append(out.Errors, &appErr.RetrievalError{Store: StoreVector, Err: vectorErr})
		vectorHits = nil
	}
	if notesErr != nil {
		out.Errors = append(out.Errors, &appErr.RetrievalError{Store: StoreNotes, Err: notesErr})
		noteHits = nil
	}
	for _, err := range out.Errors {
		logger.Warn("retrieval store unavailable, continuing without it", zap.String("store", err.Store), zap.Error(err.Err))
	}

	maxResults := s.cfg.MaxResults
	if opts.MaxResults > 0 {
		maxResults = opts.MaxResults
	}
	fused := Fuse(fromChunks(vectorHits), fromNotes(noteHits, query), s.cfg.VectorWeight, s.cfg.NotesWeight)
	out.Results = Budget(fused, maxResults, s.cfg.MaxContextChars)
	logger.Debug("retrieval finished",
		zap.Int("vector_hits", len(vectorHits)),
		zap.Int("note_hits", len(noteHits)),
		zap.Int("results", len(out.Results)))
	s.record(out)
	return out
}

func (s *Service) searchVectors(ctx context.Context, query string, opts Options) ([]model.ChunkMatch, error) {
	if s.vectors == nil || s.embedder == nil {
		return nil, fmt.Errorf("vector store not configured")
	}
	resolved := settings.ResolveEmbedding(opts.Config, s.settings)
	if resolved.IsNone() {
		return nil, &appErr.ConfigurationError{Stage: stageRetrieve}
	}
	r := resolved.UnwrapOr(settings.Resolved{})
	vector, err := s.embedder.Embed(ctx, llm.EmbedRequest{
		Model:    r.Model,
		Text:     query,
		TaskType: llm.TaskRetrievalQuery,
		Endpoint: r.Endpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.vectors.Search(ctx, vector, s.cfg.TopK)
}

func (s *Service) searchNotes(ctx context.Context, query string, opts Options) ([]model.NoteMatch, error) {
	if s.notes == nil {
		return nil, fmt.Errorf("notes store not configured")
	}
	return s.notes.Search(ctx, query, opts.Tags, s.cfg.TopK)
}

func (s *Service) record(r Retrieval) {
	if s.recorder == nil {
		return
	}
	outcome := "ok"
	switch len(r.Errors) {
	case 0:
	case 2:
		outcome = "failed"
	default:
		outcome = "degraded"
	}
	s.recorder.StageOutcome(stageRetrieve, outcome)
}
