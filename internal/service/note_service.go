package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mnote-agent/internal/agent"
	"github.com/xxxsen/mnote-agent/internal/model"
	appErr "github.com/xxxsen/mnote-agent/internal/pkg/errors"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type NoteRepo interface {
	Create(ctx context.Context, note *model.Note) error
	Update(ctx context.Context, note *model.Note) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*model.Note, error)
	List(ctx context.Context, limit, offset uint) ([]model.Note, error)
	Search(ctx context.Context, query string, tags []string, limit int) ([]model.NoteMatch, error)
}

type SyncTrigger interface {
	Trigger(noteID string) bool
}

// ChunkRemover drops the embedded chunks of a deleted note.
type ChunkRemover interface {
	DeleteByNote(ctx context.Context, noteID string) error
}

type NoteInput struct {
	Title   string   `json:"title" validate:"max=200"`
	Content string   `json:"content" validate:"required,max=1048576"`
	Tags    []string `json:"tags" validate:"max=32,dive,max=64"`
}

// NoteService keeps notes and schedules their vector sync after each write.
type NoteService struct {
	notes    NoteRepo
	syncer   SyncTrigger
	chunks   ChunkRemover
	validate *validator.Validate
	now      func() time.Time
}

func NewNoteService(notes NoteRepo, syncer SyncTrigger, chunks ChunkRemover) *NoteService {
	return &NoteService{
		notes:    notes,
		syncer:   syncer,
		chunks:   chunks,
		validate: validator.New(),
		now:      time.Now,
	}
}

func (s *NoteService) Create(ctx context.Context, in NoteInput) (*model.Note, error) {
	in, err := s.check(in)
	if err != nil {
		return nil, err
	}
	now := s.now().Unix()
	note := &model.Note{
		ID:      newID(),
		Title:   in.Title,
		Content: in.Content,
		Tags:    in.Tags,
		Ctime:   now,
		Mtime:   now,
	}
	if err := s.notes.Create(ctx, note); err != nil {
		return nil, err
	}
	s.sync(ctx, note.ID)
	return s.notes.GetByID(ctx, note.ID)
}

func (s *NoteService) Update(ctx context.Context, id string, in NoteInput) (*model.Note, error) {
	in, err := s.check(in)
	if err != nil {
		return nil, err
	}
	current, err := s.notes.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	current.Title = in.Title
	current.Content = in.Content
	current.Tags = in.Tags
	// mtime must move forward or the sync watermark would hide the edit
	current.Mtime = max(s.now().Unix(), current.Mtime+1)
	if err := s.notes.Update(ctx, current); err != nil {
		return nil, err
	}
	s.sync(ctx, id)
	return s.notes.GetByID(ctx, id)
}

func (s *NoteService) Delete(ctx context.Context, id string) error {
	if err := s.notes.Delete(ctx, id); err != nil {
		return err
	}
	if s.chunks == nil {
		s.sync(ctx, id)
		return nil
	}
	if err := s.chunks.DeleteByNote(ctx, id); err != nil {
		logutil.GetLogger(ctx).Error("delete note chunks failed", zap.String("note_id", id), zap.Error(err))
		s.sync(ctx, id)
	}
	return nil
}

func (s *NoteService) Get(ctx context.Context, id string) (*model.Note, error) {
	return s.notes.GetByID(ctx, id)
}

func (s *NoteService) List(ctx context.Context, limit, offset uint) ([]model.Note, error) {
	return s.notes.List(ctx, clampLimit(limit), offset)
}

func (s *NoteService) Search(ctx context.Context, query string, tags []string, limit uint) ([]model.NoteMatch, error) {
	if strings.TrimSpace(query) == "" && len(tags) == 0 {
		return nil, fmt.Errorf("%w: query or tags required", appErr.ErrInvalid)
	}
	return s.notes.Search(ctx, query, tags, int(clampLimit(limit)))
}

func (s *NoteService) check(in NoteInput) (NoteInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	if strings.TrimSpace(in.Content) == "" {
		in.Content = ""
	}
	if err := s.validate.Struct(in); err != nil {
		return in, fmt.Errorf("%w: %v", appErr.ErrInvalid, err)
	}
	if in.Title == "" {
		in.Title = agent.TitleOf(in.Content)
	}
	return in, nil
}

func (s *NoteService) sync(ctx context.Context, id string) {
	if s.syncer == nil {
		return
	}
	if !s.syncer.Trigger(id) {
		logutil.GetLogger(ctx).Info("note sync deferred to reconcile", zap.String("note_id", id))
	}
}

func clampLimit(limit uint) uint {
	switch {
	case limit == 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	}
	return limit
}
