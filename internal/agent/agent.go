// Package agent runs the question answering pipeline: rewrite the question
// into a search query, retrieve note context, answer from that context and
// optionally turn the answer into a note.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mnote-agent/internal/llm"
	"github.com/xxxsen/mnote-agent/internal/model"
	"github.com/xxxsen/mnote-agent/internal/node"
	appErr "github.com/xxxsen/mnote-agent/internal/pkg/errors"
	"github.com/xxxsen/mnote-agent/internal/rag"
)

const maxTitleRunes = 80

type Retriever interface {
	Retrieve(ctx context.Context, query string, opts rag.Options) rag.Retrieval
}

type NoteSaver interface {
	Create(ctx context.Context, note *model.Note) error
}

type SyncTrigger interface {
	Trigger(noteID string) bool
}

type Request struct {
	Input   string
	History []llm.ChatMessage
	// Tags restrict the notes searched for context.
	Tags   []string
	Lang   string
	Config *model.LLMConfig
	// GenerateNote drafts a note from the answer. SaveNote also stores it.
	GenerateNote bool
	SaveNote     bool
	NoteTags     []string
}

type Response struct {
	Query   string                  `json:"query"`
	Context []model.RetrievalResult `json:"context"`
	Answer  string                  `json:"answer"`
	Note    *model.NoteDraft        `json:"note,omitempty"`
	NoteID  string                  `json:"note_id,omitempty"`
	// Degraded names the steps that fell back instead of running normally.
	Degraded []string `json:"degraded,omitempty"`
	NoteErr  error    `json:"-"`
}

type StreamResponse struct {
	Query    string
	Context  []model.RetrievalResult
	Degraded []string
	Stream   *node.Stream
}

// Agent holds no per-call state; one instance serves concurrent requests.
type Agent struct {
	nodes     *node.Deps
	retriever Retriever
	notes     NoteSaver
	syncer    SyncTrigger
	now       func() time.Time
	newID     func() string
}

func New(nodes *node.Deps, retriever Retriever, notes NoteSaver, syncer SyncTrigger) *Agent {
	return &Agent{
		nodes:     nodes,
		retriever: retriever,
		notes:     notes,
		syncer:    syncer,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Run answers req. Only an answer failure fails the call; a failed note
// draft is reported on Response.NoteErr next to the answer.
func (a *Agent) Run(ctx context.Context, req Request) fn.Result[Response] {
	if strings.TrimSpace(req.Input) == "" {
		return fn.Err[Response](fmt.Errorf("%w: input is empty", appErr.ErrInvalid))
	}
	resp := a.gather(ctx, req)

	res, _ := a.nodes.Settle(ctx, node.StageSynthesis, a.nodes.Synthesis(ctx, node.SynthesisParams{
		Question: req.Input,
		Context:  resp.Context,
		History:  req.History,
		Lang:     req.Lang,
		Config:   req.Config,
	}), "")
	answer, err := res.Unpack()
	if err != nil {
		return fn.Err[Response](err)
	}
	resp.Answer = answer

	if req.GenerateNote || req.SaveNote {
		a.draftNote(ctx, req, &resp)
	}
	return fn.Ok(resp)
}

// RunStream prepares context like Run and streams the answer. Note
// generation is left to the caller once the stream is drained.
func (a *Agent) RunStream(ctx context.Context, req Request) fn.Result[StreamResponse] {
	if strings.TrimSpace(req.Input) == "" {
		return fn.Err[StreamResponse](fmt.Errorf("%w: input is empty", appErr.ErrInvalid))
	}
	resp := a.gather(ctx, req)
	stream, err := a.nodes.SynthesisStream(ctx, node.SynthesisParams{
		Question: req.Input,
		Context:  resp.Context,
		History:  req.History,
		Lang:     req.Lang,
		Config:   req.Config,
	}).Unpack()
	if err != nil {
		logutil.GetLogger(ctx).Error("stage failed", zap.String("stage", string(node.StageSynthesis)), zap.Error(err))
		return fn.Err[StreamResponse](err)
	}
	return fn.Ok(StreamResponse{
		Query:    resp.Query,
		Context:  resp.Context,
		Degraded: resp.Degraded,
		Stream:   stream,
	})
}

// Finish drafts the note for an answer streamed by RunStream, when req asks
// for one.
func (a *Agent) Finish(ctx context.Context, req Request, sr StreamResponse, answer string) Response {
	resp := Response{
		Query:    sr.Query,
		Context:  sr.Context,
		Answer:   answer,
		Degraded: sr.Degraded,
	}
	if req.GenerateNote || req.SaveNote {
		a.draftNote(ctx, req, &resp)
	}
	return resp
}

// gather runs the steps that degrade instead of failing: query rewrite and
// retrieval.
func (a *Agent) gather(ctx context.Context, req Request) Response {
	var resp Response
	settled, degraded := a.nodes.Settle(ctx, node.StageQueryTransform, a.nodes.QueryTransform(ctx, node.QueryTransformParams{
		History: req.History,
		Input:   req.Input,
		Lang:    req.Lang,
		Config:  req.Config,
	}), req.Input)
	resp.Query = settled.UnwrapOr(req.Input)
	if degraded {
		resp.Degraded = append(resp.Degraded, string(node.StageQueryTransform))
	}

	resp.Context = []model.RetrievalResult{}
	if a.retriever != nil {
		retrieval := a.retriever.Retrieve(ctx, resp.Query, rag.Options{Tags: req.Tags, Config: req.Config})
		if retrieval.Results != nil {
			resp.Context = retrieval.Results
		}
		for _, e := range retrieval.Errors {
			resp.Degraded = append(resp.Degraded, string(node.StageRetrieve)+":"+e.Store)
		}
	}
	return resp
}

func (a *Agent) draftNote(ctx context.Context, req Request, resp *Response) {
	logger := logutil.GetLogger(ctx).With(zap.String("stage", string(node.StageNote)))
	draft, err := a.nodes.GenerateNote(ctx, node.NoteParams{
		Question: req.Input,
		Answer:   resp.Answer,
		Context:  resp.Context,
		Lang:     req.Lang,
		Config:   req.Config,
	}).Unpack()
	if err != nil {
		logger.Warn("note generation failed, returning answer only", zap.Error(err))
		resp.NoteErr = err
		return
	}
	resp.Note = &draft
	if !req.SaveNote {
		return
	}
	if a.notes == nil {
		resp.NoteErr = fmt.Errorf("notes store not configured")
		return
	}
	now := a.now().Unix()
	note := &model.Note{
		ID:      a.newID(),
		Title:   TitleOf(draft.Content),
		Content: draft.Content,
		Tags:    req.NoteTags,
		Ctime:   now,
		Mtime:   now,
	}
	if err := a.notes.Create(ctx, note); err != nil {
		logger.Warn("save note failed", zap.Error(err))
		resp.NoteErr = fmt.Errorf("save note: %w", err)
		return
	}
	resp.NoteID = note.ID
	if a.syncer != nil && !a.syncer.Trigger(note.ID) {
		logger.Info("note sync deferred to reconcile", zap.String("note_id", note.ID))
	}
}

// TitleOf returns the first heading of a markdown note, or its first
// non-empty line, cut to a readable length.
func TitleOf(content string) string {
	first := ""
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			first = strings.TrimSpace(strings.TrimLeft(line, "#"))
			break
		}
		if first == "" {
			first = line
		}
	}
	if utf8.RuneCountInString(first) > maxTitleRunes {
		first = string([]rune(first)[:maxTitleRunes])
	}
	return first
}
