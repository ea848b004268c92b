package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/mnote-agent/internal/cache"
	"github.com/xxxsen/mnote-agent/internal/llm"
	"github.com/xxxsen/mnote-agent/internal/llm/llmtest"
	"github.com/xxxsen/mnote-agent/internal/model"
	"github.com/xxxsen/mnote-agent/internal/node"
	appErr "github.com/xxxsen/mnote-agent/internal/pkg/errors"
	"github.com/xxxsen/mnote-agent/internal/prompt"
	"github.com/xxxsen/mnote-agent/internal/rag"
	"github.com/xxxsen/mnote-agent/internal/settings"
)

type clientSource struct {
	client llm.Client
}

func (s clientSource) For(llm.Endpoint) (llm.Client, error) {
	return s.client, nil
}

type retrieverFunc func(ctx context.Context, query string, opts rag.Options) rag.Retrieval

func (f retrieverFunc) Retrieve(ctx context.Context, query string, opts rag.Options) rag.Retrieval {
	return f(ctx, query, opts)
}

type memNotes struct {
	mu    sync.Mutex
	notes []*model.Note
	err   error
}

func (m *memNotes) Create(ctx context.Context, note *model.Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.notes = append(m.notes, note)
	return nil
}

type triggers struct {
	mu  sync.Mutex
	ids []string
}

func (t *triggers) Trigger(noteID string) bool {
	t.mu.Lock()
	t.ids = append(t.ids, noteID)
	t.mu.Unlock()
	return true
}

// scripted answers by the first word of the system prompt of each stage.
type scripted struct {
	query     func() (string, error)
	synthesis func() (string, error)
	note      func() (string, error)
}

func (s scripted) chat(ctx context.Context, req llm.ChatRequest) (string, error) {
	system := ""
	if len(req.Messages) > 0 && req.Messages[0].Role == llm.RoleSystem {
		system = req.Messages[0].Content
	}
	switch {
	case strings.Contains(system, "standalone search query"):
		return s.query()
	case strings.Contains(system, "answer questions using the user's notes"):
		return s.synthesis()
	case strings.Contains(system, "markdown note"):
		return s.note()
	}
	return "", errors.New("unexpected prompt: " + system)
}

func ok(v string) func() (string, error) {
	return func() (string, error) { return v, nil }
}

func fail(err error) func() (string, error) {
	return func() (string, error) { return "", err }
}

func newNodes(t *testing.T, fake *llmtest.Client) *node.Deps {
	t.Helper()
	c, err := cache.New[string](cache.Config{MaxSize: 64, TTL: time.Minute})
	require.NoError(t, err)
	prompts, err := prompt.NewStore()
	require.NoError(t, err)
	return &node.Deps{
		Cache:    c,
		Prompts:  prompts,
		Settings: settings.NewStore(settings.Settings{Chat: settings.ChatSettings{Model: "gpt-test"}}),
		Clients:  clientSource{client: fake},
		Lang:     "en",
	}
}

var goContext = []model.RetrievalResult{
	{SourceID: "n1", Title: "Go notes", Snippet: "channels connect goroutines", Score: 1, Origin: model.OriginBoth},
}

func TestRunPipeline(t *testing.T) {
	s := scripted{query: ok("go channels"), synthesis: ok("Channels connect goroutines [1]."), note: ok("unused")}
	fake := &llmtest.Client{ChatFunc: s.chat}
	var gotQuery string
	var gotOpts rag.Options
	retriever := retrieverFunc(func(ctx context.Context, query string, opts rag.Options) rag.Retrieval {
		gotQuery, gotOpts = query, opts
		return rag.Retrieval{Results: goContext}
	})
	a := New(newNodes(t, fake), retriever, nil, nil)

	resp, err := a.Run(context.Background(), Request{
		Input:   "what do they connect?",
		History: []llm.ChatMessage{{Role: llm.RoleUser, Content: "tell me about channels"}},
		Tags:    []string{"go"},
	}).Unpack()
	require.NoError(t, err)
	require.Equal(t, "go channels", resp.Query)
	require.Equal(t, "go channels", gotQuery)
	require.Equal(t, []string{"go"}, gotOpts.Tags)
	require.Equal(t, goContext, resp.Context)
	require.Equal(t, "Channels connect goroutines [1].", resp.Answer)
	require.Empty(t, resp.Degraded)
	require.Nil(t, resp.Note)
	require.Len(t, fake.ChatCalls(), 2)
}

func TestRunDegradesQueryAndRetrieval(t *testing.T) {
	s := scripted{
		query:     fail(appErr.NewUpstreamError("chat", 500, errors.New("down"))),
		synthesis: ok("general answer"),
	}
	fake := &llmtest.Client{ChatFunc: s.chat}
	var gotQuery string
	retriever := retrieverFunc(func(ctx context.Context, query string, opts rag.Options) rag.Retrieval {
		gotQuery = query
		return rag.Retrieval{Errors: []*appErr.RetrievalError{
			{Store: rag.StoreVector, Err: errors.New("down")},
			{Store: rag.StoreNotes, Err: errors.New("down")},
		}}
	})
	a := New(newNodes(t, fake), retriever, nil, nil)

	resp, err := a.Run(context.Background(), Request{Input: "  raw question "}).Unpack()
	require.NoError(t, err)
	require.Equal(t, "  raw question ", resp.Query)
	require.Equal(t, "  raw question ", gotQuery)
	require.Empty(t, resp.Context)
	require.NotNil(t, resp.Context)
	require.Equal(t, "general answer", resp.Answer)
	require.Equal(t, []string{"query_transform", "retrieve:vector", "retrieve:notes"}, resp.Degraded)
}

func TestRunSynthesisFailurePropagates(t *testing.T) {
	boom := appErr.NewUpstreamError("chat", 503, errors.New("overloaded"))
	s := scripted{query: ok("q"), synthesis: fail(boom)}
	a := New(newNodes(t, &llmtest.Client{ChatFunc: s.chat}), nil, nil, nil)

	_, err := a.Run(context.Background(), Request{Input: "question", GenerateNote: true}).Unpack()
	require.ErrorIs(t, err, boom)
}

func TestRunWithoutModel(t *testing.T) {
	fake := &llmtest.Client{}
	nodes := newNodes(t, fake)
	nodes.Settings = settings.NewStore(settings.Settings{})
	a := New(nodes, nil, nil, nil)

	_, err := a.Run(context.Background(), Request{Input: "question"}).Unpack()
	require.True(t, appErr.IsUnresolved(err))
	require.Empty(t, fake.ChatCalls())

	_, err = a.Run(context.Background(), Request{Input: " "}).Unpack()
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestRunNoteFailureKeepsAnswer(t *testing.T) {
	s := scripted{query: ok("q"), synthesis: ok("the answer"), note: fail(errors.New("note model down"))}
	a := New(newNodes(t, &llmtest.Client{ChatFunc: s.chat}), nil, nil, nil)

	resp, err := a.Run(context.Background(), Request{Input: "question", GenerateNote: true}).Unpack()
	require.NoError(t, err)
	require.Equal(t, "the answer", resp.Answer)
	require.Nil(t, resp.Note)
	require.Error(t, resp.NoteErr)
}

func TestRunSavesNoteAndTriggersSync(t *testing.T) {
	s := scripted{query: ok("q"), synthesis: ok("They connect goroutines."), note: ok("```markdown\n# Channels\n\nThey connect goroutines.\n```")}
	notes := &memNotes{}
	trig := &triggers{}
	retriever := retrieverFunc(func(ctx context.Context, query string, opts rag.Options) rag.Retrieval {
		return rag.Retrieval{Results: goContext}
	})
	a := New(newNodes(t, &llmtest.Client{ChatFunc: s.chat}), retriever, notes, trig)
	a.now = func() time.Time { return time.Unix(1700000000, 0) }
	a.newID = func() string { return "note-1" }

	resp, err := a.Run(context.Background(), Request{Input: "what is a channel?", SaveNote: true, NoteTags: []string{"go"}}).Unpack()
	require.NoError(t, err)
	require.NoError(t, resp.NoteErr)
	require.NotNil(t, resp.Note)
	require.Equal(t, "# Channels\n\nThey connect goroutines.", resp.Note.Content)
	require.Equal(t, goContext, resp.Note.SourceContext)
	require.Equal(t, "note-1", resp.NoteID)

	require.Len(t, notes.notes, 1)
	saved := notes.notes[0]
	require.Equal(t, "Channels", saved.Title)
	require.Equal(t, []string{"go"}, saved.Tags)
	require.Equal(t, int64(1700000000), saved.Mtime)
	require.Equal(t, []string{"note-1"}, trig.ids)
}

func TestRunSaveFailureIsReported(t *testing.T) {
	s := scripted{query: ok("q"), synthesis: ok("answer"), note: ok("# T\n\nbody")}
	notes := &memNotes{err: errors.New("disk full")}
	trig := &triggers{}
	a := New(newNodes(t, &llmtest.Client{ChatFunc: s.chat}), nil, notes, trig)

	resp, err := a.Run(context.Background(), Request{Input: "question", SaveNote: true}).Unpack()
	require.NoError(t, err)
	require.Equal(t, "answer", resp.Answer)
	require.NotNil(t, resp.Note)
	require.Error(t, resp.NoteErr)
	require.Empty(t, resp.NoteID)
	require.Empty(t, trig.ids)
}

func TestRunStream(t *testing.T) {
	s := scripted{query: ok("go channels")}
	fake := &llmtest.Client{
		ChatFunc: s.chat,
		StreamFunc: func(ctx context.Context, req llm.ChatRequest) (llm.Stream, error) {
			return llmtest.NewStream("Channels ", "connect."), nil
		},
	}
	retriever := retrieverFunc(func(ctx context.Context, query string, opts rag.Options) rag.Retrieval {
		return rag.Retrieval{Results: goContext}
	})
	a := New(newNodes(t, fake), retriever, nil, nil)

	resp, err := a.RunStream(context.Background(), Request{Input: "what do they connect?"}).Unpack()
	require.NoError(t, err)
	require.Equal(t, "go channels", resp.Query)
	require.Equal(t, goContext, resp.Context)
	text, err := node.Collect(resp.Stream)
	require.NoError(t, err)
	require.Equal(t, "Channels connect.", text)

	streamReq := fake.StreamCalls()[0]
	require.Contains(t, streamReq.Messages[len(streamReq.Messages)-1].Content, "channels connect goroutines")
}

func TestTitleOf(t *testing.T) {
	require.Equal(t, "Channels", TitleOf("\n# Channels\nbody"))
	require.Equal(t, "Deep", TitleOf("intro line\n\n### Deep\n"))
	require.Equal(t, "first line", TitleOf("  first line \nsecond"))
	require.Equal(t, strings.Repeat("x", 80), TitleOf(strings.Repeat("x", 100)))
	require.Equal(t, "", TitleOf(""))
}

func TestFinishDraftsNote(t *testing.T) {
	s := scripted{note: ok("# Streams\n\nbody")}
	a := New(newNodes(t, &llmtest.Client{ChatFunc: s.chat}), nil, nil, nil)
	sr := StreamResponse{Query: "q", Context: goContext, Degraded: []string{"query_transform"}}

	resp := a.Finish(context.Background(), Request{Input: "question", GenerateNote: true}, sr, "streamed answer")
	require.Equal(t, "streamed answer", resp.Answer)
	require.Equal(t, []string{"query_transform"}, resp.Degraded)
	require.NotNil(t, resp.Note)
	require.Equal(t, "# Streams\n\nbody", resp.Note.Content)

	resp = a.Finish(context.Background(), Request{Input: "question"}, sr, "streamed answer")
	require.Nil(t, resp.Note)
}
