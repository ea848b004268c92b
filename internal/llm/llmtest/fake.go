// Package llmtest provides an in-memory llm.Client for tests.
package llmtest

import (
	"context"
	"io"
	"sync"

	"github.com/xxxsen/mnote-agent/internal/llm"
)

type Client struct {
	ChatFunc   func(ctx context.Context, req llm.ChatRequest) (string, error)
	StreamFunc func(ctx context.Context, req llm.ChatRequest) (llm.Stream, error)
	EmbedFunc  func(ctx context.Context, req llm.EmbedRequest) ([]float32, error)

	mu          sync.Mutex
	chatCalls   []llm.ChatRequest
	streamCalls []llm.ChatRequest
	embedCalls  []llm.EmbedRequest
}

func (c *Client) Name() string {
	return "fake"
}

func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (string, error) {
	c.mu.Lock()
	c.chatCalls = append(c.chatCalls, req)
	c.mu.Unlock()
	if c.ChatFunc == nil {
		return "", nil
	}
	return c.ChatFunc(ctx, req)
}

func (c *Client) ChatStream(ctx context.Context, req llm.ChatRequest) (llm.Stream, error) {
	c.mu.Lock()
	c.streamCalls = append(c.streamCalls, req)
	c.mu.Unlock()
	if c.StreamFunc == nil {
		return NewStream(), nil
	}
	return c.StreamFunc(ctx, req)
}

func (c *Client) Embed(ctx context.Context, req llm.EmbedRequest) ([]float32, error) {
	c.mu.Lock()
	c.embedCalls = append(c.embedCalls, req)
	c.mu.Unlock()
	if c.EmbedFunc == nil {
		return []float32{1, 0, 0}, nil
	}
	return c.EmbedFunc(ctx, req)
}

func (c *Client) ChatCalls() []llm.ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.ChatRequest(nil), c.chatCalls...)
}

func (c *Client) StreamCalls() []llm.ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.ChatRequest(nil), c.streamCalls...)
}

func (c *Client) EmbedCalls() []llm.EmbedRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.EmbedRequest(nil), c.embedCalls...)
}

// Stream replays fixed chunks, then Err (or io.EOF when Err is nil).
type Stream struct {
	mu     sync.Mutex
	chunks []string
	Err    error
	closed bool
}

func NewStream(chunks ...string) *Stream {
	return &Stream{chunks: chunks}
}

func (s *Stream) Recv() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", io.EOF
	}
	if len(s.chunks) == 0 {
		if s.Err != nil {
			return "", s.Err
		}
		return "", io.EOF
	}
	next := s.chunks[0]
	s.chunks = s.chunks[1:]
	return next, nil
}

func (s *Stream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
