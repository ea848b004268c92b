// Package llm talks to language model backends. Providers register a
// factory by name; decorators add failover, retry and circuit breaking on
// top of any Client.
package llm

import (
	"context"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model    string
	Messages []ChatMessage
}

// Embedding task types, as understood by gemini. Other providers ignore them.
const (
	TaskRetrievalQuery    = "RETRIEVAL_QUERY"
	TaskRetrievalDocument = "RETRIEVAL_DOCUMENT"
)

type EmbedRequest struct {
	Model    string
	Text     string
	TaskType string
	// Endpoint selects a caller supplied backend when routed through a Pool.
	Endpoint Endpoint
}

// Stream yields chunks of a single generation. Recv returns io.EOF once the
// backend has finished. Close releases the underlying connection and may be
// called at any time, more than once.
type Stream interface {
	Recv() (string, error)
	Close() error
}

type Client interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (string, error)
	ChatStream(ctx context.Context, req ChatRequest) (Stream, error)
	Embed(ctx context.Context, req EmbedRequest) ([]float32, error)
}

// CloneMessages copies msgs so callers can append without touching the
// caller's history.
func CloneMessages(msgs []ChatMessage) []ChatMessage {
	out := make([]ChatMessage, len(msgs))
	copy(out, msgs)
	return out
}
