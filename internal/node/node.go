// Package node holds the single-purpose model stages. Every stage returns a
// fn.Result; whether a failure degrades or propagates is decided by the
// caller through Settle.
package node

import (
	"context"
	"fmt"
	"strings"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mnote-agent/internal/cache"
	"github.com/xxxsen/mnote-agent/internal/llm"
	"github.com/xxxsen/mnote-agent/internal/model"
	appErr "github.com/xxxsen/mnote-agent/internal/pkg/errors"
	"github.com/xxxsen/mnote-agent/internal/prompt"
	"github.com/xxxsen/mnote-agent/internal/settings"
)

type Stage string

const (
	StageTranslate      Stage = "translate"
	StagePolish         Stage = "polish"
	StageQueryTransform Stage = "query_transform"
	StageChat           Stage = "chat"
	StageChatStream     Stage = "chat_stream"
	StageRetrieve       Stage = "retrieve"
	StageSynthesis      Stage = "synthesis"
	StageNote           Stage = "note"
)

// ClientSource returns the client serving an endpoint. The zero endpoint
// selects the default backend.
type ClientSource interface {
	For(ep llm.Endpoint) (llm.Client, error)
}

// Recorder receives stage outcomes, typically for metrics.
type Recorder interface {
	StageOutcome(stage string, outcome string)
}

type Deps struct {
	Cache    *cache.Cache[string]
	Prompts  prompt.Provider
	Settings settings.Provider
	Clients  ClientSource
	// Lang is the prompt language used when a call does not name one.
	Lang     string
	Recorder Recorder
}

func (d *Deps) lang(lang string) string {
	if l := strings.TrimSpace(lang); l != "" {
		return l
	}
	return d.Lang
}

// cacheKey is the normalized input of a cached stage. Fields that do not
// change the output stay out of it.
type cacheKey struct {
	Text    string            `json:"text"`
	Mode    string            `json:"mode,omitempty"`
	History []llm.ChatMessage `json:"history,omitempty"`
	Context []contextKey      `json:"context,omitempty"`
	Model   string            `json:"model"`
	Type    string            `json:"type"`
	BaseURL string            `json:"base_url,omitempty"`
	Lang    string            `json:"lang"`
}

type contextKey struct {
	SourceID string `json:"source_id"`
	Snippet  string `json:"snippet"`
}

func contextKeys(items []model.RetrievalResult) []contextKey {
	if len(items) == 0 {
		return nil
	}
	out := make([]contextKey, 0, len(items))
	for _, item := range items {
		out = append(out, contextKey{SourceID: item.SourceID, Snippet: item.Snippet})
	}
	return out
}

func (d *Deps) resolveChat(stage Stage, cfg *model.LLMConfig) (settings.Resolved, error) {
	resolved := settings.ResolveChat(cfg, d.Settings)
	if resolved.IsNone() {
		return settings.Resolved{}, &appErr.ConfigurationError{Stage: string(stage)}
	}
	return resolved.UnwrapOr(settings.Resolved{}), nil
}

func (d *Deps) client(r settings.Resolved) (llm.Client, error) {
	if d.Clients == nil {
		return nil, appErr.ErrUnavailable
	}
	c, err := d.Clients.For(r.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", appErr.ErrUnavailable, err)
	}
	return c, nil
}

// memoize serves key from the cache or runs load once for all concurrent
// callers of the same key.
func (d *Deps) memoize(ctx context.Context, stage Stage, key string, load func(ctx context.Context) (string, error)) fn.Result[string] {
	if d.Cache == nil {
		out, err := load(ctx)
		if err != nil {
			return fn.Err[string](err)
		}
		return fn.Ok(out)
	}
	out, hit, err := d.Cache.Do(ctx, key, load)
	if err != nil {
		return fn.Err[string](err)
	}
	if hit {
		logutil.GetLogger(ctx).Debug("stage cache hit", zap.String("stage", string(stage)))
	}
	return fn.Ok(out)
}

// complete sends system + messages + user to the resolved model. Empty
// system or user parts are left out.
func (d *Deps) complete(ctx context.Context, stage Stage, r settings.Resolved, p prompt.Prompt, history []llm.ChatMessage) (string, error) {
	c, err := d.client(r)
	if err != nil {
		return "", err
	}
	msgs := make([]llm.ChatMessage, 0, len(history)+2)
	if strings.TrimSpace(p.System) != "" {
		msgs = append(msgs, llm.ChatMessage{Role: llm.RoleSystem, Content: p.System})
	}
	msgs = append(msgs, history...)
	if strings.TrimSpace(p.User) != "" {
		msgs = append(msgs, llm.ChatMessage{Role: llm.RoleUser, Content: p.User})
	}
	out, err := c.Chat(ctx, llm.ChatRequest{Model: r.Model, Messages: msgs})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return "", appErr.NewUpstreamError(string(stage), 0, fmt.Errorf("empty ai response"))
	}
	return out, nil
}
