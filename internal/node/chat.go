package node

import (
	"context"
	"errors"
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

type ChatParams struct {
	Messages []llm.ChatMessage
	Lang     string
	Config   *model.LLMConfig
}

// Chat answers a conversation. The assistant text is returned as is.
func (d *Deps) Chat(ctx context.Context, p ChatParams) fn.Result[string] {
	r, msgs, err := d.prepareChat(ctx, StageChat, p)
	if err != nil {
		return fn.Err[string](err)
	}
	key := cache.Key(string(StageChat), cacheKey{
		History: msgs,
		Model:   r.Model,
		Type:    r.Type,
		BaseURL: r.Endpoint.BaseURL,
		Lang:    strings.ToLower(d.lang(p.Lang)),
	})
	return d.memoize(ctx, StageChat, key, func(ctx context.Context) (string, error) {
		return d.complete(ctx, StageChat, r, prompt.Prompt{}, msgs)
	})
}

// ChatStream is Chat delivered in chunks. Streams bypass the cache.
func (d *Deps) ChatStream(ctx context.Context, p ChatParams) fn.Result[*Stream] {
	r, msgs, err := d.prepareChat(ctx, StageChatStream, p)
	if err != nil {
		return fn.Err[*Stream](err)
	}
	return d.openStream(ctx, r, msgs)
}

func (d *Deps) openStream(ctx context.Context, r settings.Resolved, msgs []llm.ChatMessage) fn.Result[*Stream] {
	c, err := d.client(r)
	if err != nil {
		return fn.Err[*Stream](err)
	}
	up, err := c.ChatStream(ctx, llm.ChatRequest{Model: r.Model, Messages: msgs})
	if err != nil {
		return fn.Err[*Stream](err)
	}
	return fn.Ok(newStream(ctx, up))
}

// prepareChat resolves the model and builds the message list: the chat
// system prompt, when one is configured, followed by a copy of the
// conversation.
func (d *Deps) prepareChat(ctx context.Context, stage Stage, p ChatParams) (settings.Resolved, []llm.ChatMessage, error) {
	history := make([]llm.ChatMessage, 0, len(p.Messages))
	hasUser := false
	for _, m := range p.Messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		if m.Role == llm.RoleUser {
			hasUser = true
		}
		history = append(history, m)
	}
	if !hasUser {
		return settings.Resolved{}, nil, fmt.Errorf("%w: conversation has no user message", appErr.ErrInvalid)
	}
	r, err := d.resolveChat(stage, p.Config)
	if err != nil {
		return settings.Resolved{}, nil, err
	}
	msgs := make([]llm.ChatMessage, 0, len(history)+1)
	if system := d.systemPrompt(ctx, prompt.KeyChat, d.lang(p.Lang), prompt.ChatVars{Lang: d.lang(p.Lang)}); system != "" {
		msgs = append(msgs, llm.ChatMessage{Role: llm.RoleSystem, Content: system})
	}
	msgs = append(msgs, history...)
	return r, msgs, nil
}

// systemPrompt returns "" when no prompt is configured for key.
func (d *Deps) systemPrompt(ctx context.Context, key prompt.Key, lang string, vars prompt.Vars) string {
	if d.Prompts == nil {
		return ""
	}
	p, err := d.Prompts.GetPrompt(key, lang, vars)
	if err != nil {
		if !errors.Is(err, appErr.ErrPromptNotFound) {
			logutil.GetLogger(ctx).Warn("render system prompt failed", zap.String("prompt", string(key)), zap.Error(err))
		}
		return ""
	}
	return strings.TrimSpace(p.System)
}
