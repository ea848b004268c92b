package node

import (
	"context"
	"strings"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/xxxsen/mnote-agent/internal/cache"
	"github.com/xxxsen/mnote-agent/internal/llm"
	"github.com/xxxsen/mnote-agent/internal/model"
	"github.com/xxxsen/mnote-agent/internal/prompt"
	"github.com/xxxsen/mnote-agent/internal/settings"
)

type SynthesisParams struct {
	Question string
	Context  []model.RetrievalResult
	History  []llm.ChatMessage
	Lang     string
	Config   *model.LLMConfig
}

type NoteParams struct {
	Question string
	Answer   string
	Context  []model.RetrievalResult
	Lang     string
	Config   *model.LLMConfig
}

// Synthesis answers the question grounded in the retrieved context. An
// empty context produces an ungrounded answer.
func (d *Deps) Synthesis(ctx context.Context, p SynthesisParams) fn.Result[string] {
	r, msgs, err := d.prepareSynthesis(p)
	if err != nil {
		return fn.Err[string](err)
	}
	key := cache.Key(string(StageSynthesis), cacheKey{
		Text:    strings.TrimSpace(p.Question),
		History: normalizeHistory(p.History),
		Context: contextKeys(p.Context),
		Model:   r.Model,
		Type:    r.Type,
		BaseURL: r.Endpoint.BaseURL,
		Lang:    strings.ToLower(d.lang(p.Lang)),
	})
	return d.memoize(ctx, StageSynthesis, key, func(ctx context.Context) (string, error) {
		return d.complete(ctx, StageSynthesis, r, prompt.Prompt{}, msgs)
	})
}

// SynthesisStream is Synthesis delivered in chunks, uncached.
func (d *Deps) SynthesisStream(ctx context.Context, p SynthesisParams) fn.Result[*Stream] {
	r, msgs, err := d.prepareSynthesis(p)
	if err != nil {
		return fn.Err[*Stream](err)
	}
	return d.openStream(ctx, r, msgs)
}

func (d *Deps) prepareSynthesis(p SynthesisParams) (settings.Resolved, []llm.ChatMessage, error) {
	r, err := d.resolveChat(StageSynthesis, p.Config)
	if err != nil {
		return settings.Resolved{}, nil, err
	}
	rendered, err := d.Prompts.GetPrompt(prompt.KeySynthesis, d.lang(p.Lang), prompt.SynthesisVars{
		Question: strings.TrimSpace(p.Question),
		Context:  contextItems(p.Context),
	})
	if err != nil {
		return settings.Resolved{}, nil, err
	}
	history := normalizeHistory(p.History)
	msgs := make([]llm.ChatMessage, 0, len(history)+2)
	if rendered.System != "" {
		msgs = append(msgs, llm.ChatMessage{Role: llm.RoleSystem, Content: rendered.System})
	}
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.ChatMessage{Role: llm.RoleUser, Content: rendered.User})
	return r, msgs, nil
}

// GenerateNote turns a question and its answer into a markdown note draft.
func (d *Deps) GenerateNote(ctx context.Context, p NoteParams) fn.Result[model.NoteDraft] {
	r, err := d.resolveChat(StageNote, p.Config)
	if err != nil {
		return fn.Err[model.NoteDraft](err)
	}
	lang := d.lang(p.Lang)
	key := cache.Key(string(StageNote), cacheKey{
		Text:    strings.TrimSpace(p.Question),
		Mode:    strings.TrimSpace(p.Answer),
		Context: contextKeys(p.Context),
		Model:   r.Model,
		Type:    r.Type,
		BaseURL: r.Endpoint.BaseURL,
		Lang:    strings.ToLower(lang),
	})
	res := d.memoize(ctx, StageNote, key, func(ctx context.Context) (string, error) {
		rendered, err := d.Prompts.GetPrompt(prompt.KeyNote, lang, prompt.NoteVars{
			Question: strings.TrimSpace(p.Question),
			Answer:   strings.TrimSpace(p.Answer),
			Context:  contextItems(p.Context),
		})
		if err != nil {
			return "", err
		}
		out, err := d.complete(ctx, StageNote, r, rendered, nil)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(StripWrapper(out)), nil
	})
	content, err := res.Unpack()
	if err != nil {
		return fn.Err[model.NoteDraft](err)
	}
	return fn.Ok(model.NoteDraft{
		Content:       content,
		SourceContext: append([]model.RetrievalResult(nil), p.Context...),
	})
}

func contextItems(items []model.RetrievalResult) []prompt.ContextItem {
	out := make([]prompt.ContextItem, 0, len(items))
	for i, item := range items {
		if strings.TrimSpace(item.Snippet) == "" {
			continue
		}
		out = append(out, prompt.ContextItem{
			Index:   i + 1,
			Title:   item.Title,
			Snippet: item.Snippet,
		})
	}
	return out
}
