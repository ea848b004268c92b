package node

import (
	"context"
	"strings"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/xxxsen/mnote-agent/internal/cache"
	"github.com/xxxsen/mnote-agent/internal/llm"
	"github.com/xxxsen/mnote-agent/internal/model"
	"github.com/xxxsen/mnote-agent/internal/prompt"
)

const defaultPolishStyle = "clear and professional"

type TranslateParams struct {
	Text       string
	TargetLang string
	SourceLang string
	Lang       string
	Config     *model.LLMConfig
}

type PolishParams struct {
	Text   string
	Style  string
	Lang   string
	Config *model.LLMConfig
}

type QueryTransformParams struct {
	History []llm.ChatMessage
	Input   string
	Lang    string
	Config  *model.LLMConfig
}

// transform is the shared protocol of the transform stages: resolve the
// model, serve from cache, render the prompt, call the model once and strip
// a fence wrapper from the answer.
type transform struct {
	stage   Stage
	text    string
	mode    string
	history []llm.ChatMessage
	lang    string
	cfg     *model.LLMConfig
	vars    prompt.Vars
}

func (d *Deps) runTransform(ctx context.Context, t transform) fn.Result[string] {
	if strings.TrimSpace(t.text) == "" {
		return fn.Ok(t.text)
	}
	r, err := d.resolveChat(t.stage, t.cfg)
	if err != nil {
		return fn.Err[string](err)
	}
	lang := d.lang(t.lang)
	key := cache.Key(string(t.stage), cacheKey{
		Text:    strings.TrimSpace(t.text),
		Mode:    t.mode,
		History: t.history,
		Model:   r.Model,
		Type:    r.Type,
		BaseURL: r.Endpoint.BaseURL,
		Lang:    strings.ToLower(lang),
	})
	return d.memoize(ctx, t.stage, key, func(ctx context.Context) (string, error) {
		p, err := d.Prompts.GetPrompt(t.vars.PromptKey(), lang, t.vars)
		if err != nil {
			return "", err
		}
		out, err := d.complete(ctx, t.stage, r, p, nil)
		if err != nil {
			return "", err
		}
		return StripWrapper(out), nil
	})
}

func (d *Deps) Translate(ctx context.Context, p TranslateParams) fn.Result[string] {
	target := strings.TrimSpace(p.TargetLang)
	source := strings.TrimSpace(p.SourceLang)
	return d.runTransform(ctx, transform{
		stage: StageTranslate,
		text:  p.Text,
		mode:  strings.ToLower(target) + "|" + strings.ToLower(source),
		lang:  p.Lang,
		cfg:   p.Config,
		vars: prompt.TranslateVars{
			Text:       strings.TrimSpace(p.Text),
			TargetLang: target,
			SourceLang: source,
		},
	})
}

func (d *Deps) Polish(ctx context.Context, p PolishParams) fn.Result[string] {
	style := strings.TrimSpace(p.Style)
	if style == "" {
		style = defaultPolishStyle
	}
	return d.runTransform(ctx, transform{
		stage: StagePolish,
		text:  p.Text,
		mode:  strings.ToLower(style),
		lang:  p.Lang,
		cfg:   p.Config,
		vars: prompt.PolishVars{
			Text:  strings.TrimSpace(p.Text),
			Style: style,
		},
	})
}

// QueryTransform rewrites the latest user input into a standalone search
// query using the conversation so far.
func (d *Deps) QueryTransform(ctx context.Context, p QueryTransformParams) fn.Result[string] {
	history := normalizeHistory(p.History)
	turns := make([]prompt.Turn, 0, len(history))
	for _, m := range history {
		turns = append(turns, prompt.Turn{Role: string(m.Role), Content: m.Content})
	}
	return d.runTransform(ctx, transform{
		stage:   StageQueryTransform,
		text:    p.Input,
		history: history,
		lang:    p.Lang,
		cfg:     p.Config,
		vars: prompt.QueryTransformVars{
			History: turns,
			Input:   strings.TrimSpace(p.Input),
		},
	})
}

// normalizeHistory copies msgs, dropping empty turns and system messages.
func normalizeHistory(msgs []llm.ChatMessage) []llm.ChatMessage {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]llm.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		content := strings.TrimSpace(m.Content)
		if content == "" || m.Role == llm.RoleSystem {
			continue
		}
		out = append(out, llm.ChatMessage{Role: m.Role, Content: content})
	}
	return out
}
