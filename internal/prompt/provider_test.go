package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	appErr "github.com/xxxsen/mnote-agent/internal/pkg/errors"
)

func TestGetPromptRendersVars(t *testing.T) {
	s, err := NewStore()
	require.NoError(t, err)

	p, err := s.GetPrompt(KeyPolish, "en", PolishVars{Text: "hello world", Style: "formal"})
	require.NoError(t, err)
	require.Contains(t, p.System, "formal style")
	require.Equal(t, "hello world", p.User)
}

func TestGetPromptLanguageFallback(t *testing.T) {
	s, err := NewStore()
	require.NoError(t, err)

	tests := []struct {
		name     string
		lang     string
		contains string
	}{
		{name: "exact", lang: "zh", contains: "专业编辑"},
		{name: "region falls back to base", lang: "zh-CN", contains: "专业编辑"},
		{name: "unknown falls back to default", lang: "fr", contains: "professional editor"},
		{name: "empty uses default", lang: "", contains: "professional editor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := s.GetPrompt(KeyPolish, tt.lang, PolishVars{Text: "x", Style: "casual"})
			require.NoError(t, err)
			require.Contains(t, p.System, tt.contains)
		})
	}
}

func TestGetPromptQueryTransformHistory(t *testing.T) {
	s, err := NewStore()
	require.NoError(t, err)

	p, err := s.GetPrompt(KeyQueryTransform, "en", QueryTransformVars{
		History: []Turn{
			{Role: "user", Content: "tell me about goroutines"},
			{Role: "assistant", Content: "they are lightweight threads"},
		},
		Input: "how do I stop one?",
	})
	require.NoError(t, err)
	require.Contains(t, p.User, "user: tell me about goroutines")
	require.Contains(t, p.User, "assistant: they are lightweight threads")
	require.Contains(t, p.User, "how do I stop one?")

	p, err = s.GetPrompt(KeyQueryTransform, "en", QueryTransformVars{Input: "solo"})
	require.NoError(t, err)
	require.NotContains(t, p.User, "CONVERSATION")
}

func TestGetPromptSynthesisContext(t *testing.T) {
	s, err := NewStore()
	require.NoError(t, err)

	p, err := s.GetPrompt(KeySynthesis, "en", SynthesisVars{
		Question: "what is a channel?",
		Context: []ContextItem{
			{Index: 1, Title: "Go notes", Snippet: "channels connect goroutines"},
		},
	})
	require.NoError(t, err)
	require.Contains(t, p.User, "[1] Go notes")
	require.Contains(t, p.User, "channels connect goroutines")
	require.Contains(t, p.User, "what is a channel?")
}

func TestGetPromptChatHasNoUserTemplate(t *testing.T) {
	s, err := NewStore()
	require.NoError(t, err)
	p, err := s.GetPrompt(KeyChat, "en", ChatVars{})
	require.NoError(t, err)
	require.NotEmpty(t, p.System)
	require.Empty(t, p.User)
}

func TestGetPromptErrors(t *testing.T) {
	s, err := NewStore()
	require.NoError(t, err)

	_, err = s.GetPrompt(KeyPolish, "en", TranslateVars{Text: "x", TargetLang: "fr"})
	require.ErrorIs(t, err, appErr.ErrInvalid)

	_, err = s.GetPrompt(KeyPolish, "en", PolishVars{Text: "x"})
	require.ErrorIs(t, err, appErr.ErrInvalid)

	_, err = s.GetPrompt(KeyQueryTransform, "en", QueryTransformVars{
		History: []Turn{{Role: "robot", Content: "beep"}},
		Input:   "x",
	})
	require.ErrorIs(t, err, appErr.ErrInvalid)

	_, err = s.GetPrompt(KeyPolish, "en", nil)
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestOverrideFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "prompts.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
prompts:
  chat:
    en:
      system: ""
  polish:
    de:
      system: "Poliere im Stil {{.Style}}."
      user: "{{.Text}}"
`), 0o644))

	s, err := NewStore(file)
	require.NoError(t, err)

	p, err := s.GetPrompt(KeyChat, "en", ChatVars{})
	require.NoError(t, err)
	require.Empty(t, p.System)

	p, err = s.GetPrompt(KeyPolish, "de", PolishVars{Text: "Hallo", Style: "formell"})
	require.NoError(t, err)
	require.Equal(t, "Poliere im Stil formell.", p.System)

	p, err = s.GetPrompt(KeyPolish, "en", PolishVars{Text: "Hi", Style: "formal"})
	require.NoError(t, err)
	require.Contains(t, p.System, "professional editor")
}

func TestMissingPrompt(t *testing.T) {
	s := &Store{defaultLang: "en", prompts: map[Key]map[string]templatePair{}, validate: validator.New()}
	_, err := s.GetPrompt(KeyChat, "en", ChatVars{})
	require.ErrorIs(t, err, appErr.ErrPromptNotFound)
}
