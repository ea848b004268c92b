// Package prompt renders the system and user prompts of every model stage
// from YAML templates. Each prompt key takes its own typed variables,
// validated before rendering.
package prompt

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	appErr "github.com/xxxsen/mnote-agent/internal/pkg/errors"
)

//go:embed templates.yaml
var defaultTemplates []byte

type Prompt struct {
	System string
	User   string
}

type Provider interface {
	GetPrompt(key Key, lang string, vars Vars) (Prompt, error)
}

type fileFormat struct {
	DefaultLang string                                `yaml:"default_lang"`
	Prompts     map[string]map[string]templatePairRaw `yaml:"prompts"`
}

type templatePairRaw struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

type templatePair struct {
	system *template.Template
	user   *template.Template
}

type Store struct {
	defaultLang string
	prompts     map[Key]map[string]templatePair
	validate    *validator.Validate
}

// NewStore loads the built-in templates and then each override file in
// order; an override replaces whole (key, lang) pairs.
func NewStore(overrideFiles ...string) (*Store, error) {
	s := &Store{
		defaultLang: "en",
		prompts:     map[Key]map[string]templatePair{},
		validate:    validator.New(),
	}
	if err := s.load(defaultTemplates); err != nil {
		return nil, fmt.Errorf("load built-in prompts: %w", err)
	}
	for _, file := range overrideFiles {
		if strings.TrimSpace(file) == "" {
			continue
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read prompt file: %w", err)
		}
		if err := s.load(data); err != nil {
			return nil, fmt.Errorf("load prompt file %s: %w", file, err)
		}
	}
	return s, nil
}

func (s *Store) load(data []byte) error {
	var raw fileFormat
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}
	if lang := normalizeLang(raw.DefaultLang); lang != "" {
		s.defaultLang = lang
	}
	for key, langs := range raw.Prompts {
		k := Key(strings.TrimSpace(key))
		if s.prompts[k] == nil {
			s.prompts[k] = map[string]templatePair{}
		}
		for lang, pair := range langs {
			compiled, err := compilePair(string(k)+"/"+lang, pair)
			if err != nil {
				return err
			}
			s.prompts[k][normalizeLang(lang)] = compiled
		}
	}
	return nil
}

func compilePair(name string, raw templatePairRaw) (templatePair, error) {
	var out templatePair
	var err error
	if strings.TrimSpace(raw.System) != "" {
		if out.system, err = template.New(name + "/system").Option("missingkey=error").Parse(raw.System); err != nil {
			return out, err
		}
	}
	if strings.TrimSpace(raw.User) != "" {
		if out.user, err = template.New(name + "/user").Option("missingkey=error").Parse(raw.User); err != nil {
			return out, err
		}
	}
	return out, nil
}

// GetPrompt renders key for lang. An unknown lang falls back to its base
// language, then to the default language. Missing keys report
// ErrPromptNotFound; vars of the wrong key or failing validation report
// ErrInvalid.
func (s *Store) GetPrompt(key Key, lang string, vars Vars) (Prompt, error) {
	if vars == nil || vars.PromptKey() != key {
		return Prompt{}, fmt.Errorf("%w: vars do not belong to prompt %q", appErr.ErrInvalid, key)
	}
	if err := s.validate.Struct(vars); err != nil {
		return Prompt{}, fmt.Errorf("%w: prompt %q: %v", appErr.ErrInvalid, key, err)
	}
	pair, ok := s.lookup(key, lang)
	if !ok {
		return Prompt{}, fmt.Errorf("%w: %s", appErr.ErrPromptNotFound, key)
	}
	system, err := render(pair.system, vars)
	if err != nil {
		return Prompt{}, fmt.Errorf("render %s system prompt: %w", key, err)
	}
	user, err := render(pair.user, vars)
	if err != nil {
		return Prompt{}, fmt.Errorf("render %s user prompt: %w", key, err)
	}
	return Prompt{System: system, User: user}, nil
}

func (s *Store) lookup(key Key, lang string) (templatePair, bool) {
	langs := s.prompts[key]
	if len(langs) == 0 {
		return templatePair{}, false
	}
	lang = normalizeLang(lang)
	candidates := []string{lang}
	if idx := strings.IndexAny(lang, "-_"); idx > 0 {
		candidates = append(candidates, lang[:idx])
	}
	candidates = append(candidates, s.defaultLang)
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if pair, ok := langs[c]; ok {
			return pair, true
		}
	}
	return templatePair{}, false
}

func render(tmpl *template.Template, vars Vars) (string, error) {
	if tmpl == nil {
		return "", nil
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func normalizeLang(lang string) string {
	return strings.ToLower(strings.TrimSpace(lang))
}
