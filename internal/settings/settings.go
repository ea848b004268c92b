// Package settings holds the process-wide model defaults and resolves the
// model each call should use.
package settings

import (
	"strings"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/xxxsen/mnote-agent/internal/llm"
	"github.com/xxxsen/mnote-agent/internal/model"
)

type ChatSettings struct {
	Model string `json:"model"`
	Type  string `json:"type"`
}

type EmbeddingSettings struct {
	Model string `json:"model"`
}

type Settings struct {
	Chat      ChatSettings      `json:"chat"`
	Embedding EmbeddingSettings `json:"embedding"`
	BaseURL   string            `json:"base_url"`
	APIKey    string            `json:"api_key"`
}

// Redacted hides the api key for display.
func (s Settings) Redacted() Settings {
	if s.APIKey != "" {
		s.APIKey = "******"
	}
	return s
}

type Provider interface {
	GetSettingsSync() Settings
}

// Store is an in-memory Provider. Updates replace the whole value; readers
// never see a partial update.
type Store struct {
	mu  sync.RWMutex
	cur Settings
}

func NewStore(initial Settings) *Store {
	return &Store{cur: normalize(initial)}
}

func (s *Store) GetSettingsSync() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Update applies patch to a copy of the current settings and stores it.
func (s *Store) Update(patch func(*Settings)) Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cur
	patch(&next)
	s.cur = normalize(next)
	return s.cur
}

func normalize(s Settings) Settings {
	s.Chat.Model = strings.TrimSpace(s.Chat.Model)
	s.Chat.Type = strings.ToLower(strings.TrimSpace(s.Chat.Type))
	if s.Chat.Type == "" {
		s.Chat.Type = model.ChatTypeLLM
	}
	s.Embedding.Model = strings.TrimSpace(s.Embedding.Model)
	s.BaseURL = strings.TrimSpace(s.BaseURL)
	s.APIKey = strings.TrimSpace(s.APIKey)
	return s
}

// Resolved is the model a stage runs with and where to reach it.
type Resolved struct {
	Model    string
	Type     string
	Endpoint llm.Endpoint
}

// ResolveChat picks the chat model. Every non-empty caller field wins over
// the settings field of the same name. None means no model is configured
// anywhere.
func ResolveChat(caller *model.LLMConfig, p Provider) fn.Option[Resolved] {
	s := read(p)
	var c model.LLMConfig
	if caller != nil {
		c = *caller
	}
	modelID := pick(c.ChatModel, s.Chat.Model)
	if modelID == "" {
		return fn.None[Resolved]()
	}
	chatType := strings.ToLower(pick(c.ChatType, s.Chat.Type))
	if chatType == "" {
		chatType = model.ChatTypeLLM
	}
	return fn.Some(Resolved{
		Model:    modelID,
		Type:     chatType,
		Endpoint: endpoint(c, s),
	})
}

func ResolveEmbedding(caller *model.LLMConfig, p Provider) fn.Option[Resolved] {
	s := read(p)
	var c model.LLMConfig
	if caller != nil {
		c = *caller
	}
	modelID := pick(c.EmbeddingModel, s.Embedding.Model)
	if modelID == "" {
		return fn.None[Resolved]()
	}
	return fn.Some(Resolved{
		Model:    modelID,
		Endpoint: endpoint(c, s),
	})
}

func read(p Provider) Settings {
	if p == nil {
		return Settings{}
	}
	return p.GetSettingsSync()
}

func endpoint(c model.LLMConfig, s Settings) llm.Endpoint {
	return llm.Endpoint{
		BaseURL: pick(c.BaseURL, s.BaseURL),
		APIKey:  pick(c.APIKey, s.APIKey),
	}
}

func pick(caller, fallback string) string {
	if v := strings.TrimSpace(caller); v != "" {
		return v
	}
	return strings.TrimSpace(fallback)
}
