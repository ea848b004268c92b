package settings

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/mnote-agent/internal/llm"
	"github.com/xxxsen/mnote-agent/internal/model"
)

func TestResolveChat(t *testing.T) {
	store := NewStore(Settings{
		Chat:    ChatSettings{Model: "settings-model"},
		BaseURL: "https://settings.example/v1",
		APIKey:  "sk-settings",
	})

	tests := []struct {
		name   string
		caller *model.LLMConfig
		want   Resolved
	}{
		{
			name:   "settings only",
			caller: nil,
			want: Resolved{
				Model:    "settings-model",
				Type:     model.ChatTypeLLM,
				Endpoint: llm.Endpoint{BaseURL: "https://settings.example/v1", APIKey: "sk-settings"},
			},
		},
		{
			name:   "caller model wins",
			caller: &model.LLMConfig{ChatModel: " caller-model ", ChatType: "VLM"},
			want: Resolved{
				Model:    "caller-model",
				Type:     model.ChatTypeVLM,
				Endpoint: llm.Endpoint{BaseURL: "https://settings.example/v1", APIKey: "sk-settings"},
			},
		},
		{
			name:   "caller endpoint wins field by field",
			caller: &model.LLMConfig{APIKey: "sk-caller"},
			want: Resolved{
				Model:    "settings-model",
				Type:     model.ChatTypeLLM,
				Endpoint: llm.Endpoint{BaseURL: "https://settings.example/v1", APIKey: "sk-caller"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveChat(tt.caller, store)
			require.True(t, got.IsSome())
			require.Equal(t, tt.want, got.UnwrapOr(Resolved{}))
		})
	}
}

func TestResolveUnresolved(t *testing.T) {
	empty := NewStore(Settings{})
	require.True(t, ResolveChat(nil, empty).IsNone())
	require.True(t, ResolveChat(&model.LLMConfig{ChatModel: "   "}, empty).IsNone())
	require.True(t, ResolveEmbedding(nil, empty).IsNone())
	require.True(t, ResolveChat(nil, nil).IsNone())

	got := ResolveEmbedding(&model.LLMConfig{EmbeddingModel: "text-embedding-3-small"}, empty)
	require.True(t, got.IsSome())
	require.Equal(t, "text-embedding-3-small", got.UnwrapOr(Resolved{}).Model)
}

func TestStoreUpdate(t *testing.T) {
	store := NewStore(Settings{Chat: ChatSettings{Model: "a"}})
	require.Equal(t, model.ChatTypeLLM, store.GetSettingsSync().Chat.Type)

	next := store.Update(func(s *Settings) {
		s.Chat.Model = " b "
		s.Embedding.Model = "e"
	})
	require.Equal(t, "b", next.Chat.Model)
	require.Equal(t, "e", store.GetSettingsSync().Embedding.Model)
}

func TestStoreConcurrentReads(t *testing.T) {
	store := NewStore(Settings{Chat: ChatSettings{Model: "m0"}})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s := store.GetSettingsSync()
			require.NotEmpty(t, s.Chat.Model)
		}()
		go func() {
			defer wg.Done()
			store.Update(func(s *Settings) { s.Chat.Model = "m1" })
		}()
	}
	wg.Wait()
	require.Equal(t, "m1", store.GetSettingsSync().Chat.Model)
}

func TestRedacted(t *testing.T) {
	s := Settings{APIKey: "sk-secret"}
	require.Equal(t, "******", s.Redacted().APIKey)
	require.Equal(t, "sk-secret", s.APIKey)
}
