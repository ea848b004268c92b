package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{
		"port": 8080,
		"notes_db_path": "notes.db",
		"ai": {"provider": "openai", "data": {"api_key": "k"}},
		"model": {"chat_model": "gpt-4o-mini"}
	}`))
	require.NoError(t, err)
	require.Equal(t, 72, cfg.JWTTTLHours)
	require.Equal(t, "info", cfg.LogConfig.Level)
	require.Equal(t, "openai", cfg.AI.Provider)
	require.Equal(t, map[string]interface{}{"api_key": "k"}, cfg.AI.Data)
	require.Equal(t, 60, cfg.AI.TimeoutSeconds)
	require.Equal(t, 3, cfg.AI.Retry.MaxAttempts)
	require.Equal(t, "en", cfg.Prompts.DefaultLang)
	require.Equal(t, 1000, cfg.Cache.MaxSize)
	require.Equal(t, 1800, cfg.Cache.TTLSeconds)
	require.Equal(t, "@daily", cfg.EmbedCache.CleanupSpec)
	require.Equal(t, "memory", cfg.VectorStore.Type)
	require.Equal(t, 0.6, cfg.RAG.VectorWeight)
	require.Equal(t, 0.4, cfg.RAG.NotesWeight)
	require.Equal(t, "*/5 * * * *", cfg.Sync.ReconcileSpec)
	require.Equal(t, 60, cfg.RateLimit.Limit)
	require.Equal(t, "gpt-4o-mini", cfg.Model.ChatModel)
}

func TestLoadKeepsExplicitValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{
		"port": 8080,
		"notes_db_path": "notes.db",
		"ai": {"provider": "gemini", "fallbacks": [{"provider": "openai"}]},
		"rag": {"vector_weight": 1},
		"cache": {"max_size": 5, "ttl_seconds": 10},
		"database": {"host": "localhost"},
		"vector_store": {"type": "pgvector"}
	}`))
	require.NoError(t, err)
	require.Equal(t, 1.0, cfg.RAG.VectorWeight)
	require.Equal(t, 0.0, cfg.RAG.NotesWeight)
	require.Equal(t, 5, cfg.Cache.MaxSize)
	require.Len(t, cfg.AI.Fallbacks, 1)
	require.Equal(t, "pgvector", cfg.VectorStore.Type)
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"missing port":       `{"notes_db_path": "n.db", "ai": {"provider": "openai"}}`,
		"missing provider":   `{"port": 1, "notes_db_path": "n.db"}`,
		"missing notes db":   `{"port": 1, "ai": {"provider": "openai"}}`,
		"auth without key":   `{"port": 1, "notes_db_path": "n.db", "ai": {"provider": "openai"}, "auth_enabled": true}`,
		"pgvector needs db":  `{"port": 1, "notes_db_path": "n.db", "ai": {"provider": "openai"}, "vector_store": {"type": "pgvector"}}`,
		"db cache needs db":  `{"port": 1, "notes_db_path": "n.db", "ai": {"provider": "openai"}, "embed_cache": {"use_db": true}}`,
		"unknown store":      `{"port": 1, "notes_db_path": "n.db", "ai": {"provider": "openai"}, "vector_store": {"type": "faiss"}}`,
		"negative weight":    `{"port": 1, "notes_db_path": "n.db", "ai": {"provider": "openai"}, "rag": {"notes_weight": -1}}`,
		"malformed document": `{"port": `,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
