package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port        int               `json:"port"`
	JWTSecret   string            `json:"jwt_secret"`
	JWTTTLHours int               `json:"jwt_ttl_hours"`
	AuthEnabled bool              `json:"auth_enabled"`
	LogConfig   logger.LogConfig  `json:"log_config"`
	AI          AIConfig          `json:"ai"`
	Model       ModelConfig       `json:"model"`
	Prompts     PromptConfig      `json:"prompts"`
	Cache       CacheConfig       `json:"cache"`
	EmbedCache  EmbedCacheConfig  `json:"embed_cache"`
	Database    DatabaseConfig    `json:"database"`
	NotesDBPath string            `json:"notes_db_path"`
	VectorStore VectorStoreConfig `json:"vector_store"`
	RAG         RAGConfig         `json:"rag"`
	Sync        SyncConfig        `json:"sync"`
	RateLimit   RateLimitConfig   `json:"rate_limit"`
	// CORSAllowlist lists browser origins; empty allows any origin.
	CORSAllowlist []string `json:"cors_allowlist"`
}

// ProviderConfig selects an llm provider; Data is passed to its factory.
type ProviderConfig struct {
	Name     string      `json:"name"`
	Provider string      `json:"provider"`
	Data     interface{} `json:"data"`
}

type AIConfig struct {
	ProviderConfig
	// Fallbacks are tried in order after the primary provider fails.
	Fallbacks      []ProviderConfig `json:"fallbacks"`
	TimeoutSeconds int              `json:"timeout_seconds"`
	Retry          RetryConfig      `json:"retry"`
	Breaker        BreakerConfig    `json:"breaker"`
}

type RetryConfig struct {
	MaxAttempts      int `json:"max_attempts"`
	InitialBackoffMS int `json:"initial_backoff_ms"`
	MaxBackoffMS     int `json:"max_backoff_ms"`
}

type BreakerConfig struct {
	Enabled         bool   `json:"enabled"`
	MaxRequests     uint32 `json:"max_requests"`
	IntervalSeconds int    `json:"interval_seconds"`
	TimeoutSeconds  int    `json:"timeout_seconds"`
	Failures        uint32 `json:"failures"`
}

// ModelConfig is the initial value of the runtime settings.
type ModelConfig struct {
	ChatModel      string `json:"chat_model"`
	ChatType       string `json:"chat_type"`
	EmbeddingModel string `json:"embedding_model"`
	BaseURL        string `json:"base_url"`
	APIKey         string `json:"api_key"`
}

type PromptConfig struct {
	DefaultLang string   `json:"default_lang"`
	Files       []string `json:"files"`
}

type CacheConfig struct {
	MaxSize    int `json:"max_size"`
	TTLSeconds int `json:"ttl_seconds"`
}

type EmbedCacheConfig struct {
	LRUSize       int    `json:"lru_size"`
	TTLSeconds    int    `json:"ttl_seconds"`
	UseDB         bool   `json:"use_db"`
	RetentionDays int    `json:"retention_days"`
	CleanupSpec   string `json:"cleanup_spec"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

func (c DatabaseConfig) Enabled() bool {
	return c.DSN != "" || c.Host != ""
}

type VectorStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type RAGConfig struct {
	TopK            int     `json:"top_k"`
	MaxResults      int     `json:"max_results"`
	MaxContextChars int     `json:"max_context_chars"`
	VectorWeight    float64 `json:"vector_weight"`
	NotesWeight     float64 `json:"notes_weight"`
}

type SyncConfig struct {
	Workers        int    `json:"workers"`
	QueueSize      int    `json:"queue_size"`
	ReconcileSpec  string `json:"reconcile_spec"`
	BatchSize      int    `json:"batch_size"`
	ChunkMaxTokens int    `json:"chunk_max_tokens"`
}

type RateLimitConfig struct {
	Limit         int `json:"limit"`
	WindowSeconds int `json:"window_seconds"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() error {
	if cfg.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if cfg.AuthEnabled && cfg.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required when auth is enabled")
	}
	if cfg.JWTTTLHours == 0 {
		cfg.JWTTTLHours = 72
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if strings.TrimSpace(cfg.AI.Provider) == "" {
		return fmt.Errorf("ai.provider is required")
	}
	if cfg.AI.TimeoutSeconds <= 0 {
		cfg.AI.TimeoutSeconds = 60
	}
	if cfg.AI.Retry.MaxAttempts <= 0 {
		cfg.AI.Retry.MaxAttempts = 3
	}
	if cfg.AI.Breaker.TimeoutSeconds <= 0 {
		cfg.AI.Breaker.TimeoutSeconds = 30
	}
	if cfg.Prompts.DefaultLang == "" {
		cfg.Prompts.DefaultLang = "en"
	}
	if cfg.Cache.MaxSize <= 0 {
		cfg.Cache.MaxSize = 1000
	}
	if cfg.Cache.TTLSeconds <= 0 {
		cfg.Cache.TTLSeconds = 30 * 60
	}
	if cfg.EmbedCache.LRUSize <= 0 {
		cfg.EmbedCache.LRUSize = 2048
	}
	if cfg.EmbedCache.TTLSeconds <= 0 {
		cfg.EmbedCache.TTLSeconds = 24 * 3600
	}
	if cfg.EmbedCache.RetentionDays <= 0 {
		cfg.EmbedCache.RetentionDays = 30
	}
	if cfg.EmbedCache.CleanupSpec == "" {
		cfg.EmbedCache.CleanupSpec = "@daily"
	}
	if cfg.EmbedCache.UseDB && !cfg.Database.Enabled() {
		return fmt.Errorf("embed_cache.use_db requires database")
	}
	if cfg.NotesDBPath == "" {
		return fmt.Errorf("notes_db_path is required")
	}
	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "memory"
	}
	switch cfg.VectorStore.Type {
	case "memory":
	case "pgvector":
		if !cfg.Database.Enabled() {
			return fmt.Errorf("vector_store pgvector requires database")
		}
	default:
		return fmt.Errorf("vector_store.type must be memory or pgvector")
	}
	if cfg.RAG.TopK <= 0 {
		cfg.RAG.TopK = 8
	}
	if cfg.RAG.MaxResults <= 0 {
		cfg.RAG.MaxResults = 6
	}
	if cfg.RAG.MaxContextChars <= 0 {
		cfg.RAG.MaxContextChars = 6000
	}
	if cfg.RAG.VectorWeight < 0 || cfg.RAG.NotesWeight < 0 {
		return fmt.Errorf("rag weights must not be negative")
	}
	if cfg.RAG.VectorWeight == 0 && cfg.RAG.NotesWeight == 0 {
		cfg.RAG.VectorWeight = 0.6
		cfg.RAG.NotesWeight = 0.4
	}
	if cfg.Sync.Workers <= 0 {
		cfg.Sync.Workers = 2
	}
	if cfg.Sync.QueueSize <= 0 {
		cfg.Sync.QueueSize = 256
	}
	if cfg.Sync.ReconcileSpec == "" {
		cfg.Sync.ReconcileSpec = "*/5 * * * *"
	}
	if cfg.Sync.BatchSize <= 0 {
		cfg.Sync.BatchSize = 50
	}
	if cfg.Sync.ChunkMaxTokens <= 0 {
		cfg.Sync.ChunkMaxTokens = 800
	}
	if cfg.RateLimit.Limit <= 0 {
		cfg.RateLimit.Limit = 60
	}
	if cfg.RateLimit.WindowSeconds <= 0 {
		cfg.RateLimit.WindowSeconds = 60
	}
	return nil
}
