package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mnote-agent/internal/agent"
	"github.com/xxxsen/mnote-agent/internal/cache"
	"github.com/xxxsen/mnote-agent/internal/config"
	"github.com/xxxsen/mnote-agent/internal/db"
	"github.com/xxxsen/mnote-agent/internal/embedcache"
	"github.com/xxxsen/mnote-agent/internal/handler"
	"github.com/xxxsen/mnote-agent/internal/job"
	"github.com/xxxsen/mnote-agent/internal/llm"
	"github.com/xxxsen/mnote-agent/internal/metrics"
	"github.com/xxxsen/mnote-agent/internal/node"
	"github.com/xxxsen/mnote-agent/internal/prompt"
	"github.com/xxxsen/mnote-agent/internal/rag"
	"github.com/xxxsen/mnote-agent/internal/repo"
	"github.com/xxxsen/mnote-agent/internal/schedule"
	"github.com/xxxsen/mnote-agent/internal/service"
	"github.com/xxxsen/mnote-agent/internal/settings"
	"github.com/xxxsen/mnote-agent/internal/syncer"
	"github.com/xxxsen/mnote-agent/internal/vectorstore"
)

const metricsNamespace = "mnote_agent"

type app struct {
	cfg        *config.Config
	notesDB    *sql.DB
	pg         *sql.DB
	collector  *metrics.Collector
	settings   *settings.Store
	nodes      *node.Deps
	notes      *repo.NoteRepo
	vectors    vectorstore.Store
	embedCache *repo.EmbeddingCacheRepo
	syncer     *syncer.Service
	agent      *agent.Agent
}

func buildApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, collector: metrics.NewCollector(metricsNamespace)}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	notesDB, err := repo.Open(cfg.NotesDBPath)
	if err != nil {
		return nil, fmt.Errorf("open notes db: %w", err)
	}
	a.notesDB = notesDB
	if err := repo.ApplyMigrations(notesDB); err != nil {
		return nil, fmt.Errorf("notes migrations: %w", err)
	}
	a.notes = repo.NewNoteRepo(notesDB)

	if cfg.Database.Enabled() {
		pg, err := db.Open(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.pg = pg
		if err := db.ApplyMigrations(pg); err != nil {
			return nil, fmt.Errorf("database migrations: %w", err)
		}
	}

	resilience := resilienceOf(cfg.AI)
	client, err := buildClient(cfg.AI, resilience, a.collector.InstrumentClient)
	if err != nil {
		return nil, err
	}
	pool := llm.NewPool(client, cfg.AI.Provider, cfg.AI.Data, resilience, a.collector.InstrumentClient)

	a.settings = settings.NewStore(settings.Settings{
		Chat:      settings.ChatSettings{Model: cfg.Model.ChatModel, Type: cfg.Model.ChatType},
		Embedding: settings.EmbeddingSettings{Model: cfg.Model.EmbeddingModel},
		BaseURL:   cfg.Model.BaseURL,
		APIKey:    cfg.Model.APIKey,
	})

	prompts, err := prompt.NewStore(cfg.Prompts.Files...)
	if err != nil {
		return nil, err
	}
	stageCache, err := cache.New[string](cache.Config{
		MaxSize: cfg.Cache.MaxSize,
		TTL:     time.Duration(cfg.Cache.TTLSeconds) * time.Second,
	}, cache.WithObserver(a.collector.CacheObserver("stage")))
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}
	a.nodes = &node.Deps{
		Cache:    stageCache,
		Prompts:  prompts,
		Settings: a.settings,
		Clients:  pool,
		Lang:     cfg.Prompts.DefaultLang,
		Recorder: a.collector,
	}

	var embedder embedcache.Embedder = embedcache.EmbedderFunc(pool.Embed)
	if cfg.EmbedCache.UseDB {
		a.embedCache = repo.NewEmbeddingCacheRepo(a.pg)
		embedder = embedcache.WrapDB(embedder, a.embedCache)
	}
	embedder = embedcache.WrapLRU(embedder, cfg.EmbedCache.LRUSize, time.Duration(cfg.EmbedCache.TTLSeconds)*time.Second)

	a.vectors, err = vectorstore.New(cfg.VectorStore, vectorstore.Env{PG: a.pg})
	if err != nil {
		return nil, fmt.Errorf("init vector store: %w", err)
	}
	a.syncer = syncer.New(a.notes, a.vectors, embedder, a.settings, syncer.Config{
		Workers:        cfg.Sync.Workers,
		QueueSize:      cfg.Sync.QueueSize,
		ChunkMaxTokens: cfg.Sync.ChunkMaxTokens,
	})
	retriever := rag.New(a.vectors, a.notes, embedder, a.settings, rag.Config{
		TopK:            cfg.RAG.TopK,
		MaxResults:      cfg.RAG.MaxResults,
		MaxContextChars: cfg.RAG.MaxContextChars,
		VectorWeight:    cfg.RAG.VectorWeight,
		NotesWeight:     cfg.RAG.NotesWeight,
	}).WithRecorder(a.collector)
	a.agent = agent.New(a.nodes, retriever, a.notes, a.syncer)

	ok = true
	return a, nil
}

func (a *app) Close() {
	if a.notesDB != nil {
		_ = a.notesDB.Close()
	}
	if a.pg != nil {
		_ = a.pg.Close()
	}
}

func (a *app) routerDeps() handler.RouterDeps {
	deps := handler.RouterDeps{
		AI:              handler.NewAIHandler(a.nodes),
		Agent:           handler.NewAgentHandler(a.agent),
		Notes:           handler.NewNoteHandler(service.NewNoteService(a.notes, a.syncer, a.vectors)),
		Settings:        handler.NewSettingsHandler(a.settings),
		Metrics:         a.collector.Handler(),
		RateLimit:       a.cfg.RateLimit.Limit,
		RateLimitWindow: time.Duration(a.cfg.RateLimit.WindowSeconds) * time.Second,
	}
	if a.cfg.AuthEnabled {
		deps.JWTSecret = []byte(a.cfg.JWTSecret)
	}
	return deps
}

func (a *app) scheduler() (*schedule.CronScheduler, error) {
	s := schedule.NewCronScheduler(schedule.WithObserver(a.collector.ObserveJob))
	if err := s.AddJob(job.NewNoteResyncJob(a.syncer, a.cfg.Sync.BatchSize), a.cfg.Sync.ReconcileSpec); err != nil {
		return nil, fmt.Errorf("schedule note resync: %w", err)
	}
	if a.embedCache != nil {
		cleanup := job.NewEmbeddingCacheCleanupJob(a.embedCache, a.cfg.EmbedCache.RetentionDays)
		if err := s.AddJob(cleanup, a.cfg.EmbedCache.CleanupSpec); err != nil {
			return nil, fmt.Errorf("schedule embedding cache cleanup: %w", err)
		}
	}
	return s, nil
}

func resilienceOf(cfg config.AIConfig) llm.ResilienceConfig {
	return llm.ResilienceConfig{
		Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		Retry: llm.RetryConfig{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialBackoff: time.Duration(cfg.Retry.InitialBackoffMS) * time.Millisecond,
			MaxBackoff:     time.Duration(cfg.Retry.MaxBackoffMS) * time.Millisecond,
		},
		Breaker: llm.BreakerConfig{
			Enabled:     cfg.Breaker.Enabled,
			MaxRequests: cfg.Breaker.MaxRequests,
			Interval:    time.Duration(cfg.Breaker.IntervalSeconds) * time.Second,
			Timeout:     time.Duration(cfg.Breaker.TimeoutSeconds) * time.Second,
			Failures:    cfg.Breaker.Failures,
		},
	}
}

// buildClient chains the primary provider and its fallbacks. Each member
// retries on its own before the group moves on.
func buildClient(cfg config.AIConfig, resilience llm.ResilienceConfig, wrap func(llm.Client) llm.Client) (llm.Client, error) {
	providers := append([]config.ProviderConfig{cfg.ProviderConfig}, cfg.Fallbacks...)
	entries := make([]llm.Entry, 0, len(providers))
	for i, p := range providers {
		name := p.Name
		if name == "" {
			name = fmt.Sprintf("%s#%d", p.Provider, i)
		}
		c, err := llm.NewClient(p.Provider, p.Data)
		if err != nil {
			if i == 0 {
				return nil, fmt.Errorf("init ai provider %s: %w", name, err)
			}
			logutil.GetLogger(context.Background()).Warn("skip fallback provider", zap.String("name", name), zap.Error(err))
			continue
		}
		entries = append(entries, llm.Entry{Name: name, Client: wrap(llm.WithResilience(c, resilience))})
	}
	return llm.NewGroup(entries), nil
}
