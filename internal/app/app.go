package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"vita/internal/agent"
	"vita/internal/config"
	"vita/internal/db"
	"vita/internal/engine"
	"vita/internal/events"
	"vita/internal/livesearch"
	"vita/internal/llm"
	"vita/internal/migrate"
	"vita/internal/profile"
	"vita/internal/repo"
	"vita/internal/retrieval"
)

// Options override the collaborators Open would otherwise build from config.
type Options struct {
	Workspace string
	Config    *config.Config
	Log       zerolog.Logger
	DB        *sql.DB
	Gateway   llm.Gateway
	Embedder  llm.Embedder
	Searcher  livesearch.Searcher
	Profiles  profile.Store
	Now       func() time.Time
}

// App wires storage, model access and the orchestrator for one workspace.
type App struct {
	Config       *config.Config
	DB           *sql.DB
	Repo         repo.Repo
	Events       events.Writer
	Profiles     profile.Store
	Index        *retrieval.SQLiteIndex
	Orchestrator *engine.Orchestrator
	Log          zerolog.Logger
	Now          func() time.Time

	redis  *redis.Client
	ownsDB bool
}

// Open builds an App. The database is migrated to the latest schema.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = ResolveConfig(opts.Workspace, ""); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := opts.Log

	a := &App{Config: cfg, Log: log, Now: now, DB: opts.DB}
	if a.DB == nil {
		conn, err := db.Open(db.Config{Workspace: opts.Workspace})
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.DB = conn
		a.ownsDB = true
	}
	if err := migrate.MigrateContext(ctx, a.DB); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	a.Repo = repo.Repo{DB: a.DB, Now: now}
	a.Events = events.Writer{DB: a.DB, Now: now}

	if cfg.Store.Redis.Enabled() {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
	}

	gw := opts.Gateway
	embedder := opts.Embedder
	if gw == nil {
		client := llm.NewOpenAI(llm.OpenAIConfig{
			BaseURL:        cfg.LLM.BaseURL,
			APIKey:         cfg.LLM.APIKey(),
			Model:          cfg.LLM.Model,
			EmbeddingModel: cfg.LLM.EmbeddingModel,
			Temperature:    cfg.LLM.Temperature,
			HTTPClient:     &http.Client{Timeout: cfg.LLM.Timeout()},
		})
		retrying := llm.WithRetry(client, llm.RetryOptions{
			MaxRetries:        cfg.LLM.MaxRetries,
			RequestsPerSecond: cfg.LLM.RequestsPerSecond,
			Logger:            log,
		})
		gw = retrying
		if embedder == nil {
			embedder = retrying
		}
	}
	if cfg.Retrieval.Backend != "vector" {
		embedder = nil
	}

	a.Index = &retrieval.SQLiteIndex{
		DB:       a.DB,
		Backend:  cfg.Retrieval.Backend,
		Embedder: embedder,
		Log:      log,
		Now:      now,
	}
	var retriever retrieval.Retriever = a.Index
	if a.redis != nil && cfg.Store.CacheTTLSeconds > 0 {
		retriever = retrieval.NewCachedRetriever(a.Index, a.redis, time.Duration(cfg.Store.CacheTTLSeconds)*time.Second, log)
	}

	searcher := opts.Searcher
	if searcher == nil && cfg.LiveSearch.Enabled {
		searcher = livesearch.NewPubMed(livesearch.Options{
			BaseURL:    cfg.LiveSearch.BaseURL,
			Timeout:    time.Duration(cfg.LiveSearch.TimeoutSeconds) * time.Second,
			MaxRetries: cfg.LiveSearch.MaxRetries,
			Log:        log,
		})
	}

	a.Profiles = opts.Profiles
	if a.Profiles == nil {
		if cfg.Store.Profiles == "redis" && a.redis != nil {
			a.Profiles = profile.NewRedisStore(a.redis)
		} else {
			a.Profiles = profile.SQLStore{Repo: a.Repo}
		}
	}

	team := agent.NewTeam(agent.TeamOptions{
		Gateway: gw,
		Backends: agent.Backends{
			Retriever: retriever,
			Searcher:  searcher,
			TopK:      cfg.Retrieval.TopK,
			LiveMax:   cfg.LiveSearch.MaxResults,
		},
		MaxIterations: cfg.Orchestrator.SpecialistIterations,
		Log:           log,
	})
	a.Orchestrator = engine.New(engine.Options{
		Gateway:       gw,
		Team:          team,
		Verifier:      engine.NewVerifier(cfg.Orchestrator.Verifier, gw, log),
		MaxIterations: cfg.Orchestrator.MaxIterations,
		HistoryTurns:  cfg.Orchestrator.HistoryTurns,
		MaxParallel:   cfg.Orchestrator.MaxParallel,
		Log:           log,
	})
	log.Debug().
		Str("retrieval", cfg.Retrieval.Backend).
		Str("profiles", cfg.Store.Profiles).
		Bool("live_search", searcher != nil).
		Bool("redis", a.redis != nil).
		Msg("app ready")
	return a, nil
}

// Close releases the database and redis connections the App opened.
func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.ownsDB && a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
