package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/config"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/connectors"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/costs"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/db"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/fetch"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/llm"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/orchestrator"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/policy"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/qa"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/server"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/tracing"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/writer"
)

// jobStore is satisfied by db.DB and orchestrator.MemoryStore.
type jobStore interface {
	orchestrator.Store
	server.JobReader
	qa.Store
	FailStaleJobs(ctx context.Context, reason string) (int64, error)
}

// app holds the collaborators shared by run and serve.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	db       *db.DB
	store    jobStore
	cache    fetch.ResponseCache
	llm      llm.Client
	webAgent llm.Client
	hub      *tracing.Hub
	orch     *orchestrator.Orchestrator
	qa       *qa.Service
}

// loadConfig reads the environment, applies --config file values over it and
// validates the result. Flag overrides are applied by each command afterwards.
func loadConfig() (config.Config, error) {
	env := config.Load()
	cfg := env
	if configPath != "" {
		fileCfg, err := config.LoadFile(configPath)
		if err != nil {
			return config.Config{}, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = fileCfg.MergeWithDefaults(env)
	}
	return cfg, nil
}

// newApp connects the store and LLM clients and builds the orchestrator.
// With no DATABASE_URL jobs are kept in memory.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger, onProgress orchestrator.ProgressCallback) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, hub: tracing.NewHub()}

	if cfg.DatabaseURL != "" {
		database, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx); err != nil {
			database.Close()
			return nil, err
		}
		a.db = database
		a.store = database
		a.cache = database
	} else {
		logger.Info("DATABASE_URL not set, keeping jobs in memory")
		a.store = orchestrator.NewMemoryStore()
		a.cache = fetch.NewMemoryCache()
	}

	if err := a.connectLLM(ctx); err != nil {
		a.Close()
		return nil, err
	}

	registry := connectors.Build(cfg.ConnectorSettings(), a.cache, a.webAgent, logger)
	executor := connectors.NewExecutor(registry, cfg.ExecutorMaxInFlight, cfg.ConnectorTimeout(), logger)

	orch, err := orchestrator.New(orchestrator.Options{
		Capabilities: cfg.Capabilities(),
		Executor:     executor,
		LLM:          a.llm,
		Writer: writer.Options{
			MaxRetries:     cfg.WriterMaxRetries,
			MaxConcurrency: cfg.LLMMaxConcurrency,
			Cache:          a.cache,
		},
		Policy:              policy.Default(),
		Store:               a.store,
		Hub:                 a.hub,
		Timeout:             cfg.JobTimeout(),
		Pricebook:           costs.DefaultPricebook(),
		WebSearchPerCallUSD: cfg.WebSearchPerCallUSD,
		Logger:              logger,
		OnProgress:          onProgress,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	a.orch = orch

	answers, err := qa.New(a.llm, a.store, qa.Options{
		Capabilities:        cfg.Capabilities(),
		Executor:            executor,
		Policy:              policy.Default(),
		Pricebook:           costs.DefaultPricebook(),
		WebSearchPerCallUSD: cfg.WebSearchPerCallUSD,
		Logger:              logger,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create qa service: %w", err)
	}
	a.qa = answers
	return a, nil
}

// connectLLM creates the writer's model client and, when an OpenAI key is present,
// the client behind the web agent connector.
func (a *app) connectLLM(ctx context.Context) error {
	apiKey := a.cfg.LLMAPIKey()
	if apiKey == "" {
		return errors.New("an API key for the selected LLM provider is required (OPENAI_API_KEY or GEMINI_API_KEY)")
	}
	llmCfg, err := a.cfg.LLMConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	client, err := llm.NewClient(ctx, llmCfg, apiKey)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}
	a.llm = client

	if a.cfg.OpenAIAPIKey == "" {
		return nil
	}
	if llmCfg.Provider == llm.ProviderOpenAI {
		a.webAgent = client
		return nil
	}
	agent, err := llm.NewClient(ctx, llm.ConfigFor(llm.ProviderOpenAI, ""), a.cfg.OpenAIAPIKey)
	if err != nil {
		return fmt.Errorf("failed to create web agent client: %w", err)
	}
	a.webAgent = agent
	return nil
}

// Close releases the store and model clients.
func (a *app) Close() {
	if a.webAgent != nil && a.webAgent != a.llm {
		if err := a.webAgent.Close(); err != nil {
			a.logger.Warn("failed to close web agent client", "error", err)
		}
	}
	if a.llm != nil {
		if err := a.llm.Close(); err != nil {
			a.logger.Warn("failed to close LLM client", "error", err)
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}

// setupLogger builds the process logger and installs it as the slog default.
func setupLogger(cfg config.Config) (*slog.Logger, func() error) {
	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.SlogLevel())
	slog.SetDefault(logger)
	return logger, closeLog
}
