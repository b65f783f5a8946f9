package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/orchestrator"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/server"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/server/ratelimit"
)

var (
	servePort    int
	serveWorkers int
	serveQueue   int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start an HTTP server that accepts research jobs and runs them on a background
worker pool. Job status, trace and brief are served from the store; traces of running
jobs can be followed over SSE or a websocket.

Bearer-token auth is enabled when JWT_SECRET is set (mint tokens with "token").`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (default PORT or 8080)")
	serveCmd.Flags().IntVar(&serveWorkers, "workers", 0, "Concurrent jobs (default WORKER_COUNT)")
	serveCmd.Flags().IntVar(&serveQueue, "queue-size", orchestrator.DefaultQueueSize, "Jobs accepted ahead of the workers")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = servePort
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers = serveWorkers
	}

	logger, closeLog := setupLogger(cfg)
	defer func() { _ = closeLog() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	// Jobs left unfinished by a previous process will never be picked up again.
	stale, err := a.store.FailStaleJobs(ctx, orchestrator.ReasonInterrupted)
	if err != nil {
		return fmt.Errorf("failed to recover stale jobs: %w", err)
	}
	if stale > 0 {
		logger.Warn("marked interrupted jobs as failed", "count", stale)
	}

	jwtCfg, err := cfg.JWT()
	if err != nil {
		return err
	}
	var jwtService *server.JWTService
	if jwtCfg != nil {
		jwtService = server.NewJWTService(jwtCfg)
	} else {
		logger.Warn("JWT_SECRET not set, job API is unauthenticated")
	}

	pool := orchestrator.NewPool(a.orch, cfg.Workers, serveQueue, logger)
	pool.Start(context.WithoutCancel(ctx))

	opts := server.Options{
		Port:      cfg.Port,
		Jobs:      a.store,
		Submitter: a.orch,
		Queue:     pool,
		Hub:       a.hub,
		QA:        a.qa,
		JWT:       jwtService,
		RateLimit: ratelimit.LoadConfig(),
		Logger:    logger,
	}
	if a.db != nil {
		opts.Ping = a.db.Ping
	}
	srv, err := server.New(opts)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	serveErr := srv.Start(ctx)

	// In-flight jobs get the job budget to finish before they are canceled.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.JobTimeout()+10*time.Second)
	defer cancel()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.Warn("job pool did not drain", "error", err)
	}
	return serveErr
}
