// Package main is the entrypoint for the CopyForge API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/copyforgehq/copyforge/internal/admission"
	"github.com/copyforgehq/copyforge/internal/api"
	"github.com/copyforgehq/copyforge/internal/api/handler"
	mw "github.com/copyforgehq/copyforge/internal/api/middleware"
	"github.com/copyforgehq/copyforge/internal/cache"
	"github.com/copyforgehq/copyforge/internal/config"
	"github.com/copyforgehq/copyforge/internal/job"
	"github.com/copyforgehq/copyforge/internal/provider"
	"github.com/copyforgehq/copyforge/internal/provider/anthropic"
	"github.com/copyforgehq/copyforge/internal/provider/gemini"
	"github.com/copyforgehq/copyforge/internal/provider/openai"
	"github.com/copyforgehq/copyforge/internal/ratelimit"
	"github.com/copyforgehq/copyforge/internal/store"
)

const (
	shutdownTimeout = 30 * time.Second
	sweepInterval   = 5 * time.Minute
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env,
		"rate_limit_backend", cfg.RateLimit.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Build the provider router from the configured vendors
	aiRouter, err := provider.NewRouter(
		provider.Chains(cfg.Providers),
		clientFactory(cfg.Providers),
		slog.Default(),
	)
	if err != nil {
		return fmt.Errorf("create provider router: %w", err)
	}

	// 6. Create store and admission control
	pgStore := store.NewPostgresStore(pool)
	admissionSvc := admission.NewService(pgStore, cfg.Admission, slog.Default())

	// 7. Rate limiting. Redis by default so instances share windows; the
	// in-memory backend is for single-process deployments.
	var counter ratelimit.Counter = redisCache
	if cfg.RateLimit.Backend == "memory" {
		memCounter := ratelimit.NewMemoryCounter()
		memCounter.StartSweeper(sweepInterval)
		defer memCounter.Stop()
		counter = memCounter
	}
	limiter := ratelimit.NewLimiter(counter, cfg.RateLimit.Window)

	// 8. Assemble the async job pipeline
	processors := []job.Processor{
		job.NewArticleProcessor(aiRouter),
		job.NewProductProcessor(aiRouter),
		job.NewSectionProcessor(aiRouter),
	}
	orch := job.NewOrchestrator(pgStore, redisCache, processors, cfg.Jobs, slog.Default())
	dispatcher := job.NewDispatcher(orch, pgStore, cfg.Jobs, slog.Default())
	jobSvc := job.NewService(pgStore, redisCache, admissionSvc, dispatcher, cfg.Jobs.MaxAttempts, slog.Default())

	// Re-queue work interrupted by the previous process before taking traffic.
	if err := dispatcher.Recover(ctx); err != nil {
		return fmt.Errorf("recover interrupted jobs: %w", err)
	}

	// 9. Build router with dependencies
	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(limiter, admissionSvc),

		SubmitPerWindow: cfg.RateLimit.SubmitPerWindow,
		StatusPerWindow: cfg.RateLimit.StatusPerWindow,

		HealthHandler:    handler.NewHealthHandler(pgStore, redisCache),
		SubmitJobHandler: handler.NewSubmitJobHandler(jobSvc),
		GetJobHandler:    handler.NewGetJobHandler(jobSvc),
		ListJobsHandler:  handler.NewListJobsHandler(jobSvc),

		CreateLicenseHandler: handler.NewCreateLicenseHandler(pgStore),
		ListLicensesHandler:  handler.NewListLicensesHandler(pgStore),
		RevokeLicenseHandler: handler.NewRevokeLicenseHandler(pgStore),
		CreditLicenseHandler: handler.NewCreditLicenseHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 10. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown: stop accepting requests, then let in-flight jobs
	// finish. Jobs that outlive the timeout are failed by Recover on the
	// next start.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := dispatcher.Drain(shutdownCtx); err != nil {
		slog.Warn("shutdown with jobs still in flight", "error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// clientFactory builds vendor clients on demand for the provider router.
// Each client carries the shared retry policy and request timeout.
func clientFactory(cfg config.ProvidersConfig) provider.ClientFactory {
	retry := provider.RetryPolicy{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryBaseDelay,
		MaxDelay:   cfg.RetryMaxDelay,
	}
	return func(entry provider.ChainEntry) (provider.Client, error) {
		switch entry.Provider {
		case "openai":
			return openai.NewClient(cfg.OpenAI, retry, cfg.RequestTimeout), nil
		case "anthropic":
			return anthropic.NewClient(cfg.Anthropic, retry, cfg.RequestTimeout), nil
		case "gemini":
			return gemini.NewClient(cfg.Gemini, retry, cfg.RequestTimeout), nil
		default:
			return nil, fmt.Errorf("unknown provider %q", entry.Provider)
		}
	}
}
