// Package main is the entrypoint for the casefile API server.
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

	"github.com/kiranshivaraju/casefile/internal/ai"
	"github.com/kiranshivaraju/casefile/internal/api"
	"github.com/kiranshivaraju/casefile/internal/api/handler"
	mw "github.com/kiranshivaraju/casefile/internal/api/middleware"
	"github.com/kiranshivaraju/casefile/internal/api/response"
	"github.com/kiranshivaraju/casefile/internal/cache"
	"github.com/kiranshivaraju/casefile/internal/config"
	"github.com/kiranshivaraju/casefile/internal/jobs"
	"github.com/kiranshivaraju/casefile/internal/metrics"
	"github.com/kiranshivaraju/casefile/internal/pipeline"
	"github.com/kiranshivaraju/casefile/internal/storage"
	"github.com/kiranshivaraju/casefile/internal/store"
	"github.com/kiranshivaraju/casefile/internal/vision"
)

const shutdownTimeout = 30 * time.Second

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
	slog.Info("config loaded",
		"ai_provider", cfg.AI.Provider,
		"vision_provider", cfg.AI.VisionProvider,
		"env", cfg.Server.Env)

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
	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
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

	// 5. Object storage
	presigner, err := storage.NewS3Presigner(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("create storage client: %w", err)
	}
	if err := presigner.Ping(ctx); err != nil {
		// Images may still resolve if HeadBucket is denied by policy.
		slog.Warn("storage bucket check failed", "bucket", cfg.Storage.Bucket, "error", err)
	}

	// 6. Model providers
	hypothesisProvider, err := ai.NewProvider(cfg.AI)
	if err != nil {
		return fmt.Errorf("create AI provider: %w", err)
	}
	visionProvider, err := ai.NewVisionProvider(cfg.AI)
	if err != nil {
		return fmt.Errorf("create vision provider: %w", err)
	}
	slog.Info("AI providers initialized",
		"provider", hypothesisProvider.Name(),
		"vision_provider", visionProvider.Name())

	// 7. Pipeline and job workers
	pgStore := store.NewPostgresStore(pool)
	m := metrics.New()
	registry := jobs.NewRegistry()
	m.TrackRegistrySize(registry.Len)

	runner := pipeline.NewRunner(pipeline.Deps{
		Store:      pgStore,
		Detector:   vision.NewHTTPDetector(cfg.Vision.DetectorBaseURL, cfg.Vision.Timeout),
		Extractor:  vision.NewHTTPTextExtractor(cfg.Vision.OCRBaseURL, cfg.Vision.Timeout),
		Resolver:   storage.NewResolver(presigner, redisCache, cfg.Storage.PresignExpiry),
		Hypothesis: hypothesisProvider,
		Vision:     visionProvider,
		Metrics:    m,
	})

	dispatcher := jobs.NewDispatcher(cfg.Jobs.Workers, cfg.Jobs.QueueSize)
	dispatcher.Start(ctx)
	slog.Info("job workers started", "workers", cfg.Jobs.Workers, "queue_size", cfg.Jobs.QueueSize)

	svc := pipeline.NewService(runner, registry, dispatcher, redisCache, cfg.Jobs.StatusTTL)

	// 8. Build router with dependencies
	deps := api.Dependencies{
		RateLimit:      mw.NewRateLimit(redisCache, cfg.RateLimit.PerMinute),
		HealthHandler:  healthHandler(pgStore, redisCache, presigner),
		MetricsHandler: m.Handler(),

		AnalyzeHandler:   handler.NewAnalyzeHandler(svc),
		StreamHandler:    handler.NewStreamHandler(svc),
		SubmitJobHandler: handler.NewSubmitJobHandler(svc),
		ListJobsHandler:  handler.NewListJobsHandler(svc),
		GetJobHandler:    handler.NewGetJobHandler(svc),
		DeleteJobHandler: handler.NewDeleteJobHandler(svc),
	}

	router := api.NewRouter(deps)

	// 9. Start HTTP server. The stream handler lifts the write deadline for
	// its own connection.
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		dispatcher.Stop()
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	shutdownErr := srv.Shutdown(shutdownCtx)
	dispatcher.Stop()
	if shutdownErr != nil {
		return fmt.Errorf("server shutdown: %w", shutdownErr)
	}

	slog.Info("server stopped gracefully")
	return nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler checks database, cache and object storage connectivity.
// Storage is reported but never degrades the service on its own.
func healthHandler(s store.Store, c cache.Cache, objects pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}
		if objects != nil {
			checks["storage"] = "ok"
			if err := objects.Ping(r.Context()); err != nil {
				checks["storage"] = "degraded"
			}
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
