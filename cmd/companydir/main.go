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

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/companydir/companydir/cmd/companydir/cli"
	"github.com/companydir/companydir/internal/app"
	"github.com/companydir/companydir/internal/directory"
	"github.com/companydir/companydir/internal/observability"
	"github.com/companydir/companydir/internal/platform/cache"
	"github.com/companydir/companydir/internal/platform/db"
	"github.com/companydir/companydir/jobs"
)

const usage = `usage: companydir [command]

commands:
  serve                      run the HTTP API (default)
  migrate                    apply pending database migrations
  jobs trigger <task> [arg]  enqueue directory:integrity_scan or directory:cache_bump
  jobs stats                 print default queue counters
  jobs scheduled [size]      list scheduled tasks
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.LoadDotEnv(); err != nil {
		slog.Default().Error("load .env", slog.Any("error", err))
		os.Exit(1)
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	switch command {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "migrate":
		err = migrate(ctx, cfg, logger)
	case "jobs":
		err = runJobs(ctx, cfg, args)
	case "help", "-h", "--help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error(command, slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.MigrateOnStart {
		applied, err := db.Migrate(ctx, pool)
		if err != nil {
			return err
		}
		if len(applied) > 0 {
			logger.Info("applied migrations", slog.Any("versions", applied))
		}
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		// Reads go straight to PostgreSQL without the cache.
		logger.Warn("redis unavailable, caching disabled", slog.Any("error", err))
		redisClient = nil
	}
	if redisClient != nil {
		defer func(c *redis.Client) {
			if err := c.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}(redisClient)
	}

	metrics := observability.NewMetrics()

	repo := directory.NewRepository(pool, db.RetryPolicy{
		MaxAttempts: cfg.TxMaxAttempts,
		Backoff:     20 * time.Millisecond,
		OnRetry:     metrics.TxRetry,
	})
	directoryCache := directory.NewCache(redisClient, cfg.CacheTTL, logger, metrics)
	if err := directoryCache.ListenForInvalidation(ctx); err != nil {
		logger.Warn("cache invalidation listener", slog.Any("error", err))
	}
	service := directory.NewService(repo, directoryCache, directory.ServiceConfig{
		FallbackLanguages: cfg.FallbackLanguages,
	}, logger, metrics)
	directoryHandler := directory.NewHandler(logger, service, cfg.DefaultLanguage)

	var jobHandler *jobs.Handler
	if cfg.RedisAddr != "" {
		inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		DirectoryHandler: directoryHandler,
		JobHandler:       jobHandler,
		Database:         repo,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func migrate(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, 1)
	if err != nil {
		return err
	}
	defer pool.Close()

	applied, err := db.Migrate(ctx, pool)
	if err != nil {
		return err
	}
	logger.Info("migrations complete", slog.Int("applied", len(applied)), slog.Any("versions", applied))
	return nil
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) error {
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() { _ = jobsCLI.Close() }()
	return jobsCLI.Run(ctx, args, os.Stdout)
}
