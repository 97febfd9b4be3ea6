package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/companydir/companydir/internal/app"
	"github.com/companydir/companydir/internal/directory"
	"github.com/companydir/companydir/internal/platform/db"
)

func main() {
	path := flag.String("file", "company_tag_sample.csv", "company sheet to import")
	flag.Parse()

	ctx := context.Background()
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

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if _, err := db.Migrate(ctx, pool); err != nil {
		logger.Error("migrate", slog.Any("error", err))
		os.Exit(1)
	}

	file, err := os.Open(*path)
	if err != nil {
		logger.Error("open sheet", slog.Any("error", err))
		os.Exit(1)
	}
	defer file.Close()

	companies, err := directory.ReadCompaniesCSV(file)
	if err != nil {
		logger.Error("parse sheet", slog.String("file", *path), slog.Any("error", err))
		os.Exit(1)
	}

	repo := directory.NewRepository(pool, db.RetryPolicy{MaxAttempts: cfg.TxMaxAttempts, Backoff: 20 * time.Millisecond})
	// The cache is left out; running servers pick up the data after a
	// directory:cache_bump or once their entries expire.
	svc := directory.NewService(repo, nil, directory.ServiceConfig{FallbackLanguages: cfg.FallbackLanguages}, logger, nil)

	result, err := directory.ImportCompanies(ctx, svc, companies, cfg.DefaultLanguage, logger)
	if err != nil {
		logger.Error("import companies", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("seed complete", slog.Int("created", result.Created), slog.Int("skipped", result.Skipped))
}
