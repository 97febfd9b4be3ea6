package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/companydir/companydir/internal/jobs"
)

// Bumper invalidates cached directory reads.
type Bumper interface {
	Bump(ctx context.Context) error
}

// CacheBumpJob invalidates the directory cache, typically after data was
// corrected outside the API.
type CacheBumpJob struct {
	Cache   Bumper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCacheBumpJob wires dependencies for the cache bump handler.
func NewCacheBumpJob(cache Bumper, logger *slog.Logger, metrics *jobmetrics.Metrics) *CacheBumpJob {
	return &CacheBumpJob{Cache: cache, Logger: logger, Metrics: metrics}
}

// Handle bumps the cache version.
func (j *CacheBumpJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Cache == nil {
		return errors.New("cache bump: handler not configured")
	}
	var payload CacheBumpPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskCacheBump)

	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("job", TaskCacheBump), slog.String("reason", payload.Reason))

	if err := j.Cache.Bump(ctx); err != nil {
		logger.Error("cache bump failed", slog.Any("error", err))
		return tracker.End(err)
	}
	logger.Info("directory cache bumped")
	return tracker.End(nil)
}
