package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/companydir/companydir/internal/jobs"
	"github.com/companydir/companydir/internal/tags"
)

// Finding kinds reported by the integrity scan.
const (
	FindingCompanyWithoutNames      = "company_without_names"
	FindingTagGroupWithoutNames     = "tag_group_without_names"
	FindingBasisLabelMismatch       = "basis_label_mismatch"
	FindingCaseInsensitiveCollision = "case_insensitive_name_collision"
)

// IntegrityStore reads the directory tables for the scan.
type IntegrityStore interface {
	CompaniesWithoutNames(ctx context.Context) ([]int64, error)
	TagGroupsWithoutNames(ctx context.Context) ([]int64, error)
	// TagGroupLabels calls fn once per tag group with all of its translations,
	// in tag group id order.
	TagGroupLabels(ctx context.Context, fn func(tagGroupID int64, bundle tags.LabelBundle) error) error
	// CaseInsensitiveCollisions lists lower-cased names used by more than one company.
	CaseInsensitiveCollisions(ctx context.Context) ([]string, error)
}

// LabelMismatch is a tag group whose basis label no longer yields its id.
type LabelMismatch struct {
	TagGroupID int64
	Language   string
	Label      string
	Derived    int64
	Malformed  bool
}

// IntegrityReport is the outcome of one scan.
type IntegrityReport struct {
	RunID                 string
	CompaniesWithoutNames []int64
	TagGroupsWithoutNames []int64
	Mismatches            []LabelMismatch
	NameCollisions        []string
}

// Findings returns the number of problems found.
func (r IntegrityReport) Findings() int {
	return len(r.CompaniesWithoutNames) + len(r.TagGroupsWithoutNames) + len(r.Mismatches) + len(r.NameCollisions)
}

// IntegrityScanJob verifies that stored rows still satisfy the directory's
// derivation rules. It only reports; it never repairs.
type IntegrityScanJob struct {
	Store    IntegrityStore
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	Priority []string
	clock    func() time.Time
}

// NewIntegrityScanJob wires dependencies for the scan handler. priority is the
// fallback language order used when deriving basis labels.
func NewIntegrityScanJob(store IntegrityStore, priority []string, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrityScanJob {
	return &IntegrityScanJob{
		Store:    store,
		Logger:   logger,
		Metrics:  metrics,
		Priority: priority,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the integrity scan.
func (j *IntegrityScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("integrity scan: handler not configured")
	}
	var payload IntegrityScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RunID == "" {
		payload.RunID = uuid.NewString()
	}
	if payload.SampleLimit <= 0 {
		payload.SampleLimit = 20
	}

	tracker := j.metrics().Track(TaskIntegrityScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := j.now()
	logger := j.logger().With(slog.String("run_id", payload.RunID))
	logger.Info("starting integrity scan")

	report, err := j.Run(ctx, payload.RunID)
	if err != nil {
		resultErr = err
		logger.Error("integrity scan failed", slog.Any("error", err))
		return resultErr
	}

	j.report(logger, report, payload.SampleLimit)
	logger.Info("completed integrity scan",
		slog.Int("findings", report.Findings()),
		slog.Duration("duration", j.now().Sub(start)),
	)
	return resultErr
}

// Run performs every check and returns the collected report.
func (j *IntegrityScanJob) Run(ctx context.Context, runID string) (IntegrityReport, error) {
	if j.Store == nil {
		return IntegrityReport{}, errors.New("integrity scan: store not configured")
	}
	report := IntegrityReport{RunID: runID}

	var err error
	if report.CompaniesWithoutNames, err = j.Store.CompaniesWithoutNames(ctx); err != nil {
		return IntegrityReport{}, fmt.Errorf("companies without names: %w", err)
	}
	if report.TagGroupsWithoutNames, err = j.Store.TagGroupsWithoutNames(ctx); err != nil {
		return IntegrityReport{}, fmt.Errorf("tag groups without names: %w", err)
	}
	err = j.Store.TagGroupLabels(ctx, func(id int64, bundle tags.LabelBundle) error {
		code, text, ok := tags.BasisLabel(bundle, j.Priority)
		if !ok {
			return nil
		}
		derived, err := tags.ExtractID(text)
		switch {
		case err != nil:
			report.Mismatches = append(report.Mismatches, LabelMismatch{TagGroupID: id, Language: code, Label: text, Malformed: true})
		case derived != id:
			report.Mismatches = append(report.Mismatches, LabelMismatch{TagGroupID: id, Language: code, Label: text, Derived: derived})
		}
		return nil
	})
	if err != nil {
		return IntegrityReport{}, fmt.Errorf("tag group labels: %w", err)
	}
	if report.NameCollisions, err = j.Store.CaseInsensitiveCollisions(ctx); err != nil {
		return IntegrityReport{}, fmt.Errorf("name collisions: %w", err)
	}
	return report, nil
}

func (j *IntegrityScanJob) report(logger *slog.Logger, report IntegrityReport, limit int) {
	metrics := j.metrics()
	if n := len(report.CompaniesWithoutNames); n > 0 {
		logger.Warn("companies without names", slog.Int("count", n), slog.Any("sample", sample(report.CompaniesWithoutNames, limit)))
		metrics.AddFindings(FindingCompanyWithoutNames, n)
	}
	if n := len(report.TagGroupsWithoutNames); n > 0 {
		logger.Warn("tag groups without names", slog.Int("count", n), slog.Any("sample", sample(report.TagGroupsWithoutNames, limit)))
		metrics.AddFindings(FindingTagGroupWithoutNames, n)
	}
	for _, m := range sample(report.Mismatches, limit) {
		logger.Warn("basis label does not match tag group",
			slog.Int64("tag_group_id", m.TagGroupID),
			slog.String("language", m.Language),
			slog.String("label", m.Label),
			slog.Int64("derived", m.Derived),
			slog.Bool("malformed", m.Malformed),
		)
	}
	metrics.AddFindings(FindingBasisLabelMismatch, len(report.Mismatches))
	if n := len(report.NameCollisions); n > 0 {
		logger.Warn("company names collide ignoring case", slog.Int("count", n), slog.Any("sample", sample(report.NameCollisions, limit)))
		metrics.AddFindings(FindingCaseInsensitiveCollision, n)
	}
}

func (j *IntegrityScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskIntegrityScan))
	}
	return slog.Default().With(slog.String("job", TaskIntegrityScan))
}

func (j *IntegrityScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *IntegrityScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *IntegrityScanJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}

func sample[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
