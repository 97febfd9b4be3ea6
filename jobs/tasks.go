package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/companydir/companydir/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskIntegrityScan checks directory data for rows the API cannot render.
	TaskIntegrityScan = "directory:integrity_scan"
	// TaskCacheBump invalidates every cached directory read.
	TaskCacheBump = "directory:cache_bump"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// IntegrityScanPayload configures one integrity scan run.
type IntegrityScanPayload struct {
	RunID string `json:"run_id,omitempty"`
	// SampleLimit caps how many offending ids each check logs.
	SampleLimit int `json:"sample_limit"`
}

// NewIntegrityScanTask constructs a scan task. Scheduled tasks leave RunID empty
// so every run gets its own id.
func NewIntegrityScanTask(sampleLimit int) (*asynq.Task, error) {
	data, err := json.Marshal(IntegrityScanPayload{SampleLimit: sampleLimit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIntegrityScan, data), nil
}

// NewManualIntegrityScanTask constructs a one-off scan with a fixed run id that
// is also used as the asynq task id.
func NewManualIntegrityScanTask(sampleLimit int) (*asynq.Task, string, error) {
	runID := uuid.NewString()
	data, err := json.Marshal(IntegrityScanPayload{RunID: runID, SampleLimit: sampleLimit})
	if err != nil {
		return nil, "", err
	}
	return asynq.NewTask(TaskIntegrityScan, data, asynq.TaskID(runID), asynq.Timeout(10*time.Minute)), runID, nil
}

// CacheBumpPayload records why the cache was invalidated.
type CacheBumpPayload struct {
	Reason string `json:"reason"`
}

// NewCacheBumpTask constructs a cache bump task.
func NewCacheBumpTask(reason string) (*asynq.Task, error) {
	data, err := json.Marshal(CacheBumpPayload{Reason: reason})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCacheBump, data, asynq.MaxRetry(5)), nil
}
