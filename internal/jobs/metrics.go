// Package jobmetrics holds the Prometheus collectors shared by worker jobs.
package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome values of the status label on companydir_jobs_total.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics groups the job collectors. A nil *Metrics records nothing.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	findings    *prometheus.CounterVec
	lastSuccess *prometheus.GaugeVec
}

var (
	sharedOnce sync.Once
	shared     *Metrics
)

// NewMetrics registers the collectors on reg. A nil reg returns the process-wide
// instance registered on prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg != nil {
		return register(reg)
	}
	sharedOnce.Do(func() { shared = register(prometheus.DefaultRegisterer) })
	return shared
}

func register(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	byJob := []string{"job"}
	return &Metrics{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "companydir_jobs_total",
			Help: "Finished job runs by job and status.",
		}, []string{"job", "status"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "companydir_jobs_failures_total",
			Help: "Job runs that returned an error.",
		}, byJob),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "companydir_job_duration_seconds",
			Help:    "Wall time of job runs.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, byJob),
		findings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "companydir_integrity_findings_total",
			Help: "Directory integrity findings grouped by kind.",
		}, []string{"kind"}),
		lastSuccess: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "companydir_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run per job.",
		}, byJob),
	}
}

// Tracker measures one run of a job.
type Tracker struct {
	m       *Metrics
	job     string
	started time.Time
}

// Track starts measuring a run of job.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{m: m, job: job, started: time.Now()}
}

// End records the run and hands err back so callers can `return t.End(err)`.
func (t *Tracker) End(err error) error {
	if t == nil || t.m == nil || t.job == "" {
		return err
	}
	t.m.duration.WithLabelValues(t.job).Observe(time.Since(t.started).Seconds())
	if err != nil {
		t.m.runs.WithLabelValues(t.job, OutcomeFailure).Inc()
		t.m.failures.WithLabelValues(t.job).Inc()
		return err
	}
	t.m.runs.WithLabelValues(t.job, OutcomeSuccess).Inc()
	t.m.lastSuccess.WithLabelValues(t.job).SetToCurrentTime()
	return nil
}

// AddFindings counts count problems of kind. Zero counts create no series.
func (m *Metrics) AddFindings(kind string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.findings.WithLabelValues(kind).Add(float64(count))
}
