package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/companydir/companydir/internal/jobs"
	"github.com/companydir/companydir/internal/tags"
)

type fakeIntegrityStore struct {
	companies  []int64
	groups     []int64
	labels     map[int64]tags.LabelBundle
	collisions []string
	err        error
}

func (f *fakeIntegrityStore) CompaniesWithoutNames(ctx context.Context) ([]int64, error) {
	return f.companies, f.err
}

func (f *fakeIntegrityStore) TagGroupsWithoutNames(ctx context.Context) ([]int64, error) {
	return f.groups, nil
}

func (f *fakeIntegrityStore) TagGroupLabels(ctx context.Context, fn func(int64, tags.LabelBundle) error) error {
	ids := make([]int64, 0, len(f.labels))
	for id := range f.labels {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if err := fn(id, f.labels[id]); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeIntegrityStore) CaseInsensitiveCollisions(ctx context.Context) ([]string, error) {
	return f.collisions, nil
}

func TestIntegrityScanRunCollectsFindings(t *testing.T) {
	store := &fakeIntegrityStore{
		companies: []int64{4},
		groups:    []int64{9},
		labels: map[int64]tags.LabelBundle{
			7:  {"ko": "태그_7", "en": "tag_70"},
			12: {"en": "tag_12", "ja": "タグ_3"},
			5:  {"ja": "タグ_6"},
			8:  {"ko": "태그"},
		},
		collisions: []string{"companya"},
	}
	job := NewIntegrityScanJob(store, []string{"ko", "en", "ja"}, nil, nil)

	report, err := job.Run(context.Background(), "run-1")
	require.NoError(t, err)

	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, []int64{4}, report.CompaniesWithoutNames)
	assert.Equal(t, []int64{9}, report.TagGroupsWithoutNames)
	assert.Equal(t, []LabelMismatch{
		{TagGroupID: 5, Language: "ja", Label: "タグ_6", Derived: 6},
		{TagGroupID: 8, Language: "ko", Label: "태그", Malformed: true},
	}, report.Mismatches)
	assert.Equal(t, []string{"companya"}, report.NameCollisions)
	assert.Equal(t, 5, report.Findings())
}

func TestIntegrityScanHandleRecordsMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	store := &fakeIntegrityStore{
		groups: []int64{1, 2},
		labels: map[int64]tags.LabelBundle{3: {"ko": "태그_4"}},
	}
	job := NewIntegrityScanJob(store, nil, nil, metrics)
	fixed := time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)
	job.WithClock(func() time.Time { return fixed })

	task, err := NewIntegrityScanTask(10)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	runs, err := testutil.GatherAndCount(registry, "companydir_jobs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, runs)
	families, err := registry.Gather()
	require.NoError(t, err)
	findings := map[string]float64{}
	for _, family := range families {
		if family.GetName() != "companydir_integrity_findings_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			findings[metric.GetLabel()[0].GetValue()] = metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, map[string]float64{
		FindingTagGroupWithoutNames: 2,
		FindingBasisLabelMismatch:   1,
	}, findings)
}

func TestIntegrityScanHandleFailure(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	store := &fakeIntegrityStore{err: errors.New("db down")}
	job := NewIntegrityScanJob(store, nil, nil, metrics)

	task, err := NewIntegrityScanTask(0)
	require.NoError(t, err)
	err = job.Handle(context.Background(), task)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestIntegrityScanRejectsBadPayload(t *testing.T) {
	job := NewIntegrityScanJob(&fakeIntegrityStore{}, nil, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskIntegrityScan, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestManualIntegrityScanTaskCarriesRunID(t *testing.T) {
	task, runID, err := NewManualIntegrityScanTask(5)
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	var payload IntegrityScanPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, runID, payload.RunID)
	assert.Equal(t, 5, payload.SampleLimit)
	assert.Equal(t, TaskIntegrityScan, task.Type())
}
