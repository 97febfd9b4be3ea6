package jobs

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scanHandler() TaskHandler {
	job := NewIntegrityScanJob(&fakeIntegrityStore{}, nil, nil, nil)
	return TaskHandler{Type: TaskIntegrityScan, Handler: job.Handle}
}

func TestNewWorkerRegistersHandlers(t *testing.T) {
	mr := miniredis.RunT(t)
	task, err := NewIntegrityScanTask(10)
	require.NoError(t, err)

	worker, err := NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: mr.Addr()},
		Handlers: []TaskHandler{
			scanHandler(),
			{Type: TaskCacheBump, Handler: NewCacheBumpJob(&countingBumper{}, nil, nil).Handle},
		},
		Cron: []CronRegistration{{Spec: "@hourly", Task: task}},
	})
	require.NoError(t, err)
	require.NotNil(t, worker.scheduler)

	bump, err := NewCacheBumpTask("test")
	require.NoError(t, err)
	assert.NoError(t, worker.mux.ProcessTask(context.Background(), bump))
}

func TestNewWorkerWithoutCronHasNoScheduler(t *testing.T) {
	mr := miniredis.RunT(t)
	worker, err := NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: mr.Addr()},
		Handlers:  []TaskHandler{scanHandler()},
	})
	require.NoError(t, err)
	assert.Nil(t, worker.scheduler)
}

func TestNewWorkerRejectsBadRegistrations(t *testing.T) {
	mr := miniredis.RunT(t)
	opts := asynq.RedisClientOpt{Addr: mr.Addr()}
	task, err := NewIntegrityScanTask(10)
	require.NoError(t, err)

	cases := map[string]WorkerConfig{
		"incomplete handler": {
			Handlers: []TaskHandler{{Type: TaskCacheBump}},
		},
		"duplicate handler": {
			Handlers: []TaskHandler{scanHandler(), scanHandler()},
		},
		"invalid cron": {
			Handlers: []TaskHandler{scanHandler()},
			Cron:     []CronRegistration{{Spec: "not a cron", Task: task}},
		},
		"cron without task": {
			Handlers: []TaskHandler{scanHandler()},
			Cron:     []CronRegistration{{Spec: "@hourly"}},
		},
		"cron without handler": {
			Cron: []CronRegistration{{Spec: "@hourly", Task: task}},
		},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			cfg.RedisOpts = opts
			_, err := NewWorker(cfg)
			assert.Error(t, err)
		})
	}
}

func TestNilWorkerRun(t *testing.T) {
	var w *Worker
	assert.Error(t, w.Run(context.Background()))
}
