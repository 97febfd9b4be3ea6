package jobs

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientEnqueuesTasks(t *testing.T) {
	mr := miniredis.RunT(t)
	opts := asynq.RedisClientOpt{Addr: mr.Addr()}
	client, err := NewClient(opts)
	require.NoError(t, err)
	defer client.Close()

	info, runID, err := client.EnqueueIntegrityScan(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, runID, info.ID)
	assert.Equal(t, TaskIntegrityScan, info.Type)
	assert.Equal(t, 3, info.MaxRetry)

	var payload IntegrityScanPayload
	require.NoError(t, json.Unmarshal(info.Payload, &payload))
	assert.Equal(t, 5, payload.SampleLimit)

	info, err = client.EnqueueCacheBump(context.Background(), "cli")
	require.NoError(t, err)
	assert.Equal(t, QueueDefault, info.Queue)
	assert.Equal(t, TaskCacheBump, info.Type)
}
