package jobs

import (
	"context"

	"github.com/hibiken/asynq"
)

// Client enqueues directory tasks.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an asynq backed client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	return &Client{client: asynq.NewClient(redisOpts)}, nil
}

// EnqueueIntegrityScan enqueues a one-off integrity scan and returns its run id.
func (c *Client) EnqueueIntegrityScan(ctx context.Context, sampleLimit int) (*asynq.TaskInfo, string, error) {
	task, runID, err := NewManualIntegrityScanTask(sampleLimit)
	if err != nil {
		return nil, "", err
	}
	info, err := c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault), asynq.MaxRetry(3))
	if err != nil {
		return nil, "", err
	}
	return info, runID, nil
}

// EnqueueCacheBump asks the worker to invalidate every cached directory read.
func (c *Client) EnqueueCacheBump(ctx context.Context, reason string) (*asynq.TaskInfo, error) {
	task, err := NewCacheBumpTask(reason)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
}

// Close releases the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}
