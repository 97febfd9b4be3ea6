package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/hibiken/asynq"

	"github.com/companydir/companydir/jobs"
)

// ErrUsage reports a malformed jobs command line.
var ErrUsage = errors.New("jobs cli: usage: jobs trigger <task> [arg] | jobs stats | jobs scheduled [size]")

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *jobs.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	if redisAddr == "" {
		return nil, errors.New("jobs cli: REDIS_ADDR is required")
	}
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	client, err := jobs.NewClient(opts)
	if err != nil {
		return nil, err
	}
	return &JobsCLI{client: client, inspector: asynq.NewInspector(opts)}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// TriggerResult describes an enqueued task.
type TriggerResult struct {
	Info *asynq.TaskInfo
	// RunID is set for integrity scans so their log lines can be found.
	RunID string
}

// Trigger enqueues a supported job by name. arg is the sample limit for
// integrity scans and the reason for cache bumps.
func (c *JobsCLI) Trigger(ctx context.Context, name, arg string) (TriggerResult, error) {
	if c == nil || c.client == nil {
		return TriggerResult{}, errors.New("jobs cli: client not configured")
	}
	switch name {
	case jobs.TaskIntegrityScan:
		limit := 20
		if arg != "" {
			n, err := strconv.Atoi(arg)
			if err != nil || n <= 0 {
				return TriggerResult{}, fmt.Errorf("jobs cli: sample limit %q must be a positive integer", arg)
			}
			limit = n
		}
		info, runID, err := c.client.EnqueueIntegrityScan(ctx, limit)
		if err != nil {
			return TriggerResult{}, err
		}
		return TriggerResult{Info: info, RunID: runID}, nil
	case jobs.TaskCacheBump:
		if arg == "" {
			arg = "manual"
		}
		info, err := c.client.EnqueueCacheBump(ctx, arg)
		if err != nil {
			return TriggerResult{}, err
		}
		return TriggerResult{Info: info}, nil
	default:
		return TriggerResult{}, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
	}
	return stats, nil
}

// ListScheduled returns scheduled task infos for observability.
func (c *JobsCLI) ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}

// Run executes a jobs subcommand and prints its result to out.
func (c *JobsCLI) Run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("jobs", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return ErrUsage
	}

	switch rest[0] {
	case "trigger":
		if len(rest) < 2 || len(rest) > 3 {
			return ErrUsage
		}
		arg := ""
		if len(rest) == 3 {
			arg = rest[2]
		}
		result, err := c.Trigger(ctx, rest[1], arg)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "enqueued %s id=%s queue=%s", result.Info.Type, result.Info.ID, result.Info.Queue)
		if result.RunID != "" {
			fmt.Fprintf(out, " run_id=%s", result.RunID)
		}
		fmt.Fprintln(out)
		return nil
	case "stats":
		stats, err := c.InspectQueue(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY")
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		return tw.Flush()
	case "scheduled":
		size := 10
		if len(rest) > 1 {
			n, err := strconv.Atoi(rest[1])
			if err != nil {
				return fmt.Errorf("%w: size %q", ErrUsage, rest[1])
			}
			size = n
		}
		tasks, err := c.ListScheduled(ctx, size)
		if err != nil {
			return err
		}
		for _, task := range tasks {
			fmt.Fprintf(out, "%s\t%s\t%s\n", task.ID, task.Type, task.NextProcessAt.UTC().Format("2006-01-02T15:04:05Z"))
		}
		return nil
	default:
		return ErrUsage
	}
}
