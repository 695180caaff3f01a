package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
)

// Client is a production implementation of Scheduler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

var _ Scheduler = (*Client)(nil)

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

func (c *Client) workflowAction(backend string) *client.ScheduleWorkflowAction {
	return &client.ScheduleWorkflowAction{
		ID:        "index-memos-" + backend,
		Workflow:  IndexMemosWorkflow,
		TaskQueue: c.taskQueue,
		Args:      []interface{}{IndexMemosInput{Backend: backend}},
	}
}

// CreateIndexSchedule creates a new Temporal schedule for indexing a backend.
func (c *Client) CreateIndexSchedule(ctx context.Context, backend string, interval time.Duration) error {
	id := ScheduleID(backend)

	c.logger.Debug("creating index schedule",
		"backend", backend,
		"schedule_id", id,
		"interval", interval,
	)

	_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: id,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{{Every: interval}},
		},
		Action: c.workflowAction(backend),
		// At most one run at a time.
		Overlap: enumspb.SCHEDULE_OVERLAP_POLICY_SKIP,
		Memo: map[string]interface{}{
			"backend":    backend,
			"created_by": "memoboard",
		},
	})
	if err != nil {
		c.logger.Error("failed to create schedule",
			"backend", backend,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to create schedule %q: %w", id, err)
	}

	c.logger.Info("index schedule created",
		"backend", backend,
		"schedule_id", id,
		"interval", interval,
	)
	return nil
}

// UpsertIndexSchedule creates or updates the schedule for a backend.
// If the schedule already exists, it updates the interval. Otherwise, it creates a new schedule.
func (c *Client) UpsertIndexSchedule(ctx context.Context, backend string, interval time.Duration) error {
	id := ScheduleID(backend)

	// Check whether the schedule exists
	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if _, err := handle.Describe(ctx); err != nil {
		c.logger.Debug("schedule not found, creating new one",
			"schedule_id", id,
			"error", err,
		)
		return c.CreateIndexSchedule(ctx, backend, interval)
	}

	// Schedule exists, only the interval changes
	err := handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			input.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
				{Every: interval},
			}
			return &client.ScheduleUpdate{
				Schedule: &input.Description.Schedule,
			}, nil
		},
	})
	if err != nil {
		c.logger.Error("failed to update schedule",
			"backend", backend,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to update schedule %q: %w", id, err)
	}

	c.logger.Info("index schedule updated",
		"backend", backend,
		"schedule_id", id,
		"interval", interval,
	)
	return nil
}

// DeleteIndexSchedule deletes the Temporal schedule for a backend.
func (c *Client) DeleteIndexSchedule(ctx context.Context, backend string) error {
	id := ScheduleID(backend)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if err := handle.Delete(ctx); err != nil {
		c.logger.Error("failed to delete schedule",
			"backend", backend,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to delete schedule %q: %w", id, err)
	}

	c.logger.Info("index schedule deleted", "backend", backend, "schedule_id", id)
	return nil
}

// TriggerIndex starts IndexMemosWorkflow immediately, outside the schedule.
func (c *Client) TriggerIndex(ctx context.Context, backend string) (string, error) {
	// Manual runs get a unique workflow ID
	id := fmt.Sprintf("index-memos-%s-manual-%d", backend, time.Now().UnixNano())

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: c.taskQueue,
	}, IndexMemosWorkflow, IndexMemosInput{Backend: backend})
	if err != nil {
		return "", fmt.Errorf("failed to start index workflow: %w", err)
	}

	c.logger.Info("index workflow started", "backend", backend, "workflow_id", run.GetID(), "run_id", run.GetRunID())
	return run.GetID(), nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
