package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"zcc-reporting/api/internal/ingest"
	"zcc-reporting/api/internal/models"
	"zcc-reporting/shared/workflow"
)

const (
	TypeTimecardsRefresh = "timecards.refresh"
	TypeAgentsRefresh    = "agents.refresh"
)

// TimecardsPayload names an explicit window, or a lookback ending at execution time when
// From and To are zero.
type TimecardsPayload struct {
	RunID         string    `json:"run_id,omitempty"`
	Trigger       string    `json:"trigger"`
	From          time.Time `json:"from,omitempty"`
	To            time.Time `json:"to,omitempty"`
	LookbackHours int       `json:"lookback_hours,omitempty"`
}

type AgentsPayload struct {
	RunID   string `json:"run_id,omitempty"`
	Trigger string `json:"trigger"`
}

func NewTimecardsTask(p TimecardsPayload, opts ...asynq.Option) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeTimecardsRefresh, b, opts...), nil
}

func NewAgentsTask(p AgentsPayload, opts ...asynq.Option) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeAgentsRefresh, b, opts...), nil
}

// ScheduledTimecardsTask is registered with the scheduler for periodic refreshes.
func ScheduledTimecardsTask(queue string, lookbackHours int) (*asynq.Task, error) {
	return NewTimecardsTask(TimecardsPayload{
		Trigger:       workflow.TriggerSchedule,
		LookbackHours: lookbackHours,
	}, asynq.Queue(queue), asynq.MaxRetry(2))
}

type TaskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type PendingRecorder interface {
	CreatePending(ctx context.Context, run models.RefreshRun) error
}

// Enqueuer records a pending run and hands the refresh to the worker.
type Enqueuer struct {
	client TaskClient
	runs   PendingRecorder
	queue  string
	now    func() time.Time
}

func NewEnqueuer(client TaskClient, runs PendingRecorder, queue string) *Enqueuer {
	return &Enqueuer{client: client, runs: runs, queue: queue, now: time.Now}
}

func (e *Enqueuer) EnqueueTimecards(ctx context.Context, from time.Time, to time.Time) (uuid.UUID, error) {
	if to.Before(from) {
		return uuid.Nil, fmt.Errorf("invalid range: from %s is after to %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	runID := uuid.New()
	from, to = from.UTC(), to.UTC()
	if err := e.recordPending(ctx, runID, ingest.KindTimecards, &from, &to); err != nil {
		return uuid.Nil, err
	}
	task, err := NewTimecardsTask(TimecardsPayload{
		RunID:   runID.String(),
		Trigger: workflow.TriggerTask,
		From:    from,
		To:      to,
	}, asynq.Queue(e.queue), asynq.TaskID(runID.String()), asynq.MaxRetry(3))
	if err != nil {
		return uuid.Nil, err
	}
	if _, err := e.client.EnqueueContext(ctx, task); err != nil {
		return uuid.Nil, fmt.Errorf("enqueue timecards refresh: %w", err)
	}
	return runID, nil
}

func (e *Enqueuer) EnqueueAgents(ctx context.Context) (uuid.UUID, error) {
	runID := uuid.New()
	if err := e.recordPending(ctx, runID, ingest.KindAgents, nil, nil); err != nil {
		return uuid.Nil, err
	}
	task, err := NewAgentsTask(AgentsPayload{RunID: runID.String(), Trigger: workflow.TriggerTask},
		asynq.Queue(e.queue), asynq.TaskID(runID.String()), asynq.MaxRetry(3))
	if err != nil {
		return uuid.Nil, err
	}
	if _, err := e.client.EnqueueContext(ctx, task); err != nil {
		return uuid.Nil, fmt.Errorf("enqueue agents refresh: %w", err)
	}
	return runID, nil
}

func (e *Enqueuer) recordPending(ctx context.Context, runID uuid.UUID, kind string, from *time.Time, to *time.Time) error {
	if e.runs == nil {
		return nil
	}
	err := e.runs.CreatePending(ctx, models.RefreshRun{
		RunID:     runID,
		Kind:      kind,
		Trigger:   workflow.TriggerTask,
		RangeFrom: from,
		RangeTo:   to,
		Status:    workflow.RunStatusPending,
		StartedAt: e.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("record pending run: %w", err)
	}
	return nil
}
