package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"zcc-reporting/api/internal/ingest"
	"zcc-reporting/shared/clients/zoom"
	"zcc-reporting/shared/logx"
	"zcc-reporting/shared/workflow"
)

type Refresher interface {
	RefreshTimecards(ctx context.Context, from time.Time, to time.Time) (ingest.Result, error)
	RefreshAgents(ctx context.Context) (ingest.Result, error)
}

type Handler struct {
	refresher       Refresher
	log             logx.Logger
	defaultLookback int
	now             func() time.Time
}

func NewHandler(refresher Refresher, defaultLookbackHours int, l logx.Logger) *Handler {
	if defaultLookbackHours <= 0 {
		defaultLookbackHours = 24
	}
	return &Handler{
		refresher:       refresher,
		log:             l.With(slog.String("component", "jobs")),
		defaultLookback: defaultLookbackHours,
		now:             time.Now,
	}
}

func (h *Handler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeTimecardsRefresh, h.HandleTimecards)
	mux.HandleFunc(TypeAgentsRefresh, h.HandleAgents)
}

func (h *Handler) HandleTimecards(ctx context.Context, t *asynq.Task) error {
	var p TimecardsPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("%w: decode payload: %v", asynq.SkipRetry, err)
	}
	from, to := p.From, p.To
	if from.IsZero() || to.IsZero() {
		hours := p.LookbackHours
		if hours <= 0 {
			hours = h.defaultLookback
		}
		to = h.now().UTC()
		from = to.Add(-time.Duration(hours) * time.Hour)
	}
	if to.Before(from) {
		return fmt.Errorf("%w: from is after to", asynq.SkipRetry)
	}

	ctx = ingest.WithRun(ctx, h.runMeta(ctx, p.RunID, p.Trigger))
	res, err := h.refresher.RefreshTimecards(ctx, from, to)
	return h.finish(ctx, TypeTimecardsRefresh, res, err)
}

func (h *Handler) HandleAgents(ctx context.Context, t *asynq.Task) error {
	var p AgentsPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("%w: decode payload: %v", asynq.SkipRetry, err)
		}
	}
	ctx = ingest.WithRun(ctx, h.runMeta(ctx, p.RunID, p.Trigger))
	res, err := h.refresher.RefreshAgents(ctx)
	return h.finish(ctx, TypeAgentsRefresh, res, err)
}

// runMeta reuses the queued run id on the first attempt only; a retry is a new run.
func (h *Handler) runMeta(ctx context.Context, rawID string, trigger string) ingest.RunMeta {
	meta := ingest.RunMeta{Trigger: strings.TrimSpace(trigger)}
	if meta.Trigger == "" {
		meta.Trigger = workflow.TriggerTask
	}
	if retried, ok := asynq.GetRetryCount(ctx); ok && retried > 0 {
		return meta
	}
	if id, err := uuid.Parse(strings.TrimSpace(rawID)); err == nil {
		meta.ID = id
	}
	return meta
}

func (h *Handler) finish(ctx context.Context, taskType string, res ingest.Result, err error) error {
	if err == nil {
		h.log.Info(ctx, "task_completed", "refresh task completed",
			slog.String("task", taskType),
			slog.String("run_id", res.RunID.String()),
			slog.Int64("inserted", res.Inserted),
		)
		return nil
	}
	h.log.Warn(ctx, "task_failed", "refresh task failed",
		slog.String("task", taskType),
		slog.String("error", err.Error()),
	)
	// Retrying cannot help until someone configures a credential.
	if errors.Is(err, zoom.ErrCredentialMissing) {
		return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
	}
	return err
}
