package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"zcc-reporting/api/internal/ingest"
	"zcc-reporting/shared/events"
	"zcc-reporting/shared/logx"
	"zcc-reporting/shared/workflow"
)

var errBadEnvelope = errors.New("malformed refresh envelope")

// NameInvalidator drops the cached agent directory snapshot.
type NameInvalidator interface {
	Invalidate(ctx context.Context) error
}

// RefreshEvents reacts to refresh-completed events published by any process. A finished
// agent refresh invalidates the shared directory cache.
type RefreshEvents struct {
	names NameInvalidator
	log   logx.Logger
}

func NewRefreshEvents(names NameInvalidator, l logx.Logger) *RefreshEvents {
	return &RefreshEvents{names: names, log: l.With(slog.String("component", "refresh_events"))}
}

// Handle returns an error wrapping errBadEnvelope for messages that will never decode;
// callers commit those instead of retrying.
func (h *RefreshEvents) Handle(ctx context.Context, payload []byte) error {
	var env events.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("%w: %v", errBadEnvelope, err)
	}
	if env.EventID == uuid.Nil || env.EventType != events.EventRefreshCompleted {
		return fmt.Errorf("%w: unexpected event %q", errBadEnvelope, env.EventType)
	}
	var ev events.RefreshCompleted
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		return fmt.Errorf("%w: %v", errBadEnvelope, err)
	}

	h.log.Debug(ctx, "refresh_event", "refresh event received",
		slog.String("run_id", ev.RunID.String()),
		slog.String("kind", ev.Kind),
		slog.String("status", ev.Status),
	)
	if ev.Kind != ingest.KindAgents || ev.Status != workflow.RunStatusDone || h.names == nil {
		return nil
	}
	if ev.Inserted == 0 {
		return nil
	}
	if err := h.names.Invalidate(ctx); err != nil {
		return fmt.Errorf("invalidate agent names: %w", err)
	}
	h.log.Info(ctx, "directory_cache_invalidated", "agent directory changed",
		slog.String("run_id", ev.RunID.String()),
		slog.Int64("inserted", ev.Inserted),
	)
	return nil
}

// IsPoison reports whether err came from a message that can never be handled.
func IsPoison(err error) bool {
	return errors.Is(err, errBadEnvelope)
}
