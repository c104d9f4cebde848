package ingest

import (
	"context"

	"github.com/google/uuid"

	"zcc-reporting/shared/workflow"
)

// RunMeta identifies a refresh run for history and events.
type RunMeta struct {
	ID      uuid.UUID
	Trigger string
}

type runKey struct{}

// WithRun attaches run metadata to ctx. Refreshes without it get a fresh id and the
// request trigger.
func WithRun(ctx context.Context, meta RunMeta) context.Context {
	return context.WithValue(ctx, runKey{}, meta)
}

func runFromContext(ctx context.Context) RunMeta {
	meta, _ := ctx.Value(runKey{}).(RunMeta)
	if meta.ID == uuid.Nil {
		meta.ID = uuid.New()
	}
	if meta.Trigger == "" {
		meta.Trigger = workflow.TriggerRequest
	}
	return meta
}
