package mqx

import (
	"context"
	"encoding/json"

	"zcc-reporting/shared/events"
)

// PublishRefresh emits a refresh-completed envelope keyed by resource kind, so runs of one
// kind stay ordered within a partition.
func (p *Producer) PublishRefresh(ctx context.Context, ev events.RefreshCompleted) error {
	env, err := events.NewRefreshEnvelope(ev)
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return p.Publish(ctx, events.TopicRefreshCompleted, []byte(ev.Kind), body, map[string]string{
		"event_type": env.EventType,
		"event_id":   env.EventID.String(),
	})
}
