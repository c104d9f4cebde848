package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewRefreshEnvelope(t *testing.T) {
	started := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	ev := RefreshCompleted{
		RunID:      uuid.New(),
		Kind:       "timecards",
		Status:     "done",
		Inserted:   12,
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
	}
	env, err := NewRefreshEnvelope(ev)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if env.AggregateID != ev.RunID || env.EventType != EventRefreshCompleted || env.EventID == uuid.Nil {
		t.Fatalf("unexpected envelope %+v", env)
	}
	var back RefreshCompleted
	if err := json.Unmarshal(env.Payload, &back); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if back.Inserted != 12 || back.Kind != "timecards" {
		t.Fatalf("unexpected payload %+v", back)
	}
	if ev.Duration() != 3*time.Second {
		t.Fatalf("unexpected duration %s", ev.Duration())
	}
}
