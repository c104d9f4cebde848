package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Envelope struct {
	EventID       uuid.UUID       `json:"event_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

const TopicRefreshCompleted = "reports.refresh.completed"

const (
	AggregateRefreshRun   = "refresh_run"
	EventRefreshCompleted = "refresh_completed"
)

// RefreshCompleted summarizes one finished refresh run of either resource.
type RefreshCompleted struct {
	RunID       uuid.UUID  `json:"run_id"`
	Kind        string     `json:"kind"`
	Trigger     string     `json:"trigger"`
	From        *time.Time `json:"from,omitempty"`
	To          *time.Time `json:"to,omitempty"`
	Status      string     `json:"status"`
	Pages       int        `json:"pages"`
	Fetched     int        `json:"fetched"`
	Inserted    int64      `json:"inserted"`
	Skipped     int        `json:"skipped"`
	FailedPages int        `json:"failed_pages"`
	Deleted     int64      `json:"deleted"`
	StopReason  string     `json:"stop_reason"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  time.Time  `json:"finished_at"`
}

func (r RefreshCompleted) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

func NewRefreshEnvelope(ev RefreshCompleted) (Envelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.New(),
		OccurredAt:    ev.FinishedAt.UTC(),
		AggregateType: AggregateRefreshRun,
		AggregateID:   ev.RunID,
		EventType:     EventRefreshCompleted,
		Payload:       payload,
	}, nil
}
