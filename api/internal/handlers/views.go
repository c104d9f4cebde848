package handlers

import (
	"time"

	"github.com/google/uuid"

	"zcc-reporting/api/internal/models"
)

// credentialView never carries the client secret.
type credentialView struct {
	ID        int64     `json:"id"`
	AccountID string    `json:"account_id"`
	ClientID  string    `json:"client_id"`
	HasSecret bool      `json:"has_secret"`
	Primary   bool      `json:"primary"`
	TimeZone  string    `json:"time_zone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func viewCredential(c models.ZoomCredential) credentialView {
	return credentialView{
		ID:        c.ID,
		AccountID: c.AccountID,
		ClientID:  c.ClientID,
		HasSecret: c.ClientSecret != "",
		Primary:   c.IsPrimary,
		TimeZone:  c.TimeZone,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

type runView struct {
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
	StopReason  string     `json:"stop_reason,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

func viewRun(r models.RefreshRun) runView {
	return runView{
		RunID:       r.RunID,
		Kind:        r.Kind,
		Trigger:     r.Trigger,
		From:        r.RangeFrom,
		To:          r.RangeTo,
		Status:      r.Status,
		Pages:       r.Pages,
		Fetched:     r.Fetched,
		Inserted:    r.Inserted,
		Skipped:     r.Skipped,
		FailedPages: r.FailedPages,
		Deleted:     r.Deleted,
		StopReason:  r.StopReason,
		Error:       r.Error,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
	}
}
