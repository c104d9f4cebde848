package workflow

import "strings"

// Refresh run lifecycle: pending -> running -> done|failed.
const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

const (
	RunEventQueued    = "refresh_queued"
	RunEventStarted   = "refresh_started"
	RunEventCompleted = "refresh_completed"
	RunEventFailed    = "refresh_failed"
)

// Triggers record what started a run.
const (
	TriggerRequest  = "request"
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
	TriggerTask     = "task"
)

var runTransitions = map[string]map[string]string{
	RunStatusPending: {
		RunStatusRunning: RunEventStarted,
		RunStatusFailed:  RunEventFailed,
	},
	RunStatusRunning: {
		RunStatusDone:   RunEventCompleted,
		RunStatusFailed: RunEventFailed,
	},
}

func NormalizeRunStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

func CanTransition(fromStatus string, toStatus string) bool {
	fromStatus = NormalizeRunStatus(fromStatus)
	toStatus = NormalizeRunStatus(toStatus)
	if fromStatus == toStatus {
		return true
	}
	next := runTransitions[fromStatus]
	if next == nil {
		return false
	}
	_, ok := next[toStatus]
	return ok
}

func EventTypeForTransition(fromStatus string, toStatus string) string {
	fromStatus = NormalizeRunStatus(fromStatus)
	toStatus = NormalizeRunStatus(toStatus)
	if fromStatus == toStatus {
		return ""
	}
	next := runTransitions[fromStatus]
	if next == nil {
		return ""
	}
	return next[toStatus]
}

func IsTerminal(status string) bool {
	switch NormalizeRunStatus(status) {
	case RunStatusDone, RunStatusFailed:
		return true
	}
	return false
}

func AllRunStatuses() []string {
	return []string{
		RunStatusPending,
		RunStatusRunning,
		RunStatusDone,
		RunStatusFailed,
	}
}
