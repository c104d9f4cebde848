package workflow

import "testing"

func TestCanTransition(t *testing.T) {
	if !CanTransition(RunStatusPending, RunStatusRunning) {
		t.Fatalf("expected pending -> running to be allowed")
	}
	if !CanTransition(" Running ", RunStatusDone) {
		t.Fatalf("expected normalized running -> done to be allowed")
	}
	if CanTransition(RunStatusDone, RunStatusRunning) {
		t.Fatalf("expected done -> running to be blocked")
	}
	if CanTransition(RunStatusPending, RunStatusDone) {
		t.Fatalf("expected pending -> done to be blocked")
	}
}

func TestEventTypeForTransition(t *testing.T) {
	if ev := EventTypeForTransition(RunStatusRunning, RunStatusFailed); ev != RunEventFailed {
		t.Fatalf("expected %q, got %q", RunEventFailed, ev)
	}
	if ev := EventTypeForTransition(RunStatusDone, RunStatusDone); ev != "" {
		t.Fatalf("expected no event for a no-op transition, got %q", ev)
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range AllRunStatuses() {
		want := s == RunStatusDone || s == RunStatusFailed
		if IsTerminal(s) != want {
			t.Fatalf("IsTerminal(%q) = %v", s, !want)
		}
	}
}
