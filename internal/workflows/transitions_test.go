package workflows

import (
	"errors"
	"testing"
	"time"

	"flowops/internal/types"
)

func TestTransitionTable(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, from := range types.RunStatuses {
		for _, to := range types.RunStatuses {
			run := &types.Run{ID: "run-1", Status: from}
			err := transition(run, to, now)
			allowed := canTransition(from, to)
			switch {
			case from.Terminal():
				if !errors.Is(err, ErrRunTerminal) {
					t.Fatalf("%s -> %s: expected ErrRunTerminal, got %v", from, to, err)
				}
				if run.Status != from {
					t.Fatalf("%s -> %s: terminal run changed to %s", from, to, run.Status)
				}
			case allowed:
				if err != nil {
					t.Fatalf("%s -> %s: unexpected error %v", from, to, err)
				}
				if run.Status != to {
					t.Fatalf("%s -> %s: status is %s", from, to, run.Status)
				}
			default:
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("%s -> %s: expected ErrInvalidTransition, got %v", from, to, err)
				}
			}
		}
	}
}

func TestTransitionStampsLifecycle(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	run := &types.Run{ID: "run-1", Status: types.RunStatusPending}
	if err := transition(run, types.RunStatusRunning, start); err != nil {
		t.Fatalf("start: %v", err)
	}
	if run.StartedAt == nil || !run.StartedAt.Equal(start) {
		t.Fatalf("expected startedAt %v, got %v", start, run.StartedAt)
	}
	if err := transition(run, types.RunStatusFailed, start.Add(time.Minute)); err != nil {
		t.Fatalf("fail: %v", err)
	}
	run.ErrorMessage = "boom"
	if err := transition(run, types.RunStatusRunning, start.Add(2*time.Minute)); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !run.StartedAt.Equal(start) {
		t.Fatalf("resume must keep the original startedAt")
	}
	if run.ErrorMessage != "" {
		t.Fatalf("resume should clear the error message")
	}
	done := start.Add(3 * time.Minute)
	if err := transition(run, types.RunStatusCompleted, done); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if run.CompletedAt == nil || !run.CompletedAt.Equal(done) {
		t.Fatalf("expected completedAt %v, got %v", done, run.CompletedAt)
	}
}
