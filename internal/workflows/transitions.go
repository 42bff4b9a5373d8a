package workflows

import (
	"fmt"
	"time"

	"flowops/internal/types"
)

var allowedTransitions = map[types.RunStatus][]types.RunStatus{
	types.RunStatusPending: {
		types.RunStatusRunning,
		types.RunStatusCancelled,
	},
	types.RunStatusRunning: {
		types.RunStatusWaitingApproval,
		types.RunStatusFailed,
		types.RunStatusCompleted,
		types.RunStatusCancelled,
	},
	types.RunStatusWaitingApproval: {
		types.RunStatusRunning,
		types.RunStatusCancelled,
	},
	types.RunStatusFailed: {
		types.RunStatusRunning,
		types.RunStatusCancelled,
	},
}

func canTransition(from, to types.RunStatus) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// transition moves run to status, stamping lifecycle timestamps. It does not
// persist the run.
func transition(run *types.Run, to types.RunStatus, now time.Time) error {
	from := run.Status
	if from.Terminal() {
		return fmt.Errorf("%w: run %s is %s", ErrRunTerminal, run.ID, from)
	}
	if !canTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	run.Status = to
	run.UpdatedAt = now
	switch to {
	case types.RunStatusRunning:
		if run.StartedAt == nil {
			started := now
			run.StartedAt = &started
		}
		run.ErrorMessage = ""
	case types.RunStatusCompleted, types.RunStatusCancelled:
		completed := now
		run.CompletedAt = &completed
	}
	return nil
}
