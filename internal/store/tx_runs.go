package store

import (
	"fmt"
	"sort"
	"strings"

	"flowops/internal/types"
)

type RunFilter struct {
	Status     types.RunStatus
	WorkflowID string
}

func (tx *Tx) GetRun(id string) (*types.Run, error) {
	var run types.Run
	ok, err := tx.getJSON(bucketRuns, id, &run)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("run", id)
	}
	return &run, nil
}

func (tx *Tx) FindRunByCorrelationID(correlationID string) (*types.Run, error) {
	id, ok, err := tx.getRaw(bucketRunCorrelation, correlationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("run with correlation id", correlationID)
	}
	return tx.GetRun(id)
}

// InsertRun stores a new run at version 1. The correlation id must be unused.
func (tx *Tx) InsertRun(run *types.Run) error {
	if run == nil || strings.TrimSpace(run.ID) == "" {
		return fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(run.CorrelationID) == "" {
		return fmt.Errorf("run correlation id is required")
	}
	if _, exists, err := tx.getRaw(bucketRunCorrelation, run.CorrelationID); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("%w: %s", ErrDuplicateCorrelationID, run.CorrelationID)
	}
	run.Version = 1
	if err := tx.putJSON(bucketRuns, run.ID, run); err != nil {
		return err
	}
	return tx.putRaw(bucketRunCorrelation, run.CorrelationID, run.ID)
}

// UpdateRun writes run if its version matches the stored one and bumps it.
func (tx *Tx) UpdateRun(run *types.Run) error {
	if run == nil {
		return fmt.Errorf("run is required")
	}
	current, err := tx.GetRun(run.ID)
	if err != nil {
		return err
	}
	if current.Version != run.Version {
		return fmt.Errorf("%w: run %s at version %d, write based on %d", ErrVersionConflict, run.ID, current.Version, run.Version)
	}
	run.Version++
	if err := tx.putJSON(bucketRuns, run.ID, run); err != nil {
		run.Version--
		return err
	}
	return nil
}

func (tx *Tx) ListRuns(filter RunFilter) ([]*types.Run, error) {
	out := make([]*types.Run, 0)
	err := scan(tx, bucketRuns, "", func(run *types.Run) error {
		if filter.Status != "" && run.Status != filter.Status {
			return nil
		}
		if filter.WorkflowID != "" && run.WorkflowID != filter.WorkflowID {
			return nil
		}
		out = append(out, run)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func stepKey(runID string, seq int) string {
	return fmt.Sprintf("%s/%06d", runID, seq)
}

func (tx *Tx) PutStep(step *types.RunStep) error {
	if step == nil || step.RunID == "" || step.Seq <= 0 {
		return fmt.Errorf("run step requires run id and sequence")
	}
	return tx.putJSON(bucketRunSteps, stepKey(step.RunID, step.Seq), step)
}

// ListSteps returns the steps of a run ordered by sequence.
func (tx *Tx) ListSteps(runID string) ([]*types.RunStep, error) {
	out := make([]*types.RunStep, 0)
	err := scan(tx, bucketRunSteps, runID+"/", func(step *types.RunStep) error {
		out = append(out, step)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (tx *Tx) NextStepSeq(runID string) (int, error) {
	steps, err := tx.ListSteps(runID)
	if err != nil {
		return 0, err
	}
	if len(steps) == 0 {
		return 1, nil
	}
	return steps[len(steps)-1].Seq + 1, nil
}

func (tx *Tx) GetCancelRequest(runID string) (*types.CancelRequest, bool, error) {
	var req types.CancelRequest
	ok, err := tx.getJSON(bucketCancelRequests, runID, &req)
	if err != nil || !ok {
		return nil, false, err
	}
	return &req, true, nil
}

func (tx *Tx) PutCancelRequest(req *types.CancelRequest) error {
	if req == nil || req.RunID == "" {
		return fmt.Errorf("cancel request requires run id")
	}
	return tx.putJSON(bucketCancelRequests, req.RunID, req)
}

func (tx *Tx) DeleteCancelRequest(runID string) error {
	return tx.delete(bucketCancelRequests, runID)
}
