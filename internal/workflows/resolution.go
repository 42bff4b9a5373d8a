package workflows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"flowops/internal/logging"
	"flowops/internal/store"
	"flowops/internal/types"
)

// ApprovalDecision is an approver's verdict on a pending approval.
type ApprovalDecision struct {
	Approved      bool   `json:"approved"`
	Justification string `json:"justification,omitempty"`
}

// ResolveApproval records a decision. Deciding an approval twice fails with
// ErrAlreadyResolved. An approval resumes the run; a rejection cancels it.
func (s *Service) ResolveApproval(ctx context.Context, approvalID string, decision ApprovalDecision, actorID string) (*types.Approval, *types.Run, error) {
	return s.decideApproval(ctx, approvalID, decision, actorID, ErrAlreadyResolved)
}

// ResumeAfterApproval is the gate-release entry point used by callers that
// only carry the boolean decision. A non-pending approval fails with
// ErrApprovalNotPending.
func (s *Service) ResumeAfterApproval(ctx context.Context, approvalID string, approved bool, actorID string) (*types.Run, error) {
	_, run, err := s.decideApproval(ctx, approvalID, ApprovalDecision{Approved: approved}, actorID, ErrApprovalNotPending)
	return run, err
}

func (s *Service) decideApproval(ctx context.Context, approvalID string, decision ApprovalDecision, actorID string, notPending error) (*types.Approval, *types.Run, error) {
	approval, err := s.lookupApproval(ctx, approvalID)
	if err != nil {
		return nil, nil, err
	}
	if approval.Status != types.ApprovalStatusPending {
		return nil, nil, fmt.Errorf("%w: approval %s is %s", notPending, approval.ID, approval.Status)
	}
	unlock := s.locks.Lock(approval.RunID)
	defer unlock()

	status := types.ApprovalStatusRejected
	if decision.Approved {
		status = types.ApprovalStatusApproved
	}
	var (
		run    *types.Run
		before types.RunStatus
	)
	err = s.store.Update(ctx, func(tx *store.Tx) error {
		resolved, err := s.gate.Resolve(tx, approvalID, status, strings.TrimSpace(decision.Justification), actorID)
		if err != nil {
			if errors.Is(err, ErrAlreadyResolved) {
				return fmt.Errorf("%w: approval %s", notPending, approvalID)
			}
			return err
		}
		approval = resolved
		run, err = s.getRunTx(tx, approval.RunID)
		if err != nil {
			return err
		}
		before = run.Status
		if run.Status != types.RunStatusWaitingApproval {
			// The run moved on (cancelled or expired); the decision is still
			// recorded but does not change it.
			return nil
		}
		if !decision.Approved {
			reason := "approval rejected"
			if decision.Justification != "" {
				reason += ": " + strings.TrimSpace(decision.Justification)
			}
			if err := s.applyCancel(tx, run, reason); err != nil {
				return err
			}
			return tx.UpdateRun(run)
		}
		if req, ok, err := tx.GetCancelRequest(run.ID); err != nil {
			return err
		} else if ok {
			if err := s.applyCancel(tx, run, req.Reason); err != nil {
				return err
			}
			return tx.UpdateRun(run)
		}
		if err := transition(run, types.RunStatusRunning, s.clock()); err != nil {
			return err
		}
		return tx.UpdateRun(run)
	})
	if err != nil {
		return nil, nil, err
	}
	s.metrics.ApprovalResolved(string(approval.Status))
	s.logger.Info("approval_resolved",
		logging.F("approval_id", approval.ID),
		logging.F("run_id", run.ID),
		logging.F("status", approval.Status),
		logging.F("approver_id", actorID),
	)
	s.observe(before, &StepResult{Run: run})
	if run.Status != types.RunStatusRunning {
		return approval, run, nil
	}
	driven, err := s.driveLocked(ctx, run.ID)
	if err != nil {
		return approval, run, err
	}
	if driven != nil {
		run = driven
	}
	return approval, run, nil
}

// ExceptionResolution is an operator's repair of an exception.
type ExceptionResolution struct {
	ResolutionType types.ResolutionType `json:"resolutionType"`
	ResolutionData types.Record         `json:"resolutionData,omitempty"`
}

// ResolveException closes an exception. AUTO_REPAIR and MANUAL_FIX merge the
// resolution data into the run context and resume the run once nothing else
// is unresolved. Resolving twice fails with ErrAlreadyResolved.
func (s *Service) ResolveException(ctx context.Context, exceptionID string, resolution ExceptionResolution, actorID string) (*types.Exception, *types.Run, error) {
	return s.resolveException(ctx, exceptionID, resolution, actorID, ErrAlreadyResolved)
}

// ResumeAfterException resolves and resumes in one call. A closed exception
// fails with ErrExceptionNotOpen.
func (s *Service) ResumeAfterException(ctx context.Context, exceptionID string, resolution ExceptionResolution, actorID string) (*types.Run, error) {
	_, run, err := s.resolveException(ctx, exceptionID, resolution, actorID, ErrExceptionNotOpen)
	return run, err
}

func (s *Service) resolveException(ctx context.Context, exceptionID string, resolution ExceptionResolution, actorID string, notOpen error) (*types.Exception, *types.Run, error) {
	if !resolution.ResolutionType.Valid() {
		return nil, nil, fmt.Errorf("%w: resolution type %q", ErrValidation, resolution.ResolutionType)
	}
	exc, err := s.lookupException(ctx, exceptionID)
	if err != nil {
		return nil, nil, err
	}
	if !exc.Status.Unresolved() {
		return nil, nil, fmt.Errorf("%w: exception %s is %s", notOpen, exc.ID, exc.Status)
	}
	unlock := s.locks.Lock(exc.RunID)
	defer unlock()

	var (
		run    *types.Run
		before types.RunStatus
	)
	err = s.store.Update(ctx, func(tx *store.Tx) error {
		resolved, err := s.tracker.Resolve(tx, exceptionID, resolution.ResolutionType, resolution.ResolutionData.Clone(), actorID)
		if err != nil {
			if errors.Is(err, ErrAlreadyResolved) {
				return fmt.Errorf("%w: exception %s", notOpen, exceptionID)
			}
			return err
		}
		exc = resolved
		run, err = s.getRunTx(tx, exc.RunID)
		if err != nil {
			return err
		}
		before = run.Status
		if !resolution.ResolutionType.Resumes() || run.Status != types.RunStatusFailed {
			return nil
		}
		if len(resolution.ResolutionData) > 0 {
			run.Checkpoint.Context = run.Checkpoint.Context.Merge(resolution.ResolutionData)
		}
		open, err := tx.ListExceptions(store.ExceptionFilter{RunID: run.ID, Unresolved: true})
		if err != nil {
			return err
		}
		if len(open) > 0 {
			run.UpdatedAt = s.clock()
			return tx.UpdateRun(run)
		}
		if req, ok, err := tx.GetCancelRequest(run.ID); err != nil {
			return err
		} else if ok {
			if err := s.applyCancel(tx, run, req.Reason); err != nil {
				return err
			}
			return tx.UpdateRun(run)
		}
		if err := transition(run, types.RunStatusRunning, s.clock()); err != nil {
			return err
		}
		return tx.UpdateRun(run)
	})
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info("exception_resolved",
		logging.F("exception_id", exc.ID),
		logging.F("run_id", run.ID),
		logging.F("resolution", exc.ResolutionType),
		logging.F("resolved_by", actorID),
	)
	s.observe(before, &StepResult{Run: run})
	if run.Status != types.RunStatusRunning {
		return exc, run, nil
	}
	driven, err := s.driveLocked(ctx, run.ID)
	if err != nil {
		return exc, run, err
	}
	if driven != nil {
		run = driven
	}
	return exc, run, nil
}

// TriageException marks an open exception as being worked on.
func (s *Service) TriageException(ctx context.Context, exceptionID, assigneeID string) (*types.Exception, error) {
	var exc *types.Exception
	err := s.store.Update(ctx, func(tx *store.Tx) error {
		var err error
		exc, err = s.tracker.MarkInProgress(tx, exceptionID, assigneeID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return exc, nil
}

// Cancel stops a run. When the run is mid-advance the request is recorded and
// honored at the advance's next commit; applied reports which happened.
func (s *Service) Cancel(ctx context.Context, runID, reason, actorID string) (*types.Run, bool, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled by operator"
	}
	unlock, ok := s.locks.TryLock(runID)
	if !ok {
		run, err := s.requestCancel(ctx, runID, reason, actorID)
		return run, false, err
	}
	defer unlock()

	var (
		run    *types.Run
		before types.RunStatus
	)
	err := s.store.Update(ctx, func(tx *store.Tx) error {
		var err error
		run, err = s.getRunTx(tx, runID)
		if err != nil {
			return err
		}
		before = run.Status
		if run.Status.Terminal() {
			return fmt.Errorf("%w: run %s is %s", ErrRunTerminal, run.ID, run.Status)
		}
		if run.Status == types.RunStatusFailed {
			open, err := tx.ListExceptions(store.ExceptionFilter{RunID: run.ID, Unresolved: true})
			if err != nil {
				return err
			}
			if len(open) > 0 {
				return fmt.Errorf("%w: run %s has %d open", ErrRunHasOpenExceptions, run.ID, len(open))
			}
		}
		if err := s.applyCancel(tx, run, reason); err != nil {
			return err
		}
		return tx.UpdateRun(run)
	})
	if err != nil {
		return nil, false, err
	}
	s.logger.Info("run_cancelled",
		logging.F("run_id", run.ID),
		logging.F("actor_id", actorID),
		logging.F("reason", reason),
	)
	s.observe(before, &StepResult{Run: run})
	return run, true, nil
}

func (s *Service) requestCancel(ctx context.Context, runID, reason, actorID string) (*types.Run, error) {
	var run *types.Run
	err := s.store.Update(ctx, func(tx *store.Tx) error {
		var err error
		run, err = s.getRunTx(tx, runID)
		if err != nil {
			return err
		}
		if run.Status.Terminal() {
			return fmt.Errorf("%w: run %s is %s", ErrRunTerminal, run.ID, run.Status)
		}
		req := &types.CancelRequest{
			RunID:       runID,
			Reason:      reason,
			RequestedBy: actorID,
			RequestedAt: s.clock(),
		}
		if err := tx.PutCancelRequest(req); err != nil {
			return err
		}
		run.CancelRequestedAt = &req.RequestedAt
		run.CancelReason = req.Reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("run_cancel_requested",
		logging.F("run_id", runID),
		logging.F("actor_id", actorID),
	)
	return run, nil
}

// ExpireApprovals closes pending approvals past their deadline and cancels
// the runs waiting on them.
func (s *Service) ExpireApprovals(ctx context.Context) (int, error) {
	var pending []*types.Approval
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		pending, err = tx.ListApprovals(store.ApprovalFilter{Status: types.ApprovalStatusPending})
		return err
	})
	if err != nil {
		return 0, err
	}
	now := s.clock()
	expired := 0
	for _, approval := range pending {
		if !s.gate.Expired(approval, now) {
			continue
		}
		ok, err := s.expireApproval(ctx, approval.ID, approval.RunID)
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (s *Service) expireApproval(ctx context.Context, approvalID, runID string) (bool, error) {
	unlock := s.locks.Lock(runID)
	defer unlock()
	var (
		run    *types.Run
		before types.RunStatus
	)
	err := s.store.Update(ctx, func(tx *store.Tx) error {
		if _, err := s.gate.Resolve(tx, approvalID, types.ApprovalStatusExpired, "approval expired", ""); err != nil {
			return err
		}
		var err error
		run, err = s.getRunTx(tx, runID)
		if err != nil {
			return err
		}
		before = run.Status
		if run.Status != types.RunStatusWaitingApproval {
			return nil
		}
		if err := s.applyCancel(tx, run, "approval expired"); err != nil {
			return err
		}
		return tx.UpdateRun(run)
	})
	if errors.Is(err, ErrAlreadyResolved) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.metrics.ApprovalResolved(string(types.ApprovalStatusExpired))
	s.logger.Info("approval_expired",
		logging.F("approval_id", approvalID),
		logging.F("run_id", runID),
	)
	s.observe(before, &StepResult{Run: run})
	return true, nil
}

// RunApprovalSweeper expires approvals every interval until ctx ends.
func (s *Service) RunApprovalSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n, err := s.ExpireApprovals(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Warn("approval_sweep_failed", logging.F("error", err))
			} else if n > 0 {
				s.logger.Info("approval_sweep", logging.F("expired", n))
			}
		}
	}
}

func (s *Service) lookupApproval(ctx context.Context, approvalID string) (*types.Approval, error) {
	var approval *types.Approval
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		approval, err = s.gate.get(tx, approvalID)
		return err
	})
	return approval, err
}

func (s *Service) lookupException(ctx context.Context, exceptionID string) (*types.Exception, error) {
	var exc *types.Exception
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		exc, err = s.tracker.get(tx, exceptionID)
		return err
	})
	return exc, err
}
