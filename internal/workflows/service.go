package workflows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"flowops/internal/logging"
	"flowops/internal/store"
	"flowops/internal/types"
)

const (
	defaultMaxStepAttempts = 3
	maxDriveIterations     = 256
)

// StepResult describes what one advance did to a run.
type StepResult struct {
	Run       *types.Run       `json:"run"`
	Step      *types.RunStep   `json:"step,omitempty"`
	Approval  *types.Approval  `json:"approval,omitempty"`
	Exception *types.Exception `json:"exception,omitempty"`
}

// Service is the run state machine. It owns every run mutation and commits
// each transition together with its step, approval and exception records.
type Service struct {
	store           store.Store
	registry        *Registry
	executor        *Executor
	gate            *ApprovalGate
	tracker         *ExceptionTracker
	locks           RunLockManager
	metrics         *Metrics
	logger          logging.Logger
	now             func() time.Time
	maxStepAttempts int
	approvalTTL     time.Duration
}

type ServiceOption func(*Service)

func WithRegistry(registry *Registry) ServiceOption {
	return func(s *Service) {
		if registry != nil {
			s.registry = registry
		}
	}
}

func WithExecutor(executor *Executor) ServiceOption {
	return func(s *Service) {
		if executor != nil {
			s.executor = executor
		}
	}
}

func WithLockManager(locks RunLockManager) ServiceOption {
	return func(s *Service) {
		if locks != nil {
			s.locks = locks
		}
	}
}

func WithMetrics(metrics *Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = metrics
	}
}

func WithLogger(logger logging.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMaxStepAttempts sets how many times a failing step runs before the run
// fails. Values below one are ignored.
func WithMaxStepAttempts(attempts int) ServiceOption {
	return func(s *Service) {
		if attempts > 0 {
			s.maxStepAttempts = attempts
		}
	}
}

// WithApprovalTTL sets how long an approval may stay pending. Zero disables
// expiry.
func WithApprovalTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl >= 0 {
			s.approvalTTL = ttl
		}
	}
}

func NewService(st store.Store, opts ...ServiceOption) *Service {
	registry, _ := NewRegistry(BuiltinDefinitions()...)
	s := &Service{
		store:           st,
		registry:        registry,
		executor:        NewExecutor(),
		locks:           NewPerRunLockManager(),
		logger:          logging.Nop(),
		now:             time.Now,
		maxStepAttempts: defaultMaxStepAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.gate = NewApprovalGate(s.approvalTTL, s.now)
	s.tracker = NewExceptionTracker(s.now)
	return s
}

func (s *Service) Registry() *Registry {
	return s.registry
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// CreateRun registers a PENDING run for an event envelope. Redelivery of a
// correlation id returns the existing run with created=false.
func (s *Service) CreateRun(ctx context.Context, env types.EventEnvelope, actorID string) (*types.Run, bool, error) {
	meta := env.Meta
	meta.CorrelationID = strings.TrimSpace(meta.CorrelationID)
	meta.EventType = strings.TrimSpace(meta.EventType)
	meta.ObjectID = strings.TrimSpace(meta.ObjectID)
	switch {
	case meta.CorrelationID == "":
		return nil, false, fmt.Errorf("%w: meta.correlationId is required", ErrValidation)
	case meta.EventType == "":
		return nil, false, fmt.Errorf("%w: meta.eventType is required", ErrValidation)
	case meta.ObjectID == "":
		return nil, false, fmt.Errorf("%w: meta.objectId is required", ErrValidation)
	}
	var (
		def WorkflowDefinition
		ok  bool
	)
	if id := strings.TrimSpace(meta.WorkflowID); id != "" {
		def, ok = s.registry.Get(id)
	} else {
		def, ok = s.registry.Resolve(meta.EventType, meta.PropertyName)
	}
	if !ok {
		return nil, false, fmt.Errorf("%w: no workflow for event %s", ErrWorkflowNotFound, meta.EventType)
	}

	now := s.clock()
	var (
		run     *types.Run
		created bool
	)
	err := s.store.Update(ctx, func(tx *store.Tx) error {
		existing, err := tx.FindRunByCorrelationID(meta.CorrelationID)
		if err == nil {
			run = existing
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		run = &types.Run{
			ID:            uuid.NewString(),
			CorrelationID: meta.CorrelationID,
			WorkflowID:    def.ID,
			Status:        types.RunStatusPending,
			EventType:     meta.EventType,
			ObjectType:    meta.ObjectType,
			ObjectID:      meta.ObjectID,
			AccountID:     meta.AccountID,
			ContactID:     meta.ContactID,
			DealID:        meta.DealID,
			CreatedByID:   actorID,
			Payload:       env.Payload.Clone(),
			Checkpoint:    types.Checkpoint{Context: types.Record{}},
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		created = true
		return tx.InsertRun(run)
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		s.metrics.RunCreated(def.ID)
		s.logger.Info("run_created",
			logging.F("run_id", run.ID),
			logging.F("workflow", def.ID),
			logging.F("correlation_id", run.CorrelationID),
		)
	} else {
		s.logger.Debug("run_intake_duplicate",
			logging.F("run_id", run.ID),
			logging.F("correlation_id", run.CorrelationID),
		)
	}
	return run, created, nil
}

// Advance executes the next step of a run. A concurrent advance of the same
// run fails with ErrConcurrentAdvance instead of waiting.
func (s *Service) Advance(ctx context.Context, runID string) (*StepResult, error) {
	unlock, ok := s.locks.TryLock(runID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConcurrentAdvance, runID)
	}
	defer unlock()
	return s.advanceLocked(ctx, runID)
}

// Process drives a run until it leaves RUNNING, waiting for the run's lock.
func (s *Service) Process(ctx context.Context, runID string) (*types.Run, error) {
	unlock := s.locks.Lock(runID)
	defer unlock()
	run, err := s.loadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != types.RunStatusPending && run.Status != types.RunStatusRunning {
		return run, nil
	}
	return s.driveLocked(ctx, runID)
}

func (s *Service) driveLocked(ctx context.Context, runID string) (*types.Run, error) {
	var last *types.Run
	for i := 0; i < maxDriveIterations; i++ {
		res, err := s.advanceLocked(ctx, runID)
		if err != nil {
			return last, err
		}
		last = res.Run
		if last.Status != types.RunStatusRunning {
			return last, nil
		}
	}
	return last, nil
}

func (s *Service) advanceLocked(ctx context.Context, runID string) (*StepResult, error) {
	var (
		run      *types.Run
		def      WorkflowDefinition
		step     *types.RunStep
		result   = &StepResult{}
		finished bool
		before   types.RunStatus
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
		if run.Status != types.RunStatusPending && run.Status != types.RunStatusRunning {
			return fmt.Errorf("%w: cannot advance a %s run", ErrInvalidTransition, run.Status)
		}
		result.Run = run
		if req, ok, err := tx.GetCancelRequest(run.ID); err != nil {
			return err
		} else if ok {
			finished = true
			if err := s.applyCancel(tx, run, req.Reason); err != nil {
				return err
			}
			return tx.UpdateRun(run)
		}
		if run.Status == types.RunStatusPending {
			if err := transition(run, types.RunStatusRunning, s.clock()); err != nil {
				return err
			}
		}
		var ok bool
		def, ok = s.registry.Get(run.WorkflowID)
		if !ok {
			finished = true
			exc, err := s.failRun(tx, run, ExceptionInput{
				Type:        types.ExceptionUnknown,
				Title:       "Workflow definition missing",
				Description: fmt.Sprintf("workflow %q is not registered", run.WorkflowID),
				ErrorCode:   KindNotFound,
			})
			if err != nil {
				return err
			}
			result.Exception = exc
			return tx.UpdateRun(run)
		}
		if run.Checkpoint.PolicyCheckPending {
			approval, exc, err := s.applyPolicies(tx, run, run.Checkpoint.LastCompletedStep)
			if err != nil {
				return err
			}
			if run.Status != types.RunStatusRunning {
				finished = true
				result.Approval, result.Exception = approval, exc
				return tx.UpdateRun(run)
			}
		}
		if run.Checkpoint.NextStep >= len(def.Steps) {
			finished = true
			if err := transition(run, types.RunStatusCompleted, s.clock()); err != nil {
				return err
			}
			return tx.UpdateRun(run)
		}
		if err := s.failInterruptedSteps(tx, run.ID); err != nil {
			return err
		}
		seq, err := tx.NextStepSeq(run.ID)
		if err != nil {
			return err
		}
		started := s.clock()
		step = &types.RunStep{
			ID:        uuid.NewString(),
			RunID:     run.ID,
			Seq:       seq,
			StepName:  def.Steps[run.Checkpoint.NextStep],
			Status:    types.StepStatusRunning,
			Input:     stepInput(run),
			StartedAt: &started,
		}
		if err := tx.PutStep(step); err != nil {
			return err
		}
		run.UpdatedAt = started
		return tx.UpdateRun(run)
	})
	if err != nil {
		return nil, err
	}
	if finished {
		s.observe(before, result)
		return result, nil
	}
	s.observe(before, &StepResult{Run: run})

	output, attempts, execErr := s.executeWithRetry(ctx, run.ID, step.StepName, step.Input)

	// The step has run; its outcome is committed even when the caller has gone.
	commitCtx := context.WithoutCancel(ctx)
	before = run.Status
	result = &StepResult{Run: run, Step: step}
	err = s.store.Update(commitCtx, func(tx *store.Tx) error {
		completed := s.clock()
		step.RetryCount = attempts - 1
		step.CompletedAt = &completed
		req, cancelRequested, err := tx.GetCancelRequest(run.ID)
		if err != nil {
			return err
		}
		if execErr != nil {
			step.Status = types.StepStatusFailed
			step.ErrorMessage = execErr.Error()
			if err := tx.PutStep(step); err != nil {
				return err
			}
			if cancelRequested {
				if err := s.applyCancel(tx, run, req.Reason); err != nil {
					return err
				}
				return tx.UpdateRun(run)
			}
			exc, err := s.failRun(tx, run, ExceptionInput{
				Type:        ClassifyFailure(execErr),
				Title:       fmt.Sprintf("Step %s failed", step.StepName),
				Description: execErr.Error(),
				ErrorCode:   stepErrorCode(execErr),
				StepName:    step.StepName,
				Metadata:    types.Record{"attempts": types.Number(float64(attempts))},
			})
			if err != nil {
				return err
			}
			result.Exception = exc
			return tx.UpdateRun(run)
		}

		step.Status = types.StepStatusCompleted
		step.Output = output
		if err := tx.PutStep(step); err != nil {
			return err
		}
		run.Checkpoint.NextStep++
		run.Checkpoint.LastCompletedStep = step.StepName
		run.Checkpoint.Context = run.Checkpoint.Context.Merge(output)
		run.Checkpoint.PolicyCheckPending = true
		run.UpdatedAt = completed
		if cancelRequested {
			if err := s.applyCancel(tx, run, req.Reason); err != nil {
				return err
			}
			return tx.UpdateRun(run)
		}
		approval, exc, err := s.applyPolicies(tx, run, step.StepName)
		if err != nil {
			return err
		}
		result.Approval, result.Exception = approval, exc
		if run.Status == types.RunStatusRunning && run.Checkpoint.NextStep >= len(def.Steps) {
			if err := transition(run, types.RunStatusCompleted, s.clock()); err != nil {
				return err
			}
		}
		return tx.UpdateRun(run)
	})
	if err != nil {
		return nil, err
	}
	s.observe(before, result)
	return result, nil
}

func (s *Service) executeWithRetry(ctx context.Context, runID, stepName string, input types.Record) (types.Record, int, error) {
	for attempt := 1; ; attempt++ {
		started := time.Now()
		out, err := s.executor.Execute(ctx, stepName, input)
		if err == nil {
			s.metrics.StepExecuted(stepName, "success", time.Since(started))
			return out, attempt, nil
		}
		s.metrics.StepExecuted(stepName, "failure", time.Since(started))
		if attempt >= s.maxStepAttempts || !IsRetryable(err) || ctx.Err() != nil {
			s.logger.Warn("step_failed",
				logging.F("run_id", runID),
				logging.F("step", stepName),
				logging.F("attempts", attempt),
				logging.F("error", err),
			)
			return nil, attempt, err
		}
		s.logger.Debug("step_retry",
			logging.F("run_id", runID),
			logging.F("step", stepName),
			logging.F("attempt", attempt),
			logging.F("error", err),
		)
	}
}

// applyPolicies evaluates effective policies after a step. It may gate the
// run, fail it for a malformed policy, or clear the pending check.
func (s *Service) applyPolicies(tx *store.Tx, run *types.Run, stepName string) (*types.Approval, *types.Exception, error) {
	policies, err := s.effectivePolicies(tx)
	if err != nil {
		return nil, nil, err
	}
	skip, err := approvedPolicyIDs(tx, run.ID)
	if err != nil {
		return nil, nil, err
	}
	decision, bad, evalErr := SelectGatingPolicy(policies, PolicyContext(run), skip)
	if evalErr != nil {
		policyID := ""
		if bad != nil {
			policyID = bad.ID
		}
		exc, err := s.failRun(tx, run, ExceptionInput{
			Type:        types.ExceptionBusinessRuleViolation,
			Title:       "Policy evaluation failed",
			Description: evalErr.Error(),
			ErrorCode:   KindInvalidPolicyDefinition,
			StepName:    stepName,
			PolicyID:    policyID,
		})
		if err != nil {
			return nil, nil, err
		}
		run.ErrorMessage = fmt.Sprintf("policy %s: %v", policyID, evalErr)
		return nil, exc, nil
	}
	run.Checkpoint.PolicyCheckPending = false
	if decision == nil {
		return nil, nil, nil
	}
	approval, err := s.gate.Open(tx, run, decision, stepName)
	if err != nil {
		return nil, nil, err
	}
	if err := transition(run, types.RunStatusWaitingApproval, s.clock()); err != nil {
		return nil, nil, err
	}
	return approval, nil, nil
}

func (s *Service) effectivePolicies(tx *store.Tx) ([]*types.Policy, error) {
	active, err := tx.ListPolicies(store.PolicyFilter{ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	now := s.clock()
	out := active[:0]
	for _, p := range active {
		if p.EffectiveAt(now) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Service) failRun(tx *store.Tx, run *types.Run, in ExceptionInput) (*types.Exception, error) {
	if err := transition(run, types.RunStatusFailed, s.clock()); err != nil {
		return nil, err
	}
	run.ErrorMessage = in.Description
	return s.tracker.Open(tx, run, in)
}

// applyCancel moves run to CANCELLED and closes its pending approvals. The
// caller persists the run.
func (s *Service) applyCancel(tx *store.Tx, run *types.Run, reason string) error {
	if err := transition(run, types.RunStatusCancelled, s.clock()); err != nil {
		return err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled"
	}
	run.ErrorMessage = reason
	run.CancelReason = reason
	run.CancelRequestedAt = nil
	pending, err := tx.ListApprovals(store.ApprovalFilter{RunID: run.ID, Status: types.ApprovalStatusPending})
	if err != nil {
		return err
	}
	for _, approval := range pending {
		if _, err := s.gate.Resolve(tx, approval.ID, types.ApprovalStatusExpired, "run cancelled: "+reason, ""); err != nil {
			return err
		}
	}
	return tx.DeleteCancelRequest(run.ID)
}

// failInterruptedSteps closes RUNNING steps left behind by a crashed advance.
func (s *Service) failInterruptedSteps(tx *store.Tx, runID string) error {
	steps, err := tx.ListSteps(runID)
	if err != nil {
		return err
	}
	now := s.clock()
	for _, step := range steps {
		if step.Status != types.StepStatusRunning {
			continue
		}
		step.Status = types.StepStatusFailed
		step.ErrorMessage = "interrupted before completion"
		step.CompletedAt = &now
		if err := tx.PutStep(step); err != nil {
			return err
		}
	}
	return nil
}

// observe emits metrics and logs for a committed advance.
func (s *Service) observe(before types.RunStatus, res *StepResult) {
	if res == nil || res.Run == nil {
		return
	}
	after := res.Run.Status
	if before != after {
		s.metrics.RunTransition(string(before), string(after))
		s.logger.Info("run_transition",
			logging.F("run_id", res.Run.ID),
			logging.F("from", before),
			logging.F("to", after),
		)
	}
	if res.Approval != nil {
		s.metrics.ApprovalOpened(string(res.Approval.Type), string(res.Approval.RiskLevel))
		s.logger.Info("approval_opened",
			logging.F("run_id", res.Run.ID),
			logging.F("approval_id", res.Approval.ID),
			logging.F("policy_id", res.Approval.PolicyID),
			logging.F("risk", res.Approval.RiskLevel),
		)
	}
	if res.Exception != nil {
		s.metrics.ExceptionOpened(string(res.Exception.Type))
		s.logger.Warn("exception_opened",
			logging.F("run_id", res.Run.ID),
			logging.F("exception_id", res.Exception.ID),
			logging.F("type", res.Exception.Type),
		)
	}
}

func (s *Service) getRunTx(tx *store.Tx, runID string) (*types.Run, error) {
	run, err := tx.GetRun(runID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, err
}

func (s *Service) loadRun(ctx context.Context, runID string) (*types.Run, error) {
	var run *types.Run
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		run, err = s.getRunTx(tx, runID)
		return err
	})
	return run, err
}

// PolicyContext is the record policies are evaluated against: the event
// payload overlaid with accumulated step outputs.
func PolicyContext(run *types.Run) types.Record {
	return run.Payload.Merge(run.Checkpoint.Context)
}

func stepInput(run *types.Run) types.Record {
	in := PolicyContext(run)
	in["run"] = types.Map(types.Record{
		"id":            types.String(run.ID),
		"workflowId":    types.String(run.WorkflowID),
		"eventType":     types.String(run.EventType),
		"objectType":    types.String(run.ObjectType),
		"objectId":      types.String(run.ObjectID),
		"correlationId": types.String(run.CorrelationID),
	})
	return in
}

func stepErrorCode(err error) string {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return string(stepErr.Kind)
	}
	return KindStepExecution
}
