package workflows

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"flowops/internal/store"
	"flowops/internal/types"
)

const testWorkflowID = "test_flow"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type serviceFixture struct {
	svc   *Service
	store store.Store
	exec  *Executor
	clock *fakeClock
	calls map[string]*atomic.Int32
}

func newServiceFixture(t *testing.T, opts ...ServiceOption) *serviceFixture {
	t.Helper()
	registry, err := NewRegistry(append(BuiltinDefinitions(), WorkflowDefinition{
		ID:       testWorkflowID,
		Name:     "Test Flow",
		Triggers: []string{"test.event"},
		Steps:    []string{"collect", "enrich", "finish"},
	})...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	f := &serviceFixture{
		store: store.NewMemoryStore(),
		exec:  NewExecutor(WithStepTimeout(2 * time.Second)),
		clock: newFakeClock(),
		calls: map[string]*atomic.Int32{},
	}
	for _, name := range []string{"collect", "enrich", "finish"} {
		f.calls[name] = &atomic.Int32{}
		f.register(name, nil)
	}
	base := []ServiceOption{
		WithRegistry(registry),
		WithExecutor(f.exec),
		WithClock(f.clock.Now),
	}
	f.svc = NewService(f.store, append(base, opts...)...)
	return f
}

// register installs a step that counts calls and delegates to fn, or echoes
// a marker when fn is nil.
func (f *serviceFixture) register(name string, fn StepFunc) {
	counter := f.calls[name]
	f.exec.Register(name, func(ctx context.Context, in types.Record) (types.Record, error) {
		counter.Add(1)
		if fn != nil {
			return fn(ctx, in)
		}
		return types.Record{name + "Done": types.Bool(true)}, nil
	})
}

func (f *serviceFixture) createRun(t *testing.T, correlationID string, payload types.Record) *types.Run {
	t.Helper()
	run, created, err := f.svc.CreateRun(context.Background(), testEnvelope(correlationID, payload), "tester")
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if !created {
		t.Fatalf("expected a new run for %s", correlationID)
	}
	return run
}

func (f *serviceFixture) detail(t *testing.T, runID string) *RunDetail {
	t.Helper()
	detail, err := f.svc.GetRunDetail(context.Background(), runID)
	if err != nil {
		t.Fatalf("run detail: %v", err)
	}
	return detail
}

func (f *serviceFixture) publish(t *testing.T, name string, risk types.RiskLevel, conditions string) *types.Policy {
	t.Helper()
	policy, err := f.svc.PublishPolicy(context.Background(), PolicyDraft{
		Name:       name,
		Conditions: mustRecord(t, conditions),
		Actions: types.PolicyAction{
			RequireApproval: true,
			ApprovalType:    types.ApprovalTypeProcurement,
			RiskLevel:       risk,
		},
	}, "admin")
	if err != nil {
		t.Fatalf("publish policy: %v", err)
	}
	return policy
}

func testEnvelope(correlationID string, payload types.Record) types.EventEnvelope {
	return types.EventEnvelope{
		Meta: types.EnvelopeMeta{
			EventID:       "evt-" + correlationID,
			Source:        "test",
			EventType:     "test.event",
			ObjectType:    "deal",
			ObjectID:      "deal-1",
			CorrelationID: correlationID,
		},
		Payload: payload,
	}
}

func stepStatuses(steps []*types.RunStep) string {
	parts := make([]string, 0, len(steps))
	for _, step := range steps {
		parts = append(parts, step.StepName+"="+string(step.Status))
	}
	return strings.Join(parts, ",")
}

func TestCreateRunIsIdempotent(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	first := f.createRun(t, "corr-1", types.Record{"amount": types.Number(10)})
	if first.Status != types.RunStatusPending || first.WorkflowID != testWorkflowID || first.Version != 1 {
		t.Fatalf("unexpected new run %#v", first)
	}
	again, created, err := f.svc.CreateRun(ctx, testEnvelope("corr-1", types.Record{"amount": types.Number(99)}), "tester")
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if created || again.ID != first.ID {
		t.Fatalf("expected existing run %s, got %s created=%v", first.ID, again.ID, created)
	}
	page, err := f.svc.ListRuns(ctx, RunQuery{})
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("expected exactly one run, got %d", page.Total)
	}
}

func TestCreateRunValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	env := testEnvelope("", nil)
	if _, _, err := f.svc.CreateRun(ctx, env, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for missing correlation id, got %v", err)
	}
	env = testEnvelope("corr-x", nil)
	env.Meta.EventType = "ticket.creation"
	if _, _, err := f.svc.CreateRun(ctx, env, ""); !errors.Is(err, ErrWorkflowNotFound) {
		t.Fatalf("expected workflow not found, got %v", err)
	}
	env = testEnvelope("corr-y", nil)
	env.Meta.EventType = "deal.propertyChange"
	env.Meta.PropertyName = "amount"
	run, _, err := f.svc.CreateRun(ctx, env, "")
	if err != nil {
		t.Fatalf("property trigger: %v", err)
	}
	if run.WorkflowID != WorkflowProcurementApproval {
		t.Fatalf("expected procurement workflow, got %s", run.WorkflowID)
	}
}

func TestProcessRunsAllStepsToCompletion(t *testing.T) {
	f := newServiceFixture(t)
	run := f.createRun(t, "corr-1", types.Record{"amount": types.Number(10)})
	done, err := f.svc.Process(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if done.Status != types.RunStatusCompleted || done.CompletedAt == nil {
		t.Fatalf("expected completed run, got %s", done.Status)
	}
	detail := f.detail(t, run.ID)
	if got := stepStatuses(detail.Steps); got != "collect=COMPLETED,enrich=COMPLETED,finish=COMPLETED" {
		t.Fatalf("unexpected steps %s", got)
	}
	if v, _ := detail.Run.Checkpoint.Context["enrichDone"].AsBool(); !v {
		t.Fatalf("expected step outputs in checkpoint context")
	}
	if detail.Run.Checkpoint.NextStep != 3 || detail.Run.Checkpoint.LastCompletedStep != "finish" {
		t.Fatalf("unexpected checkpoint %#v", detail.Run.Checkpoint)
	}
}

func TestAdvanceExecutesOneStepAtATime(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	run := f.createRun(t, "corr-1", nil)
	res, err := f.svc.Advance(ctx, run.ID)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if res.Run.Status != types.RunStatusRunning || res.Step == nil || res.Step.StepName != "collect" {
		t.Fatalf("unexpected first advance %#v", res)
	}
	if res.Step.Input.Map("run").String("correlationId") != "corr-1" {
		t.Fatalf("expected run metadata in step input, got %#v", res.Step.Input)
	}
	for i := 0; i < 2; i++ {
		if _, err := f.svc.Advance(ctx, run.ID); err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
	}
	final, err := f.svc.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if final.Status != types.RunStatusCompleted {
		t.Fatalf("expected completed after three advances, got %s", final.Status)
	}
	if _, err := f.svc.Advance(ctx, run.ID); !errors.Is(err, ErrRunTerminal) {
		t.Fatalf("expected ErrRunTerminal advancing a completed run, got %v", err)
	}
}

// A caller that goes away while a step runs must not lose the step's result.
func TestStepOutcomeCommitsAfterCallerCancels(t *testing.T) {
	f := newServiceFixture(t)
	run := f.createRun(t, "corr-1", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.register("collect", func(context.Context, types.Record) (types.Record, error) {
		cancel()
		return types.Record{"collected": types.Bool(true)}, nil
	})

	res, err := f.svc.Advance(ctx, run.ID)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if res.Step == nil || res.Step.Status != types.StepStatusCompleted {
		t.Fatalf("expected completed step, got %#v", res.Step)
	}
	stored, err := f.svc.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	collected, _ := stored.Checkpoint.Context["collected"].AsBool()
	if stored.Checkpoint.NextStep != 1 || !collected {
		t.Fatalf("checkpoint did not advance: %#v", stored.Checkpoint)
	}

	if _, err := f.svc.Advance(context.Background(), run.ID); err != nil {
		t.Fatalf("second advance: %v", err)
	}
	if got := stepStatuses(f.detail(t, run.ID).Steps); got != "collect=COMPLETED,enrich=COMPLETED" {
		t.Fatalf("unexpected steps %s", got)
	}
	if n := f.calls["collect"].Load(); n != 1 {
		t.Fatalf("collect executed %d times", n)
	}
}

// A gating policy suspends the run; approval resumes and completes it.
func TestPolicyGateThenApprovalCompletes(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	policy := f.publish(t, "High Value Deal Approval", types.RiskMedium, `{"amount":{"gte":50000}}`)
	run := f.createRun(t, "corr-r1", types.Record{"amount": types.Number(75000)})

	waiting, err := f.svc.Process(ctx, run.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if waiting.Status != types.RunStatusWaitingApproval {
		t.Fatalf("expected WAITING_APPROVAL, got %s", waiting.Status)
	}
	detail := f.detail(t, run.ID)
	if len(detail.Approvals) != 1 {
		t.Fatalf("expected exactly one approval, got %d", len(detail.Approvals))
	}
	approval := detail.Approvals[0]
	if approval.Status != types.ApprovalStatusPending || approval.PolicyID != policy.ID || approval.RiskLevel != types.RiskMedium {
		t.Fatalf("unexpected approval %#v", approval)
	}
	if approval.PolicySnapshot == nil || approval.PolicySnapshot.Version != 1 {
		t.Fatalf("expected policy snapshot on approval")
	}
	if got := stepStatuses(detail.Steps); got != "collect=COMPLETED" {
		t.Fatalf("gate should hold after the first step, got %s", got)
	}
	if _, err := f.svc.Advance(ctx, run.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("advancing a waiting run should fail, got %v", err)
	}

	f.clock.Advance(5 * time.Minute)
	resolved, resumed, err := f.svc.ResolveApproval(ctx, approval.ID, ApprovalDecision{Approved: true, Justification: "budget ok"}, "approver-1")
	if err != nil {
		t.Fatalf("resolve approval: %v", err)
	}
	if resolved.Status != types.ApprovalStatusApproved || resolved.RespondedAt == nil || resolved.ApproverID != "approver-1" {
		t.Fatalf("unexpected resolved approval %#v", resolved)
	}
	if resumed.Status != types.RunStatusCompleted {
		t.Fatalf("expected run to complete after approval, got %s", resumed.Status)
	}
	detail = f.detail(t, run.ID)
	if len(detail.Approvals) != 1 {
		t.Fatalf("approved policy must not gate the run again, have %d approvals", len(detail.Approvals))
	}
	if f.calls["collect"].Load() != 1 {
		t.Fatalf("completed step re-executed: %d calls", f.calls["collect"].Load())
	}
}

func TestRejectedApprovalCancelsRun(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.publish(t, "gate", types.RiskHigh, `{"amount":{"gt":0}}`)
	run := f.createRun(t, "corr-1", types.Record{"amount": types.Number(5)})
	if _, err := f.svc.Process(ctx, run.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	approval := f.detail(t, run.ID).Approvals[0]
	cancelled, err := f.svc.ResumeAfterApproval(ctx, approval.ID, false, "approver-1")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if cancelled.Status != types.RunStatusCancelled {
		t.Fatalf("expected cancelled run, got %s", cancelled.Status)
	}
	if f.calls["enrich"].Load() != 0 {
		t.Fatalf("rejected run must not continue")
	}
}

func TestApprovalDoubleResolve(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.publish(t, "gate", types.RiskLow, `{"amount":{"gt":0}}`)
	run := f.createRun(t, "corr-1", types.Record{"amount": types.Number(5)})
	if _, err := f.svc.Process(ctx, run.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	approval := f.detail(t, run.ID).Approvals[0]
	if _, _, err := f.svc.ResolveApproval(ctx, approval.ID, ApprovalDecision{Approved: true}, "a"); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	_, _, err := f.svc.ResolveApproval(ctx, approval.ID, ApprovalDecision{Approved: false}, "b")
	if !errors.Is(err, ErrAlreadyResolved) || ErrorKind(err) != KindAlreadyResolved {
		t.Fatalf("expected already resolved, got %v", err)
	}
	_, err = f.svc.ResumeAfterApproval(ctx, approval.ID, true, "b")
	if !errors.Is(err, ErrApprovalNotPending) {
		t.Fatalf("expected approval not pending, got %v", err)
	}
	if _, _, err := f.svc.ResolveApproval(ctx, "missing", ApprovalDecision{Approved: true}, "a"); !errors.Is(err, ErrApprovalNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

// Three failed attempts open an exception; AUTO_REPAIR resumes at the failed step.
func TestStepFailureOpensExceptionAndRepairResumes(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	var broken atomic.Bool
	broken.Store(true)
	var repairedInput atomic.Bool
	f.register("enrich", func(_ context.Context, in types.Record) (types.Record, error) {
		if broken.Load() {
			return nil, IntegrationError(errors.New("enrichment service unavailable"))
		}
		if v, _ := in["repaired"].AsBool(); v {
			repairedInput.Store(true)
		}
		return types.Record{"enriched": types.Bool(true)}, nil
	})
	run := f.createRun(t, "corr-r2", nil)

	failed, err := f.svc.Process(ctx, run.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if failed.Status != types.RunStatusFailed || failed.ErrorMessage == "" {
		t.Fatalf("expected failed run with message, got %s %q", failed.Status, failed.ErrorMessage)
	}
	if f.calls["enrich"].Load() != 3 {
		t.Fatalf("expected three attempts, got %d", f.calls["enrich"].Load())
	}
	detail := f.detail(t, run.ID)
	if got := stepStatuses(detail.Steps); got != "collect=COMPLETED,enrich=FAILED" {
		t.Fatalf("unexpected steps %s", got)
	}
	if detail.Steps[1].RetryCount != 2 {
		t.Fatalf("expected retry count 2, got %d", detail.Steps[1].RetryCount)
	}
	if len(detail.Exceptions) != 1 {
		t.Fatalf("expected one exception, got %d", len(detail.Exceptions))
	}
	exc := detail.Exceptions[0]
	if exc.Type != types.ExceptionIntegrationError || exc.Status != types.ExceptionStatusOpen || exc.StepName != "enrich" {
		t.Fatalf("unexpected exception %#v", exc)
	}
	if _, err := f.svc.Advance(ctx, run.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("failed run must not advance before repair, got %v", err)
	}

	broken.Store(false)
	resumed, err := f.svc.ResumeAfterException(ctx, exc.ID, ExceptionResolution{
		ResolutionType: types.ResolutionAutoRepair,
		ResolutionData: types.Record{"repaired": types.Bool(true)},
	}, "operator-1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Status != types.RunStatusCompleted {
		t.Fatalf("expected completed run after repair, got %s", resumed.Status)
	}
	if f.calls["collect"].Load() != 1 {
		t.Fatalf("completed step re-executed: %d", f.calls["collect"].Load())
	}
	if !repairedInput.Load() {
		t.Fatalf("resolution data should reach the repaired step")
	}
	detail = f.detail(t, run.ID)
	if got := stepStatuses(detail.Steps); got != "collect=COMPLETED,enrich=FAILED,enrich=COMPLETED,finish=COMPLETED" {
		t.Fatalf("unexpected steps after repair %s", got)
	}
	if detail.Exceptions[0].Status != types.ExceptionStatusResolved || detail.Exceptions[0].ResolvedByID != "operator-1" {
		t.Fatalf("unexpected exception after repair %#v", detail.Exceptions[0])
	}

	_, _, err = f.svc.ResolveException(ctx, exc.ID, ExceptionResolution{ResolutionType: types.ResolutionManualFix}, "operator-2")
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected already resolved, got %v", err)
	}
	if _, err := f.svc.ResumeAfterException(ctx, exc.ID, ExceptionResolution{ResolutionType: types.ResolutionManualFix}, "operator-2"); !errors.Is(err, ErrExceptionNotOpen) {
		t.Fatalf("expected exception not open, got %v", err)
	}
}

func TestValidationFailureIsNotRetried(t *testing.T) {
	f := newServiceFixture(t)
	f.register("collect", func(context.Context, types.Record) (types.Record, error) {
		return nil, ValidationError("dealId is required")
	})
	run := f.createRun(t, "corr-1", nil)
	failed, err := f.svc.Process(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if failed.Status != types.RunStatusFailed || f.calls["collect"].Load() != 1 {
		t.Fatalf("expected one attempt and a failed run, got %s after %d", failed.Status, f.calls["collect"].Load())
	}
	exc := f.detail(t, run.ID).Exceptions[0]
	if exc.Type != types.ExceptionDataValidation || exc.ErrorCode != string(StepErrorValidation) {
		t.Fatalf("unexpected exception %#v", exc)
	}
}

func TestIgnoredExceptionLeavesRunFailed(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.register("collect", func(context.Context, types.Record) (types.Record, error) {
		return nil, ValidationError("bad")
	})
	run := f.createRun(t, "corr-1", nil)
	if _, err := f.svc.Process(ctx, run.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	exc := f.detail(t, run.ID).Exceptions[0]
	triaged, err := f.svc.TriageException(ctx, exc.ID, "operator-1")
	if err != nil || triaged.Status != types.ExceptionStatusInProgress || triaged.AssigneeID != "operator-1" {
		t.Fatalf("triage: %#v %v", triaged, err)
	}
	if _, _, err := f.svc.Cancel(ctx, run.ID, "give up", "operator-1"); !errors.Is(err, ErrRunHasOpenExceptions) {
		t.Fatalf("expected cancel to be blocked by open exception, got %v", err)
	}
	ignored, after, err := f.svc.ResolveException(ctx, exc.ID, ExceptionResolution{ResolutionType: types.ResolutionIgnore}, "operator-1")
	if err != nil {
		t.Fatalf("ignore: %v", err)
	}
	if ignored.Status != types.ExceptionStatusIgnored || after.Status != types.RunStatusFailed {
		t.Fatalf("expected ignored exception and failed run, got %s %s", ignored.Status, after.Status)
	}
	cancelled, applied, err := f.svc.Cancel(ctx, run.ID, "give up", "operator-1")
	if err != nil || !applied || cancelled.Status != types.RunStatusCancelled {
		t.Fatalf("cancel after ignore: %#v applied=%v err=%v", cancelled, applied, err)
	}
}

// Two concurrent advances of one run: exactly one fails with a conflict.
func TestConcurrentAdvanceConflicts(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	f.register("collect", func(context.Context, types.Record) (types.Record, error) {
		started <- struct{}{}
		<-release
		return types.Record{}, nil
	})
	run := f.createRun(t, "corr-r3", nil)

	type outcome struct {
		res *StepResult
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		res, err := f.svc.Advance(ctx, run.ID)
		first <- outcome{res, err}
	}()
	<-started
	_, err := f.svc.Advance(ctx, run.ID)
	if !errors.Is(err, ErrConcurrentAdvance) || ErrorKind(err) != KindConcurrencyConflict {
		t.Fatalf("expected concurrency conflict, got %v", err)
	}
	close(release)
	got := <-first
	if got.err != nil {
		t.Fatalf("first advance: %v", got.err)
	}
	if got.res.Step.Status != types.StepStatusCompleted {
		t.Fatalf("expected completed step, got %s", got.res.Step.Status)
	}
	if f.calls["collect"].Load() != 1 {
		t.Fatalf("step ran %d times", f.calls["collect"].Load())
	}
}

func TestCancelDuringAdvanceIsHonoredAtCommit(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	f.register("collect", func(context.Context, types.Record) (types.Record, error) {
		started <- struct{}{}
		<-release
		return types.Record{}, nil
	})
	run := f.createRun(t, "corr-1", nil)
	done := make(chan *types.Run, 1)
	go func() {
		out, _ := f.svc.Process(ctx, run.ID)
		done <- out
	}()
	<-started
	pending, applied, err := f.svc.Cancel(ctx, run.ID, "operator stop", "operator-1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if applied || pending.CancelRequestedAt == nil {
		t.Fatalf("expected a recorded cancel request, got applied=%v", applied)
	}
	close(release)
	final := <-done
	if final == nil || final.Status != types.RunStatusCancelled || final.CancelReason != "operator stop" {
		t.Fatalf("expected cancelled run, got %#v", final)
	}
	detail := f.detail(t, run.ID)
	if got := stepStatuses(detail.Steps); got != "collect=COMPLETED" {
		t.Fatalf("in-flight step should complete before cancel, got %s", got)
	}
	if f.calls["enrich"].Load() != 0 {
		t.Fatalf("cancelled run must not continue")
	}
}

func TestCancelWaitingRunExpiresApproval(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.publish(t, "gate", types.RiskLow, `{"amount":{"gt":0}}`)
	run := f.createRun(t, "corr-1", types.Record{"amount": types.Number(1)})
	if _, err := f.svc.Process(ctx, run.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	cancelled, applied, err := f.svc.Cancel(ctx, run.ID, "", "operator-1")
	if err != nil || !applied {
		t.Fatalf("cancel: applied=%v err=%v", applied, err)
	}
	if cancelled.Status != types.RunStatusCancelled || cancelled.ErrorMessage == "" {
		t.Fatalf("unexpected cancelled run %#v", cancelled)
	}
	approval := f.detail(t, run.ID).Approvals[0]
	if approval.Status != types.ApprovalStatusExpired {
		t.Fatalf("expected expired approval, got %s", approval.Status)
	}
	if _, _, err := f.svc.Cancel(ctx, run.ID, "", "operator-1"); !errors.Is(err, ErrRunTerminal) {
		t.Fatalf("expected terminal error on second cancel, got %v", err)
	}
}

func TestTerminalRunsAreImmutable(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	run := f.createRun(t, "corr-1", nil)
	done, err := f.svc.Process(ctx, run.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	version := done.Version
	if _, err := f.svc.Advance(ctx, run.ID); !errors.Is(err, ErrRunTerminal) {
		t.Fatalf("advance: %v", err)
	}
	if _, _, err := f.svc.Cancel(ctx, run.ID, "late", "x"); !errors.Is(err, ErrRunTerminal) {
		t.Fatalf("cancel: %v", err)
	}
	again, err := f.svc.Process(ctx, run.ID)
	if err != nil {
		t.Fatalf("process terminal: %v", err)
	}
	if again.Status != types.RunStatusCompleted || again.Version != version {
		t.Fatalf("terminal run changed: %s v%d", again.Status, again.Version)
	}
}

func TestMalformedPolicyFailsRunUntilRepaired(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	bad := f.publish(t, "broken", types.RiskLow, `{"amount":{"around":5}}`)
	run := f.createRun(t, "corr-1", types.Record{"amount": types.Number(5)})
	failed, err := f.svc.Process(ctx, run.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if failed.Status != types.RunStatusFailed || !strings.Contains(failed.ErrorMessage, bad.ID) {
		t.Fatalf("expected failure citing policy %s, got %s %q", bad.ID, failed.Status, failed.ErrorMessage)
	}
	exc := f.detail(t, run.ID).Exceptions[0]
	if exc.Type != types.ExceptionBusinessRuleViolation || exc.PolicyID != bad.ID || exc.ErrorCode != KindInvalidPolicyDefinition {
		t.Fatalf("unexpected exception %#v", exc)
	}
	if _, err := f.svc.DeactivatePolicy(ctx, bad.ID, "admin"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	resumed, err := f.svc.ResumeAfterException(ctx, exc.ID, ExceptionResolution{ResolutionType: types.ResolutionManualFix}, "admin")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Status != types.RunStatusCompleted {
		t.Fatalf("expected completion after policy repair, got %s", resumed.Status)
	}
	if f.calls["collect"].Load() != 1 {
		t.Fatalf("collect re-executed after policy repair")
	}
}

func TestExpireApprovalsCancelsWaitingRuns(t *testing.T) {
	f := newServiceFixture(t, WithApprovalTTL(time.Hour))
	ctx := context.Background()
	f.publish(t, "gate", types.RiskLow, `{"amount":{"gt":0}}`)
	run := f.createRun(t, "corr-1", types.Record{"amount": types.Number(1)})
	if _, err := f.svc.Process(ctx, run.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	if n, err := f.svc.ExpireApprovals(ctx); err != nil || n != 0 {
		t.Fatalf("nothing should expire yet: n=%d err=%v", n, err)
	}
	f.clock.Advance(2 * time.Hour)
	n, err := f.svc.ExpireApprovals(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one expiry, got n=%d err=%v", n, err)
	}
	detail := f.detail(t, run.ID)
	if detail.Run.Status != types.RunStatusCancelled || detail.Approvals[0].Status != types.ApprovalStatusExpired {
		t.Fatalf("expected cancelled run and expired approval, got %s %s", detail.Run.Status, detail.Approvals[0].Status)
	}
}

func TestRunApprovalSweeperStopsWithContext(t *testing.T) {
	f := newServiceFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.svc.RunApprovalSweeper(ctx, 5*time.Millisecond) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("sweeper returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("sweeper did not stop")
	}
}

func TestPublishPolicyVersions(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	v1 := f.publish(t, "gate", types.RiskLow, `{"amount":{"gt":0}}`)
	v2 := f.publish(t, "gate", types.RiskHigh, `{"amount":{"gt":10}}`)
	if v1.Version != 1 || v2.Version != 2 {
		t.Fatalf("unexpected versions %d %d", v1.Version, v2.Version)
	}
	active, err := f.svc.ListPolicies(ctx, true)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 || active[0].ID != v2.ID {
		t.Fatalf("expected only v2 active, got %#v", active)
	}
	if _, err := f.svc.PublishPolicy(ctx, PolicyDraft{Name: "  "}, "admin"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := f.svc.DeactivatePolicy(ctx, "missing", "admin"); !errors.Is(err, ErrPolicyNotFound) {
		t.Fatalf("expected policy not found, got %v", err)
	}
}

func TestSeedPoliciesOnce(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	created, err := f.svc.SeedPolicies(ctx, "system")
	if err != nil || len(created) != 2 {
		t.Fatalf("seed: %d %v", len(created), err)
	}
	again, err := f.svc.SeedPolicies(ctx, "system")
	if err != nil || len(again) != 0 {
		t.Fatalf("reseed should be a no-op: %d %v", len(again), err)
	}
}

func TestPolicyOutsideValidityWindowDoesNotGate(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	from := f.clock.Now().Add(24 * time.Hour)
	_, err := f.svc.PublishPolicy(ctx, PolicyDraft{
		Name:       "future",
		Conditions: mustRecord(t, `{"amount":{"gt":0}}`),
		Actions:    types.PolicyAction{RequireApproval: true, ApprovalType: types.ApprovalTypeManualReview, RiskLevel: types.RiskLow},
		ValidFrom:  &from,
	}, "admin")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	run := f.createRun(t, "corr-1", types.Record{"amount": types.Number(5)})
	done, err := f.svc.Process(ctx, run.ID)
	if err != nil || done.Status != types.RunStatusCompleted {
		t.Fatalf("expected completion, got %v %v", done, err)
	}
}

// A version published with a future validFrom takes over from the current one
// at that instant instead of leaving the name ungated in between.
func TestScheduledPolicyVersionTakesOverAtValidFrom(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	v1 := f.publish(t, "High Value", types.RiskMedium, `{"amount":{"gte":50000}}`)
	from := f.clock.Now().Add(24 * time.Hour)
	v2, err := f.svc.PublishPolicy(ctx, PolicyDraft{
		Name:       "High Value",
		Conditions: mustRecord(t, `{"amount":{"gte":80000}}`),
		Actions:    types.PolicyAction{RequireApproval: true, ApprovalType: types.ApprovalTypeProcurement, RiskLevel: types.RiskHigh},
		ValidFrom:  &from,
	}, "admin")
	if err != nil {
		t.Fatalf("publish v2: %v", err)
	}

	stored, err := f.svc.GetPolicy(ctx, v1.ID)
	if err != nil {
		t.Fatalf("get v1: %v", err)
	}
	if !stored.IsActive || stored.ValidTo == nil || !stored.ValidTo.Equal(from) {
		t.Fatalf("expected v1 active until %v, got %#v", from, stored)
	}

	before := f.createRun(t, "corr-before", types.Record{"amount": types.Number(90000)})
	waiting, err := f.svc.Process(ctx, before.ID)
	if err != nil || waiting.Status != types.RunStatusWaitingApproval {
		t.Fatalf("expected v1 to gate, got %v %v", waiting, err)
	}
	if got := f.detail(t, before.ID).Approvals[0].PolicyID; got != v1.ID {
		t.Fatalf("expected v1 approval, got %s", got)
	}

	f.clock.Advance(25 * time.Hour)
	after := f.createRun(t, "corr-after", types.Record{"amount": types.Number(90000)})
	waiting, err = f.svc.Process(ctx, after.ID)
	if err != nil || waiting.Status != types.RunStatusWaitingApproval {
		t.Fatalf("expected v2 to gate, got %v %v", waiting, err)
	}
	if got := f.detail(t, after.ID).Approvals[0].PolicyID; got != v2.ID {
		t.Fatalf("expected v2 approval, got %s", got)
	}

	v3 := f.publish(t, "High Value", types.RiskLow, `{"amount":{"gte":1}}`)
	active, err := f.svc.ListPolicies(ctx, true)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 || active[0].ID != v3.ID {
		t.Fatalf("an immediate version must replace every other, got %#v", active)
	}
}

// Approval clears one policy version; a newer version gates the run again.
func TestNewPolicyVersionGatesApprovedRunAgain(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.publish(t, "gate", types.RiskLow, `{"amount":{"gt":0}}`)
	run := f.createRun(t, "corr-1", types.Record{"amount": types.Number(5)})
	if _, err := f.svc.Process(ctx, run.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	first := f.detail(t, run.ID).Approvals[0]
	v2 := f.publish(t, "gate", types.RiskHigh, `{"amount":{"gt":0}}`)

	_, resumed, err := f.svc.ResolveApproval(ctx, first.ID, ApprovalDecision{Approved: true}, "approver-1")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if resumed.Status != types.RunStatusWaitingApproval {
		t.Fatalf("expected the new version to gate, got %s", resumed.Status)
	}
	approvals := f.detail(t, run.ID).Approvals
	if len(approvals) != 2 {
		t.Fatalf("expected two approvals, got %d", len(approvals))
	}
	var pending *types.Approval
	for _, a := range approvals {
		if a.Status == types.ApprovalStatusPending {
			pending = a
		}
	}
	if pending == nil || pending.PolicyID != v2.ID || pending.RiskLevel != types.RiskHigh {
		t.Fatalf("unexpected pending approval %#v", pending)
	}
}

func TestEscalatedExceptionLeavesRunFailedAndIsCounted(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.register("collect", func(context.Context, types.Record) (types.Record, error) {
		return nil, ValidationError("bad")
	})
	run := f.createRun(t, "corr-1", nil)
	if _, err := f.svc.Process(ctx, run.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	exc := f.detail(t, run.ID).Exceptions[0]
	escalated, after, err := f.svc.ResolveException(ctx, exc.ID, ExceptionResolution{ResolutionType: types.ResolutionEscalate}, "operator-1")
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if escalated.ResolutionType != types.ResolutionEscalate || after.Status != types.RunStatusFailed {
		t.Fatalf("expected escalation with failed run, got %s %s", escalated.ResolutionType, after.Status)
	}
	kpis, err := f.svc.DashboardKPIs(ctx)
	if err != nil {
		t.Fatalf("kpis: %v", err)
	}
	if kpis.OpenExceptions != 0 || kpis.EscalatedExceptions != 1 {
		t.Fatalf("unexpected exception counts %#v", kpis)
	}
}
