package workflows

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"flowops/internal/types"
)

func TestMetricsRecordRunLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	f := newServiceFixture(t, WithMetrics(metrics))
	ctx := context.Background()
	f.publish(t, "gate", types.RiskHigh, `{"amount":{"gt":0}}`)

	run := f.createRun(t, "corr-1", types.Record{"amount": types.Number(5)})
	if _, err := f.svc.Process(ctx, run.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	approval := f.detail(t, run.ID).Approvals[0]
	if _, _, err := f.svc.ResolveApproval(ctx, approval.ID, ApprovalDecision{Approved: true}, "approver"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	if got := testutil.ToFloat64(metrics.runsCreated.WithLabelValues(testWorkflowID)); got != 1 {
		t.Fatalf("expected 1 run created, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.approvalsOpened.WithLabelValues(string(types.ApprovalTypeProcurement), string(types.RiskHigh))); got != 1 {
		t.Fatalf("expected 1 approval opened, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.approvalsResolved.WithLabelValues(string(types.ApprovalStatusApproved))); got != 1 {
		t.Fatalf("expected 1 approval resolved, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.runTransitions.WithLabelValues("RUNNING", "COMPLETED")); got != 1 {
		t.Fatalf("expected one completion transition, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.stepExecutions.WithLabelValues("collect", "success")); got != 1 {
		t.Fatalf("expected one collect success, got %v", got)
	}
	if n := testutil.CollectAndCount(metrics.stepDuration); n != 3 {
		t.Fatalf("expected duration series for 3 steps, got %d", n)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RunCreated("x")
	m.RunTransition("A", "B")
	m.StepExecuted("s", "success", 0)
	m.ApprovalOpened("t", "r")
	m.ApprovalResolved("s")
	m.ExceptionOpened("t")
	m.WebhookEvent("s")
	m.BreakerOpen("s", true)
}
