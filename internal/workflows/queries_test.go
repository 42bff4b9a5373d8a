package workflows

import (
	"context"
	"fmt"
	"testing"
	"time"

	"flowops/internal/types"
)

func TestPaginate(t *testing.T) {
	items := make([]int, 45)
	for i := range items {
		items[i] = i
	}
	page := Paginate(items, 20, 20)
	if page.Total != 45 || page.Pages != 3 || page.Page != 2 || len(page.Data) != 20 || page.Data[0] != 20 {
		t.Fatalf("unexpected page %#v", page)
	}
	last := Paginate(items, 20, 40)
	if len(last.Data) != 5 || last.Page != 3 {
		t.Fatalf("unexpected last page %#v", last)
	}
	past := Paginate(items, 20, 100)
	if past.Data == nil || len(past.Data) != 0 {
		t.Fatalf("expected empty non-nil data past the end, got %#v", past.Data)
	}
	clamped := Paginate(items, 10000, -5)
	if clamped.Limit != MaxPageLimit || len(clamped.Data) != 45 {
		t.Fatalf("unexpected clamped page %#v", clamped)
	}
	defaults := Paginate([]int{}, 0, 0)
	if defaults.Limit != DefaultPageLimit || defaults.Pages != 0 || defaults.Page != 1 {
		t.Fatalf("unexpected empty page %#v", defaults)
	}
}

func TestListRunsFiltersByStatus(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.createRun(t, fmt.Sprintf("corr-%d", i), nil)
		f.clock.Advance(time.Second)
	}
	newest := f.createRun(t, "corr-new", nil)
	if _, err := f.svc.Process(ctx, newest.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	pending, err := f.svc.ListRuns(ctx, RunQuery{Status: types.RunStatusPending, Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if pending.Total != 3 || len(pending.Data) != 2 || pending.Pages != 2 {
		t.Fatalf("unexpected pending page %#v", pending)
	}
	if pending.Data[0].CorrelationID != "corr-2" {
		t.Fatalf("expected newest first, got %s", pending.Data[0].CorrelationID)
	}
	all, err := f.svc.ListRuns(ctx, RunQuery{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if all.Total != 4 || all.Data[0].ID != newest.ID {
		t.Fatalf("unexpected full listing %#v", all)
	}
}

func TestDashboardKPIs(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.publish(t, "gate", types.RiskLow, `{"amount":{"gte":100}}`)

	ok := f.createRun(t, "corr-ok", types.Record{"amount": types.Number(1)})
	if _, err := f.svc.Process(ctx, ok.ID); err != nil {
		t.Fatalf("process ok: %v", err)
	}
	gated := f.createRun(t, "corr-gated", types.Record{"amount": types.Number(500)})
	if _, err := f.svc.Process(ctx, gated.ID); err != nil {
		t.Fatalf("process gated: %v", err)
	}
	approved := f.createRun(t, "corr-approved", types.Record{"amount": types.Number(500)})
	if _, err := f.svc.Process(ctx, approved.ID); err != nil {
		t.Fatalf("process approved: %v", err)
	}
	approval := f.detail(t, approved.ID).Approvals[0]
	f.clock.Advance(90 * time.Second)
	if _, _, err := f.svc.ResolveApproval(ctx, approval.ID, ApprovalDecision{Approved: true}, "approver"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	f.createRun(t, "corr-pending", nil)

	kpis, err := f.svc.DashboardKPIs(ctx)
	if err != nil {
		t.Fatalf("kpis: %v", err)
	}
	if kpis.TotalRuns != 4 || kpis.RunsLast24h != 4 {
		t.Fatalf("unexpected totals %#v", kpis)
	}
	if kpis.RunsByStatus[types.RunStatusCompleted] != 2 || kpis.RunsByStatus[types.RunStatusWaitingApproval] != 1 || kpis.RunsByStatus[types.RunStatusPending] != 1 {
		t.Fatalf("unexpected status counts %#v", kpis.RunsByStatus)
	}
	if kpis.PendingApprovals != 1 || kpis.OpenExceptions != 0 {
		t.Fatalf("unexpected gate counts %#v", kpis)
	}
	if kpis.SuccessRate != 1 {
		t.Fatalf("expected success rate 1, got %v", kpis.SuccessRate)
	}
	if kpis.AverageApprovalTimeSeconds != 90 {
		t.Fatalf("expected 90s average approval time, got %v", kpis.AverageApprovalTimeSeconds)
	}
}

func TestGetRunShowsPendingCancel(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	run := f.createRun(t, "corr-1", nil)
	unlock := f.svc.locks.Lock(run.ID)
	if _, applied, err := f.svc.Cancel(ctx, run.ID, "stop", "op"); err != nil || applied {
		unlock()
		t.Fatalf("expected deferred cancel, applied=%v err=%v", applied, err)
	}
	unlock()
	got, err := f.svc.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CancelRequestedAt == nil || got.CancelReason != "stop" || got.Status != types.RunStatusPending {
		t.Fatalf("expected pending cancel overlay, got %#v", got)
	}
	final, err := f.svc.Process(ctx, run.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if final.Status != types.RunStatusCancelled || f.calls["collect"].Load() != 0 {
		t.Fatalf("expected cancel before any step, got %s", final.Status)
	}
}
