package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"flowops/internal/types"
)

func openTestStores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	bbolt, err := NewBboltStore(filepath.Join(dir, "flowops.db"))
	if err != nil {
		t.Fatalf("NewBboltStore: %v", err)
	}
	file, err := NewFileStore(filepath.Join(dir, "flowops.json"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	t.Cleanup(func() {
		_ = bbolt.Close()
		_ = file.Close()
	})
	return map[string]Store{
		BackendBbolt:  bbolt,
		BackendFile:   file,
		BackendMemory: NewMemoryStore(),
	}
}

func testRun(id, correlationID string) *types.Run {
	return &types.Run{
		ID:            id,
		CorrelationID: correlationID,
		WorkflowID:    "company_intake",
		Status:        types.RunStatusPending,
		Payload:       types.Record{"amount": types.Number(10)},
		CreatedAt:     time.Now().UTC(),
	}
}

func TestStoreInsertRunRejectsDuplicateCorrelationID(t *testing.T) {
	ctx := context.Background()
	for name, s := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Update(ctx, func(tx *Tx) error { return tx.InsertRun(testRun("r1", "c-1")) }); err != nil {
				t.Fatalf("insert: %v", err)
			}
			err := s.Update(ctx, func(tx *Tx) error { return tx.InsertRun(testRun("r2", "c-1")) })
			if !errors.Is(err, ErrDuplicateCorrelationID) {
				t.Fatalf("expected duplicate correlation error, got %v", err)
			}
			err = s.View(ctx, func(tx *Tx) error {
				run, err := tx.FindRunByCorrelationID("c-1")
				if err != nil {
					return err
				}
				if run.ID != "r1" || run.Version != 1 {
					t.Fatalf("unexpected run: %#v", run)
				}
				_, err = tx.GetRun("r2")
				if !errors.Is(err, ErrNotFound) {
					t.Fatalf("expected r2 not to exist, got %v", err)
				}
				return nil
			})
			if err != nil {
				t.Fatalf("view: %v", err)
			}
		})
	}
}

func TestStoreUpdateRunChecksVersion(t *testing.T) {
	ctx := context.Background()
	for name, s := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Update(ctx, func(tx *Tx) error { return tx.InsertRun(testRun("r1", "c-1")) }); err != nil {
				t.Fatalf("insert: %v", err)
			}
			var stale *types.Run
			_ = s.View(ctx, func(tx *Tx) error {
				var err error
				stale, err = tx.GetRun("r1")
				return err
			})
			fresh := *stale
			fresh.Status = types.RunStatusRunning
			if err := s.Update(ctx, func(tx *Tx) error { return tx.UpdateRun(&fresh) }); err != nil {
				t.Fatalf("update: %v", err)
			}
			if fresh.Version != 2 {
				t.Fatalf("expected version 2, got %d", fresh.Version)
			}
			stale.Status = types.RunStatusCancelled
			err := s.Update(ctx, func(tx *Tx) error { return tx.UpdateRun(stale) })
			if !errors.Is(err, ErrVersionConflict) {
				t.Fatalf("expected version conflict, got %v", err)
			}
		})
	}
}

func TestStoreUpdateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	for name, s := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			err := s.Update(ctx, func(tx *Tx) error {
				if err := tx.InsertRun(testRun("r1", "c-1")); err != nil {
					return err
				}
				if err := tx.PutApproval(&types.Approval{ID: "a1", RunID: "r1", Status: types.ApprovalStatusPending}); err != nil {
					return err
				}
				return boom
			})
			if !errors.Is(err, boom) {
				t.Fatalf("expected boom, got %v", err)
			}
			_ = s.View(ctx, func(tx *Tx) error {
				if _, err := tx.GetRun("r1"); !errors.Is(err, ErrNotFound) {
					t.Fatalf("expected run rollback, got %v", err)
				}
				approvals, err := tx.ListApprovals(ApprovalFilter{})
				if err != nil || len(approvals) != 0 {
					t.Fatalf("expected approval rollback, got %d %v", len(approvals), err)
				}
				return nil
			})
		})
	}
}

func TestStoreListsStepsInSequence(t *testing.T) {
	ctx := context.Background()
	for name, s := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			err := s.Update(ctx, func(tx *Tx) error {
				for _, runID := range []string{"r1", "r10"} {
					for i := 1; i <= 11; i++ {
						seq, err := tx.NextStepSeq(runID)
						if err != nil {
							return err
						}
						if err := tx.PutStep(&types.RunStep{ID: runID + "-s", RunID: runID, Seq: seq, Status: types.StepStatusCompleted}); err != nil {
							return err
						}
					}
				}
				return nil
			})
			if err != nil {
				t.Fatalf("put steps: %v", err)
			}
			_ = s.View(ctx, func(tx *Tx) error {
				steps, err := tx.ListSteps("r1")
				if err != nil {
					t.Fatalf("list steps: %v", err)
				}
				if len(steps) != 11 {
					t.Fatalf("expected 11 steps for r1, got %d", len(steps))
				}
				for i, step := range steps {
					if step.Seq != i+1 || step.RunID != "r1" {
						t.Fatalf("unexpected step order at %d: %#v", i, step)
					}
				}
				return nil
			})
		})
	}
}

func TestStoreWebhookEventsDedupeByEventID(t *testing.T) {
	ctx := context.Background()
	for name, s := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			event := &types.WebhookEvent{ID: "w1", EventID: "evt-1", Status: types.WebhookEventReceived}
			if err := s.Update(ctx, func(tx *Tx) error { return tx.InsertWebhookEvent(event) }); err != nil {
				t.Fatalf("insert: %v", err)
			}
			dup := &types.WebhookEvent{ID: "w2", EventID: "evt-1"}
			err := s.Update(ctx, func(tx *Tx) error { return tx.InsertWebhookEvent(dup) })
			if !errors.Is(err, ErrDuplicateEventID) {
				t.Fatalf("expected duplicate event id, got %v", err)
			}
		})
	}
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "flowops.json")
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	policy := &types.Policy{
		ID:         "p1",
		Name:       "High Value Deal Approval",
		Version:    1,
		IsActive:   true,
		Conditions: types.Record{"amount": types.Map(types.Record{"gte": types.Number(50000)})},
	}
	if err := s.Update(ctx, func(tx *Tx) error { return tx.PutPolicy(policy) }); err != nil {
		t.Fatalf("put policy: %v", err)
	}
	reopened, err := Open(Paths{FilePath: path}, BackendFile)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	err = reopened.View(ctx, func(tx *Tx) error {
		got, err := tx.GetPolicy("p1")
		if err != nil {
			return err
		}
		if !got.Conditions.Equal(policy.Conditions) {
			t.Fatalf("conditions changed across reopen: %#v", got.Conditions)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestViewRejectsWrites(t *testing.T) {
	s := NewMemoryStore()
	err := s.View(context.Background(), func(tx *Tx) error {
		return tx.PutPolicy(&types.Policy{ID: "p1"})
	})
	if !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected read-only error, got %v", err)
	}
}
