package workflows

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"flowops/internal/store"
	"flowops/internal/types"
)

// ApprovalGate owns the lifecycle of approval records. All methods run inside
// the caller's transaction so the run transition commits with them.
type ApprovalGate struct {
	ttl time.Duration
	now func() time.Time
}

func NewApprovalGate(ttl time.Duration, now func() time.Time) *ApprovalGate {
	if now == nil {
		now = time.Now
	}
	return &ApprovalGate{ttl: ttl, now: now}
}

// Open creates the single pending approval for run.
func (g *ApprovalGate) Open(tx *store.Tx, run *types.Run, decision *GatingDecision, stepName string) (*types.Approval, error) {
	pending, err := tx.ListApprovals(store.ApprovalFilter{RunID: run.ID, Status: types.ApprovalStatusPending})
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		return nil, fmt.Errorf("%w: run %s approval %s", ErrDuplicateOpenApproval, run.ID, pending[0].ID)
	}
	now := g.now().UTC()
	policy := decision.Policy
	approval := &types.Approval{
		ID:             uuid.NewString(),
		RunID:          run.ID,
		Type:           decision.Action.ApprovalType,
		Status:         types.ApprovalStatusPending,
		Title:          fmt.Sprintf("%s: %s", policy.Name, run.WorkflowID),
		Description:    policy.Description,
		RiskLevel:      decision.Action.RiskLevel,
		StepName:       stepName,
		PolicyID:       policy.ID,
		PolicySnapshot: policy.Clone(),
		Metadata: types.Record{
			"correlationId": types.String(run.CorrelationID),
			"objectType":    types.String(run.ObjectType),
			"objectId":      types.String(run.ObjectID),
		},
		RequestedAt: now,
	}
	if g.ttl > 0 {
		expires := now.Add(g.ttl)
		approval.ExpiresAt = &expires
	}
	if err := tx.PutApproval(approval); err != nil {
		return nil, err
	}
	return approval, nil
}

// Resolve records a decision on a pending approval.
func (g *ApprovalGate) Resolve(tx *store.Tx, approvalID string, status types.ApprovalStatus, justification, approverID string) (*types.Approval, error) {
	if status != types.ApprovalStatusApproved && status != types.ApprovalStatusRejected && status != types.ApprovalStatusExpired {
		return nil, fmt.Errorf("%w: decision %q", ErrValidation, status)
	}
	approval, err := g.get(tx, approvalID)
	if err != nil {
		return nil, err
	}
	if approval.Status != types.ApprovalStatusPending {
		return nil, fmt.Errorf("%w: approval %s is %s", ErrAlreadyResolved, approval.ID, approval.Status)
	}
	now := g.now().UTC()
	approval.Status = status
	approval.Justification = justification
	approval.ApproverID = approverID
	approval.RespondedAt = &now
	if err := tx.PutApproval(approval); err != nil {
		return nil, err
	}
	return approval, nil
}

// Expired reports whether a pending approval has outlived its TTL.
func (g *ApprovalGate) Expired(approval *types.Approval, now time.Time) bool {
	if approval == nil || approval.Status != types.ApprovalStatusPending {
		return false
	}
	if approval.ExpiresAt != nil {
		return !now.Before(*approval.ExpiresAt)
	}
	return g.ttl > 0 && !now.Before(approval.RequestedAt.Add(g.ttl))
}

func (g *ApprovalGate) get(tx *store.Tx, approvalID string) (*types.Approval, error) {
	approval, err := tx.GetApproval(approvalID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrApprovalNotFound, approvalID)
	}
	return approval, err
}

// approvedPolicyIDs lists the policy versions that already cleared a gate for
// run. A later version of the same policy gates again.
func approvedPolicyIDs(tx *store.Tx, runID string) (map[string]bool, error) {
	approved, err := tx.ListApprovals(store.ApprovalFilter{RunID: runID, Status: types.ApprovalStatusApproved})
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(approved))
	for _, a := range approved {
		if a.PolicyID != "" {
			out[a.PolicyID] = true
		}
	}
	return out, nil
}
