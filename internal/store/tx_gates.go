package store

import (
	"fmt"
	"sort"

	"flowops/internal/types"
)

type ApprovalFilter struct {
	RunID  string
	Status types.ApprovalStatus
}

func (tx *Tx) GetApproval(id string) (*types.Approval, error) {
	var approval types.Approval
	ok, err := tx.getJSON(bucketApprovals, id, &approval)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("approval", id)
	}
	return &approval, nil
}

func (tx *Tx) PutApproval(approval *types.Approval) error {
	if approval == nil || approval.ID == "" {
		return fmt.Errorf("approval id is required")
	}
	return tx.putJSON(bucketApprovals, approval.ID, approval)
}

// ListApprovals returns matching approvals, oldest request first.
func (tx *Tx) ListApprovals(filter ApprovalFilter) ([]*types.Approval, error) {
	out := make([]*types.Approval, 0)
	err := scan(tx, bucketApprovals, "", func(a *types.Approval) error {
		if filter.RunID != "" && a.RunID != filter.RunID {
			return nil
		}
		if filter.Status != "" && a.Status != filter.Status {
			return nil
		}
		out = append(out, a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out, nil
}

type ExceptionFilter struct {
	RunID      string
	Status     types.ExceptionStatus
	Unresolved bool
}

func (tx *Tx) GetException(id string) (*types.Exception, error) {
	var exc types.Exception
	ok, err := tx.getJSON(bucketExceptions, id, &exc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("exception", id)
	}
	return &exc, nil
}

func (tx *Tx) PutException(exc *types.Exception) error {
	if exc == nil || exc.ID == "" {
		return fmt.Errorf("exception id is required")
	}
	return tx.putJSON(bucketExceptions, exc.ID, exc)
}

func (tx *Tx) ListExceptions(filter ExceptionFilter) ([]*types.Exception, error) {
	out := make([]*types.Exception, 0)
	err := scan(tx, bucketExceptions, "", func(e *types.Exception) error {
		if filter.RunID != "" && e.RunID != filter.RunID {
			return nil
		}
		if filter.Status != "" && e.Status != filter.Status {
			return nil
		}
		if filter.Unresolved && !e.Status.Unresolved() {
			return nil
		}
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
