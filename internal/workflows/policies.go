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

// PolicyDraft is the input for publishing a new policy version.
type PolicyDraft struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Conditions  types.Record       `json:"conditions"`
	Actions     types.PolicyAction `json:"actions"`
	ValidFrom   *time.Time         `json:"validFrom,omitempty"`
	ValidTo     *time.Time         `json:"validTo,omitempty"`
}

// PublishPolicy stores draft as the next version of its named policy. Active
// versions hand over at the draft's validFrom: they are deactivated when the
// draft starts now, otherwise their window is closed at that instant. Condition
// trees are not checked here; a malformed tree fails the runs it is evaluated
// against.
func (s *Service) PublishPolicy(ctx context.Context, draft PolicyDraft, actorID string) (*types.Policy, error) {
	name := strings.TrimSpace(draft.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: policy name is required", ErrValidation)
	}
	if draft.ValidFrom != nil && draft.ValidTo != nil && !draft.ValidTo.After(*draft.ValidFrom) {
		return nil, fmt.Errorf("%w: validTo must be after validFrom", ErrValidation)
	}
	var policy *types.Policy
	err := s.store.Update(ctx, func(tx *store.Tx) error {
		versions, err := tx.ListPolicies(store.PolicyFilter{Name: name})
		if err != nil {
			return err
		}
		next := 1
		for _, existing := range versions {
			if existing.Version >= next {
				next = existing.Version + 1
			}
			if !supersede(existing, draft.ValidFrom, s.clock()) {
				continue
			}
			if err := tx.PutPolicy(existing); err != nil {
				return err
			}
		}
		policy = &types.Policy{
			ID:          uuid.NewString(),
			Name:        name,
			Description: strings.TrimSpace(draft.Description),
			Version:     next,
			IsActive:    true,
			Conditions:  draft.Conditions.Clone(),
			Actions:     draft.Actions,
			ValidFrom:   draft.ValidFrom,
			ValidTo:     draft.ValidTo,
			CreatedByID: actorID,
			CreatedAt:   s.clock(),
		}
		return tx.PutPolicy(policy)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("policy_published",
		logging.F("policy_id", policy.ID),
		logging.F("name", policy.Name),
		logging.F("version", policy.Version),
	)
	return policy, nil
}

// supersede adjusts an active version for a successor starting at from and
// reports whether it changed.
func supersede(existing *types.Policy, from *time.Time, now time.Time) bool {
	if !existing.IsActive {
		return false
	}
	if from == nil || !from.After(now) {
		existing.IsActive = false
		return true
	}
	if existing.ValidFrom != nil && !existing.ValidFrom.Before(*from) {
		existing.IsActive = false
		return true
	}
	if existing.ValidTo != nil && !existing.ValidTo.After(*from) {
		return false
	}
	handover := *from
	existing.ValidTo = &handover
	return true
}

func (s *Service) DeactivatePolicy(ctx context.Context, policyID, actorID string) (*types.Policy, error) {
	var policy *types.Policy
	err := s.store.Update(ctx, func(tx *store.Tx) error {
		var err error
		policy, err = tx.GetPolicy(policyID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrPolicyNotFound, policyID)
		}
		if err != nil {
			return err
		}
		if !policy.IsActive {
			return nil
		}
		policy.IsActive = false
		return tx.PutPolicy(policy)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("policy_deactivated",
		logging.F("policy_id", policy.ID),
		logging.F("actor_id", actorID),
	)
	return policy, nil
}

func (s *Service) GetPolicy(ctx context.Context, policyID string) (*types.Policy, error) {
	var policy *types.Policy
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		policy, err = tx.GetPolicy(policyID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrPolicyNotFound, policyID)
		}
		return err
	})
	return policy, err
}

func (s *Service) ListPolicies(ctx context.Context, activeOnly bool) ([]*types.Policy, error) {
	var out []*types.Policy
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.ListPolicies(store.PolicyFilter{ActiveOnly: activeOnly})
		return err
	})
	return out, err
}

// DefaultPolicies are the gating rules a fresh installation starts with.
func DefaultPolicies() []PolicyDraft {
	return []PolicyDraft{
		{
			Name:        "High Value Deal Approval",
			Description: "Deals at or above 50,000 need procurement sign-off.",
			Conditions: types.Record{
				"amount": types.Map(types.Record{"gte": types.Number(50000)}),
			},
			Actions: types.PolicyAction{
				RequireApproval: true,
				ApprovalType:    types.ApprovalTypeProcurement,
				RiskLevel:       types.RiskMedium,
			},
		},
		{
			Name:        "Enterprise Account Processing",
			Description: "Large accounts in regulated industries need a risk review.",
			Conditions: types.Record{
				"employeeCount": types.Map(types.Record{"gt": types.Number(1000)}),
				"industry": types.Map(types.Record{"in": types.List(
					types.String("Government"),
					types.String("Healthcare"),
					types.String("Financial Services"),
				)}),
			},
			Actions: types.PolicyAction{
				RequireApproval: true,
				ApprovalType:    types.ApprovalTypeRiskThreshold,
				RiskLevel:       types.RiskHigh,
			},
		},
	}
}

// SeedPolicies publishes each default policy whose name is not yet known and
// returns the ones it created.
func (s *Service) SeedPolicies(ctx context.Context, actorID string) ([]*types.Policy, error) {
	var existing []*types.Policy
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		existing, err = tx.ListPolicies(store.PolicyFilter{})
		return err
	})
	if err != nil {
		return nil, err
	}
	known := map[string]bool{}
	for _, p := range existing {
		known[p.Name] = true
	}
	var created []*types.Policy
	for _, draft := range DefaultPolicies() {
		if known[draft.Name] {
			continue
		}
		policy, err := s.PublishPolicy(ctx, draft, actorID)
		if err != nil {
			return created, err
		}
		created = append(created, policy)
	}
	return created, nil
}
