package types

import "time"

type PolicyAction struct {
	RequireApproval bool         `json:"requireApproval"`
	ApprovalType    ApprovalType `json:"approvalType,omitempty"`
	RiskLevel       RiskLevel    `json:"riskLevel,omitempty"`
}

// Policy is one immutable version of a named gating rule.
type Policy struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Version     int          `json:"version"`
	IsActive    bool         `json:"isActive"`
	Conditions  Record       `json:"conditions"`
	Actions     PolicyAction `json:"actions"`
	ValidFrom   *time.Time   `json:"validFrom,omitempty"`
	ValidTo     *time.Time   `json:"validTo,omitempty"`
	CreatedByID string       `json:"createdById,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// EffectiveAt reports whether the policy is active and inside its validity window.
func (p *Policy) EffectiveAt(now time.Time) bool {
	if p == nil || !p.IsActive {
		return false
	}
	if p.ValidFrom != nil && now.Before(*p.ValidFrom) {
		return false
	}
	if p.ValidTo != nil && !now.Before(*p.ValidTo) {
		return false
	}
	return true
}

func (p *Policy) Clone() *Policy {
	if p == nil {
		return nil
	}
	out := *p
	out.Conditions = p.Conditions.Clone()
	if p.ValidFrom != nil {
		t := *p.ValidFrom
		out.ValidFrom = &t
	}
	if p.ValidTo != nil {
		t := *p.ValidTo
		out.ValidTo = &t
	}
	return &out
}
