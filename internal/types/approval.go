package types

import "time"

type ApprovalType string

const (
	ApprovalTypeProcurement     ApprovalType = "PROCUREMENT"
	ApprovalTypeRiskThreshold   ApprovalType = "RISK_THRESHOLD"
	ApprovalTypeManualReview    ApprovalType = "MANUAL_REVIEW"
	ApprovalTypePolicyException ApprovalType = "POLICY_EXCEPTION"
)

func (t ApprovalType) Valid() bool {
	switch t {
	case ApprovalTypeProcurement, ApprovalTypeRiskThreshold, ApprovalTypeManualReview, ApprovalTypePolicyException:
		return true
	}
	return false
}

type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "PENDING"
	ApprovalStatusApproved ApprovalStatus = "APPROVED"
	ApprovalStatusRejected ApprovalStatus = "REJECTED"
	ApprovalStatusExpired  ApprovalStatus = "EXPIRED"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Rank orders risk levels; unknown levels rank below LOW.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	default:
		return 0
	}
}

func (r RiskLevel) Valid() bool {
	return r.Rank() > 0
}

type Approval struct {
	ID             string         `json:"id"`
	RunID          string         `json:"runId"`
	Type           ApprovalType   `json:"type"`
	Status         ApprovalStatus `json:"status"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	RiskLevel      RiskLevel      `json:"riskLevel"`
	StepName       string         `json:"stepName,omitempty"`
	PolicyID       string         `json:"policyId,omitempty"`
	PolicySnapshot *Policy        `json:"policySnapshot,omitempty"`
	ApproverID     string         `json:"approverId,omitempty"`
	Justification  string         `json:"justification,omitempty"`
	Metadata       Record         `json:"metadata,omitempty"`
	RequestedAt    time.Time      `json:"requestedAt"`
	RespondedAt    *time.Time     `json:"respondedAt,omitempty"`
	ExpiresAt      *time.Time     `json:"expiresAt,omitempty"`
}
