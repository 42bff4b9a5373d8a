package types

import "time"

type ExceptionType string

const (
	ExceptionDataValidation        ExceptionType = "DATA_VALIDATION"
	ExceptionIntegrationError      ExceptionType = "INTEGRATION_ERROR"
	ExceptionBusinessRuleViolation ExceptionType = "BUSINESS_RULE_VIOLATION"
	ExceptionTimeout               ExceptionType = "TIMEOUT"
	ExceptionUnknown               ExceptionType = "UNKNOWN"
)

type ExceptionStatus string

const (
	ExceptionStatusOpen       ExceptionStatus = "OPEN"
	ExceptionStatusInProgress ExceptionStatus = "IN_PROGRESS"
	ExceptionStatusResolved   ExceptionStatus = "RESOLVED"
	ExceptionStatusIgnored    ExceptionStatus = "IGNORED"
)

// Unresolved reports whether the exception still blocks its run.
func (s ExceptionStatus) Unresolved() bool {
	return s == ExceptionStatusOpen || s == ExceptionStatusInProgress
}

type ResolutionType string

const (
	ResolutionAutoRepair ResolutionType = "AUTO_REPAIR"
	ResolutionManualFix  ResolutionType = "MANUAL_FIX"
	ResolutionIgnore     ResolutionType = "IGNORE"
	ResolutionEscalate   ResolutionType = "ESCALATE"
)

func (r ResolutionType) Valid() bool {
	switch r {
	case ResolutionAutoRepair, ResolutionManualFix, ResolutionIgnore, ResolutionEscalate:
		return true
	}
	return false
}

// Resumes reports whether the resolution lets the run continue.
func (r ResolutionType) Resumes() bool {
	return r == ResolutionAutoRepair || r == ResolutionManualFix
}

type Exception struct {
	ID             string          `json:"id"`
	RunID          string          `json:"runId"`
	Type           ExceptionType   `json:"type"`
	Status         ExceptionStatus `json:"status"`
	Title          string          `json:"title"`
	Description    string          `json:"description,omitempty"`
	ErrorCode      string          `json:"errorCode,omitempty"`
	StepName       string          `json:"stepName,omitempty"`
	PolicyID       string          `json:"policyId,omitempty"`
	ResolutionType ResolutionType  `json:"resolutionType,omitempty"`
	ResolutionData Record          `json:"resolutionData,omitempty"`
	AssigneeID     string          `json:"assigneeId,omitempty"`
	ResolvedByID   string          `json:"resolvedById,omitempty"`
	Metadata       Record          `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	ResolvedAt     *time.Time      `json:"resolvedAt,omitempty"`
}
