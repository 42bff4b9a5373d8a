package workflows

import (
	"errors"

	"flowops/internal/store"
)

var (
	ErrValidation              = errors.New("validation failed")
	ErrRunNotFound             = errors.New("run not found")
	ErrApprovalNotFound        = errors.New("approval not found")
	ErrExceptionNotFound       = errors.New("exception not found")
	ErrPolicyNotFound          = errors.New("policy not found")
	ErrWorkflowNotFound        = errors.New("workflow definition not found")
	ErrDuplicateCorrelationID  = store.ErrDuplicateCorrelationID
	ErrApprovalNotPending      = errors.New("approval is not pending")
	ErrExceptionNotOpen        = errors.New("exception is not open")
	ErrDuplicateOpenApproval   = errors.New("run already has a pending approval")
	ErrAlreadyResolved         = errors.New("already resolved")
	ErrInvalidPolicyDefinition = errors.New("invalid policy definition")
	ErrStepExecution           = errors.New("step execution failed")
	ErrConcurrentAdvance       = errors.New("run is being advanced concurrently")
	ErrVersionConflict         = store.ErrVersionConflict
	ErrInvalidTransition       = errors.New("invalid run transition")
	ErrRunTerminal             = errors.New("run is in a terminal state")
	ErrRunHasOpenExceptions    = errors.New("run has unresolved exceptions")
	ErrForbidden               = errors.New("capability denied")
)

// Stable kind strings reported to callers.
const (
	KindValidation              = "validation"
	KindNotFound                = "not_found"
	KindDuplicateCorrelationID  = "duplicate_correlation_id"
	KindApprovalNotPending      = "approval_not_pending"
	KindExceptionNotOpen        = "exception_not_open"
	KindDuplicateOpenApproval   = "duplicate_open_approval"
	KindAlreadyResolved         = "already_resolved"
	KindInvalidPolicyDefinition = "invalid_policy_definition"
	KindStepExecution           = "step_execution_error"
	KindConcurrencyConflict     = "concurrency_conflict"
	KindInvalidTransition       = "invalid_transition"
	KindRunTerminal             = "run_terminal"
	KindOpenExceptions          = "open_exceptions"
	KindForbidden               = "forbidden"
	KindInternal                = "internal"
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrValidation, KindValidation},
	{ErrRunNotFound, KindNotFound},
	{ErrApprovalNotFound, KindNotFound},
	{ErrExceptionNotFound, KindNotFound},
	{ErrPolicyNotFound, KindNotFound},
	{ErrWorkflowNotFound, KindNotFound},
	{store.ErrNotFound, KindNotFound},
	{ErrDuplicateCorrelationID, KindDuplicateCorrelationID},
	{ErrApprovalNotPending, KindApprovalNotPending},
	{ErrExceptionNotOpen, KindExceptionNotOpen},
	{ErrDuplicateOpenApproval, KindDuplicateOpenApproval},
	{ErrAlreadyResolved, KindAlreadyResolved},
	{ErrInvalidPolicyDefinition, KindInvalidPolicyDefinition},
	{ErrStepExecution, KindStepExecution},
	{ErrConcurrentAdvance, KindConcurrencyConflict},
	{ErrVersionConflict, KindConcurrencyConflict},
	{ErrInvalidTransition, KindInvalidTransition},
	{ErrRunTerminal, KindRunTerminal},
	{ErrRunHasOpenExceptions, KindOpenExceptions},
	{ErrForbidden, KindForbidden},
}

// ErrorKind maps an error to its stable kind string.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range errorKinds {
		if errors.Is(err, entry.err) {
			return entry.kind
		}
	}
	return KindInternal
}
