package workflows

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"flowops/internal/store"
	"flowops/internal/types"
)

// ExceptionTracker records failures that need an operator decision.
type ExceptionTracker struct {
	now func() time.Time
}

func NewExceptionTracker(now func() time.Time) *ExceptionTracker {
	if now == nil {
		now = time.Now
	}
	return &ExceptionTracker{now: now}
}

type ExceptionInput struct {
	Type        types.ExceptionType
	Title       string
	Description string
	ErrorCode   string
	StepName    string
	PolicyID    string
	Metadata    types.Record
}

func (t *ExceptionTracker) Open(tx *store.Tx, run *types.Run, in ExceptionInput) (*types.Exception, error) {
	if in.Type == "" {
		in.Type = types.ExceptionUnknown
	}
	now := t.now().UTC()
	exc := &types.Exception{
		ID:          uuid.NewString(),
		RunID:       run.ID,
		Type:        in.Type,
		Status:      types.ExceptionStatusOpen,
		Title:       in.Title,
		Description: in.Description,
		ErrorCode:   in.ErrorCode,
		StepName:    in.StepName,
		PolicyID:    in.PolicyID,
		Metadata:    in.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.PutException(exc); err != nil {
		return nil, err
	}
	return exc, nil
}

func (t *ExceptionTracker) Resolve(tx *store.Tx, exceptionID string, resolution types.ResolutionType, data types.Record, resolvedByID string) (*types.Exception, error) {
	if !resolution.Valid() {
		return nil, fmt.Errorf("%w: resolution type %q", ErrValidation, resolution)
	}
	exc, err := t.get(tx, exceptionID)
	if err != nil {
		return nil, err
	}
	if !exc.Status.Unresolved() {
		return nil, fmt.Errorf("%w: exception %s is %s", ErrAlreadyResolved, exc.ID, exc.Status)
	}
	now := t.now().UTC()
	exc.ResolutionType = resolution
	exc.ResolutionData = data
	exc.ResolvedByID = resolvedByID
	exc.ResolvedAt = &now
	exc.UpdatedAt = now
	if resolution == types.ResolutionIgnore {
		exc.Status = types.ExceptionStatusIgnored
	} else {
		exc.Status = types.ExceptionStatusResolved
	}
	if err := tx.PutException(exc); err != nil {
		return nil, err
	}
	return exc, nil
}

// MarkInProgress records that an operator has picked up an open exception.
func (t *ExceptionTracker) MarkInProgress(tx *store.Tx, exceptionID, assigneeID string) (*types.Exception, error) {
	exc, err := t.get(tx, exceptionID)
	if err != nil {
		return nil, err
	}
	switch exc.Status {
	case types.ExceptionStatusInProgress:
		return exc, nil
	case types.ExceptionStatusOpen:
	default:
		return nil, fmt.Errorf("%w: exception %s is %s", ErrExceptionNotOpen, exc.ID, exc.Status)
	}
	exc.Status = types.ExceptionStatusInProgress
	exc.AssigneeID = assigneeID
	exc.UpdatedAt = t.now().UTC()
	if err := tx.PutException(exc); err != nil {
		return nil, err
	}
	return exc, nil
}

func (t *ExceptionTracker) get(tx *store.Tx, exceptionID string) (*types.Exception, error) {
	exc, err := tx.GetException(exceptionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrExceptionNotFound, exceptionID)
	}
	return exc, err
}

// ClassifyFailure maps an executor failure to an exception type.
func ClassifyFailure(err error) types.ExceptionType {
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		return types.ExceptionUnknown
	}
	switch stepErr.Kind {
	case StepErrorTimeout:
		return types.ExceptionTimeout
	case StepErrorValidation:
		return types.ExceptionDataValidation
	case StepErrorIntegration, StepErrorCircuitOpen:
		return types.ExceptionIntegrationError
	default:
		return types.ExceptionUnknown
	}
}
