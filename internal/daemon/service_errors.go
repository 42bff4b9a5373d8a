package daemon

import (
	"errors"
	"fmt"

	"flowops/internal/workflows"
)

// ServiceError is a request-level failure raised by the HTTP layer itself.
// Kind uses the same vocabulary as workflows.ErrorKind.
type ServiceError struct {
	Kind    string
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind
	}
}

func (e *ServiceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

const (
	kindUnauthorized = "unauthorized"
	kindUnavailable  = "unavailable"
)

func invalidError(message string, err error) *ServiceError {
	return &ServiceError{Kind: workflows.KindValidation, Message: message, Err: err}
}

func forbiddenError(message string) *ServiceError {
	return &ServiceError{Kind: workflows.KindForbidden, Message: message, Err: workflows.ErrForbidden}
}

func unauthorizedError(message string, err error) *ServiceError {
	return &ServiceError{Kind: kindUnauthorized, Message: message, Err: err}
}

func unavailableError(message string, err error) *ServiceError {
	return &ServiceError{Kind: kindUnavailable, Message: message, Err: err}
}

// errorKind prefers an explicit ServiceError kind over the workflow mapping.
func errorKind(err error) string {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) && svcErr.Kind != "" {
		return svcErr.Kind
	}
	return workflows.ErrorKind(err)
}
