package workflows

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"flowops/internal/types"
)

// StepFunc performs one named workflow step. Implementations should honor ctx.
type StepFunc func(ctx context.Context, input types.Record) (types.Record, error)

type StepErrorKind string

const (
	StepErrorUnknownStep StepErrorKind = "unknown_step"
	StepErrorTimeout     StepErrorKind = "timeout"
	StepErrorValidation  StepErrorKind = "validation"
	StepErrorIntegration StepErrorKind = "integration"
	StepErrorCircuitOpen StepErrorKind = "circuit_open"
	StepErrorPanic       StepErrorKind = "panic"
	StepErrorFailed      StepErrorKind = "failed"
)

// StepError is the normalized failure of a step invocation.
type StepError struct {
	Step      string
	Kind      StepErrorKind
	Retryable bool
	Err       error
}

func (e *StepError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("step %s: %s", e.Step, e.Kind)
	}
	return fmt.Sprintf("step %s: %s: %v", e.Step, e.Kind, e.Err)
}

func (e *StepError) Unwrap() []error {
	if e == nil {
		return nil
	}
	if e.Err == nil {
		return []error{ErrStepExecution}
	}
	return []error{ErrStepExecution, e.Err}
}

// ValidationError marks input the step cannot work with. It is not retried.
func ValidationError(format string, args ...any) error {
	return &StepError{Kind: StepErrorValidation, Err: fmt.Errorf(format, args...)}
}

// IntegrationError marks a downstream system failure. It is retried.
func IntegrationError(err error) error {
	return &StepError{Kind: StepErrorIntegration, Retryable: true, Err: err}
}

// IsRetryable reports whether another attempt of the same step may succeed.
func IsRetryable(err error) bool {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Retryable
	}
	return err != nil
}

type ExecutorOption func(*Executor)

func WithStepTimeout(timeout time.Duration) ExecutorOption {
	return func(e *Executor) {
		if timeout > 0 {
			e.timeout = timeout
		}
	}
}

// WithBreakerSettings overrides circuit breaker tuning for every step.
func WithBreakerSettings(failures uint32, openFor time.Duration) ExecutorOption {
	return func(e *Executor) {
		if failures > 0 {
			e.breakerFailures = failures
		}
		if openFor > 0 {
			e.breakerOpenFor = openFor
		}
	}
}

func WithBreakerStateHook(fn func(step string, from, to gobreaker.State)) ExecutorOption {
	return func(e *Executor) {
		e.onBreakerChange = fn
	}
}

// Executor dispatches step names to injected StepFuncs with a timeout and a
// per-step circuit breaker.
type Executor struct {
	mu              sync.RWMutex
	steps           map[string]StepFunc
	breakers        map[string]*gobreaker.CircuitBreaker
	timeout         time.Duration
	breakerFailures uint32
	breakerOpenFor  time.Duration
	onBreakerChange func(step string, from, to gobreaker.State)
}

func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		steps:           map[string]StepFunc{},
		breakers:        map[string]*gobreaker.CircuitBreaker{},
		timeout:         30 * time.Second,
		breakerFailures: 5,
		breakerOpenFor:  30 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func (e *Executor) Register(name string, fn StepFunc) {
	name = strings.TrimSpace(name)
	if name == "" || fn == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.steps[name] = fn
	delete(e.breakers, name)
}

func (e *Executor) Has(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.steps[name]
	return ok
}

func (e *Executor) StepNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.steps))
	for name := range e.steps {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Execute runs stepName once. Failures are always *StepError.
func (e *Executor) Execute(ctx context.Context, stepName string, input types.Record) (types.Record, error) {
	fn, breaker := e.lookup(stepName)
	if fn == nil {
		return nil, &StepError{Step: stepName, Kind: StepErrorUnknownStep, Err: fmt.Errorf("no step registered as %q", stepName)}
	}
	result, err := breaker.Execute(func() (interface{}, error) {
		return e.invoke(ctx, stepName, fn, input.Clone())
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &StepError{Step: stepName, Kind: StepErrorCircuitOpen, Err: err}
		}
		return nil, err
	}
	out, _ := result.(types.Record)
	if out == nil {
		out = types.Record{}
	}
	return out, nil
}

func (e *Executor) lookup(stepName string) (StepFunc, *gobreaker.CircuitBreaker) {
	e.mu.RLock()
	fn := e.steps[stepName]
	breaker := e.breakers[stepName]
	e.mu.RUnlock()
	if fn == nil || breaker != nil {
		return fn, breaker
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if breaker = e.breakers[stepName]; breaker != nil {
		return fn, breaker
	}
	failures := e.breakerFailures
	onChange := e.onBreakerChange
	breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    stepName,
		Timeout: e.breakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			var stepErr *StepError
			if errors.As(err, &stepErr) {
				return stepErr.Kind == StepErrorValidation
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if onChange != nil {
				onChange(name, from, to)
			}
		},
	})
	e.breakers[stepName] = breaker
	return fn, breaker
}

// cancelGrace bounds how long a cancelled caller waits for a step to return.
const cancelGrace = 5 * time.Second

type stepOutcome struct {
	out types.Record
	err error
}

func (e *Executor) invoke(ctx context.Context, stepName string, fn StepFunc, input types.Record) (types.Record, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	done := make(chan stepOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- stepOutcome{err: &StepError{Step: stepName, Kind: StepErrorPanic, Err: fmt.Errorf("%v", r)}}
			}
		}()
		out, err := fn(callCtx, input)
		done <- stepOutcome{out: out, err: err}
	}()
	select {
	case res := <-done:
		return res.result(stepName)
	case <-callCtx.Done():
		if ctx.Err() == nil {
			return nil, &StepError{Step: stepName, Kind: StepErrorTimeout, Retryable: true, Err: fmt.Errorf("exceeded %s", e.timeout)}
		}
	}
	// The caller went away; a step that still finishes keeps its outcome.
	grace := time.NewTimer(cancelGrace)
	defer grace.Stop()
	select {
	case res := <-done:
		return res.result(stepName)
	case <-grace.C:
		return nil, &StepError{Step: stepName, Kind: StepErrorFailed, Err: ctx.Err()}
	}
}

func (o stepOutcome) result(stepName string) (types.Record, error) {
	if o.err != nil {
		return nil, normalizeStepError(stepName, o.err)
	}
	return o.out, nil
}

func normalizeStepError(stepName string, err error) error {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		normalized := *stepErr
		normalized.Step = stepName
		return &normalized
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &StepError{Step: stepName, Kind: StepErrorTimeout, Retryable: true, Err: err}
	}
	return &StepError{Step: stepName, Kind: StepErrorFailed, Retryable: true, Err: err}
}
