package workflows

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"flowops/internal/types"
)

func TestExecutorUnknownStep(t *testing.T) {
	_, err := NewExecutor().Execute(context.Background(), "missing", nil)
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Kind != StepErrorUnknownStep {
		t.Fatalf("expected unknown step error, got %v", err)
	}
	if !errors.Is(err, ErrStepExecution) {
		t.Fatalf("expected ErrStepExecution in chain")
	}
	if ErrorKind(err) != KindStepExecution {
		t.Fatalf("unexpected kind %q", ErrorKind(err))
	}
}

func TestExecutorPassesCopyOfInput(t *testing.T) {
	exec := NewExecutor()
	exec.Register("mutate", func(_ context.Context, in types.Record) (types.Record, error) {
		in["amount"] = types.Number(1)
		return types.Record{"ok": types.Bool(true)}, nil
	})
	input := types.Record{"amount": types.Number(99)}
	out, err := exec.Execute(context.Background(), "mutate", input)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if v, _ := input["amount"].AsNumber(); v != 99 {
		t.Fatalf("caller input was mutated: %v", v)
	}
	if ok, _ := out["ok"].AsBool(); !ok {
		t.Fatalf("unexpected output %#v", out)
	}
}

func TestExecutorTimeout(t *testing.T) {
	exec := NewExecutor(WithStepTimeout(20 * time.Millisecond))
	exec.Register("slow", func(ctx context.Context, _ types.Record) (types.Record, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	_, err := exec.Execute(context.Background(), "slow", nil)
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Kind != StepErrorTimeout || !stepErr.Retryable {
		t.Fatalf("expected retryable timeout, got %v", err)
	}
	if ClassifyFailure(err) != types.ExceptionTimeout {
		t.Fatalf("expected TIMEOUT classification, got %s", ClassifyFailure(err))
	}
}

func TestExecutorKeepsOutcomeWhenCallerCancels(t *testing.T) {
	exec := NewExecutor()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exec.Register("book", func(context.Context, types.Record) (types.Record, error) {
		cancel()
		return types.Record{"booked": types.Bool(true)}, nil
	})
	out, err := exec.Execute(ctx, "book", nil)
	if err != nil {
		t.Fatalf("expected the finished step's output, got %v", err)
	}
	if ok, _ := out["booked"].AsBool(); !ok {
		t.Fatalf("unexpected output %#v", out)
	}
}

func TestExecutorRecoversPanics(t *testing.T) {
	exec := NewExecutor()
	exec.Register("explode", func(context.Context, types.Record) (types.Record, error) {
		panic("kaboom")
	})
	_, err := exec.Execute(context.Background(), "explode", nil)
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Kind != StepErrorPanic {
		t.Fatalf("expected panic error, got %v", err)
	}
	if IsRetryable(err) {
		t.Fatalf("panics should not be retried")
	}
}

func TestExecutorClassifiesStepErrors(t *testing.T) {
	exec := NewExecutor()
	exec.Register("invalid", func(context.Context, types.Record) (types.Record, error) {
		return nil, ValidationError("missing %s", "dealId")
	})
	exec.Register("downstream", func(context.Context, types.Record) (types.Record, error) {
		return nil, IntegrationError(errors.New("502 from calendar"))
	})
	_, err := exec.Execute(context.Background(), "invalid", nil)
	if IsRetryable(err) || ClassifyFailure(err) != types.ExceptionDataValidation {
		t.Fatalf("validation failure misclassified: %v", err)
	}
	_, err = exec.Execute(context.Background(), "downstream", nil)
	if !IsRetryable(err) || ClassifyFailure(err) != types.ExceptionIntegrationError {
		t.Fatalf("integration failure misclassified: %v", err)
	}
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Step != "downstream" {
		t.Fatalf("expected step name on error, got %#v", stepErr)
	}
}

func TestExecutorCircuitBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	var opened atomic.Bool
	exec := NewExecutor(
		WithBreakerSettings(2, time.Minute),
		WithBreakerStateHook(func(_ string, _, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				opened.Store(true)
			}
		}),
	)
	exec.Register("flaky", func(context.Context, types.Record) (types.Record, error) {
		calls.Add(1)
		return nil, IntegrationError(errors.New("unavailable"))
	})
	for i := 0; i < 2; i++ {
		if _, err := exec.Execute(context.Background(), "flaky", nil); err == nil {
			t.Fatalf("expected failure")
		}
	}
	_, err := exec.Execute(context.Background(), "flaky", nil)
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Kind != StepErrorCircuitOpen {
		t.Fatalf("expected circuit open error, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("open breaker should not call the step, got %d calls", calls.Load())
	}
	if !opened.Load() {
		t.Fatalf("expected breaker state hook to observe open")
	}
}

func TestExecutorValidationFailuresDoNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	exec := NewExecutor(WithBreakerSettings(1, time.Minute))
	exec.Register("strict", func(context.Context, types.Record) (types.Record, error) {
		calls.Add(1)
		return nil, ValidationError("bad input")
	})
	for i := 0; i < 3; i++ {
		_, _ = exec.Execute(context.Background(), "strict", nil)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected every call to reach the step, got %d", calls.Load())
	}
}
