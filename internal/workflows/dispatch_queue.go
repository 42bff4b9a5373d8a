package workflows

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"flowops/internal/logging"
	"flowops/internal/types"
)

// DispatchRequest asks a queue worker to drive one run.
type DispatchRequest struct {
	RunID  string
	Reason string
}

type DispatchResult struct {
	Run      *types.Run
	Err      error
	Attempts int
}

// RunProcessor drives a run; Service.Process satisfies it.
type RunProcessor func(ctx context.Context, runID string) (*types.Run, error)

// DispatchRetryPolicy returns the wait before retry attempt n (1-based), or
// ok=false once the request should be given up.
type DispatchRetryPolicy interface {
	NextDelay(attempt int) (delay time.Duration, ok bool)
}

// BoundedExponentialRetryPolicy doubles from InitialDelay up to MaxDelay and
// stops after MaxAttempts retries. Zero MaxAttempts means no limit.
type BoundedExponentialRetryPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
}

func (p BoundedExponentialRetryPolicy) NextDelay(attempt int) (time.Duration, bool) {
	if attempt <= 0 {
		attempt = 1
	}
	if p.MaxAttempts > 0 && attempt > p.MaxAttempts {
		return 0, false
	}
	initial := p.InitialDelay
	if initial <= 0 {
		initial = 250 * time.Millisecond
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 4 * time.Second
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		if delay >= maxDelay {
			return maxDelay, true
		}
		delay *= 2
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay, true
}

func defaultDispatchRetryPolicy() DispatchRetryPolicy {
	return BoundedExponentialRetryPolicy{
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     4 * time.Second,
		MaxAttempts:  8,
	}
}

// deferredDispatch reports errors that clear up once a competing writer is
// done with the run.
func deferredDispatch(err error) bool {
	return errors.Is(err, ErrConcurrentAdvance) || errors.Is(err, ErrVersionConflict)
}

type DispatchOption func(*DispatchQueue)

func WithDispatchWorkers(n int) DispatchOption {
	return func(q *DispatchQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithDispatchBuffer(n int) DispatchOption {
	return func(q *DispatchQueue) {
		if n > 0 {
			q.buffer = n
		}
	}
}

func WithDispatchRetryPolicy(policy DispatchRetryPolicy) DispatchOption {
	return func(q *DispatchQueue) {
		if policy != nil {
			q.retry = policy
		}
	}
}

// WithDispatchCompletion registers a callback invoked once per request with
// its final result.
func WithDispatchCompletion(fn func(DispatchRequest, DispatchResult)) DispatchOption {
	return func(q *DispatchQueue) {
		q.onDone = fn
	}
}

func WithDispatchLogger(logger logging.Logger) DispatchOption {
	return func(q *DispatchQueue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

type dispatchTask struct {
	req      DispatchRequest
	attempt  int
	resultCh chan DispatchResult
}

// DispatchQueue drives runs on a fixed pool of workers. Requests that lose a
// race with another writer are retried with backoff.
type DispatchQueue struct {
	process RunProcessor
	workers int
	buffer  int
	retry   DispatchRetryPolicy
	onDone  func(DispatchRequest, DispatchResult)
	logger  logging.Logger

	mu     sync.RWMutex
	closed bool
	tasks  chan dispatchTask
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDispatchQueue(process RunProcessor, opts ...DispatchOption) *DispatchQueue {
	q := &DispatchQueue{
		process: process,
		workers: 4,
		buffer:  256,
		retry:   defaultDispatchRetryPolicy(),
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	q.tasks = make(chan dispatchTask, q.buffer)
	q.ctx, q.cancel = context.WithCancel(context.Background())
	q.wg.Add(q.workers)
	for i := 0; i < q.workers; i++ {
		go q.loop()
	}
	return q
}

// Submit queues req without waiting. It returns false when the queue is
// closed or full.
func (q *DispatchQueue) Submit(req DispatchRequest) bool {
	req.RunID = strings.TrimSpace(req.RunID)
	if q == nil || req.RunID == "" {
		return false
	}
	return q.offer(dispatchTask{req: req, attempt: 1})
}

// Enqueue queues req and waits for its final result.
func (q *DispatchQueue) Enqueue(ctx context.Context, req DispatchRequest) (DispatchResult, bool) {
	req.RunID = strings.TrimSpace(req.RunID)
	if q == nil || req.RunID == "" {
		return DispatchResult{}, false
	}
	if ctx == nil {
		ctx = context.Background()
	}
	task := dispatchTask{req: req, attempt: 1, resultCh: make(chan DispatchResult, 1)}
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return DispatchResult{}, false
	}
	tasks, stop := q.tasks, q.ctx.Done()
	q.mu.RUnlock()

	select {
	case tasks <- task:
	case <-stop:
		return DispatchResult{}, false
	case <-ctx.Done():
		return DispatchResult{}, false
	}
	select {
	case result := <-task.resultCh:
		return result, true
	case <-stop:
		return DispatchResult{}, false
	case <-ctx.Done():
		return DispatchResult{}, false
	}
}

func (q *DispatchQueue) offer(task dispatchTask) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.tasks <- task:
		return true
	default:
		return false
	}
}

// Close stops the workers and waits for in-flight requests to return.
func (q *DispatchQueue) Close() {
	if q == nil {
		return
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.cancel()
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *DispatchQueue) loop() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case task := <-q.tasks:
			q.handle(task)
		}
	}
}

func (q *DispatchQueue) handle(task dispatchTask) {
	run, err := q.process(q.ctx, task.req.RunID)
	if err != nil && deferredDispatch(err) && q.ctx.Err() == nil {
		if delay, ok := q.retry.NextDelay(task.attempt); ok {
			q.logger.Debug("dispatch_deferred",
				logging.F("run_id", task.req.RunID),
				logging.F("attempt", task.attempt),
				logging.F("delay", delay),
			)
			go q.retryAfter(task, delay)
			return
		}
	}
	if err != nil && q.ctx.Err() == nil {
		q.logger.Warn("dispatch_failed",
			logging.F("run_id", task.req.RunID),
			logging.F("reason", task.req.Reason),
			logging.F("error", err),
		)
	}
	q.finish(task, DispatchResult{Run: run, Err: err, Attempts: task.attempt})
}

func (q *DispatchQueue) retryAfter(task dispatchTask, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-q.ctx.Done():
		q.finish(task, DispatchResult{Err: q.ctx.Err(), Attempts: task.attempt})
		return
	}
	task.attempt++
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		q.finish(task, DispatchResult{Err: context.Canceled, Attempts: task.attempt})
		return
	}
	select {
	case q.tasks <- task:
	case <-q.ctx.Done():
		q.finish(task, DispatchResult{Err: q.ctx.Err(), Attempts: task.attempt})
	}
}

func (q *DispatchQueue) finish(task dispatchTask, result DispatchResult) {
	if q.onDone != nil {
		q.onDone(task.req, result)
	}
	if task.resultCh != nil {
		task.resultCh <- result
	}
}
