package intake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"flowops/internal/logging"
	"flowops/internal/store"
	"flowops/internal/types"
	"flowops/internal/workflows"
)

const webhookActor = "hubspot-webhook"

// Outcome is the per-event answer returned to the webhook caller.
type Outcome struct {
	EventID       string                   `json:"eventId"`
	CorrelationID string                   `json:"correlationId"`
	Status        types.WebhookEventStatus `json:"status"`
	RunID         string                   `json:"runId,omitempty"`
	WorkflowID    string                   `json:"workflowId,omitempty"`
	Duplicate     bool                     `json:"duplicate,omitempty"`
	Error         string                   `json:"error,omitempty"`
}

type ProcessorOption func(*Processor)

func WithProcessorLogger(logger logging.Logger) ProcessorOption {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithProcessorMetrics(metrics *workflows.Metrics) ProcessorOption {
	return func(p *Processor) {
		p.metrics = metrics
	}
}

func WithProcessorClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// WithDispatchOptions tunes the queue the processor drives runs through.
func WithDispatchOptions(opts ...workflows.DispatchOption) ProcessorOption {
	return func(p *Processor) {
		p.dispatchOpts = append(p.dispatchOpts, opts...)
	}
}

// Processor records webhook deliveries, creates runs and drives them in the
// background.
type Processor struct {
	store        store.Store
	svc          *workflows.Service
	queue        *workflows.DispatchQueue
	logger       logging.Logger
	metrics      *workflows.Metrics
	now          func() time.Time
	dispatchOpts []workflows.DispatchOption

	mu       sync.Mutex
	inflight map[string]string
	idle     *sync.Cond
}

func NewProcessor(st store.Store, svc *workflows.Service, opts ...ProcessorOption) *Processor {
	p := &Processor{
		store:    st,
		svc:      svc,
		logger:   logging.Nop(),
		now:      time.Now,
		inflight: map[string]string{},
	}
	p.idle = sync.NewCond(&p.mu)
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	queueOpts := append([]workflows.DispatchOption{
		workflows.WithDispatchLogger(p.logger),
	}, p.dispatchOpts...)
	queueOpts = append(queueOpts, workflows.WithDispatchCompletion(p.dispatchCompleted))
	p.queue = workflows.NewDispatchQueue(svc.Process, queueOpts...)
	return p
}

// Dispatch asks the background workers to drive a run.
func (p *Processor) Dispatch(runID, reason string) bool {
	return p.queue.Submit(workflows.DispatchRequest{RunID: runID, Reason: reason})
}

func (p *Processor) Close() {
	p.queue.Close()
}

// Wait blocks until every webhook-started run has been dispatched once.
func (p *Processor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.mu.Lock()
		for len(p.inflight) > 0 {
			p.idle.Wait()
		}
		p.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handle processes a batch. One bad event does not stop the rest.
func (p *Processor) Handle(ctx context.Context, events []HubSpotEvent, signature string) []Outcome {
	outcomes := make([]Outcome, 0, len(events))
	for _, event := range events {
		outcome, err := p.handleOne(ctx, event, signature)
		if err != nil {
			p.logger.Error("webhook_event_failed",
				logging.F("event_id", outcome.EventID),
				logging.F("subscription_type", event.SubscriptionType),
				logging.F("error", err),
			)
			outcome.Error = err.Error()
		}
		p.metrics.WebhookEvent(string(outcome.Status))
		outcomes = append(outcomes, outcome)
	}
	p.logger.Info("webhook_batch_processed", logging.F("events", len(events)))
	return outcomes
}

func (p *Processor) handleOne(ctx context.Context, event HubSpotEvent, signature string) (Outcome, error) {
	env := event.Envelope(p.now())
	outcome := Outcome{EventID: env.Meta.EventID, CorrelationID: env.Meta.CorrelationID, Status: types.WebhookEventReceived}
	record := &types.WebhookEvent{
		ID:            uuid.NewString(),
		EventID:       env.Meta.EventID,
		EventType:     env.Meta.EventType,
		ObjectType:    env.Meta.ObjectType,
		ObjectID:      env.Meta.ObjectID,
		CorrelationID: env.Meta.CorrelationID,
		Payload:       env.Payload,
		Signature:     signature,
		Status:        types.WebhookEventReceived,
		RetryCount:    max(event.AttemptNumber, 0),
		OccurredAt:    env.Meta.OccurredAt,
		ReceivedAt:    env.Meta.ReceivedAt,
	}
	err := p.store.Update(ctx, func(tx *store.Tx) error {
		if err := tx.InsertWebhookEvent(record); err != nil {
			return err
		}
		return mirrorObject(tx, env, p.now().UTC())
	})
	if errors.Is(err, store.ErrDuplicateEventID) {
		outcome.Duplicate = true
		return p.duplicateOutcome(ctx, outcome)
	}
	if err != nil {
		outcome.Status = types.WebhookEventFailed
		return outcome, fmt.Errorf("record webhook event: %w", err)
	}

	// The ledger row exists; it is settled even if the delivery is dropped.
	ctx = context.WithoutCancel(ctx)
	run, created, err := p.svc.CreateRun(ctx, env, webhookActor)
	switch {
	case errors.Is(err, workflows.ErrWorkflowNotFound):
		outcome.Status = types.WebhookEventIgnored
		p.finishRecord(ctx, record.ID, types.WebhookEventIgnored, "", "no workflow for "+env.Meta.EventType)
		return outcome, nil
	case err != nil:
		outcome.Status = types.WebhookEventFailed
		p.finishRecord(ctx, record.ID, types.WebhookEventFailed, "", err.Error())
		return outcome, err
	}
	outcome.RunID = run.ID
	outcome.WorkflowID = run.WorkflowID
	if !created {
		outcome.Status = types.WebhookEventProcessed
		p.finishRecord(ctx, record.ID, types.WebhookEventProcessed, run.ID, "")
		return outcome, nil
	}

	outcome.Status = types.WebhookEventProcessing
	p.finishRecord(ctx, record.ID, types.WebhookEventProcessing, run.ID, "")
	p.mu.Lock()
	p.inflight[run.ID] = record.ID
	p.mu.Unlock()
	if !p.Dispatch(run.ID, "webhook") {
		p.dispatchCompleted(workflows.DispatchRequest{RunID: run.ID}, workflows.DispatchResult{Err: errors.New("dispatch queue unavailable")})
		outcome.Status = types.WebhookEventFailed
		return outcome, errors.New("dispatch queue unavailable")
	}
	p.logger.Info("webhook_run_dispatched",
		logging.F("event_id", record.EventID),
		logging.F("run_id", run.ID),
		logging.F("workflow_id", run.WorkflowID),
	)
	return outcome, nil
}

func (p *Processor) duplicateOutcome(ctx context.Context, outcome Outcome) (Outcome, error) {
	var existing *types.WebhookEvent
	err := p.store.View(ctx, func(tx *store.Tx) error {
		var err error
		existing, err = tx.FindWebhookEventByEventID(outcome.EventID)
		return err
	})
	if err != nil {
		return outcome, err
	}
	outcome.Status = existing.Status
	outcome.RunID = existing.RunID
	p.logger.Debug("webhook_event_duplicate", logging.F("event_id", outcome.EventID))
	return outcome, nil
}

func (p *Processor) dispatchCompleted(req workflows.DispatchRequest, result workflows.DispatchResult) {
	p.mu.Lock()
	recordID, ok := p.inflight[req.RunID]
	delete(p.inflight, req.RunID)
	if len(p.inflight) == 0 {
		p.idle.Broadcast()
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	status, msg := types.WebhookEventProcessed, ""
	if result.Err != nil {
		status, msg = types.WebhookEventFailed, result.Err.Error()
	}
	p.finishRecord(context.Background(), recordID, status, req.RunID, msg)
	p.metrics.WebhookEvent(string(status))
}

func (p *Processor) finishRecord(ctx context.Context, id string, status types.WebhookEventStatus, runID, msg string) {
	err := p.store.Update(ctx, func(tx *store.Tx) error {
		event, err := tx.GetWebhookEvent(id)
		if err != nil {
			return err
		}
		event.Status = status
		if runID != "" {
			event.RunID = runID
		}
		event.ErrorMessage = msg
		if status != types.WebhookEventProcessing {
			now := p.now().UTC()
			event.ProcessedAt = &now
		}
		return tx.UpdateWebhookEvent(event)
	})
	if err != nil {
		p.logger.Warn("webhook_event_update_failed", logging.F("id", id), logging.F("error", err))
	}
}

// mirrorObject makes sure the CRM mirror knows the object the event is about.
// Existing rows only pick up the changed property.
func mirrorObject(tx *store.Tx, env types.EventEnvelope, now time.Time) error {
	id := env.Meta.ObjectID
	if id == "" {
		return nil
	}
	changed := env.Payload.Map("object").Map("properties")
	switch env.Meta.ObjectType {
	case "company":
		account, err := tx.GetAccount(id)
		if errors.Is(err, store.ErrNotFound) {
			account, err = &types.Account{ID: uuid.NewString(), HubspotID: id, CreatedAt: now}, nil
		}
		if err != nil {
			return err
		}
		account.Properties = account.Properties.Merge(changed)
		account.UpdatedAt = now
		return tx.PutAccount(account)
	case "contact":
		contact, err := tx.GetContact(id)
		if errors.Is(err, store.ErrNotFound) {
			contact, err = &types.Contact{ID: uuid.NewString(), HubspotID: id, CreatedAt: now}, nil
		}
		if err != nil {
			return err
		}
		contact.Properties = contact.Properties.Merge(changed)
		contact.UpdatedAt = now
		return tx.PutContact(contact)
	case "deal":
		deal, err := tx.GetDeal(id)
		if errors.Is(err, store.ErrNotFound) {
			deal, err = &types.Deal{ID: uuid.NewString(), HubspotID: id, CreatedAt: now}, nil
		}
		if err != nil {
			return err
		}
		deal.Properties = deal.Properties.Merge(changed)
		deal.UpdatedAt = now
		return tx.PutDeal(deal)
	}
	return nil
}
