package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"flowops/internal/steps"
	"flowops/internal/store"
	"flowops/internal/types"
	"flowops/internal/workflows"
)

const dealAmountEvent = `[{
	"eventId": 100,
	"subscriptionId": 7,
	"portalId": 42,
	"occurredAt": 1700000000000,
	"subscriptionType": "deal.propertyChange",
	"attemptNumber": 0,
	"objectId": 1234,
	"propertyName": "amount",
	"propertyValue": "60000"
}]`

func TestParseBatchBuildsEnvelope(t *testing.T) {
	events, err := ParseBatch([]byte(dealAmountEvent))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	received := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	env := events[0].Envelope(received)
	meta := env.Meta
	if meta.CorrelationID != "44d628db7f596029" {
		t.Fatalf("unexpected correlation id %q", meta.CorrelationID)
	}
	if meta.EventID != "100" || meta.ObjectID != "1234" || meta.ObjectType != "deal" || meta.Source != SourceHubSpot {
		t.Fatalf("unexpected meta: %#v", meta)
	}
	if !meta.OccurredAt.Equal(time.UnixMilli(1700000000000)) || !meta.ReceivedAt.Equal(received) {
		t.Fatalf("unexpected timestamps: %v %v", meta.OccurredAt, meta.ReceivedAt)
	}
	props := env.Payload.Map("object").Map("properties")
	if props.String("amount") != "60000" {
		t.Fatalf("expected changed property in object properties, got %#v", props)
	}
	if env.Payload.String("propertyName") != "amount" {
		t.Fatalf("expected raw event fields in payload, got %#v", env.Payload)
	}
}

func TestParseBatchRejectsNonArray(t *testing.T) {
	if _, err := ParseBatch([]byte(`{"eventId":1}`)); err == nil {
		t.Fatalf("expected error for object body")
	}
}

func TestObjectTypeFromSubscription(t *testing.T) {
	cases := map[string]string{
		"contact.creation":       "contact",
		"company.propertyChange": "company",
		"deal.deletion":          "deal",
		"ticket.creation":        "unknown",
	}
	for sub, want := range cases {
		if got := (HubSpotEvent{SubscriptionType: sub}).ObjectType(); got != want {
			t.Fatalf("%s: expected %s, got %s", sub, want, got)
		}
	}
}

func TestSignatureVerifier(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	v := NewSignatureVerifier("shh", 0)
	v.now = func() time.Time { return now }
	body := []byte(`[]`)
	ts := strconv.FormatInt(now.UnixMilli(), 10)
	uri := "https://hooks.example.com/webhooks/hubspot"
	sig := v.Sign(http.MethodPost, uri, body, ts)

	if err := v.Verify(http.MethodPost, uri, body, sig, ts); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
	if err := v.Verify(http.MethodPost, uri, []byte(`[1]`), sig, ts); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected invalid signature for tampered body, got %v", err)
	}
	if err := v.Verify(http.MethodPost, uri, body, "", ts); !errors.Is(err, ErrMissingSignature) {
		t.Fatalf("expected missing signature, got %v", err)
	}
	old := strconv.FormatInt(now.Add(-6*time.Minute).UnixMilli(), 10)
	if err := v.Verify(http.MethodPost, uri, body, v.Sign(http.MethodPost, uri, body, old), old); !errors.Is(err, ErrStaleTimestamp) {
		t.Fatalf("expected stale timestamp, got %v", err)
	}
	if err := NewSignatureVerifier("", 0).Verify(http.MethodPost, uri, body, "", ""); err != nil {
		t.Fatalf("verification without a secret must pass, got %v", err)
	}
}

type intakeFixture struct {
	store     store.Store
	svc       *workflows.Service
	processor *Processor
}

func newIntakeFixture(t *testing.T) *intakeFixture {
	t.Helper()
	st := store.NewMemoryStore()
	exec := workflows.NewExecutor()
	steps.Register(exec, steps.Deps{Store: st})
	svc := workflows.NewService(st, workflows.WithExecutor(exec))
	p := NewProcessor(st, svc)
	t.Cleanup(p.Close)
	return &intakeFixture{store: st, svc: svc, processor: p}
}

func (f *intakeFixture) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.processor.Wait(ctx); err != nil {
		t.Fatalf("wait for dispatch: %v", err)
	}
}

func (f *intakeFixture) webhookEvents(t *testing.T) []*types.WebhookEvent {
	t.Helper()
	var events []*types.WebhookEvent
	err := f.store.View(context.Background(), func(tx *store.Tx) error {
		var err error
		events, err = tx.ListWebhookEvents(store.WebhookEventFilter{})
		return err
	})
	if err != nil {
		t.Fatalf("list webhook events: %v", err)
	}
	return events
}

func TestProcessorRunsWorkflowAndRecordsEvent(t *testing.T) {
	f := newIntakeFixture(t)
	events, err := ParseBatch([]byte(dealAmountEvent))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	outcomes := f.processor.Handle(context.Background(), events, "sig")
	if len(outcomes) != 1 || outcomes[0].Status != types.WebhookEventProcessing || outcomes[0].WorkflowID != workflows.WorkflowProcurementApproval {
		t.Fatalf("unexpected outcomes: %#v", outcomes)
	}
	f.wait(t)

	run, err := f.svc.GetRun(context.Background(), outcomes[0].RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != types.RunStatusCompleted {
		t.Fatalf("expected completed run, got %s (%s)", run.Status, run.ErrorMessage)
	}
	recorded := f.webhookEvents(t)
	if len(recorded) != 1 || recorded[0].Status != types.WebhookEventProcessed || recorded[0].RunID != run.ID {
		t.Fatalf("unexpected webhook ledger: %#v", recorded)
	}
	if recorded[0].Signature != "sig" || recorded[0].ProcessedAt == nil {
		t.Fatalf("expected signature and processed time, got %#v", recorded[0])
	}
	var deal *types.Deal
	_ = f.store.View(context.Background(), func(tx *store.Tx) error {
		deal, _ = tx.GetDeal("1234")
		return nil
	})
	if deal == nil || deal.Amount != 60000 {
		t.Fatalf("expected mirrored deal, got %#v", deal)
	}
}

func TestProcessorSkipsDuplicateEventIDs(t *testing.T) {
	f := newIntakeFixture(t)
	events, _ := ParseBatch([]byte(dealAmountEvent))
	first := f.processor.Handle(context.Background(), events, "")
	f.wait(t)
	second := f.processor.Handle(context.Background(), events, "")
	if !second[0].Duplicate || second[0].RunID != first[0].RunID {
		t.Fatalf("expected duplicate pointing at the first run, got %#v", second[0])
	}
	if n := len(f.webhookEvents(t)); n != 1 {
		t.Fatalf("expected a single ledger row, got %d", n)
	}
}

func TestProcessorIgnoresUnroutedEvents(t *testing.T) {
	f := newIntakeFixture(t)
	events, _ := ParseBatch([]byte(`[{"eventId":5,"occurredAt":1,"subscriptionType":"deal.propertyChange","objectId":9,"propertyName":"closedate","propertyValue":"x"}]`))
	outcomes := f.processor.Handle(context.Background(), events, "")
	if outcomes[0].Status != types.WebhookEventIgnored || outcomes[0].RunID != "" {
		t.Fatalf("expected ignored event, got %#v", outcomes[0])
	}
	recorded := f.webhookEvents(t)
	if len(recorded) != 1 || recorded[0].Status != types.WebhookEventIgnored {
		t.Fatalf("unexpected ledger: %#v", recorded)
	}
}

func TestHandlerVerifiesAndAccepts(t *testing.T) {
	f := newIntakeFixture(t)
	verifier := NewSignatureVerifier("secret", 0)
	h := NewHandler(f.processor, verifier, HandlerConfig{PublicURL: "https://hooks.example.com"}, nil)
	body := []byte(dealAmountEvent)
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/hubspot", bytes.NewReader(body))
	req.Header.Set(HeaderRequestTimestamp, ts)
	req.Header.Set(HeaderSignatureV3, verifier.Sign(http.MethodPost, "https://hooks.example.com/webhooks/hubspot", body, ts))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		ProcessedEvents []Outcome `json:"processedEvents"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.ProcessedEvents) != 1 || resp.ProcessedEvents[0].RunID == "" {
		t.Fatalf("unexpected response: %#v", resp)
	}
	f.wait(t)

	bad := httptest.NewRequest(http.MethodPost, "/webhooks/hubspot", bytes.NewReader(body))
	bad.Header.Set(HeaderRequestTimestamp, ts)
	bad.Header.Set(HeaderSignatureV3, "bogus")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, bad)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", rec.Code)
	}
}

func TestHandlerRateLimits(t *testing.T) {
	f := newIntakeFixture(t)
	h := NewHandler(f.processor, NewSignatureVerifier("", 0), HandlerConfig{RatePerSecond: 0.001, Burst: 1}, nil)
	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/hubspot", bytes.NewReader([]byte(`[]`))))
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusAccepted || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("expected 202 then 429, got %v", codes)
	}
}
