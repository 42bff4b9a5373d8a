package steps

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"flowops/internal/types"
)

// CalendarEvent is the internal kickoff meeting a deal run asks for.
type CalendarEvent struct {
	Summary         string   `json:"summary"`
	Description     string   `json:"description"`
	Attendees       []string `json:"attendees"`
	DurationMinutes int      `json:"durationMinutes"`
	DealID          string   `json:"dealId"`
}

// ProcurementRecord is the row a procurement run files with the ops system.
type ProcurementRecord struct {
	DealID    string   `json:"dealId"`
	DealName  string   `json:"dealName"`
	Amount    float64  `json:"amount"`
	Stage     string   `json:"stage"`
	RiskLevel string   `json:"riskLevel"`
	RedFlags  []string `json:"redFlags"`
	Approvers []string `json:"approvers"`
	Status    string   `json:"status"`
}

// IntegrationReceipt is what a downstream system hands back.
type IntegrationReceipt struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Link   string `json:"link,omitempty"`
}

type CalendarClient interface {
	CreateEvent(ctx context.Context, event CalendarEvent) (IntegrationReceipt, error)
}

type ProcurementClient interface {
	CreateRecord(ctx context.Context, record ProcurementRecord) (IntegrationReceipt, error)
}

const statusNotConfigured = "not_configured"

// unconfiguredClient records the intent without calling anything.
type unconfiguredClient struct{}

func (unconfiguredClient) CreateEvent(_ context.Context, event CalendarEvent) (IntegrationReceipt, error) {
	return IntegrationReceipt{ID: "cal_" + event.DealID, Status: statusNotConfigured}, nil
}

func (unconfiguredClient) CreateRecord(_ context.Context, record ProcurementRecord) (IntegrationReceipt, error) {
	return IntegrationReceipt{ID: "proc_" + record.DealID, Status: statusNotConfigured}, nil
}

// WebhookClient posts integration payloads as JSON to an outbound hook and
// serves as both the calendar and the procurement client.
type WebhookClient struct {
	url   string
	token string
	http  *http.Client
}

func NewWebhookClient(url, token string, timeout time.Duration) *WebhookClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookClient{
		url:   strings.TrimSpace(url),
		token: strings.TrimSpace(token),
		http:  &http.Client{Timeout: timeout},
	}
}

func (c *WebhookClient) CreateEvent(ctx context.Context, event CalendarEvent) (IntegrationReceipt, error) {
	return c.post(ctx, "calendar.event", event)
}

func (c *WebhookClient) CreateRecord(ctx context.Context, record ProcurementRecord) (IntegrationReceipt, error) {
	return c.post(ctx, "procurement.record", record)
}

func (c *WebhookClient) post(ctx context.Context, kind string, payload any) (IntegrationReceipt, error) {
	body, err := json.Marshal(map[string]any{"kind": kind, "payload": payload})
	if err != nil {
		return IntegrationReceipt{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return IntegrationReceipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return IntegrationReceipt{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return IntegrationReceipt{}, fmt.Errorf("%s: %s: %s", kind, resp.Status, strings.TrimSpace(string(msg)))
	}
	var receipt IntegrationReceipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil && err != io.EOF {
		return IntegrationReceipt{}, fmt.Errorf("%s: decode receipt: %w", kind, err)
	}
	if receipt.Status == "" {
		receipt.Status = "created"
	}
	return receipt, nil
}

func receiptRecord(r IntegrationReceipt) types.Value {
	rec := types.Record{
		"id":     types.String(r.ID),
		"status": types.String(r.Status),
	}
	if r.Link != "" {
		rec["link"] = types.String(r.Link)
	}
	return types.Map(rec)
}
