package types

import "time"

type WebhookEventStatus string

const (
	WebhookEventReceived   WebhookEventStatus = "RECEIVED"
	WebhookEventProcessing WebhookEventStatus = "PROCESSING"
	WebhookEventProcessed  WebhookEventStatus = "PROCESSED"
	WebhookEventFailed     WebhookEventStatus = "FAILED"
	WebhookEventIgnored    WebhookEventStatus = "IGNORED"
)

type WebhookEvent struct {
	ID            string             `json:"id"`
	EventID       string             `json:"hubspotEventId"`
	EventType     string             `json:"eventType"`
	ObjectType    string             `json:"objectType"`
	ObjectID      string             `json:"objectId"`
	CorrelationID string             `json:"correlationId"`
	Payload       Record             `json:"payload,omitempty"`
	Signature     string             `json:"signature,omitempty"`
	Status        WebhookEventStatus `json:"status"`
	RunID         string             `json:"runId,omitempty"`
	ErrorMessage  string             `json:"errorMessage,omitempty"`
	RetryCount    int                `json:"retryCount"`
	OccurredAt    time.Time          `json:"occurredAt"`
	ReceivedAt    time.Time          `json:"receivedAt"`
	ProcessedAt   *time.Time         `json:"processedAt,omitempty"`
}
