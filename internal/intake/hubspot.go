// Package intake turns HubSpot webhook deliveries into event envelopes,
// records them in the webhook ledger, and hands the resulting runs to the
// dispatch queue.
package intake

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"flowops/internal/types"
)

const (
	SourceHubSpot   = "hubspot"
	EnvelopeVersion = "1.0"
)

// HubSpotEvent is one element of a HubSpot webhook batch. Numeric fields keep
// their wire text so correlation ids match what other consumers compute.
type HubSpotEvent struct {
	EventID          json.Number `json:"eventId"`
	SubscriptionID   json.Number `json:"subscriptionId"`
	PortalID         json.Number `json:"portalId"`
	AppID            json.Number `json:"appId"`
	OccurredAt       json.Number `json:"occurredAt"`
	SubscriptionType string      `json:"subscriptionType"`
	AttemptNumber    int         `json:"attemptNumber"`
	ObjectID         json.Number `json:"objectId"`
	PropertyName     string      `json:"propertyName,omitempty"`
	PropertyValue    string      `json:"propertyValue,omitempty"`
	ChangeSource     string      `json:"changeSource,omitempty"`

	raw types.Record
}

// ParseBatch decodes a webhook body. HubSpot always posts a JSON array.
func ParseBatch(body []byte) ([]HubSpotEvent, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("request body must be a JSON array of events: %w", err)
	}
	events := make([]HubSpotEvent, 0, len(items))
	for i, item := range items {
		event, err := parseEvent(item)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		events = append(events, event)
	}
	return events, nil
}

func parseEvent(data []byte) (HubSpotEvent, error) {
	var event HubSpotEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return HubSpotEvent{}, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return HubSpotEvent{}, err
	}
	rec, err := types.RecordFromAny(raw)
	if err != nil {
		return HubSpotEvent{}, err
	}
	event.raw = rec
	return event, nil
}

// ObjectType is the subscription type prefix, or "unknown".
func (e HubSpotEvent) ObjectType() string {
	for _, prefix := range []string{"contact", "company", "deal"} {
		if strings.HasPrefix(e.SubscriptionType, prefix+".") {
			return prefix
		}
	}
	return "unknown"
}

// CorrelationID is the first 16 hex digits of
// sha256("subscriptionType-objectId-occurredAt").
func (e HubSpotEvent) CorrelationID() string {
	source := fmt.Sprintf("%s-%s-%s", e.SubscriptionType, e.ObjectID.String(), e.OccurredAt.String())
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])[:16]
}

func (e HubSpotEvent) occurredAt() time.Time {
	ms, err := e.OccurredAt.Int64()
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Envelope builds the run intake envelope. The payload is the delivered event
// with an object section carrying the changed property.
func (e HubSpotEvent) Envelope(receivedAt time.Time) types.EventEnvelope {
	eventID := e.EventID.String()
	if eventID == "" {
		eventID = uuid.NewString()
	}
	objectID := e.ObjectID.String()
	payload := e.raw.Clone()
	if payload == nil {
		payload = types.Record{}
	}
	props := types.Record{}
	if e.PropertyName != "" {
		props[e.PropertyName] = types.String(e.PropertyValue)
	}
	payload["object"] = types.Map(types.Record{
		"id":         types.String(objectID),
		"type":       types.String(e.ObjectType()),
		"properties": types.Map(props),
	})
	return types.EventEnvelope{
		Meta: types.EnvelopeMeta{
			EventID:       eventID,
			Source:        SourceHubSpot,
			EventType:     e.SubscriptionType,
			ObjectType:    e.ObjectType(),
			ObjectID:      objectID,
			PropertyName:  e.PropertyName,
			OccurredAt:    e.occurredAt(),
			ReceivedAt:    receivedAt.UTC(),
			CorrelationID: e.CorrelationID(),
			Version:       EnvelopeVersion,
		},
		Payload: payload,
	}
}
