package store

import (
	"fmt"
	"sort"

	"flowops/internal/types"
)

type WebhookEventFilter struct {
	Status types.WebhookEventStatus
}

// InsertWebhookEvent records a delivery. HubSpot event ids are unique.
func (tx *Tx) InsertWebhookEvent(event *types.WebhookEvent) error {
	if event == nil || event.ID == "" || event.EventID == "" {
		return fmt.Errorf("webhook event requires id and event id")
	}
	if _, exists, err := tx.getRaw(bucketWebhookIndex, event.EventID); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("%w: %s", ErrDuplicateEventID, event.EventID)
	}
	if err := tx.putJSON(bucketWebhookEvents, event.ID, event); err != nil {
		return err
	}
	return tx.putRaw(bucketWebhookIndex, event.EventID, event.ID)
}

func (tx *Tx) UpdateWebhookEvent(event *types.WebhookEvent) error {
	if _, err := tx.GetWebhookEvent(event.ID); err != nil {
		return err
	}
	return tx.putJSON(bucketWebhookEvents, event.ID, event)
}

func (tx *Tx) GetWebhookEvent(id string) (*types.WebhookEvent, error) {
	var event types.WebhookEvent
	ok, err := tx.getJSON(bucketWebhookEvents, id, &event)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("webhook event", id)
	}
	return &event, nil
}

func (tx *Tx) FindWebhookEventByEventID(eventID string) (*types.WebhookEvent, error) {
	id, ok, err := tx.getRaw(bucketWebhookIndex, eventID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("webhook event", eventID)
	}
	return tx.GetWebhookEvent(id)
}

// ListWebhookEvents returns deliveries, newest first.
func (tx *Tx) ListWebhookEvents(filter WebhookEventFilter) ([]*types.WebhookEvent, error) {
	out := make([]*types.WebhookEvent, 0)
	err := scan(tx, bucketWebhookEvents, "", func(e *types.WebhookEvent) error {
		if filter.Status != "" && e.Status != filter.Status {
			return nil
		}
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})
	return out, nil
}
