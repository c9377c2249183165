// Package outbox records events inside the transaction that produced them and
// relays them to Kafka once committed. Delivery is at-least-once; consumers
// dedupe by event id.
package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is one committed fact waiting to be published.
type Event struct {
	ID          uuid.UUID
	AggregateID string
	Type        string
	Payload     []byte
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// NewEvent marshals payload and stamps the event with a time-ordered id.
func NewEvent(aggregateID, eventType string, payload any, at time.Time) (*Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate event id: %w", err)
	}
	return &Event{
		ID:          id,
		AggregateID: aggregateID,
		Type:        eventType,
		Payload:     raw,
		CreatedAt:   at,
	}, nil
}
