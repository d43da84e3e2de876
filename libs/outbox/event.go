package outbox

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Event is the envelope written to outbox_events. The Kafka topic equals EventType.
type Event struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// NewEvent marshals payload to JSON and assigns a fresh event id.
func NewEvent(aggregateType, aggregateID, eventType string, payload any) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("outbox: marshal %s: %w", eventType, err)
	}
	return Event{
		ID:            uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       body,
	}, nil
}
