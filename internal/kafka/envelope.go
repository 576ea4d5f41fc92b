package kafka

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // e.g. OrderCreated
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g. "surplus-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // usually order_id or listing_id
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps payload as a version 1 event.
func NewEnvelope(eventType, producer, correlationID string, payload any) Envelope {
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       MustMarshal(payload),
	}
}

// Headers returns the routing headers consumers filter on.
func (e Envelope) Headers() []kafka.Header {
	return []kafka.Header{
		{Key: "x-event-type", Value: []byte(e.EventType)},
		{Key: "x-event-version", Value: []byte("1")},
	}
}

// Partition key = correlation id, so all events of one order keep their order.
func PartitionKey(id string) []byte { return []byte(id) }
