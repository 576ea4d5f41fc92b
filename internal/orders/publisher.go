package orders

import (
	"context"

	"github.com/ariefcatur/go-surplus-food/internal/kafka"
)

// KafkaPublisher writes order events to the order topic, keyed by order id.
type KafkaPublisher struct {
	Producer *kafka.Producer
	Service  string
}

func (p KafkaPublisher) Publish(_ context.Context, eventType string, payload OrderEventPayload) {
	p.Producer.PublishEnvelope(kafka.NewEnvelope(eventType, p.Service, payload.OrderID, payload))
}
