package payments

import (
	"context"

	"github.com/ariefcatur/go-surplus-food/internal/kafka"
)

// EventPaymentReceived is the envelope type of forwarded webhook events.
const EventPaymentReceived = "PaymentEventReceived"

// KafkaForwarder hands webhook events to the worker through the payment
// topic instead of processing them in the request.
type KafkaForwarder struct {
	Producer *kafka.Producer
	Service  string
}

// HandlePaymentEvent writes ev synchronously so a broker failure surfaces to
// the gateway, which then redelivers.
func (f KafkaForwarder) HandlePaymentEvent(ctx context.Context, ev Event) error {
	return f.Producer.SendEnvelope(ctx, kafka.NewEnvelope(EventPaymentReceived, f.Service, ev.Reference, ev))
}
