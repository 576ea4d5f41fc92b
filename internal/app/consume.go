package app

import (
	"context"

	"github.com/ariefcatur/go-surplus-food/internal/apperr"
	"github.com/ariefcatur/go-surplus-food/internal/kafka"
	"github.com/ariefcatur/go-surplus-food/internal/payments"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// PaymentEventHandler consumes forwarded webhook events. Malformed messages
// and core rejections are logged and committed; anything else is returned so
// the message is retried.
func (a *App) PaymentEventHandler() kafka.Handler {
	return func(ctx context.Context, m kafkago.Message) error {
		env, err := kafka.UnmarshalEnvelope(m.Value)
		if err != nil {
			a.Log.Error("drop malformed payment message", zap.Int64("offset", m.Offset), zap.Error(err))
			return nil
		}
		if env.EventType != payments.EventPaymentReceived {
			return nil
		}
		ev, err := kafka.UnwrapPayload[payments.Event](env.Payload)
		if err != nil {
			a.Log.Error("drop malformed payment event", zap.String("event_id", env.EventID), zap.Error(err))
			return nil
		}
		if err := a.Orders.HandlePaymentEvent(ctx, ev); err != nil {
			if apperr.KindOf(err) != nil {
				a.Log.Warn("payment event rejected", zap.String("event_id", env.EventID),
					zap.String("reference", ev.Reference), zap.Error(err))
				return nil
			}
			return err
		}
		return nil
	}
}
