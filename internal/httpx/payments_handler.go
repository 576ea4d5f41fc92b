package httpx

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/ariefcatur/go-surplus-food/internal/apperr"
	"github.com/ariefcatur/go-surplus-food/internal/payments"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// PaymentEventSink receives normalised webhook events: the workflow itself,
// or a forwarder onto the payment topic.
type PaymentEventSink interface {
	HandlePaymentEvent(ctx context.Context, ev payments.Event) error
}

// FakeGateway is the dev-only hook for settling fake collections.
type FakeGateway interface {
	Settle(reference string) error
	Fail(reference string) error
}

type PaymentsHandler struct {
	Sink PaymentEventSink
	// Parse turns a raw webhook request into an event.
	Parse func(r *http.Request, body []byte) (payments.Event, error)
	// Fake enables /dev/payments routes when set.
	Fake FakeGateway
	Log  *zap.Logger
}

// StripeParser verifies Stripe-signed webhooks with secret.
func StripeParser(secret string) func(*http.Request, []byte) (payments.Event, error) {
	return func(r *http.Request, body []byte) (payments.Event, error) {
		return payments.ParseStripeWebhook(body, r.Header.Get(payments.StripeSignatureHeader), secret)
	}
}

// PlainParser accepts already normalised JSON events.
func PlainParser(_ *http.Request, body []byte) (payments.Event, error) {
	return payments.ParseEvent(body)
}

func (h *PaymentsHandler) Register(r chi.Router) {
	r.Post("/webhooks/payments", h.webhook)
	if h.Fake != nil {
		r.Post("/dev/payments/{reference}/settle", h.devSettle)
		r.Post("/dev/payments/{reference}/fail", h.devFail)
	}
}

func (h *PaymentsHandler) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, h.Log, apperr.New(apperr.InvalidInput, "unreadable body"))
		return
	}
	parse := h.Parse
	if parse == nil {
		parse = PlainParser
	}
	ev, err := parse(r, body)
	if err != nil {
		if errors.Is(err, payments.ErrBadSignature) {
			h.Log.Warn("webhook rejected", zap.Error(err))
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthenticated", Message: "invalid signature"})
			return
		}
		writeError(w, h.Log, apperr.New(apperr.InvalidInput, "%v", err))
		return
	}
	if err := h.Sink.HandlePaymentEvent(r.Context(), ev); err != nil {
		// Core errors are final for this event; acknowledge so the gateway
		// stops redelivering.
		if apperr.KindOf(err) != nil {
			h.Log.Warn("payment event rejected", zap.String("reference", ev.Reference),
				zap.String("event", ev.Event), zap.Error(err))
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (h *PaymentsHandler) devSettle(w http.ResponseWriter, r *http.Request) {
	h.devMark(w, r, h.Fake.Settle, payments.EventChargeSuccess)
}

func (h *PaymentsHandler) devFail(w http.ResponseWriter, r *http.Request) {
	h.devMark(w, r, h.Fake.Fail, payments.EventChargeFailed)
}

// devMark flips the fake collection and then delivers the matching event,
// the way a real gateway would call the webhook.
func (h *PaymentsHandler) devMark(w http.ResponseWriter, r *http.Request, mark func(string) error, event string) {
	ref := chi.URLParam(r, "reference")
	if err := mark(ref); err != nil {
		if errors.Is(err, payments.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: "unknown reference"})
			return
		}
		writeError(w, h.Log, err)
		return
	}
	if err := h.Sink.HandlePaymentEvent(r.Context(), payments.Event{Event: event, Reference: ref}); err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted", "event": event})
}
