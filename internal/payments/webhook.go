package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78/webhook"
)

// ErrBadSignature is returned when a webhook payload fails verification.
var ErrBadSignature = errors.New("payments: webhook signature invalid")

// StripeSignatureHeader carries the Stripe webhook signature.
const StripeSignatureHeader = "Stripe-Signature"

// checkoutSessionObject is the part of a checkout.session webhook object the
// workflow needs.
type checkoutSessionObject struct {
	ID                string            `json:"id"`
	ClientReferenceID string            `json:"client_reference_id"`
	PaymentStatus     string            `json:"payment_status"`
	Metadata          map[string]string `json:"metadata"`
}

// ParseStripeWebhook verifies payload against secret and normalises Stripe
// Checkout events. Event types the workflow does not act on come back with
// their Stripe name so they are logged and skipped downstream.
func ParseStripeWebhook(payload []byte, signature, secret string) (Event, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	typ := string(evt.Type)
	if !strings.HasPrefix(typ, "checkout.session.") || evt.Data == nil {
		return Event{Event: typ, Reference: evt.ID}, nil
	}
	var obj checkoutSessionObject
	if err := json.Unmarshal(evt.Data.Raw, &obj); err != nil {
		return Event{}, fmt.Errorf("payments: decode checkout session: %w", err)
	}
	meta := obj.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	if meta[MetaOrderID] == "" && obj.ClientReferenceID != "" {
		meta[MetaOrderID] = obj.ClientReferenceID
	}

	out := Event{Event: typ, Reference: obj.ID, Metadata: meta}
	switch typ {
	case "checkout.session.completed":
		// Delayed payment methods complete the session unpaid and settle
		// later through async_payment_succeeded.
		if obj.PaymentStatus == "paid" || obj.PaymentStatus == "no_payment_required" {
			out.Event = EventChargeSuccess
		}
	case "checkout.session.async_payment_succeeded":
		out.Event = EventChargeSuccess
	case "checkout.session.async_payment_failed", "checkout.session.expired":
		out.Event = EventChargeFailed
	}
	return out, nil
}

// ParseEvent decodes an already normalised event, as posted by the fake
// provider and internal tooling.
func ParseEvent(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("payments: decode event: %w", err)
	}
	if strings.TrimSpace(ev.Event) == "" || strings.TrimSpace(ev.Reference) == "" {
		return Event{}, errors.New("payments: event and reference are required")
	}
	return ev, nil
}
