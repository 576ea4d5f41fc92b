// Package payments defines the payment collaborator used by the order
// workflow and ships a Stripe Checkout adapter plus an in-process fake.
package payments

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by VerifyCollection for unknown references.
var ErrNotFound = errors.New("payments: reference not found")

type Payer struct {
	UserID string
	Email  string
}

// Collection is what the consumer is sent to in order to pay.
type Collection struct {
	Reference   string `json:"reference"`
	RedirectURL string `json:"redirect_url"`
}

type CollectionStatus string

const (
	CollectionPending   CollectionStatus = "pending"
	CollectionSucceeded CollectionStatus = "succeeded"
	CollectionFailed    CollectionStatus = "failed"
)

type Verification struct {
	Reference string
	Status    CollectionStatus
	Amount    decimal.Decimal
}

func (v Verification) Succeeded() bool { return v.Status == CollectionSucceeded }

type Gateway interface {
	InitializeCollection(ctx context.Context, orderID string, amount decimal.Decimal, payer Payer) (Collection, error)
	VerifyCollection(ctx context.Context, reference string) (Verification, error)
	Refund(ctx context.Context, reference string, amount decimal.Decimal) error
}

// Event is the normalised inbound webhook payload.
type Event struct {
	Event     string            `json:"event"`
	Reference string            `json:"reference"`
	Metadata  map[string]string `json:"metadata"`
}

const (
	EventChargeSuccess = "charge.success"
	EventChargeFailed  = "charge.failed"

	MetaOrderID = "order_id"
)

// OrderID returns the order id carried in the event metadata.
func (e Event) OrderID() string { return e.Metadata[MetaOrderID] }
