package orders

import (
	"time"

	"github.com/ariefcatur/go-surplus-food/internal/payments"
	"github.com/shopspring/decimal"
)

type Line struct {
	ListingID string          `json:"listing_id"`
	Title     string          `json:"title"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price_at_purchase"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// Order amounts: TotalAmount = Subtotal - PointsDiscount and
// PaymentAmount = TotalAmount - WalletAmount.
type Order struct {
	ID                 string          `json:"id"`
	ConsumerID         string          `json:"consumer_id,omitempty"` // empty for donation orders
	BusinessID         string          `json:"business_id"`
	Lines              []Line          `json:"lines"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	PointsRedeemed     int64           `json:"points_redeemed"`
	PointsDiscount     decimal.Decimal `json:"points_discount"`
	WalletAmount       decimal.Decimal `json:"wallet_amount"`
	PaymentAmount      decimal.Decimal `json:"payment_amount"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	Status             Status          `json:"status"`
	PickupCode         string          `json:"pickup_code"`
	PaymentReference   string          `json:"payment_reference,omitempty"`
	CancellationReason string          `json:"cancellation_reason,omitempty"`
	DisputeReason      string          `json:"dispute_reason,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	PaidAt             *time.Time      `json:"paid_at,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
}

// ItemCount is the total quantity across lines.
func (o Order) ItemCount() int {
	n := 0
	for _, ln := range o.Lines {
		n += ln.Quantity
	}
	return n
}

type CartLine struct {
	ListingID string `json:"listing_id"`
	Quantity  int    `json:"quantity"`
}

type Cart struct {
	Lines []CartLine `json:"lines"`
}

type Options struct {
	UseWallet      bool
	PointsToRedeem int64
	Donation       bool // no consumer reference; points and wallet are refused
	IdempotencyKey string
}

// Checkout is the result of CreateOrder. Collection is nil when nothing is
// left to pay or when the order was replayed from an idempotency key.
type Checkout struct {
	Order      Order                `json:"order"`
	Collection *payments.Collection `json:"payment,omitempty"`
}
