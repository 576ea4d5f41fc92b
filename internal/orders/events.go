package orders

import "github.com/shopspring/decimal"

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderPaid          = "OrderPaid"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventOrderCompleted     = "OrderCompleted"
	EventOrderCancelled     = "OrderCancelled"
	EventOrderDisputed      = "OrderDisputed"
)

// ---- Payload ----

type LineQty struct {
	ListingID string `json:"listing_id"`
	Qty       int    `json:"qty"`
}

type OrderEventPayload struct {
	OrderID        string          `json:"order_id"`
	ConsumerID     string          `json:"consumer_id,omitempty"`
	BusinessID     string          `json:"business_id"`
	Status         Status          `json:"status"`
	PreviousStatus Status          `json:"previous_status,omitempty"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Reason         string          `json:"reason,omitempty"`
	Lines          []LineQty       `json:"lines"`
}

func eventTypeFor(to Status) string {
	switch to {
	case StatusPaid:
		return EventOrderPaid
	case StatusCompleted:
		return EventOrderCompleted
	case StatusCancelled:
		return EventOrderCancelled
	case StatusDisputed:
		return EventOrderDisputed
	}
	return EventOrderStatusChanged
}

func payloadOf(o Order, prev Status, reason string) OrderEventPayload {
	lines := make([]LineQty, 0, len(o.Lines))
	for _, ln := range o.Lines {
		lines = append(lines, LineQty{ListingID: ln.ListingID, Qty: ln.Quantity})
	}
	return OrderEventPayload{
		OrderID:        o.ID,
		ConsumerID:     o.ConsumerID,
		BusinessID:     o.BusinessID,
		Status:         o.Status,
		PreviousStatus: prev,
		TotalAmount:    o.TotalAmount,
		Reason:         reason,
		Lines:          lines,
	}
}
