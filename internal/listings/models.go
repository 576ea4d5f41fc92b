package listings

import (
	"time"

	"github.com/ariefcatur/go-surplus-food/internal/pricing"
	"github.com/shopspring/decimal"
)

type Type string

const (
	TypeIndividual  Type = "individual"
	TypeBulkBag     Type = "bulk_bag"
	TypeChefSpecial Type = "chef_special"
	TypeMysteryBox  Type = "mystery_box"
)

func (t Type) Valid() bool {
	switch t {
	case TypeIndividual, TypeBulkBag, TypeChefSpecial, TypeMysteryBox:
		return true
	}
	return false
}

type Status string

const (
	StatusActive    Status = "active"
	StatusSoldOut   Status = "sold_out"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

type Listing struct {
	ID                string             `json:"id"`
	BusinessID        string             `json:"business_id"`
	Title             string             `json:"title"`
	Description       string             `json:"description"`
	Type              Type               `json:"listing_type"`
	OriginalPrice     decimal.Decimal    `json:"original_price"`
	AskingPrice       decimal.Decimal    `json:"asking_price"`
	DiscountedPrice   decimal.Decimal    `json:"current_discounted_price"`
	TotalQuantity     int                `json:"total_quantity"`
	AvailableQuantity int                `json:"available_quantity"`
	PickupStart       time.Time          `json:"pickup_window_start"`
	PickupEnd         time.Time          `json:"pickup_window_end"`
	Status            Status             `json:"status"`
	Bulk              *pricing.BulkRule  `json:"bulk_rule,omitempty"`
	PeakRules         []pricing.PeakRule `json:"peak_rules,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// Patch holds optional field changes; nil means unchanged.
type Patch struct {
	Title             *string
	Description       *string
	OriginalPrice     *decimal.Decimal
	AskingPrice       *decimal.Decimal
	TotalQuantity     *int
	AvailableQuantity *int
	PickupStart       *time.Time
	PickupEnd         *time.Time
	Bulk              *pricing.BulkRule
	ClearBulk         bool
	PeakRules         *[]pricing.PeakRule
}

func (p Patch) touchesPrice() bool {
	return p.OriginalPrice != nil || p.AskingPrice != nil || p.PickupEnd != nil ||
		p.Bulk != nil || p.ClearBulk || p.PeakRules != nil
}

type SortBy string

const (
	SortNone   SortBy = ""
	SortPrice  SortBy = "price"
	SortExpiry SortBy = "expiry"
)

// Filter narrows Search. Expired and cancelled listings are only returned
// when IncludeInactive is set.
type Filter struct {
	BusinessID      string
	Type            Type
	Query           string
	MaxPrice        *decimal.Decimal
	SortBy          SortBy
	IncludeInactive bool
	Limit           int
	Offset          int
}

// PriceInput builds the pricing input for qty units of l at now.
func (l Listing) PriceInput(qty int, now time.Time, minPrice decimal.Decimal) pricing.Input {
	return pricing.Input{
		OriginalPrice: l.OriginalPrice,
		AskingPrice:   l.AskingPrice,
		Quantity:      qty,
		Bulk:          l.Bulk,
		Expiry:        l.PickupEnd,
		PeakRules:     l.PeakRules,
		Now:           now,
		MinPrice:      minPrice,
	}
}
