// Package pricing computes the effective price of a listing.
//
// Compute is pure: the current time is an input, so calling it twice with the
// same Input always yields the same price.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Time-decay tiers, checked in order. A listing closer to expiry than
// Within may not be priced above Ceiling × original price.
var decayTiers = []struct {
	Within  time.Duration
	Ceiling decimal.Decimal
}{
	{time.Hour, decimal.RequireFromString("0.20")},
	{3 * time.Hour, decimal.RequireFromString("0.40")},
	{6 * time.Hour, decimal.RequireFromString("0.60")},
}

// BulkRule discounts orders at or above Threshold units.
type BulkRule struct {
	Threshold   int             `json:"threshold"`
	DiscountPct decimal.Decimal `json:"discount_pct"`
}

// PeakRule adds a surcharge during [StartHour, EndHour) on the given days.
// EndHour may be smaller than StartHour for windows crossing midnight.
type PeakRule struct {
	Days         []time.Weekday  `json:"days"`
	StartHour    int             `json:"start_hour"`
	EndHour      int             `json:"end_hour"`
	SurchargePct decimal.Decimal `json:"surcharge_pct"`
}

// Matches reports whether t falls inside the rule.
func (r PeakRule) Matches(t time.Time) bool {
	dayOK := false
	for _, d := range r.Days {
		if d == t.Weekday() {
			dayOK = true
			break
		}
	}
	if !dayOK {
		return false
	}
	h := t.Hour()
	if r.StartHour <= r.EndHour {
		return h >= r.StartHour && h < r.EndHour
	}
	return h >= r.StartHour || h < r.EndHour
}

type Input struct {
	OriginalPrice decimal.Decimal
	AskingPrice   decimal.Decimal
	Quantity      int
	Bulk          *BulkRule
	Expiry        time.Time
	PeakRules     []PeakRule
	Now           time.Time
	// MinPrice is returned whenever the computed price is not positive.
	MinPrice decimal.Decimal
}

// Compute returns the final unit price rounded to 2 decimal places.
func Compute(in Input) decimal.Decimal {
	price := in.AskingPrice
	if !price.IsPositive() {
		price = in.OriginalPrice
	}

	if ceiling, ok := TimeCeiling(in.OriginalPrice, in.Expiry, in.Now); ok {
		price = decimal.Min(price, ceiling)
	}

	if b := in.Bulk; b != nil && b.Threshold > 0 && b.DiscountPct.IsPositive() && in.Quantity >= b.Threshold {
		price = price.Mul(decimal.NewFromInt(1).Sub(b.DiscountPct.Div(hundred)))
	}

	for _, r := range in.PeakRules {
		if r.Matches(in.Now) {
			price = price.Mul(decimal.NewFromInt(1).Add(r.SurchargePct.Div(hundred)))
			break
		}
	}

	price = price.Round(2)
	if !price.IsPositive() {
		return in.MinPrice.Round(2)
	}
	return price
}

// TimeCeiling returns the highest price allowed given the time left until
// expiry. ok is false when expiry is far enough away that no ceiling applies.
func TimeCeiling(original decimal.Decimal, expiry, now time.Time) (decimal.Decimal, bool) {
	left := expiry.Sub(now)
	for _, tier := range decayTiers {
		if left <= tier.Within {
			return original.Mul(tier.Ceiling), true
		}
	}
	return decimal.Zero, false
}
