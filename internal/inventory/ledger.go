// Package inventory guards the available quantity of every listing.
// Reserve is the only path that decreases stock.
package inventory

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-surplus-food/internal/apperr"
	"go.uber.org/zap"
)

// ReserveResult reports the outcome of a conditional decrement.
type ReserveResult struct {
	OK        bool
	Remaining int
	SoldOut   bool
}

// ReleaseResult reports the outcome of a capped increment.
type ReleaseResult struct {
	Available int
	Restocked bool // status flipped sold_out -> active
}

// Store applies stock changes atomically. ConditionalReserve must check and
// decrement in one step: it succeeds only for an active listing with at least
// qty available, and flips the listing to sold_out when it reaches zero.
// Both methods return apperr.ListingNotFound for unknown ids.
type Store interface {
	ConditionalReserve(ctx context.Context, listingID string, qty int) (ReserveResult, error)
	Release(ctx context.Context, listingID string, qty int) (ReleaseResult, error)
}

// EventSink receives stock transitions. Implementations must not block.
type EventSink interface {
	SoldOut(ctx context.Context, listingID string)
	Restocked(ctx context.Context, listingID string, available int)
}

type Ledger struct {
	store  Store
	events EventSink
	log    *zap.Logger
}

func NewLedger(store Store, events EventSink, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{store: store, events: events, log: log}
}

// Reserve takes qty units from the listing. It returns false, without
// changing anything, when the listing is not active or has too little stock.
func (l *Ledger) Reserve(ctx context.Context, listingID string, qty int) (bool, error) {
	if qty <= 0 {
		return false, apperr.New(apperr.InvalidInput, "quantity must be positive").WithListing(listingID)
	}
	res, err := l.store.ConditionalReserve(ctx, listingID, qty)
	if err != nil {
		return false, fmt.Errorf("reserve %s: %w", listingID, err)
	}
	if !res.OK {
		l.log.Debug("reservation refused", zap.String("listing_id", listingID), zap.Int("qty", qty))
		return false, nil
	}
	if res.SoldOut && l.events != nil {
		l.events.SoldOut(ctx, listingID)
	}
	return true, nil
}

// Release gives qty units back, capped at the listing's total quantity.
func (l *Ledger) Release(ctx context.Context, listingID string, qty int) error {
	if qty <= 0 {
		return apperr.New(apperr.InvalidInput, "quantity must be positive").WithListing(listingID)
	}
	res, err := l.store.Release(ctx, listingID, qty)
	if err != nil {
		return fmt.Errorf("release %s: %w", listingID, err)
	}
	if res.Restocked && l.events != nil {
		l.events.Restocked(ctx, listingID, res.Available)
	}
	return nil
}

// Line is one listing/quantity pair held by a Reservation.
type Line struct {
	ListingID string
	Qty       int
}

// Reservation tracks what a multi-line reserve has taken so that it can be
// given back in full.
type Reservation struct {
	ledger *Ledger
	held   []Line
}

func (l *Ledger) Begin() *Reservation { return &Reservation{ledger: l} }

// Reserve adds one line. On refusal nothing is taken for that line and the
// lines already held stay held until Rollback.
func (r *Reservation) Reserve(ctx context.Context, listingID string, qty int) (bool, error) {
	ok, err := r.ledger.Reserve(ctx, listingID, qty)
	if err != nil || !ok {
		return false, err
	}
	r.held = append(r.held, Line{ListingID: listingID, Qty: qty})
	return true, nil
}

func (r *Reservation) Held() []Line { return append([]Line(nil), r.held...) }

// Rollback releases every held line. It keeps going past failures and
// returns the first one.
func (r *Reservation) Rollback(ctx context.Context) error {
	var first error
	for i := len(r.held) - 1; i >= 0; i-- {
		ln := r.held[i]
		if err := r.ledger.Release(ctx, ln.ListingID, ln.Qty); err != nil {
			r.ledger.log.Error("release during rollback failed",
				zap.String("listing_id", ln.ListingID), zap.Int("qty", ln.Qty), zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	r.held = nil
	return first
}
