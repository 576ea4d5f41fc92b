// Package apperr holds the error kinds surfaced by the marketplace core.
// Callers match on kind with errors.Is and read ids with errors.As.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is a sentinel identifying a recoverable, caller-visible failure.
type Kind struct{ name string }

func (k *Kind) Error() string { return k.name }

// String returns the wire name of the kind.
func (k *Kind) String() string { return k.name }

var (
	ItemUnavailable             = &Kind{"item_unavailable"}
	ReservationFailed           = &Kind{"reservation_failed"}
	InsufficientPoints          = &Kind{"insufficient_points"}
	InsufficientWallet          = &Kind{"insufficient_wallet"}
	InvalidTransition           = &Kind{"invalid_transition"}
	InvalidPickupCode           = &Kind{"invalid_pickup_code"}
	OrderNotFound               = &Kind{"order_not_found"}
	ListingNotFound             = &Kind{"listing_not_found"}
	PaymentInitializationFailed = &Kind{"payment_initialization_failed"}
	PaymentVerificationFailed   = &Kind{"payment_verification_failed"}
	InvalidInput                = &Kind{"invalid_input"}
	Forbidden                   = &Kind{"forbidden"}
	CheckoutInProgress          = &Kind{"checkout_in_progress"}
)

// Error carries a kind plus the ids relevant to it.
type Error struct {
	Kind      *Kind
	OrderID   string
	ListingID string
	UserID    string
	Detail    string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.name)
	if e.OrderID != "" {
		fmt.Fprintf(&b, " order=%s", e.OrderID)
	}
	if e.ListingID != "" {
		fmt.Fprintf(&b, " listing=%s", e.ListingID)
	}
	if e.UserID != "" {
		fmt.Fprintf(&b, " user=%s", e.UserID)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Kind }

// New builds an *Error with a formatted detail message.
func New(kind *Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// WithOrder sets the order id and returns e.
func (e *Error) WithOrder(id string) *Error { e.OrderID = id; return e }

// WithListing sets the listing id and returns e.
func (e *Error) WithListing(id string) *Error { e.ListingID = id; return e }

// WithUser sets the user id and returns e.
func (e *Error) WithUser(id string) *Error { e.UserID = id; return e }

// KindOf returns the kind carried by err, or nil when err is not a core error.
func KindOf(err error) *Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k *Kind
	if errors.As(err, &k) {
		return k
	}
	return nil
}
