package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMatchesKindThroughWrapping(t *testing.T) {
	err := fmt.Errorf("create order: %w", New(ReservationFailed, "stock taken").WithListing("l1").WithOrder("o1"))

	if !errors.Is(err, ReservationFailed) {
		t.Fatalf("expected ReservationFailed, got %v", err)
	}
	if errors.Is(err, ItemUnavailable) {
		t.Fatalf("unexpected match with ItemUnavailable")
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *Error in chain")
	}
	if e.ListingID != "l1" || e.OrderID != "o1" {
		t.Fatalf("ids not preserved: %+v", e)
	}
	if got := e.Error(); got != "reservation_failed order=o1 listing=l1: stock taken" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(errors.New("boom")) != nil {
		t.Fatalf("plain error must not have a kind")
	}
	if KindOf(fmt.Errorf("x: %w", OrderNotFound)) != OrderNotFound {
		t.Fatalf("bare kind should be detected")
	}
	if KindOf(New(Forbidden, "nope")) != Forbidden {
		t.Fatalf("kind should be read from *Error")
	}
}
