package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ariefcatur/go-surplus-food/internal/apperr"
	"github.com/ariefcatur/go-surplus-food/internal/payments"
)

func TestPaymentFailureThenCancelRestoresStock(t *testing.T) {
	e := setup(t)
	a := e.listing(t, 3)
	b := e.listing(t, 3)
	ctx := context.Background()

	co, err := e.wf.CreateOrder(ctx, consumer,
		cartOf(CartLine{ListingID: a.ID, Quantity: 1}, CartLine{ListingID: b.ID, Quantity: 1}), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if e.available(t, a.ID)+e.available(t, b.ID) != 4 {
		t.Fatalf("both lines should be reserved")
	}

	ref := co.Collection.Reference
	_ = e.pay.Fail(ref)
	err = e.wf.HandlePaymentEvent(ctx, payments.Event{
		Event:     payments.EventChargeFailed,
		Reference: ref,
		Metadata:  map[string]string{payments.MetaOrderID: co.Order.ID},
	})
	if err != nil {
		t.Fatal(err)
	}

	o, _ := e.repo.Get(ctx, co.Order.ID)
	if o.Status != StatusCancelled || o.CancellationReason != "payment failed" || o.CancelledAt == nil {
		t.Fatalf("unexpected order: %+v", o)
	}
	if e.available(t, a.ID)+e.available(t, b.ID) != 6 {
		t.Fatalf("stock not restored by 2 combined")
	}
	if e.events.count(EventOrderCancelled) != 1 {
		t.Fatalf("expected an OrderCancelled event")
	}
}

func TestProcessPaymentIsIdempotent(t *testing.T) {
	e := setup(t)
	l := e.listing(t, 2)
	ctx := context.Background()
	co, err := e.wf.CreateOrder(ctx, consumer, cartOf(CartLine{ListingID: l.ID, Quantity: 1}), Options{})
	if err != nil {
		t.Fatal(err)
	}
	ref := co.Collection.Reference

	// not settled yet: nothing happens
	o, err := e.wf.ProcessPayment(ctx, co.Order.ID, ref)
	if err != nil || o.Status != StatusPendingPayment {
		t.Fatalf("pending collection: %s %v", o.Status, err)
	}

	_ = e.pay.Settle(ref)
	ev := payments.Event{Event: payments.EventChargeSuccess, Reference: ref}
	for i := 0; i < 3; i++ {
		if err := e.wf.HandlePaymentEvent(ctx, ev); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}
	o, _ = e.repo.Get(ctx, co.Order.ID)
	if o.Status != StatusPaid || o.PaidAt == nil {
		t.Fatalf("expected paid: %+v", o)
	}
	if e.events.count(EventOrderPaid) != 1 {
		t.Fatalf("paid transition applied %d times", e.events.count(EventOrderPaid))
	}
}

func TestProcessPaymentRejectsForeignReference(t *testing.T) {
	e := setup(t)
	l := e.listing(t, 2)
	ctx := context.Background()
	co, err := e.wf.CreateOrder(ctx, consumer, cartOf(CartLine{ListingID: l.ID, Quantity: 1}), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.wf.ProcessPayment(ctx, co.Order.ID, "fake_other"); !errors.Is(err, apperr.PaymentVerificationFailed) {
		t.Fatalf("expected PaymentVerificationFailed, got %v", err)
	}
	if _, err := e.wf.ProcessPayment(ctx, "missing", "fake_other"); !errors.Is(err, apperr.OrderNotFound) {
		t.Fatalf("expected OrderNotFound, got %v", err)
	}
}

func TestProcessPaymentGatewayErrorIsGeneric(t *testing.T) {
	e := setup(t)
	l := e.listing(t, 2)
	ctx := context.Background()
	co, err := e.wf.CreateOrder(ctx, consumer, cartOf(CartLine{ListingID: l.ID, Quantity: 1}), Options{})
	if err != nil {
		t.Fatal(err)
	}
	// the fake forgets the charge: verification errors out
	e.pay = payments.NewFake("http://pay.local")
	e.wf.payments = e.pay

	_, err = e.wf.ProcessPayment(ctx, co.Order.ID, co.Collection.Reference)
	if !errors.Is(err, apperr.PaymentVerificationFailed) {
		t.Fatalf("expected PaymentVerificationFailed, got %v", err)
	}
	if errors.Is(err, payments.ErrNotFound) {
		t.Fatalf("provider error leaked: %v", err)
	}
}

func TestHandlePaymentEventIgnoresUnknownEvents(t *testing.T) {
	e := setup(t)
	l := e.listing(t, 2)
	ctx := context.Background()
	co, err := e.wf.CreateOrder(ctx, consumer, cartOf(CartLine{ListingID: l.ID, Quantity: 1}), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.wf.HandlePaymentEvent(ctx, payments.Event{Event: "transfer.success", Reference: co.Collection.Reference}); err != nil {
		t.Fatal(err)
	}
	if err := e.wf.HandlePaymentEvent(ctx, payments.Event{Event: payments.EventChargeSuccess}); !errors.Is(err, apperr.InvalidInput) {
		t.Fatalf("missing reference: %v", err)
	}
	if err := e.wf.HandlePaymentEvent(ctx, payments.Event{Event: payments.EventChargeSuccess, Reference: "unknown"}); !errors.Is(err, apperr.OrderNotFound) {
		t.Fatalf("unknown reference: %v", err)
	}
}

func TestExpireUnpaid(t *testing.T) {
	e := setup(t)
	l := e.listing(t, 4)
	ctx := context.Background()

	stale, err := e.wf.CreateOrder(ctx, consumer, cartOf(CartLine{ListingID: l.ID, Quantity: 1}), Options{})
	if err != nil {
		t.Fatal(err)
	}
	paidLate, err := e.wf.CreateOrder(ctx, consumer, cartOf(CartLine{ListingID: l.ID, Quantity: 1}), Options{})
	if err != nil {
		t.Fatal(err)
	}
	_ = e.pay.Settle(paidLate.Collection.Reference)

	*e.clock = e.clock.Add(10 * time.Minute)
	fresh, err := e.wf.CreateOrder(ctx, consumer, cartOf(CartLine{ListingID: l.ID, Quantity: 1}), Options{})
	if err != nil {
		t.Fatal(err)
	}

	*e.clock = e.clock.Add(25 * time.Minute)
	n, err := e.wf.ExpireUnpaid(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired order, got %d", n)
	}

	got := func(id string) Order {
		o, _ := e.repo.Get(ctx, id)
		return o
	}
	if o := got(stale.Order.ID); o.Status != StatusCancelled || o.CancellationReason != "payment timeout" {
		t.Fatalf("stale order: %+v", o)
	}
	if o := got(paidLate.Order.ID); o.Status != StatusPaid {
		t.Fatalf("settled order should be paid, got %s", o.Status)
	}
	if o := got(fresh.Order.ID); o.Status != StatusPendingPayment {
		t.Fatalf("fresh order should stay pending, got %s", o.Status)
	}
	if got := e.available(t, l.ID); got != 2 {
		t.Fatalf("expected 2 available, got %d", got)
	}
}

func TestLateCaptureOnCancelledOrderIsRefunded(t *testing.T) {
	e := setup(t)
	l := e.listing(t, 2)
	ctx := context.Background()
	co, err := e.wf.CreateOrder(ctx, consumer, cartOf(CartLine{ListingID: l.ID, Quantity: 1}), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.wf.Cancel(ctx, consumer, co.Order.ID, "no longer needed"); err != nil {
		t.Fatal(err)
	}
	ref := co.Collection.Reference
	_ = e.pay.Settle(ref)

	o, err := e.wf.ProcessPayment(ctx, co.Order.ID, ref)
	if err != nil || o.Status != StatusCancelled {
		t.Fatalf("cancelled order must stay cancelled: %s %v", o.Status, err)
	}
	if e.pay.Refunded(ref).IsZero() {
		t.Fatalf("late capture was not refunded")
	}
}

// unreachableGateway keeps the fake's charges but cannot reach them for
// verification while down is set.
type unreachableGateway struct {
	*payments.Fake
	down bool
}

func (g *unreachableGateway) VerifyCollection(ctx context.Context, reference string) (payments.Verification, error) {
	if g.down {
		return payments.Verification{}, errors.New("dial tcp: i/o timeout")
	}
	return g.Fake.VerifyCollection(ctx, reference)
}

func TestExpireUnpaidKeepsOrdersWhenGatewayUnreachable(t *testing.T) {
	e := setup(t)
	l := e.listing(t, 2)
	ctx := context.Background()
	co, err := e.wf.CreateOrder(ctx, consumer, cartOf(CartLine{ListingID: l.ID, Quantity: 1}), Options{})
	if err != nil {
		t.Fatal(err)
	}
	ref := co.Collection.Reference
	_ = e.pay.Settle(ref)
	gw := &unreachableGateway{Fake: e.pay, down: true}
	e.wf.payments = gw

	*e.clock = e.clock.Add(40 * time.Minute)
	n, err := e.wf.ExpireUnpaid(ctx)
	if err != nil || n != 0 {
		t.Fatalf("expected nothing expired, got %d %v", n, err)
	}
	o, _ := e.repo.Get(ctx, co.Order.ID)
	if o.Status != StatusPendingPayment {
		t.Fatalf("order with unknown payment state was %s", o.Status)
	}
	if e.available(t, l.ID) != 1 {
		t.Fatalf("reservation released while payment state unknown")
	}

	gw.down = false
	if _, err := e.wf.ExpireUnpaid(ctx); err != nil {
		t.Fatal(err)
	}
	o, _ = e.repo.Get(ctx, co.Order.ID)
	if o.Status != StatusPaid || o.PaidAt == nil {
		t.Fatalf("captured payment should land once the gateway is back: %+v", o)
	}
	if !e.pay.Refunded(ref).IsZero() {
		t.Fatalf("paid order must not be refunded")
	}
}

func TestProcessPaymentTransientGatewayErrorIsRetryable(t *testing.T) {
	e := setup(t)
	l := e.listing(t, 2)
	ctx := context.Background()
	co, err := e.wf.CreateOrder(ctx, consumer, cartOf(CartLine{ListingID: l.ID, Quantity: 1}), Options{})
	if err != nil {
		t.Fatal(err)
	}
	ref := co.Collection.Reference
	_ = e.pay.Settle(ref)
	gw := &unreachableGateway{Fake: e.pay, down: true}
	e.wf.payments = gw

	ev := payments.Event{Event: payments.EventChargeSuccess, Reference: ref}
	err = e.wf.HandlePaymentEvent(ctx, ev)
	if err == nil {
		t.Fatal("expected an error while the gateway is down")
	}
	if apperr.KindOf(err) != nil {
		t.Fatalf("transient failure must not carry a core kind, got %v", err)
	}
	o, _ := e.repo.Get(ctx, co.Order.ID)
	if o.Status != StatusPendingPayment {
		t.Fatalf("order moved to %s", o.Status)
	}

	gw.down = false
	if err := e.wf.HandlePaymentEvent(ctx, ev); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	o, _ = e.repo.Get(ctx, co.Order.ID)
	if o.Status != StatusPaid {
		t.Fatalf("redelivery should pay the order, got %s", o.Status)
	}
}
