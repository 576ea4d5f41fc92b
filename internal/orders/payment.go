package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ariefcatur/go-surplus-food/internal/apperr"
	"github.com/ariefcatur/go-surplus-food/internal/notify"
	"github.com/ariefcatur/go-surplus-food/internal/payments"
	"go.uber.org/zap"
)

// ProcessPayment verifies the collection with the gateway and moves a
// pending order to paid, or cancels it when the gateway reports failure. It
// is safe to call repeatedly: orders already past pending_payment are
// returned unchanged.
func (w *Workflow) ProcessPayment(ctx context.Context, orderID, reference string) (Order, error) {
	o, err := w.orders.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if reference == "" {
		reference = o.PaymentReference
	}
	if reference == "" || (o.PaymentReference != "" && reference != o.PaymentReference) {
		return Order{}, apperr.New(apperr.PaymentVerificationFailed, "payment reference does not match").WithOrder(orderID)
	}

	switch {
	case o.Status == StatusPendingPayment:
	case o.Status == StatusCancelled:
		w.refundLateCapture(ctx, o, reference)
		return o, nil
	default:
		return o, nil
	}

	v, err := w.verify(ctx, reference)
	if err != nil {
		w.log.Warn("payment verification failed", zap.String("order_id", orderID),
			zap.String("reference", reference), zap.Error(err))
		if errors.Is(err, payments.ErrNotFound) {
			return Order{}, apperr.New(apperr.PaymentVerificationFailed, "payment could not be verified").WithOrder(orderID)
		}
		// left as a plain error so webhook and queue deliveries are retried
		return Order{}, fmt.Errorf("verify payment for order %s: %w", orderID, err)
	}

	switch v.Status {
	case payments.CollectionSucceeded:
		if v.Amount.LessThan(o.PaymentAmount) {
			w.log.Error("payment amount short", zap.String("order_id", orderID),
				zap.Stringer("expected", o.PaymentAmount), zap.Stringer("received", v.Amount))
			return Order{}, apperr.New(apperr.PaymentVerificationFailed, "paid amount does not cover the order").WithOrder(orderID)
		}
		now := w.now()
		updated, err := w.transition(ctx, o, StatusPaid, "", func(x *Order) {
			x.PaidAt = &now
			x.PaymentReference = reference
		})
		if err != nil {
			return Order{}, err
		}
		w.notify(ctx, updated.ConsumerID, "Payment received",
			fmt.Sprintf("Payment for order %s confirmed", updated.ID), notify.CategoryPayment, updated.ID)
		w.notify(ctx, updated.BusinessID, "Order paid",
			fmt.Sprintf("Order %s is paid and waiting for preparation", updated.ID), notify.CategoryPayment, updated.ID)
		return updated, nil
	case payments.CollectionFailed:
		return w.cancel(ctx, o, "payment failed")
	}
	return o, nil
}

// refundLateCapture handles a payment that lands after the order was
// cancelled, e.g. by the unpaid-order sweep.
func (w *Workflow) refundLateCapture(ctx context.Context, o Order, reference string) {
	v, err := w.verify(ctx, reference)
	if err != nil || !v.Succeeded() || o.PaidAt != nil {
		return
	}
	w.log.Warn("payment captured for cancelled order, refunding", zap.String("order_id", o.ID),
		zap.String("reference", reference))
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.PaymentTimeout)
	defer cancel()
	if err := w.payments.Refund(pctx, reference, v.Amount); err != nil {
		w.log.Error("late capture refund failed", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func (w *Workflow) verify(ctx context.Context, reference string) (payments.Verification, error) {
	pctx, cancel := context.WithTimeout(ctx, w.cfg.PaymentTimeout)
	defer cancel()
	return w.payments.VerifyCollection(pctx, reference)
}

// HandlePaymentEvent maps a gateway webhook onto the workflow. Each
// (reference, event) pair is processed once; transient failures release the
// claim so a redelivery can retry.
func (w *Workflow) HandlePaymentEvent(ctx context.Context, ev payments.Event) error {
	ev.Reference = strings.TrimSpace(ev.Reference)
	if ev.Reference == "" {
		return apperr.New(apperr.InvalidInput, "payment event without reference")
	}
	dedupID := ev.Reference + ":" + ev.Event
	if !w.cache.Claim(ctx, dedupID) {
		w.log.Info("duplicate payment event skipped", zap.String("reference", ev.Reference), zap.String("event", ev.Event))
		return nil
	}

	err := w.handlePaymentEvent(ctx, ev)
	if err != nil && apperr.KindOf(err) == nil {
		w.cache.Unclaim(ctx, dedupID)
	}
	return err
}

func (w *Workflow) handlePaymentEvent(ctx context.Context, ev payments.Event) error {
	orderID := ev.OrderID()
	if orderID == "" {
		o, err := w.orders.GetByPaymentReference(ctx, ev.Reference)
		if err != nil {
			return err
		}
		orderID = o.ID
	}

	switch ev.Event {
	case payments.EventChargeSuccess:
		_, err := w.ProcessPayment(ctx, orderID, ev.Reference)
		return err
	case payments.EventChargeFailed:
		o, err := w.orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != StatusPendingPayment {
			return nil
		}
		if o.PaymentReference != "" && o.PaymentReference != ev.Reference {
			return apperr.New(apperr.PaymentVerificationFailed, "payment reference does not match").WithOrder(orderID)
		}
		_, err = w.cancel(ctx, o, "payment failed")
		if errors.Is(err, apperr.InvalidTransition) {
			return nil // paid or cancelled concurrently
		}
		return err
	}
	w.log.Debug("payment event ignored", zap.String("event", ev.Event), zap.String("reference", ev.Reference))
	return nil
}

// ExpireUnpaid cancels pending orders older than the unpaid TTL. Orders whose
// payment actually went through are marked paid instead, and orders whose
// gateway state cannot be read are left for the next sweep.
func (w *Workflow) ExpireUnpaid(ctx context.Context) (int, error) {
	cutoff := w.now().Add(-w.cfg.UnpaidTTL)
	pending, err := w.orders.ListPendingBefore(ctx, cutoff, 100)
	if err != nil {
		return 0, fmt.Errorf("list pending orders: %w", err)
	}
	n := 0
	for _, o := range pending {
		if o.PaymentReference != "" {
			v, err := w.verify(ctx, o.PaymentReference)
			switch {
			case err == nil && v.Succeeded():
				if _, err := w.ProcessPayment(ctx, o.ID, o.PaymentReference); err != nil {
					w.log.Warn("late payment processing failed", zap.String("order_id", o.ID), zap.Error(err))
				}
				continue
			case err != nil && !errors.Is(err, payments.ErrNotFound):
				// the charge may have been captured; try again on the next sweep
				w.log.Warn("expiry skipped, payment state unknown", zap.String("order_id", o.ID),
					zap.String("reference", o.PaymentReference), zap.Error(err))
				continue
			}
		}
		if _, err := w.cancel(ctx, o, "payment timeout"); err != nil {
			if errors.Is(err, apperr.InvalidTransition) {
				continue
			}
			w.log.Warn("expire unpaid order failed", zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		n++
	}
	if n > 0 {
		w.log.Info("unpaid orders expired", zap.Int("count", n))
	}
	return n, nil
}
