package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ariefcatur/go-surplus-food/internal/apperr"
	"github.com/ariefcatur/go-surplus-food/internal/identity"
	"github.com/ariefcatur/go-surplus-food/internal/loyalty"
	"github.com/ariefcatur/go-surplus-food/internal/notify"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// UpdateStatus drives the business-facing transitions. paid is only reached
// through payment confirmation, and disputed through OpenDispute.
func (w *Workflow) UpdateStatus(ctx context.Context, p identity.Principal, orderID string, to Status, reason string) (Order, error) {
	if !to.Valid() {
		return Order{}, apperr.New(apperr.InvalidInput, "unknown status %q", to).WithOrder(orderID)
	}
	switch to {
	case StatusCancelled:
		return w.Cancel(ctx, p, orderID, reason)
	case StatusDisputed:
		return w.OpenDispute(ctx, p, orderID, reason)
	case StatusPaid, StatusPendingPayment:
		return Order{}, apperr.New(apperr.InvalidTransition, "%s is set by payment confirmation only", to).WithOrder(orderID)
	}

	o, err := w.orders.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if !p.IsAdmin() && p.UserID != o.BusinessID {
		return Order{}, apperr.New(apperr.Forbidden, "only the business can update this order").WithOrder(orderID)
	}
	if to == StatusCompleted {
		return w.complete(ctx, o)
	}
	updated, err := w.transition(ctx, o, to, reason, nil)
	if err != nil {
		return Order{}, err
	}
	if to == StatusReadyForPickup {
		w.notify(ctx, updated.ConsumerID, "Ready for pickup",
			fmt.Sprintf("Order %s is ready. Show code %s at the counter.", updated.ID, updated.PickupCode),
			notify.CategoryPickup, updated.ID)
	}
	return updated, nil
}

// Cancel moves a non-terminal order to cancelled and compensates: stock is
// released, redeemed points and wallet debits are reversed, and a captured
// payment is refunded.
func (w *Workflow) Cancel(ctx context.Context, p identity.Principal, orderID, reason string) (Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Order{}, apperr.New(apperr.InvalidInput, "cancellation reason is required").WithOrder(orderID)
	}
	o, err := w.orders.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if !p.IsAdmin() && p.UserID != o.BusinessID && (o.ConsumerID == "" || p.UserID != o.ConsumerID) {
		return Order{}, apperr.New(apperr.Forbidden, "not allowed to cancel this order").WithOrder(orderID)
	}
	return w.cancel(ctx, o, reason)
}

func (w *Workflow) cancel(ctx context.Context, o Order, reason string) (Order, error) {
	now := w.now()
	updated, err := w.transition(ctx, o, StatusCancelled, reason, func(x *Order) {
		x.CancellationReason = reason
		x.CancelledAt = &now
	})
	if err != nil {
		return Order{}, err
	}
	// the status flip won; compensation runs exactly once and must finish
	// even if the caller goes away
	w.compensate(context.WithoutCancel(ctx), updated)

	w.notify(ctx, updated.ConsumerID, "Order cancelled",
		fmt.Sprintf("Order %s was cancelled: %s", updated.ID, reason), notify.CategoryOrder, updated.ID)
	w.notify(ctx, updated.BusinessID, "Order cancelled",
		fmt.Sprintf("Order %s was cancelled: %s", updated.ID, reason), notify.CategoryOrder, updated.ID)
	return updated, nil
}

func (w *Workflow) compensate(ctx context.Context, o Order) {
	for _, ln := range o.Lines {
		if err := w.inventory.Release(ctx, ln.ListingID, ln.Quantity); err != nil {
			w.log.Error("release on cancel failed", zap.String("order_id", o.ID),
				zap.String("listing_id", ln.ListingID), zap.Int("qty", ln.Quantity), zap.Error(err))
		}
	}
	if o.PointsRedeemed > 0 {
		if _, err := w.loyalty.AddPoints(ctx, o.ConsumerID, o.PointsRedeemed, loyalty.ReasonReversal, o.ID); err != nil {
			w.log.Error("points reversal failed", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	if o.WalletAmount.IsPositive() {
		if _, err := w.loyalty.AddWalletTransaction(ctx, o.ConsumerID, o.WalletAmount, loyalty.WalletCredit,
			loyalty.SourceReversal, "order "+o.ID+" cancelled", o.ID); err != nil {
			w.log.Error("wallet reversal failed", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	if o.PaidAt != nil && o.PaymentAmount.IsPositive() {
		w.refund(ctx, o)
	}
}

// refund returns the captured gateway amount. Gateway refunds that fail fall
// back to a wallet credit so the consumer is never left short.
func (w *Workflow) refund(ctx context.Context, o Order) {
	if w.cfg.RefundMode == RefundToGateway || o.ConsumerID == "" {
		pctx, cancel := context.WithTimeout(ctx, w.cfg.PaymentTimeout)
		err := w.payments.Refund(pctx, o.PaymentReference, o.PaymentAmount)
		cancel()
		if err == nil {
			w.log.Info("gateway refund issued", zap.String("order_id", o.ID), zap.Stringer("amount", o.PaymentAmount))
			return
		}
		w.log.Warn("gateway refund failed", zap.String("order_id", o.ID), zap.Error(err))
		if o.ConsumerID == "" {
			w.log.Error("donation refund needs manual handling", zap.String("order_id", o.ID),
				zap.String("reference", o.PaymentReference), zap.Stringer("amount", o.PaymentAmount))
			return
		}
	}
	if _, err := w.loyalty.AddWalletTransaction(ctx, o.ConsumerID, o.PaymentAmount, loyalty.WalletCredit,
		loyalty.SourceRefund, "refund for order "+o.ID, o.ID); err != nil {
		w.log.Error("wallet refund failed", zap.String("order_id", o.ID), zap.Error(err))
		return
	}
	w.notify(ctx, o.ConsumerID, "Refund issued",
		fmt.Sprintf("%s was credited to your wallet for order %s", o.PaymentAmount.StringFixed(2), o.ID),
		notify.CategoryWallet, o.ID)
}

// complete is the only path to completed. The caller that wins the status
// compare-and-set applies the loyalty side effects; everyone else gets
// InvalidTransition.
func (w *Workflow) complete(ctx context.Context, o Order) (Order, error) {
	now := w.now()
	updated, err := w.transition(ctx, o, StatusCompleted, "", func(x *Order) { x.CompletedAt = &now })
	if err != nil {
		return Order{}, err
	}
	if updated.ConsumerID != "" {
		bg := context.WithoutCancel(ctx)
		if pts := w.earnedPoints(updated.TotalAmount); pts > 0 {
			if _, err := w.loyalty.AddPoints(bg, updated.ConsumerID, pts, loyalty.ReasonOrderAward, updated.ID); err != nil {
				w.log.Error("award points failed", zap.String("order_id", updated.ID), zap.Error(err))
			}
		}
		if err := w.loyalty.AddMealsRescued(bg, updated.ConsumerID, updated.ItemCount()); err != nil {
			w.log.Error("meals rescued update failed", zap.String("order_id", updated.ID), zap.Error(err))
		}
	}
	w.notify(ctx, updated.ConsumerID, "Order completed",
		fmt.Sprintf("Thanks for rescuing %d meal(s)!", updated.ItemCount()), notify.CategoryOrder, updated.ID)
	return updated, nil
}

func (w *Workflow) earnedPoints(total decimal.Decimal) int64 {
	if !w.cfg.EarnRate.IsPositive() || !total.IsPositive() {
		return 0
	}
	return total.Mul(w.cfg.EarnRate).Floor().IntPart()
}

// VerifyPickup completes the order whose pickup code matches. Unknown codes,
// codes for another order and orders not ready for pickup all fail with
// InvalidPickupCode and change nothing.
func (w *Workflow) VerifyPickup(ctx context.Context, p identity.Principal, orderID, code string) (Order, error) {
	code = NormalizePickupCode(code)
	invalid := apperr.New(apperr.InvalidPickupCode, "pickup code does not match").WithOrder(orderID)
	if code == "" {
		return Order{}, invalid
	}
	o, err := w.orders.GetByPickupCode(ctx, code)
	if errors.Is(err, apperr.OrderNotFound) {
		return Order{}, invalid
	}
	if err != nil {
		return Order{}, err
	}
	if o.ID != orderID {
		return Order{}, invalid
	}
	if !p.IsAdmin() && p.UserID != o.BusinessID {
		return Order{}, apperr.New(apperr.Forbidden, "only the business can verify pickup").WithOrder(orderID)
	}
	if o.Status != StatusReadyForPickup {
		return Order{}, apperr.New(apperr.InvalidPickupCode, "order is %s, not ready for pickup", o.Status).WithOrder(orderID)
	}
	return w.complete(ctx, o)
}

// OpenDispute is the manual administrative path to disputed. It has no side
// effects; a disputed order can only be cancelled afterwards.
func (w *Workflow) OpenDispute(ctx context.Context, p identity.Principal, orderID, reason string) (Order, error) {
	if !p.IsAdmin() {
		return Order{}, apperr.New(apperr.Forbidden, "disputes are opened by an administrator").WithOrder(orderID)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Order{}, apperr.New(apperr.InvalidInput, "dispute reason is required").WithOrder(orderID)
	}
	o, err := w.orders.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	return w.transition(ctx, o, StatusDisputed, reason, func(x *Order) { x.DisputeReason = reason })
}

// transition validates from -> to against the state machine and applies it
// with compare-and-set. Losing a race is reported as InvalidTransition.
func (w *Workflow) transition(ctx context.Context, o Order, to Status, reason string, fn func(*Order)) (Order, error) {
	from := o.Status
	if !CanTransition(from, to) {
		return Order{}, apperr.New(apperr.InvalidTransition, "%s -> %s", from, to).WithOrder(o.ID)
	}
	updated, ok, err := w.orders.Transition(ctx, o.ID, from, to, fn)
	if err != nil {
		return Order{}, fmt.Errorf("transition %s: %w", o.ID, err)
	}
	if !ok {
		return Order{}, apperr.New(apperr.InvalidTransition, "%s -> %s: order is now %s", from, to, updated.Status).
			WithOrder(o.ID)
	}
	w.log.Info("order status changed", zap.String("order_id", o.ID),
		zap.String("from", string(from)), zap.String("to", string(to)))
	w.cacheStatus(ctx, updated)
	w.publish(ctx, eventTypeFor(to), updated, from, reason)
	return updated, nil
}

// Get returns the order when p is its consumer, its business or an admin.
func (w *Workflow) Get(ctx context.Context, p identity.Principal, orderID string) (Order, error) {
	o, err := w.orders.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if !canView(p, o.ConsumerID, o.BusinessID) {
		return Order{}, apperr.New(apperr.Forbidden, "not allowed to view this order").WithOrder(orderID)
	}
	return o, nil
}

// StatusOf serves status polls from the cache and falls back to the store.
func (w *Workflow) StatusOf(ctx context.Context, p identity.Principal, orderID string) (Status, error) {
	if e, ok := w.cache.OrderStatus(ctx, orderID); ok {
		if !canView(p, e.ConsumerID, e.BusinessID) {
			return "", apperr.New(apperr.Forbidden, "not allowed to view this order").WithOrder(orderID)
		}
		return Status(e.Status), nil
	}
	o, err := w.Get(ctx, p, orderID)
	if err != nil {
		return "", err
	}
	w.cacheStatus(ctx, o)
	return o.Status, nil
}

func (w *Workflow) ListForConsumer(ctx context.Context, p identity.Principal, limit, offset int) ([]Order, error) {
	return w.orders.ListByConsumer(ctx, p.UserID, clampLimit(limit), offset)
}

func (w *Workflow) ListForBusiness(ctx context.Context, p identity.Principal, businessID string, status Status, limit, offset int) ([]Order, error) {
	if !p.IsAdmin() && p.UserID != businessID {
		return nil, apperr.New(apperr.Forbidden, "not allowed to list these orders")
	}
	if status != "" && !status.Valid() {
		return nil, apperr.New(apperr.InvalidInput, "unknown status %q", status)
	}
	return w.orders.ListByBusiness(ctx, businessID, status, clampLimit(limit), offset)
}

func canView(p identity.Principal, consumerID, businessID string) bool {
	return p.IsAdmin() || p.UserID == businessID || (consumerID != "" && p.UserID == consumerID)
}

func clampLimit(n int) int {
	if n <= 0 {
		return 50
	}
	if n > 100 {
		return 100
	}
	return n
}
