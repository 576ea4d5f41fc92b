// Package orders runs the order workflow: checkout with all-or-nothing
// reservation, the post-creation state machine, pickup verification and
// payment processing. Every path that gives stock back also cancels the order.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-surplus-food/internal/apperr"
	"github.com/ariefcatur/go-surplus-food/internal/identity"
	"github.com/ariefcatur/go-surplus-food/internal/inventory"
	"github.com/ariefcatur/go-surplus-food/internal/listings"
	"github.com/ariefcatur/go-surplus-food/internal/loyalty"
	"github.com/ariefcatur/go-surplus-food/internal/notify"
	"github.com/ariefcatur/go-surplus-food/internal/payments"
	"github.com/ariefcatur/go-surplus-food/internal/pricing"
	"github.com/ariefcatur/go-surplus-food/internal/redisx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ListingReader is the read side of the listing lifecycle.
type ListingReader interface {
	Get(ctx context.Context, id string) (listings.Listing, error)
}

// EventPublisher emits order lifecycle events. Publish must not block.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload OrderEventPayload)
}

type RefundMode string

const (
	RefundToWallet  RefundMode = "wallet"
	RefundToGateway RefundMode = "gateway"
)

type Settings struct {
	// RedemptionValue is the money value of one loyalty point.
	RedemptionValue decimal.Decimal
	// EarnRate is the number of points awarded per unit of money paid.
	EarnRate       decimal.Decimal
	MinPrice       decimal.Decimal
	PaymentTimeout time.Duration
	UnpaidTTL      time.Duration
	RefundMode     RefundMode
	MaxCartLines   int
}

type Deps struct {
	Orders    Repository
	Listings  ListingReader
	Inventory *inventory.Ledger
	Loyalty   *loyalty.Ledger
	Payments  payments.Gateway
	Notifier  notify.Notifier
	Events    EventPublisher
	Cache     *redisx.Cache
	Log       *zap.Logger
	Now       func() time.Time
}

type Workflow struct {
	orders    Repository
	listings  ListingReader
	inventory *inventory.Ledger
	loyalty   *loyalty.Ledger
	payments  payments.Gateway
	notifier  notify.Notifier
	events    EventPublisher
	cache     *redisx.Cache
	log       *zap.Logger
	now       func() time.Time
	newCode   func() (string, error)
	cfg       Settings
}

func NewWorkflow(d Deps, s Settings) *Workflow {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if s.RedemptionValue.IsZero() {
		s.RedemptionValue = decimal.NewFromInt(1)
	}
	if s.PaymentTimeout <= 0 {
		s.PaymentTimeout = 15 * time.Second
	}
	if s.UnpaidTTL <= 0 {
		s.UnpaidTTL = 30 * time.Minute
	}
	if s.RefundMode == "" {
		s.RefundMode = RefundToWallet
	}
	if s.MaxCartLines <= 0 {
		s.MaxCartLines = 20
	}
	return &Workflow{
		orders:    d.Orders,
		listings:  d.Listings,
		inventory: d.Inventory,
		loyalty:   d.Loyalty,
		payments:  d.Payments,
		notifier:  d.Notifier,
		events:    d.Events,
		cache:     d.Cache,
		log:       d.Log,
		now:       func() time.Time { return d.Now().UTC() },
		newCode:   newPickupCode,
		cfg:       s,
	}
}

// debits records ledger debits taken during checkout so they can be
// reversed with compensating entries.
type debits struct {
	points int64
	wallet decimal.Decimal
}

// CreateOrder validates and prices the cart, redeems points, reserves every
// line, persists the order and starts payment collection. Until the order is
// persisted any failure, including a panic, releases all reservations and
// reverses every ledger debit taken by this call.
func (w *Workflow) CreateOrder(ctx context.Context, p identity.Principal, cart Cart, opts Options) (Checkout, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return Checkout{}, apperr.New(apperr.Forbidden, "checkout requires an authenticated user")
	}
	if opts.Donation && (opts.PointsToRedeem != 0 || opts.UseWallet) {
		return Checkout{}, apperr.New(apperr.InvalidInput, "donation orders cannot use points or wallet")
	}
	if opts.PointsToRedeem < 0 {
		return Checkout{}, apperr.New(apperr.InvalidInput, "points to redeem must not be negative")
	}
	lines, err := w.normalizeCart(cart)
	if err != nil {
		return Checkout{}, err
	}
	persisted := false
	if id, claimed := w.cache.ClaimCheckout(ctx, p.UserID, opts.IdempotencyKey); !claimed {
		if id == "" {
			return Checkout{}, apperr.New(apperr.CheckoutInProgress, "a checkout with this idempotency key is still running").
				WithUser(p.UserID)
		}
		o, err := w.orders.Get(ctx, id)
		if err != nil {
			return Checkout{}, fmt.Errorf("replay checkout %s: %w", id, err)
		}
		w.log.Info("checkout replayed", zap.String("order_id", id), zap.String("user_id", p.UserID))
		return Checkout{Order: o}, nil
	}
	defer func() {
		if !persisted {
			w.cache.ReleaseCheckout(context.WithoutCancel(ctx), p.UserID, opts.IdempotencyKey)
		}
	}()

	now := w.now()
	order := Order{
		ID:        uuid.NewString(),
		Status:    StatusPendingPayment,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if !opts.Donation {
		order.ConsumerID = p.UserID
	}

	// 1-2: authoritative prices from current listing state
	for _, cl := range lines {
		l, err := w.listings.Get(ctx, cl.ListingID)
		if err != nil {
			return Checkout{}, err
		}
		if l.Status != listings.StatusActive || cl.Quantity > l.AvailableQuantity {
			return Checkout{}, apperr.New(apperr.ItemUnavailable, "%d requested, %d available (%s)",
				cl.Quantity, l.AvailableQuantity, l.Status).WithListing(l.ID)
		}
		if order.BusinessID == "" {
			order.BusinessID = l.BusinessID
		} else if order.BusinessID != l.BusinessID {
			return Checkout{}, apperr.New(apperr.InvalidInput, "all items must come from one business").WithListing(l.ID)
		}
		unit := pricing.Compute(l.PriceInput(cl.Quantity, now, w.cfg.MinPrice))
		order.Lines = append(order.Lines, Line{
			ListingID: l.ID,
			Title:     l.Title,
			Quantity:  cl.Quantity,
			UnitPrice: unit,
			LineTotal: unit.Mul(decimal.NewFromInt(int64(cl.Quantity))).Round(2),
		})
		order.Subtotal = order.Subtotal.Add(order.Lines[len(order.Lines)-1].LineTotal)
	}

	var acct loyalty.Account
	if opts.PointsToRedeem > 0 || opts.UseWallet {
		if acct, err = w.loyalty.Account(ctx, p.UserID); err != nil {
			return Checkout{}, fmt.Errorf("load account: %w", err)
		}
	}
	if opts.PointsToRedeem > 0 && acct.Points < opts.PointsToRedeem {
		return Checkout{}, apperr.New(apperr.InsufficientPoints, "balance %d, requested %d",
			acct.Points, opts.PointsToRedeem).WithUser(p.UserID)
	}
	order.PointsRedeemed, order.PointsDiscount = w.redemption(opts.PointsToRedeem, order.Subtotal)
	order.TotalAmount = decimal.Max(order.Subtotal.Sub(order.PointsDiscount), decimal.Zero)

	res := w.inventory.Begin()
	var taken debits
	defer func() {
		if persisted {
			return
		}
		w.rollback(context.WithoutCancel(ctx), order, res, taken)
	}()

	// 3: points
	if order.PointsRedeemed > 0 {
		if _, err := w.loyalty.AddPoints(ctx, p.UserID, -order.PointsRedeemed, loyalty.ReasonRedemption, order.ID); err != nil {
			return Checkout{}, err
		}
		taken.points = order.PointsRedeemed
	}

	// 4: reserve every line or none
	for _, ln := range order.Lines {
		ok, err := res.Reserve(ctx, ln.ListingID, ln.Quantity)
		if err != nil {
			return Checkout{}, err
		}
		if !ok {
			return Checkout{}, apperr.New(apperr.ReservationFailed, "could not reserve %d", ln.Quantity).
				WithListing(ln.ListingID)
		}
	}

	// 6 (ledger half): wallet deduction is immediate
	if opts.UseWallet && acct.Wallet.IsPositive() {
		order.WalletAmount = decimal.Min(acct.Wallet, order.TotalAmount)
	}
	if order.WalletAmount.IsPositive() {
		_, err := w.loyalty.AddWalletTransaction(ctx, p.UserID, order.WalletAmount.Neg(), loyalty.WalletDebit,
			loyalty.SourceOrderPayment, "order "+order.ID, order.ID)
		if err != nil {
			return Checkout{}, err
		}
		taken.wallet = order.WalletAmount
	}
	order.PaymentAmount = order.TotalAmount.Sub(order.WalletAmount)
	if !order.PaymentAmount.IsPositive() {
		order.PaymentAmount = decimal.Zero
		order.Status = StatusPaid
		order.PaidAt = &now
	}

	// 5: persist
	if err := w.persist(ctx, &order); err != nil {
		return Checkout{}, err
	}
	persisted = true

	w.log.Info("order created",
		zap.String("order_id", order.ID), zap.String("business_id", order.BusinessID),
		zap.Stringer("total", order.TotalAmount), zap.Stringer("payment", order.PaymentAmount),
		zap.String("status", string(order.Status)))
	w.cacheStatus(ctx, order)
	w.cache.RememberCheckout(ctx, p.UserID, opts.IdempotencyKey, order.ID)

	// 6: payment hand-off
	out := Checkout{Order: order}
	if order.Status == StatusPendingPayment {
		coll, err := w.initializePayment(ctx, order, p)
		if err != nil {
			w.log.Warn("payment initialization failed", zap.String("order_id", order.ID), zap.Error(err))
			if _, cerr := w.cancel(ctx, order, "payment initialization failed"); cerr != nil {
				w.log.Error("cancel after payment init failure", zap.String("order_id", order.ID), zap.Error(cerr))
			}
			return Checkout{}, apperr.New(apperr.PaymentInitializationFailed, "payment could not be started").
				WithOrder(order.ID)
		}
		out.Order.PaymentReference = coll.Reference
		out.Collection = &coll
	}

	// 7: notify
	w.publish(ctx, EventOrderCreated, out.Order, "", "")
	w.notify(ctx, out.Order.ConsumerID, "Order placed",
		fmt.Sprintf("Your order %s was placed. Pickup code: %s", out.Order.ID, out.Order.PickupCode),
		notify.CategoryOrder, out.Order.ID)
	w.notify(ctx, out.Order.BusinessID, "New order",
		fmt.Sprintf("Order %s for %d item(s)", out.Order.ID, out.Order.ItemCount()), notify.CategoryOrder, out.Order.ID)
	return out, nil
}

func (w *Workflow) normalizeCart(cart Cart) ([]CartLine, error) {
	if len(cart.Lines) == 0 {
		return nil, apperr.New(apperr.InvalidInput, "cart is empty")
	}
	merged := make([]CartLine, 0, len(cart.Lines))
	index := map[string]int{}
	for _, cl := range cart.Lines {
		if strings.TrimSpace(cl.ListingID) == "" {
			return nil, apperr.New(apperr.InvalidInput, "listing id is required")
		}
		if cl.Quantity <= 0 {
			return nil, apperr.New(apperr.InvalidInput, "quantity must be positive").WithListing(cl.ListingID)
		}
		if i, ok := index[cl.ListingID]; ok {
			merged[i].Quantity += cl.Quantity
			continue
		}
		index[cl.ListingID] = len(merged)
		merged = append(merged, cl)
	}
	if len(merged) > w.cfg.MaxCartLines {
		return nil, apperr.New(apperr.InvalidInput, "cart has more than %d listings", w.cfg.MaxCartLines)
	}
	return merged, nil
}

// redemption converts requested points into a discount capped at subtotal.
// Only the points needed to cover the subtotal are redeemed.
func (w *Workflow) redemption(requested int64, subtotal decimal.Decimal) (int64, decimal.Decimal) {
	if requested <= 0 || !subtotal.IsPositive() {
		return 0, decimal.Zero
	}
	discount := decimal.NewFromInt(requested).Mul(w.cfg.RedemptionValue).Round(2)
	if discount.LessThanOrEqual(subtotal) {
		return requested, discount
	}
	needed := subtotal.Div(w.cfg.RedemptionValue).Ceil().IntPart()
	return needed, subtotal
}

func (w *Workflow) persist(ctx context.Context, o *Order) error {
	for attempt := 0; attempt < maxPickupCodeTries; attempt++ {
		code, err := w.newCode()
		if err != nil {
			return fmt.Errorf("generate pickup code: %w", err)
		}
		o.PickupCode = code
		err = w.orders.Create(ctx, *o)
		if !errors.Is(err, ErrDuplicatePickupCode) {
			if err != nil {
				return fmt.Errorf("persist order: %w", err)
			}
			return nil
		}
		w.log.Debug("pickup code collision", zap.Int("attempt", attempt+1))
	}
	return fmt.Errorf("persist order: no free pickup code after %d attempts", maxPickupCodeTries)
}

func (w *Workflow) rollback(ctx context.Context, o Order, res *inventory.Reservation, taken debits) {
	_ = res.Rollback(ctx) // failures are logged by the ledger
	if taken.points > 0 {
		if _, err := w.loyalty.AddPoints(ctx, o.ConsumerID, taken.points, loyalty.ReasonReversal, o.ID); err != nil {
			w.log.Error("points reversal failed", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	if taken.wallet.IsPositive() {
		if _, err := w.loyalty.AddWalletTransaction(ctx, o.ConsumerID, taken.wallet, loyalty.WalletCredit,
			loyalty.SourceReversal, "checkout rolled back", o.ID); err != nil {
			w.log.Error("wallet reversal failed", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	w.log.Info("checkout rolled back", zap.String("order_id", o.ID))
}

func (w *Workflow) initializePayment(ctx context.Context, o Order, p identity.Principal) (payments.Collection, error) {
	pctx, cancel := context.WithTimeout(ctx, w.cfg.PaymentTimeout)
	defer cancel()
	coll, err := w.payments.InitializeCollection(pctx, o.ID, o.PaymentAmount, payments.Payer{UserID: p.UserID, Email: p.Email})
	if err != nil {
		return payments.Collection{}, err
	}
	if err := w.orders.SetPaymentReference(ctx, o.ID, coll.Reference); err != nil {
		return payments.Collection{}, fmt.Errorf("store payment reference: %w", err)
	}
	return coll, nil
}

func (w *Workflow) cacheStatus(ctx context.Context, o Order) {
	w.cache.SetOrderStatus(ctx, o.ID, redisx.StatusEntry{
		Status:     string(o.Status),
		ConsumerID: o.ConsumerID,
		BusinessID: o.BusinessID,
		UpdatedAt:  o.UpdatedAt,
	})
}

func (w *Workflow) publish(ctx context.Context, eventType string, o Order, prev Status, reason string) {
	if w.events == nil {
		return
	}
	w.events.Publish(ctx, eventType, payloadOf(o, prev, reason))
}

func (w *Workflow) notify(ctx context.Context, userID, title, message, category, orderID string) {
	if w.notifier == nil || userID == "" {
		return
	}
	w.notifier.Notify(ctx, notify.Notification{
		UserID:   userID,
		Title:    title,
		Message:  message,
		Category: category,
		OrderID:  orderID,
	})
}
