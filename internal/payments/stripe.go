package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"go.uber.org/zap"
)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type StripeConfig struct {
	APIKey     string
	Currency   string
	SuccessURL string
	CancelURL  string
	Logger     *zap.Logger

	sessions stripeSessionAPI
	refunds  stripeRefundAPI
}

// Stripe collects payments through Stripe Checkout sessions. The session id
// is the collection reference.
type Stripe struct {
	sessions   stripeSessionAPI
	refunds    stripeRefundAPI
	currency   string
	successURL string
	cancelURL  string
	log        *zap.Logger
}

func NewStripe(cfg StripeConfig) (*Stripe, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" && cfg.sessions == nil {
		return nil, errors.New("stripe: api key is required")
	}
	s := &Stripe{
		sessions:   cfg.sessions,
		refunds:    cfg.refunds,
		currency:   strings.ToLower(cfg.Currency),
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		log:        cfg.Logger,
	}
	if s.sessions == nil {
		sc := client.New(key, nil)
		s.sessions = sc.CheckoutSessions
		s.refunds = sc.Refunds
	}
	if s.currency == "" {
		s.currency = "usd"
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s, nil
}

func (s *Stripe) InitializeCollection(ctx context.Context, orderID string, amount decimal.Decimal, payer Payer) (Collection, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(s.successURL),
		CancelURL:         stripe.String(s.cancelURL),
		ClientReferenceID: stripe.String(orderID),
		Metadata:          map[string]string{MetaOrderID: orderID},
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(s.currency),
				UnitAmount: stripe.Int64(minorUnits(amount)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Order " + orderID),
				},
			},
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{MetaOrderID: orderID},
		},
	}
	if payer.Email != "" {
		params.CustomerEmail = stripe.String(payer.Email)
	}
	params.Context = ctx
	params.SetIdempotencyKey("order-" + orderID)

	sess, err := s.sessions.New(params)
	if err != nil {
		return Collection{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	s.log.Info("stripe session created", zap.String("order_id", orderID), zap.String("session_id", sess.ID))
	return Collection{Reference: sess.ID, RedirectURL: sess.URL}, nil
}

func (s *Stripe) VerifyCollection(ctx context.Context, reference string) (Verification, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := s.sessions.Get(reference, params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.HTTPStatusCode == 404 {
			return Verification{}, ErrNotFound
		}
		return Verification{}, fmt.Errorf("stripe: get checkout session: %w", err)
	}
	status := CollectionPending
	switch {
	case sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		status = CollectionSucceeded
	case sess.Status == stripe.CheckoutSessionStatusExpired:
		status = CollectionFailed
	}
	return Verification{
		Reference: sess.ID,
		Status:    status,
		Amount:    decimal.New(sess.AmountTotal, -2),
	}, nil
}

func (s *Stripe) Refund(ctx context.Context, reference string, amount decimal.Decimal) error {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")
	sess, err := s.sessions.Get(reference, params)
	if err != nil {
		return fmt.Errorf("stripe: get checkout session: %w", err)
	}
	if sess.PaymentIntent == nil {
		return fmt.Errorf("stripe: session %s has no payment intent", reference)
	}
	rp := &stripe.RefundParams{
		PaymentIntent: stripe.String(sess.PaymentIntent.ID),
		Amount:        stripe.Int64(minorUnits(amount)),
	}
	rp.Context = ctx
	rp.SetIdempotencyKey("refund-" + reference)
	if _, err := s.refunds.New(rp); err != nil {
		return fmt.Errorf("stripe: create refund: %w", err)
	}
	s.log.Info("stripe refund created", zap.String("session_id", reference), zap.Stringer("amount", amount))
	return nil
}

func minorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
