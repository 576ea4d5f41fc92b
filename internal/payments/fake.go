package payments

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type fakeCharge struct {
	orderID  string
	amount   decimal.Decimal
	settled  bool
	failed   bool
	refunded decimal.Decimal
}

// Fake is an in-process Gateway. Collections stay pending until Settle or
// Fail is called, which is what the dev webhook and the tests do.
type Fake struct {
	BaseURL string

	mu      sync.Mutex
	charges map[string]*fakeCharge

	// InitErr, when set, is returned by InitializeCollection.
	InitErr error
}

func NewFake(baseURL string) *Fake {
	return &Fake{BaseURL: baseURL, charges: map[string]*fakeCharge{}}
}

func (f *Fake) InitializeCollection(_ context.Context, orderID string, amount decimal.Decimal, _ Payer) (Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.InitErr != nil {
		return Collection{}, f.InitErr
	}
	if f.charges == nil {
		f.charges = map[string]*fakeCharge{}
	}
	ref := "fake_" + uuid.NewString()
	f.charges[ref] = &fakeCharge{orderID: orderID, amount: amount}
	return Collection{Reference: ref, RedirectURL: fmt.Sprintf("%s/pay/%s", f.BaseURL, ref)}, nil
}

func (f *Fake) VerifyCollection(_ context.Context, reference string) (Verification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.charges[reference]
	if !ok {
		return Verification{}, ErrNotFound
	}
	status := CollectionPending
	switch {
	case c.failed:
		status = CollectionFailed
	case c.settled:
		status = CollectionSucceeded
	}
	return Verification{Reference: reference, Status: status, Amount: c.amount}, nil
}

func (f *Fake) Refund(_ context.Context, reference string, amount decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.charges[reference]
	if !ok {
		return ErrNotFound
	}
	if !c.settled {
		return fmt.Errorf("payments: charge %s not settled", reference)
	}
	c.refunded = c.refunded.Add(amount)
	return nil
}

// Settle marks the collection as paid.
func (f *Fake) Settle(reference string) error {
	return f.mark(reference, func(c *fakeCharge) { c.settled = true })
}

// Fail marks the collection as failed.
func (f *Fake) Fail(reference string) error {
	return f.mark(reference, func(c *fakeCharge) { c.failed = true })
}

// Refunded returns the amount refunded so far for reference.
func (f *Fake) Refunded(reference string) decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.charges[reference]; ok {
		return c.refunded
	}
	return decimal.Zero
}

func (f *Fake) mark(reference string, fn func(*fakeCharge)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.charges[reference]
	if !ok {
		return ErrNotFound
	}
	fn(c)
	return nil
}
