package orders

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-surplus-food/internal/apperr"
)

// MemoryRepo keeps orders in process. Used by tests and STORE=memory.
type MemoryRepo struct {
	mu     sync.RWMutex
	orders map[string]Order
	codes  map[string]string // pickup code -> order id
	refs   map[string]string // payment reference -> order id
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		orders: map[string]Order{},
		codes:  map[string]string{},
		refs:   map[string]string{},
	}
}

func (r *MemoryRepo) Create(_ context.Context, o Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.codes[o.PickupCode]; ok {
		return ErrDuplicatePickupCode
	}
	r.orders[o.ID] = clone(o)
	r.codes[o.PickupCode] = o.ID
	if o.PaymentReference != "" {
		r.refs[o.PaymentReference] = o.ID
	}
	return nil
}

func (r *MemoryRepo) Get(_ context.Context, id string) (Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return Order{}, notFound(id)
	}
	return clone(o), nil
}

func (r *MemoryRepo) GetByPickupCode(ctx context.Context, code string) (Order, error) {
	r.mu.RLock()
	id, ok := r.codes[code]
	r.mu.RUnlock()
	if !ok {
		return Order{}, apperr.New(apperr.OrderNotFound, "no order for pickup code")
	}
	return r.Get(ctx, id)
}

func (r *MemoryRepo) GetByPaymentReference(ctx context.Context, ref string) (Order, error) {
	r.mu.RLock()
	id, ok := r.refs[ref]
	r.mu.RUnlock()
	if !ok {
		return Order{}, apperr.New(apperr.OrderNotFound, "no order for payment reference %s", ref)
	}
	return r.Get(ctx, id)
}

func (r *MemoryRepo) Transition(_ context.Context, id string, from, to Status, fn func(*Order)) (Order, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return Order{}, false, notFound(id)
	}
	if o.Status != from {
		return clone(o), false, nil
	}
	o = clone(o)
	if fn != nil {
		fn(&o)
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	r.orders[id] = o
	if o.PaymentReference != "" {
		r.refs[o.PaymentReference] = id
	}
	return clone(o), true, nil
}

func (r *MemoryRepo) SetPaymentReference(_ context.Context, id, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return notFound(id)
	}
	o.PaymentReference = ref
	o.UpdatedAt = time.Now().UTC()
	r.orders[id] = o
	r.refs[ref] = id
	return nil
}

func (r *MemoryRepo) ListByConsumer(_ context.Context, consumerID string, limit, offset int) ([]Order, error) {
	return r.filter(func(o Order) bool { return o.ConsumerID == consumerID }, limit, offset, true), nil
}

func (r *MemoryRepo) ListByBusiness(_ context.Context, businessID string, status Status, limit, offset int) ([]Order, error) {
	return r.filter(func(o Order) bool {
		return o.BusinessID == businessID && (status == "" || o.Status == status)
	}, limit, offset, true), nil
}

func (r *MemoryRepo) ListPendingBefore(_ context.Context, before time.Time, limit int) ([]Order, error) {
	return r.filter(func(o Order) bool {
		return o.Status == StatusPendingPayment && o.CreatedAt.Before(before)
	}, limit, 0, false), nil
}

func (r *MemoryRepo) filter(keep func(Order) bool, limit, offset int, newestFirst bool) []Order {
	r.mu.RLock()
	var out []Order
	for _, o := range r.orders {
		if keep(o) {
			out = append(out, clone(o))
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func clone(o Order) Order {
	o.Lines = append([]Line(nil), o.Lines...)
	o.PaidAt = cloneTime(o.PaidAt)
	o.CompletedAt = cloneTime(o.CompletedAt)
	o.CancelledAt = cloneTime(o.CancelledAt)
	return o
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
