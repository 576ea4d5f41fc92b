package listings

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ariefcatur/go-surplus-food/internal/apperr"
	"github.com/ariefcatur/go-surplus-food/internal/inventory"
)

// MemoryRepo is an in-process Repository guarded by a single mutex.
type MemoryRepo struct {
	mu   sync.Mutex
	rows map[string]Listing
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{rows: map[string]Listing{}}
}

func (r *MemoryRepo) Create(_ context.Context, l Listing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[l.ID]; ok {
		return apperr.New(apperr.InvalidInput, "listing already exists").WithListing(l.ID)
	}
	r.rows[l.ID] = clone(l)
	return nil
}

func (r *MemoryRepo) Get(_ context.Context, id string) (Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.rows[id]
	if !ok {
		return Listing{}, notFound(id)
	}
	return clone(l), nil
}

func (r *MemoryRepo) Update(_ context.Context, id string, fn func(*Listing) error) (Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.rows[id]
	if !ok {
		return Listing{}, notFound(id)
	}
	cp := clone(l)
	if err := fn(&cp); err != nil {
		return Listing{}, err
	}
	r.rows[id] = cp
	return clone(cp), nil
}

func (r *MemoryRepo) Search(_ context.Context, f Filter) ([]Listing, error) {
	r.mu.Lock()
	out := make([]Listing, 0, len(r.rows))
	q := strings.ToLower(strings.TrimSpace(f.Query))
	for _, l := range r.rows {
		if !f.IncludeInactive && (l.Status == StatusExpired || l.Status == StatusCancelled) {
			continue
		}
		if f.BusinessID != "" && l.BusinessID != f.BusinessID {
			continue
		}
		if f.Type != "" && l.Type != f.Type {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(l.Title+" "+l.Description), q) {
			continue
		}
		if f.MaxPrice != nil && l.DiscountedPrice.GreaterThan(*f.MaxPrice) {
			continue
		}
		out = append(out, clone(l))
	}
	r.mu.Unlock()

	sortListings(out, f.SortBy)
	return page(out, f.Offset, f.Limit), nil
}

func (r *MemoryRepo) ListExpirable(_ context.Context, now time.Time, limit int) ([]Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Listing
	for _, l := range r.rows {
		if (l.Status == StatusActive || l.Status == StatusSoldOut) && now.After(l.PickupEnd) {
			out = append(out, clone(l))
		}
	}
	sortListings(out, SortExpiry)
	return page(out, 0, limit), nil
}

func (r *MemoryRepo) ConditionalReserve(_ context.Context, id string, qty int) (inventory.ReserveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.rows[id]
	if !ok {
		return inventory.ReserveResult{}, notFound(id)
	}
	if l.Status != StatusActive || l.AvailableQuantity < qty {
		return inventory.ReserveResult{Remaining: l.AvailableQuantity}, nil
	}
	l.AvailableQuantity -= qty
	soldOut := l.AvailableQuantity == 0
	if soldOut {
		l.Status = StatusSoldOut
	}
	l.UpdatedAt = time.Now().UTC()
	r.rows[id] = l
	return inventory.ReserveResult{OK: true, Remaining: l.AvailableQuantity, SoldOut: soldOut}, nil
}

func (r *MemoryRepo) Release(_ context.Context, id string, qty int) (inventory.ReleaseResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.rows[id]
	if !ok {
		return inventory.ReleaseResult{}, notFound(id)
	}
	l.AvailableQuantity = min(l.TotalQuantity, l.AvailableQuantity+qty)
	restocked := false
	if l.Status == StatusSoldOut && l.AvailableQuantity > 0 {
		l.Status = StatusActive
		restocked = true
	}
	l.UpdatedAt = time.Now().UTC()
	r.rows[id] = l
	return inventory.ReleaseResult{Available: l.AvailableQuantity, Restocked: restocked}, nil
}

func clone(l Listing) Listing {
	if l.Bulk != nil {
		b := *l.Bulk
		l.Bulk = &b
	}
	l.PeakRules = append(l.PeakRules[:0:0], l.PeakRules...)
	return l
}

func sortListings(ls []Listing, by SortBy) {
	switch by {
	case SortPrice:
		sort.SliceStable(ls, func(i, j int) bool { return ls[i].DiscountedPrice.LessThan(ls[j].DiscountedPrice) })
	case SortExpiry:
		sort.SliceStable(ls, func(i, j int) bool { return ls[i].PickupEnd.Before(ls[j].PickupEnd) })
	default:
		sort.SliceStable(ls, func(i, j int) bool { return ls[i].CreatedAt.After(ls[j].CreatedAt) })
	}
}

func page(ls []Listing, offset, limit int) []Listing {
	if offset < 0 {
		offset = 0
	}
	if offset > len(ls) {
		return nil
	}
	ls = ls[offset:]
	if limit > 0 && limit < len(ls) {
		ls = ls[:limit]
	}
	return ls
}

func notFound(id string) error {
	return apperr.New(apperr.ListingNotFound, "listing does not exist").WithListing(id)
}
