package listings

import (
	"context"
	"time"

	"github.com/ariefcatur/go-surplus-food/internal/inventory"
)

// Repository persists listings. Update runs fn against the current row while
// holding it exclusively, so it serializes with concurrent reservations.
// Implementations also satisfy inventory.Store.
type Repository interface {
	inventory.Store
	Create(ctx context.Context, l Listing) error
	Get(ctx context.Context, id string) (Listing, error)
	Update(ctx context.Context, id string, fn func(*Listing) error) (Listing, error)
	Search(ctx context.Context, f Filter) ([]Listing, error)
	// ListExpirable returns active or sold_out listings whose pickup window
	// ended before now.
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]Listing, error)
}
