package inventory_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ariefcatur/go-surplus-food/internal/apperr"
	"github.com/ariefcatur/go-surplus-food/internal/inventory"
	"github.com/ariefcatur/go-surplus-food/internal/listings"
	"github.com/shopspring/decimal"
)

type captureEvents struct {
	mu        sync.Mutex
	soldOut   []string
	restocked []string
}

func (c *captureEvents) SoldOut(_ context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.soldOut = append(c.soldOut, id)
}

func (c *captureEvents) Restocked(_ context.Context, id string, _ int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restocked = append(c.restocked, id)
}

// listingStore is the part of a listings repository the ledger tests need.
type listingStore interface {
	inventory.Store
	Create(ctx context.Context, l listings.Listing) error
	Get(ctx context.Context, id string) (listings.Listing, error)
}

func seed(t *testing.T, repo listingStore, id string, qty int) {
	t.Helper()
	now := time.Now().UTC()
	err := repo.Create(context.Background(), listings.Listing{
		ID:                id,
		BusinessID:        "biz-1",
		Title:             "Bread bag",
		Type:              listings.TypeBulkBag,
		OriginalPrice:     decimal.NewFromInt(100),
		AskingPrice:       decimal.NewFromInt(50),
		DiscountedPrice:   decimal.NewFromInt(50),
		TotalQuantity:     qty,
		AvailableQuantity: qty,
		PickupStart:       now,
		PickupEnd:         now.Add(8 * time.Hour),
		Status:            listings.StatusActive,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestReserveFlipsSoldOutAndReleaseRestores(t *testing.T) {
	ctx := context.Background()
	repo := listings.NewMemoryRepo()
	events := &captureEvents{}
	ledger := inventory.NewLedger(repo, events, nil)
	seed(t, repo, "l1", 3)

	ok, err := ledger.Reserve(ctx, "l1", 3)
	if err != nil || !ok {
		t.Fatalf("reserve: ok=%v err=%v", ok, err)
	}
	l, _ := repo.Get(ctx, "l1")
	if l.AvailableQuantity != 0 || l.Status != listings.StatusSoldOut {
		t.Fatalf("expected sold out, got qty=%d status=%s", l.AvailableQuantity, l.Status)
	}
	if len(events.soldOut) != 1 {
		t.Fatalf("expected one sold-out event, got %d", len(events.soldOut))
	}

	if err := ledger.Release(ctx, "l1", 3); err != nil {
		t.Fatalf("release: %v", err)
	}
	l, _ = repo.Get(ctx, "l1")
	if l.AvailableQuantity != 3 || l.Status != listings.StatusActive {
		t.Fatalf("expected restored, got qty=%d status=%s", l.AvailableQuantity, l.Status)
	}
	if len(events.restocked) != 1 {
		t.Fatalf("expected one restock event, got %d", len(events.restocked))
	}
}

func TestReserveRefusesWithoutPartialEffect(t *testing.T) {
	ctx := context.Background()
	repo := listings.NewMemoryRepo()
	ledger := inventory.NewLedger(repo, nil, nil)
	seed(t, repo, "l1", 2)

	ok, err := ledger.Reserve(ctx, "l1", 3)
	if err != nil || ok {
		t.Fatalf("expected refusal, got ok=%v err=%v", ok, err)
	}
	l, _ := repo.Get(ctx, "l1")
	if l.AvailableQuantity != 2 {
		t.Fatalf("stock changed on refusal: %d", l.AvailableQuantity)
	}

	if _, err := ledger.Reserve(ctx, "missing", 1); !errors.Is(err, apperr.ListingNotFound) {
		t.Fatalf("expected ListingNotFound, got %v", err)
	}
	if _, err := ledger.Reserve(ctx, "l1", 0); !errors.Is(err, apperr.InvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestReserveInactiveListing(t *testing.T) {
	ctx := context.Background()
	repo := listings.NewMemoryRepo()
	ledger := inventory.NewLedger(repo, nil, nil)
	seed(t, repo, "l1", 5)
	svc := &listings.Service{Repo: repo}
	if _, err := svc.Cancel(ctx, "biz-1", "l1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	ok, err := ledger.Reserve(ctx, "l1", 1)
	if err != nil || ok {
		t.Fatalf("cancelled listing must refuse, got ok=%v err=%v", ok, err)
	}
}

func TestReleaseIsCappedAtTotal(t *testing.T) {
	ctx := context.Background()
	repo := listings.NewMemoryRepo()
	ledger := inventory.NewLedger(repo, nil, nil)
	seed(t, repo, "l1", 4)

	if _, err := ledger.Reserve(ctx, "l1", 1); err != nil {
		t.Fatal(err)
	}
	if err := ledger.Release(ctx, "l1", 10); err != nil {
		t.Fatal(err)
	}
	l, _ := repo.Get(ctx, "l1")
	if l.AvailableQuantity != 4 {
		t.Fatalf("expected cap at 4, got %d", l.AvailableQuantity)
	}
}

func TestConcurrentReserveNeverOversells(t *testing.T) {
	reserveNeverOversells(t, listings.NewMemoryRepo(), "l1")
}

func reserveNeverOversells(t *testing.T, repo listingStore, id string) {
	t.Helper()
	ctx := context.Background()
	ledger := inventory.NewLedger(repo, nil, nil)
	const stock, callers = 7, 50
	seed(t, repo, id, stock)

	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := ledger.Reserve(ctx, id, 1)
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := wins.Load(); got != stock {
		t.Fatalf("expected exactly %d successful reservations, got %d", stock, got)
	}
	l, _ := repo.Get(ctx, id)
	if l.AvailableQuantity != 0 || l.Status != listings.StatusSoldOut {
		t.Fatalf("expected sold out, got qty=%d status=%s", l.AvailableQuantity, l.Status)
	}
}

func TestReservationRollbackReleasesEveryHeldLine(t *testing.T) {
	ctx := context.Background()
	repo := listings.NewMemoryRepo()
	ledger := inventory.NewLedger(repo, nil, nil)
	seed(t, repo, "a", 2)
	seed(t, repo, "b", 1)
	seed(t, repo, "c", 1)

	res := ledger.Begin()
	for _, ln := range []inventory.Line{{ListingID: "a", Qty: 2}, {ListingID: "b", Qty: 1}} {
		if ok, err := res.Reserve(ctx, ln.ListingID, ln.Qty); !ok || err != nil {
			t.Fatalf("reserve %s: ok=%v err=%v", ln.ListingID, ok, err)
		}
	}
	if ok, _ := res.Reserve(ctx, "c", 5); ok {
		t.Fatalf("expected refusal on c")
	}
	if len(res.Held()) != 2 {
		t.Fatalf("expected two held lines, got %d", len(res.Held()))
	}
	if err := res.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	for id, want := range map[string]int{"a": 2, "b": 1, "c": 1} {
		l, _ := repo.Get(ctx, id)
		if l.AvailableQuantity != want || l.Status != listings.StatusActive {
			t.Fatalf("%s: want qty=%d active, got qty=%d status=%s", id, want, l.AvailableQuantity, l.Status)
		}
	}
}

func TestReserveReleaseSequenceKeepsBounds(t *testing.T) {
	ctx := context.Background()
	repo := listings.NewMemoryRepo()
	ledger := inventory.NewLedger(repo, nil, nil)
	seed(t, repo, "l1", 5)

	ops := []struct {
		reserve bool
		qty     int
	}{{true, 2}, {true, 4}, {false, 1}, {true, 3}, {false, 9}, {true, 5}, {false, 2}}
	for _, op := range ops {
		if op.reserve {
			_, _ = ledger.Reserve(ctx, "l1", op.qty)
		} else {
			_ = ledger.Release(ctx, "l1", op.qty)
		}
		l, _ := repo.Get(ctx, "l1")
		if l.AvailableQuantity < 0 || l.AvailableQuantity > l.TotalQuantity {
			t.Fatalf("bounds violated: %d of %d", l.AvailableQuantity, l.TotalQuantity)
		}
		if (l.AvailableQuantity == 0) != (l.Status == listings.StatusSoldOut) {
			t.Fatalf("status %s inconsistent with qty %d", l.Status, l.AvailableQuantity)
		}
	}
}
