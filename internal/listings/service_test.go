package listings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ariefcatur/go-surplus-food/internal/apperr"
	"github.com/ariefcatur/go-surplus-food/internal/pricing"
	"github.com/shopspring/decimal"
)

func setup(t *testing.T, now time.Time) (*Service, *MemoryRepo, *time.Time) {
	t.Helper()
	clock := now
	repo := NewMemoryRepo()
	svc := &Service{Repo: repo, Now: func() time.Time { return clock }}
	return svc, repo, &clock
}

func newListing(now time.Time, window time.Duration) Listing {
	return Listing{
		BusinessID:    "biz-1",
		Title:         "Pastry box",
		Type:          TypeMysteryBox,
		OriginalPrice: decimal.NewFromInt(5000),
		AskingPrice:   decimal.NewFromInt(3500),
		TotalQuantity: 4,
		PickupStart:   now,
		PickupEnd:     now.Add(window),
	}
}

func TestCreateSetsInitialState(t *testing.T) {
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	svc, _, _ := setup(t, now)

	l, err := svc.Create(context.Background(), newListing(now, 30*time.Minute))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if l.ID == "" || l.Status != StatusActive || l.AvailableQuantity != 4 {
		t.Fatalf("unexpected listing: %+v", l)
	}
	if !l.DiscountedPrice.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected 20%% ceiling price 1000, got %s", l.DiscountedPrice)
	}
}

func TestCreateValidates(t *testing.T) {
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	svc, _, _ := setup(t, now)

	bad := newListing(now, time.Hour)
	bad.AskingPrice = decimal.NewFromInt(9000)
	if _, err := svc.Create(context.Background(), bad); !errors.Is(err, apperr.InvalidInput) {
		t.Fatalf("expected InvalidInput for asking > original, got %v", err)
	}

	bad = newListing(now, -time.Hour)
	if _, err := svc.Create(context.Background(), bad); !errors.Is(err, apperr.InvalidInput) {
		t.Fatalf("expected InvalidInput for inverted window, got %v", err)
	}
}

func TestUpdateRecomputesPriceOnlyWhenPriceFieldsChange(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	svc, _, clock := setup(t, now)
	l, err := svc.Create(ctx, newListing(now, 24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if !l.DiscountedPrice.Equal(decimal.NewFromInt(3500)) {
		t.Fatalf("expected asking price, got %s", l.DiscountedPrice)
	}

	*clock = now.Add(23 * time.Hour)
	title := "Renamed"
	l, err = svc.Update(ctx, "biz-1", l.ID, Patch{Title: &title})
	if err != nil {
		t.Fatal(err)
	}
	if !l.DiscountedPrice.Equal(decimal.NewFromInt(3500)) {
		t.Fatalf("title change must not reprice, got %s", l.DiscountedPrice)
	}

	asking := decimal.NewFromInt(3000)
	l, err = svc.Update(ctx, "biz-1", l.ID, Patch{AskingPrice: &asking})
	if err != nil {
		t.Fatal(err)
	}
	if !l.DiscountedPrice.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected repricing to 1000 near expiry, got %s", l.DiscountedPrice)
	}

	bulk := pricing.BulkRule{Threshold: 2, DiscountPct: decimal.NewFromInt(10)}
	if _, err := svc.Update(ctx, "biz-1", l.ID, Patch{Bulk: &bulk}); err != nil {
		t.Fatalf("bulk patch: %v", err)
	}
}

func TestUpdateAvailableZeroForcesSoldOut(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	svc, _, _ := setup(t, now)
	l, _ := svc.Create(ctx, newListing(now, 24*time.Hour))

	zero := 0
	l, err := svc.Update(ctx, "biz-1", l.ID, Patch{AvailableQuantity: &zero})
	if err != nil {
		t.Fatal(err)
	}
	if l.Status != StatusSoldOut {
		t.Fatalf("expected sold_out, got %s", l.Status)
	}

	two := 2
	l, err = svc.Update(ctx, "biz-1", l.ID, Patch{AvailableQuantity: &two})
	if err != nil {
		t.Fatal(err)
	}
	if l.Status != StatusActive {
		t.Fatalf("expected active after restock, got %s", l.Status)
	}

	tooMany := 99
	if _, err := svc.Update(ctx, "biz-1", l.ID, Patch{AvailableQuantity: &tooMany}); !errors.Is(err, apperr.InvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestUpdateRequiresOwnership(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	svc, _, _ := setup(t, now)
	l, _ := svc.Create(ctx, newListing(now, 24*time.Hour))

	title := "hijack"
	if _, err := svc.Update(ctx, "biz-2", l.ID, Patch{Title: &title}); !errors.Is(err, apperr.Forbidden) {
		t.Fatalf("expected Forbidden, got %v", err)
	}
	if _, err := svc.Cancel(ctx, "biz-2", l.ID); !errors.Is(err, apperr.Forbidden) {
		t.Fatalf("expected Forbidden, got %v", err)
	}
}

func TestMarkExpiredOnlyAfterWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	svc, _, clock := setup(t, now)
	l, _ := svc.Create(ctx, newListing(now, 2*time.Hour))

	if _, err := svc.MarkExpired(ctx, l.ID); !errors.Is(err, apperr.InvalidInput) {
		t.Fatalf("expected refusal before window end, got %v", err)
	}

	*clock = now.Add(3 * time.Hour)
	l, err := svc.MarkExpired(ctx, l.ID)
	if err != nil {
		t.Fatal(err)
	}
	if l.Status != StatusExpired {
		t.Fatalf("expected expired, got %s", l.Status)
	}
}

func TestSweepExpiredAndSearchHidesInactive(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	svc, _, clock := setup(t, now)

	short, _ := svc.Create(ctx, newListing(now, time.Hour))
	long, _ := svc.Create(ctx, newListing(now, 10*time.Hour))
	cancelled, _ := svc.Create(ctx, newListing(now, 10*time.Hour))
	if _, err := svc.Cancel(ctx, "biz-1", cancelled.ID); err != nil {
		t.Fatal(err)
	}

	*clock = now.Add(2 * time.Hour)
	n, err := svc.SweepExpired(ctx)
	if err != nil || n != 1 {
		t.Fatalf("sweep: n=%d err=%v", n, err)
	}

	got, err := svc.Search(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != long.ID {
		t.Fatalf("expected only %s, got %+v", long.ID, got)
	}

	all, _ := svc.Search(ctx, Filter{IncludeInactive: true})
	if len(all) != 3 {
		t.Fatalf("expected 3 with inactive, got %d", len(all))
	}
	found := false
	for _, l := range all {
		if l.ID == short.ID && l.Status == StatusExpired {
			found = true
		}
	}
	if !found {
		t.Fatalf("short listing should be expired")
	}
}

func TestSearchSortByPrice(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	svc, _, _ := setup(t, now)

	for _, p := range []int64{3000, 1000, 2000} {
		l := newListing(now, 24*time.Hour)
		l.AskingPrice = decimal.NewFromInt(p)
		if _, err := svc.Create(ctx, l); err != nil {
			t.Fatal(err)
		}
	}
	got, _ := svc.Search(ctx, Filter{SortBy: SortPrice})
	for i := 1; i < len(got); i++ {
		if got[i-1].DiscountedPrice.GreaterThan(got[i].DiscountedPrice) {
			t.Fatalf("not sorted by price: %s before %s", got[i-1].DiscountedPrice, got[i].DiscountedPrice)
		}
	}
}

func TestQuoteAppliesBulkRule(t *testing.T) {
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	svc, _, _ := setup(t, now)
	l := newListing(now, 8*time.Hour)
	l.Bulk = &pricing.BulkRule{Threshold: 3, DiscountPct: decimal.NewFromInt(10)}

	if got := svc.Quote(l, 1); !got.Equal(decimal.NewFromInt(3500)) {
		t.Fatalf("single unit: expected 3500, got %s", got)
	}
	if got := svc.Quote(l, 3); !got.Equal(decimal.NewFromInt(3150)) {
		t.Fatalf("bulk: expected 3150, got %s", got)
	}
	if !svc.Price(l).Equal(svc.Quote(l, 1)) {
		t.Fatal("Price must equal a single-unit quote")
	}
}

func TestUpdateRejectsZeroAskingPrice(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	svc, _, _ := setup(t, now)
	l, err := svc.Create(ctx, newListing(now, 24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	zero := decimal.Zero
	if _, err := svc.Update(ctx, "biz-1", l.ID, Patch{AskingPrice: &zero}); !errors.Is(err, apperr.InvalidInput) {
		t.Fatalf("expected InvalidInput for a zero asking price, got %v", err)
	}
	got, _ := svc.Get(ctx, l.ID)
	if !got.AskingPrice.Equal(l.AskingPrice) || !got.DiscountedPrice.Equal(l.DiscountedPrice) {
		t.Fatalf("rejected patch changed the listing: %+v", got)
	}
}
