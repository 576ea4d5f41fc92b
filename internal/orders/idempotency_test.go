package orders

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/ariefcatur/go-surplus-food/internal/apperr"
	"github.com/ariefcatur/go-surplus-food/internal/redisx"
	"github.com/google/uuid"
)

// withRedis wires a live cache from REDIS_TEST_ADDR; the test is skipped
// when the variable is unset.
func withRedis(t *testing.T) func(*testEnv) {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	rdb := redisx.New(addr)
	t.Cleanup(func() { _ = rdb.Close() })
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	return func(e *testEnv) { e.cache = &redisx.Cache{RDB: rdb, Service: "surplus-test"} }
}

func TestConcurrentCheckoutWithSameKeyCreatesOneOrder(t *testing.T) {
	e := setup(t, withRedis(t))
	l := e.listing(t, 10)
	ctx := context.Background()
	opts := Options{IdempotencyKey: "checkout-" + uuid.NewString()}

	const callers = 8
	var mu sync.Mutex
	var created []string
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			co, err := e.wf.CreateOrder(ctx, consumer, cartOf(CartLine{ListingID: l.ID, Quantity: 1}), opts)
			if err != nil {
				if !errors.Is(err, apperr.CheckoutInProgress) {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			mu.Lock()
			defer mu.Unlock()
			created = append(created, co.Order.ID)
		}()
	}
	close(start)
	wg.Wait()

	for _, id := range created {
		if id != created[0] {
			t.Fatalf("same key produced orders %s and %s", created[0], id)
		}
	}
	if e.available(t, l.ID) != 9 {
		t.Fatalf("expected one unit reserved, got %d available", e.available(t, l.ID))
	}

	co, err := e.wf.CreateOrder(ctx, consumer, cartOf(CartLine{ListingID: l.ID, Quantity: 1}), opts)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(created) > 0 && co.Order.ID != created[0] {
		t.Fatalf("replay returned %s, want %s", co.Order.ID, created[0])
	}
}

func TestFailedCheckoutReleasesIdempotencyKey(t *testing.T) {
	e := setup(t, withRedis(t))
	l := e.listing(t, 1)
	ctx := context.Background()
	opts := Options{IdempotencyKey: "checkout-" + uuid.NewString()}

	_, err := e.wf.CreateOrder(ctx, consumer, cartOf(CartLine{ListingID: l.ID, Quantity: 2}), opts)
	if !errors.Is(err, apperr.ItemUnavailable) {
		t.Fatalf("expected ItemUnavailable, got %v", err)
	}
	co, err := e.wf.CreateOrder(ctx, consumer, cartOf(CartLine{ListingID: l.ID, Quantity: 1}), opts)
	if err != nil {
		t.Fatalf("retry with the same key: %v", err)
	}
	if co.Order.Status != StatusPendingPayment {
		t.Fatalf("unexpected status %s", co.Order.Status)
	}
}
