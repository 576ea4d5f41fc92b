package redisx

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestNilCacheIsAPermanentMiss(t *testing.T) {
	var c *Cache
	ctx := context.Background()

	c.SetOrderStatus(ctx, "o1", StatusEntry{Status: "paid"})
	if _, ok := c.OrderStatus(ctx, "o1"); ok {
		t.Fatal("nil cache must miss")
	}
	if !c.Claim(ctx, "ref:charge.success") || !c.Claim(ctx, "ref:charge.success") {
		t.Fatal("nil cache must let every claim through")
	}
	c.RememberCheckout(ctx, "u1", "k1", "o1")
	for i := 0; i < 2; i++ {
		if id, claimed := c.ClaimCheckout(ctx, "u1", "k1"); !claimed || id != "" {
			t.Fatalf("nil cache must not replay checkouts, got %q %v", id, claimed)
		}
	}
}

// liveCache connects to REDIS_TEST_ADDR; the test is skipped when unset.
func liveCache(t *testing.T) *Cache {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	rdb := New(addr)
	t.Cleanup(func() { _ = rdb.Close() })
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	return &Cache{RDB: rdb, Service: "surplus-test"}
}

func TestClaimCheckoutAdmitsOneConcurrentCaller(t *testing.T) {
	c := liveCache(t)
	ctx := context.Background()
	user, key := "u-"+uuid.NewString(), "k1"
	t.Cleanup(func() { _ = c.RDB.Del(ctx, fmt.Sprintf(KeyIdemCheckout, user, key)).Err() })

	const callers = 20
	var mu sync.Mutex
	claimed, busy := 0, 0
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			id, ok := c.ClaimCheckout(ctx, user, key)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case ok:
				claimed++
			case id == "":
				busy++
			}
		}()
	}
	close(start)
	wg.Wait()
	if claimed != 1 || busy != callers-1 {
		t.Fatalf("expected one owner and %d busy callers, got %d / %d", callers-1, claimed, busy)
	}

	c.RememberCheckout(ctx, user, key, "o1")
	if id, ok := c.ClaimCheckout(ctx, user, key); ok || id != "o1" {
		t.Fatalf("expected replay of o1, got %q %v", id, ok)
	}
	c.ReleaseCheckout(ctx, user, key)
	if id, _ := c.ClaimCheckout(ctx, user, key); id != "o1" {
		t.Fatalf("release must not drop a stored order, got %q", id)
	}
}

func TestReleaseCheckoutFreesPendingClaim(t *testing.T) {
	c := liveCache(t)
	ctx := context.Background()
	user, key := "u-"+uuid.NewString(), "k1"
	t.Cleanup(func() { _ = c.RDB.Del(ctx, fmt.Sprintf(KeyIdemCheckout, user, key)).Err() })

	if _, ok := c.ClaimCheckout(ctx, user, key); !ok {
		t.Fatal("first claim must succeed")
	}
	c.ReleaseCheckout(ctx, user, key)
	if _, ok := c.ClaimCheckout(ctx, user, key); !ok {
		t.Fatal("released key must be claimable again")
	}
}
