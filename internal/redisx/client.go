package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Cache wraps the keys the API and worker share. A nil *Cache is valid and
// behaves as a permanent miss, so Redis stays optional.
type Cache struct {
	RDB     *redis.Client
	Service string
}

// StatusEntry carries the owner ids so a status poll can be authorized
// without loading the order.
type StatusEntry struct {
	Status     string    `json:"status"`
	ConsumerID string    `json:"consumer_id,omitempty"`
	BusinessID string    `json:"business_id"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (c *Cache) SetOrderStatus(ctx context.Context, orderID string, e StatusEntry) {
	if c == nil || c.RDB == nil {
		return
	}
	b, _ := json.Marshal(e)
	_ = c.RDB.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), b, TTLStatusCache).Err()
}

func (c *Cache) OrderStatus(ctx context.Context, orderID string) (StatusEntry, bool) {
	if c == nil || c.RDB == nil {
		return StatusEntry{}, false
	}
	s, err := c.RDB.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Result()
	if err != nil || s == "" {
		return StatusEntry{}, false
	}
	var e StatusEntry
	if json.Unmarshal([]byte(s), &e) != nil {
		return StatusEntry{}, false
	}
	return e, true
}

// Claim marks id as processed for this service. It returns false when
// another caller already claimed it. Redis errors fail open.
func (c *Cache) Claim(ctx context.Context, id string) bool {
	if c == nil || c.RDB == nil {
		return true
	}
	ok, err := c.RDB.SetNX(ctx, fmt.Sprintf(KeyDedup, c.Service, id), "1", TTLDedup).Result()
	if err != nil {
		return true
	}
	return ok
}

// Unclaim drops a claim so the event can be retried.
func (c *Cache) Unclaim(ctx context.Context, id string) {
	if c == nil || c.RDB == nil {
		return
	}
	_ = c.RDB.Del(ctx, fmt.Sprintf(KeyDedup, c.Service, id)).Err()
}

// checkoutPending holds an idempotency key while its checkout runs.
const checkoutPending = "pending"

var releaseCheckout = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// ClaimCheckout reserves an idempotency key for a single checkout. It returns
// claimed=true when the caller owns the key, or the order id when the key
// already produced an order. An empty id with claimed=false means another
// checkout holds the key. Redis errors fail open.
func (c *Cache) ClaimCheckout(ctx context.Context, userID, key string) (orderID string, claimed bool) {
	if c == nil || c.RDB == nil || key == "" {
		return "", true
	}
	k := fmt.Sprintf(KeyIdemCheckout, userID, key)
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := c.RDB.SetNX(ctx, k, checkoutPending, TTLCheckoutClaim).Result()
		if err != nil || ok {
			return "", true
		}
		id, err := c.RDB.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			continue // expired between the two calls
		}
		if err != nil {
			return "", true
		}
		if id == checkoutPending {
			return "", false
		}
		return id, false
	}
	return "", false
}

// ReleaseCheckout frees a claim whose checkout failed before an order was
// stored. Keys that already point at an order are left alone.
func (c *Cache) ReleaseCheckout(ctx context.Context, userID, key string) {
	if c == nil || c.RDB == nil || key == "" {
		return
	}
	_ = releaseCheckout.Run(ctx, c.RDB, []string{fmt.Sprintf(KeyIdemCheckout, userID, key)}, checkoutPending).Err()
}

// RememberCheckout points the key at the stored order.
func (c *Cache) RememberCheckout(ctx context.Context, userID, key, orderID string) {
	if c == nil || c.RDB == nil || key == "" {
		return
	}
	_ = c.RDB.Set(ctx, fmt.Sprintf(KeyIdemCheckout, userID, key), orderID, TTLIdempotency).Err()
}
