package redisx

import "time"

const (
	// Idempotent checkout: idem:checkout:{user_id}:{idempotency_key} -> order_id,
	// or "pending" while the first checkout for the key runs
	KeyIdemCheckout = "idem:checkout:%s:%s"

	// Order status cache: order_status:{order_id} -> {"status": "...", "updated_at": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{id} (id = webhook reference:event or event_id)
	KeyDedup = "dedup:%s:%s"

	// Realtime pub/sub channel per user: live:{user_id}
	KeyLiveChannel = "live:%s"
)

var (
	TTLIdempotency   = 24 * time.Hour
	TTLCheckoutClaim = 2 * time.Minute
	TTLStatusCache   = 5 * time.Minute
	TTLDedup         = 48 * time.Hour
)
