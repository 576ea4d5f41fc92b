package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ariefcatur/go-surplus-food/internal/redisx"
	"github.com/redis/go-redis/v9"
)

// RealtimeSink publishes to the per-user Redis channel that the websocket
// gateway subscribes to. The core never holds connection state.
type RealtimeSink struct{ Redis *redis.Client }

func (RealtimeSink) Name() string { return "realtime" }

func (s RealtimeSink) Send(ctx context.Context, n Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return s.Redis.Publish(ctx, fmt.Sprintf(redisx.KeyLiveChannel, n.UserID), b).Err()
}
