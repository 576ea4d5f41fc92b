// Package notify delivers user notifications. Delivery is fire-and-forget:
// failures are logged and never reach the caller.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	CategoryOrder   = "order"
	CategoryPayment = "payment"
	CategoryPickup  = "pickup"
	CategoryWallet  = "wallet"
)

type Notification struct {
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Category  string    `json:"category"`
	OrderID   string    `json:"order_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifier is the narrow contract the core calls.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Sink is one delivery channel (queue, realtime, log).
type Sink interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Dispatcher fans a notification out to every sink on its own goroutine.
type Dispatcher struct {
	sinks   []Sink
	log     *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewDispatcher(log *zap.Logger, timeout time.Duration, sinks ...Sink) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{sinks: sinks, log: log, timeout: timeout}
}

func (d *Dispatcher) Notify(ctx context.Context, n Notification) {
	if n.UserID == "" {
		return
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	// detached from the request: the order is already committed
	base := context.WithoutCancel(ctx)
	for _, s := range d.sinks {
		d.wg.Add(1)
		go func(s Sink) {
			defer d.wg.Done()
			sctx, cancel := context.WithTimeout(base, d.timeout)
			defer cancel()
			if err := s.Send(sctx, n); err != nil {
				d.log.Warn("notification delivery failed",
					zap.String("sink", s.Name()), zap.String("user_id", n.UserID),
					zap.String("category", n.Category), zap.Error(err))
			}
		}(s)
	}
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// LogSink writes notifications to the logger.
type LogSink struct{ Log *zap.Logger }

func (LogSink) Name() string { return "log" }

func (s LogSink) Send(_ context.Context, n Notification) error {
	s.Log.Info("notification",
		zap.String("user_id", n.UserID), zap.String("title", n.Title),
		zap.String("category", n.Category), zap.String("order_id", n.OrderID))
	return nil
}

// Recorder keeps notifications in memory; used by tests and STORE=memory.
type Recorder struct {
	mu  sync.Mutex
	got []Notification
}

func (r *Recorder) Notify(_ context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
}

func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.got...)
}
