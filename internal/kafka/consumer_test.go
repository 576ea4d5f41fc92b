package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type scriptedReader struct {
	mu      sync.Mutex
	pending []kafka.Message
	commits []kafka.Message
	done    chan struct{}
	want    int
	closed  bool
}

func (r *scriptedReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		m := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *scriptedReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commits = append(r.commits, msgs...)
	if len(r.commits) == r.want {
		close(r.done)
	}
	return nil
}

func (r *scriptedReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func TestConsumerRetriesFailedMessageBeforeCommitting(t *testing.T) {
	r := &scriptedReader{done: make(chan struct{}), want: 3}
	for off := int64(0); off < 3; off++ {
		r.pending = append(r.pending, kafka.Message{Topic: TopicPaymentEvents, Partition: 0, Offset: off})
	}
	c := newConsumer(r, 4, nil)
	c.backoff, c.maxBackoff = time.Millisecond, 2*time.Millisecond

	var mu sync.Mutex
	attempts := map[int64]int{}
	h := func(_ context.Context, m kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		attempts[m.Offset]++
		if m.Offset == 1 && attempts[1] < 3 {
			return errors.New("db unavailable")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Start(ctx, h) }()

	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("messages were not all committed")
	}
	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("start: %v", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, m := range r.commits {
		if m.Offset != int64(i) {
			t.Fatalf("commit %d has offset %d, want in-order commits", i, m.Offset)
		}
	}
	if attempts[1] != 3 || attempts[0] != 1 || attempts[2] != 1 {
		t.Fatalf("unexpected attempts %v", attempts)
	}
	if !r.closed {
		t.Fatal("reader not closed")
	}
}

func TestConsumerStopsRetryingOnShutdown(t *testing.T) {
	r := &scriptedReader{done: make(chan struct{}), want: 1,
		pending: []kafka.Message{{Topic: TopicPaymentEvents, Offset: 7}}}
	c := newConsumer(r, 1, nil)
	c.backoff, c.maxBackoff = time.Millisecond, time.Millisecond

	failed := make(chan struct{}, 1)
	h := func(context.Context, kafka.Message) error {
		select {
		case failed <- struct{}{}:
		default:
		}
		return errors.New("still down")
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Start(ctx, h) }()
	<-failed
	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("start: %v", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.commits) != 0 {
		t.Fatalf("failed message must stay uncommitted, got %v", r.commits)
	}
}
