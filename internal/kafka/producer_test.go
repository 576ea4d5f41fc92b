package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
)

type recordingWriter struct {
	mu      sync.Mutex
	msgs    []kafka.Message
	closed  int
	writeFn func(kafka.Message) error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, m := range msgs {
		if w.writeFn != nil {
			if err := w.writeFn(m); err != nil {
				return err
			}
		}
		w.msgs = append(w.msgs, m)
	}
	return nil
}

func (w *recordingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed++
	return nil
}

func TestProducerFlushesOnClose(t *testing.T) {
	w := &recordingWriter{}
	p := newProducer(w, TopicOrderEvents, 16, nil)
	p.Start(context.Background())

	for _, id := range []string{"o1", "o2", "o1"} {
		p.PublishEnvelope(NewEnvelope("OrderCreated", "test", id, map[string]string{"order_id": id}))
	}
	p.Close()
	p.Close()
	p.WaitClosed()

	if len(w.msgs) != 3 || w.closed != 1 {
		t.Fatalf("expected 3 messages and one close, got %d / %d", len(w.msgs), w.closed)
	}
	if string(w.msgs[2].Key) != "o1" {
		t.Fatalf("expected correlation id as key, got %q", w.msgs[2].Key)
	}
	env, err := UnmarshalEnvelope(w.msgs[0].Value)
	if err != nil || env.EventType != "OrderCreated" || env.CorrelationID != "o1" {
		t.Fatalf("unexpected envelope %+v err=%v", env, err)
	}
	payload, err := UnwrapPayload[map[string]string](env.Payload)
	if err != nil || payload["order_id"] != "o1" {
		t.Fatalf("unexpected payload %v err=%v", payload, err)
	}
}

func TestProducerDropsWhenInboxFull(t *testing.T) {
	w := &recordingWriter{}
	p := newProducer(w, TopicOrderEvents, 1, nil)

	p.Publish([]byte("a"), []byte("1"))
	p.Publish([]byte("b"), []byte("2"))

	p.Start(context.Background())
	p.Close()
	p.WaitClosed()
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "a" {
		t.Fatalf("expected only the first message, got %+v", w.msgs)
	}
}

func TestSendEnvelopeReportsErrors(t *testing.T) {
	boom := errors.New("broker down")
	w := &recordingWriter{writeFn: func(kafka.Message) error { return boom }}
	p := newProducer(w, TopicPaymentEvents, 1, nil)

	err := p.SendEnvelope(context.Background(), NewEnvelope("PaymentEventReceived", "test", "ref1", nil))
	if !errors.Is(err, boom) {
		t.Fatalf("expected broker error, got %v", err)
	}
}
