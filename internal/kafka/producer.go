package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// messageWriter is the subset of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer buffers messages in an inbox drained by one goroutine. Publish
// never blocks the caller: when the inbox is full the message is dropped and
// logged.
type Producer struct {
	w       messageWriter
	topic   string
	log     *zap.Logger
	inbox   chan kafka.Message
	closeCh chan struct{}
	once    sync.Once
}

func NewProducer(brokers []string, topic string, buf int, log *zap.Logger) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newProducer(w, topic, buf, log)
}

func newProducer(w messageWriter, topic string, buf int, log *zap.Logger) *Producer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Producer{
		w:       w,
		topic:   topic,
		log:     log,
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
	}
}

// Start runs the drain loop until Close is called; remaining messages are
// flushed before the writer closes.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for m := range p.inbox {
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			if err := p.w.WriteMessages(wctx, m); err != nil {
				p.log.Warn("kafka write failed", zap.String("topic", p.topic), zap.ByteString("key", m.Key), zap.Error(err))
			}
			cancel()
		}
		if err := p.w.Close(); err != nil {
			p.log.Warn("kafka writer close", zap.String("topic", p.topic), zap.Error(err))
		}
	}()
}

func (p *Producer) Publish(key, value []byte, headers ...kafka.Header) {
	m := kafka.Message{
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
	select {
	case p.inbox <- m:
	default:
		p.log.Error("kafka inbox full, message dropped", zap.String("topic", p.topic), zap.ByteString("key", key))
	}
}

// PublishEnvelope marshals env and publishes it keyed by its correlation id.
func (p *Producer) PublishEnvelope(env Envelope) {
	p.Publish(PartitionKey(env.CorrelationID), MustMarshal(env), env.Headers()...)
}

// SendEnvelope writes env synchronously, bypassing the inbox. Use it where
// the caller must know the event reached the broker.
func (p *Producer) SendEnvelope(ctx context.Context, env Envelope) error {
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:     PartitionKey(env.CorrelationID),
		Value:   MustMarshal(env),
		Time:    time.Now(),
		Headers: env.Headers(),
	})
}

// Close stops accepting messages; the loop flushes the rest and exits.
func (p *Producer) Close() { p.once.Do(func() { close(p.inbox) }) }

// Wait until the drain goroutine is done.
func (p *Producer) WaitClosed() { <-p.closeCh }
