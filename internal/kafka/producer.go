package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Producer is an async single-topic publisher. Lifecycle events are emitted
// after the database transaction commits, so publishing must never block a
// request; messages go through a buffered inbox drained by one goroutine.
type Producer struct {
	w       *kafka.Writer
	log     *zap.Logger
	inbox   chan kafka.Message
	closeCh chan struct{}
	once    sync.Once
}

func NewProducer(brokers []string, topic string, buf int, log *zap.Logger) *Producer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		log:     log.With(zap.String("topic", topic)),
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
	}
}

// Start launches the drain goroutine. Cancelling ctx stops intake; whatever is
// already queued is still flushed before the writer closes.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		p.Close()
	}()
	go func() {
		for m := range p.inbox {
			if err := p.w.WriteMessages(context.Background(), m); err != nil {
				p.log.Error("kafka publish failed", zap.Error(err))
			}
		}
		_ = p.w.Close()
		close(p.closeCh)
	}()
}

// Publish enqueues without blocking the caller beyond the inbox buffer.
func (p *Producer) Publish(key, value []byte, headers ...kafka.Header) {
	defer func() {
		// Inbox may already be closed during shutdown; dropping the event is
		// preferable to panicking the request goroutine.
		if recover() != nil {
			p.log.Warn("event dropped, producer closed")
		}
	}()
	p.inbox <- kafka.Message{
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
}

// Close stops intake; the drain goroutine flushes the rest and exits.
func (p *Producer) Close() { p.once.Do(func() { close(p.inbox) }) }

// WaitClosed blocks until the drain goroutine has finished.
func (p *Producer) WaitClosed() { <-p.closeCh }
