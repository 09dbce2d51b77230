// Package kafka publishes order events to a Kafka topic.
package kafka

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"

	"github.com/xenking/kart-checkout/internal/domain/order"
)

// Writer is the subset of *kafka.Writer the producer needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer implements order.Publisher. Messages are keyed by order id so
// every event of one order lands on the same partition.
type Producer struct {
	writer Writer
}

var _ order.Publisher = (*Producer)(nil)

// NewProducer creates a Producer writing to topic on brokers.
func NewProducer(brokers []string, topic string) *Producer {
	return NewProducerWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	})
}

// NewProducerWithWriter creates a Producer over an existing writer.
func NewProducerWithWriter(w Writer) *Producer {
	return &Producer{writer: w}
}

// Publish implements order.Publisher.
func (p *Producer) Publish(ctx context.Context, ev order.Event) error {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	EncodeEvent(e, ev)

	// The encoder buffer returns to the pool, the message keeps a copy.
	value := append([]byte(nil), e.Bytes()...)
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.OrderID),
		Value: value,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(EventType(ev))},
		},
	}); err != nil {
		return errors.Wrap(err, "write order event")
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// EventType names the event for consumers, e.g. "order.paid".
func EventType(ev order.Event) string {
	return "order." + string(ev.PaymentStatus)
}

// EncodeEvent writes ev as a JSON object.
func EncodeEvent(e *jx.Encoder, ev order.Event) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("type", func(e *jx.Encoder) { e.Str(EventType(ev)) })
		e.Field("orderId", func(e *jx.Encoder) { e.Str(ev.OrderID) })
		e.Field("gatewayOrderId", func(e *jx.Encoder) { e.Str(ev.GatewayOrderID) })
		if ev.UserID != "" {
			e.Field("userId", func(e *jx.Encoder) { e.Str(ev.UserID) })
		}
		e.Field("paymentStatus", func(e *jx.Encoder) { e.Str(string(ev.PaymentStatus)) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(ev.Status)) })
		if ev.PaymentID != "" {
			e.Field("paymentId", func(e *jx.Encoder) { e.Str(ev.PaymentID) })
		}
		e.Field("total", func(e *jx.Encoder) { e.Int64(ev.Total) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(ev.Currency) })
		if ev.PromoCode != "" {
			e.Field("promoCode", func(e *jx.Encoder) { e.Str(ev.PromoCode) })
		}
		e.Field("source", func(e *jx.Encoder) { e.Str(string(ev.Source)) })
		e.Field("occurredAt", func(e *jx.Encoder) { e.Str(ev.OccurredAt.UTC().Format(time.RFC3339Nano)) })
	})
}
