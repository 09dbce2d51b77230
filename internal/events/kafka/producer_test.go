package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/order"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func testEvent() order.Event {
	return order.Event{
		OrderID:        "o1",
		GatewayOrderID: "order_ABC",
		UserID:         "u1",
		PaymentStatus:  order.PaymentPaid,
		Status:         order.StatusConfirmed,
		PaymentID:      "pay_1",
		Total:          115200,
		Currency:       "INR",
		PromoCode:      "WELCOME10",
		Source:         order.SourceWebhook,
		OccurredAt:     time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestProducer_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w)

	require.NoError(t, p.Publish(context.Background(), testEvent()))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "o1", string(msg.Key))
	assert.Equal(t, testEvent().OccurredAt, msg.Time)
	assert.Equal(t, []kafka.Header{{Key: "event-type", Value: []byte("order.paid")}}, msg.Headers)
	assert.JSONEq(t, `{
		"type": "order.paid",
		"orderId": "o1",
		"gatewayOrderId": "order_ABC",
		"userId": "u1",
		"paymentStatus": "paid",
		"status": "confirmed",
		"paymentId": "pay_1",
		"total": 115200,
		"currency": "INR",
		"promoCode": "WELCOME10",
		"source": "webhook",
		"occurredAt": "2024-05-01T10:00:00Z"
	}`, string(msg.Value))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestProducer_PublishGuestFailure(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w)

	ev := testEvent()
	ev.UserID = ""
	ev.PaymentID = ""
	ev.PromoCode = ""
	ev.PaymentStatus = order.PaymentFailed
	ev.Status = order.StatusPaymentFailed
	ev.Source = order.SourceCallback

	require.NoError(t, p.Publish(context.Background(), ev))
	require.Len(t, w.msgs, 1)
	assert.JSONEq(t, `{
		"type": "order.failed",
		"orderId": "o1",
		"gatewayOrderId": "order_ABC",
		"paymentStatus": "failed",
		"status": "payment_failed",
		"total": 115200,
		"currency": "INR",
		"source": "callback",
		"occurredAt": "2024-05-01T10:00:00Z"
	}`, string(w.msgs[0].Value))
}

func TestProducer_WriteError(t *testing.T) {
	p := NewProducerWithWriter(&fakeWriter{err: errors.New("leader not available")})

	err := p.Publish(context.Background(), testEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write order event")
	assert.Contains(t, err.Error(), "leader not available")
}
