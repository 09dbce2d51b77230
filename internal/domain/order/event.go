package order

import (
	"context"
	"time"
)

// Source names the reconciliation trigger that moved an order.
type Source string

const (
	SourceCallback Source = "callback"
	SourceWebhook  Source = "webhook"
)

// Event describes a terminal payment transition.
type Event struct {
	OrderID        string
	GatewayOrderID string
	UserID         string
	PaymentStatus  PaymentStatus
	Status         Status
	PaymentID      string
	Total          int64
	Currency       string
	PromoCode      string
	Source         Source
	OccurredAt     time.Time
}

// Publisher delivers order events to downstream consumers (notifications,
// fulfilment). Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// NopPublisher discards events.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Event) error { return nil }

func newEvent(o *Order, src Source, now time.Time) Event {
	return Event{
		OrderID:        o.ID,
		GatewayOrderID: o.GatewayOrderID,
		UserID:         o.UserID,
		PaymentStatus:  o.PaymentStatus,
		Status:         o.Status,
		PaymentID:      o.PaymentID,
		Total:          o.Amount.Total,
		Currency:       o.Currency,
		PromoCode:      o.PromoCode,
		Source:         src,
		OccurredAt:     now,
	}
}
