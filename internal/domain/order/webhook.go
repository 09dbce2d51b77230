package order

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// Webhook event types that may mutate orders. Everything else is ignored.
const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
)

// Note keys the checkout attaches to gateway orders and that come back on
// the payment entity.
const (
	NoteUserID    = "userId"
	NoteOrderID   = "orderId"
	NotePromoCode = "promoCode"
)

// ErrMalformedEvent is returned when a signed webhook body is not a
// payment event.
var ErrMalformedEvent = errors.New("malformed webhook event")

// WebhookEvent is the subset of a gateway webhook delivery used for
// reconciliation.
type WebhookEvent struct {
	Type    string
	Payment PaymentEntity
}

// PaymentEntity is the payment object carried by payment.* events.
type PaymentEntity struct {
	ID       string
	OrderID  string
	Amount   int64
	Currency string
	Email    string
	Contact  string
	Notes    map[string]string
}

// ParseWebhookEvent decodes body of the form
//
//	{"event": "...", "payload": {"payment": {"entity": {...}}}}
func ParseWebhookEvent(body []byte) (*WebhookEvent, error) {
	var ev WebhookEvent
	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "event":
			v, err := optStr(d)
			ev.Type = v
			return err
		case "payload":
			return d.Obj(func(d *jx.Decoder, key string) error {
				if key != "payment" {
					return d.Skip()
				}
				return d.Obj(func(d *jx.Decoder, key string) error {
					if key != "entity" {
						return d.Skip()
					}
					return ev.Payment.decode(d)
				})
			})
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, errors.Wrap(ErrMalformedEvent, err.Error())
	}
	if ev.Type == "" {
		return nil, errors.Wrap(ErrMalformedEvent, "missing event type")
	}
	return &ev, nil
}

func (p *PaymentEntity) decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = optStr(d)
		case "order_id":
			p.OrderID, err = optStr(d)
		case "amount":
			p.Amount, err = d.Int64()
		case "currency":
			p.Currency, err = optStr(d)
		case "email":
			p.Email, err = optStr(d)
		case "contact":
			p.Contact, err = optStr(d)
		case "notes":
			p.Notes, err = decodeNotes(d)
		default:
			err = d.Skip()
		}
		return err
	})
}

// decodeNotes reads a flat object of scalar values. Gateways send an empty
// array when there are no notes.
func decodeNotes(d *jx.Decoder) (map[string]string, error) {
	if d.Next() != jx.Object {
		return nil, d.Skip()
	}
	notes := make(map[string]string)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch d.Next() {
		case jx.String:
			v, err := d.Str()
			notes[key] = v
			return err
		case jx.Number:
			n, err := d.Num()
			notes[key] = n.String()
			return err
		default:
			return d.Skip()
		}
	})
	return notes, err
}

func optStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}
