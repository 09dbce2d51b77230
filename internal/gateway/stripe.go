package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

// Stripe event types mapped onto order webhook events.
const (
	stripeEventSucceeded = "payment_intent.succeeded"
	stripeEventFailed    = "payment_intent.payment_failed"
)

// PaymentIntentAPI is the subset of the Stripe PaymentIntents client in use.
type PaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeConfig configures the Stripe gateway. Intents overrides the client
// built from APIKey.
type StripeConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Intents  PaymentIntentAPI
}

// Stripe creates payment orders as Stripe PaymentIntents. The intent id is
// the gateway order id and its client secret is handed to the browser.
type Stripe struct {
	intents PaymentIntentAPI
}

var (
	_ checkout.Gateway       = (*Stripe)(nil)
	_ order.CallbackVerifier = (*Stripe)(nil)
	_ order.WebhookDecoder   = StripeWebhooks{}
)

// NewStripe creates a Stripe gateway.
func NewStripe(cfg StripeConfig) (*Stripe, error) {
	intents := cfg.Intents
	if intents == nil {
		key := strings.TrimSpace(cfg.APIKey)
		if key == "" {
			return nil, errors.New("stripe: api key is required")
		}
		intents = client.New(key, cfg.Backends).PaymentIntents
	}
	return &Stripe{intents: intents}, nil
}

// CreateOrder implements checkout.Gateway.
func (s *Stripe) CreateOrder(ctx context.Context, req checkout.GatewayOrderRequest) (*checkout.GatewayOrder, error) {
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(req.Amount),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Description: stripe.String(req.Receipt),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.Receipt)
	params.AddMetadata("receipt", req.Receipt)
	for k, v := range req.Notes {
		params.AddMetadata(k, v)
	}

	pi, err := s.intents.New(params)
	if err != nil {
		return nil, stripeError(err, "create payment intent")
	}

	return &checkout.GatewayOrder{
		ID:           pi.ID,
		Amount:       pi.Amount,
		Currency:     strings.ToUpper(string(pi.Currency)),
		ClientSecret: pi.ClientSecret,
	}, nil
}

// CheckCallback implements order.CallbackVerifier. The browser reports the
// intent id, the intent or charge id as payment id, and the intent client
// secret as signature; the intent itself is read back from Stripe.
func (s *Stripe) CheckCallback(ctx context.Context, cb order.Callback) (order.CallbackVerdict, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := s.intents.Get(cb.GatewayOrderID, params)
	if err != nil {
		return order.CallbackUnsettled, stripeError(err, "get payment intent")
	}

	if subtle.ConstantTimeCompare([]byte(pi.ClientSecret), []byte(cb.Signature)) != 1 {
		return order.CallbackFailed, nil
	}
	if cb.PaymentID != pi.ID && (pi.LatestCharge == nil || cb.PaymentID != pi.LatestCharge.ID) {
		return order.CallbackFailed, nil
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return order.CallbackPaid, nil
	case stripe.PaymentIntentStatusCanceled:
		return order.CallbackFailed, nil
	default:
		// Declined attempts are reported by the payment_failed webhook.
		return order.CallbackUnsettled, nil
	}
}

// StripeWebhooks authenticates Stripe-Signature deliveries with the
// endpoint Secret and maps PaymentIntent events onto order events. The
// intent id is the gateway order id. Tolerance defaults to five minutes.
type StripeWebhooks struct {
	Secret    string
	Tolerance time.Duration
}

// DecodeWebhook implements order.WebhookDecoder.
func (w StripeWebhooks) DecodeWebhook(body []byte, header http.Header) (*order.WebhookEvent, error) {
	tolerance := w.Tolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	ev, err := webhook.ConstructEventWithOptions(body, header.Get("Stripe-Signature"), w.Secret,
		webhook.ConstructEventOptions{
			Tolerance:                tolerance,
			IgnoreAPIVersionMismatch: true,
		},
	)
	if err != nil {
		if errors.Is(err, webhook.ErrNotSigned) ||
			errors.Is(err, webhook.ErrInvalidHeader) ||
			errors.Is(err, webhook.ErrNoValidSignature) ||
			errors.Is(err, webhook.ErrTooOld) {
			return nil, errors.Wrap(order.ErrInvalidSignature, err.Error())
		}
		return nil, errors.Wrap(order.ErrMalformedEvent, err.Error())
	}

	var typ string
	switch string(ev.Type) {
	case stripeEventSucceeded:
		typ = order.EventPaymentCaptured
	case stripeEventFailed:
		typ = order.EventPaymentFailed
	default:
		return &order.WebhookEvent{Type: string(ev.Type)}, nil
	}
	if ev.Data == nil {
		return nil, errors.Wrap(order.ErrMalformedEvent, "missing event data")
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
		return nil, errors.Wrap(order.ErrMalformedEvent, err.Error())
	}

	p := order.PaymentEntity{
		ID:       pi.ID,
		OrderID:  pi.ID,
		Amount:   pi.Amount,
		Currency: strings.ToUpper(string(pi.Currency)),
		Email:    pi.ReceiptEmail,
		Notes:    pi.Metadata,
	}
	if pi.LatestCharge != nil && pi.LatestCharge.ID != "" {
		p.ID = pi.LatestCharge.ID
	}
	if typ == order.EventPaymentCaptured && pi.AmountReceived > 0 {
		p.Amount = pi.AmountReceived
	}
	return &order.WebhookEvent{Type: typ, Payment: p}, nil
}

func stripeError(err error, op string) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return &APIError{
			StatusCode:  stripeErr.HTTPStatusCode,
			Code:        string(stripeErr.Code),
			Description: stripeErr.Msg,
		}
	}
	return errors.Wrap(err, op)
}
