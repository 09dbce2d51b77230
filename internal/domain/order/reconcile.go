package order

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/xenking/kart-checkout/internal/domain/order"

// Sentinel errors returned by the Reconciler.
var (
	ErrMissingFields    = errors.New("missing required fields")
	ErrUnauthorized     = errors.New("order belongs to another user")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Callback is the client-side payment confirmation.
type Callback struct {
	GatewayOrderID string
	PaymentID      string
	Signature      string
}

// Verification is the outcome of a callback. Order always reflects the
// persisted state, which may have been written by a concurrent trigger.
type Verification struct {
	Status PaymentStatus
	Order  *Order
}

// Success reports whether the order is paid.
func (v Verification) Success() bool {
	return v.Status == PaymentPaid
}

// WebhookOutcome classifies a webhook delivery.
type WebhookOutcome string

const (
	WebhookProcessed WebhookOutcome = "processed"
	WebhookDuplicate WebhookOutcome = "duplicate"
	WebhookIgnored   WebhookOutcome = "ignored"
)

// WebhookResult is the outcome of a webhook delivery.
type WebhookResult struct {
	Outcome WebhookOutcome
	Order   *Order
}

// ReconcilerOptions configures a Reconciler. Zero-valued providers and
// publisher fall back to no-ops. Without Callbacks or Webhooks the HMAC
// schemes keyed by CallbackSecret and WebhookSecret are used.
type ReconcilerOptions struct {
	CallbackSecret string
	WebhookSecret  string
	Callbacks      CallbackVerifier
	Webhooks       WebhookDecoder
	Publisher      Publisher
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// Reconciler moves orders from pending to a terminal payment state in
// response to client callbacks and gateway webhooks. Every terminal write
// is a single conditional update or a uniqueness-guarded insert, so
// concurrent and repeated triggers for one gateway order apply at most once.
type Reconciler struct {
	orders      Repository
	callbacks   CallbackVerifier
	webhooks    WebhookDecoder
	publisher   Publisher
	tracer      trace.Tracer
	transitions metric.Int64Counter
	now         func() time.Time
}

// NewReconciler creates a Reconciler.
func NewReconciler(orders Repository, opts ReconcilerOptions) (*Reconciler, error) {
	if opts.Publisher == nil {
		opts.Publisher = NopPublisher{}
	}
	if opts.MeterProvider == nil {
		opts.MeterProvider = metricnoop.NewMeterProvider()
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = tracenoop.NewTracerProvider()
	}
	if opts.Callbacks == nil {
		opts.Callbacks = HMACCallbacks{Secret: []byte(opts.CallbackSecret)}
	}
	if opts.Webhooks == nil {
		opts.Webhooks = HMACWebhooks{Secret: []byte(opts.WebhookSecret)}
	}

	transitions, err := opts.MeterProvider.Meter(instrumentationName).Int64Counter(
		"checkout.order.transitions",
		metric.WithDescription("Terminal payment transitions by source and status"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create transitions counter")
	}

	return &Reconciler{
		orders:      orders,
		callbacks:   opts.Callbacks,
		webhooks:    opts.Webhooks,
		publisher:   opts.Publisher,
		tracer:      opts.TracerProvider.Tracer(instrumentationName),
		transitions: transitions,
		now:         time.Now,
	}, nil
}

// VerifyCallback checks the client callback and settles the order.
// sessionUserID is empty for anonymous requests.
//
// A rejected callback is not an error: the order is failed and the
// returned Verification reports it. When the gateway has not settled the
// payment yet the order stays pending.
func (r *Reconciler) VerifyCallback(ctx context.Context, cb Callback, sessionUserID string) (_ Verification, rerr error) {
	ctx, span := r.tracer.Start(ctx, "order.VerifyCallback",
		trace.WithAttributes(attribute.String("order.gateway_id", cb.GatewayOrderID)),
	)
	defer endSpan(span, &rerr)

	if cb.GatewayOrderID == "" || cb.PaymentID == "" || cb.Signature == "" {
		return Verification{}, ErrMissingFields
	}

	o, err := r.orders.FindByGatewayOrderID(ctx, cb.GatewayOrderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Verification{}, err
		}
		return Verification{}, errors.Wrap(err, "find order")
	}

	if sessionUserID != "" && o.UserID != "" && o.UserID != sessionUserID {
		entry := HistoryEntry{
			Status:    o.Status,
			Note:      "Verification attempted by another user",
			UpdatedBy: sessionUserID,
			Timestamp: r.now(),
		}
		if err := r.orders.AppendHistory(ctx, o.GatewayOrderID, entry); err != nil {
			return Verification{}, errors.Wrap(err, "record unauthorized attempt")
		}
		return Verification{}, ErrUnauthorized
	}

	// Re-entry after settlement is answered from the stored state.
	if o.PaymentStatus.Terminal() {
		return Verification{Status: o.PaymentStatus, Order: o}, nil
	}

	verdict, err := r.callbacks.CheckCallback(ctx, cb)
	if err != nil {
		return Verification{}, errors.Wrap(err, "check callback")
	}

	now := r.now()
	var patch Patch
	switch verdict {
	case CallbackPaid:
		patch = Patch{
			PaymentStatus: PaymentPaid,
			Status:        StatusConfirmed,
			PaymentID:     cb.PaymentID,
			Signature:     cb.Signature,
			History:       HistoryEntry{Status: StatusConfirmed, Note: "Payment verified", UpdatedBy: UpdatedBySystem, Timestamp: now},
		}
	case CallbackFailed:
		patch = Patch{
			PaymentStatus: PaymentFailed,
			Status:        StatusPaymentFailed,
			History:       HistoryEntry{Status: StatusPaymentFailed, Note: "Signature mismatch", UpdatedBy: UpdatedBySystem, Timestamp: now},
		}
	default:
		return Verification{Status: o.PaymentStatus, Order: o}, nil
	}

	updated, _, err := r.transition(ctx, o.GatewayOrderID, patch, SourceCallback)
	if err != nil {
		return Verification{}, err
	}
	return Verification{Status: updated.PaymentStatus, Order: updated}, nil
}

// HandleWebhook authenticates and applies a gateway webhook delivery.
// Deliveries are at-least-once: anything already applied is reported as
// WebhookDuplicate without touching the order.
func (r *Reconciler) HandleWebhook(ctx context.Context, body []byte, header http.Header) (_ WebhookResult, rerr error) {
	ctx, span := r.tracer.Start(ctx, "order.HandleWebhook")
	defer endSpan(span, &rerr)

	ev, err := r.webhooks.DecodeWebhook(body, header)
	if err != nil {
		return WebhookResult{}, err
	}
	span.SetAttributes(attribute.String("webhook.event", ev.Type))

	now := r.now()
	var patch Patch
	switch ev.Type {
	case EventPaymentCaptured:
		patch = Patch{
			PaymentStatus: PaymentPaid,
			Status:        StatusConfirmed,
			PaymentID:     ev.Payment.ID,
			History:       HistoryEntry{Status: StatusConfirmed, Note: "Payment captured", UpdatedBy: UpdatedByWebhook, Timestamp: now},
		}
	case EventPaymentFailed:
		patch = Patch{
			PaymentStatus: PaymentFailed,
			Status:        StatusPaymentFailed,
			History:       HistoryEntry{Status: StatusPaymentFailed, Note: "Payment failed", UpdatedBy: UpdatedByWebhook, Timestamp: now},
		}
	default:
		return WebhookResult{Outcome: WebhookIgnored}, nil
	}

	gid := ev.Payment.OrderID
	if gid == "" {
		return WebhookResult{}, ErrMissingFields
	}
	span.SetAttributes(attribute.String("order.gateway_id", gid))

	existing, err := r.orders.FindByGatewayOrderID(ctx, gid)
	switch {
	case err == nil:
		return r.settleExisting(ctx, existing, ev.Payment, patch)
	case errors.Is(err, ErrNotFound):
	default:
		return WebhookResult{}, errors.Wrap(err, "find order")
	}

	// The payment may be reported before the pending order was stored.
	o := orderFromPayment(ev.Payment, patch, now)
	for attempt := 0; ; attempt++ {
		err := r.orders.Create(ctx, o)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrDuplicate) {
			return WebhookResult{}, errors.Wrap(err, "create order")
		}
		existing, err := r.orders.FindByGatewayOrderID(ctx, gid)
		switch {
		case err == nil:
			return r.settleExisting(ctx, existing, ev.Payment, patch)
		case errors.Is(err, ErrNotFound) && attempt == 0:
			// The id from the notes is taken by another gateway order.
			o.ID = uuid.NewString()
		default:
			return WebhookResult{}, errors.Wrap(err, "reload order")
		}
	}
	r.record(ctx, o, SourceWebhook)
	return WebhookResult{Outcome: WebhookProcessed, Order: o}, nil
}

func (r *Reconciler) settleExisting(ctx context.Context, o *Order, p PaymentEntity, patch Patch) (WebhookResult, error) {
	if o.PaymentStatus.Terminal() {
		return WebhookResult{Outcome: WebhookDuplicate, Order: o}, nil
	}
	if patch.PaymentStatus == PaymentPaid {
		r.checkCapturedAmount(ctx, o, p, &patch)
	}
	updated, applied, err := r.transition(ctx, o.GatewayOrderID, patch, SourceWebhook)
	if err != nil {
		return WebhookResult{}, err
	}
	if !applied {
		return WebhookResult{Outcome: WebhookDuplicate, Order: updated}, nil
	}
	return WebhookResult{Outcome: WebhookProcessed, Order: updated}, nil
}

// checkCapturedAmount notes a capture that does not match the stored total
// in the history entry of patch. The order is confirmed regardless since the
// gateway already took the money.
func (r *Reconciler) checkCapturedAmount(ctx context.Context, o *Order, p PaymentEntity, patch *Patch) {
	currencyMatches := p.Currency == "" || strings.EqualFold(p.Currency, o.Currency)
	if p.Amount == o.Amount.Total && currencyMatches {
		return
	}
	zctx.From(ctx).Warn("Captured amount differs from order total",
		zap.String("gateway_order_id", o.GatewayOrderID),
		zap.Int64("captured", p.Amount),
		zap.String("captured_currency", p.Currency),
		zap.Int64("expected", o.Amount.Total),
		zap.String("expected_currency", o.Currency),
	)
	patch.History.Note += fmt.Sprintf(" (amount mismatch: captured %d %s, expected %d %s)",
		p.Amount, p.Currency, o.Amount.Total, o.Currency)
}

// transition applies patch to a pending order. When another trigger got
// there first it returns the winner's state with applied=false.
func (r *Reconciler) transition(ctx context.Context, gatewayOrderID string, patch Patch, src Source) (*Order, bool, error) {
	o, err := r.orders.Transition(ctx, gatewayOrderID, PaymentPending, patch)
	if err == nil {
		r.record(ctx, o, src)
		return o, true, nil
	}
	if !errors.Is(err, ErrConflict) {
		return nil, false, errors.Wrap(err, "transition order")
	}
	o, err = r.orders.FindByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return nil, false, errors.Wrap(err, "reload order")
	}
	return o, false, nil
}

func (r *Reconciler) record(ctx context.Context, o *Order, src Source) {
	r.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", string(src)),
		attribute.String("payment_status", string(o.PaymentStatus)),
	))
	if err := r.publisher.Publish(ctx, newEvent(o, src, r.now())); err != nil {
		zctx.From(ctx).Warn("Publish order event",
			zap.String("gateway_order_id", o.GatewayOrderID),
			zap.Error(err),
		)
	}
}

func orderFromPayment(p PaymentEntity, patch Patch, now time.Time) *Order {
	// Payments created outside checkout may carry foreign order ids.
	id := uuid.NewString()
	if u, err := uuid.Parse(p.Notes[NoteOrderID]); err == nil {
		id = u.String()
	}
	return &Order{
		ID:             id,
		GatewayOrderID: p.OrderID,
		UserID:         p.Notes[NoteUserID],
		Amount: AmountBreakdown{
			Subtotal:    p.Amount,
			Total:       p.Amount,
			TaxIncluded: true,
		},
		Currency:      p.Currency,
		PromoCode:     p.Notes[NotePromoCode],
		Address:       Address{Email: p.Email, Phone: p.Contact},
		PaymentStatus: patch.PaymentStatus,
		Status:        patch.Status,
		PaymentID:     patch.PaymentID,
		History:       []HistoryEntry{patch.History},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func endSpan(span trace.Span, errp *error) {
	if err := *errp; err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
