package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/promo"
)

// GatewayOrderRequest asks the payment gateway for a new payment order.
type GatewayOrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

// GatewayOrder is the gateway's view of a created payment order.
type GatewayOrder struct {
	ID       string
	Amount   int64
	Currency string
	// ClientSecret is handed to the browser when the gateway needs one to
	// complete payment.
	ClientSecret string
}

// Gateway creates remote payment orders.
type Gateway interface {
	CreateOrder(ctx context.Context, req GatewayOrderRequest) (*GatewayOrder, error)
}

// UpstreamError wraps a payment gateway failure. No order is stored when it
// is returned.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return "payment gateway: " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Config holds checkout pricing and gateway settings.
type Config struct {
	Policy         Policy
	Currency       string
	GatewayTimeout time.Duration
}

// QuoteRequest is a sanitized cart to price.
type QuoteRequest struct {
	Items     []LineItem
	PromoCode string
	UserID    string
}

// Quote is a priced cart. A rejected promocode is reported in Promo and
// leaves the totals undiscounted.
type Quote struct {
	Items  []order.LineItem
	Amount order.AmountBreakdown
	Promo  promo.Result
}

// PlaceOrderRequest is a sanitized cart to turn into a pending order.
type PlaceOrderRequest struct {
	Items     []LineItem
	PromoCode string
	UserID    string
	Address   order.Address
}

// PlaceOrderResult holds the stored order, or only the promo rejection when
// the requested code could not be redeemed.
type PlaceOrderResult struct {
	Order        *order.Order
	Promo        promo.Result
	ClientSecret string
}

// Service prices carts and places pending orders.
type Service struct {
	resolver *Resolver
	promos   *promo.Evaluator
	gateway  Gateway
	orders   order.Repository
	cfg      Config
	now      func() time.Time
}

// NewService creates a checkout Service with the required domain
// dependencies.
func NewService(
	resolver *Resolver,
	promos *promo.Evaluator,
	gateway Gateway,
	orders order.Repository,
	cfg Config,
) *Service {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	return &Service{
		resolver: resolver,
		promos:   promos,
		gateway:  gateway,
		orders:   orders,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Quote prices the cart without any side effect.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	items, totals, err := s.resolver.Resolve(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	res, err := s.promos.Evaluate(ctx, promo.Request{
		Code:       req.PromoCode,
		Subtotal:   totals.TotalPrice,
		UserID:     req.UserID,
		ProductIDs: productIDs(items),
	})
	if err != nil {
		return nil, errors.Wrap(err, "evaluate promocode")
	}

	return &Quote{
		Items:  items,
		Amount: Assemble(totals, res.Discount, s.cfg.Policy),
		Promo:  res,
	}, nil
}

// PlaceOrder prices the cart, redeems the promocode, creates the gateway
// payment order and stores the pending order. A redeemed slot is released
// again when no order gets stored.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	items, totals, err := s.resolver.Resolve(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	res, err := s.promos.Evaluate(ctx, promo.Request{
		Code:       req.PromoCode,
		Subtotal:   totals.TotalPrice,
		UserID:     req.UserID,
		ProductIDs: productIDs(items),
		Redeem:     true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "evaluate promocode")
	}
	if res.Rejected() {
		return &PlaceOrderResult{Promo: res}, nil
	}

	amount := Assemble(totals, res.Discount, s.cfg.Policy)
	id := uuid.NewString()

	notes := map[string]string{order.NoteOrderID: id}
	if req.UserID != "" {
		notes[order.NoteUserID] = req.UserID
	}
	if res.Applied() {
		notes[order.NotePromoCode] = res.Code
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	gw, err := s.gateway.CreateOrder(gwCtx, GatewayOrderRequest{
		Amount:   amount.Total,
		Currency: s.cfg.Currency,
		Receipt:  "rcpt_" + ulid.Make().String(),
		Notes:    notes,
	})
	if err != nil {
		s.releasePromo(ctx, res)
		return nil, &UpstreamError{Err: err}
	}

	now := s.now()
	placedBy := req.UserID
	if placedBy == "" {
		placedBy = order.UpdatedByGuest
	}
	o := &order.Order{
		ID:             id,
		GatewayOrderID: gw.ID,
		UserID:         req.UserID,
		Items:          items,
		Amount:         amount,
		Currency:       s.cfg.Currency,
		PromoCode:      res.Code,
		Address:        req.Address,
		PaymentStatus:  order.PaymentPending,
		Status:         order.StatusPending,
		History: []order.HistoryEntry{{
			Status:    order.StatusPending,
			Note:      "Order placed",
			UpdatedBy: placedBy,
			Timestamp: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		if !errors.Is(err, order.ErrDuplicate) {
			s.releasePromo(ctx, res)
			return nil, errors.Wrap(err, "create order")
		}
		// The payment webhook stored the order first.
		existing, err := s.orders.FindByGatewayOrderID(ctx, gw.ID)
		if err != nil {
			return nil, errors.Wrap(err, "find order")
		}
		o = existing
	}

	return &PlaceOrderResult{Order: o, Promo: res, ClientSecret: gw.ClientSecret}, nil
}

// releasePromo gives back the usage slot of an order that was never stored.
// It runs detached from ctx, which may already be cancelled by then.
func (s *Service) releasePromo(ctx context.Context, res promo.Result) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.promos.Release(releaseCtx, res); err != nil {
		zctx.From(ctx).Error("Release promocode slot", zap.String("code", res.Code), zap.Error(err))
	}
}

func productIDs(items []order.LineItem) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
	}
	return ids
}
