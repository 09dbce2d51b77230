// Package handler serves the checkout HTTP API.
package handler

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/pkg/httpmiddleware"
	"github.com/xenking/kart-checkout/pkg/ratelimit"
)

// maxBodySize bounds every request body.
const maxBodySize = 64 << 10

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// MaxQuantity is the largest accepted quantity of one cart line.
	MaxQuantity int
}

// Handler serves the checkout endpoints, delegating business logic to the
// checkout service and the reconciler.
type Handler struct {
	checkout   *checkout.Service
	reconciler *order.Reconciler
	sessions   auth.SessionProvider
	maxQty     int
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg Config,
	svc *checkout.Service,
	reconciler *order.Reconciler,
	sessions auth.SessionProvider,
) *Handler {
	return &Handler{
		checkout:   svc,
		reconciler: reconciler,
		sessions:   sessions,
		maxQty:     cfg.MaxQuantity,
	}
}

// RouteConfig configures the per-route guards.
type RouteConfig struct {
	// AllowedOrigins are the storefront origins accepted on browser-facing
	// routes. The webhook is authenticated by signature instead.
	AllowedOrigins []string
	RateLimitStore ratelimit.Store
	// ClientKey identifies the client of a request for rate limiting.
	// If nil, httpmiddleware.ClientIP is used.
	ClientKey func(*http.Request) string
	QuoteLimit     ratelimit.Rule
	OrderLimit     ratelimit.Rule
	VerifyLimit    ratelimit.Rule
	WebhookLimit   ratelimit.Rule
}

// Routes returns the router of the /api/checkout subtree.
func (h *Handler) Routes(cfg RouteConfig) chi.Router {
	origin := httpmiddleware.Origin(cfg.AllowedOrigins)
	limit := func(op string, rule ratelimit.Rule) func(http.Handler) http.Handler {
		return httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
			Operation: op,
			Rule:      rule,
			Store:     cfg.RateLimitStore,
			KeyFunc:   cfg.ClientKey,
		})
	}

	r := chi.NewRouter()
	r.With(origin, limit("quote", cfg.QuoteLimit)).Post("/quote", h.Quote)
	r.With(origin, limit("order", cfg.OrderLimit)).Post("/order", h.PlaceOrder)
	r.With(origin, limit("verify", cfg.VerifyLimit)).Post("/verify", h.Verify)
	r.With(limit("webhook", cfg.WebhookLimit)).Post("/webhook", h.Webhook)
	return r
}

// currentUser returns the signed-in user or nil. A session that fails
// verification is treated as anonymous.
func (h *Handler) currentUser(r *http.Request) *auth.User {
	if h.sessions == nil {
		return nil
	}
	u, err := h.sessions.CurrentUser(r)
	if err != nil {
		zctx.From(r.Context()).Debug("Ignoring session", zap.Error(err))
		return nil
	}
	return u
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errRequestTooLarge
		}
		return nil, errors.Wrap(err, "read body")
	}
	return body, nil
}
