package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/order"
)

// Verify settles an order from the client-side payment callback.
// POST /api/checkout/verify.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	req, err := decodeVerifyRequest(body)
	if err != nil {
		handleError(w, r, err)
		return
	}

	var userID string
	if u := h.currentUser(r); u != nil {
		userID = u.ID
	}

	v, err := h.reconciler.VerifyCallback(r.Context(), order.Callback{
		GatewayOrderID: req.GatewayOrderID,
		PaymentID:      req.PaymentID,
		Signature:      req.Signature,
	}, userID)
	if err != nil {
		if errors.Is(err, order.ErrUnauthorized) {
			zctx.From(r.Context()).Warn("Verification by another user",
				zap.String("gateway_order_id", req.GatewayOrderID),
				zap.String("user_id", userID),
			)
		}
		handleError(w, r, err)
		return
	}

	code, status := http.StatusOK, "success"
	switch v.Status {
	case order.PaymentFailed:
		code, status = http.StatusBadRequest, "failed"
	case order.PaymentPending:
		code, status = http.StatusAccepted, "pending"
	}
	writeJSON(w, code, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("status", func(e *jx.Encoder) { e.Str(status) })
			if v.Order != nil {
				e.Field("orderId", func(e *jx.Encoder) { e.Str(v.Order.ID) })
			}
		})
	})
}

// Webhook applies a signed payment event from the gateway.
// POST /api/checkout/webhook.
//
// Any event already applied is answered with 200 so that the gateway stops
// redelivering it.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		handleError(w, r, err)
		return
	}

	res, err := h.reconciler.HandleWebhook(r.Context(), body, r.Header)
	if err != nil {
		if errors.Is(err, order.ErrInvalidSignature) {
			zctx.From(r.Context()).Warn("Rejected webhook", zap.Error(err))
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		handleError(w, r, err)
		return
	}

	lg := zctx.From(r.Context()).With(zap.String("outcome", string(res.Outcome)))
	if res.Order != nil {
		lg = lg.With(zap.String("gateway_order_id", res.Order.GatewayOrderID))
	}
	lg.Info("Webhook handled")

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("status", func(e *jx.Encoder) { e.Str(string(res.Outcome)) })
		})
	})
}
