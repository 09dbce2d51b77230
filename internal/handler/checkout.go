package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
)

// Quote prices the cart for display. POST /api/checkout/quote.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	items, req, ok := h.readCart(w, r)
	if !ok {
		return
	}

	var userID string
	if u := h.currentUser(r); u != nil {
		userID = u.ID
	}

	q, err := h.checkout.Quote(r.Context(), checkout.QuoteRequest{
		Items:     items,
		PromoCode: checkout.SanitizePromoCode(req.PromoCode),
		UserID:    userID,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("amountBreakdown", func(e *jx.Encoder) { encodeAmount(e, q.Amount) })
			e.Field("resolvedItems", func(e *jx.Encoder) { encodeItems(e, q.Items) })
			encodePromo(e, q.Promo)
		})
	})
}

// PlaceOrder creates the gateway payment order and the pending order.
// POST /api/checkout/order.
//
// A rejected promocode is answered with 200 and the rejection reason; no
// order is created in that case.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	items, req, ok := h.readCart(w, r)
	if !ok {
		return
	}

	var userID string
	address := checkout.SanitizeAddress(req.Address)
	if u := h.currentUser(r); u != nil {
		userID = u.ID
		if address.Name == "" {
			address.Name = u.Name
		}
		if address.Email == "" {
			address.Email = u.Email
		}
		if address.Phone == "" {
			address.Phone = u.Phone
		}
	}

	res, err := h.checkout.PlaceOrder(r.Context(), checkout.PlaceOrderRequest{
		Items:     items,
		PromoCode: checkout.SanitizePromoCode(req.PromoCode),
		UserID:    userID,
		Address:   address,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}

	if res.Order == nil {
		writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("error", func(e *jx.Encoder) { e.Str(string(res.Promo.Reason)) })
				encodePromo(e, res.Promo)
			})
		})
		return
	}

	o := res.Order
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("orderId", func(e *jx.Encoder) { e.Str(o.ID) })
			e.Field("gatewayOrderId", func(e *jx.Encoder) { e.Str(o.GatewayOrderID) })
			e.Field("amount", func(e *jx.Encoder) { e.Int64(o.Amount.Total) })
			e.Field("currency", func(e *jx.Encoder) { e.Str(o.Currency) })
			e.Field("paymentStatus", func(e *jx.Encoder) { e.Str(string(o.PaymentStatus)) })
			if res.ClientSecret != "" {
				e.Field("clientSecret", func(e *jx.Encoder) { e.Str(res.ClientSecret) })
			}
			e.Field("amountBreakdown", func(e *jx.Encoder) { encodeAmount(e, o.Amount) })
			e.Field("resolvedItems", func(e *jx.Encoder) { encodeItems(e, o.Items) })
			encodePromo(e, res.Promo)
		})
	})
}

// readCart reads and sanitizes a cart body. It writes the error response
// and reports false when the body is unusable.
func (h *Handler) readCart(w http.ResponseWriter, r *http.Request) ([]checkout.LineItem, cartRequest, bool) {
	body, err := readBody(w, r)
	if err != nil {
		handleError(w, r, err)
		return nil, cartRequest{}, false
	}
	req, err := decodeCartRequest(body)
	if err != nil {
		handleError(w, r, err)
		return nil, cartRequest{}, false
	}
	items := checkout.SanitizeLineItems(req.Items, h.maxQty)
	if items == nil {
		handleError(w, r, errInvalidCart)
		return nil, cartRequest{}, false
	}
	return items, req, true
}
