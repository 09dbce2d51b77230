package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

var (
	errRequestTooLarge = errors.New("request body too large")
	errInvalidBody     = errors.New("request body must be a JSON object")
	errInvalidCart     = errors.New("products must be an array")
)

func writeJSON(w http.ResponseWriter, code int, fn func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	fn(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(code) })
			e.Field("message", func(e *jx.Encoder) { e.Str(message) })
		})
	})
}

// handleError maps domain errors to responses. Upstream and repository
// failures are logged and answered with a generic 500.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		invalidProduct *checkout.InvalidProductError
		invalidVariant *checkout.InvalidVariantError
		upstream       *checkout.UpstreamError
	)
	switch {
	case errors.Is(err, errRequestTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, errInvalidBody),
		errors.Is(err, errInvalidCart),
		errors.Is(err, checkout.ErrEmptyCart),
		errors.Is(err, order.ErrMissingFields),
		errors.Is(err, order.ErrMalformedEvent):
		writeError(w, http.StatusBadRequest, rootMessage(err))
	case errors.As(err, &invalidProduct), errors.As(err, &invalidVariant):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, order.ErrNotFound.Error())
	case errors.Is(err, order.ErrUnauthorized):
		writeError(w, http.StatusForbidden, order.ErrUnauthorized.Error())
	case errors.As(err, &upstream):
		zctx.From(r.Context()).Error("Payment gateway failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "payment gateway unavailable")
	default:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// rootMessage returns the message of the sentinel at the bottom of err's
// chain so that parser details stay out of responses.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
