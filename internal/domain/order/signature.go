package order

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// CallbackVerdict is what a CallbackVerifier concluded about a payment.
type CallbackVerdict int

const (
	// CallbackUnsettled leaves the order pending.
	CallbackUnsettled CallbackVerdict = iota
	CallbackPaid
	CallbackFailed
)

// CallbackVerifier decides whether a client callback proves payment of a
// pending order.
type CallbackVerifier interface {
	CheckCallback(ctx context.Context, cb Callback) (CallbackVerdict, error)
}

// WebhookDecoder authenticates a raw webhook delivery and decodes it.
// Authentication failures wrap ErrInvalidSignature and undecodable bodies
// wrap ErrMalformedEvent.
type WebhookDecoder interface {
	DecodeWebhook(body []byte, header http.Header) (*WebhookEvent, error)
}

// WebhookSignatureHeaders carry the HMACWebhooks signature, in lookup order.
var WebhookSignatureHeaders = []string{"X-Signature", "X-Razorpay-Signature"}

// HMACCallbacks accepts callbacks carrying CallbackSignature under Secret.
type HMACCallbacks struct {
	Secret []byte
}

// CheckCallback implements CallbackVerifier.
func (v HMACCallbacks) CheckCallback(_ context.Context, cb Callback) (CallbackVerdict, error) {
	if signatureEqual(CallbackSignature(v.Secret, cb.GatewayOrderID, cb.PaymentID), cb.Signature) {
		return CallbackPaid, nil
	}
	return CallbackFailed, nil
}

// HMACWebhooks accepts hex WebhookSignature deliveries under Secret and
// decodes them with ParseWebhookEvent.
type HMACWebhooks struct {
	Secret []byte
}

// DecodeWebhook implements WebhookDecoder.
func (v HMACWebhooks) DecodeWebhook(body []byte, header http.Header) (*WebhookEvent, error) {
	var signature string
	for _, name := range WebhookSignatureHeaders {
		if signature = header.Get(name); signature != "" {
			break
		}
	}
	signature = strings.ToLower(strings.TrimSpace(signature))
	if signature == "" || !signatureEqual(WebhookSignature(v.Secret, body), signature) {
		return nil, ErrInvalidSignature
	}
	return ParseWebhookEvent(body)
}

// CallbackSignature is the hex HMAC-SHA256 over "gatewayOrderID|paymentID"
// that the payment gateway hands to the client after checkout.
func CallbackSignature(secret []byte, gatewayOrderID, paymentID string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(gatewayOrderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// WebhookSignature is the hex HMAC-SHA256 of a raw webhook body.
func WebhookSignature(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// signatureEqual compares two hex signatures in constant time.
func signatureEqual(expected, got string) bool {
	return hmac.Equal([]byte(expected), []byte(got))
}
