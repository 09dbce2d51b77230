// Package gateway implements checkout.Gateway for the supported payment
// providers.
package gateway

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
)

// DefaultRazorpayURL is the production Razorpay API base URL.
const DefaultRazorpayURL = "https://api.razorpay.com"

// maxResponseSize bounds how much of a gateway response is read.
const maxResponseSize = 1 << 20

// RazorpayConfig configures the Razorpay client.
type RazorpayConfig struct {
	KeyID     string
	KeySecret string
	// BaseURL defaults to DefaultRazorpayURL.
	BaseURL string
	// Client defaults to an otelhttp instrumented client.
	Client         *http.Client
	TracerProvider trace.TracerProvider
}

// Razorpay creates payment orders through the Razorpay Orders API.
type Razorpay struct {
	keyID     string
	keySecret string
	baseURL   string
	client    *http.Client
}

var _ checkout.Gateway = (*Razorpay)(nil)

// APIError is an error response returned by the gateway.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString("gateway responded ")
	b.WriteString(http.StatusText(e.StatusCode))
	if e.Code != "" {
		b.WriteString(": ")
		b.WriteString(e.Code)
	}
	if e.Description != "" {
		b.WriteString(": ")
		b.WriteString(e.Description)
	}
	return b.String()
}

// NewRazorpay creates a Razorpay client.
func NewRazorpay(cfg RazorpayConfig) (*Razorpay, error) {
	if cfg.KeyID == "" || cfg.KeySecret == "" {
		return nil, errors.New("razorpay: key id and secret are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultRazorpayURL
	}
	client := cfg.Client
	if client == nil {
		var opts []otelhttp.Option
		if cfg.TracerProvider != nil {
			opts = append(opts, otelhttp.WithTracerProvider(cfg.TracerProvider))
		}
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport, opts...)}
	}
	return &Razorpay{
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		client:    client,
	}, nil
}

// CreateOrder implements checkout.Gateway.
func (r *Razorpay) CreateOrder(ctx context.Context, req checkout.GatewayOrderRequest) (*checkout.GatewayOrder, error) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encodeOrderRequest(e, req)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/orders", bytes.NewReader(e.Bytes()))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	httpReq.SetBasicAuth(r.keyID, r.keySecret)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "send request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeAPIError(resp.StatusCode, body)
	}

	out, err := decodeOrder(body)
	if err != nil {
		return nil, errors.Wrap(err, "decode order")
	}
	if out.ID == "" {
		return nil, errors.New("gateway returned an order without id")
	}
	return out, nil
}

func encodeOrderRequest(e *jx.Encoder, req checkout.GatewayOrderRequest) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("amount", func(e *jx.Encoder) { e.Int64(req.Amount) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(req.Currency) })
		e.Field("receipt", func(e *jx.Encoder) { e.Str(req.Receipt) })
		if len(req.Notes) == 0 {
			return
		}
		keys := make([]string, 0, len(req.Notes))
		for k := range req.Notes {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		e.Field("notes", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, k := range keys {
					e.Field(k, func(e *jx.Encoder) { e.Str(req.Notes[k]) })
				}
			})
		})
	})
}

func decodeOrder(body []byte) (*checkout.GatewayOrder, error) {
	var out checkout.GatewayOrder
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			out.ID, err = d.Str()
		case "amount":
			out.Amount, err = d.Int64()
		case "currency":
			out.Currency, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// decodeAPIError reads {"error":{"code":...,"description":...}}. Bodies in
// any other shape still produce an APIError carrying the status code.
func decodeAPIError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status}
	_ = jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		if key != "error" || d.Next() != jx.Object {
			return d.Skip()
		}
		return d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "code":
				if d.Next() != jx.String {
					return d.Skip()
				}
				apiErr.Code, err = d.Str()
			case "description":
				if d.Next() != jx.String {
					return d.Skip()
				}
				apiErr.Description, err = d.Str()
			default:
				err = d.Skip()
			}
			return err
		})
	})
	return apiErr
}
