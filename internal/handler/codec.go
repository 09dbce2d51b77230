package handler

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/promo"
)

// cartRequest is the undecoded shape of quote and order bodies. Items stay
// raw JSON until the sanitizer coerces them.
type cartRequest struct {
	Items     []byte
	PromoCode string
	Address   order.Address
}

func decodeCartRequest(body []byte) (cartRequest, error) {
	var req cartRequest
	d := jx.DecodeBytes(body)
	if d.Next() != jx.Object {
		return req, errInvalidBody
	}
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "products", "items":
			raw, err := d.Raw()
			if err != nil {
				return err
			}
			req.Items = raw
			return nil
		case "promocode", "promoCode":
			v, err := optString(d)
			req.PromoCode = v
			return err
		case "address":
			if d.Next() != jx.Object {
				return d.Skip()
			}
			return decodeAddress(d, &req.Address)
		default:
			return d.Skip()
		}
	}); err != nil {
		return req, errors.Wrap(errInvalidBody, err.Error())
	}
	return req, nil
}

func decodeAddress(d *jx.Decoder, a *order.Address) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var dst *string
		switch key {
		case "name":
			dst = &a.Name
		case "phone":
			dst = &a.Phone
		case "email":
			dst = &a.Email
		case "line1", "address1":
			dst = &a.Line1
		case "line2", "address2":
			dst = &a.Line2
		case "city":
			dst = &a.City
		case "state":
			dst = &a.State
		case "pincode", "postalCode":
			dst = &a.Pincode
		case "country":
			dst = &a.Country
		default:
			return d.Skip()
		}
		v, err := optString(d)
		*dst = v
		return err
	})
}

// optString reads a string value. Any other JSON type is skipped and
// yields "".
func optString(d *jx.Decoder) (string, error) {
	if d.Next() != jx.String {
		return "", d.Skip()
	}
	return d.Str()
}

type verifyRequest struct {
	GatewayOrderID string
	PaymentID      string
	Signature      string
}

func decodeVerifyRequest(body []byte) (verifyRequest, error) {
	var req verifyRequest
	d := jx.DecodeBytes(body)
	if d.Next() != jx.Object {
		return req, errInvalidBody
	}
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var dst *string
		switch key {
		case "gatewayOrderId", "razorpay_order_id":
			dst = &req.GatewayOrderID
		case "paymentId", "razorpay_payment_id":
			dst = &req.PaymentID
		case "clientSignature", "razorpay_signature":
			dst = &req.Signature
		default:
			return d.Skip()
		}
		v, err := optString(d)
		*dst = v
		return err
	}); err != nil {
		return req, errors.Wrap(errInvalidBody, err.Error())
	}
	return req, nil
}

func encodeItems(e *jx.Encoder, items []order.LineItem) {
	e.Arr(func(e *jx.Encoder) {
		for _, it := range items {
			e.Obj(func(e *jx.Encoder) {
				e.Field("productId", func(e *jx.Encoder) { e.Str(it.ProductID) })
				if it.VariantID != "" {
					e.Field("variantId", func(e *jx.Encoder) { e.Str(it.VariantID) })
				}
				e.Field("name", func(e *jx.Encoder) { e.Str(it.Name) })
				e.Field("unitPrice", func(e *jx.Encoder) { e.Int64(it.UnitPrice) })
				e.Field("mrp", func(e *jx.Encoder) { e.Int64(it.MRP) })
				e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
				e.Field("lineTotal", func(e *jx.Encoder) { e.Int64(it.LineTotal()) })
				if it.SKU != "" {
					e.Field("sku", func(e *jx.Encoder) { e.Str(it.SKU) })
				}
			})
		}
	})
}

func encodeAmount(e *jx.Encoder, b order.AmountBreakdown) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("subtotal", func(e *jx.Encoder) { e.Int64(b.Subtotal) })
		e.Field("mrpTotal", func(e *jx.Encoder) { e.Int64(b.MRPTotal) })
		e.Field("productDiscount", func(e *jx.Encoder) { e.Int64(b.ProductDiscount) })
		e.Field("discount", func(e *jx.Encoder) { e.Int64(b.Discount) })
		e.Field("tax", func(e *jx.Encoder) { e.Int64(b.Tax) })
		e.Field("shipping", func(e *jx.Encoder) { e.Int64(b.Shipping) })
		e.Field("total", func(e *jx.Encoder) { e.Int64(b.Total) })
		e.Field("taxIncluded", func(e *jx.Encoder) { e.Bool(b.TaxIncluded) })
	})
}

// encodePromo writes the promo field; nothing is written when no code was
// requested.
func encodePromo(e *jx.Encoder, res promo.Result) {
	if res.Code == "" && res.Reason == "" {
		return
	}
	e.Field("promo", func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Str(res.Code) })
			e.Field("applied", func(e *jx.Encoder) { e.Bool(res.Applied()) })
			e.Field("discount", func(e *jx.Encoder) { e.Int64(res.Discount) })
			if res.Reason != "" {
				e.Field("reason", func(e *jx.Encoder) { e.Str(string(res.Reason)) })
			}
		})
	})
}
