package checkout

import (
	"math"
	"strconv"
	"strings"

	"github.com/go-faster/jx"
	"github.com/microcosm-cc/bluemonday"

	"github.com/xenking/kart-checkout/internal/domain/order"
)

// MaxPromoCodeLength is the longest promocode kept by SanitizePromoCode.
const MaxPromoCodeLength = 32

const maxAddressFieldLength = 200

// LineItem is a sanitized cart entry. Only the sanitizer produces it from
// client input; prices are never part of it.
type LineItem struct {
	ProductID string
	VariantID string
	Quantity  int
}

// SanitizePromoCode trims, upper-cases and truncates raw, then drops every
// character outside [A-Z0-9_-].
func SanitizePromoCode(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if len(s) > MaxPromoCodeLength {
		s = s[:MaxPromoCodeLength]
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return -1
		}
	}, s)
}

// SanitizeLineItems coerces a raw JSON cart into line items. It returns nil
// when raw is not a JSON array. Entries with an empty product id or a
// quantity outside [1, maxQty] are dropped, so the result may be empty.
func SanitizeLineItems(raw []byte, maxQty int) []LineItem {
	d := jx.DecodeBytes(raw)
	if d.Next() != jx.Array {
		return nil
	}

	items := make([]LineItem, 0)
	if err := d.Arr(func(d *jx.Decoder) error {
		if d.Next() != jx.Object {
			return d.Skip()
		}
		var (
			item   LineItem
			hasQty bool
		)
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "productId":
				item.ProductID, err = coerceString(d)
			case "variantId":
				item.VariantID, err = coerceString(d)
			case "quantity":
				item.Quantity, hasQty, err = coerceInt(d)
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}

		item.ProductID = strings.TrimSpace(item.ProductID)
		item.VariantID = strings.TrimSpace(item.VariantID)
		if item.ProductID == "" || !hasQty || item.Quantity < 1 || item.Quantity > maxQty {
			return nil
		}
		items = append(items, item)
		return nil
	}); err != nil {
		return nil
	}
	return items
}

// coerceString accepts strings and numbers; anything else becomes "".
func coerceString(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	default:
		return "", d.Skip()
	}
}

// coerceInt accepts integral numbers and numeric strings.
func coerceInt(d *jx.Decoder) (int, bool, error) {
	var text string
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return 0, false, err
		}
		text = n.String()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return 0, false, err
		}
		text = strings.TrimSpace(s)
	default:
		return 0, false, d.Skip()
	}

	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsInf(f, 0) || f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false, nil
	}
	return int(f), true, nil
}

var addressPolicy = bluemonday.StrictPolicy()

// SanitizeAddress strips markup and surrounding whitespace from every field
// and bounds its length.
func SanitizeAddress(a order.Address) order.Address {
	clean := func(s string) string {
		s = strings.TrimSpace(addressPolicy.Sanitize(s))
		if r := []rune(s); len(r) > maxAddressFieldLength {
			s = string(r[:maxAddressFieldLength])
		}
		return s
	}
	return order.Address{
		Name:    clean(a.Name),
		Phone:   clean(a.Phone),
		Email:   clean(a.Email),
		Line1:   clean(a.Line1),
		Line2:   clean(a.Line2),
		City:    clean(a.City),
		State:   clean(a.State),
		Pincode: clean(a.Pincode),
		Country: clean(a.Country),
	}
}
