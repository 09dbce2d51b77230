package checkout

import (
	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/order"
)

// TaxMode selects how tax contributes to the grand total.
type TaxMode string

const (
	// TaxInclusive treats catalog prices as already containing tax. The
	// breakdown still reports the contained tax.
	TaxInclusive TaxMode = "inclusive"
	// TaxAdditive charges tax on top of the discounted subtotal.
	TaxAdditive TaxMode = "additive"
)

// ParseTaxMode validates a configured tax mode. Empty means TaxInclusive.
func ParseTaxMode(s string) (TaxMode, error) {
	switch m := TaxMode(s); m {
	case "":
		return TaxInclusive, nil
	case TaxInclusive, TaxAdditive:
		return m, nil
	default:
		return "", errors.Errorf("unknown tax mode %q", s)
	}
}

// Policy holds the pricing rules applied on top of catalog prices.
type Policy struct {
	// Orders strictly above the threshold ship for free.
	FreeShippingThreshold int64
	FlatShippingFee       int64
	TaxMode               TaxMode
}

// Shipping returns the delivery charge for a cart priced at totalPrice.
func (p Policy) Shipping(totalPrice int64) int64 {
	if totalPrice > p.FreeShippingThreshold {
		return 0
	}
	return p.FlatShippingFee
}

// Assemble combines resolved totals and the promo discount into the
// order's amount breakdown. The promo discount never exceeds the subtotal.
func Assemble(t Totals, promoDiscount int64, p Policy) order.AmountBreakdown {
	discount := min(max(promoDiscount, 0), t.TotalPrice)
	b := order.AmountBreakdown{
		Subtotal:        t.TotalPrice,
		MRPTotal:        t.TotalMRP,
		ProductDiscount: max(t.TotalMRP-t.TotalPrice, 0),
		Discount:        discount,
		Tax:             t.Tax,
		Shipping:        p.Shipping(t.TotalPrice),
		TaxIncluded:     p.TaxMode != TaxAdditive,
	}
	b.Total = b.FinalAmount() + b.Shipping
	if !b.TaxIncluded {
		b.Total += b.Tax
	}
	return b
}
