package checkout

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/product"
)

// ErrEmptyCart is returned when no usable line item is left after
// sanitization.
var ErrEmptyCart = errors.New("cart has no valid items")

// InvalidProductError indicates a cart entry refers to a product that does
// not exist or cannot be sold.
type InvalidProductError struct {
	ProductID string
}

func (e *InvalidProductError) Error() string {
	return fmt.Sprintf("product %s is not available", e.ProductID)
}

// InvalidVariantError indicates a cart entry refers to an unknown variant.
type InvalidVariantError struct {
	ProductID string
	VariantID string
}

func (e *InvalidVariantError) Error() string {
	return fmt.Sprintf("variant %s of product %s is not available", e.VariantID, e.ProductID)
}

// Totals aggregates resolved line items. Tax is the share of TotalPrice
// attributable to the tax rate, since catalog prices include tax.
type Totals struct {
	TotalPrice int64
	TotalMRP   int64
	Tax        int64
	BeforeTax  int64
}

// Resolver prices cart entries from the catalog.
type Resolver struct {
	products product.Repository
	taxRate  decimal.Decimal
	maxQty   int
}

// NewResolver creates a Resolver. taxRate is a fraction (0.18 for 18%).
func NewResolver(products product.Repository, taxRate decimal.Decimal, maxQty int) *Resolver {
	return &Resolver{products: products, taxRate: taxRate, maxQty: maxQty}
}

// Resolve fetches every referenced product in a single batch and returns
// priced snapshots in input order. Client input never contributes a price.
func (r *Resolver) Resolve(ctx context.Context, items []LineItem) ([]order.LineItem, Totals, error) {
	if len(items) == 0 {
		return nil, Totals{}, ErrEmptyCart
	}

	ids := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}

	fetched, err := r.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, Totals{}, errors.Wrap(err, "get products")
	}
	byID := make(map[string]*product.Product, len(fetched))
	for i := range fetched {
		byID[fetched[i].ID] = &fetched[i]
	}

	resolved := make([]order.LineItem, 0, len(items))
	var totals Totals
	for _, item := range items {
		p, ok := byID[item.ProductID]
		if !ok || !p.Purchasable() {
			return nil, Totals{}, &InvalidProductError{ProductID: item.ProductID}
		}

		li := order.LineItem{
			ProductID: p.ID,
			Name:      p.Name,
			UnitPrice: p.Price,
			MRP:       p.MRP,
			Quantity:  min(max(item.Quantity, 1), r.maxQty),
			SKU:       p.SKU,
		}
		if item.VariantID != "" && item.VariantID != item.ProductID {
			v, ok := p.Variant(item.VariantID)
			if !ok {
				return nil, Totals{}, &InvalidVariantError{ProductID: p.ID, VariantID: item.VariantID}
			}
			li.VariantID = v.ID
			li.Name = p.Name + " - " + v.Name
			li.UnitPrice = v.Price
			li.MRP = v.MRP
			if v.SKU != "" {
				li.SKU = v.SKU
			}
		}
		// A catalog entry without an MRP sells at list price.
		if li.MRP < li.UnitPrice {
			li.MRP = li.UnitPrice
		}

		totals.TotalPrice += li.LineTotal()
		totals.TotalMRP += li.MRP * int64(li.Quantity)
		resolved = append(resolved, li)
	}

	totals.Tax = IncludedTax(totals.TotalPrice, r.taxRate)
	totals.BeforeTax = totals.TotalPrice - totals.Tax
	return resolved, totals, nil
}

// IncludedTax returns floor(gross * rate / (1 + rate)), the tax contained in
// a tax-inclusive gross amount.
func IncludedTax(gross int64, rate decimal.Decimal) int64 {
	if gross <= 0 || !rate.IsPositive() {
		return 0
	}
	return decimal.NewFromInt(gross).
		Mul(rate).
		Div(decimal.NewFromInt(1).Add(rate)).
		Floor().
		IntPart()
}
