package product

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is a catalog record. Prices are integers in minor currency units
// and are the only prices the checkout trusts.
type Product struct {
	ID                 string
	Name               string
	Price              int64
	MRP                int64
	DiscountPercentage int
	SKU                string
	Variants           []Variant
	Deleted            bool
	Visible            bool
}

// Variant is a purchasable option of a product with its own price.
type Variant struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
	MRP   int64  `json:"mrp"`
	SKU   string `json:"sku,omitempty"`
}

// Purchasable reports whether the product may be sold.
func (p *Product) Purchasable() bool {
	return p != nil && !p.Deleted && p.Visible
}

// Variant returns the variant with the given id.
func (p *Product) Variant(id string) (Variant, bool) {
	for _, v := range p.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return Variant{}, false
}

// Repository defines read operations for the product catalog.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	// GetByIDs returns the products that exist; missing ids are omitted.
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
