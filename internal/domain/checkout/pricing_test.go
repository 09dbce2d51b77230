package checkout

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/product"
)

// --- Mock implementations ---

type mockProductRepo struct {
	byID   map[string]product.Product
	getErr error
	calls  int
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	m.calls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func newProductRepo(products ...product.Product) *mockProductRepo {
	byID := make(map[string]product.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return &mockProductRepo{byID: byID}
}

// --- Helpers ---

var (
	gst         = decimal.RequireFromString("0.18")
	testPolicy  = Policy{FreeShippingThreshold: 499, FlatShippingFee: 49, TaxMode: TaxInclusive}
	testCatalog = []product.Product{
		{ID: "p1", Name: "Tea", Price: 500, MRP: 600, SKU: "TEA", Visible: true},
		{ID: "p2", Name: "Mug", Price: 250, MRP: 250, SKU: "MUG", Visible: true, Variants: []product.Variant{
			{ID: "v-blue", Name: "Blue", Price: 275, MRP: 300, SKU: "MUG-B"},
		}},
		{ID: "p3", Name: "Spoon", Price: 99, Visible: true},
		{ID: "gone", Name: "Old", Price: 10, MRP: 10, Deleted: true, Visible: true},
		{ID: "hidden", Name: "Draft", Price: 10, MRP: 10},
	}
)

// --- Tests ---

func TestResolve_ScenarioA(t *testing.T) {
	r := NewResolver(newProductRepo(testCatalog...), gst, 10)

	items, totals, err := r.Resolve(context.Background(), []LineItem{{ProductID: "p1", Quantity: 2}})
	require.NoError(t, err)

	require.Len(t, items, 1)
	assert.Equal(t, int64(500), items[0].UnitPrice)
	assert.Equal(t, 2, items[0].Quantity)
	assert.Equal(t, Totals{TotalPrice: 1000, TotalMRP: 1200, Tax: 152, BeforeTax: 848}, totals)

	b := Assemble(totals, 0, testPolicy)
	assert.Equal(t, int64(1000), b.Subtotal)
	assert.Equal(t, int64(0), b.Discount)
	assert.Equal(t, int64(152), b.Tax)
	assert.Equal(t, int64(0), b.Shipping)
	assert.Equal(t, int64(1000), b.Total)
	assert.Equal(t, int64(200), b.ProductDiscount)
	assert.True(t, b.Balanced())
}

func TestResolve_Variants(t *testing.T) {
	r := NewResolver(newProductRepo(testCatalog...), gst, 10)

	items, totals, err := r.Resolve(context.Background(), []LineItem{
		{ProductID: "p2", VariantID: "v-blue", Quantity: 1},
		{ProductID: "p2", VariantID: "p2", Quantity: 1},
		{ProductID: "p3", Quantity: 1},
	})
	require.NoError(t, err)

	require.Len(t, items, 3)
	assert.Equal(t, "Mug - Blue", items[0].Name)
	assert.Equal(t, "v-blue", items[0].VariantID)
	assert.Equal(t, int64(275), items[0].UnitPrice)
	assert.Equal(t, "MUG-B", items[0].SKU)

	assert.Empty(t, items[1].VariantID, "variant equal to product id means the base product")
	assert.Equal(t, int64(250), items[1].UnitPrice)

	assert.Equal(t, int64(99), items[2].MRP, "missing MRP falls back to price")
	assert.Equal(t, int64(275+250+99), totals.TotalPrice)
	assert.Equal(t, int64(300+250+99), totals.TotalMRP)
}

func TestResolve_Errors(t *testing.T) {
	tests := []struct {
		name  string
		items []LineItem
		check func(t *testing.T, err error)
	}{
		{
			name:  "empty cart",
			items: nil,
			check: func(t *testing.T, err error) { require.ErrorIs(t, err, ErrEmptyCart) },
		},
		{
			name:  "unknown product",
			items: []LineItem{{ProductID: "p1", Quantity: 1}, {ProductID: "nope", Quantity: 1}},
			check: func(t *testing.T, err error) {
				var target *InvalidProductError
				require.ErrorAs(t, err, &target)
				assert.Equal(t, "nope", target.ProductID)
			},
		},
		{
			name:  "deleted product",
			items: []LineItem{{ProductID: "gone", Quantity: 1}},
			check: func(t *testing.T, err error) {
				var target *InvalidProductError
				require.ErrorAs(t, err, &target)
			},
		},
		{
			name:  "invisible product",
			items: []LineItem{{ProductID: "hidden", Quantity: 1}},
			check: func(t *testing.T, err error) {
				var target *InvalidProductError
				require.ErrorAs(t, err, &target)
			},
		},
		{
			name:  "unknown variant",
			items: []LineItem{{ProductID: "p2", VariantID: "v-red", Quantity: 1}},
			check: func(t *testing.T, err error) {
				var target *InvalidVariantError
				require.ErrorAs(t, err, &target)
				assert.Equal(t, "v-red", target.VariantID)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(newProductRepo(testCatalog...), gst, 10)
			_, _, err := r.Resolve(context.Background(), tt.items)
			tt.check(t, err)
		})
	}
}

func TestResolve_SingleBatchAndClamp(t *testing.T) {
	repo := newProductRepo(testCatalog...)
	r := NewResolver(repo, gst, 3)

	items, _, err := r.Resolve(context.Background(), []LineItem{
		{ProductID: "p1", Quantity: 9},
		{ProductID: "p1", Quantity: 0},
		{ProductID: "p3", Quantity: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, repo.calls)
	assert.Equal(t, 3, items[0].Quantity)
	assert.Equal(t, 1, items[1].Quantity)
	assert.Equal(t, 2, items[2].Quantity)
}

func TestResolve_RepositoryError(t *testing.T) {
	repo := newProductRepo()
	repo.getErr = errors.New("db down")
	r := NewResolver(repo, gst, 10)

	_, _, err := r.Resolve(context.Background(), []LineItem{{ProductID: "p1", Quantity: 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get products")
}

func TestTotal_OrderIndependent(t *testing.T) {
	r := NewResolver(newProductRepo(testCatalog...), gst, 10)
	cart := []LineItem{
		{ProductID: "p1", Quantity: 3},
		{ProductID: "p2", VariantID: "v-blue", Quantity: 2},
		{ProductID: "p2", Quantity: 1},
		{ProductID: "p3", Quantity: 7},
	}

	_, base, err := r.Resolve(context.Background(), cart)
	require.NoError(t, err)
	want := Assemble(base, 123, testPolicy)

	rng := rand.New(rand.NewPCG(1, 2))
	for range 20 {
		shuffled := append([]LineItem(nil), cart...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		_, totals, err := r.Resolve(context.Background(), shuffled)
		require.NoError(t, err)
		assert.Equal(t, want, Assemble(totals, 123, testPolicy))
	}
}

func TestAssemble(t *testing.T) {
	totals := Totals{TotalPrice: 1000, TotalMRP: 1200, Tax: 152, BeforeTax: 848}

	tests := []struct {
		name   string
		totals Totals
		promo  int64
		policy Policy
		want   int64
	}{
		{name: "scenario B inclusive", totals: totals, promo: 100, policy: testPolicy, want: 900},
		{name: "scenario B additive", totals: totals, promo: 100, policy: Policy{FreeShippingThreshold: 499, FlatShippingFee: 49, TaxMode: TaxAdditive}, want: 1052},
		{name: "at threshold pays shipping", totals: Totals{TotalPrice: 499, TotalMRP: 499, Tax: 76}, policy: testPolicy, want: 548},
		{name: "discount capped at subtotal", totals: Totals{TotalPrice: 100, TotalMRP: 100, Tax: 15}, promo: 500, policy: testPolicy, want: 49},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Assemble(tt.totals, tt.promo, tt.policy)
			assert.Equal(t, tt.want, b.Total)
			assert.True(t, b.Balanced())
			assert.GreaterOrEqual(t, b.FinalAmount(), int64(0))
		})
	}
}

func TestIncludedTax(t *testing.T) {
	assert.Equal(t, int64(152), IncludedTax(1000, gst))
	assert.Equal(t, int64(18), IncludedTax(118, gst))
	assert.Equal(t, int64(0), IncludedTax(0, gst))
	assert.Equal(t, int64(0), IncludedTax(1000, decimal.Zero))
}

func TestParseTaxMode(t *testing.T) {
	m, err := ParseTaxMode("")
	require.NoError(t, err)
	assert.Equal(t, TaxInclusive, m)

	m, err = ParseTaxMode("additive")
	require.NoError(t, err)
	assert.Equal(t, TaxAdditive, m)

	_, err = ParseTaxMode("sometimes")
	require.Error(t, err)
}
