package checkout

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xenking/kart-checkout/internal/domain/order"
)

func TestSanitizePromoCode(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"", ""},
		{"  save10 ", "SAVE10"},
		{"new-user_2025", "NEW-USER_2025"},
		{"sa ve<script>10", "SAVESCRIPT10"},
		{"ÄBC$%^", "BC"},
		{strings.Repeat("a", 40), strings.Repeat("A", MaxPromoCodeLength)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizePromoCode(tt.raw), "raw %q", tt.raw)
	}
}

func TestSanitizeLineItems(t *testing.T) {
	const maxQty = 5

	tests := []struct {
		name string
		raw  string
		want []LineItem
	}{
		{name: "object is not a cart", raw: `{"productId":"p1","quantity":1}`, want: nil},
		{name: "string is not a cart", raw: `"p1"`, want: nil},
		{name: "malformed json", raw: `[{"productId":"p1",`, want: nil},
		{name: "empty array", raw: `[]`, want: []LineItem{}},
		{
			name: "plain entries",
			raw:  `[{"productId":"p1","quantity":2},{"productId":"p2","variantId":"v1","quantity":1}]`,
			want: []LineItem{
				{ProductID: "p1", Quantity: 2},
				{ProductID: "p2", VariantID: "v1", Quantity: 1},
			},
		},
		{
			name: "coerces types and ignores client prices",
			raw:  `[{"productId":42,"variantId":" v2 ","quantity":"3","price":1}]`,
			want: []LineItem{{ProductID: "42", VariantID: "v2", Quantity: 3}},
		},
		{
			name: "drops unusable entries",
			raw:  `[{"productId":"","quantity":1},{"productId":"p1"},{"productId":"p2","quantity":0},{"productId":"p3","quantity":1.5},{"productId":"p4","quantity":"x"},null,7,{"productId":"p5","quantity":1}]`,
			want: []LineItem{{ProductID: "p5", Quantity: 1}},
		},
		{
			name: "max quantity is accepted",
			raw:  `[{"productId":"p1","quantity":5}]`,
			want: []LineItem{{ProductID: "p1", Quantity: 5}},
		},
		{
			name: "max quantity plus one is dropped",
			raw:  `[{"productId":"p1","quantity":6}]`,
			want: []LineItem{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeLineItems([]byte(tt.raw), maxQty)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSanitizeAddress(t *testing.T) {
	got := SanitizeAddress(order.Address{
		Name:    "  Asha <b>Rao</b> ",
		Line1:   `<script>alert(1)</script>12 MG Road`,
		City:    "Bengaluru",
		Pincode: " 560001 ",
		Country: strings.Repeat("x", 300),
	})

	assert.Equal(t, "Asha Rao", got.Name)
	assert.Equal(t, "12 MG Road", got.Line1)
	assert.Equal(t, "Bengaluru", got.City)
	assert.Equal(t, "560001", got.Pincode)
	assert.Len(t, got.Country, maxAddressFieldLength)
	assert.Empty(t, got.Line2)
}
