package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// PaymentStatus is the payment side of an order. It only ever moves from
// pending to one of the terminal states.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// Terminal reports whether no further payment transition is allowed.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentPaid || s == PaymentFailed
}

// Status is the coarse order lifecycle layered on top of PaymentStatus.
type Status string

const (
	StatusPending       Status = "pending"
	StatusConfirmed     Status = "confirmed"
	StatusPaymentFailed Status = "payment_failed"
	StatusShipped       Status = "shipped"
	StatusDelivered     Status = "delivered"
	StatusCancelled     Status = "cancelled"
)

// Actors recorded in history entries.
const (
	UpdatedBySystem  = "system"
	UpdatedByWebhook = "webhook"
	UpdatedByGuest   = "guest"
)

// Sentinel errors for order persistence.
var (
	ErrNotFound  = errors.New("order not found")
	ErrDuplicate = errors.New("order already exists")
	// ErrConflict is returned by Repository.Transition when the order is no
	// longer in the expected payment status.
	ErrConflict = errors.New("order payment status changed concurrently")
)

// LineItem is an immutable snapshot of a purchased catalog entry.
type LineItem struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId,omitempty"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unitPrice"`
	MRP       int64  `json:"mrp"`
	Quantity  int    `json:"quantity"`
	SKU       string `json:"sku,omitempty"`
}

// LineTotal is UnitPrice times Quantity.
func (li LineItem) LineTotal() int64 {
	return li.UnitPrice * int64(li.Quantity)
}

// AmountBreakdown is the pricing snapshot taken when the order is created.
// All amounts are minor currency units.
//
//	Total == Subtotal - Discount + Shipping + Tax   (tax-additive)
//	Total == Subtotal - Discount + Shipping         (TaxIncluded)
type AmountBreakdown struct {
	Subtotal        int64 `json:"subtotal"`
	MRPTotal        int64 `json:"mrpTotal"`
	ProductDiscount int64 `json:"productDiscount"`
	Discount        int64 `json:"discount"`
	Tax             int64 `json:"tax"`
	Shipping        int64 `json:"shipping"`
	Total           int64 `json:"total"`
	TaxIncluded     bool  `json:"taxIncluded"`
}

// FinalAmount is the subtotal after the promo discount.
func (b AmountBreakdown) FinalAmount() int64 {
	return b.Subtotal - b.Discount
}

// Balanced reports whether Total matches its components.
func (b AmountBreakdown) Balanced() bool {
	want := b.Subtotal - b.Discount + b.Shipping
	if !b.TaxIncluded {
		want += b.Tax
	}
	return b.Total == want
}

// Address is the delivery address snapshot.
type Address struct {
	Name    string `json:"name,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
	Line1   string `json:"line1,omitempty"`
	Line2   string `json:"line2,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Pincode string `json:"pincode,omitempty"`
	Country string `json:"country,omitempty"`
}

// HistoryEntry is one record of the append-only order log.
type HistoryEntry struct {
	Status    Status    `json:"status"`
	Note      string    `json:"note"`
	UpdatedBy string    `json:"updatedBy"`
	Timestamp time.Time `json:"timestamp"`
}

// Order is the checkout aggregate keyed by ID and by GatewayOrderID.
type Order struct {
	ID             string
	GatewayOrderID string
	UserID         string
	Items          []LineItem
	Amount         AmountBreakdown
	Currency       string
	PromoCode      string
	Address        Address
	PaymentStatus  PaymentStatus
	Status         Status
	PaymentID      string
	Signature      string
	History        []HistoryEntry
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Patch is the set of fields written by a payment transition. PaymentID
// and Signature are only written when non-empty.
type Patch struct {
	PaymentStatus PaymentStatus
	Status        Status
	PaymentID     string
	Signature     string
	History       HistoryEntry
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create inserts a new order. It returns ErrDuplicate if an order with
	// the same gateway order id exists.
	Create(ctx context.Context, o *Order) error
	FindByID(ctx context.Context, id string) (*Order, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*Order, error)
	// Transition applies patch in a single conditional write guarded by
	// the expected payment status and appends patch.History. It returns
	// ErrConflict if the guard does not hold and ErrNotFound if there is
	// no such order.
	Transition(ctx context.Context, gatewayOrderID string, expected PaymentStatus, patch Patch) (*Order, error)
	AppendHistory(ctx context.Context, gatewayOrderID string, entry HistoryEntry) error
	HasPaidOrder(ctx context.Context, userID string) (bool, error)
	HasPaidOrderWithPromo(ctx context.Context, userID, code string) (bool, error)
}
