package promo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Reason names why a promocode was not applied. Rejections are expected
// business outcomes and are returned as values, never as errors.
type Reason string

const (
	ReasonInvalid        Reason = "InvalidPromo"
	ReasonSignInRequired Reason = "SignInRequired"
	ReasonNotStarted     Reason = "NotStarted"
	ReasonExpired        Reason = "Expired"
	ReasonBelowMinimum   Reason = "BelowMinimum"
	ReasonNotApplicable  Reason = "NotApplicable"
	ReasonLimitReached   Reason = "LimitReached"
	ReasonNotFirstOrder  Reason = "NotFirstOrder"
	ReasonAlreadyUsed    Reason = "AlreadyUsed"
)

var (
	// ErrNotFound is returned by a Store when no promocode has the code.
	ErrNotFound = errors.New("promocode not found")
	// ErrLimitReached is returned by Store.IncrementUsage when the guarded
	// increment found the usage limit already exhausted.
	ErrLimitReached = errors.New("promocode usage limit reached")
)

// Promocode is a percentage discount campaign and its eligibility rules.
type Promocode struct {
	Code                 string
	DiscountPercent      decimal.Decimal
	ValidFrom            *time.Time
	Expiry               *time.Time
	UsageLimit           int
	TimesUsed            int
	MinimumOrderValue    int64
	MaxDiscount          int64
	ApplicableProductIDs []string
	FirstOrderOnly       bool
	OnlyForSignedInUser  bool
	Active               bool
}

// Store provides lookup and redemption accounting of promocodes.
type Store interface {
	// FindByCode looks a code up case-insensitively.
	FindByCode(ctx context.Context, code string) (*Promocode, error)
	// IncrementUsage atomically bumps times_used unless the limit is
	// already reached, in which case it returns ErrLimitReached.
	IncrementUsage(ctx context.Context, code string) error
	// ReleaseUsage gives back a slot taken by IncrementUsage. The counter
	// never drops below zero.
	ReleaseUsage(ctx context.Context, code string) error
}

// OrderHistory answers per-user questions about completed (paid) orders.
type OrderHistory interface {
	HasPaidOrder(ctx context.Context, userID string) (bool, error)
	HasPaidOrderWithPromo(ctx context.Context, userID, code string) (bool, error)
}

// Request is the input of a single evaluation.
type Request struct {
	Code       string
	Subtotal   int64
	UserID     string
	ProductIDs []string
	// Redeem consumes a usage slot on acceptance. Quotes leave it unset.
	Redeem bool
}

// Result is the outcome of an evaluation. An empty Code means no promocode
// was requested.
type Result struct {
	Code     string
	Discount int64
	Reason   Reason

	redeemed bool
}

// Applied reports whether a discount was granted.
func (r Result) Applied() bool {
	return r.Code != "" && r.Reason == ""
}

// Rejected reports whether a requested code was refused.
func (r Result) Rejected() bool {
	return r.Reason != ""
}

func reject(code string, reason Reason) Result {
	return Result{Code: code, Reason: reason}
}
