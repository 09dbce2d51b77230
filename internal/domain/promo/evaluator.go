package promo

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Evaluator applies promocode rules to a cart subtotal.
type Evaluator struct {
	store  Store
	orders OrderHistory
	now    func() time.Time
}

// NewEvaluator creates an Evaluator backed by the given store and order
// history.
func NewEvaluator(store Store, orders OrderHistory) *Evaluator {
	return &Evaluator{store: store, orders: orders, now: time.Now}
}

// Evaluate runs the eligibility checks in order and stops at the first
// failing one. The usage counter is only touched when every check passed
// and req.Redeem is set.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (Result, error) {
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code == "" {
		return Result{}, nil
	}

	p, err := e.store.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return reject(code, ReasonInvalid), nil
		}
		return Result{}, errors.Wrap(err, "lookup promocode")
	}
	if !p.Active {
		return reject(code, ReasonInvalid), nil
	}

	if p.OnlyForSignedInUser && req.UserID == "" {
		return reject(code, ReasonSignInRequired), nil
	}

	now := e.now()
	if p.ValidFrom != nil && now.Before(*p.ValidFrom) {
		return reject(code, ReasonNotStarted), nil
	}
	if p.Expiry != nil && now.After(*p.Expiry) {
		return reject(code, ReasonExpired), nil
	}

	if req.Subtotal < p.MinimumOrderValue {
		return reject(code, ReasonBelowMinimum), nil
	}

	if len(p.ApplicableProductIDs) > 0 && !intersects(p.ApplicableProductIDs, req.ProductIDs) {
		return reject(code, ReasonNotApplicable), nil
	}

	if p.UsageLimit > 0 && p.TimesUsed >= p.UsageLimit {
		return reject(code, ReasonLimitReached), nil
	}

	// Guests cannot be tracked across orders, so the per-user checks only
	// apply to signed-in users.
	if req.UserID != "" {
		if p.FirstOrderOnly {
			ordered, err := e.orders.HasPaidOrder(ctx, req.UserID)
			if err != nil {
				return Result{}, errors.Wrap(err, "check previous orders")
			}
			if ordered {
				return reject(code, ReasonNotFirstOrder), nil
			}
		}
		used, err := e.orders.HasPaidOrderWithPromo(ctx, req.UserID, p.Code)
		if err != nil {
			return Result{}, errors.Wrap(err, "check previous promo use")
		}
		if used {
			return reject(code, ReasonAlreadyUsed), nil
		}
	}

	res := Result{Code: p.Code, Discount: Discount(req.Subtotal, p.DiscountPercent, p.MaxDiscount)}

	if req.Redeem && p.UsageLimit > 0 {
		if err := e.store.IncrementUsage(ctx, p.Code); err != nil {
			if errors.Is(err, ErrLimitReached) {
				return reject(code, ReasonLimitReached), nil
			}
			return Result{}, errors.Wrap(err, "increment promocode usage")
		}
		res.redeemed = true
	}

	return res, nil
}

// Release returns the usage slot consumed by a redeeming Evaluate. It is a
// no-op for results that did not take a slot.
func (e *Evaluator) Release(ctx context.Context, res Result) error {
	if !res.redeemed {
		return nil
	}
	if err := e.store.ReleaseUsage(ctx, res.Code); err != nil {
		return errors.Wrapf(err, "release promocode %q", res.Code)
	}
	return nil
}

// Discount computes round(subtotal * percent / 100), capped at maxDiscount
// when it is positive.
func Discount(subtotal int64, percent decimal.Decimal, maxDiscount int64) int64 {
	amount := decimal.NewFromInt(subtotal).Mul(percent).Div(hundred).Round(0)
	if amount.IsNegative() {
		return 0
	}
	d := amount.IntPart()
	if maxDiscount > 0 && d > maxDiscount {
		d = maxDiscount
	}
	return d
}

func intersects(allowed, ids []string) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, id := range allowed {
		set[id] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}
