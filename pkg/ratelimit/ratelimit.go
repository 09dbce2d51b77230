// Package ratelimit implements fixed-window request budgets keyed by
// (operation, client) with pluggable storage.
package ratelimit

import (
	"context"
	"time"
)

// Rule is the budget of one operation: Points requests per Window.
type Rule struct {
	Points int
	Window time.Duration
}

// Decision is the outcome of taking one point from a bucket.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the time left until the bucket refills, never negative.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	return max(d.ResetAt.Sub(now), 0)
}

// Store takes points from buckets. Implementations must be safe for
// concurrent use and must not lose decrements for the same key.
type Store interface {
	Take(ctx context.Context, key string, rule Rule) (Decision, error)
}

// Key builds the bucket key of an operation and a client.
func Key(operation, client string) string {
	return operation + ":" + client
}
