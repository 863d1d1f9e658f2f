// Package ratelimit implements sliding-window admission control per customer.
//
// A customer's recent accepted events are tracked as timestamps inside a
// rolling window; an admission is allowed only while the window holds fewer
// entries than the customer's limit. Two redis strategies are provided: an
// atomic count-then-record script that never overshoots, and a pipelined
// record-then-count variant that trades bounded overshoot under concurrency
// for a cheaper round trip.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// Result is a single admission decision.
type Result struct {
	Allowed   bool          `json:"allowed"`
	Limit     int           `json:"limit"`
	Remaining int           `json:"remaining"`
	ResetIn   time.Duration `json:"reset_in"`
}

// ErrStoreUnavailable reports that the window store could not be reached.
// Admission never degrades to allow-all on store failure.
var ErrStoreUnavailable = errors.New("ratelimit_store_unavailable")

// ErrEmptyCustomerID reports a blank customer id.
var ErrEmptyCustomerID = errors.New("empty_customer_id")

// Limiter decides whether a customer may record another event right now.
type Limiter interface {
	// CheckAndRecord evaluates the customer's window against limit and,
	// when allowed, records the admission inside the same window.
	CheckAndRecord(ctx context.Context, customerID string, limit int) (Result, error)
}

const keyPrefix = "ratelimit:"

func windowKey(customerID string) string {
	return keyPrefix + customerID
}

func remaining(limit int, count int64) int {
	left := limit - int(count)
	if left < 0 {
		return 0
	}
	return left
}

// normalizeWindow clamps the window length to a sane floor.
func normalizeWindow(window time.Duration) time.Duration {
	if window <= 0 {
		return time.Minute
	}
	return window
}
