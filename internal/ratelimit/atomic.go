package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/smallbiznis/usageguard/internal/clock"
)

// checkAndRecordScript prunes entries older than the window, counts what is
// left and records the admission only when the count is still under the
// limit. Running server-side makes prune+count+record a single atomic step,
// so concurrent admissions can never overshoot the limit.
//
// KEYS[1] window key; ARGV: now ms, window ms, limit, member.
// Returns {allowed, count after decision, reset ms}.
var checkAndRecordScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)

local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
  redis.call('ZADD', key, now, ARGV[4])
  count = count + 1
  allowed = 1
end
redis.call('PEXPIRE', key, window)

local reset = window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
  reset = tonumber(oldest[2]) + window - now
end

return {allowed, count, reset}
`)

// AtomicWindow is the count-then-record strategy. The decision and the
// recording happen in one Lua script, so the limit holds exactly even under
// concurrent admissions for the same customer.
type AtomicWindow struct {
	client *redis.Client
	window time.Duration
	clock  clock.Clock
}

// NewAtomicWindow builds the atomic strategy over the shared redis client.
func NewAtomicWindow(client *redis.Client, window time.Duration, clk clock.Clock) *AtomicWindow {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &AtomicWindow{
		client: client,
		window: normalizeWindow(window),
		clock:  clk,
	}
}

func (w *AtomicWindow) CheckAndRecord(ctx context.Context, customerID string, limit int) (Result, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return Result{}, ErrEmptyCustomerID
	}
	if limit <= 0 {
		return Result{Allowed: false, Limit: limit, ResetIn: w.window}, nil
	}

	now := w.clock.Now().UnixMilli()
	raw, err := checkAndRecordScript.Run(ctx, w.client,
		[]string{windowKey(customerID)},
		now, w.window.Milliseconds(), limit, uuid.NewString(),
	).Slice()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(raw) != 3 {
		return Result{}, fmt.Errorf("%w: unexpected script reply", ErrStoreUnavailable)
	}

	allowed, _ := raw[0].(int64)
	count, _ := raw[1].(int64)
	reset, _ := raw[2].(int64)

	return Result{
		Allowed:   allowed == 1,
		Limit:     limit,
		Remaining: remaining(limit, count),
		ResetIn:   time.Duration(reset) * time.Millisecond,
	}, nil
}

var _ Limiter = (*AtomicWindow)(nil)
