package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/smallbiznis/usageguard/internal/clock"
)

// PipelinedWindow is the record-then-count strategy: the admission is added
// to the window before counting, all in one pipeline round trip. Concurrent
// admissions racing past the limit can overshoot by at most the number of
// in-flight requests; the overshoot is still recorded, so subsequent
// admissions see the true count and the window self-corrects.
type PipelinedWindow struct {
	client *redis.Client
	window time.Duration
	clock  clock.Clock
}

// NewPipelinedWindow builds the pipelined strategy over the shared redis client.
func NewPipelinedWindow(client *redis.Client, window time.Duration, clk clock.Clock) *PipelinedWindow {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &PipelinedWindow{
		client: client,
		window: normalizeWindow(window),
		clock:  clk,
	}
}

func (w *PipelinedWindow) CheckAndRecord(ctx context.Context, customerID string, limit int) (Result, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return Result{}, ErrEmptyCustomerID
	}
	if limit <= 0 {
		return Result{Allowed: false, Limit: limit, ResetIn: w.window}, nil
	}

	now := w.clock.Now()
	key := windowKey(customerID)
	cutoff := strconv.FormatInt(now.Add(-w.window).UnixMilli(), 10)

	pipe := w.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", cutoff)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: uuid.NewString(),
	})
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, w.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	count := card.Val()
	return Result{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: remaining(limit, count),
		ResetIn:   w.window,
	}, nil
}

var _ Limiter = (*PipelinedWindow)(nil)
