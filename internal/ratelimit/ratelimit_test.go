package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/usageguard/internal/clock"
)

func newTestLimiter(t *testing.T) (*MemoryWindow, *clock.FakeClock) {
	t.Helper()
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewMemoryWindow(time.Minute, clk), clk
}

func TestCheckAndRecordUnderLimit(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := limiter.CheckAndRecord(ctx, "cust_1", 3)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 3, res.Limit)
		assert.Equal(t, 2-i, res.Remaining)
	}

	res, err := limiter.CheckAndRecord(ctx, "cust_1", 3)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Zero(t, res.Remaining)
	assert.Equal(t, time.Minute, res.ResetIn)
}

// A denied admission records nothing; the window is unchanged.
func TestDeniedAdmissionNotRecorded(t *testing.T) {
	limiter, clk := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := limiter.CheckAndRecord(ctx, "cust_1", 2)
		require.NoError(t, err)
	}

	// Both recorded entries expire together; the denials left no trace.
	clk.Advance(61 * time.Second)
	res, err := limiter.CheckAndRecord(ctx, "cust_1", 2)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Remaining)
}

func TestWindowSlides(t *testing.T) {
	limiter, clk := newTestLimiter(t)
	ctx := context.Background()

	res, err := limiter.CheckAndRecord(ctx, "cust_1", 2)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	clk.Advance(30 * time.Second)
	res, err = limiter.CheckAndRecord(ctx, "cust_1", 2)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = limiter.CheckAndRecord(ctx, "cust_1", 2)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	// The first entry slides out; exactly one slot frees.
	clk.Advance(31 * time.Second)
	res, err = limiter.CheckAndRecord(ctx, "cust_1", 2)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = limiter.CheckAndRecord(ctx, "cust_1", 2)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestCustomersIsolated(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	res, err := limiter.CheckAndRecord(ctx, "cust_1", 1)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = limiter.CheckAndRecord(ctx, "cust_1", 1)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	res, err = limiter.CheckAndRecord(ctx, "cust_2", 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

// Count-then-record never overshoots: exactly limit admissions win.
func TestConcurrentAdmissionsExactLimit(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	const workers = 64
	const limit = 10

	var wg sync.WaitGroup
	allowed := make([]bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := limiter.CheckAndRecord(ctx, "cust_hot", limit)
			assert.NoError(t, err)
			allowed[i] = res.Allowed
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, ok := range allowed {
		if ok {
			wins++
		}
	}
	assert.Equal(t, limit, wins)
}

func TestZeroLimitDeniesEverything(t *testing.T) {
	limiter, _ := newTestLimiter(t)

	res, err := limiter.CheckAndRecord(context.Background(), "cust_1", 0)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestEmptyCustomerID(t *testing.T) {
	limiter, _ := newTestLimiter(t)

	_, err := limiter.CheckAndRecord(context.Background(), "  ", 10)
	assert.ErrorIs(t, err, ErrEmptyCustomerID)
}

func TestCleanupDropsIdleWindows(t *testing.T) {
	limiter, clk := newTestLimiter(t)
	ctx := context.Background()

	_, err := limiter.CheckAndRecord(ctx, "cust_1", 5)
	require.NoError(t, err)
	_, err = limiter.CheckAndRecord(ctx, "cust_2", 5)
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	limiter.Cleanup()

	limiter.mu.Lock()
	remaining := len(limiter.windows)
	limiter.mu.Unlock()
	assert.Zero(t, remaining)
}
