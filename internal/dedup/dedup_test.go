package dedup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/usageguard/internal/clock"
)

func newTestGuard(t *testing.T) (*MemoryGuard, *clock.FakeClock) {
	t.Helper()
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewMemoryGuard(30*24*time.Hour, clk), clk
}

func TestAdmitFirstThenDuplicate(t *testing.T) {
	guard, _ := newTestGuard(t)
	ctx := context.Background()

	outcome, err := guard.Admit(ctx, "txn_001")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNew, outcome)

	outcome, err = guard.Admit(ctx, "txn_001")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
}

func TestAdmitEmptyID(t *testing.T) {
	guard, _ := newTestGuard(t)

	_, err := guard.Admit(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrEmptyTransactionID)

	_, err = guard.AdmitBatch(context.Background(), []string{"txn_001", ""})
	assert.ErrorIs(t, err, ErrEmptyTransactionID)
}

// Exactly one of N concurrent admits of the same id may win.
func TestAdmitConcurrentSingleWinner(t *testing.T) {
	guard, _ := newTestGuard(t)
	ctx := context.Background()

	const workers = 64
	var wg sync.WaitGroup
	outcomes := make([]Outcome, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome, err := guard.Admit(ctx, "txn_contested")
			assert.NoError(t, err)
			outcomes[i] = outcome
		}(i)
	}
	wg.Wait()

	fresh := 0
	for _, outcome := range outcomes {
		if outcome == OutcomeNew {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)
}

func TestAdmitBatchOutcomesIndependent(t *testing.T) {
	guard, _ := newTestGuard(t)
	ctx := context.Background()

	_, err := guard.Admit(ctx, "txn_seen")
	require.NoError(t, err)

	outcomes, err := guard.AdmitBatch(ctx, []string{"txn_seen", "txn_a", "txn_b"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcomes["txn_seen"])
	assert.Equal(t, OutcomeNew, outcomes["txn_a"])
	assert.Equal(t, OutcomeNew, outcomes["txn_b"])
}

// A transaction id repeated inside one batch is fresh once.
func TestAdmitBatchRepeatedID(t *testing.T) {
	guard, _ := newTestGuard(t)

	outcomes, err := guard.AdmitBatch(context.Background(), []string{"txn_dup", "txn_dup"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNew, outcomes["txn_dup"])
}

// A forgotten id is admitted as fresh again; others stay marked.
func TestForgetReleasesMarker(t *testing.T) {
	guard, _ := newTestGuard(t)
	ctx := context.Background()

	_, err := guard.AdmitBatch(ctx, []string{"txn_1", "txn_2"})
	require.NoError(t, err)

	require.NoError(t, guard.Forget(ctx, []string{"txn_1"}))

	outcome, err := guard.Admit(ctx, "txn_1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNew, outcome)

	outcome, err = guard.Admit(ctx, "txn_2")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
}

func TestMarkerExpiry(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	guard := NewMemoryGuard(30*24*time.Hour, clk)
	ctx := context.Background()

	outcome, err := guard.Admit(ctx, "txn_old")
	require.NoError(t, err)
	require.Equal(t, OutcomeNew, outcome)

	clk.Advance(29 * 24 * time.Hour)
	outcome, err = guard.Admit(ctx, "txn_old")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	clk.Advance(2 * 24 * time.Hour)
	outcome, err = guard.Admit(ctx, "txn_old")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNew, outcome)
}

func TestCleanupDropsExpired(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	guard := NewMemoryGuard(time.Hour, clk)
	ctx := context.Background()

	_, err := guard.Admit(ctx, "txn_a")
	require.NoError(t, err)
	_, err = guard.Admit(ctx, "txn_b")
	require.NoError(t, err)

	clk.Advance(2 * time.Hour)
	guard.Cleanup()

	guard.mu.Lock()
	remaining := len(guard.markers)
	guard.mu.Unlock()
	assert.Zero(t, remaining)
}
