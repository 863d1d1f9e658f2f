package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/usageguard/internal/clock"
)

// MemoryWindow keeps per-customer windows in process memory with the exact
// count-then-record semantics of the atomic strategy. Single instance only.
type MemoryWindow struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	window  time.Duration
	clock   clock.Clock
}

// NewMemoryWindow builds an in-process limiter.
func NewMemoryWindow(window time.Duration, clk clock.Clock) *MemoryWindow {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &MemoryWindow{
		windows: make(map[string][]time.Time),
		window:  normalizeWindow(window),
		clock:   clk,
	}
}

func (w *MemoryWindow) CheckAndRecord(ctx context.Context, customerID string, limit int) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return Result{}, ErrEmptyCustomerID
	}
	if limit <= 0 {
		return Result{Allowed: false, Limit: limit, ResetIn: w.window}, nil
	}

	now := w.clock.Now()
	cutoff := now.Add(-w.window)

	w.mu.Lock()
	defer w.mu.Unlock()

	entries := w.windows[customerID]
	live := entries[:0]
	for _, at := range entries {
		if at.After(cutoff) {
			live = append(live, at)
		}
	}

	allowed := len(live) < limit
	if allowed {
		live = append(live, now)
	}
	w.windows[customerID] = live

	resetIn := w.window
	if len(live) > 0 {
		resetIn = live[0].Add(w.window).Sub(now)
	}
	return Result{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: remaining(limit, int64(len(live))),
		ResetIn:   resetIn,
	}, nil
}

// Cleanup drops customers whose windows have fully expired.
func (w *MemoryWindow) Cleanup() {
	cutoff := w.clock.Now().Add(-w.window)

	w.mu.Lock()
	defer w.mu.Unlock()
	for customerID, entries := range w.windows {
		keep := false
		for _, at := range entries {
			if at.After(cutoff) {
				keep = true
				break
			}
		}
		if !keep {
			delete(w.windows, customerID)
		}
	}
}

// StartJanitor cleans idle windows until the context is cancelled.
func (w *MemoryWindow) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.Cleanup()
			}
		}
	}()
}

var _ Limiter = (*MemoryWindow)(nil)
