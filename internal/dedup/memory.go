package dedup

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/usageguard/internal/clock"
)

// MemoryGuard keeps markers in process memory. Suitable for single-instance
// deployments and tests; markers are lost on restart.
type MemoryGuard struct {
	mu        sync.Mutex
	markers   map[string]time.Time // id -> expiry
	retention time.Duration
	clock     clock.Clock
}

// NewMemoryGuard builds an in-process guard.
func NewMemoryGuard(retention time.Duration, clk clock.Clock) *MemoryGuard {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &MemoryGuard{
		markers:   make(map[string]time.Time),
		retention: normalizeRetention(retention),
		clock:     clk,
	}
}

func (g *MemoryGuard) Admit(ctx context.Context, transactionID string) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return "", ErrEmptyTransactionID
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.admitLocked(transactionID), nil
}

func (g *MemoryGuard) AdmitBatch(ctx context.Context, transactionIDs []string) (map[string]Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(transactionIDs))
	for _, id := range transactionIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, ErrEmptyTransactionID
		}
		ids = append(ids, id)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	outcomes := make(map[string]Outcome, len(ids))
	for _, id := range ids {
		outcome := g.admitLocked(id)
		if existing, seen := outcomes[id]; seen && existing == OutcomeNew {
			continue
		}
		outcomes[id] = outcome
	}
	return outcomes, nil
}

func (g *MemoryGuard) admitLocked(transactionID string) Outcome {
	now := g.clock.Now()
	if expiry, ok := g.markers[transactionID]; ok && expiry.After(now) {
		return OutcomeDuplicate
	}
	g.markers[transactionID] = now.Add(g.retention)
	return OutcomeNew
}

func (g *MemoryGuard) Forget(ctx context.Context, transactionIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range transactionIDs {
		delete(g.markers, strings.TrimSpace(id))
	}
	return nil
}

// Cleanup drops expired markers; called periodically by the janitor.
func (g *MemoryGuard) Cleanup() {
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()
	for id, expiry := range g.markers {
		if !expiry.After(now) {
			delete(g.markers, id)
		}
	}
}

// StartJanitor cleans expired markers until the context is cancelled.
func (g *MemoryGuard) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Hour
	}
	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.Cleanup()
			}
		}
	}()
}

var _ Guard = (*MemoryGuard)(nil)
