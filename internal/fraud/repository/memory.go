package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/smallbiznis/usageguard/internal/fraud/domain"
)

// MemoryRepository keeps baselines in process memory for single-instance
// runs and tests. Lifetimes are not enforced; restarts start empty.
type MemoryRepository struct {
	mu        sync.RWMutex
	baselines map[string]domain.WeekdayBaseline
}

// NewMemory builds an in-process baseline store.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{baselines: make(map[string]domain.WeekdayBaseline)}
}

func memoryKey(customerID, metricCode string, weekday time.Weekday) string {
	return fmt.Sprintf("%s:%s:%d", customerID, metricCode, int(weekday))
}

func (r *MemoryRepository) Get(_ context.Context, customerID, metricCode string, weekday time.Weekday) (*domain.WeekdayBaseline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	baseline, ok := r.baselines[memoryKey(customerID, metricCode, weekday)]
	if !ok {
		return nil, nil
	}
	return &baseline, nil
}

func (r *MemoryRepository) Put(_ context.Context, baseline domain.WeekdayBaseline) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.baselines[memoryKey(baseline.CustomerID, baseline.MetricCode, baseline.Weekday)] = baseline
	return nil
}

var _ domain.Repository = (*MemoryRepository)(nil)
