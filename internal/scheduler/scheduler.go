// Package scheduler rebuilds fraud baselines on a fixed cadence.
package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/usageguard/internal/clock"
	"github.com/smallbiznis/usageguard/internal/config"
	eventdomain "github.com/smallbiznis/usageguard/internal/event/domain"
	frauddomain "github.com/smallbiznis/usageguard/internal/fraud/domain"
	"github.com/smallbiznis/usageguard/internal/meter"
)

const rebuildLockKey = "scheduler:baseline_rebuild"

// ErrInvalidConfig reports missing scheduler dependencies.
var ErrInvalidConfig = errors.New("scheduler configuration is invalid")

// BaselineBuilder rebuilds one customer/metric baseline set over the
// trailing days.
type BaselineBuilder interface {
	BuildBaselines(ctx context.Context, customerID, metricCode string, days int) (frauddomain.BuildResult, error)
}

// Params collects the scheduler dependencies.
type Params struct {
	fx.In

	Builder BaselineBuilder
	Events  eventdomain.Repository
	Catalog *meter.CatalogHolder
	Locker  *Locker `optional:"true"`
	Clock   clock.Clock
	Config  config.Config
	Log     *zap.Logger
}

// Scheduler walks active customers and rebuilds their weekday baselines.
type Scheduler struct {
	builder BaselineBuilder
	events  eventdomain.Repository
	catalog *meter.CatalogHolder
	locker  *Locker
	clock   clock.Clock
	log     *zap.Logger

	interval     time.Duration
	runTimeout   time.Duration
	baselineDays int
}

// New builds the scheduler.
func New(p Params) (*Scheduler, error) {
	if p.Builder == nil || p.Events == nil || p.Catalog == nil || p.Clock == nil || p.Log == nil {
		return nil, ErrInvalidConfig
	}

	interval := p.Config.Scheduler.RunInterval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	timeout := p.Config.Scheduler.RunTimeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	days := p.Config.Analytics.BaselineDays
	if days <= 0 {
		days = 30
	}

	return &Scheduler{
		builder:      p.Builder,
		events:       p.Events,
		catalog:      p.Catalog,
		locker:       p.Locker,
		clock:        p.Clock,
		log:          p.Log.Named("scheduler"),
		interval:     interval,
		runTimeout:   timeout,
		baselineDays: days,
	}, nil
}

// RunForever runs once immediately, then on every interval tick, until the
// context is cancelled.
func (s *Scheduler) RunForever(ctx context.Context) {
	s.runGuarded(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runGuarded(ctx)
		}
	}
}

// runGuarded wraps RunOnce with the distributed lock so only one instance
// rebuilds at a time. Without a locker the run proceeds unguarded.
func (s *Scheduler) runGuarded(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, rebuildLockKey, s.runTimeout)
		if err != nil {
			s.log.Warn("baseline rebuild lock failed", zap.Error(err))
			return
		}
		if !ok {
			s.log.Debug("baseline rebuild held elsewhere")
			return
		}
		defer func() {
			if err := s.locker.Release(ctx, rebuildLockKey, token); err != nil {
				s.log.Warn("baseline rebuild lock release failed", zap.Error(err))
			}
		}()
	}

	if err := s.RunOnce(ctx); err != nil {
		s.log.Error("baseline rebuild failed", zap.Error(err))
	}
}

// RunOnce rebuilds baselines for every customer active inside the baseline
// window, across all catalog metrics. Per-pair failures are logged and
// skipped so one bad customer cannot starve the rest.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := s.clock.Now()
	since := start.AddDate(0, 0, -s.baselineDays)

	customers, err := s.events.DistinctCustomers(ctx, since)
	if err != nil {
		return err
	}
	codes := s.catalog.Get().Codes()

	var built, failed int
	for _, customerID := range customers {
		for _, code := range codes {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := s.builder.BuildBaselines(ctx, customerID, code, s.baselineDays); err != nil {
				s.log.Warn("baseline rebuild skipped",
					zap.String("customer_id", customerID),
					zap.String("metric_code", code),
					zap.Error(err),
				)
				failed++
				continue
			}
			built++
		}
	}

	s.log.Info("baseline rebuild complete",
		zap.Int("customers", len(customers)),
		zap.Int("built", built),
		zap.Int("failed", failed),
		zap.Duration("took", s.clock.Now().Sub(start)),
	)
	return nil
}
