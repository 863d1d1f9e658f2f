// Package service builds weekday usage baselines and checks live traffic
// against them.
package service

import (
	"context"
	"math"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/smallbiznis/usageguard/internal/clock"
	"github.com/smallbiznis/usageguard/internal/config"
	"github.com/smallbiznis/usageguard/internal/fraud/domain"
	"github.com/smallbiznis/usageguard/internal/observability/metrics"
)

// UsageSource supplies hourly usage vectors for baseline building and
// live comparison.
type UsageSource interface {
	HourlyVector(ctx context.Context, customerID, metricCode string, day time.Time) ([24]float64, error)
}

// Service is the pattern fraud detector.
type Service struct {
	baselines domain.Repository
	usage     UsageSource
	clock     clock.Clock
	pacer     *rate.Limiter
	metrics   *metrics.Metrics
	log       *zap.Logger

	baselineDays          int
	similarityThreshold   float64
	volumeChangeThreshold float64
}

// Params collects the service dependencies.
type Params struct {
	fx.In

	Baselines domain.Repository
	Usage     UsageSource
	Clock     clock.Clock
	Config    config.Config
	Metrics   *metrics.Metrics
	Log       *zap.Logger
}

// New builds the fraud service. Baseline builds are paced so a full rebuild
// cannot saturate the event store.
func New(p Params) *Service {
	qps := p.Config.Analytics.BuildQueriesPerSecond
	if qps <= 0 {
		qps = 20
	}
	return &Service{
		baselines:             p.Baselines,
		usage:                 p.Usage,
		clock:                 p.Clock,
		pacer:                 rate.NewLimiter(rate.Limit(qps), 1),
		metrics:               p.Metrics,
		log:                   p.Log.Named("fraud"),
		baselineDays:          p.Config.Analytics.BaselineDays,
		similarityThreshold:   p.Config.Analytics.SimilarityThreshold,
		volumeChangeThreshold: p.Config.Analytics.VolumeChangeThreshold,
	}
}

type weekdayAccumulator struct {
	vectorSum []float64
	totalSum  float64
	days      int
}

// BuildBaselines learns per-weekday hourly shapes from the trailing days
// ending yesterday; days <= 0 falls back to the configured window. Days with
// no usage carry no shape and are skipped; a day that fails to aggregate is
// skipped with a warning rather than failing the whole build.
func (s *Service) BuildBaselines(ctx context.Context, customerID, metricCode string, days int) (domain.BuildResult, error) {
	if days <= 0 {
		days = s.baselineDays
	}
	now := s.clock.Now()
	end := now.Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -days)

	res := domain.BuildResult{
		CustomerID:  customerID,
		MetricCode:  metricCode,
		WindowStart: start,
		WindowEnd:   end,
	}

	acc := make(map[time.Weekday]*weekdayAccumulator)
	for day := start; day.Before(end); day = day.AddDate(0, 0, 1) {
		if err := s.pacer.Wait(ctx); err != nil {
			return res, err
		}
		vector, err := s.usage.HourlyVector(ctx, customerID, metricCode, day)
		if err != nil {
			s.log.Warn("baseline day skipped",
				zap.String("customer_id", customerID),
				zap.String("metric_code", metricCode),
				zap.Time("day", day),
				zap.Error(err),
			)
			res.DaysSkipped++
			continue
		}
		total := sum(vector[:])
		if total == 0 {
			res.DaysSkipped++
			continue
		}

		weekday := day.Weekday()
		slot, ok := acc[weekday]
		if !ok {
			slot = &weekdayAccumulator{vectorSum: make([]float64, domain.HourlyDimensions)}
			acc[weekday] = slot
		}
		for i, v := range domain.Normalize(vector[:]) {
			slot.vectorSum[i] += v
		}
		slot.totalSum += total
		slot.days++
		res.DaysProcessed++
	}

	for weekday, slot := range acc {
		mean := make([]float64, domain.HourlyDimensions)
		for i, v := range slot.vectorSum {
			mean[i] = v / float64(slot.days)
		}
		baseline := domain.WeekdayBaseline{
			CustomerID:  customerID,
			MetricCode:  metricCode,
			Weekday:     weekday,
			Vector:      domain.Normalize(mean),
			AvgVolume:   slot.totalSum / float64(slot.days),
			DaysSampled: slot.days,
			UpdatedAt:   now,
		}
		if err := s.baselines.Put(ctx, baseline); err != nil {
			return res, err
		}
		res.BaselinesWritten++
	}

	s.metrics.RecordBaselineBuild(ctx, metricCode)
	s.log.Info("baselines built",
		zap.String("customer_id", customerID),
		zap.String("metric_code", metricCode),
		zap.Int("days_processed", res.DaysProcessed),
		zap.Int("baselines_written", res.BaselinesWritten),
	)
	return res, nil
}

// CheckFraud compares the given date's hourly shape and volume against the
// stored baseline for that date's weekday; a zero date means today. A
// customer with no baseline yet is given the benefit of the doubt: perfect
// similarity, nothing flagged.
func (s *Service) CheckFraud(ctx context.Context, customerID, metricCode string, date time.Time) (domain.CheckResult, error) {
	now := s.clock.Now()
	if date.IsZero() {
		date = now
	}
	weekday := date.UTC().Weekday()

	res := domain.CheckResult{
		CustomerID: customerID,
		MetricCode: metricCode,
		Weekday:    weekday.String(),
		CheckedAt:  now,
	}

	vector, err := s.usage.HourlyVector(ctx, customerID, metricCode, date)
	if err != nil {
		return res, err
	}
	res.CurrentVolume = sum(vector[:])
	res.CurrentVector = domain.Normalize(vector[:])

	baseline, err := s.baselines.Get(ctx, customerID, metricCode, weekday)
	if err != nil {
		return res, err
	}
	if baseline == nil {
		res.Similarity = 1.0
		res.FraudType = domain.FraudTypeNone
		s.metrics.RecordFraudCheck(ctx, string(res.FraudType), false)
		return res, nil
	}

	res.BaselineFound = true
	res.BaselineVolume = baseline.AvgVolume
	res.BaselineVector = baseline.Vector

	res.Similarity, err = domain.CosineSimilarity(res.CurrentVector, baseline.Vector)
	if err != nil {
		return res, err
	}
	res.PatternAnomaly = res.Similarity < s.similarityThreshold

	res.VolumeChangePct = volumeChange(res.CurrentVolume, baseline.AvgVolume)
	res.VolumeAnomaly = math.Abs(res.VolumeChangePct) >= s.volumeChangeThreshold

	res.IsFraud = res.PatternAnomaly && !res.VolumeAnomaly
	switch {
	case res.PatternAnomaly && res.VolumeAnomaly:
		res.FraudType = domain.FraudTypeBoth
	case res.PatternAnomaly:
		res.FraudType = domain.FraudTypePattern
	case res.VolumeAnomaly:
		res.FraudType = domain.FraudTypeVolume
	default:
		res.FraudType = domain.FraudTypeNone
	}

	s.metrics.RecordFraudCheck(ctx, string(res.FraudType), res.IsFraud)
	if res.IsFraud {
		s.log.Warn("fraud pattern flagged",
			zap.String("customer_id", customerID),
			zap.String("metric_code", metricCode),
			zap.Float64("similarity", res.Similarity),
			zap.Float64("volume_change_pct", res.VolumeChangePct),
		)
	}
	return res, nil
}

func sum(v []float64) float64 {
	var total float64
	for _, x := range v {
		total += x
	}
	return total
}

// volumeChange is the signed percent deviation from the baseline volume.
// A zero baseline carries no scale to deviate from and reports 0.
func volumeChange(current, baseline float64) float64 {
	if baseline == 0 {
		return 0
	}
	return (current - baseline) / baseline * 100
}
