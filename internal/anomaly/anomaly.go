// Package anomaly flags unusual usage volume with a z-score against the
// customer's own recent history.
package anomaly

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/usageguard/internal/aggregation"
	"github.com/smallbiznis/usageguard/internal/clock"
	"github.com/smallbiznis/usageguard/internal/config"
)

// Severity grades how far the period's volume sits from the baseline.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityNormal   Severity = "normal"
)

// warningFraction of the critical threshold marks the warning band.
const warningFraction = 0.66

// ZScore is a float64 whose JSON form survives the infinities produced by a
// zero-variance baseline.
type ZScore float64

func (z ZScore) MarshalJSON() ([]byte, error) {
	v := float64(z)
	switch {
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	default:
		return []byte(strconv.FormatFloat(v, 'f', -1, 64)), nil
	}
}

func (z *ZScore) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"+Inf"`, `"Inf"`:
		*z = ZScore(math.Inf(1))
		return nil
	case `"-Inf"`:
		*z = ZScore(math.Inf(-1))
		return nil
	}
	parsed, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("parse z-score: %w", err)
	}
	*z = ZScore(parsed)
	return nil
}

// CheckRequest asks whether a customer's volume over a period is anomalous.
type CheckRequest struct {
	CustomerID string `json:"customer_id"`
	MetricCode string `json:"metric_code"`
	// CurrentStart and CurrentEnd bound the period under test. A zero start
	// means the start of the current day; a zero end means now.
	CurrentStart time.Time `json:"current_start,omitempty"`
	CurrentEnd   time.Time `json:"current_end,omitempty"`
	// BaselineDays of history to compare against; 0 means the configured
	// default.
	BaselineDays int `json:"baseline_days,omitempty"`
	// Threshold is the critical |z| bound; 0 means the configured default.
	Threshold float64 `json:"threshold,omitempty"`
}

// Result is one volume anomaly verdict.
type Result struct {
	CustomerID    string    `json:"customer_id"`
	MetricCode    string    `json:"metric_code"`
	CurrentValue  float64   `json:"current_value"`
	BaselineMean  float64   `json:"baseline_mean"`
	BaselineStdEv float64   `json:"baseline_stddev"`
	ZScore        ZScore    `json:"z_score"`
	Severity      Severity  `json:"severity"`
	IsAnomaly     bool      `json:"is_anomaly"`
	DaysProcessed int       `json:"days_processed"`
	CheckedAt     time.Time `json:"checked_at"`
}

// UsageSource supplies aggregated volumes for the detector.
type UsageSource interface {
	Aggregate(ctx context.Context, q aggregation.Query) (aggregation.Result, error)
	DailySeries(ctx context.Context, customerID, metricCode string, start, end time.Time) ([]aggregation.DailyUsage, error)
}

// Detector computes volume z-scores over a daily baseline.
type Detector struct {
	usage UsageSource
	clock clock.Clock
	log   *zap.Logger

	defaultDays      int
	defaultThreshold float64
}

// NewDetector builds a detector with the configured defaults.
func NewDetector(usage UsageSource, clk clock.Clock, cfg config.Config, log *zap.Logger) *Detector {
	return &Detector{
		usage:            usage,
		clock:            clk,
		log:              log.Named("anomaly"),
		defaultDays:      cfg.Analytics.BaselineDays,
		defaultThreshold: cfg.Analytics.ZScoreThreshold,
	}
}

// Module wires the detector. The translator satisfies UsageSource.
var Module = fx.Module("anomaly",
	fx.Provide(func(tr *aggregation.Translator, clk clock.Clock, cfg config.Config, log *zap.Logger) *Detector {
		return NewDetector(tr, clk, cfg, log)
	}),
)

// Check compares the requested period's volume against the baseline days
// preceding it. Zero-usage baseline days are not part of the sample.
func (d *Detector) Check(ctx context.Context, req CheckRequest) (Result, error) {
	days := req.BaselineDays
	if days <= 0 {
		days = d.defaultDays
	}
	threshold := req.Threshold
	if threshold <= 0 {
		threshold = d.defaultThreshold
	}

	now := d.clock.Now()
	currentStart := req.CurrentStart
	if currentStart.IsZero() {
		currentStart = now.Truncate(24 * time.Hour)
	}
	currentEnd := req.CurrentEnd
	if currentEnd.IsZero() {
		currentEnd = now
	}

	current, err := d.usage.Aggregate(ctx, aggregation.Query{
		CustomerID: req.CustomerID,
		MetricCode: req.MetricCode,
		Start:      currentStart,
		End:        currentEnd,
	})
	if err != nil {
		return Result{}, err
	}

	// Baseline is the trailing window ending where the period begins.
	series, err := d.usage.DailySeries(ctx, req.CustomerID, req.MetricCode,
		currentStart.AddDate(0, 0, -days), currentStart)
	if err != nil {
		return Result{}, err
	}

	values := make([]float64, 0, len(series))
	for _, day := range series {
		values = append(values, day.Value)
	}
	mean, stddev := sampleStats(values)
	z := zScore(current.Value, mean, stddev)
	severity := grade(z, threshold)

	res := Result{
		CustomerID:    req.CustomerID,
		MetricCode:    req.MetricCode,
		CurrentValue:  current.Value,
		BaselineMean:  mean,
		BaselineStdEv: stddev,
		ZScore:        ZScore(z),
		Severity:      severity,
		IsAnomaly:     severity == SeverityCritical,
		DaysProcessed: len(values),
		CheckedAt:     now,
	}
	d.log.Debug("volume check",
		zap.String("customer_id", req.CustomerID),
		zap.String("metric_code", req.MetricCode),
		zap.Float64("current", res.CurrentValue),
		zap.String("severity", string(severity)),
	)
	return res, nil
}

// sampleStats returns the mean and sample standard deviation (n-1).
func sampleStats(values []float64) (mean, stddev float64) {
	n := len(values)
	if n == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(n)
	if n < 2 {
		return mean, 0
	}
	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(n-1))
}

// zScore handles the degenerate flat baseline: any deviation from a
// zero-variance mean is infinitely surprising.
func zScore(current, mean, stddev float64) float64 {
	if stddev == 0 {
		switch {
		case current > mean:
			return math.Inf(1)
		case current < mean:
			return math.Inf(-1)
		default:
			return 0
		}
	}
	return (current - mean) / stddev
}

func grade(z, threshold float64) Severity {
	abs := math.Abs(z)
	switch {
	case abs >= threshold:
		return SeverityCritical
	case abs >= warningFraction*threshold:
		return SeverityWarning
	default:
		return SeverityNormal
	}
}
