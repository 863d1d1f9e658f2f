// Package domain defines baseline storage and verdict types for pattern
// fraud detection.
package domain

import (
	"context"
	"errors"
	"time"
)

// WeekdayBaseline is a customer's learned hourly usage shape for one weekday.
// The vector sums to 1; AvgVolume keeps the absolute scale.
type WeekdayBaseline struct {
	CustomerID  string       `json:"-"`
	MetricCode  string       `json:"-"`
	Weekday     time.Weekday `json:"-"`
	Vector      []float64    `json:"vector"`
	AvgVolume   float64      `json:"avg_volume"`
	DaysSampled int          `json:"days_sampled"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// BuildResult summarizes one baseline build run.
type BuildResult struct {
	CustomerID       string    `json:"customer_id"`
	MetricCode       string    `json:"metric_code"`
	WindowStart      time.Time `json:"window_start"`
	WindowEnd        time.Time `json:"window_end"`
	DaysProcessed    int       `json:"days_processed"`
	DaysSkipped      int       `json:"days_skipped"`
	BaselinesWritten int       `json:"baselines_written"`
}

// FraudType classifies which signal fired.
type FraudType string

const (
	FraudTypeNone    FraudType = ""
	FraudTypePattern FraudType = "pattern"
	FraudTypeVolume  FraudType = "volume"
	FraudTypeBoth    FraudType = "both"
)

// CheckResult is one fraud verdict.
//
// IsFraud is deliberately narrower than FraudType: a shape deviation that
// comes with a matching volume surge reads as organic growth, so only a
// pattern anomaly at normal volume is flagged as fraud.
type CheckResult struct {
	CustomerID      string    `json:"customer_id"`
	MetricCode      string    `json:"metric_code"`
	Weekday         string    `json:"weekday"`
	BaselineFound   bool      `json:"baseline_found"`
	Similarity      float64   `json:"similarity"`
	PatternAnomaly  bool      `json:"pattern_anomaly"`
	CurrentVolume   float64   `json:"current_volume"`
	BaselineVolume  float64   `json:"baseline_volume"`
	VolumeChangePct float64   `json:"volume_change_percent"`
	VolumeAnomaly   bool      `json:"volume_anomaly"`
	CurrentVector   []float64 `json:"current_vector"`
	BaselineVector  []float64 `json:"baseline_vector,omitempty"`
	IsFraud         bool      `json:"is_fraud"`
	FraudType       FraudType `json:"fraud_type"`
	CheckedAt       time.Time `json:"checked_at"`
}

// ErrStoreUnavailable reports that the baseline store could not be reached.
var ErrStoreUnavailable = errors.New("baseline_store_unavailable")

// Repository persists weekday baselines with a bounded lifetime.
type Repository interface {
	// Get returns the baseline, or nil when none is stored.
	Get(ctx context.Context, customerID, metricCode string, weekday time.Weekday) (*WeekdayBaseline, error)

	// Put stores the baseline, refreshing its lifetime.
	Put(ctx context.Context, baseline WeekdayBaseline) error
}
