// Package domain defines the billable metric catalog.
package domain

import (
	"errors"
	"sort"
	"strings"
)

// Aggregation is the reduction applied to raw events for a metric.
type Aggregation string

const (
	AggregationCount Aggregation = "count"
	AggregationSum   Aggregation = "sum"
	AggregationMax   Aggregation = "max"
)

// BillableMetric maps raw events of one type to a billable quantity.
type BillableMetric struct {
	Code        string      `json:"code" mapstructure:"code"`
	EventType   string      `json:"event_type" mapstructure:"event_type"`
	Aggregation Aggregation `json:"aggregation" mapstructure:"aggregation"`
	// Property names the numeric event property to reduce; required for
	// sum and max, ignored for count.
	Property string `json:"property,omitempty" mapstructure:"property"`
	Unit     string `json:"unit" mapstructure:"unit"`
}

var (
	ErrUnknownMetric      = errors.New("unknown_metric")
	ErrMissingProperty    = errors.New("missing_aggregation_property")
	ErrInvalidAggregation = errors.New("invalid_aggregation")
	ErrInvalidCode        = errors.New("invalid_metric_code")
)

// NeedsProperty reports whether the aggregation reads a named event property.
func (a Aggregation) NeedsProperty() bool {
	return a == AggregationSum || a == AggregationMax
}

// Valid reports whether the aggregation is one of count, sum or max.
func (a Aggregation) Valid() bool {
	switch a {
	case AggregationCount, AggregationSum, AggregationMax:
		return true
	}
	return false
}

// Catalog is an immutable lookup of billable metrics by code.
type Catalog struct {
	metrics map[string]BillableMetric
}

// NewCatalog builds a catalog from metric definitions. Codes are unique; the
// last definition for a code wins.
func NewCatalog(metrics []BillableMetric) (Catalog, error) {
	byCode := make(map[string]BillableMetric, len(metrics))
	for _, m := range metrics {
		code := strings.TrimSpace(m.Code)
		if code == "" {
			return Catalog{}, ErrInvalidCode
		}
		if !m.Aggregation.Valid() {
			return Catalog{}, ErrInvalidAggregation
		}
		m.Code = code
		m.EventType = strings.TrimSpace(m.EventType)
		m.Property = strings.TrimSpace(m.Property)
		byCode[code] = m
	}
	return Catalog{metrics: byCode}, nil
}

// Get returns the metric for code, or ErrUnknownMetric.
func (c Catalog) Get(code string) (BillableMetric, error) {
	metric, ok := c.metrics[strings.TrimSpace(code)]
	if !ok {
		return BillableMetric{}, ErrUnknownMetric
	}
	return metric, nil
}

// Codes returns all metric codes in sorted order.
func (c Catalog) Codes() []string {
	codes := make([]string, 0, len(c.metrics))
	for code := range c.metrics {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Len returns the number of metrics in the catalog.
func (c Catalog) Len() int { return len(c.metrics) }
