// Package aggregation translates billable-metric queries into reductions
// over the raw event store.
//
// COUNT queries without grouping are pushed down to the store; everything
// else scans the matching rows and reduces in process, because property
// extraction must stay lenient in a way SQL across three dialects cannot
// express uniformly.
package aggregation

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"go.uber.org/fx"

	eventdomain "github.com/smallbiznis/usageguard/internal/event/domain"
	"github.com/smallbiznis/usageguard/internal/meter"
	meterdomain "github.com/smallbiznis/usageguard/internal/meter/domain"
)

// Query asks for one metric aggregated over an inclusive [Start, End] range.
type Query struct {
	CustomerID string    `json:"customer_id"`
	MetricCode string    `json:"metric_code"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	// GroupBy names an event property to bucket by. Events without the
	// property fall into the "" bucket.
	GroupBy string `json:"group_by,omitempty"`
}

// Result is an aggregated usage value, either scalar or grouped.
type Result struct {
	CustomerID  string                  `json:"customer_id"`
	MetricCode  string                  `json:"metric_code"`
	Aggregation meterdomain.Aggregation `json:"aggregation"`
	Unit        string                  `json:"unit,omitempty"`
	Start       time.Time               `json:"start"`
	End         time.Time               `json:"end"`
	Value       float64                 `json:"value"`
	Groups      map[string]float64      `json:"groups,omitempty"`
}

// DailyUsage is one day's aggregated volume. Days with no usage are omitted
// from series, never reported as zero.
type DailyUsage struct {
	Day   time.Time `json:"day"`
	Value float64   `json:"value"`
}

// Translator reduces raw events into billable quantities per the catalog.
type Translator struct {
	catalog *meter.CatalogHolder
	events  eventdomain.Repository
}

// NewTranslator builds a translator over the live catalog and event store.
func NewTranslator(catalog *meter.CatalogHolder, events eventdomain.Repository) *Translator {
	return &Translator{catalog: catalog, events: events}
}

// Module wires the translator.
var Module = fx.Module("aggregation",
	fx.Provide(NewTranslator),
)

// Aggregate answers a usage query. Returns ErrUnknownMetric for codes not in
// the catalog and ErrMissingProperty when a sum/max metric has no property
// configured.
func (t *Translator) Aggregate(ctx context.Context, q Query) (Result, error) {
	metric, err := t.resolve(q.MetricCode)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		CustomerID:  q.CustomerID,
		MetricCode:  metric.Code,
		Aggregation: metric.Aggregation,
		Unit:        metric.Unit,
		Start:       q.Start,
		End:         q.End,
	}
	start, end := halfOpen(q.Start, q.End)

	// COUNT with no grouping needs no row data; let the store count.
	if metric.Aggregation == meterdomain.AggregationCount && q.GroupBy == "" {
		count, err := t.events.CountRange(ctx, q.CustomerID, metric.EventType, start, end)
		if err != nil {
			return Result{}, err
		}
		res.Value = float64(count)
		return res, nil
	}

	events, err := t.events.FindRange(ctx, q.CustomerID, metric.EventType, start, end)
	if err != nil {
		return Result{}, err
	}

	if q.GroupBy == "" {
		res.Value = reduce(metric, events)
		return res, nil
	}

	groups := make(map[string][]eventdomain.UsageEvent)
	for _, ev := range events {
		groups[bucketKey(ev, q.GroupBy)] = append(groups[bucketKey(ev, q.GroupBy)], ev)
	}
	res.Groups = make(map[string]float64, len(groups))
	for key, bucket := range groups {
		res.Groups[key] = reduce(metric, bucket)
	}
	// The scalar stays the ungrouped aggregate over the same range.
	res.Value = reduce(metric, events)
	return res, nil
}

// HourlyVector reduces one UTC day into 24 hourly values for the metric.
func (t *Translator) HourlyVector(ctx context.Context, customerID, metricCode string, day time.Time) ([24]float64, error) {
	var vector [24]float64

	metric, err := t.resolve(metricCode)
	if err != nil {
		return vector, err
	}

	dayStart := day.UTC().Truncate(24 * time.Hour)
	events, err := t.events.FindRange(ctx, customerID, metric.EventType, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		return vector, err
	}

	buckets := make(map[int][]eventdomain.UsageEvent)
	for _, ev := range events {
		hour := ev.RecordedAt.UTC().Sub(dayStart) / time.Hour
		if hour < 0 || hour > 23 {
			continue
		}
		buckets[int(hour)] = append(buckets[int(hour)], ev)
	}
	for hour, bucket := range buckets {
		vector[hour] = reduce(metric, bucket)
	}
	return vector, nil
}

// DailySeries reduces [start, end) into per-day volumes, most recent last.
// Days with no events are omitted.
func (t *Translator) DailySeries(ctx context.Context, customerID, metricCode string, start, end time.Time) ([]DailyUsage, error) {
	metric, err := t.resolve(metricCode)
	if err != nil {
		return nil, err
	}

	events, err := t.events.FindRange(ctx, customerID, metric.EventType, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}

	buckets := make(map[time.Time][]eventdomain.UsageEvent)
	for _, ev := range events {
		day := ev.RecordedAt.UTC().Truncate(24 * time.Hour)
		buckets[day] = append(buckets[day], ev)
	}

	series := make([]DailyUsage, 0, len(buckets))
	for day, bucket := range buckets {
		series = append(series, DailyUsage{Day: day, Value: reduce(metric, bucket)})
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Day.Before(series[j].Day) })
	return series, nil
}

func (t *Translator) resolve(code string) (meterdomain.BillableMetric, error) {
	metric, err := t.catalog.Get().Get(code)
	if err != nil {
		return meterdomain.BillableMetric{}, err
	}
	if metric.Aggregation.NeedsProperty() && metric.Property == "" {
		return meterdomain.BillableMetric{}, meterdomain.ErrMissingProperty
	}
	return metric, nil
}

// halfOpen converts the API's inclusive range to the store's [start, end).
func halfOpen(start, end time.Time) (time.Time, time.Time) {
	return start.UTC(), end.UTC().Add(time.Millisecond)
}

// reduce applies the metric's aggregation over a bucket of events. Events
// without a usable numeric property contribute nothing to sum and max.
func reduce(metric meterdomain.BillableMetric, events []eventdomain.UsageEvent) float64 {
	if metric.Aggregation == meterdomain.AggregationCount {
		return float64(len(events))
	}

	var total, peak float64
	seen := false
	for _, ev := range events {
		value, ok := numericProperty(ev.Properties, metric.Property)
		if !ok {
			continue
		}
		total += value
		if !seen || value > peak {
			peak = value
		}
		seen = true
	}
	if metric.Aggregation == meterdomain.AggregationMax {
		if !seen {
			return 0
		}
		return peak
	}
	return total
}

// numericProperty extracts a property value leniently: JSON numbers, Go
// integer and float types, and numeric strings all count; anything else is
// skipped rather than failing the query.
func numericProperty(props map[string]interface{}, name string) (float64, bool) {
	raw, ok := props[name]
	if !ok || raw == nil {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, !math.IsNaN(v)
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		parsed, err := v.Float64()
		return parsed, err == nil
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		return parsed, err == nil && !math.IsNaN(parsed)
	default:
		return 0, false
	}
}

// bucketKey stringifies the grouping property; absent values bucket under "".
func bucketKey(ev eventdomain.UsageEvent, property string) string {
	raw, ok := ev.Properties[property]
	if !ok || raw == nil {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}
