package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	usageAccepted    metric.Int64Counter
	usageDuplicate   metric.Int64Counter
	usageRejected    metric.Int64Counter
	admissionAllowed metric.Int64Counter
	admissionDenied  metric.Int64Counter
	anomalyChecks    metric.Int64Counter
	fraudChecks      metric.Int64Counter
	baselineBuilds   metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "usageguard"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	for _, instrument := range []struct {
		counter *metric.Int64Counter
		name    string
	}{
		{&m.usageAccepted, "usageguard_events_accepted_total"},
		{&m.usageDuplicate, "usageguard_events_duplicate_total"},
		{&m.usageRejected, "usageguard_events_rejected_total"},
		{&m.admissionAllowed, "usageguard_admission_allowed_total"},
		{&m.admissionDenied, "usageguard_admission_denied_total"},
		{&m.anomalyChecks, "usageguard_anomaly_checks_total"},
		{&m.fraudChecks, "usageguard_fraud_checks_total"},
		{&m.baselineBuilds, "usageguard_baseline_builds_total"},
	} {
		counter, err := meter.Int64Counter(instrument.name)
		if err != nil {
			return nil, err
		}
		*instrument.counter = counter
	}

	return m, nil
}

// RecordAccepted increments accepted event counts.
func (m *Metrics) RecordAccepted(ctx context.Context, eventType string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("event_type", strings.TrimSpace(eventType)))
	m.usageAccepted.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordDuplicate increments deduplicated event counts.
func (m *Metrics) RecordDuplicate(ctx context.Context, eventType string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("event_type", strings.TrimSpace(eventType)))
	m.usageDuplicate.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordRejected increments rejected event counts.
func (m *Metrics) RecordRejected(ctx context.Context, reason string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.usageRejected.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordAdmission increments admission allow or deny counts.
func (m *Metrics) RecordAdmission(ctx context.Context, allowed bool) {
	if m == nil {
		return
	}
	if allowed {
		m.admissionAllowed.Add(ctx, 1)
		return
	}
	m.admissionDenied.Add(ctx, 1)
}

// RecordAnomalyCheck increments anomaly check counts by severity.
func (m *Metrics) RecordAnomalyCheck(ctx context.Context, severity string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("severity", strings.TrimSpace(severity)))
	m.anomalyChecks.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordFraudCheck increments fraud check counts by classification.
func (m *Metrics) RecordFraudCheck(ctx context.Context, fraudType string, flagged bool) {
	if m == nil {
		return
	}
	if fraudType == "" {
		fraudType = "none"
	}
	attrs := FilterAttributes(
		attribute.String("fraud_type", strings.TrimSpace(fraudType)),
		attribute.Bool("flagged", flagged),
	)
	m.fraudChecks.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordBaselineBuild increments baseline rebuild counts.
func (m *Metrics) RecordBaselineBuild(ctx context.Context, metricCode string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("metric_code", strings.TrimSpace(metricCode)))
	m.baselineBuilds.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"event_type":  {},
	"metric_code": {},
	"severity":    {},
	"fraud_type":  {},
	"flagged":     {},
	"reason":      {},
	"endpoint":    {},
	"status_code": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
