// Package meter loads and serves the billable metric catalog.
package meter

import (
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/smallbiznis/usageguard/internal/meter/domain"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// DefaultMetrics is the catalog used when no metrics.yml is present.
func DefaultMetrics() []domain.BillableMetric {
	return []domain.BillableMetric{
		{Code: "api_calls", EventType: "api_call", Aggregation: domain.AggregationCount, Unit: "call"},
		{Code: "data_transfer", EventType: "data_transfer", Aggregation: domain.AggregationSum, Property: "bytes", Unit: "byte"},
		{Code: "peak_payload", EventType: "api_call", Aggregation: domain.AggregationMax, Property: "payload_size", Unit: "byte"},
	}
}

// CatalogHolder serves the current catalog and hot-reloads it from disk.
// The catalog itself is immutable; reloads swap the whole value.
type CatalogHolder struct {
	current atomic.Value // holds domain.Catalog
	log     *zap.Logger
}

// NewCatalogHolder reads metrics.yml (falling back to DefaultMetrics) and
// watches the file for changes.
func NewCatalogHolder(log *zap.Logger) (*CatalogHolder, error) {
	v := viper.New()

	v.SetConfigName("metrics")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/usageguard")
	v.AddConfigPath(".")

	v.SetEnvPrefix("USAGEGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	log = log.Named("meter.catalog")

	holder := &CatalogHolder{log: log}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		catalog, err := domain.NewCatalog(DefaultMetrics())
		if err != nil {
			return nil, err
		}
		holder.current.Store(catalog)
		log.Info("metric catalog defaults loaded", zap.Int("metrics", catalog.Len()))
		return holder, nil
	}

	catalog, err := unmarshalCatalog(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(catalog)
	log.Info("metric catalog loaded",
		zap.String("file", v.ConfigFileUsed()),
		zap.Int("metrics", catalog.Len()),
	)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := unmarshalCatalog(v)
		if err != nil {
			log.Warn("catalog reload failed, keeping previous", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("metric catalog reloaded",
			zap.String("file", e.Name),
			zap.Int("metrics", updated.Len()),
		)
	})

	return holder, nil
}

// NewStaticHolder wraps a fixed catalog; used by tests and embedded callers.
func NewStaticHolder(catalog domain.Catalog) *CatalogHolder {
	holder := &CatalogHolder{log: zap.NewNop()}
	holder.current.Store(catalog)
	return holder
}

// Get returns the current catalog value.
func (h *CatalogHolder) Get() domain.Catalog {
	return h.current.Load().(domain.Catalog)
}

func unmarshalCatalog(v *viper.Viper) (domain.Catalog, error) {
	var metrics []domain.BillableMetric
	if err := v.UnmarshalKey("metrics", &metrics); err != nil {
		return domain.Catalog{}, err
	}
	if len(metrics) == 0 {
		metrics = DefaultMetrics()
	}
	return domain.NewCatalog(metrics)
}

// Module wires the metric catalog.
var Module = fx.Module("meter.catalog",
	fx.Provide(NewCatalogHolder),
)
