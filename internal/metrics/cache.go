package metrics

import (
	"context"

	"go.opentelemetry.io/otel/metric"

	"github.com/tenantwatch/argus/internal/cache"
)

// RegisterCacheMetrics exposes the store's hit/miss counters and entry count
// as observable instruments. Call once after the store is built.
func RegisterCacheMetrics(store *cache.Store) error {
	hits, err := meter.Int64ObservableCounter(
		"cache.hits.total",
		metric.WithDescription("Cumulative cache hits"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	misses, err := meter.Int64ObservableCounter(
		"cache.misses.total",
		metric.WithDescription("Cumulative cache misses"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	entries, err := meter.Int64ObservableGauge(
		"cache.entries",
		metric.WithDescription("Entries currently held by the cache"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		st := store.Stats()
		o.ObserveInt64(hits, st.Hits)
		o.ObserveInt64(misses, st.Misses)
		o.ObserveInt64(entries, int64(st.Entries))
		return nil
	}, hits, misses, entries)
	return err
}
