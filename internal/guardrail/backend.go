package guardrail

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tenantwatch/argus/internal/cache"
	"github.com/tenantwatch/argus/internal/metrics"
	"github.com/tenantwatch/argus/internal/utils"
)

// Cached memoises a tenant backend lookup under key in the run environment's
// cache. Checks should route their API reads through here so controls that
// inspect the same data share one call, and so backend call metrics get
// recorded on every actual fetch. Fetches ride the throttle-aware retry
// policy, so checks need no backoff handling of their own.
//
// The key's first segment labels the backend in metrics, so keys should
// start with the API family ("graph:...", "arm:...").
func Cached[T any](ctx context.Context, env *Env, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	return cache.Fetch(ctx, env.Cache, key, ttl, func(ctx context.Context) (T, error) {
		start := time.Now()
		v, err := utils.WithRetry(ctx, fetch, utils.ThrottleRetryConfig())

		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		backend := key
		if i := strings.IndexByte(key, ':'); i > 0 {
			backend = key[:i]
		}
		metrics.BackendCallsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("outcome", outcome),
		))
		metrics.BackendDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("backend", backend)))

		return v, err
	})
}
