package cache

import (
	"context"
	"strings"
	"time"
)

// Key joins parts into a cache key with ':' separators. Callers fingerprint
// their lookups with it, e.g. Key("graph", tenantID, "users").
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// Fetch returns the value cached under key, computing and storing it on a
// miss. Compute errors are returned and nothing is cached. A nil store
// degrades to calling compute every time. Like the Store itself, Fetch does
// not de-duplicate concurrent misses on the same key: overlapping callers
// each run compute and the last Set wins.
func Fetch[T any](ctx context.Context, s *Store, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	if s == nil {
		return compute(ctx)
	}
	if v, ok := s.Get(key); ok {
		if t, ok := v.(T); ok {
			return t, nil
		}
	}
	val, err := compute(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	s.Set(key, val, ttl)
	return val, nil
}
