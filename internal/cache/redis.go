package cache

import (
	"fmt"
	"strings"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient builds a go-redis client from a REDIS_URL value and hooks
// it into OpenTelemetry. Accepts redis:// and rediss:// URLs as well as a
// plain host:port.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	var opts *redis.Options
	if strings.Contains(redisURL, "://") {
		parsed, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: redisURL}
	}

	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("instrument redis tracing: %w", err)
	}
	if err := redisotel.InstrumentMetrics(client); err != nil {
		return nil, fmt.Errorf("instrument redis metrics: %w", err)
	}
	return client, nil
}
