package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Finding is one compliance finding as stored in a cached run summary.
type Finding struct {
	ControlID  string    `json:"control_id"`
	ItemName   string    `json:"item_name"`
	Status     string    `json:"status"`
	Comments   string    `json:"comments,omitempty"`
	TenantID   string    `json:"tenant_id"`
	ReportTime time.Time `json:"report_time"`
}

// FailureRecord is one failed check as stored in a cached run summary.
type FailureRecord struct {
	CheckName string `json:"check_name"`
	Error     string `json:"error"`
	TimedOut  bool   `json:"timed_out"`
}

// RunSummary is the cached outcome of a finished run, findings included.
// It lives only in Redis under a TTL; nothing persists findings durably.
type RunSummary struct {
	RunID         string          `json:"run_id"`
	TenantID      string          `json:"tenant_id"`
	Status        string          `json:"status"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
	Compliant     int             `json:"compliant"`
	NonCompliant  int             `json:"non_compliant"`
	NotApplicable int             `json:"not_applicable"`
	Findings      []Finding       `json:"findings"`
	Failures      []FailureRecord `json:"failures"`
	Summary       string          `json:"summary"`
}

// RunSummaryCache provides Redis-backed caching for finished run summaries.
// A nil client turns every operation into a no-op, which keeps local setups
// without Redis working.
type RunSummaryCache struct {
	client *redis.Client
	prefix string
}

// NewRunSummaryCache creates a run summary cache over the given Redis client.
func NewRunSummaryCache(client *redis.Client) *RunSummaryCache {
	return &RunSummaryCache{
		client: client,
		prefix: "runs:",
	}
}

func (c *RunSummaryCache) key(runID string) string {
	return c.prefix + runID
}

// Get retrieves a cached run summary. A miss, an expired entry and a Redis
// error all come back as (nil, nil); the caller falls through to the store.
func (c *RunSummaryCache) Get(ctx context.Context, runID string) (*RunSummary, error) {
	if c.client == nil {
		return nil, nil
	}

	data, err := c.client.Get(ctx, c.key(runID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		slog.Warn("Redis summary get failed", "error", err)
		return nil, nil
	}

	var summary RunSummary
	if err := json.Unmarshal([]byte(data), &summary); err != nil {
		slog.Warn("Failed to unmarshal cached run summary", "error", err)
		return nil, nil
	}

	return &summary, nil
}

// Set stores a run summary with the given TTL.
func (c *RunSummaryCache) Set(ctx context.Context, summary *RunSummary, ttl time.Duration) error {
	if c.client == nil {
		return nil
	}

	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}

	if err := c.client.Set(ctx, c.key(summary.RunID), data, ttl).Err(); err != nil {
		slog.Warn("Redis summary set failed", "error", err)
	}

	return nil
}

// Delete removes a cached run summary.
func (c *RunSummaryCache) Delete(ctx context.Context, runID string) error {
	if c.client == nil {
		return nil
	}

	if err := c.client.Del(ctx, c.key(runID)).Err(); err != nil {
		slog.Warn("Redis summary delete failed", "error", err)
	}

	return nil
}

// Purge removes every cached summary whose run ID matches pattern and
// returns how many went. Patterns use Redis glob syntax, so "*" purges the
// whole summary tier.
func (c *RunSummaryCache) Purge(ctx context.Context, pattern string) (int, error) {
	if c.client == nil {
		return 0, nil
	}

	var (
		removed int
		keys    []string
	)
	flush := func() error {
		if len(keys) == 0 {
			return nil
		}
		n, err := c.client.Del(ctx, keys...).Result()
		removed += int(n)
		keys = keys[:0]
		return err
	}

	iter := c.client.Scan(ctx, 0, c.prefix+pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 100 {
			if err := flush(); err != nil {
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, err
	}
	if err := flush(); err != nil {
		return removed, err
	}
	return removed, nil
}
