package runner

import (
	"context"
	"fmt"
	"time"
)

// BatchConfig configures Batch.
type BatchConfig struct {
	// ChunkSize is the maximum number of items handed to op per call.
	// Must be positive.
	ChunkSize int

	// Delay is an optional pause between chunks, used to pace calls against
	// rate-limited backends. No pause follows the final chunk.
	Delay time.Duration
}

// Batch splits items into contiguous chunks of at most cfg.ChunkSize and
// runs op over each chunk in turn. Successful chunk outputs are concatenated
// in input order. A failing chunk is recorded as a ChunkError and the batch
// moves on; failures never abort the remaining chunks.
//
// The returned error is non-nil only for an invalid config (ErrInvalidConfig,
// before any chunk runs) or a cancelled context, in which case the results
// and failures collected so far are still returned. Cancellation is observed
// between chunks and during the inter-chunk delay.
func Batch[T, R any](ctx context.Context, items []T, cfg BatchConfig, op func(ctx context.Context, chunk []T) ([]R, error)) ([]R, []*ChunkError, error) {
	if cfg.ChunkSize <= 0 {
		return nil, nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, cfg.ChunkSize)
	}
	if len(items) == 0 {
		return nil, nil, nil
	}

	var (
		results  []R
		failures []*ChunkError
	)

	for start := 0; start < len(items); start += cfg.ChunkSize {
		if err := ctx.Err(); err != nil {
			return results, failures, err
		}

		end := min(start+cfg.ChunkSize, len(items))
		chunk := items[start:end]

		out, err := op(ctx, chunk)
		if err != nil {
			failures = append(failures, &ChunkError{Start: start, Size: len(chunk), Err: err})
		} else {
			results = append(results, out...)
		}

		if cfg.Delay > 0 && end < len(items) {
			select {
			case <-time.After(cfg.Delay):
			case <-ctx.Done():
				return results, failures, ctx.Err()
			}
		}
	}

	return results, failures, nil
}
