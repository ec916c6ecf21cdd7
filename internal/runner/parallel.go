package runner

import (
	"context"
	"fmt"
	"time"
)

// ParallelConfig configures Parallel.
type ParallelConfig struct {
	// MaxConcurrent is the wave width: at most this many items run at once.
	// Must be positive.
	MaxConcurrent int

	// WaveTimeout bounds each wave when positive. Items still outstanding at
	// the deadline are reported as ItemErrors wrapping ErrWaveTimeout and
	// their late results are discarded.
	WaveTimeout time.Duration
}

// ItemResult pairs an op output with the input index that produced it.
type ItemResult[R any] struct {
	Index int
	Value R
}

// Parallel runs op over items in waves of at most cfg.MaxConcurrent, one
// goroutine per item. A wave fully resolves before the next begins, so the
// concurrency bound holds at every instant. Results arrive wave by wave in
// completion order; use Index to correlate with the input. Item failures are
// collected as ItemErrors and never stop the remaining items or waves.
//
// When cfg.WaveTimeout is positive each wave gets its own deadline. At the
// deadline the wave's context is cancelled, outstanding items are flagged
// with ErrWaveTimeout, anything they deliver later is dropped, and the next
// wave starts. Goroutines never block on delivery, so a stuck op leaks no
// more than its own goroutine.
//
// The returned error is non-nil only for an invalid config (ErrInvalidConfig,
// before anything runs) or a cancelled parent context, observed at wave
// boundaries; partial results and failures are returned alongside it.
func Parallel[T, R any](ctx context.Context, items []T, cfg ParallelConfig, op func(ctx context.Context, item T) (R, error)) ([]ItemResult[R], []*ItemError, error) {
	if cfg.MaxConcurrent <= 0 {
		return nil, nil, fmt.Errorf("%w: max concurrent must be positive, got %d", ErrInvalidConfig, cfg.MaxConcurrent)
	}
	if len(items) == 0 {
		return nil, nil, nil
	}

	var (
		results  []ItemResult[R]
		failures []*ItemError
	)

	for start := 0; start < len(items); start += cfg.MaxConcurrent {
		if err := ctx.Err(); err != nil {
			return results, failures, err
		}

		end := min(start+cfg.MaxConcurrent, len(items))
		waveResults, waveFailures := runWave(ctx, items[start:end], start, cfg.WaveTimeout, op)
		results = append(results, waveResults...)
		failures = append(failures, waveFailures...)
	}

	return results, failures, nil
}

type outcome[R any] struct {
	index int
	value R
	err   error
}

func runWave[T, R any](ctx context.Context, wave []T, offset int, timeout time.Duration, op func(ctx context.Context, item T) (R, error)) ([]ItemResult[R], []*ItemError) {
	var (
		waveCtx context.Context
		cancel  context.CancelFunc
	)
	if timeout > 0 {
		waveCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		waveCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	// Buffered to wave size: a straggler finishing after the wave was
	// abandoned still delivers and exits instead of blocking forever.
	outcomes := make(chan outcome[R], len(wave))
	for i, item := range wave {
		go func(i int, item T) {
			value, err := op(waveCtx, item)
			outcomes <- outcome[R]{index: offset + i, value: value, err: err}
		}(i, item)
	}

	var (
		results  []ItemResult[R]
		failures []*ItemError
		received = make([]bool, len(wave))
		pending  = len(wave)
	)

	collect := func(out outcome[R]) {
		received[out.index-offset] = true
		pending--
		if out.err != nil {
			failures = append(failures, &ItemError{Index: out.index, Err: out.err})
			return
		}
		results = append(results, ItemResult[R]{Index: out.index, Value: out.value})
	}

	for pending > 0 {
		select {
		case out := <-outcomes:
			collect(out)
		case <-waveCtx.Done():
			// Grab anything already delivered before writing off the rest.
			drained := true
			for drained && pending > 0 {
				select {
				case out := <-outcomes:
					collect(out)
				default:
					drained = false
				}
			}

			// Only the wave's own deadline counts as a wave timeout; a dead
			// parent context keeps its own error.
			reason := waveCtx.Err()
			if reason == context.DeadlineExceeded && ctx.Err() == nil {
				reason = ErrWaveTimeout
			}
			for i, ok := range received {
				if !ok {
					failures = append(failures, &ItemError{Index: offset + i, Err: reason})
				}
			}
			return results, failures
		}
	}

	return results, failures
}
