package runner

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned before any work starts when a config value is
// out of range.
var ErrInvalidConfig = errors.New("runner: invalid configuration")

// ErrWaveTimeout marks an item still outstanding when its wave deadline
// fired. An item that returned a context error of its own is reported with
// that error instead, so timeout checks should match either this sentinel or
// context.DeadlineExceeded.
var ErrWaveTimeout = errors.New("runner: wave timeout")

// ChunkError records one failed chunk. Start is the input index of the
// chunk's first item, Size its length.
type ChunkError struct {
	Start int
	Size  int
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk at %d (%d items): %v", e.Start, e.Size, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// ItemError records one failed item by its input index.
type ItemError struct {
	Index int
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}
