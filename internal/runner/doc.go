// Package runner executes homogeneous units of work in bounded groups,
// isolating failures so one bad item never aborts the rest.
//
// Batch walks contiguous chunks sequentially with an optional pause between
// them and preserves input order in its output. Parallel runs items in
// fixed-size waves of goroutines with an optional per-wave deadline; a wave
// must fully resolve before the next one starts.
package runner
