package pool

import "errors"

// ErrNoThreads is returned by Start/Run when the pool has zero workers at
// call time (Reserve was never called, or was called with zero).
var ErrNoThreads = errors.New("pool: no worker threads")

// errAlreadyActive and errNoActiveTask surface internal invariant
// violations (spec.md §7): they are never expected in correct use of the
// package and are raised as panics rather than returned errors, matching
// the teacher's own panic-on-invariant-break style
// (segment_pool.go: "segment from pool has non-zero refs").
var (
	errAlreadyActive = errors.New("pool: worker already has an active task")
	errNoActiveTask  = errors.New("pool: worker has no active task to release")
)
