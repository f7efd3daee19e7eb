package task

import (
	"context"
	"time"

	boff "github.com/Andrej220/go-utils/backoff"
	lg "github.com/Andrej220/go-utils/zlog"
)

// RetryPolicy describes how many times and how often a RetryTask retries
// its closure before giving up. RetryTask treats a zero (or negative)
// Attempts as "try exactly once"; Initial and Max are passed to the
// backoff unchanged.
//
// Grounded in the teacher's (azargarov-wpool) RetryPolicy / processJob
// backoff loop — the original neolib task has no retry concept, but the
// teacher's own domain stack supplies one, so it is carried here as a
// supplement (SPEC_FULL.md §2) rather than left unwired.
type RetryPolicy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

// RetryTask wraps a fallible closure, retrying it under a RetryPolicy and
// a seeded exponential backoff before resolving its Future with the final
// error. It is a Task like any other: a worker calls Run once and the
// retry loop runs to completion within that single call (yielding between
// attempts only on the task's own context, not the pool's cooperative
// yield).
type RetryTask[T any] struct {
	*FunctionTask[T]
}

// NewRetryTask builds a RetryTask[T] from fn, retrying under policy.
// ctx cancellation aborts the retry loop early; a nil ctx is treated as
// context.Background.
func NewRetryTask[T any](ctx context.Context, fn func() (T, error), policy RetryPolicy) *RetryTask[T] {
	if ctx == nil {
		ctx = context.Background()
	}
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	run := func() (T, error) {
		logger := lg.FromContext(ctx)
		bo := boff.New(policy.Initial, policy.Max, time.Now().UnixNano())
		var (
			v   T
			err error
		)
		for attempt := 1; attempt <= policy.Attempts; attempt++ {
			v, err = fn()
			if err == nil {
				return v, nil
			}
			if attempt == policy.Attempts {
				logger.Error("task failed after final retry attempt",
					lg.Int("attempt", attempt), lg.Any("error", err))
				return v, err
			}
			delay := bo.Next()
			logger.Warn("task attempt failed; backing off",
				lg.Int("attempt", attempt), lg.String("sleep", delay.String()), lg.Any("error", err))
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				if !timer.Stop() {
					<-timer.C
				}
				return v, ctx.Err()
			}
		}
		return v, err
	}
	return &RetryTask[T]{FunctionTask: NewFunctionTask(run)}
}
