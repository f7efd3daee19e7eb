package pool

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// MetricsPolicy defines hooks used by the pool to report queueing,
// execution, and work-stealing activity. Implementations must be safe
// for concurrent use. Adapted from the teacher's MetricsPolicy
// (azargarov-wpool/metrics.go), extended with a stolen counter since this
// pool, unlike the teacher's, actually performs work stealing.
type MetricsPolicy interface {
	IncQueued()
	IncExecuted()
	IncStolen()
}

// AtomicMetrics is a lock-free MetricsPolicy backed by atomics. Every
// worker goroutine hits one of these three counters on every task, so
// each gets its own cache line to keep them from falsely sharing one
// with another under concurrent increments.
type AtomicMetrics struct {
	queued atomic.Int64
	_      cpu.CacheLinePad

	executed atomic.Uint64
	_        cpu.CacheLinePad

	stolen atomic.Uint64
}

func (m *AtomicMetrics) IncQueued()   { m.queued.Add(1) }
func (m *AtomicMetrics) IncExecuted() { m.executed.Add(1) }
func (m *AtomicMetrics) IncStolen()   { m.stolen.Add(1) }

// Queued returns the total number of tasks ever enqueued across all
// workers. It is not decremented when a task leaves a queue, so it is a
// running total, not the current backlog.
func (m *AtomicMetrics) Queued() int64 { return m.queued.Load() }

// Executed returns the total number of tasks that have started running.
func (m *AtomicMetrics) Executed() uint64 { return m.executed.Load() }

// Stolen returns the total number of tasks transferred by work stealing.
func (m *AtomicMetrics) Stolen() uint64 { return m.stolen.Load() }

// NoopMetrics discards all metric updates.
type NoopMetrics struct{}

func (NoopMetrics) IncQueued()   {}
func (NoopMetrics) IncExecuted() {}
func (NoopMetrics) IncStolen()   {}
