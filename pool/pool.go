// Package pool implements a fixed-size, priority-ordered, work-stealing
// thread pool of cancellable tasks. Grounded directly in
// original_source/src/task/thread_pool.cpp (thread_pool /
// thread_pool_thread), carrying the teacher's (azargarov-wpool) ambient
// stack — structured logging via zlog, an Options/FillDefaults
// constructor shape, and an atomics-backed MetricsPolicy — onto that
// scheduling design.
package pool

import (
	"context"
	"sync"
	"sync/atomic"

	lg "github.com/Andrej220/go-utils/zlog"

	"github.com/madebr/neolib/task"
)

// Pool is a fixed-size collection of workers. mu is the pool-wide lock
// protecting worker-queue topology (spec.md §5: "pool.mutex — recursive;
// protects worker-list topology and every worker's queue membership").
// Go has no recursive mutex; every method that both acquires mu and calls
// into a worker that would otherwise re-acquire it is expressed through
// the *Locked convention instead. stopped is kept outside that lock
// (atomic) so it can be read from Wait while waitMu is held without
// risking lock-order inversion against updateIdleLocked (mu, then
// waitMu).
type Pool struct {
	mu      sync.Mutex
	workers []*worker

	maxThreads int
	stopped    atomic.Bool

	waitMu   sync.Mutex
	waitCond *sync.Cond
	idle     bool

	opts    Options
	metrics MetricsPolicy

	onInternalError func(error)
	onJobError      func(error)
}

// New constructs a Pool and reserves opts.Workers workers immediately
// (opts.Workers <= 0 defaults to GOMAXPROCS, matching thread_pool's
// default-constructor reserve(hardware_concurrency())).
func New(opts Options) *Pool {
	opts.FillDefaults()
	p := &Pool{
		opts:    opts,
		metrics: &AtomicMetrics{},
		idle:    true,
	}
	p.waitCond = sync.NewCond(&p.waitMu)
	p.Reserve(opts.Workers)
	return p
}

// SetMetrics installs a MetricsPolicy, replacing the default
// AtomicMetrics. Pass &NoopMetrics{} to disable metric collection.
func (p *Pool) SetMetrics(m MetricsPolicy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics = m
}

// Metrics returns the pool's currently installed MetricsPolicy.
func (p *Pool) Metrics() MetricsPolicy {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}

// Reserve grows the worker count to n. It never shrinks: max_threads is
// monotonic for the pool's lifetime (spec.md §3, Thread Pool invariant
// ii). Safe to call before any work is enqueued, or at any later point to
// grow capacity.
func (p *Pool) Reserve(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n > p.maxThreads {
		p.maxThreads = n
	}
	for len(p.workers) < p.maxThreads {
		p.workers = append(p.workers, newWorker(p, len(p.workers)))
	}
}

// Start dispatches t at priority to the first worker with no active task
// (its queue may still hold entries), or to worker 0 if every worker is
// active. This guarantees forward progress when the
// pool is saturated; load balancing across busy workers is delegated to
// work stealing (spec.md §4.3). Returns ErrNoThreads if Reserve was never
// called (or called with n<=0). A no-op, returning nil, once the pool has
// been stopped.
func (p *Pool) Start(t task.Task, priority int32) error {
	if p.stopped.Load() {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.workers) == 0 {
		return ErrNoThreads
	}
	for _, w := range p.workers {
		if !w.active() {
			w.addLocked(t, priority)
			return nil
		}
	}
	p.workers[0].addLocked(t, priority)
	return nil
}

// TryStart is identical to Start but returns false, without enqueuing,
// if every worker currently has an active task.
func (p *Pool) TryStart(t task.Task, priority int32) bool {
	if p.stopped.Load() {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.workers) == 0 {
		return false
	}
	for _, w := range p.workers {
		if !w.active() {
			w.addLocked(t, priority)
			return true
		}
	}
	return false
}

// Run wraps fn as a task and starts it, returning its Future and the
// underlying Task handle (for Cancel). Returns ErrNoThreads under the
// same conditions as Start.
func (p *Pool) Run(fn func() error, priority int32) (*task.Future[struct{}], task.Task, error) {
	t := task.NewFunctionTask(func() (struct{}, error) { return struct{}{}, fn() })
	if err := p.Start(t, priority); err != nil {
		return nil, nil, err
	}
	return t.Future(), t, nil
}

// Idle reports whether every worker is simultaneously idle (no active
// task, no queued work). This reads a cached flag maintained by
// updateIdleLocked on every gone_idle/gone_busy transition, not a live
// recomputation — matching thread_pool::idle().
func (p *Pool) Idle() bool {
	p.waitMu.Lock()
	defer p.waitMu.Unlock()
	return p.idle
}

// Busy reports !Idle().
func (p *Pool) Busy() bool { return !p.Idle() }

// Stopped reports whether Stop has been called.
func (p *Pool) Stopped() bool {
	return p.stopped.Load()
}

// Wait blocks the calling goroutine until the pool is either stopped or
// every worker is simultaneously idle. Must not be called from within a
// worker's own task — that would deadlock, since a worker can never
// become idle while blocked waiting on itself.
func (p *Pool) Wait() {
	if p.stopped.Load() || p.Idle() {
		return
	}
	p.waitMu.Lock()
	for !p.stopped.Load() && !p.idle {
		p.waitCond.Wait()
	}
	p.waitMu.Unlock()
}

// Stop signals every worker to stop and wakes any goroutine blocked in
// Wait. Idempotent.
func (p *Pool) Stop() {
	if !p.stopped.CompareAndSwap(false, true) {
		return
	}
	p.mu.Lock()
	workers := append([]*worker(nil), p.workers...)
	p.mu.Unlock()

	for _, w := range workers {
		w.stop()
	}

	p.waitMu.Lock()
	p.waitCond.Broadcast()
	p.waitMu.Unlock()

	lg.FromContext(context.Background()).Info("pool stopped", lg.Int("workers", len(workers)))
}

// ActiveThreads returns the number of workers currently running a task.
func (p *Pool) ActiveThreads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, w := range p.workers {
		if w.active() {
			n++
		}
	}
	return n
}

// TotalThreads returns the current worker count.
func (p *Pool) TotalThreads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// MaxThreads returns the high-water mark set by Reserve.
func (p *Pool) MaxThreads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxThreads
}

// stealWorkLocked scans workers in creation order, skipping idle, and
// transfers the first victim's front (highest-priority) entry. Assumes
// pool.mu held.
func (p *Pool) stealWorkLocked(idle *worker) bool {
	for _, w := range p.workers {
		if w == idle {
			continue
		}
		if w.stealFrontLocked(idle) {
			return true
		}
	}
	return false
}

// updateIdleLocked recomputes the cached idle flag by scanning every
// worker. Assumes pool.mu held; the flag itself lives under the separate
// waitMu, so Wait and Idle read it without ever taking the topology lock
// (spec.md §4.3).
func (p *Pool) updateIdleLocked() {
	allIdle := true
	for _, w := range p.workers {
		if !w.idleLocked() {
			allIdle = false
			break
		}
	}
	p.waitMu.Lock()
	p.idle = allIdle
	p.waitMu.Unlock()
}

func (p *Pool) threadGoneIdleLocked() {
	p.updateIdleLocked()
	p.waitMu.Lock()
	p.waitCond.Signal()
	p.waitMu.Unlock()
}

func (p *Pool) threadGoneBusyLocked() {
	p.updateIdleLocked()
}

var (
	defaultPool     *Pool
	defaultPoolOnce sync.Once
)

// DefaultPool returns the process-wide default pool, lazily constructed
// with GOMAXPROCS workers on first use, matching
// thread_pool::default_thread_pool().
func DefaultPool() *Pool {
	defaultPoolOnce.Do(func() {
		defaultPool = New(Options{})
	})
	return defaultPool
}
