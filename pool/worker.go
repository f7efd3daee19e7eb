package pool

import (
	"sort"
	"sync"

	"github.com/madebr/neolib/task"
)

// queueEntry pairs a task with the priority it was submitted at.
type queueEntry struct {
	task     task.Task
	priority int32
}

// worker owns one priority-ordered local queue and, at most, one running
// task. Grounded in original_source/src/task/thread_pool.cpp's
// thread_pool_thread, state-machine-for-state (spec.md §4.2):
//
//	Idle -> Promoting -> Running -> Releasing -> Idle|Promoting, Any -> Terminated
//
// Go has no native recursive mutex, so the ordering discipline from the
// original (pool mutex, then the worker's own condition-variable mutex,
// never the reverse) is expressed as a split between exported methods
// (which acquire pool.mu) and *Locked methods (which assume it is already
// held by the caller).
type worker struct {
	pool *Pool
	id   int

	condMu sync.Mutex
	cond   *sync.Cond

	// queue and activeTask are both protected by pool.mu for structural
	// changes; activeTask is additionally read/written under condMu so
	// the worker goroutine can wait on it without holding pool.mu.
	queue      []queueEntry
	activeTask task.Task

	stopped bool
	doneCh  chan struct{}
}

func newWorker(p *Pool, id int) *worker {
	w := &worker{
		pool:   p,
		id:     id,
		doneCh: make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.condMu)
	go w.run()
	return w
}

// run is the worker goroutine body: Idle, wait for an active task or
// stop; Running, execute it (skipping if cancelled); Releasing, clear the
// slot and pull the next task under the pool lock.
func (w *worker) run() {
	defer close(w.doneCh)
	if w.pool.opts.PinWorkers {
		if err := pinToCPU(w.id % maxCPU()); err != nil {
			w.pool.reportInternalError(err)
		}
	}
	for {
		w.condMu.Lock()
		for w.activeTask == nil && !w.stopped {
			w.cond.Wait()
		}
		stopped := w.stopped
		active := w.activeTask
		w.condMu.Unlock()

		if stopped {
			return
		}

		if !active.Cancelled() {
			w.pool.metrics.IncExecuted()
			if err := active.Run(task.NoYield); err != nil {
				w.pool.reportJobError(err)
			}
		}

		w.pool.mu.Lock()
		w.releaseLocked()
		w.nextTaskLocked()
		w.pool.mu.Unlock()
	}
}

// active reports whether this worker currently has a running task.
func (w *worker) active() bool {
	w.condMu.Lock()
	defer w.condMu.Unlock()
	return w.activeTask != nil
}

// idleLocked reports whether the worker has neither an active task nor
// queued work. Assumes pool.mu is held.
func (w *worker) idleLocked() bool {
	w.condMu.Lock()
	defer w.condMu.Unlock()
	return w.activeTask == nil && len(w.queue) == 0
}

// addLocked inserts t at the position that preserves non-increasing
// priority order, stable for equal priorities (new entries land after
// existing equal-priority entries — the Go equivalent of the original's
// std::upper_bound insertion). If the worker has no active task, the
// freshly-queued head is promoted immediately. Assumes pool.mu held.
func (w *worker) addLocked(t task.Task, priority int32) {
	idx := sort.Search(len(w.queue), func(i int) bool {
		return w.queue[i].priority < priority
	})
	w.queue = append(w.queue, queueEntry{})
	copy(w.queue[idx+1:], w.queue[idx:])
	w.queue[idx] = queueEntry{task: t, priority: priority}
	w.pool.metrics.IncQueued()

	if !w.active() {
		w.nextTaskLocked()
	}
}

// stealFrontLocked pops this worker's highest-priority (front) entry and
// appends it directly to idle's queue, bypassing addLocked since idle's
// queue is known empty (its own nextTaskLocked only steals when empty)
// and idle is not yet promoting — the caller promotes afterward. Assumes
// pool.mu held for both workers (the pool-wide lock covers all queues).
func (w *worker) stealFrontLocked(idle *worker) bool {
	if len(w.queue) == 0 {
		return false
	}
	entry := w.queue[0]
	w.queue = w.queue[1:]
	idle.queue = append(idle.queue, entry)
	w.pool.metrics.IncStolen()
	return true
}

// releaseLocked clears the active-task slot after a run. Assumes pool.mu
// held; panics (an internal invariant violation) if there was no active
// task, matching the teacher's own panic-on-invariant-break idiom.
func (w *worker) releaseLocked() {
	w.condMu.Lock()
	defer w.condMu.Unlock()
	if w.activeTask == nil {
		panic(errNoActiveTask)
	}
	w.activeTask = nil
}

// nextTaskLocked promotes the next queued task to active, stealing from a
// peer first if this worker's queue is empty, or reports the worker gone
// idle if nothing is available. Assumes pool.mu held.
func (w *worker) nextTaskLocked() {
	if w.active() {
		panic(errAlreadyActive)
	}
	if len(w.queue) == 0 {
		w.pool.stealWorkLocked(w)
	}
	if len(w.queue) > 0 {
		entry := w.queue[0]
		w.queue = w.queue[1:]
		w.condMu.Lock()
		w.activeTask = entry.task
		w.condMu.Unlock()
		w.cond.Signal()
		w.pool.threadGoneBusyLocked()
	} else {
		w.pool.threadGoneIdleLocked()
	}
}

// stop idempotently requests the worker goroutine to exit and blocks
// until it has, matching thread_pool_thread::stop's "signal, then join".
func (w *worker) stop() {
	w.condMu.Lock()
	if w.stopped {
		w.condMu.Unlock()
		return
	}
	w.stopped = true
	w.cond.Broadcast()
	w.condMu.Unlock()
	<-w.doneCh
}

func maxCPU() int {
	n := cpuCount()
	if n <= 0 {
		return 1
	}
	return n
}
