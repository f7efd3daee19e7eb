package event

import (
	"sync"
	"sync/atomic"

	"github.com/madebr/neolib/lifetime"
)

// QueueKey identifies the logical owner of an AsyncEventQueue: the loop,
// goroutine-affine object, or session that drains it. Go has no portable
// notion of "the calling goroutine" to hang a per-thread singleton off
// (spec.md §4.5), so unlike the original's async_event_queue::instance(),
// callers name their own queue explicitly. Must be comparable; in
// practice a *struct identifying the owning loop.
type QueueKey = any

var queues sync.Map // QueueKey -> *AsyncEventQueue

// QueueFor returns the AsyncEventQueue registered for key, creating and
// registering one on first use.
func QueueFor(key QueueKey) *AsyncEventQueue {
	if v, ok := queues.Load(key); ok {
		return v.(*AsyncEventQueue)
	}
	q := newAsyncEventQueue(key)
	actual, _ := queues.LoadOrStore(key, q)
	return actual.(*AsyncEventQueue)
}

// transactionID groups deliveries posted by one logical trigger so a
// queue's drain can treat them as an ordered batch (spec.md §4.5,
// "transaction-grouped cross-thread deliveries").
type transactionID uint64

type queueEntry struct {
	owner       any // identifies the originating Event[T], for Unqueue
	transaction transactionID
	destroyed   lifetime.DestroyedFlag // watches the originating event
	identity    any                    // handler identity, for stateless dedup
	stateless   bool
	call        func()
}

// AsyncEventQueue is a per-owner FIFO of pending handler deliveries,
// drained by that owner's main loop via Exec. It carries no lock of its
// own: every state transition happens under the package-wide eventMu
// (spec.md §4.5), matching the original's single recursive event_mutex
// discipline.
type AsyncEventQueue struct {
	key  QueueKey
	lt   lifetime.Lifetime
	flt  *filterRegistry
	done atomic.Bool

	terminated      bool
	nextTransaction transactionID
	entries         []queueEntry
}

func newAsyncEventQueue(key QueueKey) *AsyncEventQueue {
	return &AsyncEventQueue{key: key, flt: newFilterRegistry()}
}

// Watch returns a flag that reports true once the queue has been closed,
// used by subscribers to drop deliveries targeting a dead queue instead
// of leaking handlers onto it forever.
func (q *AsyncEventQueue) Watch() lifetime.DestroyedFlag { return q.lt.Watch() }

// enqueueLocked appends or coalesces a delivery. Assumes eventMu held.
// prior, when non-nil and matching the queue's most recent transaction,
// groups this entry into that transaction instead of starting a new one,
// so every handler reached by one Trigger call drains as a single batch
// (spec.md §4.5, transaction-grouped cross-thread deliveries). Stateless
// coalescing (see below) is independent of that grouping.
func (q *AsyncEventQueue) enqueueLocked(owner any, call func(), identity any, stateless bool, destroyed lifetime.DestroyedFlag, prior *transactionID) transactionID {
	if q.terminated {
		return 0
	}
	var txn transactionID
	if prior != nil && *prior != 0 && len(q.entries) > 0 && q.entries[len(q.entries)-1].transaction == *prior {
		txn = *prior
	} else {
		q.nextTransaction++
		txn = q.nextTransaction
	}
	if stateless && len(q.entries) > 0 {
		last := &q.entries[len(q.entries)-1]
		if last.stateless && last.owner == owner && last.identity == identity {
			// Same handler still sitting at the tail, undelivered: replace
			// its payload instead of growing the queue. Coalescing is not
			// limited to one transaction — a handler that only cares about
			// the latest value should collapse repeated triggers however
			// many separate Trigger calls produced them.
			last.call = call
			return last.transaction
		}
	}
	q.entries = append(q.entries, queueEntry{
		owner:       owner,
		transaction: txn,
		destroyed:   destroyed,
		identity:    identity,
		stateless:   stateless,
		call:        call,
	})
	return txn
}

// unqueueLocked drops every pending entry belonging to owner, used when an
// event is destroyed or explicitly asks to cancel its own pending async
// deliveries. Assumes eventMu held.
func (q *AsyncEventQueue) unqueueLocked(owner any) {
	kept := q.entries[:0]
	for _, e := range q.entries {
		if e.owner != owner {
			kept = append(kept, e)
		}
	}
	q.entries = kept
}

// Exec drains one batch of pending deliveries: the entries present at
// entry time, snapshotted so deliveries posted reentrantly by a handler
// invoked during this drain are left for the next Exec call (or, if that
// handler itself calls Exec reentrantly, drained by that nested call
// instead) — the "publish nesting" rule from spec.md §4.4/§4.5. eventMu
// is released around each handler invocation and reacquired before the
// next. Returns true if any entry was actually delivered.
func (q *AsyncEventQueue) Exec() bool {
	eventMu.Lock()
	defer eventMu.Unlock()
	return q.execLocked()
}

func (q *AsyncEventQueue) execLocked() bool {
	if q.terminated || len(q.entries) == 0 {
		return false
	}
	cache := q.entries
	q.entries = nil
	worked := false
	for _, entry := range cache {
		if q.terminated {
			break
		}
		if entry.destroyed.Destroyed() {
			continue
		}
		worked = true
		eventMu.Unlock()
		runProtected(entry.call)
		eventMu.Lock()
	}
	return worked
}

// runProtected invokes call, recovering a panic so one misbehaving async
// handler does not take down the draining goroutine or poison the
// remaining batch.
func runProtected(call func()) {
	defer func() {
		recover()
	}()
	call()
}

// Terminate marks the queue as no longer accepting or draining
// deliveries, and drops whatever is currently pending. Idempotent.
func (q *AsyncEventQueue) Terminate() {
	eventMu.Lock()
	defer eventMu.Unlock()
	q.terminated = true
	q.entries = nil
}

// Close terminates the queue, unregisters it from QueueFor's registry,
// and flips its destroyed flag so handlers bound to it are dropped
// rather than delivered. The owner must call this once it stops draining
// (e.g. on loop shutdown); afterwards QueueFor(key) mints a fresh queue.
func (q *AsyncEventQueue) Close() {
	if !q.done.CompareAndSwap(false, true) {
		return
	}
	q.Terminate()
	q.lt.SetDestroying()
	queues.Delete(q.key)
}
