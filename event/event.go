// Package event implements a typed, thread-safe publish/subscribe event
// system with per-queue asynchronous delivery: spec.md's Event System.
// Grounded in original_source/include/neolib/task/event.hpp
// (event_handle, event_control, event_callback, async_event_queue,
// event<Args...>, sink), re-expressed with Go generics standing in for
// the original's Args... parameter pack.
package event

import (
	"reflect"
	"sort"

	"github.com/madebr/neolib/cookie"
	"github.com/madebr/neolib/lifetime"
)

// TriggerType selects how Trigger delivers to each subscriber, matching
// spec.md §4.4's four modes plus Default (resolved per-handler at
// trigger time from SameThread()/the handler's bound queue).
type TriggerType int

const (
	// Default lets each handler's own binding decide: inline if
	// SameThread() was set or its queue is the triggering queue,
	// otherwise posted to its bound AsyncEventQueue.
	Default TriggerType = iota
	// Synchronous is Default's per-handler inline-vs-post decision under
	// an explicit name — the original calls the identical sync_trigger
	// for both (event.hpp:462-473).
	Synchronous
	// SynchronousDontQueue is Synchronous, but first drops this event's
	// outstanding queued backlog (see unqueueAllLocked) before
	// dispatching.
	SynchronousDontQueue
	// Asynchronous forces every handler to be posted to its bound queue
	// (or the emitter's, if SameThread), never run inline regardless of
	// binding.
	Asynchronous
	// AsynchronousDontQueue is Asynchronous, but first drops this
	// event's outstanding queued backlog before dispatching.
	AsynchronousDontQueue
)

// Callback is the shape of a subscribed handler. T is the idiomatic Go
// rendering of the original's Args... pack: callers define one struct
// type per event carrying whatever payload it needs.
type Callback[T any] func(T)

type handlerRecord[T any] struct {
	id                  cookie.Cookie
	queue               *AsyncEventQueue
	queueDestroyed      lifetime.DestroyedFlag
	clientID            any
	callable            Callback[T]
	sameThreadAsEmitter bool
	stateless           bool

	// triggerID caches the last per-event trigger generation this handler
	// was dispatched under, so a dispatch loop restarted mid-scan (because
	// Subscribe/Unsubscribe mutated the list) never invokes it twice for
	// the same trigger (spec.md §4.4 step 5, §3 Event Instance invariant
	// iii; original_source/include/neolib/task/event.hpp:501-538).
	triggerID uint64
}

// acceptContext is pushed onto the event's acceptance-context stack for
// the duration of one Trigger/SyncTrigger call, letting a handler call
// Accept or Ignore to short-circuit the remaining handler list (spec.md
// §4.4, "acceptance-context stack for sync-trigger short-circuiting").
type acceptContext struct {
	accepted bool
}

// Event is a typed, many-subscriber event. The zero value is ready to
// use: instance state (handler list, acceptance stack) is allocated
// lazily on first Subscribe/Trigger under eventMu, matching the
// original's lazily-constructed instance_data.
type Event[T any] struct {
	lt      lifetime.Lifetime
	jar     cookie.Jar
	refs    *cookie.RefCounts
	control *controlBlock

	ignoreErrors bool
	triggerType  TriggerType
	handlers     []handlerRecord[T]
	contexts     []*acceptContext
	triggering   bool

	// triggerID is a monotonically increasing per-event generation
	// counter, bumped once per dispatch call (sync or async) and compared against
	// each handlerRecord's cached triggerID (spec.md §4.4 step 4-5).
	// Unlike the original's reset-to-zero-when-not-triggering dance
	// (event.hpp:501-507), this never resets: a strictly increasing
	// counter makes "already dispatched this trigger" equivalent to
	// "handler's cached id equals the current one" without needing to
	// re-zero every handler's cache between outermost triggers.
	triggerID uint64
	// handlersChanged is set by Subscribe/UnsubscribeClient/releaseCookie
	// whenever they mutate handlers while triggering is true, telling the
	// active dispatch loop to restart its scan from index 0 (spec.md §4.4
	// step 5 "restart from index 0"; event.hpp's invalidate_handler_list).
	handlersChanged bool

	filterOwner struct{} // distinct identity per Event for filterRegistry keys
}

func (e *Event[T]) ensureControl() *controlBlock {
	if e.control == nil {
		e.control = newControlBlock(e)
	}
	return e.control
}

func (e *Event[T]) ensureRefs() *cookie.RefCounts {
	if e.refs == nil {
		e.refs = cookie.NewRefCounts()
	}
	return e.refs
}

// SetTriggerType overrides the per-trigger-mode resolution for every
// future Trigger call on this event (spec.md §4.4).
func (e *Event[T]) SetTriggerType(tt TriggerType) {
	eventMu.Lock()
	defer eventMu.Unlock()
	e.triggerType = tt
}

// IgnoreErrors suppresses propagation of a handler panic out of
// SyncTrigger, recovering it and continuing the handler list instead (spec.md
// §7). Async deliveries already always recover and continue regardless.
func (e *Event[T]) IgnoreErrors() {
	eventMu.Lock()
	defer eventMu.Unlock()
	e.ignoreErrors = true
}

// Subscribe registers callable under clientID, to be invoked on owner's
// AsyncEventQueue unless the returned Handle is marked SameThread (run
// inline instead) via Handle.SameThread, or the event's trigger mode
// forces one behavior for every handler. owner is the Go-native stand-in
// for "the calling thread's queue" from the original — there is no
// implicit per-goroutine identity to infer it from (spec.md §4.5).
func (e *Event[T]) Subscribe(owner QueueKey, callable Callback[T], clientID any) *Handle {
	queue := QueueFor(owner)
	eventMu.Lock()
	defer eventMu.Unlock()
	if e.lt.Destroying() {
		// Event already closed: hand back an inert handle rather than
		// resurrecting it with a fresh control block.
		dead := newControlBlock(e)
		dead.release()
		return newHandle(dead, 0)
	}
	id := e.jar.Next()
	e.handlers = append(e.handlers, handlerRecord[T]{
		id:             id,
		queue:          queue,
		queueDestroyed: queue.Watch(),
		clientID:       clientID,
		callable:       callable,
	})
	if e.triggering {
		e.handlersChanged = true
	}
	e.ensureRefs().AddRef(id)
	return newHandle(e.ensureControl(), id)
}

// Unsubscribe removes the handler identified by h; it is exactly
// h.Close(). Calling it again on the same Handle returns nil; a different
// Handle whose cookie has already been removed gets ErrHandlerNotFound.
func (e *Event[T]) Unsubscribe(h *Handle) error {
	return h.Close()
}

// UnsubscribeClient removes every handler registered with the given
// clientID in one pass, the bulk-unsubscribe idiom for an object that
// subscribed several callbacks under its own identity instead of
// tracking individual Handles (spec.md §3, "Cookie Jar").
func (e *Event[T]) UnsubscribeClient(clientID any) int {
	eventMu.Lock()
	defer eventMu.Unlock()
	kept := e.handlers[:0]
	removed := 0
	for _, h := range e.handlers {
		if h.clientID == clientID {
			removed++
			if e.refs != nil {
				e.refs.Forget(h.id)
			}
			continue
		}
		kept = append(kept, h)
	}
	e.handlers = kept
	if removed > 0 && e.triggering {
		e.handlersChanged = true
	}
	return removed
}

// HasSubscribers reports whether any handler is currently registered.
// A read-only probe, natural given Go callers can't peek at a private
// vector (SPEC_FULL.md, "Supplemented features").
func (e *Event[T]) HasSubscribers() bool {
	eventMu.Lock()
	defer eventMu.Unlock()
	return len(e.handlers) > 0
}

// AddPreFilter installs fn to run, against owner's queue, before every
// AddFilter filter and every subscriber on a Trigger of this event — the
// very first look at the trigger, ahead of anything installed via
// AddFilter (spec.md §4.5, filter registry).
func (e *Event[T]) AddPreFilter(owner QueueKey, fn func(*Event[T])) {
	queue := QueueFor(owner)
	eventMu.Lock()
	defer eventMu.Unlock()
	queue.flt.installPre(&e.filterOwner, func() { fn(e) })
}

// AddFilter installs fn to run, against owner's queue, before every
// subscriber on a Trigger of this event; fn may call Accept/Ignore on e
// to influence the remaining dispatch (spec.md §4.5, filter registry).
func (e *Event[T]) AddFilter(owner QueueKey, fn func(*Event[T])) {
	queue := QueueFor(owner)
	eventMu.Lock()
	defer eventMu.Unlock()
	queue.flt.install(&e.filterOwner, func() { fn(e) })
}

// RemoveFilters removes every filter installed against owner's queue for
// this event.
func (e *Event[T]) RemoveFilters(owner QueueKey) {
	queue := QueueFor(owner)
	eventMu.Lock()
	defer eventMu.Unlock()
	queue.flt.uninstall(&e.filterOwner)
}

// Accept marks the current Trigger/SyncTrigger dispatch as handled,
// stopping delivery to any handler after the one calling Accept and
// making that dispatch return false. Only meaningful called from within a
// handler or filter callback. Takes eventMu itself, mirroring
// event.hpp's accept()/ignore() (original_source §event.hpp:579-588):
// dispatch always releases eventMu around inline handler/filter
// callouts, so two goroutines may call Accept concurrently against the
// same event.
func (e *Event[T]) Accept() {
	eventMu.Lock()
	defer eventMu.Unlock()
	if n := len(e.contexts); n > 0 {
		e.contexts[n-1].accepted = true
	}
}

// Ignore is the counterpart to Accept: it clears the accepted mark on the
// current Trigger/SyncTrigger dispatch, so delivery continues to the
// remaining handlers and that dispatch returns true unless Accept is
// called again. Takes eventMu, like Accept.
func (e *Event[T]) Ignore() {
	eventMu.Lock()
	defer eventMu.Unlock()
	if n := len(e.contexts); n > 0 {
		e.contexts[n-1].accepted = false
	}
}

// Trigger dispatches args to every current subscriber under the event's
// configured TriggerType (Default unless SetTriggerType was called). It
// is the general entry point; SyncTrigger and AsyncTrigger bypass the
// per-event setting to force one mode outright. Returns true unless a
// filter or handler called Accept, in which case it returns false —
// including the zero-handlers-and-zero-filters case, which always
// returns true (spec.md §4.4, §8).
func (e *Event[T]) Trigger(owner QueueKey, args T) bool {
	return e.dispatch(owner, args, e.triggerType)
}

// SyncTrigger dispatches args synchronously: per handler, inline if
// SameThread() was set or its queue is owner's queue, otherwise posted —
// the same per-handler decision as Trigger under Default, just without
// requiring SetTriggerType first. Runs filters and the acceptance
// context; returns once every handler (or every one up to the one that
// called Accept) has been run inline or posted.
func (e *Event[T]) SyncTrigger(owner QueueKey, args T) bool {
	return e.dispatch(owner, args, Synchronous)
}

// AsyncTrigger posts args to every handler's bound queue (or owner's own
// queue, for a SameThread handler) for later draining via
// AsyncEventQueue.Exec, never running a handler inline. Skips the filter
// registry and acceptance context entirely, so there is no Accept result
// to report and it returns nothing.
func (e *Event[T]) AsyncTrigger(owner QueueKey, args T) {
	e.dispatch(owner, args, Asynchronous)
}

// dispatch holds eventMu for bookkeeping and releases it around every
// inline filter and handler invocation, since either may call back into
// Accept/Ignore (which themselves take eventMu) or trigger other events.
// A handler panic (when IgnoreErrors was not set) unwinds straight out of
// this function and SyncTrigger/Trigger above it; the deferred cleanup
// below still restores the lock and pops the acceptance context before
// letting that panic continue, so an unhandled handler error never
// leaves eventMu held or the context stack unbalanced (spec.md §7).
//
// Default, Synchronous and SynchronousDontQueue all run the sync
// algorithm below (filters, acceptance context, per-handler inline/post
// decision); Asynchronous and AsynchronousDontQueue run the async mirror,
// which never touches the filter registry or the acceptance-context
// stack and always posts (spec.md §4.4 "Async dispatch mirrors steps
// 4-5 with no acceptance-context"; original_source/include/neolib/
// task/event.hpp:462-473 sync_trigger vs. 540-573 async_trigger share no
// code path). The two *DontQueue variants additionally drop this
// event's outstanding queued backlog before dispatching (event.hpp:480,
// 545; spec.md §4.5 unqueue(event)).
func (e *Event[T]) dispatch(owner QueueKey, args T, mode TriggerType) bool {
	emitterQueue := QueueFor(owner)
	sync := mode == Default || mode == Synchronous || mode == SynchronousDontQueue

	eventMu.Lock()

	if mode == SynchronousDontQueue || mode == AsynchronousDontQueue {
		e.unqueueAllLocked()
	}

	if !sync {
		e.asyncDispatchLocked(emitterQueue, args)
		eventMu.Unlock()
		return true
	}

	if len(e.contexts) >= maxTriggerDepth {
		eventMu.Unlock()
		panic(ErrTooDeep)
	}

	preFilters := emitterQueue.flt.preSnapshot(&e.filterOwner)
	mainFilters := emitterQueue.flt.mainSnapshot(&e.filterOwner)
	if len(e.handlers) == 0 && len(preFilters) == 0 && len(mainFilters) == 0 {
		eventMu.Unlock()
		return true
	}

	ctx := &acceptContext{}
	e.contexts = append(e.contexts, ctx)
	e.triggering = true

	locked := true
	defer func() {
		if !locked {
			eventMu.Lock()
		}
		e.contexts = e.contexts[:len(e.contexts)-1]
		e.triggering = len(e.contexts) > 0
		eventMu.Unlock()
	}()

	eventMu.Unlock()
	locked = false
	for _, fn := range preFilters {
		fn()
	}
	for _, fn := range mainFilters {
		fn()
	}
	eventMu.Lock()
	locked = true

	if ctx.accepted {
		return false
	}

	e.triggerID++
	triggerID := e.triggerID

	var txn transactionID

	for i := 0; i < len(e.handlers); {
		h := e.handlers[i]
		if h.triggerID == triggerID {
			// Already dispatched to under this trigger (visited before a
			// mid-loop restart); never call it twice.
			i++
			continue
		}
		e.handlers[i].triggerID = triggerID
		i++

		if h.queueDestroyed.Destroyed() {
			if e.handlersChanged {
				e.handlersChanged = false
				i = 0
			}
			continue
		}

		inline, post := resolveDispatch(mode, h, emitterQueue)
		if inline {
			eventMu.Unlock()
			locked = false
			e.runHandlerProtected(h, args)
			eventMu.Lock()
			locked = true
		} else if post {
			identity := handlerIdentity(h.callable)
			call := func() { h.callable(args) }
			t := h.queue.enqueueLocked(e, call, identity, h.stateless, e.lt.Watch(), &txn)
			if t != 0 {
				txn = t
			}
		}

		if e.lt.Destroying() {
			return true
		}
		if ctx.accepted {
			return false
		}
		if e.handlersChanged {
			e.handlersChanged = false
			i = 0
		}
	}

	return true
}

// asyncDispatchLocked implements the async mirror of the sync algorithm
// above: every live handler is posted to its bound queue (never run
// inline, regardless of SameThread), with the same restart-on-mutation
// scan and per-handler triggerID stamping, but no filters and no
// acceptance context (spec.md §4.4; original_source/include/neolib/
// task/event.hpp:540-573). Assumes eventMu held; never releases it,
// since posting never calls back into user code.
func (e *Event[T]) asyncDispatchLocked(emitterQueue *AsyncEventQueue, args T) {
	e.triggerID++
	triggerID := e.triggerID

	var txn transactionID
	for i := 0; i < len(e.handlers); {
		h := e.handlers[i]
		if h.triggerID == triggerID {
			i++
			continue
		}
		e.handlers[i].triggerID = triggerID
		i++

		if h.queueDestroyed.Destroyed() {
			if e.handlersChanged {
				e.handlersChanged = false
				i = 0
			}
			continue
		}

		identity := handlerIdentity(h.callable)
		call := func() { h.callable(args) }
		target := h.queue
		if h.sameThreadAsEmitter {
			target = emitterQueue
		}
		t := target.enqueueLocked(e, call, identity, h.stateless, e.lt.Watch(), &txn)
		if t != 0 {
			txn = t
		}

		if e.lt.Destroying() {
			return
		}
		if e.handlersChanged {
			e.handlersChanged = false
			i = 0
		}
	}
}

// resolveDispatch decides, for one handler under one sync trigger mode,
// whether to run it inline (without eventMu) or post it to its bound
// queue. Default, Synchronous, and SynchronousDontQueue share this exact
// decision — the original calls the identical enqueue(..., aAsync=false,
// ...) for all three, the only difference among them being the
// unqueue-before-dispatch call made earlier in dispatch for
// SynchronousDontQueue (spec.md §4.4's trigger-mode table;
// original_source/include/neolib/task/event.hpp:462-473,701-727). Only
// called for sync modes; asyncDispatchLocked handles Asynchronous and
// AsynchronousDontQueue directly, since those never inline regardless of
// binding.
func resolveDispatch[T any](mode TriggerType, h handlerRecord[T], emitter *AsyncEventQueue) (inline, post bool) {
	if h.sameThreadAsEmitter || h.queue == emitter {
		return true, false
	}
	return false, true
}

// runHandlerProtected invokes one handler inline. Without IgnoreErrors a
// panic propagates to the caller; with IgnoreErrors the panic is
// recovered and swallowed and dispatch continues to the next handler (spec.md
// §7: "panic propagation out of SyncTrigger after context pop vs.
// recover-and-continue").
func (e *Event[T]) runHandlerProtected(h handlerRecord[T], args T) {
	if !e.ignoreErrors {
		h.callable(args)
		return
	}
	defer func() { recover() }()
	h.callable(args)
}

func handlerIdentity(fn any) any {
	return reflect.ValueOf(fn).Pointer()
}

// Close detaches this event from its control block: existing Handles
// become inert (Valid reports false, Close becomes a no-op) and every
// queued async delivery referencing this event is dropped on the next
// Exec of its target queue via the destroyed flag. Go's GC reclaims the
// handler slice itself; Close exists for the control-block invalidation,
// not memory reclamation.
func (e *Event[T]) Close() {
	eventMu.Lock()
	defer eventMu.Unlock()
	e.lt.SetDestroying()
	if e.control != nil {
		e.control.release()
	}
	e.unqueueAllLocked()
	e.handlers = nil
}

// unqueueAllLocked drops every pending async delivery belonging to this
// event across every distinct queue its current handlers are bound to,
// grounding the original's free-standing unqueue_event(const i_event&)
// (declared but never defined in the retrieved original_source tree;
// its three call sites — event.hpp:480, 545, 729-737 — are Close() and
// the two *DontQueue trigger modes dropping an event's own backlog
// before dispatching, spec.md §4.5 "unqueue(event)"). Assumes eventMu
// held.
func (e *Event[T]) unqueueAllLocked() {
	seen := make(map[*AsyncEventQueue]bool, len(e.handlers))
	for _, h := range e.handlers {
		if !seen[h.queue] {
			seen[h.queue] = true
			h.queue.unqueueLocked(e)
		}
	}
}

func (e *Event[T]) markSameThreadAsEmitter(id cookie.Cookie) {
	eventMu.Lock()
	defer eventMu.Unlock()
	if i := e.findLocked(id); i >= 0 {
		e.handlers[i].sameThreadAsEmitter = true
	}
}

func (e *Event[T]) markStateless(id cookie.Cookie) {
	eventMu.Lock()
	defer eventMu.Unlock()
	if i := e.findLocked(id); i >= 0 {
		e.handlers[i].stateless = true
	}
}

// addRefCookie records an additional live reference to id (a Handle was
// cloned). Assumes the caller holds one already-valid reference, so a
// missing entry here would be a bug in the Handle plumbing, not a normal
// runtime condition — there is nothing sensible to do but ignore it.
func (e *Event[T]) addRefCookie(id cookie.Cookie) {
	eventMu.Lock()
	defer eventMu.Unlock()
	if e.refs != nil {
		e.refs.AddRef(id)
	}
}

// releaseCookie drops one reference to id; once the count reaches zero
// (every Handle sharing this cookie has closed) the handler is actually
// removed from the dispatch list.
func (e *Event[T]) releaseCookie(id cookie.Cookie) error {
	eventMu.Lock()
	defer eventMu.Unlock()
	if e.refs == nil || e.refs.UseCount(id) == 0 {
		return ErrHandlerNotFound
	}
	if e.refs.Release(id) > 0 {
		return nil
	}
	i := e.findLocked(id)
	if i < 0 {
		return ErrHandlerNotFound
	}
	e.handlers = append(e.handlers[:i], e.handlers[i+1:]...)
	if e.triggering {
		e.handlersChanged = true
	}
	return nil
}

// findLocked returns the index of the handler with the given id, or -1.
// Handlers are appended in strictly increasing id order and only ever
// removed (never reordered), so the slice stays sorted and binary search
// applies.
func (e *Event[T]) findLocked(id cookie.Cookie) int {
	i := sort.Search(len(e.handlers), func(i int) bool { return e.handlers[i].id >= id })
	if i < len(e.handlers) && e.handlers[i].id == id {
		return i
	}
	return -1
}
