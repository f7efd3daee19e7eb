package event

import (
	"errors"
	"testing"
)

type clickArgs struct {
	X, Y int
}

func TestSubscribeTriggerOrder(t *testing.T) {
	var e Event[clickArgs]
	owner := new(int)

	var order []int
	h1 := e.Subscribe(owner, func(clickArgs) { order = append(order, 1) }, nil)
	h2 := e.Subscribe(owner, func(clickArgs) { order = append(order, 2) }, nil)
	defer h1.Close()
	defer h2.Close()

	if !e.SyncTrigger(owner, clickArgs{1, 2}) {
		t.Fatal("expected SyncTrigger to return true when nothing called Accept")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("handlers ran out of subscription order: %v", order)
	}
}

func TestAcceptStopsRemainingHandlers(t *testing.T) {
	var e Event[clickArgs]
	owner := new(int)

	var ran []int
	h1 := e.Subscribe(owner, func(clickArgs) {
		ran = append(ran, 1)
		e.Accept()
	}, nil)
	h2 := e.Subscribe(owner, func(clickArgs) { ran = append(ran, 2) }, nil)
	defer h1.Close()
	defer h2.Close()

	if e.SyncTrigger(owner, clickArgs{}) {
		t.Fatal("expected SyncTrigger to return false once a handler called Accept")
	}
	if len(ran) != 1 || ran[0] != 1 {
		t.Fatalf("expected only the accepting handler to run, got %v", ran)
	}
}

func TestUnsubscribeRemovesHandler(t *testing.T) {
	var e Event[clickArgs]
	owner := new(int)

	ran := false
	h := e.Subscribe(owner, func(clickArgs) { ran = true }, nil)
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := e.Unsubscribe(h); err != nil {
		// Closing twice is a no-op, not an error.
		t.Fatalf("second Close returned error: %v", err)
	}

	e.SyncTrigger(owner, clickArgs{})
	if ran {
		t.Fatal("unsubscribed handler still ran")
	}
}

func TestUnsubscribeClientBulk(t *testing.T) {
	var e Event[clickArgs]
	owner := new(int)
	client := new(struct{})

	count := 0
	e.Subscribe(owner, func(clickArgs) { count++ }, client)
	e.Subscribe(owner, func(clickArgs) { count++ }, client)
	e.Subscribe(owner, func(clickArgs) { count++ }, "other")

	removed := e.UnsubscribeClient(client)
	if removed != 2 {
		t.Fatalf("UnsubscribeClient removed %d, want 2", removed)
	}

	e.SyncTrigger(owner, clickArgs{})
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}

func TestAsyncTriggerRequiresExec(t *testing.T) {
	var e Event[clickArgs]
	consumer := new(int)

	got := clickArgs{}
	h := e.Subscribe(consumer, func(a clickArgs) { got = a }, nil)
	defer h.Close()

	e.AsyncTrigger(new(int), clickArgs{X: 5, Y: 6})
	if got.X != 0 {
		t.Fatal("async handler ran before Exec")
	}

	q := QueueFor(consumer)
	if !q.Exec() {
		t.Fatal("Exec reported no work")
	}
	if got.X != 5 || got.Y != 6 {
		t.Fatalf("got = %+v, want {5 6}", got)
	}
}

func TestSameThreadRunsInline(t *testing.T) {
	var e Event[clickArgs]
	owner := new(int)

	ran := false
	h := e.Subscribe(owner, func(clickArgs) { ran = true }, nil)
	h.SameThread()
	defer h.Close()

	// Trigger from a different owner than the handler's own queue: it
	// still runs inline because SameThread forces it, never posted.
	e.Trigger(new(int), clickArgs{})
	if !ran {
		t.Fatal("SameThread handler was posted instead of run inline")
	}
}

func TestStatelessCoalescesAcrossTriggers(t *testing.T) {
	var e Event[clickArgs]
	consumer := new(int)

	var seen []clickArgs
	h := e.Subscribe(consumer, func(a clickArgs) { seen = append(seen, a) }, nil)
	h.Stateless()
	defer h.Close()

	emitter := new(int)
	e.AsyncTrigger(emitter, clickArgs{X: 1})
	e.AsyncTrigger(emitter, clickArgs{X: 2})
	e.AsyncTrigger(emitter, clickArgs{X: 3})

	q := QueueFor(consumer)
	q.Exec()

	if len(seen) != 1 || seen[0].X != 3 {
		t.Fatalf("seen = %v, want a single delivery carrying X=3", seen)
	}
}

func TestQueueCloseDropsPendingDelivery(t *testing.T) {
	var e Event[clickArgs]
	consumer := new(int)

	ran := false
	h := e.Subscribe(consumer, func(clickArgs) { ran = true }, nil)
	defer h.Close()

	e.AsyncTrigger(new(int), clickArgs{})

	q := QueueFor(consumer)
	q.Close()
	q.Exec()
	if ran {
		t.Fatal("handler ran after its queue was closed")
	}
}

func TestEventCloseInvalidatesHandles(t *testing.T) {
	var e Event[clickArgs]
	owner := new(int)

	h := e.Subscribe(owner, func(clickArgs) {}, nil)
	if !h.Valid() {
		t.Fatal("fresh handle reported invalid")
	}
	e.Close()
	if h.Valid() {
		t.Fatal("handle still valid after event Close")
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close on an already-detached handle returned error: %v", err)
	}
}

func TestIgnoreErrorsRecoversPanic(t *testing.T) {
	var e Event[clickArgs]
	owner := new(int)
	e.IgnoreErrors()

	second := false
	h1 := e.Subscribe(owner, func(clickArgs) { panic("boom") }, nil)
	h2 := e.Subscribe(owner, func(clickArgs) { second = true }, nil)
	defer h1.Close()
	defer h2.Close()

	e.SyncTrigger(owner, clickArgs{})
	if !second {
		t.Fatal("handler after a panicking one did not run despite IgnoreErrors")
	}
}

func TestSetSingleThreaded(t *testing.T) {
	SetSingleThreaded(true)
	defer SetSingleThreaded(false)

	var e Event[clickArgs]
	owner := new(int)
	ran := false
	h := e.Subscribe(owner, func(clickArgs) { ran = true }, nil)
	defer h.Close()

	e.SyncTrigger(owner, clickArgs{})
	if !ran {
		t.Fatal("handler did not run with the no-op mutex installed")
	}
}

func TestSinkClosesAllHandles(t *testing.T) {
	var e Event[clickArgs]
	owner := new(int)
	var s Sink

	count := 0
	s.Add(e.Subscribe(owner, func(clickArgs) { count++ }, nil))
	s.Add(e.Subscribe(owner, func(clickArgs) { count++ }, nil))

	s.Close()
	e.SyncTrigger(owner, clickArgs{})
	if count != 0 {
		t.Fatalf("count = %d after Sink.Close, want 0", count)
	}
}

func TestCloneKeepsHandlerUntilLastClose(t *testing.T) {
	var e Event[clickArgs]
	owner := new(int)

	count := 0
	h1 := e.Subscribe(owner, func(clickArgs) { count++ }, nil)
	h2 := h1.Clone()

	if err := h1.Close(); err != nil {
		t.Fatalf("Close h1: %v", err)
	}
	e.SyncTrigger(owner, clickArgs{})
	if count != 1 {
		t.Fatalf("count = %d after closing one of two clones, want 1 (handler still live)", count)
	}

	if err := h2.Close(); err != nil {
		t.Fatalf("Close h2: %v", err)
	}
	e.SyncTrigger(owner, clickArgs{})
	if count != 1 {
		t.Fatalf("count = %d after closing the last clone, want 1 (handler removed)", count)
	}
}

func TestTriggerWithNoHandlersOrFiltersReturnsTrue(t *testing.T) {
	var e Event[clickArgs]
	owner := new(int)

	if !e.SyncTrigger(owner, clickArgs{}) {
		t.Fatal("SyncTrigger with zero handlers and no filters must return true")
	}
	if !e.Trigger(owner, clickArgs{}) {
		t.Fatal("Trigger with zero handlers and no filters must return true")
	}
}

func TestFilterOrderingAndAccept(t *testing.T) {
	var e Event[clickArgs]
	owner := new(int)

	var order []string
	e.AddPreFilter(owner, func(*Event[clickArgs]) { order = append(order, "pre") })
	e.AddFilter(owner, func(*Event[clickArgs]) { order = append(order, "main") })
	h := e.Subscribe(owner, func(clickArgs) { order = append(order, "handler") }, nil)
	defer h.Close()

	e.SyncTrigger(owner, clickArgs{})
	if len(order) != 3 || order[0] != "pre" || order[1] != "main" || order[2] != "handler" {
		t.Fatalf("order = %v, want [pre main handler]", order)
	}
}

func TestFilterAcceptStopsHandlers(t *testing.T) {
	var e Event[clickArgs]
	owner := new(int)

	ran := false
	e.AddFilter(owner, func(ev *Event[clickArgs]) { ev.Accept() })
	h := e.Subscribe(owner, func(clickArgs) { ran = true }, nil)
	defer h.Close()

	if e.SyncTrigger(owner, clickArgs{}) {
		t.Fatal("expected SyncTrigger to return false once a filter called Accept")
	}
	if ran {
		t.Fatal("handler ran after a filter called Accept")
	}
}

func TestRemoveFiltersStopsFutureRuns(t *testing.T) {
	var e Event[clickArgs]
	owner := new(int)

	calls := 0
	e.AddFilter(owner, func(*Event[clickArgs]) { calls++ })
	e.SyncTrigger(owner, clickArgs{})
	e.RemoveFilters(owner)
	e.SyncTrigger(owner, clickArgs{})

	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (filter should not run after RemoveFilters)", calls)
	}
}

func TestReentrantSubscribeAndUnsubscribeDuringDispatch(t *testing.T) {
	var e Event[clickArgs]
	owner := new(int)

	var order []string
	var h3 *Handle
	var h2 *Handle
	h1 := e.Subscribe(owner, func(clickArgs) {
		order = append(order, "h1")
		// Unsubscribe h2, which has not run yet this trigger: it must be
		// skipped once the mutation forces a rescan.
		e.Unsubscribe(h2)
		// Subscribe a brand new handler mid-dispatch: it must still be
		// reached by this same trigger (spec.md §4.4 step 5, §8).
		h3 = e.Subscribe(owner, func(clickArgs) { order = append(order, "h3") }, nil)
	}, nil)
	h2 = e.Subscribe(owner, func(clickArgs) { order = append(order, "h2") }, nil)
	defer h1.Close()
	defer func() {
		if h3 != nil {
			h3.Close()
		}
	}()

	if !e.SyncTrigger(owner, clickArgs{}) {
		t.Fatal("expected SyncTrigger to return true")
	}

	if len(order) != 2 || order[0] != "h1" || order[1] != "h3" {
		t.Fatalf("order = %v, want [h1 h3]: h2 must be skipped (unsubscribed before its turn), h3 must run (subscribed mid-dispatch)", order)
	}
}

func TestReentrantSubscribeDoesNotDoubleDispatchAlreadyRunHandler(t *testing.T) {
	var e Event[clickArgs]
	owner := new(int)

	calls := 0
	h1 := e.Subscribe(owner, func(clickArgs) {
		calls++
		// Subscribing here forces a rescan-from-0; h1 itself must not run
		// twice even though the loop restarts after it already fired.
		e.Subscribe(owner, func(clickArgs) {}, nil)
	}, nil)
	defer h1.Close()

	e.SyncTrigger(owner, clickArgs{})
	if calls != 1 {
		t.Fatalf("h1 ran %d times, want 1 (its own mutation must not cause a double dispatch)", calls)
	}
}

func TestSynchronousModeStillPostsCrossThreadHandlers(t *testing.T) {
	var e Event[clickArgs]
	owner := new(int)
	consumer := new(int)

	ran := false
	h := e.Subscribe(consumer, func(clickArgs) { ran = true }, nil)
	defer h.Close()

	e.SetTriggerType(Synchronous)
	if !e.Trigger(owner, clickArgs{}) {
		t.Fatal("expected Trigger to return true")
	}
	if ran {
		t.Fatal("Synchronous must not force a cross-thread handler inline, only decide per-handler like Default")
	}

	if !QueueFor(consumer).Exec() {
		t.Fatal("Exec reported no work: handler was never posted")
	}
	if !ran {
		t.Fatal("handler never ran after Exec")
	}
}

func TestSynchronousDontQueueDropsBacklogThenDispatches(t *testing.T) {
	var e Event[clickArgs]
	owner := new(int)
	consumer := new(int)

	var seen []int
	h := e.Subscribe(consumer, func(a clickArgs) { seen = append(seen, a.X) }, nil)
	defer h.Close()

	// Queue up a stale delivery that must be dropped, not delivered.
	e.AsyncTrigger(owner, clickArgs{X: 1})

	e.SetTriggerType(SynchronousDontQueue)
	if !e.Trigger(owner, clickArgs{X: 2}) {
		t.Fatal("expected Trigger to return true")
	}

	// The stale X=1 entry must be gone; X=2 was posted fresh by this
	// trigger (cross-thread handler, same per-handler decision as
	// Default/Synchronous).
	if !QueueFor(consumer).Exec() {
		t.Fatal("Exec reported no work: the fresh X=2 delivery was dropped along with the backlog")
	}
	if len(seen) != 1 || seen[0] != 2 {
		t.Fatalf("seen = %v, want exactly [2] (stale X=1 backlog must be dropped)", seen)
	}
}

func TestAsynchronousDontQueueDropsBacklogThenPosts(t *testing.T) {
	var e Event[clickArgs]
	owner := new(int)
	consumer := new(int)

	var seen []int
	h := e.Subscribe(consumer, func(a clickArgs) { seen = append(seen, a.X) }, nil)
	defer h.Close()

	e.AsyncTrigger(owner, clickArgs{X: 1})

	e.SetTriggerType(AsynchronousDontQueue)
	e.Trigger(owner, clickArgs{X: 2})

	if !QueueFor(consumer).Exec() {
		t.Fatal("Exec reported no work")
	}
	if len(seen) != 1 || seen[0] != 2 {
		t.Fatalf("seen = %v, want exactly [2]: the stale X=1 backlog must be dropped, not delivered alongside the fresh one", seen)
	}
}

func TestFilterNotInvokedOnAsyncTrigger(t *testing.T) {
	var e Event[clickArgs]
	owner := new(int)

	calls := 0
	e.AddFilter(owner, func(*Event[clickArgs]) { calls++ })
	h := e.Subscribe(owner, func(clickArgs) {}, nil)
	defer h.Close()

	e.AsyncTrigger(owner, clickArgs{})
	if calls != 0 {
		t.Fatalf("filter ran %d times on AsyncTrigger, want 0: async dispatch must not touch the filter registry", calls)
	}

	QueueFor(owner).Exec()
	e.SyncTrigger(owner, clickArgs{})
	if calls != 1 {
		t.Fatalf("filter ran %d times after a SyncTrigger, want 1", calls)
	}
}

func TestUnsubscribeUnknownHandleIsNotFound(t *testing.T) {
	var e Event[clickArgs]
	owner := new(int)
	h := e.Subscribe(owner, func(clickArgs) {}, nil)
	h.Close()
	// A second, independently-constructed handle for the same (now
	// removed) cookie should report ErrHandlerNotFound, not succeed.
	stale := newHandle(h.control, h.id)
	if err := stale.Close(); !errors.Is(err, ErrHandlerNotFound) {
		t.Fatalf("err = %v, want ErrHandlerNotFound", err)
	}
}
