package event

import (
	"sync/atomic"

	"github.com/madebr/neolib/cookie"
)

// eventAPI is the non-generic surface a Handle needs from its owning
// Event[T], mirroring the original's type-erased i_event interface: every
// Event[T] instantiation implements it the same way, letting one
// controlBlock type serve Handles for any T.
type eventAPI interface {
	markSameThreadAsEmitter(id cookie.Cookie)
	markStateless(id cookie.Cookie)
	addRefCookie(id cookie.Cookie)
	releaseCookie(id cookie.Cookie) error
}

// controlBlock is shared state, one per Event[T], bridging every Handle
// issued for that event (which may outlive, or be dropped before, the
// event it points at) to the event itself. Go's garbage collector retires
// the memory; the only thing controlBlock needs to track is validity, so
// unlike the original event_control it carries no reference count, only
// the atomic event pointer — accessed without eventMu held, since Handle
// Clone/Close must work even while some other goroutine is mid Trigger
// (spec.md §3, "Event Control Block").
type controlBlock struct {
	api atomic.Pointer[eventAPIBox]
}

type eventAPIBox struct{ api eventAPI }

func newControlBlock(api eventAPI) *controlBlock {
	c := &controlBlock{}
	c.api.Store(&eventAPIBox{api: api})
	return c
}

func (c *controlBlock) get() (eventAPI, bool) {
	b := c.api.Load()
	if b == nil {
		return nil, false
	}
	return b.api, true
}

// release severs the control block from its event; existing Handles
// become inert (Close becomes a no-op past this point) rather than
// panicking, matching event_control::release(). Called by the owning
// Event's Close (and by Subscribe on the inert block it hands out for an
// already-closed event), never by Handle.Close.
func (c *controlBlock) release() { c.api.Store(nil) }

// Handle is one reference to a subscription, backed by the owning
// event's cookie.RefCounts (spec.md §3, "Cookie Jar": "monotonic
// non-zero subscription identifiers plus per-cookie weak reference
// counts"). Go has no destructors, so a Handle must be closed explicitly
// — callers are expected to `defer h.Close()` (spec.md §4.6). Every
// Handle sharing a cookie — the one Subscribe returned and every Clone
// of it — holds an equal vote; the handler is actually unsubscribed only
// once the last of them closes.
type Handle struct {
	control *controlBlock
	id      cookie.Cookie
	closed  atomic.Bool
}

func newHandle(control *controlBlock, id cookie.Cookie) *Handle {
	return &Handle{control: control, id: id}
}

// Clone returns an additional, independently closeable reference to the
// same subscription, incrementing its weak reference count. Mirrors
// event_handle's copy constructor.
func (h *Handle) Clone() *Handle {
	if api, ok := h.control.get(); ok {
		api.addRefCookie(h.id)
	}
	return newHandle(h.control, h.id)
}

// SameThread marks the subscribed handler as running on the same logical
// queue as whatever goroutine triggers the event, so SyncTrigger, and
// Trigger in a sync mode, invoke it inline instead of posting it to its
// bound AsyncEventQueue; the asynchronous modes post it to the emitter's
// queue (spec.md §4.4 trigger-mode table). Returns h for
// chaining after Subscribe.
func (h *Handle) SameThread() *Handle {
	if api, ok := h.control.get(); ok {
		api.markSameThreadAsEmitter(h.id)
	}
	return h
}

// Stateless marks the subscribed handler as safe to coalesce: a new
// delivery for it replaces its own undelivered entry at the tail of the
// target queue, even one posted by an earlier trigger, so repeated
// triggers collapse to the latest instead of accumulating (spec.md §4.4,
// "stateless-handler dedup").
func (h *Handle) Stateless() *Handle {
	if api, ok := h.control.get(); ok {
		api.markStateless(h.id)
	}
	return h
}

// Valid reports whether the owning event is still alive.
func (h *Handle) Valid() bool {
	_, ok := h.control.get()
	return ok
}

// Close releases this handle's reference; the handler is unsubscribed
// only once every Handle sharing its cookie (the original plus every
// Clone) has closed. Idempotent; safe to call on an already-invalid
// handle.
func (h *Handle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	if api, ok := h.control.get(); ok {
		return api.releaseCookie(h.id)
	}
	return nil
}

// Sink collects Handles and closes them together, the idiomatic
// replacement for the original's sink RAII aggregate (spec.md §4.6):
// embed one in a long-lived object, Add every subscription made on its
// behalf, and defer sink.Close() once instead of tracking each handle.
type Sink struct {
	handles []*Handle
}

// Add appends h to the sink, returning h for chaining directly off
// Subscribe.
func (s *Sink) Add(h *Handle) *Handle {
	s.handles = append(s.handles, h)
	return h
}

// Close closes every handle added so far, in reverse subscription order,
// and clears the sink so it can be reused.
func (s *Sink) Close() {
	for i := len(s.handles) - 1; i >= 0; i-- {
		s.handles[i].Close()
	}
	s.handles = nil
}
