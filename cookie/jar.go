// Package cookie implements the small monotonic-identifier allocator used
// to name event subscriptions. A Jar hands out Cookies and tracks a weak
// reference count per cookie so the owning container (an event's handler
// list) can know when the last observer of a subscription has let go.
package cookie

import "sync/atomic"

// Cookie is a monotonically increasing, non-zero identifier. Zero is
// reserved as "no cookie".
type Cookie uint64

// Jar allocates cookies for a single owner (one Jar per event instance).
// The zero value is ready to use.
type Jar struct {
	next atomic.Uint64
}

// Next allocates the next cookie. Never returns zero, never repeats
// within the Jar's lifetime.
func (j *Jar) Next() Cookie {
	return Cookie(j.next.Add(1))
}

// RefCounts tracks a weak reference count per cookie on behalf of an
// owning container. It does not store the referenced value itself —
// callers keep that in their own handler list, keyed by Cookie — this
// type only answers "is anyone still holding cookie C".
type RefCounts struct {
	counts map[Cookie]uint32
}

// NewRefCounts constructs an empty RefCounts table.
func NewRefCounts() *RefCounts {
	return &RefCounts{counts: make(map[Cookie]uint32)}
}

// AddRef increments the reference count for id, registering it at 1 if
// this is the first reference.
func (r *RefCounts) AddRef(id Cookie) uint32 {
	r.counts[id]++
	return r.counts[id]
}

// Release decrements the reference count for id and returns the count
// after decrementing. A return of zero means the last reference was
// released and the caller should drop whatever it keyed by id.
func (r *RefCounts) Release(id Cookie) uint32 {
	n, ok := r.counts[id]
	if !ok || n == 0 {
		return 0
	}
	n--
	if n == 0 {
		delete(r.counts, id)
		return 0
	}
	r.counts[id] = n
	return n
}

// UseCount returns the current reference count for id, or zero if id is
// unknown.
func (r *RefCounts) UseCount(id Cookie) uint32 {
	return r.counts[id]
}

// Forget removes id from the table outright, regardless of its current
// count. Used when a handler is erased directly (e.g. by client-id bulk
// unsubscribe) rather than through handle-refcount decay.
func (r *RefCounts) Forget(id Cookie) {
	delete(r.counts, id)
}
