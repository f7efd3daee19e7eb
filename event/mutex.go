package event

import "sync"

// Mutex is the switchable event-system lock (spec.md §5): a single,
// process-wide lock serializing every Event[T] mutation and every
// AsyncEventQueue drain, released around the actual invocation of a
// handler callable and reacquired before dispatch resumes. Swappable for
// a no-op in single-goroutine embeddings (tests, single-threaded CLI
// tools) where the locking overhead buys nothing.
type Mutex interface {
	Lock()
	Unlock()
}

type realMutex struct {
	mu sync.Mutex
}

func (m *realMutex) Lock()   { m.mu.Lock() }
func (m *realMutex) Unlock() { m.mu.Unlock() }

type nullMutex struct{}

func (nullMutex) Lock()   {}
func (nullMutex) Unlock() {}

// eventMu is the global event-system lock. It is not itself guarded; call
// SetSingleThreaded, if at all, during startup before any goroutine
// touches an Event or AsyncEventQueue.
var eventMu Mutex = &realMutex{}

// SetSingleThreaded switches the global event lock to a no-op, or back to
// a real mutex. Matches the original's ability to drop locking entirely
// in a build known to be single-threaded.
func SetSingleThreaded(singleThreaded bool) {
	if singleThreaded {
		eventMu = nullMutex{}
	} else {
		eventMu = &realMutex{}
	}
}
