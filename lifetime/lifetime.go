// Package lifetime provides the destroyed-flag primitive used throughout
// the pool and event packages to let an observer detect, asynchronously
// and without a back-pointer, that a watched object has begun destruction.
package lifetime

import "sync/atomic"

// state is the lifecycle of a Lifetime: alive, then destroying (set once,
// never cleared).
type state struct {
	destroying atomic.Bool
}

// Lifetime is embedded (or held) by any type that wants observers to be
// able to ask "has this started destroying?" without holding a pointer
// to it past its own lifetime. Zero value is ready to use.
type Lifetime struct {
	s *state
}

// ensure lazily allocates the shared state on first use so a zero-value
// Lifetime costs nothing until it is actually watched or destroyed.
func (l *Lifetime) ensure() *state {
	if l.s == nil {
		l.s = &state{}
	}
	return l.s
}

// SetDestroying marks the lifetime as destroying. Idempotent. Call this
// at the start of the owner's teardown, before releasing anything a
// DestroyedFlag observer might otherwise dereference.
func (l *Lifetime) SetDestroying() {
	l.ensure().destroying.Store(true)
}

// Destroying reports whether SetDestroying has been called.
func (l *Lifetime) Destroying() bool {
	if l.s == nil {
		return false
	}
	return l.s.destroying.Load()
}

// Watch returns a DestroyedFlag attached to this Lifetime. The flag
// remains valid (and reports true) even after the Lifetime value itself
// is gone, since it shares the underlying state, not a pointer to l.
func (l *Lifetime) Watch() DestroyedFlag {
	return DestroyedFlag{s: l.ensure()}
}

// DestroyedFlag evaluates true once the watched Lifetime begins
// destruction. The zero value reports false forever (a flag that was
// never attached to anything can't be destroyed).
type DestroyedFlag struct {
	s *state
}

// Destroyed reports whether the watched object has begun destruction.
func (f DestroyedFlag) Destroyed() bool {
	if f.s == nil {
		return false
	}
	return f.s.destroying.Load()
}
