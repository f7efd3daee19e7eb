package event

import "errors"

// Error kinds from spec.md §7, Go-native sentinels following the
// teacher's errors.New-sentinel convention
// (azargarov-wpool/queue_interface.go: ErrQueueFull, ErrNilFunc).
var (
	// ErrHandlerNotFound is returned by Unsubscribe when given a stale
	// or already-removed cookie.
	ErrHandlerNotFound = errors.New("event: handler not found")

	// ErrQueueDestroyed names a delivery to a queue whose owner has
	// closed it. No operation in this package returns or reports it: a
	// handler bound to a closed queue is skipped silently during
	// dispatch, and an enqueue onto a terminated queue is dropped,
	// whether or not IgnoreErrors is set.
	ErrQueueDestroyed = errors.New("event: target queue destroyed")

	// ErrNoControl names a Handle operation on an event that has
	// released its control block. No Handle method returns it: once the
	// event is closed, Close returns nil and the other methods do
	// nothing.
	ErrNoControl = errors.New("event: no control block")

	// ErrTooDeep is the panic value raised when nested sync-mode triggers
	// of one event exceed maxTriggerDepth.
	ErrTooDeep = errors.New("event: recursion too deep")
)

// maxTriggerDepth bounds re-entrant sync-mode trigger nesting
// (acceptance-context stack depth) to catch runaway handler recursion
// rather than exhausting the goroutine stack. Asynchronous modes push no
// context and are not counted.
const maxTriggerDepth = 256
