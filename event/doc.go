// Package event provides a typed publish/subscribe event system with
// per-queue asynchronous delivery.
//
// Design goals
//
// The package mirrors the pool package's approach to concurrency:
// predictable dispatch order, explicit ownership of where work runs, and
// no hidden goroutines.
//
//   - One handler list per event, in subscription order
//   - Delivery either runs inline or is posted to a named queue, never both
//   - A single global lock serializes event mutation, released around
//     every handler invocation
//
// Architecture overview
//
// Three pieces cooperate:
//
//  1. Event[T]
//     Owns the handler list and the acceptance-context stack used by
//     Accept to short-circuit a dispatch in progress.
//
//  2. AsyncEventQueue
//     A per-owner FIFO drained explicitly by that owner's main loop via
//     Exec. Deliveries posted to a dead queue are dropped, not leaked.
//
//  3. Handle / Sink
//     Handle is the subscription token returned by Subscribe; Sink
//     aggregates several and closes them together.
//
// Dispatch modes
//
// Trigger resolves each handler's delivery independently unless overridden
// by SetTriggerType or a one-shot SyncTrigger/AsyncTrigger call:
//
//   - Default: inline if the handler is same-thread or already on the
//     triggering queue, otherwise posted
//   - Synchronous: the same per-handler decision as Default
//   - Asynchronous: always posted, even same-thread handlers
//   - the DontQueue variants first drop this event's pending queued
//     deliveries, then dispatch as their non-DontQueue counterpart
//
// Error handling
//
// A panicking handler propagates out of SyncTrigger by default; calling
// IgnoreErrors on an event instead recovers and continues to the next
// handler. Asynchronous deliveries always recover, so one bad handler
// never stalls a queue's drain.
//
// Queues have no lock of their own; every state transition happens under
// the package's single event mutex, matching the pool package's
// *Locked-method convention for expressing what would otherwise be
// recursive locking.
package event
