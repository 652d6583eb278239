package emit

import "context"

// Emitter receives observability events from run execution. Implementations
// plug in a backend: structured logs, distributed tracing, metrics, or
// nothing at all.
//
// Implementations should be:
//   - Non-blocking: never slow down the orchestrator's dispatch loop.
//   - Thread-safe: called concurrently from multiple node workers.
//   - Resilient: a backend outage must never fail or panic the run.
type Emitter interface {
	// Emit sends one event. It must not block on the backend and must
	// not panic; backend failures should be logged internally and
	// swallowed.
	Emit(event Event)

	// EmitBatch sends multiple events as one unit, preserving order.
	// Returns an error only on a configuration-level failure; individual
	// event failures are logged, not returned.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until all buffered events have been handed to the
	// backend, or ctx is done. Safe to call more than once.
	Flush(ctx context.Context) error
}
