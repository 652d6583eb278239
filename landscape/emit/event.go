// Package emit provides event emission and observability for the Landscape
// execution kernel: structured logs, OpenTelemetry spans, Prometheus
// metrics, and in-memory buffering for tests, all behind one Emitter
// interface so the orchestrator never special-cases a backend.
package emit

// Event represents one observability event emitted during run execution.
//
// Events surface:
//   - node state transitions (begin/complete, success/error)
//   - routing decisions and retries
//   - checkpoint writes
//   - dropped or buffered telemetry (§4.15 aggregate logging)
type Event struct {
	// RunID identifies the run that emitted this event.
	RunID string

	// Step is the node's position in its execution, used as a tiebreaker
	// for ordering events within a run. Zero for run-level events.
	Step int

	// NodeID identifies which node emitted this event. Empty for
	// run-level events (run_started, run_completed).
	NodeID string

	// Msg is a short event name, e.g. "node_start", "node_end", "retry",
	// "checkpoint_written", "token_outcome".
	Msg string

	// Meta carries event-specific structured data. Common keys:
	//   - "state_id", "token_id": audit row ids this event refers to.
	//   - "duration_ms": node execution duration.
	//   - "error": error message, when Msg reports a failure.
	//   - "outcome": a TokenOutcomeKind, when Msg == "token_outcome".
	//   - "attempt": retry attempt number.
	Meta map[string]interface{}
}
