package landscape

import (
	"fmt"
	"sync"
	"time"
)

// WaiterKey identifies one in-flight row's waiter by (token_id, state_id),
// so that a retry — which allocates a new state_id — never has its
// result delivered to (or receive) a stale prior attempt's waiter
// (spec §4.8, §5 "Retry/timeout interaction").
type WaiterKey struct {
	TokenID string
	StateID string
}

// BatchResult is whatever the batch-aware transform emits for one row:
// either a successful TransformResult-shaped payload or an error. Kept
// generic (any) here since the concrete TransformResult type lives in
// landscape/plugin and this package must not import it (plugin imports
// landscape, not the other way around).
type BatchResult struct {
	Value any
	Err   error
}

// SharedBatchAdapter is the single output port registered with a
// batch-aware transform; callers register a RowWaiter keyed by
// (token_id, state_id) before submitting the row, and the transform's
// Emit call routes the result to the matching waiter — or discards it if
// no waiter is registered (a stale result from a timed-out retry),
// per spec §4.8.
type SharedBatchAdapter struct {
	mu             sync.Mutex
	waiters        map[WaiterKey]chan BatchResult
	discardedCount int
}

// NewSharedBatchAdapter constructs an adapter with no waiters registered.
func NewSharedBatchAdapter() *SharedBatchAdapter {
	return &SharedBatchAdapter{waiters: make(map[WaiterKey]chan BatchResult)}
}

// RowWaiter is returned by Register and blocks on Wait until Emit
// delivers the matching result or the timeout elapses.
type RowWaiter struct {
	key     WaiterKey
	ch      chan BatchResult
	adapter *SharedBatchAdapter
}

// batchWaitTimeoutError reports Timeout() == true so a generic
// transport-style retry predicate (see landscape/orchestrator's
// defaultFrameworkErrRetryable) treats a stalled batch flush the same way
// it treats any other timed-out call.
type batchWaitTimeoutError struct {
	tokenID, stateID string
}

func (e *batchWaitTimeoutError) Error() string {
	return fmt.Sprintf("landscape: batch adapter wait timed out for token=%s state=%s", e.tokenID, e.stateID)
}

func (e *batchWaitTimeoutError) Timeout() bool { return true }

// Register creates a waiter for key. The entry is removed when Emit
// delivers a result for key or when Wait times out; a waiter that neither
// receives a result nor has Wait called on it stays registered.
func (a *SharedBatchAdapter) Register(key WaiterKey) *RowWaiter {
	ch := make(chan BatchResult, 1)
	a.mu.Lock()
	a.waiters[key] = ch
	a.mu.Unlock()
	return &RowWaiter{key: key, ch: ch, adapter: a}
}

// Wait blocks until the transform's Emit call delivers this row's result
// or timeout elapses. On timeout it cleans up both the waiter entry and
// any late result that might still arrive, preventing the memory leak
// called out in spec §4.8/§5.
func (w *RowWaiter) Wait(timeout time.Duration) (any, error) {
	select {
	case res := <-w.ch:
		return res.Value, res.Err
	case <-time.After(timeout):
		w.adapter.mu.Lock()
		delete(w.adapter.waiters, w.key)
		w.adapter.mu.Unlock()
		return nil, &batchWaitTimeoutError{tokenID: w.key.TokenID, stateID: w.key.StateID}
	}
}

// Emit routes result to the waiter matching (tokenID, stateID). If no
// waiter is registered — because it already timed out and was cleaned
// up, or the retry superseded it — the result is silently discarded
// and counted, per spec §4.8 ("discards it: stale result from a timed-out
// retry").
func (a *SharedBatchAdapter) Emit(tokenID, stateID string, result any, err error) {
	key := WaiterKey{TokenID: tokenID, StateID: stateID}
	a.mu.Lock()
	ch, ok := a.waiters[key]
	if ok {
		delete(a.waiters, key)
	} else {
		a.discardedCount++
	}
	a.mu.Unlock()
	if !ok {
		return
	}
	ch <- BatchResult{Value: result, Err: err}
}

// DiscardedCount reports how many Emit calls found no matching waiter.
// The count is available only through this method; no telemetry event
// carries it.
func (a *SharedBatchAdapter) DiscardedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.discardedCount
}

// PendingCount reports how many waiters are currently registered, useful
// for tests and for the orchestrator's shutdown path to detect rows still
// in flight.
func (a *SharedBatchAdapter) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.waiters)
}
