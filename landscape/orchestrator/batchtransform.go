package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/landscaperun/landscape/landscape"
	"github.com/landscaperun/landscape/landscape/plugin"
)

// defaultBatchWaitTimeout bounds how long one row waits for its
// batch-aware transform node's shared buffer to flush before giving up and
// retrying with a fresh state_id (spec §4.8, §5 "Retry/timeout
// interaction"). Configurable per node via RegisterBatchTransformTrigger's
// caller setting a timeout trigger well under this bound; this is a
// backstop for a trigger that never fires on its own (e.g. condition-only).
const defaultBatchWaitTimeout = 30 * time.Second

// pendingBatchRow is one row buffered into a batch-aware transform node's
// in-progress shared call.
type pendingBatchRow struct {
	token          landscape.Token
	row            landscape.PipelineRow
	stateID        string
	stepInPipeline int
}

// batchTransformState is the per-node shared buffer feeding one
// BatchProcessor.ProcessBatch call, mirroring aggregationState's shape
// (spec's own component list groups "the trigger evaluator and
// batch-aware transform adapter" together).
type batchTransformState struct {
	mu      sync.Mutex
	trigger *landscape.TriggerEvaluator
	pending []pendingBatchRow
	adapter *landscape.SharedBatchAdapter
}

func (s *batchTransformState) removePending(stateID string) {
	out := s.pending[:0]
	for _, p := range s.pending {
		if p.stateID != stateID {
			out = append(out, p)
		}
	}
	s.pending = out
}

// batchStateFor returns the shared buffer for nodeID, creating it (with an
// open-ended trigger and a fresh adapter) on first use.
func (p *Processor) batchStateFor(nodeID string) *batchTransformState {
	p.batchMu.Lock()
	defer p.batchMu.Unlock()
	s, ok := p.batchXform[nodeID]
	if !ok {
		s = &batchTransformState{
			trigger: landscape.NewTriggerEvaluator(landscape.TriggerConfig{}, time.Now().UTC()),
			adapter: landscape.NewSharedBatchAdapter(),
		}
		p.batchXform[nodeID] = s
	}
	return s
}

// RegisterBatchTransformTrigger installs the TriggerConfig deciding when a
// batch-aware Transform node's buffered rows are submitted together in one
// ProcessBatch call (spec §4.8). Call before any row reaches nodeID; rows
// buffered before this call use an open-ended trigger that never fires on
// its own and rely on defaultBatchWaitTimeout to eventually retry.
func (p *Processor) RegisterBatchTransformTrigger(nodeID string, cfg landscape.TriggerConfig) {
	p.batchMu.Lock()
	defer p.batchMu.Unlock()
	p.batchXform[nodeID] = &batchTransformState{
		trigger: landscape.NewTriggerEvaluator(cfg, time.Now().UTC()),
		adapter: landscape.NewSharedBatchAdapter(),
	}
}

// runBatchTransform submits tok's row into node's shared batch buffer and
// blocks until either this call's own arrival fires the trigger (in which
// case it runs bp.ProcessBatch over every buffered row and fans the result
// back out) or a sibling row's arrival does. Each row corresponds to the
// output row at the same index in the flushed TransformResult — a
// batch-aware transform that wants to fan one row into many must route
// through a later Transform/Aggregation node instead (see DESIGN.md).
func (p *Processor) runBatchTransform(ctx context.Context, tok landscape.Token, row landscape.PipelineRow, node *landscape.NodeRecord, bp plugin.BatchProcessor, stepInPipeline int) error {
	state := p.batchStateFor(node.NodeID)
	inputHash, err := landscape.StableHash(row.Data)
	if err != nil {
		return fmt.Errorf("orchestrator: hash batch transform input: %w", err)
	}

	var outRow landscape.PipelineRow
	callErr := p.runWithRetry(ctx, node.NodeID, func(ctx context.Context, attempt int) error {
		nodeState, err := p.beginState(ctx, tok, node.NodeID, stepInPipeline, attempt, inputHash)
		if err != nil {
			return err
		}

		waiter := state.adapter.Register(landscape.WaiterKey{TokenID: tok.TokenID, StateID: nodeState.StateID})
		state.mu.Lock()
		state.pending = append(state.pending, pendingBatchRow{token: tok, row: row, stateID: nodeState.StateID, stepInPipeline: stepInPipeline})
		state.trigger.Observe()
		result := state.trigger.Evaluate(time.Now().UTC())
		var flushErr error
		if result.Fired {
			flushErr = p.flushBatchTransform(ctx, node, bp, state, result)
		}
		state.mu.Unlock()
		if flushErr != nil {
			return flushErr
		}

		val, waitErr := waiter.Wait(defaultBatchWaitTimeout)
		if waitErr != nil {
			state.mu.Lock()
			state.removePending(nodeState.StateID)
			state.mu.Unlock()
			execErr := &landscape.ExecutionError{Exception: waitErr.Error(), Type: fmt.Sprintf("%T", waitErr)}
			if ferr := p.failState(ctx, nodeState.StateID, execErr); ferr != nil {
				return ferr
			}
			if p.frameworkErrRetryable(waitErr) {
				return &retryableError{err: execErr}
			}
			return execErr
		}

		produced, _ := val.(landscape.PipelineRow)
		outRow = produced
		return nil
	})
	if callErr != nil {
		return p.handleNodeFailure(ctx, tok, row, node, callErr)
	}

	next := p.graph.EdgesFrom(node.NodeID)
	if len(next) == 0 {
		return fmt.Errorf("orchestrator: transform node %s has no outgoing edge", node.NodeID)
	}
	if outRow.Contract == nil {
		outRow.Contract = row.Contract
	}
	return p.driveToken(ctx, tok, outRow, next[0].To, stepInPipeline+1)
}

// flushBatchTransform runs bp.ProcessBatch over state's buffered rows and
// delivers each one's output (or the whole call's failure) through the
// shared adapter. Callers must hold state.mu.
func (p *Processor) flushBatchTransform(ctx context.Context, node *landscape.NodeRecord, bp plugin.BatchProcessor, state *batchTransformState, trigger landscape.TriggerResult) error {
	members := state.pending
	state.pending = nil
	state.trigger.Reset(time.Now().UTC())

	if len(members) == 0 {
		return nil
	}

	rows := make([]landscape.PipelineRow, len(members))
	for i, m := range members {
		rows[i] = m.row
	}

	res, err := bp.ProcessBatch(ctx, rows)
	if err != nil {
		execErr := &landscape.ExecutionError{Exception: err.Error(), Type: fmt.Sprintf("%T", err)}
		var emitErr error = execErr
		if p.frameworkErrRetryable(err) {
			emitErr = &retryableError{err: execErr}
		}
		for _, m := range members {
			if ferr := p.failState(ctx, m.stateID, execErr); ferr != nil {
				p.logger.Error("failing batch transform node state", "run_id", p.runID, "node_id", node.NodeID, "state_id", m.stateID, "error", ferr)
			}
			state.adapter.Emit(m.token.TokenID, m.stateID, nil, emitErr)
		}
		return nil
	}
	if res.Kind == plugin.ResultError {
		outErr := errorOutcomeError(res.Error)
		var emitErr error = outErr
		if res.Error.Retryable {
			emitErr = &retryableError{err: outErr}
		}
		for _, m := range members {
			if ferr := p.recordFailure(ctx, m.stateID, node.NodeID, res.Error); ferr != nil {
				p.logger.Error("recording batch transform failure", "run_id", p.runID, "node_id", node.NodeID, "state_id", m.stateID, "error", ferr)
			}
			state.adapter.Emit(m.token.TokenID, m.stateID, nil, emitErr)
		}
		return nil
	}

	outputRows := res.OutputRows()
	for i, m := range members {
		if i >= len(outputRows) {
			state.adapter.Emit(m.token.TokenID, m.stateID, nil,
				fmt.Errorf("orchestrator: batch transform node %s returned %d output rows for %d input rows", node.NodeID, len(outputRows), len(members)))
			continue
		}
		outputHash, err := landscape.StableHash(outputRows[i])
		if err != nil {
			state.adapter.Emit(m.token.TokenID, m.stateID, nil, fmt.Errorf("orchestrator: hash batch transform output: %w", err))
			continue
		}
		if err := p.completeState(ctx, m.stateID, outputHash, res.SuccessReason); err != nil {
			state.adapter.Emit(m.token.TokenID, m.stateID, nil, err)
			continue
		}
		state.adapter.Emit(m.token.TokenID, m.stateID, outputRows[i], nil)
	}
	return nil
}
