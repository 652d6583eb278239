package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/landscaperun/landscape/landscape"
	"github.com/landscaperun/landscape/landscape/idgen"
	"github.com/landscaperun/landscape/landscape/plugin"
)

// bufferedMember is one token waiting inside an aggregation node's
// in-progress batch.
type bufferedMember struct {
	token          landscape.Token
	row            landscape.PipelineRow
	stepInPipeline int
}

// aggregationState is the per-aggregation-node batch in progress: the
// trigger clock plus whichever tokens have buffered into it since the
// last flush (spec §4.7). The processor keeps one of these per
// aggregation node for the lifetime of the run.
type aggregationState struct {
	mu      sync.Mutex
	trigger *landscape.TriggerEvaluator
	members []bufferedMember
	attempt int
}

// aggregationStateFor returns the aggregation node's batch state,
// creating it (with an open-ended trigger — no count/timeout/condition)
// on first use. Real trigger configuration is supplied by the caller
// wiring up the run; see RegisterAggregationTrigger.
func (p *Processor) aggregationStateFor(nodeID string) *aggregationState {
	p.aggMu.Lock()
	defer p.aggMu.Unlock()
	s, ok := p.agg[nodeID]
	if !ok {
		s = &aggregationState{trigger: landscape.NewTriggerEvaluator(landscape.TriggerConfig{}, time.Now().UTC())}
		p.agg[nodeID] = s
	}
	return s
}

// RegisterAggregationTrigger installs the TriggerConfig for nodeID before
// any row reaches it. Call once per aggregation node while wiring up a
// run; rows ingested before this call use an open-ended trigger that
// never fires on its own (spec §4.7 triggers are declared per
// aggregation node at graph-build time, not discovered mid-run).
func (p *Processor) RegisterAggregationTrigger(nodeID string, cfg landscape.TriggerConfig) {
	p.aggMu.Lock()
	defer p.aggMu.Unlock()
	p.agg[nodeID] = &aggregationState{trigger: landscape.NewTriggerEvaluator(cfg, time.Now().UTC())}
}

// Flush forces every pending batch across all aggregation nodes to fire
// regardless of whether their trigger condition has been met, for the
// END_OF_SOURCE case (spec §4.7: "end of source forces every open batch
// to flush"). Call once after the last row has been ingested.
func (p *Processor) Flush(ctx context.Context) error {
	p.aggMu.Lock()
	nodes := make([]string, 0, len(p.agg))
	for nodeID := range p.agg {
		nodes = append(nodes, nodeID)
	}
	p.aggMu.Unlock()

	for _, nodeID := range nodes {
		state := p.aggregationStateFor(nodeID)
		state.mu.Lock()
		if len(state.members) == 0 {
			state.mu.Unlock()
			continue
		}
		node, ok := p.graph.GetNodeInfo(nodeID)
		if !ok {
			state.mu.Unlock()
			return fmt.Errorf("orchestrator: aggregation node %s not found in graph", nodeID)
		}
		agg, ok := p.registry.Aggregation(node.PluginName)
		if !ok {
			state.mu.Unlock()
			return fmt.Errorf("orchestrator: no Aggregation plugin registered as %q", node.PluginName)
		}
		err := p.flushAggregation(ctx, node, agg, state, landscape.TriggerResult{Fired: true, Which: landscape.TriggerTypeEndOfSource})
		state.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// flushAggregation runs the aggregation plugin over state's buffered
// members and distributes the result, per spec §4.7/§4.12 rule 4. Callers
// must hold state.mu.
func (p *Processor) flushAggregation(ctx context.Context, node *landscape.NodeRecord, agg plugin.Aggregation, state *aggregationState, trigger landscape.TriggerResult) error {
	members := state.members
	state.members = nil
	state.attempt++
	attempt := state.attempt
	state.trigger.Reset(time.Now().UTC())

	batch := landscape.Batch{
		BatchID:           idgen.New(idgen.PrefixBatch),
		AggregationNodeID: node.NodeID,
		Attempt:           attempt,
		Status:            landscape.BatchStatusExecuting,
		TriggerType:       trigger.Which,
	}
	if err := p.audit.CreateBatch(ctx, batch); err != nil {
		return fmt.Errorf("orchestrator: create batch: %w", err)
	}
	for i, m := range members {
		if err := p.audit.AddBatchMember(ctx, landscape.BatchMember{BatchID: batch.BatchID, TokenID: m.token.TokenID, Ordinal: i}); err != nil {
			return fmt.Errorf("orchestrator: add batch member: %w", err)
		}
	}

	rows := make([]landscape.PipelineRow, len(members))
	for i, m := range members {
		rows[i] = m.row
	}
	inputHash, err := landscape.StableHash(rows)
	if err != nil {
		return fmt.Errorf("orchestrator: hash aggregation batch input: %w", err)
	}

	representative := members[0].token
	var result plugin.TransformResult
	callErr := p.runWithRetry(ctx, node.NodeID, func(ctx context.Context, callAttempt int) error {
		nodeState, err := p.beginState(ctx, representative, node.NodeID, members[0].stepInPipeline, callAttempt, inputHash)
		if err != nil {
			return err
		}
		res, err := agg.Aggregate(ctx, rows)
		if err != nil {
			execErr := &landscape.ExecutionError{Exception: err.Error(), Type: fmt.Sprintf("%T", err)}
			if ferr := p.failState(ctx, nodeState.StateID, execErr); ferr != nil {
				return ferr
			}
			if p.frameworkErrRetryable(err) {
				return &retryableError{err: execErr}
			}
			return execErr
		}
		if res.Kind == plugin.ResultError {
			if ferr := p.recordFailure(ctx, nodeState.StateID, node.NodeID, res.Error); ferr != nil {
				return ferr
			}
			outErr := errorOutcomeError(res.Error)
			if res.Error.Retryable {
				return &retryableError{err: outErr}
			}
			return outErr
		}
		outputHash, err := landscape.StableHash(res.OutputRows())
		if err != nil {
			return fmt.Errorf("orchestrator: hash aggregation batch output: %w", err)
		}
		if err := p.completeState(ctx, nodeState.StateID, outputHash, res.SuccessReason); err != nil {
			return err
		}
		result = res
		return nil
	})

	if callErr != nil {
		if err := p.audit.CompleteBatch(ctx, batch.BatchID, landscape.BatchStatusFailed); err != nil {
			return fmt.Errorf("orchestrator: complete failed batch: %w", err)
		}
		for _, m := range members {
			if err := p.tokens.Complete(ctx, m.token.TokenID, landscape.OutcomeFailed, callErr.Error()); err != nil {
				return err
			}
		}
		return nil
	}

	if err := p.audit.CompleteBatch(ctx, batch.BatchID, landscape.BatchStatusCompleted); err != nil {
		return fmt.Errorf("orchestrator: complete batch: %w", err)
	}

	next := p.graph.EdgesFrom(node.NodeID)
	if len(next) == 0 {
		return fmt.Errorf("orchestrator: aggregation node %s has no outgoing edge", node.NodeID)
	}
	nextNodeID := next[0].To

	switch agg.OutputMode() {
	case plugin.AggregationOutputPassthrough:
		// Each original row continues unchanged; the batch only gated
		// when they moved, it didn't merge them.
		for _, m := range members {
			if err := p.driveToken(ctx, m.token, m.row, nextNodeID, m.stepInPipeline+1); err != nil {
				return err
			}
		}
		return nil

	case plugin.AggregationOutputTransform:
		// Consume every member but the one Expand will treat as parent
		// (spec §4.6: Expand marks its parent EXPANDED; aggregation's
		// batch-to-N-outputs case only has one logical parent, so the
		// first buffered token stands in as the parent of record — a
		// true N-parent join is Coalesce's job, see coalesce.go).
		for _, m := range members[1:] {
			if err := p.tokens.Complete(ctx, m.token.TokenID, landscape.OutcomeConsumedInBatch, ""); err != nil {
				return err
			}
		}
		outputRows := result.OutputRows()
		if len(outputRows) == 0 {
			return p.tokens.Complete(ctx, representative.TokenID, landscape.OutcomeConsumedInBatch, "")
		}
		children, err := p.tokens.Expand(ctx, representative, len(outputRows), members[0].stepInPipeline+1)
		if err != nil {
			return err
		}
		outContract := result.Contract
		for i, child := range children {
			outRow := outputRows[i]
			if outRow.Contract == nil {
				outRow.Contract = outContract
			}
			if err := p.driveToken(ctx, child, outRow, nextNodeID, members[0].stepInPipeline+1); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("orchestrator: aggregation node %s has unrecognized output mode %q", node.NodeID, agg.OutputMode())
	}
}
