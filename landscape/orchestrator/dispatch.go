package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/landscaperun/landscape/landscape"
	"github.com/landscaperun/landscape/landscape/idgen"
	"github.com/landscaperun/landscape/landscape/plugin"
)

// retryableError marks an error observed inside an op closure as one the
// plugin declared retryable (plugin.ErrorOutcome.Retryable), so
// runWithRetry's isRetryable callback can tell it apart from a
// non-retryable failure or a framework bug in the closure itself without
// a second out-of-band channel.
type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// defaultFrameworkErrRetryable is the default retry predicate for a raw Go
// error returned directly by Process/Evaluate/Write/Aggregate, as opposed
// to a TransformResult the plugin explicitly marked Retryable. Spec §7's
// three-tier trust model treats a pipeline-data plugin raising something
// other than a declared error type as an upstream bug, not a hiccup to
// retry — so only transport-style errors (a deadline, a timeout reported
// by the standard net.Error convention) are retryable out of the box. A
// caller with richer knowledge of a specific plugin's failure modes can
// widen this via SetFrameworkErrorRetryPredicate.
func defaultFrameworkErrRetryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) {
		return timeout.Timeout()
	}
	return false
}

// runWithRetry attempts op once if no RetryManager is configured, or
// drives it through p.retry.Execute otherwise. The returned error is
// always unwrapped back to the underlying cause — callers never see a
// *retryableError or *landscape.MaxRetriesExceeded wrapper, only the
// plugin-facing error that should be recorded as the token's failure
// reason.
func (p *Processor) runWithRetry(ctx context.Context, nodeID string, op func(ctx context.Context, attempt int) error) error {
	isRetryable := func(err error) bool {
		var re *retryableError
		return errors.As(err, &re)
	}
	unwrap := func(err error) error {
		var re *retryableError
		if errors.As(err, &re) {
			return re.err
		}
		return err
	}

	if p.retry == nil {
		return unwrap(op(ctx, 0))
	}

	err := p.retry.Execute(ctx, op, isRetryable, func(attemptIndex int, retryErr error) {
		p.logger.Warn("node call failed, retrying", "run_id", p.runID, "node_id", nodeID, "attempt", attemptIndex, "error", unwrap(retryErr))
	})
	if err == nil {
		return nil
	}
	var exceeded *landscape.MaxRetriesExceeded
	if errors.As(err, &exceeded) {
		return unwrap(exceeded.LastError)
	}
	return unwrap(err)
}

// errorOutcomeError renders a plugin.ErrorOutcome as a plain error, for
// logging and for the token outcome's Reason field.
func errorOutcomeError(outcome plugin.ErrorOutcome) error {
	switch outcome.Kind {
	case plugin.ErrorReasonExecution:
		if outcome.Execution != nil {
			return outcome.Execution
		}
		return fmt.Errorf("orchestrator: execution error result with no detail")
	case plugin.ErrorReasonTransform:
		if outcome.Transform != nil {
			return fmt.Errorf("orchestrator: transform error %q: %s", outcome.Transform.Reason, outcome.Transform.Message)
		}
		return fmt.Errorf("orchestrator: transform error result with no detail")
	default:
		return fmt.Errorf("orchestrator: unknown error reason kind %q", outcome.Kind)
	}
}

// recordFailure completes stateID as FAILED and, for plugin-reported
// failures, additionally writes the Tier-2 TransformError row the
// ExecutionError field can't carry (spec §3: TransformError is its own
// table, keyed to the failing state).
func (p *Processor) recordFailure(ctx context.Context, stateID, nodeID string, outcome plugin.ErrorOutcome) error {
	switch outcome.Kind {
	case plugin.ErrorReasonExecution:
		return p.failState(ctx, stateID, outcome.Execution)
	case plugin.ErrorReasonTransform:
		if err := p.failState(ctx, stateID, nil); err != nil {
			return err
		}
		reason := landscape.TransformErrorReason{}
		if outcome.Transform != nil {
			reason = *outcome.Transform
		}
		return p.audit.RecordTransformError(ctx, landscape.TransformError{
			ErrorID: idgen.New(idgen.PrefixTransformErr),
			StateID: stateID,
			NodeID:  nodeID,
			Reason:  reason,
		})
	default:
		return fmt.Errorf("orchestrator: unknown error reason kind %q", outcome.Kind)
	}
}

// handleNodeFailure is the common tail for an unrecoverable Transform or
// Gate failure: quarantine via the node's DIVERT edge if one is declared,
// otherwise fail the token outright (spec §4.12 rule 6).
func (p *Processor) handleNodeFailure(ctx context.Context, tok landscape.Token, row landscape.PipelineRow, node *landscape.NodeRecord, causeErr error) error {
	if edge, ok := p.divertEdge(node.NodeID); ok {
		if err := p.writeDivertRow(ctx, edge, row); err != nil {
			p.logger.Error("divert sink write failed", "run_id", p.runID, "node_id", node.NodeID, "error", err)
		}
		return p.tokens.Complete(ctx, tok.TokenID, landscape.OutcomeQuarantined, causeErr.Error())
	}
	return p.tokens.Complete(ctx, tok.TokenID, landscape.OutcomeFailed, causeErr.Error())
}

// writeDivertRow best-effort writes a quarantined row to its DIVERT
// edge's target sink, for an operator to inspect later. Failure to write
// does not change the token's QUARANTINED outcome — the audit trail is
// the source of truth, the sink write is a convenience.
func (p *Processor) writeDivertRow(ctx context.Context, edge landscape.EdgeInfo, row landscape.PipelineRow) error {
	sinkNode, ok := p.graph.GetNodeInfo(edge.To)
	if !ok || sinkNode.NodeType != landscape.NodeTypeSink {
		return nil
	}
	sink, ok := p.registry.Sink(sinkNode.PluginName)
	if !ok {
		return fmt.Errorf("orchestrator: no Sink plugin registered as %q", sinkNode.PluginName)
	}
	_, err := sink.Write(ctx, []landscape.PipelineRow{row})
	return err
}

// runTransform invokes the Transform plugin bound to node, retrying
// retryable failures, and on success continues the token down the node's
// single outgoing edge (spec §4.12 rule 2).
func (p *Processor) runTransform(ctx context.Context, tok landscape.Token, row landscape.PipelineRow, node *landscape.NodeRecord, stepInPipeline int) error {
	tf, ok := p.registry.Transform(node.PluginName)
	if !ok {
		return fmt.Errorf("orchestrator: no Transform plugin registered as %q", node.PluginName)
	}
	if tf.Meta().IsBatchAware {
		bp, ok := tf.(plugin.BatchProcessor)
		if !ok {
			return fmt.Errorf("orchestrator: transform %q declares is_batch_aware but does not implement BatchProcessor", node.PluginName)
		}
		return p.runBatchTransform(ctx, tok, row, node, bp, stepInPipeline)
	}
	inputHash, err := landscape.StableHash(row.Data)
	if err != nil {
		return fmt.Errorf("orchestrator: hash transform input: %w", err)
	}

	var result plugin.TransformResult
	callErr := p.runWithRetry(ctx, node.NodeID, func(ctx context.Context, attempt int) error {
		state, err := p.beginState(ctx, tok, node.NodeID, stepInPipeline, attempt, inputHash)
		if err != nil {
			return err
		}
		res, err := tf.Process(ctx, row)
		if err != nil {
			execErr := &landscape.ExecutionError{Exception: err.Error(), Type: fmt.Sprintf("%T", err)}
			if ferr := p.failState(ctx, state.StateID, execErr); ferr != nil {
				return ferr
			}
			if p.frameworkErrRetryable(err) {
				return &retryableError{err: execErr}
			}
			return execErr
		}
		if res.Kind == plugin.ResultError {
			if ferr := p.recordFailure(ctx, state.StateID, node.NodeID, res.Error); ferr != nil {
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
			return fmt.Errorf("orchestrator: hash transform output: %w", err)
		}
		if err := p.completeState(ctx, state.StateID, outputHash, res.SuccessReason); err != nil {
			return err
		}
		result = res
		return nil
	})
	if callErr != nil {
		return p.handleNodeFailure(ctx, tok, row, node, callErr)
	}

	next := p.graph.EdgesFrom(node.NodeID)
	if len(next) == 0 {
		return fmt.Errorf("orchestrator: transform node %s has no outgoing edge", node.NodeID)
	}
	outContract := result.Contract
	if outContract == nil {
		outContract = row.Contract
	}
	for _, outRow := range result.OutputRows() {
		if outRow.Contract == nil {
			outRow.Contract = outContract
		}
		if err := p.driveToken(ctx, tok, outRow, next[0].To, stepInPipeline+1); err != nil {
			return err
		}
	}
	return nil
}

// runGate invokes the Gate plugin bound to node, records OPEN/COMPLETED,
// writes a RoutingEvent per destination before any child token is
// scheduled, and then drives the token (or its fork children) onward
// (spec §4.12 rule 3).
func (p *Processor) runGate(ctx context.Context, tok landscape.Token, row landscape.PipelineRow, node *landscape.NodeRecord, stepInPipeline int) error {
	g, ok := p.registry.Gate(node.PluginName)
	if !ok {
		return fmt.Errorf("orchestrator: no Gate plugin registered as %q", node.PluginName)
	}
	inputHash, err := landscape.StableHash(row.Data)
	if err != nil {
		return fmt.Errorf("orchestrator: hash gate input: %w", err)
	}

	var action landscape.RoutingAction
	callErr := p.runWithRetry(ctx, node.NodeID, func(ctx context.Context, attempt int) error {
		state, err := p.beginState(ctx, tok, node.NodeID, stepInPipeline, attempt, inputHash)
		if err != nil {
			return err
		}
		act, err := g.Evaluate(ctx, row)
		if err != nil {
			execErr := &landscape.ExecutionError{Exception: err.Error(), Type: fmt.Sprintf("%T", err)}
			if ferr := p.failState(ctx, state.StateID, execErr); ferr != nil {
				return ferr
			}
			if p.frameworkErrRetryable(err) {
				return &retryableError{err: execErr}
			}
			return execErr
		}
		if err := act.Validate(); err != nil {
			execErr := &landscape.ExecutionError{Exception: err.Error(), Type: "RoutingActionInvalid"}
			if ferr := p.failState(ctx, state.StateID, execErr); ferr != nil {
				return ferr
			}
			return execErr
		}
		reasonHash := ""
		if reason := act.Reason(); reason != nil {
			h, err := landscape.StableHash(reason)
			if err != nil {
				return fmt.Errorf("orchestrator: hash routing reason: %w", err)
			}
			reasonHash = h
		}
		if err := p.completeState(ctx, state.StateID, reasonHash, nil); err != nil {
			return err
		}
		action = act
		return nil
	})
	if callErr != nil {
		return p.handleNodeFailure(ctx, tok, row, node, callErr)
	}

	return p.applyRoutingAction(ctx, tok, row, node, action, stepInPipeline)
}

// applyRoutingAction drives tok according to a gate's resolved decision,
// writing RoutingEvent rows for every destination before scheduling the
// corresponding child (spec §4.12 rule 3).
func (p *Processor) applyRoutingAction(ctx context.Context, tok landscape.Token, row landscape.PipelineRow, node *landscape.NodeRecord, action landscape.RoutingAction, stepInPipeline int) error {
	switch action.Kind() {
	case landscape.RoutingContinue:
		next := p.graph.EdgesFrom(node.NodeID)
		if len(next) == 0 {
			return fmt.Errorf("orchestrator: gate node %s has no default outgoing edge", node.NodeID)
		}
		return p.driveToken(ctx, tok, row, next[0].To, stepInPipeline+1)

	case landscape.RoutingRoute:
		label := action.Destinations()[0]
		edge, ok := p.edgeByLabel(node.NodeID, label)
		if !ok {
			return fmt.Errorf("orchestrator: gate %s has no edge labeled %q", node.NodeID, label)
		}
		dest, ok := p.graph.ResolveRoute(node.NodeID, label)
		if !ok {
			return fmt.Errorf("orchestrator: gate %s label %q does not resolve", node.NodeID, label)
		}
		groupID := idgen.New(idgen.PrefixRoutingGroup)
		if err := p.recordRoutingEvent(ctx, "", edge, groupID, 0); err != nil {
			return err
		}
		return p.routeToDestination(ctx, tok, row, dest, edge.To, stepInPipeline)

	case landscape.RoutingForkToPaths:
		labels := action.Destinations()
		edges := make([]landscape.EdgeInfo, 0, len(labels))
		for _, label := range labels {
			edge, ok := p.edgeByLabel(node.NodeID, label)
			if !ok {
				return fmt.Errorf("orchestrator: gate %s has no edge labeled %q", node.NodeID, label)
			}
			edges = append(edges, edge)
		}
		branchNames := make([]string, len(edges))
		for i, e := range edges {
			branchNames[i] = e.Label
		}
		children, err := p.tokens.Fork(ctx, tok, branchNames, stepInPipeline)
		if err != nil {
			return err
		}
		groupID := idgen.New(idgen.PrefixRoutingGroup)
		for i, edge := range edges {
			if err := p.recordRoutingEvent(ctx, "", edge, groupID, i); err != nil {
				return err
			}
		}
		for i, child := range children {
			label := edges[i].Label
			dest, ok := p.graph.ResolveRoute(node.NodeID, label)
			if !ok {
				return fmt.Errorf("orchestrator: gate %s label %q does not resolve", node.NodeID, label)
			}
			if err := p.routeToDestination(ctx, child, row, dest, edges[i].To, stepInPipeline); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("orchestrator: gate %s returned unrecognized routing action kind %q", node.NodeID, action.Kind())
	}
}

// routeToDestination dispatches on what (gate, label) resolved to.
// DestinationFork is the single-label fork shorthand (GateRouteConfig.Fork
// set directly rather than through a FORK_TO_PATHS action); the graph
// discards the branch name list for that shape (see DESIGN.md), so it is
// not supported here — gates that want to fan out must return a
// RoutingActionForkToPaths listing every branch label explicitly.
func (p *Processor) routeToDestination(ctx context.Context, tok landscape.Token, row landscape.PipelineRow, dest landscape.RouteDestination, edgeTo string, stepInPipeline int) error {
	switch dest.Kind {
	case landscape.DestinationSink, landscape.DestinationProcessingNode, landscape.DestinationContinue:
		return p.driveToken(ctx, tok, row, edgeTo, stepInPipeline+1)
	case landscape.DestinationFork:
		return fmt.Errorf("orchestrator: single-label Fork route shorthand is not supported; gate must return RoutingActionForkToPaths")
	default:
		return fmt.Errorf("orchestrator: unrecognized route destination kind %q", dest.Kind)
	}
}

// edgeByLabel finds the outgoing edge from nodeID with the given label.
func (p *Processor) edgeByLabel(nodeID, label string) (landscape.EdgeInfo, bool) {
	for _, e := range p.graph.EdgesFrom(nodeID) {
		if e.Label == label {
			return e, true
		}
	}
	return landscape.EdgeInfo{}, false
}

// recordRoutingEvent writes one RoutingEvent row. stateID is left blank
// for routing decisions not tied to a single NodeState (kept for a future
// caller; gate routing always has one via the gate's own node state, but
// RoutingEvent's schema allows recording routing independent of it).
func (p *Processor) recordRoutingEvent(ctx context.Context, stateID string, edge landscape.EdgeInfo, groupID string, ordinal int) error {
	return p.audit.RecordRoutingEvents(ctx, []landscape.RoutingEvent{{
		EventID:        idgen.New(idgen.PrefixRoutingEvent),
		StateID:        stateID,
		EdgeID:         edge.EdgeID,
		RoutingGroupID: groupID,
		Ordinal:        ordinal,
		Mode:           edge.DefaultMode,
	}})
}

// runSink invokes the Sink plugin bound to node with a single-row batch
// and records the resulting Artifact, completing the token COMPLETED
// (spec §4.12 rule 5, §9 "exceptions as control flow in sinks are
// replaced with explicit Write/Flush/Close methods").
func (p *Processor) runSink(ctx context.Context, tok landscape.Token, row landscape.PipelineRow, node *landscape.NodeRecord, stepInPipeline int) error {
	sink, ok := p.registry.Sink(node.PluginName)
	if !ok {
		return fmt.Errorf("orchestrator: no Sink plugin registered as %q", node.PluginName)
	}
	inputHash, err := landscape.StableHash(row.Data)
	if err != nil {
		return fmt.Errorf("orchestrator: hash sink input: %w", err)
	}

	var art plugin.ArtifactDescriptor
	callErr := p.runWithRetry(ctx, node.NodeID, func(ctx context.Context, attempt int) error {
		state, err := p.beginState(ctx, tok, node.NodeID, stepInPipeline, attempt, inputHash)
		if err != nil {
			return err
		}
		a, err := sink.Write(ctx, []landscape.PipelineRow{row})
		if err != nil {
			execErr := &landscape.ExecutionError{Exception: err.Error(), Type: fmt.Sprintf("%T", err)}
			if ferr := p.failState(ctx, state.StateID, execErr); ferr != nil {
				return ferr
			}
			if p.frameworkErrRetryable(err) {
				return &retryableError{err: execErr}
			}
			return execErr
		}
		outputHash, err := landscape.StableHash(a)
		if err != nil {
			return fmt.Errorf("orchestrator: hash artifact descriptor: %w", err)
		}
		if err := p.completeState(ctx, state.StateID, outputHash, nil); err != nil {
			return err
		}
		art = a
		return nil
	})
	if callErr != nil {
		return p.handleNodeFailure(ctx, tok, row, node, callErr)
	}

	record := landscape.Artifact{
		ArtifactID:     idgen.New(idgen.PrefixArtifact),
		RunID:          p.runID,
		SinkNodeID:     node.NodeID,
		PathOrURI:      art.PathOrURI,
		ContentHash:    art.ContentHash,
		SizeBytes:      art.SizeBytes,
		IdempotencyKey: art.IdempotencyKey,
	}
	if p.signer != nil {
		record.Signature = p.signer.Sign(record)
	}
	if err := p.audit.RecordArtifact(ctx, record); err != nil {
		return fmt.Errorf("orchestrator: record artifact: %w", err)
	}
	return p.tokens.Complete(ctx, tok.TokenID, landscape.OutcomeCompleted, "")
}

// runAggregation buffers tok's row into the aggregation node's batch and
// flushes the batch once a trigger fires (spec §4.7, §4.12 rule 4).
func (p *Processor) runAggregation(ctx context.Context, tok landscape.Token, row landscape.PipelineRow, node *landscape.NodeRecord, stepInPipeline int) error {
	agg, ok := p.registry.Aggregation(node.PluginName)
	if !ok {
		return fmt.Errorf("orchestrator: no Aggregation plugin registered as %q", node.PluginName)
	}
	state := p.aggregationStateFor(node.NodeID)
	state.mu.Lock()
	defer state.mu.Unlock()

	if err := p.tokens.Buffer(ctx, tok.TokenID); err != nil {
		return err
	}
	state.members = append(state.members, bufferedMember{token: tok, row: row, stepInPipeline: stepInPipeline})
	state.trigger.Observe()

	result := state.trigger.Evaluate(time.Now().UTC())
	if result.Err != nil {
		p.logger.Error("aggregation trigger evaluation failed", "run_id", p.runID, "node_id", node.NodeID, "error", result.Err)
		return nil
	}
	if !result.Fired {
		return nil
	}
	return p.flushAggregation(ctx, node, agg, state, result)
}
