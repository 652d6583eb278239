// Package orchestrator implements the processor described in spec §4.12:
// the single coordinator that walks tokens across an ExecutionGraph,
// invoking the plugin bound to each node via a plugin.Registry, and
// recording every OPEN/COMPLETED/FAILED transition through the audit
// store before the next step is scheduled on the same token. It is the
// one piece of the kernel that calls into user-supplied plugin code; every
// other landscape/ package only ever manipulates records about that code
// having run.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/landscaperun/landscape/landscape"
	"github.com/landscaperun/landscape/landscape/idgen"
	"github.com/landscaperun/landscape/landscape/plugin"
	"github.com/landscaperun/landscape/landscape/store"
)

// Processor drives tokens through a graph. Only Processor mutates
// run/node/token state (spec §5: "the coordinator is the only mutator of
// run/node/token state transitions"); plugin calls are the only part of a
// step that may block arbitrarily, and they run synchronously on the
// calling goroutine — callers that want concurrent rows in flight run
// multiple Processor.IngestRow calls from their own worker goroutines,
// since every method here is safe for concurrent use on a shared graph.
type Processor struct {
	runID    string
	graph    *landscape.ExecutionGraph
	registry *plugin.Registry
	audit    store.AuditStore
	payload  store.PayloadStore
	tokens   *landscape.TokenManager
	retry    *landscape.RetryManager
	logger   *slog.Logger
	signer   *landscape.ArtifactSigner

	// frameworkErrRetryable decides whether a raw Go error returned
	// directly by a plugin's Process/Evaluate/Write/Aggregate method (as
	// opposed to a TransformResult the plugin explicitly marked Retryable)
	// warrants another attempt. See SetFrameworkErrorRetryPredicate.
	frameworkErrRetryable landscape.IsRetryableFunc

	cancelled atomic.Bool

	aggMu sync.Mutex
	agg   map[string]*aggregationState

	coalesceMu sync.Mutex
	coalesce   map[string]*coalesceState

	batchMu    sync.Mutex
	batchXform map[string]*batchTransformState
}

// NewProcessor builds a processor for one run. retry may be nil, in which
// case every node call is attempted exactly once (no retry policy
// configured).
func NewProcessor(runID string, graph *landscape.ExecutionGraph, registry *plugin.Registry, audit store.AuditStore, payload store.PayloadStore, retry *landscape.RetryManager, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		runID:                 runID,
		graph:                 graph,
		registry:              registry,
		audit:                 audit,
		payload:               payload,
		tokens:                landscape.NewTokenManager(audit),
		retry:                 retry,
		logger:                logger,
		frameworkErrRetryable: defaultFrameworkErrRetryable,
		agg:                   make(map[string]*aggregationState),
		coalesce:              make(map[string]*coalesceState),
		batchXform:            make(map[string]*batchTransformState),
	}
}

// SetFrameworkErrorRetryPredicate overrides which raw framework errors
// (errors returned directly from Process/Evaluate/Write/Aggregate, not a
// plugin's own TransformResult.Retryable flag) are treated as retryable.
// The default only retries transport-style errors (see
// defaultFrameworkErrRetryable); callers with more specific knowledge of a
// plugin's failure modes may widen or narrow that set (spec's Open
// Question on the exact boundary of the retryable-exception predicate).
func (p *Processor) SetFrameworkErrorRetryPredicate(fn landscape.IsRetryableFunc) {
	if fn == nil {
		fn = defaultFrameworkErrRetryable
	}
	p.frameworkErrRetryable = fn
}

// SetSigner configures the ArtifactSigner this processor signs recorded
// artifacts with (spec §6). Call before the first IngestRow; nil (the
// zero value) leaves artifacts unsigned, which is the default when the
// configured environment variable is unset.
func (p *Processor) SetSigner(signer *landscape.ArtifactSigner) {
	p.signer = signer
}

// Cancel requests cooperative cancellation (spec §5): in-flight plugin
// calls are allowed to complete and have their state recorded, but no
// further scheduling decision proceeds past the next check.
func (p *Processor) Cancel() { p.cancelled.Store(true) }

func (p *Processor) isCancelled() bool { return p.cancelled.Load() }

// IngestRow creates a row and its first token from sourceNodeID's output
// and drives it down the source's single outgoing edge (spec §4.6:
// "creates rows and their first token in one transaction").
func (p *Processor) IngestRow(ctx context.Context, sourceNodeID string, data map[string]any, contract *landscape.SchemaContract) error {
	if p.isCancelled() {
		return nil
	}
	canonical, err := landscape.CanonicalJSON(data)
	if err != nil {
		return fmt.Errorf("orchestrator: canonicalize source row: %w", err)
	}
	sourceDataHash, err := landscape.StableHash(data)
	if err != nil {
		return fmt.Errorf("orchestrator: hash source row: %w", err)
	}
	payloadRef, err := p.payload.Store(ctx, canonical)
	if err != nil {
		return fmt.Errorf("orchestrator: store source row payload: %w", err)
	}

	_, token, err := p.tokens.CreateRowAndToken(ctx, sourceNodeID, 0, sourceDataHash, payloadRef)
	if err != nil {
		return fmt.Errorf("orchestrator: create row and token: %w", err)
	}

	next := p.graph.EdgesFrom(sourceNodeID)
	if len(next) == 0 {
		return p.tokens.Complete(ctx, token.TokenID, landscape.OutcomeFailed, "source node has no outgoing edge")
	}

	row := landscape.PipelineRow{Data: data, Contract: contract}
	return p.driveToken(ctx, token, row, next[0].To, 1)
}

// RunSource drains sourceNodeID's registered Source plugin to exhaustion,
// ingesting each yielded row as its own row+token pair (spec §4.12 rule
// 1). It returns once Next reports no more rows, the context is
// cancelled, or Cancel has been called.
func (p *Processor) RunSource(ctx context.Context, sourceNodeID string) error {
	node, ok := p.graph.GetNodeInfo(sourceNodeID)
	if !ok {
		return fmt.Errorf("orchestrator: source node %s not found in graph", sourceNodeID)
	}
	src, ok := p.registry.Source(node.PluginName)
	if !ok {
		return fmt.Errorf("orchestrator: no Source plugin registered as %q", node.PluginName)
	}
	for {
		if p.isCancelled() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		row, more, err := src.Next(ctx)
		if err != nil {
			return fmt.Errorf("orchestrator: source %s: %w", sourceNodeID, err)
		}
		if !more {
			return nil
		}
		if err := p.IngestRow(ctx, sourceNodeID, row.Data, row.Contract); err != nil {
			return err
		}
	}
}

// driveToken walks tok forward from nodeID until it reaches a terminal
// outcome (sink write, failure, or a fork/expand that hands the rest of
// the walk to child tokens). stepInPipeline numbers this hop for the
// token's audit trail.
func (p *Processor) driveToken(ctx context.Context, tok landscape.Token, row landscape.PipelineRow, nodeID string, stepInPipeline int) error {
	if p.isCancelled() {
		return nil
	}
	node, ok := p.graph.GetNodeInfo(nodeID)
	if !ok {
		return fmt.Errorf("orchestrator: node %s not found in graph", nodeID)
	}

	switch node.NodeType {
	case landscape.NodeTypeTransform:
		return p.runTransform(ctx, tok, row, node, stepInPipeline)
	case landscape.NodeTypeGate:
		return p.runGate(ctx, tok, row, node, stepInPipeline)
	case landscape.NodeTypeSink:
		return p.runSink(ctx, tok, row, node, stepInPipeline)
	case landscape.NodeTypeAggregation:
		return p.runAggregation(ctx, tok, row, node, stepInPipeline)
	case landscape.NodeTypeCoalesce:
		return p.runCoalesce(ctx, tok, row, node, stepInPipeline)
	default:
		return fmt.Errorf("orchestrator: node %s has unexpected type %s mid-walk", nodeID, node.NodeType)
	}
}

// beginState opens a NodeState for one attempt at nodeID and returns it so
// callers can complete or fail it. inputHash is the canonical hash of
// whatever the plugin is about to see (a single row, or a batch).
func (p *Processor) beginState(ctx context.Context, tok landscape.Token, nodeID string, stepInPipeline, attempt int, inputHash string) (landscape.NodeState, error) {
	state := landscape.NodeState{
		StateID:   idgen.New(idgen.PrefixNodeState),
		TokenID:   tok.TokenID,
		NodeID:    nodeID,
		StepIndex: stepInPipeline,
		Attempt:   attempt,
		InputHash: inputHash,
		StartedAt: time.Now().UTC(),
		Status:    landscape.NodeStateOpen,
	}
	if err := p.audit.BeginNodeState(ctx, state); err != nil {
		return landscape.NodeState{}, fmt.Errorf("orchestrator: begin node state for %s: %w", nodeID, err)
	}
	return state, nil
}

func (p *Processor) completeState(ctx context.Context, stateID string, outputHash string, successReason map[string]any) error {
	return p.audit.CompleteNodeState(ctx, stateID, landscape.NodeStateCompleted, time.Now().UTC(), outputHash, successReason, nil)
}

func (p *Processor) failState(ctx context.Context, stateID string, execErr *landscape.ExecutionError) error {
	return p.audit.CompleteNodeState(ctx, stateID, landscape.NodeStateFailed, time.Now().UTC(), "", nil, execErr)
}

// divertEdge returns the DIVERT-mode edge out of nodeID, if the graph
// declares one, for routing a row to a quarantine sink on unrecoverable
// failure (spec §4.12 rule 6: "Sources can route rows to a quarantine
// sink via DIVERT edges").
func (p *Processor) divertEdge(nodeID string) (landscape.EdgeInfo, bool) {
	for _, e := range p.graph.EdgesFrom(nodeID) {
		if e.DefaultMode == landscape.RoutingModeDivert {
			return e, true
		}
	}
	return landscape.EdgeInfo{}, false
}
