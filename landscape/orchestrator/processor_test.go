package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/landscaperun/landscape/landscape"
	"github.com/landscaperun/landscape/landscape/plugin"
	"github.com/landscaperun/landscape/landscape/store"
)

// recordingAuditStore wraps MemoryStore to additionally collect every
// token outcome recorded, so tests can assert on terminal dispositions
// without reaching into MemoryStore's unexported maps.
type recordingAuditStore struct {
	*store.MemoryStore
	mu        sync.Mutex
	outcomes  []landscape.TokenOutcome
	artifacts []landscape.Artifact
}

func newRecordingAuditStore() *recordingAuditStore {
	return &recordingAuditStore{MemoryStore: store.NewMemoryStore()}
}

func (r *recordingAuditStore) RecordTokenOutcome(ctx context.Context, outcome landscape.TokenOutcome) error {
	if err := r.MemoryStore.RecordTokenOutcome(ctx, outcome); err != nil {
		return err
	}
	r.mu.Lock()
	r.outcomes = append(r.outcomes, outcome)
	r.mu.Unlock()
	return nil
}

func (r *recordingAuditStore) RecordArtifact(ctx context.Context, artifact landscape.Artifact) error {
	if err := r.MemoryStore.RecordArtifact(ctx, artifact); err != nil {
		return err
	}
	r.mu.Lock()
	r.artifacts = append(r.artifacts, artifact)
	r.mu.Unlock()
	return nil
}

func (r *recordingAuditStore) outcomesOfKind(kind landscape.TokenOutcomeKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, o := range r.outcomes {
		if o.Outcome == kind {
			n++
		}
	}
	return n
}

type countingSource struct {
	rows []map[string]any
	i    int
}

func (s *countingSource) Meta() plugin.Meta {
	return plugin.Meta{Name: "count_source", PluginVersion: "1.0.0", Determinism: landscape.DeterminismIORead}
}

func (s *countingSource) Next(ctx context.Context) (landscape.PipelineRow, bool, error) {
	if s.i >= len(s.rows) {
		return landscape.PipelineRow{}, false, nil
	}
	row := landscape.PipelineRow{Data: s.rows[s.i]}
	s.i++
	return row, true, nil
}

type doublingTransform struct{}

func (doublingTransform) Meta() plugin.Meta {
	return plugin.Meta{Name: "doubler", PluginVersion: "1.0.0", Determinism: landscape.DeterminismDeterministic}
}

func (doublingTransform) Process(ctx context.Context, row landscape.PipelineRow) (plugin.TransformResult, error) {
	n, _ := row.Data["n"].(int)
	out := landscape.PipelineRow{Data: map[string]any{"n": n * 2}}
	return plugin.Success(out, nil), nil
}

type capturingSink struct {
	mu   sync.Mutex
	name string
	rows []map[string]any
}

func (s *capturingSink) Meta() plugin.Meta {
	return plugin.Meta{Name: s.name, PluginVersion: "1.0.0", Determinism: landscape.DeterminismIOWrite}
}

func (s *capturingSink) Write(ctx context.Context, batch []landscape.PipelineRow) (plugin.ArtifactDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range batch {
		s.rows = append(s.rows, row.Data)
	}
	return plugin.ArtifactDescriptor{PathOrURI: "mem://" + s.name, ContentHash: "n/a"}, nil
}

func (s *capturingSink) Flush(ctx context.Context) error              { return nil }
func (s *capturingSink) Close(ctx context.Context) error              { return nil }
func (s *capturingSink) SupportsResume() bool                         { return false }
func (s *capturingSink) ConfigureForResume(ctx context.Context) error { return nil }

func (s *capturingSink) captured() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, len(s.rows))
	copy(out, s.rows)
	return out
}

// TestProcessorSourceTransformSink covers spec §8 property S1: each
// source row flows through one transform to one sink and completes.
func TestProcessorSourceTransformSink(t *testing.T) {
	nodes := []landscape.NodeRecord{
		{NodeID: "src", PluginName: "count_source", NodeType: landscape.NodeTypeSource, Determinism: landscape.DeterminismIORead},
		{NodeID: "xf", PluginName: "doubler", NodeType: landscape.NodeTypeTransform, Determinism: landscape.DeterminismDeterministic},
		{NodeID: "sink", PluginName: "out", NodeType: landscape.NodeTypeSink, Determinism: landscape.DeterminismIOWrite},
	}
	edges := []landscape.EdgeRecord{
		{EdgeID: "e1", FromNode: "src", ToNode: "xf", Label: "continue", DefaultMode: landscape.RoutingModeMove},
		{EdgeID: "e2", FromNode: "xf", ToNode: "sink", Label: "continue", DefaultMode: landscape.RoutingModeMove},
	}
	graph, problems := landscape.NewExecutionGraph(nodes, edges, nil, []string{"sink"})
	if len(problems) != 0 {
		t.Fatalf("unexpected graph problems: %v", problems)
	}

	registry := plugin.NewRegistry()
	src := &countingSource{rows: []map[string]any{{"n": 1}, {"n": 2}}}
	sink := &capturingSink{name: "out"}
	if err := registry.RegisterSource(src); err != nil {
		t.Fatalf("RegisterSource: %v", err)
	}
	if err := registry.RegisterTransform(doublingTransform{}); err != nil {
		t.Fatalf("RegisterTransform: %v", err)
	}
	if err := registry.RegisterSink(sink); err != nil {
		t.Fatalf("RegisterSink: %v", err)
	}

	audit := newRecordingAuditStore()
	payload, err := store.NewFilesystemPayloadStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemPayloadStore: %v", err)
	}
	p := NewProcessor("run-1", graph, registry, audit, payload, nil, nil)

	if err := p.RunSource(context.Background(), "src"); err != nil {
		t.Fatalf("RunSource: %v", err)
	}

	got := sink.captured()
	if len(got) != 2 || got[0]["n"] != 2 || got[1]["n"] != 4 {
		t.Fatalf("unexpected sink rows: %+v", got)
	}
	if n := audit.outcomesOfKind(landscape.OutcomeCompleted); n != 2 {
		t.Fatalf("expected 2 COMPLETED outcomes, got %d", n)
	}
}

// TestProcessorSignsArtifactsWhenSignerConfigured covers spec §6: a
// processor with an ArtifactSigner set signs every recorded artifact, and
// a processor without one leaves Signature nil.
func TestProcessorSignsArtifactsWhenSignerConfigured(t *testing.T) {
	nodes := []landscape.NodeRecord{
		{NodeID: "src", PluginName: "count_source", NodeType: landscape.NodeTypeSource, Determinism: landscape.DeterminismIORead},
		{NodeID: "sink", PluginName: "out", NodeType: landscape.NodeTypeSink, Determinism: landscape.DeterminismIOWrite},
	}
	edges := []landscape.EdgeRecord{
		{EdgeID: "e1", FromNode: "src", ToNode: "sink", Label: "continue", DefaultMode: landscape.RoutingModeMove},
	}
	graph, problems := landscape.NewExecutionGraph(nodes, edges, nil, []string{"sink"})
	if len(problems) != 0 {
		t.Fatalf("unexpected graph problems: %v", problems)
	}

	payload, err := store.NewFilesystemPayloadStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemPayloadStore: %v", err)
	}

	t.Setenv("LANDSCAPE_SIGNING_KEY_PROCESSOR_TEST", "processor-test-key")
	signer, ok := landscape.NewArtifactSigner("LANDSCAPE_SIGNING_KEY_PROCESSOR_TEST")
	if !ok {
		t.Fatal("expected ok=true when the signing key env var is set")
	}

	signedRegistry := plugin.NewRegistry()
	if err := signedRegistry.RegisterSource(&countingSource{rows: []map[string]any{{"n": 1}}}); err != nil {
		t.Fatalf("RegisterSource: %v", err)
	}
	if err := signedRegistry.RegisterSink(&capturingSink{name: "out"}); err != nil {
		t.Fatalf("RegisterSink: %v", err)
	}
	signedAudit := newRecordingAuditStore()
	signedProcessor := NewProcessor("run-signed", graph, signedRegistry, signedAudit, payload, nil, nil)
	signedProcessor.SetSigner(signer)
	if err := signedProcessor.RunSource(context.Background(), "src"); err != nil {
		t.Fatalf("RunSource: %v", err)
	}
	if len(signedAudit.artifacts) != 1 {
		t.Fatalf("expected 1 recorded artifact, got %d", len(signedAudit.artifacts))
	}
	signed := signedAudit.artifacts[0]
	if len(signed.Signature) == 0 {
		t.Fatal("expected a non-empty signature when a signer is configured")
	}
	if !signer.VerifySignature(signed, signed.Signature) {
		t.Fatal("expected the recorded signature to verify")
	}

	unsignedRegistry := plugin.NewRegistry()
	if err := unsignedRegistry.RegisterSource(&countingSource{rows: []map[string]any{{"n": 1}}}); err != nil {
		t.Fatalf("RegisterSource: %v", err)
	}
	if err := unsignedRegistry.RegisterSink(&capturingSink{name: "out"}); err != nil {
		t.Fatalf("RegisterSink: %v", err)
	}
	unsignedAudit := newRecordingAuditStore()
	unsignedProcessor := NewProcessor("run-unsigned", graph, unsignedRegistry, unsignedAudit, payload, nil, nil)
	if err := unsignedProcessor.RunSource(context.Background(), "src"); err != nil {
		t.Fatalf("RunSource: %v", err)
	}
	if len(unsignedAudit.artifacts) != 1 {
		t.Fatalf("expected 1 recorded artifact, got %d", len(unsignedAudit.artifacts))
	}
	if unsignedAudit.artifacts[0].Signature != nil {
		t.Fatal("expected no signature when no signer is configured")
	}
}

type thresholdGate struct {
	threshold int
}

func (g thresholdGate) Meta() plugin.Meta {
	return plugin.Meta{Name: "threshold_gate", PluginVersion: "1.0.0", Determinism: landscape.DeterminismDeterministic}
}

func (g thresholdGate) Evaluate(ctx context.Context, row landscape.PipelineRow) (landscape.RoutingAction, error) {
	n, _ := row.Data["n"].(int)
	reason := &landscape.RoutingReason{Kind: landscape.ReasonKindConfigGate, Condition: "n >= threshold", Result: n >= g.threshold}
	if n >= g.threshold {
		return landscape.RoutingActionRoute("high", reason), nil
	}
	return landscape.RoutingActionRoute("low", reason), nil
}

// TestProcessorGateRoutesToDistinctSinks covers spec §8 property S2: a
// gate's ROUTE decision sends a row to exactly one of several labeled
// sinks, with a RoutingEvent recorded for the traversed edge.
func TestProcessorGateRoutesToDistinctSinks(t *testing.T) {
	nodes := []landscape.NodeRecord{
		{NodeID: "src", PluginName: "count_source", NodeType: landscape.NodeTypeSource, Determinism: landscape.DeterminismIORead},
		{NodeID: "gate", PluginName: "threshold_gate", NodeType: landscape.NodeTypeGate, Determinism: landscape.DeterminismDeterministic},
		{NodeID: "sink_high", PluginName: "high", NodeType: landscape.NodeTypeSink, Determinism: landscape.DeterminismIOWrite},
		{NodeID: "sink_low", PluginName: "low", NodeType: landscape.NodeTypeSink, Determinism: landscape.DeterminismIOWrite},
	}
	edges := []landscape.EdgeRecord{
		{EdgeID: "e1", FromNode: "src", ToNode: "gate", Label: "continue", DefaultMode: landscape.RoutingModeMove},
		{EdgeID: "e2", FromNode: "gate", ToNode: "sink_high", Label: "high", DefaultMode: landscape.RoutingModeMove},
		{EdgeID: "e3", FromNode: "gate", ToNode: "sink_low", Label: "low", DefaultMode: landscape.RoutingModeMove},
	}
	routeConfig := []landscape.GateRouteConfig{
		{GateNodeID: "gate", Label: "high", SinkName: "sink_high"},
		{GateNodeID: "gate", Label: "low", SinkName: "sink_low"},
	}
	graph, problems := landscape.NewExecutionGraph(nodes, edges, routeConfig, []string{"sink_high", "sink_low"})
	if len(problems) != 0 {
		t.Fatalf("unexpected graph problems: %v", problems)
	}

	registry := plugin.NewRegistry()
	src := &countingSource{rows: []map[string]any{{"n": 1}, {"n": 9}}}
	high := &capturingSink{name: "high"}
	low := &capturingSink{name: "low"}
	if err := registry.RegisterSource(src); err != nil {
		t.Fatalf("RegisterSource: %v", err)
	}
	if err := registry.RegisterGate(thresholdGate{threshold: 5}); err != nil {
		t.Fatalf("RegisterGate: %v", err)
	}
	if err := registry.RegisterSink(high); err != nil {
		t.Fatalf("RegisterSink high: %v", err)
	}
	if err := registry.RegisterSink(low); err != nil {
		t.Fatalf("RegisterSink low: %v", err)
	}

	audit := newRecordingAuditStore()
	payload, err := store.NewFilesystemPayloadStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemPayloadStore: %v", err)
	}
	p := NewProcessor("run-2", graph, registry, audit, payload, nil, nil)

	if err := p.RunSource(context.Background(), "src"); err != nil {
		t.Fatalf("RunSource: %v", err)
	}

	if got := low.captured(); len(got) != 1 || got[0]["n"] != 1 {
		t.Fatalf("expected one row routed to low sink, got %+v", got)
	}
	if got := high.captured(); len(got) != 1 || got[0]["n"] != 9 {
		t.Fatalf("expected one row routed to high sink, got %+v", got)
	}
}

type forkGate struct{}

func (forkGate) Meta() plugin.Meta {
	return plugin.Meta{Name: "fork_gate", PluginVersion: "1.0.0", Determinism: landscape.DeterminismDeterministic}
}

func (forkGate) Evaluate(ctx context.Context, row landscape.PipelineRow) (landscape.RoutingAction, error) {
	return landscape.RoutingActionForkToPaths([]string{"branch_a", "branch_b"}, nil)
}

// TestProcessorGateForksToBothBranches covers spec §8 property S3: a
// FORK_TO_PATHS routing action copies the row down every listed branch,
// each branch's token landing at its own sink.
func TestProcessorGateForksToBothBranches(t *testing.T) {
	nodes := []landscape.NodeRecord{
		{NodeID: "src", PluginName: "count_source", NodeType: landscape.NodeTypeSource, Determinism: landscape.DeterminismIORead},
		{NodeID: "gate", PluginName: "fork_gate", NodeType: landscape.NodeTypeGate, Determinism: landscape.DeterminismDeterministic},
		{NodeID: "sink_a", PluginName: "a", NodeType: landscape.NodeTypeSink, Determinism: landscape.DeterminismIOWrite},
		{NodeID: "sink_b", PluginName: "b", NodeType: landscape.NodeTypeSink, Determinism: landscape.DeterminismIOWrite},
	}
	edges := []landscape.EdgeRecord{
		{EdgeID: "e1", FromNode: "src", ToNode: "gate", Label: "continue", DefaultMode: landscape.RoutingModeMove},
		{EdgeID: "e2", FromNode: "gate", ToNode: "sink_a", Label: "branch_a", DefaultMode: landscape.RoutingModeCopy},
		{EdgeID: "e3", FromNode: "gate", ToNode: "sink_b", Label: "branch_b", DefaultMode: landscape.RoutingModeCopy},
	}
	routeConfig := []landscape.GateRouteConfig{
		{GateNodeID: "gate", Label: "branch_a", SinkName: "sink_a"},
		{GateNodeID: "gate", Label: "branch_b", SinkName: "sink_b"},
	}
	graph, problems := landscape.NewExecutionGraph(nodes, edges, routeConfig, []string{"sink_a", "sink_b"})
	if len(problems) != 0 {
		t.Fatalf("unexpected graph problems: %v", problems)
	}

	registry := plugin.NewRegistry()
	src := &countingSource{rows: []map[string]any{{"n": 1}}}
	a := &capturingSink{name: "a"}
	b := &capturingSink{name: "b"}
	if err := registry.RegisterSource(src); err != nil {
		t.Fatalf("RegisterSource: %v", err)
	}
	if err := registry.RegisterGate(forkGate{}); err != nil {
		t.Fatalf("RegisterGate: %v", err)
	}
	if err := registry.RegisterSink(a); err != nil {
		t.Fatalf("RegisterSink a: %v", err)
	}
	if err := registry.RegisterSink(b); err != nil {
		t.Fatalf("RegisterSink b: %v", err)
	}

	audit := newRecordingAuditStore()
	payload, err := store.NewFilesystemPayloadStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemPayloadStore: %v", err)
	}
	p := NewProcessor("run-3", graph, registry, audit, payload, nil, nil)

	if err := p.RunSource(context.Background(), "src"); err != nil {
		t.Fatalf("RunSource: %v", err)
	}

	if got := a.captured(); len(got) != 1 || got[0]["n"] != 1 {
		t.Fatalf("expected branch_a to receive the row, got %+v", got)
	}
	if got := b.captured(); len(got) != 1 || got[0]["n"] != 1 {
		t.Fatalf("expected branch_b to receive the row, got %+v", got)
	}
	if n := audit.outcomesOfKind(landscape.OutcomeForked); n != 1 {
		t.Fatalf("expected 1 FORKED outcome for the parent token, got %d", n)
	}
	if n := audit.outcomesOfKind(landscape.OutcomeCompleted); n != 2 {
		t.Fatalf("expected 2 COMPLETED outcomes, one per branch, got %d", n)
	}
}

// TestProcessorTransformFailureQuarantinesViaDivertEdge covers spec §4.12
// rule 6: an unrecoverable Transform failure routes the row to its
// DIVERT edge's sink and records QUARANTINED rather than FAILED.
func TestProcessorTransformFailureQuarantinesViaDivertEdge(t *testing.T) {
	nodes := []landscape.NodeRecord{
		{NodeID: "src", PluginName: "count_source", NodeType: landscape.NodeTypeSource, Determinism: landscape.DeterminismIORead},
		{NodeID: "xf", PluginName: "failing", NodeType: landscape.NodeTypeTransform, Determinism: landscape.DeterminismDeterministic},
		{NodeID: "quarantine", PluginName: "q", NodeType: landscape.NodeTypeSink, Determinism: landscape.DeterminismIOWrite},
	}
	edges := []landscape.EdgeRecord{
		{EdgeID: "e1", FromNode: "src", ToNode: "xf", Label: "continue", DefaultMode: landscape.RoutingModeMove},
		{EdgeID: "e2", FromNode: "xf", ToNode: "quarantine", Label: "divert", DefaultMode: landscape.RoutingModeDivert},
	}
	graph, problems := landscape.NewExecutionGraph(nodes, edges, nil, []string{"quarantine"})
	if len(problems) != 0 {
		t.Fatalf("unexpected graph problems: %v", problems)
	}

	registry := plugin.NewRegistry()
	src := &countingSource{rows: []map[string]any{{"n": 1}}}
	quarantine := &capturingSink{name: "q"}
	if err := registry.RegisterSource(src); err != nil {
		t.Fatalf("RegisterSource: %v", err)
	}
	if err := registry.RegisterTransform(alwaysFailingTransform{}); err != nil {
		t.Fatalf("RegisterTransform: %v", err)
	}
	if err := registry.RegisterSink(quarantine); err != nil {
		t.Fatalf("RegisterSink: %v", err)
	}

	audit := newRecordingAuditStore()
	payload, err := store.NewFilesystemPayloadStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemPayloadStore: %v", err)
	}
	p := NewProcessor("run-4", graph, registry, audit, payload, nil, nil)

	if err := p.RunSource(context.Background(), "src"); err != nil {
		t.Fatalf("RunSource: %v", err)
	}

	if got := quarantine.captured(); len(got) != 1 || got[0]["n"] != 1 {
		t.Fatalf("expected quarantined row at the divert sink, got %+v", got)
	}
	if n := audit.outcomesOfKind(landscape.OutcomeQuarantined); n != 1 {
		t.Fatalf("expected 1 QUARANTINED outcome, got %d", n)
	}
	if n := audit.outcomesOfKind(landscape.OutcomeFailed); n != 0 {
		t.Fatalf("expected 0 FAILED outcomes when a divert edge absorbs the failure, got %d", n)
	}
}

// TestProcessorForkThenCoalesceJoinsBothBranches covers spec §4.6: a
// FORK_TO_PATHS gate's branches converge at a downstream COALESCE node,
// which buffers each sibling as it arrives (driven one at a time by
// applyRoutingAction's RoutingForkToPaths case) and joins them into a
// single child token once every declared incoming edge has delivered one,
// rather than refusing the node outright.
func TestProcessorForkThenCoalesceJoinsBothBranches(t *testing.T) {
	nodes := []landscape.NodeRecord{
		{NodeID: "src", PluginName: "count_source", NodeType: landscape.NodeTypeSource, Determinism: landscape.DeterminismIORead},
		{NodeID: "gate", PluginName: "fork_gate", NodeType: landscape.NodeTypeGate, Determinism: landscape.DeterminismDeterministic},
		{NodeID: "join", NodeType: landscape.NodeTypeCoalesce, Determinism: landscape.DeterminismDeterministic},
		{NodeID: "sink", PluginName: "out", NodeType: landscape.NodeTypeSink, Determinism: landscape.DeterminismIOWrite},
	}
	edges := []landscape.EdgeRecord{
		{EdgeID: "e1", FromNode: "src", ToNode: "gate", Label: "continue", DefaultMode: landscape.RoutingModeMove},
		{EdgeID: "e2", FromNode: "gate", ToNode: "join", Label: "branch_a", DefaultMode: landscape.RoutingModeCopy},
		{EdgeID: "e3", FromNode: "gate", ToNode: "join", Label: "branch_b", DefaultMode: landscape.RoutingModeCopy},
		{EdgeID: "e4", FromNode: "join", ToNode: "sink", Label: "continue", DefaultMode: landscape.RoutingModeMove},
	}
	routeConfig := []landscape.GateRouteConfig{
		{GateNodeID: "gate", Label: "branch_a", NextNodeID: "join"},
		{GateNodeID: "gate", Label: "branch_b", NextNodeID: "join"},
	}
	graph, problems := landscape.NewExecutionGraph(nodes, edges, routeConfig, []string{"sink"})
	if len(problems) != 0 {
		t.Fatalf("unexpected graph problems: %v", problems)
	}

	registry := plugin.NewRegistry()
	src := &countingSource{rows: []map[string]any{{"n": 1}}}
	sink := &capturingSink{name: "out"}
	if err := registry.RegisterSource(src); err != nil {
		t.Fatalf("RegisterSource: %v", err)
	}
	if err := registry.RegisterGate(forkGate{}); err != nil {
		t.Fatalf("RegisterGate: %v", err)
	}
	if err := registry.RegisterSink(sink); err != nil {
		t.Fatalf("RegisterSink: %v", err)
	}

	audit := newRecordingAuditStore()
	payload, err := store.NewFilesystemPayloadStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemPayloadStore: %v", err)
	}
	p := NewProcessor("run-5", graph, registry, audit, payload, nil, nil)

	if err := p.RunSource(context.Background(), "src"); err != nil {
		t.Fatalf("RunSource: %v", err)
	}

	if got := sink.captured(); len(got) != 1 || got[0]["n"] != 1 {
		t.Fatalf("expected exactly one joined row at the sink, got %+v", got)
	}
	if n := audit.outcomesOfKind(landscape.OutcomeForked); n != 1 {
		t.Fatalf("expected 1 FORKED outcome for the parent token, got %d", n)
	}
	if n := audit.outcomesOfKind(landscape.OutcomeCoalesced); n != 2 {
		t.Fatalf("expected both fork branches to record COALESCED, got %d", n)
	}
	if n := audit.outcomesOfKind(landscape.OutcomeCompleted); n != 1 {
		t.Fatalf("expected 1 COMPLETED outcome for the joined child token, got %d", n)
	}
}

// doublingBatchTransform is a batch-aware Transform: Process exists only to
// satisfy the plugin.Transform interface (runTransform never calls it once
// Meta().IsBatchAware is true) and ProcessBatch doubles every row in the
// flushed batch, one output per input at the same index.
type doublingBatchTransform struct{}

func (doublingBatchTransform) Meta() plugin.Meta {
	return plugin.Meta{Name: "batch_doubler", PluginVersion: "1.0.0", Determinism: landscape.DeterminismDeterministic, IsBatchAware: true}
}

func (doublingBatchTransform) Process(ctx context.Context, row landscape.PipelineRow) (plugin.TransformResult, error) {
	return plugin.TransformResult{}, fmt.Errorf("doublingBatchTransform: Process should never be called for a batch-aware node")
}

func (doublingBatchTransform) ProcessBatch(ctx context.Context, rows []landscape.PipelineRow) (plugin.TransformResult, error) {
	out := make([]landscape.PipelineRow, len(rows))
	for i, row := range rows {
		n, _ := row.Data["n"].(int)
		out[i] = landscape.PipelineRow{Data: map[string]any{"n": n * 2}}
	}
	return plugin.SuccessMulti(out, nil, nil), nil
}

// TestProcessorBatchAwareTransformFlushesTogether covers spec §4.8: two
// rows arriving concurrently at a batch-aware Transform node are buffered
// into one shared ProcessBatch call once the count trigger fires, and each
// row's own SharedBatchAdapter.RowWaiter resolves to its own output by
// index rather than both rows receiving the same result. RunSource drives
// one row at a time to completion (see Processor's own doc comment on
// IngestRow being the unit of concurrency), so this test ingests both rows
// itself from separate goroutines to actually exercise the buffer-until-
// trigger-fires path instead of deadlocking on a lone row waiting for a
// sibling that RunSource would never send.
func TestProcessorBatchAwareTransformFlushesTogether(t *testing.T) {
	nodes := []landscape.NodeRecord{
		{NodeID: "src", PluginName: "count_source", NodeType: landscape.NodeTypeSource, Determinism: landscape.DeterminismIORead},
		{NodeID: "xf", PluginName: "batch_doubler", NodeType: landscape.NodeTypeTransform, Determinism: landscape.DeterminismDeterministic},
		{NodeID: "sink", PluginName: "out", NodeType: landscape.NodeTypeSink, Determinism: landscape.DeterminismIOWrite},
	}
	edges := []landscape.EdgeRecord{
		{EdgeID: "e1", FromNode: "src", ToNode: "xf", Label: "continue", DefaultMode: landscape.RoutingModeMove},
		{EdgeID: "e2", FromNode: "xf", ToNode: "sink", Label: "continue", DefaultMode: landscape.RoutingModeMove},
	}
	graph, problems := landscape.NewExecutionGraph(nodes, edges, nil, []string{"sink"})
	if len(problems) != 0 {
		t.Fatalf("unexpected graph problems: %v", problems)
	}

	registry := plugin.NewRegistry()
	sink := &capturingSink{name: "out"}
	if err := registry.RegisterTransform(doublingBatchTransform{}); err != nil {
		t.Fatalf("RegisterTransform: %v", err)
	}
	if err := registry.RegisterSink(sink); err != nil {
		t.Fatalf("RegisterSink: %v", err)
	}

	audit := newRecordingAuditStore()
	payload, err := store.NewFilesystemPayloadStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemPayloadStore: %v", err)
	}
	p := NewProcessor("run-6", graph, registry, audit, payload, nil, nil)
	p.RegisterBatchTransformTrigger("xf", landscape.TriggerConfig{Count: 2})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, n := range []int{1, 2} {
		wg.Add(1)
		go func(i, n int) {
			defer wg.Done()
			errs[i] = p.IngestRow(context.Background(), "src", map[string]any{"n": n}, nil)
		}(i, n)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			t.Fatalf("IngestRow: %v", err)
		}
	}

	got := sink.captured()
	if len(got) != 2 {
		t.Fatalf("expected 2 rows at the sink, got %+v", got)
	}
	sum := 0
	for _, row := range got {
		n, _ := row["n"].(int)
		sum += n
	}
	if sum != 6 {
		t.Fatalf("expected doubled rows summing to 6 (2+4), got sum %d from %+v", sum, got)
	}
	if n := audit.outcomesOfKind(landscape.OutcomeCompleted); n != 2 {
		t.Fatalf("expected 2 COMPLETED outcomes, got %d", n)
	}
}

type alwaysFailingTransform struct{}

func (alwaysFailingTransform) Meta() plugin.Meta {
	return plugin.Meta{Name: "failing", PluginVersion: "1.0.0", Determinism: landscape.DeterminismDeterministic}
}

func (alwaysFailingTransform) Process(ctx context.Context, row landscape.PipelineRow) (plugin.TransformResult, error) {
	return plugin.TransformErrorResult(landscape.TransformErrorReason{Reason: "always_fails", Message: "this transform always fails"}, false), nil
}
