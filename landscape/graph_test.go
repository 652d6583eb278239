package landscape

import "testing"

func sampleNodes() []NodeRecord {
	return []NodeRecord{
		{NodeID: "src", NodeType: NodeTypeSource, Determinism: DeterminismIORead, PluginName: "csv_source"},
		{NodeID: "gate", NodeType: NodeTypeGate, Determinism: DeterminismDeterministic, PluginName: "threshold_gate"},
		{NodeID: "sink_high", NodeType: NodeTypeSink, Determinism: DeterminismIOWrite, PluginName: "csv_sink"},
		{NodeID: "sink_low", NodeType: NodeTypeSink, Determinism: DeterminismIOWrite, PluginName: "csv_sink"},
	}
}

func TestNewExecutionGraphRejectsUndeclaredDeterminism(t *testing.T) {
	nodes := []NodeRecord{{NodeID: "bad", NodeType: NodeTypeTransform}}
	_, problems := NewExecutionGraph(nodes, nil, nil, nil)
	if len(problems) == 0 {
		t.Fatal("expected a problem for undeclared determinism")
	}
}

func TestNewExecutionGraphRejectsUnresolvedSink(t *testing.T) {
	nodes := sampleNodes()
	edges := []EdgeRecord{
		{EdgeID: "e1", FromNode: "src", ToNode: "gate", Label: "continue", DefaultMode: RoutingModeMove},
	}
	routes := []GateRouteConfig{
		{GateNodeID: "gate", Label: "high", SinkName: "does_not_exist"},
	}
	_, problems := NewExecutionGraph(nodes, edges, routes, []string{"sink_high", "sink_low"})
	if len(problems) == 0 {
		t.Fatal("expected a problem for routing to a non-existent sink")
	}
}

func TestNewExecutionGraphResolvesRoutes(t *testing.T) {
	nodes := sampleNodes()
	edges := []EdgeRecord{
		{EdgeID: "e1", FromNode: "src", ToNode: "gate", Label: "continue", DefaultMode: RoutingModeMove},
	}
	routes := []GateRouteConfig{
		{GateNodeID: "gate", Label: "high", SinkName: "sink_high"},
		{GateNodeID: "gate", Label: "low", SinkName: "sink_low"},
	}
	g, problems := NewExecutionGraph(nodes, edges, routes, []string{"sink_high", "sink_low"})
	if len(problems) > 0 {
		t.Fatalf("unexpected problems: %v", problems)
	}
	dest, ok := g.ResolveRoute("gate", "high")
	if !ok || dest.Kind != DestinationSink || dest.SinkName != "sink_high" {
		t.Fatalf("expected route to sink_high, got %+v ok=%v", dest, ok)
	}
}

func TestNewExecutionGraphRejectsDuplicateForkBranch(t *testing.T) {
	nodes := append(sampleNodes(), NodeRecord{NodeID: "gate2", NodeType: NodeTypeGate, Determinism: DeterminismDeterministic})
	routes := []GateRouteConfig{
		{GateNodeID: "gate", Label: "branch_a", Fork: []string{"shared"}},
		{GateNodeID: "gate2", Label: "branch_a", Fork: []string{"shared"}},
	}
	_, problems := NewExecutionGraph(nodes, nil, routes, nil)
	if len(problems) == 0 {
		t.Fatal("expected global fork-branch uniqueness violation to be reported")
	}
}

func TestUpstreamTopologyHashChangesWithConfig(t *testing.T) {
	nodes := []NodeRecord{
		{NodeID: "src", NodeType: NodeTypeSource, Determinism: DeterminismIORead, ConfigHash: "h1"},
		{NodeID: "xform", NodeType: NodeTypeTransform, Determinism: DeterminismDeterministic, ConfigHash: "h2"},
	}
	edges := []EdgeRecord{{EdgeID: "e1", FromNode: "src", ToNode: "xform", Label: "continue", DefaultMode: RoutingModeMove}}
	g1, problems := NewExecutionGraph(nodes, edges, nil, nil)
	if len(problems) > 0 {
		t.Fatalf("unexpected problems: %v", problems)
	}
	h1, err := g1.UpstreamTopologyHash("xform")
	if err != nil {
		t.Fatal(err)
	}

	nodes[0].ConfigHash = "h1-changed"
	g2, problems := NewExecutionGraph(nodes, edges, nil, nil)
	if len(problems) > 0 {
		t.Fatalf("unexpected problems: %v", problems)
	}
	h2, err := g2.UpstreamTopologyHash("xform")
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h2 {
		t.Fatal("expected upstream topology hash to change when an upstream node's config changes")
	}
}

func TestEdgesFromSortedByLabel(t *testing.T) {
	nodes := sampleNodes()
	edges := []EdgeRecord{
		{EdgeID: "e1", FromNode: "gate", ToNode: "sink_high", Label: "z_branch", DefaultMode: RoutingModeMove},
		{EdgeID: "e2", FromNode: "gate", ToNode: "sink_low", Label: "a_branch", DefaultMode: RoutingModeMove},
	}
	g, problems := NewExecutionGraph(nodes, edges, nil, []string{"sink_high", "sink_low"})
	if len(problems) > 0 {
		t.Fatalf("unexpected problems: %v", problems)
	}
	out := g.EdgesFrom("gate")
	if len(out) != 2 || out[0].Label != "a_branch" {
		t.Fatalf("expected stable lexicographic order, got %+v", out)
	}
}

func TestEdgesToSortedByFrom(t *testing.T) {
	nodes := append(sampleNodes(), NodeRecord{NodeID: "join", NodeType: NodeTypeCoalesce, Determinism: DeterminismDeterministic})
	edges := []EdgeRecord{
		{EdgeID: "e1", FromNode: "sink_high", ToNode: "join", Label: "a", DefaultMode: RoutingModeMove},
		{EdgeID: "e2", FromNode: "sink_low", ToNode: "join", Label: "b", DefaultMode: RoutingModeMove},
	}
	g, problems := NewExecutionGraph(nodes, edges, nil, nil)
	if len(problems) > 0 {
		t.Fatalf("unexpected problems: %v", problems)
	}
	out := g.EdgesTo("join")
	if len(out) != 2 || out[0].From != "sink_high" || out[1].From != "sink_low" {
		t.Fatalf("expected stable from-order, got %+v", out)
	}
	if len(g.EdgesTo("src")) != 0 {
		t.Fatalf("expected no incoming edges for src")
	}
}

func TestNodesSortedByID(t *testing.T) {
	nodes := sampleNodes()
	g, problems := NewExecutionGraph(nodes, nil, nil, []string{"sink_high", "sink_low"})
	if len(problems) > 0 {
		t.Fatalf("unexpected problems: %v", problems)
	}
	out := g.Nodes()
	if len(out) != len(nodes) {
		t.Fatalf("Nodes() returned %d nodes, want %d", len(out), len(nodes))
	}
	for i := 1; i < len(out); i++ {
		if out[i-1].NodeID >= out[i].NodeID {
			t.Fatalf("Nodes() not sorted: %q before %q", out[i-1].NodeID, out[i].NodeID)
		}
	}
}
