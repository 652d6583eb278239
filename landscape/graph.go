package landscape

import (
	"fmt"
	"sort"
)

// GateRouteConfig is the declared `(gate, label) -> destination` mapping a
// pipeline config supplies, before construction resolves it against
// discovered sinks and fork targets (spec §4.4).
type GateRouteConfig struct {
	GateNodeID string
	Label      string
	// Exactly one of SinkName / NextNodeID is set; Fork is set when the
	// destination is a fork fan-out rather than a single next node.
	SinkName   string
	NextNodeID string
	Fork       []string
}

// ExecutionGraph is a directed multigraph of typed nodes with labeled
// edges, plus the route-resolution map built at construction time
// (spec §4.4). It is immutable after NewExecutionGraph returns
// successfully — callers that need a different topology build a new
// graph rather than mutating this one, matching the teacher's
// construct-once-validate-once posture.
type ExecutionGraph struct {
	nodes map[string]*NodeRecord
	// edges keyed by (from, to, label) to allow parallel edges.
	edges      []EdgeRecord
	edgeByID   map[string]EdgeRecord
	routes     map[string]RouteDestination // key: gateNodeID + "\x00" + label
	routeGate  map[string]string           // key -> gateNodeID, for reverse lookup
	routeLabel map[string]string           // key -> label, for reverse lookup
	branchSink map[string]string           // fork branch name -> sink name, when terminal
	forkOwner  map[string]string           // fork branch name -> owning gate node id, for uniqueness check
}

func routeKey(gateNodeID, label string) string { return gateNodeID + "\x00" + label }

// NewExecutionGraph constructs and validates a graph from its nodes,
// edges, and declared gate routes. All validation happens here, not at
// scheduling time (spec §4.4): every (gate, label) in routeConfig must
// resolve; every fork branch name must be globally unique across all
// gates in the graph; every sink referenced must exist. Problems are
// returned as a slice so callers can report every issue at once
// (spec §7), rather than failing on the first one found.
func NewExecutionGraph(nodes []NodeRecord, edges []EdgeRecord, routeConfig []GateRouteConfig, sinkNames []string) (*ExecutionGraph, []string) {
	g := &ExecutionGraph{
		nodes:      make(map[string]*NodeRecord, len(nodes)),
		edgeByID:   make(map[string]EdgeRecord, len(edges)),
		routes:     make(map[string]RouteDestination),
		routeGate:  make(map[string]string),
		routeLabel: make(map[string]string),
		branchSink: make(map[string]string),
		forkOwner:  make(map[string]string),
	}
	var problems []string

	for i := range nodes {
		n := nodes[i]
		if err := n.Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("node %s: %v", n.NodeID, err))
			continue
		}
		if _, dup := g.nodes[n.NodeID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate node id %s", n.NodeID))
			continue
		}
		g.nodes[n.NodeID] = &nodes[i]
	}

	sinkSet := make(map[string]struct{}, len(sinkNames))
	for _, s := range sinkNames {
		sinkSet[s] = struct{}{}
	}

	for _, e := range edges {
		if _, ok := g.nodes[e.FromNode]; !ok {
			problems = append(problems, fmt.Sprintf("edge %s: from_node %s does not exist", e.EdgeID, e.FromNode))
		}
		if _, ok := g.nodes[e.ToNode]; !ok {
			problems = append(problems, fmt.Sprintf("edge %s: to_node %s does not exist", e.EdgeID, e.ToNode))
		}
		g.edges = append(g.edges, e)
		g.edgeByID[e.EdgeID] = e
	}

	// Global fork-branch uniqueness (spec §3 invariant, §4.4).
	for _, rc := range routeConfig {
		if len(rc.Fork) == 0 {
			continue
		}
		for _, branch := range rc.Fork {
			if owner, exists := g.forkOwner[branch]; exists && owner != rc.GateNodeID {
				problems = append(problems, fmt.Sprintf(
					"fork branch name %q is not globally unique: claimed by both %s and %s", branch, owner, rc.GateNodeID))
				continue
			}
			g.forkOwner[branch] = rc.GateNodeID
		}
	}

	// Resolve every declared route to a concrete destination.
	for _, rc := range routeConfig {
		key := routeKey(rc.GateNodeID, rc.Label)
		g.routeGate[key] = rc.GateNodeID
		g.routeLabel[key] = rc.Label
		switch {
		case len(rc.Fork) > 0:
			g.routes[key] = RouteDestination{Kind: DestinationFork}
		case rc.SinkName != "":
			if _, ok := sinkSet[rc.SinkName]; !ok {
				problems = append(problems, fmt.Sprintf(
					"gate %s label %q routes to non-existent sink %q", rc.GateNodeID, rc.Label, rc.SinkName))
				continue
			}
			g.routes[key] = RouteDestination{Kind: DestinationSink, SinkName: rc.SinkName}
		case rc.NextNodeID != "":
			if _, ok := g.nodes[rc.NextNodeID]; !ok {
				problems = append(problems, fmt.Sprintf(
					"gate %s label %q routes to non-existent node %q", rc.GateNodeID, rc.Label, rc.NextNodeID))
				continue
			}
			g.routes[key] = RouteDestination{Kind: DestinationProcessingNode, NextNodeID: rc.NextNodeID}
		default:
			problems = append(problems, fmt.Sprintf("gate %s label %q has no resolvable destination", rc.GateNodeID, rc.Label))
		}
	}

	// Batch-awareness is not checked here: the graph has no visibility
	// into plugin capability flags. plugin.Registry.RegisterAggregation
	// does not check it either, and no code path returns
	// ErrNonBatchAwareAggregate. cli.ValidateGraph checks transform nodes
	// directly downstream of a coalesce node against the registry.

	if len(problems) > 0 {
		return nil, problems
	}
	return g, nil
}

// HasNode reports whether nodeID exists in the graph.
func (g *ExecutionGraph) HasNode(nodeID string) bool {
	_, ok := g.nodes[nodeID]
	return ok
}

// Nodes returns every node in the graph, sorted by node id for stable
// output (used by `landscape validate` to report exact counts including
// nodes with no edges yet — spec §6).
func (g *ExecutionGraph) Nodes() []NodeRecord {
	out := make([]NodeRecord, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// GetNodeInfo returns the node record for nodeID.
func (g *ExecutionGraph) GetNodeInfo(nodeID string) (*NodeRecord, bool) {
	n, ok := g.nodes[nodeID]
	return n, ok
}

// Edges returns every edge in the graph as EdgeInfo.
func (g *ExecutionGraph) Edges() []EdgeInfo {
	out := make([]EdgeInfo, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, EdgeInfo{EdgeID: e.EdgeID, From: e.FromNode, To: e.ToNode, Label: e.Label, DefaultMode: e.DefaultMode})
	}
	return out
}

// EdgesFrom returns the edges originating at nodeID, sorted by label for
// stable ordering — the open question in spec §9 about routing-event
// ordering within a routing_group_id is resolved here by stabilizing on
// lexicographic edge label order.
func (g *ExecutionGraph) EdgesFrom(nodeID string) []EdgeInfo {
	var out []EdgeInfo
	for _, e := range g.edges {
		if e.FromNode == nodeID {
			out = append(out, EdgeInfo{EdgeID: e.EdgeID, From: e.FromNode, To: e.ToNode, Label: e.Label, DefaultMode: e.DefaultMode})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// EdgesTo returns the edges terminating at nodeID, sorted by From for
// stable ordering — used by a COALESCE node to know how many upstream
// branches it must wait for before joining (spec §4.6).
func (g *ExecutionGraph) EdgesTo(nodeID string) []EdgeInfo {
	var out []EdgeInfo
	for _, e := range g.edges {
		if e.ToNode == nodeID {
			out = append(out, EdgeInfo{EdgeID: e.EdgeID, From: e.FromNode, To: e.ToNode, Label: e.Label, DefaultMode: e.DefaultMode})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].From < out[j].From })
	return out
}

// ResolveRoute looks up the concrete destination for (gateNodeID, label).
func (g *ExecutionGraph) ResolveRoute(gateNodeID, label string) (RouteDestination, bool) {
	d, ok := g.routes[routeKey(gateNodeID, label)]
	return d, ok
}

// GetBranchToSinkMap returns a copy of the fork-branch-to-sink map.
// NewExecutionGraph never populates that map, so the result is always
// empty.
func (g *ExecutionGraph) GetBranchToSinkMap() map[string]string {
	out := make(map[string]string, len(g.branchSink))
	for k, v := range g.branchSink {
		out[k] = v
	}
	return out
}

// GetTerminalSinkMap returns, for every gate node, the sink names its
// declared routes resolve to directly. Sinks reached through a processing
// node or a fork are not included.
func (g *ExecutionGraph) GetTerminalSinkMap() map[string][]string {
	out := make(map[string][]string)
	for key, dest := range g.routes {
		if dest.Kind != DestinationSink {
			continue
		}
		out[g.routeGate[key]] = append(out[g.routeGate[key]], dest.SinkName)
	}
	return out
}

// UpstreamTopologyHash computes the hash of the subgraph upstream of
// nodeID plus every node's config hash, per spec §4.11. It is the basis
// for checkpoint compatibility: any change to the upstream topology or a
// node's config invalidates outstanding checkpoints at nodeID.
func (g *ExecutionGraph) UpstreamTopologyHash(nodeID string) (string, error) {
	visited := make(map[string]struct{})
	var walk func(string)
	order := []string{}
	walk = func(n string) {
		if _, seen := visited[n]; seen {
			return
		}
		visited[n] = struct{}{}
		order = append(order, n)
		for _, e := range g.edges {
			if e.ToNode == n {
				walk(e.FromNode)
			}
		}
	}
	walk(nodeID)
	sort.Strings(order)

	type nodeDigest struct {
		NodeID     string
		PluginName string
		ConfigHash string
	}
	digests := make([]nodeDigest, 0, len(order))
	for _, id := range order {
		n := g.nodes[id]
		digests = append(digests, nodeDigest{NodeID: n.NodeID, PluginName: n.PluginName, ConfigHash: n.ConfigHash})
	}

	var edgeDigests []EdgeInfo
	for _, e := range g.edges {
		if _, ok := visited[e.ToNode]; ok {
			if _, ok2 := visited[e.FromNode]; ok2 {
				edgeDigests = append(edgeDigests, EdgeInfo{From: e.FromNode, To: e.ToNode, Label: e.Label, DefaultMode: e.DefaultMode})
			}
		}
	}
	sort.Slice(edgeDigests, func(i, j int) bool {
		if edgeDigests[i].From != edgeDigests[j].From {
			return edgeDigests[i].From < edgeDigests[j].From
		}
		if edgeDigests[i].To != edgeDigests[j].To {
			return edgeDigests[i].To < edgeDigests[j].To
		}
		return edgeDigests[i].Label < edgeDigests[j].Label
	})

	return StableHash(map[string]any{"nodes": digests, "edges": edgeDigests})
}
