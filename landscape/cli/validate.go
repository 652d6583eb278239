package cli

import (
	"fmt"

	"github.com/landscaperun/landscape/landscape"
	"github.com/landscaperun/landscape/landscape/plugin"
)

// GraphReport is what `landscape validate` prints: the graph's shape
// plus every problem found (spec §6).
type GraphReport struct {
	NodeCount int
	EdgeCount int
	Problems  []string
}

// OK reports whether the graph had zero problems.
func (r GraphReport) OK() bool { return len(r.Problems) == 0 }

// ValidateGraph checks g against registry for the two problems
// landscape.NewExecutionGraph cannot see on its own, since graph
// construction has no visibility into plugin capability flags or
// declared schemas: a non-batch-aware transform wired directly
// downstream of a coalesce node, and a schema contract mismatch across a
// directed edge. A gate routing to a non-existent sink is already
// rejected inside NewExecutionGraph itself, so a graph that reaches this
// function has none to report.
func ValidateGraph(g *landscape.ExecutionGraph, registry *plugin.Registry) GraphReport {
	edges := g.Edges()
	report := GraphReport{NodeCount: len(g.Nodes()), EdgeCount: len(edges)}

	for _, e := range edges {
		from, ok := g.GetNodeInfo(e.From)
		if !ok {
			continue
		}
		to, ok := g.GetNodeInfo(e.To)
		if !ok {
			continue
		}

		if from.NodeType == landscape.NodeTypeCoalesce && to.NodeType == landscape.NodeTypeTransform {
			reg, ok := registry.Lookup(to.PluginName)
			switch {
			case !ok:
				report.Problems = append(report.Problems, fmt.Sprintf(
					"node %s: no plugin registered for %q", to.NodeID, to.PluginName))
			case !reg.Meta.IsBatchAware:
				report.Problems = append(report.Problems, fmt.Sprintf(
					"node %s: transform %q downstream of coalesce node %s is not batch-aware",
					to.NodeID, to.PluginName, from.NodeID))
			}
		}

		if from.OutputSchema != nil && to.InputSchema != nil {
			compat := from.OutputSchema.IsCompatibleWith(to.InputSchema)
			if !compat.Compatible() {
				report.Problems = append(report.Problems, fmt.Sprintf(
					"edge %s->%s: schema contract incompatible: missing=%v type_mismatches=%v",
					e.From, e.To, compat.MissingFields, compat.TypeMismatches))
			}
		}
	}

	return report
}
