package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/landscaperun/landscape/landscape"
)

// coalesceMember is one sibling token that has arrived at a coalesce node,
// waiting for the rest of its fork group to join (spec §4.6).
type coalesceMember struct {
	token          landscape.Token
	row            landscape.PipelineRow
	stepInPipeline int
}

// coalesceState buffers the siblings of one fork group converging on one
// coalesce node. Buffering is keyed by (node, ForkGroupID) rather than node
// alone because more than one fork event can reach the same coalesce node
// over a run's lifetime, and their siblings must never cross-join.
type coalesceState struct {
	mu      sync.Mutex
	members []coalesceMember
}

func coalesceKey(nodeID, forkGroupID string) string { return nodeID + "\x00" + forkGroupID }

// coalesceStateFor returns the buffer for (nodeID, forkGroupID), creating it
// on first arrival.
func (p *Processor) coalesceStateFor(nodeID, forkGroupID string) *coalesceState {
	key := coalesceKey(nodeID, forkGroupID)
	p.coalesceMu.Lock()
	defer p.coalesceMu.Unlock()
	s, ok := p.coalesce[key]
	if !ok {
		s = &coalesceState{}
		p.coalesce[key] = s
	}
	return s
}

func (p *Processor) forgetCoalesceState(nodeID, forkGroupID string) {
	p.coalesceMu.Lock()
	delete(p.coalesce, coalesceKey(nodeID, forkGroupID))
	p.coalesceMu.Unlock()
}

// runCoalesce buffers tok's arrival at a COALESCE node until every sibling
// the graph declares (one per incoming edge, spec §4.6) has arrived, then
// joins them into one child token via TokenManager.Coalesce and drives the
// child onward (spec §4.12). Fork branches are always driven to completion
// one at a time (applyRoutingAction's RoutingForkToPaths case), so siblings
// never race here — buffering on arrival and checking the count after each
// one is sufficient; no suspend/resume scheduler is required.
func (p *Processor) runCoalesce(ctx context.Context, tok landscape.Token, row landscape.PipelineRow, node *landscape.NodeRecord, stepInPipeline int) error {
	expected := len(p.graph.EdgesTo(node.NodeID))
	if expected == 0 {
		return fmt.Errorf("orchestrator: coalesce node %s has no incoming edges in the graph", node.NodeID)
	}

	forkGroupID := tok.ForkGroupID
	if forkGroupID == "" {
		// A token reaching a coalesce node outside of any fork (the node
		// has exactly one incoming edge) has no sibling to wait for;
		// join it alone rather than stall forever on the TokenID.
		forkGroupID = tok.TokenID
	}

	state := p.coalesceStateFor(node.NodeID, forkGroupID)
	state.mu.Lock()
	state.members = append(state.members, coalesceMember{token: tok, row: row, stepInPipeline: stepInPipeline})
	if len(state.members) < expected {
		state.mu.Unlock()
		return nil
	}
	members := state.members
	state.mu.Unlock()
	p.forgetCoalesceState(node.NodeID, forkGroupID)

	parents := make([]landscape.Token, len(members))
	for i, m := range members {
		parents[i] = m.token
	}
	// Coalesce has no plugin interface — it is pure token bookkeeping, not
	// a data merge (spec §4.6). The last-arriving sibling's row stands in
	// for the joined row, by the same representative-parent convention
	// Fork/Expand use elsewhere in this processor.
	last := members[len(members)-1]
	child, err := p.tokens.Coalesce(ctx, parents, last.stepInPipeline+1)
	if err != nil {
		return err
	}

	next := p.graph.EdgesFrom(node.NodeID)
	if len(next) == 0 {
		return fmt.Errorf("orchestrator: coalesce node %s has no outgoing edge", node.NodeID)
	}
	return p.driveToken(ctx, child, last.row, next[0].To, last.stepInPipeline+1)
}
