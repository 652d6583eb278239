package landscape

// RoutingMode governs how a token moves across an edge (spec §3, §4.3).
type RoutingMode string

const (
	RoutingModeMove   RoutingMode = "MOVE"
	RoutingModeCopy   RoutingMode = "COPY"
	RoutingModeDivert RoutingMode = "DIVERT"
)

// RoutingActionKind discriminates the three shapes a RoutingAction may
// take.
type RoutingActionKind string

const (
	RoutingContinue    RoutingActionKind = "CONTINUE"
	RoutingRoute       RoutingActionKind = "ROUTE"
	RoutingForkToPaths RoutingActionKind = "FORK_TO_PATHS"
)

// RoutingReason is the TypedDict-equivalent union described in spec §6:
// either a config-driven gate's condition/result pair, or a plugin gate's
// rule match. Exactly one of the two field groups below is meaningful;
// which one is determined by Kind.
type RoutingReason struct {
	Kind ReasonKind

	// ConfigGateReason fields.
	Condition string
	Result    bool

	// PluginGateReason fields.
	Rule         string
	MatchedValue any
	Threshold    any
	Field        string
	Comparison   string
}

// ReasonKind discriminates RoutingReason's two shapes.
type ReasonKind string

const (
	ReasonKindConfigGate ReasonKind = "config_gate"
	ReasonKindPluginGate ReasonKind = "plugin_gate"
)

// clone deep-copies the reason so the construction-time defensive copy in
// RoutingAction (spec §4.3: "reason is deep-copied on construction") holds
// even though RoutingReason's fields here are all value types (any-typed
// MatchedValue/Threshold are the only fields that could alias a caller's
// mutable object; documented as a known limitation of comparing against a
// reused Go value rather than a fresh map/slice).
func (r *RoutingReason) clone() *RoutingReason {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

// RoutingAction is the immutable decision a gate node returns: continue
// down the default edge, route to exactly one labeled edge, or fork to
// several. Construct via the continue_/route/fork_to_paths equivalents
// below rather than the struct literal, so the reason is always copied
// and the invariants in spec §3 can be checked once at construction.
type RoutingAction struct {
	kind         RoutingActionKind
	destinations []string // edge labels
	mode         RoutingMode
	reason       *RoutingReason
}

// Kind returns the action's discriminant.
func (a RoutingAction) Kind() RoutingActionKind { return a.kind }

// Destinations returns the edge labels this action routes to. Empty for
// CONTINUE, exactly one for ROUTE, one-or-more unique labels for
// FORK_TO_PATHS.
func (a RoutingAction) Destinations() []string {
	return append([]string(nil), a.destinations...)
}

// Mode returns the RoutingMode the action implies: MOVE for CONTINUE and
// ROUTE, COPY for FORK_TO_PATHS.
func (a RoutingAction) Mode() RoutingMode { return a.mode }

// Reason returns a defensive copy of the routing reason, or nil.
func (a RoutingAction) Reason() *RoutingReason { return a.reason.clone() }

// RoutingActionContinue builds a CONTINUE action: empty destinations, MOVE.
func RoutingActionContinue() RoutingAction {
	return RoutingAction{kind: RoutingContinue, mode: RoutingModeMove}
}

// RoutingActionRoute builds a ROUTE action to exactly one labeled edge.
// COPY mode is rejected by construction (spec §3 invariant: "ROUTE ⇒
// exactly one destination, MOVE (COPY is rejected)") since ROUTE is
// always MOVE by definition of this constructor.
func RoutingActionRoute(label string, reason *RoutingReason) RoutingAction {
	return RoutingAction{
		kind:         RoutingRoute,
		destinations: []string{label},
		mode:         RoutingModeMove,
		reason:       reason.clone(),
	}
}

// RoutingActionForkToPaths builds a FORK_TO_PATHS action: COPY mode,
// requiring at least one unique destination label (spec §3 invariant).
// Duplicate labels or an empty list return an error rather than a
// constructed action, since the invariant must hold at construction.
func RoutingActionForkToPaths(labels []string, reason *RoutingReason) (RoutingAction, error) {
	if len(labels) == 0 {
		return RoutingAction{}, ErrRoutingActionInvalid
	}
	seen := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		if _, dup := seen[l]; dup {
			return RoutingAction{}, ErrRoutingActionInvalid
		}
		seen[l] = struct{}{}
	}
	return RoutingAction{
		kind:         RoutingForkToPaths,
		destinations: append([]string(nil), labels...),
		mode:         RoutingModeCopy,
		reason:       reason.clone(),
	}, nil
}

// Validate re-checks the invariant spec §3 states must always hold for a
// RoutingAction, for actions that may have been deserialized from storage
// rather than built through the constructors above.
func (a RoutingAction) Validate() error {
	switch a.kind {
	case RoutingContinue:
		if len(a.destinations) != 0 || a.mode != RoutingModeMove {
			return ErrRoutingActionInvalid
		}
	case RoutingRoute:
		if len(a.destinations) != 1 || a.mode != RoutingModeMove {
			return ErrRoutingActionInvalid
		}
	case RoutingForkToPaths:
		if len(a.destinations) == 0 || a.mode != RoutingModeCopy {
			return ErrRoutingActionInvalid
		}
		seen := make(map[string]struct{}, len(a.destinations))
		for _, l := range a.destinations {
			if _, dup := seen[l]; dup {
				return ErrRoutingActionInvalid
			}
			seen[l] = struct{}{}
		}
	default:
		return ErrRoutingActionInvalid
	}
	return nil
}

// RouteDestinationKind discriminates what a (gate_node_id, label) pair
// resolves to, per spec §4.3.
type RouteDestinationKind string

const (
	DestinationContinue       RouteDestinationKind = "CONTINUE"
	DestinationFork           RouteDestinationKind = "FORK"
	DestinationSink           RouteDestinationKind = "SINK"
	DestinationProcessingNode RouteDestinationKind = "PROCESSING_NODE"
)

// RouteDestination is the resolved target of a gate's labeled edge.
type RouteDestination struct {
	Kind       RouteDestinationKind
	SinkName   string // set when Kind == DestinationSink
	NextNodeID string // set when Kind == DestinationProcessingNode
}

// EdgeInfo is the read model returned by ExecutionGraph.Edges(): a
// labeled edge plus its default traversal mode. EdgeID is populated by
// Edges()/EdgesFrom() so callers recording a RoutingEvent (spec §3:
// RoutingEvent.EdgeID) don't need a second lookup against the graph.
type EdgeInfo struct {
	EdgeID      string
	From        string
	To          string
	Label       string
	DefaultMode RoutingMode
}
