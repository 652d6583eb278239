package landscape

import "time"

// NodeType classifies a node's role in the DAG (spec §3).
type NodeType string

const (
	NodeTypeSource      NodeType = "SOURCE"
	NodeTypeTransform   NodeType = "TRANSFORM"
	NodeTypeGate        NodeType = "GATE"
	NodeTypeAggregation NodeType = "AGGREGATION"
	NodeTypeCoalesce    NodeType = "COALESCE"
	NodeTypeSink        NodeType = "SINK"
)

// Determinism describes how the engine must treat a node under replay and
// verify (spec §3, glossary). It is REQUIRED on every node; there is
// deliberately no zero-value default — NodeRecord.Validate fails closed.
type Determinism string

const (
	DeterminismDeterministic Determinism = "DETERMINISTIC"
	DeterminismSeeded        Determinism = "SEEDED"
	DeterminismIOWrite       Determinism = "IO_WRITE"
	DeterminismIORead        Determinism = "IO_READ"
	DeterminismExternalCall  Determinism = "EXTERNAL_CALL"
	DeterminismNonDetermin   Determinism = "NON_DETERMINISTIC"
)

// RunStatus is the lifecycle state of a Run (spec §3).
type RunStatus string

const (
	RunStatusRunning     RunStatus = "RUNNING"
	RunStatusCompleted   RunStatus = "COMPLETED"
	RunStatusFailed      RunStatus = "FAILED"
	RunStatusInterrupted RunStatus = "INTERRUPTED"
)

// RunMode distinguishes a live execution from a replay or verify pass
// against a prior run (spec §3, §4.10).
type RunMode string

const (
	RunModeLive   RunMode = "LIVE"
	RunModeReplay RunMode = "REPLAY"
	RunModeVerify RunMode = "VERIFY"
)

// Run is one execution of a pipeline (spec §3).
type Run struct {
	RunID              string
	StartedAt          time.Time
	CompletedAt        *time.Time
	Status             RunStatus
	ConfigHash         string
	SettingsJSON       string
	CanonicalVersion   string
	SchemaContractJSON string
	SchemaContractHash string
	RunMode            RunMode
	SourceRunID        string
	ExportStatus       string
}

// Validate enforces the "completed_at >= started_at when present"
// invariant (spec §3).
func (r *Run) Validate() error {
	if r.CompletedAt != nil && r.CompletedAt.Before(r.StartedAt) {
		return ErrCorruptNodeState
	}
	return nil
}

// NodeRecord is a plugin instance bound to a run (spec §3's "Node" —
// named NodeRecord in Go to avoid colliding with the Node plugin
// interface in landscape/plugin).
type NodeRecord struct {
	NodeID         string
	RunID          string
	PluginName     string
	NodeType       NodeType
	Determinism    Determinism
	PluginVersion  string
	ConfigHash     string
	ConfigJSON     string
	InputSchema    *SchemaContract
	OutputSchema   *SchemaContract
	SchemaHash     string
	SequenceIndex  *int
}

// Validate enforces "determinism MUST be declared; undeclared =
// registration failure" (spec §3).
func (n *NodeRecord) Validate() error {
	switch n.Determinism {
	case DeterminismDeterministic, DeterminismSeeded, DeterminismIOWrite,
		DeterminismIORead, DeterminismExternalCall, DeterminismNonDetermin:
		return nil
	default:
		return ErrDeterminismUndeclared
	}
}

// EdgeRecord is a labeled directed edge keyed by (from, to, label); parallel
// edges with different labels coexist (spec §3).
type EdgeRecord struct {
	EdgeID      string
	RunID       string
	FromNode    string
	ToNode      string
	Label       string
	DefaultMode RoutingMode
}

// Row is a record loaded from a source (spec §3).
type Row struct {
	RowID          string
	SourceNodeID   string
	RowIndex       int
	SourceDataHash string
	PayloadRef     string
}

// Token is a row instance flowing a specific DAG path (spec §3).
type Token struct {
	TokenID        string
	RowID          string
	ForkGroupID    string
	JoinGroupID    string
	ExpandGroupID  string
	BranchName     string
	StepInPipeline int
}

// TokenParent links a child token to a parent with an ordinal, supporting
// multi-parent joins at coalesce nodes (spec §3).
type TokenParent struct {
	TokenID       string
	ParentTokenID string
	Ordinal       int
}

// NodeStateStatus discriminates the NodeState union (spec §3).
type NodeStateStatus string

const (
	NodeStateOpen      NodeStateStatus = "OPEN"
	NodeStateCompleted NodeStateStatus = "COMPLETED"
	NodeStateFailed    NodeStateStatus = "FAILED"
)

// NodeState is the discriminated union described in spec §3: only an OPEN
// state may transition to COMPLETED or FAILED; both terminal variants are
// immutable once recorded. Rather than three Go types, NodeState carries
// all fields with the ones inapplicable to its Status left at the zero
// value — repositories must still dispatch on Status before touching the
// terminal-only fields (spec §4.5 "repositories must return the correct
// variant based on the stored status").
type NodeState struct {
	StateID       string
	TokenID       string
	NodeID        string
	StepIndex     int
	Attempt       int
	InputHash     string
	StartedAt     time.Time
	ContextBefore string

	Status NodeStateStatus

	// COMPLETED/FAILED fields.
	CompletedAt   *time.Time
	DurationMS    int64
	OutputHash    string
	SuccessReason map[string]any
	ContextAfter  string
	Error         *ExecutionError
}

// Transition moves an OPEN state to COMPLETED or FAILED. It refuses to
// mutate an already-terminal state (spec §3: "Only an OPEN state may
// transition; COMPLETED/FAILED are terminal and immutable").
func (s *NodeState) Transition(to NodeStateStatus, completedAt time.Time) error {
	if s.Status != NodeStateOpen {
		return ErrImmutableNodeState
	}
	if to != NodeStateCompleted && to != NodeStateFailed {
		return ErrImmutableNodeState
	}
	s.Status = to
	s.CompletedAt = &completedAt
	s.DurationMS = completedAt.Sub(s.StartedAt).Milliseconds()
	return nil
}

// CallType classifies an external call recorded inside a node state
// (spec §3).
type CallType string

const (
	CallTypeLLM          CallType = "LLM"
	CallTypeHTTP         CallType = "HTTP"
	CallTypeHTTPRedirect CallType = "HTTP_REDIRECT"
	CallTypeSQL          CallType = "SQL"
	CallTypeFilesystem   CallType = "FILESYSTEM"
)

// CallStatus is the outcome of a recorded call.
type CallStatus string

const (
	CallStatusSuccess CallStatus = "SUCCESS"
	CallStatusError   CallStatus = "ERROR"
)

// Call is an external call inside a node state (spec §3). RequestHash is
// the replay key used by landscape/replay.
type Call struct {
	CallID       string
	StateID      string
	CallIndex    int
	CallType     CallType
	Status       CallStatus
	RequestHash  string
	RequestRef   string
	ResponseRef  string
	ResponseHash string
	LatencyMS    *int64
	Error        string
}

// RoutingEvent records one traversed edge at a gate or fork (spec §3).
type RoutingEvent struct {
	EventID         string
	StateID         string
	EdgeID          string
	RoutingGroupID  string
	Ordinal         int
	Mode            RoutingMode
	ReasonRef       string
	ReasonHash      string
}

// BatchStatus is the lifecycle of an aggregation batch (spec §3).
type BatchStatus string

const (
	BatchStatusDraft      BatchStatus = "DRAFT"
	BatchStatusExecuting  BatchStatus = "EXECUTING"
	BatchStatusCompleted  BatchStatus = "COMPLETED"
	BatchStatusFailed     BatchStatus = "FAILED"
)

// TriggerType identifies which trigger fired a batch (spec §3, §4.7).
type TriggerType string

const (
	TriggerTypeCount       TriggerType = "COUNT"
	TriggerTypeTimeout     TriggerType = "TIMEOUT"
	TriggerTypeCondition   TriggerType = "CONDITION"
	TriggerTypeEndOfSource TriggerType = "END_OF_SOURCE"
	TriggerTypeManual      TriggerType = "MANUAL"
)

// Batch groups tokens for an aggregation node (spec §3).
type Batch struct {
	BatchID           string
	AggregationNodeID string
	Attempt           int
	Status            BatchStatus
	TriggerType       TriggerType
}

// BatchMember keys a token's membership in a batch by (batch_id, token_id,
// ordinal) (spec §3).
type BatchMember struct {
	BatchID string
	TokenID string
	Ordinal int
}

// Artifact is a sink's output descriptor (spec §3). Signature is set only
// when the run has an ArtifactSigner configured (spec §6's signing-key
// environment variable); it is nil for unsigned runs.
type Artifact struct {
	ArtifactID     string
	RunID          string
	SinkNodeID     string
	PathOrURI      string
	ContentHash    string
	SizeBytes      int64
	IdempotencyKey string
	Signature      []byte
}

// Checkpoint is a durable, monotonic-per-run progress marker (spec §3,
// §4.11). Both topology hashes are NOT NULL; CheckpointManager.CreateCheckpoint
// computes them from the graph immediately before the insert call. The
// computation and the insert do not share a database transaction.
type Checkpoint struct {
	CheckpointID             string
	RunID                    string
	TokenID                  string
	NodeID                   string
	SequenceNumber           int
	UpstreamTopologyHash     string
	CheckpointNodeConfigHash string
	AggregationStateJSON     string
	CreatedAt                time.Time
}

// TokenOutcomeKind is the final disposition of a token (spec §3). All are
// terminal except BUFFERED.
type TokenOutcomeKind string

const (
	OutcomeCompleted       TokenOutcomeKind = "COMPLETED"
	OutcomeRouted          TokenOutcomeKind = "ROUTED"
	OutcomeForked          TokenOutcomeKind = "FORKED"
	OutcomeFailed          TokenOutcomeKind = "FAILED"
	OutcomeQuarantined     TokenOutcomeKind = "QUARANTINED"
	OutcomeConsumedInBatch TokenOutcomeKind = "CONSUMED_IN_BATCH"
	OutcomeCoalesced       TokenOutcomeKind = "COALESCED"
	OutcomeExpanded        TokenOutcomeKind = "EXPANDED"
	OutcomeBuffered        TokenOutcomeKind = "BUFFERED"
)

// IsTerminal reports whether this outcome kind is terminal (all but
// BUFFERED, spec §3).
func (k TokenOutcomeKind) IsTerminal() bool { return k != OutcomeBuffered }

// TokenOutcome is the outcome row for one token (spec §3).
type TokenOutcome struct {
	TokenID string
	Outcome TokenOutcomeKind
	Reason  string
}

// ExecutionError is a framework-raised error wrapped for storage in a
// FAILED NodeState (spec §6: ExecutionError TypedDict).
type ExecutionError struct {
	Exception string
	Type      string
	Traceback string
}

func (e *ExecutionError) Error() string { return e.Type + ": " + e.Exception }

// TransformErrorReason is a plugin-reported failure (spec §6:
// TransformErrorReason TypedDict).
type TransformErrorReason struct {
	Reason  string
	Err     string
	Message string
	Field   string
}

// ValidationError records a Tier-3 (external data) validation failure,
// with a repr-fallback when the row cannot be canonically serialized
// (spec §3).
type ValidationError struct {
	ErrorID      string
	RunID        string
	SourceNodeID string
	RowIndex     int
	Reason       string
	ReprFallback string
	ReprType     string
}

// TransformError records a Tier-2 (pipeline) error (spec §3).
type TransformError struct {
	ErrorID string
	StateID string
	NodeID  string
	Reason  TransformErrorReason
}
