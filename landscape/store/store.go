// Package store provides the audit store described in spec §4.5: a
// relational schema enforcing referential integrity, with repositories
// for every entity in the data model. The storage engine is a plug
// point — SQLiteStore (the developer default) and MySQLStore (an
// alternate relational backend) both implement AuditStore; PostgreSQL is
// assumed to use out-of-band migrations and is not implemented here.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/landscaperun/landscape/landscape"
)

// ErrNotFound is returned when a requested id does not exist.
var ErrNotFound = errors.New("store: not found")

// AuditStore is the single source of truth for run/node/token/state
// records. Every transition is a short transaction on the affected row
// (spec §5); begin_node_state and complete_node_state are separate
// transactions so a crash mid-node leaves an OPEN state recovery can
// observe.
type AuditStore interface {
	// Runs.
	CreateRun(ctx context.Context, run landscape.Run) error
	UpdateRunStatus(ctx context.Context, runID string, status landscape.RunStatus, completedAt *time.Time) error
	GetRun(ctx context.Context, runID string) (landscape.Run, error)

	// Nodes / Edges — registered once, before any token exists.
	RegisterNode(ctx context.Context, node landscape.NodeRecord) error
	RegisterEdge(ctx context.Context, edge landscape.EdgeRecord) error
	ListNodes(ctx context.Context, runID string) ([]landscape.NodeRecord, error)
	ListEdges(ctx context.Context, runID string) ([]landscape.EdgeRecord, error)

	// Rows / Tokens.
	CreateRowAndToken(ctx context.Context, row landscape.Row, token landscape.Token) error
	CreateChildToken(ctx context.Context, token landscape.Token, parents []landscape.TokenParent) error
	GetToken(ctx context.Context, tokenID string) (landscape.Token, error)

	// NodeStates: begin/complete are separate transactions by design
	// (spec §4.5).
	BeginNodeState(ctx context.Context, state landscape.NodeState) error
	CompleteNodeState(ctx context.Context, stateID string, to landscape.NodeStateStatus, completedAt time.Time, outputHash string, successReason map[string]any, execErr *landscape.ExecutionError) error
	GetNodeState(ctx context.Context, stateID string) (landscape.NodeState, error)
	OpenNodeStates(ctx context.Context, runID string) ([]landscape.NodeState, error)

	// Calls.
	RecordCall(ctx context.Context, call landscape.Call) error
	FindCallByHash(ctx context.Context, sourceRunID string, callType landscape.CallType, requestHash string) (landscape.Call, error)

	// RoutingEvents.
	RecordRoutingEvents(ctx context.Context, events []landscape.RoutingEvent) error

	// Batches.
	CreateBatch(ctx context.Context, batch landscape.Batch) error
	AddBatchMember(ctx context.Context, member landscape.BatchMember) error
	CompleteBatch(ctx context.Context, batchID string, status landscape.BatchStatus) error

	// Artifacts.
	RecordArtifact(ctx context.Context, artifact landscape.Artifact) error

	// Checkpoints.
	InsertCheckpoint(ctx context.Context, cp landscape.Checkpoint) error
	LatestCheckpoint(ctx context.Context, runID string) (landscape.Checkpoint, error)
	DeleteCheckpoints(ctx context.Context, runID string) error

	// Errors.
	RecordValidationError(ctx context.Context, ve landscape.ValidationError) error
	RecordTransformError(ctx context.Context, te landscape.TransformError) error

	// TokenOutcomes.
	RecordTokenOutcome(ctx context.Context, outcome landscape.TokenOutcome) error
	GetTokenOutcome(ctx context.Context, tokenID string) (landscape.TokenOutcome, error)

	Close() error
}

// PayloadStore is the pluggable, content-addressed backend for large
// values (row payloads, LLM request/response bodies), per spec §6.
// The content address is the SHA-256 of the bytes; the returned ref is
// backend-dependent (a path for the filesystem backend, a blob URL for
// an object-store backend).
type PayloadStore interface {
	Store(ctx context.Context, data []byte) (ref string, err error)
	Fetch(ctx context.Context, ref string) ([]byte, error)
	Purge(ctx context.Context, refs []string) error
}
