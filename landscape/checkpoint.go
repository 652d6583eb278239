package landscape

import (
	"context"
	"fmt"
	"time"

	"github.com/landscaperun/landscape/landscape/idgen"
)

// CheckpointStore is the subset of store.AuditStore the checkpoint manager
// needs (see the note on AuditRecorder for why this is a local interface
// rather than an import of landscape/store).
type CheckpointStore interface {
	InsertCheckpoint(ctx context.Context, cp Checkpoint) error
	LatestCheckpoint(ctx context.Context, runID string) (Checkpoint, error)
	DeleteCheckpoints(ctx context.Context, runID string) error
}

// SchemaRestorer re-coerces a JSON-decoded row back to the types its
// source schema declares (spec §4.11: "ISO strings → datetime, numeric
// strings → Decimal"), so code resuming from a checkpoint observes the
// same types a live run would have produced. Supplying nil to
// GetUnprocessedRowData skips this and the caller sees raw JSON types
// (spec §4.11: "without a schema, degradation is explicit").
type SchemaRestorer interface {
	Restore(raw map[string]any) (map[string]any, error)
}

// CheckpointManager creates and validates checkpoints for resumable runs
// (spec §4.11). DeterministicNodeIDCutoff is the date before which node
// ids were not yet deterministic across runs; checkpoints older than this
// are refused rather than silently resumed against a graph they no
// longer describe.
type CheckpointManager struct {
	store                     CheckpointStore
	DeterministicNodeIDCutoff time.Time
}

// NewCheckpointManager builds a manager writing through store, refusing
// checkpoints older than cutoff.
func NewCheckpointManager(store CheckpointStore, cutoff time.Time) *CheckpointManager {
	return &CheckpointManager{store: store, DeterministicNodeIDCutoff: cutoff}
}

// CreateCheckpoint validates nodeID exists in graph, computes both hashes
// from the current graph, and inserts the row — all treated as one
// logical unit so the hashes can never drift from the graph they were
// computed against (spec §4.11: "inside the same transaction as the
// insert to avoid race with concurrent graph changes"; the actual SQL
// transaction boundary lives in the AuditStore implementation, this
// method guarantees the hashes are computed immediately before the
// insert call that commits them).
func (m *CheckpointManager) CreateCheckpoint(ctx context.Context, runID, tokenID, nodeID string, sequenceNumber int, graph *ExecutionGraph, aggregationStateJSON string) (Checkpoint, error) {
	node, ok := graph.GetNodeInfo(nodeID)
	if !ok {
		return Checkpoint{}, ErrNodeNotFound
	}
	topologyHash, err := graph.UpstreamTopologyHash(nodeID)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("landscape: checkpoint topology hash: %w", err)
	}

	cp := Checkpoint{
		CheckpointID:             idgen.New(idgen.PrefixCheckpoint),
		RunID:                    runID,
		TokenID:                  tokenID,
		NodeID:                   nodeID,
		SequenceNumber:           sequenceNumber,
		UpstreamTopologyHash:     topologyHash,
		CheckpointNodeConfigHash: node.ConfigHash,
		AggregationStateJSON:     aggregationStateJSON,
		CreatedAt:                time.Now(),
	}
	if err := m.store.InsertCheckpoint(ctx, cp); err != nil {
		return Checkpoint{}, fmt.Errorf("landscape: insert checkpoint: %w", err)
	}
	return cp, nil
}

// GetLatestCheckpoint returns the highest-sequence checkpoint for runID,
// rejecting it outright if it predates DeterministicNodeIDCutoff (spec
// §4.11: "Checkpoints created before a cutoff date ... are refused").
func (m *CheckpointManager) GetLatestCheckpoint(ctx context.Context, runID string) (Checkpoint, error) {
	cp, err := m.store.LatestCheckpoint(ctx, runID)
	if err != nil {
		return Checkpoint{}, err
	}
	if cp.CreatedAt.Before(m.DeterministicNodeIDCutoff) {
		return Checkpoint{}, ErrCheckpointTooOld
	}
	return cp, nil
}

// CheckCompatibility verifies cp's recorded hashes still match graph's
// current hashes at cp.NodeID, raising ErrIncompatibleCheckpoint on any
// mismatch (spec §4.11: "mismatch raises IncompatibleCheckpointError").
func (m *CheckpointManager) CheckCompatibility(cp Checkpoint, graph *ExecutionGraph) error {
	node, ok := graph.GetNodeInfo(cp.NodeID)
	if !ok {
		return ErrIncompatibleCheckpoint
	}
	topologyHash, err := graph.UpstreamTopologyHash(cp.NodeID)
	if err != nil {
		return fmt.Errorf("landscape: recompute topology hash: %w", err)
	}
	if topologyHash != cp.UpstreamTopologyHash || node.ConfigHash != cp.CheckpointNodeConfigHash {
		return ErrIncompatibleCheckpoint
	}
	return nil
}

// DeleteCheckpoints removes all checkpoints for runID, called on
// successful run completion (spec §3: "on completion they are deleted").
func (m *CheckpointManager) DeleteCheckpoints(ctx context.Context, runID string) error {
	return m.store.DeleteCheckpoints(ctx, runID)
}

// RestoreRow re-coerces one JSON-decoded row through restorer, or returns
// raw unchanged if restorer is nil (spec §4.11's explicit no-schema
// degradation path).
func RestoreRow(raw map[string]any, restorer SchemaRestorer) (map[string]any, error) {
	if restorer == nil {
		return raw, nil
	}
	restored, err := restorer.Restore(raw)
	if err != nil {
		return nil, fmt.Errorf("landscape: restore row types: %w", err)
	}
	return restored, nil
}

// GetUnprocessedRowData projects the rows strictly after
// processedThroughRowIndex (the row index of the checkpoint's token,
// resolved by the caller via the token/row tables) — spec §4.11:
// "projects rows after the checkpoint" — re-coercing each through
// restorer when supplied. rows must already be ordered by RowIndex
// ascending; this function does not re-sort them.
func GetUnprocessedRowData(processedThroughRowIndex int, rows []Row, rawPayloads map[string]map[string]any, restorer SchemaRestorer) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		if r.RowIndex <= processedThroughRowIndex {
			continue
		}
		raw, ok := rawPayloads[r.RowID]
		if !ok {
			continue
		}
		restored, err := RestoreRow(raw, restorer)
		if err != nil {
			return nil, fmt.Errorf("landscape: restore row %s: %w", r.RowID, err)
		}
		out = append(out, restored)
	}
	return out, nil
}
