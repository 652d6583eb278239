package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/landscaperun/landscape/landscape"
)

// SQLiteStore is the developer-default AuditStore backend (spec §4.5): a
// single-file, WAL-mode SQLite database with one table per entity in the
// data model and foreign keys enforcing referential integrity.
//
// SQLiteStore uses the pure-Go modernc.org/sqlite driver rather than a
// cgo binding, so the resulting binary stays cross-compilable without a C
// toolchain — the same reason the teacher's store package reaches for it.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore opens (creating if needed) a SQLite database at path and
// runs the schema migration. Use ":memory:" for an ephemeral store in
// tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite supports one writer at a time.
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite store: %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite store: create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			status TEXT NOT NULL,
			config_hash TEXT NOT NULL,
			settings_json TEXT NOT NULL,
			canonical_version TEXT NOT NULL,
			schema_contract_json TEXT NOT NULL,
			schema_contract_hash TEXT NOT NULL,
			run_mode TEXT NOT NULL,
			source_run_id TEXT,
			export_status TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS nodes (
			node_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			plugin_name TEXT NOT NULL,
			node_type TEXT NOT NULL,
			determinism TEXT NOT NULL,
			plugin_version TEXT NOT NULL,
			config_hash TEXT NOT NULL,
			config_json TEXT NOT NULL,
			schema_hash TEXT NOT NULL DEFAULT '',
			sequence_index INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_run ON nodes(run_id)`,
		`CREATE TABLE IF NOT EXISTS edges (
			edge_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			from_node TEXT NOT NULL REFERENCES nodes(node_id),
			to_node TEXT NOT NULL REFERENCES nodes(node_id),
			label TEXT NOT NULL,
			default_mode TEXT NOT NULL,
			UNIQUE(from_node, to_node, label)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_run ON edges(run_id)`,
		`CREATE TABLE IF NOT EXISTS rows (
			row_id TEXT PRIMARY KEY,
			source_node_id TEXT NOT NULL REFERENCES nodes(node_id),
			row_index INTEGER NOT NULL,
			source_data_hash TEXT NOT NULL,
			payload_ref TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tokens (
			token_id TEXT PRIMARY KEY,
			row_id TEXT NOT NULL REFERENCES rows(row_id),
			fork_group_id TEXT,
			join_group_id TEXT,
			expand_group_id TEXT,
			branch_name TEXT,
			step_in_pipeline INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tokens_row ON tokens(row_id)`,
		`CREATE TABLE IF NOT EXISTS token_parents (
			token_id TEXT NOT NULL REFERENCES tokens(token_id),
			parent_token_id TEXT NOT NULL REFERENCES tokens(token_id),
			ordinal INTEGER NOT NULL,
			PRIMARY KEY (token_id, parent_token_id)
		)`,
		`CREATE TABLE IF NOT EXISTS node_states (
			state_id TEXT PRIMARY KEY,
			token_id TEXT NOT NULL REFERENCES tokens(token_id),
			node_id TEXT NOT NULL REFERENCES nodes(node_id),
			step_index INTEGER NOT NULL,
			attempt INTEGER NOT NULL,
			input_hash TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			context_before TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			completed_at TIMESTAMP,
			duration_ms INTEGER,
			output_hash TEXT,
			success_reason_json TEXT,
			context_after TEXT,
			error_exception TEXT,
			error_type TEXT,
			error_traceback TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_states_token ON node_states(token_id)`,
		`CREATE INDEX IF NOT EXISTS idx_states_open ON node_states(status)`,
		`CREATE TABLE IF NOT EXISTS calls (
			call_id TEXT PRIMARY KEY,
			state_id TEXT NOT NULL REFERENCES node_states(state_id),
			call_index INTEGER NOT NULL,
			call_type TEXT NOT NULL,
			status TEXT NOT NULL,
			request_hash TEXT NOT NULL,
			request_ref TEXT,
			response_ref TEXT,
			response_hash TEXT,
			latency_ms INTEGER,
			error TEXT,
			source_run_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_calls_hash ON calls(source_run_id, call_type, request_hash)`,
		`CREATE TABLE IF NOT EXISTS routing_events (
			event_id TEXT PRIMARY KEY,
			state_id TEXT NOT NULL REFERENCES node_states(state_id),
			edge_id TEXT NOT NULL REFERENCES edges(edge_id),
			routing_group_id TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			mode TEXT NOT NULL,
			reason_ref TEXT,
			reason_hash TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS batches (
			batch_id TEXT PRIMARY KEY,
			aggregation_node_id TEXT NOT NULL REFERENCES nodes(node_id),
			attempt INTEGER NOT NULL,
			status TEXT NOT NULL,
			trigger_type TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS batch_members (
			batch_id TEXT NOT NULL REFERENCES batches(batch_id),
			token_id TEXT NOT NULL REFERENCES tokens(token_id),
			ordinal INTEGER NOT NULL,
			PRIMARY KEY (batch_id, token_id)
		)`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			artifact_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			sink_node_id TEXT NOT NULL REFERENCES nodes(node_id),
			path_or_uri TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			size_bytes INTEGER NOT NULL,
			idempotency_key TEXT NOT NULL UNIQUE,
			signature BLOB
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			checkpoint_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			token_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			sequence_number INTEGER NOT NULL,
			upstream_topology_hash TEXT NOT NULL,
			checkpoint_node_config_hash TEXT NOT NULL,
			aggregation_state_json TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			UNIQUE(run_id, sequence_number)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_run ON checkpoints(run_id)`,
		`CREATE TABLE IF NOT EXISTS validation_errors (
			error_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			source_node_id TEXT NOT NULL,
			row_index INTEGER NOT NULL,
			reason TEXT NOT NULL,
			repr_fallback TEXT,
			repr_type TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS transform_errors (
			error_id TEXT PRIMARY KEY,
			state_id TEXT NOT NULL REFERENCES node_states(state_id),
			node_id TEXT NOT NULL,
			reason TEXT NOT NULL,
			err TEXT,
			message TEXT,
			field TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS token_outcomes (
			token_id TEXT PRIMARY KEY REFERENCES tokens(token_id),
			outcome TEXT NOT NULL,
			reason TEXT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run landscape.Run) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO runs
		(run_id, started_at, completed_at, status, config_hash, settings_json,
		 canonical_version, schema_contract_json, schema_contract_hash, run_mode,
		 source_run_id, export_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.StartedAt, run.CompletedAt, run.Status, run.ConfigHash, run.SettingsJSON,
		run.CanonicalVersion, run.SchemaContractJSON, run.SchemaContractHash, run.RunMode,
		run.SourceRunID, run.ExportStatus)
	if err != nil {
		return fmt.Errorf("sqlite store: create run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status landscape.RunStatus, completedAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE runs SET status = ?, completed_at = ? WHERE run_id = ?`,
		status, completedAt, runID)
	if err != nil {
		return fmt.Errorf("sqlite store: update run status: %w", err)
	}
	return checkRowsAffected(res)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (landscape.Run, error) {
	var run landscape.Run
	row := s.db.QueryRowContext(ctx, `SELECT run_id, started_at, completed_at, status, config_hash,
		settings_json, canonical_version, schema_contract_json, schema_contract_hash, run_mode,
		COALESCE(source_run_id, ''), export_status FROM runs WHERE run_id = ?`, runID)
	err := row.Scan(&run.RunID, &run.StartedAt, &run.CompletedAt, &run.Status, &run.ConfigHash,
		&run.SettingsJSON, &run.CanonicalVersion, &run.SchemaContractJSON, &run.SchemaContractHash,
		&run.RunMode, &run.SourceRunID, &run.ExportStatus)
	if err == sql.ErrNoRows {
		return landscape.Run{}, ErrNotFound
	}
	if err != nil {
		return landscape.Run{}, fmt.Errorf("sqlite store: get run: %w", err)
	}
	return run, nil
}

func (s *SQLiteStore) RegisterNode(ctx context.Context, node landscape.NodeRecord) error {
	if err := node.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO nodes
		(node_id, run_id, plugin_name, node_type, determinism, plugin_version, config_hash,
		 config_json, schema_hash, sequence_index)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		node.NodeID, node.RunID, node.PluginName, node.NodeType, node.Determinism,
		node.PluginVersion, node.ConfigHash, node.ConfigJSON, node.SchemaHash, node.SequenceIndex)
	if err != nil {
		return fmt.Errorf("sqlite store: register node: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RegisterEdge(ctx context.Context, edge landscape.EdgeRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO edges
		(edge_id, run_id, from_node, to_node, label, default_mode)
		VALUES (?, ?, ?, ?, ?, ?)`,
		edge.EdgeID, edge.RunID, edge.FromNode, edge.ToNode, edge.Label, edge.DefaultMode)
	if err != nil {
		return fmt.Errorf("sqlite store: register edge: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListNodes(ctx context.Context, runID string) ([]landscape.NodeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT node_id, run_id, plugin_name, node_type, determinism,
		plugin_version, config_hash, config_json, schema_hash, sequence_index
		FROM nodes WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list nodes: %w", err)
	}
	defer rows.Close()

	var out []landscape.NodeRecord
	for rows.Next() {
		var n landscape.NodeRecord
		if err := rows.Scan(&n.NodeID, &n.RunID, &n.PluginName, &n.NodeType, &n.Determinism,
			&n.PluginVersion, &n.ConfigHash, &n.ConfigJSON, &n.SchemaHash, &n.SequenceIndex); err != nil {
			return nil, fmt.Errorf("sqlite store: scan node: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListEdges(ctx context.Context, runID string) ([]landscape.EdgeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT edge_id, run_id, from_node, to_node, label, default_mode
		FROM edges WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list edges: %w", err)
	}
	defer rows.Close()

	var out []landscape.EdgeRecord
	for rows.Next() {
		var e landscape.EdgeRecord
		if err := rows.Scan(&e.EdgeID, &e.RunID, &e.FromNode, &e.ToNode, &e.Label, &e.DefaultMode); err != nil {
			return nil, fmt.Errorf("sqlite store: scan edge: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateRowAndToken(ctx context.Context, row landscape.Row, token landscape.Token) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO rows
		(row_id, source_node_id, row_index, source_data_hash, payload_ref)
		VALUES (?, ?, ?, ?, ?)`,
		row.RowID, row.SourceNodeID, row.RowIndex, row.SourceDataHash, row.PayloadRef); err != nil {
		return fmt.Errorf("sqlite store: insert row: %w", err)
	}
	if err := insertToken(ctx, tx, token); err != nil {
		return err
	}
	return tx.Commit()
}

func insertToken(ctx context.Context, tx *sql.Tx, token landscape.Token) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tokens
		(token_id, row_id, fork_group_id, join_group_id, expand_group_id, branch_name, step_in_pipeline)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		token.TokenID, token.RowID, nullableStr(token.ForkGroupID), nullableStr(token.JoinGroupID),
		nullableStr(token.ExpandGroupID), nullableStr(token.BranchName), token.StepInPipeline)
	if err != nil {
		return fmt.Errorf("sqlite store: insert token: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateChildToken(ctx context.Context, token landscape.Token, parents []landscape.TokenParent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store: begin: %w", err)
	}
	defer tx.Rollback()

	if err := insertToken(ctx, tx, token); err != nil {
		return err
	}
	for _, p := range parents {
		if _, err := tx.ExecContext(ctx, `INSERT INTO token_parents
			(token_id, parent_token_id, ordinal) VALUES (?, ?, ?)`,
			p.TokenID, p.ParentTokenID, p.Ordinal); err != nil {
			return fmt.Errorf("sqlite store: insert token parent: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetToken(ctx context.Context, tokenID string) (landscape.Token, error) {
	var t landscape.Token
	row := s.db.QueryRowContext(ctx, `SELECT token_id, row_id, COALESCE(fork_group_id, ''),
		COALESCE(join_group_id, ''), COALESCE(expand_group_id, ''), COALESCE(branch_name, ''),
		step_in_pipeline FROM tokens WHERE token_id = ?`, tokenID)
	err := row.Scan(&t.TokenID, &t.RowID, &t.ForkGroupID, &t.JoinGroupID, &t.ExpandGroupID,
		&t.BranchName, &t.StepInPipeline)
	if err == sql.ErrNoRows {
		return landscape.Token{}, ErrNotFound
	}
	if err != nil {
		return landscape.Token{}, fmt.Errorf("sqlite store: get token: %w", err)
	}
	return t, nil
}

// BeginNodeState inserts a new OPEN node_state row. It is deliberately a
// standalone transaction from CompleteNodeState (spec §4.5): a crash
// between the two leaves a durable OPEN row that recovery can find via
// OpenNodeStates.
func (s *SQLiteStore) BeginNodeState(ctx context.Context, state landscape.NodeState) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO node_states
		(state_id, token_id, node_id, step_index, attempt, input_hash, started_at,
		 context_before, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		state.StateID, state.TokenID, state.NodeID, state.StepIndex, state.Attempt,
		state.InputHash, state.StartedAt, state.ContextBefore, landscape.NodeStateOpen)
	if err != nil {
		return fmt.Errorf("sqlite store: begin node state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CompleteNodeState(ctx context.Context, stateID string, to landscape.NodeStateStatus, completedAt time.Time, outputHash string, successReason map[string]any, execErr *landscape.ExecutionError) error {
	existing, err := s.GetNodeState(ctx, stateID)
	if err != nil {
		return err
	}
	if err := existing.Transition(to, completedAt); err != nil {
		return err
	}

	var successJSON []byte
	if successReason != nil {
		successJSON, err = json.Marshal(successReason)
		if err != nil {
			return fmt.Errorf("sqlite store: marshal success reason: %w", err)
		}
	}
	var exException, exType, exTraceback sql.NullString
	if execErr != nil {
		exException = sql.NullString{String: execErr.Exception, Valid: true}
		exType = sql.NullString{String: execErr.Type, Valid: true}
		exTraceback = sql.NullString{String: execErr.Traceback, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `UPDATE node_states SET status = ?, completed_at = ?,
		duration_ms = ?, output_hash = ?, success_reason_json = ?, error_exception = ?,
		error_type = ?, error_traceback = ? WHERE state_id = ? AND status = 'OPEN'`,
		to, completedAt, existing.DurationMS, outputHash, string(successJSON),
		exException, exType, exTraceback, stateID)
	if err != nil {
		return fmt.Errorf("sqlite store: complete node state: %w", err)
	}
	return checkRowsAffected(res)
}

func (s *SQLiteStore) GetNodeState(ctx context.Context, stateID string) (landscape.NodeState, error) {
	var st landscape.NodeState
	var completedAt sql.NullTime
	var outputHash, successJSON, contextAfter sql.NullString
	var exException, exType, exTraceback sql.NullString
	var durationMS sql.NullInt64

	row := s.db.QueryRowContext(ctx, `SELECT state_id, token_id, node_id, step_index, attempt,
		input_hash, started_at, context_before, status, completed_at, duration_ms, output_hash,
		success_reason_json, context_after, error_exception, error_type, error_traceback
		FROM node_states WHERE state_id = ?`, stateID)
	err := row.Scan(&st.StateID, &st.TokenID, &st.NodeID, &st.StepIndex, &st.Attempt, &st.InputHash,
		&st.StartedAt, &st.ContextBefore, &st.Status, &completedAt, &durationMS, &outputHash,
		&successJSON, &contextAfter, &exException, &exType, &exTraceback)
	if err == sql.ErrNoRows {
		return landscape.NodeState{}, ErrNotFound
	}
	if err != nil {
		return landscape.NodeState{}, fmt.Errorf("sqlite store: get node state: %w", err)
	}
	if completedAt.Valid {
		st.CompletedAt = &completedAt.Time
	}
	st.DurationMS = durationMS.Int64
	st.OutputHash = outputHash.String
	st.ContextAfter = contextAfter.String
	if successJSON.Valid && successJSON.String != "" {
		if err := json.Unmarshal([]byte(successJSON.String), &st.SuccessReason); err != nil {
			return landscape.NodeState{}, fmt.Errorf("sqlite store: unmarshal success reason: %w", err)
		}
	}
	if exType.Valid {
		st.Error = &landscape.ExecutionError{
			Exception: exException.String,
			Type:      exType.String,
			Traceback: exTraceback.String,
		}
	}
	return st, nil
}

func (s *SQLiteStore) OpenNodeStates(ctx context.Context, runID string) ([]landscape.NodeState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ns.state_id FROM node_states ns
		JOIN tokens t ON t.token_id = ns.token_id
		JOIN rows r ON r.row_id = t.row_id
		JOIN nodes n ON n.node_id = r.source_node_id
		WHERE n.run_id = ? AND ns.status = 'OPEN'`, runID)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open node states: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite store: scan open state id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]landscape.NodeState, 0, len(ids))
	for _, id := range ids {
		st, err := s.GetNodeState(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *SQLiteStore) RecordCall(ctx context.Context, call landscape.Call) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO calls
		(call_id, state_id, call_index, call_type, status, request_hash, request_ref, response_ref,
		 response_hash, latency_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		call.CallID, call.StateID, call.CallIndex, call.CallType, call.Status, call.RequestHash,
		nullableStr(call.RequestRef), nullableStr(call.ResponseRef), nullableStr(call.ResponseHash), call.LatencyMS, nullableStr(call.Error))
	if err != nil {
		return fmt.Errorf("sqlite store: record call: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FindCallByHash(ctx context.Context, sourceRunID string, callType landscape.CallType, requestHash string) (landscape.Call, error) {
	var c landscape.Call
	var requestRef, responseRef, responseHash, errStr sql.NullString
	var latency sql.NullInt64
	row := s.db.QueryRowContext(ctx, `SELECT c.call_id, c.state_id, c.call_index, c.call_type,
		c.status, c.request_hash, c.request_ref, c.response_ref, c.response_hash, c.latency_ms, c.error
		FROM calls c
		JOIN node_states ns ON ns.state_id = c.state_id
		JOIN tokens t ON t.token_id = ns.token_id
		JOIN rows r ON r.row_id = t.row_id
		JOIN nodes n ON n.node_id = r.source_node_id
		WHERE n.run_id = ? AND c.call_type = ? AND c.request_hash = ?
		ORDER BY c.call_id LIMIT 1`, sourceRunID, callType, requestHash)
	err := row.Scan(&c.CallID, &c.StateID, &c.CallIndex, &c.CallType, &c.Status, &c.RequestHash,
		&requestRef, &responseRef, &responseHash, &latency, &errStr)
	if err == sql.ErrNoRows {
		return landscape.Call{}, ErrNotFound
	}
	if err != nil {
		return landscape.Call{}, fmt.Errorf("sqlite store: find call by hash: %w", err)
	}
	c.RequestRef = requestRef.String
	c.ResponseRef = responseRef.String
	c.ResponseHash = responseHash.String
	c.Error = errStr.String
	if latency.Valid {
		c.LatencyMS = &latency.Int64
	}
	return c, nil
}

func (s *SQLiteStore) RecordRoutingEvents(ctx context.Context, events []landscape.RoutingEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store: begin: %w", err)
	}
	defer tx.Rollback()
	for _, e := range events {
		if _, err := tx.ExecContext(ctx, `INSERT INTO routing_events
			(event_id, state_id, edge_id, routing_group_id, ordinal, mode, reason_ref, reason_hash)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.EventID, e.StateID, e.EdgeID, e.RoutingGroupID, e.Ordinal, e.Mode,
			nullableStr(e.ReasonRef), nullableStr(e.ReasonHash)); err != nil {
			return fmt.Errorf("sqlite store: record routing event: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) CreateBatch(ctx context.Context, batch landscape.Batch) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO batches
		(batch_id, aggregation_node_id, attempt, status, trigger_type)
		VALUES (?, ?, ?, ?, ?)`,
		batch.BatchID, batch.AggregationNodeID, batch.Attempt, batch.Status, batch.TriggerType)
	if err != nil {
		return fmt.Errorf("sqlite store: create batch: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AddBatchMember(ctx context.Context, member landscape.BatchMember) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO batch_members
		(batch_id, token_id, ordinal) VALUES (?, ?, ?)`,
		member.BatchID, member.TokenID, member.Ordinal)
	if err != nil {
		return fmt.Errorf("sqlite store: add batch member: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CompleteBatch(ctx context.Context, batchID string, status landscape.BatchStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE batches SET status = ? WHERE batch_id = ?`, status, batchID)
	if err != nil {
		return fmt.Errorf("sqlite store: complete batch: %w", err)
	}
	return checkRowsAffected(res)
}

func (s *SQLiteStore) RecordArtifact(ctx context.Context, artifact landscape.Artifact) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO artifacts
		(artifact_id, run_id, sink_node_id, path_or_uri, content_hash, size_bytes, idempotency_key, signature)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		artifact.ArtifactID, artifact.RunID, artifact.SinkNodeID, artifact.PathOrURI,
		artifact.ContentHash, artifact.SizeBytes, artifact.IdempotencyKey, artifact.Signature)
	if err != nil {
		return fmt.Errorf("sqlite store: record artifact: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertCheckpoint(ctx context.Context, cp landscape.Checkpoint) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO checkpoints
		(checkpoint_id, run_id, token_id, node_id, sequence_number, upstream_topology_hash,
		 checkpoint_node_config_hash, aggregation_state_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.CheckpointID, cp.RunID, cp.TokenID, cp.NodeID, cp.SequenceNumber,
		cp.UpstreamTopologyHash, cp.CheckpointNodeConfigHash, cp.AggregationStateJSON, cp.CreatedAt)
	if err != nil {
		return fmt.Errorf("sqlite store: insert checkpoint: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LatestCheckpoint(ctx context.Context, runID string) (landscape.Checkpoint, error) {
	var cp landscape.Checkpoint
	row := s.db.QueryRowContext(ctx, `SELECT checkpoint_id, run_id, token_id, node_id,
		sequence_number, upstream_topology_hash, checkpoint_node_config_hash,
		aggregation_state_json, created_at FROM checkpoints WHERE run_id = ?
		ORDER BY sequence_number DESC LIMIT 1`, runID)
	err := row.Scan(&cp.CheckpointID, &cp.RunID, &cp.TokenID, &cp.NodeID, &cp.SequenceNumber,
		&cp.UpstreamTopologyHash, &cp.CheckpointNodeConfigHash, &cp.AggregationStateJSON, &cp.CreatedAt)
	if err == sql.ErrNoRows {
		return landscape.Checkpoint{}, landscape.ErrNoCheckpoint
	}
	if err != nil {
		return landscape.Checkpoint{}, fmt.Errorf("sqlite store: latest checkpoint: %w", err)
	}
	return cp, nil
}

func (s *SQLiteStore) DeleteCheckpoints(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("sqlite store: delete checkpoints: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecordValidationError(ctx context.Context, ve landscape.ValidationError) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO validation_errors
		(error_id, run_id, source_node_id, row_index, reason, repr_fallback, repr_type)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ve.ErrorID, ve.RunID, ve.SourceNodeID, ve.RowIndex, ve.Reason,
		nullableStr(ve.ReprFallback), nullableStr(ve.ReprType))
	if err != nil {
		return fmt.Errorf("sqlite store: record validation error: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecordTransformError(ctx context.Context, te landscape.TransformError) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO transform_errors
		(error_id, state_id, node_id, reason, err, message, field)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		te.ErrorID, te.StateID, te.NodeID, te.Reason.Reason, te.Reason.Err, te.Reason.Message, te.Reason.Field)
	if err != nil {
		return fmt.Errorf("sqlite store: record transform error: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecordTokenOutcome(ctx context.Context, outcome landscape.TokenOutcome) error {
	// BUFFERED is non-terminal and may be superseded by the batch's real
	// terminal outcome once it flushes; only a second terminal outcome is
	// the violation (spec §4.6, §8 property 1).
	existing, err := s.GetTokenOutcome(ctx, outcome.TokenID)
	if err == nil && existing.Outcome.IsTerminal() {
		return &landscape.TokenOutcomeError{
			TokenID:  outcome.TokenID,
			Existing: string(existing.Outcome),
			Attempt:  string(outcome.Outcome),
		}
	}
	if err != nil && err != ErrNotFound {
		return fmt.Errorf("sqlite store: record token outcome: %w", err)
	}

	if err == ErrNotFound {
		_, err = s.db.ExecContext(ctx, `INSERT INTO token_outcomes (token_id, outcome, reason)
			VALUES (?, ?, ?)`, outcome.TokenID, outcome.Outcome, outcome.Reason)
	} else {
		_, err = s.db.ExecContext(ctx, `UPDATE token_outcomes SET outcome = ?, reason = ? WHERE token_id = ?`,
			outcome.Outcome, outcome.Reason, outcome.TokenID)
	}
	if err != nil {
		return fmt.Errorf("sqlite store: record token outcome: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTokenOutcome(ctx context.Context, tokenID string) (landscape.TokenOutcome, error) {
	var o landscape.TokenOutcome
	row := s.db.QueryRowContext(ctx, `SELECT token_id, outcome, reason FROM token_outcomes WHERE token_id = ?`, tokenID)
	err := row.Scan(&o.TokenID, &o.Outcome, &o.Reason)
	if err == sql.ErrNoRows {
		return landscape.TokenOutcome{}, ErrNotFound
	}
	if err != nil {
		return landscape.TokenOutcome{}, fmt.Errorf("sqlite store: get token outcome: %w", err)
	}
	return o, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite store: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ AuditStore = (*SQLiteStore)(nil)
