package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/landscaperun/landscape/landscape"
)

// MySQLStore is the alternate production AuditStore backend named in
// spec §4.5 ("PostgreSQL or MySQL"): a relational database reachable by
// multiple orchestrator processes, for deployments where SQLite's
// single-writer model is too restrictive.
//
// MySQLStore implements the identical AuditStore contract as SQLiteStore;
// callers can switch backends by swapping the constructor.
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore opens a connection pool against dsn (e.g.
// "user:pass@tcp(localhost:3306)/landscape?parseTime=true") and runs the
// schema migration. The DSN must include parseTime=true so TIMESTAMP
// columns scan into time.Time.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql store: open: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql store: ping: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql store: create tables: %w", err)
	}
	return s, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id VARCHAR(64) PRIMARY KEY,
			started_at TIMESTAMP(6) NOT NULL,
			completed_at TIMESTAMP(6) NULL,
			status VARCHAR(32) NOT NULL,
			config_hash VARCHAR(64) NOT NULL,
			settings_json LONGTEXT NOT NULL,
			canonical_version VARCHAR(32) NOT NULL,
			schema_contract_json LONGTEXT NOT NULL,
			schema_contract_hash VARCHAR(64) NOT NULL,
			run_mode VARCHAR(16) NOT NULL,
			source_run_id VARCHAR(64),
			export_status VARCHAR(32) NOT NULL DEFAULT ''
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS nodes (
			node_id VARCHAR(64) PRIMARY KEY,
			run_id VARCHAR(64) NOT NULL,
			plugin_name VARCHAR(128) NOT NULL,
			node_type VARCHAR(32) NOT NULL,
			determinism VARCHAR(32) NOT NULL,
			plugin_version VARCHAR(32) NOT NULL,
			config_hash VARCHAR(64) NOT NULL,
			config_json LONGTEXT NOT NULL,
			schema_hash VARCHAR(64) NOT NULL DEFAULT '',
			sequence_index INT NULL,
			INDEX idx_nodes_run (run_id),
			CONSTRAINT fk_nodes_run FOREIGN KEY (run_id) REFERENCES runs(run_id)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS edges (
			edge_id VARCHAR(64) PRIMARY KEY,
			run_id VARCHAR(64) NOT NULL,
			from_node VARCHAR(64) NOT NULL,
			to_node VARCHAR(64) NOT NULL,
			label VARCHAR(128) NOT NULL,
			default_mode VARCHAR(16) NOT NULL,
			UNIQUE KEY uq_edges_from_to_label (from_node, to_node, label),
			INDEX idx_edges_run (run_id),
			CONSTRAINT fk_edges_from FOREIGN KEY (from_node) REFERENCES nodes(node_id),
			CONSTRAINT fk_edges_to FOREIGN KEY (to_node) REFERENCES nodes(node_id)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS rows (
			row_id VARCHAR(64) PRIMARY KEY,
			source_node_id VARCHAR(64) NOT NULL,
			row_index INT NOT NULL,
			source_data_hash VARCHAR(64) NOT NULL,
			payload_ref VARCHAR(256) NOT NULL,
			CONSTRAINT fk_rows_source_node FOREIGN KEY (source_node_id) REFERENCES nodes(node_id)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS tokens (
			token_id VARCHAR(64) PRIMARY KEY,
			row_id VARCHAR(64) NOT NULL,
			fork_group_id VARCHAR(64),
			join_group_id VARCHAR(64),
			expand_group_id VARCHAR(64),
			branch_name VARCHAR(128),
			step_in_pipeline INT NOT NULL DEFAULT 0,
			INDEX idx_tokens_row (row_id),
			CONSTRAINT fk_tokens_row FOREIGN KEY (row_id) REFERENCES rows(row_id)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS token_parents (
			token_id VARCHAR(64) NOT NULL,
			parent_token_id VARCHAR(64) NOT NULL,
			ordinal INT NOT NULL,
			PRIMARY KEY (token_id, parent_token_id),
			CONSTRAINT fk_tp_token FOREIGN KEY (token_id) REFERENCES tokens(token_id),
			CONSTRAINT fk_tp_parent FOREIGN KEY (parent_token_id) REFERENCES tokens(token_id)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS node_states (
			state_id VARCHAR(64) PRIMARY KEY,
			token_id VARCHAR(64) NOT NULL,
			node_id VARCHAR(64) NOT NULL,
			step_index INT NOT NULL,
			attempt INT NOT NULL,
			input_hash VARCHAR(64) NOT NULL,
			started_at TIMESTAMP(6) NOT NULL,
			context_before LONGTEXT NOT NULL,
			status VARCHAR(16) NOT NULL,
			completed_at TIMESTAMP(6) NULL,
			duration_ms BIGINT NULL,
			output_hash VARCHAR(64) NULL,
			success_reason_json LONGTEXT NULL,
			context_after LONGTEXT NULL,
			error_exception LONGTEXT NULL,
			error_type VARCHAR(128) NULL,
			error_traceback LONGTEXT NULL,
			INDEX idx_states_token (token_id),
			INDEX idx_states_status (status),
			CONSTRAINT fk_states_token FOREIGN KEY (token_id) REFERENCES tokens(token_id)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS calls (
			call_id VARCHAR(64) PRIMARY KEY,
			state_id VARCHAR(64) NOT NULL,
			call_index INT NOT NULL,
			call_type VARCHAR(32) NOT NULL,
			status VARCHAR(16) NOT NULL,
			request_hash VARCHAR(64) NOT NULL,
			request_ref VARCHAR(256) NULL,
			response_ref VARCHAR(256) NULL,
			response_hash VARCHAR(64) NULL,
			latency_ms BIGINT NULL,
			error LONGTEXT NULL,
			source_run_id VARCHAR(64) NOT NULL DEFAULT '',
			INDEX idx_calls_hash (source_run_id, call_type, request_hash),
			CONSTRAINT fk_calls_state FOREIGN KEY (state_id) REFERENCES node_states(state_id)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS routing_events (
			event_id VARCHAR(64) PRIMARY KEY,
			state_id VARCHAR(64) NOT NULL,
			edge_id VARCHAR(64) NOT NULL,
			routing_group_id VARCHAR(64) NOT NULL,
			ordinal INT NOT NULL,
			mode VARCHAR(16) NOT NULL,
			reason_ref VARCHAR(256) NULL,
			reason_hash VARCHAR(64) NULL,
			CONSTRAINT fk_revents_state FOREIGN KEY (state_id) REFERENCES node_states(state_id),
			CONSTRAINT fk_revents_edge FOREIGN KEY (edge_id) REFERENCES edges(edge_id)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS batches (
			batch_id VARCHAR(64) PRIMARY KEY,
			aggregation_node_id VARCHAR(64) NOT NULL,
			attempt INT NOT NULL,
			status VARCHAR(16) NOT NULL,
			trigger_type VARCHAR(32) NOT NULL,
			CONSTRAINT fk_batches_node FOREIGN KEY (aggregation_node_id) REFERENCES nodes(node_id)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS batch_members (
			batch_id VARCHAR(64) NOT NULL,
			token_id VARCHAR(64) NOT NULL,
			ordinal INT NOT NULL,
			PRIMARY KEY (batch_id, token_id),
			CONSTRAINT fk_bm_batch FOREIGN KEY (batch_id) REFERENCES batches(batch_id),
			CONSTRAINT fk_bm_token FOREIGN KEY (token_id) REFERENCES tokens(token_id)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			artifact_id VARCHAR(64) PRIMARY KEY,
			run_id VARCHAR(64) NOT NULL,
			sink_node_id VARCHAR(64) NOT NULL,
			path_or_uri VARCHAR(512) NOT NULL,
			content_hash VARCHAR(64) NOT NULL,
			size_bytes BIGINT NOT NULL,
			idempotency_key VARCHAR(256) NOT NULL UNIQUE,
			signature VARBINARY(64),
			CONSTRAINT fk_artifacts_run FOREIGN KEY (run_id) REFERENCES runs(run_id),
			CONSTRAINT fk_artifacts_sink FOREIGN KEY (sink_node_id) REFERENCES nodes(node_id)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			checkpoint_id VARCHAR(64) PRIMARY KEY,
			run_id VARCHAR(64) NOT NULL,
			token_id VARCHAR(64) NOT NULL,
			node_id VARCHAR(64) NOT NULL,
			sequence_number INT NOT NULL,
			upstream_topology_hash VARCHAR(64) NOT NULL,
			checkpoint_node_config_hash VARCHAR(64) NOT NULL,
			aggregation_state_json LONGTEXT NOT NULL,
			created_at TIMESTAMP(6) NOT NULL,
			UNIQUE KEY uq_checkpoints_run_seq (run_id, sequence_number),
			INDEX idx_checkpoints_run (run_id),
			CONSTRAINT fk_checkpoints_run FOREIGN KEY (run_id) REFERENCES runs(run_id)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS validation_errors (
			error_id VARCHAR(64) PRIMARY KEY,
			run_id VARCHAR(64) NOT NULL,
			source_node_id VARCHAR(64) NOT NULL,
			row_index INT NOT NULL,
			reason VARCHAR(256) NOT NULL,
			repr_fallback LONGTEXT NULL,
			repr_type VARCHAR(128) NULL,
			CONSTRAINT fk_verr_run FOREIGN KEY (run_id) REFERENCES runs(run_id)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS transform_errors (
			error_id VARCHAR(64) PRIMARY KEY,
			state_id VARCHAR(64) NOT NULL,
			node_id VARCHAR(64) NOT NULL,
			reason VARCHAR(64) NOT NULL,
			err LONGTEXT NULL,
			message LONGTEXT NULL,
			field VARCHAR(256) NULL,
			CONSTRAINT fk_terr_state FOREIGN KEY (state_id) REFERENCES node_states(state_id)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS token_outcomes (
			token_id VARCHAR(64) PRIMARY KEY,
			outcome VARCHAR(32) NOT NULL,
			reason VARCHAR(256) NULL,
			CONSTRAINT fk_outcomes_token FOREIGN KEY (token_id) REFERENCES tokens(token_id)
		) ENGINE=InnoDB`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *MySQLStore) CreateRun(ctx context.Context, run landscape.Run) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO runs
		(run_id, started_at, completed_at, status, config_hash, settings_json,
		 canonical_version, schema_contract_json, schema_contract_hash, run_mode,
		 source_run_id, export_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.StartedAt, run.CompletedAt, run.Status, run.ConfigHash, run.SettingsJSON,
		run.CanonicalVersion, run.SchemaContractJSON, run.SchemaContractHash, run.RunMode,
		run.SourceRunID, run.ExportStatus)
	if err != nil {
		return fmt.Errorf("mysql store: create run: %w", err)
	}
	return nil
}

func (s *MySQLStore) UpdateRunStatus(ctx context.Context, runID string, status landscape.RunStatus, completedAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE runs SET status = ?, completed_at = ? WHERE run_id = ?`,
		status, completedAt, runID)
	if err != nil {
		return fmt.Errorf("mysql store: update run status: %w", err)
	}
	return checkRowsAffected(res)
}

func (s *MySQLStore) GetRun(ctx context.Context, runID string) (landscape.Run, error) {
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
		return landscape.Run{}, fmt.Errorf("mysql store: get run: %w", err)
	}
	return run, nil
}

func (s *MySQLStore) RegisterNode(ctx context.Context, node landscape.NodeRecord) error {
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
		return fmt.Errorf("mysql store: register node: %w", err)
	}
	return nil
}

func (s *MySQLStore) RegisterEdge(ctx context.Context, edge landscape.EdgeRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO edges
		(edge_id, run_id, from_node, to_node, label, default_mode)
		VALUES (?, ?, ?, ?, ?, ?)`,
		edge.EdgeID, edge.RunID, edge.FromNode, edge.ToNode, edge.Label, edge.DefaultMode)
	if err != nil {
		return fmt.Errorf("mysql store: register edge: %w", err)
	}
	return nil
}

func (s *MySQLStore) ListNodes(ctx context.Context, runID string) ([]landscape.NodeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT node_id, run_id, plugin_name, node_type, determinism,
		plugin_version, config_hash, config_json, schema_hash, sequence_index
		FROM nodes WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("mysql store: list nodes: %w", err)
	}
	defer rows.Close()

	var out []landscape.NodeRecord
	for rows.Next() {
		var n landscape.NodeRecord
		if err := rows.Scan(&n.NodeID, &n.RunID, &n.PluginName, &n.NodeType, &n.Determinism,
			&n.PluginVersion, &n.ConfigHash, &n.ConfigJSON, &n.SchemaHash, &n.SequenceIndex); err != nil {
			return nil, fmt.Errorf("mysql store: scan node: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *MySQLStore) ListEdges(ctx context.Context, runID string) ([]landscape.EdgeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT edge_id, run_id, from_node, to_node, label, default_mode
		FROM edges WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("mysql store: list edges: %w", err)
	}
	defer rows.Close()

	var out []landscape.EdgeRecord
	for rows.Next() {
		var e landscape.EdgeRecord
		if err := rows.Scan(&e.EdgeID, &e.RunID, &e.FromNode, &e.ToNode, &e.Label, &e.DefaultMode); err != nil {
			return nil, fmt.Errorf("mysql store: scan edge: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *MySQLStore) CreateRowAndToken(ctx context.Context, row landscape.Row, token landscape.Token) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mysql store: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO rows
		(row_id, source_node_id, row_index, source_data_hash, payload_ref)
		VALUES (?, ?, ?, ?, ?)`,
		row.RowID, row.SourceNodeID, row.RowIndex, row.SourceDataHash, row.PayloadRef); err != nil {
		return fmt.Errorf("mysql store: insert row: %w", err)
	}
	if err := insertTokenMySQL(ctx, tx, token); err != nil {
		return err
	}
	return tx.Commit()
}

func insertTokenMySQL(ctx context.Context, tx *sql.Tx, token landscape.Token) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tokens
		(token_id, row_id, fork_group_id, join_group_id, expand_group_id, branch_name, step_in_pipeline)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		token.TokenID, token.RowID, nullableStr(token.ForkGroupID), nullableStr(token.JoinGroupID),
		nullableStr(token.ExpandGroupID), nullableStr(token.BranchName), token.StepInPipeline)
	if err != nil {
		return fmt.Errorf("mysql store: insert token: %w", err)
	}
	return nil
}

func (s *MySQLStore) CreateChildToken(ctx context.Context, token landscape.Token, parents []landscape.TokenParent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mysql store: begin: %w", err)
	}
	defer tx.Rollback()

	if err := insertTokenMySQL(ctx, tx, token); err != nil {
		return err
	}
	for _, p := range parents {
		if _, err := tx.ExecContext(ctx, `INSERT INTO token_parents
			(token_id, parent_token_id, ordinal) VALUES (?, ?, ?)`,
			p.TokenID, p.ParentTokenID, p.Ordinal); err != nil {
			return fmt.Errorf("mysql store: insert token parent: %w", err)
		}
	}
	return tx.Commit()
}

func (s *MySQLStore) GetToken(ctx context.Context, tokenID string) (landscape.Token, error) {
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
		return landscape.Token{}, fmt.Errorf("mysql store: get token: %w", err)
	}
	return t, nil
}

func (s *MySQLStore) BeginNodeState(ctx context.Context, state landscape.NodeState) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO node_states
		(state_id, token_id, node_id, step_index, attempt, input_hash, started_at,
		 context_before, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		state.StateID, state.TokenID, state.NodeID, state.StepIndex, state.Attempt,
		state.InputHash, state.StartedAt, state.ContextBefore, landscape.NodeStateOpen)
	if err != nil {
		return fmt.Errorf("mysql store: begin node state: %w", err)
	}
	return nil
}

func (s *MySQLStore) CompleteNodeState(ctx context.Context, stateID string, to landscape.NodeStateStatus, completedAt time.Time, outputHash string, successReason map[string]any, execErr *landscape.ExecutionError) error {
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
			return fmt.Errorf("mysql store: marshal success reason: %w", err)
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
		return fmt.Errorf("mysql store: complete node state: %w", err)
	}
	return checkRowsAffected(res)
}

func (s *MySQLStore) GetNodeState(ctx context.Context, stateID string) (landscape.NodeState, error) {
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
		return landscape.NodeState{}, fmt.Errorf("mysql store: get node state: %w", err)
	}
	if completedAt.Valid {
		st.CompletedAt = &completedAt.Time
	}
	st.DurationMS = durationMS.Int64
	st.OutputHash = outputHash.String
	st.ContextAfter = contextAfter.String
	if successJSON.Valid && successJSON.String != "" {
		if err := json.Unmarshal([]byte(successJSON.String), &st.SuccessReason); err != nil {
			return landscape.NodeState{}, fmt.Errorf("mysql store: unmarshal success reason: %w", err)
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

func (s *MySQLStore) OpenNodeStates(ctx context.Context, runID string) ([]landscape.NodeState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ns.state_id FROM node_states ns
		JOIN tokens t ON t.token_id = ns.token_id
		JOIN rows r ON r.row_id = t.row_id
		JOIN nodes n ON n.node_id = r.source_node_id
		WHERE n.run_id = ? AND ns.status = 'OPEN'`, runID)
	if err != nil {
		return nil, fmt.Errorf("mysql store: open node states: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("mysql store: scan open state id: %w", err)
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

func (s *MySQLStore) RecordCall(ctx context.Context, call landscape.Call) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO calls
		(call_id, state_id, call_index, call_type, status, request_hash, request_ref, response_ref,
		 response_hash, latency_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		call.CallID, call.StateID, call.CallIndex, call.CallType, call.Status, call.RequestHash,
		nullableStr(call.RequestRef), nullableStr(call.ResponseRef), nullableStr(call.ResponseHash), call.LatencyMS, nullableStr(call.Error))
	if err != nil {
		return fmt.Errorf("mysql store: record call: %w", err)
	}
	return nil
}

func (s *MySQLStore) FindCallByHash(ctx context.Context, sourceRunID string, callType landscape.CallType, requestHash string) (landscape.Call, error) {
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
		return landscape.Call{}, fmt.Errorf("mysql store: find call by hash: %w", err)
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

func (s *MySQLStore) RecordRoutingEvents(ctx context.Context, events []landscape.RoutingEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mysql store: begin: %w", err)
	}
	defer tx.Rollback()
	for _, e := range events {
		if _, err := tx.ExecContext(ctx, `INSERT INTO routing_events
			(event_id, state_id, edge_id, routing_group_id, ordinal, mode, reason_ref, reason_hash)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.EventID, e.StateID, e.EdgeID, e.RoutingGroupID, e.Ordinal, e.Mode,
			nullableStr(e.ReasonRef), nullableStr(e.ReasonHash)); err != nil {
			return fmt.Errorf("mysql store: record routing event: %w", err)
		}
	}
	return tx.Commit()
}

func (s *MySQLStore) CreateBatch(ctx context.Context, batch landscape.Batch) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO batches
		(batch_id, aggregation_node_id, attempt, status, trigger_type)
		VALUES (?, ?, ?, ?, ?)`,
		batch.BatchID, batch.AggregationNodeID, batch.Attempt, batch.Status, batch.TriggerType)
	if err != nil {
		return fmt.Errorf("mysql store: create batch: %w", err)
	}
	return nil
}

func (s *MySQLStore) AddBatchMember(ctx context.Context, member landscape.BatchMember) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO batch_members
		(batch_id, token_id, ordinal) VALUES (?, ?, ?)`,
		member.BatchID, member.TokenID, member.Ordinal)
	if err != nil {
		return fmt.Errorf("mysql store: add batch member: %w", err)
	}
	return nil
}

func (s *MySQLStore) CompleteBatch(ctx context.Context, batchID string, status landscape.BatchStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE batches SET status = ? WHERE batch_id = ?`, status, batchID)
	if err != nil {
		return fmt.Errorf("mysql store: complete batch: %w", err)
	}
	return checkRowsAffected(res)
}

func (s *MySQLStore) RecordArtifact(ctx context.Context, artifact landscape.Artifact) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO artifacts
		(artifact_id, run_id, sink_node_id, path_or_uri, content_hash, size_bytes, idempotency_key, signature)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		artifact.ArtifactID, artifact.RunID, artifact.SinkNodeID, artifact.PathOrURI,
		artifact.ContentHash, artifact.SizeBytes, artifact.IdempotencyKey, artifact.Signature)
	if err != nil {
		return fmt.Errorf("mysql store: record artifact: %w", err)
	}
	return nil
}

func (s *MySQLStore) InsertCheckpoint(ctx context.Context, cp landscape.Checkpoint) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO checkpoints
		(checkpoint_id, run_id, token_id, node_id, sequence_number, upstream_topology_hash,
		 checkpoint_node_config_hash, aggregation_state_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.CheckpointID, cp.RunID, cp.TokenID, cp.NodeID, cp.SequenceNumber,
		cp.UpstreamTopologyHash, cp.CheckpointNodeConfigHash, cp.AggregationStateJSON, cp.CreatedAt)
	if err != nil {
		return fmt.Errorf("mysql store: insert checkpoint: %w", err)
	}
	return nil
}

func (s *MySQLStore) LatestCheckpoint(ctx context.Context, runID string) (landscape.Checkpoint, error) {
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
		return landscape.Checkpoint{}, fmt.Errorf("mysql store: latest checkpoint: %w", err)
	}
	return cp, nil
}

func (s *MySQLStore) DeleteCheckpoints(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("mysql store: delete checkpoints: %w", err)
	}
	return nil
}

func (s *MySQLStore) RecordValidationError(ctx context.Context, ve landscape.ValidationError) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO validation_errors
		(error_id, run_id, source_node_id, row_index, reason, repr_fallback, repr_type)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ve.ErrorID, ve.RunID, ve.SourceNodeID, ve.RowIndex, ve.Reason,
		nullableStr(ve.ReprFallback), nullableStr(ve.ReprType))
	if err != nil {
		return fmt.Errorf("mysql store: record validation error: %w", err)
	}
	return nil
}

func (s *MySQLStore) RecordTransformError(ctx context.Context, te landscape.TransformError) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO transform_errors
		(error_id, state_id, node_id, reason, err, message, field)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		te.ErrorID, te.StateID, te.NodeID, te.Reason.Reason, te.Reason.Err, te.Reason.Message, te.Reason.Field)
	if err != nil {
		return fmt.Errorf("mysql store: record transform error: %w", err)
	}
	return nil
}

func (s *MySQLStore) RecordTokenOutcome(ctx context.Context, outcome landscape.TokenOutcome) error {
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
		return fmt.Errorf("mysql store: record token outcome: %w", err)
	}

	if err == ErrNotFound {
		_, err = s.db.ExecContext(ctx, `INSERT INTO token_outcomes (token_id, outcome, reason)
			VALUES (?, ?, ?)`, outcome.TokenID, outcome.Outcome, outcome.Reason)
	} else {
		_, err = s.db.ExecContext(ctx, `UPDATE token_outcomes SET outcome = ?, reason = ? WHERE token_id = ?`,
			outcome.Outcome, outcome.Reason, outcome.TokenID)
	}
	if err != nil {
		return fmt.Errorf("mysql store: record token outcome: %w", err)
	}
	return nil
}

func (s *MySQLStore) GetTokenOutcome(ctx context.Context, tokenID string) (landscape.TokenOutcome, error) {
	var o landscape.TokenOutcome
	row := s.db.QueryRowContext(ctx, `SELECT token_id, outcome, reason FROM token_outcomes WHERE token_id = ?`, tokenID)
	err := row.Scan(&o.TokenID, &o.Outcome, &o.Reason)
	if err == sql.ErrNoRows {
		return landscape.TokenOutcome{}, ErrNotFound
	}
	if err != nil {
		return landscape.TokenOutcome{}, fmt.Errorf("mysql store: get token outcome: %w", err)
	}
	return o, nil
}

func (s *MySQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var _ AuditStore = (*MySQLStore)(nil)
