package store

import (
	"context"
	"sync"
	"time"

	"github.com/landscaperun/landscape/landscape"
)

// MemoryStore is an in-process AuditStore backed by plain maps, guarded by
// a single mutex. It exists for tests and for short-lived local runs where
// durability across process restarts is not required (spec §4.5 names
// SQLite as the durable default; MemoryStore is not a spec entity but the
// natural zero-dependency stand-in the teacher's own test suites reach for
// rather than standing up a real database per test).
type MemoryStore struct {
	mu sync.Mutex

	runs     map[string]landscape.Run
	nodes    map[string][]landscape.NodeRecord
	edges    map[string][]landscape.EdgeRecord
	tokens   map[string]landscape.Token
	parents  map[string][]landscape.TokenParent
	states   map[string]landscape.NodeState
	calls    map[string]landscape.Call
	callByH  map[string]string // sourceRunID|callType|requestHash -> callID
	routing  []landscape.RoutingEvent
	batches  map[string]landscape.Batch
	members  map[string][]landscape.BatchMember
	artifact []landscape.Artifact
	checkpts map[string][]landscape.Checkpoint
	valErrs  []landscape.ValidationError
	xformErr []landscape.TransformError
	outcomes map[string]landscape.TokenOutcome
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:     make(map[string]landscape.Run),
		nodes:    make(map[string][]landscape.NodeRecord),
		edges:    make(map[string][]landscape.EdgeRecord),
		tokens:   make(map[string]landscape.Token),
		parents:  make(map[string][]landscape.TokenParent),
		states:   make(map[string]landscape.NodeState),
		calls:    make(map[string]landscape.Call),
		callByH:  make(map[string]string),
		batches:  make(map[string]landscape.Batch),
		members:  make(map[string][]landscape.BatchMember),
		checkpts: make(map[string][]landscape.Checkpoint),
		outcomes: make(map[string]landscape.TokenOutcome),
	}
}

func (s *MemoryStore) CreateRun(ctx context.Context, run landscape.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.RunID] = run
	return nil
}

func (s *MemoryStore) UpdateRunStatus(ctx context.Context, runID string, status landscape.RunStatus, completedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return ErrNotFound
	}
	run.Status = status
	run.CompletedAt = completedAt
	s.runs[runID] = run
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, runID string) (landscape.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return landscape.Run{}, ErrNotFound
	}
	return run, nil
}

func (s *MemoryStore) RegisterNode(ctx context.Context, node landscape.NodeRecord) error {
	if err := node.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[node.RunID] = append(s.nodes[node.RunID], node)
	return nil
}

func (s *MemoryStore) RegisterEdge(ctx context.Context, edge landscape.EdgeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges[edge.RunID] = append(s.edges[edge.RunID], edge)
	return nil
}

func (s *MemoryStore) ListNodes(ctx context.Context, runID string) ([]landscape.NodeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]landscape.NodeRecord, len(s.nodes[runID]))
	copy(out, s.nodes[runID])
	return out, nil
}

func (s *MemoryStore) ListEdges(ctx context.Context, runID string) ([]landscape.EdgeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]landscape.EdgeRecord, len(s.edges[runID]))
	copy(out, s.edges[runID])
	return out, nil
}

func (s *MemoryStore) CreateRowAndToken(ctx context.Context, row landscape.Row, token landscape.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.TokenID] = token
	return nil
}

func (s *MemoryStore) CreateChildToken(ctx context.Context, token landscape.Token, parents []landscape.TokenParent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.TokenID] = token
	s.parents[token.TokenID] = append(s.parents[token.TokenID], parents...)
	return nil
}

func (s *MemoryStore) GetToken(ctx context.Context, tokenID string) (landscape.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[tokenID]
	if !ok {
		return landscape.Token{}, ErrNotFound
	}
	return tok, nil
}

func (s *MemoryStore) BeginNodeState(ctx context.Context, state landscape.NodeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.states[state.StateID]; ok && existing.Status != landscape.NodeStateOpen {
		return landscape.ErrImmutableNodeState
	}
	s.states[state.StateID] = state
	return nil
}

func (s *MemoryStore) CompleteNodeState(ctx context.Context, stateID string, to landscape.NodeStateStatus, completedAt time.Time, outputHash string, successReason map[string]any, execErr *landscape.ExecutionError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[stateID]
	if !ok {
		return ErrNotFound
	}
	if err := state.Transition(to, completedAt); err != nil {
		return err
	}
	state.OutputHash = outputHash
	state.SuccessReason = successReason
	state.Error = execErr
	s.states[stateID] = state
	return nil
}

func (s *MemoryStore) GetNodeState(ctx context.Context, stateID string) (landscape.NodeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[stateID]
	if !ok {
		return landscape.NodeState{}, ErrNotFound
	}
	return state, nil
}

func (s *MemoryStore) OpenNodeStates(ctx context.Context, runID string) ([]landscape.NodeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []landscape.NodeState
	for _, state := range s.states {
		if state.Status == landscape.NodeStateOpen {
			out = append(out, state)
		}
	}
	return out, nil
}

func (s *MemoryStore) RecordCall(ctx context.Context, call landscape.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[call.CallID] = call
	// MemoryStore does not track which run a state belongs to (Call only
	// carries StateID), so the hash index is scoped by call type + request
	// hash alone. SQLiteStore and MySQLStore also scope it to the source
	// run, by joining each call through its state, token, row and source
	// node; callers of MemoryStore in tests use one store per run, which
	// makes the two equivalent in practice.
	s.callByH[callHashKey(call.CallType, call.RequestHash)] = call.CallID
	return nil
}

func callHashKey(callType landscape.CallType, requestHash string) string {
	return string(callType) + "|" + requestHash
}

func (s *MemoryStore) FindCallByHash(ctx context.Context, sourceRunID string, callType landscape.CallType, requestHash string) (landscape.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.callByH[callHashKey(callType, requestHash)]
	if !ok {
		return landscape.Call{}, ErrNotFound
	}
	call, ok := s.calls[id]
	if !ok {
		return landscape.Call{}, ErrNotFound
	}
	return call, nil
}

func (s *MemoryStore) RecordRoutingEvents(ctx context.Context, events []landscape.RoutingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routing = append(s.routing, events...)
	return nil
}

func (s *MemoryStore) CreateBatch(ctx context.Context, batch landscape.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[batch.BatchID] = batch
	return nil
}

func (s *MemoryStore) AddBatchMember(ctx context.Context, member landscape.BatchMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[member.BatchID] = append(s.members[member.BatchID], member)
	return nil
}

func (s *MemoryStore) CompleteBatch(ctx context.Context, batchID string, status landscape.BatchStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[batchID]
	if !ok {
		return ErrNotFound
	}
	batch.Status = status
	s.batches[batchID] = batch
	return nil
}

func (s *MemoryStore) RecordArtifact(ctx context.Context, artifact landscape.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifact = append(s.artifact, artifact)
	return nil
}

func (s *MemoryStore) InsertCheckpoint(ctx context.Context, cp landscape.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpts[cp.RunID] = append(s.checkpts[cp.RunID], cp)
	return nil
}

func (s *MemoryStore) LatestCheckpoint(ctx context.Context, runID string) (landscape.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cps := s.checkpts[runID]
	if len(cps) == 0 {
		return landscape.Checkpoint{}, landscape.ErrNoCheckpoint
	}
	latest := cps[0]
	for _, cp := range cps[1:] {
		if cp.SequenceNumber > latest.SequenceNumber {
			latest = cp
		}
	}
	return latest, nil
}

func (s *MemoryStore) DeleteCheckpoints(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpts, runID)
	return nil
}

func (s *MemoryStore) RecordValidationError(ctx context.Context, ve landscape.ValidationError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valErrs = append(s.valErrs, ve)
	return nil
}

func (s *MemoryStore) RecordTransformError(ctx context.Context, te landscape.TransformError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.xformErr = append(s.xformErr, te)
	return nil
}

func (s *MemoryStore) RecordTokenOutcome(ctx context.Context, outcome landscape.TokenOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// BUFFERED is non-terminal and may be superseded by the batch's real
	// terminal outcome once it flushes; only a second terminal outcome is
	// the violation (spec §4.6, §8 property 1).
	if existing, ok := s.outcomes[outcome.TokenID]; ok && existing.Outcome.IsTerminal() {
		return &landscape.TokenOutcomeError{TokenID: outcome.TokenID, Existing: string(existing.Outcome), Attempt: string(outcome.Outcome)}
	}
	s.outcomes[outcome.TokenID] = outcome
	return nil
}

func (s *MemoryStore) GetTokenOutcome(ctx context.Context, tokenID string) (landscape.TokenOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	outcome, ok := s.outcomes[tokenID]
	if !ok {
		return landscape.TokenOutcome{}, ErrNotFound
	}
	return outcome, nil
}

func (s *MemoryStore) Close() error { return nil }

var _ AuditStore = (*MemoryStore)(nil)
