package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/landscaperun/landscape/landscape"
)

func TestMemoryStoreRunAndNodeRegistration(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	run := landscape.Run{
		RunID: "run-1", StartedAt: time.Now(), Status: landscape.RunStatusRunning,
		RunMode: landscape.RunModeLive,
	}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	node := landscape.NodeRecord{
		NodeID: "node-1", RunID: "run-1", NodeType: landscape.NodeTypeTransform,
		Determinism: landscape.DeterminismDeterministic,
	}
	if err := s.RegisterNode(ctx, node); err != nil {
		t.Fatalf("RegisterNode: %v", err)
	}

	badNode := landscape.NodeRecord{NodeID: "node-2", RunID: "run-1"}
	if err := s.RegisterNode(ctx, badNode); !errors.Is(err, landscape.ErrDeterminismUndeclared) {
		t.Fatalf("expected ErrDeterminismUndeclared, got %v", err)
	}

	nodes, err := s.ListNodes(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListNodes: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("expected exactly the valid node registered, got %d", len(nodes))
	}
}

func TestMemoryStoreNodeStateImmutableOnceTerminal(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	state := landscape.NodeState{
		StateID: "st-1", TokenID: "tok-1", NodeID: "node-1", StartedAt: time.Now(),
		Status: landscape.NodeStateOpen,
	}
	if err := s.BeginNodeState(ctx, state); err != nil {
		t.Fatalf("BeginNodeState: %v", err)
	}

	if err := s.CompleteNodeState(ctx, "st-1", landscape.NodeStateCompleted, time.Now(), "out", nil, nil); err != nil {
		t.Fatalf("CompleteNodeState: %v", err)
	}

	err := s.CompleteNodeState(ctx, "st-1", landscape.NodeStateFailed, time.Now(), "", nil, nil)
	if !errors.Is(err, landscape.ErrImmutableNodeState) {
		t.Fatalf("expected ErrImmutableNodeState, got %v", err)
	}
}

func TestMemoryStoreTokenOutcomeEnforcesExactlyOneTerminal(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.RecordTokenOutcome(ctx, landscape.TokenOutcome{TokenID: "tok-1", Outcome: landscape.OutcomeCompleted}); err != nil {
		t.Fatalf("first RecordTokenOutcome: %v", err)
	}

	err := s.RecordTokenOutcome(ctx, landscape.TokenOutcome{TokenID: "tok-1", Outcome: landscape.OutcomeRouted})
	var outcomeErr *landscape.TokenOutcomeError
	if !errors.As(err, &outcomeErr) {
		t.Fatalf("expected TokenOutcomeError, got %v", err)
	}
}

func TestMemoryStoreCheckpointLatestBySequence(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for seq := 1; seq <= 3; seq++ {
		cp := landscape.Checkpoint{CheckpointID: "cp", RunID: "run-1", SequenceNumber: seq}
		if err := s.InsertCheckpoint(ctx, cp); err != nil {
			t.Fatalf("InsertCheckpoint: %v", err)
		}
	}

	latest, err := s.LatestCheckpoint(ctx, "run-1")
	if err != nil {
		t.Fatalf("LatestCheckpoint: %v", err)
	}
	if latest.SequenceNumber != 3 {
		t.Fatalf("expected latest sequence 3, got %d", latest.SequenceNumber)
	}

	if _, err := s.LatestCheckpoint(ctx, "run-unknown"); !errors.Is(err, landscape.ErrNoCheckpoint) {
		t.Fatalf("expected ErrNoCheckpoint for unknown run, got %v", err)
	}
}

func TestMemoryStoreFindCallByHash(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	call := landscape.Call{CallID: "call-1", StateID: "st-1", CallType: landscape.CallTypeHTTP, RequestHash: "h1"}
	if err := s.RecordCall(ctx, call); err != nil {
		t.Fatalf("RecordCall: %v", err)
	}

	found, err := s.FindCallByHash(ctx, "run-1", landscape.CallTypeHTTP, "h1")
	if err != nil {
		t.Fatalf("FindCallByHash: %v", err)
	}
	if found.CallID != "call-1" {
		t.Fatalf("expected call-1, got %s", found.CallID)
	}

	if _, err := s.FindCallByHash(ctx, "run-1", landscape.CallTypeHTTP, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
