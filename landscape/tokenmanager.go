package landscape

import (
	"context"
	"fmt"

	"github.com/landscaperun/landscape/landscape/idgen"
)

// AuditRecorder is the subset of store.AuditStore the token manager needs.
// Kept as a local interface (rather than importing landscape/store) so
// this package never depends on its own store subpackage — store depends
// on landscape, not the other way around.
type AuditRecorder interface {
	CreateRowAndToken(ctx context.Context, row Row, token Token) error
	CreateChildToken(ctx context.Context, token Token, parents []TokenParent) error
	RecordTokenOutcome(ctx context.Context, outcome TokenOutcome) error
}

// TokenManager creates rows/tokens, links fork/expand/coalesce groups, and
// records terminal outcomes, enforcing "exactly one terminal outcome per
// token" (spec §3, §4.6, §8 property 1).
type TokenManager struct {
	store AuditRecorder
}

// NewTokenManager builds a manager writing through store.
func NewTokenManager(store AuditRecorder) *TokenManager {
	return &TokenManager{store: store}
}

// CreateRowAndToken creates a source row and its first token in one
// transaction (spec §4.6: "Creates rows and their first token in one
// transaction").
func (m *TokenManager) CreateRowAndToken(ctx context.Context, sourceNodeID string, rowIndex int, sourceDataHash, payloadRef string) (Row, Token, error) {
	row := Row{
		RowID:          idgen.New(idgen.PrefixRow),
		SourceNodeID:   sourceNodeID,
		RowIndex:       rowIndex,
		SourceDataHash: sourceDataHash,
		PayloadRef:     payloadRef,
	}
	token := Token{
		TokenID: idgen.New(idgen.PrefixToken),
		RowID:   row.RowID,
	}
	if err := m.store.CreateRowAndToken(ctx, row, token); err != nil {
		return Row{}, Token{}, fmt.Errorf("landscape: create row and token: %w", err)
	}
	return row, token, nil
}

// Fork creates len(branchNames) child tokens sharing a fresh fork_group_id
// under a single parent, records RoutingMode COPY traversal via the
// caller's RoutingEvent bookkeeping (not this method's concern), and marks
// the parent's outcome FORKED (spec §4.6, invariant S3 "Fork").
func (m *TokenManager) Fork(ctx context.Context, parent Token, branchNames []string, stepInPipeline int) ([]Token, error) {
	if len(branchNames) == 0 {
		return nil, fmt.Errorf("landscape: fork requires at least one branch")
	}
	groupID := idgen.New(idgen.PrefixForkGroup)
	children := make([]Token, 0, len(branchNames))
	for i, branch := range branchNames {
		child := Token{
			TokenID:        idgen.New(idgen.PrefixToken),
			RowID:          parent.RowID,
			ForkGroupID:    groupID,
			BranchName:     branch,
			StepInPipeline: stepInPipeline,
		}
		parents := []TokenParent{{TokenID: child.TokenID, ParentTokenID: parent.TokenID, Ordinal: i}}
		if err := m.store.CreateChildToken(ctx, child, parents); err != nil {
			return nil, fmt.Errorf("landscape: create fork child %d: %w", i, err)
		}
		children = append(children, child)
	}
	if err := m.recordOutcome(ctx, parent.TokenID, OutcomeForked, ""); err != nil {
		return nil, err
	}
	return children, nil
}

// Expand creates deaggregation output tokens sharing a fresh
// expand_group_id, each linked to parent, and marks the parent EXPANDED
// (spec §4.6: "for deaggregation output the parent's outcome becomes
// EXPANDED and the children share expand_group_id").
func (m *TokenManager) Expand(ctx context.Context, parent Token, count int, stepInPipeline int) ([]Token, error) {
	if count <= 0 {
		return nil, fmt.Errorf("landscape: expand requires a positive count")
	}
	groupID := idgen.New(idgen.PrefixExpandGroup)
	children := make([]Token, 0, count)
	for i := 0; i < count; i++ {
		child := Token{
			TokenID:        idgen.New(idgen.PrefixToken),
			RowID:          parent.RowID,
			ExpandGroupID:  groupID,
			StepInPipeline: stepInPipeline,
		}
		parents := []TokenParent{{TokenID: child.TokenID, ParentTokenID: parent.TokenID, Ordinal: i}}
		if err := m.store.CreateChildToken(ctx, child, parents); err != nil {
			return nil, fmt.Errorf("landscape: create expand child %d: %w", i, err)
		}
		children = append(children, child)
	}
	if err := m.recordOutcome(ctx, parent.TokenID, OutcomeExpanded, ""); err != nil {
		return nil, err
	}
	return children, nil
}

// Coalesce joins multiple parent tokens into a single child with a fresh
// join_group_id and ordinal parent links, marking each parent COALESCED
// (spec §4.6: "for coalesce joins the join records multiple parent
// links"). parents must be supplied in the order they should be joined;
// their index becomes TokenParent.Ordinal.
func (m *TokenManager) Coalesce(ctx context.Context, parents []Token, stepInPipeline int) (Token, error) {
	if len(parents) == 0 {
		return Token{}, fmt.Errorf("landscape: coalesce requires at least one parent")
	}
	groupID := idgen.New(idgen.PrefixJoinGroup)
	child := Token{
		TokenID:        idgen.New(idgen.PrefixToken),
		RowID:          parents[0].RowID,
		JoinGroupID:    groupID,
		StepInPipeline: stepInPipeline,
	}
	links := make([]TokenParent, len(parents))
	for i, p := range parents {
		links[i] = TokenParent{TokenID: child.TokenID, ParentTokenID: p.TokenID, Ordinal: i}
	}
	if err := m.store.CreateChildToken(ctx, child, links); err != nil {
		return Token{}, fmt.Errorf("landscape: create coalesce child: %w", err)
	}
	for _, p := range parents {
		if err := m.recordOutcome(ctx, p.TokenID, OutcomeCoalesced, ""); err != nil {
			return Token{}, err
		}
	}
	return child, nil
}

// Buffer records a token's BUFFERED non-terminal outcome while it waits
// inside an aggregation batch (spec §4.6: "BUFFERED is non-terminal and
// must be followed by a terminal outcome when the batch flushes").
func (m *TokenManager) Buffer(ctx context.Context, tokenID string) error {
	return m.recordOutcome(ctx, tokenID, OutcomeBuffered, "")
}

// Complete records a token's terminal COMPLETED/FAILED/QUARANTINED/
// ROUTED/CONSUMED_IN_BATCH outcome, per the caller-determined kind. It
// refuses to record BUFFERED here since that is non-terminal and has its
// own method, matching spec §4.6's "exactly one terminal outcome"
// invariant more explicitly at the type level.
func (m *TokenManager) Complete(ctx context.Context, tokenID string, outcome TokenOutcomeKind, reason string) error {
	if outcome == OutcomeBuffered {
		return fmt.Errorf("landscape: Complete cannot record BUFFERED, use Buffer")
	}
	return m.recordOutcome(ctx, tokenID, outcome, reason)
}

func (m *TokenManager) recordOutcome(ctx context.Context, tokenID string, kind TokenOutcomeKind, reason string) error {
	err := m.store.RecordTokenOutcome(ctx, TokenOutcome{TokenID: tokenID, Outcome: kind, Reason: reason})
	if err != nil {
		return fmt.Errorf("landscape: record outcome %s for token %s: %w", kind, tokenID, err)
	}
	return nil
}
