// Package secureframe implements the frame registry and proxy table
// described in spec §4.14: when a plugin operates on dataframe-shaped data
// out-of-process (via landscape/sandbox), the orchestrator stays the sole
// holder of the real data. Workers are only ever handed an opaque proxy_id;
// resolving one back to the underlying frame, and approving any mutation
// of it, stays entirely on the orchestrator side of the process boundary.
package secureframe

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/landscaperun/landscape/landscape"
)

// SecurityLevel classifies how cautiously a registered frame's data must be
// handled (spec §4.14: "security_level ∈ [0..4]").
type SecurityLevel int

const (
	SecurityLevelPublic SecurityLevel = iota
	SecurityLevelInternal
	SecurityLevelConfidential
	SecurityLevelSensitive
	SecurityLevelRestricted
)

// Valid reports whether level falls within the declared [0..4] range.
func (l SecurityLevel) Valid() bool {
	return l >= SecurityLevelPublic && l <= SecurityLevelRestricted
}

// Frame is the data a registry entry wraps. Digest is a 32-byte BLAKE3 hash
// computed over the canonical JSON encoding of Rows — the spec's "32-byte
// BLAKE3 of canonical Parquet" reinterpreted for a pipeline whose rows are
// already represented as Go maps rather than materialized Parquet bytes
// (see DESIGN.md).
type Frame struct {
	FrameID       string
	Rows          []map[string]any
	Digest        []byte
	SecurityLevel SecurityLevel
	CreatedAt     time.Time
}

// Registry maps a stable frame_id to its frame, tracking retired IDs so
// they can never be reused (spec §4.14). Methods never call back into one
// another while holding mu, so a plain sync.Mutex is sufficient — unlike
// the reentrant lock the original uses, nothing here recurses.
type Registry struct {
	mu      sync.Mutex
	frames  map[string]*Frame
	retired map[string]struct{}
}

// NewRegistry builds an empty frame registry.
func NewRegistry() *Registry {
	return &Registry{
		frames:  make(map[string]*Frame),
		retired: make(map[string]struct{}),
	}
}

func digestOf(rows []map[string]any) ([]byte, error) {
	canonical, err := landscape.CanonicalJSON(rows)
	if err != nil {
		return nil, fmt.Errorf("secureframe: canonicalize frame rows: %w", err)
	}
	h := blake3.New()
	if _, err := h.Write(canonical); err != nil {
		return nil, fmt.Errorf("secureframe: hash frame rows: %w", err)
	}
	return h.Sum(nil), nil
}

// Register mints a new frame_id for rows under the given security level.
func (r *Registry) Register(rows []map[string]any, level SecurityLevel) (string, error) {
	if !level.Valid() {
		return "", fmt.Errorf("secureframe: security level %d out of range [0..4]", level)
	}
	digest, err := digestOf(rows)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var id string
	for {
		id = uuid.NewString()
		if _, taken := r.frames[id]; taken {
			continue
		}
		if _, wasRetired := r.retired[id]; wasRetired {
			continue
		}
		break
	}
	r.frames[id] = &Frame{
		FrameID:       id,
		Rows:          rows,
		Digest:        digest,
		SecurityLevel: level,
		CreatedAt:     time.Now().UTC(),
	}
	return id, nil
}

// Get returns the frame registered under frameID without recomputing its
// digest (spec §4.14: "read-only ops reuse the cached digest").
func (r *Registry) Get(frameID string) (*Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookedUp(frameID)
}

func (r *Registry) lookedUp(frameID string) (*Frame, error) {
	f, ok := r.frames[frameID]
	if !ok {
		if _, retired := r.retired[frameID]; retired {
			return nil, fmt.Errorf("secureframe: frame_id %s was deregistered and cannot be reused", frameID)
		}
		return nil, fmt.Errorf("secureframe: unknown frame_id %s", frameID)
	}
	return f, nil
}

// Mutate replaces frameID's rows and recomputes its digest — the only path
// by which a frame's digest changes, reserved for orchestrator-approved
// mutations (spec §4.14).
func (r *Registry) Mutate(frameID string, rows []map[string]any) error {
	digest, err := digestOf(rows)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	f, err := r.lookedUp(frameID)
	if err != nil {
		return err
	}
	f.Rows = rows
	f.Digest = digest
	return nil
}

// Deregister retires frameID permanently: it stops resolving via Get and
// is recorded so Register will never mint it again.
func (r *Registry) Deregister(frameID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.lookedUp(frameID); err != nil {
		return err
	}
	delete(r.frames, frameID)
	r.retired[frameID] = struct{}{}
	return nil
}
