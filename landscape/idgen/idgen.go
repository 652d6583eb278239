// Package idgen generates the opaque, prefixed entity ids used throughout
// the audit store (spec §3: "short opaque prefix + hex, e.g. st_…, tok_…").
//
// IDs are ULIDs rendered as lowercase hex rather than ULID's default
// Crockford base32, so that every id in the system shares one alphabet.
// ULID gives us monotonic, time-sortable ids for free, which keeps
// `ORDER BY id` on the audit tables close to insertion order without a
// separate auto-increment column.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/oklog/ulid/v2"
)

// Prefixes for each entity kind in the data model (spec §3).
const (
	PrefixRun            = "run"
	PrefixNode            = "nd"
	PrefixEdge           = "edge"
	PrefixRow            = "row"
	PrefixToken          = "tok"
	PrefixNodeState      = "st"
	PrefixCall           = "call"
	PrefixRoutingEvent   = "rte"
	PrefixBatch          = "batch"
	PrefixArtifact       = "art"
	PrefixCheckpoint     = "cp"
	PrefixValidationErr  = "verr"
	PrefixTransformErr   = "terr"
	PrefixForkGroup      = "fork"
	PrefixExpandGroup    = "exp"
	PrefixJoinGroup      = "join"
	PrefixRoutingGroup   = "rtg"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns a new id of the form "<prefix>_<32 lowercase hex chars>".
//
// A package-level mutex serializes ULID generation because
// ulid.Monotonic is not itself safe for concurrent use.
func New(prefix string) string {
	mu.Lock()
	id := ulid.MustNew(ulid.Now(), entropy)
	mu.Unlock()
	return prefix + "_" + hex.EncodeToString(id[:])
}

// IsValid reports whether s looks like an id minted by New with the given
// prefix (used by repository layers to sanity-check foreign keys before
// they hit the database, per the Tier-1 "bad audit data is a crash" rule).
func IsValid(prefix, s string) bool {
	want := prefix + "_"
	if len(s) != len(want)+32 {
		return false
	}
	if s[:len(want)] != want {
		return false
	}
	_, err := hex.DecodeString(s[len(want):])
	return err == nil
}
