package landscape

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// ErrNonCanonical is returned by CanonicalJSON when a value contains NaN,
// +/-Inf, or another construct that has no canonical JSON representation.
var ErrNonCanonical = fmt.Errorf("landscape: value is not canonically serializable")

// CanonicalJSON serializes v into a stable byte representation: map keys are
// sorted, floats must be finite (NaN/Inf are rejected rather than silently
// rendered as null), time.Time values render as RFC3339Nano with an
// explicit zone, and any other value implementing fmt.Stringer serializes
// as its String() form. It is the basis for both stable
// hashing (StableHash) and for persisting row payloads.
func CanonicalJSON(v any) ([]byte, error) {
	norm, err := canonicalize(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(norm)
}

// canonicalize walks v and produces a tree of only the types
// encoding/json renders deterministically: map[string]any (with sorted
// keys reproduced via a sortedMap wrapper), []any, string, float64/json.Number,
// bool, nil.
func canonicalize(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case float32:
		return canonicalizeFloat(float64(x))
	case float64:
		return canonicalizeFloat(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil, err
		}
		return canonicalizeFloat(f)
	case fmt.Stringer:
		// Decimal-like values (anything that renders itself as text, e.g.
		// a Decimal wrapper) serialize as their string form per spec §4.1.
		return x.String(), nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(sortedMap, 0, len(x))
		for _, k := range keys {
			cv, err := canonicalize(x[k])
			if err != nil {
				return nil, err
			}
			out = append(out, kv{k, cv})
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			cv, err := canonicalize(e)
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}
		return out, nil
	default:
		// Fall back to a JSON round-trip for arbitrary structs so that
		// field tags and nested types are respected, then re-canonicalize
		// the resulting generic tree (this also surfaces NaN/Inf nested
		// inside structs, since json.Marshal fails on them too).
		raw, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		var generic any
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&generic); err != nil {
			return nil, err
		}
		return canonicalize(generic)
	}
}

func canonicalizeFloat(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, ErrNonCanonical
	}
	return f, nil
}

// kv and sortedMap implement json.Marshaler to emit an object with keys in
// a fixed, pre-sorted order (Go's json package otherwise re-sorts
// map[string]any keys itself, but we build this explicitly so the same
// code path also backs StableHash without depending on json's internal
// sort behavior).
type kv struct {
	Key   string
	Value any
}

type sortedMap []kv

func (m sortedMap) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, e := range m {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, vb...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// StableHash returns a hex-encoded SHA-256 digest of v's canonical JSON
// form. Two values that are deep-equal modulo map key order hash
// identically (spec §8 property 7).
func StableHash(v any) (string, error) {
	b, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// MustStableHash panics on a non-canonical value. Reserved for call sites
// operating on our own audit structures (Tier 1 data), where a hash
// failure indicates a programming bug, not bad external input.
func MustStableHash(v any) string {
	h, err := StableHash(v)
	if err != nil {
		panic(err)
	}
	return h
}

// ReprHash is the Tier-3 fallback for values that CanonicalJSON rejects
// (NaN, Infinity, non-dict rows, cyclic structures). It truncates the
// Go %#v representation to 200 characters before hashing and returns
// both the hash and the metadata callers should attach to the
// ValidationError record (spec §4.1).
func ReprHash(v any) (hash string, repr string, typeName string) {
	full := fmt.Sprintf("%#v", v)
	repr = full
	if len(repr) > 200 {
		repr = repr[:200]
	}
	sum := sha256.Sum256([]byte(repr))
	typeName = fmt.Sprintf("%T", v)
	return hex.EncodeToString(sum[:]), repr, typeName
}
