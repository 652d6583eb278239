package secureframe

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/landscaperun/landscape/landscape"
)

// newSealer generates the seal key and captures it only inside the
// closure it returns — never exposed as a package-level value a
// caller (or a bug elsewhere in this package) could read or overwrite
// (spec §4.14: "a key held in a module-local closure, not a module
// attribute").
func newSealer() (seal func(level SecurityLevel, contentHash string) []byte) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic("secureframe: failed to seed seal key: " + err.Error())
	}
	return func(level SecurityLevel, contentHash string) []byte {
		mac := hmac.New(sha256.New, key)
		fmt.Fprintf(mac, "%d:%s", level, contentHash)
		return mac.Sum(nil)
	}
}

var seal = newSealer()

// SecureFrame wraps a Frame's rows with a tamper-evident seal (spec §4.14).
// Go gives unexported fields a stronger guarantee than the original's
// property-based access control — no code outside this package can even
// compile an assignment to data — so the seal's job here is to catch
// tampering from *within* the package (a bug that bypasses Mutate) rather
// than from a hostile caller, which the type system already stops.
//
// The original seals an HMAC over (security_level, id(data)): object
// identity. Go values don't carry a CPython-style identity a package can
// hash, so the seal here is computed over (security_level, content hash)
// instead — any bypassed write that changes the rows invalidates it just
// as surely as a swapped object would in the original, and unlike a
// pointer-identity scheme it also catches an in-place mutation of the
// slice's elements. See DESIGN.md.
type SecureFrame struct {
	data          []map[string]any
	securityLevel SecurityLevel
	seal          []byte
}

// NewSecureFrame seals rows at level.
func NewSecureFrame(rows []map[string]any, level SecurityLevel) (*SecureFrame, error) {
	if !level.Valid() {
		return nil, fmt.Errorf("secureframe: security level %d out of range [0..4]", level)
	}
	hash, err := contentHash(rows)
	if err != nil {
		return nil, err
	}
	return &SecureFrame{
		data:          rows,
		securityLevel: level,
		seal:          seal(level, hash),
	}, nil
}

// Access returns the wrapped rows after verifying the seal still matches
// the current content, failing closed on any mismatch rather than ever
// describing what the seal expected.
func (sf *SecureFrame) Access() ([]map[string]any, error) {
	hash, err := contentHash(sf.data)
	if err != nil {
		return nil, err
	}
	want := seal(sf.securityLevel, hash)
	if !hmac.Equal(want, sf.seal) {
		return nil, fmt.Errorf("secureframe: seal verification failed, frame data does not match its seal")
	}
	return sf.data, nil
}

// Mutate replaces the wrapped rows and reseals, the only sanctioned way to
// change a SecureFrame's content.
func (sf *SecureFrame) Mutate(rows []map[string]any) error {
	hash, err := contentHash(rows)
	if err != nil {
		return err
	}
	sf.data = rows
	sf.seal = seal(sf.securityLevel, hash)
	return nil
}

// SecurityLevel reports the level this frame was sealed under.
func (sf *SecureFrame) SecurityLevel() SecurityLevel { return sf.securityLevel }

func contentHash(rows []map[string]any) (string, error) {
	h, err := landscape.StableHash(rows)
	if err != nil {
		return "", fmt.Errorf("secureframe: hash frame content: %w", err)
	}
	return h, nil
}
