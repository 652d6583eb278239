package secureframe

import "testing"

func TestSecureFrameAccessReturnsSealedData(t *testing.T) {
	sf, err := NewSecureFrame([]map[string]any{{"n": 1.0}}, SecurityLevelConfidential)
	if err != nil {
		t.Fatalf("NewSecureFrame: %v", err)
	}
	rows, err := sf.Access()
	if err != nil {
		t.Fatalf("Access: %v", err)
	}
	if len(rows) != 1 || rows[0]["n"] != 1.0 {
		t.Fatalf("Access rows = %v", rows)
	}
}

func TestSecureFrameRejectsOutOfRangeLevel(t *testing.T) {
	if _, err := NewSecureFrame(nil, SecurityLevel(-1)); err == nil {
		t.Fatalf("NewSecureFrame with level -1 should fail")
	}
}

func TestSecureFrameMutateReseals(t *testing.T) {
	sf, err := NewSecureFrame([]map[string]any{{"n": 1.0}}, SecurityLevelPublic)
	if err != nil {
		t.Fatalf("NewSecureFrame: %v", err)
	}
	if err := sf.Mutate([]map[string]any{{"n": 2.0}}); err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	rows, err := sf.Access()
	if err != nil {
		t.Fatalf("Access after Mutate: %v", err)
	}
	if rows[0]["n"] != 2.0 {
		t.Fatalf("Access after Mutate = %v, want n=2.0", rows)
	}
}

func TestSecureFrameDetectsRawFieldBypass(t *testing.T) {
	sf, err := NewSecureFrame([]map[string]any{{"n": 1.0}}, SecurityLevelPublic)
	if err != nil {
		t.Fatalf("NewSecureFrame: %v", err)
	}
	// Simulate a bug that writes the unexported field directly instead of
	// going through Mutate, skipping the reseal.
	sf.data = []map[string]any{{"n": 999.0}}

	if _, err := sf.Access(); err == nil {
		t.Fatalf("Access after raw field bypass should fail the seal check")
	}
}
