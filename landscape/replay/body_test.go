package replay

import (
	"bytes"
	"testing"
)

func TestCaptureBodyStructuredJSON(t *testing.T) {
	raw := []byte(`{"hello":"world"}`)
	captured := CaptureBody(raw)

	if !captured.IsStructured {
		t.Fatalf("expected IsStructured=true for valid JSON")
	}
	if captured.Truncated {
		t.Fatalf("expected Truncated=false for small JSON body")
	}
	if !bytes.Equal(captured.Bytes(), raw) {
		t.Fatalf("expected Bytes() to round-trip the raw JSON, got %q", captured.Bytes())
	}
}

func TestCaptureBodyPlainText(t *testing.T) {
	raw := []byte("not json at all")
	captured := CaptureBody(raw)

	if captured.IsStructured {
		t.Fatalf("expected IsStructured=false for non-JSON body")
	}
	if captured.Truncated {
		t.Fatalf("expected Truncated=false for small text body")
	}
	if string(captured.Bytes()) != "not json at all" {
		t.Fatalf("unexpected Bytes(): %q", captured.Bytes())
	}
}

func TestCaptureBodyTruncatesOversizedText(t *testing.T) {
	raw := bytes.Repeat([]byte("a"), maxTextBodyBytes+500)
	captured := CaptureBody(raw)

	if captured.IsStructured {
		t.Fatalf("expected IsStructured=false")
	}
	if !captured.Truncated {
		t.Fatalf("expected Truncated=true for oversized text body")
	}
	if len(captured.Bytes()) != maxTextBodyBytes {
		t.Fatalf("expected truncated length %d, got %d", maxTextBodyBytes, len(captured.Bytes()))
	}
}

func TestCaptureBodyEmpty(t *testing.T) {
	captured := CaptureBody(nil)
	if captured.IsStructured {
		t.Fatalf("expected empty body to be treated as text, not JSON")
	}
	if len(captured.Bytes()) != 0 {
		t.Fatalf("expected empty Bytes(), got %q", captured.Bytes())
	}
}
