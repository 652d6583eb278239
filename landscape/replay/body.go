package replay

import (
	"encoding/json"
)

// maxTextBodyBytes is the truncation limit for non-JSON response bodies
// (spec §4.10: "non-JSON is stored as text truncated to 100 KiB").
const maxTextBodyBytes = 100 * 1024

// CapturedBody is what the recorder persists for a request or response
// body: structured JSON when the body parses as JSON, otherwise truncated
// text.
type CapturedBody struct {
	JSON         json.RawMessage
	Text         string
	IsStructured bool
	Truncated    bool
}

// CaptureBody classifies raw as JSON or text per spec §4.10. Valid JSON is
// stored structured and untouched; anything else is captured as text,
// truncated to maxTextBodyBytes.
func CaptureBody(raw []byte) CapturedBody {
	if json.Valid(raw) {
		return CapturedBody{JSON: json.RawMessage(raw), IsStructured: true}
	}

	truncated := false
	text := raw
	if len(text) > maxTextBodyBytes {
		text = text[:maxTextBodyBytes]
		truncated = true
	}
	return CapturedBody{Text: string(text), Truncated: truncated}
}

// Bytes returns the body's canonical byte form for hashing and storage:
// the raw JSON bytes when structured, the (possibly truncated) text
// otherwise.
func (c CapturedBody) Bytes() []byte {
	if c.IsStructured {
		return []byte(c.JSON)
	}
	return []byte(c.Text)
}
