package replay

import (
	"context"
	"testing"
	"time"

	"github.com/landscaperun/landscape/landscape"
	"github.com/landscaperun/landscape/landscape/store"
)

func newTestStores(t *testing.T) (*store.MemoryStore, *store.FilesystemPayloadStore) {
	t.Helper()
	payload, err := store.NewFilesystemPayloadStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemPayloadStore: %v", err)
	}
	return store.NewMemoryStore(), payload
}

func TestRecorderRecordSuccessStoresBodiesAndCall(t *testing.T) {
	calls, payload := newTestStores(t)
	rec := NewRecorder(calls, payload)
	ctx := context.Background()

	request := RequestData{
		Headers: map[string]string{"Authorization": "Bearer secret", "Content-Type": "application/json"},
		Body:    []byte(`{"prompt":"hi"}`),
	}
	response := ResponseData{
		Body:   []byte(`{"completion":"hello"}`),
		Status: landscape.CallStatusSuccess,
	}

	call, err := rec.Record(ctx, "state-1", 0, landscape.CallTypeLLM, request, response, 42*time.Millisecond)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	if call.RequestHash == "" {
		t.Fatalf("expected non-empty RequestHash")
	}
	if call.RequestRef == "" {
		t.Fatalf("expected non-empty RequestRef")
	}
	if call.ResponseRef == "" {
		t.Fatalf("expected non-empty ResponseRef for a SUCCESS call")
	}
	if call.ResponseHash == "" {
		t.Fatalf("expected non-empty ResponseHash for a SUCCESS call")
	}
	if call.LatencyMS == nil || *call.LatencyMS != 42 {
		t.Fatalf("expected LatencyMS=42, got %v", call.LatencyMS)
	}

	storedRequest, err := payload.Fetch(ctx, call.RequestRef)
	if err != nil {
		t.Fatalf("Fetch request body: %v", err)
	}
	if string(storedRequest) != `{"prompt":"hi"}` {
		t.Fatalf("unexpected stored request body: %q", storedRequest)
	}

	storedResponse, err := payload.Fetch(ctx, call.ResponseRef)
	if err != nil {
		t.Fatalf("Fetch response body: %v", err)
	}
	if string(storedResponse) != `{"completion":"hello"}` {
		t.Fatalf("unexpected stored response body: %q", storedResponse)
	}

	found, err := calls.FindCallByHash(ctx, "state-1", landscape.CallTypeLLM, call.RequestHash)
	if err != nil {
		t.Fatalf("FindCallByHash: %v", err)
	}
	if found.CallID != call.CallID {
		t.Fatalf("expected to find the recorded call, got %+v", found)
	}
}

func TestRecorderRecordErrorSkipsResponseBody(t *testing.T) {
	calls, payload := newTestStores(t)
	rec := NewRecorder(calls, payload)
	ctx := context.Background()

	request := RequestData{Body: []byte(`{"prompt":"hi"}`)}
	response := ResponseData{Status: landscape.CallStatusError, Error: "upstream timeout"}

	call, err := rec.Record(ctx, "state-1", 0, landscape.CallTypeHTTP, request, response, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	if call.ResponseRef != "" {
		t.Fatalf("expected no ResponseRef for an ERROR call, got %q", call.ResponseRef)
	}
	if call.ResponseHash != "" {
		t.Fatalf("expected no ResponseHash for an ERROR call, got %q", call.ResponseHash)
	}
	if call.Error != "upstream timeout" {
		t.Fatalf("expected Error preserved, got %q", call.Error)
	}
}

func TestRequestHashIgnoresSensitiveHeaderValue(t *testing.T) {
	base := RequestData{Body: []byte(`{"a":1}`)}
	withAuthA := base
	withAuthA.Headers = map[string]string{"Authorization": "Bearer aaa"}
	withAuthB := base
	withAuthB.Headers = map[string]string{"Authorization": "Bearer bbb"}

	hashA, err := RequestHash(withAuthA)
	if err != nil {
		t.Fatalf("RequestHash: %v", err)
	}
	hashB, err := RequestHash(withAuthB)
	if err != nil {
		t.Fatalf("RequestHash: %v", err)
	}

	if hashA != hashB {
		t.Fatalf("expected identical hashes once sensitive headers are filtered, got %q != %q", hashA, hashB)
	}
}

func TestRequestHashDiffersOnBody(t *testing.T) {
	hashA, err := RequestHash(RequestData{Body: []byte(`{"a":1}`)})
	if err != nil {
		t.Fatalf("RequestHash: %v", err)
	}
	hashB, err := RequestHash(RequestData{Body: []byte(`{"a":2}`)})
	if err != nil {
		t.Fatalf("RequestHash: %v", err)
	}
	if hashA == hashB {
		t.Fatalf("expected different hashes for different bodies")
	}
}
