package replay

import "testing"

func TestFilterRequestHeadersStripsExactAndSubstringMatches(t *testing.T) {
	in := map[string]string{
		"Authorization":   "Bearer abc123",
		"X-Api-Key":       "k-1",
		"Content-Type":    "application/json",
		"X-Session-Token": "tok-1",
	}

	out := FilterRequestHeaders(in)

	if _, ok := out["Authorization"]; ok {
		t.Fatalf("expected Authorization to be stripped, got %v", out)
	}
	if _, ok := out["X-Api-Key"]; ok {
		t.Fatalf("expected X-Api-Key to be stripped, got %v", out)
	}
	if _, ok := out["X-Session-Token"]; ok {
		t.Fatalf("expected X-Session-Token to be stripped via substring match, got %v", out)
	}
	if got := out["Content-Type"]; got != "application/json" {
		t.Fatalf("expected Content-Type preserved, got %q", got)
	}
}

func TestFilterResponseHeadersStripsSetCookie(t *testing.T) {
	in := map[string]string{
		"Set-Cookie":   "session=abc",
		"Content-Type": "text/plain",
	}

	out := FilterResponseHeaders(in)

	if _, ok := out["Set-Cookie"]; ok {
		t.Fatalf("expected Set-Cookie to be stripped, got %v", out)
	}
	if got := out["Content-Type"]; got != "text/plain" {
		t.Fatalf("expected Content-Type preserved, got %q", got)
	}
}

func TestFilterHeadersIsCaseInsensitive(t *testing.T) {
	in := map[string]string{"AUTHORIZATION": "secret"}
	out := FilterRequestHeaders(in)
	if len(out) != 0 {
		t.Fatalf("expected header stripped regardless of case, got %v", out)
	}
}
