// Package replay implements the call recorder/replayer/verifier (spec
// §4.10): on LIVE runs every external call is recorded with sensitive
// headers stripped; on REPLAY recorded responses are returned instead of
// invoking the real client; on VERIFY a live call is made and compared
// against the recording.
package replay

import "strings"

// sensitiveRequestHeaders are elided outright from request header capture,
// regardless of value (spec §4.10).
var sensitiveRequestHeaders = map[string]struct{}{
	"authorization":       {},
	"x-api-key":           {},
	"api-key":             {},
	"x-auth-token":        {},
	"proxy-authorization": {},
}

// sensitiveResponseHeaders are elided outright from response header
// capture (spec §4.10).
var sensitiveResponseHeaders = map[string]struct{}{
	"set-cookie":         {},
	"www-authenticate":   {},
	"proxy-authenticate": {},
	"x-auth-token":       {},
}

// sensitiveSubstrings additionally elides any header (request or
// response) whose lowercased name contains one of these, catching
// custom/vendor header names the fixed allow-list above does not name
// (spec §4.10: "or whose lowercase name contains auth|key|secret|token").
var sensitiveSubstrings = []string{"auth", "key", "secret", "token"}

// FilterRequestHeaders returns a copy of headers with sensitive entries
// removed, per spec §4.10's request-header rules.
func FilterRequestHeaders(headers map[string]string) map[string]string {
	return filterHeaders(headers, sensitiveRequestHeaders)
}

// FilterResponseHeaders returns a copy of headers with sensitive entries
// removed, per spec §4.10's response-header rules.
func FilterResponseHeaders(headers map[string]string) map[string]string {
	return filterHeaders(headers, sensitiveResponseHeaders)
}

func filterHeaders(headers map[string]string, exact map[string]struct{}) map[string]string {
	out := make(map[string]string, len(headers))
	for name, value := range headers {
		lower := strings.ToLower(name)
		if _, blocked := exact[lower]; blocked {
			continue
		}
		if containsSensitiveSubstring(lower) {
			continue
		}
		out[name] = value
	}
	return out
}

func containsSensitiveSubstring(lowerName string) bool {
	for _, sub := range sensitiveSubstrings {
		if strings.Contains(lowerName, sub) {
			return true
		}
	}
	return false
}
