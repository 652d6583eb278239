package sandbox

import "strings"

// sessionKeyEnvVar is the framework's own environment variable carrying the
// orchestrator's session key (spec §4.13: "the framework's own session-key
// variable" is always scrubbed regardless of case).
const sessionKeyEnvVar = "LANDSCAPE_SESSION_KEY"

// scrubPatterns are substrings that, found anywhere in an environment key
// (case-insensitively), mark it as a credential the worker must never see.
var scrubPatterns = []string{
	"session_key",
	"aws_",
	"azure_",
	"gcp_",
	"_secret",
}

// ScrubEnv filters env (as returned by os.Environ) to the subset safe to
// hand a sandboxed worker: any KEY=VALUE pair whose key contains one of the
// blocked substrings, or matches the framework's own session-key variable,
// is dropped (spec §4.13).
func ScrubEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		key, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if shouldScrub(key) {
			continue
		}
		out = append(out, kv)
	}
	return out
}

func shouldScrub(key string) bool {
	lower := strings.ToLower(key)
	if lower == strings.ToLower(sessionKeyEnvVar) {
		return true
	}
	for _, pattern := range scrubPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
