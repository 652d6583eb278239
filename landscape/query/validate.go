// Package query implements the read-only SQL validator described in spec
// §6: the MCP inspection surface lets an operator run SELECTs against the
// audit store, and this package is the gate that decides whether a given
// SQL string is safe to hand to the driver. The MCP server itself sits
// outside the core (§6 names it an external collaborator); Validate is the
// pure function the core owns so that boundary still has teeth.
package query

import (
	"fmt"
	"strings"
)

// blockedVerbs are keywords that mutate state or control
// transactions/session config. Any standalone token matching one of them,
// leading or not, is rejected (spec §6).
var blockedVerbs = map[string]bool{
	"INSERT":    true,
	"UPDATE":    true,
	"DELETE":    true,
	"DROP":      true,
	"CREATE":    true,
	"ALTER":     true,
	"TRUNCATE":  true,
	"GRANT":     true,
	"REVOKE":    true,
	"COPY":      true,
	"PRAGMA":    true,
	"ATTACH":    true,
	"DETACH":    true,
	"VACUUM":    true,
	"SET":       true,
	"BEGIN":     true,
	"COMMIT":    true,
	"ROLLBACK":  true,
	"SAVEPOINT": true,
	"RELEASE":   true,
	"REINDEX":   true,
}

// Validate rejects anything that is not a single, plain read-only SELECT
// (spec §6): a non-SELECT leading token, a semicolon-separated
// multi-statement payload, a comment-hidden payload, or a statement
// containing any token in blockedVerbs. Keywords appearing inside
// identifiers or string literals are not rejected — validation only looks
// at tokens outside of quotes, matched on word boundaries.
func Validate(sql string) error {
	stripped, err := stripCommentsAndStrings(sql)
	if err != nil {
		return err
	}

	statements := splitStatements(stripped)
	if len(statements) == 0 {
		return fmt.Errorf("query: empty statement")
	}
	if len(statements) > 1 {
		return fmt.Errorf("query: multi-statement payloads are not allowed")
	}

	leading := leadingToken(statements[0])
	if leading == "" {
		return fmt.Errorf("query: empty statement")
	}
	if leading != "SELECT" {
		return fmt.Errorf("query: only SELECT statements are allowed, got %q", leading)
	}

	for _, tok := range tokenize(statements[0]) {
		upper := strings.ToUpper(tok)
		if blockedVerbs[upper] {
			return fmt.Errorf("query: statement contains disallowed keyword %q", upper)
		}
	}
	return nil
}

// leadingToken returns stmt's first whitespace-delimited token, uppercased,
// or "" if stmt has no tokens.
func leadingToken(stmt string) string {
	toks := tokenize(stmt)
	if len(toks) == 0 {
		return ""
	}
	return strings.ToUpper(toks[0])
}

// splitStatements splits sql (already stripped of comments and string
// literal contents) on semicolons, dropping empty trailing segments left
// by a single terminating semicolon.
func splitStatements(sql string) []string {
	var out []string
	for _, part := range strings.Split(sql, ";") {
		if strings.TrimSpace(part) != "" {
			out = append(out, part)
		}
	}
	return out
}

// tokenize splits stmt into whitespace- and punctuation-delimited words,
// giving word-boundary matching for keyword checks: "SELECTED" or
// "my_delete_flag" never match a blocked verb because they never appear as
// a standalone token.
func tokenize(stmt string) []string {
	isWordChar := func(r rune) bool {
		return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
	}
	var toks []string
	var cur strings.Builder
	for _, r := range stmt {
		if isWordChar(r) {
			cur.WriteRune(r)
			continue
		}
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	if cur.Len() > 0 {
		toks = append(toks, cur.String())
	}
	return toks
}
