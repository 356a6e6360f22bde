package util

import "strings"

// SafeTruncate truncates s to at most maxLen bytes without panicking.
// Used to log a recognizable prefix of codes and ids. A negative maxLen yields "".
//
//	SafeTruncate("very-long-token-abc123", 8) // "very-lon"
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL removes trailing slashes so issuer identifiers compare equal
// with and without them.
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}

// ParseScopes splits a space-delimited scope string, dropping duplicates and
// keeping the first-seen order.
func ParseScopes(scope string) []string {
	fields := strings.Fields(scope)
	if len(fields) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// JoinScopes is the inverse of ParseScopes.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}
