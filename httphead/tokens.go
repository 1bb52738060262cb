package httphead

import "golang.org/x/net/http/httpguts"

// ContainsToken reports whether values' comma-separated lists contain
// token, case-insensitively — the RFC 7230 Section 7 list-value grammar
// used by Connection and Upgrade. Delegates to
// golang.org/x/net/http/httpguts, the same helper net/http's own server
// uses internally to match "Connection: Upgrade" and "Upgrade: websocket".
func ContainsToken(values []string, token string) bool {
	return httpguts.HeaderValuesContainsToken(values, token)
}

// IsValidToken reports whether s is a valid RFC 7230 Section 3.2.6 token
// (used to validate subprotocol and extension names before they're echoed
// back on the wire).
func IsValidToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !httpguts.IsTokenRune(r) {
			return false
		}
	}
	return true
}
