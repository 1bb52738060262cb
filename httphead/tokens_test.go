package httphead

import "testing"

// TestContainsToken tests case-insensitive comma-list token matching
// (RFC 7230 Section 7), the grammar Connection/Upgrade headers use.
func TestContainsToken(t *testing.T) {
	tests := []struct {
		values []string
		token  string
		want   bool
	}{
		{[]string{"Upgrade"}, "upgrade", true},
		{[]string{"keep-alive, Upgrade"}, "upgrade", true},
		{[]string{"keep-alive"}, "upgrade", false},
		{nil, "upgrade", false},
	}

	for _, tt := range tests {
		if got := ContainsToken(tt.values, tt.token); got != tt.want {
			t.Errorf("ContainsToken(%v, %q) = %v, want %v", tt.values, tt.token, got, tt.want)
		}
	}
}

// TestIsValidToken tests RFC 7230 Section 3.2.6 token validation.
func TestIsValidToken(t *testing.T) {
	tests := []struct {
		s    string
		want bool
	}{
		{"permessage-deflate", true},
		{"chat", true},
		{"", false},
		{"has space", false},
		{"has/slash", false},
	}

	for _, tt := range tests {
		if got := IsValidToken(tt.s); got != tt.want {
			t.Errorf("IsValidToken(%q) = %v, want %v", tt.s, got, tt.want)
		}
	}
}
