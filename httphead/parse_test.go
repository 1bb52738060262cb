package httphead

import (
	"strings"
	"testing"
)

// TestParseRequest_Basic tests parsing a simple GET request head.
func TestParseRequest_Basic(t *testing.T) {
	raw := strings.Join([]string{
		"GET /chat HTTP/1.1",
		"Host: example.com",
		"Upgrade: websocket",
		"Connection: Upgrade",
		"",
		"",
	}, "\r\n")

	head, n, err := ParseRequest([]byte(raw))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if head == nil {
		t.Fatal("expected a parsed head, got nil")
	}
	if n != len(raw) {
		t.Errorf("consumed %d bytes, want %d", n, len(raw))
	}
	if head.Method != "GET" {
		t.Errorf("Method = %q, want GET", head.Method)
	}
	if head.Target != "/chat" {
		t.Errorf("Target = %q, want /chat", head.Target)
	}
	if head.Major != 1 || head.Minor != 1 {
		t.Errorf("version = %d.%d, want 1.1", head.Major, head.Minor)
	}
	if v, ok := head.Get("host"); !ok || v != "example.com" {
		t.Errorf("Get(host) = %q, %v", v, ok)
	}
}

// TestParseRequest_Incomplete tests that an incomplete head returns
// (nil, 0, nil) rather than an error, so callers can retry once more
// bytes arrive.
func TestParseRequest_Incomplete(t *testing.T) {
	raw := "GET /chat HTTP/1.1\r\nHost: example.com\r\n"
	head, n, err := ParseRequest([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if head != nil || n != 0 {
		t.Fatalf("expected (nil, 0) for incomplete head, got (%v, %d)", head, n)
	}
}

// TestParseRequest_DuplicateHeaders tests that repeated header fields are
// all preserved in wire order (RFC 6455 allows multiple
// Sec-WebSocket-Protocol lines).
func TestParseRequest_DuplicateHeaders(t *testing.T) {
	raw := strings.Join([]string{
		"GET / HTTP/1.1",
		"Host: example.com",
		"Sec-WebSocket-Protocol: chat",
		"Sec-WebSocket-Protocol: superchat",
		"",
		"",
	}, "\r\n")

	head, _, err := ParseRequest([]byte(raw))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	values := head.Values("Sec-WebSocket-Protocol")
	if len(values) != 2 || values[0] != "chat" || values[1] != "superchat" {
		t.Errorf("Values = %v, want [chat superchat]", values)
	}
}

// TestParseResponse_Basic tests parsing a 101 status head.
func TestParseResponse_Basic(t *testing.T) {
	raw := strings.Join([]string{
		"HTTP/1.1 101 Switching Protocols",
		"Upgrade: websocket",
		"Connection: Upgrade",
		"Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=",
		"",
		"",
	}, "\r\n")

	head, n, err := ParseResponse([]byte(raw))
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if n != len(raw) {
		t.Errorf("consumed %d bytes, want %d", n, len(raw))
	}
	if head.StatusCode != 101 {
		t.Errorf("StatusCode = %d, want 101", head.StatusCode)
	}
	if head.Reason != "Switching Protocols" {
		t.Errorf("Reason = %q", head.Reason)
	}
}
