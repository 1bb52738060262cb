package wsflow

import "testing"

// TestUTF8Validator_Valid tests that well-formed UTF-8 sequences validate,
// including multi-byte sequences (RFC 3629).
func TestUTF8Validator_Valid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"ascii", "hello world"},
		{"two-byte", "café"},
		{"three-byte", "中文"},
		{"four-byte", "\U0001F600"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v utf8Validator
			if !v.write([]byte(tt.data)) {
				t.Fatalf("write rejected valid UTF-8 %q", tt.data)
			}
			if !v.complete() {
				t.Errorf("complete() = false for valid UTF-8 %q", tt.data)
			}
		})
	}
}

// TestUTF8Validator_Invalid tests that malformed byte sequences are
// rejected (RFC 3629 Section 3, "Invalid UTF-8").
func TestUTF8Validator_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"lone continuation byte", []byte{0x80}},
		{"overlong encoding", []byte{0xC0, 0x80}},
		{"truncated three-byte at end", []byte{0xE2, 0x82}}, // see Incomplete test for the streaming case
		{"invalid start byte", []byte{0xFF}},
		{"surrogate half", []byte{0xED, 0xA0, 0x80}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v utf8Validator
			ok := v.write(tt.data)
			if ok && v.complete() {
				t.Fatalf("expected invalid UTF-8 %v to be rejected", tt.data)
			}
		})
	}
}

// TestUTF8Validator_SplitAcrossWrites tests that a codepoint split across
// two writes (simulating a frame boundary) still validates correctly —
// the case unicode/utf8.Valid cannot handle per-frame.
func TestUTF8Validator_SplitAcrossWrites(t *testing.T) {
	// "€" (U+20AC) encodes as E2 82 AC.
	full := []byte{0xE2, 0x82, 0xAC}

	for split := 1; split < len(full); split++ {
		t.Run("", func(t *testing.T) {
			var v utf8Validator
			if !v.write(full[:split]) {
				t.Fatalf("write rejected partial sequence %v", full[:split])
			}
			if v.complete() {
				t.Fatalf("complete() = true after only %d of %d bytes", split, len(full))
			}
			if !v.write(full[split:]) {
				t.Fatalf("write rejected remaining bytes %v", full[split:])
			}
			if !v.complete() {
				t.Error("expected complete() = true once all bytes written")
			}
		})
	}
}

// TestUTF8Validator_IncompleteAtEnd tests that a validator left mid
// sequence reports incomplete, not valid, when asked at a message boundary.
func TestUTF8Validator_IncompleteAtEnd(t *testing.T) {
	var v utf8Validator
	if !v.write([]byte{0xE2, 0x82}) {
		t.Fatal("write unexpectedly rejected valid partial sequence")
	}
	if v.complete() {
		t.Error("complete() = true for a truncated trailing sequence")
	}
}
