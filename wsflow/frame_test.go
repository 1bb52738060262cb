package wsflow

import (
	"bytes"
	"testing"
)

// TestFrameDecoder_TextUnmasked tests decoding an unmasked text frame.
// RFC 6455 Section 5.6: Text frames contain UTF-8 data.
func TestFrameDecoder_TextUnmasked(t *testing.T) {
	data := []byte{
		0x81, // FIN=1, RSV=0, opcode=0x1 (text)
		0x05, // MASK=0, length=5
		'H', 'e', 'l', 'l', 'o',
	}

	frames, err := readAllFrames(data, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	f := frames[0]
	if !f.fin {
		t.Error("expected FIN=1")
	}
	if f.opcode != opcodeText {
		t.Errorf("expected opcode text(0x1), got 0x%X", f.opcode)
	}
	if string(f.payload) != "Hello" {
		t.Errorf("expected payload 'Hello', got %q", f.payload)
	}
}

// TestFrameDecoder_TextMasked tests decoding a masked text frame.
// RFC 6455 Section 5.3: Client-to-server frames must be masked.
func TestFrameDecoder_TextMasked(t *testing.T) {
	payload := []byte("Hello")
	mask := [4]byte{0x12, 0x34, 0x56, 0x78}

	masked := make([]byte, len(payload))
	copy(masked, payload)
	applyMaskAt(masked, mask, 0)

	data := []byte{
		0x81, // FIN=1, opcode=text
		0x85, // MASK=1, length=5
		mask[0], mask[1], mask[2], mask[3],
	}
	data = append(data, masked...)

	frames, err := readAllFrames(data, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if string(frames[0].payload) != "Hello" {
		t.Errorf("expected unmasked payload 'Hello', got %q", frames[0].payload)
	}
}

// TestFrameDecoder_RequiresMask tests that a server rejects unmasked
// client frames. RFC 6455 Section 5.1.
func TestFrameDecoder_RequiresMask(t *testing.T) {
	data := []byte{0x81, 0x05, 'H', 'e', 'l', 'l', 'o'}
	_, err := readAllFrames(data, true)
	if err == nil {
		t.Fatal("expected error for unmasked client frame, got nil")
	}
}

// TestFrameDecoder_RejectsMaskFromServer tests that a client rejects
// masked server frames. RFC 6455 Section 5.1.
func TestFrameDecoder_RejectsMaskFromServer(t *testing.T) {
	mask := [4]byte{1, 2, 3, 4}
	data := []byte{0x81, 0x85, mask[0], mask[1], mask[2], mask[3], 'H', 'e', 'l', 'l', 'o'}
	_, err := readAllFrames(data, false)
	if err == nil {
		t.Fatal("expected error for masked server frame, got nil")
	}
}

// TestFrameDecoder_Fragmented tests decoding fragmented frames.
// RFC 6455 Section 5.4: Messages may be fragmented.
func TestFrameDecoder_Fragmented(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantFIN bool
		wantOp  byte
	}{
		{
			name:    "first fragment (FIN=0)",
			data:    []byte{0x01, 0x03, 'H', 'e', 'l'},
			wantFIN: false,
			wantOp:  opcodeText,
		},
		{
			name:    "continuation (FIN=0)",
			data:    []byte{0x00, 0x02, 'l', 'o'},
			wantFIN: false,
			wantOp:  opcodeContinuation,
		},
		{
			name:    "final continuation (FIN=1)",
			data:    []byte{0x80, 0x01, '!'},
			wantFIN: true,
			wantOp:  opcodeContinuation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames, err := readAllFrames(tt.data, false)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(frames) != 1 {
				t.Fatalf("expected 1 frame, got %d", len(frames))
			}
			if frames[0].fin != tt.wantFIN {
				t.Errorf("fin = %v, want %v", frames[0].fin, tt.wantFIN)
			}
			if frames[0].opcode != tt.wantOp {
				t.Errorf("opcode = 0x%X, want 0x%X", frames[0].opcode, tt.wantOp)
			}
		})
	}
}

// TestFrameDecoder_ControlTooLarge tests that control frames over 125
// bytes are rejected. RFC 6455 Section 5.5.
func TestFrameDecoder_ControlTooLarge(t *testing.T) {
	payload := bytes.Repeat([]byte{0}, 126)
	data := append([]byte{0x89, 0x7E, 0x00, 0x7E}, payload...) // ping, MASK=0, 16-bit length 126
	_, err := readAllFrames(data, false)
	if err == nil {
		t.Fatal("expected error for oversized control frame, got nil")
	}
}

// TestFrameDecoder_ControlMustNotFragment tests that FIN=0 on a control
// opcode is rejected. RFC 6455 Section 5.5.
func TestFrameDecoder_ControlMustNotFragment(t *testing.T) {
	data := []byte{0x09, 0x00} // FIN=0, opcode=ping
	_, err := readAllFrames(data, false)
	if err == nil {
		t.Fatal("expected error for fragmented control frame, got nil")
	}
}

// TestFrameDecoder_PartialBytes tests that the decoder waits for more
// bytes instead of erroring when the buffer is incomplete.
func TestFrameDecoder_PartialBytes(t *testing.T) {
	d := newFrameDecoder(false, 0)
	d.receiveBytes([]byte{0x81}) // header alone
	f, err := d.next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f != nil {
		t.Fatalf("expected nil frame with incomplete header, got %+v", f)
	}

	d.receiveBytes([]byte{0x05, 'H', 'e'})
	f, err = d.next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f == nil {
		t.Fatal("expected a streamed chunk once header + partial payload arrived")
	}
	if f.frameFinished {
		t.Error("expected frameFinished=false with only part of the payload buffered")
	}
	if string(f.payload) != "He" {
		t.Errorf("expected chunk 'He', got %q", f.payload)
	}

	d.receiveBytes([]byte{'l', 'l', 'o'})
	f, err = d.next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.frameFinished {
		t.Error("expected frameFinished=true once payload fully arrived")
	}
	if string(f.payload) != "llo" {
		t.Errorf("expected chunk 'llo', got %q", f.payload)
	}
}

// TestEncodeFrame_LengthEncoding tests the 7/16/64-bit payload length
// encoding thresholds (RFC 6455 Section 5.2).
func TestEncodeFrame_LengthEncoding(t *testing.T) {
	tests := []struct {
		name       string
		payloadLen int
		wantByte1  byte // length field only, MASK bit excluded
	}{
		{"small", 10, 10},
		{"boundary 125", 125, 125},
		{"16-bit", 126, payloadLen16Bit},
		{"16-bit max", 0xFFFF, payloadLen16Bit},
		{"64-bit", 0x10000, payloadLen64Bit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := encodeFrame(frameOut{fin: true, opcode: opcodeBinary, payload: make([]byte, tt.payloadLen)})
			if out[1] != tt.wantByte1 {
				t.Errorf("length field = %d, want %d", out[1], tt.wantByte1)
			}
		})
	}
}

// TestEncodeDecodeFrame_RoundTrip tests that an encoded masked frame
// decodes back to the original payload.
func TestEncodeDecodeFrame_RoundTrip(t *testing.T) {
	mask := [4]byte{0xDE, 0xAD, 0xBE, 0xEF}
	payload := []byte("round trip payload")

	out := encodeFrame(frameOut{fin: true, opcode: opcodeText, payload: payload, mask: &mask})

	frames, err := readAllFrames(out, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if string(frames[0].payload) != string(payload) {
		t.Errorf("payload = %q, want %q", frames[0].payload, payload)
	}
}
