package wsflow

import (
	"encoding/binary"
)

// Implementation limits (not defined by RFC 6455 itself).
const (
	// maxControlPayload is the maximum payload length for control frames
	// (RFC 6455 Section 5.5).
	maxControlPayload = 125

	// payloadLen16Bit and payloadLen64Bit are the payload-length-field
	// sentinel values that introduce extended length encoding
	// (RFC 6455 Section 5.2).
	payloadLen16Bit = 126
	payloadLen64Bit = 127
)

// frameHeader is a parsed RFC 6455 Section 5.2 frame header, plus the
// running state needed to stream its payload across multiple
// receiveBytes calls.
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-------+-+-------------+-------------------------------+
//	|F|R|R|R| opcode|M| Payload len |    Extended payload length    |
//	|I|S|S|S|  (4)  |A|     (7)     |             (16/64)           |
//	|N|V|V|V|       |S|             |   (if payload len==126/127)   |
//	| |1|2|3|       |K|             |                               |
//	+-+-+-+-+-------+-+-------------+ - - - - - - - - - - - - - - - +
//	|     Extended payload length continued, if payload len == 127  |
//	+ - - - - - - - - - - - - - - - +-------------------------------+
//	|                               |Masking-key, if MASK set to 1  |
//	+-------------------------------+-------------------------------+
//	| Masking-key (continued)       |          Payload Data         |
//	+-------------------------------- - - - - - - - - - - - - - - - +
//	:                     Payload Data continued ...                :
//	+---------------------------------------------------------------+
type frameHeader struct {
	fin              bool
	rsv1, rsv2, rsv3 bool
	opcode           byte
	masked           bool
	mask             [4]byte
	payloadLen       uint64
	payloadRead      uint64
}

// decodedFrame is one slice of payload data delivered by frameDecoder,
// corresponding to spec.md Section 4.1's three event forms: a streaming
// chunk of a long data frame (frameFinished=false), the end of a frame
// (frameFinished=true), or a whole control frame (always frameFinished=true).
type decodedFrame struct {
	fin              bool
	rsv1, rsv2, rsv3 bool
	opcode           byte
	payload          []byte
	frameFinished    bool
}

// frameDecoder parses RFC 6455 frames out of an append-only byte buffer.
// It never blocks: next returns (nil, nil) when more bytes are needed.
//
// Grounded on coregx-stream/websocket/frame.go's readFrame, rewritten from
// blocking io.Reader calls into a buffer-driven pull parser per spec.md's
// "Decoder... Operates on an append-only byte buffer."
type frameDecoder struct {
	isServer          bool
	maxFramePayload   uint64
	buf               []byte
	pending           *frameHeader
	eof               bool
	eofAlreadyHandled bool
}

func newFrameDecoder(isServer bool, maxFramePayload uint64) *frameDecoder {
	return &frameDecoder{isServer: isServer, maxFramePayload: maxFramePayload}
}

// receiveBytes appends newly-arrived bytes, or marks EOF when data is nil.
func (d *frameDecoder) receiveBytes(data []byte) {
	if data == nil {
		d.eof = true
		return
	}
	d.buf = append(d.buf, data...)
}

// next returns the next decoded chunk, or (nil, nil) if the buffer does not
// yet hold enough bytes to make progress.
func (d *frameDecoder) next() (*decodedFrame, error) {
	if d.pending == nil {
		hdr, n, err := d.parseHeader()
		if err != nil {
			return nil, err
		}
		if hdr == nil {
			return nil, nil
		}
		d.buf = d.buf[n:]
		d.pending = hdr
	}

	h := d.pending
	remaining := h.payloadLen - h.payloadRead
	control := isControlFrame(h.opcode)

	if control {
		// Control frames are never streamed: wait for the whole payload.
		if uint64(len(d.buf)) < remaining {
			return nil, nil
		}
	} else if remaining > 0 && len(d.buf) == 0 {
		return nil, nil
	}

	take := uint64(len(d.buf))
	if take > remaining {
		take = remaining
	}

	payload := make([]byte, take)
	copy(payload, d.buf[:take])
	d.buf = d.buf[take:]

	if h.masked {
		applyMaskAt(payload, h.mask, h.payloadRead)
	}
	h.payloadRead += take

	out := &decodedFrame{
		fin: h.fin, rsv1: h.rsv1, rsv2: h.rsv2, rsv3: h.rsv3,
		opcode: h.opcode, payload: payload,
		frameFinished: h.payloadRead == h.payloadLen,
	}
	if out.frameFinished {
		d.pending = nil
	}
	return out, nil
}

// parseHeader attempts to parse one frame header from the front of the
// buffer. It returns (nil, 0, nil) when more bytes are needed.
func (d *frameDecoder) parseHeader() (*frameHeader, int, error) {
	if len(d.buf) < 2 {
		return nil, 0, nil
	}

	b0, b1 := d.buf[0], d.buf[1]
	h := &frameHeader{
		fin:    b0&0x80 != 0,
		rsv1:   b0&0x40 != 0,
		rsv2:   b0&0x20 != 0,
		rsv3:   b0&0x10 != 0,
		opcode: b0 & 0x0F,
		masked: b1&0x80 != 0,
	}

	if !isValidOpcode(h.opcode) {
		return nil, 0, newRemoteError(ErrInvalidOpcode, CloseProtocolError, "")
	}
	if isControlFrame(h.opcode) && !h.fin {
		return nil, 0, newRemoteError(ErrControlFragmented, CloseProtocolError, "")
	}

	// Server requires masked frames; client requires unmasked frames
	// (RFC 6455 Section 5.1/5.3).
	if d.isServer && !h.masked {
		return nil, 0, newRemoteError(ErrMaskRequired, CloseProtocolError, "")
	}
	if !d.isServer && h.masked {
		return nil, 0, newRemoteError(ErrMaskUnexpected, CloseProtocolError, "")
	}

	pos := 2
	payloadLen := uint64(b1 & 0x7F)

	switch payloadLen {
	case payloadLen16Bit:
		if len(d.buf) < pos+2 {
			return nil, 0, nil
		}
		payloadLen = uint64(binary.BigEndian.Uint16(d.buf[pos : pos+2]))
		pos += 2
	case payloadLen64Bit:
		if len(d.buf) < pos+8 {
			return nil, 0, nil
		}
		payloadLen = binary.BigEndian.Uint64(d.buf[pos : pos+8])
		pos += 8
		if payloadLen&(1<<63) != 0 {
			return nil, 0, newRemoteError(ErrProtocolError, CloseProtocolError, "")
		}
	}

	if isControlFrame(h.opcode) && payloadLen > maxControlPayload {
		return nil, 0, newRemoteError(ErrControlTooLarge, CloseProtocolError, "")
	}
	if d.maxFramePayload > 0 && payloadLen > d.maxFramePayload {
		return nil, 0, newRemoteError(ErrFrameTooLarge, CloseMessageTooBig, "")
	}

	if h.masked {
		if len(d.buf) < pos+4 {
			return nil, 0, nil
		}
		copy(h.mask[:], d.buf[pos:pos+4])
		pos += 4
	}

	h.payloadLen = payloadLen
	return h, pos, nil
}

// applyMaskAt XORs data with mask, continuing the cyclic key position from
// startPos bytes into the overall payload (RFC 6455 Section 5.3). This lets
// masking survive being applied across multiple streamed chunks of the
// same frame.
func applyMaskAt(data []byte, mask [4]byte, startPos uint64) {
	off := startPos % 4
	for i := range data {
		data[i] ^= mask[(off+uint64(i))%4]
	}
}

// frameOut describes one outbound frame for encodeFrame.
type frameOut struct {
	fin              bool
	rsv1, rsv2, rsv3 bool
	opcode           byte
	payload          []byte
	mask             *[4]byte // nil: unmasked (server); non-nil: masked (client)
}

// encodeFrame serializes f into wire bytes (RFC 6455 Section 5.2). The
// mask, if present, is applied to a copy of the payload; the caller's
// slice is left untouched.
func encodeFrame(f frameOut) []byte {
	payloadLen := uint64(len(f.payload))

	headerLen := 2
	switch {
	case payloadLen > 0xFFFF:
		headerLen += 8
	case payloadLen > maxControlPayload || payloadLen >= payloadLen16Bit:
		headerLen += 2
	}
	if f.mask != nil {
		headerLen += 4
	}

	out := make([]byte, headerLen+len(f.payload))

	var b0 byte
	if f.fin {
		b0 |= 0x80
	}
	if f.rsv1 {
		b0 |= 0x40
	}
	if f.rsv2 {
		b0 |= 0x20
	}
	if f.rsv3 {
		b0 |= 0x10
	}
	b0 |= f.opcode & 0x0F
	out[0] = b0

	var b1 byte
	if f.mask != nil {
		b1 |= 0x80
	}

	pos := 2
	switch {
	case payloadLen > 0xFFFF:
		b1 |= payloadLen64Bit
		binary.BigEndian.PutUint64(out[pos:pos+8], payloadLen)
		pos += 8
	case payloadLen >= payloadLen16Bit:
		b1 |= payloadLen16Bit
		binary.BigEndian.PutUint16(out[pos:pos+2], uint16(payloadLen))
		pos += 2
	default:
		b1 |= byte(payloadLen)
	}
	out[1] = b1

	if f.mask != nil {
		copy(out[pos:pos+4], f.mask[:])
		pos += 4
	}

	copy(out[pos:], f.payload)
	if f.mask != nil {
		applyMaskAt(out[pos:], *f.mask, 0)
	}

	return out
}

// readAllFrames is a small test/utility helper that decodes every
// complete frame currently buffered, used by frame_test.go to assert
// round-trip behavior without driving the full protocol/connection
// layers.
func readAllFrames(data []byte, isServer bool) ([]*decodedFrame, error) {
	d := newFrameDecoder(isServer, 0)
	d.receiveBytes(data)
	var out []*decodedFrame
	for {
		f, err := d.next()
		if err != nil {
			return out, err
		}
		if f == nil {
			return out, nil
		}
		out = append(out, f)
	}
}
