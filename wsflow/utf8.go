package wsflow

// Incremental UTF-8 validator, used to validate text message payloads as
// they arrive across arbitrary frame boundaries (spec.md Section 4.1,
// "UTF-8 validation", and the boundary-safety invariant in Section 8).
//
// This is Bjoern Hoehrmann's well-known byte-oriented UTF-8 DFA
// (https://bjoern.hoehrmann.de/utf-8/decoder/dfa/, released to the public
// domain), adapted to Go. The teacher (coregx-stream/websocket) validates
// each complete frame in isolation with unicode/utf8.Valid, which cannot
// detect a codepoint split across two frames; this DFA instead carries a
// running state byte between calls, matching what spec.md's "three states
// {accept, incomplete, reject}" description calls for.
const (
	utf8Accept = 0
	utf8Reject = 12
)

// utf8Classes maps each byte value to one of 12 character classes.
var utf8Classes = [256]byte{
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9,
	7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7,
	8, 8, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2,
	10, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 4, 3, 3, 11, 6, 6, 6, 5, 8, 8, 8, 8, 8, 8, 8, 8, 8, 8, 8,
}

// utf8Transitions maps (state, class) to the next state.
var utf8Transitions = [108]byte{
	0, 12, 24, 36, 60, 96, 84, 12, 12, 12, 48, 72,
	12, 12, 12, 12, 12, 12, 12, 12, 12, 12, 12, 12,
	12, 0, 12, 12, 12, 12, 12, 0, 12, 0, 12, 12,
	12, 24, 12, 12, 12, 12, 12, 24, 12, 24, 12, 12,
	12, 12, 12, 12, 12, 12, 12, 24, 12, 12, 12, 12,
	12, 24, 12, 12, 12, 12, 12, 12, 12, 24, 12, 12,
	12, 12, 12, 12, 12, 12, 12, 36, 12, 36, 12, 12,
	12, 36, 12, 12, 12, 12, 12, 36, 12, 36, 12, 12,
	12, 36, 12, 12, 12, 12, 12, 12, 12, 12, 12, 12,
}

// utf8Validator tracks UTF-8 decoding state across arbitrary-sized writes.
type utf8Validator struct {
	state byte
}

// write feeds data through the DFA. It reports false the instant an invalid
// byte sequence is found, at which point the validator must not be reused.
func (v *utf8Validator) write(data []byte) bool {
	state := v.state
	for _, b := range data {
		class := utf8Classes[b]
		state = utf8Transitions[state+class]
		if state == utf8Reject {
			v.state = state
			return false
		}
	}
	v.state = state
	return true
}

// complete reports whether the validator is at a codepoint boundary, i.e.
// whether the bytes fed so far form complete, valid UTF-8 with no
// truncated trailing sequence. Call this once the final frame of a text
// message (FIN=1) has been fed.
func (v *utf8Validator) complete() bool {
	return v.state == utf8Accept
}
