package wsflow

// Event is the tagged sum of everything Connection.NextEvent can yield and
// Connection.Send can accept. spec.md Section 9 calls for "a tagged sum
// with exhaustive match" in place of the source's dataclass+isinstance
// dispatch; isEvent is the unexported marker method that closes the sum
// over this package's concrete event types.
type Event interface {
	isEvent()
}

// Request is yielded by the server handshake on a well-formed opening
// request, and sent by the client to initiate one.
type Request struct {
	// Host is the value of the Host header (client) or its source (server).
	Host string

	// Target is the opaque, already percent-encoded request-target
	// (RFC 3986), e.g. "/chat?room=1".
	Target string

	// Subprotocols is the ordered list of subprotocols offered by the client.
	Subprotocols []string

	// Extensions is the raw list of extension offers
	// (e.g. "permessage-deflate; client_max_window_bits").
	Extensions []string

	// ExtraHeaders carries any additional headers, in wire order.
	ExtraHeaders []HeaderField
}

func (Request) isEvent() {}

// HeaderField is a single HTTP header name/value pair, preserving wire order.
type HeaderField struct {
	Name  string
	Value string
}

// AcceptConnection is sent by the server to accept a Request, and yielded
// to the client when the server's 101 response validates successfully.
type AcceptConnection struct {
	// Subprotocol is the negotiated subprotocol, or "" if none.
	Subprotocol string

	// Extensions is the negotiated extension parameter strings (server
	// send) or the server's accepted offers (client receive).
	Extensions []string

	ExtraHeaders []HeaderField
}

func (AcceptConnection) isEvent() {}

// RejectConnection is sent by the server to reject a Request with a
// non-101 status, and yielded to the client for any non-101 response.
type RejectConnection struct {
	StatusCode int
	Headers    []HeaderField

	// HasBody indicates a body will follow as RejectData events. If
	// false, the rejection is complete with no RejectData event.
	HasBody bool
}

func (RejectConnection) isEvent() {}

// RejectData carries a chunk of the rejection response body.
type RejectData struct {
	Data []byte

	// BodyFinished is true on the final chunk.
	BodyFinished bool
}

func (RejectData) isEvent() {}

// CloseConnection is sent to initiate or acknowledge the closing
// handshake, and yielded when the peer's Close frame is received.
type CloseConnection struct {
	Code   CloseCode
	Reason string
}

func (CloseConnection) isEvent() {}

// Response returns the CloseConnection a caller should send in reply to a
// peer-initiated close: the same code (CloseNormalClosure if the peer sent
// CloseNoStatusReceived, since that code must never appear on the wire),
// with no reason text (spec.md S7: "SERVER receives close `88 02 03 e8`" →
// "send(event.response()) returns `88 02 03 e8`").
func (c CloseConnection) Response() CloseConnection {
	code := c.Code
	if code == CloseNoStatusReceived || code == CloseAbnormalClosure || code == CloseTLSHandshake {
		code = CloseNormalClosure
	}
	return CloseConnection{Code: code}
}

// TextMessage is a UTF-8 text message, possibly one fragment of many.
type TextMessage struct {
	Data string

	// FrameFinished is true when this is the last event for the current
	// wire frame (always true for unfragmented frames).
	FrameFinished bool

	// MessageFinished is true when this event completes the logical
	// message (FIN=1 on the final frame).
	MessageFinished bool
}

func (TextMessage) isEvent() {}

// BytesMessage is a binary message, possibly one fragment of many.
type BytesMessage struct {
	Data []byte

	FrameFinished   bool
	MessageFinished bool
}

func (BytesMessage) isEvent() {}

// Ping is a ping control frame.
type Ping struct {
	Payload []byte
}

func (Ping) isEvent() {}

// Response returns the Pong a caller should send in reply, echoing the
// ping's application data (RFC 6455 Section 5.5.3).
func (p Ping) Response() Pong {
	return Pong{Payload: p.Payload}
}

// Pong is a pong control frame, solicited or unsolicited.
type Pong struct {
	Payload []byte
}

func (Pong) isEvent() {}
