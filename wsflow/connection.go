package wsflow

import (
	"crypto/rand"
	"io"
	"unicode/utf8"
)

// Role identifies which side of the connection this engine instance plays.
type Role int

const (
	ClientRole Role = iota
	ServerRole
)

// ConnectionState is the connection-level state machine (spec.md Section
// 4.5): CONNECTING moves to OPEN (accepted) or REJECTING/CLOSED (rejected);
// OPEN moves to LOCAL_CLOSING or REMOTE_CLOSING on a close frame, and both
// converge on CLOSED.
type ConnectionState int

const (
	StateConnecting ConnectionState = iota
	StateRejecting
	StateOpen
	StateLocalClosing
	StateRemoteClosing
	StateClosed
)

const (
	// DefaultMaxFrameSize bounds a single frame's declared payload length.
	DefaultMaxFrameSize = 16 << 20 // 16 MiB

	// DefaultMaxMessageSize bounds a fully reassembled message.
	DefaultMaxMessageSize = 64 << 20 // 64 MiB
)

// ConnectionConfig configures a new Connection. Zero value is usable for
// the defaults; Role is filled in by NewClientConnection and
// NewServerConnection.
//
// Grounded on coregx-stream/websocket/handshake.go's UpgradeOptions
// (zero-value-usable struct-of-options), extended with the fields spec.md's
// Connection needs: role, size limits, extensions, and an injectable
// masking-key source (spec.md Section 9: "Masking-key randomness comes
// from a configurable RNG; for tests this is injectable").
type ConnectionConfig struct {
	Role Role

	// Subprotocols is the server's offered subprotocol list, used to
	// select one from the client's Request (ignored for ClientRole).
	Subprotocols []string

	Extensions []*Extension

	MaxFrameSize   uint64
	MaxMessageSize uint64

	// RNG supplies masking-key and Sec-WebSocket-Key randomness. Defaults
	// to crypto/rand.Reader, finishing the teacher's
	// "mask = [4]byte{...} // TODO: Use crypto/rand for production".
	RNG io.Reader
}

func (cfg *ConnectionConfig) withDefaults() ConnectionConfig {
	out := *cfg
	if out.MaxFrameSize == 0 {
		out.MaxFrameSize = DefaultMaxFrameSize
	}
	if out.MaxMessageSize == 0 {
		out.MaxMessageSize = DefaultMaxMessageSize
	}
	if out.RNG == nil {
		out.RNG = rand.Reader
	}
	return out
}

// Connection is the sans-I/O façade over the handshake, frame, and message
// layers: ReceiveData feeds inbound bytes, NextEvent drains the resulting
// Events, and Send turns an outbound Event into bytes to write.
//
// Grounded on coregx-stream/websocket/conn.go's Conn (same read/write/close
// vocabulary — Read, Write, Ping, Pong, CloseWithCode — reshaped from a
// net.Conn-owning, mutex-guarded, blocking type into a buffer-owning,
// single-threaded, non-blocking one per spec.md Section 5's concurrency
// model: "strictly single-threaded and non-reentrant").
type Connection struct {
	role  Role
	state ConnectionState

	cfg ConnectionConfig

	hs         *handshake
	proto      *frameProtocol
	extensions []*Extension

	// sendingMessage is true after a data frame with FIN=0 was sent, so
	// the next data frame goes out as a continuation.
	sendingMessage bool

	eofReceived bool
}

// NewClientConnection returns a Connection that must send a Request first.
func NewClientConnection(cfg ConnectionConfig) *Connection {
	cfg.Role = ClientRole
	cfg = cfg.withDefaults()
	return &Connection{
		role:  ClientRole,
		state: StateConnecting,
		cfg:   cfg,
		hs:    newClientHandshake(cfg.RNG),
	}
}

// NewServerConnection returns a Connection that will yield a Request event
// once a client opening handshake has been received.
func NewServerConnection(cfg ConnectionConfig) *Connection {
	cfg.Role = ServerRole
	cfg = cfg.withDefaults()
	return &Connection{
		role:  ServerRole,
		state: StateConnecting,
		cfg:   cfg,
		hs:    newServerHandshake(cfg.Subprotocols, cfg.Extensions, cfg.RNG),
	}
}

// NewConnection returns a Connection already in the OPEN state, skipping
// the handshake sub-state machine entirely — the "connection only" mode
// spec.md Section 4.4 describes for RFC 8441 (extended CONNECT), where the
// opening handshake already happened at the HTTP/2 layer.
func NewConnection(role Role, extensions []*Extension, maxFrameSize, maxMessageSize uint64) *Connection {
	cfg := ConnectionConfig{Role: role, Extensions: extensions, MaxFrameSize: maxFrameSize, MaxMessageSize: maxMessageSize}
	cfg = cfg.withDefaults()
	c := &Connection{role: role, state: StateOpen, cfg: cfg, extensions: extensions}
	c.proto = newFrameProtocol(role == ServerRole, cfg.MaxFrameSize, cfg.MaxMessageSize, extensions)
	return c
}

// ReceiveData feeds newly-arrived bytes into the connection. A nil data
// signals the transport reached EOF.
func (c *Connection) ReceiveData(data []byte) error {
	if c.state == StateClosed {
		return newLocalError(ErrConnectionClosed)
	}
	if data == nil {
		c.eofReceived = true
	}
	if c.proto != nil {
		c.proto.receiveBytes(data)
		return nil
	}
	if c.hs != nil {
		c.hs.receiveBytes(data)
		return nil
	}
	return nil
}

// NextEvent returns the next decodable Event, or (nil, nil) if no further
// event can be produced from the bytes buffered so far. Call ReceiveData
// again and retry once more bytes arrive.
func (c *Connection) NextEvent() (Event, error) {
	switch c.state {
	case StateConnecting, StateRejecting:
		return c.nextHandshakeEvent()
	case StateClosed:
		return nil, newLocalError(ErrConnectionClosed)
	default:
		return c.nextProtocolEvent()
	}
}

func (c *Connection) nextHandshakeEvent() (Event, error) {
	event, err := c.hs.next()
	if err != nil {
		c.state = StateClosed
		return nil, err
	}
	if event == nil {
		return nil, nil
	}

	switch e := event.(type) {
	case Request:
		return e, nil
	case AcceptConnection:
		c.finalizeNegotiatedExtensions(e.Extensions)
		c.transitionToOpen()
		return e, nil
	case RejectConnection:
		// Only the client side treats a received RejectConnection as
		// terminal here: it has no Send call to make in reply. On the
		// server side this event can also be the engine's own synthesized
		// reject (e.g. a bad Sec-WebSocket-Version), which the caller
		// still finalizes by calling Send with the same event — so the
		// state must stay CONNECTING until that Send happens.
		if c.role == ClientRole {
			if e.HasBody {
				c.state = StateRejecting
			} else {
				c.state = StateClosed
			}
		}
		return e, nil
	default:
		return event, nil
	}
}

// finalizeNegotiatedExtensions runs Finalize on every configured extension
// whose name appears in the peer's negotiated list, dropping any that
// don't negotiate or fail to finalize.
func (c *Connection) finalizeNegotiatedExtensions(negotiated []string) {
	var active []*Extension
	for _, offer := range negotiated {
		for _, ext := range c.cfg.Extensions {
			if matchesExtensionName(offer, ext.Name) {
				if ext.Finalize(offer) == nil {
					active = append(active, ext)
				}
				break
			}
		}
	}
	c.extensions = active
}

func matchesExtensionName(offer, name string) bool {
	for i := 0; i < len(offer); i++ {
		if offer[i] == ';' {
			return trimASCII(offer[:i]) == name
		}
	}
	return trimASCII(offer) == name
}

func trimASCII(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}

func (c *Connection) transitionToOpen() {
	c.state = StateOpen
	c.proto = newFrameProtocol(c.role == ServerRole, c.cfg.MaxFrameSize, c.cfg.MaxMessageSize, c.extensions)
	if leftover := c.hs.recvBuf; len(leftover) > 0 {
		c.proto.receiveBytes(leftover)
	}
	if c.eofReceived {
		c.proto.receiveBytes(nil)
	}
	c.hs = nil
}

func (c *Connection) nextProtocolEvent() (Event, error) {
	event, err := c.proto.next()
	if err != nil {
		if c.state != StateRemoteClosing && c.state != StateLocalClosing {
			c.state = StateRemoteClosing
		} else {
			c.state = StateClosed
		}
		return nil, err
	}
	if cc, ok := event.(CloseConnection); ok {
		switch c.state {
		case StateLocalClosing:
			c.state = StateClosed
		default:
			c.state = StateRemoteClosing
		}
		return cc, nil
	}
	return event, nil
}

// Send turns an outbound Event into wire bytes, validating that it is
// legal to send in the current state (spec.md's "Send-state legality
// table"). It returns a *LocalProtocolError for illegal events.
func (c *Connection) Send(event Event) ([]byte, error) {
	switch e := event.(type) {
	case Request:
		if c.state != StateConnecting || c.role != ClientRole {
			return nil, newLocalError(ErrIllegalEventForState)
		}
		return c.hs.buildClientRequest(e)

	case AcceptConnection:
		if c.state != StateConnecting || c.role != ServerRole {
			return nil, newLocalError(ErrIllegalEventForState)
		}
		out := c.hs.acceptResponse(e)
		c.finalizeAcceptedExtensions(e.Extensions)
		c.transitionToOpen()
		return out, nil

	case RejectConnection:
		if c.state != StateConnecting || c.role != ServerRole {
			return nil, newLocalError(ErrIllegalEventForState)
		}
		out := c.hs.rejectResponse(e)
		if !e.HasBody {
			c.state = StateClosed
		} else {
			c.state = StateRejecting
		}
		return out, nil

	case RejectData:
		if c.state != StateRejecting || c.role != ServerRole {
			return nil, newLocalError(ErrIllegalEventForState)
		}
		if e.BodyFinished {
			c.state = StateClosed
		}
		return e.Data, nil

	case TextMessage:
		return c.sendData(opcodeText, []byte(e.Data), e.MessageFinished)

	case BytesMessage:
		return c.sendData(opcodeBinary, e.Data, e.MessageFinished)

	case Ping:
		return c.sendControl(opcodePing, e.Payload)

	case Pong:
		return c.sendControl(opcodePong, e.Payload)

	case CloseConnection:
		return c.sendClose(e)

	default:
		return nil, newLocalError(ErrIllegalEventForState)
	}
}

func (c *Connection) finalizeAcceptedExtensions(negotiated []string) {
	var active []*Extension
	for _, resp := range negotiated {
		for _, ext := range c.cfg.Extensions {
			if matchesExtensionName(resp, ext.Name) {
				active = append(active, ext)
				break
			}
		}
	}
	c.extensions = active
}

func (c *Connection) sendData(opcode byte, payload []byte, fin bool) ([]byte, error) {
	if c.state != StateOpen {
		return nil, newLocalError(ErrIllegalEventForState)
	}
	if opcode == opcodeText && !utf8.Valid(payload) {
		return nil, newLocalError(ErrInvalidUTF8)
	}

	out := payload
	rsv1, rsv2, rsv3 := false, false, false
	var err error
	if len(c.extensions) > 0 {
		pipeline := newExtensionPipeline(c.extensions)
		out, rsv1, rsv2, rsv3, err = pipeline.outbound(payload)
		if err != nil {
			return nil, newLocalError(err)
		}
	}

	if c.sendingMessage {
		opcode = opcodeContinuation
	}
	frame := encodeFrame(frameOut{
		fin: fin, rsv1: rsv1, rsv2: rsv2, rsv3: rsv3,
		opcode: opcode, payload: out, mask: c.outboundMask(),
	})
	c.sendingMessage = !fin
	return frame, nil
}

func (c *Connection) sendControl(opcode byte, payload []byte) ([]byte, error) {
	if c.state != StateOpen && !(opcode == opcodePong && c.state == StateLocalClosing) {
		return nil, newLocalError(ErrIllegalEventForState)
	}
	if len(payload) > maxControlPayload {
		return nil, newLocalError(ErrControlTooLarge)
	}
	return encodeFrame(frameOut{
		fin: true, opcode: opcode, payload: payload, mask: c.outboundMask(),
	}), nil
}

func (c *Connection) sendClose(e CloseConnection) ([]byte, error) {
	if c.state != StateOpen && c.state != StateRemoteClosing {
		return nil, newLocalError(ErrIllegalEventForState)
	}
	if e.Reason != "" && !utf8.ValidString(e.Reason) {
		return nil, newLocalError(ErrInvalidUTF8)
	}

	payload := make([]byte, 0, 2+len(e.Reason))
	switch e.Code {
	case 0, CloseNoStatusReceived, CloseAbnormalClosure, CloseTLSHandshake:
		// These codes must never appear on the wire (RFC 6455 Section 7.4):
		// an empty payload is the correct encoding for "no status".
	default:
		payload = append(payload, byte(e.Code>>8), byte(e.Code&0xFF))
		payload = append(payload, e.Reason...)
	}

	out := encodeFrame(frameOut{fin: true, opcode: opcodeClose, payload: payload, mask: c.outboundMask()})

	switch c.state {
	case StateRemoteClosing:
		c.state = StateClosed
	default:
		c.state = StateLocalClosing
	}
	return out, nil
}

// outboundMask returns a fresh random mask for client-role frames, or nil
// for server-role frames (RFC 6455 Section 5.1: only the client masks).
func (c *Connection) outboundMask() *[4]byte {
	if c.role != ClientRole {
		return nil
	}
	var mask [4]byte
	_, _ = io.ReadFull(c.cfg.RNG, mask[:])
	return &mask
}

// State returns the connection's current ConnectionState.
func (c *Connection) State() ConnectionState {
	return c.state
}
