package wsflow

import (
	"crypto/rand"
	"crypto/sha1" // #nosec G505 - SHA-1 required by RFC 6455 Section 1.3
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/coregx/wsflow/httphead"
)

// websocketGUID is the magic GUID used to compute Sec-WebSocket-Accept
// (RFC 6455 Section 1.3).
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// handshakeState names the handshake sub-state machine's position, per
// spec.md Section 4.4.
type handshakeState int

const (
	handshakeClientWaitingResponse handshakeState = iota
	handshakeServerWaitingRequest
	handshakeServerSentRejectHead
	handshakeServerSentRejectBody
	handshakeDone
)

// handshake drives the RFC 6455 Section 4 opening exchange to completion,
// for either connection role, entirely over byte buffers.
//
// Grounded on coregx-stream/websocket/handshake.go's Upgrade for the
// server-side validation steps (method, Upgrade, Connection, version, key,
// subprotocol, Accept computation — CheckOrigin is deliberately not
// reintroduced; see DESIGN.md), generalized from *http.Request/
// http.ResponseWriter to a byte-buffer-driven parse of httphead.RequestHead/
// ResponseHead. The client path is grounded on
// tzrikka-timpani/pkg/websocket/dial.go's handshakeRequest/
// checkHandshakeResponse (nonce generation, header assembly, Accept
// verification), translated from direct net/http calls into sans-I/O
// request/response construction.
type handshake struct {
	isServer bool
	state    handshakeState

	subprotocols []string // server: offered subprotocols to select among
	extensions   []*Extension

	clientKey string // server: client's Sec-WebSocket-Key, to compute Accept
	rng       io.Reader

	recvBuf []byte

	// server-side parsed request, surfaced as a Request event
	request *Request

	// client-side state
	dialTarget string
	dialHost   string
	nonce      string
}

func newServerHandshake(subprotocols []string, extensions []*Extension, rng io.Reader) *handshake {
	if rng == nil {
		rng = rand.Reader
	}
	return &handshake{
		isServer:     true,
		state:        handshakeServerWaitingRequest,
		subprotocols: subprotocols,
		extensions:   extensions,
		rng:          rng,
	}
}

func newClientHandshake(rng io.Reader) *handshake {
	if rng == nil {
		rng = rand.Reader
	}
	return &handshake{
		isServer: false,
		state:    handshakeClientWaitingResponse,
		rng:      rng,
	}
}

// buildClientRequest renders req as the raw HTTP/1.1 request bytes to send,
// recording the nonce for later Sec-WebSocket-Accept verification.
func (h *handshake) buildClientRequest(req Request) ([]byte, error) {
	nonce := make([]byte, 16)
	if _, err := io.ReadFull(h.rng, nonce); err != nil {
		return nil, fmt.Errorf("wsflow: generating Sec-WebSocket-Key: %w", err)
	}
	h.nonce = base64.StdEncoding.EncodeToString(nonce)
	h.dialHost = req.Host
	h.dialTarget = req.Target

	var b strings.Builder
	fmt.Fprintf(&b, "GET %s HTTP/1.1\r\n", req.Target)
	fmt.Fprintf(&b, "Host: %s\r\n", req.Host)
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	fmt.Fprintf(&b, "Sec-WebSocket-Key: %s\r\n", h.nonce)
	b.WriteString("Sec-WebSocket-Version: 13\r\n")
	if len(req.Subprotocols) > 0 {
		fmt.Fprintf(&b, "Sec-WebSocket-Protocol: %s\r\n", strings.Join(req.Subprotocols, ", "))
	}
	for _, ext := range req.Extensions {
		fmt.Fprintf(&b, "Sec-WebSocket-Extensions: %s\r\n", ext)
	}
	for _, hd := range req.ExtraHeaders {
		fmt.Fprintf(&b, "%s: %s\r\n", hd.Name, hd.Value)
	}
	b.WriteString("\r\n")
	return []byte(b.String()), nil
}

// receiveBytes feeds raw bytes into the handshake's own buffer (the
// connection façade routes bytes here until the handshake is Done).
func (h *handshake) receiveBytes(data []byte) {
	h.recvBuf = append(h.recvBuf, data...)
}

// next attempts to make progress on the handshake, returning the next
// Event it can produce, or (nil, nil) if more bytes are needed.
func (h *handshake) next() (Event, error) {
	if h.isServer {
		return h.nextServer()
	}
	return h.nextClient()
}

func (h *handshake) nextServer() (Event, error) {
	if h.state != handshakeServerWaitingRequest {
		return nil, nil
	}

	req, n, err := httphead.ParseRequest(h.recvBuf)
	if err != nil {
		return nil, newRemoteErrorNoHint(fmt.Errorf("%w: %s", ErrProtocolError, err))
	}
	if req == nil {
		return nil, nil
	}
	h.recvBuf = h.recvBuf[n:]

	reject, err := h.validateServerRequest(req)
	if err != nil {
		return nil, err
	}
	if reject != nil {
		return *reject, nil
	}

	h.clientKey, _ = req.Get("Sec-WebSocket-Key")
	host, _ := req.Get("Host")

	event := &Request{
		Host:         host,
		Target:       req.Target,
		Subprotocols: splitCommaList(req.Values("Sec-WebSocket-Protocol")),
		Extensions:   splitCommaList(req.Values("Sec-WebSocket-Extensions")),
	}
	h.request = event
	return *event, nil
}

// validateServerRequest checks the opening request against RFC 6455
// Section 4.2.1. Most violations are unrecoverable protocol errors, but an
// unsupported Sec-WebSocket-Version gets a specific wire response per
// spec.md Section 4.4 ("otherwise emit 426 with Sec-WebSocket-Version: 13");
// validateServerRequest reports that case by returning a non-nil
// *RejectConnection instead of an error, so the caller still gets to render
// and send it like any other reject.
func (h *handshake) validateServerRequest(req *httphead.RequestHead) (*RejectConnection, error) {
	if req.Method != "GET" {
		return nil, newRemoteErrorNoHint(ErrInvalidMethod)
	}
	if req.Major < 1 || (req.Major == 1 && req.Minor < 1) {
		return nil, newRemoteErrorNoHint(ErrInvalidHTTPVersion)
	}
	if _, ok := req.Get("Host"); !ok {
		return nil, newRemoteErrorNoHint(ErrMissingHost)
	}
	if !httphead.ContainsToken(req.Values("Upgrade"), "websocket") {
		return nil, newRemoteErrorNoHint(ErrMissingUpgrade)
	}
	if !httphead.ContainsToken(req.Values("Connection"), "upgrade") {
		return nil, newRemoteErrorNoHint(ErrMissingConnection)
	}
	version, ok := req.Get("Sec-WebSocket-Version")
	if !ok || version != "13" {
		return &RejectConnection{
			StatusCode: 426,
			Headers:    []HeaderField{{Name: "Sec-WebSocket-Version", Value: "13"}},
		}, nil
	}
	key, ok := req.Get("Sec-WebSocket-Key")
	if !ok || !validSecWebSocketKey(key) {
		return nil, newRemoteErrorNoHint(ErrMissingSecKey)
	}
	return nil, nil
}

// validSecWebSocketKey reports whether key decodes as base64 of exactly 16
// bytes (RFC 6455 Section 4.2.1 item 7).
func validSecWebSocketKey(key string) bool {
	decoded, err := base64.StdEncoding.DecodeString(key)
	return err == nil && len(decoded) == 16
}

// acceptResponse renders the 101 response for accept, selecting a
// subprotocol from the client's offer if accept.Subprotocol is unset.
func (h *handshake) acceptResponse(accept AcceptConnection) []byte {
	acceptKey := computeAcceptKey(h.clientKey)

	var b strings.Builder
	b.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	fmt.Fprintf(&b, "Sec-WebSocket-Accept: %s\r\n", acceptKey)
	subprotocol := accept.Subprotocol
	if subprotocol == "" && h.request != nil {
		subprotocol = h.negotiateSubprotocol(h.request.Subprotocols)
	}
	if subprotocol != "" {
		fmt.Fprintf(&b, "Sec-WebSocket-Protocol: %s\r\n", subprotocol)
	}
	for _, ext := range accept.Extensions {
		fmt.Fprintf(&b, "Sec-WebSocket-Extensions: %s\r\n", ext)
	}
	for _, hd := range accept.ExtraHeaders {
		fmt.Fprintf(&b, "%s: %s\r\n", hd.Name, hd.Value)
	}
	b.WriteString("\r\n")
	h.state = handshakeDone
	return []byte(b.String())
}

// rejectResponse renders a non-101 response for reject.
func (h *handshake) rejectResponse(reject RejectConnection) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", reject.StatusCode, statusText(reject.StatusCode))
	for _, hd := range reject.Headers {
		fmt.Fprintf(&b, "%s: %s\r\n", hd.Name, hd.Value)
	}
	b.WriteString("\r\n")
	if reject.HasBody {
		h.state = handshakeServerSentRejectBody
	} else {
		h.state = handshakeDone
	}
	return []byte(b.String())
}

func (h *handshake) negotiateSubprotocol(offered []string) string {
	for _, client := range offered {
		for _, server := range h.subprotocols {
			if client == server {
				return client
			}
		}
	}
	return ""
}

func (h *handshake) nextClient() (Event, error) {
	if h.state != handshakeClientWaitingResponse {
		return nil, nil
	}

	resp, n, err := httphead.ParseResponse(h.recvBuf)
	if err != nil {
		return nil, newRemoteErrorNoHint(fmt.Errorf("%w: %s", ErrProtocolError, err))
	}
	if resp == nil {
		return nil, nil
	}
	h.recvBuf = h.recvBuf[n:]

	if resp.StatusCode != 101 {
		h.state = handshakeDone
		headers := make([]HeaderField, 0, len(resp.Headers))
		for _, hd := range resp.Headers {
			headers = append(headers, HeaderField{Name: hd.Name, Value: hd.Value})
		}
		return RejectConnection{StatusCode: resp.StatusCode, Headers: headers}, nil
	}

	if !httphead.ContainsToken(headerValues(resp, "Upgrade"), "websocket") {
		return nil, newRemoteErrorNoHint(ErrMissingUpgrade)
	}
	if !httphead.ContainsToken(headerValues(resp, "Connection"), "upgrade") {
		return nil, newRemoteErrorNoHint(ErrMissingConnection)
	}
	accept, ok := resp.Get("Sec-WebSocket-Accept")
	if !ok || accept != computeAcceptKey(h.nonce) {
		return nil, newRemoteErrorNoHint(ErrInvalidAccept)
	}

	h.state = handshakeDone
	subprotocol, _ := resp.Get("Sec-WebSocket-Protocol")
	return AcceptConnection{
		Subprotocol: subprotocol,
		Extensions:  splitCommaList(headerValues(resp, "Sec-WebSocket-Extensions")),
	}, nil
}

func headerValues(resp *httphead.ResponseHead, name string) []string {
	var out []string
	for _, h := range resp.Headers {
		if strings.EqualFold(h.Name, name) {
			out = append(out, h.Value)
		}
	}
	return out
}

// computeAcceptKey computes Sec-WebSocket-Accept from a client key
// (RFC 6455 Section 1.3: base64(SHA-1(key + GUID))).
func computeAcceptKey(key string) string {
	// #nosec G401 - SHA-1 required by RFC 6455 Section 1.3, not for cryptographic security
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// splitCommaList splits and trims a list of raw header values that may
// themselves each contain comma-separated tokens (RFC 6455 allows both
// multiple headers and a single comma list for Sec-WebSocket-Protocol and
// Sec-WebSocket-Extensions).
func splitCommaList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func statusText(code int) string {
	switch code {
	case 400:
		return "Bad Request"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 426:
		return "Upgrade Required"
	case 500:
		return "Internal Server Error"
	default:
		return "Error"
	}
}
