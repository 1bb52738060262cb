// Package httphead parses the raw HTTP/1.1 request/response head exchanged
// during a WebSocket opening handshake (RFC 6455 Section 4), independent of
// net/http's client/server machinery. wsflow's handshake state machine
// treats this as an external collaborator: it hands httphead raw bytes and
// gets back a structured head, the same way it hands a decoded frame to the
// message assembler.
package httphead

import (
	"bufio"
	"bytes"
	"fmt"
	"net/textproto"
	"strconv"
	"strings"
)

// Header is an ordered list of header fields, preserving wire order and
// duplicate fields (a client may legally send multiple Sec-WebSocket-
// Protocol or Sec-WebSocket-Extensions lines).
type Header struct {
	Name  string
	Value string
}

// RequestHead is a parsed HTTP/1.1 request line plus headers.
type RequestHead struct {
	Method     string
	Target     string
	Major, Minor int
	Headers    []Header
}

// ResponseHead is a parsed HTTP/1.1 status line plus headers.
type ResponseHead struct {
	Major, Minor int
	StatusCode   int
	Reason       string
	Headers      []Header
}

// Get returns the first header value matching name (case-insensitively),
// or "" with ok=false if none is present.
func (h RequestHead) Get(name string) (string, bool) {
	return getHeader(h.Headers, name)
}

// Get returns the first header value matching name (case-insensitively).
func (h ResponseHead) Get(name string) (string, bool) {
	return getHeader(h.Headers, name)
}

func getHeader(headers []Header, name string) (string, bool) {
	canon := textproto.CanonicalMIMEHeaderKey(name)
	for _, h := range headers {
		if textproto.CanonicalMIMEHeaderKey(h.Name) == canon {
			return h.Value, true
		}
	}
	return "", false
}

// Values returns every header value matching name, in wire order.
func (h RequestHead) Values(name string) []string {
	return headerValues(h.Headers, name)
}

func headerValues(headers []Header, name string) []string {
	canon := textproto.CanonicalMIMEHeaderKey(name)
	var out []string
	for _, h := range headers {
		if textproto.CanonicalMIMEHeaderKey(h.Name) == canon {
			out = append(out, h.Value)
		}
	}
	return out
}

// ParseRequest parses one HTTP/1.1 request head (request line + headers,
// terminated by a blank line) from buf. It returns (nil, 0, nil) if buf
// does not yet contain a complete head, so callers can feed it
// incrementally as bytes arrive.
func ParseRequest(buf []byte) (*RequestHead, int, error) {
	idx := bytes.Index(buf, []byte("\r\n\r\n"))
	if idx < 0 {
		return nil, 0, nil
	}
	total := idx + 4

	r := textproto.NewReader(bufio.NewReader(bytes.NewReader(buf[:total])))
	line, err := r.ReadLine()
	if err != nil {
		return nil, 0, fmt.Errorf("httphead: reading request line: %w", err)
	}

	method, target, version, err := parseRequestLine(line)
	if err != nil {
		return nil, 0, err
	}
	major, minor, err := parseHTTPVersion(version)
	if err != nil {
		return nil, 0, err
	}

	headers, err := readHeaderLines(r)
	if err != nil {
		return nil, 0, fmt.Errorf("httphead: reading headers: %w", err)
	}

	head := &RequestHead{Method: method, Target: target, Major: major, Minor: minor, Headers: headers}
	return head, total, nil
}

// ParseResponse parses one HTTP/1.1 status head from buf, with the same
// incremental-buffer contract as ParseRequest.
func ParseResponse(buf []byte) (*ResponseHead, int, error) {
	idx := bytes.Index(buf, []byte("\r\n\r\n"))
	if idx < 0 {
		return nil, 0, nil
	}
	total := idx + 4

	r := textproto.NewReader(bufio.NewReader(bytes.NewReader(buf[:total])))
	line, err := r.ReadLine()
	if err != nil {
		return nil, 0, fmt.Errorf("httphead: reading status line: %w", err)
	}

	version, code, reason, err := parseStatusLine(line)
	if err != nil {
		return nil, 0, err
	}
	major, minor, err := parseHTTPVersion(version)
	if err != nil {
		return nil, 0, err
	}

	headers, err := readHeaderLines(r)
	if err != nil {
		return nil, 0, fmt.Errorf("httphead: reading headers: %w", err)
	}

	head := &ResponseHead{Major: major, Minor: minor, StatusCode: code, Reason: reason, Headers: headers}
	return head, total, nil
}

// readHeaderLines reads header fields up to the terminating blank line,
// preserving wire order and duplicate field names (RFC 6455's opening
// handshake may carry repeated Sec-WebSocket-Protocol/-Extensions lines).
// Obs-fold continuation lines (leading whitespace) are appended to the
// previous field's value, per RFC 7230 Section 3.2.4.
func readHeaderLines(r *textproto.Reader) ([]Header, error) {
	var headers []Header
	for {
		line, err := r.ReadLine()
		if err != nil {
			return headers, err
		}
		if line == "" {
			return headers, nil
		}
		if (line[0] == ' ' || line[0] == '\t') && len(headers) > 0 {
			headers[len(headers)-1].Value += " " + strings.TrimSpace(line)
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			return headers, fmt.Errorf("malformed header line %q", line)
		}
		name := strings.TrimSpace(line[:colon])
		value := strings.TrimSpace(line[colon+1:])
		headers = append(headers, Header{Name: name, Value: value})
	}
}

func parseRequestLine(line string) (method, target, version string, err error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("httphead: malformed request line %q", line)
	}
	return parts[0], parts[1], parts[2], nil
}

func parseStatusLine(line string) (version string, code int, reason string, err error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return "", 0, "", fmt.Errorf("httphead: malformed status line %q", line)
	}
	code, err = strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, "", fmt.Errorf("httphead: malformed status code in %q: %w", line, err)
	}
	if len(parts) == 3 {
		reason = parts[2]
	}
	return parts[0], code, reason, nil
}

func parseHTTPVersion(version string) (major, minor int, err error) {
	const prefix = "HTTP/"
	if !strings.HasPrefix(version, prefix) {
		return 0, 0, fmt.Errorf("httphead: malformed HTTP version %q", version)
	}
	v := strings.TrimPrefix(version, prefix)
	dot := strings.IndexByte(v, '.')
	if dot < 0 {
		return 0, 0, fmt.Errorf("httphead: malformed HTTP version %q", version)
	}
	major, err = strconv.Atoi(v[:dot])
	if err != nil {
		return 0, 0, fmt.Errorf("httphead: malformed HTTP version %q", version)
	}
	minor, err = strconv.Atoi(v[dot+1:])
	if err != nil {
		return 0, 0, fmt.Errorf("httphead: malformed HTTP version %q", version)
	}
	return major, minor, nil
}
