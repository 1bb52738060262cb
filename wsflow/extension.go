package wsflow

// Extension is the capability interface implemented by a negotiable
// WebSocket extension (RFC 6455 Section 9; RFC 7692 for permessage-deflate).
//
// spec.md Section 9 replaces the source's base-class-with-overrides design
// with "a capability record the pipeline calls in a fixed order": this
// interface is that record. coregx-stream has no equivalent — its
// websocket package never negotiates extensions or sets RSV1 — so there is
// no teacher analogue to adapt; the method set follows directly from the
// pipeline steps spec.md describes.
type Extension struct {
	// Name is the extension token, e.g. "permessage-deflate".
	Name string

	// Offer returns the extension's offer string for a client Request, or
	// "" to omit it.
	Offer func() string

	// Accept is called server-side with one client-offered parameter
	// string (already split on the top-level comma list) and returns the
	// response parameter string to send back, plus whether the offer was
	// accepted at all.
	Accept func(offer string) (response string, ok bool)

	// Finalize is called on whichever side receives the peer's final
	// negotiated parameter string, to fix the extension's runtime
	// configuration (e.g. window bits, context takeover). Returns an
	// error if the negotiated parameters are unusable.
	Finalize func(negotiated string) error

	// FrameInboundHeader observes a frame's FIN/RSV bits as its header is
	// parsed, and returns whether this extension claims the frame (i.e.
	// the frame's RSV1 is legal because of this extension).
	FrameInboundHeader func(fin bool, rsv1, rsv2, rsv3 bool) bool

	// FrameInboundPayload transforms one inbound payload chunk (e.g.
	// inflating it). It is called only on frames this extension claimed.
	FrameInboundPayload func(chunk []byte) ([]byte, error)

	// FrameInboundComplete is called once the claimed frame's FIN=1 chunk
	// has been passed to FrameInboundPayload, to flush any buffered
	// trailing state (e.g. the permessage-deflate sync-flush trailer).
	FrameInboundComplete func() ([]byte, error)

	// FrameOutbound transforms an outbound message's payload before
	// framing and returns the RSV bits to set on the first frame.
	FrameOutbound func(payload []byte) (out []byte, rsv1, rsv2, rsv3 bool, err error)
}

// extensionPipeline runs the negotiated extensions in order for inbound
// frames, and in reverse order for outbound messages, per spec.md's
// "Extension pipeline... ordered, inbound runs first-to-last, outbound
// runs last-to-first."
type extensionPipeline struct {
	extensions []*Extension
	// active is the extension claiming the in-progress inbound frame, or
	// nil between frames / for frames no extension claims.
	active *Extension
}

func newExtensionPipeline(extensions []*Extension) *extensionPipeline {
	return &extensionPipeline{extensions: extensions}
}

// inboundHeader is called once per frame header. It returns the (possibly
// only) extension claiming the frame's RSV bits, or nil if none claim it
// and at least one RSV bit is set (a protocol violation the caller must
// raise as ErrReservedBits).
func (p *extensionPipeline) inboundHeader(fin bool, rsv1, rsv2, rsv3 bool) *Extension {
	p.active = nil
	if !rsv1 && !rsv2 && !rsv3 {
		return nil
	}
	for _, ext := range p.extensions {
		if ext.FrameInboundHeader(fin, rsv1, rsv2, rsv3) {
			p.active = ext
			return ext
		}
	}
	return nil
}

// inboundPayload runs the active extension's transform over one payload
// chunk, passing chunks through untouched when no extension is active.
func (p *extensionPipeline) inboundPayload(chunk []byte) ([]byte, error) {
	if p.active == nil {
		return chunk, nil
	}
	return p.active.FrameInboundPayload(chunk)
}

// inboundComplete flushes the active extension's trailing state at the end
// of a claimed frame (FIN=1) and clears it.
func (p *extensionPipeline) inboundComplete() ([]byte, error) {
	if p.active == nil {
		return nil, nil
	}
	ext := p.active
	p.active = nil
	return ext.FrameInboundComplete()
}

// outbound runs every extension's outbound transform in reverse
// registration order, matching spec.md's "outbound runs last-to-first".
// It returns the final payload and the RSV bits the first frame of the
// outgoing message must carry.
func (p *extensionPipeline) outbound(payload []byte) (out []byte, rsv1, rsv2, rsv3 bool, err error) {
	out = payload
	for i := len(p.extensions) - 1; i >= 0; i-- {
		ext := p.extensions[i]
		var r1, r2, r3 bool
		out, r1, r2, r3, err = ext.FrameOutbound(out)
		if err != nil {
			return nil, false, false, false, err
		}
		rsv1 = rsv1 || r1
		rsv2 = rsv2 || r2
		rsv3 = rsv3 || r3
	}
	return out, rsv1, rsv2, rsv3, nil
}
