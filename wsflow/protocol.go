package wsflow

import (
	"encoding/binary"
	"fmt"
)

// frameProtocol turns decoded wire frames into Event values: it tracks the
// in-progress fragmented message's opcode, rejects illegal interleaving,
// enforces MaxMessageSize, drives UTF-8 validation, and runs the extension
// pipeline.
//
// Grounded on coregx-stream/websocket/conn.go's Read, which interleaves
// control-frame handling with fragment reassembly in one blocking loop;
// this type is the same logic reshaped to yield events instead of
// returning a completed message.
type frameProtocol struct {
	decoder    *frameDecoder
	extensions *extensionPipeline

	maxMessageSize uint64

	// fragmented message state
	inMessage     bool
	messageOpcode byte
	messageSize   uint64
	utf8          utf8Validator

	// midFrame is true while the chunks of one data frame are still
	// arriving (the last chunk handed out had frameFinished=false).
	midFrame bool

	closed bool
}

func newFrameProtocol(isServer bool, maxFrameSize, maxMessageSize uint64, extensions []*Extension) *frameProtocol {
	return &frameProtocol{
		decoder:        newFrameDecoder(isServer, maxFrameSize),
		extensions:     newExtensionPipeline(extensions),
		maxMessageSize: maxMessageSize,
	}
}

func (p *frameProtocol) receiveBytes(data []byte) {
	p.decoder.receiveBytes(data)
}

// next returns the next application event derived from buffered frame
// data, or (nil, nil) if no event can yet be produced.
func (p *frameProtocol) next() (Event, error) {
	if p.closed {
		return nil, nil
	}

	df, err := p.decoder.next()
	if err != nil {
		p.closed = true
		return nil, err
	}
	if df == nil {
		return nil, nil
	}

	if isControlFrame(df.opcode) {
		return p.handleControl(df)
	}
	return p.handleData(df)
}

func (p *frameProtocol) handleControl(df *decodedFrame) (Event, error) {
	if df.rsv1 || df.rsv2 || df.rsv3 {
		p.closed = true
		return nil, newRemoteError(ErrReservedBits, CloseProtocolError, "")
	}

	switch df.opcode {
	case opcodeClose:
		return p.handleClose(df.payload)
	case opcodePing:
		return Ping{Payload: df.payload}, nil
	case opcodePong:
		return Pong{Payload: df.payload}, nil
	default:
		p.closed = true
		return nil, newRemoteError(ErrInvalidOpcode, CloseProtocolError, "")
	}
}

func (p *frameProtocol) handleClose(payload []byte) (Event, error) {
	p.closed = true
	if len(payload) == 0 {
		return CloseConnection{Code: CloseNoStatusReceived}, nil
	}
	if len(payload) == 1 {
		return nil, newRemoteError(ErrInvalidCloseCode, CloseProtocolError, "")
	}

	code := binary.BigEndian.Uint16(payload[:2])
	if !validReceiveCloseCode(code) {
		return nil, newRemoteError(ErrInvalidCloseCode, CloseProtocolError, "")
	}

	reason := payload[2:]
	var v utf8Validator
	if !v.write(reason) || !v.complete() {
		return nil, newRemoteError(ErrInvalidUTF8, CloseInvalidFramePayloadData, "")
	}

	return CloseConnection{Code: CloseCode(code), Reason: string(reason)}, nil
}

func (p *frameProtocol) handleData(df *decodedFrame) (Event, error) {
	if p.midFrame {
		// A later chunk of a frame whose header was already checked.
	} else if df.opcode == opcodeContinuation {
		if !p.inMessage {
			p.closed = true
			return nil, newRemoteError(ErrUnexpectedContinuation, CloseProtocolError, "")
		}
		if df.rsv1 || df.rsv2 || df.rsv3 {
			p.closed = true
			return nil, newRemoteError(ErrReservedBits, CloseProtocolError, "")
		}
	} else {
		if p.inMessage {
			p.closed = true
			return nil, newRemoteError(ErrDataFrameInterleaved, CloseProtocolError, "")
		}
		if df.rsv1 || df.rsv2 || df.rsv3 {
			if p.extensions.inboundHeader(df.fin, df.rsv1, df.rsv2, df.rsv3) == nil {
				p.closed = true
				return nil, newRemoteError(ErrReservedBits, CloseProtocolError, "")
			}
		}
		p.inMessage = true
		p.messageOpcode = df.opcode
		p.messageSize = 0
		p.utf8 = utf8Validator{}
	}
	p.midFrame = !df.frameFinished
	finished := df.fin && df.frameFinished

	payload, err := p.extensions.inboundPayload(df.payload)
	if err != nil {
		p.closed = true
		return nil, newRemoteError(fmt.Errorf("%w", err), CloseInvalidFramePayloadData, "")
	}

	var trailing []byte
	if finished {
		trailing, err = p.extensions.inboundComplete()
		if err != nil {
			p.closed = true
			return nil, newRemoteError(fmt.Errorf("%w", err), CloseInvalidFramePayloadData, "")
		}
	}
	payload = append(payload, trailing...)

	p.messageSize += uint64(len(payload))
	if p.maxMessageSize > 0 && p.messageSize > p.maxMessageSize {
		p.closed = true
		return nil, newRemoteError(ErrMessageTooLarge, CloseMessageTooBig, "")
	}

	opcode := p.messageOpcode

	if opcode == opcodeText {
		if !p.utf8.write(payload) || (finished && !p.utf8.complete()) {
			p.closed = true
			return nil, newRemoteError(ErrInvalidUTF8, CloseInvalidFramePayloadData, "")
		}
	}

	if finished {
		p.inMessage = false
	}

	if opcode == opcodeText {
		return TextMessage{Data: string(payload), FrameFinished: df.frameFinished, MessageFinished: finished}, nil
	}
	return BytesMessage{Data: payload, FrameFinished: df.frameFinished, MessageFinished: finished}, nil
}
