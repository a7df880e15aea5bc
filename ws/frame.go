package ws

import (
	"encoding/binary"
	"io"
)

// FrameReader parses WebSocket frames off an io.Reader, reusing its
// payload buffer across calls. Grounded near-verbatim on
// shockwave/pkg/shockwave/websocket/frame.go — already a faithful,
// idiomatic RFC 6455 parser — with the teacher's external sized
// BufferPool indirection dropped in favor of a single grow-as-needed
// buffer owned by the reader itself.
type FrameReader struct {
	r          io.Reader
	headerBuf  [MaxFrameHeaderSize]byte
	payloadBuf []byte
}

// NewFrameReader wraps r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r, payloadBuf: make([]byte, 0, 4096)}
}

// ReadFrame reads and validates the next frame. The returned Frame's
// Payload aliases the reader's internal buffer and is only valid until
// the next ReadFrame call.
func (fr *FrameReader) ReadFrame() (*Frame, error) {
	if _, err := io.ReadFull(fr.r, fr.headerBuf[:2]); err != nil {
		return nil, err
	}

	frame := &Frame{}
	b0 := fr.headerBuf[0]
	frame.Fin = b0&finalBit != 0
	frame.RSV1 = b0&rsv1Bit != 0
	frame.RSV2 = b0&rsv2Bit != 0
	frame.RSV3 = b0&rsv3Bit != 0
	frame.Opcode = Opcode(b0 & opcodeMask)

	b1 := fr.headerBuf[1]
	frame.Masked = b1&maskBit != 0
	payloadLen := uint64(b1 & lengthMask)

	if frame.Opcode > 0xA || (frame.Opcode > 0x2 && frame.Opcode < 0x8) {
		return nil, ErrInvalidOpcode
	}
	if frame.IsControl() {
		if !frame.Fin {
			return nil, ErrFragmentedControl
		}
		if payloadLen > MaxControlFramePayload {
			return nil, ErrInvalidControlFrame
		}
	}
	if frame.RSV1 || frame.RSV2 || frame.RSV3 {
		return nil, ErrReservedBitsSet
	}

	headerSize := 2
	switch payloadLen {
	case 126:
		if _, err := io.ReadFull(fr.r, fr.headerBuf[2:4]); err != nil {
			return nil, err
		}
		frame.Length = uint64(binary.BigEndian.Uint16(fr.headerBuf[2:4]))
		headerSize = 4
	case 127:
		if _, err := io.ReadFull(fr.r, fr.headerBuf[2:10]); err != nil {
			return nil, err
		}
		frame.Length = binary.BigEndian.Uint64(fr.headerBuf[2:10])
		headerSize = 10
		if frame.Length&(1<<63) != 0 {
			return nil, ErrFrameTooLarge
		}
	default:
		frame.Length = payloadLen
	}

	if frame.Masked {
		if _, err := io.ReadFull(fr.r, fr.headerBuf[headerSize:headerSize+4]); err != nil {
			return nil, err
		}
		copy(frame.MaskKey[:], fr.headerBuf[headerSize:headerSize+4])
	}

	if frame.Length > 0 {
		if uint64(cap(fr.payloadBuf)) < frame.Length {
			fr.payloadBuf = make([]byte, frame.Length)
		} else {
			fr.payloadBuf = fr.payloadBuf[:frame.Length]
		}
		if _, err := io.ReadFull(fr.r, fr.payloadBuf); err != nil {
			return nil, err
		}
		if frame.Masked {
			maskBytes(fr.payloadBuf, frame.MaskKey)
		}
		frame.Payload = fr.payloadBuf
	}

	return frame, nil
}

// FrameWriter serializes WebSocket frames onto an io.Writer.
type FrameWriter struct {
	w         io.Writer
	headerBuf [MaxFrameHeaderSize]byte
}

// NewFrameWriter wraps w.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame writes one frame. If maskKey is non-nil the payload is
// masked in place (client->server framing); servers pass nil.
func (fw *FrameWriter) WriteFrame(opcode Opcode, fin bool, payload []byte, maskKey *[4]byte) error {
	b0 := byte(opcode)
	if fin {
		b0 |= finalBit
	}
	fw.headerBuf[0] = b0

	payloadLen := uint64(len(payload))
	headerSize := 2
	b1 := byte(0)
	if maskKey != nil {
		b1 |= maskBit
	}

	switch {
	case payloadLen <= 125:
		fw.headerBuf[1] = b1 | byte(payloadLen)
	case payloadLen <= 0xFFFF:
		fw.headerBuf[1] = b1 | 126
		binary.BigEndian.PutUint16(fw.headerBuf[2:4], uint16(payloadLen))
		headerSize = 4
	default:
		fw.headerBuf[1] = b1 | 127
		binary.BigEndian.PutUint64(fw.headerBuf[2:10], payloadLen)
		headerSize = 10
	}

	if maskKey != nil {
		copy(fw.headerBuf[headerSize:headerSize+4], maskKey[:])
		headerSize += 4
	}

	if _, err := fw.w.Write(fw.headerBuf[:headerSize]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if maskKey != nil {
			maskBytes(payload, *maskKey)
		}
		if _, err := fw.w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// WriteControlFrame writes a Close/Ping/Pong frame.
func (fw *FrameWriter) WriteControlFrame(opcode Opcode, payload []byte, maskKey *[4]byte) error {
	if len(payload) > MaxControlFramePayload {
		return ErrInvalidControlFrame
	}
	if opcode != OpcodeClose && opcode != OpcodePing && opcode != OpcodePong {
		return ErrInvalidOpcode
	}
	return fw.WriteFrame(opcode, true, payload, maskKey)
}

// WriteTextFrame writes a single-frame text message.
func (fw *FrameWriter) WriteTextFrame(data []byte, maskKey *[4]byte) error {
	return fw.WriteFrame(OpcodeText, true, data, maskKey)
}

// WriteBinaryFrame writes a single-frame binary message.
func (fw *FrameWriter) WriteBinaryFrame(data []byte, maskKey *[4]byte) error {
	return fw.WriteFrame(OpcodeBinary, true, data, maskKey)
}

// WritePing writes a Ping control frame.
func (fw *FrameWriter) WritePing(payload []byte, maskKey *[4]byte) error {
	return fw.WriteControlFrame(OpcodePing, payload, maskKey)
}

// WritePong writes a Pong control frame.
func (fw *FrameWriter) WritePong(payload []byte, maskKey *[4]byte) error {
	return fw.WriteControlFrame(OpcodePong, payload, maskKey)
}

// WriteClose writes a Close control frame with a status code and reason.
func (fw *FrameWriter) WriteClose(code uint16, reason string, maskKey *[4]byte) error {
	var payload []byte
	if code != 0 {
		payload = make([]byte, 2+len(reason))
		binary.BigEndian.PutUint16(payload, code)
		copy(payload[2:], reason)
	}
	return fw.WriteControlFrame(OpcodeClose, payload, maskKey)
}
