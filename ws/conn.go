package ws

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"time"
)

// MessageType distinguishes a complete assembled WebSocket message.
type MessageType int

const (
	TextMessage   MessageType = MessageType(OpcodeText)
	BinaryMessage MessageType = MessageType(OpcodeBinary)
)

const defaultMaxMessageSize = 32 << 20 // 32MiB, spec §4.8

// Conn is one upgraded WebSocket connection: frame I/O plus fragmented-
// message reassembly, automatic ping/pong, and an idle-ping-then-close
// policy. Grounded on shockwave/pkg/shockwave/websocket/conn.go.
type Conn struct {
	conn        net.Conn
	br          *bufio.Reader
	bw          *bufio.Writer
	isServer    bool
	subprotocol string

	fr *FrameReader
	fw *FrameWriter

	writeMu sync.Mutex
	readMu  sync.Mutex

	readMessage     []byte
	readMessageType MessageType

	pingHandler func(payload []byte) error
	pongHandler func(payload []byte) error

	maxMessageSize int64

	closeOnce sync.Once
	closeErr  error
}

func newConn(netConn net.Conn, isServer bool, readBufSize, writeBufSize int, subprotocol string) *Conn {
	br := bufio.NewReaderSize(netConn, readBufSize)
	bw := bufio.NewWriterSize(netConn, writeBufSize)
	c := &Conn{
		conn:           netConn,
		br:             br,
		bw:             bw,
		isServer:       isServer,
		subprotocol:    subprotocol,
		fr:             NewFrameReader(br),
		fw:             NewFrameWriter(bw),
		maxMessageSize: defaultMaxMessageSize,
	}
	c.pingHandler = func(payload []byte) error { return c.writeControl(OpcodePong, payload) }
	c.pongHandler = func(payload []byte) error { return nil }
	return c
}

// Subprotocol returns the negotiated subprotocol, or "".
func (c *Conn) Subprotocol() string { return c.subprotocol }

// SetMaxMessageSize bounds assembled-message size (spec §4.8); exceeding
// it closes the connection with CloseMessageTooBig.
func (c *Conn) SetMaxMessageSize(n int64) { c.maxMessageSize = n }

// SetPingHandler overrides the default auto-pong-on-ping behavior.
func (c *Conn) SetPingHandler(h func(payload []byte) error) { c.pingHandler = h }

// SetPongHandler sets the callback invoked when a pong is received.
func (c *Conn) SetPongHandler(h func(payload []byte) error) { c.pongHandler = h }

// ReadMessage reads and reassembles the next complete application
// message, transparently handling Ping/Pong/Close control frames
// interleaved between fragments.
func (c *Conn) ReadMessage() (MessageType, []byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	c.readMessage = c.readMessage[:0]
	var msgType MessageType
	started := false

	for {
		frame, err := c.fr.ReadFrame()
		if err != nil {
			return 0, nil, err
		}

		if c.isServer && !frame.Masked {
			return 0, nil, ErrMaskRequired
		}
		if !c.isServer && frame.Masked {
			return 0, nil, ErrMaskNotAllowed
		}

		if frame.IsControl() {
			if err := c.handleControlFrame(frame); err != nil {
				return 0, nil, err
			}
			if frame.Opcode == OpcodeClose {
				return 0, nil, errClosedByPeer
			}
			continue
		}

		if !started {
			if frame.Opcode == OpcodeContinuation {
				return 0, nil, ErrProtocolViolation
			}
			msgType = MessageType(frame.Opcode)
			started = true
		} else if frame.Opcode != OpcodeContinuation {
			return 0, nil, ErrProtocolViolation
		}

		c.readMessage = append(c.readMessage, frame.Payload...)
		if c.maxMessageSize > 0 && int64(len(c.readMessage)) > c.maxMessageSize {
			return 0, nil, ErrMessageTooLarge
		}

		if frame.Fin {
			return msgType, c.readMessage, nil
		}
	}
}

var errClosedByPeer = errors.New("ws: connection closed by peer")

func (c *Conn) handleControlFrame(frame *Frame) error {
	switch frame.Opcode {
	case OpcodePing:
		return c.pingHandler(frame.Payload)
	case OpcodePong:
		return c.pongHandler(frame.Payload)
	case OpcodeClose:
		return nil
	}
	return ErrInvalidOpcode
}

// WriteMessage writes a complete, unfragmented message.
func (c *Conn) WriteMessage(msgType MessageType, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.fw.WriteFrame(Opcode(msgType), true, data, c.clientMaskKey()); err != nil {
		return err
	}
	return c.bw.Flush()
}

func (c *Conn) writeControl(opcode Opcode, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.fw.WriteControlFrame(opcode, payload, c.clientMaskKey()); err != nil {
		return err
	}
	return c.bw.Flush()
}

// Ping sends a Ping control frame.
func (c *Conn) Ping(payload []byte) error { return c.writeControl(OpcodePing, payload) }

// clientMaskKey returns nil for a server connection (server frames are
// never masked per RFC 6455 §5.1); a real client implementation would
// generate a random key here.
func (c *Conn) clientMaskKey() *[4]byte {
	if c.isServer {
		return nil
	}
	var key [4]byte
	return &key
}

// Close sends a Close control frame (idempotent) and closes the
// underlying connection.
func (c *Conn) Close(code uint16, reason string) error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.fw.WriteClose(code, reason, c.clientMaskKey())
		_ = c.bw.Flush()
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// SetReadDeadline forwards to the underlying net.Conn. The idle watchdog
// in Handlers.Serve does not use it.
func (c *Conn) SetReadDeadline(t time.Time) error { return c.conn.SetReadDeadline(t) }

// RemoteAddr returns the underlying connection's remote address.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }
