package ws

import "time"

// Handlers is the per-connection callback contract spec §4.8 exposes to
// user code: OnOpen once the handshake completes, OnMessage for each
// reassembled application message (there is no per-fragment streaming
// mode; fragments are always joined before delivery),
// OnPing/OnPong for control frames the engine doesn't fully absorb
// itself, OnClose when either side initiates the closing handshake, and
// OnError for any fatal read/write failure. Grounded on conn.go's
// existing SetPingHandler/SetPongHandler callback slots (shockwave/pkg/
// shockwave/websocket/conn.go), generalized into one struct covering the
// whole contract rather than two setters, since Serve needs all six
// hooks wired before the read loop starts.
type Handlers struct {
	OnOpen    func(c *Conn)
	OnMessage func(c *Conn, payload []byte, isBinary bool)
	OnPing    func(c *Conn, payload []byte)
	OnPong    func(c *Conn, payload []byte)
	OnClose   func(c *Conn, code uint16, reason string)
	OnError   func(c *Conn, err error)

	// IdleTimeout is the spec §4.8 "idle timeout issues a ping; no pong
	// within deadline -> close with 1001" policy. Zero disables it.
	IdleTimeout time.Duration
}

// Serve drives c's read loop until the connection closes, invoking h's
// callbacks as frames and messages arrive. It auto-replies to Ping with
// Pong (RFC 6455 §5.5.2) before calling h.OnPing, and issues its own
// idle-timeout ping per spec §4.8 when h.IdleTimeout is set. Serve
// returns once the connection is closed, by either peer or by the idle
// watchdog.
func (h Handlers) Serve(c *Conn) {
	if h.OnOpen != nil {
		h.OnOpen(c)
	}

	gotPong := make(chan struct{}, 1)
	c.SetPongHandler(func(payload []byte) error {
		select {
		case gotPong <- struct{}{}:
		default:
		}
		if h.OnPong != nil {
			h.OnPong(c, payload)
		}
		return nil
	})
	c.SetPingHandler(func(payload []byte) error {
		if err := c.writeControl(OpcodePong, payload); err != nil {
			return err
		}
		if h.OnPing != nil {
			h.OnPing(c, payload)
		}
		return nil
	})

	stop := make(chan struct{})
	defer close(stop)
	if h.IdleTimeout > 0 {
		go h.watchIdle(c, gotPong, stop)
	}

	for {
		msgType, payload, err := c.ReadMessage()
		if err != nil {
			code, reason := closeCodeFromErr(err)
			if h.OnError != nil && err != errClosedByPeer {
				h.OnError(c, err)
			}
			if h.OnClose != nil {
				h.OnClose(c, code, reason)
			}
			_ = c.Close(code, reason)
			return
		}
		if h.OnMessage != nil {
			h.OnMessage(c, payload, msgType == BinaryMessage)
		}
	}
}

// watchIdle pings c every IdleTimeout/2 and closes with 1001 if no pong
// arrives within a full IdleTimeout window, per spec §4.8.
func (h Handlers) watchIdle(c *Conn, gotPong <-chan struct{}, stop <-chan struct{}) {
	ticker := time.NewTicker(h.IdleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.Ping(nil); err != nil {
				return
			}
			select {
			case <-gotPong:
			case <-time.After(h.IdleTimeout):
				_ = c.Close(CloseGoingAway, "idle timeout")
				return
			case <-stop:
				return
			}
		}
	}
}

func closeCodeFromErr(err error) (uint16, string) {
	if err == errClosedByPeer {
		return CloseNormal, ""
	}
	switch err {
	case ErrMessageTooLarge:
		return CloseMessageTooBig, "message too large"
	case ErrProtocolViolation, ErrMaskRequired, ErrMaskNotAllowed:
		return CloseProtocolError, "protocol violation"
	default:
		return CloseInternalError, "internal error"
	}
}
