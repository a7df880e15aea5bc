package ws

import (
	"bufio"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/wattframework/ampere/httpwire"
)

var (
	ErrNotUpgradeRequest  = errors.New("ws: request is not a WebSocket upgrade")
	ErrUnsupportedVersion = errors.New("ws: unsupported Sec-WebSocket-Version")
	ErrOriginRejected     = errors.New("ws: origin rejected")
)

// Upgrader validates and completes a WebSocket handshake.
//
// Grounded on shockwave/pkg/shockwave/websocket/upgrade.go's Upgrader,
// adapted from hijacking a net/http ResponseWriter to upgrading ampere's
// own connection: the caller hands Upgrade the already-parsed
// httpwire.Request plus the raw net.Conn and bufio.Writer the connection
// state machine was using, since ampere does not sit on top of net/http.
type Upgrader struct {
	CheckOrigin   func(origin string) bool
	Subprotocols  []string
	ReadBufSize   int
	WriteBufSize  int
}

// Upgrade validates req as a WebSocket handshake and, on success, writes
// the 101 Switching Protocols response directly to bw and returns a Conn
// wrapping netConn for subsequent frame I/O.
func (u *Upgrader) Upgrade(req *httpwire.Request, netConn net.Conn, bw *bufio.Writer) (*Conn, error) {
	if req.Method != httpwire.MethodGET {
		return nil, ErrNotUpgradeRequest
	}
	if !headerTokenEquals(req.Header.GetString("Connection"), "upgrade") {
		return nil, ErrNotUpgradeRequest
	}
	if !strings.EqualFold(req.Header.GetString("Upgrade"), "websocket") {
		return nil, ErrNotUpgradeRequest
	}
	if req.Header.GetString("Sec-WebSocket-Version") != "13" {
		return nil, ErrUnsupportedVersion
	}
	key := req.Header.GetString("Sec-WebSocket-Key")
	if key == "" {
		return nil, ErrNotUpgradeRequest
	}
	if u.CheckOrigin != nil && !u.CheckOrigin(req.Header.GetString("Origin")) {
		return nil, ErrOriginRejected
	}

	subprotocol := ""
	if len(u.Subprotocols) > 0 {
		requested := splitCommaList(req.Header.GetString("Sec-WebSocket-Protocol"))
		for _, want := range u.Subprotocols {
			for _, got := range requested {
				if want == got {
					subprotocol = want
					break
				}
			}
			if subprotocol != "" {
				break
			}
		}
	}

	accept := ComputeAcceptKey(key)

	var resp strings.Builder
	resp.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	resp.WriteString("Upgrade: websocket\r\n")
	resp.WriteString("Connection: Upgrade\r\n")
	resp.WriteString("Sec-WebSocket-Accept: " + accept + "\r\n")
	if subprotocol != "" {
		resp.WriteString("Sec-WebSocket-Protocol: " + subprotocol + "\r\n")
	}
	resp.WriteString("\r\n")

	if _, err := bw.WriteString(resp.String()); err != nil {
		return nil, err
	}
	if err := bw.Flush(); err != nil {
		return nil, err
	}

	readBufSize := u.ReadBufSize
	if readBufSize <= 0 {
		readBufSize = 4096
	}
	writeBufSize := u.WriteBufSize
	if writeBufSize <= 0 {
		writeBufSize = 4096
	}
	return newConn(netConn, true, readBufSize, writeBufSize, subprotocol), nil
}

// ComputeAcceptKey computes Sec-WebSocket-Accept = base64(SHA1(key + GUID))
// per RFC 6455 §1.3.
func ComputeAcceptKey(key string) string {
	h := sha1.New()
	io.WriteString(h, key)
	io.WriteString(h, handshakeGUID)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func headerTokenEquals(header, token string) bool {
	for _, part := range splitCommaList(header) {
		if strings.EqualFold(part, token) {
			return true
		}
	}
	return false
}

func splitCommaList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
