//go:build !linux

package conn

import (
	"net"
	"time"
)

// tuneSocket is a no-op outside Linux: the SO_REUSEPORT/TCP_USER_TIMEOUT
// option set in socket_linux.go has no portable equivalent, and the
// platforms this builds on for development (darwin, windows) don't need
// it for correctness.
func tuneSocket(c net.Conn, keepAlive time.Duration) {}

// listenConfig returns the zero-value ListenConfig outside Linux: no
// SO_REUSEPORT, one process binds the listen address.
func listenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
