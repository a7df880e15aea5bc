//go:build linux

package conn

import (
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// tuneSocket applies Linux-specific socket options to a freshly accepted
// TCP connection: TCP_NODELAY (HTTP/1.1 responses are latency-sensitive,
// not throughput-bound, so Nagle's algorithm only hurts), a bounded
// TCP_USER_TIMEOUT so a dead peer is reclaimed without waiting on the
// application-level idle timeout, and periodic keepalive probes.
//
// Grounded on shockwave/pkg/shockwave/socket/tuning_linux.go's
// per-connection option set, translated from that file's raw syscall
// calls to golang.org/x/sys/unix so the same option set works across the
// kernel ABI differences x/sys/unix already normalizes.
func tuneSocket(c net.Conn, keepAlive time.Duration) {
	tc, ok := c.(*net.TCPConn)
	if !ok {
		return
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		return
	}
	_ = raw.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, 10000)
		if keepAlive > 0 {
			idleSecs := int(keepAlive / time.Second)
			if idleSecs < 1 {
				idleSecs = 1
			}
			_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, idleSecs)
			_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, 10)
			_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPCNT, 3)
		}
	})
}

// listenConfig returns a net.ListenConfig with SO_REUSEPORT set on the
// listening socket, so multiple server processes (one per core, spec §6
// worker_threads) can bind the same address and let the kernel load
// balance accepted connections across them.
func listenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
}
