// Package tlsstream abstracts the transport a connection runs over —
// plaintext TCP or TLS — behind one capability interface, so the
// connection state machine never branches on whether TLS is in play
// (spec §6: TLS is a Stream capability, with no handler-visible
// inheritance).
package tlsstream

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// Stream is the minimal capability a connection needs from its
// transport: byte I/O, deadlines, and addresses. Both net.Conn and
// *tls.Conn already satisfy it; it exists as its own name so callers
// depend on the capability, not on net.Conn directly.
//
// Grounded on shockwave/pkg/shockwave/tls/config.go's pure-stdlib
// crypto/tls wrapping — the teacher's own ACME client (acme.go) is
// hand-rolled stdlib crypto/*, so ampere's TLS stream follows suit; no
// third-party TLS library exists anywhere in the pack.
type Stream interface {
	net.Conn
}

// Listener accepts Streams. A plain net.Listener already returns
// net.Conn values that satisfy Stream; tls.Listener does too.
type Listener interface {
	Accept() (Stream, error)
	Close() error
	Addr() net.Addr
}

type plainListener struct {
	net.Listener
}

func (p plainListener) Accept() (Stream, error) {
	return p.Listener.Accept()
}

// NewPlainListener wraps a net.Listener as a Listener of plaintext
// Streams.
func NewPlainListener(l net.Listener) Listener {
	return plainListener{l}
}

type tlsListener struct {
	net.Listener
}

func (t tlsListener) Accept() (Stream, error) {
	return t.Listener.Accept()
}

// NewTLSListener wraps inner with crypto/tls using config, producing TLS
// Streams on Accept.
func NewTLSListener(inner net.Listener, config *tls.Config) Listener {
	return tlsListener{tls.NewListener(inner, config)}
}

// DefaultHandshakeTimeout bounds how long a TLS handshake may take before the
// connection is abandoned (spec §6).
const DefaultHandshakeTimeout = 10 * time.Second

// Handshake runs the TLS handshake on s if it is a *tls.Conn, bounded by
// timeout. A plaintext Stream is a no-op.
func Handshake(s Stream, timeout time.Duration) error {
	tc, ok := s.(*tls.Conn)
	if !ok {
		return nil
	}
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	_ = tc.SetDeadline(time.Now().Add(timeout))
	defer tc.SetDeadline(time.Time{})
	return tc.HandshakeContext(context.Background())
}
