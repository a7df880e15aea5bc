package tlsstream

import (
	"net"
	"testing"
)

func TestPlainListenerAcceptsStream(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	wrapped := NewPlainListener(ln)

	done := make(chan error, 1)
	go func() {
		_, err := net.Dial("tcp", ln.Addr().String())
		done <- err
	}()

	s, err := wrapped.Accept()
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	defer s.Close()

	if err := <-done; err != nil {
		t.Fatalf("Dial: %v", err)
	}
}

func TestHandshakeIsNoOpForPlaintext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	go func() {
		c, err := net.Dial("tcp", ln.Addr().String())
		if err == nil {
			c.Close()
		}
	}()

	conn, err := ln.Accept()
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	defer conn.Close()

	if err := Handshake(conn, 0); err != nil {
		t.Fatalf("expected no-op handshake for plaintext Stream, got %v", err)
	}
}
