package server

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wattframework/ampere/httpwire"
	"github.com/wattframework/ampere/router"
	"github.com/wattframework/ampere/tlsstream"
)

func TestStaticServesFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello static"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	rt := router.New()
	if err := rt.Add([]httpwire.Method{httpwire.MethodGET}, "/static/*path", Static(dir, time.Hour, 0)); err != nil {
		t.Fatalf("router.Add: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	cfg := DefaultConfig()
	cfg.WorkerThreads = 2
	s := New(cfg, rt)
	go s.Serve(tlsstream.NewPlainListener(ln))
	t.Cleanup(func() { s.Close() })

	c, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	c.Write([]byte("GET /static/hello.txt HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n"))

	buf := make([]byte, 4096)
	n, err := c.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	out := string(buf[:n])
	if !contains(out, "200") {
		t.Errorf("response = %q, want 200 status", out)
	}
	if !contains(out, "hello static") {
		t.Errorf("response = %q, want file body", out)
	}
}

func TestStaticRejectsPathEscape(t *testing.T) {
	dir := t.TempDir()
	rt := router.New()
	if err := rt.Add([]httpwire.Method{httpwire.MethodGET}, "/static/*path", Static(dir, 0, 0)); err != nil {
		t.Fatalf("router.Add: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	cfg := DefaultConfig()
	s := New(cfg, rt)
	go s.Serve(tlsstream.NewPlainListener(ln))
	t.Cleanup(func() { s.Close() })

	c, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	c.Write([]byte("GET /static/../../../../etc/passwd HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n"))

	buf := make([]byte, 4096)
	n, err := c.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	out := string(buf[:n])
	if contains(out, "200") {
		t.Errorf("response = %q, want a non-200 status for an escaping path", out)
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
