package conn

import (
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/wattframework/ampere/cache"
	"github.com/wattframework/ampere/httpwire"
	"github.com/wattframework/ampere/metrics"
	"github.com/wattframework/ampere/router"
)

// mockStream is a net.Conn over an in-memory request buffer, grounded on
// shockwave/pkg/shockwave/http11/test_helpers_test.go's mockConn: a
// strings.Reader for input, a buffer for captured output, deadlines
// recorded but not enforced.
type mockStream struct {
	mu     sync.Mutex
	r      *strings.Reader
	w      strings.Builder
	closed bool
}

func newMockStream(data string) *mockStream {
	return &mockStream{r: strings.NewReader(data)}
}

func (m *mockStream) Read(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, io.EOF
	}
	return m.r.Read(b)
}

func (m *mockStream) Write(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.w.Write(b)
}

func (m *mockStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockStream) output() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.w.String()
}

func (m *mockStream) LocalAddr() net.Addr  { return &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 8080} }
func (m *mockStream) RemoteAddr() net.Addr { return &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 12345} }
func (m *mockStream) SetDeadline(time.Time) error      { return nil }
func (m *mockStream) SetReadDeadline(time.Time) error  { return nil }
func (m *mockStream) SetWriteDeadline(time.Time) error { return nil }

func testRouter(t *testing.T) *router.Router {
	t.Helper()
	rt := router.New()
	err := rt.Add([]httpwire.Method{httpwire.MethodGET}, "/hello", AsRoute(func(ctx Context) error {
		return ctx.Response().WriteText(200, []byte("hi"))
	}))
	if err != nil {
		t.Fatalf("router.Add: %v", err)
	}
	return rt
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateIdle, "idle"},
		{StateReading, "reading"},
		{StateDispatching, "dispatching"},
		{StateWriting, "writing"},
		{StateClosing, "closing"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	if c.IdleTimeout != 30*time.Second {
		t.Errorf("IdleTimeout = %v, want 30s", c.IdleTimeout)
	}
	if c.HeaderTimeout != 10*time.Second {
		t.Errorf("HeaderTimeout = %v, want 10s", c.HeaderTimeout)
	}
	if c.HighWaterMark != 1<<20 {
		t.Errorf("HighWaterMark = %d, want 1MiB", c.HighWaterMark)
	}
	if c.LowWaterMark != 256<<10 {
		t.Errorf("LowWaterMark = %d, want 256KiB", c.LowWaterMark)
	}
}

func TestConnectionSingleRequestKeepAliveClose(t *testing.T) {
	data := "GET /hello HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n"
	stream := newMockStream(data)
	rt := testRouter(t)

	c := New(stream, rt, Config{})
	if c.State() != StateIdle {
		t.Fatalf("initial state = %v, want idle", c.State())
	}

	c.Serve()

	out := stream.output()
	if !strings.HasPrefix(out, "HTTP/1.1 200") {
		t.Errorf("response = %q, want 200 status line prefix", out)
	}
	if !strings.Contains(out, "hi") {
		t.Errorf("response = %q, want body %q", out, "hi")
	}
	if c.State() != StateClosing {
		t.Errorf("final state = %v, want closing", c.State())
	}
}

func TestConnectionKeepAliveServesNextRequest(t *testing.T) {
	data := "GET /hello HTTP/1.1\r\nHost: example.com\r\n\r\n" +
		"GET /hello HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n"
	stream := newMockStream(data)
	rt := testRouter(t)

	c := New(stream, rt, Config{})
	c.Serve()

	out := stream.output()
	if n := strings.Count(out, "HTTP/1.1 200"); n != 2 {
		t.Errorf("got %d responses on the keep-alive connection, want 2:\n%s", n, out)
	}
}

func TestConnectionNotFound(t *testing.T) {
	data := "GET /nope HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n"
	stream := newMockStream(data)
	rt := testRouter(t)

	c := New(stream, rt, Config{})
	c.Serve()

	out := stream.output()
	if !strings.HasPrefix(out, "HTTP/1.1 404") {
		t.Errorf("response = %q, want 404 status line prefix", out)
	}
}

func TestConnectionMethodNotAllowed(t *testing.T) {
	data := "POST /hello HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n"
	stream := newMockStream(data)
	rt := testRouter(t)

	c := New(stream, rt, Config{})
	c.Serve()

	out := stream.output()
	if !strings.HasPrefix(out, "HTTP/1.1 405") {
		t.Errorf("response = %q, want 405 status line prefix", out)
	}
	if !strings.Contains(out, "Allow:") {
		t.Errorf("response = %q, want an Allow header", out)
	}
}

func TestConnectionAutoOptions(t *testing.T) {
	data := "OPTIONS /hello HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n"
	stream := newMockStream(data)
	rt := testRouter(t)

	c := New(stream, rt, Config{})
	c.Serve()

	out := stream.output()
	if !strings.HasPrefix(out, "HTTP/1.1 200") {
		t.Errorf("response = %q, want 200 status line prefix", out)
	}
	if !strings.Contains(out, "Allow:") {
		t.Errorf("response = %q, want an Allow header", out)
	}
}

func TestConnectionMalformedRequestLine(t *testing.T) {
	data := "NOTAMETHOD\r\n\r\n"
	stream := newMockStream(data)
	rt := testRouter(t)

	c := New(stream, rt, Config{})
	c.Serve()

	out := stream.output()
	if !strings.HasPrefix(out, "HTTP/1.1 4") && !strings.HasPrefix(out, "HTTP/1.1 5") {
		t.Errorf("response = %q, want a 4xx/5xx status line", out)
	}
}

func TestConnectionClientClosesImmediately(t *testing.T) {
	stream := newMockStream("")
	rt := testRouter(t)

	c := New(stream, rt, Config{})
	c.Serve()

	if out := stream.output(); out != "" {
		t.Errorf("response = %q, want no output on an immediate close", out)
	}
	if c.State() != StateClosing {
		t.Errorf("final state = %v, want closing", c.State())
	}
}

func TestWriteQueueBackpressure(t *testing.T) {
	q := newWriteQueue(100, 25)

	q.Reserve(50)
	if q.Paused() {
		t.Fatal("queue paused below high water mark")
	}

	done := make(chan struct{})
	go func() {
		q.Reserve(60) // pushes queued to 110, above high(100): blocks
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("Reserve returned before crossing below the low water mark")
	default:
	}

	q.Release(90) // queued: 110 - 90 = 20, at/below low(25): resumes
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Reserve did not unblock after Release drained below low water mark")
	}
}

func TestConnectionRecordsMetrics(t *testing.T) {
	data := "GET /hello HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n"
	stream := newMockStream(data)
	rt := testRouter(t)
	m := metrics.New()

	c := New(stream, rt, Config{Metrics: m})
	c.Serve()

	if got := testutil.CollectAndCount(m.Registry); got == 0 {
		t.Error("no metrics were registered")
	}
}

func TestConnectionServesFromCache(t *testing.T) {
	rt := router.New()
	var calls atomic.Int64
	err := rt.AddCached([]httpwire.Method{httpwire.MethodGET}, "/cached", AsRoute(func(ctx Context) error {
		calls.Add(1)
		return ctx.Response().WriteText(200, []byte("cached body"))
	}), router.RouteCache{Enabled: true, TTL: time.Minute})
	if err != nil {
		t.Fatalf("router.AddCached: %v", err)
	}

	data := "GET /cached HTTP/1.1\r\nHost: example.com\r\n\r\n" +
		"GET /cached HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n"
	stream := newMockStream(data)

	c := New(stream, rt, Config{Cache: cache.New(cache.DefaultConfig())})
	c.Serve()

	out := stream.output()
	if n := strings.Count(out, "cached body"); n != 2 {
		t.Errorf("got %d cached bodies in output, want 2:\n%s", n, out)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("handler invoked %d times across two requests on the same fingerprint, want 1", got)
	}
}

// TestCacheSharedAcrossConnectionsBuildsOnce exercises spec §4.5's
// testable property E4: concurrent requests to the same cacheable route,
// arriving on independent connections that merely share one *cache.Cache
// (mirroring how server.Server hands every Connection the same cache),
// invoke the handler at most once and all see the built body.
func TestCacheSharedAcrossConnectionsBuildsOnce(t *testing.T) {
	rt := router.New()
	var calls atomic.Int64
	release := make(chan struct{})
	err := rt.AddCached([]httpwire.Method{httpwire.MethodGET}, "/slow", AsRoute(func(ctx Context) error {
		calls.Add(1)
		<-release
		return ctx.Response().WriteText(200, []byte("slow body"))
	}), router.RouteCache{Enabled: true, TTL: time.Minute})
	if err != nil {
		t.Fatalf("router.AddCached: %v", err)
	}

	shared := cache.New(cache.DefaultConfig())
	const n = 5
	var wg sync.WaitGroup
	outputs := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data := "GET /slow HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n"
			stream := newMockStream(data)
			c := New(stream, rt, Config{Cache: shared})
			c.Serve()
			outputs[i] = stream.output()
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, out := range outputs {
		if !strings.Contains(out, "slow body") {
			t.Errorf("connection %d output = %q, want the built body", i, out)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("handler invoked %d times across %d concurrent connections, want 1", got, n)
	}
}

func TestConnectionCloseIsIdempotent(t *testing.T) {
	stream := newMockStream("")
	rt := testRouter(t)
	c := New(stream, rt, Config{})

	if err := c.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
