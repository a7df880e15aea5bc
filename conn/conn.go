// Package conn implements the connection state machine (spec §4.3): the
// per-connection lifecycle IDLE -> READING -> DISPATCHING -> WRITING ->
// (IDLE|CLOSING) that parses wire bytes, dispatches to the router, and
// enforces keep-alive, back-pressure and timeout policy. It is the core
// this specification exists to describe; every other package (httpwire,
// router, aspect, cache, session, upload, ws) is a leaf collaborator
// this package wires together at request granularity.
//
// Grounded on shockwave/pkg/shockwave/http11/connection.go's lock-free
// atomic state field and keep-alive loop, generalized from its four
// states (New/Active/Idle/Closed) to the five spec §4.3 names so a
// streamed-body dispatch and a WebSocket upgrade each have their own
// exit point from the HTTP request/response cycle.
package conn

import (
	"bufio"
	"errors"
	"io"
	"log"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/wattframework/ampere/cache"
	"github.com/wattframework/ampere/httpwire"
	"github.com/wattframework/ampere/metrics"
	"github.com/wattframework/ampere/router"
	"github.com/wattframework/ampere/tlsstream"
	"github.com/wattframework/ampere/ws"
)

var headerAcceptEncodingBytes = []byte("Accept-Encoding")

// State is one of the five connection lifecycle states spec §4.3 names.
type State int32

const (
	StateIdle State = iota
	StateReading
	StateDispatching
	StateWriting
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReading:
		return "reading"
	case StateDispatching:
		return "dispatching"
	case StateWriting:
		return "writing"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// WSUpgradeHandler resolves a would-be WebSocket upgrade request to an
// Upgrader and the Handlers that should drive the resulting Conn. A nil
// return from the resolver means "this path doesn't serve WebSocket";
// the connection falls back to ordinary HTTP dispatch (a 404, typically,
// since a route wouldn't otherwise have matched a bare GET).
type WSUpgradeHandler func(req *httpwire.Request) (*ws.Upgrader, ws.Handlers, bool)

// Config configures a Connection's timeouts, limits and back-pressure
// watermarks (spec §4.3, §6). Zero values are replaced by DefaultConfig.
type Config struct {
	IdleTimeout   time.Duration // default 30s, spec §5
	HeaderTimeout time.Duration // default 10s, spec §5
	WriteTimeout  time.Duration // default 30s, spec §5
	MaxBodyBytes  int64         // default 3MiB; recorded only, request bodies are streamed to the handler without a check against it
	HighWaterMark int           // default 1MiB, spec §4.3
	LowWaterMark  int           // default 256KiB, spec §4.3
	ReadBufSize   int           // default 4096
	WriteBufSize  int           // default 4096

	// ResolveWS, if set, is consulted for every GET request carrying
	// Upgrade: websocket headers before the router is asked to resolve
	// an ordinary route (spec §4.8).
	ResolveWS WSUpgradeHandler

	Logger *log.Logger

	// Metrics, if set, receives a connection-opened/closed count and a
	// per-request status/latency observation. Nil means no metrics.
	Metrics *metrics.Metrics

	// Cache, if set, is consulted by dispatchOne for any route whose
	// router.RouteCache opts in (spec §4.5/§9). Nil disables response
	// caching regardless of per-route configuration.
	Cache *cache.Cache
}

// DefaultConfig returns the spec §5/§6 default timeouts and watermarks.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:   30 * time.Second,
		HeaderTimeout: 10 * time.Second,
		WriteTimeout:  30 * time.Second,
		MaxBodyBytes:  httpwire.DefaultMaxBodyBytes,
		HighWaterMark: 1 << 20,
		LowWaterMark:  256 << 10,
		ReadBufSize:   4096,
		WriteBufSize:  4096,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.HeaderTimeout <= 0 {
		c.HeaderTimeout = d.HeaderTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
	if c.HighWaterMark <= 0 {
		c.HighWaterMark = d.HighWaterMark
	}
	if c.LowWaterMark <= 0 {
		c.LowWaterMark = d.LowWaterMark
	}
	if c.ReadBufSize <= 0 {
		c.ReadBufSize = d.ReadBufSize
	}
	if c.WriteBufSize <= 0 {
		c.WriteBufSize = d.WriteBufSize
	}
	return c
}

// Connection is one accepted stream's HTTP/1.1 lifecycle: at most one
// request and one response live at a time (spec §3 "Connection"
// invariant), requests are strictly serialized, and pipelined input is
// buffered by the OS/bufio.Reader until the current response is fully
// flushed (spec §4.3: "pipelining tolerated on input but not on
// output").
type Connection struct {
	stream tlsstream.Stream
	br     *bufio.Reader
	bw     *bufio.Writer
	parser *httpwire.Parser
	router *router.Router
	config Config
	queue  *writeQueue
	logger *log.Logger

	state   atomic.Int32
	closed  atomic.Bool
	closeCh chan struct{}
}

// New constructs a Connection over stream, dispatching matched routes
// through rt.
func New(stream tlsstream.Stream, rt *router.Router, config Config) *Connection {
	config = config.withDefaults()
	tuneSocket(stream, config.IdleTimeout)
	br := bufio.NewReaderSize(stream, config.ReadBufSize)
	bw := bufio.NewWriterSize(stream, config.WriteBufSize)
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}
	c := &Connection{
		stream:  stream,
		br:      br,
		bw:      bw,
		parser:  httpwire.NewParser(br),
		router:  rt,
		config:  config,
		queue:   newWriteQueue(config.HighWaterMark, config.LowWaterMark),
		logger:  logger,
		closeCh: make(chan struct{}),
	}
	c.state.Store(int32(StateIdle))
	if config.Metrics != nil {
		config.Metrics.ConnectionOpened()
	}
	return c
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State { return State(c.state.Load()) }

func (c *Connection) setState(s State) { c.state.Store(int32(s)) }

// RemoteAddr returns the underlying stream's remote address.
func (c *Connection) RemoteAddr() net.Addr { return c.stream.RemoteAddr() }

// Close transitions the connection to CLOSING and closes the underlying
// stream. Safe to call more than once and from another goroutine (spec
// §5 "cancellation": an external Shutdown forces CLOSING).
func (c *Connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.setState(StateClosing)
	close(c.closeCh)
	return c.stream.Close()
}

// Serve runs the connection's request/response loop until the peer
// closes, a protocol or I/O error occurs, a timeout fires, or Close is
// called. It never returns an error: all failures are local to this
// connection (spec §7 "propagation policy") and are resolved to either
// a best-effort error response or a silent close.
func (c *Connection) Serve() {
	defer c.cleanup()

	for {
		if c.closed.Load() {
			return
		}
		c.setState(StateIdle)

		if err := c.stream.SetReadDeadline(time.Now().Add(c.config.IdleTimeout)); err != nil {
			return
		}

		c.setState(StateReading)

		// spec §4.3: "an idle connection whose deadline expires without
		// bytes received is closed silently; an idle connection with a
		// partial request head receives 408". Peek distinguishes the two:
		// if no byte of a new request has arrived before the idle
		// deadline, we close without a response at all.
		if _, err := c.br.Peek(1); err != nil {
			return
		}

		req := httpwire.GetRequest()

		// Header-read timeout (spec §5): from first byte of the request
		// head to the terminating CRLF CRLF. Parse straddles request-line
		// and headers in one call, so this single deadline covers both.
		_ = c.stream.SetReadDeadline(time.Now().Add(c.config.HeaderTimeout))

		err := c.parser.Parse(req)
		if err != nil {
			if err == io.EOF {
				httpwire.PutRequest(req)
				return
			}
			if isTimeout(err) {
				// spec §4.3: "an idle connection with a partial request
				// head receives 408"; a timeout before any byte at all
				// arrived is a silent close (handled by the io.EOF/initial
				// read-deadline path above on most platforms, and here if
				// the peer trickled in a byte then stalled).
				c.writeErrorResponse(req, 408, false)
				httpwire.PutRequest(req)
				return
			}
			status, closeConn := statusForParseError(err)
			c.writeErrorResponse(req, status, false)
			httpwire.PutRequest(req)
			if closeConn {
				return
			}
			continue
		}

		c.setState(StateDispatching)
		_ = c.stream.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))

		upgraded, closeAfter := c.dispatchOne(req)

		httpwire.PutRequest(req)

		if upgraded {
			// The connection has exited HTTP state into WS state (spec
			// §4.8); ws.Handlers.Serve owns the socket from here and
			// blocks until the WebSocket session ends.
			return
		}
		if closeAfter {
			return
		}
	}
}

// dispatchOne handles one request that Serve has already parsed: WebSocket upgrade check,
// router resolution, handler invocation, response flush. It returns
// whether the connection was handed off to the WebSocket engine and
// whether the HTTP loop should close afterward.
func (c *Connection) dispatchOne(req *httpwire.Request) (upgraded, closeAfter bool) {
	if c.config.ResolveWS != nil && isUpgradeRequest(req) {
		if upgrader, handlers, ok := c.config.ResolveWS(req); ok {
			wsConn, err := upgrader.Upgrade(req, c.stream, c.bw)
			if err != nil {
				c.writeErrorResponse(req, 400, false)
				return false, true
			}
			c.setState(StateWriting)
			handlers.Serve(wsConn)
			return true, false
		}
	}

	// A handler that doesn't fully read the body (a 404, a handler that
	// ignores it, a buffered-body request the handler never touches)
	// would otherwise leave unread bytes in front of the next request
	// line; draining here keeps the wire position correct for the next
	// Parse call on this connection.
	defer drainRequestBody(req)

	start := time.Now()
	keepAlive := req.KeepAlive()
	rw := httpwire.GetResponseWriter(c.bw, req.Method, keepAlive)
	rw.SetWriteGate(c.queue)
	rw.SetAcceptEncoding(req.Header.Get(headerAcceptEncodingBytes))
	ctx := &requestContext{req: req, resp: rw}

	handler, routeCache, routeErr := c.router.LookupWithParams(ctx)
	if routeErr != nil {
		// spec §4.1: OPTIONS on a registered path auto-replies 200 with
		// Allow, unless the handler explicitly registered OPTIONS itself
		// (in which case routeErr would be nil and we wouldn't be here).
		if req.Method == httpwire.MethodOPTIONS {
			if allowed := c.router.AllowedMethods(req.Path); len(allowed) > 0 {
				rw.Header().Set([]byte("Allow"), []byte(allowHeaderValue(allowed)))
				_ = rw.WriteText(200, nil)
				c.finishResponse(rw, req.Method.String(), start)
				return false, !keepAlive
			}
		}
		status, allow, internalErr := statusForRouteError(routeErr)
		if status == 405 {
			rw.Header().Set([]byte("Allow"), []byte(allowHeaderValue(allow)))
		}
		_ = rw.WriteError(status, http11ReasonFallback(status))
		c.finishResponse(rw, req.Method.String(), start)
		return false, internalErr || !keepAlive
	}

	var handlerErr error
	if c.config.Cache != nil && routeCache.Enabled && cacheable(req.Method) {
		handlerErr = c.dispatchCached(rw, ctx, handler, routeCache)
	} else {
		handlerErr = c.invoke(handler, ctx)
	}
	if handlerErr != nil && !rw.Started() {
		// spec §7 HandlerFailure -> 500, close, unless the handler had
		// already started streaming a response (then we can't retract
		// what's on the wire; just close after flushing what's there).
		_ = rw.WriteError(500, "Internal Server Error")
		c.finishResponse(rw, req.Method.String(), start)
		return false, true
	}

	c.finishResponse(rw, req.Method.String(), start)
	if handlerErr != nil {
		return false, true
	}
	return false, c.shouldClose(req, rw)
}

// invoke recovers a panicking handler into a HandlerFailure, matching
// spec §4.4's "a thrown/failing aspect transitions the connection to
// CLOSING with 500" for the terminal handler itself.
func (c *Connection) invoke(h router.Handler, ctx router.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Printf("conn: handler panic: %v", r)
			err = errHandlerPanic
		}
	}()
	return h(ctx)
}

var errHandlerPanic = errors.New("conn: handler panicked")

// dispatchCached serves a cache-enabled route: a hit replays the stored
// entry onto rw, a miss builds it via the handler at most once across
// every concurrent request sharing the same fingerprint (spec §4.5,
// testable property E4), then replays it the same way a hit would.
func (c *Connection) dispatchCached(rw *httpwire.ResponseWriter, ctx *requestContext, handler router.Handler, rc router.RouteCache) error {
	fingerprint := fingerprintFor(ctx.req)
	entry, err := c.config.Cache.GetOrBuild(fingerprint, func() (*cache.Entry, error) {
		return buildCacheEntry(handler, ctx.req, ctx.params, ctx.attrs, rc.TTL)
	})
	if errors.Is(err, errCacheNotCacheable) {
		return c.invoke(handler, ctx)
	}
	if err != nil {
		return err
	}
	return writeCachedEntry(rw, entry)
}

func (c *Connection) finishResponse(rw *httpwire.ResponseWriter, method string, start time.Time) {
	c.setState(StateWriting)
	status := rw.Status()
	if err := rw.Close(); err != nil {
		httpwire.PutResponseWriter(rw)
		return
	}
	if err := c.bw.Flush(); err != nil {
		httpwire.PutResponseWriter(rw)
		return
	}
	if c.config.Metrics != nil {
		c.config.Metrics.ObserveRequest(method, status, time.Since(start))
	}
	httpwire.PutResponseWriter(rw)
}

// shouldClose applies spec §4.3's keep-alive decision: an explicit
// Connection: close on either side, or HTTP/1.0 without an explicit
// keep-alive.
func (c *Connection) shouldClose(req *httpwire.Request, rw *httpwire.ResponseWriter) bool {
	if !req.KeepAlive() {
		return true
	}
	if conn := rw.Header().GetString("Connection"); conn != "" {
		return conn == "close"
	}
	return false
}

func (c *Connection) writeErrorResponse(req *httpwire.Request, status int, keepAlive bool) {
	rw := httpwire.GetResponseWriter(c.bw, req.Method, keepAlive)
	_ = rw.WriteError(status, http11ReasonFallback(status))
	c.finishResponse(rw, req.Method.String(), time.Now())
}

func (c *Connection) cleanup() {
	c.setState(StateClosing)
	_ = c.Close()
	if c.config.Metrics != nil {
		c.config.Metrics.ConnectionClosed()
	}
}

func drainRequestBody(req *httpwire.Request) {
	if req.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, req.Body)
}

func isUpgradeRequest(req *httpwire.Request) bool {
	if req.Method != httpwire.MethodGET {
		return false
	}
	return req.Header.GetString("Sec-WebSocket-Version") != "" &&
		req.Header.GetString("Sec-WebSocket-Key") != ""
}

func http11ReasonFallback(status int) string {
	return "HTTP " + strconv.Itoa(status)
}
