// Package server is the acceptor spec §6 sketches as an external
// collaborator: it owns the listening socket, hands every accepted
// Stream to a conn.Connection, bounds concurrent connection handling to
// worker_threads via an executor.Executor, and drains in-flight
// connections on Shutdown.
//
// Grounded on shockwave/pkg/shockwave/server/server.go's BaseServer
// (connection tracking map, Stats, the wg.Wait()-races-ctx.Done()
// shutdown shape) and bolt/core/app.go's Run() (signal-driven graceful
// shutdown with a bounded grace period).
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/wattframework/ampere/cache"
	"github.com/wattframework/ampere/conn"
	"github.com/wattframework/ampere/executor"
	"github.com/wattframework/ampere/metrics"
	"github.com/wattframework/ampere/router"
	"github.com/wattframework/ampere/session"
	"github.com/wattframework/ampere/tlsstream"
	"github.com/wattframework/ampere/upload"
)

// Config is the top-level, external-facing server configuration (spec
// §6): listen address, TLS material, worker pool size, and every
// per-connection limit and timeout, plus the collaborator configs for
// the cache, session store and upload manager a handler relies on.
type Config struct {
	ListenAddr string // default ":8080"

	// WorkerThreads bounds concurrent connection-handling goroutines,
	// translating spec §5's "fixed-size pool of worker threads" into an
	// executor.Executor slot count. Default: 256.
	WorkerThreads int

	EnableTLS bool
	CertPath  string
	KeyPath   string
	TLSConfig *tls.Config // takes precedence over CertPath/KeyPath if set

	// Conn carries the per-connection timeouts and watermarks (spec §5,
	// §6): IdleTimeout, HeaderTimeout, WriteTimeout, MaxBodyBytes,
	// HighWaterMark, LowWaterMark, ReadBufSize, WriteBufSize.
	Conn conn.Config

	// MaxConcurrentConns bounds total accepted-and-live connections; 0
	// means unlimited. Distinct from WorkerThreads, which bounds
	// concurrent handler work rather than open sockets.
	MaxConcurrentConns int

	// ShutdownGrace bounds how long Shutdown waits for in-flight
	// connections to finish before forcing them closed (spec §6 "exit
	// behavior"). Default: 10s.
	ShutdownGrace time.Duration

	EnableResponseCache  bool
	Cache                cache.Config
	CacheMaxAge          time.Duration // default override applied by handlers opting into caching
	StaticResourceMaxAge time.Duration // default 24h, spec §9 design note on static asset cache headers

	// StaticChunkThreshold is the file size at or above which
	// server.Static streams a file chunked instead of buffering it into
	// one Content-Length response (open question 3, SPEC_FULL.md §14).
	// Default: 5 MiB.
	StaticChunkThreshold int64

	Session session.Config
	Upload  upload.Config

	// ResolveWS, forwarded to every Connection (spec §4.8).
	ResolveWS conn.WSUpgradeHandler

	// Metrics, if nil, New constructs a private metrics.Metrics so every
	// Server always has one to serve at /metrics if the caller chooses
	// to mount Server.Metrics().Handler().
	Metrics *metrics.Metrics

	ErrorLog *log.Logger
}

// DefaultConfig returns the spec §6 server defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:           ":8080",
		WorkerThreads:        256,
		Conn:                 conn.DefaultConfig(),
		ShutdownGrace:        10 * time.Second,
		Cache:                cache.DefaultConfig(),
		CacheMaxAge:          30 * time.Second,
		StaticResourceMaxAge: 24 * time.Hour,
		StaticChunkThreshold: 5 << 20,
		Session:              session.DefaultConfig(),
		Upload:               upload.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ListenAddr == "" {
		c.ListenAddr = d.ListenAddr
	}
	if c.WorkerThreads <= 0 {
		c.WorkerThreads = d.WorkerThreads
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = d.ShutdownGrace
	}
	if c.CacheMaxAge <= 0 {
		c.CacheMaxAge = d.CacheMaxAge
	}
	if c.StaticResourceMaxAge <= 0 {
		c.StaticResourceMaxAge = d.StaticResourceMaxAge
	}
	if c.StaticChunkThreshold <= 0 {
		c.StaticChunkThreshold = d.StaticChunkThreshold
	}
	return c
}

// Stats mirrors shockwave/pkg/shockwave/server.Stats: atomic counters
// safe to read concurrently with Serve.
type Stats struct {
	TotalConnections  atomic.Uint64
	ActiveConnections atomic.Int64
	StartTime         time.Time
}

// Duration returns how long the server has been running.
func (s *Stats) Duration() time.Duration { return time.Since(s.StartTime) }

// Server wires the connection engine to a listening socket (spec §2's
// "acceptor"), the one component the distilled spec left external.
type Server struct {
	config   Config
	router   *router.Router
	cache    *cache.Cache
	sessions *session.Store
	uploads  *upload.Manager
	metrics  *metrics.Metrics
	executor *executor.Executor
	logger   *log.Logger

	listener tlsstream.Listener
	stats    Stats

	mu       sync.Mutex
	conns    map[*conn.Connection]struct{}
	shutdown atomic.Bool
	doneCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Server dispatching matched routes through rt. Zero
// fields of config are replaced by their spec §6 defaults.
func New(config Config, rt *router.Router) *Server {
	config = config.withDefaults()

	logger := config.ErrorLog
	if logger == nil {
		logger = log.Default()
	}
	m := config.Metrics
	if m == nil {
		m = metrics.New()
	}

	s := &Server{
		config:   config,
		router:   rt,
		cache:    cache.New(config.Cache),
		sessions: session.New(config.Session),
		uploads:  upload.New(config.Upload),
		metrics:  m,
		executor: executor.New(config.WorkerThreads),
		logger:   logger,
		conns:    make(map[*conn.Connection]struct{}),
		doneCh:   make(chan struct{}),
	}
	s.stats.StartTime = time.Now()
	return s
}

// Cache returns the server's response cache, for handlers that build
// fingerprint keys and call GetOrBuild directly (spec §4.5).
func (s *Server) Cache() *cache.Cache { return s.cache }

// Sessions returns the server's session store (spec §4.6).
func (s *Server) Sessions() *session.Store { return s.sessions }

// Uploads returns the server's upload manager (spec §4.7).
func (s *Server) Uploads() *upload.Manager { return s.uploads }

// Metrics returns the server's metrics collector.
func (s *Server) Metrics() *metrics.Metrics { return s.metrics }

// Stats returns the server's live connection counters.
func (s *Server) Stats() *Stats { return &s.stats }

// ListenAndServe listens on config.ListenAddr and serves connections
// until Shutdown or Close, dialing up TLS first if config.EnableTLS.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}

	var stream tlsstream.Listener
	if s.config.EnableTLS {
		tlsCfg := s.config.TLSConfig
		if tlsCfg == nil {
			cert, err := tls.LoadX509KeyPair(s.config.CertPath, s.config.KeyPath)
			if err != nil {
				ln.Close()
				return err
			}
			tlsCfg = &tls.Config{Certificates: []tls.Certificate{cert}}
		}
		stream = tlsstream.NewTLSListener(ln, tlsCfg)
	} else {
		stream = tlsstream.NewPlainListener(ln)
	}
	return s.Serve(stream)
}

// Serve accepts Streams from ln until it returns an error (typically
// because Shutdown/Close closed it) and dispatches each to a
// conn.Connection, scheduled through the server's Executor.
func (s *Server) Serve(ln tlsstream.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	connConfig := s.config.Conn
	connConfig.ResolveWS = s.config.ResolveWS
	connConfig.Metrics = s.metrics
	if s.config.EnableResponseCache {
		connConfig.Cache = s.cache
	}
	if connConfig.Logger == nil {
		connConfig.Logger = s.logger
	}

	var connSem chan struct{}
	if s.config.MaxConcurrentConns > 0 {
		connSem = make(chan struct{}, s.config.MaxConcurrentConns)
	}

	for {
		stream, err := ln.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return nil
			}
			return err
		}

		if connSem != nil {
			select {
			case connSem <- struct{}{}:
			default:
				stream.Close()
				continue
			}
		}

		s.stats.TotalConnections.Add(1)
		s.stats.ActiveConnections.Add(1)
		s.wg.Add(1)

		// The TLS handshake runs inside the scheduled goroutine, not the
		// accept loop: handshaking is a round trip with the client, and
		// blocking Accept on it would serialize every new connection
		// behind the slowest in-flight handshake.
		scheduled := s.executor.Schedule(context.Background(), func(context.Context) {
			defer s.wg.Done()
			defer s.stats.ActiveConnections.Add(-1)
			if connSem != nil {
				defer func() { <-connSem }()
			}
			if err := tlsstream.Handshake(stream, tlsstream.DefaultHandshakeTimeout); err != nil {
				stream.Close()
				return
			}
			c := conn.New(stream, s.router, connConfig)
			s.trackConn(c)
			defer s.untrackConn(c)
			c.Serve()
		})
		if !scheduled {
			// Executor is shutting down underneath an in-flight Accept;
			// refuse the connection rather than leak the wg.Add(1).
			s.wg.Done()
			s.stats.ActiveConnections.Add(-1)
			if connSem != nil {
				<-connSem
			}
			stream.Close()
		}
	}
}

func (s *Server) trackConn(c *conn.Connection) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrackConn(c *conn.Connection) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// Shutdown stops accepting new connections and waits for in-flight
// connections to finish, up to config.ShutdownGrace or ctx's own
// deadline, whichever is tighter; connections still open past that
// point are forced closed (spec §6 "exit behavior").
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	close(s.doneCh)

	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		ln.Close()
	}

	grace, cancel := context.WithTimeout(ctx, s.config.ShutdownGrace)
	defer cancel()

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		_ = s.executor.Shutdown(ctx)
		return nil
	case <-grace.Done():
		s.closeAllConns()
		_ = s.executor.Shutdown(ctx)
		return grace.Err()
	}
}

// Close immediately closes the listener and every tracked connection,
// without waiting for in-flight requests to finish.
func (s *Server) Close() error {
	if !s.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	close(s.doneCh)

	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.closeAllConns()
	s.wg.Wait()
	return err
}

func (s *Server) closeAllConns() {
	s.mu.Lock()
	conns := make([]*conn.Connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

// Run is ListenAndServe with signal-driven graceful shutdown (spec §6
// "exit behavior" via SIGINT/SIGTERM), grounded on bolt/core/app.go's
// Run(): start serving in the background, block on either a server
// error or an interrupt, then Shutdown with config.ShutdownGrace.
func (s *Server) Run() error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
		return err
	case <-sigCh:
		s.logger.Printf("server: shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownGrace)
		defer cancel()
		return s.Shutdown(ctx)
	}
}
