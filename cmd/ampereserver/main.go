// Command ampereserver is a minimal example binary exercising the
// engine's public surface: static files, a session-bound counter, a
// multipart upload endpoint, and a bearer-protected route. Grounded on
// bolt/core/app.go's route-registration-then-Run() shape; the
// flag-based config here mirrors bolt's Config literal rather than any
// flag library, since nothing in the pack wires one for an HTTP server.
//
// Metrics are served on their own net/http listener, the same split the
// teacher's own buffer_pool_prometheus.go doc comment recommends
// ("http.Handle("/metrics", ...); http.ListenAndServe(":9090", nil)") —
// ampere's httpwire.ResponseWriter isn't an http.ResponseWriter, so the
// Prometheus exposition handler is mounted on a small stdlib server
// instead of threaded through the engine's own router.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"net/http"

	"github.com/wattframework/ampere/aspect"
	"github.com/wattframework/ampere/conn"
	"github.com/wattframework/ampere/httpwire"
	"github.com/wattframework/ampere/router"
	"github.com/wattframework/ampere/server"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus exposition listen address")
	staticDir := flag.String("static-dir", "", "directory served read-only at /static/*path")
	uploadDir := flag.String("upload-dir", "", "directory multipart uploads are spooled to")
	certPath := flag.String("cert", "", "TLS certificate path (enables TLS if set with -key)")
	keyPath := flag.String("key", "", "TLS key path")
	bearerSecret := flag.String("bearer-secret", "", "HMAC secret for the /admin bearer-protected route; empty disables it")
	flag.Parse()

	cfg := server.DefaultConfig()
	cfg.ListenAddr = *addr
	if *uploadDir != "" {
		cfg.Upload.Dir = *uploadDir
	}
	if *certPath != "" && *keyPath != "" {
		cfg.EnableTLS = true
		cfg.CertPath = *certPath
		cfg.KeyPath = *keyPath
	}

	cfg.EnableResponseCache = true

	rt := router.New()
	srv := server.New(cfg, rt)

	app := &app{srv: srv}

	// /hello's body never varies per request, so it opts into the
	// response cache (spec §4.5); /session is per-client state and must
	// never be cached.
	mustAddCached(rt, []httpwire.Method{httpwire.MethodGET}, "/hello", conn.AsRoute(app.hello), router.RouteCache{
		Enabled: true, TTL: cfg.CacheMaxAge,
	})
	mustAdd(rt, []httpwire.Method{httpwire.MethodGET}, "/session", conn.AsRoute(app.sessionCounter))

	if *uploadDir != "" {
		mustAdd(rt, []httpwire.Method{httpwire.MethodPOST}, "/upload", conn.AsRoute(app.upload))
	}
	if *staticDir != "" {
		mustAdd(rt, []httpwire.Method{httpwire.MethodGET}, "/static/*path", server.Static(*staticDir, cfg.StaticResourceMaxAge, cfg.StaticChunkThreshold))
	}
	if *bearerSecret != "" {
		adminChain := aspect.NewChain(conn.AsRoute(app.admin), aspect.Bearer(aspect.BearerConfig{
			Secret: []byte(*bearerSecret),
		}))
		mustAdd(rt, []httpwire.Method{httpwire.MethodGET}, "/admin", adminChain.AsHandler())
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", srv.Metrics().Handler())
		log.Printf("ampereserver metrics listening on %s", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
			log.Printf("ampereserver: metrics listener stopped: %v", err)
		}
	}()

	log.Printf("ampereserver listening on %s", *addr)
	if err := srv.Run(); err != nil {
		log.Fatalf("ampereserver: %v", err)
	}
}

func mustAdd(rt *router.Router, methods []httpwire.Method, path string, h router.Handler) {
	if err := rt.Add(methods, path, h); err != nil {
		log.Fatalf("route %s: %v", path, err)
	}
}

func mustAddCached(rt *router.Router, methods []httpwire.Method, path string, h router.Handler, rc router.RouteCache) {
	if err := rt.AddCached(methods, path, h, rc); err != nil {
		log.Fatalf("route %s: %v", path, err)
	}
}

// app holds the one *server.Server instance this example binary runs,
// so handlers can reach the session store and upload manager without
// threading them through router.Context on every request.
type app struct {
	srv *server.Server
}

func (a *app) hello(ctx conn.Context) error {
	return ctx.Response().WriteJSON(200, []byte(`{"message":"hello from ampere"}`))
}

// sessionCounter demonstrates the session store: a cookie-bound visit
// counter, created on first visit and touched on every return.
func (a *app) sessionCounter(ctx conn.Context) error {
	const cookieName = "ampere_session"

	var token string
	for _, c := range ctx.Request().Cookies {
		if c.Name == cookieName {
			token = c.Value
			break
		}
	}

	store := a.srv.Sessions()
	sess, ok := store.Get(token)
	if !ok {
		var err error
		sess, err = store.Create(false)
		if err != nil {
			return ctx.Response().WriteError(500, "could not create session")
		}
		_ = ctx.Response().Header().Set([]byte("Set-Cookie"), []byte(httpwire.WriteSetCookie(httpwire.Cookie{
			Name: cookieName, Value: sess.Token, Path: "/", HTTPOnly: true,
		})))
	} else {
		store.Touch(sess.Token)
	}

	visits, _ := sess.Get("visits")
	n, _ := visits.(int)
	n++
	sess.Set("visits", n)

	return ctx.Response().WriteJSON(200, []byte(fmt.Sprintf(`{"visits":%d}`, n)))
}

// upload demonstrates the upload manager: spools every multipart file
// part to the server's configured upload directory and reports how many
// files were received.
func (a *app) upload(ctx conn.Context) error {
	req := ctx.Request()
	if req.ContentType != httpwire.ContentTypeMultipart {
		return ctx.Response().WriteError(400, "expected multipart/form-data")
	}

	mgr := a.srv.Uploads()
	mr, err := httpwire.NewMultipartReader(bufio.NewReader(req.Body), req.Boundary, 0, 0)
	if err != nil {
		return ctx.Response().WriteError(400, "bad multipart body")
	}

	received := 0
	for {
		ph, err := mr.NextPart()
		if err != nil {
			break
		}
		if ph.FileName == "" {
			continue
		}
		part, err := mgr.Open(ph.Name, ph.FileName)
		if err != nil {
			return ctx.Response().WriteError(500, "could not spool upload")
		}
		if err := mr.CopyPart(part); err != nil {
			part.Cancel()
			return ctx.Response().WriteError(413, "upload too large")
		}
		if _, _, err := part.Finalize(); err != nil {
			return ctx.Response().WriteError(500, "could not finalize upload")
		}
		received++
	}

	return ctx.Response().WriteJSON(200, []byte(fmt.Sprintf(`{"parts":%d}`, received)))
}

func (a *app) admin(ctx conn.Context) error {
	claims, _ := ctx.Get("claims")
	return ctx.Response().WriteJSON(200, []byte(fmt.Sprintf(`{"claims":%v}`, claims)))
}
