package conn

import (
	"github.com/wattframework/ampere/httpwire"
	"github.com/wattframework/ampere/router"
)

// Context is the per-request surface handed to application handlers: it
// implements router.Context (method/path/params/header/attribute bag)
// and additionally exposes the underlying wire-level Request and
// ResponseWriter, since a terminal handler needs to read the body and
// write the response, not just inspect routing metadata. Splitting it
// this way keeps router free of an httpwire-shaped handler signature
// (see router/router.go's doc comment on why Handler lives there).
type Context interface {
	router.Context
	Request() *httpwire.Request
	Response() *httpwire.ResponseWriter
}

// requestContext is the concrete Context built fresh per request by the
// connection's dispatch loop.
type requestContext struct {
	req    *httpwire.Request
	resp   *httpwire.ResponseWriter
	params map[string]string
	attrs  map[string]any
}

func (c *requestContext) Method() httpwire.Method { return c.req.Method }
func (c *requestContext) Path() string            { return c.req.Path }

func (c *requestContext) SetParam(name, value string) {
	if c.params == nil {
		c.params = make(map[string]string, 4)
	}
	c.params[name] = value
}

// Param returns a path parameter extracted by the router (spec §4.1
// named placeholders and trailing wildcards).
func (c *requestContext) Param(name string) (string, bool) {
	v, ok := c.params[name]
	return v, ok
}

func (c *requestContext) Header() *httpwire.Headers { return &c.req.Header }

func (c *requestContext) Set(key string, value any) {
	if c.attrs == nil {
		c.attrs = make(map[string]any, 4)
	}
	c.attrs[key] = value
}

func (c *requestContext) Get(key string) (any, bool) {
	v, ok := c.attrs[key]
	return v, ok
}

func (c *requestContext) Request() *httpwire.Request         { return c.req }
func (c *requestContext) Response() *httpwire.ResponseWriter { return c.resp }

// Handler is the application-facing terminal handler signature: the
// full Context (body + response writer), rather than router.Context's
// routing-only surface.
type Handler func(ctx Context) error

// AsRoute adapts a Handler for router.Add/aspect.NewChain registration.
// The type assertion back to Context always succeeds: every
// router.Context the connection's dispatch loop constructs is a
// *requestContext.
func AsRoute(h Handler) router.Handler {
	return func(rc router.Context) error {
		return h(rc.(Context))
	}
}

// Param reads a path parameter off any Context, for callers that only
// have the router.Context view (e.g. inside an aspect's Before/After).
func Param(ctx router.Context, name string) (string, bool) {
	if rc, ok := ctx.(*requestContext); ok {
		return rc.Param(name)
	}
	return "", false
}
