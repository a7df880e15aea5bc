package aspect

import (
	"strconv"
	"strings"

	"github.com/wattframework/ampere/httpwire"
	"github.com/wattframework/ampere/router"
)

// CORSConfig configures the Cross-Origin Resource Sharing aspect.
type CORSConfig struct {
	AllowOrigins     []string // default ["*"]
	AllowMethods     []string // default GET, POST, PUT, DELETE, PATCH, HEAD, OPTIONS
	AllowHeaders     []string // default ["*"]
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           int // seconds, default 86400
}

// DefaultCORSConfig returns the teacher's default CORS configuration.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"},
		AllowHeaders: []string{"*"},
		MaxAge:       86400,
	}
}

// responder mirrors conn.Context's Response() accessor. Aspects that must
// answer a request themselves (a CORS preflight, a rate-limited 429) type-
// assert router.Context to this rather than importing package conn, which
// would cycle back to aspect; the method signature must match conn.Context
// exactly (*httpwire.ResponseWriter, not an aspect-local interface) for the
// assertion to succeed, since Go interface satisfaction isn't covariant on
// return types.
type responder interface {
	Response() *httpwire.ResponseWriter
}

// CORS builds a CORS aspect: it sets Access-Control-* headers on every
// response and answers preflight OPTIONS requests directly with 204,
// short-circuiting the terminal handler.
//
// Grounded on bolt/middleware/cors.go (origin allow-list precomputed into
// a map, preflight short-circuit), restructured from a closure-wrapping
// core.Middleware into an Aspect whose Before both sets headers and
// reports handled=true for OPTIONS.
func CORS(config CORSConfig) Aspect {
	d := DefaultCORSConfig()
	if len(config.AllowOrigins) == 0 {
		config.AllowOrigins = d.AllowOrigins
	}
	if len(config.AllowMethods) == 0 {
		config.AllowMethods = d.AllowMethods
	}
	if len(config.AllowHeaders) == 0 {
		config.AllowHeaders = d.AllowHeaders
	}
	if config.MaxAge == 0 {
		config.MaxAge = d.MaxAge
	}

	allowMethods := strings.Join(config.AllowMethods, ", ")
	allowHeaders := strings.Join(config.AllowHeaders, ", ")
	exposeHeaders := strings.Join(config.ExposeHeaders, ", ")
	maxAge := strconv.Itoa(config.MaxAge)

	allowAllOrigins := false
	originSet := make(map[string]bool, len(config.AllowOrigins))
	for _, o := range config.AllowOrigins {
		if o == "*" {
			allowAllOrigins = true
			break
		}
		originSet[o] = true
	}

	return Aspect{
		Name: "cors",
		Before: func(ctx router.Context) (bool, error) {
			origin := ctx.Header().GetString("Origin")

			var allowOrigin string
			switch {
			case allowAllOrigins:
				allowOrigin = "*"
			case origin != "" && originSet[origin]:
				allowOrigin = origin
			}

			r, ok := ctx.(responder)
			if !ok {
				return false, nil
			}
			resp := r.Response()

			if allowOrigin != "" {
				resp.Header().Set([]byte("Access-Control-Allow-Origin"), []byte(allowOrigin))
				if config.AllowCredentials {
					resp.Header().Set([]byte("Access-Control-Allow-Credentials"), []byte("true"))
				}
				if len(config.ExposeHeaders) > 0 {
					resp.Header().Set([]byte("Access-Control-Expose-Headers"), []byte(exposeHeaders))
				}
			}

			if ctx.Method() != httpwire.MethodOPTIONS {
				return false, nil
			}
			if allowOrigin != "" {
				resp.Header().Set([]byte("Access-Control-Allow-Methods"), []byte(allowMethods))
				resp.Header().Set([]byte("Access-Control-Allow-Headers"), []byte(allowHeaders))
				resp.Header().Set([]byte("Access-Control-Max-Age"), []byte(maxAge))
			}
			return true, resp.WriteJSON(204, nil)
		},
	}
}
