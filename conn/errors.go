package conn

import (
	"errors"
	"net"
	"strings"

	"github.com/wattframework/ampere/httpwire"
	"github.com/wattframework/ampere/router"
)

// statusForParseError maps a wire-codec error to the status code and
// close decision spec §7's error table assigns it: ParseError and
// ProtocolError close with 400, TooLarge closes with 413/431, and
// Unsupported closes with 501/505.
func statusForParseError(err error) (status int, closeConn bool) {
	switch {
	case errors.Is(err, httpwire.ErrInvalidMethod):
		return 501, true
	case errors.Is(err, httpwire.ErrInvalidProtocol):
		return 505, true
	case errors.Is(err, httpwire.ErrRequestLineTooLarge):
		// §7 lists TooLarge as 413/431; an oversized request line or
		// target is the same TooLarge kind with the status RFC 7230
		// names for it (414 URI Too Long) rather than a fourth kind.
		return 414, true
	case errors.Is(err, httpwire.ErrHeadersTooLarge), errors.Is(err, httpwire.ErrHeaderTooLarge):
		return 431, true
	case errors.Is(err, httpwire.ErrBodyTooLarge),
		errors.Is(err, httpwire.ErrMultipartPartTooLarge),
		errors.Is(err, httpwire.ErrMultipartTooManyParts):
		return 413, true
	default:
		// ParseError/ProtocolError and everything else in the grammar:
		// malformed request line, conflicting framing, bad header, etc.
		return 400, true
	}
}

// statusForRouteError maps a router.Lookup error to its spec §7 status:
// MethodNotAllowed keeps the connection alive with a 405+Allow, NotFound
// keeps it alive with a 404, anything else is an internal error.
func statusForRouteError(err error) (status int, allow []httpwire.Method, closeConn bool) {
	var mna *router.ErrMethodNotAllowed
	if errors.As(err, &mna) {
		return 405, mna.Allowed, false
	}
	if errors.Is(err, router.ErrNotFound) {
		return 404, nil, false
	}
	return 500, nil, true
}

// allowHeaderValue renders a method set as the comma-joined Allow header
// value spec §4.1 requires on 405 responses and auto-generated OPTIONS.
func allowHeaderValue(methods []httpwire.Method) string {
	names := make([]string, 0, len(methods))
	for _, m := range methods {
		names = append(names, m.String())
	}
	return strings.Join(names, ", ")
}

// isTimeout reports whether err is a network timeout, distinguishing
// the §4.3 "idle deadline hit without in-flight request -> silent close"
// case from "partial request head -> 408".
func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
