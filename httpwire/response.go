package httpwire

import (
	"bufio"
	"io"
	"strconv"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
)

// statusText covers the status codes this engine actually emits; spec §3
// "Response" only names status as an integer, the textual reason phrase
// is cosmetic and filled in for the common cases.
var statusText = map[int]string{
	100: "Continue", 101: "Switching Protocols",
	200: "OK", 201: "Created", 202: "Accepted", 204: "No Content", 206: "Partial Content",
	300: "Multiple Choices", 301: "Moved Permanently", 302: "Found", 304: "Not Modified",
	400: "Bad Request", 401: "Unauthorized", 403: "Forbidden", 404: "Not Found",
	405: "Method Not Allowed", 408: "Request Timeout", 409: "Conflict",
	411: "Length Required", 412: "Precondition Failed", 413: "Payload Too Large",
	414: "URI Too Long", 415: "Unsupported Media Type", 429: "Too Many Requests",
	500: "Internal Server Error", 501: "Not Implemented", 502: "Bad Gateway",
	503: "Service Unavailable", 504: "Gateway Timeout",
}

// WriteGate bounds how far a streamed/chunked body can run ahead of the
// peer actually draining it, implemented by conn's writeQueue (spec
// §4.3 high/low-watermark back-pressure). ResponseWriter only consults
// it on the chunked write path: a Content-Length response is already
// bounded by its known size, and the connection engine is the one
// party that can size the gate to its own watermarks, so httpwire
// depends only on this narrow interface rather than on package conn.
type WriteGate interface {
	Reserve(n int)
	Release(n int)
}

// ResponseWriter serializes a response onto the wire: status line,
// headers, and body, choosing between Content-Length and chunked framing
// and negotiating Content-Encoding. Grounded on
// shockwave/pkg/shockwave/http11/response.go's idempotent WriteHeader +
// lazy-header-flush design.
type ResponseWriter struct {
	bw            *bufio.Writer
	header        Headers
	status        int
	statusWritten bool
	headerWritten bool
	bytesWritten  int64
	contentLength int64 // -1 means unknown -> chunked
	chunked       bool
	chunkedW      *ChunkedWriter
	method        Method
	keepAlive     bool

	gate WriteGate // set by the connection engine; nil outside it (e.g. tests)

	requestedEncoding Encoding // set by the handler via SetEncoding
	acceptEncoding    []byte   // the request's Accept-Encoding, set by the connection engine
	encoder           io.WriteCloser
}

// NewResponseWriter wraps bw for a single response. method and keepAlive
// steer the HEAD-suppresses-body rule and the Connection header.
func NewResponseWriter(bw *bufio.Writer, method Method, keepAlive bool) *ResponseWriter {
	return &ResponseWriter{bw: bw, status: 200, contentLength: -1, method: method, keepAlive: keepAlive}
}

// Reset prepares rw for reuse from a pool.
func (rw *ResponseWriter) Reset(bw *bufio.Writer, method Method, keepAlive bool) {
	rw.bw = bw
	rw.header.Reset()
	rw.status = 200
	rw.statusWritten = false
	rw.headerWritten = false
	rw.bytesWritten = 0
	rw.contentLength = -1
	rw.chunked = false
	rw.chunkedW = nil
	rw.method = method
	rw.keepAlive = keepAlive
	rw.gate = nil
	rw.requestedEncoding = EncodingNone
	rw.acceptEncoding = nil
	rw.encoder = nil
}

// SetWriteGate installs the back-pressure gate the chunked write path
// reserves/releases against (spec §4.3). Must be called before the
// first Write; a nil gate (the zero value) disables gating.
func (rw *ResponseWriter) SetWriteGate(gate WriteGate) {
	rw.gate = gate
}

// SetEncoding requests enc for the response body (spec §3/§4.2). Honored
// only once flushHeaders verifies the request's Accept-Encoding (set via
// SetAcceptEncoding) actually permits enc; otherwise the response falls
// back to identity. Must be called before the first Write.
func (rw *ResponseWriter) SetEncoding(enc Encoding) {
	if rw.headerWritten {
		return
	}
	rw.requestedEncoding = enc
}

// SetAcceptEncoding records the request's Accept-Encoding header for the
// negotiation SetEncoding's choice is checked against. Called by the
// connection engine before the handler runs.
func (rw *ResponseWriter) SetAcceptEncoding(acceptEncoding []byte) {
	rw.acceptEncoding = acceptEncoding
}

// Header returns the mutable response header set. Must be called before
// WriteHeader/Write.
func (rw *ResponseWriter) Header() *Headers { return &rw.header }

// Started reports whether the header block has already been written
// for this response. There is no delay/response_now mechanism that
// consults it.
func (rw *ResponseWriter) Started() bool { return rw.headerWritten }

// Status returns the status code set by WriteHeader, or the implicit 200
// if WriteHeader hasn't been called yet.
func (rw *ResponseWriter) Status() int { return rw.status }

// SetContentLength declares a known body length, selecting
// Content-Length framing instead of chunked. Must be called before the
// first Write.
func (rw *ResponseWriter) SetContentLength(n int64) {
	if rw.headerWritten {
		return
	}
	rw.contentLength = n
}

// WriteHeader sets the status code. Idempotent past the first call,
// matching the teacher's response.go (a handler racing two WriteHeader
// calls silently loses the second).
func (rw *ResponseWriter) WriteHeader(status int) {
	if rw.statusWritten {
		return
	}
	rw.status = status
	rw.statusWritten = true
}

// Write implements io.Writer, writing an implicit 200 status and the
// header block on first use. On the chunked path (a streamed or
// generator-driven body, the common case for an unknown-length
// response) each call reserves its bytes against the write gate before
// handing them to the peer, so a producer running ahead of a slow
// reader pauses above the high-water mark instead of buffering
// unbounded memory (spec §4.3).
func (rw *ResponseWriter) Write(p []byte) (int, error) {
	if !rw.headerWritten {
		if err := rw.flushHeaders(); err != nil {
			return 0, err
		}
	}
	if rw.method == MethodHEAD {
		// A HEAD response carries the header block only.
		return len(p), nil
	}
	if rw.chunked {
		if rw.gate != nil {
			rw.gate.Reserve(len(p))
			defer rw.gate.Release(len(p))
		}
		var n int
		var err error
		if rw.encoder != nil {
			n, err = rw.encoder.Write(p)
		} else {
			n, err = rw.chunkedW.Write(p)
		}
		rw.bytesWritten += int64(n)
		return n, err
	}
	n, err := rw.bw.Write(p)
	rw.bytesWritten += int64(n)
	return n, err
}

// Close finalizes chunked framing, if in use. No-op for Content-Length
// responses.
func (rw *ResponseWriter) Close() error {
	if !rw.headerWritten {
		if err := rw.flushHeaders(); err != nil {
			return err
		}
	}
	if rw.chunked {
		if rw.encoder != nil {
			if err := rw.encoder.Close(); err != nil {
				return err
			}
		}
		return rw.chunkedW.Close()
	}
	return nil
}

func (rw *ResponseWriter) flushHeaders() error {
	if rw.headerWritten {
		return ErrHeadersAlreadyWritten
	}
	rw.headerWritten = true

	// spec §3/§4.2: a handler-requested encoding is only honored once
	// Accept-Encoding is verified to permit it; otherwise identity. The
	// compressed length isn't known ahead of the codec running, so an
	// accepted encoding always forces chunked framing regardless of any
	// SetContentLength the handler already made.
	encoding := EncodingNone
	if rw.requestedEncoding != EncodingNone && acceptsEncoding(rw.acceptEncoding, rw.requestedEncoding) {
		encoding = rw.requestedEncoding
		rw.contentLength = -1
	}

	rw.chunked = rw.contentLength < 0 && rw.method != MethodHEAD
	if rw.chunked {
		rw.header.Set(headerTransferEncoding, headerChunked)
		rw.header.Del(headerContentLength)
	} else if rw.contentLength >= 0 {
		rw.header.Set(headerContentLength, []byte(strconv.FormatInt(rw.contentLength, 10)))
	}
	if encoding != EncodingNone {
		rw.header.Set(headerContentEncoding, []byte(encodingToken(encoding)))
	} else {
		rw.header.Del(headerContentEncoding)
	}

	if !rw.header.Has(headerConnection) {
		if rw.keepAlive {
			rw.header.Set(headerConnection, headerKeepAlive)
		} else {
			rw.header.Set(headerConnection, headerClose)
		}
	}
	if !rw.header.Has(headerServer) {
		rw.header.Set(headerServer, []byte(ServerName))
	}

	text := statusText[rw.status]
	if text == "" {
		text = "Status"
	}
	if _, err := rw.bw.WriteString("HTTP/1.1 " + strconv.Itoa(rw.status) + " " + text + "\r\n"); err != nil {
		return err
	}
	var werr error
	rw.header.VisitAll(func(name, value []byte) bool {
		if _, err := rw.bw.Write(name); err != nil {
			werr = err
			return false
		}
		if _, err := rw.bw.Write(colonSpace); err != nil {
			werr = err
			return false
		}
		if _, err := rw.bw.Write(value); err != nil {
			werr = err
			return false
		}
		if _, err := rw.bw.Write(crlf); err != nil {
			werr = err
			return false
		}
		return true
	})
	if werr != nil {
		return werr
	}
	if _, err := rw.bw.Write(crlf); err != nil {
		return err
	}
	if rw.chunked {
		rw.chunkedW = NewChunkedWriter(rw.bw)
		if encoding != EncodingNone {
			enc, err := NewEncodingWriter(rw.chunkedW, encoding)
			if err != nil {
				return err
			}
			rw.encoder = enc
		}
	}
	return nil
}

// WriteJSON writes status plus data as a complete application/json
// body, using Content-Length framing since the full body is already in
// hand. Grounded on shockwave/pkg/shockwave/http11/response.go's
// WriteJSON/WriteText/WriteHTML trio.
func (rw *ResponseWriter) WriteJSON(status int, data []byte) error {
	rw.WriteHeader(status)
	rw.header.Set(headerContentType, contentTypeJSONUTF8)
	rw.SetContentLength(int64(len(data)))
	_, err := rw.Write(data)
	return err
}

// WriteText writes status plus data as a complete text/plain body.
func (rw *ResponseWriter) WriteText(status int, data []byte) error {
	rw.WriteHeader(status)
	rw.header.Set(headerContentType, contentTypeTextPlain)
	rw.SetContentLength(int64(len(data)))
	_, err := rw.Write(data)
	return err
}

// WriteHTML writes status plus data as a complete text/html body.
func (rw *ResponseWriter) WriteHTML(status int, data []byte) error {
	rw.WriteHeader(status)
	rw.header.Set(headerContentType, contentTypeHTMLUTF8)
	rw.SetContentLength(int64(len(data)))
	_, err := rw.Write(data)
	return err
}

// WriteError writes a minimal text/plain error body, used for the
// connection engine's own protocol-error and 500 responses (spec §7).
// There is no configurable error page; every such response carries
// this minimal body.
func (rw *ResponseWriter) WriteError(status int, message string) error {
	return rw.WriteText(status, []byte(message))
}

// NegotiateEncoding picks a Content-Encoding from the client's
// Accept-Encoding header, preferring brotli > gzip > deflate, matching
// the teacher's dependency closure (andybalholm/brotli, klauspost/
// compress) which ships both but never wires them into shockwave's
// response path.
func NegotiateEncoding(acceptEncoding []byte) Encoding {
	s := string(acceptEncoding)
	switch {
	case containsToken(s, "br"):
		return EncodingBrotli
	case containsToken(s, "gzip"):
		return EncodingGzip
	case containsToken(s, "deflate"):
		return EncodingDeflate
	}
	return EncodingNone
}

// encodingToken returns the Accept-Encoding/Content-Encoding token for
// enc, or "" for EncodingNone/unknown values.
func encodingToken(enc Encoding) string {
	switch enc {
	case EncodingBrotli:
		return "br"
	case EncodingGzip:
		return "gzip"
	case EncodingDeflate:
		return "deflate"
	default:
		return ""
	}
}

// acceptsEncoding reports whether acceptEncoding names enc explicitly,
// the §4.2 verification step a handler-requested encoding must pass
// before the writer honors it.
func acceptsEncoding(acceptEncoding []byte, enc Encoding) bool {
	tok := encodingToken(enc)
	if tok == "" {
		return false
	}
	return containsToken(string(acceptEncoding), tok)
}

func containsToken(haystack, token string) bool {
	for i := 0; i+len(token) <= len(haystack); i++ {
		if haystack[i:i+len(token)] == token {
			before := i == 0 || !isTokenChar(haystack[i-1])
			after := i+len(token) == len(haystack) || !isTokenChar(haystack[i+len(token)])
			if before && after {
				return true
			}
		}
	}
	return false
}

func isTokenChar(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '-'
}

// NewEncodingWriter wraps w with the codec for enc. Callers must Close
// the returned writer (all three codecs buffer internally).
func NewEncodingWriter(w io.Writer, enc Encoding) (io.WriteCloser, error) {
	switch enc {
	case EncodingBrotli:
		return brotli.NewWriter(w), nil
	case EncodingGzip:
		return gzip.NewWriter(w), nil
	case EncodingDeflate:
		fw, err := flate.NewWriter(w, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		return fw, nil
	default:
		return nopWriteCloser{w}, nil
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
