package httpwire

import (
	"bufio"
	"io"
)

// Request is a fully-parsed HTTP/1.1 request line, header set, and a body
// reader positioned to stream the entity per spec §3.
type Request struct {
	Method      Method
	RawTarget   []byte // path + optional "?query" as it appeared on the wire
	Path        string
	Query       Params
	Minor       int // 0 for HTTP/1.0, 1 for HTTP/1.1
	Header      Headers
	Cookies     []Cookie
	ContentType ContentType
	Boundary    string // multipart boundary, if ContentType == ContentTypeMultipart

	contentLength    int64
	hasContentLength bool
	chunked          bool
	host             string

	Body io.Reader
}

// Reset clears r for reuse from a pool.
func (r *Request) Reset() {
	r.Method = MethodUnknown
	r.RawTarget = nil
	r.Path = ""
	r.Query = nil
	r.Minor = 1
	r.Header.Reset()
	r.Cookies = nil
	r.ContentType = ContentTypeUnknown
	r.Boundary = ""
	r.contentLength = 0
	r.hasContentLength = false
	r.chunked = false
	r.host = ""
	r.Body = nil
}

// ContentLength returns the declared body length, or -1 if the body is
// chunked and the length is unknown up front.
func (r *Request) ContentLength() int64 {
	if r.chunked {
		return -1
	}
	if r.hasContentLength {
		return r.contentLength
	}
	return 0
}

// Host returns the request's Host header value.
func (r *Request) Host() string { return r.host }

// KeepAlive reports whether the connection should remain open after this
// request per the Connection header and HTTP version defaults.
func (r *Request) KeepAlive() bool {
	conn := r.Header.Get(headerConnection)
	if conn != nil {
		if bytesEqualFold(conn, headerClose) {
			return false
		}
		if bytesEqualFold(conn, headerKeepAlive) {
			return true
		}
	}
	return r.Minor == 1
}

// Parser reads successive requests off a connection's buffered reader,
// reusing its internal buffers across calls. Grounded on
// shockwave/pkg/shockwave/http11/parser.go: request-line validation,
// CL/TE mutual-exclusion, CRLF-injection rejection on header lines.
type Parser struct {
	br *bufio.Reader
}

// NewParser wraps br for successive Parse calls.
func NewParser(br *bufio.Reader) *Parser {
	return &Parser{br: br}
}

// Parse reads one request (request line + headers) into req and wires up
// req.Body to stream the entity. It does not read the body itself, so
// pipelined requests can be parsed incrementally as the handler drains
// each body in turn.
func (p *Parser) Parse(req *Request) error {
	line, err := p.readLimitedLine(MaxRequestLineSize)
	if err != nil {
		// Passed straight through: io.EOF (clean connection close),
		// ErrRequestLineTooLarge, and any other read error (most notably
		// a deadline timeout mid-line) all need to reach the connection
		// engine undisguised so its timeout/EOF detection works (spec
		// §5/§7).
		return err
	}
	if err := p.parseRequestLine(line, req); err != nil {
		return err
	}
	if err := p.parseHeaders(req); err != nil {
		return err
	}
	return p.setupBody(req)
}

func (p *Parser) readLimitedLine(max int) ([]byte, error) {
	line, err := p.br.ReadSlice('\n')
	if err != nil {
		if err == bufio.ErrBufferFull {
			return nil, ErrRequestLineTooLarge
		}
		// Any other error (EOF, a deadline timeout) is passed through
		// unwrapped: the connection engine distinguishes a clean EOF from
		// a header-read timeout (spec §5/§7) and must see the original
		// error, not a parse-error substitute.
		return nil, err
	}
	if len(line) > max {
		return nil, ErrRequestLineTooLarge
	}
	return trimCRLF(line), nil
}

func (p *Parser) parseRequestLine(line []byte, req *Request) error {
	if len(line) == 0 {
		return ErrInvalidRequestLine
	}
	sp1 := indexByte(line, ' ')
	if sp1 < 0 || sp1 > MaxMethodLen {
		return ErrInvalidRequestLine
	}
	methodTok := line[:sp1]
	rest := line[sp1+1:]
	sp2 := indexByte(rest, ' ')
	if sp2 < 0 {
		return ErrInvalidRequestLine
	}
	target := rest[:sp2]
	proto := rest[sp2+1:]

	method := ParseMethod(methodTok)
	if method == MethodUnknown {
		return ErrInvalidMethod
	}
	req.Method = method

	// spec §4.2 bounds the target specifically, not the request line as a
	// whole (readLimitedLine's MaxRequestLineSize already rejected lines
	// that couldn't fit any target at all; this catches a short method
	// paired with an oversized target within that slack).
	if len(target) > MaxTargetSize {
		return ErrRequestLineTooLarge
	}
	if len(target) == 0 || (target[0] != '/' && !(len(target) == 1 && target[0] == '*')) {
		return ErrInvalidPath
	}
	req.RawTarget = target
	if q := indexByte(target, '?'); q >= 0 {
		req.Path = string(target[:q])
		params, err := ParseURLEncoded(target[q+1:])
		if err != nil {
			return ErrInvalidPath
		}
		req.Query = params
	} else {
		req.Path = string(target)
	}

	switch {
	case bytesEqualFold(proto, http11Bytes):
		req.Minor = 1
	case bytesEqualFold(proto, http10Bytes):
		req.Minor = 0
	default:
		return ErrInvalidProtocol
	}
	return nil
}

func (p *Parser) parseHeaders(req *Request) error {
	var hasCL, hasTE bool
	var clValue int64
	total := 0
	for {
		line, err := p.br.ReadSlice('\n')
		if err != nil {
			if err == io.EOF {
				return ErrUnexpectedEOF
			}
			// A timeout (or any other I/O error) reaching here mid-header
			// block must stay distinguishable from a parse failure so the
			// connection engine can apply the header-read timeout policy.
			return err
		}
		total += len(line)
		if total > MaxHeadersSize {
			return ErrHeadersTooLarge
		}
		trimmed := trimCRLF(line)
		if len(trimmed) == 0 {
			break
		}
		if trimmed[0] == ' ' || trimmed[0] == '\t' {
			return ErrInvalidHeader
		}
		colon := indexByte(trimmed, ':')
		if colon <= 0 {
			return ErrInvalidHeader
		}
		name := trimmed[:colon]
		value := trimSpace(trimmed[colon+1:])

		if err := req.Header.Add(copyBytes(name), copyBytes(value)); err != nil {
			return err
		}

		switch {
		case bytesEqualFold(name, headerContentLength):
			n, ok := parseDecimal(value)
			if !ok {
				return ErrInvalidHeader
			}
			if hasCL && clValue != n {
				return ErrDuplicateContentLength
			}
			hasCL = true
			clValue = n
		case bytesEqualFold(name, headerTransferEncoding):
			if !bytesEqualFold(value, headerChunked) {
				return ErrInvalidHeader
			}
			hasTE = true
		case bytesEqualFold(name, headerHost):
			req.host = string(value)
		case bytesEqualFold(name, headerCookie):
			req.Cookies = append(req.Cookies, ParseCookies(value)...)
		case bytesEqualFold(name, headerContentType):
			req.ContentType, req.Boundary = classifyContentType(value)
		}
	}

	if hasCL && hasTE {
		return ErrConflictingFraming
	}
	req.hasContentLength = hasCL
	req.contentLength = clValue
	req.chunked = hasTE
	return nil
}

func (p *Parser) setupBody(req *Request) error {
	switch {
	case req.chunked:
		req.Body = NewChunkedReader(p.br)
	case req.hasContentLength && req.contentLength > 0:
		req.Body = io.LimitReader(p.br, req.contentLength)
	default:
		req.Body = io.LimitReader(p.br, 0)
	}
	return nil
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func parseDecimal(b []byte) (int64, bool) {
	if len(b) == 0 {
		return 0, false
	}
	var n int64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		d := int64(c - '0')
		if n > (1<<63-1-d)/10 {
			return 0, false
		}
		n = n*10 + d
	}
	return n, true
}

// classifyContentType maps a Content-Type header value to the spec §3
// content-type enum, extracting the multipart boundary parameter when
// present.
func classifyContentType(value []byte) (ContentType, string) {
	s := string(value)
	base, params := splitParams(s)
	switch base {
	case "application/json":
		return ContentTypeJSON, ""
	case "text/html":
		return ContentTypeHTML, ""
	case "text/plain":
		return ContentTypeString, ""
	case "application/x-www-form-urlencoded":
		return ContentTypeURLEncoded, ""
	case "multipart/form-data":
		return ContentTypeMultipart, params["boundary"]
	case "application/octet-stream":
		return ContentTypeOctetStream, ""
	default:
		return ContentTypeUnknown, ""
	}
}

func splitParams(s string) (string, map[string]string) {
	params := map[string]string{}
	start := 0
	base := s
	for i := 0; i < len(s); i++ {
		if s[i] == ';' {
			base = trimSpaceStr(s[:i])
			start = i + 1
			break
		}
	}
	if start == 0 {
		return trimSpaceStr(s), params
	}
	rest := s[start:]
	for _, kv := range splitSemicolons(rest) {
		kv = trimSpaceStr(kv)
		eq := -1
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				eq = i
				break
			}
		}
		if eq < 0 {
			continue
		}
		k := trimSpaceStr(kv[:eq])
		v := trimSpaceStr(kv[eq+1:])
		if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
			v = v[1 : len(v)-1]
		}
		params[k] = v
	}
	return base, params
}

func splitSemicolons(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ';' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func trimSpaceStr(s string) string {
	i, j := 0, len(s)
	for i < j && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	for j > i && (s[j-1] == ' ' || s[j-1] == '\t') {
		j--
	}
	return s[i:j]
}
