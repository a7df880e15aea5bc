package conn

import (
	"bytes"
	"errors"
	"time"

	"github.com/wattframework/ampere/cache"
	"github.com/wattframework/ampere/httpwire"
	"github.com/wattframework/ampere/router"
)

// errCacheNotCacheable signals that a handler's response can't be
// represented as a cache.Entry (a chunked/streamed body, whose length
// isn't known up front) even though its route opted into caching. The
// capture buffer the handler wrote into never reached the wire, so
// falling back to a direct invocation is safe.
var errCacheNotCacheable = errors.New("conn: handler response is not cacheable (chunked body)")

// cacheable reports whether method's response may ever be served from
// the cache (spec §4.5): GET and HEAD only, since replaying a cached
// body to a request that never actually triggered the handler's side
// effects would be wrong for any other method.
func cacheable(method httpwire.Method) bool {
	return method == httpwire.MethodGET || method == httpwire.MethodHEAD
}

// fingerprintFor derives the cache key for req: method plus the raw
// request target, so distinct query strings occupy distinct entries
// (spec §4.5's fingerprint is dispatch-visible, not handler-computed).
func fingerprintFor(req *httpwire.Request) string {
	return req.Method.String() + " " + string(req.RawTarget)
}

// hopByHopHeaders must not survive a cache replay onto a different
// connection: each real response recomputes its own framing.
var hopByHopHeaders = map[string]bool{
	"Connection":        true,
	"Server":            true,
	"Date":              true,
	"Transfer-Encoding": true,
	"Content-Length":    true,
	"Content-Encoding":  true,
}

func isHopByHopHeader(name string) bool {
	return hopByHopHeaders[name]
}

// buildCacheEntry runs handler once against a buffer-backed
// ResponseWriter, the build callback passed to cache.Cache.GetOrBuild
// so concurrent waiters on the same fingerprint share one invocation
// (spec §4.5/testable-property E4). It then lifts status, headers and
// body out of the captured wire bytes into a cache.Entry so the real
// per-connection ResponseWriter can replay them with its own framing.
func buildCacheEntry(handler router.Handler, req *httpwire.Request, params map[string]string, attrs map[string]any, ttl time.Duration) (*cache.Entry, error) {
	var buf bytes.Buffer
	bw := httpwire.GetBufWriter(&buf)
	defer httpwire.PutBufWriter(bw)

	rw := httpwire.NewResponseWriter(bw, req.Method, false)
	ctx := &requestContext{req: req, resp: rw, params: params, attrs: attrs}

	if err := handler(ctx); err != nil {
		return nil, err
	}
	if err := rw.Close(); err != nil {
		return nil, err
	}
	if err := bw.Flush(); err != nil {
		return nil, err
	}

	raw := buf.Bytes()
	sep := bytes.Index(raw, []byte("\r\n\r\n"))
	if sep < 0 {
		return nil, errCacheNotCacheable
	}
	headerBlock := raw[:sep]
	if bytes.Contains(headerBlock, []byte("Transfer-Encoding")) {
		// A streamed/chunked body has no length known up front; caching
		// it would require dechunking and re-chunking on replay for no
		// benefit over just re-invoking the handler.
		return nil, errCacheNotCacheable
	}
	body := append([]byte(nil), raw[sep+4:]...)

	header := make(map[string][]string)
	contentType := ""
	lines := bytes.Split(headerBlock, []byte("\r\n"))
	for _, line := range lines[1:] { // lines[0] is the status line, read via rw.Status() below
		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			continue
		}
		name := string(bytes.TrimSpace(line[:colon]))
		value := string(bytes.TrimSpace(line[colon+1:]))
		if isHopByHopHeader(name) {
			continue
		}
		header[name] = append(header[name], value)
		if name == "Content-Type" {
			contentType = value
		}
	}

	entry := &cache.Entry{
		Status:      rw.Status(),
		Header:      header,
		Body:        body,
		ContentType: contentType,
	}
	if ttl > 0 {
		entry.StoredAt = time.Now()
		entry.ExpiresAt = entry.StoredAt.Add(ttl)
	}
	return entry, nil
}

// writeCachedEntry replays entry onto rw, the real per-connection
// ResponseWriter, so every waiter (the one that built it and every one
// that hit it afterward) gets byte-identical headers and body while
// still getting its own connection's Connection/Server framing from
// flushHeaders (spec §4.5/E4).
func writeCachedEntry(rw *httpwire.ResponseWriter, entry *cache.Entry) error {
	for name, values := range entry.Header {
		for _, v := range values {
			_ = rw.Header().Add([]byte(name), []byte(v))
		}
	}
	rw.WriteHeader(entry.Status)
	rw.SetContentLength(int64(len(entry.Body)))
	_, err := rw.Write(entry.Body)
	return err
}
