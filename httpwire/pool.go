package httpwire

import (
	"bufio"
	"sync"
)

// Grounded on shockwave/pkg/shockwave/http11/pool.go: sync.Pool reuse of
// the parser's hot allocations (Request, ResponseWriter, buffered
// reader/writer) to keep steady-state request handling allocation-free.

var requestPool = sync.Pool{New: func() any { return &Request{Minor: 1} }}

// GetRequest returns a zeroed Request from the pool.
func GetRequest() *Request {
	req := requestPool.Get().(*Request)
	req.Reset()
	return req
}

// PutRequest returns req to the pool.
func PutRequest(req *Request) {
	requestPool.Put(req)
}

var responseWriterPool = sync.Pool{New: func() any { return &ResponseWriter{} }}

// GetResponseWriter returns a ResponseWriter from the pool, bound to bw.
func GetResponseWriter(bw *bufio.Writer, method Method, keepAlive bool) *ResponseWriter {
	rw := responseWriterPool.Get().(*ResponseWriter)
	rw.Reset(bw, method, keepAlive)
	return rw
}

// PutResponseWriter returns rw to the pool.
func PutResponseWriter(rw *ResponseWriter) {
	responseWriterPool.Put(rw)
}

const (
	defaultReaderBufSize = 4096
	defaultWriterBufSize = 4096
)

var bufReaderPool = sync.Pool{New: func() any { return bufio.NewReaderSize(nil, defaultReaderBufSize) }}
var bufWriterPool = sync.Pool{New: func() any { return bufio.NewWriterSize(nil, defaultWriterBufSize) }}

// GetBufReader returns a pooled *bufio.Reader reset onto conn.
func GetBufReader(conn interface{ Read([]byte) (int, error) }) *bufio.Reader {
	br := bufReaderPool.Get().(*bufio.Reader)
	br.Reset(conn)
	return br
}

// PutBufReader returns br to the pool.
func PutBufReader(br *bufio.Reader) { bufReaderPool.Put(br) }

// GetBufWriter returns a pooled *bufio.Writer reset onto conn.
func GetBufWriter(conn interface{ Write([]byte) (int, error) }) *bufio.Writer {
	bw := bufWriterPool.Get().(*bufio.Writer)
	bw.Reset(conn)
	return bw
}

// PutBufWriter returns bw to the pool.
func PutBufWriter(bw *bufio.Writer) { bufWriterPool.Put(bw) }
