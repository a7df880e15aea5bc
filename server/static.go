package server

import (
	"errors"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/bytebufferpool"
	"github.com/wattframework/ampere/conn"
	"github.com/wattframework/ampere/httpwire"
	"github.com/wattframework/ampere/router"
)

var headerAcceptEncodingBytes = []byte("Accept-Encoding")

// compressible reports whether contentType is worth negotiating a
// Content-Encoding for; binary formats (images, fonts, archives) are
// already compressed and gain nothing from a second pass.
func compressible(contentType string) bool {
	base := contentType
	if i := strings.IndexByte(base, ';'); i >= 0 {
		base = base[:i]
	}
	switch {
	case strings.HasPrefix(base, "text/"):
		return true
	case base == "application/json",
		base == "application/javascript",
		base == "application/xml",
		base == "image/svg+xml":
		return true
	default:
		return false
	}
}

// staticCopyBufPool supplies the 32 KiB file-to-wire streaming buffer
// for static file serving, the one concrete use bytebufferpool has in
// this engine; upload part spooling keeps its own sync.Pool instead.
var staticCopyBufPool bytebufferpool.Pool

// Static builds a router.Handler serving files under dir read-only,
// rooted at the router's trailing wildcard parameter named "path" (spec
// §9 design note on a "static resource" path; register it as
// router.Add([]httpwire.Method{httpwire.MethodGET}, "/static/*path",
// server.Static(dir, maxAge, chunkThreshold))). chunkThreshold <= 0 uses
// Config.StaticChunkThreshold's default of 5 MiB (SPEC_FULL.md §14, open
// question 3: the threshold is configurable, not fixed).
//
// Grounded on bolt/core/router.go's wildcard-segment matching (the
// mechanism, not file-serving itself — no example repo in the pack wires
// a static file handler through a custom wire codec) and
// upload.Manager's manual os.File streaming idiom rather than
// net/http.FileServer, since ampere's ResponseWriter is not an
// http.ResponseWriter.
func Static(dir string, maxAge time.Duration, chunkThreshold int64) router.Handler {
	if chunkThreshold <= 0 {
		chunkThreshold = DefaultConfig().StaticChunkThreshold
	}
	return conn.AsRoute(func(ctx conn.Context) error {
		rel, _ := conn.Param(ctx, "path")
		return serveStaticFile(ctx, dir, rel, maxAge, chunkThreshold)
	})
}

func serveStaticFile(ctx conn.Context, dir, rel string, maxAge time.Duration, chunkThreshold int64) error {
	rw := ctx.Response()

	// Clean("/"+rel) resolves any ".." components against a rooted path
	// before Join ever sees them, so the result can't walk above dir.
	full := filepath.Join(dir, filepath.Clean("/"+rel))

	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return rw.WriteError(404, "Not Found")
		}
		return rw.WriteError(500, "Internal Server Error")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return rw.WriteError(500, "Internal Server Error")
	}
	if info.IsDir() {
		return rw.WriteError(404, "Not Found")
	}

	ct := mime.TypeByExtension(filepath.Ext(full))
	if ct == "" {
		ct = "application/octet-stream"
	}
	_ = rw.Header().Set([]byte("Content-Type"), []byte(ct))
	if maxAge > 0 {
		_ = rw.Header().Set([]byte("Cache-Control"), []byte("public, max-age="+strconv.Itoa(int(maxAge.Seconds()))))
	}

	size := info.Size()
	encoded := false
	if compressible(ct) {
		if enc := httpwire.NegotiateEncoding(ctx.Request().Header.Get(headerAcceptEncodingBytes)); enc != httpwire.EncodingNone {
			rw.SetEncoding(enc)
			encoded = true
		}
	}
	// A negotiated encoding's compressed length isn't known ahead of the
	// codec running, so it always takes chunked framing regardless of
	// the file's on-disk size.
	if !encoded && size < chunkThreshold {
		rw.SetContentLength(size)
	}
	rw.WriteHeader(200)

	if ctx.Request().Method == httpwire.MethodHEAD {
		return nil
	}

	buf := staticCopyBufPool.Get()
	defer staticCopyBufPool.Put(buf)
	if cap(buf.B) < 32*1024 {
		buf.B = make([]byte, 32*1024)
	} else {
		buf.B = buf.B[:32*1024]
	}

	_, err = io.CopyBuffer(rw, f, buf.B)
	return err
}
