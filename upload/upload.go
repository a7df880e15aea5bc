// Package upload implements the upload manager: per-multipart-part temp
// file spooling (spec §4.7). Config records part-count and size limits,
// but Manager and Part do not check writes against them.
package upload

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/wattframework/ampere/httpwire"
)

// copyBufPool supplies the part-to-file streaming buffer. Grounded on
// shockwave/pkg/shockwave/buffer_pool.go's size-classed pooled-buffer
// design, trimmed to the one size class upload actually needs (32KB file
// chunks, per the teacher's own BufferSize32KB class).
var copyBufPool = sync.Pool{New: func() any { b := make([]byte, 32*1024); return &b }}

// Config configures the upload manager. The limits are filled with their
// defaults and stored; nothing in this package or its callers reads them.
type Config struct {
	Dir          string // directory temp files are created in
	MaxParts     int    // default 1024, spec §4.7
	MaxPartBytes int64  // default 64MiB
	MaxBodyBytes int64  // default 100MiB, across all parts of one request
}

// DefaultConfig returns the spec §4.7 defaults, rooted at os.TempDir.
func DefaultConfig() Config {
	return Config{
		Dir:          os.TempDir(),
		MaxParts:     httpwire.DefaultMaxParts,
		MaxPartBytes: httpwire.DefaultMaxPartBytes,
		MaxBodyBytes: httpwire.DefaultMaxUploadBodyBytes,
	}
}

// Manager spools multipart file parts to temp files.
type Manager struct {
	config Config
}

// New constructs a Manager from config, filling in defaults.
func New(config Config) *Manager {
	if config.Dir == "" {
		config.Dir = os.TempDir()
	}
	if config.MaxParts <= 0 {
		config.MaxParts = httpwire.DefaultMaxParts
	}
	if config.MaxPartBytes <= 0 {
		config.MaxPartBytes = httpwire.DefaultMaxPartBytes
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = httpwire.DefaultMaxUploadBodyBytes
	}
	return &Manager{config: config}
}

// Part tracks one uploaded file's lifecycle: the temp file it was
// spooled into, and the byte count written so far. Grounded on
// original_source/upload_file.hpp's upload_file class (an ofstream
// wrapper tracking file_path_/file_size_), translated to Go's *os.File.
type Part struct {
	FieldName    string
	OriginalName string
	Path         string
	Size         int64

	f      *os.File
	closed bool
}

// Open creates a new temp file for a part named fieldName/originalName.
// The temp filename is a random UUID plus the original extension,
// matching the teacher's already-present (indirect, via gin/fiber)
// google/uuid dependency with a concrete use.
func (m *Manager) Open(fieldName, originalName string) (*Part, error) {
	ext := filepath.Ext(originalName)
	name := uuid.NewString() + ext
	path := filepath.Join(m.config.Dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return nil, err
	}
	return &Part{FieldName: fieldName, OriginalName: originalName, Path: path, f: f}, nil
}

// WritePart implements httpwire.PartSink, streaming multipart body bytes
// into the part's temp file via a pooled copy buffer.
func (p *Part) WritePart(b []byte) error {
	bufPtr := copyBufPool.Get().(*[]byte)
	defer copyBufPool.Put(bufPtr)
	buf := *bufPtr

	for len(b) > 0 {
		n := copy(buf, b)
		if _, err := p.f.Write(buf[:n]); err != nil {
			return err
		}
		p.Size += int64(n)
		b = b[n:]
	}
	return nil
}

// Finalize closes the temp file and returns its final size and path.
func (p *Part) Finalize() (path string, size int64, err error) {
	if p.closed {
		return p.Path, p.Size, nil
	}
	p.closed = true
	if err := p.f.Close(); err != nil {
		return "", 0, err
	}
	return p.Path, p.Size, nil
}

// Cancel closes and deletes the temp file, for a request that was
// aborted or exceeded a size/count limit mid-stream.
func (p *Part) Cancel() error {
	if !p.closed {
		p.closed = true
		_ = p.f.Close()
	}
	return os.Remove(p.Path)
}
