package httpwire

import (
	"bufio"
	"bytes"
	"io"
)

// PartHeader describes one multipart/form-data part's own header block,
// e.g. Content-Disposition and Content-Type.
type PartHeader struct {
	Name     string // form field name, from Content-Disposition
	FileName string // original filename, if this part is a file upload
	Headers  Headers
}

// PartSink receives a streamed multipart part's body incrementally. The
// upload package implements this to spool file parts to disk; form-field
// parts are typically sunk into an in-memory buffer instead. Decoupling
// the parser from a concrete sink keeps httpwire free of an upload
// import cycle.
type PartSink interface {
	WritePart(p []byte) error
}

// MultipartReader incrementally scans a multipart/form-data body for
// boundary-delimited parts. Deliberately not stdlib mime/multipart: spec
// §4.2 requires the parser to survive partial reads and cooperate with
// the upload manager's size/count limits mid-stream, the same posture
// ChunkedReader already takes. Grounded in structure on chunked.go's
// sticky-error incremental reader and in wire format on
// original_source/upload_file.hpp (open-per-part, write incrementally,
// track size).
type MultipartReader struct {
	r            *bufio.Reader
	boundary     []byte // without leading "--"
	dashBoundary []byte // "--" + boundary
	maxParts     int
	maxPartBytes int64
	partsSeen    int
	done         bool
	err          error
}

// NewMultipartReader constructs a reader for a body using the given
// boundary token (as extracted from the Content-Type header's
// boundary= parameter).
func NewMultipartReader(r *bufio.Reader, boundary string, maxParts int, maxPartBytes int64) (*MultipartReader, error) {
	if boundary == "" {
		return nil, ErrMultipartNoBoundary
	}
	if maxParts <= 0 {
		maxParts = DefaultMaxParts
	}
	if maxPartBytes <= 0 {
		maxPartBytes = DefaultMaxPartBytes
	}
	db := append([]byte("--"), boundary...)
	return &MultipartReader{
		r:            r,
		boundary:     []byte(boundary),
		dashBoundary: db,
		maxParts:     maxParts,
		maxPartBytes: maxPartBytes,
	}, nil
}

// NextPart advances past the next boundary line, reads the part's own
// header block, and returns it. The part body must then be consumed via
// CopyPart before calling NextPart again. Returns io.EOF once the
// closing boundary ("--boundary--") has been consumed.
func (m *MultipartReader) NextPart() (*PartHeader, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.done {
		return nil, io.EOF
	}

	line, err := m.r.ReadSlice('\n')
	if err != nil {
		m.err = ErrMultipartMissingClose
		return nil, m.err
	}
	line = trimCRLF(line)
	if !bytes.Equal(line, m.dashBoundary) {
		if bytes.Equal(line, append(append([]byte{}, m.dashBoundary...), '-', '-')) {
			m.done = true
			return nil, io.EOF
		}
		m.err = ErrMultipartMissingClose
		return nil, m.err
	}

	m.partsSeen++
	if m.partsSeen > m.maxParts {
		m.err = ErrMultipartTooManyParts
		return nil, m.err
	}

	ph := &PartHeader{}
	for {
		hl, err := m.r.ReadSlice('\n')
		if err != nil {
			m.err = ErrUnexpectedEOF
			return nil, m.err
		}
		trimmed := trimCRLF(hl)
		if len(trimmed) == 0 {
			break
		}
		colon := indexByte(trimmed, ':')
		if colon < 0 {
			m.err = ErrInvalidHeader
			return nil, m.err
		}
		name := trimSpace(trimmed[:colon])
		value := trimSpace(trimmed[colon+1:])
		if err := ph.Headers.Add(append([]byte{}, name...), append([]byte{}, value...)); err != nil {
			m.err = err
			return nil, m.err
		}
		if bytesEqualFold(name, []byte("Content-Disposition")) {
			ph.Name, ph.FileName = parseContentDisposition(value)
		}
	}
	return ph, nil
}

// CopyPart streams the current part's body to sink until the next
// boundary is found, enforcing maxPartBytes.
func (m *MultipartReader) CopyPart(sink PartSink) error {
	if m.err != nil {
		return m.err
	}
	var written int64
	lookFor := append([]byte("\r\n"), m.dashBoundary...)
	var pending []byte

	for {
		b, err := m.r.ReadByte()
		if err != nil {
			m.err = ErrMultipartMissingClose
			return m.err
		}
		pending = append(pending, b)

		if len(pending) >= len(lookFor) && bytes.HasSuffix(pending, lookFor) {
			flush := pending[:len(pending)-len(lookFor)]
			if len(flush) > 0 {
				written += int64(len(flush))
				if written > m.maxPartBytes {
					m.err = ErrMultipartPartTooLarge
					return m.err
				}
				if err := sink.WritePart(flush); err != nil {
					m.err = err
					return err
				}
			}
			return m.pushBackBoundary()
		}

		if len(pending) > len(lookFor)+4096 {
			flushN := len(pending) - len(lookFor)
			flush := pending[:flushN]
			written += int64(len(flush))
			if written > m.maxPartBytes {
				m.err = ErrMultipartPartTooLarge
				return m.err
			}
			if err := sink.WritePart(flush); err != nil {
				m.err = err
				return err
			}
			pending = append([]byte{}, pending[flushN:]...)
		}
	}
}

// pushBackBoundary re-primes the reader so the next NextPart() call sees
// the "--boundary" line again, by prepending it back via bufio.Reader's
// internal buffer semantics: since bufio.Reader has no generic unread-N,
// we instead wrap with a small replay reader.
func (m *MultipartReader) pushBackBoundary() error {
	replay := append([]byte{}, m.dashBoundary...)
	m.r = bufio.NewReader(io.MultiReader(bytes.NewReader(replay), m.r))
	return nil
}

func trimSpace(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t') {
		b = b[1:]
	}
	for len(b) > 0 && (b[len(b)-1] == ' ' || b[len(b)-1] == '\t') {
		b = b[:len(b)-1]
	}
	return b
}

// parseContentDisposition extracts name= and filename= from a
// Content-Disposition: form-data; ... header value.
func parseContentDisposition(value []byte) (name, fileName string) {
	parts := bytes.Split(value, []byte(";"))
	for _, p := range parts[1:] {
		p = trimSpace(p)
		eq := indexByte(p, '=')
		if eq < 0 {
			continue
		}
		key := string(trimSpace(p[:eq]))
		val := trimSpace(p[eq+1:])
		if len(val) >= 2 && val[0] == '"' && val[len(val)-1] == '"' {
			val = val[1 : len(val)-1]
		}
		switch key {
		case "name":
			name = string(val)
		case "filename":
			fileName = string(val)
		}
	}
	return name, fileName
}
