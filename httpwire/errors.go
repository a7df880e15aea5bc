package httpwire

import "errors"

// Parse/protocol errors. Each maps to a status code in the connection state
// machine's error table (spec §7).
var (
	ErrInvalidRequestLine = errors.New("httpwire: invalid request line")
	ErrInvalidMethod      = errors.New("httpwire: invalid or unsupported method")
	ErrInvalidPath        = errors.New("httpwire: invalid request path")
	ErrInvalidProtocol    = errors.New("httpwire: invalid or unsupported HTTP version")
	ErrInvalidHeader      = errors.New("httpwire: invalid header")
	ErrHeaderTooLarge     = errors.New("httpwire: header name or value too large")
	ErrRequestLineTooLarge = errors.New("httpwire: request line too large")
	ErrHeadersTooLarge    = errors.New("httpwire: headers too large")

	// ErrConflictingFraming is the CL/TE smuggling guard: spec §3 forbids a
	// request from carrying both Content-Length and Transfer-Encoding.
	ErrConflictingFraming   = errors.New("httpwire: Content-Length and Transfer-Encoding both present")
	ErrDuplicateContentLength = errors.New("httpwire: duplicate Content-Length with differing values")
	ErrMissingFraming       = errors.New("httpwire: body present without Content-Length or chunked framing")

	ErrChunkedEncoding = errors.New("httpwire: malformed chunked encoding")
	ErrBodyTooLarge    = errors.New("httpwire: request body exceeds configured limit")

	ErrMultipartNoBoundary     = errors.New("httpwire: multipart/form-data missing boundary")
	ErrMultipartMissingClose   = errors.New("httpwire: multipart body missing closing boundary")
	ErrMultipartTooManyParts   = errors.New("httpwire: multipart body exceeds max part count")
	ErrMultipartPartTooLarge   = errors.New("httpwire: multipart part exceeds max part size")

	ErrUnexpectedEOF = errors.New("httpwire: unexpected EOF")

	ErrHeadersAlreadyWritten = errors.New("httpwire: response headers already written")
	// ErrResponseAlreadyStarted names the case of a deferred send after
	// bytes were already written. This package has no delay/response_now
	// mechanism, and no function here returns this error.
	ErrResponseAlreadyStarted = errors.New("httpwire: response already started, response_now is illegal")
)
