package format

import "errors"

var (
	// ErrTruncated indicates the buffer lacked the bytes required for a value.
	ErrTruncated = errors.New("format: truncated buffer")
	// ErrInvalidEncoding indicates a value violated the encoding rules
	// (leading 0x00, non-canonical length, trailing garbage).
	ErrInvalidEncoding = errors.New("format: invalid encoding")
	// ErrBadFormatVersion indicates an unrecognized database format version.
	ErrBadFormatVersion = errors.New("format: unrecognized format version")
	// ErrNotInitialized indicates the format version key is absent.
	ErrNotInitialized = errors.New("format: database not initialized")
)
