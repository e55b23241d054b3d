package ziptype

import (
	"errors"
	"io/fs"
)

// Sentinel errors for archive operations.
var (
	// ErrNotFound is returned when the archive file is missing, unreadable or empty.
	ErrNotFound = errors.New("hapzip: archive not found")

	// ErrCorruptArchive is returned for any structural or integrity mismatch.
	ErrCorruptArchive = errors.New("hapzip: corrupt archive")

	// ErrOutOfRange is returned when a byte range exceeds the known source length.
	ErrOutOfRange = errors.New("hapzip: range out of bounds")

	// ErrUnsupportedCompression is returned for methods other than store and deflate.
	ErrUnsupportedCompression = errors.New("hapzip: unsupported compression method")

	// ErrDecodeStall is returned when inflate repeatedly produces no output.
	ErrDecodeStall = errors.New("hapzip: inflate stalled")

	// ErrDecodeFailure is returned when inflate reports an error.
	ErrDecodeFailure = errors.New("hapzip: inflate failed")

	// ErrInvalidRequest is returned for malformed or disallowed requests.
	ErrInvalidRequest = errors.New("hapzip: invalid request")

	// ErrClosed is returned when operating on a closed archive or source.
	ErrClosed = fs.ErrClosed
)
