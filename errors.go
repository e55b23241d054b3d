package hapzip

import "github.com/meigma/hapzip/internal/ziptype"

// Sentinel errors re-exported from internal/ziptype.
var (
	// ErrNotFound is returned when the archive file is missing, unreadable or empty.
	ErrNotFound = ziptype.ErrNotFound

	// ErrCorruptArchive is returned for any structural or integrity mismatch:
	// bad signatures, local and central records that disagree, end of central
	// directory violations, and decoded output with the wrong size or CRC.
	ErrCorruptArchive = ziptype.ErrCorruptArchive

	// ErrOutOfRange is returned when a byte range exceeds the archive length.
	ErrOutOfRange = ziptype.ErrOutOfRange

	// ErrUnsupportedCompression is returned for methods other than store and deflate.
	ErrUnsupportedCompression = ziptype.ErrUnsupportedCompression

	// ErrDecodeStall is returned when inflate repeatedly produces no output.
	ErrDecodeStall = ziptype.ErrDecodeStall

	// ErrDecodeFailure is returned when inflate reports an error.
	ErrDecodeFailure = ziptype.ErrDecodeFailure

	// ErrInvalidRequest is returned for malformed or disallowed requests, such
	// as a shared mapping of a non-bytecode entry.
	ErrInvalidRequest = ziptype.ErrInvalidRequest

	// ErrClosed is returned when using a closed archive. It is fs.ErrClosed.
	ErrClosed = ziptype.ErrClosed
)
