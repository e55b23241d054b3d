package ziptype

import (
	"strings"
	"time"
)

// Method identifies the compression method of an entry.
type Method uint16

const (
	MethodStore   Method = 0
	MethodDeflate Method = 8
)

// String returns the human-readable name of the method.
func (m Method) String() string {
	switch m {
	case MethodStore:
		return "store"
	case MethodDeflate:
		return "deflate"
	default:
		return "unknown"
	}
}

// Supported reports whether the method can be decoded.
func (m Method) Supported() bool {
	return m == MethodStore || m == MethodDeflate
}

// FlagDataDescriptor marks entries whose CRC and sizes follow the payload.
const FlagDataDescriptor uint16 = 1 << 3

// MaxNameLen is the longest entry name kept verbatim. Longer names are truncated.
const MaxNameLen = 4095

// Entry is a parsed central directory record.
type Entry struct {
	// Name is the entry name exactly as encoded in the archive (possibly truncated).
	Name string

	// Truncated is set when the encoded name exceeded MaxNameLen.
	Truncated bool

	// NameLength is the name length declared by the central directory record.
	NameLength uint16

	// ExtraLength and CommentLength are the central record's variable field lengths.
	ExtraLength   uint16
	CommentLength uint16

	Method            Method
	Flags             uint16
	CRC32             uint32
	CompressedSize    uint32
	UncompressedSize  uint32
	LocalHeaderOffset uint32
	ExternalAttrs     uint32

	// ModTime and ModDate are MS-DOS packed timestamps.
	ModTime uint16
	ModDate uint16
}

// IsDir reports whether the entry names a directory.
func (e *Entry) IsDir() bool {
	return strings.HasSuffix(e.Name, "/")
}

// Deferred reports whether the sizes live in a trailing data descriptor.
func (e *Entry) Deferred() bool {
	return e.Flags&FlagDataDescriptor != 0
}

// Modified decodes the MS-DOS timestamp in UTC.
func (e *Entry) Modified() time.Time {
	return DOSTime(e.ModDate, e.ModTime)
}

// DOSTime converts an MS-DOS date and time pair. Out-of-range month and day
// values are clamped to 1.
func DOSTime(dosDate, dosTime uint16) time.Time {
	day := dosDate & 0x1f
	month := (dosDate >> 5) & 0x0f
	year := int((dosDate>>9)&0x7f) + 1980
	second := (dosTime & 0x1f) * 2
	minute := (dosTime >> 5) & 0x3f
	hour := (dosTime >> 11) & 0x1f

	if month < 1 || month > 12 {
		month = 1
	}
	if day < 1 || day > 31 {
		day = 1
	}
	return time.Date(year, time.Month(month), int(day), int(hour), int(minute), int(second), 0, time.UTC)
}

// Location is the absolute position of an entry's raw payload after
// its local header has been validated.
type Location struct {
	Name string

	// Offset is the absolute byte offset of the payload in the source.
	Offset int64

	// Length is the raw (possibly compressed) payload length.
	Length int64

	Method           Method
	UncompressedSize uint32
	CRC32            uint32
}

// Compressed reports whether the payload needs decoding.
func (l Location) Compressed() bool {
	return l.Method != MethodStore
}
