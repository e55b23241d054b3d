// Package testutil builds byte-exact ZIP fixtures for tests.
package testutil

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/flate"
)

// Compression methods understood by the builder.
const (
	Store   uint16 = 0
	Deflate uint16 = 8
)

// Fixed timestamp written for every entry (2024-05-17 12:30:10).
const (
	testDOSDate uint16 = (44 << 9) | (5 << 5) | 17
	testDOSTime uint16 = (12 << 11) | (30 << 5) | 5
)

// TestEntry describes an entry to write.
type TestEntry struct {
	Name string
	Data []byte

	// Method is Store or Deflate. Other values are written verbatim with
	// uncompressed data, for unsupported-method tests.
	Method uint16

	// Deferred writes zero sizes in the local header and a signed data
	// descriptor after the payload.
	Deferred bool

	// Extra is written to both the local and the central extra field.
	Extra []byte
}

// EntryLayout records where an entry landed in the built archive.
// Offsets are absolute positions in the returned bytes.
type EntryLayout struct {
	Name        string
	LocalOffset int
	DataOffset  int
	DataLength  int
	CentralOff  int
}

// Layout describes the structure of a built archive.
type Layout struct {
	Entries          []EntryLayout
	CentralDirOffset int
	EndOfCentral     int
}

// Entry returns the layout of the named entry.
func (l Layout) Entry(name string) EntryLayout {
	for _, e := range l.Entries {
		if e.Name == name {
			return e
		}
	}
	return EntryLayout{}
}

// BuildOption configures the builder.
type BuildOption func(*buildConfig)

type buildConfig struct {
	prefix []byte
}

// WithPrefix prepends data before the archive content, as self-extracting
// or signed bundles do. Entry offsets remain relative to the content start.
func WithPrefix(prefix []byte) BuildOption {
	return func(c *buildConfig) {
		c.prefix = prefix
	}
}

// BuildZip builds an archive containing entries.
func BuildZip(tb testing.TB, entries []TestEntry, opts ...BuildOption) []byte {
	tb.Helper()
	data, _ := BuildZipLayout(tb, entries, opts...)
	return data
}

// BuildZipLayout builds an archive and reports its layout.
func BuildZipLayout(tb testing.TB, entries []TestEntry, opts ...BuildOption) ([]byte, Layout) {
	tb.Helper()

	cfg := buildConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	var out bytes.Buffer
	out.Write(cfg.prefix)
	base := len(cfg.prefix)

	type record struct {
		entry    TestEntry
		crc      uint32
		payload  []byte
		localOff int
	}
	records := make([]record, 0, len(entries))
	layout := Layout{}

	for _, e := range entries {
		payload := e.Data
		if e.Method == Deflate {
			payload = deflate(tb, e.Data)
		}
		rec := record{
			entry:    e,
			crc:      crc32.ChecksumIEEE(e.Data),
			payload:  payload,
			localOff: out.Len() - base,
		}

		var flags uint16
		crc, csize, usize := rec.crc, uint32(len(payload)), uint32(len(e.Data))
		if e.Deferred {
			flags |= 1 << 3
			crc, csize, usize = 0, 0, 0
		}

		hdr := make([]byte, 30)
		binary.LittleEndian.PutUint32(hdr[0:4], 0x04034b50)
		binary.LittleEndian.PutUint16(hdr[4:6], 20)
		binary.LittleEndian.PutUint16(hdr[6:8], flags)
		binary.LittleEndian.PutUint16(hdr[8:10], e.Method)
		binary.LittleEndian.PutUint16(hdr[10:12], testDOSTime)
		binary.LittleEndian.PutUint16(hdr[12:14], testDOSDate)
		binary.LittleEndian.PutUint32(hdr[14:18], crc)
		binary.LittleEndian.PutUint32(hdr[18:22], csize)
		binary.LittleEndian.PutUint32(hdr[22:26], usize)
		binary.LittleEndian.PutUint16(hdr[26:28], uint16(len(e.Name)))
		binary.LittleEndian.PutUint16(hdr[28:30], uint16(len(e.Extra)))
		out.Write(hdr)
		out.WriteString(e.Name)
		out.Write(e.Extra)

		dataOff := out.Len()
		out.Write(payload)

		if e.Deferred {
			dd := make([]byte, 16)
			binary.LittleEndian.PutUint32(dd[0:4], 0x08074b50)
			binary.LittleEndian.PutUint32(dd[4:8], rec.crc)
			binary.LittleEndian.PutUint32(dd[8:12], uint32(len(payload)))
			binary.LittleEndian.PutUint32(dd[12:16], uint32(len(e.Data)))
			out.Write(dd)
		}

		records = append(records, rec)
		layout.Entries = append(layout.Entries, EntryLayout{
			Name:        e.Name,
			LocalOffset: rec.localOff + base,
			DataOffset:  dataOff,
			DataLength:  len(payload),
		})
	}

	cdStart := out.Len()
	layout.CentralDirOffset = cdStart
	for i, rec := range records {
		e := rec.entry
		var flags uint16
		if e.Deferred {
			flags |= 1 << 3
		}
		var external uint32
		if len(e.Name) > 0 && e.Name[len(e.Name)-1] == '/' {
			external = 0x10
		}

		layout.Entries[i].CentralOff = out.Len()
		hdr := make([]byte, 46)
		binary.LittleEndian.PutUint32(hdr[0:4], 0x02014b50)
		binary.LittleEndian.PutUint16(hdr[4:6], 20)
		binary.LittleEndian.PutUint16(hdr[6:8], 20)
		binary.LittleEndian.PutUint16(hdr[8:10], flags)
		binary.LittleEndian.PutUint16(hdr[10:12], e.Method)
		binary.LittleEndian.PutUint16(hdr[12:14], testDOSTime)
		binary.LittleEndian.PutUint16(hdr[14:16], testDOSDate)
		binary.LittleEndian.PutUint32(hdr[16:20], rec.crc)
		binary.LittleEndian.PutUint32(hdr[20:24], uint32(len(rec.payload)))
		binary.LittleEndian.PutUint32(hdr[24:28], uint32(len(e.Data)))
		binary.LittleEndian.PutUint16(hdr[28:30], uint16(len(e.Name)))
		binary.LittleEndian.PutUint16(hdr[30:32], uint16(len(e.Extra)))
		binary.LittleEndian.PutUint32(hdr[38:42], external)
		binary.LittleEndian.PutUint32(hdr[42:46], uint32(rec.localOff))
		out.Write(hdr)
		out.WriteString(e.Name)
		out.Write(e.Extra)
	}
	cdSize := out.Len() - cdStart

	layout.EndOfCentral = out.Len()
	eocd := make([]byte, 22)
	binary.LittleEndian.PutUint32(eocd[0:4], 0x06054b50)
	binary.LittleEndian.PutUint16(eocd[8:10], uint16(len(records)))
	binary.LittleEndian.PutUint16(eocd[10:12], uint16(len(records)))
	binary.LittleEndian.PutUint32(eocd[12:16], uint32(cdSize))
	binary.LittleEndian.PutUint32(eocd[16:20], uint32(cdStart-base))
	out.Write(eocd)

	return out.Bytes(), layout
}

// WriteZip builds an archive and writes it to a file in a fresh temp dir.
func WriteZip(tb testing.TB, name string, entries []TestEntry, opts ...BuildOption) string {
	tb.Helper()
	return WriteFile(tb, name, BuildZip(tb, entries, opts...))
}

// WriteFile writes data to name inside a fresh temp dir and returns the path.
func WriteFile(tb testing.TB, name string, data []byte) string {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		tb.Fatalf("write fixture: %v", err)
	}
	return path
}

// DeflateBytes compresses data as a raw DEFLATE stream.
func DeflateBytes(tb testing.TB, data []byte) []byte {
	tb.Helper()
	return deflate(tb, data)
}

func deflate(tb testing.TB, data []byte) []byte {
	tb.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		tb.Fatalf("flate writer: %v", err)
	}
	if _, err := w.Write(data); err != nil {
		tb.Fatalf("flate write: %v", err)
	}
	if err := w.Close(); err != nil {
		tb.Fatalf("flate close: %v", err)
	}
	return buf.Bytes()
}

// WriteZipAt builds an archive and writes it to path.
func WriteZipAt(tb testing.TB, path string, entries []TestEntry, opts ...BuildOption) {
	tb.Helper()
	if err := os.WriteFile(path, BuildZip(tb, entries, opts...), 0o600); err != nil {
		tb.Fatalf("write fixture: %v", err)
	}
}
