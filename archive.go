package hapzip

import (
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meigma/hapzip/internal/codec"
	"github.com/meigma/hapzip/internal/directory"
	"github.com/meigma/hapzip/internal/mapping"
	"github.com/meigma/hapzip/internal/source"
	"github.com/meigma/hapzip/internal/ziptype"
)

// Re-export types from internal packages for the public API.
type (
	// Method identifies the compression method of an entry.
	Method = ziptype.Method

	// MappedEntry is the materialized raw payload of one entry. It must be
	// closed, and its Data must not be used after Close.
	MappedEntry = mapping.Entry

	// MapKind selects how Map materializes a payload.
	MapKind = mapping.Kind
)

// Compression methods.
const (
	MethodStore   = ziptype.MethodStore
	MethodDeflate = ziptype.MethodDeflate
)

// Mapping kinds.
const (
	// MapHeap copies the raw payload into memory.
	MapHeap = mapping.Heap

	// MapPrivate maps the raw payload copy-on-write.
	MapPrivate = mapping.Private

	// MapShared maps the raw payload shared with the file. Only stored
	// entries with the bytecode extension qualify. The mapping keeps the
	// archive file open until it is closed.
	MapShared = mapping.Shared
)

// EntryInfo describes a validated entry.
type EntryInfo struct {
	// Name is the entry name as stored in the archive.
	Name string

	// Offset is the absolute position of the raw payload in the archive file.
	Offset int64

	// Length is the raw (possibly compressed) payload length.
	Length int64

	// Size is the decoded content length.
	Size int64

	Method  Method
	CRC32   uint32
	ModTime time.Time

	// Truncated is set when the stored name exceeded the 4095-byte limit.
	Truncated bool
}

// Archive provides random access to the entries of one ZIP archive.
//
// Archive is safe for concurrent use. It implements fs.FS, fs.StatFS,
// fs.ReadFileFS and fs.ReadDirFS.
type Archive struct {
	path   string
	src    *source.File
	dir    *directory.Directory
	codec  *codec.Codec
	cfg    config
	closed atomic.Bool

	// newModel is fixed at open.
	newModel bool

	closeOnce sync.Once
	closeErr  error
}

// Open opens the archive at path and parses its central directory.
//
// A missing, unreadable or empty file yields ErrNotFound. Any malformed
// directory record yields ErrCorruptArchive and no Archive.
func Open(path string, opts ...Option) (*Archive, error) {
	src, err := source.Open(path)
	if err != nil {
		return nil, err
	}
	return newArchive(path, src, opts)
}

// OpenReaderAt opens an archive held by r, which must expose size bytes.
// name identifies the archive in errors and IsSameArchive. If r implements
// io.Closer it is closed with the Archive.
//
// Mappings other than MapHeap need a file descriptor and fail for such
// archives.
func OpenReaderAt(r io.ReaderAt, size int64, name string, opts ...Option) (*Archive, error) {
	src, err := source.New(r, size, name)
	if err != nil {
		return nil, err
	}
	return newArchive(name, src, opts)
}

func newArchive(path string, src *source.File, opts []Option) (*Archive, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	a := &Archive{path: path, src: src, cfg: cfg}
	dir, err := directory.Open(src,
		directory.WithCachePolicy(cfg.cachePolicy),
		directory.WithLogger(a.log()),
	)
	if err != nil {
		_ = src.Close() //nolint:errcheck // open error takes precedence
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	a.dir = dir
	a.newModel = !dir.HasEntry(cfg.markerName)
	a.codec = codec.New(src, dir.ContentStart(),
		codec.WithVerifyCRC(cfg.verifyCRC),
		codec.WithDecoderPool(cfg.pool),
		codec.WithLogger(a.log()),
	)

	a.log().Debug("archive opened", "path", path, "entries", dir.Len(), "size", src.Size())
	return a, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (a *Archive) log() *slog.Logger {
	if a.cfg.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.cfg.logger
}

// Path returns the path or name the archive was opened with.
func (a *Archive) Path() string {
	return a.path
}

// IsSameArchive reports whether path names the file this archive was opened from.
func (a *Archive) IsSameArchive(path string) bool {
	return a.path == path || filepath.Clean(a.path) == filepath.Clean(path)
}

// Size returns the archive length in bytes.
func (a *Archive) Size() int64 {
	return a.src.Size()
}

// Len returns the number of entries.
func (a *Archive) Len() int {
	return a.dir.Len()
}

// IsNewPackagingModel reports whether the archive uses the newer packaging
// model, which is the case unless the marker entry exists at the root.
// The archive is probed at open, so the answer survives Close.
func (a *Archive) IsNewPackagingModel() bool {
	return a.newModel
}

// HasEntry reports whether an entry with exactly this name exists.
func (a *Archive) HasEntry(name string) bool {
	return a.dir.HasEntry(name)
}

// IsDirectory reports whether p names a directory. "/" always does and ""
// never does. A file entry named p wins over entries below p.
func (a *Archive) IsDirectory(p string) bool {
	return a.dir.IsDirectory(p)
}

// ListFiles returns every file below prefix, recursively and sorted.
// "" and "/" address the whole archive.
func (a *Archive) ListFiles(prefix string) ([]string, error) {
	return a.dir.ListFiles(prefix)
}

// ListChildNames returns the sorted immediate child names below prefix.
func (a *Archive) ListChildNames(prefix string) ([]string, error) {
	return a.dir.ListChildNames(prefix)
}

// Entries returns an iterator over the names of all entries, sorted.
func (a *Archive) Entries() iter.Seq[string] {
	return func(yield func(string) bool) {
		for e := range a.dir.Entries() {
			if !yield(e.Name) {
				return
			}
		}
	}
}

// lookup resolves name to its central directory entry.
func (a *Archive) lookup(op, name string) (*ziptype.Entry, error) {
	if a.closed.Load() {
		return nil, &fs.PathError{Op: op, Path: name, Err: ErrClosed}
	}
	e, ok := a.dir.Lookup(name)
	if !ok {
		return nil, &fs.PathError{Op: op, Path: name, Err: fs.ErrNotExist}
	}
	return e, nil
}

// FileInfo validates the local header of name and describes its payload.
func (a *Archive) FileInfo(name string) (EntryInfo, error) {
	e, err := a.lookup("fileinfo", name)
	if err != nil {
		return EntryInfo{}, err
	}
	loc, err := a.codec.Locate(e)
	if err != nil {
		return EntryInfo{}, err
	}
	return EntryInfo{
		Name:      e.Name,
		Offset:    loc.Offset,
		Length:    loc.Length,
		Size:      int64(loc.UncompressedSize),
		Method:    loc.Method,
		CRC32:     loc.CRC32,
		ModTime:   e.Modified(),
		Truncated: e.Truncated,
	}, nil
}

// ReadFile returns the decoded content of the entry with exactly this name.
// Nothing is returned unless the content passed verification.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	e, err := a.lookup("readfile", name)
	if err != nil {
		return nil, err
	}
	return a.codec.ExtractToBuffer(e)
}

// ExtractTo streams the decoded content of name to w and returns the byte
// count. Verification runs after the last byte, so w may have received
// content by the time a mismatch is reported.
func (a *Archive) ExtractTo(name string, w io.Writer) (int64, error) {
	e, err := a.lookup("extract", name)
	if err != nil {
		return 0, err
	}
	return a.codec.Extract(e, w)
}

// Map materializes the raw payload of name. Payloads are not decoded; use
// MappedEntry.Compressed to tell whether the caller must inflate them.
//
// MapShared requires a stored entry whose name ends with the bytecode
// extension and fails with ErrInvalidRequest otherwise.
func (a *Archive) Map(name string, kind MapKind) (*MappedEntry, error) {
	if kind == MapShared && !strings.HasSuffix(name, a.cfg.bytecodeExt) {
		return nil, &fs.PathError{Op: "map", Path: name,
			Err: fmt.Errorf("%w: shared mappings need the %s extension", ErrInvalidRequest, a.cfg.bytecodeExt)}
	}

	e, err := a.lookup("map", name)
	if err != nil {
		return nil, err
	}
	loc, err := a.codec.Locate(e)
	if err != nil {
		return nil, err
	}

	switch kind {
	case MapHeap:
		raw, err := a.src.ReadRange(loc.Offset, loc.Length)
		if err != nil {
			return nil, fmt.Errorf("map %s: %w", name, err)
		}
		return mapping.NewHeap(name, loc.Offset, raw, loc.Compressed()), nil
	case MapPrivate:
		return a.mapPrivate(name, loc)
	case MapShared:
		if loc.Compressed() {
			return nil, &fs.PathError{Op: "map", Path: name, Err: fmt.Errorf("%w: shared mappings need stored entries", ErrInvalidRequest)}
		}
		return a.mapShared(name, loc)
	default:
		return nil, &fs.PathError{Op: "map", Path: name, Err: fmt.Errorf("%w: unknown mapping kind %d", ErrInvalidRequest, kind)}
	}
}

// mapPrivate holds a lease while mapping so a concurrent Close cannot
// release the descriptor under it. The mapping itself needs no handle.
func (a *Archive) mapPrivate(name string, loc ziptype.Location) (*MappedEntry, error) {
	lease, err := a.src.Lease()
	if err != nil {
		return nil, &fs.PathError{Op: "map", Path: name, Err: err}
	}
	defer lease.Release() //nolint:errcheck // releasing our own reference

	fd, ok := a.src.Fd()
	if !ok {
		return nil, &fs.PathError{Op: "map", Path: name, Err: fmt.Errorf("%w: no file descriptor", ErrInvalidRequest)}
	}
	return mapping.MapPrivate(fd, name, loc.Offset, loc.Length, loc.Compressed())
}

func (a *Archive) mapShared(name string, loc ziptype.Location) (*MappedEntry, error) {
	lease, err := a.src.Lease()
	if err != nil {
		return nil, &fs.PathError{Op: "map", Path: name, Err: err}
	}
	fd, ok := a.src.Fd()
	if !ok {
		_ = lease.Release() //nolint:errcheck // reporting the missing descriptor
		return nil, &fs.PathError{Op: "map", Path: name, Err: fmt.Errorf("%w: no file descriptor", ErrInvalidRequest)}
	}
	m, err := mapping.MapShared(fd, lease, name, loc.Offset, loc.Length, false)
	if err != nil {
		return nil, err
	}
	a.log().Debug("shared mapping created", "name", name, "length", loc.Length)
	return m, nil
}

// Close drops the directory and releases the archive's hold on the file.
// Shared mappings keep the file open until they are closed. Close is
// idempotent.
func (a *Archive) Close() error {
	a.closeOnce.Do(func() {
		a.closed.Store(true)
		a.dir.Close()
		a.closeErr = a.src.Close()
		a.log().Debug("archive closed", "path", a.path)
	})
	return a.closeErr
}
