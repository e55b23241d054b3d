package directory

import (
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/meigma/hapzip/internal/zipfmt"
	"github.com/meigma/hapzip/internal/ziptype"
)

// Source is the byte range reader the directory is parsed from.
type Source interface {
	ReadRange(off, length int64) ([]byte, error)
	Size() int64
}

// Directory is the parsed table of contents of an archive.
//
// A Directory is safe for concurrent use. After Close every query reports
// a miss and listings return ErrClosed.
type Directory struct {
	mu           sync.RWMutex
	closed       bool
	entries      map[string]*ziptype.Entry
	names        []string
	index        Index
	contentStart int64
	policy       CachePolicy
	logger       *slog.Logger
}

// Option configures a Directory.
type Option func(*Directory)

// WithCachePolicy selects the directory index strategy. The default is CacheAuto.
func WithCachePolicy(p CachePolicy) Option {
	return func(d *Directory) {
		d.policy = p
	}
}

// WithLogger sets the logger for directory events.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Directory) {
		d.logger = logger
	}
}

// log returns the logger, falling back to a discard logger if nil.
func (d *Directory) log() *slog.Logger {
	if d.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return d.logger
}

// Open locates the end of central directory record at the tail of src,
// validates it, and parses every central directory record. Any malformed
// record fails the whole open.
func Open(src Source, opts ...Option) (*Directory, error) {
	d := &Directory{policy: CacheAuto}
	for _, opt := range opts {
		opt(d)
	}

	size := src.Size()
	if size < zipfmt.EndOfCentralLen {
		return nil, fmt.Errorf("%w: %d bytes is too small for an archive", ziptype.ErrCorruptArchive, size)
	}
	eocdPos := size - zipfmt.EndOfCentralLen
	buf, err := src.ReadRange(eocdPos, zipfmt.EndOfCentralLen)
	if err != nil {
		return nil, fmt.Errorf("%w: read end of central directory: %w", ziptype.ErrCorruptArchive, err)
	}
	eocd, err := zipfmt.ReadEndOfCentral(buf)
	if err != nil {
		return nil, err
	}
	if err := eocd.Validate(size); err != nil {
		return nil, err
	}

	d.contentStart = eocdPos - int64(eocd.CentralDirSize) - int64(eocd.CentralDirOffset)
	cd, err := src.ReadRange(d.contentStart+int64(eocd.CentralDirOffset), int64(eocd.CentralDirSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read central directory: %w", ziptype.ErrCorruptArchive, err)
	}

	total := int(eocd.TotalEntries)
	d.entries = make(map[string]*ziptype.Entry, total)
	d.names = make([]string, 0, total)
	pos := 0
	for i := range total {
		entry, n, err := zipfmt.ReadCentralEntry(cd[pos:])
		if err != nil {
			return nil, fmt.Errorf("central directory entry %d: %w", i, err)
		}
		pos += n
		if _, dup := d.entries[entry.Name]; dup {
			d.log().Debug("duplicate entry ignored", "name", entry.Name)
			continue
		}
		d.entries[entry.Name] = &entry
		d.names = append(d.names, entry.Name)
	}
	slices.Sort(d.names)
	d.index = newIndex(d.policy, d.names, d.log())

	d.log().Debug("central directory parsed",
		"entries", len(d.names),
		"content_start", d.contentStart,
		"policy", d.policy.String())
	return d, nil
}

// ContentStart returns the absolute offset that entry offsets are relative to.
// It is non-zero for archives carrying prefix data.
func (d *Directory) ContentStart() int64 {
	return d.contentStart
}

// Len returns the number of distinct entries.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.names)
}

// Lookup returns the entry with exactly this name. The name is not normalized.
func (d *Directory) Lookup(name string) (*ziptype.Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, false
	}
	e, ok := d.entries[name]
	return e, ok
}

// HasEntry reports whether an entry with exactly this name exists.
func (d *Directory) HasEntry(name string) bool {
	_, ok := d.Lookup(name)
	return ok
}

// Entries returns an iterator over all entries in name order.
func (d *Directory) Entries() iter.Seq[*ziptype.Entry] {
	return func(yield func(*ziptype.Entry) bool) {
		d.mu.RLock()
		if d.closed {
			d.mu.RUnlock()
			return
		}
		entries := make([]*ziptype.Entry, 0, len(d.names))
		for _, name := range d.names {
			entries = append(entries, d.entries[name])
		}
		d.mu.RUnlock()

		for _, e := range entries {
			if !yield(e) {
				return
			}
		}
	}
}

// IsDirectory reports whether p names a directory in the archive.
//
// "/" is always a directory and "" never is. An explicit "p/" entry wins;
// a plain file entry named p makes the answer false even if other entries
// lie below it.
func (d *Directory) IsDirectory(p string) bool {
	key, root, ok := dirKey(p)
	if !ok {
		return false
	}
	if root {
		return true
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	if _, ok := d.entries[key]; ok {
		return true
	}
	if e, ok := d.entries[strings.TrimSuffix(key, "/")]; ok && !e.IsDir() {
		return false
	}
	return d.index.IsDir(key)
}

// ListFiles returns every file entry below prefix, recursively and sorted.
// The root ("" or "/") lists every file in the archive.
func (d *Directory) ListFiles(prefix string) ([]string, error) {
	return d.list("listfiles", prefix, Index.Files)
}

// ListChildNames returns the distinct immediate child names below prefix,
// sorted and without trailing slashes. At the root this is the first path
// segment of every entry.
func (d *Directory) ListChildNames(prefix string) ([]string, error) {
	return d.list("listchildren", prefix, Index.Children)
}

func (d *Directory) list(op, prefix string, query func(Index, string) []string) ([]string, error) {
	key := ""
	if !isRoot(prefix) {
		k, _, ok := dirKey(prefix)
		if !ok {
			return nil, fmt.Errorf("%s %q: %w", op, prefix, ziptype.ErrInvalidRequest)
		}
		key = k
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, fmt.Errorf("%s %q: %w", op, prefix, ziptype.ErrClosed)
	}
	return query(d.index, key), nil
}

// Close drops the entry map and any cached tree. Close is idempotent.
func (d *Directory) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	if d.index != nil {
		d.index.Release()
	}
	d.entries = nil
	d.names = nil
	d.index = nil
}
