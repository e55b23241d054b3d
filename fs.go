package hapzip

import (
	"bytes"
	"io"
	"io/fs"
	"path"
	"time"

	"github.com/meigma/hapzip/internal/ziptype"
)

// Interface compliance.
var (
	_ fs.FS         = (*Archive)(nil)
	_ fs.StatFS     = (*Archive)(nil)
	_ fs.ReadFileFS = (*Archive)(nil)
	_ fs.ReadDirFS  = (*Archive)(nil)
)

// Open implements fs.FS.
//
// Files are decoded and verified in full before Open returns. Directories
// are synthesized from entry names; explicit directory entries are not
// required.
func (a *Archive) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	if a.closed.Load() {
		return nil, &fs.PathError{Op: "open", Path: name, Err: ErrClosed}
	}

	if e, ok := a.dir.Lookup(name); ok && !e.IsDir() {
		content, err := a.codec.ExtractToBuffer(e)
		if err != nil {
			return nil, &fs.PathError{Op: "open", Path: name, Err: err}
		}
		return &openFile{Reader: bytes.NewReader(content), info: newFileInfo(e)}, nil
	}
	if name == "." || a.dir.IsDirectory(name) {
		return &openDir{a: a, name: name}, nil
	}
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

// Stat implements fs.StatFS. It reads only the central directory.
func (a *Archive) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	if a.closed.Load() {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: ErrClosed}
	}

	if e, ok := a.dir.Lookup(name); ok && !e.IsDir() {
		return newFileInfo(e), nil
	}
	if name == "." {
		return dirInfo{name: "."}, nil
	}
	if a.dir.IsDirectory(name) {
		return dirInfo{name: path.Base(name)}, nil
	}
	return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
}

// ReadDir implements fs.ReadDirFS.
//
// Entries are sorted by name. A name that is both a file and a directory
// prefix is reported as a file.
func (a *Archive) ReadDir(name string) ([]fs.DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	if a.closed.Load() {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: ErrClosed}
	}

	prefix := "/"
	if name != "." {
		if !a.dir.IsDirectory(name) {
			return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
		}
		prefix = name
	}
	children, err := a.dir.ListChildNames(prefix)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}

	entries := make([]fs.DirEntry, 0, len(children))
	for _, child := range children {
		full := child
		if name != "." {
			full = name + "/" + child
		}
		if e, ok := a.dir.Lookup(full); ok && !e.IsDir() {
			entries = append(entries, fs.FileInfoToDirEntry(newFileInfo(e)))
			continue
		}
		entries = append(entries, fs.FileInfoToDirEntry(dirInfo{name: child}))
	}
	return entries, nil
}

// fileInfo implements fs.FileInfo for file entries.
type fileInfo struct {
	name    string
	size    int64
	modTime time.Time
}

func newFileInfo(e *ziptype.Entry) fileInfo {
	return fileInfo{
		name:    path.Base(e.Name),
		size:    int64(e.UncompressedSize),
		modTime: e.Modified(),
	}
}

func (fi fileInfo) Name() string       { return fi.name }
func (fi fileInfo) Size() int64        { return fi.size }
func (fi fileInfo) Mode() fs.FileMode  { return 0o444 }
func (fi fileInfo) ModTime() time.Time { return fi.modTime }
func (fi fileInfo) IsDir() bool        { return false }
func (fi fileInfo) Sys() any           { return nil }

// dirInfo implements fs.FileInfo for synthetic directories.
type dirInfo struct {
	name string
}

func (di dirInfo) Name() string       { return di.name }
func (di dirInfo) Size() int64        { return 0 }
func (di dirInfo) Mode() fs.FileMode  { return fs.ModeDir | 0o555 }
func (di dirInfo) ModTime() time.Time { return time.Time{} }
func (di dirInfo) IsDir() bool        { return true }
func (di dirInfo) Sys() any           { return nil }

// openFile is a verified, fully decoded entry.
type openFile struct {
	*bytes.Reader
	info fileInfo
}

func (f *openFile) Stat() (fs.FileInfo, error) { return f.info, nil }
func (f *openFile) Close() error               { return nil }

// openDir implements fs.ReadDirFile for synthetic directories.
type openDir struct {
	a       *Archive
	name    string
	entries []fs.DirEntry
	loaded  bool
	offset  int
}

func (d *openDir) Read(_ []byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.name, Err: fs.ErrInvalid}
}

func (d *openDir) Stat() (fs.FileInfo, error) {
	if d.name == "." {
		return dirInfo{name: "."}, nil
	}
	return dirInfo{name: path.Base(d.name)}, nil
}

func (d *openDir) Close() error {
	return nil
}

func (d *openDir) ReadDir(n int) ([]fs.DirEntry, error) {
	if !d.loaded {
		entries, err := d.a.ReadDir(d.name)
		if err != nil {
			return nil, err
		}
		d.entries = entries
		d.loaded = true
	}

	rest := d.entries[d.offset:]
	if n <= 0 {
		d.offset = len(d.entries)
		return rest, nil
	}
	if len(rest) == 0 {
		return nil, io.EOF
	}
	n = min(n, len(rest))
	d.offset += n
	return rest[:n], nil
}
