// Package source provides positioned, bounds-checked reads over an archive file.
package source

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/meigma/hapzip/internal/sizing"
	"github.com/meigma/hapzip/internal/ziptype"
)

// File is a read-only byte source with a known length.
//
// The underlying handle is reference counted: the owner holds one reference
// and every outstanding Lease holds another. The handle is closed when the
// last reference is released.
type File struct {
	r     io.ReaderAt
	c     io.Closer
	fd    uintptr
	hasFd bool
	name  string
	size  int64

	mu     sync.Mutex
	refs   int
	closed bool
}

// Open opens path read-only. A missing, unreadable or empty file yields ErrNotFound.
func Open(path string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ziptype.ErrNotFound, path, err)
	}
	if info.IsDir() || info.Size() == 0 {
		return nil, fmt.Errorf("%w: %s: not a regular non-empty file", ziptype.ErrNotFound, path)
	}
	f, err := os.Open(path) //nolint:gosec // User-provided path is intentional
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ziptype.ErrNotFound, path, err)
	}
	return &File{
		r:     f,
		c:     f,
		fd:    f.Fd(),
		hasFd: true,
		name:  path,
		size:  info.Size(),
		refs:  1,
	}, nil
}

// New wraps an arbitrary reader of the given size. Sources created this way
// have no file descriptor and cannot be memory mapped. If r implements
// io.Closer it is closed with the last reference.
func New(r io.ReaderAt, size int64, name string) (*File, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %s: empty source", ziptype.ErrNotFound, name)
	}
	f := &File{r: r, name: name, size: size, refs: 1}
	if c, ok := r.(io.Closer); ok {
		f.c = c
	}
	return f, nil
}

// Name returns the path or label the source was opened with.
func (f *File) Name() string {
	return f.name
}

// Size returns the source length in bytes.
func (f *File) Size() int64 {
	return f.size
}

// Fd returns the raw descriptor for mapping. ok is false for sources without
// a descriptor or after the handle has been closed.
func (f *File) Fd() (fd uintptr, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasFd || f.refs == 0 {
		return 0, false
	}
	return f.fd, true
}

// ReadRange reads exactly length bytes at off into a new buffer.
func (f *File) ReadRange(off, length int64) ([]byte, error) {
	if !sizing.Within(off, length, f.size) {
		return nil, fmt.Errorf("%w: [%d, +%d) of %d", ziptype.ErrOutOfRange, off, length, f.size)
	}
	buf := make([]byte, length)
	if err := f.readFull(buf, off); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadRangeInto fills p from off. It fails rather than returning a partial read.
func (f *File) ReadRangeInto(p []byte, off int64) error {
	if !sizing.Within(off, int64(len(p)), f.size) {
		return fmt.Errorf("%w: [%d, +%d) of %d", ziptype.ErrOutOfRange, off, len(p), f.size)
	}
	return f.readFull(p, off)
}

// readFull retries short reads until p is full. A read that makes no
// progress while bytes are outstanding is fatal.
func (f *File) readFull(p []byte, off int64) error {
	for done := 0; done < len(p); {
		n, err := f.r.ReadAt(p[done:], off+int64(done))
		if n > 0 {
			done += n
			continue
		}
		if err == nil || err == io.EOF {
			return fmt.Errorf("%w: short read at %d (%d of %d bytes)", ziptype.ErrOutOfRange, off, done, len(p))
		}
		return fmt.Errorf("read %s at %d: %w", f.name, off+int64(done), err)
	}
	return nil
}

// Lease takes a reference that keeps the handle open until released.
func (f *File) Lease() (*Lease, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refs == 0 {
		return nil, ziptype.ErrClosed
	}
	f.refs++
	return &Lease{f: f}, nil
}

// Close releases the owner's reference. Further calls are no-ops.
func (f *File) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()
	return f.release()
}

// IsOpen reports whether the handle is still open.
func (f *File) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refs > 0
}

func (f *File) release() error {
	f.mu.Lock()
	f.refs--
	last := f.refs == 0
	f.mu.Unlock()
	if last && f.c != nil {
		return f.c.Close()
	}
	return nil
}

// Lease is a reference on a File's handle, held by consumers (such as
// shared memory mappings) that must outlive the owner's Close.
type Lease struct {
	f    *File
	once sync.Once
}

// Release drops the reference. Only the first call has an effect.
func (l *Lease) Release() error {
	var err error
	l.once.Do(func() {
		err = l.f.release()
	})
	return err
}
