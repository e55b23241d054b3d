// Package mapping exposes the raw payload of an entry either as a heap copy
// or as a read-only memory mapping of the archive file.
//
// Payloads are not decoded here; a compressed entry maps to its compressed
// bytes. Every kind releases its resources on Close, so a mapped Entry must
// not be used after it is closed.
package mapping

import (
	"fmt"
	"sync"

	"github.com/meigma/hapzip/internal/ziptype"
)

// Kind selects how an entry payload is materialized.
type Kind uint8

const (
	// Heap copies the payload into memory owned by the Entry.
	Heap Kind = iota

	// Private maps the payload copy-on-write.
	Private

	// Shared maps the payload shared with the file. The mapping holds a
	// lease on the archive handle until it is closed.
	Shared
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case Heap:
		return "heap"
	case Private:
		return "private"
	case Shared:
		return "shared"
	default:
		return "unknown"
	}
}

// Releaser is a reference on the archive handle that a shared mapping keeps
// alive.
type Releaser interface {
	Release() error
}

// payload is either a heap buffer or a mapped region.
type payload interface {
	data() []byte
	release() error
}

type heapPayload struct {
	buf []byte
}

func (h *heapPayload) data() []byte   { return h.buf }
func (h *heapPayload) release() error { return nil }

// regionPayload is a page-aligned mapping; the payload starts adjust bytes
// into the region.
type regionPayload struct {
	region []byte
	adjust int
	length int
	lease  Releaser
}

func (r *regionPayload) data() []byte {
	return r.region[r.adjust : r.adjust+r.length]
}

func (r *regionPayload) release() error {
	err := unmap(r.region)
	r.region = nil
	if r.lease != nil {
		if lerr := r.lease.Release(); err == nil {
			err = lerr
		}
	}
	return err
}

// Entry is the materialized payload of one archive entry.
type Entry struct {
	name       string
	offset     int64
	compressed bool
	kind       Kind

	mu sync.Mutex
	p  payload
}

// NewHeap wraps raw payload bytes read from offset.
func NewHeap(name string, offset int64, raw []byte, compressed bool) *Entry {
	return &Entry{
		name:       name,
		offset:     offset,
		compressed: compressed,
		kind:       Heap,
		p:          &heapPayload{buf: raw},
	}
}

// MapPrivate maps length bytes at offset of fd copy-on-write.
func MapPrivate(fd uintptr, name string, offset, length int64, compressed bool) (*Entry, error) {
	region, adjust, err := mapRegion(fd, offset, length, false)
	if err != nil {
		return nil, fmt.Errorf("map %s: %w", name, err)
	}
	return &Entry{
		name:       name,
		offset:     offset,
		compressed: compressed,
		kind:       Private,
		p:          &regionPayload{region: region, adjust: adjust, length: int(length)},
	}, nil
}

// MapShared maps length bytes at offset of fd shared with the file. The
// Entry takes ownership of lease and releases it on Close, or immediately
// if the mapping fails.
func MapShared(fd uintptr, lease Releaser, name string, offset, length int64, compressed bool) (*Entry, error) {
	region, adjust, err := mapRegion(fd, offset, length, true)
	if err != nil {
		if lease != nil {
			_ = lease.Release() //nolint:errcheck // mapping error takes precedence
		}
		return nil, fmt.Errorf("map %s: %w", name, err)
	}
	return &Entry{
		name:       name,
		offset:     offset,
		compressed: compressed,
		kind:       Shared,
		p:          &regionPayload{region: region, adjust: adjust, length: int(length), lease: lease},
	}, nil
}

// Name returns the entry name.
func (e *Entry) Name() string { return e.name }

// Offset returns the absolute payload offset in the archive source.
func (e *Entry) Offset() int64 { return e.offset }

// Compressed reports whether Data holds DEFLATE bytes the caller must decode.
func (e *Entry) Compressed() bool { return e.compressed }

// Kind returns how the payload was materialized.
func (e *Entry) Kind() Kind { return e.kind }

// Data returns the payload bytes, or nil once the Entry is closed.
// The slice is read-only for mapped kinds.
func (e *Entry) Data() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.p == nil {
		return nil
	}
	return e.p.data()
}

// Len returns the payload length, or 0 once closed.
func (e *Entry) Len() int {
	return len(e.Data())
}

// Close releases the payload. Mapped kinds are unmapped and shared mappings
// drop their lease. Close is idempotent.
func (e *Entry) Close() error {
	e.mu.Lock()
	p := e.p
	e.p = nil
	e.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.release()
}

func checkLength(length int64) error {
	if length <= 0 {
		return fmt.Errorf("%w: cannot map %d bytes", ziptype.ErrInvalidRequest, length)
	}
	return nil
}
