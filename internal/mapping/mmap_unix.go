//go:build unix

package mapping

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/meigma/hapzip/internal/sizing"
	"github.com/meigma/hapzip/internal/ziptype"
)

// mapRegion maps [offset, offset+length) of fd read-only. The mapping
// starts at the enclosing page boundary; adjust is the distance from there
// to offset.
func mapRegion(fd uintptr, offset, length int64, shared bool) (region []byte, adjust int, err error) {
	if err := checkLength(length); err != nil {
		return nil, 0, err
	}
	if offset < 0 {
		return nil, 0, fmt.Errorf("%w: negative offset %d", ziptype.ErrInvalidRequest, offset)
	}
	page := int64(unix.Getpagesize())
	if page <= 0 {
		return nil, 0, errors.New("page size unavailable")
	}

	pad := offset % page
	size, err := sizing.ToInt(uint64(length)+uint64(pad), ziptype.ErrOutOfRange)
	if err != nil {
		return nil, 0, err
	}

	flags := unix.MAP_PRIVATE
	if shared {
		flags = unix.MAP_SHARED
	}
	region, err = unix.Mmap(int(fd), offset-pad, size, unix.PROT_READ, flags)
	if err != nil {
		return nil, 0, fmt.Errorf("mmap: %w", err)
	}
	return region, int(pad), nil
}

func unmap(region []byte) error {
	if region == nil {
		return nil
	}
	if err := unix.Munmap(region); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	return nil
}
