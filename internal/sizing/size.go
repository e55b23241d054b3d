// Package sizing provides safe size arithmetic and conversions to prevent overflow.
package sizing

import "math"

// ToInt converts a uint64 to int, returning overflowErr if it doesn't fit.
func ToInt(size uint64, overflowErr error) (int, error) {
	if size > uint64(math.MaxInt) {
		return 0, overflowErr
	}
	return int(size), nil
}

// Within reports whether [off, off+length) lies inside a source of the given size.
// The comparison never computes off+length, so it cannot overflow.
func Within(off, length, size int64) bool {
	if off < 0 || length < 0 || size < 0 {
		return false
	}
	if length == 0 {
		return off <= size
	}
	return off < size && length <= size-off
}
