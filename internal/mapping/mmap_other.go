//go:build !unix

package mapping

import (
	"errors"
	"fmt"
)

func mapRegion(_ uintptr, _, length int64, _ bool) ([]byte, int, error) {
	if err := checkLength(length); err != nil {
		return nil, 0, err
	}
	return nil, 0, fmt.Errorf("memory mapping: %w", errors.ErrUnsupported)
}

func unmap([]byte) error {
	return nil
}
