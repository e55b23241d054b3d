//go:build unix

package mapping

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/meigma/hapzip/internal/testutil"
)

func openPattern(t *testing.T, size int) ([]byte, *os.File) {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	f, err := os.Open(testutil.WriteFile(t, "pattern.bin", data))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return data, f
}

func TestMapPrivate(t *testing.T) {
	t.Parallel()

	page := unix.Getpagesize()
	data, f := openPattern(t, 3*page)

	tests := []struct {
		name   string
		offset int
		length int
	}{
		{"page aligned", page, 100},
		{"unaligned", page + 37, 500},
		{"crosses page", page - 10, 20},
		{"from start", 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e, err := MapPrivate(f.Fd(), "p", int64(tt.offset), int64(tt.length), true)
			require.NoError(t, err)
			assert.Equal(t, Private, e.Kind())
			assert.True(t, e.Compressed())
			assert.Equal(t, data[tt.offset:tt.offset+tt.length], e.Data())

			require.NoError(t, e.Close())
			require.NoError(t, e.Close())
			assert.Nil(t, e.Data())
		})
	}
}

func TestMapShared(t *testing.T) {
	t.Parallel()

	data, f := openPattern(t, 8192)
	lease := &countingLease{}

	e, err := MapShared(f.Fd(), lease, "main.abc", 4100, 1000, false)
	require.NoError(t, err)
	assert.Equal(t, Shared, e.Kind())
	assert.Equal(t, data[4100:5100], e.Data())
	assert.Zero(t, lease.released)

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	assert.Equal(t, 1, lease.released)
}

func TestMapInvalidDescriptor(t *testing.T) {
	t.Parallel()

	lease := &countingLease{}
	_, err := MapShared(^uintptr(0), lease, "bad", 0, 16, false)
	require.Error(t, err)
	assert.Equal(t, 1, lease.released)

	_, err = MapPrivate(^uintptr(0), "bad", 0, 16, false)
	require.Error(t, err)
}
