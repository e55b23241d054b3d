package codec_test

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/hapzip/internal/codec"
	"github.com/meigma/hapzip/internal/directory"
	"github.com/meigma/hapzip/internal/source"
	"github.com/meigma/hapzip/internal/testutil"
	"github.com/meigma/hapzip/internal/ziptype"
)

// fixture opens data and returns a codec plus the parsed directory.
func fixture(t *testing.T, data []byte, opts ...codec.Option) (*codec.Codec, *directory.Directory) {
	t.Helper()
	src, err := source.New(bytes.NewReader(data), int64(len(data)), "test.zip")
	require.NoError(t, err)
	dir, err := directory.Open(src)
	require.NoError(t, err)
	t.Cleanup(dir.Close)
	return codec.New(src, dir.ContentStart(), opts...), dir
}

func entry(t *testing.T, dir *directory.Directory, name string) *ziptype.Entry {
	t.Helper()
	e, ok := dir.Lookup(name)
	require.True(t, ok, "entry %s", name)
	return e
}

func randomBytes(n int) []byte {
	r := rand.New(rand.NewPCG(1, 2))
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(r.Uint32())
	}
	return out
}

func TestExtractToBuffer(t *testing.T) {
	t.Parallel()

	large := randomBytes(3*codec.OutputChunk/2 + 17)
	tests := []struct {
		name  string
		entry testutil.TestEntry
	}{
		{"stored", testutil.TestEntry{Name: "a.txt", Data: []byte("hello")}},
		{"repeated x", testutil.TestEntry{Name: "x.bin", Data: bytes.Repeat([]byte("x"), 100000), Method: testutil.Deflate}},
		{"empty stored", testutil.TestEntry{Name: "empty", Data: nil}},
		{"empty deflate", testutil.TestEntry{Name: "empty.z", Data: nil, Method: testutil.Deflate}},
		{"large stored", testutil.TestEntry{Name: "big.raw", Data: large}},
		{"large deflate", testutil.TestEntry{Name: "big.z", Data: large, Method: testutil.Deflate}},
		{"deferred deflate", testutil.TestEntry{Name: "d.z", Data: []byte("streamed content"), Method: testutil.Deflate, Deferred: true}},
		{"deferred stored", testutil.TestEntry{Name: "d.raw", Data: []byte("streamed content"), Deferred: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, dir := fixture(t, testutil.BuildZip(t, []testutil.TestEntry{tt.entry}))

			got, err := c.ExtractToBuffer(entry(t, dir, tt.entry.Name))
			require.NoError(t, err)
			assert.Len(t, got, len(tt.entry.Data))
			assert.True(t, bytes.Equal(tt.entry.Data, got))
		})
	}
}

func TestExtract(t *testing.T) {
	t.Parallel()

	large := randomBytes(2*codec.OutputChunk + 5)
	entries := []testutil.TestEntry{
		{Name: "a.txt", Data: []byte("hello")},
		{Name: "x.bin", Data: bytes.Repeat([]byte("x"), 100000), Method: testutil.Deflate},
		{Name: "big.raw", Data: large},
		{Name: "big.z", Data: large, Method: testutil.Deflate},
		{Name: "d.z", Data: []byte("deferred"), Method: testutil.Deflate, Deferred: true},
	}
	c, dir := fixture(t, testutil.BuildZip(t, entries, testutil.WithPrefix([]byte("#!/bin/sh\nexit 0\n"))))

	for _, te := range entries {
		t.Run(te.Name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			n, err := c.Extract(entry(t, dir, te.Name), &buf)
			require.NoError(t, err)
			assert.Equal(t, int64(len(te.Data)), n)
			assert.True(t, bytes.Equal(te.Data, buf.Bytes()))
		})
	}
}

func TestLocate(t *testing.T) {
	t.Parallel()

	data, layout := testutil.BuildZipLayout(t, []testutil.TestEntry{
		{Name: "pad", Data: []byte("padding"), Extra: []byte{0xca, 0xfe, 0, 0}},
		{Name: "a.txt", Data: []byte("hello"), Extra: []byte{1, 0, 0, 0}},
	})
	c, dir := fixture(t, data)

	loc, err := c.Locate(entry(t, dir, "a.txt"))
	require.NoError(t, err)
	el := layout.Entry("a.txt")
	assert.Equal(t, int64(el.DataOffset), loc.Offset)
	assert.Equal(t, int64(5), loc.Length)
	assert.Equal(t, uint32(5), loc.UncompressedSize)
	assert.False(t, loc.Compressed())
}

func TestLocateCorrupt(t *testing.T) {
	t.Parallel()

	entries := []testutil.TestEntry{
		{Name: "a.txt", Data: []byte("hello")},
		{Name: "d.z", Data: []byte("deferred data"), Method: testutil.Deflate, Deferred: true},
	}

	tests := []struct {
		name   string
		target string
		mutate func(data []byte, el testutil.EntryLayout)
	}{
		{
			name:   "local signature",
			target: "a.txt",
			mutate: func(data []byte, el testutil.EntryLayout) { data[el.LocalOffset] = 'Q' },
		},
		{
			name:   "method disagrees",
			target: "a.txt",
			mutate: func(data []byte, el testutil.EntryLayout) {
				binary.LittleEndian.PutUint16(data[el.LocalOffset+8:], 8)
			},
		},
		{
			name:   "name length disagrees",
			target: "a.txt",
			mutate: func(data []byte, el testutil.EntryLayout) {
				binary.LittleEndian.PutUint16(data[el.LocalOffset+26:], 6)
			},
		},
		{
			name:   "name bytes disagree",
			target: "a.txt",
			mutate: func(data []byte, el testutil.EntryLayout) { data[el.LocalOffset+30] = 'b' },
		},
		{
			name:   "local crc disagrees",
			target: "a.txt",
			mutate: func(data []byte, el testutil.EntryLayout) { data[el.LocalOffset+14] ^= 0xff },
		},
		{
			name:   "local size disagrees",
			target: "a.txt",
			mutate: func(data []byte, el testutil.EntryLayout) {
				binary.LittleEndian.PutUint32(data[el.LocalOffset+22:], 4)
			},
		},
		{
			name:   "descriptor signature",
			target: "d.z",
			mutate: func(data []byte, el testutil.EntryLayout) { data[el.DataOffset+el.DataLength] = 0 },
		},
		{
			name:   "descriptor crc disagrees",
			target: "d.z",
			mutate: func(data []byte, el testutil.EntryLayout) { data[el.DataOffset+el.DataLength+4] ^= 0xff },
		},
		{
			name:   "payload past end",
			target: "a.txt",
			mutate: func(data []byte, el testutil.EntryLayout) {
				binary.LittleEndian.PutUint32(data[el.LocalOffset+18:], 1<<30)
				binary.LittleEndian.PutUint32(data[el.CentralOff+20:], 1<<30)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			data, layout := testutil.BuildZipLayout(t, entries)
			tt.mutate(data, layout.Entry(tt.target))
			c, dir := fixture(t, data)

			e := entry(t, dir, tt.target)
			_, err := c.Locate(e)
			require.ErrorIs(t, err, ziptype.ErrCorruptArchive)

			_, err = c.ExtractToBuffer(e)
			require.ErrorIs(t, err, ziptype.ErrCorruptArchive)

			var buf bytes.Buffer
			_, err = c.Extract(e, &buf)
			require.ErrorIs(t, err, ziptype.ErrCorruptArchive)
			assert.Zero(t, buf.Len())
		})
	}
}

func TestTrailingCompressedBytes(t *testing.T) {
	t.Parallel()

	for _, deferred := range []bool{false, true} {
		t.Run(fmt.Sprintf("deferred=%v", deferred), func(t *testing.T) {
			t.Parallel()

			data, layout := testutil.BuildZipLayout(t, []testutil.TestEntry{
				{Name: "x.z", Data: bytes.Repeat([]byte("x"), 1000), Method: testutil.Deflate, Deferred: deferred},
				{Name: "next.txt", Data: []byte("next")},
			})
			// Grow the declared compressed size so the span swallows
			// bytes past the end of the stream.
			el := layout.Entry("x.z")
			grown := uint32(el.DataLength + 4)
			binary.LittleEndian.PutUint32(data[el.CentralOff+20:], grown)
			if deferred {
				// Move the descriptor to where the grown size puts it.
				dd := el.DataOffset + el.DataLength
				desc := append([]byte(nil), data[dd:dd+16]...)
				binary.LittleEndian.PutUint32(desc[8:], grown)
				copy(data[dd+4:], desc)
				data[dd] = 0xab
			} else {
				binary.LittleEndian.PutUint32(data[el.LocalOffset+18:], grown)
			}
			c, dir := fixture(t, data)
			e := entry(t, dir, "x.z")

			loc, err := c.Locate(e)
			require.NoError(t, err)
			assert.Equal(t, int64(grown), loc.Length)

			_, err = c.ExtractToBuffer(e)
			require.ErrorIs(t, err, ziptype.ErrCorruptArchive)

			_, err = c.Extract(e, io.Discard)
			require.ErrorIs(t, err, ziptype.ErrCorruptArchive)
		})
	}
}

func TestLocateTruncatedName(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("n", ziptype.MaxNameLen+3)
	data, layout := testutil.BuildZipLayout(t, []testutil.TestEntry{{Name: long, Data: []byte("body")}})
	c, dir := fixture(t, data)

	e := entry(t, dir, long[:ziptype.MaxNameLen])
	require.True(t, e.Truncated)

	got, err := c.ExtractToBuffer(e)
	require.NoError(t, err)
	assert.Equal(t, []byte("body"), got)

	// The local name length is not compared once the central name was truncated.
	binary.LittleEndian.PutUint16(data[layout.Entry(long).LocalOffset+26:], ziptype.MaxNameLen)
	_, err = c.Locate(e)
	assert.NoError(t, err)
}

func TestUnsupportedMethod(t *testing.T) {
	t.Parallel()

	c, dir := fixture(t, testutil.BuildZip(t, []testutil.TestEntry{
		{Name: "b.bz2", Data: []byte("bzip2 data"), Method: 12},
	}))
	e := entry(t, dir, "b.bz2")

	_, err := c.Locate(e)
	require.ErrorIs(t, err, ziptype.ErrUnsupportedCompression)
	_, err = c.ExtractToBuffer(e)
	require.ErrorIs(t, err, ziptype.ErrUnsupportedCompression)
}

func TestChecksumMismatch(t *testing.T) {
	t.Parallel()

	data, layout := testutil.BuildZipLayout(t, []testutil.TestEntry{{Name: "a.txt", Data: []byte("hello")}})
	data[layout.Entry("a.txt").DataOffset] = 'j'

	c, dir := fixture(t, data)
	e := entry(t, dir, "a.txt")

	_, err := c.ExtractToBuffer(e)
	require.ErrorIs(t, err, ziptype.ErrCorruptArchive)

	_, err = c.Extract(e, &bytes.Buffer{})
	require.ErrorIs(t, err, ziptype.ErrCorruptArchive)

	lenient, dir := fixture(t, data, codec.WithVerifyCRC(false))
	got, err := lenient.ExtractToBuffer(entry(t, dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("jello"), got)
}

func TestCorruptDeflateStream(t *testing.T) {
	t.Parallel()

	data, layout := testutil.BuildZipLayout(t, []testutil.TestEntry{
		{Name: "z", Data: bytes.Repeat([]byte("abc"), 1000), Method: testutil.Deflate},
	})
	// Final block with the reserved block type.
	data[layout.Entry("z").DataOffset] = 0xff

	c, dir := fixture(t, data)
	e := entry(t, dir, "z")

	_, err := c.ExtractToBuffer(e)
	require.ErrorIs(t, err, ziptype.ErrDecodeFailure)
	_, err = c.Extract(e, &bytes.Buffer{})
	require.ErrorIs(t, err, ziptype.ErrDecodeFailure)
}

func TestSizeMismatch(t *testing.T) {
	t.Parallel()

	// Both headers agree on an uncompressed size one byte short.
	data, layout := testutil.BuildZipLayout(t, []testutil.TestEntry{
		{Name: "s", Data: []byte("twelve bytes"), Method: testutil.Deflate},
	})
	el := layout.Entry("s")
	binary.LittleEndian.PutUint32(data[el.LocalOffset+22:], 11)
	binary.LittleEndian.PutUint32(data[el.CentralOff+24:], 11)

	c, dir := fixture(t, data)
	_, err := c.ExtractToBuffer(entry(t, dir, "s"))
	require.ErrorIs(t, err, ziptype.ErrCorruptArchive)
}
