package codec

import (
	"bytes"
	"fmt"
	"hash"
	"hash/crc32"
	"io"

	"github.com/meigma/hapzip/internal/ziptype"
)

// ExtractStore copies a stored payload to w in OutputChunk pieces.
func (c *Codec) ExtractStore(loc ziptype.Location, w io.Writer) (int64, error) {
	buf := make([]byte, min(int64(OutputChunk), loc.Length))
	var written int64
	for written < loc.Length {
		n := min(int64(len(buf)), loc.Length-written)
		if err := c.src.ReadRangeInto(buf[:n], loc.Offset+written); err != nil {
			return written, fmt.Errorf("extract %s: %w", loc.Name, err)
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return written, fmt.Errorf("extract %s: %w", loc.Name, err)
		}
		written += n
	}
	return written, nil
}

// ExtractInflate decodes a raw DEFLATE payload to w, reading the source
// through an InputWindow buffer.
func (c *Codec) ExtractInflate(loc ziptype.Location, w io.Writer) (int64, error) {
	in := newWindowReader(c.src, loc.Offset, loc.Length, InputWindow)
	n, err := c.inflate(in, w, loc)
	if err == nil {
		err = checkConsumed(in.unread())
	}
	if err != nil {
		return n, fmt.Errorf("extract %s: %w", loc.Name, err)
	}
	return n, nil
}

// inflate decodes r into w. The decoder goes back to the pool on every path.
func (c *Codec) inflate(r io.Reader, w io.Writer, loc ziptype.Location) (int64, error) {
	dec, release := c.pool.Get(r)
	defer release()
	return drain(dec, w, make([]byte, OutputChunk), int64(loc.UncompressedSize))
}

// checkConsumed fails when the DEFLATE stream ended before the declared
// compressed size was used up.
func checkConsumed(unread int64) error {
	if unread > 0 {
		return fmt.Errorf("%w: %d compressed bytes follow the end of the stream", ziptype.ErrCorruptArchive, unread)
	}
	return nil
}

// Extract locates e, decodes it to w and verifies the result. On a
// verification failure w has already received the bad bytes; callers that
// need all-or-nothing delivery should use ExtractToBuffer.
func (c *Codec) Extract(e *ziptype.Entry, w io.Writer) (int64, error) {
	loc, err := c.Locate(e)
	if err != nil {
		return 0, err
	}

	cw := newChecksumWriter(w)
	var n int64
	switch loc.Method {
	case ziptype.MethodStore:
		n, err = c.ExtractStore(loc, cw)
	case ziptype.MethodDeflate:
		n, err = c.ExtractInflate(loc, cw)
	default:
		err = fmt.Errorf("extract %s: method %d: %w", loc.Name, loc.Method, ziptype.ErrUnsupportedCompression)
	}
	if err != nil {
		return n, err
	}
	return n, c.verify(loc, n, cw.Sum32())
}

// ExtractToBuffer locates e, reads its whole payload in one read and
// returns the decoded content, exactly UncompressedSize bytes long.
// Stored payloads are returned without copying.
func (c *Codec) ExtractToBuffer(e *ziptype.Entry) ([]byte, error) {
	loc, err := c.Locate(e)
	if err != nil {
		return nil, err
	}
	raw, err := c.src.ReadRange(loc.Offset, loc.Length)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", loc.Name, err)
	}

	var out []byte
	switch loc.Method {
	case ziptype.MethodStore:
		out = raw
	case ziptype.MethodDeflate:
		buf := bytes.NewBuffer(make([]byte, 0, loc.UncompressedSize))
		in := bytes.NewReader(raw)
		_, err := c.inflate(in, buf, loc)
		if err == nil {
			err = checkConsumed(int64(in.Len()))
		}
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", loc.Name, err)
		}
		out = buf.Bytes()
	default:
		return nil, fmt.Errorf("extract %s: method %d: %w", loc.Name, loc.Method, ziptype.ErrUnsupportedCompression)
	}

	if err := c.verify(loc, int64(len(out)), crc32.ChecksumIEEE(out)); err != nil {
		return nil, err
	}
	return out, nil
}

// verify checks the delivered length and, if enabled, the CRC-32.
func (c *Codec) verify(loc ziptype.Location, n int64, sum uint32) error {
	if n != int64(loc.UncompressedSize) {
		c.log().Warn("entry size mismatch", "name", loc.Name, "want", loc.UncompressedSize, "got", n)
		return fmt.Errorf("extract %s: %w: decoded %d bytes, want %d", loc.Name, ziptype.ErrCorruptArchive, n, loc.UncompressedSize)
	}
	if c.verifyCRC && sum != loc.CRC32 {
		c.log().Warn("entry checksum mismatch", "name", loc.Name, "want", loc.CRC32, "got", sum)
		return fmt.Errorf("extract %s: %w: crc %#08x, want %#08x", loc.Name, ziptype.ErrCorruptArchive, sum, loc.CRC32)
	}
	return nil
}

// checksumWriter computes the CRC-32 of everything written through it.
type checksumWriter struct {
	w io.Writer
	h hash.Hash32
}

func newChecksumWriter(w io.Writer) *checksumWriter {
	return &checksumWriter{w: w, h: crc32.NewIEEE()}
}

func (cw *checksumWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	if n > 0 {
		_, _ = cw.h.Write(p[:n]) //nolint:errcheck // hash writes never fail
	}
	return n, err
}

func (cw *checksumWriter) Sum32() uint32 {
	return cw.h.Sum32()
}
