package codec

import (
	"fmt"
	"io"

	"github.com/meigma/hapzip/internal/ziptype"
)

// windowReader feeds compressed bytes from a source range through a fixed
// window, refilling only once the window is consumed. It implements
// io.ByteReader so the decoder never reads past the stream end.
type windowReader struct {
	src       Source
	off       int64
	remaining int64
	buf       []byte
	pos, end  int
}

func newWindowReader(src Source, off, length int64, window int) *windowReader {
	return &windowReader{
		src:       src,
		off:       off,
		remaining: length,
		buf:       make([]byte, min(int64(window), length)),
	}
}

func (r *windowReader) fill() error {
	if r.remaining == 0 {
		return io.EOF
	}
	n := min(int64(len(r.buf)), r.remaining)
	if err := r.src.ReadRangeInto(r.buf[:n], r.off); err != nil {
		return err
	}
	r.off += n
	r.remaining -= n
	r.pos, r.end = 0, int(n)
	return nil
}

func (r *windowReader) Read(p []byte) (int, error) {
	if r.pos == r.end {
		if err := r.fill(); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.buf[r.pos:r.end])
	r.pos += n
	return n, nil
}

// unread returns how many compressed bytes of the range were not consumed.
func (r *windowReader) unread() int64 {
	return r.remaining + int64(r.end-r.pos)
}

func (r *windowReader) ReadByte() (byte, error) {
	if r.pos == r.end {
		if err := r.fill(); err != nil {
			return 0, err
		}
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// drain runs the decode loop: each call into dec fills at most buf, and
// whatever it produced is flushed to w before the next call. MaxStalls
// consecutive calls without output fail with ErrDecodeStall, and output
// beyond limit fails with ErrCorruptArchive.
func drain(dec io.Reader, w io.Writer, buf []byte, limit int64) (int64, error) {
	var total int64
	stalls := 0
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			stalls = 0
			if total+int64(n) > limit {
				return total, fmt.Errorf("%w: decoded output exceeds %d bytes", ziptype.ErrCorruptArchive, limit)
			}
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		switch {
		case err == io.EOF:
			return total, nil
		case err != nil:
			return total, fmt.Errorf("%w: %w", ziptype.ErrDecodeFailure, err)
		case n == 0:
			stalls++
			if stalls >= MaxStalls {
				return total, fmt.Errorf("%w after %d bytes", ziptype.ErrDecodeStall, total)
			}
		}
	}
}
