// Package codec locates entry payloads behind their local headers and
// decodes them to a sink.
//
// Every byte delivered by the codec comes from an entry whose local header
// agreed with its central directory record. Decoded output is checked
// against the declared size and, unless disabled, the CRC-32.
package codec

import (
	"fmt"
	"log/slog"

	"github.com/meigma/hapzip/internal/sizing"
	"github.com/meigma/hapzip/internal/zipfmt"
	"github.com/meigma/hapzip/internal/ziptype"
)

// Buffer sizes of the bounded decode loop.
const (
	// InputWindow is how much compressed input is read from the source at a time.
	InputWindow = 160 << 10

	// OutputChunk is the size of the buffer flushed to the sink after each
	// decoder call, and the chunk size for stored copies.
	OutputChunk = 320 << 10

	// MaxStalls is the number of consecutive empty decoder calls tolerated.
	MaxStalls = 5
)

// Source provides random access to the archive bytes.
type Source interface {
	ReadRange(off, length int64) ([]byte, error)
	ReadRangeInto(p []byte, off int64) error
	Size() int64
}

// Codec reads entries from a single source.
type Codec struct {
	src          Source
	contentStart int64
	verifyCRC    bool
	pool         *DecoderPool
	logger       *slog.Logger
}

// Option configures a Codec.
type Option func(*Codec)

// WithVerifyCRC enables or disables CRC-32 checks of decoded output.
// Size checks always apply. Enabled by default.
func WithVerifyCRC(enabled bool) Option {
	return func(c *Codec) {
		c.verifyCRC = enabled
	}
}

// WithDecoderPool shares a decoder pool between codecs.
func WithDecoderPool(p *DecoderPool) Option {
	return func(c *Codec) {
		c.pool = p
	}
}

// WithLogger sets the logger for verification failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Codec) {
		c.logger = logger
	}
}

// New creates a codec over src. contentStart is added to every local header
// offset.
func New(src Source, contentStart int64, opts ...Option) *Codec {
	c := &Codec{
		src:          src,
		contentStart: contentStart,
		verifyCRC:    true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.pool == nil {
		c.pool = NewDecoderPool()
	}
	return c
}

// log returns the logger, falling back to a discard logger if nil.
func (c *Codec) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// Locate validates the local header of e and returns where its payload lives.
//
// The local header must carry the central record's method and name. Its
// declared name length must also match, unless the central name was
// truncated. Sizes and CRC come from the data descriptor when the entry
// defers them and from the local header otherwise. Any disagreement is
// ErrCorruptArchive.
func (c *Codec) Locate(e *ziptype.Entry) (ziptype.Location, error) {
	if !e.Method.Supported() {
		return ziptype.Location{}, fmt.Errorf("locate %s: method %d: %w", e.Name, e.Method, ziptype.ErrUnsupportedCompression)
	}

	hdrOff := c.contentStart + int64(e.LocalHeaderOffset)
	buf, err := c.src.ReadRange(hdrOff, zipfmt.LocalHeaderLen+int64(len(e.Name)))
	if err != nil {
		return ziptype.Location{}, fmt.Errorf("locate %s: %w: %w", e.Name, ziptype.ErrCorruptArchive, err)
	}
	h, err := zipfmt.ReadLocalHeader(buf)
	if err != nil {
		return ziptype.Location{}, fmt.Errorf("locate %s: %w", e.Name, err)
	}
	if err := checkHeader(e, h, buf[zipfmt.LocalHeaderLen:]); err != nil {
		return ziptype.Location{}, fmt.Errorf("locate %s: %w", e.Name, err)
	}

	dataOff := hdrOff + h.HeaderLen()
	if e.Deferred() {
		err = c.checkDescriptor(e, dataOff+int64(e.CompressedSize))
	} else {
		err = checkSizes(e, h.CRC32, h.CompressedSize, h.UncompressedSize)
	}
	if err != nil {
		return ziptype.Location{}, fmt.Errorf("locate %s: %w", e.Name, err)
	}

	if !sizing.Within(dataOff, int64(e.CompressedSize), c.src.Size()) {
		return ziptype.Location{}, fmt.Errorf("locate %s: %w: payload [%d, +%d) exceeds source",
			e.Name, ziptype.ErrCorruptArchive, dataOff, e.CompressedSize)
	}

	return ziptype.Location{
		Name:             e.Name,
		Offset:           dataOff,
		Length:           int64(e.CompressedSize),
		Method:           e.Method,
		UncompressedSize: e.UncompressedSize,
		CRC32:            e.CRC32,
	}, nil
}

func checkHeader(e *ziptype.Entry, h zipfmt.LocalHeader, name []byte) error {
	if h.Method != e.Method {
		return fmt.Errorf("%w: local method %d, central %d", ziptype.ErrCorruptArchive, h.Method, e.Method)
	}
	// Truncated names cannot be compared by length.
	if !e.Truncated && h.NameLength != e.NameLength {
		return fmt.Errorf("%w: local name length %d, central %d", ziptype.ErrCorruptArchive, h.NameLength, e.NameLength)
	}
	if string(name) != e.Name {
		return fmt.Errorf("%w: local name %q differs", ziptype.ErrCorruptArchive, name)
	}
	return nil
}

func (c *Codec) checkDescriptor(e *ziptype.Entry, off int64) error {
	buf, err := c.src.ReadRange(off, zipfmt.DataDescriptorLen)
	if err != nil {
		return fmt.Errorf("%w: data descriptor: %w", ziptype.ErrCorruptArchive, err)
	}
	dd, err := zipfmt.ReadDataDescriptor(buf)
	if err != nil {
		return err
	}
	return checkSizes(e, dd.CRC32, dd.CompressedSize, dd.UncompressedSize)
}

func checkSizes(e *ziptype.Entry, crc, compressed, uncompressed uint32) error {
	if crc != e.CRC32 || compressed != e.CompressedSize || uncompressed != e.UncompressedSize {
		return fmt.Errorf("%w: local crc/sizes %#x/%d/%d, central %#x/%d/%d", ziptype.ErrCorruptArchive,
			crc, compressed, uncompressed, e.CRC32, e.CompressedSize, e.UncompressedSize)
	}
	return nil
}
