package codec

import (
	"bytes"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
)

// DecoderPool manages reusable raw DEFLATE decoders to reduce allocation overhead.
type DecoderPool struct {
	pool sync.Pool
}

// NewDecoderPool creates an empty pool.
func NewDecoderPool() *DecoderPool {
	return &DecoderPool{}
}

// Get returns a decoder reading from r.
// The caller must call the returned release function exactly once when done.
func (p *DecoderPool) Get(r io.Reader) (io.ReadCloser, func()) {
	if p == nil {
		// No pool available, create a one-off decoder
		dec := flate.NewReader(r)
		return dec, func() { _ = dec.Close() } //nolint:errcheck // flate Close only reports prior errors
	}

	if dec, ok := p.pool.Get().(io.ReadCloser); ok {
		if rs, ok := dec.(flate.Resetter); ok && rs.Reset(r, nil) == nil {
			return dec, p.releaser(dec)
		}
	}
	dec := flate.NewReader(r)
	return dec, p.releaser(dec)
}

func (p *DecoderPool) releaser(dec io.ReadCloser) func() {
	return func() {
		// Drop the reference to the source before pooling.
		if rs, ok := dec.(flate.Resetter); ok {
			_ = rs.Reset(bytes.NewReader(nil), nil) //nolint:errcheck // clearing state before pool return
		}
		p.pool.Put(dec)
	}
}
