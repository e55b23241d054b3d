// Package zipfmt decodes the fixed-size records of the ZIP container format.
//
// Only the base (non-ZIP64) records are understood. All integers are
// little-endian.
package zipfmt

import (
	"encoding/binary"
	"fmt"

	"github.com/meigma/hapzip/internal/ziptype"
)

// Each record type is identified by a signature beginning with "PK".
const (
	LocalHeaderSignature    uint32 = 0x04034b50
	CentralHeaderSignature  uint32 = 0x02014b50
	EndOfCentralSignature   uint32 = 0x06054b50
	DataDescriptorSignature uint32 = 0x08074b50
)

// Fixed record sizes.
const (
	LocalHeaderLen    = 30
	CentralHeaderLen  = 46
	EndOfCentralLen   = 22
	DataDescriptorLen = 16
)

// EndOfCentral is the trailing End Of Central Directory record.
type EndOfCentral struct {
	DiskNumber       uint16
	CentralDirDisk   uint16
	EntriesOnDisk    uint16
	TotalEntries     uint16
	CentralDirSize   uint32
	CentralDirOffset uint32
	CommentLength    uint16
}

// ReadEndOfCentral decodes an EOCD record from buf.
func ReadEndOfCentral(buf []byte) (EndOfCentral, error) {
	if len(buf) < EndOfCentralLen {
		return EndOfCentral{}, fmt.Errorf("%w: short end of central directory", ziptype.ErrCorruptArchive)
	}
	if sig := binary.LittleEndian.Uint32(buf[0:4]); sig != EndOfCentralSignature {
		return EndOfCentral{}, fmt.Errorf("%w: bad end of central directory signature %#x", ziptype.ErrCorruptArchive, sig)
	}
	return EndOfCentral{
		DiskNumber:       binary.LittleEndian.Uint16(buf[4:6]),
		CentralDirDisk:   binary.LittleEndian.Uint16(buf[6:8]),
		EntriesOnDisk:    binary.LittleEndian.Uint16(buf[8:10]),
		TotalEntries:     binary.LittleEndian.Uint16(buf[10:12]),
		CentralDirSize:   binary.LittleEndian.Uint32(buf[12:16]),
		CentralDirOffset: binary.LittleEndian.Uint32(buf[16:20]),
		CommentLength:    binary.LittleEndian.Uint16(buf[20:22]),
	}, nil
}

// Validate checks the single-disk, no-comment invariants and that the
// central directory fits before the record. contentLength is the total
// source size.
func (e EndOfCentral) Validate(contentLength int64) error {
	if e.DiskNumber != 0 || e.CentralDirDisk != 0 {
		return fmt.Errorf("%w: multi-disk archives are not supported", ziptype.ErrCorruptArchive)
	}
	if e.EntriesOnDisk != e.TotalEntries {
		return fmt.Errorf("%w: entry counts disagree (%d on disk, %d total)",
			ziptype.ErrCorruptArchive, e.EntriesOnDisk, e.TotalEntries)
	}
	if e.CommentLength != 0 {
		return fmt.Errorf("%w: archive comments are not supported", ziptype.ErrCorruptArchive)
	}
	end := uint64(e.CentralDirOffset) + uint64(e.CentralDirSize) + EndOfCentralLen
	if contentLength < EndOfCentralLen || end > uint64(contentLength) {
		return fmt.Errorf("%w: central directory [%d, +%d) exceeds archive length %d",
			ziptype.ErrCorruptArchive, e.CentralDirOffset, e.CentralDirSize, contentLength)
	}
	return nil
}

// ReadCentralEntry decodes one central directory record from the start of buf
// and returns the entry together with the number of bytes consumed.
func ReadCentralEntry(buf []byte) (ziptype.Entry, int, error) {
	if len(buf) < CentralHeaderLen {
		return ziptype.Entry{}, 0, fmt.Errorf("%w: short central directory record", ziptype.ErrCorruptArchive)
	}
	if sig := binary.LittleEndian.Uint32(buf[0:4]); sig != CentralHeaderSignature {
		return ziptype.Entry{}, 0, fmt.Errorf("%w: bad central directory signature %#x", ziptype.ErrCorruptArchive, sig)
	}
	e := ziptype.Entry{
		Flags:             binary.LittleEndian.Uint16(buf[8:10]),
		Method:            ziptype.Method(binary.LittleEndian.Uint16(buf[10:12])),
		ModTime:           binary.LittleEndian.Uint16(buf[12:14]),
		ModDate:           binary.LittleEndian.Uint16(buf[14:16]),
		CRC32:             binary.LittleEndian.Uint32(buf[16:20]),
		CompressedSize:    binary.LittleEndian.Uint32(buf[20:24]),
		UncompressedSize:  binary.LittleEndian.Uint32(buf[24:28]),
		NameLength:        binary.LittleEndian.Uint16(buf[28:30]),
		ExtraLength:       binary.LittleEndian.Uint16(buf[30:32]),
		CommentLength:     binary.LittleEndian.Uint16(buf[32:34]),
		ExternalAttrs:     binary.LittleEndian.Uint32(buf[38:42]),
		LocalHeaderOffset: binary.LittleEndian.Uint32(buf[42:46]),
	}

	size := CentralHeaderLen + int(e.NameLength) + int(e.ExtraLength) + int(e.CommentLength)
	if len(buf) < size {
		return ziptype.Entry{}, 0, fmt.Errorf("%w: central directory record overruns directory", ziptype.ErrCorruptArchive)
	}

	name := buf[CentralHeaderLen : CentralHeaderLen+int(e.NameLength)]
	if len(name) > ziptype.MaxNameLen {
		name = name[:ziptype.MaxNameLen]
		e.Truncated = true
	}
	e.Name = string(name)
	return e, size, nil
}

// LocalHeader is the per-entry header that precedes the payload.
type LocalHeader struct {
	Flags            uint16
	Method           ziptype.Method
	ModTime          uint16
	ModDate          uint16
	CRC32            uint32
	CompressedSize   uint32
	UncompressedSize uint32
	NameLength       uint16
	ExtraLength      uint16
}

// ReadLocalHeader decodes the fixed part of a local header.
func ReadLocalHeader(buf []byte) (LocalHeader, error) {
	if len(buf) < LocalHeaderLen {
		return LocalHeader{}, fmt.Errorf("%w: short local header", ziptype.ErrCorruptArchive)
	}
	if sig := binary.LittleEndian.Uint32(buf[0:4]); sig != LocalHeaderSignature {
		return LocalHeader{}, fmt.Errorf("%w: bad local header signature %#x", ziptype.ErrCorruptArchive, sig)
	}
	return LocalHeader{
		Flags:            binary.LittleEndian.Uint16(buf[6:8]),
		Method:           ziptype.Method(binary.LittleEndian.Uint16(buf[8:10])),
		ModTime:          binary.LittleEndian.Uint16(buf[10:12]),
		ModDate:          binary.LittleEndian.Uint16(buf[12:14]),
		CRC32:            binary.LittleEndian.Uint32(buf[14:18]),
		CompressedSize:   binary.LittleEndian.Uint32(buf[18:22]),
		UncompressedSize: binary.LittleEndian.Uint32(buf[22:26]),
		NameLength:       binary.LittleEndian.Uint16(buf[26:28]),
		ExtraLength:      binary.LittleEndian.Uint16(buf[28:30]),
	}, nil
}

// HeaderLen returns the full local header length including variable fields.
func (h LocalHeader) HeaderLen() int64 {
	return LocalHeaderLen + int64(h.NameLength) + int64(h.ExtraLength)
}

// DataDescriptor holds the sizes of entries written with deferred sizes.
type DataDescriptor struct {
	CRC32            uint32
	CompressedSize   uint32
	UncompressedSize uint32
}

// ReadDataDescriptor decodes a signed data descriptor.
func ReadDataDescriptor(buf []byte) (DataDescriptor, error) {
	if len(buf) < DataDescriptorLen {
		return DataDescriptor{}, fmt.Errorf("%w: short data descriptor", ziptype.ErrCorruptArchive)
	}
	if sig := binary.LittleEndian.Uint32(buf[0:4]); sig != DataDescriptorSignature {
		return DataDescriptor{}, fmt.Errorf("%w: bad data descriptor signature %#x", ziptype.ErrCorruptArchive, sig)
	}
	return DataDescriptor{
		CRC32:            binary.LittleEndian.Uint32(buf[4:8]),
		CompressedSize:   binary.LittleEndian.Uint32(buf[8:12]),
		UncompressedSize: binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}
