// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package format implements byte-exact encoding and decoding of the three
// ZIP container structures: local file headers, central directory records
// and the end of central directory record, plus the backward scan that
// locates the latter in a file of unknown total size.
package format

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Each record type is identified by a header signature. Signature values
// begin with the two byte constant marker of 0x4b50, representing the
// characters "PK".
const (
	LocalFileHeaderSignature  uint32 = 0x04034b50
	CentralDirectorySignature uint32 = 0x02014b50
	EndOfCentralDirSignature  uint32 = 0x06054b50
)

// Fixed record sizes, including the signature.
const (
	LocalFileHeaderLen = 30
	CentralDirEntryLen = 46
	EndOfCentralDirLen = 22

	// MaxCommentLen bounds the EOCD comment; its length field is 16-bit.
	MaxCommentLen = math.MaxUint16

	// maxSearchWindow is the largest distance from the end of the file at
	// which an EOCD signature can legally start.
	maxSearchWindow = EndOfCentralDirLen + MaxCommentLen
)

// General purpose bit flags.
const (
	// FlagDataDescriptor marks entries whose sizes and CRC were unknown at
	// header-write time and follow the payload in a data descriptor.
	FlagDataDescriptor uint16 = 0x0008

	// FlagUTF8 marks filenames and comments as UTF-8 encoded.
	FlagUTF8 uint16 = 0x0800
)

// Zip64ExtraFieldTag identifies the extra field carrying 64-bit sizes and
// offsets for entries exceeding the 32-bit on-disk fields.
const Zip64ExtraFieldTag uint16 = 0x0001

var (
	// ErrFormat is returned when the input is not a valid ZIP archive.
	ErrFormat = errors.New("mzip: not a valid zip file")

	// ErrTruncated is returned when a record's declared lengths would read
	// past the end of the available bytes.
	ErrTruncated = errors.New("mzip: truncated record")
)

type LocalFileHeader struct {
	VersionNeededToExtract uint16
	GeneralPurposeBitFlag  uint16
	CompressionMethod      uint16
	LastModFileTime        uint16
	LastModFileDate        uint16
	CRC32                  uint32
	CompressedSize         uint32
	UncompressedSize       uint32
	Filename               string
	ExtraField             []byte
}

func (h LocalFileHeader) Encode() []byte {
	buf := make([]byte, LocalFileHeaderLen+len(h.Filename)+len(h.ExtraField))

	binary.LittleEndian.PutUint32(buf[0:4], LocalFileHeaderSignature)
	binary.LittleEndian.PutUint16(buf[4:6], h.VersionNeededToExtract)
	binary.LittleEndian.PutUint16(buf[6:8], h.GeneralPurposeBitFlag)
	binary.LittleEndian.PutUint16(buf[8:10], h.CompressionMethod)
	binary.LittleEndian.PutUint16(buf[10:12], h.LastModFileTime)
	binary.LittleEndian.PutUint16(buf[12:14], h.LastModFileDate)
	binary.LittleEndian.PutUint32(buf[14:18], h.CRC32)
	binary.LittleEndian.PutUint32(buf[18:22], h.CompressedSize)
	binary.LittleEndian.PutUint32(buf[22:26], h.UncompressedSize)
	binary.LittleEndian.PutUint16(buf[26:28], uint16(len(h.Filename)))
	binary.LittleEndian.PutUint16(buf[28:30], uint16(len(h.ExtraField)))

	copy(buf[30:], h.Filename)
	copy(buf[30+len(h.Filename):], h.ExtraField)

	return buf
}

// LocalHeaderSize validates the signature of the local file header at the
// start of b and returns its total encoded size, variable filename and
// extra field included. Only the fixed 30 bytes need to be present, which
// lets callers locate the payload without reading the variable part.
func LocalHeaderSize(b []byte) (int, error) {
	if len(b) < LocalFileHeaderLen {
		return 0, fmt.Errorf("%w: local file header needs %d bytes, have %d", ErrTruncated, LocalFileHeaderLen, len(b))
	}
	if binary.LittleEndian.Uint32(b[0:4]) != LocalFileHeaderSignature {
		return 0, fmt.Errorf("%w: expected local file header signature", ErrFormat)
	}

	filenameLen := int(binary.LittleEndian.Uint16(b[26:28]))
	extraLen := int(binary.LittleEndian.Uint16(b[28:30]))
	return LocalFileHeaderLen + filenameLen + extraLen, nil
}

// DecodeLocalFileHeader decodes a local file header from the start of b.
// It returns the header and the total number of bytes it occupies, so the
// caller can locate the payload that immediately follows.
func DecodeLocalFileHeader(b []byte) (LocalFileHeader, int, error) {
	total, err := LocalHeaderSize(b)
	if err != nil {
		return LocalFileHeader{}, 0, err
	}
	if len(b) < total {
		return LocalFileHeader{}, 0, fmt.Errorf("%w: local file header fields need %d bytes, have %d", ErrTruncated, total, len(b))
	}

	h := LocalFileHeader{
		VersionNeededToExtract: binary.LittleEndian.Uint16(b[4:6]),
		GeneralPurposeBitFlag:  binary.LittleEndian.Uint16(b[6:8]),
		CompressionMethod:      binary.LittleEndian.Uint16(b[8:10]),
		LastModFileTime:        binary.LittleEndian.Uint16(b[10:12]),
		LastModFileDate:        binary.LittleEndian.Uint16(b[12:14]),
		CRC32:                  binary.LittleEndian.Uint32(b[14:18]),
		CompressedSize:         binary.LittleEndian.Uint32(b[18:22]),
		UncompressedSize:       binary.LittleEndian.Uint32(b[22:26]),
	}

	filenameLen := int(binary.LittleEndian.Uint16(b[26:28]))
	extraLen := int(binary.LittleEndian.Uint16(b[28:30]))

	h.Filename = string(b[30 : 30+filenameLen])
	if extraLen > 0 {
		h.ExtraField = b[30+filenameLen : total]
	}

	return h, total, nil
}

type CentralDirectory struct {
	VersionMadeBy          uint16
	VersionNeededToExtract uint16
	GeneralPurposeBitFlag  uint16
	CompressionMethod      uint16
	LastModFileTime        uint16
	LastModFileDate        uint16
	CRC32                  uint32
	CompressedSize         uint32
	UncompressedSize       uint32
	DiskNumberStart        uint16
	InternalFileAttributes uint16
	ExternalFileAttributes uint32
	LocalHeaderOffset      uint32
	Filename               string
	ExtraField             []byte
	Comment                string
}

func (d CentralDirectory) Encode() []byte {
	buf := make([]byte, CentralDirEntryLen+len(d.Filename)+len(d.ExtraField)+len(d.Comment))

	binary.LittleEndian.PutUint32(buf[0:4], CentralDirectorySignature)
	binary.LittleEndian.PutUint16(buf[4:6], d.VersionMadeBy)
	binary.LittleEndian.PutUint16(buf[6:8], d.VersionNeededToExtract)
	binary.LittleEndian.PutUint16(buf[8:10], d.GeneralPurposeBitFlag)
	binary.LittleEndian.PutUint16(buf[10:12], d.CompressionMethod)
	binary.LittleEndian.PutUint16(buf[12:14], d.LastModFileTime)
	binary.LittleEndian.PutUint16(buf[14:16], d.LastModFileDate)
	binary.LittleEndian.PutUint32(buf[16:20], d.CRC32)
	binary.LittleEndian.PutUint32(buf[20:24], d.CompressedSize)
	binary.LittleEndian.PutUint32(buf[24:28], d.UncompressedSize)
	binary.LittleEndian.PutUint16(buf[28:30], uint16(len(d.Filename)))
	binary.LittleEndian.PutUint16(buf[30:32], uint16(len(d.ExtraField)))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(len(d.Comment)))
	binary.LittleEndian.PutUint16(buf[34:36], d.DiskNumberStart)
	binary.LittleEndian.PutUint16(buf[36:38], d.InternalFileAttributes)
	binary.LittleEndian.PutUint32(buf[38:42], d.ExternalFileAttributes)
	binary.LittleEndian.PutUint32(buf[42:46], d.LocalHeaderOffset)

	offset := CentralDirEntryLen
	offset += copy(buf[offset:], d.Filename)
	offset += copy(buf[offset:], d.ExtraField)
	copy(buf[offset:], d.Comment)

	return buf
}

// DecodeCentralDirEntry decodes one central directory record from the start
// of b and returns the number of bytes consumed, so contiguous records can
// be decoded in sequence.
func DecodeCentralDirEntry(b []byte) (CentralDirectory, int, error) {
	if len(b) < CentralDirEntryLen {
		return CentralDirectory{}, 0, fmt.Errorf("%w: central directory record needs %d bytes, have %d", ErrTruncated, CentralDirEntryLen, len(b))
	}
	if binary.LittleEndian.Uint32(b[0:4]) != CentralDirectorySignature {
		return CentralDirectory{}, 0, fmt.Errorf("%w: expected central directory signature", ErrFormat)
	}

	d := CentralDirectory{
		VersionMadeBy:          binary.LittleEndian.Uint16(b[4:6]),
		VersionNeededToExtract: binary.LittleEndian.Uint16(b[6:8]),
		GeneralPurposeBitFlag:  binary.LittleEndian.Uint16(b[8:10]),
		CompressionMethod:      binary.LittleEndian.Uint16(b[10:12]),
		LastModFileTime:        binary.LittleEndian.Uint16(b[12:14]),
		LastModFileDate:        binary.LittleEndian.Uint16(b[14:16]),
		CRC32:                  binary.LittleEndian.Uint32(b[16:20]),
		CompressedSize:         binary.LittleEndian.Uint32(b[20:24]),
		UncompressedSize:       binary.LittleEndian.Uint32(b[24:28]),
		DiskNumberStart:        binary.LittleEndian.Uint16(b[34:36]),
		InternalFileAttributes: binary.LittleEndian.Uint16(b[36:38]),
		ExternalFileAttributes: binary.LittleEndian.Uint32(b[38:42]),
		LocalHeaderOffset:      binary.LittleEndian.Uint32(b[42:46]),
	}

	filenameLen := int(binary.LittleEndian.Uint16(b[28:30]))
	extraLen := int(binary.LittleEndian.Uint16(b[30:32]))
	commentLen := int(binary.LittleEndian.Uint16(b[32:34]))
	total := CentralDirEntryLen + filenameLen + extraLen + commentLen
	if len(b) < total {
		return CentralDirectory{}, 0, fmt.Errorf("%w: central directory fields need %d bytes, have %d", ErrTruncated, total, len(b))
	}

	offset := CentralDirEntryLen
	d.Filename = string(b[offset : offset+filenameLen])
	offset += filenameLen
	if extraLen > 0 {
		d.ExtraField = b[offset : offset+extraLen]
	}
	offset += extraLen
	d.Comment = string(b[offset : offset+commentLen])

	return d, total, nil
}

type EndOfCentralDirectory struct {
	ThisDiskNum                     uint16
	DiskNumWithTheStartOfCentralDir uint16
	TotalNumberOfEntriesOnThisDisk  uint16
	TotalNumberOfEntries            uint16
	CentralDirSize                  uint32
	CentralDirOffset                uint32
	Comment                         string
}

func (e EndOfCentralDirectory) Encode() []byte {
	commentLen := min(len(e.Comment), MaxCommentLen)
	buf := make([]byte, EndOfCentralDirLen+commentLen)

	binary.LittleEndian.PutUint32(buf[0:4], EndOfCentralDirSignature)
	binary.LittleEndian.PutUint16(buf[4:6], e.ThisDiskNum)
	binary.LittleEndian.PutUint16(buf[6:8], e.DiskNumWithTheStartOfCentralDir)
	binary.LittleEndian.PutUint16(buf[8:10], e.TotalNumberOfEntriesOnThisDisk)
	binary.LittleEndian.PutUint16(buf[10:12], e.TotalNumberOfEntries)
	binary.LittleEndian.PutUint32(buf[12:16], e.CentralDirSize)
	binary.LittleEndian.PutUint32(buf[16:20], e.CentralDirOffset)
	binary.LittleEndian.PutUint16(buf[20:22], uint16(commentLen))

	copy(buf[22:], e.Comment[:commentLen])

	return buf
}

// DecodeEndOfCentralDir decodes the EOCD record from the start of b.
func DecodeEndOfCentralDir(b []byte) (EndOfCentralDirectory, error) {
	if len(b) < EndOfCentralDirLen {
		return EndOfCentralDirectory{}, fmt.Errorf("%w: end of central directory needs %d bytes, have %d", ErrTruncated, EndOfCentralDirLen, len(b))
	}
	if binary.LittleEndian.Uint32(b[0:4]) != EndOfCentralDirSignature {
		return EndOfCentralDirectory{}, fmt.Errorf("%w: expected end of central directory signature", ErrFormat)
	}

	e := EndOfCentralDirectory{
		ThisDiskNum:                     binary.LittleEndian.Uint16(b[4:6]),
		DiskNumWithTheStartOfCentralDir: binary.LittleEndian.Uint16(b[6:8]),
		TotalNumberOfEntriesOnThisDisk:  binary.LittleEndian.Uint16(b[8:10]),
		TotalNumberOfEntries:            binary.LittleEndian.Uint16(b[10:12]),
		CentralDirSize:                  binary.LittleEndian.Uint32(b[12:16]),
		CentralDirOffset:                binary.LittleEndian.Uint32(b[16:20]),
	}

	commentLen := int(binary.LittleEndian.Uint16(b[20:22]))
	if len(b) < EndOfCentralDirLen+commentLen {
		return EndOfCentralDirectory{}, fmt.Errorf("%w: comment needs %d bytes, have %d", ErrTruncated, commentLen, len(b)-EndOfCentralDirLen)
	}
	e.Comment = string(b[EndOfCentralDirLen : EndOfCentralDirLen+commentLen])

	return e, nil
}

// FindEndOfCentralDir scans src backward from the end for the EOCD record,
// accounting for a trailing comment of up to 65535 bytes. The candidate
// closest to the true end of the file whose declared comment fits inside
// the file wins; spurious signatures embedded in comment bytes are skipped.
// It returns the decoded record and its byte offset within src.
func FindEndOfCentralDir(src io.ReaderAt, size int64) (EndOfCentralDirectory, int64, error) {
	if size < EndOfCentralDirLen {
		return EndOfCentralDirectory{}, 0, fmt.Errorf("%w: file too small", ErrFormat)
	}

	window := int64(maxSearchWindow)
	if size < window {
		window = size
	}

	buf := make([]byte, window)
	if _, err := src.ReadAt(buf, size-window); err != nil && err != io.EOF {
		return EndOfCentralDirectory{}, 0, fmt.Errorf("read at %d: %w", size-window, err)
	}

	for p := window - EndOfCentralDirLen; p >= 0; p-- {
		if binary.LittleEndian.Uint32(buf[p:p+4]) != EndOfCentralDirSignature {
			continue
		}
		end, err := DecodeEndOfCentralDir(buf[p:])
		if err != nil {
			// Signature found inside comment or garbage bytes whose
			// declared comment overruns the file. Keep scanning.
			continue
		}
		return end, size - window + p, nil
	}

	return EndOfCentralDirectory{}, 0, fmt.Errorf("%w: no end of central directory signature found", ErrFormat)
}

// ParseZip64Extra widens the given 32-bit values from a central directory
// extra field when they carry the 0xFFFFFFFF zip64 marker. Values not
// marked, or missing from the field, are returned unchanged.
func ParseZip64Extra(extra []byte, uncompressedSize, compressedSize, localHeaderOffset uint64) (uint64, uint64, uint64) {
	data, ok := lookupExtraField(extra, Zip64ExtraFieldTag)
	if !ok {
		return uncompressedSize, compressedSize, localHeaderOffset
	}

	pos := 0
	if uncompressedSize == math.MaxUint32 && len(data) >= pos+8 {
		uncompressedSize = binary.LittleEndian.Uint64(data[pos : pos+8])
		pos += 8
	}
	if compressedSize == math.MaxUint32 && len(data) >= pos+8 {
		compressedSize = binary.LittleEndian.Uint64(data[pos : pos+8])
		pos += 8
	}
	if localHeaderOffset == math.MaxUint32 && len(data) >= pos+8 {
		localHeaderOffset = binary.LittleEndian.Uint64(data[pos : pos+8])
	}

	return uncompressedSize, compressedSize, localHeaderOffset
}

// DropExtraField returns a copy of extra with every field carrying the
// given tag removed. Malformed trailing bytes are dropped as well.
func DropExtraField(extra []byte, tag uint16) []byte {
	var out []byte
	for offset := 0; offset+4 <= len(extra); {
		fieldTag := binary.LittleEndian.Uint16(extra[offset : offset+2])
		size := int(binary.LittleEndian.Uint16(extra[offset+2 : offset+4]))

		next := offset + 4 + size
		if next > len(extra) {
			break
		}
		if fieldTag != tag {
			out = append(out, extra[offset:next]...)
		}
		offset = next
	}
	return out
}

// lookupExtraField walks the tag-length-value framing of an extra field
// and returns the payload of the first field with the given tag.
func lookupExtraField(extra []byte, tag uint16) ([]byte, bool) {
	for offset := 0; offset+4 <= len(extra); {
		fieldTag := binary.LittleEndian.Uint16(extra[offset : offset+2])
		size := int(binary.LittleEndian.Uint16(extra[offset+2 : offset+4]))

		offset += 4
		if offset+size > len(extra) {
			break
		}
		if fieldTag == tag {
			return extra[offset : offset+size], true
		}
		offset += size
	}
	return nil, false
}
