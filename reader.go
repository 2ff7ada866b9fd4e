// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mzip

import (
	"fmt"
	"io"
	"math"

	"github.com/lemon4ksan/mzip/internal/checksum"
	"github.com/lemon4ksan/mzip/internal/format"
)

// readDirectory parses an existing archive: EOCD first, then the central
// directory, building the in-memory entry table. Local file headers are not
// touched here; they are validated lazily on first payload read.
func readDirectory(src io.ReaderAt, size int64) (*directory, string, error) {
	end, eocdOffset, err := format.FindEndOfCentralDir(src, size)
	if err != nil {
		return nil, "", err
	}

	if end.TotalNumberOfEntries == math.MaxUint16 ||
		end.CentralDirOffset == math.MaxUint32 ||
		end.CentralDirSize == math.MaxUint32 {
		return nil, "", fmt.Errorf("%w: zip64 end of central directory", ErrSizeOverflow)
	}
	if end.ThisDiskNum != 0 || end.DiskNumWithTheStartOfCentralDir != 0 {
		return nil, "", fmt.Errorf("%w: multi-volume archives are not supported", ErrFormat)
	}

	cdOffset := int64(end.CentralDirOffset)
	cdSize := int64(end.CentralDirSize)
	if cdOffset+cdSize > eocdOffset {
		return nil, "", fmt.Errorf("%w: central directory overlaps end record", ErrFormat)
	}

	buf := make([]byte, cdSize)
	if _, err := io.ReadFull(io.NewSectionReader(src, cdOffset, cdSize), buf); err != nil {
		return nil, "", fmt.Errorf("read central directory at %d: %w", cdOffset, err)
	}

	dir := newDirectory(int64(end.TotalNumberOfEntries))
	rest := buf
	for i := 0; i < int(end.TotalNumberOfEntries); i++ {
		record, n, err := format.DecodeCentralDirEntry(rest)
		if err != nil {
			return nil, "", fmt.Errorf("central directory entry %d: %w", i, err)
		}
		rest = rest[n:]
		dir.add(newEntryFromRecord(src, record))
	}

	return dir, end.Comment, nil
}

// newEntryFromRecord builds an Entry from a central directory record,
// widening 32-bit fields through the zip64 extra field where marked.
func newEntryFromRecord(src io.ReaderAt, record format.CentralDirectory) *Entry {
	uncompressedSize, compressedSize, headerOffset := format.ParseZip64Extra(
		record.ExtraField,
		uint64(record.UncompressedSize),
		uint64(record.CompressedSize),
		uint64(record.LocalHeaderOffset),
	)

	return &Entry{
		name:              record.Filename,
		method:            Method(record.CompressionMethod),
		crc32:             record.CRC32,
		uncompressedSize:  uncompressedSize,
		compressedSize:    compressedSize,
		localHeaderOffset: int64(headerOffset),
		modTime:           format.MsDosToTime(record.LastModFileDate, record.LastModFileTime),
		flags:             record.GeneralPurposeBitFlag,
		comment:           record.Comment,
		extra:             format.DropExtraField(record.ExtraField, format.Zip64ExtraFieldTag),
		internalAttrs:     record.InternalFileAttributes,
		externalAttrs:     record.ExternalFileAttributes,
		madeBy:            record.VersionMadeBy,
		src: &archiveSource{
			ra:             src,
			headerOffset:   int64(headerOffset),
			compressedSize: int64(compressedSize),
			method:         Method(record.CompressionMethod),
		},
	}
}

// payloadOffset re-validates an entry's local file header and returns the
// offset of the first payload byte. The header's name and extra lengths
// are authoritative for the payload position; the central directory only
// records where the header starts.
func payloadOffset(src *archiveSource) (int64, error) {
	var buf [format.LocalFileHeaderLen]byte
	if _, err := src.ra.ReadAt(buf[:], src.headerOffset); err != nil {
		return 0, fmt.Errorf("read local header at %d: %w", src.headerOffset, err)
	}

	headerSize, err := format.LocalHeaderSize(buf[:])
	if err != nil {
		return 0, fmt.Errorf("local header at %d: %w", src.headerOffset, err)
	}

	return src.headerOffset + int64(headerSize), nil
}

// readPayload returns the decoded, integrity-checked content of a flushed
// entry: raw bytes are read at the lazily validated payload offset, passed
// through the codec the bytes were stored with, and verified against the
// entry's recorded CRC-32.
func readPayload(e *Entry, src *archiveSource) ([]byte, error) {
	codec, err := lookupCodec(src.method)
	if err != nil {
		return nil, err
	}

	dataOffset, err := payloadOffset(src)
	if err != nil {
		return nil, err
	}

	raw := make([]byte, src.compressedSize)
	if _, err := io.ReadFull(io.NewSectionReader(src.ra, dataOffset, src.compressedSize), raw); err != nil {
		return nil, fmt.Errorf("read payload of %s: %w", e.name, err)
	}

	data, err := codec.Decode(raw, int(e.uncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", e.name, err)
	}

	if got := checksum.Sum(data); got != e.crc32 {
		return nil, fmt.Errorf("%w: %s: got %08x, want %08x", ErrChecksum, e.name, got, e.crc32)
	}

	return data, nil
}
