// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mzip

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/lemon4ksan/mzip/internal/format"
)

// Version fields written into new headers. 20 means ZIP 2.0, the floor for
// deflate support; 63 is the specification version this package tracks.
const (
	versionNeededToExtract uint16 = 20
	versionMadeBy          uint16 = 63
)

// archiveWriter serializes a directory into ZIP structures in one pass:
// local file header plus payload per entry, then the accumulated central
// directory, then the end record. Sizes are always known up front because
// payload sources are fully buffered, so no data descriptors are emitted.
type archiveWriter struct {
	dest          io.Writer
	headerOffset  int64
	centralDir    bytes.Buffer
	entriesNum    int
	storeIfLarger bool
}

func newArchiveWriter(dest io.Writer, storeIfLarger bool) *archiveWriter {
	return &archiveWriter{dest: dest, storeIfLarger: storeIfLarger}
}

// writeEntry encodes an entry's payload as needed, writes its local file
// header and payload at the current write cursor, and stages its central
// directory record. The entry's offset, compressed size, method and CRC
// fields are updated to the actually written values.
func (w *archiveWriter) writeEntry(e *Entry) error {
	encoded, err := w.encodePayload(e)
	if err != nil {
		return err
	}

	if int64(len(encoded)) > math.MaxUint32 || e.uncompressedSize > math.MaxUint32 {
		return fmt.Errorf("%w: %s", ErrSizeOverflow, e.name)
	}
	if w.headerOffset > math.MaxUint32 {
		return fmt.Errorf("%w: local header offset", ErrSizeOverflow)
	}

	e.compressedSize = uint64(len(encoded))
	e.localHeaderOffset = w.headerOffset

	dosDate, dosTime := format.TimeToMsDos(e.modTime)
	header := format.LocalFileHeader{
		VersionNeededToExtract: versionNeededToExtract,
		GeneralPurposeBitFlag:  format.FlagUTF8,
		CompressionMethod:      uint16(e.method),
		LastModFileTime:        dosTime,
		LastModFileDate:        dosDate,
		CRC32:                  e.crc32,
		CompressedSize:         uint32(e.compressedSize),
		UncompressedSize:       uint32(e.uncompressedSize),
		Filename:               e.name,
	}

	if n, err := w.dest.Write(header.Encode()); err != nil {
		return fmt.Errorf("write local header: %w", err)
	} else {
		w.headerOffset += int64(n)
	}

	if n, err := w.dest.Write(encoded); err != nil {
		return fmt.Errorf("write payload: %w", err)
	} else {
		w.headerOffset += int64(n)
	}

	// Entries read from an existing archive keep their creator version,
	// attributes, comment and remaining extra fields across the rewrite.
	madeBy := e.madeBy
	if madeBy == 0 {
		madeBy = versionMadeBy
	}
	record := format.CentralDirectory{
		VersionMadeBy:          madeBy,
		VersionNeededToExtract: versionNeededToExtract,
		GeneralPurposeBitFlag:  format.FlagUTF8,
		CompressionMethod:      uint16(e.method),
		LastModFileTime:        dosTime,
		LastModFileDate:        dosDate,
		CRC32:                  e.crc32,
		CompressedSize:         uint32(e.compressedSize),
		UncompressedSize:       uint32(e.uncompressedSize),
		InternalFileAttributes: e.internalAttrs,
		ExternalFileAttributes: e.externalAttrs,
		LocalHeaderOffset:      uint32(e.localHeaderOffset),
		Filename:               e.name,
		ExtraField:             e.extra,
		Comment:                e.comment,
	}
	w.centralDir.Write(record.Encode())
	w.entriesNum++

	return nil
}

// encodePayload produces the bytes to write after the local header,
// draining the entry's source exactly once.
//
// Three cases: a staged entry is encoded with its requested codec; a
// flushed entry whose method is unchanged is copied raw, preserving its
// bytes and CRC exactly; a flushed entry whose method was changed is
// decoded with the old codec and re-encoded with the new one.
func (w *archiveWriter) encodePayload(e *Entry) ([]byte, error) {
	switch src := e.src.(type) {
	case *stagedSource:
		return w.encode(e, src.data)

	case *archiveSource:
		if e.method == src.method {
			dataOffset, err := payloadOffset(src)
			if err != nil {
				return nil, err
			}
			raw := make([]byte, src.compressedSize)
			if _, err := io.ReadFull(io.NewSectionReader(src.ra, dataOffset, src.compressedSize), raw); err != nil {
				return nil, fmt.Errorf("copy raw payload of %s: %w", e.name, err)
			}
			return raw, nil
		}

		data, err := readPayload(e, src)
		if err != nil {
			return nil, err
		}
		return w.encode(e, data)

	case nil:
		return nil, fmt.Errorf("%w: %s", ErrSourceDrained, e.name)

	default:
		return nil, fmt.Errorf("mzip: unknown payload source for %s", e.name)
	}
}

func (w *archiveWriter) encode(e *Entry, data []byte) ([]byte, error) {
	codec, err := lookupCodec(e.method)
	if err != nil {
		return nil, err
	}

	encoded, err := codec.Encode(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.name, err)
	}

	// A codec may expand incompressible data. Falling back to store is
	// never automatic; the caller opts in through Config.StoreIfLarger.
	if w.storeIfLarger && e.method != Store && len(encoded) >= len(data) {
		e.method = Store
		return data, nil
	}

	return encoded, nil
}

// finish writes the central directory and the end of central directory
// record, completing the archive.
func (w *archiveWriter) finish(comment string) error {
	cdOffset := w.headerOffset
	cdSize := int64(w.centralDir.Len())

	if cdOffset > math.MaxUint32 || cdSize > math.MaxUint32 {
		return fmt.Errorf("%w: central directory", ErrSizeOverflow)
	}
	// 0xFFFF in the entry count is the zip64 marker; an archive carrying
	// it literally would be refused on reopen. The writable ceiling is
	// therefore 65534 entries.
	if w.entriesNum >= math.MaxUint16 {
		return fmt.Errorf("%w: %d entries", ErrSizeOverflow, w.entriesNum)
	}

	if _, err := w.dest.Write(w.centralDir.Bytes()); err != nil {
		return fmt.Errorf("write central directory: %w", err)
	}

	end := format.EndOfCentralDirectory{
		TotalNumberOfEntriesOnThisDisk: uint16(w.entriesNum),
		TotalNumberOfEntries:           uint16(w.entriesNum),
		CentralDirSize:                 uint32(cdSize),
		CentralDirOffset:               uint32(cdOffset),
		Comment:                        comment,
	}
	if _, err := w.dest.Write(end.Encode()); err != nil {
		return fmt.Errorf("write end of central directory: %w", err)
	}

	return nil
}
