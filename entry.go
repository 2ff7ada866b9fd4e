// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mzip

import (
	"io"
	"time"
)

// Entry is one logical file inside an archive. Entries are owned by their
// Archive; callers observe them through the read-only accessors.
type Entry struct {
	name   string
	method Method

	crc32            uint32
	uncompressedSize uint64
	compressedSize   uint64

	// localHeaderOffset is the byte offset of this entry's local file header
	// within the archive, or -1 for a staged entry that has not been
	// finalized yet.
	localHeaderOffset int64

	modTime time.Time
	flags   uint16

	// Central directory metadata carried through rewrites: per-entry
	// comment, file attributes, the creator version and any extra fields
	// other than zip64 sizing. Zero-valued for entries staged in this
	// process.
	comment       string
	extra         []byte
	internalAttrs uint16
	externalAttrs uint32
	madeBy        uint16

	src payloadSource
}

// Name returns the entry's archive-relative path.
func (e *Entry) Name() string { return e.name }

// Method returns the compression method id of the entry's payload.
func (e *Entry) Method() Method { return e.method }

// CRC32 returns the checksum of the entry's uncompressed bytes.
func (e *Entry) CRC32() uint32 { return e.crc32 }

// UncompressedSize returns the size of the entry's content in bytes.
func (e *Entry) UncompressedSize() uint64 { return e.uncompressedSize }

// CompressedSize returns the size of the encoded payload. For a staged
// entry this is unknown until finalize and reported as zero.
func (e *Entry) CompressedSize() uint64 { return e.compressedSize }

// ModTime returns the entry's modification timestamp at DOS resolution.
func (e *Entry) ModTime() time.Time { return e.modTime }

// IsDir reports whether the entry is a directory marker.
func (e *Entry) IsDir() bool { return len(e.name) > 0 && e.name[len(e.name)-1] == '/' }

// payloadSource is where an entry's bytes come from during reads and
// finalize. Exactly one of the two implementations is attached to an entry
// at any time; a nil source means the entry was drained or released.
type payloadSource interface {
	release()
}

// archiveSource borrows a window of the backing archive holding the
// entry's already-encoded bytes. It is valid only while the archive's byte
// source stays open. method records what the stored bytes are encoded
// with, which may differ from the entry's requested method after
// SetEntryMethod.
type archiveSource struct {
	ra             io.ReaderAt
	headerOffset   int64
	compressedSize int64
	method         Method
}

func (s *archiveSource) release() {}

// stagedSource owns an in-memory buffer of uncompressed bytes.
type stagedSource struct {
	data []byte
}

func (s *stagedSource) release() { s.data = nil }

// PayloadSource carries caller bytes into AddEntry. The two constructors
// encode the ownership choice in the type: OwnedBytes transfers the
// backing array to the archive, CopiedBytes borrows it for the duration of
// the call only.
type PayloadSource interface {
	drain() ([]byte, error)
}

type ownedBytes struct {
	data    []byte
	drained bool
}

// OwnedBytes wraps b as a payload source that transfers ownership: the
// archive keeps b and the caller must not modify it afterward. The source
// can be drained once.
func OwnedBytes(b []byte) PayloadSource {
	return &ownedBytes{data: b}
}

func (s *ownedBytes) drain() ([]byte, error) {
	if s.drained {
		return nil, ErrSourceDrained
	}
	s.drained = true
	data := s.data
	s.data = nil
	return data, nil
}

type copiedBytes struct {
	data []byte
}

// CopiedBytes wraps b as a payload source that borrows it: the archive
// copies the bytes during AddEntry and b stays with the caller.
func CopiedBytes(b []byte) PayloadSource {
	return copiedBytes{data: b}
}

func (s copiedBytes) drain() ([]byte, error) {
	return append([]byte(nil), s.data...), nil
}
