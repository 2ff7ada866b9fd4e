// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mzip

import (
	"errors"

	"github.com/lemon4ksan/mzip/internal/format"
)

var (
	// ErrFormat is returned when the input is not a valid ZIP archive.
	ErrFormat = format.ErrFormat

	// ErrTruncated is returned when a record's declared lengths would read
	// past the end of the available bytes.
	ErrTruncated = format.ErrTruncated

	// ErrAlgorithm is returned when a compression method has no registered codec.
	ErrAlgorithm = errors.New("mzip: unsupported compression method")

	// ErrChecksum is returned when decoded payload bytes do not match the
	// entry's recorded CRC-32.
	ErrChecksum = errors.New("mzip: checksum error")

	// ErrSizeMismatch is returned when decoded payload bytes do not match the
	// entry's recorded uncompressed size.
	ErrSizeMismatch = errors.New("mzip: uncompressed size mismatch")

	// ErrSizeOverflow is returned when an entry or archive layout exceeds the
	// 32-bit on-disk size fields.
	ErrSizeOverflow = errors.New("mzip: size exceeds 4 GiB limit")

	// ErrNotFound is returned when an index or name lookup misses.
	ErrNotFound = errors.New("mzip: entry not found")

	// ErrDuplicateEntry is returned when adding an entry whose name already
	// exists in the directory.
	ErrDuplicateEntry = errors.New("mzip: duplicate entry name")

	// ErrReadOnly is returned when mutating an archive opened read-only.
	ErrReadOnly = errors.New("mzip: archive is read-only")

	// ErrClosed is returned when operating on a closed archive handle.
	ErrClosed = errors.New("mzip: archive is closed")

	// ErrSourceDrained is returned when a payload source is consumed twice.
	ErrSourceDrained = errors.New("mzip: payload source already drained")

	// ErrFilenameTooLong is returned when an entry name exceeds 65535 bytes.
	ErrFilenameTooLong = errors.New("mzip: filename too long")

	// ErrCommentTooLong is returned when the archive comment exceeds 65535 bytes.
	ErrCommentTooLong = errors.New("mzip: comment too long")
)
