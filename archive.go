// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mzip is a self-contained ZIP container engine: it parses and
// produces the ZIP binary format and mediates access to per-entry payload
// bytes through interchangeable compression codecs.
//
// Store and Deflate are always available. Optional backends live in
// subpackages and register themselves when imported:
//
//	import (
//		"github.com/lemon4ksan/mzip"
//		_ "github.com/lemon4ksan/mzip/zstd"
//	)
//
// # Basic usage
//
// Creating an archive:
//
//	a, _ := mzip.Open("out.zip", mzip.Truncate)
//	a.AddEntry("file.txt", mzip.OwnedBytes(data), mzip.Deflate)
//	a.Close()
//
// Reading it back:
//
//	a, _ := mzip.Open("out.zip", mzip.ReadOnly)
//	for i := range a.EntryCount() {
//		data, _ := a.Payload(i)
//		// ...
//	}
//	a.Close()
//
// An Archive handle is not safe for concurrent use; callers needing shared
// access must synchronize externally. Payloads decodes entries in parallel
// internally, which is safe because codecs are stateless and the read path
// never mutates the directory.
package mzip

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/lemon4ksan/mzip/internal/checksum"
)

// Mode selects how Open treats the target archive.
type Mode int

const (
	// ReadOnly opens an existing archive; the directory is immutable.
	ReadOnly Mode = iota

	// ReadWrite opens an existing archive for appending, or starts an
	// empty one if the path does not exist.
	ReadWrite

	// Truncate starts an empty archive, discarding any existing file at
	// the path when the archive is closed.
	Truncate
)

// Config holds archive-wide settings, applied through Options.
type Config struct {
	// Comment is the archive-level comment written into the end record
	// (max 65535 bytes). On ReadWrite opens an empty Comment preserves
	// the one already in the file.
	Comment string

	// StoreIfLarger switches an entry to Store during finalize when its
	// requested codec expands the payload. Off by default: the engine
	// never changes a requested method silently.
	StoreIfLarger bool
}

// Option configures an archive at Open time.
type Option func(*Config)

// WithComment sets the archive-level comment.
func WithComment(comment string) Option {
	return func(c *Config) { c.Comment = comment }
}

// WithStoreFallback enables falling back to Store for entries whose
// requested codec expands the payload.
func WithStoreFallback() Option {
	return func(c *Config) { c.StoreIfLarger = true }
}

// Archive is a handle to one ZIP archive. A handle moves through three
// states: open readable, open writable, and closed. All mutation is
// deferred: AddEntry, SetEntryMethod and Remove only touch the in-memory
// directory, and Close writes everything out in one pass.
type Archive struct {
	path string
	mode Mode
	cfg  Config

	dir     *directory
	comment string

	// file is the backing file. It is nil for archives not yet
	// materialized on disk and for OpenReader views, whose entries hold
	// the caller's byte source directly.
	file *os.File

	dirty  bool
	closed bool
}

// Open opens or creates the archive at path.
//
// ReadOnly and ReadWrite parse an existing file eagerly: the end record and
// central directory are validated now, per-entry payloads only when read.
// ReadWrite on a missing path and Truncate start with an empty directory.
func Open(path string, mode Mode, options ...Option) (*Archive, error) {
	a := &Archive{path: path, mode: mode, dir: newDirectory(0)}
	for _, opt := range options {
		opt(&a.cfg)
	}
	if len(a.cfg.Comment) > math.MaxUint16 {
		return nil, fmt.Errorf("%w (%d bytes)", ErrCommentTooLong, len(a.cfg.Comment))
	}
	a.comment = a.cfg.Comment

	switch mode {
	case ReadOnly, ReadWrite:
		f, err := os.Open(path)
		if err != nil {
			if mode == ReadWrite && errors.Is(err, os.ErrNotExist) {
				a.dirty = true // nothing on disk yet; close must materialize the file
				return a, nil
			}
			return nil, fmt.Errorf("open %s: %w", path, err)
		}

		stat, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}

		dir, comment, err := readDirectory(f, stat.Size())
		if err != nil {
			f.Close()
			return nil, err
		}

		a.file = f
		a.dir = dir
		if a.cfg.Comment == "" {
			a.comment = comment
		}

	case Truncate:
		a.dirty = true

	default:
		return nil, fmt.Errorf("mzip: invalid mode %d", mode)
	}

	return a, nil
}

// OpenReader opens a read-only archive view over an arbitrary byte source
// of the given size, such as a bytes.Reader. Closing the view does not
// close the source.
func OpenReader(src io.ReaderAt, size int64) (*Archive, error) {
	dir, comment, err := readDirectory(src, size)
	if err != nil {
		return nil, err
	}
	return &Archive{mode: ReadOnly, dir: dir, comment: comment}, nil
}

// EntryCount returns the number of entries in the directory, including
// staged ones.
func (a *Archive) EntryCount() int {
	if a.closed {
		return 0
	}
	return a.dir.len()
}

// Comment returns the archive-level comment.
func (a *Archive) Comment() string { return a.comment }

// EntryName returns the name of the entry at index.
func (a *Archive) EntryName(index int) (string, error) {
	e, err := a.Entry(index)
	if err != nil {
		return "", err
	}
	return e.name, nil
}

// Entry returns a read-only view of the entry at index.
func (a *Archive) Entry(index int) (*Entry, error) {
	if a.closed {
		return nil, ErrClosed
	}
	e, ok := a.dir.at(index)
	if !ok {
		return nil, fmt.Errorf("%w: index %d", ErrNotFound, index)
	}
	return e, nil
}

// FindEntry returns the index of the entry with the given name. When the
// archive contains duplicate names, the last one in directory order wins.
func (a *Archive) FindEntry(name string) (int, error) {
	if a.closed {
		return 0, ErrClosed
	}
	i, ok := a.dir.findByName(name)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return i, nil
}

// Payload returns the uncompressed content of the entry at index.
//
// For a flushed entry the compressed bytes are read from the backing
// store, decoded, and verified against the recorded CRC-32; a mismatch is
// reported as ErrChecksum, never returned as data. For a staged entry the
// staged bytes are returned directly.
func (a *Archive) Payload(index int) ([]byte, error) {
	e, err := a.Entry(index)
	if err != nil {
		return nil, err
	}
	return a.payload(e)
}

func (a *Archive) payload(e *Entry) ([]byte, error) {
	switch src := e.src.(type) {
	case *stagedSource:
		return append([]byte(nil), src.data...), nil
	case *archiveSource:
		return readPayload(e, src)
	default:
		return nil, fmt.Errorf("%w: %s", ErrSourceDrained, e.name)
	}
}

// AddEntry stages a new entry with the given payload source and
// compression method and returns its index. The CRC-32 is computed now,
// over the uncompressed bytes; compression happens at finalize. Nothing
// is written to the backing store until the archive is closed.
func (a *Archive) AddEntry(name string, src PayloadSource, method Method) (int, error) {
	if err := a.writable(); err != nil {
		return 0, err
	}
	if name == "" {
		return 0, fmt.Errorf("%w: empty entry name", ErrFormat)
	}
	if len(name) > math.MaxUint16 {
		return 0, fmt.Errorf("%w (%d bytes)", ErrFilenameTooLong, len(name))
	}
	if _, ok := a.dir.findByName(name); ok {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateEntry, name)
	}
	if _, err := lookupCodec(method); err != nil {
		return 0, err
	}

	data, err := src.drain()
	if err != nil {
		return 0, err
	}
	if int64(len(data)) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %s (%d bytes)", ErrSizeOverflow, name, len(data))
	}

	index := a.dir.add(&Entry{
		name:              name,
		method:            method,
		crc32:             checksum.Sum(data),
		uncompressedSize:  uint64(len(data)),
		localHeaderOffset: -1,
		modTime:           time.Now(),
		src:               &stagedSource{data: data},
	})
	a.dirty = true

	return index, nil
}

// SetEntryMethod changes the compression method of the entry at index.
// Valid only before finalize; a flushed entry is re-encoded with the new
// codec when the archive is closed.
func (a *Archive) SetEntryMethod(index int, method Method) error {
	if err := a.writable(); err != nil {
		return err
	}
	e, ok := a.dir.at(index)
	if !ok {
		return fmt.Errorf("%w: index %d", ErrNotFound, index)
	}
	if _, err := lookupCodec(method); err != nil {
		return err
	}
	if e.method == method {
		return nil
	}

	e.method = method
	e.compressedSize = 0 // unknown until re-encoded
	a.dirty = true
	return nil
}

// Remove deletes every entry with the given name from the directory.
func (a *Archive) Remove(name string) error {
	if err := a.writable(); err != nil {
		return err
	}
	if a.dir.remove(name) == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	a.dirty = true
	return nil
}

// Close finalizes pending changes on a writable archive and releases the
// backing byte source and all staged buffers. Release happens on every
// exit path; a failed finalize leaves the previously closed version of
// the archive untouched on disk.
func (a *Archive) Close() error {
	if a.closed {
		return nil
	}

	var err error
	if a.mode != ReadOnly && a.dirty {
		err = a.finalize()
	}

	a.closed = true
	for _, e := range a.dir.entries {
		if e.src != nil {
			e.src.release()
			e.src = nil
		}
	}
	if a.file != nil {
		if cerr := a.file.Close(); err == nil {
			err = cerr
		}
		a.file = nil
	}

	return err
}

// finalize writes the whole archive to a fresh temporary file in the
// target directory and replaces the original only on full success, so an
// I/O failure mid-write never corrupts a previously valid archive.
func (a *Archive) finalize() (err error) {
	// Sources are drained at most once below; release them on every exit
	// path, success or failure.
	drained := make([]payloadSource, 0, a.dir.len())
	defer func() {
		for _, s := range drained {
			s.release()
		}
	}()

	tmp, err := os.CreateTemp(filepath.Dir(a.path), ".mzip-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	w := newArchiveWriter(tmp, a.cfg.StoreIfLarger)
	for _, e := range a.dir.entries {
		if e.src != nil {
			drained = append(drained, e.src)
		}
		if err := w.writeEntry(e); err != nil {
			a.invalidate()
			return err
		}
	}
	if err := w.finish(a.comment); err != nil {
		a.invalidate()
		return err
	}

	if err := tmp.Sync(); err != nil {
		a.invalidate()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		tmp = nil
		a.invalidate()
		return fmt.Errorf("close temp file: %w", err)
	}

	// Drop the old handle before the rename so the swap also works on
	// platforms that refuse to replace an open file.
	if a.file != nil {
		a.file.Close()
		a.file = nil
	}

	name := tmp.Name()
	tmp = nil
	if err := os.Rename(name, a.path); err != nil {
		os.Remove(name)
		a.invalidate()
		return fmt.Errorf("replace %s: %w", a.path, err)
	}

	return a.reopen()
}

// reopen rebinds the handle and every entry to the freshly written file,
// so the still-open writable handle reflects the now-consistent on-disk
// state.
func (a *Archive) reopen() error {
	f, err := os.Open(a.path)
	if err != nil {
		a.invalidate()
		return fmt.Errorf("reopen %s: %w", a.path, err)
	}

	a.file = f
	a.dirty = false

	for _, e := range a.dir.entries {
		e.src = &archiveSource{
			ra:             f,
			headerOffset:   e.localHeaderOffset,
			compressedSize: int64(e.compressedSize),
			method:         e.method,
		}
	}

	return nil
}

// invalidate detaches all payload sources after a failed finalize. The
// handle can still report names and sizes but payloads are gone; the
// on-disk archive from the last successful close remains intact.
func (a *Archive) invalidate() {
	for _, e := range a.dir.entries {
		e.src = nil
	}
}

func (a *Archive) writable() error {
	if a.closed {
		return ErrClosed
	}
	if a.mode == ReadOnly {
		return ErrReadOnly
	}
	return nil
}
