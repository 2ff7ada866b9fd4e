// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mzip_test

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemon4ksan/mzip"
)

func archivePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.zip")
}

// writeArchive creates an archive at path with the given name to content
// mapping, all entries deflated.
func writeArchive(t *testing.T, path string, files map[string]string) {
	t.Helper()
	a, err := mzip.Open(path, mzip.Truncate)
	require.NoError(t, err)
	for name, content := range files {
		_, err := a.AddEntry(name, mzip.CopiedBytes([]byte(content)), mzip.Deflate)
		require.NoError(t, err, name)
	}
	require.NoError(t, a.Close())
}

func TestRoundTrip(t *testing.T) {
	path := archivePath(t)
	files := map[string]string{
		"hello.txt":       "Hello World",
		"dir/nested.json": "{}",
		"empty.bin":       "",
	}
	writeArchive(t, path, files)

	a, err := mzip.Open(path, mzip.ReadOnly)
	require.NoError(t, err)
	defer a.Close()

	require.Equal(t, len(files), a.EntryCount())
	for i := 0; i < a.EntryCount(); i++ {
		e, err := a.Entry(i)
		require.NoError(t, err)

		want, ok := files[e.Name()]
		require.True(t, ok, "unexpected entry %q", e.Name())
		assert.Equal(t, uint64(len(want)), e.UncompressedSize())
		assert.Equal(t, crc32.ChecksumIEEE([]byte(want)), e.CRC32())

		data, err := a.Payload(i)
		require.NoError(t, err)
		assert.Equal(t, want, string(data))
	}
}

func TestRoundTripStore(t *testing.T) {
	path := archivePath(t)
	content := []byte("stored verbatim")

	a, err := mzip.Open(path, mzip.Truncate)
	require.NoError(t, err)
	_, err = a.AddEntry("raw.bin", mzip.OwnedBytes(content), mzip.Store)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	a, err = mzip.Open(path, mzip.ReadOnly)
	require.NoError(t, err)
	defer a.Close()

	e, err := a.Entry(0)
	require.NoError(t, err)
	assert.Equal(t, mzip.Store, e.Method())
	assert.Equal(t, e.UncompressedSize(), e.CompressedSize())

	data, err := a.Payload(0)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

// The produced bytes must be readable by any conforming implementation.
func TestInteropStdlibReadsOutput(t *testing.T) {
	path := archivePath(t)
	files := map[string]string{
		"a.txt":     "alpha",
		"dir/b.txt": strings.Repeat("beta ", 200),
	}
	writeArchive(t, path, files)

	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	require.Len(t, zr.File, len(files))
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		assert.Equal(t, files[f.Name], string(data))
	}
}

func TestInteropReadsStdlibOutput(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("from/stdlib.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("stdlib content"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	a, err := mzip.OpenReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	defer a.Close()

	require.Equal(t, 1, a.EntryCount())
	data, err := a.Payload(0)
	require.NoError(t, err)
	assert.Equal(t, "stdlib content", string(data))
}

func TestEmptyArchive(t *testing.T) {
	path := archivePath(t)

	a, err := mzip.Open(path, mzip.Truncate)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(22), info.Size())

	a, err = mzip.Open(path, mzip.ReadOnly)
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, 0, a.EntryCount())
}

func TestCommentRoundTrip(t *testing.T) {
	path := archivePath(t)

	a, err := mzip.Open(path, mzip.Truncate, mzip.WithComment("release build"))
	require.NoError(t, err)
	_, err = a.AddEntry("a.txt", mzip.CopiedBytes([]byte("x")), mzip.Store)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	a, err = mzip.Open(path, mzip.ReadOnly)
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, "release build", a.Comment())
}

func TestCommentTooLong(t *testing.T) {
	_, err := mzip.Open(archivePath(t), mzip.Truncate, mzip.WithComment(strings.Repeat("c", 65536)))
	require.Error(t, err)
	assert.ErrorIs(t, err, mzip.ErrCommentTooLong)
}

func TestStagedPayloadReadBack(t *testing.T) {
	a, err := mzip.Open(archivePath(t), mzip.Truncate)
	require.NoError(t, err)
	defer a.Close()

	i, err := a.AddEntry("staged.txt", mzip.CopiedBytes([]byte("not yet flushed")), mzip.Deflate)
	require.NoError(t, err)

	// Readable before any bytes hit the disk.
	data, err := a.Payload(i)
	require.NoError(t, err)
	assert.Equal(t, "not yet flushed", string(data))

	e, err := a.Entry(i)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), e.CompressedSize())
}

func TestAddEntryErrors(t *testing.T) {
	a, err := mzip.Open(archivePath(t), mzip.Truncate)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.AddEntry("a.txt", mzip.CopiedBytes([]byte("x")), mzip.Deflate)
	require.NoError(t, err)

	t.Run("duplicate name", func(t *testing.T) {
		_, err := a.AddEntry("a.txt", mzip.CopiedBytes([]byte("y")), mzip.Deflate)
		assert.ErrorIs(t, err, mzip.ErrDuplicateEntry)
	})

	t.Run("unregistered method leaves directory untouched", func(t *testing.T) {
		before := a.EntryCount()
		_, err := a.AddEntry("b.txt", mzip.CopiedBytes([]byte("y")), mzip.Method(4095))
		assert.ErrorIs(t, err, mzip.ErrAlgorithm)
		assert.Equal(t, before, a.EntryCount())
	})

	t.Run("owned source drains once", func(t *testing.T) {
		src := mzip.OwnedBytes([]byte("once"))
		_, err := a.AddEntry("c.txt", src, mzip.Store)
		require.NoError(t, err)
		_, err = a.AddEntry("d.txt", src, mzip.Store)
		assert.ErrorIs(t, err, mzip.ErrSourceDrained)
	})
}

func TestReadOnlyRejectsMutation(t *testing.T) {
	path := archivePath(t)
	writeArchive(t, path, map[string]string{"a.txt": "x"})

	a, err := mzip.Open(path, mzip.ReadOnly)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.AddEntry("b.txt", mzip.CopiedBytes([]byte("y")), mzip.Store)
	assert.ErrorIs(t, err, mzip.ErrReadOnly)
	assert.ErrorIs(t, a.Remove("a.txt"), mzip.ErrReadOnly)
	assert.ErrorIs(t, a.SetEntryMethod(0, mzip.Store), mzip.ErrReadOnly)
}

func TestClosedHandle(t *testing.T) {
	path := archivePath(t)
	writeArchive(t, path, map[string]string{"a.txt": "x"})

	a, err := mzip.Open(path, mzip.ReadOnly)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	assert.Equal(t, 0, a.EntryCount())
	_, err = a.Payload(0)
	assert.ErrorIs(t, err, mzip.ErrClosed)
	_, err = a.Entry(0)
	assert.ErrorIs(t, err, mzip.ErrClosed)

	// Closing twice is a no-op.
	assert.NoError(t, a.Close())
}

func TestAppendPreservesExistingEntries(t *testing.T) {
	path := archivePath(t)
	original := strings.Repeat("original content ", 50)
	writeArchive(t, path, map[string]string{"old.txt": original})

	a, err := mzip.Open(path, mzip.ReadWrite)
	require.NoError(t, err)
	wantCRC := func() uint32 {
		e, err := a.Entry(0)
		require.NoError(t, err)
		return e.CRC32()
	}()
	_, err = a.AddEntry("new.txt", mzip.CopiedBytes([]byte("appended")), mzip.Deflate)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	a, err = mzip.Open(path, mzip.ReadOnly)
	require.NoError(t, err)
	defer a.Close()

	require.Equal(t, 2, a.EntryCount())
	e, err := a.Entry(0)
	require.NoError(t, err)
	assert.Equal(t, "old.txt", e.Name())
	assert.Equal(t, wantCRC, e.CRC32())

	data, err := a.Payload(0)
	require.NoError(t, err)
	assert.Equal(t, original, string(data))

	data, err = a.Payload(1)
	require.NoError(t, err)
	assert.Equal(t, "appended", string(data))
}

func TestAppendPreservesEntryMetadata(t *testing.T) {
	customExtra := []byte{0x66, 0x66, 0x03, 0x00, 0x01, 0x02, 0x03}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	hdr := &zip.FileHeader{
		Name:    "tool.sh",
		Method:  zip.Deflate,
		Comment: "entry note",
		Extra:   customExtra,
	}
	hdr.SetMode(0o755)
	w, err := zw.CreateHeader(hdr)
	require.NoError(t, err)
	_, err = w.Write([]byte("#!/bin/sh\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	path := archivePath(t)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	a, err := mzip.Open(path, mzip.ReadWrite)
	require.NoError(t, err)
	_, err = a.AddEntry("extra.txt", mzip.CopiedBytes([]byte("x")), mzip.Store)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	require.Len(t, zr.File, 2)
	f := zr.File[0]
	require.Equal(t, "tool.sh", f.Name)
	assert.Equal(t, "entry note", f.Comment)
	assert.Equal(t, os.FileMode(0o755), f.Mode().Perm())
	assert.True(t, bytes.Contains(f.Extra, customExtra), "custom extra field dropped: %x", f.Extra)
}

func TestReadWriteCreatesMissingFile(t *testing.T) {
	path := archivePath(t)

	a, err := mzip.Open(path, mzip.ReadWrite)
	require.NoError(t, err)
	_, err = a.AddEntry("only.txt", mzip.CopiedBytes([]byte("fresh")), mzip.Store)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	a, err = mzip.Open(path, mzip.ReadOnly)
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, 1, a.EntryCount())
}

func TestRemove(t *testing.T) {
	path := archivePath(t)
	writeArchive(t, path, map[string]string{"a.txt": "x", "b.txt": "y"})

	a, err := mzip.Open(path, mzip.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, a.Remove("a.txt"))
	assert.ErrorIs(t, a.Remove("missing.txt"), mzip.ErrNotFound)
	require.NoError(t, a.Close())

	a, err = mzip.Open(path, mzip.ReadOnly)
	require.NoError(t, err)
	defer a.Close()

	require.Equal(t, 1, a.EntryCount())
	name, err := a.EntryName(0)
	require.NoError(t, err)
	assert.Equal(t, "b.txt", name)
}

func TestSetEntryMethodRecompresses(t *testing.T) {
	path := archivePath(t)
	content := strings.Repeat("recompress me ", 100)
	writeArchive(t, path, map[string]string{"a.txt": content})

	a, err := mzip.Open(path, mzip.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, a.SetEntryMethod(0, mzip.Store))
	require.NoError(t, a.Close())

	a, err = mzip.Open(path, mzip.ReadOnly)
	require.NoError(t, err)
	defer a.Close()

	e, err := a.Entry(0)
	require.NoError(t, err)
	assert.Equal(t, mzip.Store, e.Method())
	assert.Equal(t, uint64(len(content)), e.CompressedSize())

	data, err := a.Payload(0)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestStoreFallbackOnExpansion(t *testing.T) {
	// Random bytes are incompressible; deflate framing can only expand
	// them.
	content := make([]byte, 4096)
	rand.New(rand.NewSource(1)).Read(content)

	path := archivePath(t)
	a, err := mzip.Open(path, mzip.Truncate, mzip.WithStoreFallback())
	require.NoError(t, err)
	_, err = a.AddEntry("noise.bin", mzip.OwnedBytes(content), mzip.Deflate)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	a, err = mzip.Open(path, mzip.ReadOnly)
	require.NoError(t, err)
	defer a.Close()

	e, err := a.Entry(0)
	require.NoError(t, err)
	assert.Equal(t, mzip.Store, e.Method())

	data, err := a.Payload(0)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestNoStoreFallbackByDefault(t *testing.T) {
	content := make([]byte, 4096)
	rand.New(rand.NewSource(2)).Read(content)

	path := archivePath(t)
	a, err := mzip.Open(path, mzip.Truncate)
	require.NoError(t, err)
	_, err = a.AddEntry("noise.bin", mzip.OwnedBytes(content), mzip.Deflate)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	a, err = mzip.Open(path, mzip.ReadOnly)
	require.NoError(t, err)
	defer a.Close()

	e, err := a.Entry(0)
	require.NoError(t, err)
	assert.Equal(t, mzip.Deflate, e.Method())
	assert.Greater(t, e.CompressedSize(), e.UncompressedSize())
}

func TestChecksumMismatch(t *testing.T) {
	path := archivePath(t)
	content := []byte("integrity protected content")

	a, err := mzip.Open(path, mzip.Truncate)
	require.NoError(t, err)
	_, err = a.AddEntry("a.bin", mzip.OwnedBytes(content), mzip.Store)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	// Flip one payload byte on disk. The entry is stored, so its payload
	// begins right after the 30-byte header plus the name.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[30+len("a.bin")] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	a, err = mzip.Open(path, mzip.ReadOnly)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Payload(0)
	assert.ErrorIs(t, err, mzip.ErrChecksum)
}

func TestTruncatedArchive(t *testing.T) {
	path := archivePath(t)
	writeArchive(t, path, map[string]string{"a.txt": "x"})

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw[:len(raw)-10], 0o644))

	_, err = mzip.Open(path, mzip.ReadOnly)
	require.Error(t, err)
}

func TestNotAZipFile(t *testing.T) {
	path := archivePath(t)
	require.NoError(t, os.WriteFile(path, []byte("plain text, no magic"), 0o644))

	_, err := mzip.Open(path, mzip.ReadOnly)
	assert.ErrorIs(t, err, mzip.ErrFormat)
}

func TestDuplicateNamesLastWins(t *testing.T) {
	// archive/zip happily writes duplicate names; the reader must resolve
	// the name to the later record.
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, content := range []string{"first", "second"} {
		w, err := zw.Create("dup.txt")
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	a, err := mzip.OpenReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	defer a.Close()

	i, err := a.FindEntry("dup.txt")
	require.NoError(t, err)
	assert.Equal(t, 1, i)

	data, err := a.Payload(i)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestPayloadsParallel(t *testing.T) {
	path := archivePath(t)
	files := make(map[string]string, 50)
	for i := 0; i < 50; i++ {
		files[fmt.Sprintf("file_%d.txt", i)] = strings.Repeat("data", i+1)
	}
	writeArchive(t, path, files)

	a, err := mzip.Open(path, mzip.ReadOnly)
	require.NoError(t, err)
	defer a.Close()

	payloads, err := a.Payloads(context.Background(), 4)
	require.NoError(t, err)
	require.Len(t, payloads, len(files))

	for i, data := range payloads {
		name, err := a.EntryName(i)
		require.NoError(t, err)
		assert.Equal(t, files[name], string(data))
	}
}

func TestPayloadsCancelled(t *testing.T) {
	path := archivePath(t)
	writeArchive(t, path, map[string]string{"a.txt": "x"})

	a, err := mzip.Open(path, mzip.ReadOnly)
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Payloads(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFS(t *testing.T) {
	path := archivePath(t)
	files := map[string]string{
		"top.txt":        "top",
		"dir/inner.txt":  "inner",
		"dir/sub/leaf.x": "leaf",
	}
	writeArchive(t, path, files)

	a, err := mzip.Open(path, mzip.ReadOnly)
	require.NoError(t, err)
	defer a.Close()

	fsys := a.FS()
	require.NoError(t, fstest.TestFS(fsys, "top.txt", "dir/inner.txt", "dir/sub/leaf.x"))

	data, err := fs.ReadFile(fsys, "dir/inner.txt")
	require.NoError(t, err)
	assert.Equal(t, "inner", string(data))
}
