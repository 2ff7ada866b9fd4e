// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zstd_test

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lemon4ksan/mzip"
	_ "github.com/lemon4ksan/mzip/zstd"
)

func TestRegistered(t *testing.T) {
	if !mzip.CodecRegistered(mzip.Zstd) {
		t.Fatal("zstd codec not registered by import")
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.zip")
	content := []byte(strings.Repeat("zstandard compresses this well ", 200))

	a, err := mzip.Open(path, mzip.Truncate)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := a.AddEntry("data.txt", mzip.OwnedBytes(content), mzip.Zstd); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	a, err = mzip.Open(path, mzip.ReadOnly)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer a.Close()

	e, err := a.Entry(0)
	if err != nil {
		t.Fatalf("Entry: %v", err)
	}
	if e.Method() != mzip.Zstd {
		t.Errorf("method = %v", e.Method())
	}
	if e.CompressedSize() >= e.UncompressedSize() {
		t.Errorf("no compression: %d >= %d", e.CompressedSize(), e.UncompressedSize())
	}

	data, err := a.Payload(0)
	if err != nil {
		t.Fatalf("Payload: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Error("round trip changed bytes")
	}
}
