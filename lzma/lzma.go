// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lzma registers an LZMA codec for mzip archives, using the
// classic .lzma framing (13-byte header carrying properties and the
// uncompressed size). Importing the package for side effects is enough:
//
//	import _ "github.com/lemon4ksan/mzip/lzma"
package lzma

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ulikunitz/xz/lzma"

	"github.com/lemon4ksan/mzip"
)

func init() {
	mzip.RegisterCodec(mzip.LZMA, codec{})
}

type codec struct{}

func (codec) Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := lzma.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("lzma encode: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("lzma encode: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lzma encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (codec) Decode(data []byte, uncompressedSize int) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("lzma decode: %w", err)
	}
	out := make([]byte, uncompressedSize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("lzma decode: %w", err)
	}
	if n, _ := r.Read(make([]byte, 1)); n != 0 {
		return nil, fmt.Errorf("%w: lzma stream longer than recorded %d bytes",
			mzip.ErrSizeMismatch, uncompressedSize)
	}
	return out, nil
}
