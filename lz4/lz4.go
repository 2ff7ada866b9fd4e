// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lz4 registers an LZ4 frame codec for mzip archives. Importing
// the package for side effects is enough:
//
//	import _ "github.com/lemon4ksan/mzip/lz4"
package lz4

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"

	"github.com/lemon4ksan/mzip"
)

func init() {
	mzip.RegisterCodec(mzip.LZ4, codec{})
}

type codec struct{}

func (codec) Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("lz4 encode: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (codec) Decode(data []byte, uncompressedSize int) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	out := make([]byte, uncompressedSize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("lz4 decode: %w", err)
	}
	if n, _ := r.Read(make([]byte, 1)); n != 0 {
		return nil, fmt.Errorf("%w: lz4 stream longer than recorded %d bytes",
			mzip.ErrSizeMismatch, uncompressedSize)
	}
	return out, nil
}
