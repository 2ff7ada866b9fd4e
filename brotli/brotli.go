// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package brotli registers a Brotli codec for mzip archives. Importing
// the package for side effects is enough:
//
//	import _ "github.com/lemon4ksan/mzip/brotli"
package brotli

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"

	"github.com/lemon4ksan/mzip"
)

func init() {
	mzip.RegisterCodec(mzip.Brotli, codec{})
}

type codec struct{}

func (codec) Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("brotli encode: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("brotli encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (codec) Decode(data []byte, uncompressedSize int) ([]byte, error) {
	r := brotli.NewReader(bytes.NewReader(data))
	out := make([]byte, uncompressedSize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("brotli decode: %w", err)
	}
	if n, _ := r.Read(make([]byte, 1)); n != 0 {
		return nil, fmt.Errorf("%w: brotli stream longer than recorded %d bytes",
			mzip.ErrSizeMismatch, uncompressedSize)
	}
	return out, nil
}
