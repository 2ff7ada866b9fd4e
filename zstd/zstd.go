// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package zstd registers a Zstandard codec for mzip archives. Importing
// the package for side effects is enough:
//
//	import _ "github.com/lemon4ksan/mzip/zstd"
package zstd

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/lemon4ksan/mzip"
)

// Stateless EncodeAll/DecodeAll calls are concurrency-safe, so a single
// encoder and decoder pair serves all archives.
var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil)
)

func init() {
	mzip.RegisterCodec(mzip.Zstd, codec{})
}

type codec struct{}

func (codec) Encode(data []byte) ([]byte, error) {
	return encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func (codec) Decode(data []byte, uncompressedSize int) ([]byte, error) {
	out, err := decoder.DecodeAll(data, make([]byte, 0, uncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	if len(out) != uncompressedSize {
		return nil, fmt.Errorf("%w: zstd produced %d bytes, recorded %d",
			mzip.ErrSizeMismatch, len(out), uncompressedSize)
	}
	return out, nil
}
