// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mzip

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
)

const defaultDeflateLevel = 6

// deflateCodec implements DEFLATE with writer pooling. flate writers reset
// cleanly, so one codec serves all entries at a given level.
type deflateCodec struct {
	level int
	pool  sync.Pool
}

func newDeflateCodec(level int) *deflateCodec {
	return &deflateCodec{
		level: level,
		pool: sync.Pool{
			New: func() interface{} {
				w, _ := flate.NewWriter(io.Discard, level)
				return w
			},
		},
	}
}

// NewDeflateCodec returns a DEFLATE codec at the given level (1-9).
// Register it to override the default level 6 codec at method id 8.
func NewDeflateCodec(level int) Codec {
	if level < flate.BestSpeed || level > flate.BestCompression {
		level = defaultDeflateLevel
	}
	return newDeflateCodec(level)
}

func (d *deflateCodec) Encode(data []byte) ([]byte, error) {
	w := d.pool.Get().(*flate.Writer)
	defer d.pool.Put(w)

	var buf bytes.Buffer
	buf.Grow(len(data)/2 + 64)
	w.Reset(&buf)

	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}

	return buf.Bytes(), nil
}

func (d *deflateCodec) Decode(data []byte, uncompressedSize int) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()

	out := make([]byte, uncompressedSize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("inflate: %w", err)
	}

	// The stream must end exactly at the declared size.
	var tail [1]byte
	if n, _ := r.Read(tail[:]); n > 0 {
		return nil, fmt.Errorf("%w: inflate produced more than %d bytes", ErrSizeMismatch, uncompressedSize)
	}

	return out, nil
}
