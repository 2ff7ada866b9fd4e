// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mzip

import (
	"fmt"
	"sync"
)

// Method identifies the compression algorithm of an entry's payload.
type Method uint16

// Compression method ids. Store and Deflate carry their ZIP specification
// values and are always available. The optional backends register under
// fixed ids when their subpackages are linked in; LZ4 and Brotli use
// private-range ids since the specification reserves none for them.
const (
	Store   Method = 0
	Deflate Method = 8
	LZMA    Method = 14
	Zstd    Method = 93
	LZ4     Method = 94
	Brotli  Method = 121
)

func (m Method) String() string {
	switch m {
	case Store:
		return "store"
	case Deflate:
		return "deflate"
	case LZMA:
		return "lzma"
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	case Brotli:
		return "brotli"
	default:
		return fmt.Sprintf("method(%d)", uint16(m))
	}
}

// ParseMethod resolves a method name as accepted on the command line.
func ParseMethod(s string) (Method, error) {
	for _, m := range []Method{Store, Deflate, LZMA, Zstd, LZ4, Brotli} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrAlgorithm, s)
}

// Codec is a compression capability pair registered under a method id.
// Implementations must be pure: no shared mutable state between calls, so
// a single Codec can encode or decode multiple entries concurrently.
type Codec interface {
	// Encode compresses data and returns the encoded bytes.
	Encode(data []byte) ([]byte, error)

	// Decode decompresses data into exactly uncompressedSize bytes.
	// A stream that produces more or fewer bytes is an error.
	Decode(data []byte, uncompressedSize int) ([]byte, error)
}

// The process-wide codec registry. Store and Deflate are always present;
// optional backends add themselves from their package init when linked in.
var codecs = struct {
	sync.RWMutex
	m map[Method]Codec
}{
	m: map[Method]Codec{
		Store:   storeCodec{},
		Deflate: newDeflateCodec(defaultDeflateLevel),
	},
}

// RegisterCodec makes a codec available under the given method id,
// replacing any previous registration.
func RegisterCodec(method Method, c Codec) {
	codecs.Lock()
	defer codecs.Unlock()
	codecs.m[method] = c
}

// CodecRegistered reports whether a codec is available for the method.
func CodecRegistered(method Method) bool {
	codecs.RLock()
	defer codecs.RUnlock()
	_, ok := codecs.m[method]
	return ok
}

func lookupCodec(method Method) (Codec, error) {
	codecs.RLock()
	defer codecs.RUnlock()

	if c, ok := codecs.m[method]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrAlgorithm, method)
}

// storeCodec is the identity codec registered at method id 0.
type storeCodec struct{}

func (storeCodec) Encode(data []byte) ([]byte, error) {
	return data, nil
}

func (storeCodec) Decode(data []byte, uncompressedSize int) ([]byte, error) {
	if len(data) != uncompressedSize {
		return nil, fmt.Errorf("%w: stored %d bytes, want %d", ErrSizeMismatch, len(data), uncompressedSize)
	}
	return data, nil
}
