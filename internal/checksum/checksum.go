// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package checksum computes the CRC-32 used by the ZIP format: polynomial
// 0xEDB88320, reflected, with the initial value and final XOR handled so
// that Sum(nil) == 0. Both functions are pure and safe for concurrent use.
package checksum

import "hash/crc32"

// Sum returns the ZIP CRC-32 of data.
func Sum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// Update continues a checksum with more data. Seed the first call with 0.
func Update(seed uint32, data []byte) uint32 {
	return crc32.Update(seed, crc32.IEEETable, data)
}
