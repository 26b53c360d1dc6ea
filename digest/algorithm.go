// Copyright (c) 2025, OpenPRoT Authors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package digest

import (
	"encoding/binary"
	"fmt"
)

// Algorithm identifies a digest or HMAC algorithm. The numeric values are
// the ones carried on the wire.
type Algorithm uint32

// Supported algorithms. The SHA3 values are reserved: every engine and the
// core answer them with ErrUnsupportedAlgorithm.
const (
	SHA256     Algorithm = 0
	SHA384     Algorithm = 1
	SHA512     Algorithm = 2
	SHA3_256   Algorithm = 3
	SHA3_384   Algorithm = 4
	SHA3_512   Algorithm = 5
	HMACSHA256 Algorithm = 6
	HMACSHA384 Algorithm = 7
	HMACSHA512 Algorithm = 8
)

// Digest sizes in 32-bit words.
const (
	SHA256Words = 8
	SHA384Words = 12
	SHA512Words = 16
)

// Maximum HMAC key sizes in bytes. Each equals the block size of the
// underlying hash; longer keys are rejected rather than pre-hashed.
const (
	HMACSHA256MaxKeySize = 64
	HMACSHA384MaxKeySize = 128
	HMACSHA512MaxKeySize = 128
)

// MaxDataSize is the largest buffer accepted by a single Update or one-shot
// call. Larger inputs must be split across several Update calls.
const MaxDataSize = 1024

var algNames = map[Algorithm]string{
	SHA256:     "SHA-256",
	SHA384:     "SHA-384",
	SHA512:     "SHA-512",
	SHA3_256:   "SHA3-256",
	SHA3_384:   "SHA3-384",
	SHA3_512:   "SHA3-512",
	HMACSHA256: "HMAC-SHA-256",
	HMACSHA384: "HMAC-SHA-384",
	HMACSHA512: "HMAC-SHA-512",
}

func (a Algorithm) String() string {
	if s, ok := algNames[a]; ok {
		return s
	}
	return fmt.Sprintf("Algorithm(%d)", uint32(a))
}

// Supported reports whether a is one of the six algorithms served by the
// core.
func (a Algorithm) Supported() bool {
	switch a {
	case SHA256, SHA384, SHA512, HMACSHA256, HMACSHA384, HMACSHA512:
		return true
	}
	return false
}

// IsHMAC reports whether a is a keyed variant.
func (a Algorithm) IsHMAC() bool {
	return a == HMACSHA256 || a == HMACSHA384 || a == HMACSHA512
}

// Underlying returns the hash algorithm an HMAC variant is built on. Plain
// hash algorithms are returned unchanged.
func (a Algorithm) Underlying() Algorithm {
	switch a {
	case HMACSHA256:
		return SHA256
	case HMACSHA384:
		return SHA384
	case HMACSHA512:
		return SHA512
	}
	return a
}

// OutputWords returns the output width in 32-bit words, or 0 for an
// unsupported algorithm.
func (a Algorithm) OutputWords() int {
	switch a.Underlying() {
	case SHA256, SHA3_256:
		return SHA256Words
	case SHA384, SHA3_384:
		return SHA384Words
	case SHA512, SHA3_512:
		return SHA512Words
	}
	return 0
}

// Size returns the output width in bytes.
func (a Algorithm) Size() int {
	return a.OutputWords() * 4
}

// BlockSize returns the block size of the underlying hash in bytes.
func (a Algorithm) BlockSize() int {
	switch a.Underlying() {
	case SHA256:
		return 64
	case SHA384, SHA512:
		return 128
	}
	return 0
}

// MaxKeySize returns the largest accepted key for an HMAC variant, and 0
// for plain hashes.
func (a Algorithm) MaxKeySize() int {
	switch a {
	case HMACSHA256:
		return HMACSHA256MaxKeySize
	case HMACSHA384:
		return HMACSHA384MaxKeySize
	case HMACSHA512:
		return HMACSHA512MaxKeySize
	}
	return 0
}

// CheckKey validates an HMAC key against the algorithm's ceiling.
func (a Algorithm) CheckKey(key []byte) error {
	if !a.IsHMAC() {
		if len(key) != 0 {
			return ErrIncompatibleSessionType
		}
		return nil
	}
	if len(key) > a.MaxKeySize() {
		return ErrInvalidKeyLength
	}
	return nil
}

// SHA256Digest is a SHA-256 digest as big-endian 32-bit words.
type SHA256Digest [SHA256Words]uint32

// SHA384Digest is a SHA-384 digest as big-endian 32-bit words.
type SHA384Digest [SHA384Words]uint32

// SHA512Digest is a SHA-512 digest as big-endian 32-bit words.
type SHA512Digest [SHA512Words]uint32

// HMACSHA256Tag is an HMAC-SHA-256 authentication tag.
type HMACSHA256Tag [32]byte

// HMACSHA384Tag is an HMAC-SHA-384 authentication tag.
type HMACSHA384Tag [48]byte

// HMACSHA512Tag is an HMAC-SHA-512 authentication tag.
type HMACSHA512Tag [64]byte

// Words splits a digest into big-endian 32-bit words.
func Words(sum []byte) []uint32 {
	w := make([]uint32, len(sum)/4)
	for i := range w {
		w[i] = binary.BigEndian.Uint32(sum[4*i:])
	}
	return w
}

// Bytes joins big-endian 32-bit words back into a digest.
func Bytes(words []uint32) []byte {
	b := make([]byte, 4*len(words))
	for i, v := range words {
		binary.BigEndian.PutUint32(b[4*i:], v)
	}
	return b
}
