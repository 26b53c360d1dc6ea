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

package ipcutil

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Tag marks a frame as a command or a response.
type Tag uint16

// Frame tags.
const (
	TagCommand  Tag = 0xd601
	TagResponse Tag = 0xd602
)

// Opcode identifies a digest service RPC.
type Opcode uint32

// Opcodes. The SHA3 opcodes are reserved and always answered with
// UnsupportedAlgorithm.
const (
	OpInitSHA256 Opcode = iota + 1
	OpInitSHA384
	OpInitSHA512
	OpInitSHA3_256
	OpInitSHA3_384
	OpInitSHA3_512
	OpUpdate
	OpFinalizeSHA256
	OpFinalizeSHA384
	OpFinalizeSHA512
	OpFinalizeSHA3_256
	OpFinalizeSHA3_384
	OpFinalizeSHA3_512
	OpReset
	OpDigestOneshotSHA256
	OpDigestOneshotSHA384
	OpDigestOneshotSHA512
	OpInitHMACSHA256
	OpInitHMACSHA384
	OpInitHMACSHA512
	OpFinalizeHMACSHA256
	OpFinalizeHMACSHA384
	OpFinalizeHMACSHA512
	OpHMACOneshotSHA256
	OpHMACOneshotSHA384
	OpHMACOneshotSHA512
	OpVerifyHMAC
	OpRelease
)

var opNames = map[Opcode]string{
	OpInitSHA256:          "init_sha256",
	OpInitSHA384:          "init_sha384",
	OpInitSHA512:          "init_sha512",
	OpInitSHA3_256:        "init_sha3_256",
	OpInitSHA3_384:        "init_sha3_384",
	OpInitSHA3_512:        "init_sha3_512",
	OpUpdate:              "update",
	OpFinalizeSHA256:      "finalize_sha256",
	OpFinalizeSHA384:      "finalize_sha384",
	OpFinalizeSHA512:      "finalize_sha512",
	OpFinalizeSHA3_256:    "finalize_sha3_256",
	OpFinalizeSHA3_384:    "finalize_sha3_384",
	OpFinalizeSHA3_512:    "finalize_sha3_512",
	OpReset:               "reset",
	OpDigestOneshotSHA256: "digest_oneshot_sha256",
	OpDigestOneshotSHA384: "digest_oneshot_sha384",
	OpDigestOneshotSHA512: "digest_oneshot_sha512",
	OpInitHMACSHA256:      "init_hmac_sha256",
	OpInitHMACSHA384:      "init_hmac_sha384",
	OpInitHMACSHA512:      "init_hmac_sha512",
	OpFinalizeHMACSHA256:  "finalize_hmac_sha256",
	OpFinalizeHMACSHA384:  "finalize_hmac_sha384",
	OpFinalizeHMACSHA512:  "finalize_hmac_sha512",
	OpHMACOneshotSHA256:   "hmac_oneshot_sha256",
	OpHMACOneshotSHA384:   "hmac_oneshot_sha384",
	OpHMACOneshotSHA512:   "hmac_oneshot_sha512",
	OpVerifyHMAC:          "verify_hmac",
	OpRelease:             "release",
}

func (o Opcode) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return fmt.Sprintf("Opcode(%d)", uint32(o))
}

// CommandHeader starts every command frame. Size counts the whole frame,
// header included.
type CommandHeader struct {
	Tag  Tag
	Size uint32
	Op   Opcode
}

// ResponseHeader starts every response frame. Epoch identifies the server
// instance; Res is 0 on success or a digest error code.
type ResponseHeader struct {
	Tag   Tag
	Size  uint32
	Epoch uint32
	Res   uint32
}

// Header sizes in bytes.
var (
	CommandHeaderSize  = binary.Size(CommandHeader{})
	ResponseHeaderSize = binary.Size(ResponseHeader{})
)

// FramePrefixSize is the length of the Tag and Size fields shared by both
// headers; it is all a reader needs to delimit a frame.
const FramePrefixSize = 6

// RawBytes is packed as is, without a length prefix.
type RawBytes []byte

// U16Bytes is a byte slice with a 16-bit length prefix.
type U16Bytes []byte

// MarshalWire packs U16Bytes.
func (b *U16Bytes) MarshalWire(out io.Writer) error {
	if len(*b) > 0xffff {
		return fmt.Errorf("%w: %d bytes do not fit a 16-bit length", ErrBufferTooLong, len(*b))
	}
	if err := binary.Write(out, binary.BigEndian, uint16(len(*b))); err != nil {
		return err
	}
	_, err := out.Write(*b)
	return err
}

// UnmarshalWire unpacks U16Bytes.
func (b *U16Bytes) UnmarshalWire(in io.Reader) error {
	buf, err := ReadU16Bytes(in, 0xffff)
	if err != nil {
		return err
	}
	*b = buf
	return nil
}

// SelfMarshaler lets a type override the default encoding in Pack and
// Unpack.
type SelfMarshaler interface {
	MarshalWire(out io.Writer) error
	UnmarshalWire(in io.Reader) error
}
