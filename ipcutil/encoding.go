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
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"reflect"
)

var (
	// ErrBufferTooLong is returned when a length-prefixed buffer exceeds the
	// limit the decoder was given.
	ErrBufferTooLong = errors.New("buffer too long")
	// ErrTrailingBytes is returned by UnpackAll when input is left over.
	ErrTrailingBytes = errors.New("trailing bytes after message body")
)

var (
	selfMarshalerType = reflect.TypeOf((*SelfMarshaler)(nil)).Elem()
	rawBytesType      = reflect.TypeOf(RawBytes(nil))
)

// Pack encodes elts big-endian. Fixed-size values use encoding/binary;
// []byte gets a 16-bit length prefix like U16Bytes; RawBytes is copied
// as is.
func Pack(elts ...interface{}) ([]byte, error) {
	var buf bytes.Buffer
	for _, e := range elts {
		if err := packValue(&buf, reflect.ValueOf(e)); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func packValue(buf *bytes.Buffer, v reflect.Value) error {
	if !v.IsValid() {
		return errors.New("cannot pack nil interface")
	}
	if v.Type().Implements(selfMarshalerType) {
		return v.Interface().(SelfMarshaler).MarshalWire(buf)
	}
	if reflect.PointerTo(v.Type()).Implements(selfMarshalerType) {
		p := reflect.New(v.Type())
		p.Elem().Set(v)
		return p.Interface().(SelfMarshaler).MarshalWire(buf)
	}

	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return fmt.Errorf("cannot pack nil %s", v.Type())
		}
		return packValue(buf, v.Elem())
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if err := packValue(buf, v.Field(i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Slice:
		if v.Type() == rawBytesType {
			buf.Write(v.Bytes())
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			b := U16Bytes(v.Bytes())
			return b.MarshalWire(buf)
		}
		return fmt.Errorf("cannot pack slice of %s", v.Type().Elem())
	}
	return binary.Write(buf, binary.BigEndian, v.Interface())
}

// Unpack decodes b into elts, which must be pointers, and returns the
// number of bytes consumed.
func Unpack(b []byte, elts ...interface{}) (int, error) {
	r := bytes.NewReader(b)
	err := UnpackBuf(r, elts...)
	return len(b) - r.Len(), err
}

// UnpackAll is Unpack that also fails when b is not consumed entirely.
func UnpackAll(b []byte, elts ...interface{}) error {
	n, err := Unpack(b, elts...)
	if err != nil {
		return err
	}
	if n != len(b) {
		return fmt.Errorf("%w: %d of %d bytes unread", ErrTrailingBytes, len(b)-n, len(b))
	}
	return nil
}

// UnpackBuf decodes from r into elts, which must be pointers.
func UnpackBuf(r io.Reader, elts ...interface{}) error {
	for _, e := range elts {
		v := reflect.ValueOf(e)
		if v.Kind() != reflect.Ptr {
			return fmt.Errorf("non-pointer value %s passed to UnpackBuf", v.Type())
		}
		if v.IsNil() {
			return errors.New("nil pointer passed to UnpackBuf")
		}
		if err := unpackValue(r, v); err != nil {
			return err
		}
	}
	return nil
}

func unpackValue(r io.Reader, v reflect.Value) error {
	if v.Type().Implements(selfMarshalerType) && v.Kind() == reflect.Ptr {
		return v.Interface().(SelfMarshaler).UnmarshalWire(r)
	}
	if v.CanAddr() && reflect.PointerTo(v.Type()).Implements(selfMarshalerType) {
		return v.Addr().Interface().(SelfMarshaler).UnmarshalWire(r)
	}

	switch v.Kind() {
	case reflect.Ptr:
		return unpackValue(r, v.Elem())
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if err := unpackValue(r, v.Field(i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Slice:
		if v.Type() == rawBytesType {
			// RawBytes carries no length; fill the slice as sized by the caller.
			if _, err := io.ReadFull(r, v.Bytes()); err != nil {
				if err == io.EOF {
					err = io.ErrUnexpectedEOF
				}
				return err
			}
			return nil
		}
		if v.Type().Elem().Kind() != reflect.Uint8 {
			return fmt.Errorf("cannot unpack slice of %s", v.Type().Elem())
		}
		b, err := ReadU16Bytes(r, 0xffff)
		if err != nil {
			return err
		}
		v.SetBytes(b)
		return nil
	}
	if !v.CanAddr() {
		return fmt.Errorf("cannot unpack unaddressable leaf type %s", v.Type())
	}
	return binary.Read(r, binary.BigEndian, v.Addr().Interface())
}

// ReadU16Bytes reads a 16-bit length-prefixed buffer and fails with
// ErrBufferTooLong, before reading the payload, if it exceeds max.
func ReadU16Bytes(r io.Reader, max int) ([]byte, error) {
	var size uint16
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return nil, err
	}
	if int(size) > max {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrBufferTooLong, size, max)
	}
	b := make([]byte, size)
	if _, err := io.ReadFull(r, b); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return b, nil
}

// EncodeCommand builds a command frame for op with body in.
func EncodeCommand(op Opcode, in ...interface{}) ([]byte, error) {
	body, err := Pack(in...)
	if err != nil {
		return nil, fmt.Errorf("couldn't pack %v body: %w", op, err)
	}
	hdr, err := Pack(CommandHeader{
		Tag:  TagCommand,
		Size: uint32(CommandHeaderSize + len(body)),
		Op:   op,
	})
	if err != nil {
		return nil, err
	}
	return append(hdr, body...), nil
}

// DecodeCommand splits a command frame into header and body.
func DecodeCommand(frame []byte) (CommandHeader, []byte, error) {
	var h CommandHeader
	if _, err := Unpack(frame, &h); err != nil {
		return h, nil, fmt.Errorf("couldn't unpack command header: %w", err)
	}
	if h.Tag != TagCommand {
		return h, nil, fmt.Errorf("unexpected command tag 0x%04x", uint16(h.Tag))
	}
	if int(h.Size) != len(frame) {
		return h, nil, fmt.Errorf("command header size %d, frame is %d bytes", h.Size, len(frame))
	}
	return h, frame[CommandHeaderSize:], nil
}

// EncodeResponse builds a response frame. A non-zero res carries no body.
func EncodeResponse(epoch, res uint32, out ...interface{}) ([]byte, error) {
	var body []byte
	if res == 0 {
		var err error
		if body, err = Pack(out...); err != nil {
			return nil, fmt.Errorf("couldn't pack response body: %w", err)
		}
	}
	hdr, err := Pack(ResponseHeader{
		Tag:   TagResponse,
		Size:  uint32(ResponseHeaderSize + len(body)),
		Epoch: epoch,
		Res:   res,
	})
	if err != nil {
		return nil, err
	}
	return append(hdr, body...), nil
}

// DecodeResponse splits a response frame into header and body.
func DecodeResponse(frame []byte) (ResponseHeader, []byte, error) {
	var h ResponseHeader
	if _, err := Unpack(frame, &h); err != nil {
		return h, nil, fmt.Errorf("couldn't unpack response header: %w", err)
	}
	if h.Tag != TagResponse {
		return h, nil, fmt.Errorf("unexpected response tag 0x%04x", uint16(h.Tag))
	}
	if int(h.Size) != len(frame) {
		return h, nil, fmt.Errorf("response header size %d, frame is %d bytes", h.Size, len(frame))
	}
	return h, frame[ResponseHeaderSize:], nil
}
