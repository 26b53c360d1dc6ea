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

package server

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/golang/glog"

	"github.com/openprot/go-digest/digest"
	"github.com/openprot/go-digest/ipcutil"
)

var (
	initOps = map[ipcutil.Opcode]digest.Algorithm{
		ipcutil.OpInitSHA256:   digest.SHA256,
		ipcutil.OpInitSHA384:   digest.SHA384,
		ipcutil.OpInitSHA512:   digest.SHA512,
		ipcutil.OpInitSHA3_256: digest.SHA3_256,
		ipcutil.OpInitSHA3_384: digest.SHA3_384,
		ipcutil.OpInitSHA3_512: digest.SHA3_512,
	}
	initHMACOps = map[ipcutil.Opcode]digest.Algorithm{
		ipcutil.OpInitHMACSHA256: digest.HMACSHA256,
		ipcutil.OpInitHMACSHA384: digest.HMACSHA384,
		ipcutil.OpInitHMACSHA512: digest.HMACSHA512,
	}
	finalizeOps = map[ipcutil.Opcode]digest.Algorithm{
		ipcutil.OpFinalizeSHA256:     digest.SHA256,
		ipcutil.OpFinalizeSHA384:     digest.SHA384,
		ipcutil.OpFinalizeSHA512:     digest.SHA512,
		ipcutil.OpFinalizeSHA3_256:   digest.SHA3_256,
		ipcutil.OpFinalizeSHA3_384:   digest.SHA3_384,
		ipcutil.OpFinalizeSHA3_512:   digest.SHA3_512,
		ipcutil.OpFinalizeHMACSHA256: digest.HMACSHA256,
		ipcutil.OpFinalizeHMACSHA384: digest.HMACSHA384,
		ipcutil.OpFinalizeHMACSHA512: digest.HMACSHA512,
	}
	oneshotOps = map[ipcutil.Opcode]digest.Algorithm{
		ipcutil.OpDigestOneshotSHA256: digest.SHA256,
		ipcutil.OpDigestOneshotSHA384: digest.SHA384,
		ipcutil.OpDigestOneshotSHA512: digest.SHA512,
		ipcutil.OpHMACOneshotSHA256:   digest.HMACSHA256,
		ipcutil.OpHMACOneshotSHA384:   digest.HMACSHA384,
		ipcutil.OpHMACOneshotSHA512:   digest.HMACSHA512,
	}
)

// decoder reads a command body, turning malformed input into closed-set
// errors. The first failure sticks.
type decoder struct {
	r   *bytes.Reader
	err error
}

func (d *decoder) u32() uint32 {
	if d.err != nil {
		return 0
	}
	var v uint32
	if err := binary.Read(d.r, binary.BigEndian, &v); err != nil {
		d.err = digest.ErrInvalidInputLength
	}
	return v
}

// buf reads a length-prefixed buffer, failing with tooLong when it exceeds
// max bytes.
func (d *decoder) buf(max int, tooLong digest.Error) []byte {
	if d.err != nil {
		return nil
	}
	b, err := ipcutil.ReadU16Bytes(d.r, max)
	switch {
	case errors.Is(err, ipcutil.ErrBufferTooLong):
		d.err = tooLong
	case err != nil:
		d.err = digest.ErrInvalidInputLength
	}
	return b
}

func (d *decoder) done() error {
	if d.err == nil && d.r.Len() != 0 {
		d.err = digest.ErrInvalidInputLength
	}
	return d.err
}

// keyLimit is the longest key accepted on the wire for alg. Keys offered to
// plain hashes are passed through so that the core reports the mismatch.
func keyLimit(alg digest.Algorithm) int {
	if alg.IsHMAC() {
		return alg.MaxKeySize()
	}
	return 0xffff
}

// handle answers one command frame.
func (s *Server) handle(p *peer, frame []byte) []byte {
	res := digest.Error(0)
	var out []interface{}

	h, body, err := ipcutil.DecodeCommand(frame)
	switch {
	case err != nil:
		glog.Warningf("server: peer %s: %v", p.name, err)
		res = digest.ErrInvalidInputLength
	case p.denied:
		res = digest.ErrPermissionDenied
	default:
		if glog.V(2) {
			glog.Infof("server: peer %s: %v", p.name, h.Op)
		}
		out, err = s.dispatch(p, h.Op, &decoder{r: bytes.NewReader(body)})
		res = digest.AsError(err)
	}

	rsp, err := ipcutil.EncodeResponse(s.epoch, uint32(res), out...)
	if err != nil {
		glog.Errorf("server: encoding %v response: %v", h.Op, err)
		rsp, _ = ipcutil.EncodeResponse(s.epoch, uint32(digest.ErrHardwareFailure))
	}
	return rsp
}

func (s *Server) dispatch(p *peer, op ipcutil.Opcode, d *decoder) ([]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if alg, ok := initOps[op]; ok {
		if err := d.done(); err != nil {
			return nil, err
		}
		return s.init(p, alg, nil)
	}
	if alg, ok := initHMACOps[op]; ok {
		key := d.buf(alg.MaxKeySize(), digest.ErrInvalidKeyLength)
		if err := d.done(); err != nil {
			return nil, err
		}
		return s.init(p, alg, key)
	}
	if alg, ok := finalizeOps[op]; ok {
		id := d.u32()
		if err := d.done(); err != nil {
			return nil, err
		}
		return s.finalize(p, id, alg)
	}
	if alg, ok := oneshotOps[op]; ok {
		var key []byte
		if alg.IsHMAC() {
			key = d.buf(alg.MaxKeySize(), digest.ErrInvalidKeyLength)
		}
		data := d.buf(digest.MaxDataSize, digest.ErrInvalidInputLength)
		if err := d.done(); err != nil {
			return nil, err
		}
		sum, err := s.core.Oneshot(alg, key, data)
		if err != nil {
			return nil, err
		}
		return []interface{}{ipcutil.RawBytes(sum)}, nil
	}

	switch op {
	case ipcutil.OpUpdate:
		id := d.u32()
		data := d.buf(digest.MaxDataSize, digest.ErrInvalidInputLength)
		if err := d.done(); err != nil {
			return nil, err
		}
		if err := s.owned(p, id); err != nil {
			return nil, err
		}
		return nil, s.core.Update(id, data)

	case ipcutil.OpReset:
		id := d.u32()
		if err := d.done(); err != nil {
			return nil, err
		}
		if err := s.owned(p, id); err != nil {
			return nil, err
		}
		return nil, s.core.Reset(id)

	case ipcutil.OpVerifyHMAC:
		alg := digest.Algorithm(d.u32())
		key := d.buf(keyLimit(alg), digest.ErrInvalidKeyLength)
		data := d.buf(digest.MaxDataSize, digest.ErrInvalidInputLength)
		tag := d.buf(digest.HMACSHA512.Size(), digest.ErrInvalidOutputSize)
		if err := d.done(); err != nil {
			return nil, err
		}
		return nil, s.core.VerifyHMAC(alg, key, data, tag)

	case ipcutil.OpRelease:
		id := d.u32()
		if err := d.done(); err != nil {
			return nil, err
		}
		if s.owners[id] == p {
			s.core.Release(id)
			delete(s.owners, id)
		}
		return nil, nil
	}

	glog.Warningf("server: peer %s: unknown %v", p.name, op)
	return nil, digest.ErrUnsupportedAlgorithm
}

// owned fails with ErrInvalidSession unless p created session id.
func (s *Server) owned(p *peer, id uint32) error {
	if s.owners[id] != p {
		return digest.ErrInvalidSession
	}
	return nil
}

func (s *Server) init(p *peer, alg digest.Algorithm, key []byte) ([]interface{}, error) {
	id, err := s.core.Init(alg, key)
	if err != nil {
		return nil, err
	}
	s.owners[id] = p
	return []interface{}{id}, nil
}

func (s *Server) finalize(p *peer, id uint32, alg digest.Algorithm) ([]interface{}, error) {
	if err := s.owned(p, id); err != nil {
		return nil, err
	}
	sum, err := s.core.Finalize(id, alg)
	switch digest.AsError(err) {
	case digest.ErrUnsupportedAlgorithm, digest.ErrIncompatibleSessionType:
		// The session survives an algorithm mismatch.
	default:
		delete(s.owners, id)
	}
	if err != nil {
		return nil, err
	}
	return []interface{}{ipcutil.RawBytes(sum)}, nil
}
