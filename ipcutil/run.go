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

// Package ipcutil provides the wire codec shared by the digest server and
// its clients: big-endian packing, length-prefixed buffers and the command
// and response frame headers.
package ipcutil

import (
	"errors"

	"github.com/golang/glog"
)

// Sender sends one command frame and returns the response frame.
type Sender interface {
	Send(input []byte) ([]byte, error)
}

// RunCommand sends op with arguments in and returns the response header
// and body. A non-zero h.Res is not reported as an error; callers must
// check it.
func RunCommand(s Sender, op Opcode, in ...interface{}) (h ResponseHeader, body []byte, err error) {
	if s == nil {
		return h, nil, errors.New("nil sender")
	}
	cmd, err := EncodeCommand(op, in...)
	if err != nil {
		return h, nil, err
	}
	if glog.V(2) {
		glog.Infof("ipcutil: %v command % x", op, cmd)
	}
	rsp, err := s.Send(cmd)
	if err != nil {
		return h, nil, err
	}
	if glog.V(2) {
		glog.Infof("ipcutil: %v response % x", op, rsp)
	}
	return DecodeResponse(rsp)
}
