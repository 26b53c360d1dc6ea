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

// Package transport carries digest service frames over stream sockets.
//
// Frames are self-delimiting: every command and response starts with a
// 16-bit tag and a 32-bit size that counts the whole frame.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/openprot/go-digest/ipcutil"
)

var (
	// ErrTransport wraps every I/O failure on the underlying connection.
	ErrTransport = errors.New("digest transport error")
	// ErrFrameTooBig is returned for frames larger than the allowed maximum.
	ErrFrameTooBig = errors.New("frame too big")
	// ErrFrameTooSmall is returned for frames shorter than a header.
	ErrFrameTooSmall = errors.New("frame smaller than its header")
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("transport closed")
)

// MaxFrameSize bounds both directions. The largest legitimate frame is a
// verify_hmac command: header, algorithm, a 128-byte key, 1024 bytes of
// data and a 64-byte tag.
const MaxFrameSize = 2048

// Transport sends a command frame and returns the response frame.
type Transport interface {
	Send(input []byte) ([]byte, error)
}

// TransportCloser is a Transport that must be closed.
type TransportCloser interface {
	Transport
	io.Closer
}

// ReadFrame reads one frame from r. Frames larger than max are refused
// before their body is read.
func ReadFrame(r io.Reader, max uint32) ([]byte, error) {
	prefix := make([]byte, ipcutil.FramePrefixSize)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(prefix[2:])
	if size > max {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrFrameTooBig, size, max)
	}
	if size < ipcutil.FramePrefixSize {
		return nil, fmt.Errorf("%w: size field %d", ErrFrameTooSmall, size)
	}
	frame := make([]byte, size)
	copy(frame, prefix)
	if _, err := io.ReadFull(r, frame[ipcutil.FramePrefixSize:]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return frame, nil
}

// WriteFrame writes frame to w in full.
func WriteFrame(w io.Writer, frame []byte) error {
	if len(frame) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrFrameTooBig, len(frame), MaxFrameSize)
	}
	if n, err := w.Write(frame); err != nil {
		return err
	} else if n != len(frame) {
		return io.ErrShortWrite
	}
	return nil
}

// Stream is a Transport over a connected stream socket. Send calls are
// serialized.
type Stream struct {
	mu      sync.Mutex
	conn    net.Conn
	timeout time.Duration
	closed  bool
}

// New wraps an established connection.
func New(conn net.Conn) *Stream {
	return &Stream{conn: conn}
}

// Dial connects to a digest server. network is "unix" or "tcp".
func Dial(network, address string) (*Stream, error) {
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, fmt.Errorf("could not dial %s %q: %w", network, address, err)
	}
	return New(conn), nil
}

// SetTimeout bounds each Send. Zero means no deadline.
func (s *Stream) SetTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = d
}

// Send implements Transport.
func (s *Stream) Send(cmd []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.timeout > 0 {
		if err := s.conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransport, err)
		}
	}
	if err := WriteFrame(s.conn, cmd); err != nil {
		return nil, fmt.Errorf("%w: could not send command: %w", ErrTransport, err)
	}
	rsp, err := ReadFrame(s.conn, MaxFrameSize)
	if err != nil {
		return nil, fmt.Errorf("%w: could not read response: %w", ErrTransport, err)
	}
	return rsp, nil
}

// Close implements TransportCloser.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}
