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

// Package server exposes a digest.Core to other processes.
//
// Each connection is a peer. Sessions belong to the peer that created them
// and other peers see them as invalid. When a peer disconnects every session
// it still holds is released, so a crashed client cannot pin the hashing
// engine.
package server

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/openprot/go-digest/digest"
	"github.com/openprot/go-digest/ipcutil"
	"github.com/openprot/go-digest/transport"
)

// Server answers digest RPCs on behalf of a Core.
type Server struct {
	core    *digest.Core
	epoch   uint32
	allowed map[uint32]bool
	sweep   time.Duration

	mu     sync.Mutex
	owners map[uint32]*peer
	npeers int
}

// Option configures a Server.
type Option func(*Server)

// WithAllowedUIDs restricts service to peers whose credentials carry one of
// uids. Peers without credentials (anything but a Unix socket on Linux) are
// refused once a list is set.
func WithAllowedUIDs(uids ...uint32) Option {
	return func(s *Server) {
		if s.allowed == nil {
			s.allowed = make(map[uint32]bool)
		}
		for _, u := range uids {
			s.allowed[u] = true
		}
	}
}

// WithSweepInterval makes Serve call Core.Expire every d.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Server) { s.sweep = d }
}

// WithEpoch fixes the epoch reported in responses instead of drawing a
// random one.
func WithEpoch(epoch uint32) Option {
	return func(s *Server) { s.epoch = epoch }
}

// New returns a server for core.
func New(core *digest.Core, opts ...Option) (*Server, error) {
	s := &Server{
		core:   core,
		owners: make(map[uint32]*peer),
	}
	for _, opt := range opts {
		opt(s)
	}
	for s.epoch == 0 {
		var b [4]byte
		if _, err := rand.Read(b[:]); err != nil {
			return nil, fmt.Errorf("could not draw server epoch: %w", err)
		}
		s.epoch = binary.BigEndian.Uint32(b[:])
	}
	glog.Infof("server: epoch 0x%08x", s.epoch)
	return s, nil
}

// Epoch returns the value clients use to detect a restart.
func (s *Server) Epoch() uint32 {
	return s.epoch
}

type peer struct {
	name   string
	uid    uint32
	hasUID bool
	denied bool
}

func (s *Server) connect(conn net.Conn) *peer {
	p := &peer{name: conn.RemoteAddr().String()}
	uid, ok, err := peerUID(conn)
	if err != nil {
		glog.Warningf("server: reading credentials of %s: %v", p.name, err)
	}
	p.uid, p.hasUID = uid, ok
	if ok {
		p.name = fmt.Sprintf("%s(uid=%d)", p.name, uid)
	}
	if s.allowed != nil && (!ok || !s.allowed[uid]) {
		p.denied = true
		glog.Warningf("server: peer %s is not permitted", p.name)
	}

	s.mu.Lock()
	s.npeers++
	s.mu.Unlock()
	if glog.V(1) {
		glog.Infof("server: peer %s connected", p.name)
	}
	return p
}

// disconnect releases every session p still holds.
func (s *Server) disconnect(p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.npeers--
	var released []uint32
	for id, owner := range s.owners {
		if owner != p {
			continue
		}
		s.core.Release(id)
		delete(s.owners, id)
		released = append(released, id)
	}
	if len(released) > 0 {
		glog.Warningf("server: peer %s went away holding sessions %v; released", p.name, released)
	} else if glog.V(1) {
		glog.Infof("server: peer %s disconnected", p.name)
	}
}

// Serve accepts connections on l until ctx is done or l fails.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	if s.sweep > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.sweeper(ctx)
		}()
	}

	glog.Infof("server: listening on %s %s", l.Addr().Network(), l.Addr())
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.ServeConn(ctx, conn)
		}()
	}
}

// ServeConn serves one peer until it disconnects, sends a malformed frame
// or ctx is done. conn is closed on return.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	p := s.connect(conn)
	defer s.disconnect(p)
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		frame, err := transport.ReadFrame(conn, transport.MaxFrameSize)
		if err != nil {
			if errors.Is(err, transport.ErrFrameTooBig) || errors.Is(err, transport.ErrFrameTooSmall) {
				glog.Warningf("server: peer %s: %v", p.name, err)
				if rsp, err := ipcutil.EncodeResponse(s.epoch, uint32(digest.ErrInvalidInputLength)); err == nil {
					transport.WriteFrame(conn, rsp)
				}
			}
			return
		}
		if err := transport.WriteFrame(conn, s.handle(p, frame)); err != nil {
			glog.Warningf("server: peer %s: writing response: %v", p.name, err)
			return
		}
	}
}

func (s *Server) sweeper(ctx context.Context) {
	t := time.NewTicker(s.sweep)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			s.expire(now)
		}
	}
}

func (s *Server) expire(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.core.Expire(now) {
		delete(s.owners, id)
	}
}
