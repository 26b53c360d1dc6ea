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

// Package digest multiplexes hashing engines across client sessions.
//
// A Core owns a bounded session table and a pool of engines. Streaming
// sessions check an engine out for their whole lifetime (Init through
// Finalize), so with the usual single engine at most one session can be
// active at a time and a second Init fails with ErrTooManySessions. One-shot
// operations borrow an engine for the duration of the call and never occupy
// a session slot.
//
// Every error returned by a Core is a digest Error.
package digest

import (
	"crypto/subtle"
	"sync"
	"time"

	"github.com/golang/glog"
)

// Core is the session manager. It is safe for concurrent use; operations
// are serialized and each runs to completion before the next starts.
type Core struct {
	mu          sync.Mutex
	table       *sessionTable
	engines     []Engine // checked in, ready for Begin
	total       int
	lost        int
	idleTimeout time.Duration
	now         func() time.Time
}

// Option configures a Core.
type Option func(*Core)

// WithMaxSessions sets the session table capacity.
func WithMaxSessions(n int) Option {
	return func(c *Core) {
		if n > 0 {
			c.table = newSessionTable(n)
		}
	}
}

// WithEngines adds engines to the pool.
func WithEngines(e ...Engine) Option {
	return func(c *Core) {
		for _, eng := range e {
			if eng != nil {
				c.engines = append(c.engines, eng)
				c.total++
			}
		}
	}
}

// WithIdleTimeout makes Expire evict sessions not used for d. Zero, the
// default, disables eviction.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Core) { c.idleTimeout = d }
}

// WithClock replaces time.Now for session timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Core) { c.now = now }
}

// New returns a Core that drives e, plus any engines given by WithEngines.
func New(e Engine, opts ...Option) *Core {
	c := &Core{
		table: newSessionTable(DefaultMaxSessions),
		now:   time.Now,
	}
	WithEngines(e)(c)
	for _, opt := range opts {
		opt(c)
	}
	if glog.V(1) {
		names := make([]string, len(c.engines))
		for i, eng := range c.engines {
			names[i] = engineName(eng)
		}
		glog.Infof("digest: core ready: %d session slots, engines %v", c.table.max, names)
	}
	return c
}

// Stats describes the current resource usage of a Core.
type Stats struct {
	Sessions    int
	MaxSessions int
	Engines     int
	FreeEngines int
	LostEngines int
}

// Stats returns a snapshot of resource usage.
func (c *Core) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Sessions:    c.table.len(),
		MaxSessions: c.table.max,
		Engines:     c.total,
		FreeEngines: len(c.engines),
		LostEngines: c.lost,
	}
}

// Sessions returns snapshots of the live sessions ordered by id.
func (c *Core) Sessions() []SessionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []SessionInfo
	for _, id := range c.table.ids() {
		s, _ := c.table.lookup(id)
		out = append(out, s.info())
	}
	return out
}

func (c *Core) acquire() (Engine, bool) {
	n := len(c.engines)
	if n == 0 {
		return nil, false
	}
	e := c.engines[n-1]
	c.engines[n-1] = nil
	c.engines = c.engines[:n-1]
	return e, true
}

func (c *Core) checkin(e Engine) {
	if e == nil {
		c.lost++
		glog.Errorf("digest: hashing engine lost; %d of %d engines remain", c.total-c.lost, c.total)
		return
	}
	c.engines = append(c.engines, e)
}

// reclaim hands the engine of a failed context back to the pool.
func (c *Core) reclaim(ctx Context) {
	if ctx == nil {
		c.checkin(nil)
		return
	}
	c.checkin(ctx.Release())
}

// backendError maps an engine failure onto the closed set.
func backendError(op string, alg Algorithm, err error) Error {
	code := AsError(err)
	glog.Errorf("digest: %s %v: %v", op, alg, err)
	return code
}

// Init starts a streaming session for alg. key must be nil for plain hashes
// and at most alg.MaxKeySize() bytes for HMAC variants.
func (c *Core) Init(alg Algorithm, key []byte) (uint32, error) {
	if !alg.Supported() {
		return 0, ErrUnsupportedAlgorithm
	}
	if err := alg.CheckKey(key); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.table.allocate(alg, c.now())
	if err != nil {
		return 0, err
	}
	eng, ok := c.acquire()
	if !ok {
		c.table.remove(s.ID)
		return 0, ErrTooManySessions
	}
	ctx, err := eng.Begin(alg, key)
	if err != nil {
		c.checkin(eng)
		c.table.remove(s.ID)
		return 0, backendError("init", alg, err)
	}
	s.ctx = ctx
	s.state = stateInitialized
	if glog.V(1) {
		glog.Infof("digest: session %d initialized for %v", s.ID, alg)
	}
	return s.ID, nil
}

// Update folds data into session id. data may be at most MaxDataSize bytes.
//
// If the engine fails the session keeps its slot but becomes unusable:
// further Update or Finalize calls return ErrInvalidSession until it is
// Reset or Released.
func (c *Core) Update(id uint32, data []byte) error {
	if len(data) > MaxDataSize {
		return ErrInvalidInputLength
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.table.lookup(id)
	if err != nil {
		return err
	}
	if s.state == stateCreated {
		return ErrNotInitialized
	}
	if s.ctx == nil {
		return ErrInvalidSession
	}
	ctx := s.ctx
	s.ctx = nil
	next, err := ctx.Update(data)
	if err != nil {
		s.state = stateFailed
		c.reclaim(next)
		return backendError("update", s.Algorithm, err)
	}
	s.ctx = next
	s.state = stateUpdated
	s.LastUsed = c.now()
	if glog.V(2) {
		glog.Infof("digest: session %d folded %d bytes", id, len(data))
	}
	return nil
}

// Finalize completes session id and removes it. alg must match the
// algorithm the session was created with; on mismatch the session is left
// untouched and ErrUnsupportedAlgorithm (or ErrIncompatibleSessionType
// when an HMAC result is requested from a plain hash session) is returned.
func (c *Core) Finalize(id uint32, alg Algorithm) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.table.lookup(id)
	if err != nil {
		return nil, err
	}
	if s.Algorithm != alg {
		if alg.IsHMAC() && !s.Algorithm.IsHMAC() {
			return nil, ErrIncompatibleSessionType
		}
		return nil, ErrUnsupportedAlgorithm
	}
	c.table.remove(id)
	if s.state == stateCreated {
		return nil, ErrNotInitialized
	}
	if s.ctx == nil {
		return nil, ErrInvalidSession
	}
	ctx := s.ctx
	s.ctx = nil
	sum, eng, err := ctx.Finalize()
	c.checkin(eng)
	if err != nil {
		code := backendError("finalize", alg, err)
		// Reserved for mismatches that leave the session in place.
		if code == ErrUnsupportedAlgorithm || code == ErrIncompatibleSessionType {
			code = ErrFinalizationError
		}
		return nil, code
	}
	if len(sum) != alg.Size() {
		glog.Errorf("digest: finalize %v: engine returned %d bytes, want %d", alg, len(sum), alg.Size())
		return nil, ErrInvalidOutputSize
	}
	if glog.V(1) {
		glog.Infof("digest: session %d finalized", id)
	}
	return sum, nil
}

// Reset restarts session id from an empty message, keeping its id and
// slot. HMAC sessions cannot be reset because the key is not retained.
func (c *Core) Reset(id uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.table.lookup(id)
	if err != nil {
		return err
	}
	if s.Algorithm.IsHMAC() {
		return ErrUnsupportedAlgorithm
	}
	var eng Engine
	if s.ctx != nil {
		eng = s.ctx.Release()
		s.ctx = nil
		if eng == nil {
			c.checkin(nil)
		}
	}
	if eng == nil {
		var ok bool
		if eng, ok = c.acquire(); !ok {
			s.state = stateFailed
			return ErrTooManySessions
		}
	}
	ctx, err := eng.Begin(s.Algorithm, nil)
	if err != nil {
		c.checkin(eng)
		s.state = stateFailed
		return backendError("reset", s.Algorithm, err)
	}
	s.ctx = ctx
	s.state = stateInitialized
	s.LastUsed = c.now()
	if glog.V(1) {
		glog.Infof("digest: session %d reset", id)
	}
	return nil
}

// Release drops session id and returns its engine to the pool. It is used
// when the owner of a session goes away and is safe to call for ids that
// are already gone; it reports whether a session was removed.
func (c *Core) Release(id uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.release(id)
}

func (c *Core) release(id uint32) bool {
	s, err := c.table.lookup(id)
	if err != nil {
		return false
	}
	c.table.remove(id)
	if s.ctx != nil {
		c.reclaim(s.ctx)
		s.ctx = nil
	}
	return true
}

// Expire releases every session idle for at least the configured idle
// timeout and returns their ids. It does nothing when no timeout is set.
func (c *Core) Expire(now time.Time) []uint32 {
	if c.idleTimeout <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var evicted []uint32
	for _, id := range c.table.ids() {
		s, _ := c.table.lookup(id)
		if now.Sub(s.LastUsed) < c.idleTimeout {
			continue
		}
		c.release(id)
		evicted = append(evicted, id)
		glog.Warningf("digest: session %d (%v) evicted after %v idle", id, s.Algorithm, now.Sub(s.LastUsed))
	}
	return evicted
}

// Oneshot computes alg over data in a single call without creating a
// session. It fails with the same errors the streaming form would and
// never returns partial output.
func (c *Core) Oneshot(alg Algorithm, key, data []byte) ([]byte, error) {
	if !alg.Supported() {
		return nil, ErrUnsupportedAlgorithm
	}
	if err := alg.CheckKey(key); err != nil {
		return nil, err
	}
	if len(data) > MaxDataSize {
		return nil, ErrInvalidInputLength
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	eng, ok := c.acquire()
	if !ok {
		return nil, ErrTooManySessions
	}
	ctx, err := eng.Begin(alg, key)
	if err != nil {
		c.checkin(eng)
		return nil, backendError("oneshot init", alg, err)
	}
	next, err := ctx.Update(data)
	if err != nil {
		c.reclaim(next)
		return nil, backendError("oneshot update", alg, err)
	}
	sum, eng, err := next.Finalize()
	c.checkin(eng)
	if err != nil {
		return nil, backendError("oneshot finalize", alg, err)
	}
	if len(sum) != alg.Size() {
		glog.Errorf("digest: oneshot %v: engine returned %d bytes, want %d", alg, len(sum), alg.Size())
		return nil, ErrInvalidOutputSize
	}
	if glog.V(2) {
		glog.Infof("digest: oneshot %v over %d bytes", alg, len(data))
	}
	return sum, nil
}

// VerifyHMAC recomputes the HMAC of data under key and compares it with
// tag in constant time.
func (c *Core) VerifyHMAC(alg Algorithm, key, data, tag []byte) error {
	if !alg.IsHMAC() {
		return ErrIncompatibleSessionType
	}
	if len(tag) != alg.Size() {
		return ErrInvalidOutputSize
	}
	sum, err := c.Oneshot(alg, key, data)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(sum, tag) != 1 {
		return ErrHmacVerificationFailed
	}
	return nil
}
