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

// Package digesttest provides a fault-injecting engine and reference
// values for testing code built on package digest.
package digesttest

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"hash"
	"sync"

	"github.com/openprot/go-digest/digest"
)

// Fault selects the failure Engine injects on its next matching call.
type Fault int

const (
	// FaultNone disables injection.
	FaultNone Fault = iota
	// FaultBegin fails Begin; the engine stays checked in.
	FaultBegin
	// FaultUpdate fails Update but keeps the context releasable.
	FaultUpdate
	// FaultUpdateLose fails Update and loses the engine.
	FaultUpdateLose
	// FaultFinalize fails Finalize and hands the engine back.
	FaultFinalize
	// FaultFinalizeLose fails Finalize and loses the engine.
	FaultFinalizeLose
	// FaultShortOutput makes Finalize return a truncated digest.
	FaultShortOutput
)

// ErrInjected is the default error returned by injected faults. It is not
// a digest.Error, so the core maps it to ErrHardwareFailure.
var ErrInjected = errors.New("digesttest: injected fault")

// Engine wraps another engine, injects faults and checks that it is never
// checked out twice.
type Engine struct {
	inner digest.Engine

	mu         sync.Mutex
	fault      Fault
	err        error
	out        bool
	begins     int
	violations int
}

// New wraps inner.
func New(inner digest.Engine) *Engine {
	return &Engine{inner: inner}
}

// Name implements digest.Namer.
func (e *Engine) Name() string {
	return "digesttest"
}

// Inject arms f for the next matching call. A nil err injects ErrInjected.
func (e *Engine) Inject(f Fault, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	e.fault, e.err = f, err
}

// CheckedOut reports whether a context currently owns the engine.
func (e *Engine) CheckedOut() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.out
}

// Begins returns how many times Begin succeeded.
func (e *Engine) Begins() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.begins
}

// Violations returns how many times Begin was called while checked out.
func (e *Engine) Violations() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.violations
}

// take consumes an armed fault if it is one of fs.
func (e *Engine) take(fs ...Fault) (Fault, error) {
	for _, f := range fs {
		if e.fault == f {
			err := e.err
			e.fault, e.err = FaultNone, nil
			return f, err
		}
	}
	return FaultNone, nil
}

// Begin implements digest.Engine.
func (e *Engine) Begin(alg digest.Algorithm, key []byte) (digest.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.out {
		e.violations++
		return nil, digest.ErrBusy
	}
	if f, err := e.take(FaultBegin); f != FaultNone {
		return nil, err
	}
	inner, err := e.inner.Begin(alg, key)
	if err != nil {
		return nil, err
	}
	e.out = true
	e.begins++
	return &context{e: e, inner: inner}, nil
}

// checkin is called with e.mu held.
func (e *Engine) checkin(inner digest.Engine) digest.Engine {
	e.out = false
	if inner == nil {
		return nil
	}
	return e
}

type context struct {
	e     *Engine
	inner digest.Context
}

func (c *context) Update(data []byte) (digest.Context, error) {
	c.e.mu.Lock()
	defer c.e.mu.Unlock()
	switch f, err := c.e.take(FaultUpdate, FaultUpdateLose); f {
	case FaultUpdate:
		return c, err
	case FaultUpdateLose:
		c.inner.Release()
		c.inner = nil
		c.e.out = false
		return nil, err
	}
	next, err := c.inner.Update(data)
	if next == nil {
		c.inner = nil
		c.e.out = false
		return nil, err
	}
	c.inner = next
	return c, err
}

func (c *context) Finalize() ([]byte, digest.Engine, error) {
	c.e.mu.Lock()
	defer c.e.mu.Unlock()
	f, ferr := c.e.take(FaultFinalize, FaultFinalizeLose, FaultShortOutput)
	sum, inner, err := c.inner.Finalize()
	c.inner = nil
	eng := c.e.checkin(inner)
	switch f {
	case FaultFinalize:
		return nil, eng, ferr
	case FaultFinalizeLose:
		return nil, nil, ferr
	case FaultShortOutput:
		return sum[:len(sum)/2], eng, nil
	}
	return sum, eng, err
}

func (c *context) Release() digest.Engine {
	c.e.mu.Lock()
	defer c.e.mu.Unlock()
	if c.inner == nil {
		return nil
	}
	inner := c.inner.Release()
	c.inner = nil
	return c.e.checkin(inner)
}

// Reference computes alg over data with the standard library, for
// comparison with engine output.
func Reference(alg digest.Algorithm, key, data []byte) []byte {
	var h func() hash.Hash
	switch alg.Underlying() {
	case digest.SHA256:
		h = sha256.New
	case digest.SHA384:
		h = sha512.New384
	case digest.SHA512:
		h = sha512.New
	default:
		return nil
	}
	var m hash.Hash
	if alg.IsHMAC() {
		m = hmac.New(h, key)
	} else {
		m = h()
	}
	m.Write(data)
	return m.Sum(nil)
}
