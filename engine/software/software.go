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

// Package software implements a hashing engine on the Go standard library's
// SHA-2 and HMAC code.
package software

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"hash"

	"golang.org/x/sys/cpu"

	"github.com/openprot/go-digest/digest"
)

// Engine is a software hashing engine. Like a hardware engine it runs one
// computation at a time: Begin hands ownership to the returned context.
type Engine struct {
	name string
}

// New returns a software engine.
func New() *Engine {
	return &Engine{name: "software/" + accel()}
}

// accel names the instruction set extension the standard library will use
// for SHA-2 on this CPU.
func accel() string {
	switch {
	case cpu.ARM64.HasSHA512:
		return "sha512-ce"
	case cpu.ARM64.HasSHA2:
		return "sha2-ce"
	case cpu.X86.HasAVX2 && cpu.X86.HasBMI2:
		return "avx2"
	case cpu.X86.HasSSSE3:
		return "ssse3"
	}
	return "generic"
}

// Name returns the engine name, including the CPU acceleration in use.
func (e *Engine) Name() string {
	return e.name
}

func newHash(alg digest.Algorithm) func() hash.Hash {
	switch alg.Underlying() {
	case digest.SHA256:
		return sha256.New
	case digest.SHA384:
		return sha512.New384
	case digest.SHA512:
		return sha512.New
	}
	return nil
}

// Begin implements digest.Engine.
func (e *Engine) Begin(alg digest.Algorithm, key []byte) (digest.Context, error) {
	if !alg.Supported() {
		return nil, digest.ErrUnsupportedAlgorithm
	}
	if err := alg.CheckKey(key); err != nil {
		return nil, err
	}
	h := newHash(alg)
	c := &context{e: e}
	if alg.IsHMAC() {
		c.h = hmac.New(h, key)
	} else {
		c.h = h()
	}
	return c, nil
}

type context struct {
	e *Engine
	h hash.Hash
}

func (c *context) Update(data []byte) (digest.Context, error) {
	if c.h == nil {
		return nil, digest.ErrNotInitialized
	}
	c.h.Write(data)
	return c, nil
}

func (c *context) Finalize() ([]byte, digest.Engine, error) {
	if c.h == nil {
		return nil, nil, digest.ErrNotInitialized
	}
	sum := c.h.Sum(nil)
	return sum, c.Release(), nil
}

func (c *context) Release() digest.Engine {
	e := c.e
	c.e, c.h = nil, nil
	if e == nil {
		return nil
	}
	return e
}
