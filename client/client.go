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

// Package client is the typed caller side of the digest service.
//
// Every method returns either nil or an error that digest.AsError maps to
// a member of the closed set. When the server is replaced underneath the
// client (its epoch changes, or the connection drops while sessions are
// open) the client reports digest.ErrServerRestarted and forgets the
// session ids it was holding.
package client

import (
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/openprot/go-digest/digest"
	"github.com/openprot/go-digest/ipcutil"
	"github.com/openprot/go-digest/transport"
)

// Client talks to one digest server.
type Client struct {
	t transport.Transport

	mu     sync.Mutex
	epoch  uint32
	seen   bool
	held   map[uint32]bool
	closer func() error
}

// New returns a client sending over t. If t is a TransportCloser, Close
// closes it.
func New(t transport.Transport) *Client {
	c := &Client{t: t, held: make(map[uint32]bool)}
	if tc, ok := t.(transport.TransportCloser); ok {
		c.closer = tc.Close
	}
	return c
}

// Dial connects to the server listening on network/address.
func Dial(network, address string) (*Client, error) {
	t, err := transport.Dial(network, address)
	if err != nil {
		return nil, err
	}
	return New(t), nil
}

// Close closes the underlying transport. The server releases every session
// still held by this client.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

// Held returns the number of sessions the client believes are open.
func (c *Client) Held() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.held)
}

// restarted forgets every held session. c.mu must be held.
func (c *Client) restarted(cause error) error {
	n := len(c.held)
	c.held = make(map[uint32]bool)
	glog.Warningf("client: digest server restarted, %d session(s) lost: %v", n, cause)
	return &digest.BackendError{Code: digest.ErrServerRestarted, Err: cause}
}

// call runs op and unpacks a successful response body into out.
func (c *Client) call(op ipcutil.Opcode, out []interface{}, in ...interface{}) error {
	for _, v := range in {
		if b, ok := v.([]byte); ok && len(b) > 0xffff {
			return digest.ErrInvalidInputLength
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	h, body, err := ipcutil.RunCommand(c.t, op, in...)
	if err != nil {
		if len(c.held) > 0 {
			return c.restarted(err)
		}
		return &digest.BackendError{Code: digest.ErrHardwareFailure, Err: fmt.Errorf("%v: %w", op, err)}
	}
	if c.seen && h.Epoch != c.epoch {
		old := c.epoch
		c.epoch = h.Epoch
		return c.restarted(fmt.Errorf("epoch 0x%08x became 0x%08x", old, h.Epoch))
	}
	c.epoch, c.seen = h.Epoch, true

	if err := digest.DecodeResponse(h.Res); err != nil {
		return err
	}
	if len(out) == 0 {
		return nil
	}
	if err := ipcutil.UnpackAll(body, out...); err != nil {
		return &digest.BackendError{Code: digest.ErrInvalidOutputSize, Err: fmt.Errorf("%v response: %w", op, err)}
	}
	return nil
}

func (c *Client) track(id uint32, open bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if open {
		c.held[id] = true
	} else {
		delete(c.held, id)
	}
}

func (c *Client) init(op ipcutil.Opcode, in ...interface{}) (uint32, error) {
	var id uint32
	if err := c.call(op, []interface{}{&id}, in...); err != nil {
		return 0, err
	}
	c.track(id, true)
	return id, nil
}

// finalize runs a finalize opcode. The session is forgotten unless the
// server kept it because of an algorithm mismatch.
func (c *Client) finalize(op ipcutil.Opcode, id uint32, out interface{}) error {
	err := c.call(op, []interface{}{out}, id)
	switch digest.AsError(err) {
	case digest.ErrUnsupportedAlgorithm, digest.ErrIncompatibleSessionType, digest.ErrServerRestarted:
	default:
		c.track(id, false)
	}
	return err
}

// InitSHA256 opens a SHA-256 session.
func (c *Client) InitSHA256() (uint32, error) { return c.init(ipcutil.OpInitSHA256) }

// InitSHA384 opens a SHA-384 session.
func (c *Client) InitSHA384() (uint32, error) { return c.init(ipcutil.OpInitSHA384) }

// InitSHA512 opens a SHA-512 session.
func (c *Client) InitSHA512() (uint32, error) { return c.init(ipcutil.OpInitSHA512) }

// InitSHA3_256 is reserved; servers answer digest.ErrUnsupportedAlgorithm.
func (c *Client) InitSHA3_256() (uint32, error) { return c.init(ipcutil.OpInitSHA3_256) }

// InitSHA3_384 is reserved; servers answer digest.ErrUnsupportedAlgorithm.
func (c *Client) InitSHA3_384() (uint32, error) { return c.init(ipcutil.OpInitSHA3_384) }

// InitSHA3_512 is reserved; servers answer digest.ErrUnsupportedAlgorithm.
func (c *Client) InitSHA3_512() (uint32, error) { return c.init(ipcutil.OpInitSHA3_512) }

// InitHMACSHA256 opens an HMAC-SHA-256 session keyed with key.
func (c *Client) InitHMACSHA256(key []byte) (uint32, error) {
	return c.init(ipcutil.OpInitHMACSHA256, key)
}

// InitHMACSHA384 opens an HMAC-SHA-384 session keyed with key.
func (c *Client) InitHMACSHA384(key []byte) (uint32, error) {
	return c.init(ipcutil.OpInitHMACSHA384, key)
}

// InitHMACSHA512 opens an HMAC-SHA-512 session keyed with key.
func (c *Client) InitHMACSHA512(key []byte) (uint32, error) {
	return c.init(ipcutil.OpInitHMACSHA512, key)
}

// Update feeds data, at most digest.MaxDataSize bytes, into session id.
func (c *Client) Update(id uint32, data []byte) error {
	return c.call(ipcutil.OpUpdate, nil, id, data)
}

// Reset restarts a plain hash session.
func (c *Client) Reset(id uint32) error {
	return c.call(ipcutil.OpReset, nil, id)
}

// Release abandons session id. Releasing an unknown id is not an error.
func (c *Client) Release(id uint32) error {
	err := c.call(ipcutil.OpRelease, nil, id)
	if err == nil {
		c.track(id, false)
	}
	return err
}

func (c *Client) FinalizeSHA256(id uint32) (d digest.SHA256Digest, err error) {
	err = c.finalize(ipcutil.OpFinalizeSHA256, id, &d)
	return d, err
}

func (c *Client) FinalizeSHA384(id uint32) (d digest.SHA384Digest, err error) {
	err = c.finalize(ipcutil.OpFinalizeSHA384, id, &d)
	return d, err
}

func (c *Client) FinalizeSHA512(id uint32) (d digest.SHA512Digest, err error) {
	err = c.finalize(ipcutil.OpFinalizeSHA512, id, &d)
	return d, err
}

func (c *Client) FinalizeHMACSHA256(id uint32) (t digest.HMACSHA256Tag, err error) {
	err = c.finalize(ipcutil.OpFinalizeHMACSHA256, id, &t)
	return t, err
}

func (c *Client) FinalizeHMACSHA384(id uint32) (t digest.HMACSHA384Tag, err error) {
	err = c.finalize(ipcutil.OpFinalizeHMACSHA384, id, &t)
	return t, err
}

func (c *Client) FinalizeHMACSHA512(id uint32) (t digest.HMACSHA512Tag, err error) {
	err = c.finalize(ipcutil.OpFinalizeHMACSHA512, id, &t)
	return t, err
}

func (c *Client) DigestSHA256(data []byte) (d digest.SHA256Digest, err error) {
	err = c.call(ipcutil.OpDigestOneshotSHA256, []interface{}{&d}, data)
	return d, err
}

func (c *Client) DigestSHA384(data []byte) (d digest.SHA384Digest, err error) {
	err = c.call(ipcutil.OpDigestOneshotSHA384, []interface{}{&d}, data)
	return d, err
}

func (c *Client) DigestSHA512(data []byte) (d digest.SHA512Digest, err error) {
	err = c.call(ipcutil.OpDigestOneshotSHA512, []interface{}{&d}, data)
	return d, err
}

func (c *Client) HMACSHA256(key, data []byte) (t digest.HMACSHA256Tag, err error) {
	err = c.call(ipcutil.OpHMACOneshotSHA256, []interface{}{&t}, key, data)
	return t, err
}

func (c *Client) HMACSHA384(key, data []byte) (t digest.HMACSHA384Tag, err error) {
	err = c.call(ipcutil.OpHMACOneshotSHA384, []interface{}{&t}, key, data)
	return t, err
}

func (c *Client) HMACSHA512(key, data []byte) (t digest.HMACSHA512Tag, err error) {
	err = c.call(ipcutil.OpHMACOneshotSHA512, []interface{}{&t}, key, data)
	return t, err
}

// VerifyHMAC asks the server to check tag against the HMAC of data.
func (c *Client) VerifyHMAC(alg digest.Algorithm, key, data, tag []byte) error {
	return c.call(ipcutil.OpVerifyHMAC, nil, uint32(alg), key, data, tag)
}

var (
	initOps = map[digest.Algorithm]ipcutil.Opcode{
		digest.SHA256:     ipcutil.OpInitSHA256,
		digest.SHA384:     ipcutil.OpInitSHA384,
		digest.SHA512:     ipcutil.OpInitSHA512,
		digest.SHA3_256:   ipcutil.OpInitSHA3_256,
		digest.SHA3_384:   ipcutil.OpInitSHA3_384,
		digest.SHA3_512:   ipcutil.OpInitSHA3_512,
		digest.HMACSHA256: ipcutil.OpInitHMACSHA256,
		digest.HMACSHA384: ipcutil.OpInitHMACSHA384,
		digest.HMACSHA512: ipcutil.OpInitHMACSHA512,
	}
	finalizeOps = map[digest.Algorithm]ipcutil.Opcode{
		digest.SHA256:     ipcutil.OpFinalizeSHA256,
		digest.SHA384:     ipcutil.OpFinalizeSHA384,
		digest.SHA512:     ipcutil.OpFinalizeSHA512,
		digest.SHA3_256:   ipcutil.OpFinalizeSHA3_256,
		digest.SHA3_384:   ipcutil.OpFinalizeSHA3_384,
		digest.SHA3_512:   ipcutil.OpFinalizeSHA3_512,
		digest.HMACSHA256: ipcutil.OpFinalizeHMACSHA256,
		digest.HMACSHA384: ipcutil.OpFinalizeHMACSHA384,
		digest.HMACSHA512: ipcutil.OpFinalizeHMACSHA512,
	}
	oneshotOps = map[digest.Algorithm]ipcutil.Opcode{
		digest.SHA256:     ipcutil.OpDigestOneshotSHA256,
		digest.SHA384:     ipcutil.OpDigestOneshotSHA384,
		digest.SHA512:     ipcutil.OpDigestOneshotSHA512,
		digest.HMACSHA256: ipcutil.OpHMACOneshotSHA256,
		digest.HMACSHA384: ipcutil.OpHMACOneshotSHA384,
		digest.HMACSHA512: ipcutil.OpHMACOneshotSHA512,
	}
)

// Init opens a session for alg. key is sent only for HMAC algorithms.
func (c *Client) Init(alg digest.Algorithm, key []byte) (uint32, error) {
	op, ok := initOps[alg]
	if !ok {
		return 0, digest.ErrUnsupportedAlgorithm
	}
	if alg.IsHMAC() {
		return c.init(op, key)
	}
	if len(key) != 0 {
		return 0, digest.ErrIncompatibleSessionType
	}
	return c.init(op)
}

// Finalize completes session id and returns the raw digest or tag.
func (c *Client) Finalize(id uint32, alg digest.Algorithm) ([]byte, error) {
	op, ok := finalizeOps[alg]
	if !ok {
		return nil, digest.ErrUnsupportedAlgorithm
	}
	sum := make(ipcutil.RawBytes, alg.Size())
	if err := c.finalize(op, id, &sum); err != nil {
		return nil, err
	}
	return sum, nil
}

// Oneshot computes alg over data, at most digest.MaxDataSize bytes, in a
// single request.
func (c *Client) Oneshot(alg digest.Algorithm, key, data []byte) ([]byte, error) {
	op, ok := oneshotOps[alg]
	if !ok {
		return nil, digest.ErrUnsupportedAlgorithm
	}
	sum := make(ipcutil.RawBytes, alg.Size())
	in := []interface{}{data}
	if alg.IsHMAC() {
		in = []interface{}{key, data}
	}
	if err := c.call(op, []interface{}{&sum}, in...); err != nil {
		return nil, err
	}
	return sum, nil
}
