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
	"context"
	"crypto/sha256"
	"encoding/binary"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openprot/go-digest/digest"
	"github.com/openprot/go-digest/digest/digesttest"
	"github.com/openprot/go-digest/engine/software"
	"github.com/openprot/go-digest/ipcutil"
	"github.com/openprot/go-digest/transport"
)

const testEpoch = 0x5eed

type harness struct {
	t    *testing.T
	ctx  context.Context
	core *digest.Core
	srv  *Server
}

func newHarness(t *testing.T, core *digest.Core, opts ...Option) *harness {
	t.Helper()
	if core == nil {
		core = digest.New(software.New())
	}
	srv, err := New(core, append([]Option{WithEpoch(testEpoch)}, opts...)...)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &harness{t: t, ctx: ctx, core: core, srv: srv}
}

// dial connects a new peer over an in-memory pipe. done is closed when the
// server has finished with the peer.
func (h *harness) dial() (tr *transport.Stream, done chan struct{}) {
	cli, srv := net.Pipe()
	done = make(chan struct{})
	go func() {
		defer close(done)
		h.srv.ServeConn(h.ctx, srv)
	}()
	tr = transport.New(cli)
	tr.SetTimeout(5 * time.Second)
	h.t.Cleanup(func() { tr.Close() })
	return tr, done
}

func call(t *testing.T, tr transport.Transport, op ipcutil.Opcode, in ...interface{}) (digest.Error, []byte) {
	t.Helper()
	h, body, err := ipcutil.RunCommand(tr, op, in...)
	require.NoError(t, err)
	require.Equal(t, uint32(testEpoch), h.Epoch)
	return digest.Error(h.Res), body
}

func initSession(t *testing.T, tr transport.Transport, op ipcutil.Opcode, in ...interface{}) uint32 {
	t.Helper()
	res, body := call(t, tr, op, in...)
	require.Zero(t, res, "%v failed: %v", op, res)
	var id uint32
	require.NoError(t, ipcutil.UnpackAll(body, &id))
	return id
}

func TestHelloWorld(t *testing.T) {
	h := newHarness(t, nil)
	tr, _ := h.dial()

	id := initSession(t, tr, ipcutil.OpInitSHA256)
	require.Equal(t, uint32(1), id)
	for _, s := range []string{"hello", " world"} {
		res, _ := call(t, tr, ipcutil.OpUpdate, id, []byte(s))
		require.Zero(t, res)
	}
	res, body := call(t, tr, ipcutil.OpFinalizeSHA256, id)
	require.Zero(t, res)

	var got digest.SHA256Digest
	require.NoError(t, ipcutil.UnpackAll(body, &got))
	want := sha256.Sum256([]byte("hello world"))
	require.Equal(t, digest.Words(want[:]), got[:])

	res, _ = call(t, tr, ipcutil.OpUpdate, id, []byte("late"))
	require.Equal(t, digest.ErrInvalidSession, res)
}

func TestAllAlgorithms(t *testing.T) {
	h := newHarness(t, nil)
	tr, _ := h.dial()
	key, msg := []byte("key"), []byte("message")

	streams := []struct {
		init, final ipcutil.Opcode
		alg         digest.Algorithm
	}{
		{ipcutil.OpInitSHA256, ipcutil.OpFinalizeSHA256, digest.SHA256},
		{ipcutil.OpInitSHA384, ipcutil.OpFinalizeSHA384, digest.SHA384},
		{ipcutil.OpInitSHA512, ipcutil.OpFinalizeSHA512, digest.SHA512},
		{ipcutil.OpInitHMACSHA256, ipcutil.OpFinalizeHMACSHA256, digest.HMACSHA256},
		{ipcutil.OpInitHMACSHA384, ipcutil.OpFinalizeHMACSHA384, digest.HMACSHA384},
		{ipcutil.OpInitHMACSHA512, ipcutil.OpFinalizeHMACSHA512, digest.HMACSHA512},
	}
	for _, s := range streams {
		var id uint32
		if s.alg.IsHMAC() {
			id = initSession(t, tr, s.init, key)
		} else {
			id = initSession(t, tr, s.init)
		}
		res, _ := call(t, tr, ipcutil.OpUpdate, id, msg)
		require.Zero(t, res)
		res, body := call(t, tr, s.final, id)
		require.Zero(t, res)
		require.Equal(t, digesttest.Reference(s.alg, key, msg), body, "%v", s.alg)
	}

	oneshots := []struct {
		op  ipcutil.Opcode
		alg digest.Algorithm
	}{
		{ipcutil.OpDigestOneshotSHA256, digest.SHA256},
		{ipcutil.OpDigestOneshotSHA384, digest.SHA384},
		{ipcutil.OpDigestOneshotSHA512, digest.SHA512},
		{ipcutil.OpHMACOneshotSHA256, digest.HMACSHA256},
		{ipcutil.OpHMACOneshotSHA384, digest.HMACSHA384},
		{ipcutil.OpHMACOneshotSHA512, digest.HMACSHA512},
	}
	for _, o := range oneshots {
		var res digest.Error
		var body []byte
		if o.alg.IsHMAC() {
			res, body = call(t, tr, o.op, key, msg)
		} else {
			res, body = call(t, tr, o.op, msg)
		}
		require.Zero(t, res, "%v", o.op)
		require.Equal(t, digesttest.Reference(o.alg, key, msg), body, "%v", o.op)
	}
}

func TestSessionOwnership(t *testing.T) {
	core := digest.New(software.New(), digest.WithEngines(software.New()))
	h := newHarness(t, core)
	alice, _ := h.dial()
	mallory, _ := h.dial()

	id := initSession(t, alice, ipcutil.OpInitSHA384)

	res, _ := call(t, mallory, ipcutil.OpUpdate, id, []byte("x"))
	require.Equal(t, digest.ErrInvalidSession, res)
	res, _ = call(t, mallory, ipcutil.OpReset, id)
	require.Equal(t, digest.ErrInvalidSession, res)
	res, _ = call(t, mallory, ipcutil.OpFinalizeSHA384, id)
	require.Equal(t, digest.ErrInvalidSession, res)
	res, _ = call(t, mallory, ipcutil.OpRelease, id)
	require.Zero(t, res)

	res, _ = call(t, alice, ipcutil.OpUpdate, id, []byte("abc"))
	require.Zero(t, res)
	res, body := call(t, alice, ipcutil.OpFinalizeSHA384, id)
	require.Zero(t, res)
	require.Equal(t, digesttest.Reference(digest.SHA384, nil, []byte("abc")), body)
}

func TestAlgorithmMismatchKeepsOwnership(t *testing.T) {
	h := newHarness(t, nil)
	tr, _ := h.dial()

	id := initSession(t, tr, ipcutil.OpInitSHA256)
	res, _ := call(t, tr, ipcutil.OpFinalizeSHA512, id)
	require.Equal(t, digest.ErrUnsupportedAlgorithm, res)
	res, _ = call(t, tr, ipcutil.OpFinalizeHMACSHA256, id)
	require.Equal(t, digest.ErrIncompatibleSessionType, res)
	res, _ = call(t, tr, ipcutil.OpFinalizeSHA3_256, id)
	require.Equal(t, digest.ErrUnsupportedAlgorithm, res)
	res, _ = call(t, tr, ipcutil.OpFinalizeSHA256, id)
	require.Zero(t, res)
}

func TestEngineFinalizeFailureDropsOwnership(t *testing.T) {
	eng := digesttest.New(software.New())
	h := newHarness(t, digest.New(eng))
	tr, _ := h.dial()

	id := initSession(t, tr, ipcutil.OpInitSHA256)
	eng.Inject(digesttest.FaultFinalize, digest.ErrUnsupportedAlgorithm)
	res, _ := call(t, tr, ipcutil.OpFinalizeSHA256, id)
	require.Equal(t, digest.ErrFinalizationError, res)

	h.srv.mu.Lock()
	_, owned := h.srv.owners[id]
	h.srv.mu.Unlock()
	require.False(t, owned, "session %d still owned after a failed finalize", id)
	res, _ = call(t, tr, ipcutil.OpUpdate, id, []byte("x"))
	require.Equal(t, digest.ErrInvalidSession, res)
}

func TestPeerDeathReleasesSessions(t *testing.T) {
	h := newHarness(t, nil)
	first, done := h.dial()
	initSession(t, first, ipcutil.OpInitSHA512)

	second, _ := h.dial()
	res, _ := call(t, second, ipcutil.OpInitSHA256)
	require.Equal(t, digest.ErrTooManySessions, res)

	require.NoError(t, first.Close())
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not notice the peer going away")
	}
	require.Zero(t, h.core.Stats().Sessions)

	initSession(t, second, ipcutil.OpInitSHA256)
}

func TestBufferLimits(t *testing.T) {
	h := newHarness(t, nil)
	tr, _ := h.dial()

	res, _ := call(t, tr, ipcutil.OpInitHMACSHA256, make([]byte, 65))
	require.Equal(t, digest.ErrInvalidKeyLength, res)
	res, _ = call(t, tr, ipcutil.OpHMACOneshotSHA512, make([]byte, 129), []byte("x"))
	require.Equal(t, digest.ErrInvalidKeyLength, res)
	res, _ = call(t, tr, ipcutil.OpDigestOneshotSHA256, make([]byte, digest.MaxDataSize+1))
	require.Equal(t, digest.ErrInvalidInputLength, res)

	id := initSession(t, tr, ipcutil.OpInitHMACSHA256, make([]byte, 64))
	require.NotZero(t, id)
	res, _ = call(t, tr, ipcutil.OpUpdate, id, make([]byte, digest.MaxDataSize+1))
	require.Equal(t, digest.ErrInvalidInputLength, res)
	res, _ = call(t, tr, ipcutil.OpUpdate, id, make([]byte, digest.MaxDataSize))
	require.Zero(t, res)
}

func TestMalformedCommands(t *testing.T) {
	h := newHarness(t, nil)
	tr, _ := h.dial()

	tests := []struct {
		name string
		op   ipcutil.Opcode
		in   []interface{}
		want digest.Error
	}{
		{"reserved sha3 init", ipcutil.OpInitSHA3_384, nil, digest.ErrUnsupportedAlgorithm},
		{"unknown opcode", ipcutil.Opcode(999), nil, digest.ErrUnsupportedAlgorithm},
		{"missing session id", ipcutil.OpFinalizeSHA256, nil, digest.ErrInvalidInputLength},
		{"truncated update", ipcutil.OpUpdate, []interface{}{uint32(1), ipcutil.RawBytes{0, 9, 1}}, digest.ErrInvalidInputLength},
		{"trailing bytes", ipcutil.OpInitSHA256, []interface{}{uint32(7)}, digest.ErrInvalidInputLength},
		{"unknown session", ipcutil.OpReset, []interface{}{uint32(77)}, digest.ErrInvalidSession},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, body := call(t, tr, tc.op, tc.in...)
			require.Equal(t, tc.want, res)
			require.Empty(t, body)
		})
	}
	require.Zero(t, h.core.Stats().Sessions)
}

func TestOversizedFrame(t *testing.T) {
	h := newHarness(t, nil)
	cli, srv := net.Pipe()
	go h.srv.ServeConn(h.ctx, srv)
	defer cli.Close()
	require.NoError(t, cli.SetDeadline(time.Now().Add(5*time.Second)))

	hdr := make([]byte, ipcutil.CommandHeaderSize)
	binary.BigEndian.PutUint16(hdr, uint16(ipcutil.TagCommand))
	binary.BigEndian.PutUint32(hdr[2:], 1<<20)
	binary.BigEndian.PutUint32(hdr[6:], uint32(ipcutil.OpUpdate))
	go cli.Write(hdr)

	rsp, err := transport.ReadFrame(cli, transport.MaxFrameSize)
	require.NoError(t, err)
	rh, _, err := ipcutil.DecodeResponse(rsp)
	require.NoError(t, err)
	require.Equal(t, uint32(digest.ErrInvalidInputLength), rh.Res)

	_, err = transport.ReadFrame(cli, transport.MaxFrameSize)
	require.Error(t, err)
}

func TestPermissionDenied(t *testing.T) {
	h := newHarness(t, nil, WithAllowedUIDs(4242))
	tr, _ := h.dial()

	res, _ := call(t, tr, ipcutil.OpInitSHA256)
	require.Equal(t, digest.ErrPermissionDenied, res)
	res, _ = call(t, tr, ipcutil.OpDigestOneshotSHA256, []byte("x"))
	require.Equal(t, digest.ErrPermissionDenied, res)
	require.Zero(t, h.core.Stats().Sessions)
}

func TestVerifyHMAC(t *testing.T) {
	h := newHarness(t, nil)
	tr, _ := h.dial()
	key, msg := []byte("k"), []byte("m")
	tag := digesttest.Reference(digest.HMACSHA256, key, msg)

	res, _ := call(t, tr, ipcutil.OpVerifyHMAC, uint32(digest.HMACSHA256), key, msg, tag)
	require.Zero(t, res)
	tag[3] ^= 0x80
	res, _ = call(t, tr, ipcutil.OpVerifyHMAC, uint32(digest.HMACSHA256), key, msg, tag)
	require.Equal(t, digest.ErrHmacVerificationFailed, res)
	res, _ = call(t, tr, ipcutil.OpVerifyHMAC, uint32(digest.HMACSHA256), key, msg, make([]byte, 65))
	require.Equal(t, digest.ErrInvalidOutputSize, res)
	res, _ = call(t, tr, ipcutil.OpVerifyHMAC, uint32(digest.SHA256), key, msg, tag)
	require.Equal(t, digest.ErrIncompatibleSessionType, res)
}

func TestExpire(t *testing.T) {
	core := digest.New(software.New(), digest.WithIdleTimeout(time.Minute))
	h := newHarness(t, core)
	tr, _ := h.dial()

	id := initSession(t, tr, ipcutil.OpInitSHA256)
	h.srv.expire(time.Now().Add(time.Hour))

	res, _ := call(t, tr, ipcutil.OpUpdate, id, []byte("x"))
	require.Equal(t, digest.ErrInvalidSession, res)
	h.srv.mu.Lock()
	require.Empty(t, h.srv.owners)
	h.srv.mu.Unlock()
	initSession(t, tr, ipcutil.OpInitSHA256)
}

func TestRandomEpoch(t *testing.T) {
	srv, err := New(digest.New(software.New()))
	require.NoError(t, err)
	require.NotZero(t, srv.Epoch())
}

func TestServe(t *testing.T) {
	core := digest.New(software.New())
	srv, err := New(core, WithEpoch(testEpoch), WithSweepInterval(10*time.Millisecond))
	require.NoError(t, err)

	sock := filepath.Join(t.TempDir(), "digestd.sock")
	l, err := net.Listen("unix", sock)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, l) }()

	tr, err := transport.Dial("unix", sock)
	require.NoError(t, err)
	defer tr.Close()
	res, body := call(t, tr, ipcutil.OpDigestOneshotSHA256, []byte("abc"))
	require.Zero(t, res)
	require.Equal(t, digesttest.Reference(digest.SHA256, nil, []byte("abc")), body)

	cancel()
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
