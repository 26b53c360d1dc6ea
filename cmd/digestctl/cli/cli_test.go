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

package cli

import (
	"bytes"
	"context"
	"encoding/hex"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openprot/go-digest/digest"
	"github.com/openprot/go-digest/digest/digesttest"
	"github.com/openprot/go-digest/engine/software"
	"github.com/openprot/go-digest/server"
)

// startServer serves a software-backed core on a fresh Unix socket and
// returns its --address value.
func startServer(t *testing.T) string {
	t.Helper()
	srv, err := server.New(digest.New(software.New()))
	require.NoError(t, err)

	sock := filepath.Join(t.TempDir(), "d.sock")
	l, err := net.Listen("unix", sock)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, l) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-served)
	})
	return "unix:" + sock
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := New()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "input")
	require.NoError(t, os.WriteFile(p, data, 0o600))
	return p
}

func TestParseAlgorithm(t *testing.T) {
	for _, tc := range []struct {
		name  string
		keyed bool
		want  digest.Algorithm
	}{
		{"sha256", false, digest.SHA256},
		{"SHA-384", false, digest.SHA384},
		{"sha512", true, digest.HMACSHA512},
		{"sha256", true, digest.HMACSHA256},
	} {
		got, err := parseAlgorithm(tc.name, tc.keyed)
		require.NoError(t, err)
		require.Equal(t, tc.want, got, "parseAlgorithm(%q, %v)", tc.name, tc.keyed)
	}
	_, err := parseAlgorithm("md5", false)
	require.Error(t, err)
}

func TestHash(t *testing.T) {
	addr := startServer(t)
	for _, size := range []int{0, 100, digest.MaxDataSize, digest.MaxDataSize + 1, 5000} {
		data := bytes.Repeat([]byte{'q'}, size)
		p := writeFile(t, data)
		out, err := execute(t, "--address", addr, "hash", "--alg", "sha384", p)
		require.NoError(t, err, "size %d", size)
		want := hex.EncodeToString(digesttest.Reference(digest.SHA384, nil, data))
		require.Equal(t, want+"  "+p+"\n", out, "size %d", size)
	}
}

func TestHMACAndVerify(t *testing.T) {
	addr := startServer(t)
	key := []byte("test_key_256")
	data := []byte(strings.Repeat("Hello, HMAC-SHA256!", 100))
	p := writeFile(t, data)

	out, err := execute(t, "--address", addr, "hmac", "--key", string(key), p)
	require.NoError(t, err)
	tag := digesttest.Reference(digest.HMACSHA256, key, data)
	require.Equal(t, hex.EncodeToString(tag)+"  "+p+"\n", out)

	short := writeFile(t, data[:64])
	shortTag := hex.EncodeToString(digesttest.Reference(digest.HMACSHA256, key, data[:64]))
	out, err = execute(t, "--address", addr, "verify", "--key-hex", hex.EncodeToString(key), "--tag-hex", shortTag, short)
	require.NoError(t, err)
	require.Equal(t, "OK\n", out)

	_, err = execute(t, "--address", addr, "verify", "--key", "wrong", "--tag-hex", shortTag, short)
	require.ErrorIs(t, err, digest.ErrHmacVerificationFailed)
}

func TestDemo(t *testing.T) {
	addr := startServer(t)
	out, err := execute(t, "--address", addr, "demo")
	require.NoError(t, err, out)
	require.NotContains(t, out, "FAIL")
	require.Equal(t, len(demoSteps()), strings.Count(out, "ok   "))
}

func TestBadAddress(t *testing.T) {
	_, err := execute(t, "--address", "nowhere", "demo")
	require.Error(t, err)
}
