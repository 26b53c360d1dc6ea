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

package software

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openprot/go-digest/digest"
	"github.com/openprot/go-digest/digest/digesttest"
)

func TestName(t *testing.T) {
	if n := New().Name(); !strings.HasPrefix(n, "software/") {
		t.Errorf("Name() = %q, want software/ prefix", n)
	}
}

func TestStreaming(t *testing.T) {
	algs := []digest.Algorithm{
		digest.SHA256, digest.SHA384, digest.SHA512,
		digest.HMACSHA256, digest.HMACSHA384, digest.HMACSHA512,
	}
	msg := []byte("The quick brown fox jumps over the lazy dog")
	for _, alg := range algs {
		t.Run(alg.String(), func(t *testing.T) {
			var key []byte
			if alg.IsHMAC() {
				key = []byte("key")
			}
			e := New()
			ctx, err := e.Begin(alg, key)
			if err != nil {
				t.Fatalf("Begin() failed: %v", err)
			}
			for _, chunk := range [][]byte{msg[:10], msg[10:11], nil, msg[11:]} {
				if ctx, err = ctx.Update(chunk); err != nil {
					t.Fatalf("Update() failed: %v", err)
				}
			}
			sum, back, err := ctx.Finalize()
			if err != nil {
				t.Fatalf("Finalize() failed: %v", err)
			}
			if back != digest.Engine(e) {
				t.Errorf("Finalize() returned engine %v, want %v", back, e)
			}
			if diff := cmp.Diff(digesttest.Reference(alg, key, msg), sum); diff != "" {
				t.Errorf("Finalize() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBeginRejects(t *testing.T) {
	e := New()
	tests := []struct {
		alg  digest.Algorithm
		key  []byte
		want error
	}{
		{digest.SHA3_256, nil, digest.ErrUnsupportedAlgorithm},
		{digest.Algorithm(12), nil, digest.ErrUnsupportedAlgorithm},
		{digest.HMACSHA256, make([]byte, 65), digest.ErrInvalidKeyLength},
		{digest.HMACSHA512, make([]byte, 129), digest.ErrInvalidKeyLength},
		{digest.SHA256, []byte("k"), digest.ErrIncompatibleSessionType},
	}
	for _, tc := range tests {
		if _, err := e.Begin(tc.alg, tc.key); !errors.Is(err, tc.want) {
			t.Errorf("Begin(%v, %d-byte key) = %v, want %v", tc.alg, len(tc.key), err, tc.want)
		}
	}
}

func TestUseAfterRelease(t *testing.T) {
	e := New()
	ctx, err := e.Begin(digest.SHA256, nil)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	if got := ctx.Release(); got != digest.Engine(e) {
		t.Errorf("Release() = %v, want %v", got, e)
	}
	if got := ctx.Release(); got != nil {
		t.Errorf("second Release() = %v, want nil", got)
	}
	if _, err := ctx.Update([]byte("x")); !errors.Is(err, digest.ErrNotInitialized) {
		t.Errorf("Update after Release = %v, want %v", err, digest.ErrNotInitialized)
	}
	if _, _, err := ctx.Finalize(); !errors.Is(err, digest.ErrNotInitialized) {
		t.Errorf("Finalize after Release = %v, want %v", err, digest.ErrNotInitialized)
	}
}
