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

package digest

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAlgorithmProperties(t *testing.T) {
	type props struct {
		Supported bool
		HMAC      bool
		Words     int
		Size      int
		MaxKey    int
	}
	tests := []struct {
		alg  Algorithm
		want props
	}{
		{SHA256, props{true, false, 8, 32, 0}},
		{SHA384, props{true, false, 12, 48, 0}},
		{SHA512, props{true, false, 16, 64, 0}},
		{HMACSHA256, props{true, true, 8, 32, 64}},
		{HMACSHA384, props{true, true, 12, 48, 128}},
		{HMACSHA512, props{true, true, 16, 64, 128}},
		{SHA3_256, props{false, false, 8, 32, 0}},
		{SHA3_512, props{false, false, 16, 64, 0}},
		{Algorithm(9), props{false, false, 0, 0, 0}},
	}
	for _, tc := range tests {
		got := props{tc.alg.Supported(), tc.alg.IsHMAC(), tc.alg.OutputWords(), tc.alg.Size(), tc.alg.MaxKeySize()}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("%v properties mismatch (-want +got):\n%s", tc.alg, diff)
		}
	}
}

func TestCheckKey(t *testing.T) {
	tests := []struct {
		alg  Algorithm
		key  int
		want error
	}{
		{SHA256, 0, nil},
		{SHA256, 1, ErrIncompatibleSessionType},
		{HMACSHA256, 0, nil},
		{HMACSHA256, 64, nil},
		{HMACSHA256, 65, ErrInvalidKeyLength},
		{HMACSHA384, 128, nil},
		{HMACSHA384, 129, ErrInvalidKeyLength},
		{HMACSHA512, 128, nil},
		{HMACSHA512, 129, ErrInvalidKeyLength},
	}
	for _, tc := range tests {
		err := tc.alg.CheckKey(make([]byte, tc.key))
		if !errors.Is(err, tc.want) {
			t.Errorf("%v.CheckKey(%d bytes) = %v, want %v", tc.alg, tc.key, err, tc.want)
		}
	}
}

func TestWords(t *testing.T) {
	sum := []byte{0xb9, 0x4d, 0x27, 0xb9, 0x93, 0x4d, 0x3e, 0x08}
	want := []uint32{0xb94d27b9, 0x934d3e08}
	if diff := cmp.Diff(want, Words(sum)); diff != "" {
		t.Errorf("Words() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(sum, Bytes(want)); diff != "" {
		t.Errorf("Bytes() mismatch (-want +got):\n%s", diff)
	}
}

func TestSessionTableNext(t *testing.T) {
	tbl := newSessionTable(2)
	tbl.nextID = 0xfffffffe
	a, err := tbl.allocate(SHA256, zeroTime)
	if err != nil {
		t.Fatal(err)
	}
	b, err := tbl.allocate(SHA256, zeroTime)
	if err != nil {
		t.Fatal(err)
	}
	if a.ID != 0xfffffffe || b.ID != 0xffffffff {
		t.Errorf("ids = %#x, %#x", a.ID, b.ID)
	}
	if _, err := tbl.allocate(SHA256, zeroTime); !errors.Is(err, ErrTooManySessions) {
		t.Errorf("allocate on full table = %v, want %v", err, ErrTooManySessions)
	}
	tbl.remove(a.ID)
	c, err := tbl.allocate(SHA256, zeroTime)
	if err != nil {
		t.Fatal(err)
	}
	if c.ID != 1 {
		t.Errorf("id after wrap = %d, want 1", c.ID)
	}
}
