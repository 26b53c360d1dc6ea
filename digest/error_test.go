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
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestAsError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Error
	}{
		{"nil", nil, 0},
		{"direct", ErrBusy, ErrBusy},
		{"wrapped", fmt.Errorf("engine: %w", ErrInvalidKeyLength), ErrInvalidKeyLength},
		{"backend", &BackendError{Code: ErrMemoryAllocationFailure, Err: io.ErrUnexpectedEOF}, ErrMemoryAllocationFailure},
		{"joined", errors.Join(io.EOF, ErrNotInitialized), ErrNotInitialized},
		{"foreign", io.EOF, ErrHardwareFailure},
		{"unknown code", Error(55), ErrHardwareFailure},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := AsError(tc.err); got != tc.want {
				t.Errorf("AsError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestDecodeResponse(t *testing.T) {
	if err := DecodeResponse(0); err != nil {
		t.Errorf("DecodeResponse(0) = %v, want nil", err)
	}
	for code := uint32(1); code <= 17; code++ {
		if err := DecodeResponse(code); !errors.Is(err, Error(code)) {
			t.Errorf("DecodeResponse(%d) = %v", code, err)
		}
	}
	if err := DecodeResponse(100); !errors.Is(err, ErrServerRestarted) {
		t.Errorf("DecodeResponse(100) = %v, want %v", err, ErrServerRestarted)
	}
	for _, code := range []uint32{18, 99, 101, 0xffffffff} {
		if err := DecodeResponse(code); !errors.Is(err, ErrHardwareFailure) {
			t.Errorf("DecodeResponse(%d) = %v, want %v", code, err, ErrHardwareFailure)
		}
	}
}

func TestBackendError(t *testing.T) {
	cause := errors.New("hace: timeout waiting for completion")
	err := fmt.Errorf("finalize: %w", &BackendError{Code: ErrBusy, Err: cause})
	if !errors.Is(err, ErrBusy) {
		t.Errorf("errors.Is(%v, ErrBusy) = false", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(%v, cause) = false", err)
	}
	if !strings.Contains(err.Error(), "timeout") {
		t.Errorf("Error() = %q, want the backend description kept", err.Error())
	}
}

func TestErrorString(t *testing.T) {
	if got := ErrTooManySessions.Error(); !strings.HasPrefix(got, "digest error 13:") {
		t.Errorf("ErrTooManySessions.Error() = %q", got)
	}
	if got := Error(77).Error(); got != "digest error 77" {
		t.Errorf("Error(77).Error() = %q", got)
	}
}
