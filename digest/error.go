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
)

// Error is the closed set of failures reported by the digest service. The
// numeric values travel on the wire as response codes.
type Error uint32

// Error codes.
const (
	ErrInvalidInputLength      Error = 1
	ErrUnsupportedAlgorithm    Error = 2
	ErrMemoryAllocationFailure Error = 3
	ErrInitializationError     Error = 4
	ErrUpdateError             Error = 5
	ErrFinalizationError       Error = 6
	ErrBusy                    Error = 7
	ErrHardwareFailure         Error = 8
	ErrInvalidOutputSize       Error = 9
	ErrPermissionDenied        Error = 10
	ErrNotInitialized          Error = 11
	ErrInvalidSession          Error = 12
	ErrTooManySessions         Error = 13
	ErrInvalidKeyLength        Error = 14
	ErrHmacVerificationFailed  Error = 15
	ErrKeyRequired             Error = 16
	ErrIncompatibleSessionType Error = 17
	ErrServerRestarted         Error = 100
)

var errMsg = map[Error]string{
	ErrInvalidInputLength:      "input data length is not valid for the operation",
	ErrUnsupportedAlgorithm:    "algorithm not supported by the backend or not appropriate for the session",
	ErrMemoryAllocationFailure: "backend could not allocate memory for the computation",
	ErrInitializationError:     "failed to initialize the computation context",
	ErrUpdateError:             "failed to fold data into the computation",
	ErrFinalizationError:       "failed to finalize the computation",
	ErrBusy:                    "hashing engine is busy",
	ErrHardwareFailure:         "hashing engine failure",
	ErrInvalidOutputSize:       "output size is not valid for the algorithm",
	ErrPermissionDenied:        "caller is not permitted to use the hashing engine",
	ErrNotInitialized:          "computation context has not been initialized",
	ErrInvalidSession:          "session id is unknown or the session is unusable",
	ErrTooManySessions:         "no free session slot or hashing engine",
	ErrInvalidKeyLength:        "HMAC key is longer than the algorithm's block size",
	ErrHmacVerificationFailed:  "HMAC verification failed",
	ErrKeyRequired:             "HMAC operation requires a key",
	ErrIncompatibleSessionType: "operation does not match the session type",
	ErrServerRestarted:         "server restarted; previously issued session ids are invalid",
}

func (e Error) Error() string {
	if m, ok := errMsg[e]; ok {
		return fmt.Sprintf("digest error %d: %s", uint32(e), m)
	}
	return fmt.Sprintf("digest error %d", uint32(e))
}

// Known reports whether e is a member of the closed set.
func (e Error) Known() bool {
	_, ok := errMsg[e]
	return ok
}

// AsError maps any error onto the closed set. A digest Error anywhere in
// the chain is returned as is; anything else becomes ErrHardwareFailure.
// AsError(nil) returns 0.
func AsError(err error) Error {
	if err == nil {
		return 0
	}
	var e Error
	if errors.As(err, &e) && e.Known() {
		return e
	}
	return ErrHardwareFailure
}

// DecodeResponse turns a wire response code into an error. Zero is
// success; unknown codes are reported as ErrHardwareFailure.
func DecodeResponse(code uint32) error {
	if code == 0 {
		return nil
	}
	e := Error(code)
	if !e.Known() {
		return ErrHardwareFailure
	}
	return e
}

// BackendError wraps a failure reported by an engine together with the
// taxonomy code it maps to. Engines return it so that logs keep the
// backend's own description while callers still see a closed-set code.
type BackendError struct {
	Code Error
	Err  error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%v: %v", e.Code, e.Err)
}

// Unwrap exposes both the taxonomy code and the backend error.
func (e *BackendError) Unwrap() []error {
	return []error{e.Code, e.Err}
}
