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

// Package tpm implements a hashing engine on a TPM 2.0's hash and HMAC
// sequence objects.
//
// Plain hashes run as TPM2_HashSequenceStart sequences. HMAC keys are
// loaded as transient keyed-hash primaries in the null hierarchy, an
// HMAC sequence is started on them and the key object is flushed right
// away, so at most one transient object is held per engine.
package tpm

import (
	"errors"
	"fmt"

	"github.com/golang/glog"
	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"

	"github.com/openprot/go-digest/digest"
)

// Engine drives a single TPM. The TPM is assumed to be started up.
type Engine struct {
	tpm  transport.TPM
	name string
}

// New returns an engine on t. name is used in logs.
func New(t transport.TPM, name string) *Engine {
	if name == "" {
		name = "tpm"
	}
	return &Engine{tpm: t, name: name}
}

// Name implements digest.Namer.
func (e *Engine) Name() string {
	return e.name
}

var hashAlgs = map[digest.Algorithm]tpm2.TPMIAlgHash{
	digest.SHA256: tpm2.TPMAlgSHA256,
	digest.SHA384: tpm2.TPMAlgSHA384,
	digest.SHA512: tpm2.TPMAlgSHA512,
}

// Begin implements digest.Engine.
func (e *Engine) Begin(alg digest.Algorithm, key []byte) (digest.Context, error) {
	hashAlg, ok := hashAlgs[alg.Underlying()]
	if !ok || !alg.Supported() {
		return nil, digest.ErrUnsupportedAlgorithm
	}
	if err := alg.CheckKey(key); err != nil {
		return nil, err
	}

	var seq tpm2.TPMHandle
	var err error
	if alg.IsHMAC() {
		seq, err = e.startHMAC(hashAlg, key)
	} else {
		seq, err = e.startHash(hashAlg)
	}
	if err != nil {
		return nil, mapError(err)
	}
	if glog.V(2) {
		glog.Infof("tpm: %v sequence started at handle 0x%x", alg, uint32(seq))
	}
	return &context{e: e, seq: seq}, nil
}

func (e *Engine) startHash(hashAlg tpm2.TPMIAlgHash) (tpm2.TPMHandle, error) {
	rsp, err := tpm2.HashSequenceStart{
		Auth:    tpm2.TPM2BAuth{},
		HashAlg: hashAlg,
	}.Execute(e.tpm)
	if err != nil {
		return 0, fmt.Errorf("HashSequenceStart: %w", err)
	}
	return rsp.SequenceHandle, nil
}

// startHMAC loads key as a keyed-hash object and opens an HMAC sequence on
// it. The key object is flushed before returning.
func (e *Engine) startHMAC(hashAlg tpm2.TPMIAlgHash, key []byte) (tpm2.TPMHandle, error) {
	if len(key) == 0 {
		// The TPM refuses empty keyed-hash sensitive data. HMAC zero-pads
		// the key to the block size, so a single zero byte is equivalent.
		key = []byte{0}
	}
	rspCP, err := tpm2.CreatePrimary{
		PrimaryHandle: tpm2.TPMRHNull,
		InSensitive: tpm2.TPM2BSensitiveCreate{
			Sensitive: &tpm2.TPMSSensitiveCreate{
				Data: tpm2.NewTPMUSensitiveCreate(&tpm2.TPM2BSensitiveData{
					Buffer: key,
				}),
			},
		},
		InPublic: tpm2.New2B(tpm2.TPMTPublic{
			Type:    tpm2.TPMAlgKeyedHash,
			NameAlg: tpm2.TPMAlgSHA256,
			ObjectAttributes: tpm2.TPMAObject{
				SignEncrypt:  true,
				FixedTPM:     true,
				FixedParent:  true,
				UserWithAuth: true,
			},
			Parameters: tpm2.NewTPMUPublicParms(tpm2.TPMAlgKeyedHash,
				&tpm2.TPMSKeyedHashParms{
					Scheme: tpm2.TPMTKeyedHashScheme{
						Scheme: tpm2.TPMAlgHMAC,
						Details: tpm2.NewTPMUSchemeKeyedHash(tpm2.TPMAlgHMAC,
							&tpm2.TPMSSchemeHMAC{
								HashAlg: hashAlg,
							}),
					},
				}),
		}),
	}.Execute(e.tpm)
	if err != nil {
		return 0, fmt.Errorf("CreatePrimary: %w", err)
	}
	defer e.flush(rspCP.ObjectHandle)

	rspHS, err := tpm2.HmacStart{
		Handle: tpm2.AuthHandle{
			Handle: rspCP.ObjectHandle,
			Name:   rspCP.Name,
			Auth:   tpm2.PasswordAuth(nil),
		},
		Auth:    tpm2.TPM2BAuth{},
		HashAlg: tpm2.TPMAlgNull,
	}.Execute(e.tpm)
	if err != nil {
		return 0, fmt.Errorf("HmacStart: %w", err)
	}
	return rspHS.SequenceHandle, nil
}

func (e *Engine) flush(h tpm2.TPMHandle) {
	if _, err := (tpm2.FlushContext{FlushHandle: h}).Execute(e.tpm); err != nil {
		glog.Warningf("tpm: flushing handle 0x%x: %v", uint32(h), err)
	}
}

type context struct {
	e   *Engine
	seq tpm2.TPMHandle
}

func (c *context) auth() tpm2.AuthHandle {
	return tpm2.AuthHandle{
		Handle: c.seq,
		Auth:   tpm2.PasswordAuth(nil),
	}
}

func (c *context) Update(data []byte) (digest.Context, error) {
	if c.e == nil {
		return nil, digest.ErrNotInitialized
	}
	if len(data) == 0 {
		return c, nil
	}
	_, err := tpm2.SequenceUpdate{
		SequenceHandle: c.auth(),
		Buffer:         tpm2.TPM2BMaxBuffer{Buffer: data},
	}.Execute(c.e.tpm)
	if err != nil {
		return c, mapError(fmt.Errorf("SequenceUpdate: %w", err))
	}
	return c, nil
}

func (c *context) Finalize() ([]byte, digest.Engine, error) {
	if c.e == nil {
		return nil, nil, digest.ErrNotInitialized
	}
	rsp, err := tpm2.SequenceComplete{
		SequenceHandle: c.auth(),
		Buffer:         tpm2.TPM2BMaxBuffer{},
		Hierarchy:      tpm2.TPMRHNull,
	}.Execute(c.e.tpm)
	if err != nil {
		// A failed TPM2_SequenceComplete leaves the sequence loaded.
		return nil, c.Release(), mapError(fmt.Errorf("SequenceComplete: %w", err))
	}
	e := c.e
	c.e = nil
	return rsp.Result.Buffer, e, nil
}

func (c *context) Release() digest.Engine {
	e := c.e
	if e == nil {
		return nil
	}
	c.e = nil
	e.flush(c.seq)
	return e
}

// rcCodes maps TPM response codes onto the digest taxonomy. Anything not
// listed is a hardware failure.
var rcCodes = []struct {
	rc   tpm2.TPMRC
	code digest.Error
}{
	{tpm2.TPMRCHash, digest.ErrUnsupportedAlgorithm},
	{tpm2.TPMRCScheme, digest.ErrUnsupportedAlgorithm},
	{tpm2.TPMRCValue, digest.ErrUnsupportedAlgorithm},
	{tpm2.TPMRCKeySize, digest.ErrInvalidKeyLength},
	{tpm2.TPMRCSize, digest.ErrInvalidKeyLength},
	{tpm2.TPMRCMemory, digest.ErrMemoryAllocationFailure},
	{tpm2.TPMRCObjectMemory, digest.ErrMemoryAllocationFailure},
	{tpm2.TPMRCSessionMemory, digest.ErrMemoryAllocationFailure},
	{tpm2.TPMRCRetry, digest.ErrBusy},
	{tpm2.TPMRCYielded, digest.ErrBusy},
	{tpm2.TPMRCTesting, digest.ErrBusy},
	{tpm2.TPMRCBadAuth, digest.ErrPermissionDenied},
	{tpm2.TPMRCAuthFail, digest.ErrPermissionDenied},
	{tpm2.TPMRCInitialize, digest.ErrNotInitialized},
}

// mapError wraps a TPM failure in a digest.BackendError carrying the
// matching taxonomy code.
func mapError(err error) error {
	code := digest.ErrHardwareFailure
	for _, m := range rcCodes {
		if errors.Is(err, m.rc) {
			code = m.code
			break
		}
	}
	return &digest.BackendError{Code: code, Err: err}
}
