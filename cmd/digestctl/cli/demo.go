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
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/openprot/go-digest/client"
	"github.com/openprot/go-digest/digest"
)

// local computes alg over the concatenation of chunks in process.
func local(alg digest.Algorithm, key []byte, chunks ...[]byte) []byte {
	var h func() hash.Hash
	switch alg.Underlying() {
	case digest.SHA256:
		h = sha256.New
	case digest.SHA384:
		h = sha512.New384
	default:
		h = sha512.New
	}
	m := h()
	if alg.IsHMAC() {
		m = hmac.New(h, key)
	}
	for _, c := range chunks {
		m.Write(c)
	}
	return m.Sum(nil)
}

// stream runs chunks through a session and returns the result.
func stream(c *client.Client, alg digest.Algorithm, key []byte, chunks ...[]byte) ([]byte, error) {
	id, err := c.Init(alg, key)
	if err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}
	for i, chunk := range chunks {
		if err := c.Update(id, chunk); err != nil {
			c.Release(id)
			return nil, fmt.Errorf("update #%d: %w", i, err)
		}
	}
	sum, err := c.Finalize(id, alg)
	if err != nil {
		return nil, fmt.Errorf("finalize: %w", err)
	}
	return sum, nil
}

type demoStep struct {
	name string
	run  func(c *client.Client) error
}

func checkStream(alg digest.Algorithm, key []byte, chunks ...[]byte) func(*client.Client) error {
	return func(c *client.Client) error {
		got, err := stream(c, alg, key, chunks...)
		if err != nil {
			return err
		}
		if want := local(alg, key, chunks...); !bytes.Equal(got, want) {
			return fmt.Errorf("got %x, want %x", got, want)
		}
		return nil
	}
}

func checkOneshot(alg digest.Algorithm, key, data []byte) func(*client.Client) error {
	return func(c *client.Client) error {
		got, err := c.Oneshot(alg, key, data)
		if err != nil {
			return err
		}
		if want := local(alg, key, data); !bytes.Equal(got, want) {
			return fmt.Errorf("got %x, want %x", got, want)
		}
		return nil
	}
}

// attestation hashes a certificate chain and a measurement separately, then
// binds the two digests together in a third session.
func attestation(c *client.Client) error {
	cert, err := stream(c, digest.SHA256, nil, []byte("DEVICE_CERTIFICATE_CHAIN_DATA"))
	if err != nil {
		return err
	}
	meas, err := stream(c, digest.SHA256, nil, []byte("DEVICE_MEASUREMENT_DATA"))
	if err != nil {
		return err
	}
	return checkStream(digest.SHA256, nil, cert, meas)(c)
}

// verifyTags checks that a computed tag verifies and that a corrupted one
// does not.
func verifyTags(c *client.Client) error {
	key := []byte("test_key_256")
	data := []byte("Hello, HMAC-SHA256!")
	tag := local(digest.HMACSHA256, key, data)
	if err := c.VerifyHMAC(digest.HMACSHA256, key, data, tag); err != nil {
		return fmt.Errorf("valid tag: %w", err)
	}
	tag[0] ^= 1
	if err := c.VerifyHMAC(digest.HMACSHA256, key, data, tag); !errors.Is(err, digest.ErrHmacVerificationFailed) {
		return fmt.Errorf("corrupted tag: got %v, want %v", err, digest.ErrHmacVerificationFailed)
	}
	return nil
}

// sessionErrors exercises the error paths a well-behaved client can hit.
func sessionErrors(c *client.Client) error {
	if err := c.Update(0xdeadbeef, []byte("x")); !errors.Is(err, digest.ErrInvalidSession) {
		return fmt.Errorf("update of unknown session: got %v, want %v", err, digest.ErrInvalidSession)
	}
	if _, err := c.Init(digest.SHA3_256, nil); !errors.Is(err, digest.ErrUnsupportedAlgorithm) {
		return fmt.Errorf("SHA3-256 init: got %v, want %v", err, digest.ErrUnsupportedAlgorithm)
	}
	if _, err := c.Init(digest.HMACSHA256, make([]byte, digest.HMACSHA256MaxKeySize+1)); !errors.Is(err, digest.ErrInvalidKeyLength) {
		return fmt.Errorf("oversized key: got %v, want %v", err, digest.ErrInvalidKeyLength)
	}
	return nil
}

func demoSteps() []demoStep {
	k256 := []byte("test_key_256")
	k384 := []byte("test_key_384_longer_for_better_security")
	k512 := []byte("test_key_512_even_longer_key_for_maximum_security_testing_purposes_here")
	return []demoStep{
		{"sha256", checkStream(digest.SHA256, nil, []byte("Hello, Hubris world!"))},
		{"sha384", checkStream(digest.SHA384, nil, []byte("SHA-384 test data for Hubris digest driver"))},
		{"sha512", checkStream(digest.SHA512, nil, []byte("SHA-512 provides the largest digest size in the SHA-2 family"))},
		{"streaming", checkStream(digest.SHA256, nil,
			[]byte("This is chunk 1 of a large data stream."),
			[]byte("This is chunk 2 with more data to hash."),
			[]byte("This is chunk 3 continuing the stream."),
			[]byte("This is the final chunk 4 of our data."),
		)},
		{"oneshot", checkOneshot(digest.SHA256, nil, []byte("One-shot hash example data"))},
		{"attestation", attestation},
		{"hmac-sha256", checkStream(digest.HMACSHA256, k256, []byte("Hello, HMAC-SHA256!"))},
		{"hmac-sha384", checkStream(digest.HMACSHA384, k384, []byte("Hello, HMAC-SHA384 with longer message!"))},
		{"hmac-sha512", checkStream(digest.HMACSHA512, k512,
			[]byte("Hello, HMAC-SHA512 with an even longer message for comprehensive testing!"))},
		{"hmac-oneshot", checkOneshot(digest.HMACSHA384, k384, []byte("Hello, HMAC-SHA384 with longer message!"))},
		{"verify", verifyTags},
		{"errors", sessionErrors},
	}
}

// RunDemo runs every demo step against c, reporting each on w.
func RunDemo(c *client.Client, w io.Writer) error {
	failed := 0
	for _, step := range demoSteps() {
		if err := step.run(c); err != nil {
			glog.Warningf("demo %s: %v", step.name, err)
			fmt.Fprintf(w, "FAIL %s: %v\n", step.name, err)
			failed++
			continue
		}
		fmt.Fprintf(w, "ok   %s\n", step.name)
	}
	if failed > 0 {
		return fmt.Errorf("%d demo steps failed", failed)
	}
	return nil
}

// Demo returns the demo command.
func Demo(ro *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run a self-checking tour of every operation.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := ro.Dial()
			if err != nil {
				return err
			}
			defer c.Close()
			return RunDemo(c, cmd.OutOrStdout())
		},
	}
}
