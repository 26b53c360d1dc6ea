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
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/openprot/go-digest/client"
	"github.com/openprot/go-digest/digest"
)

type hashOptions struct {
	alg    string
	key    string
	keyHex string
	tagHex string
}

func (o *hashOptions) addFlags(cmd *cobra.Command, keyed bool) {
	cmd.Flags().StringVarP(&o.alg, "alg", "a", "sha256", "hash algorithm: sha256, sha384 or sha512")
	if keyed {
		cmd.Flags().StringVarP(&o.key, "key", "k", "", "HMAC key as a string")
		cmd.Flags().StringVar(&o.keyHex, "key-hex", "", "HMAC key in hex")
		cmd.MarkFlagsMutuallyExclusive("key", "key-hex")
	}
}

func (o *hashOptions) keyBytes() ([]byte, error) {
	if o.keyHex != "" {
		return hex.DecodeString(o.keyHex)
	}
	return []byte(o.key), nil
}

// openInput returns the named file, or stdin for "-" or no argument.
func openInput(args []string) (io.ReadCloser, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(args[0])
}

// Sum computes alg over r. Inputs that fit a single request use the
// one-shot operation; longer inputs are streamed through a session in
// MaxDataSize chunks, and the session is released if anything fails before
// Finalize.
func Sum(c *client.Client, alg digest.Algorithm, key []byte, r io.Reader) ([]byte, error) {
	buf := make([]byte, digest.MaxDataSize)
	n, err := io.ReadFull(r, buf)
	switch {
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
		return c.Oneshot(alg, key, buf[:n])
	case err != nil:
		return nil, err
	}

	id, err := c.Init(alg, key)
	if err != nil {
		return nil, err
	}
	for n > 0 {
		if err := c.Update(id, buf[:n]); err != nil {
			c.Release(id)
			return nil, err
		}
		n, err = io.ReadFull(r, buf)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			c.Release(id)
			return nil, err
		}
	}
	return c.Finalize(id, alg)
}

func runSum(ro *RootOptions, o *hashOptions, keyed bool, cmd *cobra.Command, args []string) error {
	alg, err := parseAlgorithm(o.alg, keyed)
	if err != nil {
		return err
	}
	var key []byte
	if keyed {
		if key, err = o.keyBytes(); err != nil {
			return fmt.Errorf("invalid key: %w", err)
		}
	}
	in, err := openInput(args)
	if err != nil {
		return err
	}
	defer in.Close()

	c, err := ro.Dial()
	if err != nil {
		return err
	}
	defer c.Close()

	sum, err := Sum(c, alg, key, in)
	if err != nil {
		return err
	}
	name := "-"
	if len(args) > 0 {
		name = args[0]
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%x  %s\n", sum, name)
	return nil
}

// Hash returns the hash command.
func Hash(ro *RootOptions) *cobra.Command {
	o := &hashOptions{}
	cmd := &cobra.Command{
		Use:   "hash [FILE]",
		Short: "Print the SHA-2 digest of FILE or stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSum(ro, o, false, cmd, args)
		},
	}
	o.addFlags(cmd, false)
	return cmd
}

// HMAC returns the hmac command.
func HMAC(ro *RootOptions) *cobra.Command {
	o := &hashOptions{}
	cmd := &cobra.Command{
		Use:   "hmac [FILE]",
		Short: "Print the HMAC-SHA-2 tag of FILE or stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSum(ro, o, true, cmd, args)
		},
	}
	o.addFlags(cmd, true)
	return cmd
}

// Verify returns the verify command. The message must fit a single
// request.
func Verify(ro *RootOptions) *cobra.Command {
	o := &hashOptions{}
	cmd := &cobra.Command{
		Use:   "verify --tag-hex TAG [FILE]",
		Short: "Check an HMAC tag over FILE or stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			alg, err := parseAlgorithm(o.alg, true)
			if err != nil {
				return err
			}
			key, err := o.keyBytes()
			if err != nil {
				return fmt.Errorf("invalid key: %w", err)
			}
			tag, err := hex.DecodeString(o.tagHex)
			if err != nil {
				return fmt.Errorf("invalid tag: %w", err)
			}
			in, err := openInput(args)
			if err != nil {
				return err
			}
			defer in.Close()
			data, err := io.ReadAll(io.LimitReader(in, digest.MaxDataSize+1))
			if err != nil {
				return err
			}

			c, err := ro.Dial()
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.VerifyHMAC(alg, key, data, tag); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
	o.addFlags(cmd, true)
	cmd.Flags().StringVar(&o.tagHex, "tag-hex", "", "expected tag in hex")
	_ = cmd.MarkFlagRequired("tag-hex")
	return cmd
}
