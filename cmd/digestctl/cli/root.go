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

// Package cli implements the digestctl commands.
package cli

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/openprot/go-digest/client"
	"github.com/openprot/go-digest/digest"
	"github.com/openprot/go-digest/transport"
)

// RootOptions are the flags shared by every command.
type RootOptions struct {
	// Address of the server, as "unix:PATH" or "tcp:HOST:PORT".
	Address string
	// Timeout bounds each request.
	Timeout time.Duration
}

// AddFlags registers the root flags on cmd.
func (o *RootOptions) AddFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&o.Address, "address", "unix:/run/digestd.sock",
		`digestd address, "unix:PATH" or "tcp:HOST:PORT"`)
	cmd.PersistentFlags().DurationVarP(&o.Timeout, "timeout", "t", 10*time.Second,
		"timeout for each request")
}

// Dial connects to the configured server.
func (o *RootOptions) Dial() (*client.Client, error) {
	network, address, ok := strings.Cut(o.Address, ":")
	if !ok {
		return nil, fmt.Errorf("invalid --address %q", o.Address)
	}
	t, err := transport.Dial(network, address)
	if err != nil {
		return nil, err
	}
	t.SetTimeout(o.Timeout)
	return client.New(t), nil
}

// New returns the digestctl root command.
func New() *cobra.Command {
	ro := &RootOptions{}
	cmd := &cobra.Command{
		Use:               "digestctl",
		Short:             "Hash and authenticate data with a digestd server.",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
	}
	ro.AddFlags(cmd)
	cmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	cmd.AddCommand(Hash(ro))
	cmd.AddCommand(HMAC(ro))
	cmd.AddCommand(Verify(ro))
	cmd.AddCommand(Demo(ro))
	return cmd
}

var hashNames = map[string]digest.Algorithm{
	"sha256": digest.SHA256,
	"sha384": digest.SHA384,
	"sha512": digest.SHA512,
}

// parseAlgorithm resolves a --alg value, selecting the HMAC variant when
// keyed is set.
func parseAlgorithm(name string, keyed bool) (digest.Algorithm, error) {
	alg, ok := hashNames[strings.ToLower(strings.ReplaceAll(name, "-", ""))]
	if !ok {
		return 0, fmt.Errorf("unknown algorithm %q (want sha256, sha384 or sha512)", name)
	}
	if keyed {
		alg += digest.HMACSHA256 - digest.SHA256
	}
	return alg, nil
}
