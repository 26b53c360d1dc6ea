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

// Binary digestd serves digest and HMAC sessions to local clients.
//
// It drives a single hashing backend: the Go software implementation, a
// TPM 2.0 device, or the in-process TPM simulator. Clients connect over a
// Unix or TCP socket; every session a client opens is released when its
// connection closes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/google/go-tpm-tools/simulator"
	"github.com/google/go-tpm/tpm2/transport"

	"github.com/openprot/go-digest/digest"
	"github.com/openprot/go-digest/engine/software"
	"github.com/openprot/go-digest/engine/tpm"
	"github.com/openprot/go-digest/server"
)

var (
	flagListen = flag.String("listen", "unix:/run/digestd.sock",
		`Address to serve on, as "unix:PATH" or "tcp:HOST:PORT".`)
	flagEngine = flag.String("engine", "software",
		"Hashing backend: 'software', 'tpm' or 'tpm-sim'.")
	flagTPMPath = flag.String("tpm_path", "/dev/tpmrm0",
		"TPM device used by -engine=tpm.")
	flagEngines = flag.Int("engines", 1,
		"Number of software engines, i.e. concurrently active sessions.\n"+
			"Ignored by the TPM backends, which always provide one.")
	flagMaxSessions = flag.Int("max_sessions", digest.DefaultMaxSessions,
		"Session table capacity.")
	flagIdleTimeout = flag.Duration("idle_timeout", 0,
		"Evict sessions idle for this long. 0 disables eviction.")
	flagSweep = flag.Duration("sweep_interval", 30*time.Second,
		"How often to look for idle sessions when -idle_timeout is set.")
	flagAllowedUIDs = flag.String("allowed_uids", "",
		"Comma-separated user ids allowed to connect over a Unix socket.\n"+
			"Empty allows everyone.")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	if err := run(); err != nil {
		glog.Exitf("digestd: %v", err)
	}
}

func run() error {
	network, address, err := parseListen(*flagListen)
	if err != nil {
		return err
	}
	uids, err := parseUIDs(*flagAllowedUIDs)
	if err != nil {
		return err
	}

	engines, closer, err := openEngines(*flagEngine, *flagEngines)
	if err != nil {
		return err
	}
	defer closer.Close()

	core := digest.New(engines[0],
		digest.WithEngines(engines[1:]...),
		digest.WithMaxSessions(*flagMaxSessions),
		digest.WithIdleTimeout(*flagIdleTimeout))

	opts := []server.Option{}
	if len(uids) > 0 {
		opts = append(opts, server.WithAllowedUIDs(uids...))
	}
	if *flagIdleTimeout > 0 {
		opts = append(opts, server.WithSweepInterval(*flagSweep))
	}
	srv, err := server.New(core, opts...)
	if err != nil {
		return err
	}

	if network == "unix" {
		if err := os.Remove(address); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing stale socket: %w", err)
		}
	}
	l, err := net.Listen(network, address)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Serve(ctx, l)
}

// parseListen splits "unix:PATH" or "tcp:HOST:PORT".
func parseListen(s string) (network, address string, err error) {
	network, address, ok := strings.Cut(s, ":")
	if !ok || address == "" {
		return "", "", fmt.Errorf("invalid -listen %q", s)
	}
	switch network {
	case "unix", "tcp", "tcp4", "tcp6":
		return network, address, nil
	}
	return "", "", fmt.Errorf("invalid -listen %q: unsupported network %q", s, network)
}

func parseUIDs(s string) ([]uint32, error) {
	if s == "" {
		return nil, nil
	}
	var uids []uint32
	for _, f := range strings.Split(s, ",") {
		u, err := strconv.ParseUint(strings.TrimSpace(f), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid -allowed_uids entry %q: %w", f, err)
		}
		uids = append(uids, uint32(u))
	}
	return uids, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openEngines builds the engine pool for kind. The closer releases the
// backend once the server is done.
func openEngines(kind string, n int) ([]digest.Engine, io.Closer, error) {
	switch kind {
	case "software":
		if n < 1 {
			return nil, nil, fmt.Errorf("-engines must be at least 1, got %d", n)
		}
		engines := make([]digest.Engine, n)
		for i := range engines {
			engines[i] = software.New()
		}
		glog.Infof("digestd: %d %s engine(s)", n, engines[0].(digest.Namer).Name())
		return engines, nopCloser{}, nil

	case "tpm-sim":
		sim, err := simulator.Get()
		if err != nil {
			return nil, nil, fmt.Errorf("starting TPM simulator: %w", err)
		}
		t := transport.FromReadWriteCloser(sim)
		return []digest.Engine{tpm.New(t, "tpm-sim")}, t, nil

	case "tpm":
		t, err := openDevice(*flagTPMPath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening TPM %s: %w", *flagTPMPath, err)
		}
		return []digest.Engine{tpm.New(t, "tpm:"+*flagTPMPath)}, t, nil
	}
	return nil, nil, fmt.Errorf("unknown -engine %q", kind)
}
