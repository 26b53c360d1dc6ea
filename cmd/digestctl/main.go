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

// Binary digestctl hashes and authenticates data through a running digestd.
package main

import (
	"flag"
	"os"

	"github.com/golang/glog"

	"github.com/openprot/go-digest/cmd/digestctl/cli"
)

func main() {
	// glog registers its flags on the standard set; cobra picks them up.
	flag.CommandLine.Parse(nil)
	defer glog.Flush()

	if err := cli.New().Execute(); err != nil {
		os.Exit(1)
	}
}
