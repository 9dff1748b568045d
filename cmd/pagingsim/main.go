// Copyright 2024 The Managarm Authors.
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

// Binary pagingsim drives the paging core against scripted multi-CPU
// scenarios: address-space switches, map/unmap traffic and TLB shootdowns,
// with every hardware operation logged.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/Nivaturimika/managarm/pkg/log"
)

var (
	debug     = flag.Bool("debug", false, "enable debug logging.")
	logFormat = flag.String("log-format", "text", `log format: "text" or "json".`)
)

// newEmitter constructs the log emitter selected by --log-format.
func newEmitter(format string, w *log.Writer) log.Emitter {
	switch format {
	case "text":
		return log.GoogleEmitter{Writer: w}
	case "json":
		return log.JSONEmitter{Writer: w}
	}
	fmt.Fprintf(os.Stderr, "invalid log format %q, must be 'text' or 'json'\n", format)
	os.Exit(1)
	panic("unreachable")
}

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(runCommand), "")

	flag.Parse()

	log.SetTarget(newEmitter(*logFormat, &log.Writer{Next: os.Stderr}))
	if *debug {
		log.SetLevel(log.Debug)
	}

	os.Exit(int(subcommands.Execute(context.Background())))
}
