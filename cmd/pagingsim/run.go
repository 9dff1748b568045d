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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/Nivaturimika/managarm/pkg/log"
	"github.com/Nivaturimika/managarm/pkg/paging"
)

// runCommand implements subcommands.Command for the "run" command.
type runCommand struct {
	cpus  int
	pcids bool
}

// Name implements subcommands.Command.Name.
func (*runCommand) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*runCommand) Synopsis() string {
	return "run a scripted paging scenario"
}

// Usage implements subcommands.Command.Usage.
func (*runCommand) Usage() string {
	return `run [flags] <scenario.yaml> - run a scripted paging scenario.

Without a scenario file, a built-in demonstration scenario is run.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *runCommand) SetFlags(f *flag.FlagSet) {
	f.IntVar(&r.cpus, "cpus", 2, "CPU count for the built-in scenario.")
	f.BoolVar(&r.pcids, "pcids", true, "enable PCIDs for the built-in scenario.")
}

// Execute implements subcommands.Command.Execute.
func (r *runCommand) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	var (
		scenario *Scenario
		err      error
	)
	switch f.NArg() {
	case 0:
		scenario = r.builtinScenario()
	case 1:
		scenario, err = LoadScenario(f.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return subcommands.ExitFailure
		}
	default:
		f.Usage()
		return subcommands.ExitUsageError
	}

	log.Infof("machine: %d CPUs, PCIDs %t, %d steps", scenario.CPUs, scenario.PCIDs, len(scenario.Steps))
	sim := NewSimulator(scenario)
	paging.InitializeKernelTable(sim.kernel)
	if err := sim.Run(scenario); err != nil {
		fmt.Fprintf(os.Stderr, "scenario failed: %v\n", err)
		return subcommands.ExitFailure
	}
	sim.Report()
	return subcommands.ExitSuccess
}

// builtinScenario exercises warm context switches and a cross-CPU
// shootdown.
func (r *runCommand) builtinScenario() *Scenario {
	if r.cpus < 1 {
		r.cpus = 1
	}
	other := r.cpus - 1
	return &Scenario{
		CPUs:  r.cpus,
		PCIDs: r.pcids,
		Steps: []Step{
			{Op: "map", Space: "a", Addr: 0x400000, Frame: 0x9000, User: true, Write: true},
			{Op: "map", Space: "a", Addr: 0x401000, Frame: 0xa000, User: true, Write: true},
			{Op: "map", Space: "b", Addr: 0x400000, Frame: 0xb000, User: true, Write: true},
			{Op: "activate", CPU: 0, Space: "a"},
			{Op: "activate", CPU: other, Space: "a"},
			{Op: "activate", CPU: other, Space: "b"},
			{Op: "activate", CPU: other, Space: "a"},
			{Op: "unmap", Space: "a", Addr: 0x401000, Pages: 1},
			{Op: "shootdown", Space: "a", Addr: 0x401000, Pages: 1},
			{Op: "release", Space: "b"},
			{Op: "release", Space: "a"},
		},
	}
}
