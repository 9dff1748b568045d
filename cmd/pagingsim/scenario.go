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
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/Nivaturimika/managarm/pkg/log"
	"github.com/Nivaturimika/managarm/pkg/memarch"
	"github.com/Nivaturimika/managarm/pkg/paging"
)

// Scenario is a scripted exercise of the paging core.
type Scenario struct {
	// CPUs is the machine size; defaults to 1.
	CPUs int `yaml:"cpus"`

	// PCIDs enables hardware context tags.
	PCIDs bool `yaml:"pcids"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`
}

// Step is one scripted operation.
type Step struct {
	// Op selects the operation: activate, map, unmap, shootdown,
	// release.
	Op string `yaml:"op"`

	// CPU is the acting CPU for activate.
	CPU int `yaml:"cpu"`

	// Space names the client address space; spaces are created on first
	// use.
	Space string `yaml:"space"`

	// Addr and Frame are page-aligned addresses for map/unmap.
	Addr  uint64 `yaml:"addr"`
	Frame uint64 `yaml:"frame"`

	// Pages is the page count for unmap/shootdown ranges; defaults to 1.
	Pages int `yaml:"pages"`

	// User, Write and Execute select mapping attributes.
	User    bool `yaml:"user"`
	Write   bool `yaml:"write"`
	Execute bool `yaml:"execute"`

	// Remap selects remap-mode unmapping.
	Remap bool `yaml:"remap"`
}

// LoadScenario parses a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	var s Scenario
	if err := yaml.UnmarshalStrict(data, &s); err != nil {
		return nil, fmt.Errorf("parsing scenario %q: %w", path, err)
	}
	if s.CPUs == 0 {
		s.CPUs = 1
	}
	return &s, nil
}

// loggingMMU logs and counts every hardware operation of one CPU.
type loggingMMU struct {
	cpu           int
	rootWrites    int
	invalidations int
}

func (m *loggingMMU) SetRootPointer(value uint64) {
	m.rootWrites++
	log.Debugf("cpu%d: root pointer <- %#x", m.cpu, value)
}

func (m *loggingMMU) InvalidatePage(addr memarch.VirtAddr) {
	m.invalidations++
	log.Debugf("cpu%d: invlpg %#x", m.cpu, addr)
}

func (m *loggingMMU) InvalidatePagePCID(pcid int, addr memarch.VirtAddr) {
	m.invalidations++
	log.Debugf("cpu%d: invpcid %d, %#x", m.cpu, pcid, addr)
}

func (m *loggingMMU) InvalidatePCID(pcid int) {
	m.invalidations++
	log.Debugf("cpu%d: invpcid %d", m.cpu, pcid)
}

// Simulator owns the machine and the named client spaces of one run.
type Simulator struct {
	machine   *paging.Machine
	allocator *paging.RuntimeAllocator
	kernel    *paging.KernelPageTable
	mmus      []*loggingMMU
	spaces    map[string]*paging.ClientPageTable

	// shootdowns counts completed ShootNodes.
	shootdowns int
}

// NewSimulator brings up a machine for the scenario.
func NewSimulator(s *Scenario) *Simulator {
	sim := &Simulator{
		allocator: paging.NewRuntimeAllocator(),
		spaces:    make(map[string]*paging.ClientPageTable),
	}
	sim.machine = paging.NewMachine(paging.MachineConfig{
		CPUCount:  s.CPUs,
		HavePCIDs: s.PCIDs,
		NewMMU: func(cpu int) paging.MMU {
			m := &loggingMMU{cpu: cpu}
			sim.mmus = append(sim.mmus, m)
			return m
		},
	})
	sim.kernel = paging.NewKernelPageTable(sim.machine, sim.allocator)
	return sim
}

// space returns the named client space, creating it on first use.
func (sim *Simulator) space(name string) *paging.ClientPageTable {
	if name == "" {
		name = "default"
	}
	if ct, ok := sim.spaces[name]; ok {
		return ct
	}
	ct := paging.NewClientPageTable(sim.kernel, sim.allocator)
	sim.spaces[name] = ct
	log.Infof("created client space %q (root %#x)", name, ct.Space().RootTable())
	return ct
}

// pages returns the step's page count, at least 1.
func (s *Step) pages() uintptr {
	if s.Pages < 1 {
		return 1
	}
	return uintptr(s.Pages)
}

// accessFlags translates the step's attribute fields.
func (s *Step) accessFlags() paging.Access {
	var flags paging.Access
	if s.Write {
		flags |= paging.AccessWrite
	}
	if s.Execute {
		flags |= paging.AccessExecute
	}
	return flags
}

// Run executes every step of the scenario.
func (sim *Simulator) Run(s *Scenario) error {
	for i, step := range s.Steps {
		if err := sim.runStep(&step); err != nil {
			return fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}
	}
	return nil
}

func (sim *Simulator) runStep(step *Step) error {
	switch step.Op {
	case "activate":
		if step.CPU < 0 || step.CPU >= sim.machine.CPUCount() {
			return fmt.Errorf("no CPU %d", step.CPU)
		}
		c := sim.machine.CPU(step.CPU)
		ct := sim.space(step.Space)
		c.DisableInterrupts()
		c.Activate(ct.Space())
		c.EnableInterrupts()
		log.Infof("cpu%d: activated space %q", step.CPU, step.Space)

	case "map":
		ct := sim.space(step.Space)
		ct.Map4k(memarch.VirtAddr(step.Addr), memarch.PhysAddr(step.Frame), step.User, step.accessFlags(), paging.CacheDefault)
		log.Infof("space %q: mapped %#x -> %#x", step.Space, step.Addr, step.Frame)

	case "unmap":
		ct := sim.space(step.Space)
		mode := paging.ModeNormal
		if step.Remap {
			mode = paging.ModeRemap
		}
		size := step.pages() * memarch.PageSize
		ct.UnmapRange(memarch.VirtAddr(step.Addr), size, mode)
		log.Infof("space %q: unmapped [%#x, %#x)", step.Space, step.Addr, step.Addr+uint64(size))

	case "shootdown":
		ct := sim.space(step.Space)
		node := &paging.ShootNode{
			Address: memarch.VirtAddr(step.Addr),
			Size:    step.pages() * memarch.PageSize,
		}
		node.ShotDown = func(n *paging.ShootNode) {
			sim.shootdowns++
			log.Infof("space %q: shootdown of [%#x, %#x) complete", step.Space, n.Address, uint64(n.Address)+uint64(n.Size))
		}
		ct.Space().SubmitShootdown(node)

	case "release":
		name := step.Space
		if name == "" {
			name = "default"
		}
		ct, ok := sim.spaces[name]
		if !ok {
			return fmt.Errorf("no space %q", name)
		}
		delete(sim.spaces, name)
		ct.Release()
		log.Infof("released space %q", name)

	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
	return nil
}

// Report logs the per-CPU hardware operation counts.
func (sim *Simulator) Report() {
	for _, m := range sim.mmus {
		log.Infof("cpu%d: %d root-pointer writes, %d TLB invalidations", m.cpu, m.rootWrites, m.invalidations)
	}
	log.Infof("%d shootdowns completed, %d page-table frames live", sim.shootdowns, sim.allocator.AllocatedFrames())
}
