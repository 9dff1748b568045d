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

package paging

import (
	"fmt"

	"github.com/Nivaturimika/managarm/pkg/atomicbitops"
	"github.com/Nivaturimika/managarm/pkg/memarch"
)

// MMU is the per-CPU hardware interface: the root-pointer register and the
// TLB invalidation instructions.
type MMU interface {
	// SetRootPointer programs the MMU root-pointer register. The low
	// bits carry the context tag; rootPointerNoFlush asks the hardware
	// to preserve TLB entries of other tags.
	SetRootPointer(value uint64)

	// InvalidatePage drops the TLB entry for one page, regardless of tag.
	InvalidatePage(addr memarch.VirtAddr)

	// InvalidatePagePCID drops the TLB entry for one page under the
	// given context tag.
	InvalidatePagePCID(pcid int, addr memarch.VirtAddr)

	// InvalidatePCID drops all TLB entries under the given context tag.
	InvalidatePCID(pcid int)
}

// nopMMU records the root pointer and discards invalidations. It stands in
// for real hardware in hosted configurations.
type nopMMU struct {
	rootPointer uint64
}

func (m *nopMMU) SetRootPointer(value uint64)              { m.rootPointer = value }
func (m *nopMMU) InvalidatePage(memarch.VirtAddr)          {}
func (m *nopMMU) InvalidatePagePCID(int, memarch.VirtAddr) {}
func (m *nopMMU) InvalidatePCID(int)                       {}

// IPI is the transport used to request a shootdown scan on all CPUs.
// Dispatch is fire-and-forget; delivery causes each CPU to run
// (*CPU).HandleShootdownIPI at its earliest safe point.
type IPI interface {
	SendShootdown()
}

// MachineConfig configures a Machine.
type MachineConfig struct {
	// CPUCount is the number of CPUs; at least 1.
	CPUCount int

	// HavePCIDs enables hardware context tags.
	HavePCIDs bool

	// IPI delivers shootdown requests. If nil, requests are delivered
	// synchronously to every CPU of this machine.
	IPI IPI

	// NewMMU constructs the hardware interface of one CPU. If nil, a
	// recording no-op is used.
	NewMMU func(cpu int) MMU
}

// A Machine is the set of CPUs sharing physical memory and the IPI
// transport. Per-CPU paging state hangs off its CPUs.
type Machine struct {
	cpus      []*CPU
	havePCIDs bool
	ipi       IPI
}

// NewMachine brings up per-CPU paging state. Each binding's context tag is
// assigned here, exactly once: distinct tags 1..N on a PCID-capable CPU,
// tag 0 everywhere otherwise.
func NewMachine(cfg MachineConfig) *Machine {
	if cfg.CPUCount < 1 {
		panic("paging: machine needs at least one CPU")
	}
	m := &Machine{
		havePCIDs: cfg.HavePCIDs,
		ipi:       cfg.IPI,
	}
	for i := 0; i < cfg.CPUCount; i++ {
		var mmu MMU
		if cfg.NewMMU != nil {
			mmu = cfg.NewMMU(i)
		} else {
			mmu = &nopMMU{}
		}
		c := &CPU{
			index:     i,
			machine:   m,
			havePCIDs: cfg.HavePCIDs,
			mmu:       mmu,
		}
		c.pageContext.nextStamp = 1
		for j := range c.pcidBindings {
			c.pcidBindings[j].cpu = c
			if cfg.HavePCIDs {
				c.pcidBindings[j].setupPCID(j + 1)
			}
		}
		m.cpus = append(m.cpus, c)
	}
	return m
}

// CPUCount returns the number of CPUs.
func (m *Machine) CPUCount() int {
	return len(m.cpus)
}

// CPU returns the CPU with the given index.
func (m *Machine) CPU(index int) *CPU {
	return m.cpus[index]
}

// HavePCIDs returns whether hardware context tags are enabled.
func (m *Machine) HavePCIDs() bool {
	return m.havePCIDs
}

// sendShootdownIPI asks every CPU to scan for pending shootdowns.
func (m *Machine) sendShootdownIPI() {
	if m.ipi != nil {
		m.ipi.SendShootdown()
		return
	}
	for _, c := range m.cpus {
		c.HandleShootdownIPI()
	}
}

// A CPU holds the per-CPU paging state: the binding array, the LRU clock,
// and the hardware interface. It is accessed only with interrupts
// disabled, except where noted.
type CPU struct {
	index     int
	machine   *Machine
	havePCIDs bool
	mmu       MMU

	// irqsDisabled models the CPU's interrupt mask.
	irqsDisabled atomicbitops.Bool

	// pageContext is the LRU clock and primary-binding pointer.
	pageContext PageContext

	// pcidBindings is the fixed array of context-tag slots.
	pcidBindings [maxPCIDCount]PageBinding
}

// Index returns the CPU's index on its machine.
func (c *CPU) Index() int {
	return c.index
}

// Binding returns the binding in the given slot.
func (c *CPU) Binding(slot int) *PageBinding {
	return &c.pcidBindings[slot]
}

// PrimaryBinding returns the binding currently programmed into the MMU, or
// nil before the first activation.
func (c *CPU) PrimaryBinding() *PageBinding {
	return c.pageContext.primaryBinding
}

// DisableInterrupts masks interrupts on c, returning true if they were
// previously enabled.
func (c *CPU) DisableInterrupts() bool {
	return !c.irqsDisabled.Swap(true)
}

// EnableInterrupts unmasks interrupts on c.
func (c *CPU) EnableInterrupts() {
	c.irqsDisabled.Store(false)
}

// InterruptsEnabled returns whether interrupts are unmasked on c.
func (c *CPU) InterruptsEnabled() bool {
	return !c.irqsDisabled.Load()
}

func (c *CPU) assertInterruptsDisabled() {
	if c.InterruptsEnabled() {
		panic(fmt.Sprintf("paging: CPU %d: interrupts must be disabled", c.index))
	}
}

// HandleShootdownIPI runs the shootdown scan on every binding of c. It is
// the entry point invoked when the shootdown IPI is delivered.
func (c *CPU) HandleShootdownIPI() {
	wasEnabled := c.DisableInterrupts()
	for i := range c.pcidBindings {
		c.pcidBindings[i].Shootdown()
	}
	if wasEnabled {
		c.EnableInterrupts()
	}
}

// Activate switches c to the given address space.
//
// A binding already bound to space is reused to preserve warm TLB state.
// Otherwise the least recently primary binding is evicted and rebound (on
// a CPU without PCIDs, only the first binding is ever used).
//
// Preconditions: interrupts are disabled on c.
func (c *CPU) Activate(space *PageSpace) {
	c.assertInterruptsDisabled()

	k := 0
	for i := 0; i < maxPCIDCount; i++ {
		// If the space is currently bound, always keep that binding.
		if bound := c.pcidBindings[i].grab(); bound != nil {
			same := bound == space
			bound.DecRef()
			if same {
				c.pcidBindings[i].MakePrimary()
				return
			}
		}

		// If PCIDs are not supported, we only use the first binding.
		if !c.havePCIDs {
			break
		}

		// Otherwise, prefer the LRU binding.
		if c.pcidBindings[i].primaryStamp < c.pcidBindings[k].primaryStamp {
			k = i
		}
	}

	c.pcidBindings[k].Rebind(space)
	c.pcidBindings[k].MakePrimary()
}
