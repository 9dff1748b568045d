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
	"testing"

	"github.com/Nivaturimika/managarm/pkg/memarch"
)

// recordMMU records every hardware operation so tests can assert exactly
// what would have reached the TLB.
type recordMMU struct {
	rootWrites []uint64
	ops        []string
}

func (m *recordMMU) SetRootPointer(value uint64) {
	m.rootWrites = append(m.rootWrites, value)
	m.ops = append(m.ops, fmt.Sprintf("root=%#x", value))
}

func (m *recordMMU) InvalidatePage(addr memarch.VirtAddr) {
	m.ops = append(m.ops, fmt.Sprintf("invlpg(%#x)", addr))
}

func (m *recordMMU) InvalidatePagePCID(pcid int, addr memarch.VirtAddr) {
	m.ops = append(m.ops, fmt.Sprintf("invpcid(%d, %#x)", pcid, addr))
}

func (m *recordMMU) InvalidatePCID(pcid int) {
	m.ops = append(m.ops, fmt.Sprintf("invpcid(%d)", pcid))
}

// countOps returns how many recorded operations equal op.
func (m *recordMMU) countOps(op string) int {
	n := 0
	for _, o := range m.ops {
		if o == op {
			n++
		}
	}
	return n
}

// recordIPI counts shootdown requests without delivering them, so tests
// can stage delivery explicitly via HandleShootdownIPI.
type recordIPI struct {
	sent int
}

func (i *recordIPI) SendShootdown() {
	i.sent++
}

// testSetup is one hosted machine with a kernel table and recording
// hardware.
type testSetup struct {
	machine   *Machine
	allocator *RuntimeAllocator
	kernel    *KernelPageTable
	mmus      []*recordMMU
	ipi       *recordIPI
}

// newTestSetup brings up a machine whose IPIs are recorded, not
// delivered.
func newTestSetup(t *testing.T, cpus int, havePCIDs bool) *testSetup {
	t.Helper()
	s := &testSetup{
		allocator: NewRuntimeAllocator(),
		ipi:       &recordIPI{},
	}
	s.machine = NewMachine(MachineConfig{
		CPUCount:  cpus,
		HavePCIDs: havePCIDs,
		IPI:       s.ipi,
		NewMMU: func(cpu int) MMU {
			m := &recordMMU{}
			s.mmus = append(s.mmus, m)
			return m
		},
	})
	s.kernel = NewKernelPageTable(s.machine, s.allocator)
	return s
}

// activate switches a CPU to a space with the required interrupt
// discipline.
func (s *testSetup) activate(cpu int, space *PageSpace) {
	c := s.machine.CPU(cpu)
	c.DisableInterrupts()
	c.Activate(space)
	c.EnableInterrupts()
}

// numBindings reads the space's binding count.
func numBindings(s *PageSpace) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.numBindings
}

// queueSequences returns the sequences of the space's queued nodes, in
// queue order.
func queueSequences(s *PageSpace) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var seqs []uint64
	for e := s.shootQueue.Front(); e != nil; e = e.Next() {
		seqs = append(seqs, e.(*ShootNode).sequence)
	}
	return seqs
}

// walkLeaf walks the space's tables and returns the leaf entry value for
// addr, or 0 if any level is absent.
func walkLeaf(a Allocator, s *PageSpace, addr memarch.VirtAddr) uint64 {
	idx4, idx3, idx2, idx1 := tableIndices(addr)
	tbl4 := NewPageAccessor(a, s.rootTable).PTEs()
	tbl3 := tryDescend(a, tbl4, idx4)
	if tbl3 == nil {
		return 0
	}
	tbl2 := tryDescend(a, tbl3, idx3)
	if tbl2 == nil {
		return 0
	}
	tbl1 := tryDescend(a, tbl2, idx2)
	if tbl1 == nil {
		return 0
	}
	return tbl1[idx1].Load()
}

// composeAddr builds a virtual address from its four table indices.
func composeAddr(idx4, idx3, idx2, idx1 int) memarch.VirtAddr {
	return memarch.VirtAddr(uintptr(idx4)<<39 | uintptr(idx3)<<30 | uintptr(idx2)<<21 | uintptr(idx1)<<12)
}

// mustPanic asserts that fn panics.
func mustPanic(t *testing.T, what string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s: expected panic", what)
		}
	}()
	fn()
}
