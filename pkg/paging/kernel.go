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

	"github.com/Nivaturimika/managarm/pkg/memarch"
	"github.com/Nivaturimika/managarm/pkg/sync"
)

// KernelPageTable manages the kernel half of the address space. There is
// one per machine; all client root tables share its upper-half entries by
// value copy at client construction.
//
// Kernel leaf mappings are Global, so no shootdown is issued from these
// entry points; a caller changing a mapping in place must arrange TLB
// invalidation itself.
type KernelPageTable struct {
	space     *PageSpace
	allocator Allocator

	// mu serializes table walks. Acquired with interrupts disabled.
	mu sync.TicketLock
}

// NewKernelPageTable allocates a kernel root table and populates all of
// its upper-half entries, so that clients constructed later observe a
// stable kernel half.
func NewKernelPageTable(m *Machine, allocator Allocator) *KernelPageTable {
	root := allocator.Allocate()
	tbl4 := NewPageAccessor(allocator, root).PTEs()
	// Upper-half top-level entries never appear after a client space has
	// copied them, so they are all created here.
	for i := lowerHalfEntries; i < entriesPerTable; i++ {
		next := allocator.Allocate()
		tbl4[i].store(uint64(next) | PTEPresent | PTEWrite)
	}
	return &KernelPageTable{
		space:     NewPageSpace(m, root),
		allocator: allocator,
	}
}

// kernelTable is the machine-wide kernel page table installed by
// InitializeKernelTable.
var kernelTable *KernelPageTable

// InitializeKernelTable installs the global kernel page table. It must be
// called exactly once, at bring-up.
func InitializeKernelTable(kt *KernelPageTable) {
	if kernelTable != nil {
		panic("paging: kernel page table initialized twice")
	}
	kernelTable = kt
}

// KernelTable returns the global kernel page table.
func KernelTable() *KernelPageTable {
	if kernelTable == nil {
		panic("paging: kernel page table is not initialized")
	}
	return kernelTable
}

// Space returns the kernel's PageSpace.
func (kt *KernelPageTable) Space() *PageSpace {
	return kt.space
}

// Map4k installs a kernel leaf mapping. Absent intermediate tables are
// allocated zero-filled, Present|Write and never User. The leaf is marked
// Global so that kernel mappings survive address-space switches.
//
// Mapping an already mapped page is fatal.
func (kt *KernelPageTable) Map4k(addr memarch.VirtAddr, phys memarch.PhysAddr, flags Access, caching CachingMode) {
	if !addr.IsPageAligned() {
		panic(fmt.Sprintf("paging: mapping unaligned address %#x", addr))
	}
	if !phys.IsPageAligned() {
		panic(fmt.Sprintf("paging: mapping unaligned frame %#x", phys))
	}

	kt.mu.Lock()
	defer kt.mu.Unlock()

	idx4, idx3, idx2, idx1 := tableIndices(addr)
	tbl4 := NewPageAccessor(kt.allocator, kt.space.rootTable).PTEs()
	tbl3 := ensureIntermediate(kt.allocator, tbl4, idx4, false)
	tbl2 := ensureIntermediate(kt.allocator, tbl3, idx3, false)
	tbl1 := ensureIntermediate(kt.allocator, tbl2, idx2, false)

	entry := &tbl1[idx1]
	if entry.Load()&PTEPresent != 0 {
		panic(fmt.Sprintf("paging: remapping kernel address %#x", addr))
	}
	entry.store(uint64(phys) | leafAttributes(flags, caching) | PTEGlobal)
}

// Unmap4k removes a kernel leaf mapping and returns the frame that was
// mapped. Every level of the walk must be present. Intermediate tables
// are not freed; the kernel half never shrinks.
func (kt *KernelPageTable) Unmap4k(addr memarch.VirtAddr) memarch.PhysAddr {
	if !addr.IsPageAligned() {
		panic(fmt.Sprintf("paging: unmapping unaligned address %#x", addr))
	}

	kt.mu.Lock()
	defer kt.mu.Unlock()

	idx4, idx3, idx2, idx1 := tableIndices(addr)
	tbl4 := NewPageAccessor(kt.allocator, kt.space.rootTable).PTEs()
	tbl3 := descend(kt.allocator, tbl4, idx4)
	tbl2 := descend(kt.allocator, tbl3, idx3)
	tbl1 := descend(kt.allocator, tbl2, idx2)

	entry := &tbl1[idx1]
	v := entry.Load()
	if v&PTEPresent == 0 {
		panic(fmt.Sprintf("paging: unmapping kernel address %#x that is not mapped", addr))
	}
	entry.store(v &^ PTEPresent)
	return memarch.PhysAddr(v & PTEAddressMask)
}
