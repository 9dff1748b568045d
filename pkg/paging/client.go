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

	"github.com/Nivaturimika/managarm/pkg/log"
	"github.com/Nivaturimika/managarm/pkg/memarch"
	"github.com/Nivaturimika/managarm/pkg/sync"
)

// PageMode selects how UnmapRange treats absent entries.
type PageMode int

const (
	// ModeNormal requires every page of the range to be mapped.
	ModeNormal PageMode = iota

	// ModeRemap silently skips absent intermediates and leaves.
	ModeRemap
)

// ClientPageTable manages the lower half of one user address space. The
// upper half is shared with the kernel: the root's upper-half entries are
// copied from the kernel root at construction and must not change over the
// client's lifetime.
//
// After removing translations, callers must submit a shootdown through
// Space() before reusing the covered frames.
type ClientPageTable struct {
	space     *PageSpace
	allocator Allocator
	kernel    *KernelPageTable

	// mu serializes table walks. Acquired with interrupts disabled.
	mu sync.TicketLock
}

// NewClientPageTable allocates a root table whose lower half is unmapped
// and whose upper half aliases the kernel's.
func NewClientPageTable(kernel *KernelPageTable, allocator Allocator) *ClientPageTable {
	root := allocator.Allocate()
	tbl4 := NewPageAccessor(allocator, root).PTEs()

	// Initialize the bottom half to unmapped memory.
	for i := 0; i < lowerHalfEntries; i++ {
		tbl4[i].store(0)
	}

	// Share the top half with the kernel.
	kernelTbl := NewPageAccessor(allocator, kernel.space.rootTable).PTEs()
	for i := lowerHalfEntries; i < entriesPerTable; i++ {
		v := kernelTbl[i].Load()
		if v&PTEPresent == 0 {
			panic(fmt.Sprintf("paging: kernel upper-half entry %d is not present", i))
		}
		tbl4[i].store(v)
	}

	return &ClientPageTable{
		space:     NewPageSpace(kernel.space.machine, root),
		allocator: allocator,
		kernel:    kernel,
	}
}

// Space returns the client's PageSpace.
func (pt *ClientPageTable) Space() *PageSpace {
	return pt.space
}

// Map4k installs a leaf mapping. Absent intermediate tables are allocated
// zero-filled; they get the User bit iff userVisible is true, and that
// choice is immutable for the intermediate's lifetime.
//
// Mapping an already mapped page, or mapping outside the lower half, is
// fatal.
func (pt *ClientPageTable) Map4k(addr memarch.VirtAddr, phys memarch.PhysAddr, userVisible bool, flags Access, caching CachingMode) {
	if !addr.IsPageAligned() {
		panic(fmt.Sprintf("paging: mapping unaligned address %#x", addr))
	}
	if !phys.IsPageAligned() {
		panic(fmt.Sprintf("paging: mapping unaligned frame %#x", phys))
	}

	pt.mu.Lock()
	defer pt.mu.Unlock()

	idx4, idx3, idx2, idx1 := tableIndices(addr)
	if idx4 >= lowerHalfEntries {
		panic(fmt.Sprintf("paging: client mapping of kernel-half address %#x", addr))
	}
	tbl4 := NewPageAccessor(pt.allocator, pt.space.rootTable).PTEs()
	tbl3 := ensureIntermediate(pt.allocator, tbl4, idx4, userVisible)
	tbl2 := ensureIntermediate(pt.allocator, tbl3, idx3, userVisible)
	tbl1 := ensureIntermediate(pt.allocator, tbl2, idx2, userVisible)

	entry := &tbl1[idx1]
	if entry.Load()&PTEPresent != 0 {
		panic(fmt.Sprintf("paging: remapping client address %#x", addr))
	}
	v := uint64(phys) | leafAttributes(flags, caching)
	if userVisible {
		v |= PTEUser
	}
	entry.store(v)
}

// UnmapRange clears the Present bit on every leaf of [addr, addr+size).
// In ModeNormal, every page must currently be mapped. In ModeRemap, pages
// whose intermediates or leaves are absent are skipped silently.
//
// The freed frames are not returned; the caller already knows them.
func (pt *ClientPageTable) UnmapRange(addr memarch.VirtAddr, size uintptr, mode PageMode) {
	if !addr.IsPageAligned() {
		panic(fmt.Sprintf("paging: unmapping unaligned address %#x", addr))
	}
	if size%memarch.PageSize != 0 {
		panic(fmt.Sprintf("paging: unmapping unaligned size %#x", size))
	}

	pt.mu.Lock()
	defer pt.mu.Unlock()

	for progress := uintptr(0); progress < size; progress += memarch.PageSize {
		page := addr + memarch.VirtAddr(progress)
		idx4, idx3, idx2, idx1 := tableIndices(page)
		if idx4 >= lowerHalfEntries {
			panic(fmt.Sprintf("paging: client unmapping of kernel-half address %#x", page))
		}

		tbl4 := NewPageAccessor(pt.allocator, pt.space.rootTable).PTEs()

		var tbl3, tbl2, tbl1 *PTEs
		if mode == ModeRemap {
			if tbl3 = tryDescend(pt.allocator, tbl4, idx4); tbl3 == nil {
				continue
			}
			if tbl2 = tryDescend(pt.allocator, tbl3, idx3); tbl2 == nil {
				continue
			}
			if tbl1 = tryDescend(pt.allocator, tbl2, idx2); tbl1 == nil {
				continue
			}
			if tbl1[idx1].Load()&PTEPresent == 0 {
				continue
			}
		} else {
			tbl3 = descend(pt.allocator, tbl4, idx4)
			tbl2 = descend(pt.allocator, tbl3, idx3)
			tbl1 = descend(pt.allocator, tbl2, idx2)
			if tbl1[idx1].Load()&PTEPresent == 0 {
				panic(fmt.Sprintf("paging: unmapping client address %#x that is not mapped", page))
			}
		}

		entry := &tbl1[idx1]
		entry.store(entry.Load() &^ PTEPresent)
	}
}

// IsMapped reports whether a leaf is present for addr. It never panics on
// absent entries.
func (pt *ClientPageTable) IsMapped(addr memarch.VirtAddr) bool {
	if !addr.IsPageAligned() {
		panic(fmt.Sprintf("paging: querying unaligned address %#x", addr))
	}

	pt.mu.Lock()
	defer pt.mu.Unlock()

	idx4, idx3, idx2, idx1 := tableIndices(addr)
	tbl4 := NewPageAccessor(pt.allocator, pt.space.rootTable).PTEs()
	tbl3 := tryDescend(pt.allocator, tbl4, idx4)
	if tbl3 == nil {
		return false
	}
	tbl2 := tryDescend(pt.allocator, tbl3, idx3)
	if tbl2 == nil {
		return false
	}
	tbl1 := tryDescend(pt.allocator, tbl2, idx2)
	if tbl1 == nil {
		return false
	}
	return tbl1[idx1].Load()&PTEPresent != 0
}

// Release drops the construction reference on the client's space. When
// that is the last real reference, the space can no longer be grabbed
// through bindings' weak references and destroy runs; bound CPUs retire
// their context tags lazily. The space's page-table frames are not
// returned to the allocator; a warning is logged instead.
func (pt *ClientPageTable) Release() {
	pt.space.DecRefWithDestructor(pt.destroy)
}

// destroy runs when the last reference on the client's space is dropped.
func (pt *ClientPageTable) destroy() {
	// The upper half must not have diverged from the kernel root over
	// the client's lifetime.
	tbl4 := NewPageAccessor(pt.allocator, pt.space.rootTable).PTEs()
	kernelTbl := NewPageAccessor(pt.allocator, pt.kernel.space.rootTable).PTEs()
	for i := lowerHalfEntries; i < entriesPerTable; i++ {
		if tbl4[i].Load() != kernelTbl[i].Load() {
			panic(fmt.Sprintf("paging: kernel upper-half entry %d diverged over a client's lifetime", i))
		}
	}

	// TODO: Walk the lower half and return intermediate frames to the
	// allocator once the lifetime contract for them is settled.
	log.Warningf("paging: client page table released without freeing its page-table frames")
}
