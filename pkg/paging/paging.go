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

// Package paging implements four-level page tables and the cross-CPU TLB
// shootdown protocol that keeps them coherent.
//
// An address space is represented by a PageSpace, which owns the root table
// frame and the shootdown bookkeeping. The kernel half of the address space
// is managed by the KernelPageTable singleton; each user address space has a
// ClientPageTable whose root shares the kernel's upper-half entries.
//
// Each CPU owns a small, fixed array of PageBindings. A binding associates
// one hardware context tag (PCID) with one address space, so that TLB
// entries of recently used spaces survive context switches. Bindings are
// recycled with an LRU clock; see (*CPU).Activate.
//
// PTE mutations that remove translations must be followed by a shootdown:
// the caller submits a ShootNode via (*PageSpace).SubmitShootdown and may
// reuse the covered frames once the node's ShotDown callback has fired.
package paging

import (
	"github.com/Nivaturimika/managarm/pkg/memarch"
)

const (
	// entriesPerTable is the number of entries in one table frame.
	entriesPerTable = 512

	// lowerHalfEntries is the number of root entries covering the lower,
	// per-client half of the address space.
	lowerHalfEntries = entriesPerTable / 2

	// maxPCIDCount is the number of PageBindings per CPU.
	maxPCIDCount = 8

	// rootPointerNoFlush instructs the MMU to preserve TLB entries of
	// other context tags when the root pointer is rewritten.
	rootPointerNoFlush = uint64(1) << 63
)

// tableIndices splits a virtual address into its four table indices, from
// the root level down.
func tableIndices(addr memarch.VirtAddr) (idx4, idx3, idx2, idx1 int) {
	idx4 = int((addr >> 39) & 0x1ff)
	idx3 = int((addr >> 30) & 0x1ff)
	idx2 = int((addr >> 21) & 0x1ff)
	idx1 = int((addr >> 12) & 0x1ff)
	return
}
