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

// Package memarch defines the address types and page-granularity
// constants shared by the memory-management packages.
package memarch

// Page constants for the 4 KiB base translation granule.
const (
	// PageShift is log2(PageSize).
	PageShift = 12

	// PageSize is the size of the smallest translation granule.
	PageSize = 1 << PageShift
)

// PhysAddr is the address of a byte of physical memory.
type PhysAddr uintptr

// VirtAddr is a virtual address.
type VirtAddr uintptr

// RoundDown returns the address rounded down to the nearest page boundary.
func (v VirtAddr) RoundDown() VirtAddr {
	return v &^ (PageSize - 1)
}

// RoundUp returns the address rounded up to the nearest page boundary. ok is
// true iff rounding up did not wrap around.
func (v VirtAddr) RoundUp() (addr VirtAddr, ok bool) {
	addr = (v + PageSize - 1).RoundDown()
	ok = addr >= v
	return
}

// PageOffset returns the offset of v into its containing page.
func (v VirtAddr) PageOffset() uintptr {
	return uintptr(v & (PageSize - 1))
}

// IsPageAligned returns true if v is aligned to a page boundary.
func (v VirtAddr) IsPageAligned() bool {
	return v.PageOffset() == 0
}

// PageOffset returns the offset of p into its containing frame.
func (p PhysAddr) PageOffset() uintptr {
	return uintptr(p & (PageSize - 1))
}

// IsPageAligned returns true if p is aligned to a frame boundary.
func (p PhysAddr) IsPageAligned() bool {
	return p.PageOffset() == 0
}
