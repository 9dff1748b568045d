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
	"sync/atomic"

	"github.com/Nivaturimika/managarm/pkg/memarch"
)

// Hardware-defined attribute bits of a page-table entry. The layout is
// stable; external code may rely on it.
const (
	// PTEPresent marks the translation valid.
	PTEPresent = uint64(1) << 0

	// PTEWrite permits stores through the translation.
	PTEWrite = uint64(1) << 1

	// PTEUser permits access from unprivileged mode.
	PTEUser = uint64(1) << 2

	// PTEWriteThrough selects write-through caching (cache control bit A).
	PTEWriteThrough = uint64(1) << 3

	// PTECacheDisable disables caching for the page.
	PTECacheDisable = uint64(1) << 4

	// PTEPat is cache control bit B, honored at the leaf level.
	PTEPat = uint64(1) << 7

	// PTEGlobal pins the translation in the TLB across context switches.
	PTEGlobal = uint64(1) << 8

	// PTENoExecute forbids instruction fetch through the translation.
	PTENoExecute = uint64(1) << 63

	// PTEAddressMask extracts the physical address bits of an entry.
	PTEAddressMask = uint64(0x000ffffffffff000)
)

// Access enumerates the access rights of a mapping.
type Access uint32

const (
	// AccessWrite permits stores.
	AccessWrite Access = 1 << iota

	// AccessExecute permits instruction fetch. Its absence sets
	// PTENoExecute on the leaf.
	AccessExecute
)

// CachingMode selects the cache behavior encoded into a leaf entry.
type CachingMode uint8

const (
	// CacheDefault leaves the write-back default in place.
	CacheDefault CachingMode = iota

	// CacheUncached disables caching entirely.
	CacheUncached

	// CacheWriteCombine enables write combining.
	CacheWriteCombine

	// CacheWriteThrough writes through the cache.
	CacheWriteThrough

	// CacheWriteBack is the ordinary write-back mode.
	CacheWriteBack
)

// A PTE is a single page-table entry of any level.
//
// Entries are always accessed atomically: the MMU walks tables
// concurrently with updates made by other CPUs.
type PTE uint64

// PTEs is one page-table frame.
type PTEs [entriesPerTable]PTE

// Load returns the entry's current value.
//
//go:nosplit
func (p *PTE) Load() uint64 {
	return atomic.LoadUint64((*uint64)(p))
}

// store sets the entry's value.
//
//go:nosplit
func (p *PTE) store(v uint64) {
	atomic.StoreUint64((*uint64)(p), v)
}

// Present returns true if the translation is valid.
func (p *PTE) Present() bool {
	return p.Load()&PTEPresent != 0
}

// Address returns the physical address held by the entry.
func (p *PTE) Address() memarch.PhysAddr {
	return memarch.PhysAddr(p.Load() & PTEAddressMask)
}

// Writable returns true if the entry permits stores.
func (p *PTE) Writable() bool {
	return p.Load()&PTEWrite != 0
}

// User returns true if the entry permits unprivileged access.
func (p *PTE) User() bool {
	return p.Load()&PTEUser != 0
}

// Global returns true if the entry is TLB-pinned across context switches.
func (p *PTE) Global() bool {
	return p.Load()&PTEGlobal != 0
}

// NoExecute returns true if the entry forbids instruction fetch.
func (p *PTE) NoExecute() bool {
	return p.Load()&PTENoExecute != 0
}

// leafAttributes encodes access rights and caching mode into the attribute
// bits of a leaf entry. PTEPresent is always included.
func leafAttributes(flags Access, caching CachingMode) uint64 {
	v := PTEPresent
	if flags&AccessWrite != 0 {
		v |= PTEWrite
	}
	if flags&AccessExecute == 0 {
		v |= PTENoExecute
	}
	switch caching {
	case CacheWriteThrough:
		v |= PTEWriteThrough
	case CacheWriteCombine:
		v |= PTEPat | PTEWriteThrough
	case CacheUncached:
		v |= PTECacheDisable
	case CacheDefault, CacheWriteBack:
		// Write-back is the hardware default; no bits to set.
	default:
		panic("paging: invalid caching mode")
	}
	return v
}
