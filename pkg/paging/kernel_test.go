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
	"testing"

	"github.com/Nivaturimika/managarm/pkg/memarch"
)

const kernelTestAddr = memarch.VirtAddr(0xffffffff81200000)

func TestKernelMapWalk(t *testing.T) {
	s := newTestSetup(t, 1, false)

	s.kernel.Map4k(kernelTestAddr, 0x5000, AccessWrite, CacheDefault)

	v := walkLeaf(s.allocator, s.kernel.space, kernelTestAddr)
	if v&PTEPresent == 0 {
		t.Fatal("leaf not present after Map4k")
	}
	if got := memarch.PhysAddr(v & PTEAddressMask); got != 0x5000 {
		t.Errorf("leaf frame: got %#x, want 0x5000", got)
	}
	if v&PTEGlobal == 0 {
		t.Error("kernel leaf must be Global")
	}
	if v&PTEUser != 0 {
		t.Error("kernel leaf must not be User")
	}
	if v&PTEWrite == 0 {
		t.Error("leaf should be writable")
	}
	if v&PTENoExecute == 0 {
		t.Error("leaf without AccessExecute should be no-execute")
	}
}

func TestKernelIntermediatesNeverUser(t *testing.T) {
	s := newTestSetup(t, 1, false)
	s.kernel.Map4k(kernelTestAddr, 0x5000, AccessWrite, CacheDefault)

	idx4, idx3, idx2, _ := tableIndices(kernelTestAddr)
	tbl4 := NewPageAccessor(s.allocator, s.kernel.space.rootTable).PTEs()
	if tbl4[idx4].User() {
		t.Error("root entry has User set")
	}
	tbl3 := descend(s.allocator, tbl4, idx4)
	if tbl3[idx3].User() {
		t.Error("level-3 entry has User set")
	}
	tbl2 := descend(s.allocator, tbl3, idx3)
	if tbl2[idx2].User() {
		t.Error("level-2 entry has User set")
	}
}

func TestKernelUnmapReturnsFrame(t *testing.T) {
	s := newTestSetup(t, 1, false)
	s.kernel.Map4k(kernelTestAddr, 0x7000, AccessWrite, CacheDefault)

	if got := s.kernel.Unmap4k(kernelTestAddr); got != 0x7000 {
		t.Errorf("Unmap4k: got frame %#x, want 0x7000", got)
	}
	if v := walkLeaf(s.allocator, s.kernel.space, kernelTestAddr); v&PTEPresent != 0 {
		t.Error("leaf still present after Unmap4k")
	}

	// The slot is reusable after the unmap.
	s.kernel.Map4k(kernelTestAddr, 0x8000, 0, CacheDefault)
	if got := s.kernel.Unmap4k(kernelTestAddr); got != 0x8000 {
		t.Errorf("remapped Unmap4k: got frame %#x, want 0x8000", got)
	}
}

func TestKernelDoubleMapPanics(t *testing.T) {
	s := newTestSetup(t, 1, false)
	s.kernel.Map4k(kernelTestAddr, 0x5000, AccessWrite, CacheDefault)
	mustPanic(t, "double map", func() {
		s.kernel.Map4k(kernelTestAddr, 0x6000, AccessWrite, CacheDefault)
	})
}

func TestKernelUnmapAbsentPanics(t *testing.T) {
	s := newTestSetup(t, 1, false)
	mustPanic(t, "unmap of absent mapping", func() {
		s.kernel.Unmap4k(kernelTestAddr)
	})
}

func TestKernelMapUnalignedPanics(t *testing.T) {
	s := newTestSetup(t, 1, false)
	mustPanic(t, "unaligned address", func() {
		s.kernel.Map4k(kernelTestAddr+1, 0x5000, 0, CacheDefault)
	})
	mustPanic(t, "unaligned frame", func() {
		s.kernel.Map4k(kernelTestAddr, 0x5001, 0, CacheDefault)
	})
}

func TestKernelCachingModes(t *testing.T) {
	s := newTestSetup(t, 1, false)
	for _, tc := range []struct {
		caching CachingMode
		want    uint64
	}{
		{CacheDefault, 0},
		{CacheWriteBack, 0},
		{CacheWriteThrough, PTEWriteThrough},
		{CacheWriteCombine, PTEPat | PTEWriteThrough},
		{CacheUncached, PTECacheDisable},
	} {
		s.kernel.Map4k(kernelTestAddr, 0x5000, AccessWrite, tc.caching)
		v := walkLeaf(s.allocator, s.kernel.space, kernelTestAddr)
		const cacheBits = PTEWriteThrough | PTECacheDisable | PTEPat
		if got := v & cacheBits; got != tc.want {
			t.Errorf("caching %d: cache bits %#x, want %#x", tc.caching, got, tc.want)
		}
		s.kernel.Unmap4k(kernelTestAddr)
	}
}
