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

// Allocator is the physical allocator backing page-table frames, paired
// with the identity-window lookup used to touch them.
type Allocator interface {
	// Allocate returns a zeroed, page-aligned frame. It must be callable
	// with interrupts disabled.
	Allocate() memarch.PhysAddr

	// Free returns a frame previously returned by Allocate.
	Free(frame memarch.PhysAddr)

	// LookupPTEs returns the identity-window view of a page-table frame.
	LookupPTEs(frame memarch.PhysAddr) *PTEs
}

// RuntimeAllocator is an Allocator that draws page-table frames from the
// Go heap. It backs hosted configurations and tests.
type RuntimeAllocator struct {
	mu sync.Mutex

	// next is the synthetic frame address handed out by the next
	// Allocate.
	next memarch.PhysAddr

	// used maps live frames to their backing memory.
	used map[memarch.PhysAddr]*PTEs

	// pool holds freed frames for reuse.
	pool []memarch.PhysAddr
}

// runtimeAllocatorBase is the first synthetic frame address handed out.
// Low frames are left unused so that a zero PhysAddr stays recognizable as
// "no frame".
const runtimeAllocatorBase = memarch.PhysAddr(0x100000)

// NewRuntimeAllocator returns an empty RuntimeAllocator.
func NewRuntimeAllocator() *RuntimeAllocator {
	return &RuntimeAllocator{
		next: runtimeAllocatorBase,
		used: make(map[memarch.PhysAddr]*PTEs),
	}
}

// Allocate implements Allocator.Allocate.
func (a *RuntimeAllocator) Allocate() memarch.PhysAddr {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.pool); n > 0 {
		frame := a.pool[n-1]
		a.pool = a.pool[:n-1]
		a.used[frame] = new(PTEs)
		return frame
	}

	frame := a.next
	if frame >= PhysicalWindowLimit {
		panic("paging: runtime allocator exhausted the identity window")
	}
	a.next += memarch.PageSize
	a.used[frame] = new(PTEs)
	return frame
}

// Free implements Allocator.Free.
func (a *RuntimeAllocator) Free(frame memarch.PhysAddr) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.used[frame]; !ok {
		panic(fmt.Sprintf("paging: freeing unallocated frame %#x", frame))
	}
	delete(a.used, frame)
	a.pool = append(a.pool, frame)
}

// LookupPTEs implements Allocator.LookupPTEs.
func (a *RuntimeAllocator) LookupPTEs(frame memarch.PhysAddr) *PTEs {
	a.mu.Lock()
	defer a.mu.Unlock()

	ptes, ok := a.used[frame]
	if !ok {
		panic(fmt.Sprintf("paging: looking up unallocated frame %#x", frame))
	}
	return ptes
}

// AllocatedFrames returns the number of live frames.
func (a *RuntimeAllocator) AllocatedFrames() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.used)
}
