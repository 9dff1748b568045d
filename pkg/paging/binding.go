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

	"github.com/Nivaturimika/managarm/pkg/ilist"
	"github.com/Nivaturimika/managarm/pkg/memarch"
	"github.com/Nivaturimika/managarm/pkg/refs"
)

// PageContext is the per-CPU paging context: the LRU clock for context
// tags and the pointer to the binding currently reflected in the MMU.
type PageContext struct {
	// nextStamp is the timestamp source for the LRU mechanism of PCIDs.
	nextStamp uint64

	// primaryBinding is the currently active binding.
	primaryBinding *PageBinding
}

// A PageBinding is one context-tag slot of one CPU. It associates the slot
// with an address space and tracks how far this CPU has caught up with the
// space's shoot queue.
//
// All methods require interrupts to be disabled on the owning CPU.
type PageBinding struct {
	// cpu owns this binding.
	cpu *CPU

	// pcid is the hardware context tag, assigned exactly once at CPU
	// bring-up. 0 means "no PCID".
	pcid int

	// boundSpace weakly refers to the bound space, or is nil if the
	// binding is unattached.
	boundSpace *refs.WeakRef

	// wasRebound forces the next MakePrimary to rewrite the root
	// pointer even if this binding is already primary.
	wasRebound bool

	// primaryStamp is the LRU timestamp of the last MakePrimary.
	primaryStamp uint64

	// alreadyShotSequence is the last shoot sequence of the bound space
	// that this binding has caught up to.
	alreadyShotSequence uint64
}

// setupPCID assigns the binding's context tag. Called once at bring-up.
func (b *PageBinding) setupPCID(pcid int) {
	if b.pcid != 0 {
		panic("paging: PCID assigned twice")
	}
	b.pcid = pcid
}

// PCID returns the binding's context tag.
func (b *PageBinding) PCID() int {
	return b.pcid
}

// PrimaryStamp returns the LRU timestamp of the last MakePrimary.
func (b *PageBinding) PrimaryStamp() uint64 {
	return b.primaryStamp
}

// BoundSpace returns a real reference to the bound space, or nil if the
// binding is unattached or the space has died. The caller must DecRef a
// non-nil result.
func (b *PageBinding) BoundSpace() *PageSpace {
	return b.grab()
}

// grab upgrades the weak reference. The caller must DecRef a non-nil
// result.
func (b *PageBinding) grab() *PageSpace {
	if b.boundSpace == nil {
		return nil
	}
	rc := b.boundSpace.Get()
	if rc == nil {
		return nil
	}
	return rc.(*PageSpace)
}

// MakePrimary programs the binding into the MMU root-pointer register,
// unless it is already primary and was not rebound since. The binding
// becomes the CPU's primary binding and its LRU stamp is refreshed.
//
// Preconditions: interrupts are disabled; the bound space is alive.
func (b *PageBinding) MakePrimary() {
	b.cpu.assertInterruptsDisabled()
	if !b.cpu.havePCIDs && b.pcid != 0 {
		panic("paging: context tag on a CPU without PCID support")
	}
	ctx := &b.cpu.pageContext

	// If we are the primary binding, we might be able to avoid
	// rewriting the root pointer.
	if b.wasRebound || ctx.primaryBinding != b {
		space := b.grab()
		if space == nil {
			panic("paging: MakePrimary on a binding without a live space")
		}
		rootPointer := uint64(space.rootTable) | uint64(b.pcid)
		if b.cpu.havePCIDs {
			rootPointer |= rootPointerNoFlush
		}
		b.cpu.mmu.SetRootPointer(rootPointer)
		space.DecRef()
	}

	b.wasRebound = false
	b.primaryStamp = ctx.nextStamp
	ctx.nextStamp++
	ctx.primaryBinding = b
}

// Rebind attaches the binding to a new space.
//
// The old space's TLB entries under this context tag are invalidated, and
// the binding's share of the old space's pending shootdowns is handed off:
// every queue entry this binding still owed is acknowledged here, firing
// completions for nodes it was the last to visit. The binding starts
// caught up on the new space, so shootdowns submitted before the rebind do
// not wait for it.
//
// Preconditions: interrupts are disabled on the owning CPU.
func (b *PageBinding) Rebind(space *PageSpace) {
	b.cpu.assertInterruptsDisabled()

	unbound := b.grab()
	if unbound != nil && unbound == space {
		unbound.DecRef()
		return
	}

	// If we switch to another space, we have to invalidate this slot's
	// context tag.
	if b.cpu.havePCIDs {
		b.cpu.mmu.InvalidatePCID(b.pcid)
	}

	b.wasRebound = true

	// Mark everything as shot down.
	var complete ilist.List
	if unbound != nil {
		unbound.mu.Lock()

		if !unbound.shootQueue.Empty() {
			current := unbound.shootQueue.Back().(*ShootNode)
			for current.sequence > b.alreadyShotSequence {
				predecessor, _ := current.Prev().(*ShootNode)

				// Signal completion of the shootdown.
				if current.bindingsToShoot.Add(-1) == 0 {
					unbound.shootQueue.Remove(current)
					complete.PushFront(current)
				}

				if predecessor == nil {
					break
				}
				current = predecessor
			}
		}

		unbound.numBindings--
		unbound.mu.Unlock()
	}

	for !complete.Empty() {
		current := complete.PopFront().(*ShootNode)
		current.ShotDown(current)
	}

	var targetSeq uint64
	space.mu.Lock()
	targetSeq = space.shootSequence
	space.numBindings++
	space.mu.Unlock()

	if b.boundSpace != nil {
		b.boundSpace.Drop()
	}
	b.boundSpace = refs.NewWeakRef(space, nil)
	b.alreadyShotSequence = targetSeq

	if unbound != nil {
		unbound.DecRef()
	}
}

// Shootdown scans the bound space's shoot queue backwards from the tail,
// invalidating each pending range under this binding's context tag and
// acknowledging the nodes. It runs when the CPU receives a shootdown IPI.
//
// Because sequences are monotone and the binding only moves forward, each
// node is visited at most once per binding, so the total cost is bounded
// by the outstanding work.
//
// Preconditions: interrupts are disabled on the owning CPU.
func (b *PageBinding) Shootdown() {
	b.cpu.assertInterruptsDisabled()

	space := b.grab()
	if space == nil {
		// Unbind spaces that are not alive anymore.
		if b.boundSpace != nil {
			b.cpu.mmu.InvalidatePCID(b.pcid)
			b.boundSpace.Drop()
			b.boundSpace = nil
		}
		return
	}

	var complete ilist.List
	var targetSeq uint64

	space.mu.Lock()
	if space.shootQueue.Empty() {
		space.mu.Unlock()
		space.DecRef()
		return
	}

	targetSeq = space.shootQueue.Back().(*ShootNode).sequence

	current := space.shootQueue.Back().(*ShootNode)
	for current.sequence > b.alreadyShotSequence {
		predecessor, _ := current.Prev().(*ShootNode)

		// Perform the actual shootdown.
		if !current.Address.IsPageAligned() {
			panic(fmt.Sprintf("paging: shootdown address %#x is not page aligned", current.Address))
		}
		if current.Size == 0 || current.Size%memarch.PageSize != 0 {
			panic(fmt.Sprintf("paging: shootdown size %#x is not a positive page multiple", current.Size))
		}
		if !b.cpu.havePCIDs {
			if b.pcid != 0 {
				panic("paging: context tag on a CPU without PCID support")
			}
			for pg := uintptr(0); pg < current.Size; pg += memarch.PageSize {
				b.cpu.mmu.InvalidatePage(current.Address + memarch.VirtAddr(pg))
			}
		} else {
			for pg := uintptr(0); pg < current.Size; pg += memarch.PageSize {
				b.cpu.mmu.InvalidatePagePCID(b.pcid, current.Address+memarch.VirtAddr(pg))
			}
		}

		// Signal completion of the shootdown.
		if current.bindingsToShoot.Add(-1) == 0 {
			space.shootQueue.Remove(current)
			complete.PushFront(current)
		}

		if predecessor == nil {
			break
		}
		current = predecessor
	}
	space.mu.Unlock()

	for !complete.Empty() {
		current := complete.PopFront().(*ShootNode)
		current.ShotDown(current)
	}

	b.alreadyShotSequence = targetSeq
	space.DecRef()
}
