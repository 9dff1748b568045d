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
	"github.com/Nivaturimika/managarm/pkg/ilist"
	"github.com/Nivaturimika/managarm/pkg/memarch"
	"github.com/Nivaturimika/managarm/pkg/refs"
	"github.com/Nivaturimika/managarm/pkg/sync"
)

// A PageSpace is the translation state of one address space: the root
// table frame plus the shootdown bookkeeping shared by all CPUs that have
// the space bound.
//
// A PageSpace is reference counted. PageBindings hold weak references
// only, so dropping the last real reference makes the space unactivatable
// while still letting bound CPUs notice the death and retire their
// context tags lazily.
type PageSpace struct {
	refs.AtomicRefCount

	machine *Machine

	// rootTable is the frame of the top-level table.
	rootTable memarch.PhysAddr

	// mu protects the fields below. It is acquired with interrupts
	// disabled, and never held together with another space's mu.
	mu sync.TicketLock

	// numBindings counts the PageBindings currently bound to this space.
	numBindings uint32

	// shootSequence numbers submitted shootdowns. The first submitted
	// node gets sequence 1, so that a binding whose alreadyShotSequence
	// was snapshotted at bind time never owes work submitted before it
	// bound.
	shootSequence uint64

	// shootQueue holds the in-flight ShootNodes, strictly ascending by
	// sequence.
	shootQueue ilist.List
}

// NewPageSpace returns a space rooted at the given table frame, holding
// one reference for the caller.
func NewPageSpace(m *Machine, rootTable memarch.PhysAddr) *PageSpace {
	return &PageSpace{
		machine:   m,
		rootTable: rootTable,
	}
}

// RootTable returns the frame of the space's top-level table.
func (s *PageSpace) RootTable() memarch.PhysAddr {
	return s.rootTable
}

// SubmitShootdown queues node for invalidation on every CPU that has this
// space bound, then pokes all CPUs. If no bindings exist, the node
// completes synchronously before SubmitShootdown returns.
//
// The caller must not reuse the covered frames until node.ShotDown fires.
func (s *PageSpace) SubmitShootdown(node *ShootNode) {
	anyBindings := false

	s.mu.Lock()
	if s.numBindings > 0 {
		anyBindings = true
		s.shootSequence++
		node.sequence = s.shootSequence
		node.bindingsToShoot.Store(int32(s.numBindings))
		s.shootQueue.PushBack(node)
	}
	s.mu.Unlock()

	if anyBindings {
		s.machine.sendShootdownIPI()
	} else {
		node.ShotDown(node)
	}
}
