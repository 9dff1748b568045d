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
	"github.com/Nivaturimika/managarm/pkg/atomicbitops"
	"github.com/Nivaturimika/managarm/pkg/ilist"
	"github.com/Nivaturimika/managarm/pkg/memarch"
)

// A ShootNode is one pending cross-CPU TLB invalidation request.
//
// The submitter owns the node; the space's shoot queue borrows it until
// every binding has acknowledged the invalidation, at which point ShotDown
// fires exactly once and the node may be reused or released.
type ShootNode struct {
	ilist.Entry

	// Address is the first virtual address covered. Must be page aligned.
	Address memarch.VirtAddr

	// Size is the length of the covered range, a multiple of the page
	// size.
	Size uintptr

	// ShotDown is invoked once all bindings have invalidated the range
	// (or handed off their share by rebinding away). It may run
	// synchronously from SubmitShootdown if no bindings exist, or on
	// whichever CPU acknowledges last.
	ShotDown func(node *ShootNode)

	// sequence orders the node in its space's shoot queue.
	sequence uint64

	// bindingsToShoot counts the bindings that still have to visit this
	// node. The binding that decrements it to zero completes the node.
	bindingsToShoot atomicbitops.Int32
}
