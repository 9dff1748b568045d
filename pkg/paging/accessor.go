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
)

// The identity window is a fixed high-canonical virtual range mapping all
// of physical memory one-to-one. Page-table frames are touched through it,
// so no mappings need to be created to walk or edit a table.
const (
	// PhysicalWindowBase is the virtual address of the window.
	PhysicalWindowBase = memarch.VirtAddr(0xffff800000000000)

	// PhysicalWindowLimit is the amount of physical memory the window
	// covers.
	PhysicalWindowLimit = memarch.PhysAddr(0x400000000000)
)

// A PageAccessor resolves one page-table frame to a directly usable
// pointer through the identity window. No release step is needed; the
// window mapping is static.
type PageAccessor struct {
	ptes *PTEs
}

// NewPageAccessor returns an accessor for the given table frame.
//
// Preconditions: frame is page aligned and below PhysicalWindowLimit.
func NewPageAccessor(a Allocator, frame memarch.PhysAddr) PageAccessor {
	if !frame.IsPageAligned() {
		panic(fmt.Sprintf("paging: accessing unaligned frame %#x", frame))
	}
	if frame >= PhysicalWindowLimit {
		panic(fmt.Sprintf("paging: frame %#x is outside the identity window", frame))
	}
	return PageAccessor{ptes: a.LookupPTEs(frame)}
}

// PTEs returns the table frame's entries.
func (a PageAccessor) PTEs() *PTEs {
	return a.ptes
}
