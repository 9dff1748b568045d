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

// ensureIntermediate returns the table one level below entries[index],
// allocating a zeroed frame and linking it if the entry is absent.
//
// Intermediates are created Present|Write. The user accessibility of an
// intermediate is fixed when it is created; a mismatch on a later walk is
// fatal.
func ensureIntermediate(a Allocator, entries *PTEs, index int, user bool) *PTEs {
	entry := &entries[index]

	var next memarch.PhysAddr
	if v := entry.Load(); v&PTEPresent != 0 {
		next = memarch.PhysAddr(v & PTEAddressMask)
	} else {
		next = a.Allocate()
		v := uint64(next) | PTEPresent | PTEWrite
		if user {
			v |= PTEUser
		}
		entry.store(v)
	}

	if got := entry.Load()&PTEUser != 0; got != user {
		panic(fmt.Sprintf("paging: user bit mismatch on intermediate entry %d", index))
	}
	return a.LookupPTEs(next)
}

// descend returns the table one level below entries[index], which must be
// present.
func descend(a Allocator, entries *PTEs, index int) *PTEs {
	v := entries[index].Load()
	if v&PTEPresent == 0 {
		panic(fmt.Sprintf("paging: walking through non-present entry %d", index))
	}
	return a.LookupPTEs(memarch.PhysAddr(v & PTEAddressMask))
}

// tryDescend returns the table one level below entries[index], or nil if
// the entry is absent.
func tryDescend(a Allocator, entries *PTEs, index int) *PTEs {
	v := entries[index].Load()
	if v&PTEPresent == 0 {
		return nil
	}
	return a.LookupPTEs(memarch.PhysAddr(v & PTEAddressMask))
}
