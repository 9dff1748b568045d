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

package refs

import (
	"testing"
)

type testCounter struct {
	AtomicRefCount

	// destroyed tracks the number of times the destructor ran.
	destroyed int
}

func (t *testCounter) DecRef() {
	t.DecRefWithDestructor(t.destroy)
}

func (t *testCounter) destroy() {
	t.destroyed++
}

type testUser struct {
	gone int
}

func (u *testUser) WeakRefGone() {
	u.gone++
}

func TestOneRef(t *testing.T) {
	tc := &testCounter{}
	tc.DecRef()

	if tc.destroyed != 1 {
		t.Errorf("object not destroyed, destroyed: %d", tc.destroyed)
	}
}

func TestTwoRefs(t *testing.T) {
	tc := &testCounter{}
	tc.IncRef()
	tc.DecRef()
	if tc.destroyed != 0 {
		t.Errorf("object destroyed too early")
	}
	tc.DecRef()
	if tc.destroyed != 1 {
		t.Errorf("object not destroyed, destroyed: %d", tc.destroyed)
	}
}

func TestTryIncRefAfterDestroy(t *testing.T) {
	tc := &testCounter{}
	tc.DecRef()
	if tc.TryIncRef() {
		t.Error("TryIncRef succeeded after the count dropped to zero")
	}
}

func TestWeakRefGet(t *testing.T) {
	tc := &testCounter{}
	w := NewWeakRef(tc, nil)

	if got := w.Get(); got != tc {
		t.Fatalf("Get: got %v, want %v", got, tc)
	}
	// Get returned a real reference; drop it again.
	tc.DecRef()
	if tc.destroyed != 0 {
		t.Fatal("object destroyed while a real reference remained")
	}

	tc.DecRef()
	if tc.destroyed != 1 {
		t.Fatal("object not destroyed after last real reference")
	}
	if got := w.Get(); got != nil {
		t.Errorf("Get after destruction: got %v, want nil", got)
	}
	w.Drop()
}

func TestWeakRefUserNotified(t *testing.T) {
	tc := &testCounter{}
	u := &testUser{}
	w := NewWeakRef(tc, u)

	tc.DecRef()
	if u.gone != 1 {
		t.Errorf("WeakRefGone calls: got %d, want 1", u.gone)
	}
	if tc.destroyed != 1 {
		t.Errorf("destructor calls: got %d, want 1", tc.destroyed)
	}
	w.Drop()
}

func TestWeakRefDropBeforeDestroy(t *testing.T) {
	tc := &testCounter{}
	u := &testUser{}
	w := NewWeakRef(tc, u)
	w.Drop()

	tc.DecRef()
	if u.gone != 0 {
		t.Errorf("dropped weak ref still notified, gone: %d", u.gone)
	}
	if tc.destroyed != 1 {
		t.Errorf("destructor calls: got %d, want 1", tc.destroyed)
	}
}
