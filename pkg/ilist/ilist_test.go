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

package ilist

import (
	"testing"
)

type testItem struct {
	Entry
	value int
}

func items(l *List) []int {
	var vs []int
	for e := l.Front(); e != nil; e = e.Next() {
		vs = append(vs, e.(*testItem).value)
	}
	return vs
}

func itemsBackward(l *List) []int {
	var vs []int
	for e := l.Back(); e != nil; e = e.Prev() {
		vs = append(vs, e.(*testItem).value)
	}
	return vs
}

func equal(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPushPop(t *testing.T) {
	var l List
	if !l.Empty() {
		t.Fatal("zero list should be empty")
	}
	for i := 1; i <= 3; i++ {
		l.PushBack(&testItem{value: i})
	}
	l.PushFront(&testItem{value: 0})
	if got, want := items(&l), []int{0, 1, 2, 3}; !equal(got, want) {
		t.Errorf("forward iteration: got %v, want %v", got, want)
	}
	if got, want := itemsBackward(&l), []int{3, 2, 1, 0}; !equal(got, want) {
		t.Errorf("backward iteration: got %v, want %v", got, want)
	}
	if got := l.Len(); got != 4 {
		t.Errorf("Len: got %d, want 4", got)
	}
	if e := l.PopFront(); e.(*testItem).value != 0 {
		t.Errorf("PopFront: got %d, want 0", e.(*testItem).value)
	}
	if got, want := items(&l), []int{1, 2, 3}; !equal(got, want) {
		t.Errorf("after PopFront: got %v, want %v", got, want)
	}
}

func TestRemove(t *testing.T) {
	var l List
	es := make([]*testItem, 5)
	for i := range es {
		es[i] = &testItem{value: i}
		l.PushBack(es[i])
	}

	// Middle.
	l.Remove(es[2])
	if got, want := items(&l), []int{0, 1, 3, 4}; !equal(got, want) {
		t.Errorf("after removing middle: got %v, want %v", got, want)
	}
	// Head.
	l.Remove(es[0])
	if got, want := items(&l), []int{1, 3, 4}; !equal(got, want) {
		t.Errorf("after removing head: got %v, want %v", got, want)
	}
	// Tail.
	l.Remove(es[4])
	if got, want := items(&l), []int{1, 3}; !equal(got, want) {
		t.Errorf("after removing tail: got %v, want %v", got, want)
	}
	// Removed entries are unlinked.
	if es[2].Next() != nil || es[2].Prev() != nil {
		t.Error("removed entry still linked")
	}

	l.Remove(es[1])
	l.Remove(es[3])
	if !l.Empty() || l.Back() != nil {
		t.Error("list should be empty")
	}
}

func TestInsert(t *testing.T) {
	var l List
	a := &testItem{value: 1}
	c := &testItem{value: 3}
	l.PushBack(a)
	l.PushBack(c)
	l.InsertAfter(a, &testItem{value: 2})
	l.InsertBefore(a, &testItem{value: 0})
	if got, want := items(&l), []int{0, 1, 2, 3}; !equal(got, want) {
		t.Errorf("after inserts: got %v, want %v", got, want)
	}
	if got, want := itemsBackward(&l), []int{3, 2, 1, 0}; !equal(got, want) {
		t.Errorf("backward after inserts: got %v, want %v", got, want)
	}
}
