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

package atomicbitops

import (
	"testing"

	"github.com/Nivaturimika/managarm/pkg/sync"
)

func TestInt32AddDecrement(t *testing.T) {
	i := FromInt32(3)
	if got := i.Add(-1); got != 2 {
		t.Errorf("Add(-1): got %d, want 2", got)
	}
	if got := i.Add(-1); got != 1 {
		t.Errorf("Add(-1): got %d, want 1", got)
	}
	if got := i.Add(-1); got != 0 {
		t.Errorf("Add(-1): got %d, want 0", got)
	}
}

func TestInt32ConcurrentAdd(t *testing.T) {
	const (
		workers    = 8
		iterations = 10000
	)
	var (
		i  Int32
		wg sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < iterations; n++ {
				i.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := i.Load(); got != workers*iterations {
		t.Errorf("Load: got %d, want %d", got, workers*iterations)
	}
}

func TestUint32CompareAndSwap(t *testing.T) {
	u := FromUint32(7)
	if !u.CompareAndSwap(7, 8) {
		t.Fatal("CompareAndSwap(7, 8) failed")
	}
	if u.CompareAndSwap(7, 9) {
		t.Fatal("CompareAndSwap(7, 9) should have failed")
	}
	if got := u.Load(); got != 8 {
		t.Errorf("Load: got %d, want 8", got)
	}
}

func TestBool(t *testing.T) {
	var b Bool
	if b.Load() {
		t.Error("zero value should be false")
	}
	b.Store(true)
	if !b.Load() {
		t.Error("Load after Store(true): got false")
	}
	if was := b.Swap(false); !was {
		t.Error("Swap(false): got false, want true")
	}
	if b.Load() {
		t.Error("Load after Swap(false): got true")
	}
}
