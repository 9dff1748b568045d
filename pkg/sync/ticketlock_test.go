// Copyright 2024 The Managarm Authors.
//
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file or at
// https://developers.google.com/open-source/licenses/bsd.

package sync

import (
	"testing"
)

func TestTicketLockExclusion(t *testing.T) {
	var (
		l       TicketLock
		wg      WaitGroup
		counter int
	)
	const (
		workers    = 8
		iterations = 1000
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				l.Lock()
				counter++
				l.Unlock()
			}
		}()
	}
	wg.Wait()
	if counter != workers*iterations {
		t.Errorf("counter: got %d, want %d", counter, workers*iterations)
	}
}

func TestTicketLockTryLock(t *testing.T) {
	var l TicketLock
	if !l.TryLock() {
		t.Fatal("TryLock on a free lock failed")
	}
	if l.TryLock() {
		t.Fatal("TryLock on a held lock succeeded")
	}
	l.Unlock()
	if !l.TryLock() {
		t.Fatal("TryLock after Unlock failed")
	}
	l.Unlock()
}

func TestTicketLockReacquire(t *testing.T) {
	// Each Unlock must admit the next ticket: take and release the lock
	// many times on one goroutine and verify it never wedges. Serving
	// order among concurrent waiters is not checked here.
	var l TicketLock
	for i := 0; i < 10000; i++ {
		l.Lock()
		l.Unlock()
	}
}
