// Copyright 2024 The Managarm Authors.
//
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file or at
// https://developers.google.com/open-source/licenses/bsd.

package sync

import (
	"runtime"
	"sync/atomic"
)

// A TicketLock is a fair spinlock: waiters draw a ticket and are admitted
// in draw order. The zero value is an unlocked TicketLock.
//
// Critical sections protected by a TicketLock must be bounded-time. On a
// CPU, callers must hold the lock with interrupts disabled; the lock itself
// does not mask interrupts.
//
// A TicketLock must not be copied after first use.
type TicketLock struct {
	_ NoCopy

	// next is the ticket handed to the next waiter.
	next uint32

	// serving is the ticket currently admitted.
	serving uint32
}

// spinsBeforeYield bounds busy-waiting before the spinner yields its
// processor to the scheduler.
const spinsBeforeYield = 128

// Lock acquires l, spinning until the caller's ticket is served.
func (l *TicketLock) Lock() {
	ticket := atomic.AddUint32(&l.next, 1) - 1
	for spins := 0; atomic.LoadUint32(&l.serving) != ticket; spins++ {
		if spins >= spinsBeforeYield {
			runtime.Gosched()
			spins = 0
		}
	}
}

// TryLock acquires l if it is free and no other waiter is queued. It
// returns true on success.
func (l *TicketLock) TryLock() bool {
	serving := atomic.LoadUint32(&l.serving)
	return atomic.CompareAndSwapUint32(&l.next, serving, serving+1)
}

// Unlock releases l, admitting the next ticket.
//
// Preconditions: l is locked by the caller.
func (l *TicketLock) Unlock() {
	atomic.AddUint32(&l.serving, 1)
}
