// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tlsfalloc

import (
	"sync"
	"sync/atomic"
	"time"

	"code.hybscloud.com/spin"
)

// lockForever is the timeout value meaning "wait without giving up".
const lockForever uint32 = 0xFFFFFFFF

// Lockable is the concurrency capability the allocator relies on to guard
// its pool registry and per-pool state. Implementations report whether the
// lock was acquired within timeoutMs milliseconds; lockForever means "block
// until acquired".
type Lockable interface {
	Lock(timeoutMs uint32) bool
	Unlock()
}

// mutexLockable adapts sync.Mutex to Lockable. sync.Mutex has no timed
// acquire, so every timeoutMs value is treated as lockForever; a caller
// that needs genuine timeout semantics must supply its own Lockable backed
// by, for example, a buffered channel or semaphore.
type mutexLockable struct {
	mu sync.Mutex
}

func (l *mutexLockable) Lock(uint32) bool {
	l.mu.Lock()
	return true
}

func (l *mutexLockable) Unlock() {
	l.mu.Unlock()
}

// noopLockable is the zero-cost Lockable for single-threaded use.
type noopLockable struct{}

func (noopLockable) Lock(uint32) bool { return true }
func (noopLockable) Unlock()          {}

// SpinLockable is a Lockable for short critical sections on many-core
// hosts where the kernel futex round trip behind sync.Mutex costs more
// than a brief busy-wait: it backs off with spin.Wait between compare-and
// -swap attempts rather than parking the goroutine immediately, and is the
// one Lockable in this package that honours a real timeoutMs.
type SpinLockable struct {
	locked atomic.Bool
}

func (l *SpinLockable) Lock(timeoutMs uint32) bool {
	var deadline time.Time
	forever := timeoutMs == lockForever
	if !forever {
		deadline = time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	}
	var sw spin.Wait
	for !l.locked.CompareAndSwap(false, true) {
		if !forever && time.Now().After(deadline) {
			return false
		}
		sw.Once()
	}
	return true
}

func (l *SpinLockable) Unlock() {
	l.locked.Store(false)
}
