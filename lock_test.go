// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tlsfalloc

import "testing"

func TestSpinLockableExclusion(t *testing.T) {
	var l SpinLockable
	if !l.Lock(lockForever) {
		t.Fatal("Lock() failed to acquire an uncontended lock")
	}
	defer l.Unlock()

	if l.Lock(50) {
		t.Fatal("Lock() should time out while already held")
	}
}

func TestSpinLockableUnlockAllowsReacquire(t *testing.T) {
	var l SpinLockable
	if !l.Lock(lockForever) {
		t.Fatal("Lock() failed")
	}
	l.Unlock()
	if !l.Lock(lockForever) {
		t.Fatal("Lock() failed to reacquire after Unlock()")
	}
	l.Unlock()
}
