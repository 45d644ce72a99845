// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package tlsfalloc implements a Two-Level Segregated Fit (TLSF) dynamic
// memory allocator over one or more caller-supplied byte regions ("pools").
//
// TLSF gives O(1) worst-case allocation, deallocation and reallocation by
// indexing free blocks in a two-level bitmap: a coarse first-level class
// picked by the position of a size's highest set bit, and a finer
// second-level class within it. Freeing a block is O(1) too, via boundary
// tags that let a block discover and merge with its free physical
// neighbours without walking any list.
//
// # Basic usage
//
//	mem := tlsfalloc.AlignedPoolMemory(1 << 20) // 1 MiB pool
//	a := tlsfalloc.New()
//	if err := a.AddPool(mem, tlsfalloc.PoolConfig{}); err != nil {
//	    log.Fatal(err)
//	}
//	buf := a.Malloc(256)
//	if buf == nil {
//	    log.Fatal("out of memory")
//	}
//	a.Free(buf)
//
// # Multiple pools and policies
//
// An Allocator can hold up to MaxPool pools, each with its own Priority and
// Policy. MallocPolicy restricts a request to pools whose Policy matches
// (falling back to matching pools below the requested priority, then to
// every pool) and prefers higher-priority pools first — useful for separating a small pool of
// critical, never-fragmented memory from a larger general-purpose one:
//
//	a.AddPool(criticalMem, tlsfalloc.PoolConfig{Priority: 10, Policy: tlsfalloc.PolicyCriticalOnly})
//	a.AddPool(generalMem, tlsfalloc.PoolConfig{Priority: 0})
//	buf := a.MallocPolicy(64, 5, tlsfalloc.PolicyCriticalOnly)
//
// # Concurrency
//
// An Allocator is safe for concurrent use once constructed. By default all
// operations share a single global Lockable (a sync.Mutex by way of
// mutexLockable); SetPerPoolLocking(true) plus SetLockForPool lets
// Free, CheckPool and WalkPool take a per-pool lock instead, leaving
// RemovePool, ResizePool and the pool-selecting operations (Malloc,
// Memalign, Realloc, Report, Defragment) on the global lock. SpinLockable is provided alongside the default
// mutex-backed Lockable for short, highly-contended critical sections.
//
// # Diagnostics and integrity
//
// Check and CheckPool walk a pool's free-list index and physical block
// chain, returning 0 when consistent and the negated number of detected
// inconsistencies otherwise. SetLogger
// installs a *log.Logger that double-free detection and integrity
// violations are reported through; built with -tags tlsfdebug, a detected
// violation additionally panics.
//
// # Architecture requirements
//
// This package assumes a 64-bit host architecture, matching the rest of
// the module's dependency stack.
package tlsfalloc
