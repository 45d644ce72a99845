// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tlsfalloc

import "errors"

var (
	// ErrOutOfMemory indicates ResizePool could not obtain usable backing
	// memory from the ResizeAllocationHandler. The allocation family reports
	// exhaustion as a nil slice instead.
	ErrOutOfMemory = errors.New("tlsfalloc: out of memory")
	// ErrInvalidArgument indicates a caller-supplied argument violates a
	// documented precondition (e.g. unaligned or too-small pool memory).
	ErrInvalidArgument = errors.New("tlsfalloc: invalid argument")
	// ErrPoolFull indicates the allocator already holds MaxPool pools.
	ErrPoolFull = errors.New("tlsfalloc: pool registry full")
	// ErrPoolInUse indicates RemovePool or ResizePool was asked to remove or
	// shrink a pool that still has live allocations.
	ErrPoolInUse = errors.New("tlsfalloc: pool in use")
	// ErrPoolNotFound indicates an operation referenced a backing slice
	// that is not currently registered.
	ErrPoolNotFound = errors.New("tlsfalloc: pool not found")
	// ErrIntegrityViolation indicates Check or CheckPool detected corrupted
	// free-list or boundary-tag state.
	ErrIntegrityViolation = errors.New("tlsfalloc: integrity violation")
	// ErrDoubleFree indicates Free was called on a pointer whose block is
	// already marked free.
	ErrDoubleFree = errors.New("tlsfalloc: double free")
	// ErrNoResizeHandler indicates ResizePool needs to grow a pool's
	// backing memory but no ResizeAllocationHandler was configured.
	ErrNoResizeHandler = errors.New("tlsfalloc: no resize handler configured")
)
