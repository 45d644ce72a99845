// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tlsfalloc

import (
	"unsafe"

	"code.hybscloud.com/tlsfalloc/internal"
)

// CacheLineSize is the CPU L1 cache line size for the current architecture.
// This is detected at compile time based on the target architecture:
//   - amd64: 64 bytes (Intel/AMD)
//   - arm64: 128 bytes (conservative for Apple Silicon)
//   - riscv64: 64 bytes
//   - loong64: 64 bytes
//   - others: 64 bytes (default)
const CacheLineSize = internal.CacheLineSize

// AlignedPoolMemory returns a byte slice of the requested size whose start
// address is a multiple of alignSize, suitable as backing memory for
// AddPool. AddPool rejects any slice that is not already aligned this way,
// since the block header packs status flags into a block size's low bits
// and relies on every block starting at an alignSize boundary.
//
// The returned slice shares underlying memory with a larger allocation; do
// not assume len(result) == cap(result).
func AlignedPoolMemory(size int) []byte {
	return alignedMem(size, alignSize)
}

// CacheLineAlignedPoolMemory returns a byte slice of the requested size
// aligned to CacheLineSize, recommended for pools that are shared across
// goroutines under per-pool locking (SetPerPoolLocking): it keeps a pool's
// leading, frequently-contended blocks from false-sharing a cache line with
// an unrelated neighbour.
func CacheLineAlignedPoolMemory(size int) []byte {
	return alignedMem(size, CacheLineSize)
}

func alignedMem(size int, align int) []byte {
	a := uintptr(align)
	p := make([]byte, uintptr(size)+a-1)
	base := unsafe.Pointer(unsafe.SliceData(p))
	offset := ((uintptr(base)+a-1)/a)*a - uintptr(base)
	return unsafe.Slice((*byte)(unsafe.Add(base, offset)), size)
}

// isAligned reports whether p's backing address is a multiple of alignSize.
func isAligned(p []byte) bool {
	if len(p) == 0 {
		return false
	}
	addr := uintptr(unsafe.Pointer(&p[0]))
	return addr%alignSize == 0
}
