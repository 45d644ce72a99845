// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tlsfalloc

import "unsafe"

// Unsafe pointer arithmetic is confined to this file and to the pool-memory
// helpers in memory.go. Every other file in the package operates on
// *blockHeader values and plain uint32 offsets.

const (
	// alignSize is the allocator's fundamental alignment unit. Block sizes
	// are always a multiple of alignSize, which leaves the low two bits of
	// sizeAndFlags free to carry status flags without any shifting.
	alignSize = 4
	// wordSize is the width of a single metadata field (prevPhysBlock,
	// sizeAndFlags, nextFree, prevFree). It is also the per-block overhead
	// charged against a used block's recorded size, since the overlap trick
	// lets a used block's payload reuse every field except sizeAndFlags.
	wordSize = 4

	flagFree     uint32 = 1 << 0
	flagPrevFree uint32 = 1 << 1
	sizeMask     uint32 = ^uint32(flagFree | flagPrevFree)

	// offsetNull marks the absence of a neighbour or free-list link. It is
	// never a valid in-pool offset because block offsets are always
	// multiples of alignSize.
	offsetNull uint32 = ^uint32(0)
)

// blockHeader is the intrusive, physically-embedded metadata block that
// precedes (and, for free blocks, describes the storage of) every region of
// pool memory. Its layout, in field order, is load-bearing: prevPhysBlock
// sits immediately before sizeAndFlags so that a used block's payload can
// begin right after sizeAndFlags while its prevPhysBlock slot is absorbed
// into the tail of the preceding block's payload.
type blockHeader struct {
	prevPhysBlock uint32
	sizeAndFlags  uint32
	nextFree      uint32
	prevFree      uint32
}

const blockHeaderSize = uint32(unsafe.Sizeof(blockHeader{}))

// blockSizeMin is the smallest size a free block can record: it must have
// room for nextFree and prevFree plus its own sizeAndFlags word, but not
// prevPhysBlock, which overlaps the previous block's memory.
const blockSizeMin = blockHeaderSize - wordSize

// blockSizeMax is the largest block size, matching the two-level index's
// first-level ceiling (flIndexMax).
const blockSizeMax = uint32(1) << 31

// poolOverhead is the bookkeeping cost charged against a pool's raw byte
// count before any of it is usable as free block storage: one phantom
// leading word (see blockAt) plus the trailing zero-size sentinel block's
// full header, less the one word it shares with the last free block via
// the overlap trick — which nets out to exactly one blockHeaderSize.
const poolOverhead = blockHeaderSize

// blockAt returns the header whose sizeAndFlags field lives at byte offset
// off within pool. Go's unsafe.Pointer rules forbid a pointer before the
// start of a slice's backing array, so a "mem - overhead" trick pointing
// before pool[0] is not an option here: every pool instead reserves its
// leading wordSize bytes as an unaddressed phantom prevPhysBlock belonging
// to the first real block; the first real block's sizeAndFlags therefore
// starts at offset wordSize, never offset 0.
func blockAt(pool []byte, off uint32) *blockHeader {
	base := off - wordSize
	return (*blockHeader)(unsafe.Pointer(&pool[base]))
}

// toOffset returns the sizeAndFlags-relative offset of hdr within pool.
func toOffset(pool []byte, hdr *blockHeader) uint32 {
	base := unsafe.Pointer(&pool[0])
	delta := uintptr(unsafe.Pointer(hdr)) - uintptr(base)
	return uint32(delta) + wordSize
}

func (b *blockHeader) getSize() uint32 {
	return b.sizeAndFlags & sizeMask
}

func (b *blockHeader) setSize(size uint32) {
	b.sizeAndFlags = (size & sizeMask) | (b.sizeAndFlags &^ sizeMask)
}

func (b *blockHeader) isFree() bool {
	return b.sizeAndFlags&flagFree != 0
}

func (b *blockHeader) isPrevFree() bool {
	return b.sizeAndFlags&flagPrevFree != 0
}

func (b *blockHeader) isLast() bool {
	return b.getSize() == 0
}

func (b *blockHeader) setFree() {
	b.sizeAndFlags |= flagFree
}

func (b *blockHeader) setUsed() {
	b.sizeAndFlags &^= flagFree
}

func (b *blockHeader) setPrevFree() {
	b.sizeAndFlags |= flagPrevFree
}

func (b *blockHeader) setPrevUsed() {
	b.sizeAndFlags &^= flagPrevFree
}

// next returns the physically-next block header, computed from this
// block's own recorded size; valid even when neither block is free.
func (b *blockHeader) next(pool []byte, off uint32) *blockHeader {
	return blockAt(pool, off+b.getSize())
}

// prev returns the physically-previous block header. Only meaningful when
// isPrevFree is true, mirroring the boundary-tag invariant that
// prevPhysBlock is only kept current for predecessors that are free.
func (b *blockHeader) prev(pool []byte) *blockHeader {
	return blockAt(pool, b.prevPhysBlock)
}

// linkNext stamps this block's offset into the physically-next block's
// prevPhysBlock field, maintaining the boundary tag after a resize.
func (b *blockHeader) linkNext(pool []byte, off uint32) *blockHeader {
	next := b.next(pool, off)
	next.prevPhysBlock = off
	return next
}

func (b *blockHeader) markAsFree(pool []byte, off uint32) {
	next := b.linkNext(pool, off)
	next.setPrevFree()
	b.setFree()
}

func (b *blockHeader) markAsUsed(pool []byte, off uint32) {
	next := b.next(pool, off)
	next.setPrevUsed()
	b.setUsed()
}

// payloadOffset returns the offset at which this block's user-visible
// memory begins: one word past sizeAndFlags, overlapping nextFree.
func payloadOffset(blockOff uint32) uint32 {
	return blockOff + wordSize
}

// blockOffsetFromPayload inverts payloadOffset.
func blockOffsetFromPayload(payloadOff uint32) uint32 {
	return payloadOff - wordSize
}

// payloadBytes returns the user-visible slice of length bytes starting at
// payloadOff within pool, backed directly by the pool's storage.
func payloadBytes(pool []byte, payloadOff, length uint32) []byte {
	return unsafe.Slice(&pool[payloadOff], length)
}

// offsetInPool reports whether p starts inside pool, and if so the block
// offset a payloadBytes slice starting there would have been carved from.
// It identifies membership by comparing p's backing pointer against pool's
// address range rather than by any stored tag.
func offsetInPool(pool []byte, p []byte) (off uint32, ok bool) {
	if len(pool) == 0 || len(p) == 0 {
		return 0, false
	}
	base := uintptr(unsafe.Pointer(&pool[0]))
	ptr := uintptr(unsafe.Pointer(&p[0]))
	if ptr < base || ptr >= base+uintptr(len(pool)) {
		return 0, false
	}
	payloadOff := uint32(ptr - base)
	return blockOffsetFromPayload(payloadOff), true
}
