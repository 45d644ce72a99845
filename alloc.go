// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tlsfalloc

// alignUp rounds n up to the nearest multiple of alignSize.
func alignUp(n uint32) uint32 {
	return (n + (alignSize - 1)) &^ (alignSize - 1)
}

// blockSizeForPayload converts a requested payload byte count into the
// total block size (including the wordSize sizeAndFlags overhead) that
// locateFree must find, clamped to blockSizeMin.
func blockSizeForPayload(payload uint32) uint32 {
	size := alignUp(payload) + wordSize
	if size < blockSizeMin {
		size = blockSizeMin
	}
	return size
}

// locateFree finds and detaches a free block able to hold size bytes
// (already adjusted by blockSizeForPayload), returning nil if this pool
// has nothing large enough.
func (c *control) locateFree(size uint32) (*blockHeader, uint32) {
	blk, off, fl, sl := c.searchSuitableBlock(size)
	if blk == nil {
		return nil, 0
	}
	c.removeFreeBlock(blk, off, fl, sl)
	return blk, off
}

// prepareUsed trims blk (at off, already detached from its free list) down
// to size and returns the caller-visible payload slice.
func (c *control) prepareUsed(blk *blockHeader, off, size uint32) []byte {
	c.trimFree(blk, off, size)
	return payloadBytes(c.pool, payloadOffset(off), blk.getSize()-wordSize)
}

// allocate is the single-pool malloc path: locate a free block able to hold
// payload bytes, trim it, and hand back the payload slice. Returns nil if
// this pool cannot satisfy the request.
func (c *control) allocate(payload uint32) []byte {
	size := blockSizeForPayload(payload)
	blk, off := c.locateFree(size)
	if blk == nil {
		return nil
	}
	return c.prepareUsed(blk, off, size)
}

// free marks the block backing p as free and coalesces it with any free
// physical neighbours, reinserting the survivor into the free-list index.
// It returns false, changing nothing, if p does not lie in this control's
// pool or its block is already free.
func (c *control) free(p []byte) bool {
	off, ok := offsetInPool(c.pool, p)
	if !ok {
		return false
	}
	blk := blockAt(c.pool, off)
	if blk.isFree() {
		return false // caller treats this as a double-free
	}

	blk.markAsFree(c.pool, off)
	merged, mergedOff := c.mergePrev(blk, off)
	c.mergeNext(merged, mergedOff)
	c.insertFreeBlock(merged, mergedOff)
	return true
}
