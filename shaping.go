// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tlsfalloc

// canSplit reports whether a block of size blk.getSize() can be carved into
// a used portion of size wantSize and a remainder that still meets
// blockSizeMin.
func canSplit(blk *blockHeader, wantSize uint32) bool {
	return blk.getSize() >= wantSize+blockSizeMin
}

// split carves blk (at off) into a leading portion of exactly wantSize and
// a trailing free remainder, fixing up the boundary tag of the block that
// physically follows. blk's own free/used flag and the remainder's
// prev-free flag are left untouched; callers transition blk with
// markAsUsed/markAsFree immediately afterward, which also stamps the
// remainder's prev-free bit correctly since it becomes blk's new physical
// successor.
func (c *control) split(blk *blockHeader, off, wantSize uint32) (remainder *blockHeader, remOff uint32) {
	oldSize := blk.getSize()
	afterNext := blk.next(c.pool, off)

	blk.setSize(wantSize)
	remOff = off + wantSize
	remainder = blockAt(c.pool, remOff)
	remainder.prevPhysBlock = off
	remainder.setSize(oldSize - wantSize)
	remainder.setFree()

	afterNext.prevPhysBlock = remOff
	return remainder, remOff
}

// absorb merges the block physically following prev (known free, known
// adjacent, already removed from its free list by the caller) into prev,
// fixing up the boundary tag of the block that now follows prev.
func (c *control) absorb(prev *blockHeader, prevOff uint32, next *blockHeader, nextOff uint32) {
	prev.setSize(prev.getSize() + next.getSize())
	following := blockAt(c.pool, prevOff+prev.getSize())
	following.prevPhysBlock = prevOff
}

// mergePrev merges blk into its physically-previous block if that block is
// free, returning the surviving (merged) block and offset. If the
// predecessor is not free, blk/off are returned unchanged.
func (c *control) mergePrev(blk *blockHeader, off uint32) (*blockHeader, uint32) {
	if !blk.isPrevFree() {
		return blk, off
	}
	prev := blk.prev(c.pool)
	prevOff := blk.prevPhysBlock
	c.removeFree(prev, prevOff)
	c.absorb(prev, prevOff, blk, off)
	return prev, prevOff
}

// mergeNext merges the block physically following blk into blk if that
// block is free and not the pool's trailing sentinel, returning whether a
// merge happened.
func (c *control) mergeNext(blk *blockHeader, off uint32) bool {
	next := blk.next(c.pool, off)
	if next.isLast() || !next.isFree() {
		return false
	}
	nextOff := off + blk.getSize()
	c.removeFree(next, nextOff)
	c.absorb(blk, off, next, nextOff)
	return true
}

// trimFree carves a used block of exactly wantSize off the front of a free
// block found by searchSuitableBlock, reinserting any remainder as free.
// blk must already have been removed from its free list by the caller.
func (c *control) trimFree(blk *blockHeader, off, wantSize uint32) {
	if !canSplit(blk, wantSize) {
		blk.markAsUsed(c.pool, off)
		return
	}
	remainder, remOff := c.split(blk, off, wantSize)
	blk.markAsUsed(c.pool, off)
	c.insertFreeBlock(remainder, remOff)
}

// trimFreeLeading carves gapSize bytes off the front of a free block as a
// separate, still-free block (reinserted immediately), and returns the
// remaining tail as the block to continue operating on. Used by Memalign
// to discard an unaligned leading gap.
func (c *control) trimFreeLeading(blk *blockHeader, off, gapSize uint32) (*blockHeader, uint32) {
	remainder, remOff := c.split(blk, off, gapSize)
	blk.setFree()
	c.insertFreeBlock(blk, off)
	remainder.setFree()
	remainder.setPrevFree() // predecessor is blk, the carved-off gap, which is free
	return remainder, remOff
}

// trimUsed shrinks a used block in place to newSize, turning the freed tail
// into a free block merged with its physical successor if that successor
// is already free, else inserted as a standalone free block. Used by
// Realloc when shrinking in place.
func (c *control) trimUsed(blk *blockHeader, off, newSize uint32) {
	if !canSplit(blk, newSize) {
		return
	}
	remainder, remOff := c.split(blk, off, newSize)
	blk.setUsed()
	remainder.setFree()
	remainder.setPrevUsed() // predecessor is blk, which stays used
	next := remainder.next(c.pool, remOff)
	if !next.isLast() && next.isFree() {
		nextOff := remOff + remainder.getSize()
		c.removeFree(next, nextOff)
		c.absorb(remainder, remOff, next, nextOff)
	}
	next = remainder.next(c.pool, remOff)
	next.setPrevFree()
	c.insertFreeBlock(remainder, remOff)
}
