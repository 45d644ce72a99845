// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tlsfalloc

// insertFreeBlock threads blk (at offset off) onto the head of the free
// list for its size class, updating both bitmap levels.
func (c *control) insertFreeBlock(blk *blockHeader, off uint32) {
	fl, sl := mappingInsert(blk.getSize())
	shelf := &c.cabinets[fl]
	head := shelf.shelves[sl]

	blk.nextFree = head
	blk.prevFree = offsetNull
	if head != offsetNull {
		blockAt(c.pool, head).prevFree = off
	}
	shelf.shelves[sl] = off

	c.flBitmap |= 1 << uint(fl)
	shelf.slBitmap |= 1 << uint(sl)
}

// removeFreeBlock detaches blk (at offset off, already known to belong to
// size class (fl, sl)) from its free list, clearing bitmap bits that
// become empty.
func (c *control) removeFreeBlock(blk *blockHeader, off uint32, fl, sl int) {
	shelf := &c.cabinets[fl]

	if blk.prevFree != offsetNull {
		blockAt(c.pool, blk.prevFree).nextFree = blk.nextFree
	} else {
		shelf.shelves[sl] = blk.nextFree
	}
	if blk.nextFree != offsetNull {
		blockAt(c.pool, blk.nextFree).prevFree = blk.prevFree
	}

	if shelf.shelves[sl] == offsetNull {
		shelf.slBitmap &^= 1 << uint(sl)
		if shelf.slBitmap == 0 {
			c.flBitmap &^= 1 << uint(fl)
		}
	}
}

// removeFree is a convenience wrapper that derives (fl, sl) from blk's
// current recorded size before removing it.
func (c *control) removeFree(blk *blockHeader, off uint32) {
	fl, sl := mappingInsert(blk.getSize())
	c.removeFreeBlock(blk, off, fl, sl)
}

// searchSuitableBlock finds a free block at least as large as size: the
// head of the lowest non-empty class at or above the one mappingSearch
// picks, adjusting (fl, sl) upward through the bitmap index when that
// class has no entries. Returns nil, 0, -1, -1
// when no pool-resident block is large enough.
func (c *control) searchSuitableBlock(size uint32) (blk *blockHeader, off uint32, fl, sl int) {
	fl, sl = mappingSearch(size)

	slMap := c.cabinets[fl].slBitmap & (^uint32(0) << uint(sl))
	if slMap == 0 {
		// No class with sl' >= sl under this fl has a free block; climb to
		// the next non-empty first-level class above fl.
		flMap := c.flBitmap & (^uint32(0) << uint(fl+1))
		if flMap == 0 {
			return nil, 0, -1, -1
		}
		fl = ffs(flMap)
		slMap = c.cabinets[fl].slBitmap
	}
	sl = ffs(slMap)

	off = c.cabinets[fl].shelves[sl]
	if off == offsetNull {
		return nil, 0, -1, -1
	}
	return blockAt(c.pool, off), off, fl, sl
}
