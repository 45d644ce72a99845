// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tlsfalloc

// BlockVisitor is called once per physical block by WalkPool, in ascending
// address order. payload is the block's user-addressable region (for a
// free block this is the list-link storage, not caller data).
type BlockVisitor func(payload []byte, used bool)

// walk enumerates every physical block in this control's pool, used or
// free, in ascending address order.
func (c *control) walk(fn BlockVisitor) {
	off := c.base
	blk := blockAt(c.pool, off)
	for !blk.isLast() {
		size := blk.getSize()
		fn(payloadBytes(c.pool, payloadOffset(off), size-wordSize), !blk.isFree())
		off += size
		blk = blockAt(c.pool, off)
	}
}

// checkIntegrity walks the physical block chain and the free-list index
// cross-checking every invariant from the data model, returning the number
// of violations found (0 when consistent).
func (c *control) checkIntegrity() int {
	violations := 0

	off := c.base
	blk := blockAt(c.pool, off)
	prevWasFree := false
	for {
		size := blk.getSize()
		if size != 0 && size%alignSize != 0 {
			violations++
		}
		if blk.isFree() && prevWasFree {
			violations++ // invariant 2: no two adjacent free blocks
		}
		if blk.isPrevFree() != prevWasFree {
			violations++ // invariant 1 (boundary tag vs. actual state)
		}
		if blk.isLast() {
			break
		}
		prevWasFree = blk.isFree()
		off += size
		blk = blockAt(c.pool, off)
	}

	for fl := 0; fl < flIndexCount; fl++ {
		shelf := &c.cabinets[fl]
		for sl := 0; sl < sliCount; sl++ {
			listHasBit := shelf.slBitmap&(1<<uint(sl)) != 0
			listEmpty := shelf.shelves[sl] == offsetNull
			if listHasBit == listEmpty {
				violations++ // invariant 4: bitmap/list-head coherence
				continue
			}
			for o := shelf.shelves[sl]; o != offsetNull; {
				b := blockAt(c.pool, o)
				if !b.isFree() {
					violations++
				}
				gotFl, gotSl := mappingInsert(b.getSize())
				if gotFl != fl || gotSl != sl {
					violations++ // invariant 3: wrong class
				}
				o = b.nextFree
			}
		}
		bitSet := c.flBitmap&(1<<uint(fl)) != 0
		if bitSet != (shelf.slBitmap != 0) {
			violations++
		}
	}

	return violations
}

// defragment walks the physical chain once, absorbing every run of
// adjacent free blocks into a single free block, and returns the number of
// pairwise merges performed. In steady state this is always 0, since
// invariant 2 forbids adjacency across any public API boundary; it exists
// to recover from (and report) a hypothetical violation of that invariant.
func (c *control) defragment() int {
	merges := 0
	off := c.base
	blk := blockAt(c.pool, off)
	for !blk.isLast() {
		if blk.isFree() {
			c.removeFree(blk, off)
			for c.mergeNext(blk, off) {
				merges++
			}
			c.insertFreeBlock(blk, off)
		}
		off += blk.getSize()
		blk = blockAt(c.pool, off)
	}
	return merges
}
