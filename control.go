// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tlsfalloc

// secondLevel holds the free-list heads and occupancy bitmap for every
// second-level class under one first-level class.
type secondLevel struct {
	slBitmap uint32
	shelves  [sliCount]uint32 // offsets; offsetNull when a class is empty
}

// control is the per-pool TLSF index: a two-level bitmap over flIndexCount
// first-level classes, each with sliCount second-level classes, plus the
// physical bounds of the pool it indexes.
type control struct {
	flBitmap uint32
	cabinets [flIndexCount]secondLevel

	// pool is the backing memory this control indexes. base and end are the
	// offsets (in the sizeAndFlags-relative addressing scheme, see block.go)
	// of the first real block and the trailing sentinel block respectively.
	pool []byte
	base uint32
	end  uint32
}

// initialiseControl lays out a fresh control over pool: it reserves the
// leading phantom word, places one large free block spanning the rest of
// the pool short of a trailing zero-size sentinel, and records both bounds.
func initialiseControl(pool []byte) *control {
	c := &control{pool: pool}
	for fl := 0; fl < flIndexCount; fl++ {
		c.cabinets[fl].slBitmap = 0
		for sl := 0; sl < sliCount; sl++ {
			c.cabinets[fl].shelves[sl] = offsetNull
		}
	}

	c.base = wordSize
	usable := uint32(len(pool)) - poolOverhead
	first := blockAt(pool, c.base)
	first.prevPhysBlock = 0
	first.setSize(usable)
	first.setFree()
	first.setPrevUsed()

	sentinel := first.linkNext(pool, c.base)
	sentinel.setSize(0)
	sentinel.setUsed()
	sentinel.setPrevFree()
	c.end = toOffset(pool, sentinel)

	c.insertFreeBlock(first, c.base)
	return c
}

// poolBounds reports the offset range [base, end) of real, addressable
// block headers within this control's pool, end being the sentinel.
func (c *control) poolBounds() (base, end uint32) {
	return c.base, c.end
}
