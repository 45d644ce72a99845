// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tlsfalloc

const (
	slIndexLog2 = 5
	sliCount    = 1 << slIndexLog2 // 32 second-level classes per first-level class

	alignSizeLog2 = 2 // log2(alignSize)
	flIndexShift  = slIndexLog2 + alignSizeLog2
	flIndexMax    = 31
	flIndexCount  = flIndexMax - flIndexShift + 1 // 25

	smallBlockSize = 1 << flIndexShift // 128
)

// mappingInsert maps a block size to the (fl, sl) class that a free block
// of exactly that size is inserted into. Sizes below smallBlockSize are
// spread linearly across first-level class 0; sizes at or above it use the
// top set bit as the first-level class and the following slIndexLog2 bits
// as the second-level class.
func mappingInsert(size uint32) (fl, sl int) {
	if size < smallBlockSize {
		fl = 0
		sl = int(size) / (smallBlockSize / sliCount)
		return
	}
	f := fls(size)
	sl = int(size>>(uint(f)-slIndexLog2)) ^ (1 << slIndexLog2)
	fl = f - (flIndexShift - 1)
	return
}

// mappingSearch maps a requested size to the (fl, sl) class of the smallest
// free-list that is guaranteed to hold a block big enough to satisfy it: it
// rounds size up to the next class boundary before delegating to
// mappingInsert, so a caller searching this class never has to also check
// the class below it.
func mappingSearch(size uint32) (fl, sl int) {
	if size >= smallBlockSize {
		round := (uint32(1) << (uint(fls(size)) - slIndexLog2)) - 1
		size += round
	}
	return mappingInsert(size)
}
