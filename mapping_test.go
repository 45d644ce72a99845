// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tlsfalloc

import "testing"

func TestMappingInsertSmallBlocksLinear(t *testing.T) {
	fl, sl := mappingInsert(0)
	if fl != 0 || sl != 0 {
		t.Fatalf("mappingInsert(0) = (%d, %d), want (0, 0)", fl, sl)
	}
	fl, sl = mappingInsert(smallBlockSize - 4)
	if fl != 0 {
		t.Fatalf("mappingInsert(smallBlockSize-4) fl = %d, want 0", fl)
	}
	if sl != sliCount-1 {
		t.Fatalf("mappingInsert(smallBlockSize-4) sl = %d, want %d", sl, sliCount-1)
	}
}

func TestMappingSearchNeverUndershoots(t *testing.T) {
	for _, size := range []uint32{128, 129, 200, 4096, 4097, 1 << 20} {
		fl, sl := mappingSearch(size)
		if fl < 0 || fl >= flIndexCount {
			t.Fatalf("mappingSearch(%d) fl = %d out of range", size, fl)
		}
		if sl < 0 || sl >= sliCount {
			t.Fatalf("mappingSearch(%d) sl = %d out of range", size, sl)
		}
		// The smallest size class (fl, sl) can hold must not be below size.
		band := uint32(1) << uint(fl+flIndexShift-1)
		if lower := band + uint32(sl)*(band>>slIndexLog2); lower < size {
			t.Fatalf("mappingSearch(%d) = (%d, %d), class lower bound %d is below the request", size, fl, sl, lower)
		}
	}
}

func TestMappingInsertMonotonic(t *testing.T) {
	prevFl, prevSl := mappingInsert(smallBlockSize)
	for size := uint32(smallBlockSize + alignSize); size < 1<<20; size += alignSize {
		fl, sl := mappingInsert(size)
		if fl < prevFl || (fl == prevFl && sl < prevSl) {
			t.Fatalf("mapping class decreased at size %d: (%d,%d) -> (%d,%d)", size, prevFl, prevSl, fl, sl)
		}
		prevFl, prevSl = fl, sl
	}
}
