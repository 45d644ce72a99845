// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tlsfalloc

import "math/bits"

// ffs returns the zero-based index of the lowest set bit in word, or -1 if
// word is zero. This is the find-first-set primitive the free-list index
// uses to pick the narrowest non-empty second-level class out of a bitmap.
func ffs(word uint32) int {
	if word == 0 {
		return -1
	}
	return bits.TrailingZeros32(word)
}

// fls returns the zero-based index of the highest set bit in word, or -1 if
// word is zero. This is the find-last-set primitive the size-class mapping
// uses to locate the first-level (coarse) bucket for a given byte size.
func fls(word uint32) int {
	if word == 0 {
		return -1
	}
	return bits.Len32(word) - 1
}
