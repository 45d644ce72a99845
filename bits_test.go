// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tlsfalloc

import "testing"

func TestFfsFls(t *testing.T) {
	cases := []struct {
		word    uint32
		wantFfs int
		wantFls int
	}{
		{0, -1, -1},
		{1, 0, 0},
		{2, 1, 1},
		{3, 0, 1},
		{1 << 31, 31, 31},
		{0x80000001, 0, 31},
	}
	for _, c := range cases {
		if got := ffs(c.word); got != c.wantFfs {
			t.Errorf("ffs(%#x) = %d, want %d", c.word, got, c.wantFfs)
		}
		if got := fls(c.word); got != c.wantFls {
			t.Errorf("fls(%#x) = %d, want %d", c.word, got, c.wantFls)
		}
	}
}
