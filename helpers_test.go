// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tlsfalloc_test

import "unsafe"

// addrOf exposes a slice's backing address for alignment assertions in
// tests; the package itself confines unsafe usage to block.go and
// memory.go, but verifying Memalign's contract needs the raw address.
func addrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}
