// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build tlsfdebug

package tlsfalloc

import "fmt"

// reportDebugAssert panics when built with -tags tlsfdebug, turning a
// detected integrity violation into an immediate, loud failure during
// development instead of a silently returned negative count.
func reportDebugAssert(count int) {
	if count > 0 {
		panic(fmt.Sprintf("tlsfalloc: %v (%d violations)", ErrIntegrityViolation, count))
	}
}
