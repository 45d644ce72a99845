// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build !tlsfdebug

package tlsfalloc

// reportDebugAssert is a no-op in release builds: Check/CheckPool already
// returned the violation count to the caller, which is all a library
// embedded in another service should do with untrusted or corrupted state.
func reportDebugAssert(count int) {}
