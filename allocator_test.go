// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tlsfalloc_test

import (
	"testing"

	"code.hybscloud.com/tlsfalloc"
)

func newTestAllocator(t *testing.T, size int) (*tlsfalloc.Allocator, []byte) {
	t.Helper()
	mem := tlsfalloc.AlignedPoolMemory(size)
	a := tlsfalloc.New()
	if err := a.AddPool(mem, tlsfalloc.PoolConfig{}); err != nil {
		t.Fatalf("AddPool: %v", err)
	}
	return a, mem
}

// Scenario A: round trip — allocate, write, free, and observe the pool
// returns to a single free region.
func TestMallocFreeRoundTrip(t *testing.T) {
	a, _ := newTestAllocator(t, 64*1024)

	buf := a.Malloc(128)
	if buf == nil {
		t.Fatal("Malloc returned nil")
	}
	if len(buf) < 128 {
		t.Fatalf("got %d bytes, want >= 128", len(buf))
	}
	for i := range buf {
		buf[i] = 0xAB
	}
	a.Free(buf)

	if n := a.Check(); n != 0 {
		t.Fatalf("Check() = %d violations after round trip", n)
	}

	report := a.Report()
	if report.FreeBlockCount != 1 {
		t.Fatalf("FreeBlockCount = %d, want 1 after freeing the only allocation", report.FreeBlockCount)
	}
}

// Scenario B: coalescing — three adjacent allocations freed out of order
// must merge back into one free block.
func TestFreeCoalescesAdjacentBlocks(t *testing.T) {
	a, _ := newTestAllocator(t, 64*1024)

	b1 := a.Malloc(64)
	b2 := a.Malloc(64)
	b3 := a.Malloc(64)
	if b1 == nil || b2 == nil || b3 == nil {
		t.Fatal("Malloc returned nil")
	}

	a.Free(b2)
	a.Free(b1)
	a.Free(b3)

	if n := a.Check(); n != 0 {
		t.Fatalf("Check() = %d violations after freeing all blocks", n)
	}
	report := a.Report()
	if report.FreeBlockCount != 1 {
		t.Fatalf("FreeBlockCount = %d, want 1 after coalescing three adjacent frees", report.FreeBlockCount)
	}
}

// Scenario C: pool selection by policy — a MallocPolicy call restricted to
// PolicyCriticalOnly must never be satisfied from a PolicyDefault pool
// while a matching pool still has room.
func TestMallocPolicySelection(t *testing.T) {
	a := tlsfalloc.New()
	critical := tlsfalloc.AlignedPoolMemory(4096)
	general := tlsfalloc.AlignedPoolMemory(4096)

	if err := a.AddPool(critical, tlsfalloc.PoolConfig{Priority: 10, Policy: tlsfalloc.PolicyCriticalOnly}); err != nil {
		t.Fatalf("AddPool(critical): %v", err)
	}
	if err := a.AddPool(general, tlsfalloc.PoolConfig{Priority: 0}); err != nil {
		t.Fatalf("AddPool(general): %v", err)
	}

	buf := a.MallocPolicy(64, 0, tlsfalloc.PolicyCriticalOnly)
	if buf == nil {
		t.Fatal("MallocPolicy returned nil")
	}
	if idx := a.GetPoolIndex(buf); idx != 0 {
		t.Fatalf("GetPoolIndex = %d, want 0 (the critical pool)", idx)
	}
}

// Scenario D: alignment — Memalign must return addresses that are exact
// multiples of the requested power-of-two alignment.
func TestMemalignAlignsAddress(t *testing.T) {
	a, _ := newTestAllocator(t, 256*1024)

	for _, align := range []int{16, 64, 256, 4096} {
		buf := a.Memalign(align, 128)
		if buf == nil {
			t.Fatalf("Memalign(%d, 128) returned nil", align)
		}
		addr := addrOf(buf)
		if addr%uintptr(align) != 0 {
			t.Fatalf("Memalign(%d, ...) address %#x is not aligned", align, addr)
		}
	}
	if n := a.Check(); n != 0 {
		t.Fatalf("Check() = %d violations after Memalign calls", n)
	}
}

// Scenario E: failure handler — when every pool is exhausted, the
// configured AllocationFailureHandler is consulted and its result honored.
func TestAllocationFailureHandlerIsConsulted(t *testing.T) {
	a, _ := newTestAllocator(t, 512)

	var called bool
	fallback := make([]byte, 1<<20)
	a.SetAllocationFailureHandler(func(requestedSize int) []byte {
		called = true
		return fallback[:requestedSize]
	})

	buf := a.Malloc(1 << 20) // far larger than the pool
	if !called {
		t.Fatal("AllocationFailureHandler was not invoked")
	}
	if len(buf) != 1<<20 {
		t.Fatalf("got %d bytes back from the fallback handler, want %d", len(buf), 1<<20)
	}
}

// Realloc both growing and shrinking an allocation must preserve existing
// data.
func TestReallocPreservesData(t *testing.T) {
	a, _ := newTestAllocator(t, 64*1024)

	buf := a.Malloc(256)
	if buf == nil {
		t.Fatal("Malloc returned nil")
	}
	for i := range buf[:256] {
		buf[i] = byte(i)
	}

	grown := a.Realloc(buf, 1024)
	if grown == nil {
		t.Fatal("Realloc(grow) returned nil")
	}
	for i := 0; i < 256; i++ {
		if grown[i] != byte(i) {
			t.Fatalf("grown[%d] = %d, want %d", i, grown[i], byte(i))
		}
	}

	shrunk := a.Realloc(grown, 64)
	if shrunk == nil {
		t.Fatal("Realloc(shrink) returned nil")
	}
	for i := 0; i < 64; i++ {
		if shrunk[i] != byte(i) {
			t.Fatalf("shrunk[%d] = %d, want %d", i, shrunk[i], byte(i))
		}
	}

	if n := a.Check(); n != 0 {
		t.Fatalf("Check() = %d violations after Realloc sequence", n)
	}
}

func TestReallocNilIsMalloc(t *testing.T) {
	a, _ := newTestAllocator(t, 4096)
	buf := a.Realloc(nil, 64)
	if buf == nil {
		t.Fatal("Realloc(nil, 64) returned nil")
	}
}

func TestReallocZeroSizeFrees(t *testing.T) {
	a, _ := newTestAllocator(t, 4096)
	buf := a.Malloc(64)
	if a.Realloc(buf, 0) != nil {
		t.Fatal("Realloc(buf, 0) should return nil")
	}
	if n := a.Report().FreeBlockCount; n != 1 {
		t.Fatalf("FreeBlockCount = %d, want 1 after Realloc-as-free", n)
	}
}

func TestCallocZeroesMemory(t *testing.T) {
	a, _ := newTestAllocator(t, 4096)
	first := a.Malloc(256)
	for i := range first {
		first[i] = 0xFF
	}
	a.Free(first)

	buf := a.Calloc(16, 16)
	if buf == nil {
		t.Fatal("Calloc returned nil")
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("buf[%d] = %#x, want 0", i, b)
		}
	}
}

func TestCallocOverflowReturnsNil(t *testing.T) {
	a, _ := newTestAllocator(t, 4096)
	if buf := a.Calloc(1<<40, 1<<40); buf != nil {
		t.Fatal("Calloc with overflowing n*size should return nil")
	}
}

func TestDoubleFreeIsRejected(t *testing.T) {
	a, _ := newTestAllocator(t, 4096)
	buf := a.Malloc(64)
	if buf == nil {
		t.Fatal("Malloc returned nil")
	}
	a.Free(buf)
	a.Free(buf) // must not panic or corrupt state

	if n := a.Check(); n != 0 {
		t.Fatalf("Check() = %d violations after double free", n)
	}
}

func TestDefragmentReportsZeroInSteadyState(t *testing.T) {
	a, _ := newTestAllocator(t, 64*1024)
	bufs := make([][]byte, 8)
	for i := range bufs {
		bufs[i] = a.Malloc(128)
	}
	for i := 0; i < len(bufs); i += 2 {
		a.Free(bufs[i])
	}
	if n := a.Defragment(); n != 0 {
		t.Fatalf("Defragment() = %d, want 0 (Free already coalesces)", n)
	}
}

func TestRemovePoolRejectsLiveAllocations(t *testing.T) {
	a, mem := newTestAllocator(t, 4096)
	buf := a.Malloc(64)
	if buf == nil {
		t.Fatal("Malloc returned nil")
	}
	if err := a.RemovePool(mem); err == nil {
		t.Fatal("RemovePool should fail while a block is still live")
	}
	a.Free(buf)
	if err := a.RemovePool(mem); err != nil {
		t.Fatalf("RemovePool after freeing everything: %v", err)
	}
}

func TestAddPoolRejectsUnalignedMemory(t *testing.T) {
	a := tlsfalloc.New()
	mem := make([]byte, 4096)
	unaligned := mem[1:]
	if err := a.AddPool(unaligned, tlsfalloc.PoolConfig{}); err == nil {
		t.Fatal("AddPool should reject non-alignSize-aligned memory")
	}
}

func TestMallocZeroSizeReturnsNil(t *testing.T) {
	a, _ := newTestAllocator(t, 4096)
	if a.Malloc(0) != nil {
		t.Fatal("Malloc(0) should return nil")
	}
}

// Malloc's default priority is "any" (-1), so it must be able to reach a
// pool configured with a non-Default policy; only MallocPolicy callers that
// explicitly request a policy should ever be turned away from one.
func TestMallocReachesAnyPolicyPool(t *testing.T) {
	a := tlsfalloc.New()
	mem := tlsfalloc.AlignedPoolMemory(4096)
	if err := a.AddPool(mem, tlsfalloc.PoolConfig{Priority: 5, Policy: tlsfalloc.PolicyFastAccess}); err != nil {
		t.Fatalf("AddPool: %v", err)
	}
	if buf := a.Malloc(64); buf == nil {
		t.Fatal("Malloc should reach a pool regardless of its configured policy")
	}
}

// Within the strict pass, a pool too small to service the request must not
// mask another pool that also meets the priority/policy constraints.
func TestMallocPolicyFallsThroughExhaustedStrictPool(t *testing.T) {
	a := tlsfalloc.New()
	small := tlsfalloc.AlignedPoolMemory(256)
	big := tlsfalloc.AlignedPoolMemory(8192)
	if err := a.AddPool(small, tlsfalloc.PoolConfig{Priority: 10, Policy: tlsfalloc.PolicyCriticalOnly}); err != nil {
		t.Fatalf("AddPool(small): %v", err)
	}
	if err := a.AddPool(big, tlsfalloc.PoolConfig{Priority: 10, Policy: tlsfalloc.PolicyCriticalOnly}); err != nil {
		t.Fatalf("AddPool(big): %v", err)
	}

	buf := a.MallocPolicy(4096, 0, tlsfalloc.PolicyCriticalOnly)
	if buf == nil {
		t.Fatal("MallocPolicy should fall through to the second strict-pass pool once the first is too small")
	}
	if idx := a.GetPoolIndex(buf); idx != 1 {
		t.Fatalf("GetPoolIndex = %d, want 1 (the pool big enough to serve the request)", idx)
	}
}

// When every strict-pass (priority-qualifying) pool is exhausted, the
// search must relax the priority constraint rather than failing outright.
func TestMallocPolicyRelaxesPriorityOnExhaustion(t *testing.T) {
	a := tlsfalloc.New()
	highButFull := tlsfalloc.AlignedPoolMemory(256)
	lowButRoomy := tlsfalloc.AlignedPoolMemory(8192)
	if err := a.AddPool(highButFull, tlsfalloc.PoolConfig{Priority: 10, Policy: tlsfalloc.PolicyFastAccess}); err != nil {
		t.Fatalf("AddPool(highButFull): %v", err)
	}
	if err := a.AddPool(lowButRoomy, tlsfalloc.PoolConfig{Priority: 1, Policy: tlsfalloc.PolicyFastAccess}); err != nil {
		t.Fatalf("AddPool(lowButRoomy): %v", err)
	}

	buf := a.MallocPolicy(4096, 5, tlsfalloc.PolicyFastAccess)
	if buf == nil {
		t.Fatal("MallocPolicy should relax the priority constraint and use the lower-priority pool")
	}
	if idx := a.GetPoolIndex(buf); idx != 1 {
		t.Fatalf("GetPoolIndex = %d, want 1 (the only pool with room)", idx)
	}
}

// Scenario F: resize — shrinking is only valid while the pool is entirely
// free and never consults a handler; growing requires one.
func TestResizePoolShrinkThenGrow(t *testing.T) {
	a := tlsfalloc.New()
	full := tlsfalloc.AlignedPoolMemory(8192)
	if err := a.AddPool(full, tlsfalloc.PoolConfig{}); err != nil {
		t.Fatalf("AddPool: %v", err)
	}

	half := len(full) / 2
	if err := a.ResizePool(full, half); err != nil {
		t.Fatalf("ResizePool(shrink): %v", err)
	}
	shrunkMem := a.GetPool(0)
	if len(shrunkMem) != half {
		t.Fatalf("pool length = %d, want %d after shrink", len(shrunkMem), half)
	}
	if n := a.Check(); n != 0 {
		t.Fatalf("Check() = %d violations after shrink", n)
	}

	doubleSize := len(full) * 2
	if err := a.ResizePool(shrunkMem, doubleSize); err != tlsfalloc.ErrNoResizeHandler {
		t.Fatalf("ResizePool(grow) without handler = %v, want ErrNoResizeHandler", err)
	}

	a.SetResizeAllocationHandler(func(pool []byte, currentSize, requestedSize int) []byte {
		return tlsfalloc.AlignedPoolMemory(requestedSize)
	})
	if err := a.ResizePool(shrunkMem, doubleSize); err != nil {
		t.Fatalf("ResizePool(grow) with handler: %v", err)
	}
	grownMem := a.GetPool(0)
	if len(grownMem) != doubleSize {
		t.Fatalf("pool length = %d, want %d after grow", len(grownMem), doubleSize)
	}
	if n := a.Check(); n != 0 {
		t.Fatalf("Check() = %d violations after grow", n)
	}
}

func TestResizePoolRejectsShrinkWithLiveAllocations(t *testing.T) {
	a, mem := newTestAllocator(t, 4096)
	buf := a.Malloc(64)
	if buf == nil {
		t.Fatal("Malloc returned nil")
	}
	if err := a.ResizePool(mem, len(mem)/2); err != tlsfalloc.ErrPoolInUse {
		t.Fatalf("ResizePool(shrink) with a live allocation = %v, want ErrPoolInUse", err)
	}
}

func TestResizePoolEqualSizeIsNoop(t *testing.T) {
	a, mem := newTestAllocator(t, 4096)
	if err := a.ResizePool(mem, len(mem)); err != nil {
		t.Fatalf("ResizePool with an unchanged size: %v", err)
	}
}

// The aggregate FragmentationFactor must average each pool's own factor,
// not recompute one global ratio — otherwise a single large, unfragmented
// pool would mask severe fragmentation in a much smaller one.
func TestReportAveragesFragmentationFactorAcrossPools(t *testing.T) {
	fragmentedOnly := tlsfalloc.New()
	fragMem := tlsfalloc.AlignedPoolMemory(4096)
	if err := fragmentedOnly.AddPool(fragMem, tlsfalloc.PoolConfig{}); err != nil {
		t.Fatalf("AddPool: %v", err)
	}
	b1 := fragmentedOnly.Malloc(256)
	b2 := fragmentedOnly.Malloc(256)
	b3 := fragmentedOnly.Malloc(256)
	if b1 == nil || b2 == nil || b3 == nil {
		t.Fatal("Malloc returned nil while fragmenting the pool")
	}
	fragmentedOnly.Free(b1)
	fragmentedOnly.Free(b3)
	wantFrag := fragmentedOnly.Report().FragmentationFactor
	if wantFrag <= 0 {
		t.Fatal("expected a nonzero fragmentation factor with free space split either side of a live block")
	}

	combined := tlsfalloc.New()
	fragMem2 := tlsfalloc.AlignedPoolMemory(4096)
	cleanMem := tlsfalloc.AlignedPoolMemory(1 << 20)
	if err := combined.AddPool(fragMem2, tlsfalloc.PoolConfig{Policy: tlsfalloc.PolicyFastAccess}); err != nil {
		t.Fatalf("AddPool(fragmented): %v", err)
	}
	if err := combined.AddPool(cleanMem, tlsfalloc.PoolConfig{Policy: tlsfalloc.PolicyLowFragmentation}); err != nil {
		t.Fatalf("AddPool(clean): %v", err)
	}
	c1 := combined.MallocPolicy(256, 0, tlsfalloc.PolicyFastAccess)
	c2 := combined.MallocPolicy(256, 0, tlsfalloc.PolicyFastAccess)
	c3 := combined.MallocPolicy(256, 0, tlsfalloc.PolicyFastAccess)
	if c1 == nil || c2 == nil || c3 == nil {
		t.Fatal("MallocPolicy returned nil while fragmenting the pool")
	}
	combined.Free(c1)
	combined.Free(c3)

	want := wantFrag / 2 // averaged with the clean (unfragmented) pool's factor of 0
	got := combined.Report().FragmentationFactor
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("Report().FragmentationFactor = %v, want %v (average of per-pool factors)", got, want)
	}
}

func TestWalkPoolVisitsEveryBlock(t *testing.T) {
	a, mem := newTestAllocator(t, 4096)
	a.Malloc(64)
	a.Malloc(64)

	var used, free int
	err := a.WalkPool(mem, func(_ []byte, isUsed bool) {
		if isUsed {
			used++
		} else {
			free++
		}
	})
	if err != nil {
		t.Fatalf("WalkPool: %v", err)
	}
	if used != 2 || free != 1 {
		t.Fatalf("walked used=%d free=%d, want used=2 free=1", used, free)
	}
}
