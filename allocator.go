// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tlsfalloc

import (
	"fmt"
	"log"
	"math"
	"sort"

	"code.hybscloud.com/iox"
)

// MaxPool is the upper bound on how many pools a single Allocator may hold.
const MaxPool = 5

// DefaultFragmentationThreshold is the FragmentationFactor above which
// auto-defragment (once enabled) triggers a sweep.
const DefaultFragmentationThreshold = 0.75

// AllocationFailureHandler is consulted when every eligible pool fails to
// satisfy a request. It is called with the Allocator's global lock held.
// It returns a slice of at least requestedSize bytes, or nil to let the
// request fail.
type AllocationFailureHandler func(requestedSize int) []byte

// ResizeAllocationHandler backs ResizePool: given a pool's current backing
// memory and size, it must return new backing memory of at least
// requestedSize bytes (the allocator copies live data itself after the
// handler returns), or nil to decline the resize.
type ResizeAllocationHandler func(pool []byte, currentSize, requestedSize int) []byte

// Allocator is a TLSF allocator over one or more caller-supplied pools. The
// zero value is not usable; construct with New.
type Allocator struct {
	_ noCopy

	pools []*pool

	globalLock     Lockable
	perPoolLocking bool

	onFailure AllocationFailureHandler
	onResize  ResizeAllocationHandler

	autoDefragEnabled   bool
	autoDefragThreshold float64
	allocCount          uint64

	logger *log.Logger
}

// New constructs an Allocator with no pools registered. Call AddPool at
// least once before allocating.
func New() *Allocator {
	return &Allocator{
		globalLock:          &mutexLockable{},
		autoDefragThreshold: DefaultFragmentationThreshold,
	}
}

// SetLock installs the Lockable guarding the pool registry and every
// operation that does not already know its target pool ahead of time.
func (a *Allocator) SetLock(l Lockable) {
	a.globalLock = l
}

// SetLockForPool installs a per-pool Lockable for the pool backed by mem.
// Only consulted once SetPerPoolLocking(true) has been called.
func (a *Allocator) SetLockForPool(mem []byte, l Lockable) error {
	p := a.poolFor(mem)
	if p == nil {
		return ErrPoolNotFound
	}
	p.lock = l
	return nil
}

// SetPerPoolLocking switches Free, CheckPool and WalkPool to acquiring
// their target pool's own Lockable instead of the global one. RemovePool
// and ResizePool do not use per-pool locks: they always hold the global
// lock, as do pool-selecting operations (Malloc family, Report,
// Defragment), regardless of this setting.
func (a *Allocator) SetPerPoolLocking(enabled bool) {
	a.perPoolLocking = enabled
}

// SetAllocationFailureHandler installs the out-of-memory recovery hook.
func (a *Allocator) SetAllocationFailureHandler(h AllocationFailureHandler) {
	a.onFailure = h
}

// SetResizeAllocationHandler installs the backing-memory resize hook used
// by ResizePool.
func (a *Allocator) SetResizeAllocationHandler(h ResizeAllocationHandler) {
	a.onResize = h
}

// SetAutoDefragment enables or disables the periodic fragmentation check
// performed every tenth successful allocation.
func (a *Allocator) SetAutoDefragment(enable bool, threshold float64) {
	a.autoDefragEnabled = enable
	a.autoDefragThreshold = threshold
}

// SetLogger installs the diagnostic sink used to report double-free and
// integrity-check failures. A nil logger (the default) silences them.
func (a *Allocator) SetLogger(l *log.Logger) {
	a.logger = l
}

func (a *Allocator) lock() {
	a.globalLock.Lock(lockForever)
}

func (a *Allocator) unlock() {
	a.globalLock.Unlock()
}

func (a *Allocator) lockPool(p *pool) {
	if a.perPoolLocking && p.lock != nil {
		p.lock.Lock(lockForever)
		return
	}
	a.lock()
}

func (a *Allocator) unlockPool(p *pool) {
	if a.perPoolLocking && p.lock != nil {
		p.lock.Unlock()
		return
	}
	a.unlock()
}

func (a *Allocator) poolFor(mem []byte) *pool {
	for _, p := range a.pools {
		if len(p.memory) == len(mem) && (len(mem) == 0 || &p.memory[0] == &mem[0]) {
			return p
		}
	}
	return nil
}

// AddPool registers mem (which must be alignSize-aligned and at least
// blockSizeMin+poolOverhead bytes long) as a new pool governed by cfg.
func (a *Allocator) AddPool(mem []byte, cfg PoolConfig) error {
	a.lock()
	defer a.unlock()

	if len(a.pools) >= MaxPool {
		return ErrPoolFull
	}
	if !isAligned(mem) {
		return ErrInvalidArgument
	}
	if uint32(len(mem)) < blockSizeMin+poolOverhead {
		return ErrInvalidArgument
	}

	a.pools = append(a.pools, &pool{
		ctl:    initialiseControl(mem),
		memory: mem,
		cfg:    cfg,
	})
	return nil
}

// RemovePool unregisters the pool backed by mem. Returns ErrPoolInUse if
// the pool still holds any used block.
func (a *Allocator) RemovePool(mem []byte) error {
	a.lock()
	defer a.unlock()

	idx := -1
	for i, p := range a.pools {
		if len(p.memory) == len(mem) && (len(mem) == 0 || &p.memory[0] == &mem[0]) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrPoolNotFound
	}
	p := a.pools[idx]

	inUse := false
	p.ctl.walk(func(_ []byte, used bool) {
		if used {
			inUse = true
		}
	})
	if inUse {
		return ErrPoolInUse
	}

	a.pools = append(a.pools[:idx], a.pools[idx+1:]...)
	return nil
}

// ResizePool grows or shrinks the pool backed by mem to newSize bytes. Equal
// sizes are a no-op. Growing consults the configured ResizeAllocationHandler
// for replacement backing memory and preserves all live allocations;
// ErrNoResizeHandler if none is installed. Shrinking never consults a
// handler: it succeeds only when the pool holds no live allocations (a
// single free block spanning the whole usable region), truncating that
// block and rewriting the sentinel in place, else ErrPoolInUse.
func (a *Allocator) ResizePool(mem []byte, newSize int) error {
	a.lock()
	defer a.unlock()

	p := a.poolForLocked(mem)
	if p == nil {
		return ErrPoolNotFound
	}
	if newSize == len(p.memory) {
		return nil
	}
	if newSize < len(p.memory) {
		return a.shrinkPoolLocked(p, newSize)
	}

	if a.onResize == nil {
		return ErrNoResizeHandler
	}
	newMem := a.onResize(p.memory, len(p.memory), newSize)
	if newMem == nil || !isAligned(newMem) || uint32(len(newMem)) < blockSizeMin+poolOverhead {
		return ErrOutOfMemory
	}

	copy(newMem, p.memory)
	// Grow in place: the physical chain below the old sentinel is
	// untouched by the copy above, so extend it with a new free block
	// spanning the appended bytes instead of rebuilding the index.
	p.ctl = growControl(p.ctl, newMem)
	p.memory = newMem
	return nil
}

// shrinkPoolLocked truncates p's backing memory to newSize in place. Per
// spec, shrinking is only valid when the pool is entirely free (no live
// allocations) and never calls a ResizeAllocationHandler.
func (a *Allocator) shrinkPoolLocked(p *pool, newSize int) error {
	if newSize < 0 || uint32(newSize) < blockSizeMin+poolOverhead {
		return ErrInvalidArgument
	}

	blockCount, inUse := 0, false
	p.ctl.walk(func(_ []byte, used bool) {
		blockCount++
		if used {
			inUse = true
		}
	})
	if inUse || blockCount != 1 {
		return ErrPoolInUse
	}

	newMem := p.memory[:newSize]
	p.ctl = shrinkControl(p.ctl, newMem)
	p.memory = newMem
	return nil
}

func (a *Allocator) poolForLocked(mem []byte) *pool {
	for _, p := range a.pools {
		if len(p.memory) == len(mem) && (len(mem) == 0 || &p.memory[0] == &mem[0]) {
			return p
		}
	}
	return nil
}

// GetPool returns the backing memory of the pool at index i, or nil if out
// of range.
func (a *Allocator) GetPool(i int) []byte {
	a.lock()
	defer a.unlock()
	if i < 0 || i >= len(a.pools) {
		return nil
	}
	return a.pools[i].memory
}

// GetPoolIndex returns the registry index of the pool backing p, or -1.
func (a *Allocator) GetPoolIndex(p []byte) int {
	a.lock()
	defer a.unlock()
	for i, pl := range a.pools {
		if _, ok := offsetInPool(pl.memory, p); ok {
			return i
		}
	}
	return -1
}

// poolOwning returns the registered pool whose memory backs p, if any.
func (a *Allocator) poolOwning(p []byte) *pool {
	for _, pl := range a.pools {
		if _, ok := offsetInPool(pl.memory, p); ok {
			return pl
		}
	}
	return nil
}

// selectPools runs the three-pass policy engine and returns the ordered
// list of passes to try. priority < 0 means "any priority" (the constraint
// is skipped); policy == PolicyDefault means "any policy" (likewise
// skipped).
//
//  1. Strict: pools meeting both constraints, highest priority first.
//  2. Relaxed: the priority constraint dropped (only the pools it newly
//     admits — the strict set already failed and need not be retried).
//  3. Fallback: every registered pool, policy ignored too.
//
// Within passes 1 and 2, MallocPolicy tries every pool in the pass before
// falling through to the next pass, so a pool that cannot service the
// request never masks another eligible one.
func (a *Allocator) selectPools(priority int, policy Policy) [][]*pool {
	var strict, relaxed []*pool
	for _, p := range a.pools {
		if policy != PolicyDefault && p.cfg.Policy != policy {
			continue
		}
		if priority < 0 || p.cfg.Priority >= priority {
			strict = append(strict, p)
		} else {
			relaxed = append(relaxed, p)
		}
	}
	sort.SliceStable(strict, func(i, j int) bool {
		return strict[i].cfg.Priority > strict[j].cfg.Priority
	})
	sort.SliceStable(relaxed, func(i, j int) bool {
		return relaxed[i].cfg.Priority > relaxed[j].cfg.Priority
	})

	var passes [][]*pool
	if len(strict) > 0 {
		passes = append(passes, strict)
	}
	if len(relaxed) > 0 {
		passes = append(passes, relaxed)
	}
	passes = append(passes, a.pools)
	return passes
}

// Malloc returns a slice of at least size bytes from any eligible pool, or
// nil if size is 0 or no pool (and no failure handler) could satisfy it.
func (a *Allocator) Malloc(size int) []byte {
	return a.MallocPolicy(size, -1, PolicyDefault)
}

// MallocPolicy is Malloc constrained to pools matching policy at or above
// priority, per the three-pass selection in selectPools. Exhausting one
// pass falls through to the next in registration order.
func (a *Allocator) MallocPolicy(size int, priority int, policy Policy) []byte {
	if size <= 0 {
		return nil
	}
	a.lock()
	defer a.unlock()

	for _, candidates := range a.selectPools(priority, policy) {
		for _, p := range candidates {
			if b := p.ctl.allocate(uint32(size)); b != nil {
				a.afterAlloc()
				return b
			}
		}
	}
	if a.onFailure != nil {
		return a.onFailure(size)
	}
	return nil
}

// Calloc allocates space for n elements of size bytes each, zeroed. Fails
// (returns nil) if n*size overflows or no pool can satisfy the request.
func (a *Allocator) Calloc(n, size int) []byte {
	if n < 0 || size < 0 {
		return nil
	}
	total := n * size
	if size != 0 && total/size != n {
		return nil
	}
	b := a.Malloc(total)
	if b == nil {
		return nil
	}
	clear(b)
	return b
}

// gapMinimum is the smallest leading gap Memalign will carve off as a
// separate free block; a smaller non-zero gap is widened by whole align
// steps until it reaches gapMinimum. A block whose payload is already
// aligned is used without a gap.
const gapMinimum = blockHeaderSize

// Memalign returns a slice of at least size bytes whose address is a
// multiple of align, which must be a non-zero power of two.
func (a *Allocator) Memalign(align, size int) []byte {
	if size <= 0 || align <= 0 || align&(align-1) != 0 {
		return nil
	}
	a.lock()
	defer a.unlock()

	want := blockSizeForPayload(uint32(size)) + uint32(align) + gapMinimum
	for _, p := range a.pools {
		blk, off, fl, sl := p.ctl.searchSuitableBlock(want)
		if blk == nil {
			continue
		}
		p.ctl.removeFreeBlock(blk, off, fl, sl)

		payloadOff := payloadOffset(off)
		alignedPayload := (payloadOff + uint32(align) - 1) &^ (uint32(align) - 1)
		for alignedPayload-payloadOff < gapMinimum && alignedPayload != payloadOff {
			alignedPayload += uint32(align)
		}
		gap := alignedPayload - payloadOff

		if gap > 0 {
			newOff := blockOffsetFromPayload(alignedPayload)
			_, newOff = p.ctl.trimFreeLeading(blk, off, newOff-off)
			blk = blockAt(p.ctl.pool, newOff)
			off = newOff
		}

		result := p.ctl.prepareUsed(blk, off, blockSizeForPayload(uint32(size)))
		a.afterAlloc()
		return result
	}
	if a.onFailure != nil {
		return a.onFailure(size)
	}
	return nil
}

// Realloc resizes the allocation backing p to size bytes, preserving
// min(old, new) leading bytes. size == 0 behaves like Free(p); p == nil
// behaves like Malloc(size).
func (a *Allocator) Realloc(p []byte, size int) []byte {
	if p == nil {
		return a.Malloc(size)
	}
	if size == 0 {
		a.Free(p)
		return nil
	}

	a.lock()
	owner := a.poolOwning(p)
	if owner == nil {
		a.unlock()
		return nil
	}
	off, _ := offsetInPool(owner.memory, p)
	blk := blockAt(owner.memory, off)
	oldSize := blk.getSize()
	wantSize := blockSizeForPayload(uint32(size))

	if wantSize <= oldSize {
		owner.ctl.trimUsed(blk, off, wantSize)
		a.unlock()
		return payloadBytes(owner.memory, payloadOffset(off), blk.getSize()-wordSize)
	}

	next := blk.next(owner.memory, off)
	if !next.isLast() && next.isFree() {
		nextOff := off + blk.getSize()
		if oldSize+next.getSize() >= wantSize {
			owner.ctl.removeFree(next, nextOff)
			owner.ctl.absorb(blk, off, next, nextOff)
			following := next.next(owner.memory, nextOff)
			following.setPrevUsed()
			owner.ctl.trimUsed(blk, off, wantSize)
			a.unlock()
			return payloadBytes(owner.memory, payloadOffset(off), blk.getSize()-wordSize)
		}
	}
	a.unlock()

	fresh := a.Malloc(size)
	if fresh == nil {
		return nil
	}
	n := len(p)
	if n > len(fresh) {
		n = len(fresh)
	}
	copy(fresh, p[:n])
	a.Free(p)
	return fresh
}

// Free releases p back to its owning pool. nil is a no-op. A double free
// is detected and rejected without corrupting allocator state; if a Logger
// is configured it is reported through it.
func (a *Allocator) Free(p []byte) {
	if p == nil {
		return
	}
	a.lock()
	owner := a.poolOwning(p)
	if owner == nil {
		a.unlock()
		return
	}
	a.unlock()

	a.lockPool(owner)
	ok := owner.ctl.free(p)
	a.unlockPool(owner)

	if !ok && a.logger != nil {
		a.logger.Printf("tlsfalloc: %v", ErrDoubleFree)
	}
}

// MallocBackoff retries MallocPolicy up to attempts times, backing off
// between tries with iox.Backoff. It is meant for callers contending with
// other goroutines freeing memory concurrently, where an immediate Malloc
// failure is often transient rather than genuine exhaustion. Returns
// iox.ErrWouldBlock, wrapped, if every attempt fails.
func (a *Allocator) MallocBackoff(size int, priority int, policy Policy, attempts int) ([]byte, error) {
	var bo iox.Backoff
	for i := 0; i < attempts; i++ {
		if b := a.MallocPolicy(size, priority, policy); b != nil {
			return b, nil
		}
		bo.Wait()
	}
	return nil, fmt.Errorf("tlsfalloc: %w after %d attempts", iox.ErrWouldBlock, attempts)
}

func (a *Allocator) afterAlloc() {
	a.allocCount++
	if !a.autoDefragEnabled || a.allocCount%10 != 0 {
		return
	}
	if a.report().FragmentationFactor > a.autoDefragThreshold {
		a.defragmentLocked()
	}
}

// Check walks every pool's free-list index and physical chain, returning
// 0 if every invariant holds and otherwise the total number of detected
// inconsistencies across all pools, negated.
func (a *Allocator) Check() int {
	a.lock()
	defer a.unlock()
	total := 0
	for _, p := range a.pools {
		total += p.ctl.checkIntegrity()
	}
	if total > 0 {
		a.reportIntegrityViolation(total)
	}
	return -total
}

// CheckPool checks a single pool's internal consistency, returning 0 if it
// is consistent, the negated number of detected inconsistencies otherwise,
// and -1 if mem is not a registered pool.
func (a *Allocator) CheckPool(mem []byte) int {
	a.lock()
	p := a.poolForLocked(mem)
	a.unlock()
	if p == nil {
		return -1
	}
	a.lockPool(p)
	n := p.ctl.checkIntegrity()
	a.unlockPool(p)
	if n > 0 {
		a.reportIntegrityViolation(n)
	}
	return -n
}

func (a *Allocator) reportIntegrityViolation(count int) {
	if a.logger != nil {
		a.logger.Printf("tlsfalloc: %v (%d violations)", ErrIntegrityViolation, count)
	}
	reportDebugAssert(count)
}

// WalkPool enumerates every physical block of the pool backed by mem, used
// or free, in ascending address order.
func (a *Allocator) WalkPool(mem []byte, fn BlockVisitor) error {
	a.lock()
	p := a.poolForLocked(mem)
	a.unlock()
	if p == nil {
		return ErrPoolNotFound
	}
	a.lockPool(p)
	p.ctl.walk(fn)
	a.unlockPool(p)
	return nil
}

// Defragment sweeps every pool, coalescing adjacent free blocks, and
// returns the total number of merges performed.
func (a *Allocator) Defragment() int {
	a.lock()
	defer a.unlock()
	return a.defragmentLocked()
}

func (a *Allocator) defragmentLocked() int {
	total := 0
	for _, p := range a.pools {
		total += p.ctl.defragment()
	}
	return total
}

// Report aggregates a StorageReport across every registered pool.
func (a *Allocator) Report() StorageReport {
	a.lock()
	defer a.unlock()
	return a.report()
}

func (a *Allocator) report() StorageReport {
	r := StorageReport{SmallestFreeRegion: math.MaxUint32}
	var fragSum float64
	for _, p := range a.pools {
		pr := p.ctl.report()
		r = mergeReport(r, pr)
		fragSum += pr.FragmentationFactor
	}
	if len(a.pools) > 0 {
		r.FragmentationFactor = fragSum / float64(len(a.pools))
	}
	if len(a.pools) == 0 || r.FreeBlockCount == 0 {
		r.SmallestFreeRegion = 0
	}
	return r
}

// growControl extends an existing control over a larger backing slice by
// reusing its live index and growing the trailing sentinel region into a
// new free block spanning the appended bytes, merged with whatever free
// space already bordered the old sentinel.
func growControl(old *control, newMem []byte) *control {
	old.pool = newMem
	oldEnd := old.end

	sentinel := blockAt(newMem, oldEnd)
	sentinel.setSize((uint32(len(newMem)) - oldEnd) - (blockHeaderSize - wordSize))
	sentinel.setFree()

	following := sentinel.linkNext(newMem, oldEnd)
	following.setSize(0)
	following.setUsed()
	following.setPrevFree()
	old.end = toOffset(newMem, following)

	merged, mergedOff := sentinel, oldEnd
	if sentinel.isPrevFree() {
		merged, mergedOff = old.mergePrev(sentinel, oldEnd)
	}
	old.insertFreeBlock(merged, mergedOff)
	return old
}

// shrinkControl truncates a control whose usable region is exactly one free
// block (verified by the caller) to newMem, a shorter slice over the same
// backing array, rewriting that block's size and the trailing sentinel in
// place.
func shrinkControl(c *control, newMem []byte) *control {
	blk := blockAt(c.pool, c.base)
	c.removeFree(blk, c.base)

	c.pool = newMem
	blk.setSize(uint32(len(newMem)) - poolOverhead)

	sentinel := blk.linkNext(newMem, c.base)
	sentinel.setSize(0)
	sentinel.setUsed()
	sentinel.setPrevFree()
	c.end = toOffset(newMem, sentinel)

	c.insertFreeBlock(blk, c.base)
	return c
}
