// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tlsfalloc

// StorageReport aggregates the free-space shape of one or more pools. It is
// the basis both for the public Report API and for the auto-defragment
// trigger's fragmentation check.
type StorageReport struct {
	TotalFreeSpace       uint64
	FreeBlockCount       int
	LargestFreeRegion    uint32
	SmallestFreeRegion   uint32
	AverageFreeBlockSize uint64
	// FragmentationFactor is 1 - (LargestFreeRegion / TotalFreeSpace), i.e.
	// how much of the free space is NOT reachable as one contiguous run. It
	// is 0 when there is no free space or it is a single free block. It is
	// computed per pool; the aggregate report (Allocator.Report) averages
	// each pool's own factor rather than recomputing it from merged totals,
	// since a single large unfragmented pool would otherwise mask severe
	// fragmentation in a smaller one.
	FragmentationFactor float64
}

// walkFree invokes fn for every free block's (header, offset) pair in c's
// pool, found by walking the physical chain rather than the free-list
// index.
func (c *control) walkFree(fn func(blk *blockHeader, off uint32)) {
	off := c.base
	blk := blockAt(c.pool, off)
	for !blk.isLast() {
		if blk.isFree() {
			fn(blk, off)
		}
		off += blk.getSize()
		blk = blockAt(c.pool, off)
	}
}

// report computes a StorageReport over this single pool.
func (c *control) report() StorageReport {
	var r StorageReport
	r.SmallestFreeRegion = blockSizeMax
	c.walkFree(func(blk *blockHeader, off uint32) {
		size := blk.getSize()
		r.TotalFreeSpace += uint64(size)
		r.FreeBlockCount++
		if size > r.LargestFreeRegion {
			r.LargestFreeRegion = size
		}
		if size < r.SmallestFreeRegion {
			r.SmallestFreeRegion = size
		}
	})
	if r.FreeBlockCount == 0 {
		r.SmallestFreeRegion = 0
		return r
	}
	r.AverageFreeBlockSize = r.TotalFreeSpace / uint64(r.FreeBlockCount)
	if r.TotalFreeSpace > 0 {
		r.FragmentationFactor = 1 - float64(r.LargestFreeRegion)/float64(r.TotalFreeSpace)
	}
	return r
}

// mergeReport folds other into r, recomputing the derived size fields.
// FragmentationFactor is deliberately left untouched: it is a per-pool
// quantity, and the caller (Allocator.report) combines it across pools by
// averaging each pool's own factor rather than by this function recomputing
// one from merged totals.
func mergeReport(r, other StorageReport) StorageReport {
	merged := StorageReport{
		TotalFreeSpace:     r.TotalFreeSpace + other.TotalFreeSpace,
		FreeBlockCount:     r.FreeBlockCount + other.FreeBlockCount,
		LargestFreeRegion:  r.LargestFreeRegion,
		SmallestFreeRegion: r.SmallestFreeRegion,
	}
	if other.LargestFreeRegion > merged.LargestFreeRegion {
		merged.LargestFreeRegion = other.LargestFreeRegion
	}
	if merged.SmallestFreeRegion == 0 || (other.SmallestFreeRegion != 0 && other.SmallestFreeRegion < merged.SmallestFreeRegion) {
		merged.SmallestFreeRegion = other.SmallestFreeRegion
	}
	if merged.FreeBlockCount > 0 {
		merged.AverageFreeBlockSize = merged.TotalFreeSpace / uint64(merged.FreeBlockCount)
	}
	return merged
}
