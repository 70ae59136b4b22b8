package malloc

import "github.com/prataprc/hlmalloc/lib"

// Stats tracks the allocator's lifetime totals, its currently-extant
// (allocated) set, and its own running tally of currently-free blocks and
// bytes, kept independently of the segregated lists' own per-class
// counters and of the boundary tag manager's running count. validate
// cross-checks this free tally against a walk of the segregated lists,
// and against the pool's own capacity, so a corrupted counter or a
// lost/duplicated block shows up as an inconsistency instead of silently
// skewing Utilization.
type Stats struct {
	poolCapacity int64

	totalAllocatedBlocks int64
	totalAllocatedBytes  int64
	totalFreedBlocks     int64
	totalFreedBytes      int64

	extantBlocks int64
	extantBytes  int64

	// currentFreeBlocks/Bytes is Stats's own running count of free space,
	// updated the instant a block is threaded onto or off of the free
	// structure. It is deliberately not derived from a list walk: it is
	// the third independent witness alongside SegregatedRangeLists' own
	// per-list tallies and the boundary tag manager's running count.
	currentFreeBlocks int64
	currentFreeBytes  int64
}

func newStats(poolCapacity int64) *Stats {
	return &Stats{poolCapacity: poolCapacity}
}

func (st *Stats) onReset() {
	*st = Stats{poolCapacity: st.poolCapacity}
}

// onAllocate records a block of size bytes leaving the free lists and
// becoming live.
func (st *Stats) onAllocate(size int64) {
	st.totalAllocatedBlocks++
	st.totalAllocatedBytes += size
	st.extantBlocks++
	st.extantBytes += size
}

// onDeallocate records a block of size bytes returning from live to free.
// The C original this book-keeping is modelled on compares the running
// freed total against itself rather than against totalAllocatedBytes, an
// apparent typo; a deallocation is accepted whenever the running freed
// total, including this block, does not exceed everything ever
// allocated, which is always true for a caller that only frees what it
// was given.
func (st *Stats) onDeallocate(size int64) {
	lib.Assertf(st.totalFreedBytes+size <= st.totalAllocatedBytes, "malloc: deallocate exceeds total allocated")
	st.totalFreedBlocks++
	st.totalFreedBytes += size
	st.extantBlocks--
	st.extantBytes -= size
}

// onAddToFreelist records a block of size bytes entering the free
// structure, independently of SegregatedRangeLists' own per-class tallies
// and of the boundary tag manager's running count.
func (st *Stats) onAddToFreelist(size int64) {
	st.currentFreeBlocks++
	st.currentFreeBytes += size
}

// onRemoveFromFreelist records a block of size bytes leaving the free
// structure, whether taken by an allocation or absorbed by coalescing.
func (st *Stats) onRemoveFromFreelist(size int64) {
	st.currentFreeBlocks--
	st.currentFreeBytes -= size
}

// validate cross-checks the three tallies against a live sweep of the
// segregated free lists (freeBlocks, freeBytes) and against pool
// capacity. Called from Allocator.Validate, never on the allocate/free
// fast path.
func (st *Stats) validate(freeBlocks, freeBytes int64) {
	if st.totalAllocatedBlocks-st.totalFreedBlocks != st.extantBlocks {
		fatalf("malloc: extant block count disagrees with allocate/free totals: %v", st)
	}
	if st.totalAllocatedBytes-st.totalFreedBytes != st.extantBytes {
		fatalf("malloc: extant byte count disagrees with allocate/free totals: %v", st)
	}
	if st.extantBytes+freeBytes > st.poolCapacity {
		fatalf("malloc: extant+free bytes exceed pool capacity: %v", st)
	}
	if st.extantBytes < 0 || st.extantBlocks < 0 {
		fatalf("malloc: negative extant tally: %v", st)
	}
	if st.currentFreeBlocks != freeBlocks {
		fatalf("malloc: free block count disagrees between stats (%v) and free-list walk (%v): %v",
			st.currentFreeBlocks, freeBlocks, st)
	}
	if st.currentFreeBytes != freeBytes {
		fatalf("malloc: free byte total disagrees between stats (%v) and free-list walk (%v): %v",
			st.currentFreeBytes, freeBytes, st)
	}
}

// Utilization returns extant bytes as a fraction of pool capacity.
func (st *Stats) Utilization() float64 {
	if st.poolCapacity == 0 {
		return 0
	}
	return float64(st.extantBytes) / float64(st.poolCapacity)
}

// Snapshot returns a JSON-friendly view of the tallies, suitable for
// lib.Prettystats.
func (st *Stats) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"poolCapacity":         st.poolCapacity,
		"totalAllocatedBlocks": st.totalAllocatedBlocks,
		"totalAllocatedBytes":  st.totalAllocatedBytes,
		"totalFreedBlocks":     st.totalFreedBlocks,
		"totalFreedBytes":      st.totalFreedBytes,
		"extantBlocks":         st.extantBlocks,
		"extantBytes":          st.extantBytes,
		"currentFreeBlocks":    st.currentFreeBlocks,
		"currentFreeBytes":     st.currentFreeBytes,
	}
}

// String renders the stats as pretty-printed JSON.
func (st *Stats) String() string {
	return lib.Prettystats(st.Snapshot(), true)
}
