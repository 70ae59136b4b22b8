package malloc

import (
	"unsafe"

	"github.com/prataprc/golog"
	s "github.com/prataprc/gosettings"
	"github.com/prataprc/hlmalloc/api"
	"github.com/prataprc/hlmalloc/lib"
)

// Allocator carves fixed-address, headerless blocks out of a single pool.
// It is not safe for concurrent use; callers that need concurrency must
// serialise access themselves, the same way the design this is grounded
// on is documented as single-threaded.
type Allocator struct {
	pool  api.Pool
	sg    segregated
	bt    boundaryTagManager
	stats *Stats

	// pos marks how much of the pool has ever been touched. Memory at
	// [pos, capacity) has never been carved into a block, so it needs
	// no coalescing or boundary-tag probe: virgin bytes can simply be
	// handed out.
	pos int64

	name string
}

// Defaultsettings for an Allocator.
//
// "name" (string, default: "")
//		Label attached to log lines emitted by this allocator, useful
//		when a process runs more than one.
func Defaultsettings() s.Settings {
	return s.Settings{
		"name": "",
	}
}

// New wraps pool with an Allocator. The pool must not be touched by
// anything else for as long as the Allocator is in use.
func New(pool api.Pool, setts s.Settings) *Allocator {
	setts = make(s.Settings).Mixin(Defaultsettings(), setts)
	a := &Allocator{
		pool:  pool,
		stats: newStats(pool.Capacity()),
		name:  setts.String("name"),
	}
	a.sg.init()
	log.Infof("%v allocator ready, capacity %v bytes\n", a.logprefix(), pool.Capacity())
	return a
}

func (a *Allocator) logprefix() string {
	if a.name == "" {
		return "malloc:"
	}
	return "malloc[" + a.name + "]:"
}

// isValidSize reports whether size is acceptable as an allocation
// request or as a leftover worth keeping as its own free block: aligned,
// and large enough to one day hold a header and a footer if it is ever
// freed and split again.
func isValidSize(size int64) bool {
	return size >= minBlockSize && size%api.Alignment == 0
}

// Allocate implements api.Allocator.
func (a *Allocator) Allocate(size int64) unsafe.Pointer {
	lib.Assertf(isValidSize(size), "malloc: invalid allocation size %v", size)
	validateFn(a)

	ptr := a.takeAndSplitFreeBlock(size)
	if ptr == nil {
		ptr = a.takeVirgin(size)
	}
	if ptr == nil {
		log.Errorf("%v %v: requested %v bytes\n", a.logprefix(), ErrOutOfMemory, size)
		validateFn(a)
		return nil
	}

	a.stats.onAllocate(size)
	validateFn(a)
	return ptr
}

// takeVirgin hands out size bytes of memory that has never been part of
// any block before, bumping the pool's high-water mark. It never fails
// due to fragmentation, only due to the pool being exhausted.
func (a *Allocator) takeVirgin(size int64) unsafe.Pointer {
	if a.pos+size > a.pool.Capacity() {
		return nil
	}
	ptr := unsafe.Pointer(uintptr(a.pool.Base()) + uintptr(a.pos))
	a.pos += size
	return ptr
}

// takeAndSplitFreeBlock looks for a free block able to satisfy size. If
// found, it is removed from its free list; any leftover past the first
// size bytes is kept as a new, smaller free block only if it is itself a
// valid size, otherwise those bytes are abandoned rather than
// mis-tracked, matching the design this allocator's split policy is
// modelled on.
func (a *Allocator) takeAndSplitFreeBlock(size int64) unsafe.Pointer {
	ptr, blockSize := a.sg.find(size)
	if ptr == nil {
		return nil
	}
	a.removeFromFreelist(ptr, blockSize)

	leftoverSize := blockSize - size
	if isValidSize(leftoverSize) {
		leftoverPtr := unsafe.Pointer(uintptr(ptr) + uintptr(size))
		a.addToFreelist(leftoverPtr, leftoverSize)
	}
	return ptr
}

// Deallocate implements api.Allocator. size must be the exact size
// passed to the Allocate call that produced ptr.
func (a *Allocator) Deallocate(ptr unsafe.Pointer, size int64) {
	lib.Assertf(uintptr(ptr)%api.Alignment == 0, "malloc: misaligned pointer")
	lib.Assertf(isValidSize(size), "malloc: invalid deallocation size %v", size)
	lib.Assertf(a.pool.Contains(ptr), "malloc: pointer outside pool")
	lib.Assertf(a.pool.Contains(unsafe.Pointer(uintptr(ptr)+uintptr(size)-1)), "malloc: block extends outside pool")
	validateFn(a)

	a.stats.onDeallocate(size)
	ptr, size = a.coalesce(ptr, size)
	a.addToFreelist(ptr, size)

	validateFn(a)
}

// coalesce expands (ptr, size) to absorb an immediately preceding and/or
// following free block, removing whichever it absorbs from their free
// lists first.
func (a *Allocator) coalesce(ptr unsafe.Pointer, size int64) (unsafe.Pointer, int64) {
	if precPtr, precSize, ok := a.precedingFreeBlock(ptr); ok {
		a.removeFromFreelist(precPtr, precSize)
		ptr = precPtr
		size += precSize
	}
	if follPtr, follSize, ok := a.followingFreeBlock(ptr, size); ok {
		a.removeFromFreelist(follPtr, follSize)
		size += follSize
	}
	return ptr, size
}

// precedingFreeBlock reports the free block immediately before ptr, if
// its footer is intact and lies within the pool.
func (a *Allocator) precedingFreeBlock(ptr unsafe.Pointer) (unsafe.Pointer, int64, bool) {
	footerAddr := precedingFooter(ptr)
	if !a.pool.Contains(footerAddr) {
		return nil, 0, false
	}
	foot, ok := probeFooter(footerAddr)
	if !ok {
		return nil, 0, false
	}
	headerAddr := unsafe.Pointer(uintptr(footerAddr) - uintptr(foot.size) + uintptr(tagSize))
	head, ok := probeHeader(headerAddr)
	if !ok || head.size != foot.size {
		return nil, 0, false
	}
	return headerAddr, head.size, true
}

// followingFreeBlock reports the free block immediately after a block of
// size bytes starting at ptr, if its header is intact and lies within
// the pool, and it is not virgin memory beyond the high-water mark.
func (a *Allocator) followingFreeBlock(ptr unsafe.Pointer, size int64) (unsafe.Pointer, int64, bool) {
	headerAddr := followingHeader(ptr, size)
	offset := int64(uintptr(headerAddr) - uintptr(a.pool.Base()))
	if offset >= a.pos {
		return nil, 0, false
	}
	if !a.pool.Contains(headerAddr) {
		return nil, 0, false
	}
	head, ok := probeHeader(headerAddr)
	if !ok {
		return nil, 0, false
	}
	return headerAddr, head.size, true
}

func (a *Allocator) addToFreelist(ptr unsafe.Pointer, size int64) {
	a.sg.insert(ptr, size)
	a.bt.onWrite(size)
	a.stats.onAddToFreelist(size)
}

func (a *Allocator) removeFromFreelist(ptr unsafe.Pointer, size int64) {
	a.sg.remove(ptr, size)
	eraseTags(ptr, size)
	a.bt.onErase(size)
	a.stats.onRemoveFromFreelist(size)
}

// Reset implements api.Allocator: every outstanding allocation is
// forgotten and the pool returns to its virgin state, exactly as if a
// fresh Allocator had been created over the same pool.
func (a *Allocator) Reset() {
	a.pos = 0
	a.sg.init()
	a.bt.reset()
	a.stats.onReset()
	log.Infof("%v reset\n", a.logprefix())
	validateFn(a)
}

// Validate implements api.Allocator. It walks the segregated lists,
// cross-checks the allocator's running Stats against that walk, and then
// cross-checks both against the boundary tag manager's own independent
// running tally: three counts of the same free space, computed three
// different ways, must all agree.
func (a *Allocator) Validate() {
	a.sg.validate()

	walkedBlocks, walkedBytes := a.sg.freeBlocks(), a.sg.freeBytes()
	a.stats.validate(walkedBlocks, walkedBytes)

	if walkedBlocks != a.bt.freeBlocks() {
		fatalf("%v free block count disagrees between free-list walk (%v) and boundary tag manager (%v)",
			a.logprefix(), walkedBlocks, a.bt.freeBlocks())
	}
	if walkedBytes != a.bt.freeBytes() {
		fatalf("%v free byte count disagrees between free-list walk (%v) and boundary tag manager (%v)",
			a.logprefix(), walkedBytes, a.bt.freeBytes())
	}
}

// Close implements api.Allocator.
func (a *Allocator) Close() {
	log.Infof("%v closing\n", a.logprefix())
	a.pool.Release()
}

// Utilization implements api.Allocator.
func (a *Allocator) Utilization() float64 {
	return a.stats.Utilization()
}

// Info implements api.Allocator. free counts both free-listed bytes and
// virgin bytes never yet carved into a block.
func (a *Allocator) Info() (capacity, allocated, free int64) {
	capacity = a.pool.Capacity()
	allocated = a.stats.extantBytes
	free = capacity - allocated
	return capacity, allocated, free
}

// Stats exposes the allocator's running tallies, for callers that want
// more detail than Info/Utilization give.
func (a *Allocator) Stats() *Stats {
	return a.stats
}
