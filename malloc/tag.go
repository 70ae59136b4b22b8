package malloc

import (
	"unsafe"

	"github.com/prataprc/hlmalloc/api"
)

// tag is the boundary-tag record written at both ends of every free block.
// It never appears inside memory handed out by Allocate; the moment a
// block is taken off a free list its header and footer are poisoned (see
// eraseTags), and from then on those bytes belong to the caller. Two records per block are laid at the header and footer
// so that scanning from either direction, or from a neighbouring block's
// own tag, recovers the same size.
//
// magic+id together identify a slot as "probably a live boundary tag"
// before Validate trusts it; prev/next thread the block into its
// segregated free list.
type tag struct {
	magic uint32
	id    uint32
	size  int64
	prev  uintptr
	next  uintptr
}

// tagSize is the on-wire size of a tag record. Both magic and id are
// 32-bit so the struct has no padding on 64-bit platforms: 4+4+8+8+8=32.
const tagSize = int64(unsafe.Sizeof(tag{}))

// minBlockSize is the smallest block the allocator will ever place on a
// free list: two boundary tags, header and footer, back to back.
const minBlockSize = 2 * tagSize

func tagAt(ptr unsafe.Pointer) *tag {
	return (*tag)(ptr)
}

// writeHeader stamps a header tag of the given size and link fields at
// ptr, which must point at the first byte of a free block.
func writeHeader(ptr unsafe.Pointer, size int64, prev, next uintptr) {
	t := tagAt(ptr)
	t.magic, t.id, t.size, t.prev, t.next = api.Magic, api.HeaderID, size, prev, next
}

// writeFooter stamps a footer tag of the given size at the last tagSize
// bytes of a free block starting at ptr and spanning size bytes. The
// footer does not carry link fields of its own; a block is always
// addressed through its header, so the footer's prev/next are left zero
// and only its size and identity are load-bearing.
func writeFooter(ptr unsafe.Pointer, size int64) {
	footerAddr := uintptr(ptr) + uintptr(size) - uintptr(tagSize)
	t := tagAt(unsafe.Pointer(footerAddr))
	t.magic, t.id, t.size, t.prev, t.next = api.Magic, api.FooterID, size, 0, 0
}

// writeTags stamps both header and footer of a free block, and returns
// the header for callers that need the link fields.
func writeTags(ptr unsafe.Pointer, size int64, prev, next uintptr) *tag {
	writeHeader(ptr, size, prev, next)
	writeFooter(ptr, size)
	return tagAt(ptr)
}

// eraseTags poisons a block's header and footer the instant it leaves a
// free list, so that a stray read of memory that has since become live
// data never mistakes it for a tag, and so that a use-after-free that
// does land on a poisoned tag fails loudly: size becomes all-ones, an
// impossibly large value no valid block can carry.
func eraseTags(ptr unsafe.Pointer, size int64) {
	poison(tagAt(ptr))
	poison(footerOf(ptr, size))
}

func poison(t *tag) {
	t.magic, t.id, t.size, t.prev, t.next = 0, 0, -1, 0, 0
}

// footerOf returns the footer tag belonging to the header at ptr.
func footerOf(ptr unsafe.Pointer, size int64) *tag {
	footerAddr := uintptr(ptr) + uintptr(size) - uintptr(tagSize)
	return tagAt(unsafe.Pointer(footerAddr))
}

// probeHeader reports whether ptr looks like the header of a free block,
// i.e. it carries the magic word and the header identity.
func probeHeader(ptr unsafe.Pointer) (*tag, bool) {
	t := tagAt(ptr)
	return t, t.magic == api.Magic && t.id == api.HeaderID
}

// probeFooter reports whether the tagSize bytes starting at ptr look like
// the footer of a free block.
func probeFooter(ptr unsafe.Pointer) (*tag, bool) {
	t := tagAt(ptr)
	return t, t.magic == api.Magic && t.id == api.FooterID
}

// precedingFooter returns the footer tag that would belong to the block
// immediately preceding ptr, i.e. the tagSize bytes just before ptr.
func precedingFooter(ptr unsafe.Pointer) unsafe.Pointer {
	return unsafe.Pointer(uintptr(ptr) - uintptr(tagSize))
}

// followingHeader returns the address immediately after a block of the
// given size starting at ptr, i.e. where that block's neighbour's header
// would live.
func followingHeader(ptr unsafe.Pointer, size int64) unsafe.Pointer {
	return unsafe.Pointer(uintptr(ptr) + uintptr(size))
}

// boundaryTagManager keeps a running tally of free blocks and bytes,
// updated exactly when a block's tags are written or erased. It never
// walks a list to compute its numbers, which is what makes it a useful
// third, independent witness alongside the segregated lists' own walk
// and the allocator's running Stats: three tallies computed three
// different ways ought to always agree.
type boundaryTagManager struct {
	blocks int64
	bytes  int64
}

func (bt *boundaryTagManager) onWrite(size int64) {
	bt.blocks++
	bt.bytes += size
}

func (bt *boundaryTagManager) onErase(size int64) {
	bt.blocks--
	bt.bytes -= size
}

func (bt *boundaryTagManager) freeBlocks() int64 {
	return bt.blocks
}

func (bt *boundaryTagManager) freeBytes() int64 {
	return bt.bytes
}

func (bt *boundaryTagManager) reset() {
	bt.blocks, bt.bytes = 0, 0
}
