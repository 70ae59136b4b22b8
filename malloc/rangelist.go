package malloc

import (
	"unsafe"

	"github.com/prataprc/hlmalloc/api"
)

// rangeList threads the free blocks of a single size class into a
// doubly-linked, address-ordered, circular list. The list owns no memory
// of its own except a sentinel value that never leaves the Go heap; every
// other node is a boundary tag living inside the pool.
//
// Keeping the list in address order costs an O(n) walk on Insert, but
// buys two things a coalescing allocator needs anyway: neighbouring free
// blocks end up adjacent in the list during a merge, and Validate can
// confirm strict address ordering as a cheap corruption check.
type rangeList struct {
	sentinel tag

	// blocks and bytes are this list's own running tally, updated the
	// instant a block is threaded in or out. They are the list's half
	// of the redundancy Validate checks: a forward+backward walk must
	// always agree with these counters, not just with each other.
	blocks int64
	bytes  int64
}

func (rl *rangeList) addr() uintptr {
	return uintptr(unsafe.Pointer(&rl.sentinel))
}

func (rl *rangeList) init() {
	a := rl.addr()
	rl.sentinel = tag{prev: a, next: a}
	rl.blocks = 0
	rl.bytes = 0
}

func (rl *rangeList) isEmpty() bool {
	return rl.blocks == 0
}

// insert stamps a fresh header and footer at ptr and threads the
// resulting free block into address order.
func (rl *rangeList) insert(ptr unsafe.Pointer, size int64) {
	addr := uintptr(ptr)
	self := rl.addr()

	cursor := self
	cursorNext := rl.sentinel.next
	for cursorNext != self {
		if uintptr(cursorNext) > addr {
			break
		}
		cursor = cursorNext
		cursorNext = rl.nodeAt(cursor).next
	}

	writeTags(ptr, size, cursor, cursorNext)
	rl.nodeAt(cursor).next = addr
	rl.nodeAt(cursorNext).prev = addr
	rl.blocks++
	rl.bytes += size
}

// remove unthreads the free block at ptr from the list.
func (rl *rangeList) remove(ptr unsafe.Pointer) {
	head := tagAt(ptr)
	rl.nodeAt(head.prev).next = head.next
	rl.nodeAt(head.next).prev = head.prev
	rl.blocks--
	rl.bytes -= head.size
	head.prev, head.next = 0, 0
}

// find returns the first block, in address order, at least size bytes
// long, or nil if the class holds nothing big enough.
func (rl *rangeList) find(size int64) unsafe.Pointer {
	self := rl.addr()
	cursor := rl.sentinel.next
	for cursor != self {
		node := rl.nodeAt(cursor)
		if node.size >= size {
			return unsafe.Pointer(cursor)
		}
		cursor = node.next
	}
	return nil
}

// nodeAt dereferences a raw link address. The sentinel is a Go-heap value
// that participates in exactly the same prev/next threading as pool-backed
// tags, so this single accessor works for both.
func (rl *rangeList) nodeAt(addr uintptr) *tag {
	if addr == rl.addr() {
		return &rl.sentinel
	}
	return tagAt(unsafe.Pointer(addr))
}

// freeBlocks returns this list's own running tally, not a walk.
func (rl *rangeList) freeBlocks() int64 {
	return rl.blocks
}

// freeBytes returns this list's own running tally, not a walk.
func (rl *rangeList) freeBytes() int64 {
	return rl.bytes
}

// validate walks the list forward and backward and confirms: addresses
// strictly increase, every node's footer agrees with its header, each
// traversal yields the recorded block count and byte total, and the two
// together yield twice each, catching a walk that silently drops or
// duplicates a node the running tally would otherwise miss.
func (rl *rangeList) validate() {
	self := rl.addr()
	var prevAddr uintptr

	var n, m int64
	var forwardBytes, backwardBytes int64

	for cursor := rl.sentinel.next; cursor != self; cursor = rl.nodeAt(cursor).next {
		if prevAddr != 0 && cursor <= prevAddr {
			fatalf("malloc: free list not in address order")
		}
		prevAddr = cursor
		node := rl.nodeAt(cursor)
		if node.magic != api.Magic || node.id != api.HeaderID {
			fatalf("malloc: corrupt header in free list")
		}
		foot := footerOf(unsafe.Pointer(cursor), node.size)
		if foot.magic != api.Magic || foot.id != api.FooterID {
			fatalf("malloc: corrupt footer in free list")
		}
		if foot.size != node.size {
			fatalf("malloc: header/footer size mismatch")
		}
		n++
		forwardBytes += node.size
	}

	for cursor := rl.sentinel.prev; cursor != self; cursor = rl.nodeAt(cursor).prev {
		m++
		backwardBytes += rl.nodeAt(cursor).size
	}

	if n != rl.blocks || m != rl.blocks {
		fatalf("malloc: free list walk disagrees with recorded block tally")
	}
	if forwardBytes != rl.bytes || backwardBytes != rl.bytes {
		fatalf("malloc: free list walk disagrees with recorded byte tally")
	}
	if n+m != 2*rl.blocks {
		fatalf("malloc: forward/backward walk length mismatch")
	}
	if forwardBytes+backwardBytes != 2*rl.bytes {
		fatalf("malloc: forward/backward byte total mismatch")
	}
}
