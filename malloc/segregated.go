package malloc

import (
	"unsafe"

	"github.com/prataprc/hlmalloc/lib"
)

// numClasses matches the width of lib.Bit64's bitmap: one class per bit,
// class i holding free blocks of size in (2^(i-1), 2^i].
const numClasses = 64

// segregated fans a single pool's free space out across power-of-two size
// classes, and keeps a bitmap of which classes are non-empty so a search
// for "smallest class that can satisfy size" never has to touch an empty
// list.
type segregated struct {
	classes [numClasses]rangeList
	bitmap  lib.Bit64
}

func (sg *segregated) init() {
	for i := range sg.classes {
		sg.classes[i].init()
	}
	sg.bitmap = 0
}

// sizeClass returns ceil(log2(size)): class i holds blocks of size in
// (2^(i-1), 2^i]. Both insert and find key off this same function, so a
// block of exactly size S always lands in the one class that a request
// for S bytes starts searching from.
func sizeClass(size int64) int {
	if size <= 1 {
		return 0
	}
	class := 0
	for n := size - 1; n > 0; n >>= 1 {
		class++
	}
	return class
}

// insert files a free block by its actual size.
func (sg *segregated) insert(ptr unsafe.Pointer, size int64) {
	class := sizeClass(size)
	sg.classes[class].insert(ptr, size)
	sg.bitmap = sg.bitmap.Setbit(uint(class))
}

// remove unthreads a free block, given the class it was filed under.
func (sg *segregated) remove(ptr unsafe.Pointer, size int64) {
	class := sizeClass(size)
	sg.classes[class].remove(ptr)
	if sg.classes[class].isEmpty() {
		sg.bitmap = sg.bitmap.Clearbit(uint(class))
	}
}

// find returns the first block able to satisfy size, searching classes
// from smallest to largest starting at sizeClass(size), skipping empty
// classes via the bitmap. Within a class the search is address ordered,
// giving an address-ordered good fit: any class above the starting one
// is guaranteed to satisfy size outright, so at most one class needs a
// linear scan.
func (sg *segregated) find(size int64) (unsafe.Pointer, int64) {
	start := sizeClass(size)
	if start >= numClasses {
		return nil, 0
	}
	mask := ^lib.Bit64(0) << uint(start)
	candidates := sg.bitmap & mask
	for candidates != 0 {
		low := candidates.Lowestset()
		class := low.Findfirstset()
		if ptr := sg.classes[class].find(size); ptr != nil {
			return ptr, tagAt(ptr).size
		}
		// This class's bitmap bit was set but held nothing big
		// enough (can happen when a class holds a mix of sizes just
		// above its lower bound); move to the next non-empty class.
		candidates &^= low
	}
	return nil, 0
}

// freeBlocks sums block counts across every class, independent of any
// running tally kept elsewhere.
func (sg *segregated) freeBlocks() int64 {
	var n int64
	for i := range sg.classes {
		n += sg.classes[i].freeBlocks()
	}
	return n
}

// freeBytes sums bytes across every class, independent of any running
// tally kept elsewhere.
func (sg *segregated) freeBytes() int64 {
	var n int64
	for i := range sg.classes {
		n += sg.classes[i].freeBytes()
	}
	return n
}

// validate checks every class's internal ordering and confirms the
// bitmap exactly reflects which classes are non-empty.
func (sg *segregated) validate() {
	for i := range sg.classes {
		sg.classes[i].validate()
		empty := sg.classes[i].isEmpty()
		set := (sg.bitmap & (lib.Bit64(1) << uint(i))) != 0
		if empty == set {
			fatalf("malloc: bitmap disagrees with class occupancy")
		}
	}
}
