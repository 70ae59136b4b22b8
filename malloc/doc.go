// Package malloc implements a headerless, pool-backed heap allocator.
// "Headerless" means no book-keeping is ever written into memory handed
// out by Allocate: boundary tags exist only inside blocks that are
// currently free, so a caller that writes past the end of its own
// allocation corrupts at worst the next free block's tag, which the
// allocator's own checks then catch, rather than corrupting live
// allocator state the way an inline header would.
//
// Free space is organised as segregated, address-ordered range lists,
// one per power-of-two size class, so that satisfying an allocation is a
// bitmap scan down to the right class followed by a short address-order
// walk within it. Freeing a block eagerly coalesces it with any free
// neighbour before filing it, keeping fragmentation from accumulating
// silently between resets.
//
// Construct an Allocator with New over any api.Pool, call
// Allocate/Deallocate/Reset/Close as usual, and call Validate from tests
// or a debug build to catch corruption early rather than as a crash
// three allocations later.
package malloc
