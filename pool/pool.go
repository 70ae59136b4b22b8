// Package pool implements api.Pool on top of a single cgo-managed slab of
// memory. It is the only package in this module that talks to the C
// heap directly; everything above it deals exclusively in offsets and
// unsafe.Pointer arithmetic within that slab.
package pool

//#include <stdlib.h>
import "C"

import (
	"unsafe"

	"github.com/cloudfoundry/gosigar"
	s "github.com/prataprc/gosettings"
	"github.com/prataprc/hlmalloc/api"
)

// Pool is a single contiguous C-allocated slab, sized once at creation and
// handed whole to an allocator. It does not itself track which bytes are
// free; that book-keeping belongs to whatever Allocator wraps it.
type Pool struct {
	base     unsafe.Pointer
	capacity int64
	released bool
}

// Defaultsettings for a Pool.
//
// "capacity" (int64, default: computed from free system memory)
//		Number of bytes to carve out of the C heap for this pool. When
//		absent from the settings passed to NewFromSettings, SuggestedCapacity is
//		used instead.
func Defaultsettings() s.Settings {
	return s.Settings{
		"capacity": SuggestedCapacity(),
	}
}

// NewFromSettings carves out a pool sized by the "capacity" setting,
// filling in Defaultsettings for anything the caller left out.
func NewFromSettings(setts s.Settings) *Pool {
	setts = make(s.Settings).Mixin(Defaultsettings(), setts)
	return New(setts.Int64("capacity"))
}

// New carves out a pool of the requested capacity from the C heap.
// capacity must be a positive multiple of api.Alignment.
func New(capacity int64) *Pool {
	if capacity <= 0 || capacity%api.Alignment != 0 {
		panic("pool: capacity must be a positive multiple of api.Alignment")
	}
	base := C.malloc(C.size_t(capacity))
	if base == nil {
		panic("pool: C.malloc failed")
	}
	return &Pool{base: base, capacity: capacity}
}

// SuggestedCapacity queries free system memory via gosigar and returns a
// conservative fraction of it, so a caller that does not want to think
// about sizing can still get a sensible default pool.
func SuggestedCapacity() int64 {
	mem := sigar.Mem{}
	if err := mem.Get(); err != nil {
		// Without a working sysinfo probe, fall back to a modest
		// fixed pool rather than fail construction outright.
		return 64 * 1024 * 1024
	}
	suggested := int64(mem.Free / 4)
	if suggested < api.Alignment {
		suggested = api.Alignment
	}
	return suggested - (suggested % api.Alignment)
}

// Base implements api.Pool.
func (p *Pool) Base() unsafe.Pointer {
	return p.base
}

// Capacity implements api.Pool.
func (p *Pool) Capacity() int64 {
	return p.capacity
}

// Contains implements api.Pool.
func (p *Pool) Contains(ptr unsafe.Pointer) bool {
	start := uintptr(p.base)
	end := start + uintptr(p.capacity)
	addr := uintptr(ptr)
	return addr >= start && addr < end
}

// Release implements api.Pool.
func (p *Pool) Release() {
	if p.released {
		panic("pool: Release called twice")
	}
	C.free(p.base)
	p.base = nil
	p.released = true
}
