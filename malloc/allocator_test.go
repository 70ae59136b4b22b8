package malloc

import (
	"testing"
	"unsafe"

	s "github.com/prataprc/gosettings"
	"github.com/prataprc/hlmalloc/api"
)

// fakePool is a plain Go-heap-backed api.Pool, good enough for tests that
// never touch the cgo pool package. It over-allocates and rounds its base
// up to api.Alignment, since a Go byte slice carries no alignment
// guarantee beyond the platform word size.
type fakePool struct {
	mem      []byte
	base     unsafe.Pointer
	capacity int64
}

func newFakePool(capacity int64) *fakePool {
	mem := make([]byte, capacity+api.Alignment-1)
	addr := uintptr(unsafe.Pointer(&mem[0]))
	aligned := (addr + api.Alignment - 1) &^ (api.Alignment - 1)
	return &fakePool{mem: mem, base: unsafe.Pointer(aligned), capacity: capacity}
}

func (p *fakePool) Base() unsafe.Pointer {
	return p.base
}

func (p *fakePool) Capacity() int64 {
	return p.capacity
}

func (p *fakePool) Contains(ptr unsafe.Pointer) bool {
	start := uintptr(p.base)
	end := start + uintptr(p.capacity)
	addr := uintptr(ptr)
	return addr >= start && addr < end
}

func (p *fakePool) Release() {}

func newTestAllocator(capacity int64) (*Allocator, api.Pool) {
	pool := newFakePool(capacity)
	a := New(pool, s.Settings{"name": "test"})
	return a, pool
}

func TestAllocateDeallocateRoundTrip(t *testing.T) {
	a, _ := newTestAllocator(4096)

	p := a.Allocate(64)
	if p == nil {
		t.Fatalf("expected non-nil allocation")
	}
	a.Validate()
	a.Deallocate(p, 64)
	a.Validate()

	if cap, alloc, _ := a.Info(); cap != 4096 || alloc != 0 {
		t.Errorf("expected 0 bytes allocated after deallocate, got %v of %v", alloc, cap)
	}
}

func TestImmediateReuseAfterCoalesce(t *testing.T) {
	a, _ := newTestAllocator(4096)

	p1 := a.Allocate(64)
	p2 := a.Allocate(64)
	a.Deallocate(p1, 64)
	a.Deallocate(p2, 64)
	a.Validate()

	// The two adjacent 64-byte blocks should have coalesced into one
	// 128-byte block, satisfying a 128-byte request without touching
	// virgin memory.
	posBefore := a.pos
	p3 := a.Allocate(128)
	if p3 == nil {
		t.Fatalf("expected coalesced block to satisfy 128-byte request")
	}
	if a.pos != posBefore {
		t.Errorf("expected virgin high-water mark unchanged, allocation should have come from coalesced free block")
	}
	if p3 != p1 {
		t.Errorf("expected reused block to start at the first allocation's address")
	}
	a.Validate()
}

func TestTripleCoalesce(t *testing.T) {
	a, _ := newTestAllocator(4096)

	p1 := a.Allocate(64)
	p2 := a.Allocate(64)
	p3 := a.Allocate(64)
	a.Deallocate(p1, 64)
	a.Deallocate(p3, 64)
	a.Deallocate(p2, 64)
	a.Validate()

	posBefore := a.pos
	p4 := a.Allocate(192)
	if p4 == nil {
		t.Fatalf("expected triple-coalesced block to satisfy 192-byte request")
	}
	if p4 != p1 {
		t.Errorf("expected reused block to start at the first allocation's address")
	}
	if a.pos != posBefore {
		t.Errorf("expected no growth of virgin high-water mark")
	}
	a.Validate()
}

func TestSplitLeavesResidualFreeBlock(t *testing.T) {
	a, _ := newTestAllocator(4096)

	big := a.Allocate(256)
	a.Deallocate(big, 256)
	a.Validate()

	small := a.Allocate(64)
	if small != big {
		t.Fatalf("expected split to reuse the free block's own address")
	}
	a.Validate()

	// The remaining 192 bytes should be usable as a free block in their
	// own right, starting immediately after the 64-byte piece taken.
	residual := a.Allocate(192)
	if residual == nil {
		t.Fatalf("expected residual 192-byte block to satisfy request")
	}
	if uintptr(residual) != uintptr(small)+64 {
		t.Errorf("expected residual block address a+64, got offset %v", uintptr(residual)-uintptr(small))
	}
	a.Validate()
}

func TestExhaustion(t *testing.T) {
	a, _ := newTestAllocator(256)

	p1 := a.Allocate(128)
	p2 := a.Allocate(128)
	if p1 == nil || p2 == nil {
		t.Fatalf("expected both allocations to succeed, filling the pool exactly")
	}
	if p3 := a.Allocate(64); p3 != nil {
		t.Errorf("expected nil on an exhausted pool, got %v", p3)
	}
	a.Validate()
}

// TestExhaustionRespectsPoolCapacity repeatedly allocates fixed-size blocks
// from a 4096-byte pool until it is exhausted, and checks that every
// returned pointer lies inside the pool and that total bytes handed out
// never exceeds capacity.
func TestExhaustionRespectsPoolCapacity(t *testing.T) {
	a, pool := newTestAllocator(4096)

	var allocated int64
	var count int
	for {
		p := a.Allocate(256)
		if p == nil {
			break
		}
		if !pool.Contains(p) {
			t.Fatalf("allocation returned pointer outside pool: %v", p)
		}
		if end := unsafe.Pointer(uintptr(p) + 255); !pool.Contains(end) {
			t.Fatalf("allocation extends outside pool: %v", p)
		}
		allocated += 256
		count++
		if count > 32 {
			t.Fatalf("exhaustion loop did not terminate, pool capacity 4096 should allow at most 16 blocks of 256")
		}
	}
	if allocated > 4096 {
		t.Errorf("expected total allocated bytes <= pool capacity, got %v", allocated)
	}
	a.Validate()
}

func TestResetReturnsToPoolBase(t *testing.T) {
	a, pool := newTestAllocator(4096)

	a.Allocate(64)
	a.Allocate(128)
	a.Reset()
	a.Validate()

	if a.pos != 0 {
		t.Errorf("expected high-water mark reset to 0, got %v", a.pos)
	}
	p := a.Allocate(64)
	if p != pool.Base() {
		t.Errorf("expected first allocation after reset to land at pool base")
	}
}

func TestLeftoverSmallerThanMinBlockSizeIsAbandoned(t *testing.T) {
	a, _ := newTestAllocator(4096)

	// Free a block twice minBlockSize, then request just enough of it
	// that the remainder falls below minBlockSize and cannot be filed
	// as a free block of its own.
	full := a.Allocate(2 * minBlockSize)
	a.Deallocate(full, 2*minBlockSize)
	a.Validate()

	before := a.sg.freeBlocks()
	requested := 2*minBlockSize - api.Alignment
	p := a.Allocate(requested)
	if p == nil {
		t.Fatalf("expected allocation to succeed from the existing free block")
	}
	a.Validate()
	// Leftover is Alignment bytes, smaller than minBlockSize, so it must
	// vanish rather than appear as a free block.
	if after := a.sg.freeBlocks(); after != before-1 {
		t.Errorf("expected the free block to disappear without a residual, before=%v after=%v", before, after)
	}
}

func TestDeallocateRejectsMisalignedPointer(t *testing.T) {
	a, _ := newTestAllocator(4096)
	p := a.Allocate(64)

	defer func() {
		if r := recover(); r == nil {
			t.Errorf("expected panic on misaligned pointer")
		}
	}()
	a.Deallocate(unsafe.Pointer(uintptr(p)+1), 64)
}

func TestAllocateRejectsInvalidSize(t *testing.T) {
	a, _ := newTestAllocator(4096)

	defer func() {
		if r := recover(); r == nil {
			t.Errorf("expected panic on undersized allocation request")
		}
	}()
	a.Allocate(1)
}

func TestUtilization(t *testing.T) {
	a, _ := newTestAllocator(1024)
	if u := a.Utilization(); u != 0 {
		t.Errorf("expected 0 utilization on a fresh allocator, got %v", u)
	}
	a.Allocate(256)
	if u := a.Utilization(); u != 0.25 {
		t.Errorf("expected 0.25 utilization, got %v", u)
	}
}
