package mem

import (
	"sync"
	"sync/atomic"

	"rendezvous/defs"
)

// Frame is a physical page-frame number, the Go rendering of the
// teacher's Pa_t (biscuit/src/mem/mem.go): a physical address always
// truncated to a page boundary.
type Frame uintptr

// FrameAllocator abstracts the physical page allocator named as an
// out-of-scope collaborator in spec.md §1. Allocator below is a
// reference implementation adequate for the hosted build and tests;
// a real port would back it with firmware memory-map discovery the way
// biscuit/src/mem/mem.go's Phys_init does.
type FrameAllocator interface {
	// AllocZeroed returns a zeroed frame with refcount 0, or ok=false
	// if none remain (OutOfMemory).
	AllocZeroed() (Frame, bool)
	// Alloc is like AllocZeroed but the contents are unspecified,
	// mirroring Refpg_new_nozero's lazy-reservation use case.
	Alloc() (Frame, bool)
	Ref(Frame)
	// Unref decrements the refcount and reports whether it reached zero.
	Unref(Frame) bool
}

// Allocator is a simple refcounted frame free list, adapted from
// biscuit/src/mem/mem.go's Physmem_t. The teacher shards the free list
// per-CPU; this core targets a single logical CPU (spec.md §5), so one
// mutex-protected free list suffices.
type Allocator struct {
	mu     sync.Mutex
	free   []Frame
	refcnt map[Frame]*int32
	pageSz uintptr
}

// NewAllocator builds a frame allocator that can hand out npages
// distinct frames before reporting OutOfMemory.
func NewAllocator(npages int) *Allocator {
	a := &Allocator{
		refcnt: make(map[Frame]*int32, npages),
		pageSz: defs.PageSize,
	}
	for i := 0; i < npages; i++ {
		f := Frame(uintptr(i+1) * a.pageSz) // frame 0 reserved as "no frame"
		a.free = append(a.free, f)
		a.refcnt[f] = new(int32)
	}
	return a
}

func (a *Allocator) Alloc() (Frame, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.free) == 0 {
		return 0, false
	}
	f := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]
	atomic.StoreInt32(a.refcnt[f], 0)
	return f, true
}

func (a *Allocator) AllocZeroed() (Frame, bool) {
	// The reference allocator never hands out stale contents (it is a
	// Go slice of zeroed bytes conceptually, not real physical RAM), so
	// zeroing is a no-op here; a bare-metal port would memset the
	// direct-mapped page the way Physmem_t.Refpg_new does via Zeropg.
	return a.Alloc()
}

func (a *Allocator) Ref(f Frame) {
	a.mu.Lock()
	c := a.refcnt[f]
	a.mu.Unlock()
	if c == nil {
		panic("mem: Ref of unknown frame")
	}
	if atomic.AddInt32(c, 1) <= 0 {
		panic("mem: refcount underflow")
	}
}

func (a *Allocator) Unref(f Frame) bool {
	a.mu.Lock()
	c := a.refcnt[f]
	a.mu.Unlock()
	if c == nil {
		panic("mem: Unref of unknown frame")
	}
	n := atomic.AddInt32(c, -1)
	if n < 0 {
		panic("mem: refcount underflow")
	}
	if n == 0 {
		a.mu.Lock()
		a.free = append(a.free, f)
		a.mu.Unlock()
		return true
	}
	return false
}
