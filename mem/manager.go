package mem

import (
	"sync"

	"rendezvous/defs"
)

// Manager is the Memory Manager facade of spec.md §4.1, mediating all
// cross-address-space page movement. It is grounded on
// biscuit/src/vm/as.go (Vm_t's pmap locking discipline) and the
// original_source SysCall::MapMemory arm for the zero-on-expose and
// USER_AREA_END rules.
//
// Address reservation for hint-less MapMemory/IncreaseHeap calls is a
// simple per-process bump allocator here; a bare-metal port would
// instead search Vmregion_t for a free hole and fault pages in lazily
// on first touch. Since the actual page-fault handler is named
// out-of-scope in spec.md §1, this core backs every MapMemory request
// with real frames immediately rather than deferring to a fault: frames
// from AllocZeroed when phys is given, and from Alloc (contents left to
// the allocator) when it is absent.
type Manager struct {
	mu     sync.Mutex
	frames FrameAllocator
	pt     PageTable
	mainMem map[Frame]bool
	bump   map[defs.PID]uintptr
}

func NewManager(frames FrameAllocator, pt PageTable) *Manager {
	return &Manager{
		frames:  frames,
		pt:      pt,
		mainMem: make(map[Frame]bool),
		bump:    make(map[defs.PID]uintptr),
	}
}

// Translate exposes the page table's virt->frame lookup for a given
// process, used by callers (and tests) that need to inspect a mapping
// without going through a full send/lend/return cycle.
func (m *Manager) Translate(pid defs.PID, virt uintptr) (Frame, defs.MapFlags, bool) {
	return m.pt.Translate(pid, virt)
}

// MarkMainMemory records that f was drawn from the main-RAM pool.
// MapRange does not consult these marks: it draws zeroed frames for
// every call that names phys, whether or not phys was marked.
func (m *Manager) MarkMainMemory(f Frame) {
	m.mu.Lock()
	m.mainMem[f] = true
	m.mu.Unlock()
}

func (m *Manager) reserve(pid defs.PID, size uintptr) uintptr {
	const base = uintptr(0x20000000)
	cur, ok := m.bump[pid]
	if !ok {
		cur = base
	}
	m.bump[pid] = cur + size
	return cur
}

// MapRange implements spec.md §4.1's map_range. phys/virt are nil when
// absent (hint-less / lazily-reserved).
func (m *Manager) MapRange(pid defs.PID, phys, virt *uintptr, size uintptr, flags defs.MapFlags) (defs.MemoryRange, defs.Err_t) {
	if !defs.SizeAligned(size) {
		return defs.MemoryRange{}, defs.ErrBadAlignment
	}
	if virt != nil && !defs.Aligned(*virt) {
		return defs.MemoryRange{}, defs.ErrBadAlignment
	}
	if pid != 1 && virt != nil && *virt+size > defs.UserAreaEnd {
		return defs.MemoryRange{}, defs.ErrBadAddress
	}

	m.mu.Lock()
	var target uintptr
	if virt != nil {
		target = *virt
	} else {
		target = m.reserve(pid, size)
	}
	m.mu.Unlock()

	if pid != 1 && target+size > defs.UserAreaEnd {
		return defs.MemoryRange{}, defs.ErrBadAddress
	}

	npages := int(size / defs.PageSize)
	zeroing := phys != nil
	frs := make([]Frame, 0, npages)
	for i := 0; i < npages; i++ {
		var f Frame
		var ok bool
		if zeroing {
			f, ok = m.frames.AllocZeroed()
		} else {
			f, ok = m.frames.Alloc()
		}
		if !ok {
			for _, done := range frs {
				m.frames.Unref(done)
			}
			return defs.MemoryRange{}, defs.ErrOutOfMemory
		}
		m.frames.Ref(f)
		frs = append(frs, f)
	}

	for i, f := range frs {
		va := target + uintptr(i)*defs.PageSize
		if err := m.pt.Map(pid, va, f, flags); err != nil {
			return defs.MemoryRange{}, defs.ErrInternal
		}
	}

	return defs.MemoryRange{Addr: target, Len: size}, defs.ErrNone
}

// UnmapPage tears down one page's mapping. Idempotent failure (the
// page was already unmapped) is reported but, per spec.md §4.1, never
// aborts a caller's bulk unmap loop by itself.
func (m *Manager) UnmapPage(pid defs.PID, virt uintptr) defs.Err_t {
	frame, _, ok := m.pt.Translate(pid, virt)
	if !ok {
		return defs.ErrBadAddress
	}
	if err := m.pt.Unmap(pid, virt); err != nil {
		return defs.ErrBadAddress
	}
	m.frames.Unref(frame)
	return defs.ErrNone
}

// SendMemory implements §4.1's send_memory: a permanent, page-level
// move. Source pages are unmapped from the caller and mapped into
// dstPID; the frames themselves are untouched (refcount unchanged).
func (m *Manager) SendMemory(srcPID defs.PID, srcVirt uintptr, dstPID defs.PID, dstHint uintptr, length uintptr) (uintptr, defs.Err_t) {
	if !defs.Aligned(srcVirt) || !defs.SizeAligned(length) {
		return 0, defs.ErrBadAlignment
	}
	m.mu.Lock()
	dst := dstHint
	if dst == 0 {
		dst = m.reserve(dstPID, length)
	}
	m.mu.Unlock()

	npages := int(length / defs.PageSize)
	frs := make([]struct {
		frame Frame
		flags defs.MapFlags
	}, 0, npages)
	for i := 0; i < npages; i++ {
		f, flags, ok := m.pt.Translate(srcPID, srcVirt+uintptr(i)*defs.PageSize)
		if !ok {
			return 0, defs.ErrBadAddress
		}
		frs = append(frs, struct {
			frame Frame
			flags defs.MapFlags
		}{f, flags})
	}
	for i, e := range frs {
		va := srcVirt + uintptr(i)*defs.PageSize
		if err := m.pt.Unmap(srcPID, va); err != nil {
			return 0, defs.ErrInternal
		}
		if err := m.pt.Map(dstPID, dst+uintptr(i)*defs.PageSize, e.frame, e.flags); err != nil {
			return 0, defs.ErrInternal
		}
	}
	return dst, defs.ErrNone
}

// LendMemory implements §4.1's lend_memory: the caller's mapping is
// revoked for the duration of the loan and the same frames are
// remapped into dstPID with R (mutable=false) or RW (mutable=true)
// permission. ReturnMemory is the symmetric reversal.
func (m *Manager) LendMemory(srcPID defs.PID, srcVirt uintptr, dstPID defs.PID, dstHint uintptr, length uintptr, mutable bool) (uintptr, defs.Err_t) {
	if !defs.Aligned(srcVirt) || !defs.SizeAligned(length) {
		return 0, defs.ErrBadAlignment
	}
	m.mu.Lock()
	dst := dstHint
	if dst == 0 {
		dst = m.reserve(dstPID, length)
	}
	m.mu.Unlock()

	flags := defs.FlagR
	if mutable {
		flags |= defs.FlagW
	}

	npages := int(length / defs.PageSize)
	frs := make([]Frame, 0, npages)
	for i := 0; i < npages; i++ {
		f, _, ok := m.pt.Translate(srcPID, srcVirt+uintptr(i)*defs.PageSize)
		if !ok {
			return 0, defs.ErrBadAddress
		}
		frs = append(frs, f)
	}
	for i, f := range frs {
		va := srcVirt + uintptr(i)*defs.PageSize
		if err := m.pt.Unmap(srcPID, va); err != nil {
			return 0, defs.ErrInternal
		}
		if err := m.pt.Map(dstPID, dst+uintptr(i)*defs.PageSize, f, flags); err != nil {
			return 0, defs.ErrInternal
		}
	}
	return dst, defs.ErrNone
}

// ReturnMemory reverses LendMemory: the server's mapping at serverVirt
// is torn down and the original client mapping at clientVirt is
// restored over the same frames, so a MutableBorrow's writes are
// visible to the client (§4.1). The restored permission is always
// R+W: the protocol does not carry the client's pre-loan flags, and in
// practice every loaned page originates from the client's own
// read-write heap.
func (m *Manager) ReturnMemory(serverPID defs.PID, serverVirt uintptr, clientPID defs.PID, clientVirt uintptr, length uintptr) defs.Err_t {
	if !defs.Aligned(serverVirt) || !defs.Aligned(clientVirt) || !defs.SizeAligned(length) {
		return defs.ErrBadAlignment
	}
	npages := int(length / defs.PageSize)
	frs := make([]Frame, 0, npages)
	for i := 0; i < npages; i++ {
		f, _, ok := m.pt.Translate(serverPID, serverVirt+uintptr(i)*defs.PageSize)
		if !ok {
			return defs.ErrBadAddress
		}
		frs = append(frs, f)
	}
	for i, f := range frs {
		sva := serverVirt + uintptr(i)*defs.PageSize
		cva := clientVirt + uintptr(i)*defs.PageSize
		if err := m.pt.Unmap(serverPID, sva); err != nil {
			return defs.ErrInternal
		}
		if err := m.pt.Map(clientPID, cva, f, defs.FlagR|defs.FlagW); err != nil {
			return defs.ErrInternal
		}
	}
	return defs.ErrNone
}
