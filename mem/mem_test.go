package mem

import (
	"testing"

	"gotest.tools/v3/assert"

	"rendezvous/defs"
)

func newTestManager() *Manager {
	return NewManager(NewAllocator(64), NewSimTable())
}

func TestMemoryExclusivity(t *testing.T) {
	// P3: no physical frame is mapped writable in more than one address
	// space at any instant. LendMemory(mutable=true) must revoke the
	// source mapping before installing the destination one.
	m := newTestManager()
	r, err := m.MapRange(2, nil, nil, 2*defs.PageSize, defs.FlagR|defs.FlagW)
	assert.Equal(t, err, defs.ErrNone)

	dst, lerr := m.LendMemory(2, r.Addr, 3, 0, r.Len, true)
	assert.Equal(t, lerr, defs.ErrNone)

	_, _, stillMapped := m.pt.Translate(2, r.Addr)
	assert.Assert(t, !stillMapped)

	frame, flags, ok := m.pt.Translate(3, dst)
	assert.Assert(t, ok)
	assert.Assert(t, flags&defs.FlagW != 0)
	assert.Assert(t, frame != 0)
}

func TestReturnMemoryRoundTrip(t *testing.T) {
	// P4: lend_memory followed by return_memory restores every mapping
	// to the original virtual address and permissions.
	m := newTestManager()
	r, err := m.MapRange(2, nil, nil, defs.PageSize, defs.FlagR|defs.FlagW)
	assert.Equal(t, err, defs.ErrNone)

	origFrame, _, ok := m.pt.Translate(2, r.Addr)
	assert.Assert(t, ok)

	dst, lerr := m.LendMemory(2, r.Addr, 3, 0, r.Len, true)
	assert.Equal(t, lerr, defs.ErrNone)

	rerr := m.ReturnMemory(3, dst, 2, r.Addr, r.Len)
	assert.Equal(t, rerr, defs.ErrNone)

	_, _, serverStillMapped := m.pt.Translate(3, dst)
	assert.Assert(t, !serverStillMapped)

	frame, flags, ok := m.pt.Translate(2, r.Addr)
	assert.Assert(t, ok)
	assert.Equal(t, frame, origFrame)
	assert.Equal(t, flags, defs.FlagR|defs.FlagW)
}

func TestMapRangeRejectsMisalignedSize(t *testing.T) {
	m := newTestManager()
	_, err := m.MapRange(2, nil, nil, 4097, defs.FlagR)
	assert.Equal(t, err, defs.ErrBadAlignment)
}

func TestMapRangeRejectsUserAreaOverrunForNonPID1(t *testing.T) {
	m := newTestManager()
	virt := defs.UserAreaEnd - defs.PageSize
	_, err := m.MapRange(2, nil, &virt, 2*defs.PageSize, defs.FlagR)
	assert.Equal(t, err, defs.ErrBadAddress)
}

func TestMapRangeOutOfMemory(t *testing.T) {
	m := NewManager(NewAllocator(1), NewSimTable())
	_, err := m.MapRange(2, nil, nil, 2*defs.PageSize, defs.FlagR)
	assert.Equal(t, err, defs.ErrOutOfMemory)
}
