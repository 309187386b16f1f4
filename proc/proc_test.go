package proc

import (
	"testing"

	"gotest.tools/v3/assert"

	"rendezvous/defs"
	"rendezvous/server"
)

func newTestServices() *Services {
	svc := NewServices(server.NewRegistry())
	svc.SetScheduler(NewHosted(svc))
	return svc
}

func TestHeapMonotonicBounds(t *testing.T) {
	// P6: after any mix of IncreaseHeap/DecreaseHeap with successful
	// returns, 0 <= heap_size <= heap_max.
	svc := newTestServices()
	pid, _, err := svc.CreateProcess(defs.ProcessInit{Name: "a"}, 3*defs.PageSize)
	assert.Equal(t, err, defs.ErrNone)

	_, err = svc.IncreaseHeap(pid, 2*defs.PageSize)
	assert.Equal(t, err, defs.ErrNone)

	_, err = svc.IncreaseHeap(pid, 2*defs.PageSize)
	assert.Equal(t, err, defs.ErrOutOfMemory)

	err = svc.DecreaseHeap(pid, defs.PageSize)
	assert.Equal(t, err, defs.ErrNone)

	p, ok := svc.GetProcess(pid)
	assert.Assert(t, ok)
	assert.Assert(t, p.HeapSize <= p.HeapMax)
	assert.Equal(t, p.HeapSize, uintptr(defs.PageSize))
}

func TestMisalignedHeapIncrease(t *testing.T) {
	// Scenario 6: IncreaseHeap(0x1001, flags) -> BadAlignment; heap_size
	// unchanged.
	svc := newTestServices()
	pid, _, err := svc.CreateProcess(defs.ProcessInit{Name: "a"}, 64*defs.PageSize)
	assert.Equal(t, err, defs.ErrNone)

	_, err = svc.IncreaseHeap(pid, 0x1001)
	assert.Equal(t, err, defs.ErrBadAlignment)

	p, ok := svc.GetProcess(pid)
	assert.Assert(t, ok)
	assert.Equal(t, p.HeapSize, uintptr(0))
}

func TestTerminateProcessReparentsChildren(t *testing.T) {
	svc := newTestServices()
	parent, _, err := svc.CreateProcess(defs.ProcessInit{Name: "parent"}, defs.PageSize)
	assert.Equal(t, err, defs.ErrNone)
	child, _, err := svc.CreateProcess(defs.ProcessInit{Name: "child", PPID: parent}, defs.PageSize)
	assert.Equal(t, err, defs.ErrNone)

	terr := svc.TerminateProcess(parent, func(defs.PID, defs.TID) {})
	assert.Equal(t, terr, defs.ErrNone)

	c, ok := svc.GetProcess(child)
	assert.Assert(t, ok)
	assert.Equal(t, c.PPID, defs.PID(0))

	_, ok = svc.GetProcess(parent)
	assert.Assert(t, !ok)
}

func TestTerminateProcessReleasesEndpoints(t *testing.T) {
	svc := newTestServices()
	reg := svc.registry
	host, _, err := svc.CreateProcess(defs.ProcessInit{Name: "host"}, defs.PageSize)
	assert.Equal(t, err, defs.ErrNone)
	_, sidx := reg.Create(host, "svc")

	ep := reg.Endpoint(sidx)
	_, rerr := ep.RememberServerMessage(9, 1, defs.Message{Tag: defs.MsgBlockingScalar}, 0)
	assert.Equal(t, rerr, defs.ErrNone)

	var woken []defs.PID
	terr := svc.TerminateProcess(host, func(pid defs.PID, _ defs.TID) { woken = append(woken, pid) })
	assert.Equal(t, terr, defs.ErrNone)
	assert.Equal(t, len(woken), 1)
	assert.Equal(t, woken[0], defs.PID(9))
	assert.Assert(t, reg.Endpoint(sidx) == nil)
}

func TestSwitchToCallerSingleOccupancy(t *testing.T) {
	svc := newTestServices()
	err := svc.SetSwitchToCaller(1, 1)
	assert.Equal(t, err, defs.ErrNone)

	err = svc.SetSwitchToCaller(2, 1)
	assert.Equal(t, err, defs.ErrInternal)

	pid, tid, ok := svc.ClearSwitchToCaller()
	assert.Assert(t, ok)
	assert.Equal(t, pid, defs.PID(1))
	assert.Equal(t, tid, defs.TID(1))

	_, _, ok = svc.ClearSwitchToCaller()
	assert.Assert(t, !ok)
}
