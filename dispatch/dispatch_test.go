package dispatch

import (
	"testing"

	"gotest.tools/v3/assert"

	"rendezvous/defs"
	"rendezvous/ipc"
	"rendezvous/mem"
	"rendezvous/proc"
	"rendezvous/server"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, defs.PID) {
	t.Helper()
	registry := server.NewRegistry()
	svc := proc.NewServices(registry)
	svc.SetScheduler(proc.NewHosted(svc))
	manager := mem.NewManager(mem.NewAllocator(64), mem.NewSimTable())

	d := &Dispatcher{
		Services: svc,
		Registry: registry,
		Mem:      manager,
		IPC:      &ipc.Transport{Services: svc, Registry: registry, Mem: manager},
	}

	pid, _, err := svc.CreateProcess(defs.ProcessInit{Name: "p"}, 16*defs.PageSize)
	assert.Equal(t, err, defs.ErrNone)
	return d, pid
}

func TestUnhandledSyscallFallback(t *testing.T) {
	d, pid := newTestDispatcher(t)
	result := d.Handle(pid, 1, defs.SysCall{Tag: defs.SysCallTag(999)})
	assert.Equal(t, result.Tag, defs.ResError)
	assert.Equal(t, result.Err, defs.ErrUnhandledSyscall)
}

func TestSwitchToSingleOccupancyRejectsSecondCaller(t *testing.T) {
	// A second SwitchTo from a different (pid, tid) without an
	// intervening Yield must fail rather than silently clobbering the
	// first caller's slot (spec.md §4.4).
	d, pid := newTestDispatcher(t)
	other, _, err := d.Services.CreateProcess(defs.ProcessInit{Name: "other"}, defs.PageSize)
	assert.Equal(t, err, defs.ErrNone)

	first := d.Handle(pid, 1, defs.SysCall{Tag: defs.SysSwitchTo, NewPID: pid, NewTID: 1})
	assert.Assert(t, first.Tag != defs.ResError)

	second := d.Handle(other, 1, defs.SysCall{Tag: defs.SysSwitchTo, NewPID: pid, NewTID: 1})
	assert.Equal(t, second.Tag, defs.ResError)
}

func TestYieldWithNoSwitchToCallerIsOk(t *testing.T) {
	d, pid := newTestDispatcher(t)
	result := d.Handle(pid, 1, defs.SysCall{Tag: defs.SysYield})
	assert.Equal(t, result.Tag, defs.ResOk)
}

func TestUnmapMemoryRejectsMisalignedRangeWithoutMutating(t *testing.T) {
	d, pid := newTestDispatcher(t)
	r, merr := d.Mem.MapRange(pid, nil, nil, defs.PageSize, defs.FlagR|defs.FlagW)
	assert.Equal(t, merr, defs.ErrNone)

	bad := defs.MemoryRange{Addr: r.Addr, Len: r.Len + 1}
	result := d.Handle(pid, 1, defs.SysCall{Tag: defs.SysUnmapMemory, Range: bad})
	assert.Equal(t, result.Tag, defs.ResError)
	assert.Equal(t, result.Err, defs.ErrBadAlignment)

	_, _, stillMapped := d.Mem.Translate(pid, r.Addr)
	assert.Assert(t, stillMapped)
}

func TestIncreaseHeapThenDecreaseHeapRoundTrip(t *testing.T) {
	d, pid := newTestDispatcher(t)
	inc := d.Handle(pid, 1, defs.SysCall{Tag: defs.SysIncreaseHeap, Delta: defs.PageSize})
	assert.Equal(t, inc.Tag, defs.ResMemoryRange)

	dec := d.Handle(pid, 1, defs.SysCall{Tag: defs.SysDecreaseHeap, Delta: defs.PageSize})
	assert.Equal(t, dec.Tag, defs.ResOk)
}

func TestCreateServerAndTryConnect(t *testing.T) {
	d, pid := newTestDispatcher(t)
	created := d.Handle(pid, 1, defs.SysCall{Tag: defs.SysCreateServer, Name: "svc"})
	assert.Equal(t, created.Tag, defs.ResNewServerID)

	client, _, err := d.Services.CreateProcess(defs.ProcessInit{Name: "client"}, defs.PageSize)
	assert.Equal(t, err, defs.ErrNone)

	connected := d.Handle(client, 1, defs.SysCall{Tag: defs.SysTryConnect, SID: created.SID})
	assert.Equal(t, connected.Tag, defs.ResConnectionID)
}

func TestTerminateProcessWakesQueuedSenderWithoutDeadlocking(t *testing.T) {
	// A process hosting a server with an outstanding blocking sender
	// must be terminable: TerminateProcess wakes that sender with
	// ServerNotFound via Services.ReadyThread, which must not deadlock
	// on the big lock TerminateProcess's own WithMut scope holds.
	d, host := newTestDispatcher(t)
	created := d.Handle(host, 1, defs.SysCall{Tag: defs.SysCreateServer, Name: "svc"})
	assert.Equal(t, created.Tag, defs.ResNewServerID)

	client, _, err := d.Services.CreateProcess(defs.ProcessInit{Name: "client"}, defs.PageSize)
	assert.Equal(t, err, defs.ErrNone)
	connected := d.Handle(client, 1, defs.SysCall{Tag: defs.SysTryConnect, SID: created.SID})
	assert.Equal(t, connected.Tag, defs.ResConnectionID)

	msg := defs.Message{Tag: defs.MsgBlockingScalar, Scalar: defs.ScalarArgs{ID: 1}}
	sent := d.Handle(client, 1, defs.SysCall{Tag: defs.SysTrySendMessage, CID: connected.CID, Message: msg})
	assert.Equal(t, sent.Tag, defs.ResBlockedProcess)

	term := d.Handle(host, 1, defs.SysCall{Tag: defs.SysTerminateProcess})
	assert.Assert(t, term.Tag != defs.ResError)

	clientResult, rerr := d.Services.ThreadResult(client, 1)
	assert.Equal(t, rerr, defs.ErrNone)
	assert.Equal(t, clientResult.Tag, defs.ResError)
	assert.Equal(t, clientResult.Err, defs.ErrServerNotFound)
}
