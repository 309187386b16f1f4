// Package dispatch is the Syscall dispatcher of spec.md §4.4: it
// decodes a tagged defs.SysCall and drives the Memory Manager, System
// Services and IPC transport flows underneath it, enforcing
// preconditions before any state mutation. Grounded on
// original_source/kernel/src/syscall.rs's handle/handle_inner match
// arms, one arm per defs.SysCallTag.
package dispatch

import (
	"fmt"
	"time"

	"rendezvous/defs"
	"rendezvous/ipc"
	"rendezvous/mem"
	"rendezvous/proc"
	"rendezvous/server"
	"rendezvous/tinfo"
)

// counter is implemented by *stats.Collector; declared locally so this
// package does not need to import stats just to accept an optional
// recorder.
type counter interface {
	IncSyscall(tag string)
}

// Dispatcher ties every collaborator component together, the single
// object cmd/hosted constructs per running kernel instance.
type Dispatcher struct {
	Services *proc.Services
	Registry *server.Registry
	Mem      *mem.Manager
	IPC      *ipc.Transport

	// Trace, when true, prints the "KERNEL(pid:tid): Syscall ..."
	// diagnostic line the teacher's debug-print feature gates,
	// matching biscuit's bare fmt.Printf convention rather than a
	// structured logger (core kernel diagnostics stay text, per
	// SPEC_FULL.md's ambient-stack section; cmd/hosted's own logging
	// uses logrus).
	Trace bool

	Stats counter
}

// Handle decodes call on behalf of (pid, tid) and returns the Result
// the syscall ABI promises, matching original_source's
// pub fn handle(pid, tid, call) -> SysCallResult wrapper around
// handle_inner.
func (d *Dispatcher) Handle(pid defs.PID, tid defs.TID, call defs.SysCall) defs.Result {
	start := time.Now()
	if d.Trace {
		fmt.Printf("KERNEL(%d:%d): Syscall %s", pid, tid, call.Tag)
	}
	result := d.handleInner(pid, tid, call)
	if d.Trace {
		fmt.Printf(" -> %+v\n", result)
	}
	if d.Stats != nil {
		d.Stats.IncSyscall(call.Tag.String())
	}
	d.Services.RecordSyscallTime(pid, time.Since(start))
	return result
}

func (d *Dispatcher) handleInner(pid defs.PID, tid defs.TID, call defs.SysCall) defs.Result {
	switch call.Tag {
	case defs.SysMapMemory:
		return d.mapMemory(pid, call)
	case defs.SysUnmapMemory:
		return d.unmapMemory(pid, call.Range)
	case defs.SysIncreaseHeap:
		r, err := d.Services.IncreaseHeap(pid, call.Delta)
		if err != defs.ErrNone {
			return defs.ErrResult(err)
		}
		return defs.MemoryRangeResult(r)
	case defs.SysDecreaseHeap:
		if err := d.Services.DecreaseHeap(pid, call.Delta); err != defs.ErrNone {
			return defs.ErrResult(err)
		}
		return defs.Ok()
	case defs.SysSwitchTo:
		return d.switchTo(pid, tid, call.NewPID, call.NewTID)
	case defs.SysClaimInterrupt:
		// Interrupt delivery (the ISR chain and its special kernel
		// stack) is explicitly out of scope per spec.md §1; claiming
		// one just records bookkeeping success so callers that probe
		// for the syscall's existence do not fail spuriously.
		return defs.Ok()
	case defs.SysYield:
		return d.yield(pid, tid)
	case defs.SysReturnToParentI:
		return d.returnToParentI(pid, tid)
	case defs.SysReceiveMessage:
		return d.IPC.Receive(pid, tid, call.SID)
	case defs.SysWaitEvent:
		return d.waitEvent(pid, tid)
	case defs.SysCreateThread:
		newTID, err := d.Services.CreateThread(pid, call.TInit)
		if err != defs.ErrNone {
			return defs.ErrResult(err)
		}
		return defs.ThreadIDResult(newTID)
	case defs.SysCreateProcess:
		newPID, _, err := d.Services.CreateProcess(call.PInit, call.PInit.Entry.StackPtr)
		if err != defs.ErrNone {
			return defs.ErrResult(err)
		}
		return defs.ProcessIDResult(newPID)
	case defs.SysCreateServer:
		sid, sidx := d.Registry.Create(pid, call.Name)
		cid, err := d.Services.Connect(pid, sid)
		if err != defs.ErrNone {
			return defs.ErrResult(err)
		}
		_ = sidx
		return defs.NewServerIDResult(sid, cid)
	case defs.SysTryConnect:
		cid, err := d.Services.Connect(pid, call.SID)
		if err != defs.ErrNone {
			return defs.ErrResult(err)
		}
		return defs.ConnectionIDResult(cid)
	case defs.SysReturnMemory:
		return d.IPC.ReturnMemory(pid, call.Sender, call.Buf)
	case defs.SysReturnScalar1:
		return d.IPC.ReturnScalar1(pid, call.Sender, call.Arg1)
	case defs.SysReturnScalar2:
		return d.IPC.ReturnScalar2(pid, call.Sender, call.Arg1, call.Arg2)
	case defs.SysTrySendMessage:
		return d.IPC.Send(pid, tid, call.CID, call.Message)
	case defs.SysTerminateProcess:
		return d.terminateProcess(pid, tid)
	case defs.SysShutdown:
		return defs.Ok()
	default:
		// The teacher's original_source panics on an unknown syscall
		// during development; spec.md §7 requires production to
		// replace that with UnhandledSyscall instead.
		return defs.ErrResult(defs.ErrUnhandledSyscall)
	}
}

// mapMemory implements spec.md §4.1 map_range via the Memory Manager,
// the MapMemory arm of handle_inner.
func (d *Dispatcher) mapMemory(pid defs.PID, call defs.SysCall) defs.Result {
	r, err := d.Mem.MapRange(pid, call.Phys, call.Virt, call.Size, call.Flags)
	if err != defs.ErrNone {
		return defs.ErrResult(err)
	}
	return defs.MemoryRangeResult(r)
}

// unmapMemory tears down every page in range, collecting only the
// first error as spec.md §3/§6 UnmapMemory specifies ("Errors from
// individual page unmaps are collected; the first is returned").
func (d *Dispatcher) unmapMemory(pid defs.PID, r defs.MemoryRange) defs.Result {
	if !defs.Aligned(r.Addr) || !defs.SizeAligned(r.Len) {
		return defs.ErrResult(defs.ErrBadAlignment)
	}
	var first defs.Err_t = defs.ErrNone
	for off := uintptr(0); off < r.Len; off += defs.PageSize {
		if err := d.Mem.UnmapPage(pid, r.Addr+off); err != defs.ErrNone && first == defs.ErrNone {
			first = err
		}
	}
	if first != defs.ErrNone {
		return defs.ErrResult(first)
	}
	return defs.Ok()
}

// switchTo implements spec.md §4.4's single-slot switchto-caller
// assertion: SwitchTo must not be issued twice without an intervening
// Yield.
func (d *Dispatcher) switchTo(pid defs.PID, tid defs.TID, newPID defs.PID, newTID defs.TID) defs.Result {
	if err := d.Services.SetSwitchToCaller(pid, tid); err != defs.ErrNone {
		return defs.ErrResult(err)
	}
	result, err := d.Services.Scheduler().Activate(pid, tid, newPID, newTID, true)
	if err != defs.ErrNone {
		return defs.ErrResult(err)
	}
	return result
}

// yield implements spec.md §6 Yield -> Ok | ResumeProcess: with the
// switchto-caller slot empty it returns Ok; otherwise it clears the
// slot and activates the thread that issued the SwitchTo through the
// installed scheduler, returning whatever that scheduler reports.
func (d *Dispatcher) yield(pid defs.PID, tid defs.TID) defs.Result {
	callerPID, callerTID, ok := d.Services.ClearSwitchToCaller()
	if !ok {
		return defs.Ok()
	}
	result, err := d.Services.Scheduler().Activate(pid, tid, callerPID, callerTID, true)
	if err != defs.ErrNone {
		return defs.ErrResult(err)
	}
	return result
}

// returnToParentI implements the ISR-unwind half of ReturnToParentI:
// swap in the most recent switchto-caller so the interrupt chain
// unwinds to whoever was interrupted (spec.md §5).
func (d *Dispatcher) returnToParentI(pid defs.PID, tid defs.TID) defs.Result {
	callerPID, callerTID, ok := d.Services.ClearSwitchToCaller()
	if !ok {
		return defs.ErrResult(defs.ErrInternal)
	}
	result, err := d.Services.Scheduler().Activate(pid, tid, callerPID, callerTID, true)
	if err != defs.ErrNone {
		return defs.ErrResult(err)
	}
	return result
}

// waitEvent suspends the calling thread back to its parent, the
// mechanism original_source uses for a process idling on its event
// loop outside of any specific ReceiveMessage.
func (d *Dispatcher) waitEvent(pid defs.PID, tid defs.TID) defs.Result {
	if err := d.Services.SetThreadState(pid, tid, tinfo.BlockedOnReceive); err != defs.ErrNone {
		return defs.ErrResult(err)
	}
	result, err := d.Services.Scheduler().SuspendCurrent(pid, tid)
	if err != defs.ErrNone {
		return defs.ErrResult(err)
	}
	return result
}

// terminateProcess implements spec.md §3/§6 TerminateProcess: release
// every endpoint the process hosts (waking outstanding senders with
// ServerNotFound) and reparent its children, then resume the parent.
func (d *Dispatcher) terminateProcess(pid defs.PID, tid defs.TID) defs.Result {
	p, ok := d.Services.GetProcess(pid)
	if !ok {
		return defs.ErrResult(defs.ErrProcessNotFound)
	}
	ppid := p.PPID
	err := d.Services.TerminateProcess(pid, func(clientPID defs.PID, clientTID defs.TID) {
		d.Services.ReadyThread(clientPID, clientTID, defs.ErrResult(defs.ErrServerNotFound))
	})
	if err != defs.ErrNone {
		return defs.ErrResult(err)
	}
	result, aerr := d.Services.Scheduler().Activate(pid, tid, ppid, 0, true)
	if aerr != defs.ErrNone {
		return defs.ResumeProcess()
	}
	return result
}
