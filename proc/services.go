package proc

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"rendezvous/defs"
	"rendezvous/server"
	"rendezvous/tinfo"
)

// switchToCaller is the SWITCHTO_CALLER single-slot record of spec.md
// §9: "which userspace thread issued the current SwitchTo and is
// awaiting Yield". occupied guards against a second SwitchTo before an
// intervening Yield, which spec.md §4.4 calls a kernel bug.
type switchToCaller struct {
	occupied  bool
	callerPID defs.PID
	callerTID defs.TID
}

// Services is the System Services component of spec.md §2: the
// process/thread table, the runnable set, and the context-switch
// primitives, all reached through one scoped accessor. Grounded on
// biscuit/src/proc/proc.go's Proc_t table plus biscuit/src/limits's
// per-system resource bookkeeping, collapsed into a single struct
// because spec.md §5 asks for one process-wide scope, not biscuit's
// split proc-table/fd-table/vm-region ownership.
//
// big is the "big-lock monitor" of spec.md §5: every mutating
// operation on Services runs under WithMut, which acquires it as a
// binary semaphore (golang.org/x/sync/semaphore.Weighted(1)) rather
// than a sync.Mutex so the same acquire/release pair can later gain a
// context-based timeout without a type change — the single logical
// CPU the spec describes has no actual contention today, but the
// collaborator interfaces (Scheduler) may one day block inside the
// scope.
type Services struct {
	big *semaphore.Weighted

	processes map[defs.PID]*Process
	nextPID   defs.PID

	registry  *server.Registry
	sched     Scheduler
	switchTo  switchToCaller
}

// NewServices constructs an empty process table bound to registry for
// server lookups. The caller installs a Scheduler afterward with
// SetScheduler, since Baremetal/Hosted both take *Services by
// reference.
func NewServices(registry *server.Registry) *Services {
	return &Services{
		big:       semaphore.NewWeighted(1),
		processes: make(map[defs.PID]*Process),
		nextPID:   1,
		registry:  registry,
	}
}

func (s *Services) SetScheduler(sched Scheduler) { s.sched = sched }

// Scheduler returns the scheduler installed by SetScheduler, used by
// the IPC transport to drive suspension/activation at the boundary of
// each blocking syscall (spec.md §5).
func (s *Services) Scheduler() Scheduler { return s.sched }

// WithMut is the scoped accessor ("with_mut") spec.md §5 and §9 call
// for: a process-wide singleton reached through a scoped acquisition
// that guarantees release on every exit path. Go has no generic
// methods, so this is a package-level function parameterized over the
// caller's return type, mirroring how biscuit's Proc_t.Lock_pmap and
// friends bracket a critical section with defer Unlock — here with
// acquire/release on the big semaphore instead of a plain mutex.
func WithMut[T any](s *Services, fn func(*Services) (T, defs.Err_t)) (T, defs.Err_t) {
	// Acquire(ctx, 1) on a context.Background() never blocks on
	// cancellation; it only ever blocks on the single permit, which is
	// exactly the big-lock semantics spec.md §5 describes.
	if err := s.big.Acquire(context.Background(), 1); err != nil {
		var zero T
		return zero, defs.ErrInternal
	}
	defer s.big.Release(1)
	return fn(s)
}

// process looks up a live process by pid. Must be called with big
// held.
func (s *Services) process(pid defs.PID) (*Process, bool) {
	p, ok := s.processes[pid]
	if !ok || p.Terminated {
		return nil, false
	}
	return p, true
}

// RecordSyscallTime folds delta nanoseconds into pid's system-time
// accounting, the way Accnt_t.Systadd did at the end of every syscall
// in the original kernel; dispatch.Handle calls this once per
// dispatched call regardless of outcome.
func (s *Services) RecordSyscallTime(pid defs.PID, delta time.Duration) {
	WithMut(s, func(s *Services) (struct{}, defs.Err_t) {
		if p, ok := s.process(pid); ok {
			p.Usage.Systadd(delta.Nanoseconds())
		}
		return struct{}{}, defs.ErrNone
	})
}

// GetProcess is the locked counterpart of process, for callers outside
// the WithMut scope (e.g. tests inspecting final state).
func (s *Services) GetProcess(pid defs.PID) (*Process, bool) {
	p, err := WithMut(s, func(s *Services) (*Process, defs.Err_t) {
		p, ok := s.process(pid)
		if !ok {
			return nil, defs.ErrProcessNotFound
		}
		return p, defs.ErrNone
	})
	return p, err == defs.ErrNone
}

// CreateProcess allocates a fresh PID and its initial thread, per
// spec.md §6 CreateProcess(init) -> ProcessID.
func (s *Services) CreateProcess(init defs.ProcessInit, heapMax uintptr) (defs.PID, defs.TID, defs.Err_t) {
	type out struct {
		pid defs.PID
		tid defs.TID
	}
	r, err := WithMut(s, func(s *Services) (out, defs.Err_t) {
		if init.PPID != 0 {
			if _, ok := s.process(init.PPID); !ok {
				return out{}, defs.ErrProcessNotFound
			}
		}
		pid := s.nextPID
		s.nextPID++
		p := newProcess(pid, init.PPID, heapMax)
		tid, note := p.addThread()
		note.State = tinfo.Ready
		s.processes[pid] = p
		return out{pid: pid, tid: tid}, defs.ErrNone
	})
	return r.pid, r.tid, err
}

// CreateThread adds a Ready thread to pid, per spec.md §6
// CreateThread(init) -> ThreadID.
func (s *Services) CreateThread(pid defs.PID, init defs.ThreadInit) (defs.TID, defs.Err_t) {
	return WithMut(s, func(s *Services) (defs.TID, defs.Err_t) {
		p, ok := s.process(pid)
		if !ok {
			return 0, defs.ErrProcessNotFound
		}
		tid, note := p.addThread()
		note.State = tinfo.Ready
		note.Regs[0] = init.EntryPoint
		note.Regs[1] = init.StackPtr
		note.Regs[2] = init.Arg
		return tid, defs.ErrNone
	})
}

// ReadyThread transitions (pid, tid) to Ready and stashes result as
// the value it will observe once scheduled, the mechanism spec.md
// §4.3 step 4c calls "deliver the envelope by writing Result::Message
// into the receiver thread's saved result register".
func (s *Services) ReadyThread(pid defs.PID, tid defs.TID, result defs.Result) defs.Err_t {
	_, err := WithMut(s, func(s *Services) (struct{}, defs.Err_t) {
		p, ok := s.process(pid)
		if !ok {
			return struct{}{}, defs.ErrProcessNotFound
		}
		note, ok := p.Threads[tid]
		if !ok {
			return struct{}{}, defs.ErrThreadNotAvailable
		}
		note.State = tinfo.Ready
		note.SavedResult = result
		return struct{}{}, defs.ErrNone
	})
	return err
}

// SetThreadState transitions (pid, tid) to state without touching its
// saved result, used for BlockedOnReceive/BlockedOnSend/BlockedOnReturn
// transitions ahead of a suspension point.
func (s *Services) SetThreadState(pid defs.PID, tid defs.TID, state tinfo.State) defs.Err_t {
	_, err := WithMut(s, func(s *Services) (struct{}, defs.Err_t) {
		p, ok := s.process(pid)
		if !ok {
			return struct{}{}, defs.ErrProcessNotFound
		}
		note, ok := p.Threads[tid]
		if !ok {
			return struct{}{}, defs.ErrThreadNotAvailable
		}
		note.State = state
		return struct{}{}, defs.ErrNone
	})
	return err
}

// ThreadResult reads back the saved result register of (pid, tid),
// used once a blocked thread is rescheduled to find out what to
// return from the syscall that parked it.
func (s *Services) ThreadResult(pid defs.PID, tid defs.TID) (defs.Result, defs.Err_t) {
	return WithMut(s, func(s *Services) (defs.Result, defs.Err_t) {
		p, ok := s.process(pid)
		if !ok {
			return defs.Result{}, defs.ErrProcessNotFound
		}
		note, ok := p.Threads[tid]
		if !ok {
			return defs.Result{}, defs.ErrThreadNotAvailable
		}
		return note.SavedResult, defs.ErrNone
	})
}

// activateLocked marks (pid, tid) Running. Called with big already
// held, by Scheduler implementations.
func (s *Services) activateLocked(pid defs.PID, tid defs.TID) (defs.Result, defs.Err_t) {
	p, ok := s.process(pid)
	if !ok {
		return defs.Result{}, defs.ErrProcessNotFound
	}
	note, ok := p.Threads[tid]
	if !ok {
		return defs.Result{}, defs.ErrThreadNotAvailable
	}
	note.State = tinfo.Running
	return defs.ResumeProcess(), defs.ErrNone
}

// SetSwitchToCaller installs the switchto-caller slot, asserting it
// was empty (spec.md §4.4: "SwitchTo must not be issued twice without
// an intervening Yield").
func (s *Services) SetSwitchToCaller(pid defs.PID, tid defs.TID) defs.Err_t {
	_, err := WithMut(s, func(s *Services) (struct{}, defs.Err_t) {
		if s.switchTo.occupied {
			return struct{}{}, defs.ErrInternal
		}
		s.switchTo = switchToCaller{occupied: true, callerPID: pid, callerTID: tid}
		return struct{}{}, defs.ErrNone
	})
	return err
}

// ClearSwitchToCaller empties the slot, returning the record that was
// there (used by Yield and by Baremetal.SuspendCurrent to resolve
// which process receives control back).
func (s *Services) ClearSwitchToCaller() (defs.PID, defs.TID, bool) {
	type out struct {
		pid defs.PID
		tid defs.TID
		ok  bool
	}
	r, _ := WithMut(s, func(s *Services) (out, defs.Err_t) {
		if !s.switchTo.occupied {
			return out{}, defs.ErrNone
		}
		o := out{pid: s.switchTo.callerPID, tid: s.switchTo.callerTID, ok: true}
		s.switchTo = switchToCaller{}
		return o, defs.ErrNone
	})
	return r.pid, r.tid, r.ok
}

// Connect resolves sid to a CID within client, allocating a
// connection-table slot on first use per spec.md §3 CID.
func (s *Services) Connect(client defs.PID, sid defs.SID) (defs.CID, defs.Err_t) {
	sidx, ok := s.registry.SidxFromSID(sid)
	if !ok {
		return 0, defs.ErrServerNotFound
	}
	return WithMut(s, func(s *Services) (defs.CID, defs.Err_t) {
		p, ok := s.process(client)
		if !ok {
			return 0, defs.ErrProcessNotFound
		}
		return p.connFor(sidx), defs.ErrNone
	})
}

// ResolveCID maps a client's CID back to the server sidx it was bound
// to, failing ServerNotFound if the connection table has no such
// entry.
func (s *Services) ResolveCID(client defs.PID, cid defs.CID) (uint32, defs.Err_t) {
	return WithMut(s, func(s *Services) (uint32, defs.Err_t) {
		p, ok := s.process(client)
		if !ok {
			return 0, defs.ErrProcessNotFound
		}
		sidx, ok := p.Conns[cid]
		if !ok {
			return 0, defs.ErrServerNotFound
		}
		return sidx, defs.ErrNone
	})
}

// IncreaseHeap grows pid's heap by delta bytes, enforcing both the
// heap_max ceiling named in spec.md §3 and, per the Open Question
// resolution in spec.md §9, the USER_AREA_END ceiling for every pid
// other than 1.
func (s *Services) IncreaseHeap(pid defs.PID, delta uintptr) (defs.MemoryRange, defs.Err_t) {
	return WithMut(s, func(s *Services) (defs.MemoryRange, defs.Err_t) {
		if !defs.SizeAligned(delta) {
			return defs.MemoryRange{}, defs.ErrBadAlignment
		}
		p, ok := s.process(pid)
		if !ok {
			return defs.MemoryRange{}, defs.ErrProcessNotFound
		}
		newSize := p.HeapSize + delta
		if newSize > p.HeapMax {
			return defs.MemoryRange{}, defs.ErrOutOfMemory
		}
		newTop := p.HeapBase + newSize
		if pid != 1 && newTop > defs.UserAreaEnd {
			return defs.MemoryRange{}, defs.ErrOutOfMemory
		}
		base := p.HeapBase + p.HeapSize
		p.HeapSize = newSize
		return defs.MemoryRange{Addr: base, Len: delta}, defs.ErrNone
	})
}

// DecreaseHeap shrinks pid's heap by delta bytes, per spec.md §6
// DecreaseHeap(delta) -> Ok | BadAlignment | OutOfMemory. Shrinking
// below zero is reported as OutOfMemory, matching MapMemory's choice
// to use the allocator's own error vocabulary rather than invent a
// new kind for a bounds violation (spec.md §3 "heap_size <= heap_max,
// both page-multiples" is the invariant actually being protected).
func (s *Services) DecreaseHeap(pid defs.PID, delta uintptr) defs.Err_t {
	_, err := WithMut(s, func(s *Services) (struct{}, defs.Err_t) {
		if !defs.SizeAligned(delta) {
			return struct{}{}, defs.ErrBadAlignment
		}
		p, ok := s.process(pid)
		if !ok {
			return struct{}{}, defs.ErrProcessNotFound
		}
		if delta > p.HeapSize {
			return struct{}{}, defs.ErrOutOfMemory
		}
		p.HeapSize -= delta
		return struct{}{}, defs.ErrNone
	})
	return err
}

// releasedSender is one outstanding sender freed by TerminateProcess,
// buffered until the big lock is released so wake can safely re-enter
// Services (e.g. call ReadyThread) without deadlocking on the
// non-reentrant permit WithMut already holds.
type releasedSender struct {
	pid defs.PID
	tid defs.TID
}

// TerminateProcess frees pid: every endpoint it hosts is destroyed
// (waking outstanding senders with ServerNotFound, per spec.md §4.2),
// and every live child process is reparented to pid's own parent,
// matching spec.md §3's "destroyed by TerminateProcess, which
// reparents outstanding obligations to ppid". wake is invoked once per
// outstanding sender released, so the caller (dispatch) can ready each
// one with a ServerNotFound result; it runs after the big lock is
// released, since wake typically re-enters Services (ReadyThread),
// which would deadlock on WithMut's weight-1 semaphore if called from
// within this method's own WithMut scope.
func (s *Services) TerminateProcess(pid defs.PID, wake func(clientPID defs.PID, clientTID defs.TID)) defs.Err_t {
	var released []releasedSender
	_, err := WithMut(s, func(s *Services) (struct{}, defs.Err_t) {
		p, ok := s.process(pid)
		if !ok {
			return struct{}{}, defs.ErrProcessNotFound
		}
		for _, sidx := range s.registry.HostedBy(pid) {
			ep := s.registry.Endpoint(sidx)
			if ep == nil {
				continue
			}
			ep.ReleaseAll(func(clientPID defs.PID, clientTID defs.TID) {
				released = append(released, releasedSender{pid: clientPID, tid: clientTID})
			})
			s.registry.Destroy(sidx)
		}
		for _, child := range s.processes {
			if !child.Terminated && child.PPID == pid {
				child.PPID = p.PPID
			}
		}
		p.Terminated = true
		if s.switchTo.occupied && s.switchTo.callerPID == pid {
			s.switchTo = switchToCaller{}
		}
		return struct{}{}, defs.ErrNone
	})
	if err != defs.ErrNone {
		return err
	}
	for _, r := range released {
		wake(r.pid, r.tid)
	}
	return defs.ErrNone
}
