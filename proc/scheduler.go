package proc

import "rendezvous/defs"

// Scheduler abstracts the two suspension primitives spec.md §9's
// Design Notes calls for: "abstract the scheduler behind an interface
// with two operations — suspend_current() and activate(pid, tid,
// and_yield)". Baremetal and Hosted below implement it for the two
// builds spec.md §6 names.
type Scheduler interface {
	// SuspendCurrent yields control away from (pid, tid), which the
	// caller has already transitioned to a blocked state. It reports
	// which defs.Result the syscall that suspended should return.
	SuspendCurrent(pid defs.PID, tid defs.TID) (defs.Result, defs.Err_t)
	// Activate switches to (pid, tid), marking it Running. andYield
	// additionally suspends the calling thread (used by blocking
	// sends and SwitchTo); when false the caller keeps running
	// alongside the newly-readied thread (non-blocking delivery).
	Activate(callerPID defs.PID, callerTID defs.TID, pid defs.PID, tid defs.TID, andYield bool) (defs.Result, defs.Err_t)
}

// Baremetal models cfg!(baremetal): suspension always walks to the
// parent process (there is no userspace scheduler to hand control
// back to otherwise) and every switch is a real register-save-area
// swap whose result is ResumeProcess — the convention that the actual
// CPU context switch (out of scope, §1) is carried out by an
// assembly trampoline once the syscall returns that result.
type Baremetal struct {
	svc *Services
}

func NewBaremetal(svc *Services) *Baremetal { return &Baremetal{svc: svc} }

func (b *Baremetal) SuspendCurrent(pid defs.PID, tid defs.TID) (defs.Result, defs.Err_t) {
	p, ok := b.svc.process(pid)
	if !ok {
		return defs.Result{}, defs.ErrProcessNotFound
	}
	b.svc.ClearSwitchToCaller()
	return b.svc.activateLocked(p.PPID, 0)
}

func (b *Baremetal) Activate(callerPID defs.PID, callerTID defs.TID, pid defs.PID, tid defs.TID, andYield bool) (defs.Result, defs.Err_t) {
	return b.svc.activateLocked(pid, tid)
}

// Hosted models the non-baremetal arm: there is no real context
// switch, only bookkeeping, and a blocked caller gets told
// BlockedProcess so the hosted driver (cmd/hosted) can answer on the
// hostedsock loopback connection once the reply is ready (spec.md
// §6).
type Hosted struct {
	svc *Services
}

func NewHosted(svc *Services) *Hosted { return &Hosted{svc: svc} }

func (h *Hosted) SuspendCurrent(pid defs.PID, tid defs.TID) (defs.Result, defs.Err_t) {
	return defs.BlockedProcess(), defs.ErrNone
}

func (h *Hosted) Activate(callerPID defs.PID, callerTID defs.TID, pid defs.PID, tid defs.TID, andYield bool) (defs.Result, defs.Err_t) {
	if _, err := h.svc.activateLocked(pid, tid); err != defs.ErrNone {
		return defs.Result{}, err
	}
	if andYield {
		return defs.BlockedProcess(), defs.ErrNone
	}
	return defs.Ok(), defs.ErrNone
}
