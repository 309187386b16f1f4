// Package tinfo tracks the per-thread state machine of spec.md §4.5,
// adapted from biscuit/src/tinfo/tinfo.go's Tnote_t/Threadinfo_t. The
// teacher stashes the current thread's note behind a runtime-internal
// goroutine-local pointer (runtime.Gptr, only available on biscuit's
// forked runtime); this core instead keys notes explicitly by
// (pid, tid) in a map guarded by the caller (proc.Services' big lock),
// since it targets the stock Go runtime.
package tinfo

import "rendezvous/defs"

// State is one of the states named in spec.md §3/§4.5.
type State int

const (
	Free State = iota
	Ready
	Running
	BlockedOnReceive
	BlockedOnSend
	BlockedOnReturn
	Parked
)

func (s State) String() string {
	switch s {
	case Free:
		return "Free"
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case BlockedOnReceive:
		return "BlockedOnReceive"
	case BlockedOnSend:
		return "BlockedOnSend"
	case BlockedOnReturn:
		return "BlockedOnReturn"
	case Parked:
		return "Parked"
	default:
		return "Unknown"
	}
}

// Note is the per-thread note: its schedulable state, saved register
// file, and the result the syscall layer will hand back to it once it
// resumes running. Analogous to Tnote_t, minus the teacher's
// kill/doom fields (process teardown here goes through
// proc.Services.TerminateProcess instead of a killed-flag protocol).
type Note struct {
	State      State
	Regs       [16]uintptr // saved general-purpose register file
	SavedResult defs.Result
	// ParkedOn is a slot for the SID a thread is parked receiving on,
	// an index rather than an owning handle (spec.md §9). The receive
	// path does not set it, so it stays the zero SID.
	ParkedOn defs.SID
}

// NewNote returns a freshly created, runnable thread note.
func NewNote() *Note {
	return &Note{State: Ready}
}
