package proc

import (
	"sync"
	"sync/atomic"
	"time"
)

// Usage accumulates per-process accounting information, adapted from
// biscuit/src/accnt/accnt.go's Accnt_t. Userns/Sysns are nanoseconds,
// read back through Snapshot; TerminateProcess does not read or report
// them.
type Usage struct {
	mu      sync.Mutex
	Userns  int64
	Sysns   int64
}

// Utadd adds delta nanoseconds to the user-time counter.
func (u *Usage) Utadd(delta int64) {
	atomic.AddInt64(&u.Userns, delta)
}

// Systadd adds delta nanoseconds to the system-time counter.
func (u *Usage) Systadd(delta int64) {
	atomic.AddInt64(&u.Sysns, delta)
}

// Finish adds the elapsed time since since to system time, the way
// Accnt_t.Finish folds a syscall's duration in at exit.
func (u *Usage) Finish(since time.Time) {
	u.Systadd(time.Since(since).Nanoseconds())
}

// Snapshot returns a consistent (Userns, Sysns) pair.
func (u *Usage) Snapshot() (int64, int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return atomic.LoadInt64(&u.Userns), atomic.LoadInt64(&u.Sysns)
}
