package proc

import (
	"rendezvous/defs"
	"rendezvous/tinfo"
)

// Process is the Process of spec.md §3: an address space plus heap
// metadata and a parent-process identifier. Threads and the
// connection table are also kept here, since both are process-scoped.
type Process struct {
	PID  defs.PID
	PPID defs.PID

	HeapBase, HeapSize, HeapMax uintptr

	Threads map[defs.TID]*tinfo.Note
	nextTID defs.TID

	// Conns maps a process-local CID to the kernel-internal sidx of
	// the server it was connected to (spec.md §3 CID).
	Conns      map[defs.CID]uint32
	connBySidx map[uint32]defs.CID
	nextCID    defs.CID

	Usage      Usage
	Terminated bool
}

func newProcess(pid, ppid defs.PID, heapMax uintptr) *Process {
	return &Process{
		PID:        pid,
		PPID:       ppid,
		HeapMax:    heapMax,
		Threads:    make(map[defs.TID]*tinfo.Note),
		Conns:      make(map[defs.CID]uint32),
		connBySidx: make(map[uint32]defs.CID),
		nextTID:    1,
		nextCID:    1,
	}
}

func (p *Process) addThread() (defs.TID, *tinfo.Note) {
	tid := p.nextTID
	p.nextTID++
	n := tinfo.NewNote()
	p.Threads[tid] = n
	return tid, n
}

// connFor returns the CID already bound to sidx for this process, or
// allocates a fresh one, matching spec.md §3's "allocated on first
// TryConnect or lazy on ReceiveMessage".
func (p *Process) connFor(sidx uint32) defs.CID {
	if cid, ok := p.connBySidx[sidx]; ok {
		return cid
	}
	cid := p.nextCID
	p.nextCID++
	p.Conns[cid] = sidx
	p.connBySidx[sidx] = cid
	return cid
}
