package mem

import (
	"sync"

	"rendezvous/defs"
)

// PageTable abstracts the MMU driver named as out-of-scope in spec.md
// §1. SimTable below is a reference implementation: a plain map from
// (pid, virt) to (frame, flags), adequate for the hosted build and for
// exercising the Manager's bookkeeping in tests; a bare-metal port
// would replace it with real page-table-entry manipulation the way
// biscuit/src/vm/as.go's Vm_t does.
type PageTable interface {
	Map(pid defs.PID, virt uintptr, f Frame, flags defs.MapFlags) error
	Unmap(pid defs.PID, virt uintptr) error
	Translate(pid defs.PID, virt uintptr) (Frame, defs.MapFlags, bool)
}

type mapping struct {
	frame Frame
	flags defs.MapFlags
}

// SimTable is the in-memory PageTable reference implementation.
type SimTable struct {
	mu    sync.Mutex
	table map[defs.PID]map[uintptr]mapping
}

func NewSimTable() *SimTable {
	return &SimTable{table: make(map[defs.PID]map[uintptr]mapping)}
}

func (s *SimTable) Map(pid defs.PID, virt uintptr, f Frame, flags defs.MapFlags) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pg, ok := s.table[pid]
	if !ok {
		pg = make(map[uintptr]mapping)
		s.table[pid] = pg
	}
	pg[virt] = mapping{frame: f, flags: flags}
	return nil
}

func (s *SimTable) Unmap(pid defs.PID, virt uintptr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pg, ok := s.table[pid]
	if !ok {
		return defs.ErrBadAddress
	}
	if _, ok := pg[virt]; !ok {
		// idempotent failure: reported but does not abort bulk
		// operations (spec.md §4.1).
		return defs.ErrBadAddress
	}
	delete(pg, virt)
	return nil
}

func (s *SimTable) Translate(pid defs.PID, virt uintptr) (Frame, defs.MapFlags, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pg, ok := s.table[pid]
	if !ok {
		return 0, 0, false
	}
	m, ok := pg[virt]
	return m.frame, m.flags, ok
}
