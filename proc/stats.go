package proc

import (
	"rendezvous/defs"
	"rendezvous/stats"
)

// MetricsSource adapts Services and its Registry to stats.Source,
// letting cmd/hosted register one stats.Collector without the stats
// package importing proc or server directly.
type MetricsSource struct {
	Services *Services
}

func (m MetricsSource) ProcessCount() int {
	count, _ := WithMut(m.Services, func(s *Services) (int, defs.Err_t) {
		n := 0
		for _, p := range s.processes {
			if !p.Terminated {
				n++
			}
		}
		return n, defs.ErrNone
	})
	return count
}

func (m MetricsSource) ServerSnapshots() []stats.ServerSnapshot {
	var out []stats.ServerSnapshot
	for _, sidx := range m.Services.registry.All() {
		ep := m.Services.registry.Endpoint(sidx)
		if ep == nil {
			continue
		}
		out = append(out, stats.ServerSnapshot{
			SIDX:      sidx,
			QueueLen:  ep.QueueLen(),
			ParkedLen: ep.ParkedCount(),
		})
	}
	return out
}
