// Package stats exposes the kernel core's live counters as a
// Prometheus custom collector, grounded on
// runZeroInc-sockstats/pkg/exporter/exporter.go's TCPInfoCollector:
// the same Describe/Collect split over a mutex-guarded live-state
// map, here polling process/server state instead of socket fds.
package stats

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ServerSnapshot is what a Source reports about one live endpoint when
// Collect polls it.
type ServerSnapshot struct {
	SIDX       uint32
	QueueLen   int
	ParkedLen  int
}

// Source is implemented by whatever owns the live process/server
// state (proc.Services wired together with a server.Registry in
// cmd/hosted) and polled on every Collect, the same pull model
// exporter.go uses for TCPInfo.
type Source interface {
	ProcessCount() int
	ServerSnapshots() []ServerSnapshot
}

// Collector is the kernel core's Prometheus collector: process count,
// per-endpoint queue/parked depth, and a monotonic syscall counter
// recorded by dispatch.Dispatcher via IncSyscall.
type Collector struct {
	mu       sync.Mutex
	source   Source
	syscalls map[string]uint64

	processCount *prometheus.Desc
	queueDepth   *prometheus.Desc
	parkedDepth  *prometheus.Desc
	syscallTotal *prometheus.Desc
}

// NewCollector builds a Collector that polls source on every Collect.
func NewCollector(source Source, constLabels prometheus.Labels) *Collector {
	return &Collector{
		source:   source,
		syscalls: make(map[string]uint64),
		processCount: prometheus.NewDesc(
			"rendezvous_process_count", "Number of live (non-terminated) processes.",
			nil, constLabels),
		queueDepth: prometheus.NewDesc(
			"rendezvous_server_queue_depth", "Pending envelopes queued on a server endpoint.",
			[]string{"sidx"}, constLabels),
		parkedDepth: prometheus.NewDesc(
			"rendezvous_server_parked_count", "Parked receiver threads on a server endpoint.",
			[]string{"sidx"}, constLabels),
		syscallTotal: prometheus.NewDesc(
			"rendezvous_syscalls_total", "Syscalls dispatched, by tag.",
			[]string{"syscall"}, constLabels),
	}
}

func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.processCount
	descs <- c.queueDepth
	descs <- c.parkedDepth
	descs <- c.syscallTotal
}

func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	metrics <- prometheus.MustNewConstMetric(c.processCount, prometheus.GaugeValue, float64(c.source.ProcessCount()))

	for _, ep := range c.source.ServerSnapshots() {
		label := itoa(ep.SIDX)
		metrics <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(ep.QueueLen), label)
		metrics <- prometheus.MustNewConstMetric(c.parkedDepth, prometheus.GaugeValue, float64(ep.ParkedLen), label)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for tag, n := range c.syscalls {
		metrics <- prometheus.MustNewConstMetric(c.syscallTotal, prometheus.CounterValue, float64(n), tag)
	}
}

// IncSyscall bumps the counter for tag, invoked by dispatch.Dispatcher
// once per handled syscall.
func (c *Collector) IncSyscall(tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syscalls[tag]++
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
