// Package hostedsock is the hosted-build socket layer spec.md §6 calls
// for: "hosted (user-space simulated kernel); BlockedProcess is
// returned and the hosted driver answers on a socket later." Each
// simulated process owns one loopback TCP connection standing in for
// the baremetal build's real syscall trap; Conn wraps it with the same
// byte/timestamp accounting as runZeroInc-sockstats/sockstats.go's
// Conn, and Collector exposes live TCP_INFO for every open connection
// as a Prometheus collector, grounded on
// runZeroInc-sockstats/pkg/exporter/exporter.go's TCPInfoCollector.
package hostedsock

import (
	"context"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/higebu/netfd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/simeonmiteff/go-tcpinfo/pkg/tcpinfo"
	"golang.org/x/sys/unix"

	"rendezvous/defs"
)

// Conn wraps one process's loopback syscall socket, tracking byte
// counts and first-activity timestamps the way sockstats.Conn does,
// specialized to a known owning PID instead of an arbitrary label set.
type Conn struct {
	net.Conn
	PID defs.PID

	OpenedAt, ClosedAt         int64
	FirstReadAt, FirstWriteAt  int64
	SentBytes, RecvBytes       int64
}

// Wrap attaches PID-scoped accounting to an already-dialed/accepted
// loopback connection.
func Wrap(pid defs.PID, c net.Conn) *Conn {
	return &Conn{Conn: c, PID: pid, OpenedAt: time.Now().UnixNano()}
}

func (w *Conn) Close() error {
	w.ClosedAt = time.Now().UnixNano()
	return w.Conn.Close()
}

func (w *Conn) Read(b []byte) (int, error) {
	n, err := w.Conn.Read(b)
	if err == nil && w.RecvBytes == 0 && n > 0 {
		w.FirstReadAt = time.Now().UnixNano()
	}
	w.RecvBytes += int64(n)
	return n, err
}

func (w *Conn) Write(b []byte) (int, error) {
	n, err := w.Conn.Write(b)
	if err == nil && w.SentBytes == 0 && n > 0 {
		w.FirstWriteAt = time.Now().UnixNano()
	}
	w.SentBytes += int64(n)
	return n, err
}

type connEntry struct {
	fd  int
	pid defs.PID
}

// Collector exposes TCP_INFO (retransmits, RTT, cwnd) for every
// registered hosted-process socket as Prometheus metrics, the way
// exporter.go's TCPInfoCollector exposes it for arbitrary net.Conns.
type Collector struct {
	mu    sync.Mutex
	conns map[net.Conn]connEntry

	rtt   *prometheus.Desc
	cwnd  *prometheus.Desc
	retx  *prometheus.Desc
	onErr func(error)
}

func NewCollector(constLabels prometheus.Labels, onErr func(error)) *Collector {
	if onErr == nil {
		onErr = func(error) {}
	}
	return &Collector{
		conns: make(map[net.Conn]connEntry),
		onErr: onErr,
		rtt: prometheus.NewDesc("rendezvous_hostedsock_rtt_usec",
			"Smoothed round-trip time of a hosted process's syscall socket.", []string{"pid"}, constLabels),
		cwnd: prometheus.NewDesc("rendezvous_hostedsock_cwnd_segments",
			"TCP congestion window of a hosted process's syscall socket.", []string{"pid"}, constLabels),
		retx: prometheus.NewDesc("rendezvous_hostedsock_retransmits_total",
			"TCP retransmits observed on a hosted process's syscall socket.", []string{"pid"}, constLabels),
	}
}

func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.rtt
	descs <- c.cwnd
	descs <- c.retx
}

func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for conn, entry := range c.conns {
		info, err := tcpinfo.GetTCPInfo(entry.fd)
		if err != nil {
			c.onErr(fmt.Errorf("hostedsock: tcpinfo for pid %d: %w", entry.pid, err))
			delete(c.conns, conn)
			continue
		}
		label := fmt.Sprintf("%d", entry.pid)
		metrics <- prometheus.MustNewConstMetric(c.rtt, prometheus.GaugeValue, float64(info.Rtt), label)
		metrics <- prometheus.MustNewConstMetric(c.cwnd, prometheus.GaugeValue, float64(info.Snd_cwnd), label)
		metrics <- prometheus.MustNewConstMetric(c.retx, prometheus.CounterValue, float64(info.Total_retrans), label)
	}
}

// Add registers conn (already wrapped by Wrap) for TCP_INFO polling.
func (c *Collector) Add(conn *Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[conn] = connEntry{fd: netfd.GetFdFromConn(conn.Conn), pid: conn.PID}
}

// Remove drops conn from polling. Collect also drops a connection on
// its own once reading its TCP_INFO fails.
func (c *Collector) Remove(conn *Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conns, conn)
}

// Listener accepts one loopback connection per hosted process; Accept
// returns it already wrapped and registered with a Collector, standing
// in for the baremetal build's per-process trap gate.
type Listener struct {
	ln   net.Listener
	coll *Collector
}

// listenConfig sets SO_REUSEADDR directly via golang.org/x/sys/unix
// rather than relying on net's own (platform-dependent) default, so
// restarting cmd/hosted against the same loopback port right after a
// crash doesn't spuriously fail with "address already in use".
var listenConfig = net.ListenConfig{
	Control: func(_, _ string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		})
		if err != nil {
			return err
		}
		return sockErr
	},
}

func Listen(addr string, coll *Collector) (*Listener, error) {
	ln, err := listenConfig.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{ln: ln, coll: coll}, nil
}

func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Accept blocks for the next loopback connection and tags it pid.
func (l *Listener) Accept(pid defs.PID) (*Conn, error) {
	raw, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	c := Wrap(pid, raw)
	if l.coll != nil {
		l.coll.Add(c)
	}
	return c, nil
}

func (l *Listener) Close() error { return l.ln.Close() }
