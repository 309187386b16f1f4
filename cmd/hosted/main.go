// Command hosted runs the user-space simulated kernel build of
// spec.md §6: the scheduler is proc.Hosted, syscalls arrive over a
// loopback socket per process (hostedsock), and live state is exposed
// on /metrics via promhttp, following the wiring pattern
// runZeroInc-sockstats/cmd/exporter_example1/main.go uses for
// registering a custom Prometheus collector.
package main

import (
	"encoding/gob"
	"flag"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"rendezvous/defs"
	"rendezvous/dispatch"
	"rendezvous/hostedsock"
	"rendezvous/ipc"
	"rendezvous/mem"
	"rendezvous/proc"
	"rendezvous/server"
	"rendezvous/stats"
)

var (
	listenAddr  = flag.String("listen", "127.0.0.1:0", "loopback address hosted processes connect their syscall socket to")
	metricsAddr = flag.String("metrics", ":9540", "address to serve /metrics on")
	npages      = flag.Int("frames", 1<<16, "number of simulated physical page frames")
	heapMax     = flag.Int("heap-max", 64<<20, "per-process heap ceiling in bytes")
	trace       = flag.Bool("trace", false, "print a KERNEL(pid:tid): line for every dispatched syscall")
)

func main() {
	flag.Parse()
	log := logrus.New()

	registry := server.NewRegistry()
	services := proc.NewServices(registry)
	frames := mem.NewAllocator(*npages)
	pt := mem.NewSimTable()
	manager := mem.NewManager(frames, pt)

	hosted := proc.NewHosted(services)
	services.SetScheduler(hosted)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	collector := stats.NewCollector(proc.MetricsSource{Services: services}, prometheus.Labels{"app": "rendezvous-hosted", "hostname": hostname})
	prometheus.MustRegister(collector)

	sockCollector := hostedsock.NewCollector(prometheus.Labels{"app": "rendezvous-hosted", "hostname": hostname}, func(err error) {
		log.WithError(err).Warn("hostedsock: dropping connection after tcpinfo error")
	})
	prometheus.MustRegister(sockCollector)

	disp := &dispatch.Dispatcher{
		Services: services,
		Registry: registry,
		Mem:      manager,
		IPC: &ipc.Transport{
			Services: services,
			Registry: registry,
			Mem:      manager,
		},
		Trace: *trace,
		Stats: collector,
	}

	ln, err := hostedsock.Listen(*listenAddr, sockCollector)
	if err != nil {
		log.WithError(err).Fatal("listen")
	}
	log.WithField("addr", ln.Addr()).Info("hosted kernel listening for syscall connections")

	pid, _, cerr := services.CreateProcess(defs.ProcessInit{Name: "init"}, uintptr(*heapMax))
	if cerr != defs.ErrNone {
		log.WithError(cerr).Fatal("create init process")
	}
	log.WithField("pid", pid).Info("init process created")

	var g errgroup.Group
	g.Go(func() error {
		http.Handle("/metrics", promhttp.Handler())
		return http.ListenAndServe(*metricsAddr, nil)
	})

	// Every accepted connection is served as thread 1 of the init
	// process; connections are never re-tagged with the PIDs/TIDs that
	// CreateProcess/CreateThread hand out. The wire format is a bare gob stream of
	// defs.SysCall requests answered one defs.Result at a time, kept
	// deliberately unbuffered so a hung peer blocks its own syscalls
	// rather than piling up server-side state.
	g.Go(func() error {
		for {
			conn, aerr := ln.Accept(pid)
			if aerr != nil {
				return aerr
			}
			connLog := log.WithField("pid", pid)
			go serveConn(conn, disp, connLog)
		}
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}

// serveConn decodes one defs.SysCall at a time off conn, dispatches
// it, and gob-encodes the defs.Result back, until the peer disconnects
// or sends something undecodable.
func serveConn(conn *hostedsock.Conn, disp *dispatch.Dispatcher, log *logrus.Entry) {
	defer conn.Close()
	dec := gob.NewDecoder(conn)
	enc := gob.NewEncoder(conn)
	tid := defs.TID(1)
	for {
		var call defs.SysCall
		if err := dec.Decode(&call); err != nil {
			if err != io.EOF {
				log.WithError(err).Warn("decode syscall")
			}
			return
		}
		result := disp.Handle(conn.PID, tid, call)
		if err := enc.Encode(&result); err != nil {
			log.WithError(err).Warn("encode result")
			return
		}
	}
}
