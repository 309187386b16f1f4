// Command kdebug prints a flat top-function report from a pprof CPU
// profile captured by cmd/hosted (pprof.StartCPUProfile /
// pprof.StopCPUProfile, wired through net/http/pprof in the hosted
// build). It uses github.com/google/pprof/profile to parse the
// protobuf profile rather than shelling out to `go tool pprof`, the
// one teacher go.mod dependency retained without an in-pack call site
// to ground it on (see DESIGN.md).
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/google/pprof/profile"
)

var (
	path = flag.String("profile", "", "path to a pprof CPU profile (pprof.StartCPUProfile output)")
	top  = flag.Int("top", 10, "number of functions to print")
)

func main() {
	flag.Parse()
	if *path == "" {
		fmt.Fprintln(os.Stderr, "kdebug: -profile is required")
		os.Exit(2)
	}

	f, err := os.Open(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kdebug: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	prof, err := profile.Parse(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kdebug: parse profile: %v\n", err)
		os.Exit(1)
	}

	cpuIdx := sampleIndex(prof, "cpu")
	totals := make(map[string]int64)
	for _, s := range prof.Sample {
		if len(s.Location) == 0 || len(s.Value) <= cpuIdx {
			continue
		}
		fn := functionName(s.Location[0])
		totals[fn] += s.Value[cpuIdx]
	}

	type row struct {
		fn    string
		value int64
	}
	rows := make([]row, 0, len(totals))
	for fn, v := range totals {
		rows = append(rows, row{fn, v})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].value > rows[j].value })

	if *top < len(rows) {
		rows = rows[:*top]
	}
	for _, r := range rows {
		fmt.Printf("%12d  %s\n", r.value, r.fn)
	}
}

func sampleIndex(prof *profile.Profile, name string) int {
	for i, st := range prof.SampleType {
		if st.Type == name {
			return i
		}
	}
	return 0
}

func functionName(loc *profile.Location) string {
	if len(loc.Line) == 0 || loc.Line[0].Function == nil {
		return fmt.Sprintf("0x%x", loc.Address)
	}
	return loc.Line[0].Function.Name
}
