// Program kprofd is the host side of the D_PROF device (defs.D_PROF):
// it serves kprof's pprof endpoints over HTTP and drives CPU-profile
// start/stop from the command line, the debug path a real kernel would
// expose to a monitor instead of a keyboard daemon.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"kprof"
)

func main() {
	addr := flag.String("addr", ":6060", "address to serve the D_PROF pprof endpoints on")
	cpuProfile := flag.String("cpuprofile", "", "if set, start a CPU profile at this path immediately and stop it on SIGINT/SIGTERM (see Ctrl-C)")
	heapProfile := flag.String("heapprofile", "", "if set, write a single heap profile to this path and exit instead of serving")
	merge := flag.String("merge", "", "comma-separated list of per-hart CPU profile paths to merge into -out")
	out := flag.String("out", "", "output path for -merge")
	flag.Parse()

	if *merge != "" {
		if *out == "" {
			fmt.Fprintln(os.Stderr, "kprofd: -merge requires -out")
			os.Exit(1)
		}
		paths := splitCommas(*merge)
		if err := kprof.MergePerHart(paths, *out); err != nil {
			fmt.Fprintf(os.Stderr, "kprofd: merge failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *heapProfile != "" {
		if err := kprof.WriteHeap(*heapProfile); err != nil {
			fmt.Fprintf(os.Stderr, "kprofd: heap profile failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *cpuProfile != "" {
		if err := kprof.StartCPU(*cpuProfile); err != nil {
			fmt.Fprintf(os.Stderr, "kprofd: starting CPU profile: %v\n", err)
			os.Exit(1)
		}
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigs
			kprof.StopCPU()
			os.Exit(0)
		}()
	}

	handler := kprof.Handler("/debug/pprof")
	http.Handle("/debug/pprof/", handler)
	log.Printf("kprofd: serving D_PROF on %s/debug/pprof/", *addr)
	log.Fatal(http.ListenAndServe(*addr, nil))
}

func splitCommas(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
