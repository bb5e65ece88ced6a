// Package kprof backs the D_PROF device (defs.D_PROF): a profiling
// endpoint a host-side monitor scrapes the way the original kernel's
// keyboard daemon dumped a heap profile on a debug keypress
// (original justanotherdot-biscuit kernel/main.go's commented-out
// pprof.WriteHeapProfile call) — here turned into a always-on
// net/http/pprof mux plus a CPU-profile start/stop pair instead of a
// one-shot heap dump triggered from a key handler.
package kprof

import (
	"net/http"
	"net/http/pprof"
	"os"
	rpprof "runtime/pprof"

	"github.com/google/pprof/profile"

	"caller"
)

// Handler returns an http.Handler exposing the standard pprof index,
// cmdline, profile, symbol, and trace endpoints under prefix, mirroring
// net/http/pprof's own package-level mux registration without requiring
// callers to use DefaultServeMux (the D_PROF device has no business
// sharing a mux with anything else this kernel serves).
func Handler(prefix string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(prefix+"/", pprof.Index)
	mux.HandleFunc(prefix+"/cmdline", pprof.Cmdline)
	mux.HandleFunc(prefix+"/profile", pprof.Profile)
	mux.HandleFunc(prefix+"/symbol", pprof.Symbol)
	mux.HandleFunc(prefix+"/trace", pprof.Trace)
	return mux
}

var cpuProfile *os.File

// StartCPU begins a CPU profile written to path, the D_PROF write path
// a host monitor drives instead of this kernel's keyboard daemon.
func StartCPU(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := rpprof.StartCPUProfile(f); err != nil {
		f.Close()
		return err
	}
	cpuProfile = f
	return nil
}

// StopCPU ends the CPU profile StartCPU began and closes its file.
// Calling it without a profile in progress is a caller bug (§7).
func StopCPU() {
	if cpuProfile == nil {
		caller.Fatal("kprof: StopCPU without a profile in progress")
	}
	rpprof.StopCPUProfile()
	cpuProfile.Close()
	cpuProfile = nil
}

// WriteHeap writes a heap profile to path, the direct successor to the
// original kernel's bp.dump() after pprof.WriteHeapProfile.
func WriteHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return rpprof.WriteHeapProfile(f)
}

// MergePerHart combines one CPU profile per hart (defs.NHART harts each
// write their own via StartCPU/StopCPU) into a single profile.pb.gz at
// outPath, using github.com/google/pprof/profile's Merge — the library
// the teacher's go.mod already requires, here doing the aggregation a
// single-threaded profiler would never need.
func MergePerHart(paths []string, outPath string) error {
	profs := make([]*profile.Profile, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		prof, perr := profile.Parse(f)
		f.Close()
		if perr != nil {
			return perr
		}
		profs = append(profs, prof)
	}
	merged, err := profile.Merge(profs)
	if err != nil {
		return err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()
	return merged.Write(out)
}
