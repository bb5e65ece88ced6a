// Package stats implements the kernel's compile-time-gated counters: a
// Counter_t/Cycles_t pair that compiles to a no-op unless the Stats/Timing
// consts are flipped on, exactly as the teacher's stats package does so a
// release build carries zero overhead for instrumentation it isn't using.
// Wired into virtio's descriptor-wait path and sched's scheduler-miss
// count (§4.4, §4.8).
package stats

import (
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unsafe"
)

const Stats = false
const Timing = false

var Nirqs [100]int
var Irqs int

/// Cycles returns the wall-clock time in nanoseconds (time.Now's
/// UnixNano) when Timing is enabled. The teacher's own Rdtsc reads the
/// host CPU's timestamp counter via a runtime intrinsic this hosted
/// kernel has no access to; time.Now is the standard-library substitute
/// for the same "elapsed ticks since some reference" shape.
func Cycles() uint64 {
	if Timing {
		return uint64(time.Now().UnixNano())
	}
	return 0
}

/// Counter_t is a statistical counter.
type Counter_t int64

/// Cycles_t holds an elapsed-time accumulator, named Cycles_t to match
/// the teacher's call sites even though it now holds nanoseconds rather
/// than TSC ticks.
type Cycles_t int64

/// Inc increments the counter.
func (c *Counter_t) Inc() {
	if Stats {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, 1)
	}
}

/// Add adds elapsed time since m (as returned by Cycles) to the counter.
func (c *Cycles_t) Add(m uint64) {
	if Timing {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, int64(Cycles()-m))
	}
}

/// Stats2String converts a struct of counters to a printable string.
func Stats2String(st interface{}) string {
	if !Stats {
		return ""
	}
	v := reflect.ValueOf(st)
	s := ""
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		if strings.HasSuffix(t, "Counter_t") {
			n := v.Field(i).Interface().(Counter_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
		if strings.HasSuffix(t, "Cycles_t") {
			n := v.Field(i).Interface().(Cycles_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}

	}
	return s + "\n"
}
