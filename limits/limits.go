// Package limits implements the kernel's system-wide resource ceilings:
// atomically-updated counters that a subsystem decrements before
// committing to a resource and increments back on release; a refused
// decrement counts as a limit hit (Lhits). With the defaults below the
// process budget (1e4) is far larger than the process table, so the
// table fills before Sysprocs is ever hit.
// Trimmed from the teacher's Syslimit_t, which also tracked vnodes,
// futexes, ARP entries, routes, and TCP segments for its networking and
// named-pipe support — all excluded here as stated Non-goals.
package limits

import "unsafe"
import "sync/atomic"

/// Lhits counts limit hits.
var Lhits int

/// Sysatomic_t is a numeric limit that can be atomically updated.
type Sysatomic_t int64

/// Syslimit_t tracks system wide resource limits.
type Syslimit_t struct {
	// protected by its own atomic ops; checked by sched.getFreeSlot
	// ahead of the fixed-size process table (§3, §4.8)
	Sysprocs Sysatomic_t
	// disk pages reserved via memdisk.AllocPage (§4.6), the direct
	// analogue of the teacher's bdev-block budget
	Blocks Sysatomic_t
}

/// Syslimit describes the configured system wide limits.
var Syslimit *Syslimit_t = MkSysLimit()

/// MkSysLimit returns a pointer to the default set of limits.
func MkSysLimit() *Syslimit_t {
	return &Syslimit_t{
		Sysprocs: 1e4,
		// 100000 4KB pages, about 400MB of disk
		Blocks: 100000, // 1 << 21,
	}
}

func (s *Sysatomic_t) _aptr() *int64 {
	return (*int64)(unsafe.Pointer(s))
}

/// Given increases the limit by the provided amount.
func (s *Sysatomic_t) Given(_n uint) {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	atomic.AddInt64(s._aptr(), n)
}

/// Taken tries to decrement the limit by the provided amount.
/// It returns true on success.
func (s *Sysatomic_t) Taken(_n uint) bool {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	g := atomic.AddInt64(s._aptr(), -n)
	if g >= 0 {
		return true
	}
	atomic.AddInt64(s._aptr(), n)
	Lhits++
	return false
}

/// Take decrements the limit and reports whether it succeeded.
func (s *Sysatomic_t) Take() bool {
	return s.Taken(1)
}

/// Give increments the limit by one.
func (s *Sysatomic_t) Give() {
	s.Given(1)
}
