package sched

import (
	"sync"
	"sync/atomic"

	"caller"
	"circbuf"
	"defs"
	"mem"
	"vm"
)

// console is where every process's print-bytes syscall lands. A single
// shared sink matches this kernel having one serial port, not one per
// process (§4.8, §6). consoleMu serializes every access to it, since
// harts run syscalls concurrently.
var console = circbuf.MkCircbuf(16 * 1024)
var consoleMu sync.Mutex

// ticks is the tick count Timer interrupts advance and get-ticks reads
// back, grounded on trap.rs's crate::timer::tick().
var ticks uint64

// ConsoleDrain returns and clears everything buffered by print-bytes
// since the last call, standing in for a host-side monitor draining the
// serial port.
func ConsoleDrain() []byte {
	consoleMu.Lock()
	defer consoleMu.Unlock()
	return console.Drain()
}

// Ticks reports the current tick count, for tests that want to observe
// time passing without going through a syscall.
func Ticks() uint64 {
	return atomic.LoadUint64(&ticks)
}

var sleepers struct {
	sync.Mutex
	wake map[int]uint64 // pid -> tick at which it becomes Ready again
}

func init() {
	sleepers.wake = make(map[int]uint64)
}

// readUserBytes copies n bytes starting at vaddr out of as, page by
// page, the syscall-argument counterpart to writeUserBytes.
func readUserBytes(as *vm.Vm_t, vaddr uintptr, n int) ([]byte, defs.Err_t) {
	out := make([]byte, 0, n)
	off := 0
	for off < n {
		buf, err := as.Userdmap8(vaddr+uintptr(off), false)
		if err != 0 {
			return nil, err
		}
		want := n - off
		if want > len(buf) {
			want = len(buf)
		}
		out = append(out, buf[:want]...)
		off += want
	}
	return out, 0
}

/// Syscall performs pid's currently pending syscall request: the
/// syscall number num and up to four argument words (args), as
/// readSyscallRequest decodes them from the process's entry page. It
/// returns the value print-bytes/get-ticks/get-pid/alloc-page owe the
/// caller, which RunOnce stores in A2, and reports whether the process
/// should exit.
func Syscall(pid int, p *Process, num uint64, args [4]uint64) (ret uint64, exited bool) {
	switch num {
	case defs.SYS_PRINT:
		ptr, n := uintptr(args[0]), int(args[1])
		data, err := readUserBytes(p.as, ptr, n)
		if err != 0 {
			return 0, false
		}
		consoleMu.Lock()
		console.Write(data)
		consoleMu.Unlock()
		return 0, false

	case defs.SYS_TICKS:
		return Ticks(), false

	case defs.SYS_GETPID:
		return uint64(pid), false

	case defs.SYS_EXIT:
		return 0, true

	case defs.SYS_ALLOC:
		va := p.heapNext
		if _, err := p.as.MapAuto(va, mapPTEFlags(true, true)); err != 0 {
			caller.Fatal("sched: out of memory servicing alloc-page")
		}
		p.heapNext += uintptr(mem.PGSIZE)
		return uint64(va), false

	case defs.SYS_DEALLOC:
		p.as.Unmap(uintptr(args[0]), true)
		return 0, false

	case defs.SYS_SLEEP:
		sleepers.Lock()
		sleepers.wake[pid] = Ticks() + args[0]
		sleepers.Unlock()
		return 0, false

	default:
		caller.Fatal("sched: unknown syscall number")
		panic("unreachable")
	}
}
