// Package sched implements process lifecycle, the per-hart round-robin
// scheduler, trap entry, and the syscall ABI (§4.8). Grounded on
// original_source/kernel/src/scheduler.rs and trap.rs: this kernel has
// no real CPU to execute user machine code on, so "jump to user" and
// the trap path are adapted from asm/register-save primitives into
// plain Go dispatch over an explicit Context value, the same way
// vm/mem already model an MMU and physical RAM as Go data rather than
// real hardware.
package sched

import (
	"debug/elf"
	"sync"

	"accnt"
	"caller"
	"defs"
	"limits"
	"mem"
	"vm"
)

/// Context holds a process's saved register state: the RISC-V Sv39
/// general-purpose register file plus the program counter, matching
/// scheduler.rs's Context layout field-for-field. Only Pc, Sp, and the
/// argument registers A are ever set by this kernel; the rest exist so
/// a trap's full register save has somewhere to land.
type Context struct {
	Ra, Sp, Gp, Tp             uint64
	T0, T1, T2                 uint64
	S0, S1                     uint64
	A0, A1, A2, A3, A4, A5, A6, A7 uint64
	S2, S3, S4, S5, S6, S7, S8, S9, S10, S11 uint64
	T3, T4, T5, T6             uint64
	Pc                         uint64
}

/// Process is one process-table slot: its lifecycle state, address
/// space, saved context, and accounting (§3).
type Process struct {
	mu       sync.Mutex
	state    defs.Pstate_t
	as       *vm.Vm_t
	ctx      Context
	acc      accnt.Accnt_t
	heapNext uintptr
	// symbols is the loaded ELF's symbol table, kept around solely for
	// FaultSymbol to resolve a faulting PC back to a demangled name;
	// nil if the image carried no symtab.
	symbols []elf.Symbol
}

/// State returns the process's current lifecycle state.
func (p *Process) State() defs.Pstate_t {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

/// Accounting returns a snapshot of pid's accumulated tick counts, or
/// ok == false if pid names no live process. Every timer trap that
/// finds a process Running on a hart charges it one system tick
/// (run.go's chargeTick), the same Utadd/Systadd split
/// biscuit/src/accnt/accnt.go exposes, kept alive here instead of going
/// unread.
func Accounting(pid int) (userns, sysns int64, ok bool) {
	table.locks[pid].Lock()
	p := table.slots[pid]
	table.locks[pid].Unlock()
	if p == nil {
		return 0, 0, false
	}
	p.acc.Lock()
	defer p.acc.Unlock()
	return p.acc.Userns, p.acc.Sysns, true
}

// table is the fixed-size process table (§3): one slot per potential
// process, each independently locked, plus a single lock serializing
// the search for a free slot (§5).
var table struct {
	allocLock sync.Mutex
	slots     [defs.NPROC]*Process
	locks     [defs.NPROC]sync.Mutex
}

/// NumActive reports how many process-table slots are occupied,
/// regardless of state — the count §8 scenario 5 checks rises to 1
/// then falls to 0.
func NumActive() int {
	table.allocLock.Lock()
	defer table.allocLock.Unlock()
	n := 0
	for _, p := range table.slots {
		if p != nil {
			n++
		}
	}
	return n
}

// getFreeSlot returns the index of an empty process-table slot, or
// panics if the table is full — out-of-resource conditions are fatal
// throughout this kernel (§7). Charged against limits.Syslimit.Sysprocs
// the way the teacher's Syslimit_t.Sysprocs is; with that budget's
// default of 1e4, far above NPROC, a full table is what a caller that
// never reaps exited slots runs into first.
func getFreeSlot() int {
	if !limits.Syslimit.Sysprocs.Take() {
		caller.Fatal("sched: no free process slots")
	}
	for i := range table.slots {
		if table.slots[i] == nil {
			return i
		}
	}
	limits.Syslimit.Sysprocs.Give()
	caller.Fatal("sched: no free process slots")
	panic("unreachable")
}

// terminate frees pid's address space and clears its slot, the
// exit-syscall and external-termination shared path (§4.8, §5).
func terminate(pid int) {
	table.locks[pid].Lock()
	defer table.locks[pid].Unlock()
	p := table.slots[pid]
	if p == nil {
		return
	}
	p.as.DestroyAddressSpace()
	table.allocLock.Lock()
	table.slots[pid] = nil
	table.allocLock.Unlock()
	limits.Syslimit.Sysprocs.Give()
}

// markReady transitions pid back to Ready after it yields control to
// the kernel (a timer interrupt, not an exit), mirroring
// mark_process_interrupted in scheduler.rs.
func markReady(pid int) {
	table.locks[pid].Lock()
	defer table.locks[pid].Unlock()
	if p := table.slots[pid]; p != nil {
		p.mu.Lock()
		p.state = defs.PROC_READY
		p.mu.Unlock()
	}
}

/// CpuData is one hart's scheduling cursor (§4.8's "Advance
/// current_pid = (current_pid + 1) mod P").
type CpuData struct {
	mu      sync.Mutex
	currPid int
	lastPid int
}

var cpus [defs.NHART]CpuData

func (c *CpuData) next() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currPid = (c.currPid + 1) % defs.NPROC
	return c.currPid
}

// mapPTEFlags mirrors map_page_auto's boolean (writable, user,
// executable) triple as mem's PTE bit flags.
func mapPTEFlags(writable, user bool) mem.Pa_t {
	var f mem.Pa_t
	if writable {
		f |= mem.PTE_W
	}
	if user {
		f |= mem.PTE_U
	}
	return f
}
