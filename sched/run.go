// The scheduler loop and trap entry. Grounded on
// original_source/kernel/src/scheduler.rs's scheduler()/jump_to_user and
// trap.rs's kerneltrap()/get_interrupt_type(): this kernel has no real
// CPU to trap into or resume, so "jump_to_user" becomes reading one
// pre-formed syscall request out of the process's own entry page and
// dispatching it through Syscall exactly as a real ecall trap would,
// and the infinite scheduler/trap loops become RunOnce/RunUntilIdle so
// a test can drive them step by step.
package sched

import (
	"sync/atomic"

	"caller"
	"defs"
	"plic"
	"stats"
	"tinfo"
)

// TrapKind mirrors trap.rs's InterruptType: Timer, external/PLIC, or
// Unknown (fatal).
type TrapKind int

const (
	TrapTimer TrapKind = iota
	TrapExternal
	TrapUnknown
)

/// KernelTrap handles one trap the way kerneltrap/get_interrupt_type do:
/// a Timer trap on hart 0 advances the shared tick count and wakes any
/// sleeper whose deadline has passed, and every Timer trap charges one
/// tick to the process its hart last ran (chargeTick); an External trap claims and dispatches
/// the pending PLIC interrupt; anything else is fatal, matching the
/// original's unconditional panic on an unrecognized scause.
func KernelTrap(hart int, kind TrapKind) {
	tinfo.EnterTrap(hart)
	defer tinfo.ExitTrap(hart)

	switch kind {
	case TrapTimer:
		if hart == 0 {
			now := atomicTick()
			wakeSleepers(now)
		}
		chargeTick(hart)
	case TrapExternal:
		if irq, ok := plic.Claim(); ok {
			plic.Dispatch(irq)
			plic.Complete(irq)
		}
	default:
		tinfo.RecordFault(hart, 0)
		pid := cpus[hart].lastPid
		caller.Fatal("sched: kerneltrap: unrecognized interrupt near %s (pid %d)", FaultSymbol(pid, 0), pid)
	}
}

func atomicTick() uint64 {
	return atomic.AddUint64(&ticks, 1)
}

// chargeTick adds one system tick to whichever process hart last ran,
// if it's still Running — the per-process half of §4.8's accounting,
// distinct from the global tick count get-ticks reads (timer.rs's
// get_ticks/tick are unconditionally global; this is the accnt.Accnt_t
// bookkeeping that sits alongside it, not a replacement for it).
func chargeTick(hart int) {
	pid := cpus[hart].lastPid
	table.locks[pid].Lock()
	p := table.slots[pid]
	table.locks[pid].Unlock()
	if p == nil {
		return
	}
	p.mu.Lock()
	running := p.state == defs.PROC_RUNNING
	p.mu.Unlock()
	if running {
		p.acc.Systadd(1)
	}
}

func wakeSleepers(now uint64) {
	sleepers.Lock()
	for pid, deadline := range sleepers.wake {
		if now >= deadline {
			delete(sleepers.wake, pid)
			markReady(pid)
		}
	}
	sleepers.Unlock()
}

// readSyscallRequest reads the single pending syscall request a loaded
// process's entry page holds: a syscall number followed by four
// argument words, the synthetic stand-in for an ecall trap frame this
// hosted kernel has no instruction stream to generate on its own.
func readSyscallRequest(p *Process) (uint64, [4]uint64) {
	buf, err := p.as.Userdmap8(uintptr(p.ctx.Pc), false)
	if err != 0 {
		caller.Fatal("sched: entry page is unmapped")
	}
	read64 := func(off int) uint64 {
		var v uint64
		for i := 0; i < 8; i++ {
			v |= uint64(buf[off+i]) << (8 * i)
		}
		return v
	}
	num := read64(0)
	var args [4]uint64
	for i := range args {
		args[i] = read64(8 * (i + 1))
	}
	return num, args
}

// schedMisses counts every non-Ready slot seen across every
// hart's scheduler loop; nonzero only when stats.Stats is compiled in,
// mirroring how the teacher gates this kind of counter out of release
// builds entirely.
var schedMisses stats.Counter_t

// pickReady advances hart's cursor until it lands on a Ready process or
// has checked every slot once, mirroring scheduler()'s miss-counting
// loop without the wfi: a miss count reaching NPROC means "idle".
func pickReady(hart int) (int, *Process, bool) {
	c := &cpus[hart]
	for misses := 0; misses < defs.NPROC; misses++ {
		pid := c.next()
		table.locks[pid].Lock()
		p := table.slots[pid]
		if p == nil {
			table.locks[pid].Unlock()
			schedMisses.Inc()
			continue
		}
		p.mu.Lock()
		ready := p.state == defs.PROC_READY
		p.mu.Unlock()
		table.locks[pid].Unlock()
		if !ready {
			schedMisses.Inc()
			continue
		}
		return pid, p, true
	}
	return 0, nil, false
}

/// RunOnce drives one process through a single synthetic trap: find
/// the next Ready process on hart, mark it Running, perform its
/// pending syscall, then terminate it (exit), leave it Running (sleep)
/// or mark it Ready again, mirroring one iteration of scheduler()'s loop body. It
/// returns false when every process-table slot was checked and none
/// was Ready — scheduler()'s cue to wfi.
func RunOnce(hart int) bool {
	pid, p, ok := pickReady(hart)
	if !ok {
		return false
	}

	table.locks[pid].Lock()
	p.mu.Lock()
	if table.slots[pid] != p || p.state != defs.PROC_READY {
		// another hart claimed it after pickReady released the slot lock
		p.mu.Unlock()
		table.locks[pid].Unlock()
		return RunOnce(hart)
	}
	p.state = defs.PROC_RUNNING
	p.mu.Unlock()
	p.as.Switch()
	cpus[hart].lastPid = pid
	table.locks[pid].Unlock()

	num, args := readSyscallRequest(p)
	ret, exited := Syscall(pid, p, num, args)

	if exited {
		terminate(pid)
		return true
	}

	p.mu.Lock()
	p.ctx.A2 = ret
	p.mu.Unlock()

	// sleep leaves the process in Running (not Ready): it is only
	// returned to the Ready pool by wakeSleepers, on a hart-0 Timer trap,
	// once its deadline has passed (§4.8). Every other syscall returns
	// control to the scheduler immediately.
	if num != defs.SYS_SLEEP {
		markReady(pid)
	}
	return true
}

/// RunUntilIdle calls RunOnce until a full pass over the process table
/// finds nothing Ready, returning how many syscalls it serviced —
/// useful for driving a single timer tick's worth of work in a test
/// without an actual timer.
func RunUntilIdle(hart int) int {
	n := 0
	for RunOnce(hart) {
		n++
	}
	return n
}

/// SchedMisses reports the running total of non-Ready slots the
/// scheduler loop has stepped over, a stats.Counter_t that stays zero
/// unless stats.Stats is compiled on.
func SchedMisses() int64 {
	return int64(schedMisses)
}
