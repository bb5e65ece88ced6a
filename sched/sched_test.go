package sched

import (
	"testing"

	"golang.org/x/sync/errgroup"

	"defs"
	"mem"
	"vm"
)

// mkTestProcess builds a minimal Ready process with one syscall request
// already written into its entry page, bypassing RunProgram's ELF
// loading entirely — the unit tests only care about Syscall dispatch
// and the scheduler loop, not the loader (elf_test.go covers that with
// a hand-built ELF image).
func mkTestProcess(t *testing.T, num uint64, args [4]uint64) (*Process, int) {
	t.Helper()
	as, verr := vm.CreateAddressSpace(vm.Sv39)
	if verr != 0 {
		t.Fatalf("CreateAddressSpace: %v", verr)
	}
	entry := defs.USERMIN
	if _, merr := as.MapAuto(entry, mem.PTE_W); merr != 0 {
		t.Fatalf("MapAuto: %v", merr)
	}
	buf, uerr := as.Userdmap8(entry, true)
	if uerr != 0 {
		t.Fatalf("Userdmap8: %v", uerr)
	}
	put64 := func(off int, v uint64) {
		for i := 0; i < 8; i++ {
			buf[off+i] = byte(v >> (8 * i))
		}
	}
	put64(0, num)
	for i, a := range args {
		put64(8*(i+1), a)
	}

	p := &Process{state: defs.PROC_READY, as: as, ctx: Context{Pc: uint64(entry)}, heapNext: defs.USERHEAP}
	table.allocLock.Lock()
	pid := getFreeSlot()
	table.slots[pid] = p
	table.allocLock.Unlock()
	return p, pid
}

func writeMessage(t *testing.T, p *Process, addr uintptr, msg string) {
	t.Helper()
	if _, err := p.as.MapAuto(addr, mem.PTE_W); err != 0 {
		t.Fatalf("MapAuto message page: %v", err)
	}
	buf, err := p.as.Userdmap8(addr, true)
	if err != 0 {
		t.Fatalf("Userdmap8 message page: %v", err)
	}
	copy(buf, msg)
}

func TestSyscallPrintBytes(t *testing.T) {
	mem.Phys_init(4096)
	msgAddr := defs.USERMIN + uintptr(mem.PGSIZE)
	p, pid := mkTestProcess(t, defs.SYS_PRINT, [4]uint64{0, 0, 0, 0})
	writeMessage(t, p, msgAddr, "hello")
	// rewrite the request with the real pointer/length now that the
	// message page exists
	buf, _ := p.as.Userdmap8(uintptr(p.ctx.Pc), true)
	put64 := func(off int, v uint64) {
		for i := 0; i < 8; i++ {
			buf[off+i] = byte(v >> (8 * i))
		}
	}
	put64(8, uint64(msgAddr))
	put64(16, 5)

	if ok := RunOnce(0); !ok {
		t.Fatal("RunOnce reported nothing ready")
	}
	if got := string(ConsoleDrain()); got != "hello" {
		t.Fatalf("console = %q, want %q", got, "hello")
	}

	terminate(pid)
}

func TestSyscallGetPidAndTicks(t *testing.T) {
	mem.Phys_init(4096)
	_, pid := mkTestProcess(t, defs.SYS_GETPID, [4]uint64{})
	if ok := RunOnce(0); !ok {
		t.Fatal("RunOnce reported nothing ready")
	}
	table.locks[pid].Lock()
	got := table.slots[pid].ctx.A2
	table.locks[pid].Unlock()
	if got != uint64(pid) {
		t.Fatalf("get-pid returned %d, want %d", got, pid)
	}
	terminate(pid)

	_, tpid := mkTestProcess(t, defs.SYS_TICKS, [4]uint64{})
	if ok := RunOnce(0); !ok {
		t.Fatal("RunOnce reported nothing ready")
	}
	table.locks[tpid].Lock()
	gotTicks := table.slots[tpid].ctx.A2
	table.locks[tpid].Unlock()
	if gotTicks != Ticks() {
		t.Fatalf("get-ticks returned %d, want %d", gotTicks, Ticks())
	}
	terminate(tpid)
}

func TestSyscallExitReapsSlot(t *testing.T) {
	mem.Phys_init(4096)
	before := NumActive()
	_, pid := mkTestProcess(t, defs.SYS_EXIT, [4]uint64{})
	if ok := RunOnce(0); !ok {
		t.Fatal("RunOnce reported nothing ready")
	}
	table.allocLock.Lock()
	slot := table.slots[pid]
	table.allocLock.Unlock()
	if slot != nil {
		t.Fatal("expected exited process's slot to be cleared")
	}
	if NumActive() != before {
		t.Fatalf("NumActive = %d, want %d after exit", NumActive(), before)
	}
}

func TestSyscallAllocDeallocPage(t *testing.T) {
	mem.Phys_init(4096)
	p, pid := mkTestProcess(t, defs.SYS_ALLOC, [4]uint64{})
	wantVA := p.heapNext
	if ok := RunOnce(0); !ok {
		t.Fatal("RunOnce reported nothing ready")
	}
	if p.ctx.A2 != uint64(wantVA) {
		t.Fatalf("alloc-page returned %#x, want %#x", p.ctx.A2, wantVA)
	}
	if _, _, ok := p.as.Lookup(wantVA); !ok {
		t.Fatal("alloc-page did not actually map the page")
	}

	terminate(pid)
}

func TestSyscallSleepRegistersWaker(t *testing.T) {
	mem.Phys_init(4096)
	_, pid := mkTestProcess(t, defs.SYS_SLEEP, [4]uint64{3, 0, 0, 0})
	before := Ticks()
	if ok := RunOnce(0); !ok {
		t.Fatal("RunOnce reported nothing ready")
	}
	sleepers.Lock()
	deadline, ok := sleepers.wake[pid]
	sleepers.Unlock()
	if !ok {
		t.Fatal("expected sleep to register a wake deadline")
	}
	if deadline != before+3 {
		t.Fatalf("wake deadline = %d, want %d", deadline, before+3)
	}

	terminate(pid)
}

// TestSyscallSleepBlocksUntilTimerWake covers the full sleep/wake cycle:
// a sleeping process is left Running (not Ready) so the scheduler skips
// it, and only rejoins the Ready pool once enough Timer traps on hart 0
// have advanced the tick count past its deadline (§4.8).
func TestSyscallSleepBlocksUntilTimerWake(t *testing.T) {
	mem.Phys_init(4096)
	p, pid := mkTestProcess(t, defs.SYS_SLEEP, [4]uint64{2, 0, 0, 0})
	if ok := RunOnce(0); !ok {
		t.Fatal("RunOnce reported nothing ready")
	}
	if p.State() != defs.PROC_RUNNING {
		t.Fatalf("state after sleep = %v, want %v (still blocked)", p.State(), defs.PROC_RUNNING)
	}

	// No other process is Ready, so a second RunOnce must see nothing to
	// schedule while the sleeper's deadline hasn't passed.
	if ok := RunOnce(0); ok {
		t.Fatal("expected sleeping process to stay ineligible for scheduling")
	}

	KernelTrap(0, TrapTimer)
	KernelTrap(0, TrapTimer)

	if p.State() != defs.PROC_READY {
		t.Fatalf("state after wake = %v, want %v", p.State(), defs.PROC_READY)
	}

	terminate(pid)
}

// TestKernelTrapChargesRunningProcessTicks covers the per-process half of
// §4.8's accounting: a Timer trap on the hart a process last ran on adds
// one system tick to that process's Accnt_t, as long as it's still
// Running when the trap lands.
func TestKernelTrapChargesRunningProcessTicks(t *testing.T) {
	mem.Phys_init(4096)
	_, pid := mkTestProcess(t, defs.SYS_SLEEP, [4]uint64{1000, 0, 0, 0})
	if ok := RunOnce(0); !ok {
		t.Fatal("RunOnce reported nothing ready")
	}

	_, before, ok := Accounting(pid)
	if !ok {
		t.Fatal("expected Accounting to find the still-running process")
	}

	KernelTrap(0, TrapTimer)

	_, after, ok := Accounting(pid)
	if !ok {
		t.Fatal("expected Accounting to still find the process after the trap")
	}
	if after != before+1 {
		t.Fatalf("system ticks = %d, want %d", after, before+1)
	}

	terminate(pid)
}

// TestMultiHartConcurrentExit covers one scheduler loop per hart running
// concurrently against the shared process table (§4.8, §5): every
// process exits on its first syscall, and every hart's RunUntilIdle
// drains the slots it manages to claim without racing another hart's
// view of the same table. golang.org/x/sync/errgroup runs the per-hart
// loops and collects the first error.
func TestMultiHartConcurrentExit(t *testing.T) {
	mem.Phys_init(4096)
	before := NumActive()
	const nprocs = defs.NHART
	for i := 0; i < nprocs; i++ {
		mkTestProcess(t, defs.SYS_EXIT, [4]uint64{})
	}

	var g errgroup.Group
	for hart := 0; hart < defs.NHART; hart++ {
		hart := hart
		g.Go(func() error {
			RunUntilIdle(hart)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("errgroup.Wait: %v", err)
	}

	if NumActive() != before {
		t.Fatalf("NumActive = %d, want %d after every process exited", NumActive(), before)
	}
}
