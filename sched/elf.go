package sched

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"

	"github.com/ianlancetaylor/demangle"

	"caller"
	"defs"
	"fs"
	"limits"
	"mem"
	"vm"
)

// machineFor returns the ELF machine value verify_elf_header must match
// for arch (§4.8: "machine matches architecture"). Grounded on
// biscuit/src/kernel/chentry.go's own elf.FileHeader checks, extended
// here to cover both targets this kernel supports.
func machineFor(arch vm.ArchOps) elf.Machine {
	switch arch.Name {
	case vm.Sv39.Name:
		return elf.EM_RISCV
	case vm.Amd64.Name:
		return elf.EM_X86_64
	default:
		return elf.EM_NONE
	}
}

func verifyELFHeader(ef *elf.File, arch vm.ArchOps) bool {
	if ef.Class != elf.ELFCLASS64 {
		return false
	}
	if ef.Data != elf.ELFDATA2LSB {
		return false
	}
	if ef.Type != elf.ET_EXEC {
		return false
	}
	return ef.Machine == machineFor(arch)
}

// writeUserBytes copies data into as starting at vaddr, page by page.
// Every page it touches must already be mapped writable (run_program
// maps every LOAD segment's full range before calling this).
func writeUserBytes(as *vm.Vm_t, vaddr uintptr, data []byte) {
	off := 0
	for off < len(data) {
		buf, err := as.Userdmap8(vaddr+uintptr(off), true)
		if err != 0 {
			caller.Fatal("sched: writing a LOAD segment hit an unmapped page")
		}
		off += copy(buf, data[off:])
	}
}

// installStackAndTrapframe maps a process's fixed-size user stack and
// single trap-frame page (§4.8's "Map a fixed-size user stack and a
// single trap-frame page at known virtual addresses").
func installStackAndTrapframe(as *vm.Vm_t) {
	for off := uintptr(0); off < defs.USERSTACKSZ; off += uintptr(mem.PGSIZE) {
		if _, err := as.MapAuto(defs.USERSTACK+off, mapPTEFlags(true, true)); err != 0 {
			caller.Fatal("sched: out of memory mapping the user stack")
		}
	}
	if _, err := as.MapAuto(defs.TRAPFRAME, mapPTEFlags(true, false)); err != 0 {
		caller.Fatal("sched: out of memory mapping the trap frame")
	}
}

/// RunProgram loads the ELF file at path into a fresh address space and
/// installs it as a new process, transitioning it from Loading to Ready
/// once its segments, stack, and trap frame are in place (§4.8). It
/// returns the occupied process-table slot.
func RunProgram(path string, arch vm.ArchOps) (int, defs.Err_t) {
	file := fs.Get().GetFile(path)
	if file == nil {
		return 0, -defs.ENOENT
	}
	image := file.Read()

	ef, ferr := elf.NewFile(bytes.NewReader(image))
	if ferr != nil {
		return 0, -defs.EINVAL
	}
	if !verifyELFHeader(ef, arch) {
		return 0, -defs.EINVAL
	}

	as, verr := vm.CreateAddressSpace(arch)
	if verr != 0 {
		return 0, verr
	}

	// The symbol table is best-effort: a stripped image has none, and
	// that's not a load failure (§4.8 never requires debug info).
	symbols, _ := ef.Symbols()

	table.allocLock.Lock()
	pid := getFreeSlot()
	p := &Process{state: defs.PROC_LOADING, as: as, heapNext: defs.USERHEAP, symbols: symbols}
	table.slots[pid] = p
	table.allocLock.Unlock()

	for _, prog := range ef.Progs {
		if prog.Type != elf.PT_LOAD || prog.Memsz == 0 {
			continue
		}
		if uintptr(prog.Vaddr) < defs.USERMIN {
			as.DestroyAddressSpace()
			table.allocLock.Lock()
			table.slots[pid] = nil
			table.allocLock.Unlock()
			limits.Syslimit.Sysprocs.Give()
			return 0, -defs.EINVAL
		}

		lowPage := prog.Vaddr / uint64(mem.PGSIZE)
		highPage := (prog.Vaddr + prog.Memsz + uint64(mem.PGSIZE) - 1) / uint64(mem.PGSIZE)
		for page := lowPage; page < highPage; page++ {
			if _, merr := as.MapAuto(uintptr(page*uint64(mem.PGSIZE)), mapPTEFlags(true, true)); merr != 0 {
				caller.Fatal("sched: out of memory mapping a LOAD segment")
			}
		}

		data, rerr := io.ReadAll(prog.Open())
		if rerr != nil {
			caller.Fatal("sched: reading a LOAD segment's file contents failed")
		}
		writeUserBytes(as, uintptr(prog.Vaddr), data)
	}

	installStackAndTrapframe(as)

	p.ctx.Pc = ef.Entry
	p.ctx.Sp = uint64(defs.USERSTACK) + uint64(defs.USERSTACKSZ)

	table.locks[pid].Lock()
	p.mu.Lock()
	p.state = defs.PROC_READY
	p.mu.Unlock()
	table.locks[pid].Unlock()

	return pid, 0
}

// FaultSymbol resolves addr against pid's loaded symbol table and
// returns a demangled "name+offset" string for the kerneltrap fatal
// path to log ahead of its caller.Fatal panic (§7), the same Rust
// demangling cmd/symdump applies offline to a dumped image's symtab.
// It returns "??" if pid is unknown or addr falls outside every symbol.
func FaultSymbol(pid int, addr uint64) string {
	table.locks[pid].Lock()
	p := table.slots[pid]
	table.locks[pid].Unlock()
	if p == nil {
		return "??"
	}
	for _, s := range p.symbols {
		if s.Name == "" || s.Size == 0 {
			continue
		}
		if addr >= s.Value && addr < s.Value+s.Size {
			return fmt.Sprintf("%s+%#x", demangle.Filter(s.Name), addr-s.Value)
		}
	}
	return "??"
}
