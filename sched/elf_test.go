package sched

import (
	"encoding/binary"
	"testing"

	"blockdev"
	"defs"
	"fs"
	"mem"
	"memdisk"
	"virtio"
	"vm"
)

type memBackend struct {
	sectors [][blockdev.SectorSize]byte
}

func newMemBackend(n int) *memBackend {
	b := &memBackend{sectors: make([][blockdev.SectorSize]byte, n)}
	m := defs.TestDiskMagic
	b.sectors[0][defs.MagicOffset] = byte(m)
	b.sectors[0][defs.MagicOffset+1] = byte(m >> 8)
	b.sectors[0][defs.MagicOffset+2] = byte(m >> 16)
	b.sectors[0][defs.MagicOffset+3] = byte(m >> 24)
	return b
}

func (m *memBackend) Capacity() uint64 { return uint64(len(m.sectors)) }

func (m *memBackend) ReadSector(sector uint64) ([blockdev.SectorSize]byte, error) {
	return m.sectors[sector], nil
}

func (m *memBackend) WriteSector(sector uint64, data [blockdev.SectorSize]byte) error {
	m.sectors[sector] = data
	return nil
}

func newTestRegs() *virtio.Registers {
	return &virtio.Registers{
		Magic:          virtio.Magic,
		DeviceID:       blockdev.DeviceID,
		VendorID:       blockdev.VendorID,
		DeviceFeatures: 0xffffffff,
		QueueNumMax:    virtio.NUM,
	}
}

func mountTestDisk(t *testing.T) *vm.Vm_t {
	t.Helper()
	mem.Phys_init(8192)
	backend := newMemBackend(8192)
	dev, ok := blockdev.Attach(newTestRegs(), backend)
	if !ok {
		t.Fatal("expected Attach to succeed")
	}
	as, err := vm.CreateAddressSpace(vm.Sv39)
	if err != 0 {
		t.Fatalf("CreateAddressSpace failed: %v", err)
	}
	if _, err := memdisk.Mount(dev, as); err != 0 {
		t.Fatalf("Mount failed: %v", err)
	}
	return as
}

// buildExitELF encodes a minimal ELF64/RISC-V/EXEC image with a single
// PT_LOAD segment whose contents, at the entry point, are this kernel's
// synthetic "syscall request" encoding (§4.8's readSyscallRequest): a
// syscall number followed by four zeroed argument words. There is no
// real CPU in this hosted kernel to execute an actual RISC-V
// instruction stream (run.go), so the "program" a tiny ELF's _start
// "runs" is literally the bytes RunOnce reads back out of its own entry
// page — the same simulated-hardware trick mem/vm apply to physical RAM
// and page tables.
func buildExitELF(vaddr uint64) []byte {
	const ehsize = 64
	const phsize = 56
	entry := vaddr // the segment's first mapped byte is the syscall request

	payload := make([]byte, 40) // SYS_EXIT num + 4 arg words, 8 bytes each
	binary.LittleEndian.PutUint64(payload[0:], uint64(defs.SYS_EXIT))

	filesz := uint64(ehsize + phsize + len(payload))

	img := make([]byte, filesz)

	// e_ident
	img[0], img[1], img[2], img[3] = 0x7f, 'E', 'L', 'F'
	img[4] = 2 // ELFCLASS64
	img[5] = 1 // ELFDATA2LSB
	img[6] = 1 // EV_CURRENT
	// e_type, e_machine, e_version
	binary.LittleEndian.PutUint16(img[16:], 2)       // ET_EXEC
	binary.LittleEndian.PutUint16(img[18:], 0xf3)    // EM_RISCV
	binary.LittleEndian.PutUint32(img[20:], 1)       // EV_CURRENT
	binary.LittleEndian.PutUint64(img[24:], entry)   // e_entry
	binary.LittleEndian.PutUint64(img[32:], ehsize)  // e_phoff
	binary.LittleEndian.PutUint64(img[40:], 0)       // e_shoff
	binary.LittleEndian.PutUint32(img[48:], 0)       // e_flags
	binary.LittleEndian.PutUint16(img[52:], ehsize)  // e_ehsize
	binary.LittleEndian.PutUint16(img[54:], phsize)  // e_phentsize
	binary.LittleEndian.PutUint16(img[56:], 1)       // e_phnum
	binary.LittleEndian.PutUint16(img[58:], 0)       // e_shentsize
	binary.LittleEndian.PutUint16(img[60:], 0)       // e_shnum
	binary.LittleEndian.PutUint16(img[62:], 0)       // e_shstrndx

	// program header (PT_LOAD, R|W|X)
	ph := img[ehsize:]
	binary.LittleEndian.PutUint32(ph[0:], 1)         // p_type = PT_LOAD
	binary.LittleEndian.PutUint32(ph[4:], 7)          // p_flags = RWX
	binary.LittleEndian.PutUint64(ph[8:], ehsize+phsize)  // p_offset
	binary.LittleEndian.PutUint64(ph[16:], vaddr)     // p_vaddr
	binary.LittleEndian.PutUint64(ph[24:], vaddr)     // p_paddr
	binary.LittleEndian.PutUint64(ph[32:], uint64(len(payload))) // p_filesz
	binary.LittleEndian.PutUint64(ph[40:], uint64(len(payload))) // p_memsz
	binary.LittleEndian.PutUint64(ph[48:], uint64(mem.PGSIZE))   // p_align

	copy(img[ehsize+phsize:], payload)
	return img
}

// TestRunProgramExitsCleanly covers §8 scenario 5: write a tiny ELF
// whose _start immediately exits, run_program it, drive the scheduler
// for one pass, and confirm the process count rises to 1 then falls
// back to 0.
func TestRunProgramExitsCleanly(t *testing.T) {
	mountTestDisk(t)
	fsys := fs.Init()
	fsys.Erase()
	defer func() { fs.Close(); memdisk.Unmount() }()

	f, err := fsys.CreateFile("/programs/p")
	if err != 0 {
		t.Fatalf("CreateFile failed: %v", err)
	}
	f.Write(buildExitELF(uint64(defs.USERMIN)))

	if before := NumActive(); before != 0 {
		t.Fatalf("NumActive before run = %d, want 0", before)
	}

	pid, rerr := RunProgram("/programs/p", vm.Sv39)
	if rerr != 0 {
		t.Fatalf("RunProgram failed: %v", rerr)
	}
	_ = pid

	if got := NumActive(); got != 1 {
		t.Fatalf("NumActive after RunProgram = %d, want 1", got)
	}

	if n := RunUntilIdle(0); n != 1 {
		t.Fatalf("RunUntilIdle serviced %d syscalls, want 1", n)
	}

	if got := NumActive(); got != 0 {
		t.Fatalf("NumActive after exit = %d, want 0", got)
	}
}
