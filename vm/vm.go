// Package vm implements per-process address spaces: multi-level page
// tables over the frames package mem hands out, generalized across the
// two table shapes this kernel targets (RISC-V Sv39 and x86_64 long
// mode) through the small ArchOps seam instead of one table walker per
// architecture.
package vm

import (
	"sync"

	"caller"
	"defs"
	"mem"
)

const (
	PGSHIFT  = mem.PGSHIFT
	PGSIZE   = mem.PGSIZE
	PGOFFSET = mem.PGOFFSET

	PTE_P   = mem.PTE_P
	PTE_W   = mem.PTE_W
	PTE_U   = mem.PTE_U
	PTE_G   = mem.PTE_G
	PTE_PCD = mem.PTE_PCD
	PTE_ADDR = mem.PTE_ADDR
)

// entsPerLevel is the fan-out of one page-table page: both Sv39 and
// amd64 long mode use 512 entries (9 bits) per level, they only differ
// in how many levels there are.
const entsPerLevel = 512

// ArchOps describes one architecture's page table shape. Everything
// above it (Vm_t) walks tables generically; only Levels changes between
// targets.
type ArchOps struct {
	// Name identifies the target, for diagnostics only.
	Name string
	// Levels is the table depth: 3 for Sv39, 4 for amd64 long mode.
	Levels int
}

/// Sv39 is the RISC-V S-mode three-level table shape.
var Sv39 = ArchOps{Name: "sv39", Levels: 3}

/// Amd64 is the x86_64 long-mode four-level table shape.
var Amd64 = ArchOps{Name: "amd64", Levels: 4}

func (a ArchOps) shift(level int) uint {
	return mem.PGSHIFT + 9*uint(a.Levels-1-level)
}

func (a ArchOps) index(va uintptr, level int) int {
	return int((va >> a.shift(level)) & (entsPerLevel - 1))
}

// rootCut is the root-level index below which entries are owned by the
// shared kernel mapping rather than a particular process (§3, §4.2):
// addresses below defs.USERMIN belong to the kernel, and entries at and
// above rootCut belong to the process.
func (a ArchOps) rootCut() int {
	return a.index(defs.USERMIN, 0)
}

/// KernelPmap is the template root table every address space copies its
/// kernel-half entries from. Set once by Init before any process runs.
var KernelPmap *mem.Pmap_t

/// Init records the kernel's own root page table so CreateAddressSpace
/// can share its mappings into every process.
func Init(kernelRoot *mem.Pmap_t) {
	KernelPmap = kernelRoot
}

/// Vm_t is one process's address space: a root page table plus the lock
/// that serializes all lookups and modifications against it.
type Vm_t struct {
	sync.Mutex
	Pmap   *mem.Pmap_t
	P_pmap mem.Pa_t
	Arch   ArchOps
}

/// CreateAddressSpace allocates a fresh root table, pre-populated with
/// the shared kernel half from KernelPmap, per the process loader's first
/// step (§4.8).
func CreateAddressSpace(arch ArchOps) (*Vm_t, defs.Err_t) {
	pmap, p_pmap, ok := mem.Physmem.Pmap_new()
	if !ok {
		return nil, -defs.ENOMEM
	}
	if KernelPmap != nil {
		cut := arch.rootCut()
		for i := 0; i < cut; i++ {
			pmap[i] = KernelPmap[i]
		}
	}
	return &Vm_t{Pmap: pmap, P_pmap: p_pmap, Arch: arch}, 0
}

/// DestroyAddressSpace frees every user-owned page table page and data
/// page reachable from the root, then the root itself. Kernel-half
/// entries (indices below rootCut) are shared and never freed here.
func (as *Vm_t) DestroyAddressSpace() {
	as.Lock()
	defer as.Unlock()
	as.freeLevel(as.Pmap, 0, as.Arch.rootCut())
	mem.Physmem.Dec_pmap(as.P_pmap)
}

func (as *Vm_t) freeLevel(table *mem.Pmap_t, level, from int) {
	for i := from; i < entsPerLevel; i++ {
		pte := table[i]
		if pte&mem.PTE_P == 0 {
			continue
		}
		pa := pte & mem.PTE_ADDR
		if level < as.Arch.Levels-1 {
			sub := mem.Physmem.DmapPmap(pa)
			as.freeLevel(sub, level+1, 0)
			mem.Physmem.Dec_pmap(pa)
		} else {
			mem.Physmem.Refdown(pa)
		}
		table[i] = 0
	}
}

// walk returns a pointer to the leaf PTE for va, creating intermediate
// page-table pages along the way if create is set.
func (as *Vm_t) walk(va uintptr, create bool) (*mem.Pa_t, defs.Err_t) {
	table := as.Pmap
	for level := 0; level < as.Arch.Levels-1; level++ {
		idx := as.Arch.index(va, level)
		pte := &table[idx]
		if *pte&mem.PTE_P == 0 {
			if !create {
				return nil, -defs.EFAULT
			}
			_, p_new, ok := mem.Physmem.Pmap_new()
			if !ok {
				return nil, -defs.ENOMEM
			}
			*pte = p_new | mem.PTE_P | mem.PTE_W | mem.PTE_U
		}
		table = mem.Physmem.DmapPmap(*pte & mem.PTE_ADDR)
	}
	idx := as.Arch.index(va, as.Arch.Levels-1)
	return &table[idx], 0
}

/// Map installs a single page mapping at the page-aligned address va,
/// pointing at the already-allocated physical page pa, with the given
/// permission bits (§4.2). Mapping over an existing leaf is a hard
/// error — it distinguishes a genuine double-map bug from the on-demand
/// fault path, which never calls Map for an address it hasn't already
/// checked is absent.
func (as *Vm_t) Map(va uintptr, pa mem.Pa_t, perms mem.Pa_t) defs.Err_t {
	as.Lock()
	defer as.Unlock()
	pte, err := as.walk(va, true)
	if err != 0 {
		return err
	}
	if *pte&mem.PTE_P != 0 {
		caller.Fatal("vm: Map over an already-mapped leaf")
	}
	*pte = (pa &^ PGOFFSET) | perms | mem.PTE_P
	return 0
}

/// MapAuto allocates a fresh zeroed physical page and maps it at va,
/// returning the page's physical address.
func (as *Vm_t) MapAuto(va uintptr, perms mem.Pa_t) (mem.Pa_t, defs.Err_t) {
	_, pa, ok := mem.Physmem.Refpg_new()
	if !ok {
		return 0, -defs.ENOMEM
	}
	if err := as.Map(va, pa, perms); err != 0 {
		mem.Physmem.Refdown(pa)
		return 0, err
	}
	return pa, 0
}

/// Unmap clears the mapping at va. When free is true the underlying page
/// is returned to the frame allocator; callers that merely want to
/// detach a page they still reference elsewhere pass false (§4.2). It is
/// an error to unmap an address that was never mapped.
func (as *Vm_t) Unmap(va uintptr, free bool) defs.Err_t {
	as.Lock()
	defer as.Unlock()
	pte, err := as.walk(va, false)
	if err != 0 {
		return err
	}
	if *pte&mem.PTE_P == 0 {
		return -defs.EFAULT
	}
	pa := *pte & mem.PTE_ADDR
	*pte = 0
	if free {
		mem.Physmem.Refdown(pa)
	}
	return 0
}

/// Lookup translates va to its physical address and permission bits
/// without modifying the table. ok is false if va is unmapped.
func (as *Vm_t) Lookup(va uintptr) (pa mem.Pa_t, perms mem.Pa_t, ok bool) {
	as.Lock()
	defer as.Unlock()
	pte, err := as.walk(va, false)
	if err != 0 || *pte&mem.PTE_P == 0 {
		return 0, 0, false
	}
	return *pte & mem.PTE_ADDR, *pte &^ mem.PTE_ADDR, true
}

// current is the address space presently installed, the simulation's
// stand-in for the satp/cr3 register the real boot shim would load.
var current struct {
	sync.Mutex
	as *Vm_t
}

/// Switch installs as as the active address space (§4.2's table-root
/// reload on a context switch). In this hosted simulation there is no
/// physical MMU to reprogram; this just records which space subsequent
/// Userdmap8 calls from the scheduler should resolve against.
func (as *Vm_t) Switch() {
	current.Lock()
	current.as = as
	current.Unlock()
}

/// Current returns the address space most recently installed by Switch,
/// or nil before any process has run.
func Current() *Vm_t {
	current.Lock()
	defer current.Unlock()
	return current.as
}

/// Userdmap8 maps the user virtual address va for access and returns the
/// byte slice starting at va's in-page offset, or EFAULT if va is not
/// mapped (demand paging beyond the disk cache layer is a Non-goal, so
/// there is no page-fault path here to fill the mapping in).
func (as *Vm_t) Userdmap8(va uintptr, write bool) ([]uint8, defs.Err_t) {
	pa, perms, ok := as.Lookup(va)
	if !ok {
		return nil, -defs.EFAULT
	}
	if write && perms&mem.PTE_W == 0 {
		return nil, -defs.EFAULT
	}
	pg := mem.Physmem.Dmap(pa)
	bpg := mem.Pg2bytes(pg)
	off := int(va) & int(PGOFFSET)
	return bpg[off:], 0
}
