// Package mem implements the kernel's physical frame allocator: a fixed
// arena of pages backed by an augmented bit set, giving O(1) amortized
// alloc/free instead of the teacher's per-CPU refcounted free lists (this
// kernel has no copy-on-write, so nothing needs a refcount above one).
package mem

import (
	"fmt"
	"sync"
	"unsafe"

	"bitset"
	"caller"
	"defs"
	"oommsg"
)

/// PGSHIFT is the base-2 exponent for the page size.
const PGSHIFT = defs.PGSHIFT

/// PGSIZE is the size of a single page in bytes.
const PGSIZE = defs.PGSIZE

/// PGOFFSET masks offsets within a page.
const PGOFFSET Pa_t = Pa_t(PGSIZE - 1)

/// PGMASK masks the page number of an address.
const PGMASK Pa_t = ^PGOFFSET

// Page table entry bits, shared by both architectures' ArchOps
// implementations in package vm.
const (
	PTE_P   Pa_t = 1 << 0
	PTE_W   Pa_t = 1 << 1
	PTE_U   Pa_t = 1 << 2
	PTE_PCD Pa_t = 1 << 4
	PTE_PS  Pa_t = 1 << 7
	PTE_G   Pa_t = 1 << 8
)

/// PTE_ADDR extracts the address bits of a PTE.
const PTE_ADDR Pa_t = PGMASK

/// USERMIN is re-exported from defs for callers that only import mem.
const USERMIN = defs.USERMIN

/// Pa_t represents a physical address: an offset into the simulated
/// physical arena, not a host virtual address.
type Pa_t uintptr

/// Bytepg_t is a byte-addressed page.
type Bytepg_t [PGSIZE]uint8

/// Pg_t is a generic page of ints, the teacher's page-granular view used
/// when a page's contents are opaque words rather than a page table.
type Pg_t [PGSIZE / 8]int

/// Pmap_t is a page table page: PGSIZE/8 page table entries.
type Pmap_t [PGSIZE / 8]Pa_t

/// Pg2bytes reinterprets a page of ints as a page of bytes.
func Pg2bytes(pg *Pg_t) *Bytepg_t {
	return (*Bytepg_t)(unsafe.Pointer(pg))
}

/// Bytepg2pg reinterprets a byte page back to a Pg_t.
func Bytepg2pg(pg *Bytepg_t) *Pg_t {
	return (*Pg_t)(unsafe.Pointer(pg))
}

func pg2pmap(pg *Pg_t) *Pmap_t {
	return (*Pmap_t)(unsafe.Pointer(pg))
}

func pgn(p Pa_t) int {
	return int(p >> PGSHIFT)
}

/// Physmem_t is the physical frame allocator: one page-granular bit set
/// over a fixed arena. Frame zero is never handed out so that Pa_t(0) can
/// keep its usual meaning of "absent" in a page table entry (§4.1).
type Physmem_t struct {
	sync.Mutex
	arena  []byte
	bits   *bitset.Set
	npages int
}

/// Physmem is the global physical memory allocator instance, matching the
/// teacher's package-level singleton (Physmem, Phys_init).
var Physmem = &Physmem_t{}

/// Zeropg is a page of zeroes, used the same way the teacher's COW
/// zero-page was: as a source to copy from, never written through.
var Zeropg = &Pg_t{}

// Phys_init reserves npages pages of simulated physical memory and
// returns the initialized allocator. Frame 0 is pre-marked allocated.
func Phys_init(npages int) *Physmem_t {
	phys := Physmem
	phys.npages = npages
	phys.arena = make([]byte, npages*PGSIZE)
	phys.bits = bitset.New(npages)
	// reserve frame 0: Pa_t(0) must never alias a real page.
	if npages < 1 {
		caller.Fatal("mem: arena too small to reserve frame zero")
	}
	phys.bits.Set(0, true)
	fmt.Printf("mem: reserved %v pages (%vKB)\n", npages, npages*PGSIZE/1024)
	return phys
}

/// Dmap returns the page at physical address p as a *Pg_t. It is the
/// direct map the teacher's Dmap provided over real physical memory; here
/// it is a pointer into the simulated arena.
func (phys *Physmem_t) Dmap(p Pa_t) *Pg_t {
	off := int(p) &^ (PGSIZE - 1)
	if off < 0 || off+PGSIZE > len(phys.arena) {
		caller.Fatal("mem: Dmap address out of range")
	}
	return (*Pg_t)(unsafe.Pointer(&phys.arena[off]))
}

/// Dmap8 returns a byte slice mapped to the given physical address,
/// starting at its in-page offset.
func (phys *Physmem_t) Dmap8(p Pa_t) []uint8 {
	pg := phys.Dmap(p)
	off := p & PGOFFSET
	bpg := Pg2bytes(pg)
	return bpg[off:]
}

// Refpg_new allocates a zeroed page (§4.1, §8 property: every returned
// index is distinct and every freed index is eventually reused).
func (phys *Physmem_t) Refpg_new() (*Pg_t, Pa_t, bool) {
	pg, p_pg, ok := phys.Refpg_new_nozero()
	if !ok {
		return nil, 0, false
	}
	*pg = *Zeropg
	return pg, p_pg, true
}

/// Refpg_new_nozero allocates a page without zeroing its contents. On
/// exhaustion it posts a best-effort notice on oommsg.OomCh before
/// returning ok=false, so a host monitor listening for Oommsg_t can log
/// the event ahead of whatever fatal panic the caller is about to raise
/// (§7: out-of-resource is fatal, but the notice still goes out first).
func (phys *Physmem_t) Refpg_new_nozero() (*Pg_t, Pa_t, bool) {
	idx, ok := phys.bits.GetZeroElement()
	if !ok {
		select {
		case oommsg.OomCh <- oommsg.Oommsg_t{Need: 1}:
		default:
		}
		return nil, 0, false
	}
	p_pg := Pa_t(idx) << PGSHIFT
	return phys.Dmap(p_pg), p_pg, true
}

/// Pmap_new allocates a zeroed page table page.
func (phys *Physmem_t) Pmap_new() (*Pmap_t, Pa_t, bool) {
	pg, p_pg, ok := phys.Refpg_new()
	if !ok {
		return nil, 0, false
	}
	return pg2pmap(pg), p_pg, true
}

/// DmapPmap is Dmap for a page already known to hold a page table.
func (phys *Physmem_t) DmapPmap(p Pa_t) *Pmap_t {
	return pg2pmap(phys.Dmap(p))
}

/// Refdown returns a page to the free pool. There is no refcounting: the
/// kernel never aliases a user page across address spaces (no COW, no
/// shared anonymous mappings — both Non-goals), so one owner frees it
/// exactly once.
func (phys *Physmem_t) Refdown(p_pg Pa_t) {
	if p_pg == 0 {
		return
	}
	phys.bits.MustFree(pgn(p_pg))
}

/// Dec_pmap frees a page table page, named to match the teacher's pmap
/// lifecycle call sites in vm.
func (phys *Physmem_t) Dec_pmap(p_pmap Pa_t) {
	phys.Refdown(p_pmap)
}

/// Pgcount reports the number of free and allocated pages, the
/// single-allocator equivalent of the teacher's per-CPU Pgcount.
func (phys *Physmem_t) Pgcount() (free int, used int) {
	free = phys.bits.CountFree()
	return free, phys.npages - free
}
