package heap

import (
	"math/bits"
	"sync"

	"caller"
	"defs"
	"mem"
	"vm"
)

// Heap_t is the kernel's malloc/free front end: a Tree for the
// allocation algorithm, a virtual-memory cursor that lazily maps the
// tree's growing backing pages into the kernel address space, and a
// side table recording each outstanding allocation's size class so
// Free need only take the address, matching the contract in §4.3.
type Heap_t struct {
	sync.Mutex
	tree       *Tree
	as         *vm.Vm_t
	base       uintptr
	mappedUpTo uintptr
	sizes      map[uintptr]uint8
}

/// Heap is the global allocator instance, initialized by Init before any
/// Malloc/Free call.
var Heap *Heap_t

/// Init installs as as the address space the heap region is mapped
/// into, starting at defs.HEAPBASE.
func Init(as *vm.Vm_t) *Heap_t {
	Heap = &Heap_t{
		tree:  NewTree(),
		as:    as,
		base:  defs.HEAPBASE,
		sizes: make(map[uintptr]uint8),
	}
	return Heap
}

// ensureMapped maps every page between the cursor and offset+length,
// the "curr_page advances ... map_auto is called for every page the
// newly allocated block reaches" policy (§4.3).
func (h *Heap_t) ensureMapped(offset, length uintptr) defs.Err_t {
	need := offset + length
	for h.mappedUpTo < need {
		va := h.base + h.mappedUpTo
		if _, err := h.as.MapAuto(va, mem.PTE_W); err != 0 {
			return err
		}
		h.mappedUpTo += uintptr(mem.PGSIZE)
	}
	return 0
}

func log2Ceil(n int) uint32 {
	if n <= 1 {
		return 0
	}
	return uint32(bits.Len(uint(n - 1)))
}

/// Malloc rounds n up to a power of two no smaller than 8 bytes and
/// returns an 8-byte-aligned virtual address within the heap region
/// (§4.3). The tree grows by doubling and never reports exhaustion; the
/// only error returned (besides EINVAL for n <= 0) is the Err_t from
/// mapping the chosen range's pages, in which case the range is freed.
func (h *Heap_t) Malloc(n int) (uintptr, defs.Err_t) {
	if n <= 0 {
		return 0, -defs.EINVAL
	}
	sizeLog2 := log2Ceil(n)
	if sizeLog2 < 3 {
		sizeLog2 = 3
	}

	h.Lock()
	defer h.Unlock()

	pos := h.tree.Alloc(sizeLog2)
	if err := h.ensureMapped(uintptr(pos), uintptr(1)<<sizeLog2); err != 0 {
		h.tree.Free(pos, sizeLog2)
		return 0, err
	}
	addr := h.base + uintptr(pos)
	h.sizes[addr] = uint8(sizeLog2)
	return addr, 0
}

/// Free releases the exact region previously returned by Malloc.
/// Freeing an address Malloc never returned, or one already freed, is a
/// fatal invariant violation (§7) — there is no way to recover the size
/// class to free correctly, so the kernel halts rather than corrupt the
/// tree.
func (h *Heap_t) Free(addr uintptr) {
	h.Lock()
	defer h.Unlock()

	sizeLog2, ok := h.sizes[addr]
	if !ok {
		caller.Fatal("heap: free of address never returned by malloc")
	}
	delete(h.sizes, addr)
	h.tree.Free(uint32(addr-h.base), uint32(sizeLog2))
}
