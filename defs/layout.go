package defs

// Virtual-address layout shared by every layer that maps or walks a page
// table. Picking one split here, instead of letting each package invent
// its own, is what lets mem/vm/heap/memdisk/sched agree on where things
// live without importing each other.
const (
	/// PGSHIFT is the base-2 exponent of the page size.
	PGSHIFT uint = 12
	/// PGSIZE is the size of a page in bytes.
	PGSIZE int = 1 << PGSHIFT

	/// USERMIN is the lowest virtual address a user mapping may occupy.
	/// Addresses below it belong to the kernel and are shared, identically
	/// mapped, in every process's root table (§3, §4.2).
	USERMIN uintptr = 1 << 38

	/// HEAPBASE is the start of the kernel heap region the buddy tree
	/// (package heap) grows into. Kernel-shared regions (HEAPBASE,
	/// HEAPTREE, DISKBASE) must stay below USERMIN and within the
	/// 3-level Sv39 table's 2^39-byte reach, or their root-table index
	/// wraps through the & 511 mask in vm.ArchOps.index and silently
	/// aliases another region.
	HEAPBASE uintptr = 1 << 30
	/// HEAPTREE is an address reserved apart from the region the heap
	/// hands out (§4.3). heap.Tree keeps its nodes and bitmasks in Go
	/// slices, so nothing is mapped here.
	HEAPTREE uintptr = 1 << 35

	/// DISKBASE is the start of the linear virtual window MemoryDisk
	/// demand-pages the block device into (§4.6).
	DISKBASE uintptr = 1 << 36

	/// USERSTACK is the fixed virtual address of a process's stack
	/// region, placed above USERMIN so it falls in the per-process
	/// private range rather than the shared kernel range every address
	/// space copies (§4.2).
	USERSTACK uintptr = USERMIN + 1<<37
	/// USERSTACKSZ is the size of a process's mapped stack.
	USERSTACKSZ = 128 * 1024
	/// TRAPFRAME is the fixed virtual address of a process's saved
	/// register context (§3, §4.8).
	TRAPFRAME uintptr = USERSTACK + USERSTACKSZ

	/// USERHEAP is the start of the region alloc-page/dealloc-page (§6)
	/// hands out of, one page at a time, via a per-process cursor —
	/// distinct from both the kernel heap (HEAPBASE) and the user stack.
	USERHEAP uintptr = TRAPFRAME + uintptr(PGSIZE)

	/// NPROC is the size of the fixed process table (§3).
	NPROC = 16

	/// NHART is the number of harts (CPUs) the scheduler and trap path
	/// run across, matching original_source's fixed 4-entry CPU_DATA
	/// table.
	NHART = 4
)
