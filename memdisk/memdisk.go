// Package memdisk implements the disk-backed virtual-memory cache
// (§4.6): a linear window of virtual address space, starting at
// defs.DISKBASE, that demand-pages a blockdev.Device eight sectors
// (one page) at a time and writes pages back only on unmount. On top
// of it sits DiskBox, a lazily-materialized on-disk object handle
// (§9). Grounded on original_source/src/disk/memory_disk.rs, carried
// over to this kernel's mem/vm layer instead of raw pointer arithmetic
// over a fixed offset.
package memdisk

import (
	"sync"

	"bitset"
	"blockdev"
	"caller"
	"defs"
	"hashtable"
	"limits"
	"mem"
	"vm"
)

const pageSize = uintptr(mem.PGSIZE)
const sectorsPerPage = mem.PGSIZE / blockdev.SectorSize // 8, per §6's "8*N sectors"

func idToAddr(page int32) uintptr {
	return defs.DISKBASE + uintptr(page)*pageSize
}

/// MemoryDisk is one mounted disk-backed cache. Only one may be mounted
/// at a time (§4.6); the active instance is tracked by the package-level
/// singleton mirroring the teacher's Mountos_t pattern of a single
/// global owning its own lock.
type MemoryDisk struct {
	mu       sync.Mutex
	dev      *blockdev.Device
	as       *vm.Vm_t
	numPages int32
	taken    *bitset.Set // which disk pages hold live data
	dirty    *bitset.Set // resident pages written since mount, due for write-back
	mapped   *hashtable.Hashtable_t // resident page index, keyed by int32 page id
}

// mappedBuckets sizes the resident-page hash table well above the
// working set this kernel ever keeps mapped at once (a handful of
// directories and one open file's worth of pages), the same
// over-provisioning the teacher's own fs superblock cache uses.
const mappedBuckets = 256

var mounted struct {
	sync.Mutex
	disk *MemoryDisk
}

// bitsetPages is how many pages the persisted `taken` bitset occupies,
// starting at disk page 1 (page 0 is reserved for the head blob).
func bitsetPages(numPages int32) int32 {
	bytes := bitset.SizeBytes(int(numPages))
	return int32((bytes + mem.PGSIZE - 1) / mem.PGSIZE)
}

/// Mount attaches dev as the mounted disk-backed cache, mapped into as
/// (the kernel address space), loading the persisted `taken` bitset from
/// disk page 1 onward. Any previously-mounted disk is unmounted first.
/// Mount refuses a device whose sector 0 does not carry the root-disk or
/// test-disk magic at defs.MagicOffset (§6, §9).
func Mount(dev *blockdev.Device, as *vm.Vm_t) (*MemoryDisk, defs.Err_t) {
	Unmount()

	sector0, err := dev.Read(0)
	if err != 0 {
		return nil, err
	}
	magic := uint32(sector0[defs.MagicOffset]) |
		uint32(sector0[defs.MagicOffset+1])<<8 |
		uint32(sector0[defs.MagicOffset+2])<<16 |
		uint32(sector0[defs.MagicOffset+3])<<24
	if magic != defs.RootDiskMagic && magic != defs.TestDiskMagic {
		return nil, -defs.EINVAL
	}

	numPages := int32(dev.Size()) / sectorsPerPage
	md := &MemoryDisk{
		dev:      dev,
		as:       as,
		numPages: numPages,
		taken:    bitset.New(int(numPages)),
		dirty:    bitset.New(int(numPages)),
		mapped:   hashtable.MkHash(mappedBuckets),
	}

	bp := bitsetPages(numPages)
	md.DeclareRead(idToAddr(1), idToAddr(1)+uintptr(bp)*pageSize)
	data := md.readAt(idToAddr(1), bitset.SizeBytes(int(numPages)))
	md.taken.LoadBytes(data)
	// Page 0 (head blob) and pages 1..bp (the bitset region just loaded)
	// are reserved regardless of what the loaded bitset says: a freshly
	// built image's bitset is all zero, and without this AllocPage would
	// freely hand out the very pages the header and bitset itself live
	// on. Idempotent on a disk that already reserved them.
	for i := int32(0); i <= bp; i++ {
		md.taken.Set(int(i), true)
	}

	mounted.Lock()
	mounted.disk = md
	mounted.Unlock()
	return md, 0
}

/// Unmount writes the `taken` bitset back to disk page 1, writes back
/// and unmaps every resident page, then clears the mounted singleton. A
/// no-op if nothing is mounted.
func Unmount() {
	mounted.Lock()
	md := mounted.disk
	mounted.disk = nil
	mounted.Unlock()
	if md == nil {
		return
	}

	bp := bitsetPages(md.numPages)
	md.declareWriteLocked(idToAddr(1), idToAddr(1)+uintptr(bp)*pageSize)
	md.writeAt(idToAddr(1), md.taken.Bytes())

	md.mu.Lock()
	elems := md.mapped.Elems()
	pages := make([]int32, 0, len(elems))
	for _, e := range elems {
		pages = append(pages, e.Key.(int32))
	}
	md.mu.Unlock()

	for _, p := range pages {
		md.unmapPage(p)
	}
}

/// GetMounted returns the active MemoryDisk. It panics if none is
/// mounted — callers in fs and sched only ever run after mount, same as
/// the teacher's other "must already be initialized" globals.
func GetMounted() *MemoryDisk {
	mounted.Lock()
	defer mounted.Unlock()
	if mounted.disk == nil {
		caller.Fatal("memdisk: no disk is mounted")
	}
	return mounted.disk
}

/// NumPages reports the disk's capacity in pages.
func (m *MemoryDisk) NumPages() int32 { return m.numPages }

/// NumFreePages reports how many disk pages are not currently taken.
func (m *MemoryDisk) NumFreePages() int32 {
	return int32(m.taken.CountFree())
}

func (m *MemoryDisk) mapPage(page int32, load bool) {
	m.mu.Lock()
	if _, ok := m.mapped.Get(page); ok {
		m.mu.Unlock()
		return
	}
	m.mapped.Set(page, true)
	m.mu.Unlock()

	addr := idToAddr(page)
	if _, err := m.as.MapAuto(addr, mem.PTE_W); err != 0 {
		caller.Fatal("memdisk: out of physical memory mapping disk page")
	}
	if !load {
		return
	}
	buf, err := m.as.Userdmap8(addr, true)
	if err != 0 {
		caller.Fatal("memdisk: freshly mapped page is not accessible")
	}
	first := uint64(page) * sectorsPerPage
	for s := uint64(0); s < sectorsPerPage; s++ {
		data, rerr := m.dev.Read(first + s)
		if rerr != 0 {
			caller.Fatal("memdisk: read failed loading disk page")
		}
		copy(buf[s*blockdev.SectorSize:], data[:])
	}
}

// unmapPage writes page back to dev only if declareWriteLocked marked it
// dirty since it was mapped, then unmaps it regardless — a page that was
// only ever DeclareRead'd has nothing new to write back (§4.6's ordering
// guarantee only promises a later fault reloads what was declare_write'd).
func (m *MemoryDisk) unmapPage(page int32) {
	m.mu.Lock()
	if _, ok := m.mapped.Get(page); !ok {
		m.mu.Unlock()
		return
	}
	m.mapped.Del(page)
	m.mu.Unlock()

	addr := idToAddr(page)
	if m.dirty.Get(int(page)) {
		buf, err := m.as.Userdmap8(addr, false)
		if err != 0 {
			caller.Fatal("memdisk: unmapping a page that was never mapped")
		}
		first := uint64(page) * sectorsPerPage
		for s := uint64(0); s < sectorsPerPage; s++ {
			var sector [blockdev.SectorSize]byte
			copy(sector[:], buf[s*blockdev.SectorSize:(s+1)*blockdev.SectorSize])
			if werr := m.dev.Write(first+s, sector); werr != 0 {
				caller.Fatal("memdisk: write-back failed unmounting disk page")
			}
		}
		m.dirty.Set(int(page), false)
	}
	if err := m.as.Unmap(addr, true); err != 0 {
		caller.Fatal("memdisk: Unmap failed on a page Userdmap8 just proved present")
	}
}

func pageRange(lowAddr, highAddr uintptr) (int32, int32) {
	lowPage := int32((lowAddr - defs.DISKBASE) / pageSize)
	highPage := int32((highAddr - defs.DISKBASE + pageSize - 1) / pageSize)
	return lowPage, highPage
}

func (m *MemoryDisk) mapRange(lowAddr, highAddr uintptr, load bool) {
	lowPage, highPage := pageRange(lowAddr, highAddr)
	for p := lowPage; p < highPage; p++ {
		m.mapPage(p, load)
	}
}

/// DeclareWrite ensures every page covering [lowAddr, highAddr) is
/// resident, without reading it back from disk first — callers that are
/// about to overwrite the whole range (DiskBox.save, SetHead) don't pay
/// for a load they'd immediately discard.
func (m *MemoryDisk) DeclareWrite(lowAddr, highAddr uintptr) {
	m.declareWriteLocked(lowAddr, highAddr)
}

// declareWriteLocked maps every page in range (without loading it) and
// marks each one dirty, so unmapPage knows to write it back even if it
// was already resident from an earlier DeclareRead.
func (m *MemoryDisk) declareWriteLocked(lowAddr, highAddr uintptr) {
	lowPage, highPage := pageRange(lowAddr, highAddr)
	for p := lowPage; p < highPage; p++ {
		m.mapPage(p, false)
		m.dirty.Set(int(p), true)
	}
}

/// DeclareRead ensures every page covering [lowAddr, highAddr) is
/// resident, loaded from disk.
func (m *MemoryDisk) DeclareRead(lowAddr, highAddr uintptr) {
	m.mapRange(lowAddr, highAddr, true)
}

/// PageFaultHandler maps in the page covering addr if addr falls inside
/// this disk's window, and reports whether it did — the hook the
/// scheduler's trap handler consults before concluding a fault is fatal.
func (m *MemoryDisk) PageFaultHandler(addr uintptr) bool {
	if addr < defs.DISKBASE || addr >= defs.DISKBASE+uintptr(m.numPages)*pageSize {
		return false
	}
	m.DeclareRead(addr, addr+1)
	return true
}

/// PageAddr returns the virtual address a disk page index maps to,
/// letting callers above memdisk (fs's DiskBox) address pages by index
/// the same way AllocPage/FreePage hand them out.
func (m *MemoryDisk) PageAddr(page int32) uintptr {
	return idToAddr(page)
}

/// ReadAt declares and reads n bytes starting at addr, for callers
/// outside this package that already hold a page index from AllocPage.
func (m *MemoryDisk) ReadAt(addr uintptr, n int) []byte {
	m.DeclareRead(addr, addr+uintptr(n))
	return m.readAt(addr, n)
}

/// WriteAt declares and writes data starting at addr.
func (m *MemoryDisk) WriteAt(addr uintptr, data []byte) {
	m.DeclareWrite(addr, addr+uintptr(len(data)))
	m.writeAt(addr, data)
}

func (m *MemoryDisk) readAt(addr uintptr, n int) []byte {
	out := make([]byte, n)
	got := 0
	for got < n {
		buf, err := m.as.Userdmap8(addr+uintptr(got), false)
		if err != 0 {
			caller.Fatal("memdisk: readAt on an address DeclareRead did not map")
		}
		got += copy(out[got:], buf)
	}
	return out
}

func (m *MemoryDisk) writeAt(addr uintptr, data []byte) {
	done := 0
	for done < len(data) {
		buf, err := m.as.Userdmap8(addr+uintptr(done), true)
		if err != 0 {
			caller.Fatal("memdisk: writeAt on an address DeclareWrite did not map")
		}
		done += copy(buf, data[done:])
	}
}

/// AllocPage reserves and returns a free disk page index (§4.6). It is
/// also charged against limits.Syslimit.Blocks, the same system-wide
/// block budget the teacher's Syslimit_t.Blocks tracks for its AHCI
/// buffer cache, so a runaway disk-page leak shows up as a limit hit
/// (limits.Lhits) rather than silently draining the bitset.
func (m *MemoryDisk) AllocPage() (int32, defs.Err_t) {
	if !limits.Syslimit.Blocks.Take() {
		return 0, -defs.ENOSPC
	}
	idx, ok := m.taken.GetZeroElement()
	if !ok {
		limits.Syslimit.Blocks.Give()
		return 0, -defs.ENOSPC
	}
	return int32(idx), 0
}

/// FreePage releases a disk page index previously returned by AllocPage.
func (m *MemoryDisk) FreePage(page int32) {
	m.taken.MustFree(int(page))
	limits.Syslimit.Blocks.Give()
}

// headSizeField is the width, in bytes, of the head blob's length
// prefix (§9: "a tiny persistent blob ... 4-byte size prefix").
const headSizeField = 4

/// GetHead reads the small persistent blob stored at the start of the
/// disk (page 0), below the `taken` bitset.
func (m *MemoryDisk) GetHead() []byte {
	m.DeclareRead(defs.DISKBASE, defs.DISKBASE+headSizeField)
	sizeBuf := m.readAt(defs.DISKBASE, headSizeField)
	size := int32(sizeBuf[0]) | int32(sizeBuf[1])<<8 | int32(sizeBuf[2])<<16 | int32(sizeBuf[3])<<24
	if size == 0 {
		return nil
	}
	m.DeclareRead(defs.DISKBASE+headSizeField, defs.DISKBASE+headSizeField+uintptr(size))
	return m.readAt(defs.DISKBASE+headSizeField, int(size))
}

/// SetHead overwrites the head blob.
func (m *MemoryDisk) SetHead(data []byte) {
	total := uintptr(headSizeField) + uintptr(len(data))
	m.DeclareWrite(defs.DISKBASE, defs.DISKBASE+total)
	size := int32(len(data))
	sizeBuf := []byte{byte(size), byte(size >> 8), byte(size >> 16), byte(size >> 24)}
	m.writeAt(defs.DISKBASE, sizeBuf)
	if len(data) > 0 {
		m.writeAt(defs.DISKBASE+headSizeField, data)
	}
}

/// Erase resets the disk to an empty state: clears the `taken` bitset
/// (reserving the pages the bitset and head blob themselves occupy) and
/// clears the head blob.
func (m *MemoryDisk) Erase() {
	m.taken.Clear()
	bp := bitsetPages(m.numPages)
	for i := int32(0); i <= bp; i++ {
		m.taken.Set(int(i), true)
	}
	m.SetHead(nil)
}
