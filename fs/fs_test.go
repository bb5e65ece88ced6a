package fs

import (
	"testing"

	"blockdev"
	"defs"
	"mem"
	"memdisk"
	"virtio"
	"vm"
)

type memBackend struct {
	sectors [][blockdev.SectorSize]byte
}

// newMemBackend returns a backend stamped with the test-disk magic (§6,
// §9) at sector 0 so memdisk.Mount accepts it.
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

func mountTestDisk(t *testing.T) (*vm.Vm_t, *blockdev.Device) {
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
	return as, dev
}

// TestFilePersistenceAcrossRemount covers §8 scenario 4: erase, create
// /a/b/c, write 10000 bytes of a counter pattern, unmount/remount, and
// read the file back identically.
func TestFilePersistenceAcrossRemount(t *testing.T) {
	as, dev := mountTestDisk(t)

	f := Init()
	f.Erase()

	file, err := f.CreateFile("/a/b/c")
	if err != 0 {
		t.Fatalf("CreateFile failed: %v", err)
	}
	data := make([]byte, 10000)
	for i := range data {
		data[i] = byte(i)
	}
	file.Write(data)
	Close()
	memdisk.Unmount()

	if _, err := memdisk.Mount(dev, as); err != 0 {
		t.Fatalf("remount failed: %v", err)
	}
	f2 := Init()
	got := f2.GetFile("/a/b/c")
	if got == nil {
		t.Fatal("expected /a/b/c to exist after remount")
	}
	read := got.Read()
	if len(read) != len(data) {
		t.Fatalf("len = %d, want %d", len(read), len(data))
	}
	for i := range data {
		if read[i] != data[i] {
			t.Fatalf("byte %d = %d, want %d", i, read[i], data[i])
		}
	}
	Close()
	memdisk.Unmount()
}

// TestCreateDirectoryIdempotent covers §8's "create_directory(p);
// create_directory(p) is idempotent".
func TestCreateDirectoryIdempotent(t *testing.T) {
	mountTestDisk(t)
	f := Init()
	f.Erase()
	defer func() { Close(); memdisk.Unmount() }()

	d1 := f.CreateDirectory("/x/y")
	d2 := f.CreateDirectory("/x/y")
	if d1 != d2 {
		t.Fatal("expected CreateDirectory to be idempotent")
	}
}

// TestDeleteDirectoryFreesSubtree covers the "deleting a subtree
// releases every page it owned" invariant (§4.7).
func TestDeleteDirectoryFreesSubtree(t *testing.T) {
	mountTestDisk(t)
	f := Init()
	f.Erase()
	defer func() { Close(); memdisk.Unmount() }()

	file, err := f.CreateFile("/x/y/z")
	if err != 0 {
		t.Fatalf("CreateFile failed: %v", err)
	}
	file.Write(make([]byte, 10000))

	md := memdisk.GetMounted()
	free0 := md.NumFreePages()

	if err := f.DeleteDirectory("/x"); err != 0 {
		t.Fatalf("DeleteDirectory failed: %v", err)
	}
	if got := f.GetDirectory("/x"); got != nil {
		t.Fatal("expected /x to be gone")
	}
	if md.NumFreePages() <= free0 {
		t.Fatalf("expected pages to be freed, free0=%d free1=%d", free0, md.NumFreePages())
	}
}
