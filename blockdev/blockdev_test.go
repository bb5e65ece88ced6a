package blockdev

import (
	"testing"

	"virtio"
)

type memBackend struct {
	sectors [][SectorSize]byte
}

func newMemBackend(n int) *memBackend {
	return &memBackend{sectors: make([][SectorSize]byte, n)}
}

func (m *memBackend) Capacity() uint64 { return uint64(len(m.sectors)) }

func (m *memBackend) ReadSector(sector uint64) ([SectorSize]byte, error) {
	return m.sectors[sector], nil
}

func (m *memBackend) WriteSector(sector uint64, data [SectorSize]byte) error {
	m.sectors[sector] = data
	return nil
}

func newTestRegs() *virtio.Registers {
	return &virtio.Registers{
		Magic:          virtio.Magic,
		DeviceID:       DeviceID,
		VendorID:       VendorID,
		DeviceFeatures: 0xffffffff,
		QueueNumMax:    virtio.NUM,
	}
}

func TestReadWriteRoundTrip(t *testing.T) {
	backend := newMemBackend(256)
	dev, ok := Attach(newTestRegs(), backend)
	if !ok {
		t.Fatal("expected Attach to succeed")
	}
	if dev.Size() != 256 {
		t.Fatalf("Size() = %d, want 256", dev.Size())
	}

	var payload [SectorSize]byte
	copy(payload[:], "Hello")
	if err := dev.Write(100, payload); err != 0 {
		t.Fatalf("Write failed: %v", err)
	}
	got, err := dev.Read(100)
	if err != 0 {
		t.Fatalf("Read failed: %v", err)
	}
	if string(got[:5]) != "Hello" {
		t.Fatalf("got %q, want %q", got[:5], "Hello")
	}
}

func TestOutOfRangeSectorFails(t *testing.T) {
	backend := newMemBackend(4)
	dev, ok := Attach(newTestRegs(), backend)
	if !ok {
		t.Fatal("expected Attach to succeed")
	}
	if _, err := dev.Read(10); err == 0 {
		t.Fatal("expected out-of-range read to fail")
	}
}

func TestAttachFailsOnVendorMismatch(t *testing.T) {
	regs := newTestRegs()
	regs.VendorID = 0
	if _, ok := Attach(regs, newMemBackend(1)); ok {
		t.Fatal("expected Attach to fail on vendor mismatch")
	}
}
