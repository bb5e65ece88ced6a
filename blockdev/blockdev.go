// Package blockdev implements virtio-block sector I/O on top of package
// virtio's split-virtqueue transport (§4.5). A real virtio-block device
// on the other end of the queue would move bytes through the shared
// descriptor buffers; in this hosted kernel that device is Backend,
// serviced synchronously in the same call that submits the request —
// the same simplification the teacher's ufs package makes simulating
// AHCI against an *os.File for go test, one layer further up the stack.
package blockdev

import (
	"encoding/binary"

	"defs"
	"virtio"
)

/// SectorSize is the fixed virtio-block sector size in bytes.
const SectorSize = 512

// virtio-block request header, §4.5: type + reserved + sector, the
// shape the spec calls the chain's "header" descriptor.
const (
	reqIn  uint32 = 0 // read
	reqOut uint32 = 1 // write
)

/// Backend is the device side of the transport: whatever actually holds
/// the sector data. memdisk's production path backs this with a host
/// file (golang.org/x/sys/unix-mmapped); tests back it with memory.
type Backend interface {
	Capacity() uint64 // sectors
	ReadSector(sector uint64) ([SectorSize]byte, error)
	WriteSector(sector uint64, data [SectorSize]byte) error
}

/// Device is a virtio-block device: the transport queue plus the
/// backend that services requests.
type Device struct {
	vq      *virtio.Device
	backend Backend
}

/// EncodeCapacity produces the virtio-block config-space bytes for a
/// device exposing the given number of 512-byte sectors.
func EncodeCapacity(sectors uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, sectors)
	return buf
}

/// DecodeCapacity reads back what EncodeCapacity wrote.
func DecodeCapacity(cfg []byte) uint64 {
	if len(cfg) < 8 {
		return 0
	}
	return binary.LittleEndian.Uint64(cfg)
}

// VendorID and DeviceID identify a virtio-block device to Probe.
const (
	VendorID = 0x554d4551 // "QEMU"
	DeviceID = 2          // virtio-blk
)

/// Attach probes MMIO slot regs as a virtio-block device and, on
/// success, wires it to backend.
func Attach(regs *virtio.Registers, backend Backend) (*Device, bool) {
	regs.Config = EncodeCapacity(backend.Capacity())
	vq, ok := virtio.Probe(0, regs, DeviceID, VendorID, 0xffffffff)
	if !ok {
		return nil, false
	}
	return &Device{vq: vq, backend: backend}, true
}

/// Size reports the device capacity as read from the negotiated config
/// space, per §4.5 ("size() is read from the negotiated config space").
func (d *Device) Size() uint64 {
	return DecodeCapacity(d.vq.Config())
}

// submit builds the header/data/status three-descriptor chain and sends
// it. Read and Write then let the backend service it, complete it and
// wait for it — §4.4's full submit/poll/wait cycle, exercised on every
// sector operation.
func (d *Device) submit(write bool) (virtio.Token, defs.Err_t) {
	dataFlags := uint16(0)
	if !write {
		dataFlags = virtio.DescFWrite
	}
	chain := []virtio.Desc{
		{Len: 16},                           // header: type + sector
		{Len: SectorSize, Flags: dataFlags}, // data
		{Len: 1, Flags: virtio.DescFWrite},  // status
	}
	return d.vq.Send(chain)
}

/// Read fetches one sector (§4.5).
func (d *Device) Read(sector uint64) ([SectorSize]byte, defs.Err_t) {
	var data [SectorSize]byte
	if sector >= d.backend.Capacity() {
		return data, -defs.EINVAL
	}
	tok, err := d.submit(false)
	if err != 0 {
		return data, err
	}
	got, rerr := d.backend.ReadSector(sector)
	status := byte(0)
	if rerr != nil {
		status = 1
	} else {
		data = got
	}
	d.vq.Complete(tok.Head(), SectorSize)
	d.vq.Wait(tok)
	if status != 0 {
		return data, -defs.EIO
	}
	return data, 0
}

/// Write stores one sector (§4.5).
func (d *Device) Write(sector uint64, data [SectorSize]byte) defs.Err_t {
	if sector >= d.backend.Capacity() {
		return -defs.EINVAL
	}
	tok, err := d.submit(true)
	if err != 0 {
		return err
	}
	status := byte(0)
	if werr := d.backend.WriteSector(sector, data); werr != nil {
		status = 1
	}
	d.vq.Complete(tok.Head(), SectorSize)
	d.vq.Wait(tok)
	if status != 0 {
		return -defs.EIO
	}
	return 0
}
