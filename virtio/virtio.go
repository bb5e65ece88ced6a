// Package virtio implements the split-virtqueue transport shared by the
// block, input, and GPU devices: a fixed descriptor pool, the
// avail/used ring protocol, and the probe/feature-negotiation handshake
// (§4.4). The boot shim's real MMIO loads/stores are represented here by
// Registers, a plain struct any backing (simulated device, or — outside
// this module's scope — real hardware) can implement through the same
// field layout, matching how the teacher's own "runs as ordinary Go
// program" packages keep hardware state behind a small struct rather
// than raw pointers.
package virtio

import (
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"defs"
	"stats"
)

/// NUM is the descriptor pool size. Must be a power of two (§4.4).
const NUM = 8

// Status register bits (§4.4's handshake: ACKNOWLEDGE -> DRIVER ->
// negotiate -> FEATURES_OK -> set queue 0 -> DRIVER_OK).
const (
	StatusAcknowledge uint32 = 1 << 0
	StatusDriver      uint32 = 1 << 1
	StatusDriverOK    uint32 = 1 << 2
	StatusFeaturesOK  uint32 = 1 << 3
)

/// Magic is the expected value of a virtio MMIO device's magic register.
const Magic uint32 = 0x74726976

// Descriptor flags.
const (
	DescFNext  uint16 = 1 // chained with another descriptor
	DescFWrite uint16 = 2 // device writes (vs. reads)
)

/// Desc is one split-virtqueue descriptor.
type Desc struct {
	Addr  uint64
	Len   uint32
	Flags uint16
	Next  uint16
}

/// UsedElem is one entry of the used ring: the head index of a completed
/// descriptor chain and the number of bytes the device wrote.
type UsedElem struct {
	ID  uint32
	Len uint32
}

/// Registers is the MMIO control-register block for one virtio device
/// slot, simulated as plain fields rather than real loads/stores.
type Registers struct {
	Magic           uint32
	Version         uint32
	DeviceID        uint32
	VendorID        uint32
	DeviceFeatures  uint32
	DriverFeatures  uint32
	QueueNumMax     uint32
	QueueNum        uint32
	QueueReady      uint32
	Status          uint32
	InterruptStatus uint32
	Config          []byte
}

// Excluded feature bits: this transport never negotiates indirect
// descriptors, the event index, or the "any layout" relaxation, so
// every chain it builds is the fixed 2/3-descriptor shape §4.4 and §4.5
// describe.
const (
	featAnyLayout    = 1 << 27
	featRingEventIdx = 1 << 29
	featRingIndirect = 1 << 28
)

/// Device is one probed and initialized virtio transport instance: the
/// three virtqueue arrays plus the driver's own descriptor free-list
/// bookkeeping (§4.4's "a descriptor is free or in a chain" invariant).
type Device struct {
	mu sync.Mutex

	regs *Registers
	id   int

	desc  [NUM]Desc
	avail struct {
		flags uint16
		idx   uint16
		ring  [NUM]uint16
	}
	used struct {
		flags uint16
		idx   uint16
		ring  [NUM]UsedElem
	}

	free     [NUM]bool
	ready    [NUM]bool // set by poll/irq when a chain's completion has been observed
	usedSeen uint16    // driver's local copy of the used ring cursor

	sem *semaphore.Weighted // gates concurrent allocation against NUM free descriptors

	irqPending bool // interrupt arrived while mu was already held
}

// Probe runs the feature-negotiation handshake against regs and returns
// an initialized Device, or ok=false if the magic/device/vendor triple
// doesn't match what the caller expects — a device simply absent from
// this MMIO slot, not a fatal error (§7).
func Probe(id int, regs *Registers, wantDeviceID, wantVendorID uint32, wantFeatures uint32) (*Device, bool) {
	if regs.Magic != Magic || regs.DeviceID != wantDeviceID || regs.VendorID != wantVendorID {
		return nil, false
	}

	regs.Status |= StatusAcknowledge
	regs.Status |= StatusDriver

	negotiated := regs.DeviceFeatures & wantFeatures
	negotiated &^= featAnyLayout | featRingEventIdx | featRingIndirect
	regs.DriverFeatures = negotiated
	regs.Status |= StatusFeaturesOK

	if regs.Status&StatusFeaturesOK == 0 {
		return nil, false
	}

	if regs.QueueNumMax < NUM {
		return nil, false
	}
	regs.QueueNum = NUM
	regs.QueueReady = 1

	d := &Device{regs: regs, id: id, sem: semaphore.NewWeighted(NUM)}
	for i := range d.free {
		d.free[i] = true
	}

	regs.Status |= StatusDriverOK
	fmt.Printf("virtio: device %d ready (features=%#x)\n", id, negotiated)
	return d, true
}

func (d *Device) alloc1() (int, bool) {
	for i := range d.free {
		if d.free[i] {
			d.free[i] = false
			return i, true
		}
	}
	return 0, false
}

func (d *Device) allocN(n int) ([]int, bool) {
	if !d.sem.TryAcquire(int64(n)) {
		return nil, false
	}
	idxs := make([]int, 0, n)
	for len(idxs) < n {
		i, ok := d.alloc1()
		if !ok {
			for _, j := range idxs {
				d.free[j] = true
			}
			d.sem.Release(int64(n))
			return nil, false
		}
		idxs = append(idxs, i)
	}
	return idxs, true
}

func (d *Device) freeChain(head int) {
	idx := head
	n := 0
	for {
		desc := &d.desc[idx]
		next := desc.Next
		flags := desc.Flags
		*desc = Desc{}
		d.free[idx] = true
		n++
		if flags&DescFNext == 0 {
			break
		}
		idx = int(next)
	}
	d.sem.Release(int64(n))
}

/// Token identifies one outstanding request so Wait can find its
/// completion.
type Token struct {
	head int
}

/// Head reports the descriptor-chain head t names, the value a device
/// side passes to Complete.
func (t Token) Head() int { return t.head }

// Send allocates len(chain) descriptors (2 or 3, per §4.4), chains them
// with NEXT flags, publishes the chain via the avail ring, and notifies
// the device. It returns a Token to pass to Wait.
func (d *Device) Send(chain []Desc) (Token, defs.Err_t) {
	d.mu.Lock()
	defer d.mu.Unlock()

	idxs, ok := d.allocN(len(chain))
	if !ok {
		return Token{}, -defs.EAGAIN
	}
	for i, desc := range chain {
		desc.Flags = chain[i].Flags
		if i+1 < len(chain) {
			desc.Flags |= DescFNext
			desc.Next = uint16(idxs[i+1])
		}
		d.desc[idxs[i]] = desc
	}

	head := idxs[0]
	d.avail.ring[d.avail.idx%NUM] = uint16(head)
	d.avail.idx++ // release fence: the device must observe desc[] before idx

	d.notify()
	return Token{head: head}, 0
}

// notify represents the QueueNotify MMIO write that wakes the device;
// in this hosted simulation the device side is driven by Poll, so there
// is nothing to do here.
func (d *Device) notify() {}

/// Complete appends a used-ring entry for the given descriptor chain
/// head, as the device side of the transport would on finishing a
/// request. Exported so a simulated backend (blockdev's in-test disk,
/// for instance) can drive the transport without a real device thread.
func (d *Device) Complete(head int, length uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.used.ring[d.used.idx%NUM] = UsedElem{ID: uint32(head), Len: length}
	d.used.idx++
	d.InterruptStatus()
}

// InterruptStatus represents the device raising its completion
// interrupt. It only sets irqPending, whether or not the device lock is
// held; Poll or Wait drains the used ring afterward under the lock, so a
// handler never re-enters the same lock
// (§4.4, §9 "interrupt re-entrancy on device locks").
func (d *Device) InterruptStatus() {
	d.irqPending = true
}

// Poll drains every newly-completed chain from the used ring, marking
// each head's Token ready and reclaiming its descriptors. Call after an
// IRQ (PLIC claim, package plic) or directly when cooperatively waiting.
func (d *Device) Poll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drainLocked()
}

func (d *Device) drainLocked() {
	for d.irqPending {
		d.irqPending = false
		for d.usedSeen != d.used.idx {
			elem := d.used.ring[d.usedSeen%NUM]
			d.ready[elem.ID] = true
			d.usedSeen++
		}
	}
}

// waitSpins and waitTime are the cooperative-wait counters (§4.5: "all
// waits are cooperative"); both compile to no-ops unless stats.Stats /
// stats.Timing are flipped on, same as every other counter in this
// kernel.
var waitSpins stats.Counter_t
var waitTime stats.Cycles_t

/// Wait spins until tok's chain is marked ready, then reclaims its
/// descriptors. All waits in this kernel are cooperative (§4.5): there
/// is no blocking queue, only a spin (here, a plain loop calling Poll).
func (d *Device) Wait(tok Token) {
	start := stats.Cycles()
	for {
		d.mu.Lock()
		d.drainLocked()
		if d.ready[tok.head] {
			d.ready[tok.head] = false
			d.freeChain(tok.head)
			d.mu.Unlock()
			waitTime.Add(start)
			return
		}
		d.mu.Unlock()
		waitSpins.Inc()
	}
}

/// WaitStats reports the running spin count and elapsed-time total
/// accumulated by Wait, both zero unless package stats has its
/// compile-time gates on.
func WaitStats() (spins int64, nanos int64) {
	return int64(waitSpins), int64(waitTime)
}

/// Config returns the device-specific configuration space (e.g. the
/// block device's capacity field), the MMIO window past 0x100.
func (d *Device) Config() []byte {
	return d.regs.Config
}
