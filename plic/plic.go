// Package plic implements the external interrupt controller's
// claim/dispatch/complete path (§4.8: "External (PLIC): claim ->
// dispatch by IRQ number to virtio transport -> complete"). Grounded on
// original_source/kernel/src/plic.rs, which pokes four fixed MMIO
// registers at a hardcoded physical base; this hosted kernel has no
// memory-mapped PLIC to poke, so the four register operations
// (enable-all, per-hart priority threshold, claim, complete) are
// replaced by a pending-IRQ queue that a virtio device's interrupt path
// feeds with Raise instead of latching a real wire.
package plic

import "sync"

// NumIRQ bounds the IRQ line range, matching the original's "for irq in
// 0..=8" enable loop.
const NumIRQ = 9

// device is the subset of virtio.Device the PLIC needs to route a
// claimed interrupt to its owner.
type device interface {
	Poll()
}

var state struct {
	sync.Mutex
	handlers [NumIRQ]device
	pending  []uint32
}

/// Register associates irq with the device that raises it, so a later
/// Claim can be routed without the trap path knowing about every
/// device on the bus.
func Register(irq uint32, dev device) {
	state.Lock()
	defer state.Unlock()
	state.handlers[irq] = dev
}

/// Raise marks irq pending. A hosted virtio device calls this in place
/// of driving a physical interrupt line.
func Raise(irq uint32) {
	state.Lock()
	defer state.Unlock()
	state.pending = append(state.pending, irq)
}

/// Claim returns the next pending IRQ in arrival order and true, or
/// false if none is pending, standing in for a read of the claim
/// register.
func Claim() (uint32, bool) {
	state.Lock()
	defer state.Unlock()
	if len(state.pending) == 0 {
		return 0, false
	}
	irq := state.pending[0]
	state.pending = state.pending[1:]
	return irq, true
}

/// Dispatch polls the device registered for irq, the "dispatch by IRQ
/// number to virtio transport" step between claim and complete.
func Dispatch(irq uint32) {
	state.Lock()
	dev := state.handlers[irq]
	state.Unlock()
	if dev != nil {
		dev.Poll()
	}
}

/// Complete acknowledges irq, standing in for the write to the
/// completion register. Pending entries are already removed at Claim
/// time, so this hosted model has nothing further to clear; it exists
/// so call sites mirror the original's claim/dispatch/complete shape.
func Complete(irq uint32) {}
