// Package tinfo tracks per-hart trap state: whether a given hart is
// currently executing inside the kernel trap handler, and the last fault
// address it saw. The teacher's Tnote_t is a per-goroutine thread note
// addressed through a runtime-patched per-g pointer (runtime.Gptr), a
// mechanism this kernel's single-threaded-user-process model (no
// user-space threading, a stated Non-goal) has no use for; what the
// trap/scheduler path (§4.8) actually needs is per-hart, not per-thread,
// bookkeeping, so this package is reshaped to a small fixed array
// indexed by hart id instead.
package tinfo

import (
	"sync"

	"defs"
)

/// Hart_t is one hart's trap bookkeeping.
type Hart_t struct {
	mu        sync.Mutex
	inTrap    bool
	lastFault uintptr
	haveFault bool
}

/// Table holds one Hart_t per hart, sized by defs.NHART.
var Table [defs.NHART]Hart_t

/// EnterTrap marks hart as currently inside the trap handler. Panics if
/// called while already marked, since the trap path never nests (§5).
func EnterTrap(hart int) {
	h := &Table[hart]
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inTrap {
		panic("tinfo: nested trap entry on same hart")
	}
	h.inTrap = true
}

/// ExitTrap clears hart's in-trap marker.
func ExitTrap(hart int) {
	h := &Table[hart]
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.inTrap {
		panic("tinfo: ExitTrap without EnterTrap")
	}
	h.inTrap = false
}

/// InTrap reports whether hart is currently inside the trap handler.
func InTrap(hart int) bool {
	h := &Table[hart]
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inTrap
}

/// RecordFault remembers addr as the last faulting address seen on
/// hart, for the panic message a fatal user-mode fault or an
/// in-kernel-mode fault (§7) prints.
func RecordFault(hart int, addr uintptr) {
	h := &Table[hart]
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastFault = addr
	h.haveFault = true
}

/// LastFault returns the most recently recorded fault address for hart.
func LastFault(hart int) (uintptr, bool) {
	h := &Table[hart]
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastFault, h.haveFault
}
