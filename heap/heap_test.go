package heap

import (
	"testing"

	"mem"
	"vm"
)

func setupHeap(t *testing.T) *Heap_t {
	t.Helper()
	mem.Phys_init(4096)
	as, err := vm.CreateAddressSpace(vm.Amd64)
	if err != 0 {
		t.Fatalf("CreateAddressSpace failed: %v", err)
	}
	return Init(as)
}

func TestMallocReturnsWritableMemory(t *testing.T) {
	h := setupHeap(t)
	addr, err := h.Malloc(100)
	if err != 0 {
		t.Fatalf("Malloc failed: %v", err)
	}
	if addr%8 != 0 {
		t.Fatalf("Malloc address %x not 8-byte aligned", addr)
	}
	buf, verr := h.as.Userdmap8(addr, true)
	if verr != 0 {
		t.Fatalf("returned address is not mapped: %v", verr)
	}
	buf[0] = 0x7
	if buf[0] != 0x7 {
		t.Fatal("write through mapped heap memory did not stick")
	}
}

func TestMallocFreeReuse(t *testing.T) {
	h := setupHeap(t)
	a, err := h.Malloc(16)
	if err != 0 {
		t.Fatalf("Malloc failed: %v", err)
	}
	h.Free(a)
	b, err := h.Malloc(16)
	if err != 0 {
		t.Fatalf("Malloc failed: %v", err)
	}
	if a != b {
		t.Fatalf("expected freed address to be reused: got %x then %x", a, b)
	}
}

func TestDoubleFreePanics(t *testing.T) {
	h := setupHeap(t)
	a, err := h.Malloc(16)
	if err != 0 {
		t.Fatalf("Malloc failed: %v", err)
	}
	h.Free(a)
	defer func() {
		if recover() == nil {
			t.Fatal("expected double free to panic")
		}
	}()
	h.Free(a)
}
