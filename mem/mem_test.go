package mem

import "testing"

func TestAllocFreeRoundTrip(t *testing.T) {
	phys := Phys_init(64)
	free0, _ := phys.Pgcount()

	pg, pa, ok := phys.Refpg_new()
	if !ok {
		t.Fatal("expected a free page")
	}
	if pg == nil || pa == 0 {
		t.Fatal("expected non-nil page and nonzero address")
	}
	for _, w := range pg {
		if w != 0 {
			t.Fatalf("Refpg_new should zero its page, got %v", w)
		}
	}
	free1, _ := phys.Pgcount()
	if free1 != free0-1 {
		t.Fatalf("free count = %d, want %d", free1, free0-1)
	}

	phys.Refdown(pa)
	free2, _ := phys.Pgcount()
	if free2 != free0 {
		t.Fatalf("free count after Refdown = %d, want %d", free2, free0)
	}
}

func TestAllocExhaustion(t *testing.T) {
	phys := Phys_init(4)
	free, _ := phys.Pgcount()
	got := 0
	for {
		_, _, ok := phys.Refpg_new_nozero()
		if !ok {
			break
		}
		got++
	}
	if got != free {
		t.Fatalf("allocated %d pages, want %d", got, free)
	}
}

func TestRefdownDoubleFreePanics(t *testing.T) {
	phys := Phys_init(8)
	_, pa, ok := phys.Refpg_new()
	if !ok {
		t.Fatal("expected a free page")
	}
	phys.Refdown(pa)
	defer func() {
		if recover() == nil {
			t.Fatal("expected double free of a physical frame to panic")
		}
	}()
	phys.Refdown(pa)
}

func TestDmapWritesPersist(t *testing.T) {
	phys := Phys_init(8)
	_, pa, ok := phys.Refpg_new()
	if !ok {
		t.Fatal("expected a free page")
	}
	bpg := phys.Dmap8(pa)
	bpg[0] = 0xAB
	bpg2 := phys.Dmap8(pa)
	if bpg2[0] != 0xAB {
		t.Fatalf("Dmap8 did not observe the write made through a prior Dmap8")
	}
}
