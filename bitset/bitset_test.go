package bitset

import "testing"

func TestGetZeroElementCoversEveryIndexExactlyOnce(t *testing.T) {
	const n = 8192
	s := New(n)
	seen := make([]bool, n)
	for i := 0; i < n; i++ {
		idx, ok := s.GetZeroElement()
		if !ok {
			t.Fatalf("set reported full after only %d allocations", i)
		}
		if idx < 0 || idx >= n {
			t.Fatalf("index %d out of range", idx)
		}
		if seen[idx] {
			t.Fatalf("index %d returned twice", idx)
		}
		seen[idx] = true
	}
	if _, ok := s.GetZeroElement(); ok {
		t.Fatalf("expected set to be full")
	}
	for i, v := range seen {
		if !v {
			t.Fatalf("index %d never returned", i)
		}
	}
}

func TestSetClearRoundTrip(t *testing.T) {
	s := New(16)
	idx, ok := s.GetZeroElement()
	if !ok {
		t.Fatal("expected free slot")
	}
	if !s.Get(idx) {
		t.Fatalf("slot %d should be marked set", idx)
	}
	if got := s.CountFree(); got != 15 {
		t.Fatalf("CountFree = %d, want 15", got)
	}
	s.Set(idx, false)
	if s.Get(idx) {
		t.Fatalf("slot %d should be clear", idx)
	}
	if got := s.CountFree(); got != 16 {
		t.Fatalf("CountFree = %d, want 16", got)
	}
	idx2, ok := s.GetZeroElement()
	if !ok || idx2 != idx {
		t.Fatalf("expected freed slot %d to be reused, got %d ok=%v", idx, idx2, ok)
	}
}

func TestStaleStackEntriesAreSkipped(t *testing.T) {
	s := New(4)
	a, _ := s.GetZeroElement()
	b, _ := s.GetZeroElement()
	s.Set(b, false)
	s.Set(a, false)
	s.Set(a, true)
	idx, ok := s.GetZeroElement()
	if !ok {
		t.Fatal("expected a free slot")
	}
	if idx != b {
		t.Fatalf("expected stale entry for %d to be skipped, got %d", a, idx)
	}
}

func TestBytesRoundTrip(t *testing.T) {
	s := New(20)
	for i := 0; i < 7; i++ {
		if _, ok := s.GetZeroElement(); !ok {
			t.Fatal("expected free slot")
		}
	}
	data := s.Bytes()
	if len(data) != SizeBytes(20) {
		t.Fatalf("len(data) = %d, want %d", len(data), SizeBytes(20))
	}
	s2 := New(20)
	s2.LoadBytes(data)
	for i := 0; i < 20; i++ {
		if s.Get(i) != s2.Get(i) {
			t.Fatalf("bit %d mismatch after LoadBytes", i)
		}
	}
	if s2.CountFree() != s.CountFree() {
		t.Fatalf("CountFree mismatch: %d vs %d", s2.CountFree(), s.CountFree())
	}
}

func TestMustFreeDoubleFreePanics(t *testing.T) {
	s := New(4)
	idx, ok := s.GetZeroElement()
	if !ok {
		t.Fatal("expected free slot")
	}
	s.MustFree(idx)
	defer func() {
		if recover() == nil {
			t.Fatal("expected double free to panic")
		}
	}()
	s.MustFree(idx)
}

func TestFullSetReportsNotOk(t *testing.T) {
	s := New(1)
	if _, ok := s.GetZeroElement(); !ok {
		t.Fatal("expected the single slot to be available")
	}
	if _, ok := s.GetZeroElement(); ok {
		t.Fatal("expected set of size 1 to be full after one allocation")
	}
}
