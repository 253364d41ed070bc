package ports

import "testing"

func TestAllocateFragmentedGap(t *testing.T) {
	existing := []Range{{3000, 3099}, {3200, 3299}}
	got, err := Allocate(existing, 100, 3000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Range{3100, 3199}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestAllocateEmptySetStartsAtBase(t *testing.T) {
	got, err := Allocate(nil, 10, 4000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Start != 4000 || got.End != 4009 {
		t.Fatalf("got %+v", got)
	}
}

func TestAllocateNoOverlap(t *testing.T) {
	existing := []Range{{5000, 5009}}
	got, err := Allocate(existing, 10, 5000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Start < 5010 {
		t.Fatalf("range %+v overlaps existing", got)
	}
}

func TestAllocateInvalidCount(t *testing.T) {
	if _, err := Allocate(nil, 0, 3000); err == nil {
		t.Fatal("expected error for k=0")
	}
}

func TestAllocateExhaustedNearMax(t *testing.T) {
	existing := []Range{{1, maxPort}}
	if _, err := Allocate(existing, 10, 1); err == nil {
		t.Fatal("expected PortRangeExhausted")
	}
}

func TestAllocateTailNearMaxBoundary(t *testing.T) {
	got, err := Allocate(nil, 10, maxPort-9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.End != maxPort {
		t.Fatalf("got %+v, want end=%d", got, maxPort)
	}
	if _, err := Allocate(nil, 10, maxPort-8); err == nil {
		t.Fatal("expected PortRangeExhausted one port over the boundary")
	}
}
