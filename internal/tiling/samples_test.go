package tiling

import "testing"

func TestOffsetsSingle(t *testing.T) {
	got := Offsets(1)
	if len(got) != 1 || got[0] != (Offset{0, 0}) {
		t.Errorf("Offsets(1) = %v, want [[0 0]]", got)
	}
	if Offsets(0) != nil {
		t.Error("Offsets(0) should be nil")
	}
}

func TestOffsetsGrid(t *testing.T) {
	got := Offsets(4)
	want := []Offset{
		{-0.25, -0.25}, {0.25, -0.25},
		{-0.25, 0.25}, {0.25, 0.25},
	}
	if len(got) != len(want) {
		t.Fatalf("len(Offsets(4)) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Offsets(4)[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestOffsetsDeterministicAndBounded(t *testing.T) {
	for _, n := range []int{2, 3, 5, 9, 16, 17} {
		a, b := Offsets(n), Offsets(n)
		if len(a) != n {
			t.Fatalf("len(Offsets(%d)) = %d", n, len(a))
		}
		seen := map[Offset]bool{}
		for i := range a {
			if a[i] != b[i] {
				t.Errorf("Offsets(%d)[%d] not deterministic: %v vs %v", n, i, a[i], b[i])
			}
			for _, v := range a[i] {
				if v < -0.5 || v >= 0.5 {
					t.Errorf("Offsets(%d)[%d] = %v out of range", n, i, a[i])
				}
			}
			if seen[a[i]] {
				t.Errorf("Offsets(%d) repeats %v", n, a[i])
			}
			seen[a[i]] = true
		}
	}
}

func TestDispatches(t *testing.T) {
	tile := Tile{X: 10, Y: 20, Width: 30, Height: 40}
	ds := Dispatches(tile, Offsets(4))
	if len(ds) != 4 {
		t.Fatalf("len(Dispatches) = %d, want 4", len(ds))
	}
	for i, d := range ds {
		if d.Tile != tile {
			t.Errorf("dispatch %d tile = %+v, want %+v", i, d.Tile, tile)
		}
		if d.Sample != uint32(i) {
			t.Errorf("dispatch %d sample = %d", i, d.Sample)
		}
	}
}
