package tiling

import (
	"image"
	"testing"
)

func TestPlanPartition(t *testing.T) {
	tests := []struct {
		w, h, maxDim int
	}{
		{1, 1, 1},
		{800, 600, 512},
		{1024, 1024, 512},
		{1000, 7, 3},
		{64, 65, 64},
		{3, 300, 1000},
		{257, 129, 16},
	}

	for _, tt := range tests {
		tiles := Plan(tt.w, tt.h, tt.maxDim)
		covered := make([]int, tt.w*tt.h)
		for _, tile := range tiles {
			if tile.Width <= 0 || tile.Height <= 0 {
				t.Fatalf("Plan(%d,%d,%d) produced empty tile %+v", tt.w, tt.h, tt.maxDim, tile)
			}
			if tile.Width > tt.maxDim || tile.Height > tt.maxDim {
				t.Errorf("Plan(%d,%d,%d): tile %+v exceeds max dimension", tt.w, tt.h, tt.maxDim, tile)
			}
			if !tile.Rect().In(image.Rect(0, 0, tt.w, tt.h)) {
				t.Fatalf("Plan(%d,%d,%d): tile %+v outside image", tt.w, tt.h, tt.maxDim, tile)
			}
			for y := tile.Y; y < tile.Y+tile.Height; y++ {
				for x := tile.X; x < tile.X+tile.Width; x++ {
					covered[y*tt.w+x]++
				}
			}
		}
		for i, c := range covered {
			if c != 1 {
				t.Fatalf("Plan(%d,%d,%d): pixel (%d,%d) covered %d times, want 1",
					tt.w, tt.h, tt.maxDim, i%tt.w, i/tt.w, c)
			}
		}
	}
}

func TestPlanOrderAndSizes(t *testing.T) {
	tiles := Plan(800, 600, 512)
	want := []Tile{
		{X: 0, Y: 0, Width: 512, Height: 512},
		{X: 512, Y: 0, Width: 288, Height: 512},
		{X: 0, Y: 512, Width: 512, Height: 88},
		{X: 512, Y: 512, Width: 288, Height: 88},
	}
	if len(tiles) != len(want) {
		t.Fatalf("len(Plan) = %d, want %d", len(tiles), len(want))
	}
	total := 0
	for i := range want {
		if tiles[i] != want[i] {
			t.Errorf("tile[%d] = %+v, want %+v", i, tiles[i], want[i])
		}
		total += tiles[i].Pixels()
	}
	if total != 480000 {
		t.Errorf("total pixels = %d, want 480000", total)
	}
}

func TestPlanExactMultiple(t *testing.T) {
	for _, tile := range Plan(1024, 512, 256) {
		if tile.Width != 256 || tile.Height != 256 {
			t.Errorf("tile %+v, want 256x256", tile)
		}
	}
}

func TestPlanInvalid(t *testing.T) {
	tests := [][3]int{{0, 10, 10}, {10, 0, 10}, {10, 10, 0}, {-1, 10, 10}}
	for _, tt := range tests {
		if got := Plan(tt[0], tt[1], tt[2]); got != nil {
			t.Errorf("Plan(%v) = %v, want nil", tt, got)
		}
	}
}

func TestGridTileAt(t *testing.T) {
	g := NewGrid(800, 600, 512)
	if g.Count() != 4 {
		t.Fatalf("Count() = %d, want 4", g.Count())
	}
	cols, rows := g.Dimensions()
	if cols != 2 || rows != 2 {
		t.Errorf("Dimensions() = %d,%d, want 2,2", cols, rows)
	}

	tile, ok := g.TileAt(700, 550)
	if !ok {
		t.Fatal("TileAt(700,550) not found")
	}
	if tile.X != 512 || tile.Y != 512 || !tile.Contains(700, 550) {
		t.Errorf("TileAt(700,550) = %+v", tile)
	}
	if _, ok := g.TileAt(800, 0); ok {
		t.Error("TileAt(800,0) found a tile outside the image")
	}
	if g.Index(2, 0) != -1 {
		t.Errorf("Index(2,0) = %d, want -1", g.Index(2, 0))
	}

	if empty := NewGrid(0, 10, 10); empty.Count() != 0 {
		t.Errorf("empty grid Count() = %d, want 0", empty.Count())
	}
}
