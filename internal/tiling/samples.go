package tiling

import "math"

// Offset is a pixel-space jitter in [-0.5, 0.5) on each axis.
type Offset [2]float32

// Dispatch is one sub-pass of a tile: the tile geometry plus the sample it
// renders.
type Dispatch struct {
	Tile   Tile
	Sample uint32
	Offset Offset
}

// Offsets returns n deterministic sample offsets.
//
// A single sample sits on the pixel centre. Perfect squares use an axial
// grid of sqrt(n) x sqrt(n) cell centres. Other counts use the Halton(2,3)
// sequence. n <= 0 returns nil.
func Offsets(n int) []Offset {
	switch {
	case n <= 0:
		return nil
	case n == 1:
		return []Offset{{0, 0}}
	}

	if axial := int(math.Sqrt(float64(n))); axial*axial == n {
		step := 1 / float32(axial)
		out := make([]Offset, 0, n)
		for y := range axial {
			for x := range axial {
				out = append(out, Offset{
					float32(x)*step + step/2 - 0.5,
					float32(y)*step + step/2 - 0.5,
				})
			}
		}
		return out
	}

	out := make([]Offset, n)
	for i := range out {
		out[i] = Offset{
			float32(radicalInverse(i+1, 2) - 0.5),
			float32(radicalInverse(i+1, 3) - 0.5),
		}
	}
	return out
}

// Dispatches expands tile into one dispatch per offset.
func Dispatches(tile Tile, offsets []Offset) []Dispatch {
	out := make([]Dispatch, len(offsets))
	for i, off := range offsets {
		out[i] = Dispatch{Tile: tile, Sample: uint32(i), Offset: off}
	}
	return out
}

func radicalInverse(i, base int) float64 {
	inv := 1 / float64(base)
	f := inv
	r := 0.0
	for i > 0 {
		r += f * float64(i%base)
		i /= base
		f *= inv
	}
	return r
}
