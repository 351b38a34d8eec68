// Package view maps output pixels to complex-plane coordinates.
//
// The plane's y axis grows downward with the image rows, so pixel (0, 0) is
// the top-left corner of the viewport.
package view

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/gogpu/fractal/internal/tiling"
)

// ErrInvalidViewport is returned for viewports with non-positive dimensions
// or a non-positive or non-finite scale.
var ErrInvalidViewport = errors.New("fractal: invalid viewport")

// UniformSize is the byte size of the encoded uniform block.
const UniformSize = 32

// Viewport describes the region of the complex plane covered by an image.
type Viewport struct {
	// Center is the plane coordinate at the middle of the image.
	Center complex128

	// Scale is the number of plane units per output pixel.
	Scale float64

	// Width and Height are the output dimensions in pixels.
	Width, Height int
}

// Validate reports whether the viewport can be rendered.
func (v Viewport) Validate() error {
	if v.Width <= 0 || v.Height <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalidViewport, v.Width, v.Height)
	}
	if !(v.Scale > 0) || math.IsInf(v.Scale, 0) {
		return fmt.Errorf("%w: scale %v", ErrInvalidViewport, v.Scale)
	}
	if math.IsNaN(real(v.Center)) || math.IsNaN(imag(v.Center)) ||
		math.IsInf(real(v.Center), 0) || math.IsInf(imag(v.Center), 0) {
		return fmt.Errorf("%w: center %v", ErrInvalidViewport, v.Center)
	}
	return nil
}

// Uniforms is the per-tile view block read by the shader.
type Uniforms struct {
	ImageSize  [2]float64
	ImageScale [2]float64
	PlaneStart [2]float64
}

// Map computes the uniforms for tile within the viewport.
//
// PlaneStart is the plane coordinate of the tile's pixel (0, 0) corner,
// derived from the image origin so adjacent tiles agree on shared edges.
func Map(vp Viewport, tile tiling.Tile) (Uniforms, error) {
	if err := vp.Validate(); err != nil {
		return Uniforms{}, err
	}
	if tile.Width <= 0 || tile.Height <= 0 {
		return Uniforms{}, fmt.Errorf("%w: tile %dx%d", ErrInvalidViewport, tile.Width, tile.Height)
	}
	originX := real(vp.Center) - float64(vp.Width)/2*vp.Scale
	originY := imag(vp.Center) - float64(vp.Height)/2*vp.Scale
	return Uniforms{
		ImageSize:  [2]float64{float64(tile.Width), float64(tile.Height)},
		ImageScale: [2]float64{vp.Scale, vp.Scale},
		PlaneStart: [2]float64{
			originX + float64(tile.X)*vp.Scale,
			originY + float64(tile.Y)*vp.Scale,
		},
	}, nil
}

// PlaneAt returns the plane coordinate sampled for the tile-local pixel
// (x, y) with the given jitter. Fragment positions sit at pixel centres,
// so the mapping is PlaneStart + (p - 0.5 + jitter) * ImageScale with
// p = (x+0.5, y+0.5).
func (u Uniforms) PlaneAt(x, y int, jitter tiling.Offset) complex128 {
	px := float64(x) + float64(jitter[0])
	py := float64(y) + float64(jitter[1])
	return complex(
		u.PlaneStart[0]+px*u.ImageScale[0],
		u.PlaneStart[1]+py*u.ImageScale[1],
	)
}

// Bytes encodes the uniform block for the given sample index.
//
// Layout (std140, little-endian):
//
//	offset  0: vec2<f32> image_size
//	offset  8: vec2<f32> image_scale
//	offset 16: vec2<f32> plane_start
//	offset 24: u32       sample_index
//	offset 28: u32       padding
func (u Uniforms) Bytes(sample uint32) []byte {
	buf := make([]byte, UniformSize)
	put := func(off int, v float64) {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(float32(v)))
	}
	put(0, u.ImageSize[0])
	put(4, u.ImageSize[1])
	put(8, u.ImageScale[0])
	put(12, u.ImageScale[1])
	put(16, u.PlaneStart[0])
	put(20, u.PlaneStart[1])
	binary.LittleEndian.PutUint32(buf[24:], sample)
	return buf
}
