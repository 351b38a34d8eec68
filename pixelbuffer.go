package fractal

import (
	"image"
	"image/color"
)

// PixelBuffer is a finished image: RGBA8, row-major, top to bottom, with no
// padding between rows. It implements image.Image.
//
// A PixelBuffer handed out by the engine is never written again.
type PixelBuffer struct {
	width  int
	height int
	data   []uint8
}

// newPixelBuffer takes ownership of img, which must be a tightly packed
// RGBA image with its origin at (0, 0).
func newPixelBuffer(img *image.RGBA) *PixelBuffer {
	return &PixelBuffer{
		width:  img.Rect.Dx(),
		height: img.Rect.Dy(),
		data:   img.Pix,
	}
}

// Width returns the width of the buffer.
func (p *PixelBuffer) Width() int {
	return p.width
}

// Height returns the height of the buffer.
func (p *PixelBuffer) Height() int {
	return p.height
}

// Pixels returns the number of pixels.
func (p *PixelBuffer) Pixels() int {
	return p.width * p.height
}

// Data returns the raw RGBA bytes. The slice must not be modified.
func (p *PixelBuffer) Data() []uint8 {
	return p.data
}

// RGBAAt returns the pixel at (x, y), or transparent black outside the
// buffer.
func (p *PixelBuffer) RGBAAt(x, y int) color.RGBA {
	if x < 0 || x >= p.width || y < 0 || y >= p.height {
		return color.RGBA{}
	}
	i := (y*p.width + x) * 4
	return color.RGBA{R: p.data[i], G: p.data[i+1], B: p.data[i+2], A: p.data[i+3]}
}

// ToImage returns a copy of the buffer as an image.RGBA.
func (p *PixelBuffer) ToImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, p.width, p.height))
	copy(img.Pix, p.data)
	return img
}

// At implements the image.Image interface.
func (p *PixelBuffer) At(x, y int) color.Color {
	return p.RGBAAt(x, y)
}

// Bounds implements the image.Image interface.
func (p *PixelBuffer) Bounds() image.Rectangle {
	return image.Rect(0, 0, p.width, p.height)
}

// ColorModel implements the image.Image interface.
func (p *PixelBuffer) ColorModel() color.Model {
	return color.RGBAModel
}
