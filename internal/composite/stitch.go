package composite

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/gogpu/fractal/internal/tiling"
)

// Stitch copies a tile's RGBA8 pixels into dst at the tile origin.
// Pixels outside dst are clipped.
func Stitch(dst *image.RGBA, tile tiling.Tile, pixels []byte) error {
	if len(pixels) != tile.ByteSize() {
		return fmt.Errorf("composite: tile %v has %d bytes, want %d", tile.Rect(), len(pixels), tile.ByteSize())
	}
	src := &image.RGBA{
		Pix:    pixels,
		Stride: tile.Width * 4,
		Rect:   image.Rect(0, 0, tile.Width, tile.Height),
	}
	draw.Draw(dst, tile.Rect(), src, image.Point{}, draw.Src)
	return nil
}
