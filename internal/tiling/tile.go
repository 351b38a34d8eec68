// Package tiling partitions an output image into device-sized tiles and
// expands tiles into multisample sub-dispatches.
//
// Tiles are emitted row-major, left to right and top to bottom. Every tile is
// at most maxDim pixels on each axis; only the last column and the last row
// may be smaller than the others, never larger.
package tiling

import "image"

// Tile is a rectangular region of the output image in pixel coordinates.
type Tile struct {
	// X and Y are the pixel origin of the tile in the output image.
	X, Y int

	// Width and Height are the tile dimensions in pixels.
	Width, Height int
}

// Rect returns the tile as an image rectangle in output coordinates.
func (t Tile) Rect() image.Rectangle {
	return image.Rect(t.X, t.Y, t.X+t.Width, t.Y+t.Height)
}

// Pixels returns the number of pixels covered by the tile.
func (t Tile) Pixels() int {
	return t.Width * t.Height
}

// ByteSize returns the size of the tile's RGBA8 pixel data.
func (t Tile) ByteSize() int {
	return t.Width * t.Height * 4
}

// Contains reports whether the output pixel (px, py) lies inside the tile.
func (t Tile) Contains(px, py int) bool {
	return px >= t.X && px < t.X+t.Width &&
		py >= t.Y && py < t.Y+t.Height
}

// Plan splits a width x height image into tiles no larger than maxDim on
// either axis. It returns nil if any argument is not positive.
func Plan(width, height, maxDim int) []Tile {
	if width <= 0 || height <= 0 || maxDim <= 0 {
		return nil
	}
	cols := (width + maxDim - 1) / maxDim
	rows := (height + maxDim - 1) / maxDim

	tiles := make([]Tile, 0, cols*rows)
	for y := 0; y < height; y += maxDim {
		h := min(maxDim, height-y)
		for x := 0; x < width; x += maxDim {
			tiles = append(tiles, Tile{
				X:      x,
				Y:      y,
				Width:  min(maxDim, width-x),
				Height: h,
			})
		}
	}
	return tiles
}
