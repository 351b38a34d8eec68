package composite

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/gogpu/fractal/internal/tiling"
)

// Compositor errors.
var (
	ErrUnknownTile   = errors.New("composite: tile not in plan")
	ErrDuplicateTile = errors.New("composite: tile already stitched")
)

// Compositor assembles one output image from tiles that may finish in any
// order. It is safe for concurrent use.
type Compositor struct {
	mu    sync.Mutex
	dst   *image.RGBA
	index map[image.Point]int
	tiles []tiling.Tile
	done  []bool
	count int
}

// NewCompositor returns a compositor writing into dst.
func NewCompositor(dst *image.RGBA) *Compositor {
	return &Compositor{dst: dst}
}

// Expect sets the planned tiles and clears any progress.
func (c *Compositor) Expect(tiles []tiling.Tile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tiles = tiles
	c.index = make(map[image.Point]int, len(tiles))
	for i, t := range tiles {
		c.index[image.Pt(t.X, t.Y)] = i
	}
	c.done = make([]bool, len(tiles))
	c.count = 0
}

// Add averages the samples of tile and stitches the result into the
// output. It returns the number of stitched tiles and the planned total.
func (c *Compositor) Add(tile tiling.Tile, samples [][]byte) (done, total int, err error) {
	c.mu.Lock()
	i, ok := c.index[image.Pt(tile.X, tile.Y)]
	done, total = c.count, len(c.tiles)
	if !ok || c.tiles[i] != tile {
		c.mu.Unlock()
		return done, total, fmt.Errorf("%w: %v", ErrUnknownTile, tile.Rect())
	}
	if c.done[i] {
		c.mu.Unlock()
		return done, total, fmt.Errorf("%w: %v", ErrDuplicateTile, tile.Rect())
	}
	// Reserve the slot so a concurrent duplicate is rejected while this
	// tile is being averaged.
	c.done[i] = true
	c.mu.Unlock()

	pixels, err := Accumulate(samples)
	if err == nil {
		err = Stitch(c.dst, tile, pixels)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.done[i] = false
		return c.count, len(c.tiles), err
	}
	c.count++
	return c.count, len(c.tiles), nil
}

// Complete reports whether every planned tile has been stitched.
func (c *Compositor) Complete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tiles) > 0 && c.count == len(c.tiles)
}

// Image returns the output image.
func (c *Compositor) Image() *image.RGBA {
	return c.dst
}
