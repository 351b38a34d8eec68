package tiling

// Grid indexes the tiles of a plan by grid position.
//
// Tiles are stored in a flat row-major slice: index = row*cols + col.
// Grid is immutable after creation and safe for concurrent reads.
type Grid struct {
	tiles  []Tile
	cols   int
	rows   int
	maxDim int
	width  int
	height int
}

// NewGrid plans a width x height image and indexes the result.
// Non-positive arguments produce an empty grid.
func NewGrid(width, height, maxDim int) *Grid {
	tiles := Plan(width, height, maxDim)
	if tiles == nil {
		return &Grid{}
	}
	return &Grid{
		tiles:  tiles,
		cols:   (width + maxDim - 1) / maxDim,
		rows:   (height + maxDim - 1) / maxDim,
		maxDim: maxDim,
		width:  width,
		height: height,
	}
}

// Tiles returns the planned tiles in row-major order.
// The slice must not be modified.
func (g *Grid) Tiles() []Tile {
	return g.tiles
}

// Count returns the number of tiles.
func (g *Grid) Count() int {
	return len(g.tiles)
}

// Dimensions returns the number of tile columns and rows.
func (g *Grid) Dimensions() (cols, rows int) {
	return g.cols, g.rows
}

// Index returns the row-major index of the tile at grid position (col, row),
// or -1 if the position is outside the grid.
func (g *Grid) Index(col, row int) int {
	if col < 0 || col >= g.cols || row < 0 || row >= g.rows {
		return -1
	}
	return row*g.cols + col
}

// TileAt returns the tile containing output pixel (px, py).
func (g *Grid) TileAt(px, py int) (Tile, bool) {
	if px < 0 || px >= g.width || py < 0 || py >= g.height {
		return Tile{}, false
	}
	return g.tiles[g.Index(px/g.maxDim, py/g.maxDim)], true
}
