// Package composite turns per-tile sample buffers into one output image.
//
// Samples of a tile are averaged with Accumulate, the result is copied into
// the output at the tile origin with Stitch, and a Compositor tracks which
// planned tiles have arrived so that completion can be detected regardless
// of the order in which tiles finish.
package composite
