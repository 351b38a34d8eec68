package gpu

import (
	"context"

	"github.com/gogpu/fractal/internal/tiling"
	"github.com/gogpu/fractal/internal/view"
)

// Limits describes what a device can render in one dispatch.
type Limits struct {
	// MaxTileDim is the largest tile edge, in pixels, the device accepts.
	MaxTileDim int
}

// Smoothing selects how an escape iteration count becomes continuous.
type Smoothing uint8

// Smoothing algorithms.
const (
	SmoothNone Smoothing = iota + 1
	SmoothLinearIntersection
	SmoothLogarithmicDistance
)

// Kernel is the numeric description of a fractal program.
// Devices that run WGSL ignore it; the software device evaluates it.
type Kernel struct {
	Julia         bool
	Seed          complex64
	Iterations    uint32
	RadiusSquared float32
	Smoothing     Smoothing

	// LogDivisor and LogAddend parameterize SmoothLogarithmicDistance.
	LogDivisor float32
	LogAddend  float32

	// Offsets is the sample jitter table, indexed by sample.
	Offsets []tiling.Offset
}

// ProgramSource is everything a device needs to build a program.
type ProgramSource struct {
	Label  string
	WGSL   string
	Kernel Kernel
}

// Program is a compiled pipeline owned by the device that created it.
type Program interface {
	Label() string
}

// Device runs fractal programs one tile at a time.
//
// Implementations must be safe for concurrent use; Execute may be called
// from several goroutines at once.
type Device interface {
	// Limits reports the device's tile size limit.
	Limits() Limits

	// CreateProgram compiles src. Rejection by the backend compiler is a
	// *DeviceError with Lost false.
	CreateProgram(src ProgramSource) (Program, error)

	// DestroyProgram releases p. p must not be in use.
	DestroyProgram(p Program)

	// Execute renders one sample of the tile described by u and returns
	// its RGBA8 pixels, row-major, ImageSize[0]*ImageSize[1]*4 bytes.
	// It blocks until the pixels are back in host memory.
	Execute(ctx context.Context, p Program, u view.Uniforms, sample uint32) ([]byte, error)

	// Close releases the device. Programs must be destroyed first.
	Close() error
}

func tileSize(u view.Uniforms) (w, h int) {
	return int(u.ImageSize[0]), int(u.ImageSize[1])
}
