package gpu

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/gogpu/fractal/internal/parallel"
	"github.com/gogpu/fractal/internal/tiling"
	"github.com/gogpu/fractal/internal/view"
)

// DefaultSoftwareTileDim is the tile limit of a SoftwareDevice created
// with maxTileDim <= 0.
const DefaultSoftwareTileDim = 256

// SoftwareDevice evaluates fractal kernels on the CPU.
//
// It follows the same pixel mapping and float32 arithmetic as the bundled
// shaders, so it serves both as a fallback when no adapter is present and
// as a deterministic device for tests. Rows of a tile are spread over a
// WorkerPool.
type SoftwareDevice struct {
	maxTileDim int
	pool       *parallel.WorkerPool
	closed     atomic.Bool
}

type softwareProgram struct {
	label  string
	kernel Kernel
	owner  *SoftwareDevice
}

func (p *softwareProgram) Label() string { return p.label }

// NewSoftwareDevice creates a CPU device. workers <= 0 uses GOMAXPROCS.
func NewSoftwareDevice(maxTileDim, workers int) *SoftwareDevice {
	if maxTileDim <= 0 {
		maxTileDim = DefaultSoftwareTileDim
	}
	return &SoftwareDevice{
		maxTileDim: maxTileDim,
		pool:       parallel.NewWorkerPool(workers),
	}
}

func (d *SoftwareDevice) Limits() Limits {
	return Limits{MaxTileDim: d.maxTileDim}
}

func (d *SoftwareDevice) CreateProgram(src ProgramSource) (Program, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	k := src.Kernel
	if k.Iterations == 0 || k.Smoothing == 0 || len(k.Offsets) == 0 {
		return nil, &DeviceError{Op: "create program", Err: fmt.Errorf("incomplete kernel for %q", src.Label)}
	}
	k.Offsets = append([]tiling.Offset(nil), k.Offsets...)
	slogger().Debug("software program created", "label", src.Label)
	return &softwareProgram{label: src.Label, kernel: k, owner: d}, nil
}

func (d *SoftwareDevice) DestroyProgram(Program) {}

func (d *SoftwareDevice) Execute(ctx context.Context, p Program, u view.Uniforms, sample uint32) ([]byte, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	prog, ok := p.(*softwareProgram)
	if !ok || prog.owner != d {
		return nil, ErrForeignProgram
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w, h := tileSize(u)
	if w <= 0 || h <= 0 || w > d.maxTileDim || h > d.maxTileDim {
		return nil, &DeviceError{Op: "execute", Err: fmt.Errorf("tile %dx%d exceeds limit %d", w, h, d.maxTileDim)}
	}

	k := &prog.kernel
	jitter := k.Offsets[int(sample)%len(k.Offsets)]
	out := make([]byte, w*h*4)
	d.pool.Range(h, func(y int) {
		row := out[y*w*4 : (y+1)*w*4]
		for x := range w {
			loc := u.PlaneAt(x, y, jitter)
			c := k.Color(k.Value(float32(real(loc)), float32(imag(loc))))
			copy(row[x*4:], c[:])
		}
	})
	return out, nil
}

// Close stops the worker pool. Close is safe to call multiple times.
func (d *SoftwareDevice) Close() error {
	if d.closed.CompareAndSwap(false, true) {
		d.pool.Close()
	}
	return nil
}
