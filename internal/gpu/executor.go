package gpu

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/gogpu/fractal/internal/tiling"
	"github.com/gogpu/fractal/internal/view"
)

// DefaultMaxInFlight bounds concurrent submissions when no limit is given.
const DefaultMaxInFlight = 4

// Executor submits tile dispatches to a Device with a bounded number of
// submissions in flight across all callers.
type Executor struct {
	dev      Device
	sem      *semaphore.Weighted
	limit    int
	inFlight atomic.Int64
	peak     atomic.Int64
	total    atomic.Uint64
}

// NewExecutor wraps dev. maxInFlight <= 0 uses DefaultMaxInFlight.
func NewExecutor(dev Device, maxInFlight int) *Executor {
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}
	return &Executor{
		dev:   dev,
		sem:   semaphore.NewWeighted(int64(maxInFlight)),
		limit: maxInFlight,
	}
}

// Device returns the wrapped device.
func (e *Executor) Device() Device { return e.dev }

// MaxInFlight returns the submission bound.
func (e *Executor) MaxInFlight() int { return e.limit }

// Execute runs one dispatch once a submission slot is free.
// Waiting for a slot is abandoned when ctx is done; a dispatch that has
// started runs to completion.
func (e *Executor) Execute(ctx context.Context, p Program, u view.Uniforms, sample uint32) ([]byte, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.sem.Release(1)

	n := e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	for {
		peak := e.peak.Load()
		if n <= peak || e.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	e.total.Add(1)
	return e.dev.Execute(ctx, p, u, sample)
}

// RunTile renders every dispatch of one tile and returns the sample
// buffers indexed by sample. Samples are submitted concurrently; the first
// error cancels the rest.
func (e *Executor) RunTile(ctx context.Context, p Program, u view.Uniforms, dispatches []tiling.Dispatch) ([][]byte, error) {
	out := make([][]byte, len(dispatches))
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range dispatches {
		g.Go(func() error {
			buf, err := e.Execute(gctx, p, u, d.Sample)
			if err != nil {
				return err
			}
			if want := d.Tile.ByteSize(); len(buf) != want {
				return &DeviceError{Op: "execute", Err: fmt.Errorf("tile returned %d bytes, want %d", len(buf), want)}
			}
			out[i] = buf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(dispatches) > 0 {
		t := dispatches[0].Tile
		slogger().Debug("tile rendered", "x", t.X, "y", t.Y, "w", t.Width, "h", t.Height, "samples", len(dispatches))
	}
	return out, nil
}

// ExecutorStats reports submission counters.
type ExecutorStats struct {
	// InFlight is the number of dispatches currently submitted.
	InFlight int
	// Peak is the largest InFlight value observed.
	Peak int
	// Dispatches counts every dispatch submitted.
	Dispatches uint64
}

// Stats returns a snapshot of the submission counters.
func (e *Executor) Stats() ExecutorStats {
	return ExecutorStats{
		InFlight:   int(e.inFlight.Load()),
		Peak:       int(e.peak.Load()),
		Dispatches: e.total.Load(),
	}
}
