package fractal

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/fractal/internal/gpu"
	"github.com/gogpu/fractal/internal/view"
	"github.com/gogpu/fractal/shader"
)

// Engine errors.
var (
	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("fractal: engine closed")

	// ErrUnknownHandle is returned for handles the engine does not know,
	// including forgotten ones.
	ErrUnknownHandle = errors.New("fractal: unknown handle")

	// ErrInvalidViewport is returned by Submit for a viewport with a
	// non-positive size or scale.
	ErrInvalidViewport = view.ErrInvalidViewport

	// ErrCancelled is the cause recorded for an explicit Cancel.
	ErrCancelled = errors.New("fractal: cancelled")

	// ErrSuperseded is the cause recorded when a newer request claims the
	// same target.
	ErrSuperseded = errors.New("fractal: superseded by a newer request")

	// ErrNotTerminal is returned by Forget for a request still in progress.
	ErrNotTerminal = errors.New("fractal: request still in progress")
)

// Viewport is the region of the complex plane to render and the size of
// the output image.
type Viewport = view.Viewport

// Request asks for one image.
type Request struct {
	Viewport Viewport
	Opts     FractalOpts

	// Target names the output buffer. A request supersedes any earlier
	// unfinished request with the same Target.
	Target string
}

// Handle identifies a submitted request. The zero Handle is never issued.
type Handle uint64

// Engine renders fractal requests on one device.
//
// Requests run asynchronously. Each request composites into a private
// buffer that is published as its target's output only when it completes,
// so a cancelled or failed request never changes what Output returns.
// All methods are safe for concurrent use.
type Engine struct {
	dev      gpu.Device
	exec     *gpu.Executor
	programs *programCache
	registry atomic.Pointer[shader.Registry]
	tileDim  int
	log      *slog.Logger

	mu      sync.Mutex
	nextID  Handle
	gens    map[Handle]*generation
	owners  map[string]*generation
	outputs map[string]*PixelBuffer
	closed  bool
	wg      sync.WaitGroup

	lost atomic.Uint64
}

// New creates an engine rendering on dev. The engine does not take
// ownership of dev; close the engine before closing the device.
func New(dev gpu.Device, opts ...Option) (*Engine, error) {
	if dev == nil {
		return nil, errors.New("fractal: nil device")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	tileDim := dev.Limits().MaxTileDim
	if tileDim <= 0 {
		return nil, fmt.Errorf("fractal: device reports max tile dimension %d", tileDim)
	}
	if o.maxTileDim > 0 && o.maxTileDim < tileDim {
		tileDim = o.maxTileDim
	}
	reg := o.registry
	if reg == nil {
		reg = shader.DefaultRegistry()
	}
	log := o.logger
	if log == nil {
		log = Logger()
	}

	e := &Engine{
		dev:      dev,
		exec:     gpu.NewExecutor(dev, o.maxInFlight),
		programs: newProgramCache(dev, o.cacheCapacity, log),
		tileDim:  tileDim,
		log:      log,
		gens:     make(map[Handle]*generation),
		owners:   make(map[string]*generation),
		outputs:  make(map[string]*PixelBuffer),
	}
	e.registry.Store(reg)
	log.Info("engine ready", "max_tile_dim", tileDim, "max_in_flight", e.exec.MaxInFlight())
	return e, nil
}

// MaxTileDim returns the tile edge the engine plans with.
func (e *Engine) MaxTileDim() int { return e.tileDim }

// Submit validates req and starts rendering it. It returns immediately;
// only an invalid viewport or invalid options fail synchronously.
//
// An unfinished request for the same Target is cancelled, and the new
// request does not start compositing until the old one has ended.
func (e *Engine) Submit(req Request) (Handle, error) {
	if err := req.Viewport.Validate(); err != nil {
		return 0, err
	}
	if err := req.Opts.Validate(); err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, ErrClosed
	}
	e.nextID++
	g := newGeneration(e.nextID, req)
	// The previous owner is Cancelled before g becomes visible, and it
	// never publishes its back buffer after that.
	if prev := e.owners[req.Target]; prev != nil {
		e.cancelLocked(prev, ErrSuperseded)
	}
	e.owners[req.Target] = g
	e.gens[g.id] = g

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(g)
	}()
	e.log.Debug("request submitted", "handle", g.id, "target", req.Target,
		"size", fmt.Sprintf("%dx%d", req.Viewport.Width, req.Viewport.Height), "program", req.Opts.Key().String())
	return g.id, nil
}

// Cancel cancels the request. It is a no-op for finished requests.
// Dispatches already submitted to the device run to completion and their
// results are dropped.
func (e *Engine) Cancel(h Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.gens[h]
	if !ok {
		return ErrUnknownHandle
	}
	e.cancelLocked(g, ErrCancelled)
	return nil
}

// cancelLocked moves g to Cancelled immediately and stops its work at the
// next tile boundary.
func (e *Engine) cancelLocked(g *generation, cause error) {
	if g.finish(Event{Kind: EventCancelled, Err: cause}) {
		e.log.Debug("request cancelled", "handle", g.id, "cause", cause)
	}
	g.cancel(cause)
}

// Subscribe returns the events of the request: Progress events followed by
// exactly one terminal event. Each call replays from the first event. The
// sequence blocks while the request is running.
func (e *Engine) Subscribe(h Handle) (iter.Seq[Event], error) {
	g, err := e.lookup(h)
	if err != nil {
		return nil, err
	}
	return g.eventSeq(), nil
}

// Wait blocks until the request ends or ctx is done and returns the
// terminal event.
func (e *Engine) Wait(ctx context.Context, h Handle) (Event, error) {
	g, err := e.lookup(h)
	if err != nil {
		return Event{}, err
	}
	select {
	case <-g.done:
		return g.terminal(), nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// State returns the current state of the request.
func (e *Engine) State(h Handle) (State, error) {
	g, err := e.lookup(h)
	if err != nil {
		return StateIdle, err
	}
	return g.currentState(), nil
}

// Output returns the last completed image for target.
func (e *Engine) Output(target string) (*PixelBuffer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pb, ok := e.outputs[target]
	return pb, ok
}

// Forget drops the record of a finished request. Its handle becomes
// unknown; the target output is kept.
func (e *Engine) Forget(h Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.gens[h]
	if !ok {
		return ErrUnknownHandle
	}
	if !g.currentState().Terminal() {
		return ErrNotTerminal
	}
	delete(e.gens, h)
	if e.owners[g.req.Target] == g {
		delete(e.owners, g.req.Target)
	}
	return nil
}

// SetRegistry replaces the fragment registry and clears the program
// cache. Running requests keep the programs they already hold.
func (e *Engine) SetRegistry(r *shader.Registry) {
	if r == nil {
		return
	}
	e.registry.Store(r)
	e.programs.clear()
	e.log.Info("fragment registry replaced", "fragments", r.Len())
}

// ClearPrograms destroys every cached program that no request is using
// and retires the rest.
func (e *Engine) ClearPrograms() {
	e.programs.clear()
}

// Stats reports engine counters.
type Stats struct {
	// Programs is the number of cached programs.
	Programs int
	// Compiles counts template compilations.
	Compiles uint64
	// CacheHits and CacheMisses count program cache lookups.
	CacheHits   uint64
	CacheMisses uint64
	// Running is the number of requests not yet in a terminal state.
	Running int
	// Dispatches counts device dispatches.
	Dispatches uint64
	// PeakInFlight is the largest number of concurrent dispatches seen.
	PeakInFlight int
	// DeviceLosses counts requests that failed with a lost device.
	DeviceLosses uint64
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	cs := e.programs.entries.Stats()
	es := e.exec.Stats()
	s := Stats{
		Programs:     cs.Len,
		Compiles:     e.programs.compiles.Load(),
		CacheHits:    cs.Hits,
		CacheMisses:  cs.Misses,
		Dispatches:   es.Dispatches,
		PeakInFlight: es.Peak,
		DeviceLosses: e.lost.Load(),
	}
	e.mu.Lock()
	for _, g := range e.gens {
		if !g.currentState().Terminal() {
			s.Running++
		}
	}
	e.mu.Unlock()
	return s
}

// Close cancels every running request, waits for their dispatches to
// drain and destroys all programs. It does not close the device.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	for _, g := range e.gens {
		e.cancelLocked(g, ErrClosed)
	}
	e.mu.Unlock()

	e.wg.Wait()
	e.programs.clear()
	e.log.Info("engine closed")
	return nil
}

func (e *Engine) lookup(h Handle) (*generation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.gens[h]
	if !ok {
		return nil, ErrUnknownHandle
	}
	return g, nil
}

// deviceFailed fails every unfinished request with kind and clears the
// program cache. Programs compiled before the error may be tied to a
// device state that no longer exists.
func (e *Engine) deviceFailed(kind ErrorKind, err error) {
	e.mu.Lock()
	n := 0
	for _, g := range e.gens {
		if g.finish(Event{Kind: EventFailed, ErrorKind: kind, Err: err}) {
			n++
			if kind == ErrorDeviceLost {
				e.lost.Add(1)
			}
		}
		g.cancel(err)
	}
	e.mu.Unlock()
	e.programs.clear()
	if kind == ErrorDeviceLost {
		e.log.Warn("device lost", "err", err, "failed_requests", n)
	} else {
		e.log.Warn("device error", "err", err, "failed_requests", n)
	}
}
