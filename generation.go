package fractal

import (
	"context"
	"errors"
	"image"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/fractal/internal/composite"
	"github.com/gogpu/fractal/internal/tiling"
	"github.com/gogpu/fractal/internal/view"
)

// generation is the in-flight state of one request.
type generation struct {
	id     Handle
	req    Request
	ctx    context.Context
	cancel context.CancelCauseFunc

	done chan struct{}

	mu       sync.Mutex
	state    State
	log      eventLog
	lastDone int
}

func newGeneration(id Handle, req Request) *generation {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &generation{
		id:     id,
		req:    req,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		log:    eventLog{changed: make(chan struct{})},
	}
}

func (g *generation) currentState() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// advance moves a live generation to s. It reports false if the
// generation already ended.
func (g *generation) advance(s State) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state.Terminal() {
		return false
	}
	g.state = s
	return true
}

// progress records a Progress event. Counts that arrive out of order are
// dropped so that Done never decreases.
func (g *generation) progress(done, total int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state.Terminal() || (done <= g.lastDone && len(g.log.events) > 0) {
		return
	}
	g.lastDone = done
	g.log.append(Event{Kind: EventProgress, Done: done, Total: total})
}

// finish records the terminal event e. Only the first call has an effect;
// it reports whether this call ended the generation.
func (g *generation) finish(e Event) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state.Terminal() {
		return false
	}
	switch e.Kind {
	case EventComplete:
		g.state = StateComplete
	case EventCancelled:
		g.state = StateCancelled
	default:
		g.state = StateFailed
	}
	g.log.append(e)
	close(g.done)
	return true
}

func (g *generation) terminal() Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.log.events[len(g.log.events)-1]
}

// run drives g from Planning to a terminal state.
func (e *Engine) run(g *generation) {
	defer g.cancel(nil)
	if !g.advance(StatePlanning) {
		return
	}

	key := g.req.Opts.Key()
	p, err := e.programs.acquire(g.ctx, e.registry.Load(), key)
	if err != nil {
		e.fail(g, err)
		return
	}
	defer e.programs.release(p)

	grid := tiling.NewGrid(g.req.Viewport.Width, g.req.Viewport.Height, e.tileDim)
	offsets := tiling.Offsets(int(key.SampleCount))

	if !g.advance(StateRunning) {
		return
	}
	g.progress(0, grid.Count())

	back := image.NewRGBA(image.Rect(0, 0, g.req.Viewport.Width, g.req.Viewport.Height))
	comp := composite.NewCompositor(back)
	comp.Expect(grid.Tiles())

	eg, ctx := errgroup.WithContext(g.ctx)
	eg.SetLimit(e.exec.MaxInFlight())
	for _, tile := range grid.Tiles() {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			u, err := view.Map(g.req.Viewport, tile)
			if err != nil {
				return err
			}
			samples, err := e.exec.RunTile(ctx, p.prog, u, tiling.Dispatches(tile, offsets))
			if err != nil {
				return err
			}
			// Results of a cancelled request are dropped at the tile
			// boundary.
			if err := g.ctx.Err(); err != nil {
				return err
			}
			done, total, err := comp.Add(tile, samples)
			if err != nil {
				return err
			}
			g.progress(done, total)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		e.fail(g, err)
		return
	}
	if !comp.Complete() {
		e.fail(g, errors.New("fractal: compositor incomplete after all tiles"))
		return
	}
	e.complete(g, newPixelBuffer(back))
}

// complete publishes out as the target's output and ends g, unless g was
// cancelled in the meantime.
func (e *Engine) complete(g *generation, out *PixelBuffer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !g.finish(Event{Kind: EventComplete, Output: out}) {
		e.log.Warn("discarding finished image of ended request", "handle", g.id)
		return
	}
	e.outputs[g.req.Target] = out
	e.log.Debug("request complete", "handle", g.id, "target", g.req.Target, "pixels", out.Pixels())
}

// fail ends g with the outcome err describes. A generation that already
// ended keeps its outcome; a device error fails every request.
func (e *Engine) fail(g *generation, err error) {
	if g.ctx.Err() != nil {
		e.mu.Lock()
		e.cancelLocked(g, context.Cause(g.ctx))
		e.mu.Unlock()
		return
	}
	kind := classify(err)
	if kind == ErrorDevice || kind == ErrorDeviceLost {
		e.deviceFailed(kind, err)
		return
	}
	e.mu.Lock()
	ended := g.finish(Event{Kind: EventFailed, ErrorKind: kind, Err: err})
	e.mu.Unlock()
	if ended {
		e.log.Warn("request failed", "handle", g.id, "kind", kind, "err", err)
	}
}
