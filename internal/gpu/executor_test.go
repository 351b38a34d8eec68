package gpu

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/fractal/internal/tiling"
	"github.com/gogpu/fractal/internal/view"
)

type stubProgram string

func (p stubProgram) Label() string { return string(p) }

// gatedDevice blocks every Execute until gate is closed.
type gatedDevice struct {
	gate    chan struct{}
	started chan uint32
	failOn  map[uint32]error
	short   bool
}

func newGatedDevice(open bool) *gatedDevice {
	d := &gatedDevice{gate: make(chan struct{}), started: make(chan uint32, 64)}
	if open {
		close(d.gate)
	}
	return d
}

func (d *gatedDevice) Limits() Limits { return Limits{MaxTileDim: 64} }

func (d *gatedDevice) CreateProgram(src ProgramSource) (Program, error) {
	return stubProgram(src.Label), nil
}

func (d *gatedDevice) DestroyProgram(Program) {}

func (d *gatedDevice) Execute(ctx context.Context, _ Program, u view.Uniforms, sample uint32) ([]byte, error) {
	d.started <- sample
	select {
	case <-d.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := d.failOn[sample]; err != nil {
		return nil, err
	}
	w, h := tileSize(u)
	if d.short {
		h--
	}
	buf := make([]byte, w*h*4)
	buf[0] = byte(sample)
	return buf, nil
}

func (d *gatedDevice) Close() error { return nil }

func tileUniforms(tile tiling.Tile) view.Uniforms {
	return view.Uniforms{ImageSize: [2]float64{float64(tile.Width), float64(tile.Height)}, ImageScale: [2]float64{1, 1}}
}

func TestExecutorBoundsInFlight(t *testing.T) {
	dev := newGatedDevice(false)
	ex := NewExecutor(dev, 2)
	if ex.MaxInFlight() != 2 {
		t.Fatalf("MaxInFlight() = %d, want 2", ex.MaxInFlight())
	}
	u := tileUniforms(tiling.Tile{Width: 4, Height: 4})

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ex.Execute(context.Background(), stubProgram("p"), u, uint32(i)); err != nil {
				t.Errorf("Execute(%d) error = %v", i, err)
			}
		}()
	}

	for range 2 {
		select {
		case <-dev.started:
		case <-time.After(5 * time.Second):
			t.Fatal("dispatches did not start")
		}
	}
	select {
	case s := <-dev.started:
		t.Errorf("sample %d started while 2 were in flight", s)
	case <-time.After(50 * time.Millisecond):
	}
	if got := ex.Stats().InFlight; got != 2 {
		t.Errorf("InFlight = %d, want 2", got)
	}

	close(dev.gate)
	wg.Wait()

	st := ex.Stats()
	if st.Peak != 2 {
		t.Errorf("Peak = %d, want 2", st.Peak)
	}
	if st.Dispatches != 8 {
		t.Errorf("Dispatches = %d, want 8", st.Dispatches)
	}
	if st.InFlight != 0 {
		t.Errorf("InFlight after wait = %d, want 0", st.InFlight)
	}
}

func TestExecutorDefaultLimit(t *testing.T) {
	if got := NewExecutor(newGatedDevice(true), 0).MaxInFlight(); got != DefaultMaxInFlight {
		t.Errorf("MaxInFlight() = %d, want %d", got, DefaultMaxInFlight)
	}
}

func TestExecutorAcquireCancelled(t *testing.T) {
	dev := newGatedDevice(false)
	defer close(dev.gate)
	ex := NewExecutor(dev, 1)
	u := tileUniforms(tiling.Tile{Width: 2, Height: 2})

	go func() { _, _ = ex.Execute(context.Background(), stubProgram("p"), u, 0) }()
	<-dev.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := ex.Execute(ctx, stubProgram("p"), u, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Execute() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestExecutorRunTile(t *testing.T) {
	tile := tiling.Tile{X: 8, Y: 0, Width: 8, Height: 4}
	dispatches := tiling.Dispatches(tile, tiling.Offsets(4))

	ex := NewExecutor(newGatedDevice(true), 3)
	out, err := ex.RunTile(context.Background(), stubProgram("p"), tileUniforms(tile), dispatches)
	if err != nil {
		t.Fatalf("RunTile() error = %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("len(out) = %d, want 4", len(out))
	}
	for i, buf := range out {
		if len(buf) != tile.ByteSize() {
			t.Errorf("sample %d: len = %d, want %d", i, len(buf), tile.ByteSize())
		}
		if buf[0] != byte(i) {
			t.Errorf("sample %d: tag = %d, want %d", i, buf[0], i)
		}
	}
}

func TestExecutorRunTileErrors(t *testing.T) {
	tile := tiling.Tile{Width: 4, Height: 4}
	dispatches := tiling.Dispatches(tile, tiling.Offsets(4))
	errBoom := errors.New("boom")

	dev := newGatedDevice(true)
	dev.failOn = map[uint32]error{1: errBoom}
	_, err := NewExecutor(dev, 4).RunTile(context.Background(), stubProgram("p"), tileUniforms(tile), dispatches)
	if !errors.Is(err, errBoom) {
		t.Errorf("RunTile() error = %v, want %v", err, errBoom)
	}

	short := newGatedDevice(true)
	short.short = true
	_, err = NewExecutor(short, 4).RunTile(context.Background(), stubProgram("p"), tileUniforms(tile), dispatches)
	var de *DeviceError
	if !errors.As(err, &de) {
		t.Errorf("RunTile(short buffer) error = %v, want DeviceError", err)
	}
}
