package gpu

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"testing"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/fractal/internal/tiling"
	"github.com/gogpu/fractal/internal/view"
)

func TestMaxTileDim(t *testing.T) {
	tests := []struct {
		name                       string
		texDim, binding, bufferMax uint64
		want                       int
	}{
		{"fits", 2048, 1 << 30, 1 << 30, 2048},
		{"binding bound", 8192, 128 << 20, 256 << 20, 4096},
		{"buffer bound", 2048, 1 << 30, 1 << 20, 512},
		{"no limits reported", 0, 0, 0, 2048},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := maxTileDim(tt.texDim, tt.binding, tt.bufferMax); got != tt.want {
				t.Errorf("maxTileDim() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestUnpackPixels(t *testing.T) {
	packed := []byte{0x01, 0x02, 0x03, 0x04, 0xff, 0x00, 0x80, 0xff}
	dst := make([]uint8, 8)
	unpackPixels(packed, dst, 2)
	want := []uint8{1, 2, 3, 4, 255, 0, 128, 255}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("dst[%d] = %d, want %d", i, dst[i], want[i])
		}
	}
}

func TestCompileWGSLRejectsInvalid(t *testing.T) {
	if _, err := compileWGSL("fn main( {"); err == nil {
		t.Error("compileWGSL(invalid) error = nil, want error")
	}
}

func TestHALDeviceClosed(t *testing.T) {
	d := &HALDevice{pool: make(map[uint64][]*tileBuffers)}
	d.closed.Store(true)
	if _, err := d.CreateProgram(ProgramSource{}); !errors.Is(err, ErrClosed) {
		t.Errorf("CreateProgram() error = %v, want ErrClosed", err)
	}
	u := view.Uniforms{ImageSize: [2]float64{8, 8}}
	if _, err := d.Execute(context.Background(), &halProgram{owner: d}, u, 0); !errors.Is(err, ErrClosed) {
		t.Errorf("Execute() error = %v, want ErrClosed", err)
	}
}

func TestHALDeviceLostIsSticky(t *testing.T) {
	d := &HALDevice{pool: make(map[uint64][]*tileBuffers)}
	if err := d.markLost(&DeviceError{Op: "compile", Err: errors.New("bad shader")}); IsLost(err) {
		t.Fatalf("markLost(compile error) = %v, want non-lost error", err)
	}
	if err := d.usable(); err != nil {
		t.Fatalf("usable() after non-lost error = %v, want nil", err)
	}
	err := d.markLost(lost("submit", errors.New("adapter removed")))
	if !IsLost(err) {
		t.Fatalf("markLost() = %v, want lost error", err)
	}
	if _, err := d.CreateProgram(ProgramSource{}); !IsLost(err) {
		t.Errorf("CreateProgram() after loss error = %v, want lost error", err)
	}
}

func TestHALDeviceForeignProgram(t *testing.T) {
	d := &HALDevice{pool: make(map[uint64][]*tileBuffers)}
	soft := NewSoftwareDevice(8, 1)
	defer soft.Close()
	p, err := soft.CreateProgram(ProgramSource{Label: "m", Kernel: testKernel(1)})
	if err != nil {
		t.Fatalf("CreateProgram() error = %v", err)
	}
	u, _ := view.Map(view.Viewport{Center: 0, Scale: 0.5, Width: 8, Height: 8}, tiling.Tile{Width: 8, Height: 8})
	if _, err := d.Execute(context.Background(), p, u, 0); !errors.Is(err, ErrForeignProgram) {
		t.Errorf("Execute(foreign) error = %v, want ErrForeignProgram", err)
	}
}

// fakeGPU records the HAL calls made by HALDevice. Submitted work
// completes only after pollsToComplete calls to PollCompleted.
type fakeGPU struct {
	events          []string
	submitted       uint64
	completed       uint64
	pollsToComplete int
	polls           int
	pattern         []byte
}

func (g *fakeGPU) record(e string) { g.events = append(g.events, e) }

func (g *fakeGPU) index(e string) int { return slices.Index(g.events, e) }

type fakeBuffer struct{ data []byte }

func (b *fakeBuffer) Destroy()              {}
func (b *fakeBuffer) NativeHandle() uintptr { return uintptr(unsafe.Pointer(b)) }

type fakeResource struct{}

func (fakeResource) Destroy() {}

type fakeCommandBuffer struct {
	fakeResource
	copies [][2]*fakeBuffer
}

type fakeDevice struct {
	hal.Device
	gpu *fakeGPU
}

func (d *fakeDevice) CreateBuffer(desc *hal.BufferDescriptor) (hal.Buffer, error) {
	return &fakeBuffer{data: make([]byte, desc.Size)}, nil
}

func (d *fakeDevice) DestroyBuffer(hal.Buffer) { d.gpu.record("destroy buffer") }

func (d *fakeDevice) CreateBindGroup(*hal.BindGroupDescriptor) (hal.BindGroup, error) {
	return fakeResource{}, nil
}

func (d *fakeDevice) DestroyBindGroup(hal.BindGroup) { d.gpu.record("destroy bind group") }

func (d *fakeDevice) CreateCommandEncoder(*hal.CommandEncoderDescriptor) (hal.CommandEncoder, error) {
	return &fakeEncoder{cmd: &fakeCommandBuffer{}}, nil
}

func (d *fakeDevice) FreeCommandBuffer(hal.CommandBuffer) { d.gpu.record("free command buffer") }

func (d *fakeDevice) MapBuffer(buf hal.Buffer, offset, size uint64) (hal.BufferMapping, error) {
	d.gpu.record("map")
	b := buf.(*fakeBuffer)
	return hal.BufferMapping{Ptr: unsafe.Pointer(&b.data[offset]), IsCoherent: true}, nil
}

func (d *fakeDevice) UnmapBuffer(hal.Buffer) error {
	d.gpu.record("unmap")
	return nil
}

func (d *fakeDevice) WaitIdle() error {
	d.gpu.record("wait idle")
	d.gpu.completed = d.gpu.submitted
	return nil
}

func (d *fakeDevice) Destroy() { d.gpu.record("destroy device") }

type fakeQueue struct {
	hal.Queue
	gpu *fakeGPU
}

func (q *fakeQueue) WriteBuffer(buf hal.Buffer, offset uint64, data []byte) error {
	copy(buf.(*fakeBuffer).data[offset:], data)
	return nil
}

// Submit runs the recorded copies immediately, as if the dispatch filled
// the storage buffer with the pattern.
func (q *fakeQueue) Submit(cmds []hal.CommandBuffer) (uint64, error) {
	for _, c := range cmds {
		for _, cp := range c.(*fakeCommandBuffer).copies {
			copy(cp[0].data, q.gpu.pattern)
			copy(cp[1].data, cp[0].data)
		}
	}
	q.gpu.submitted++
	q.gpu.record("submit")
	return q.gpu.submitted, nil
}

func (q *fakeQueue) PollCompleted() uint64 {
	q.gpu.polls++
	if q.gpu.polls >= q.gpu.pollsToComplete && q.gpu.completed < q.gpu.submitted {
		q.gpu.completed = q.gpu.submitted
		q.gpu.record("complete")
	}
	return q.gpu.completed
}

type fakeEncoder struct {
	hal.CommandEncoder
	cmd *fakeCommandBuffer
}

func (e *fakeEncoder) BeginEncoding(string) error { return nil }

func (e *fakeEncoder) BeginComputePass(*hal.ComputePassDescriptor) hal.ComputePassEncoder {
	return fakePass{}
}

func (e *fakeEncoder) CopyBufferToBuffer(src, dst hal.Buffer, _ []hal.BufferCopy) {
	e.cmd.copies = append(e.cmd.copies, [2]*fakeBuffer{src.(*fakeBuffer), dst.(*fakeBuffer)})
}

func (e *fakeEncoder) EndEncoding() (hal.CommandBuffer, error) { return e.cmd, nil }

type fakePass struct{ hal.ComputePassEncoder }

func (fakePass) SetPipeline(hal.ComputePipeline)              {}
func (fakePass) SetBindGroup(uint32, hal.BindGroup, []uint32) {}
func (fakePass) Dispatch(x, y, z uint32)                      {}
func (fakePass) End()                                         {}

func newFakeHALDevice(g *fakeGPU) *HALDevice {
	return newHALDevice(&fakeDevice{gpu: g}, &fakeQueue{gpu: g}, gputypes.Limits{
		MaxTextureDimension2D:       64,
		MaxStorageBufferBindingSize: 1 << 20,
		MaxBufferSize:               1 << 20,
	})
}

func fakeTileUniforms(t *testing.T) view.Uniforms {
	t.Helper()
	u, err := view.Map(view.Viewport{Center: 0, Scale: 0.5, Width: 8, Height: 8}, tiling.Tile{Width: 8, Height: 8})
	if err != nil {
		t.Fatalf("view.Map() error = %v", err)
	}
	return u
}

func TestHALExecuteFreesAfterCompletion(t *testing.T) {
	g := &fakeGPU{pollsToComplete: 3, pattern: make([]byte, 8*8*4)}
	for i := range g.pattern {
		g.pattern[i] = byte(i % 251)
	}
	d := newFakeHALDevice(g)
	p := &halProgram{label: "m", owner: d}

	out, err := d.Execute(context.Background(), p, fakeTileUniforms(t), 0)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !bytes.Equal(out, g.pattern) {
		t.Error("Execute() output does not match the staging buffer contents")
	}
	if g.polls < g.pollsToComplete {
		t.Errorf("PollCompleted calls = %d, want >= %d", g.polls, g.pollsToComplete)
	}

	complete := g.index("complete")
	if complete < 0 {
		t.Fatalf("events = %v, want a completed submission", g.events)
	}
	for _, e := range []string{"free command buffer", "destroy bind group", "map"} {
		if i := g.index(e); i < complete {
			t.Errorf("%q at %d, want after completion at %d (events %v)", e, i, complete, g.events)
		}
	}
	if n := len(d.pending); n != 0 {
		t.Errorf("pending submissions = %d, want 0", n)
	}
	if n := len(d.pool[uint64(len(g.pattern))]); n != 1 {
		t.Errorf("pooled buffer sets = %d, want 1", n)
	}

	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if g.index("destroy device") < g.index("wait idle") {
		t.Errorf("device destroyed before wait idle (events %v)", g.events)
	}
}

func TestHALCloseFreesPendingAfterWaitIdle(t *testing.T) {
	g := &fakeGPU{pollsToComplete: 1 << 30, pattern: make([]byte, 8*8*4)}
	d := newFakeHALDevice(g)
	p := &halProgram{label: "m", owner: d}

	d.mu.Lock()
	bufs, err := d.acquireLocked(uint64(len(g.pattern)))
	if err != nil {
		d.mu.Unlock()
		t.Fatalf("acquireLocked() error = %v", err)
	}
	if _, err := d.encodeAndSubmitLocked(p, bufs, make([]byte, view.UniformSize), 8, 8); err != nil {
		d.mu.Unlock()
		t.Fatalf("encodeAndSubmitLocked() error = %v", err)
	}
	d.mu.Unlock()

	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	idle := g.index("wait idle")
	if idle < 0 {
		t.Fatalf("events = %v, want wait idle", g.events)
	}
	for _, e := range []string{"free command buffer", "destroy bind group"} {
		if i := g.index(e); i < idle {
			t.Errorf("%q at %d, want after wait idle at %d (events %v)", e, i, idle, g.events)
		}
	}
	if n := len(d.pending); n != 0 {
		t.Errorf("pending submissions after Close = %d, want 0", n)
	}
}

func TestHALWaitStopsOnLoss(t *testing.T) {
	g := &fakeGPU{pollsToComplete: 1 << 30}
	d := newFakeHALDevice(g)
	d.lost.Store(true)
	if err := d.waitSubmission(1); !IsLost(err) {
		t.Errorf("waitSubmission() error = %v, want lost error", err)
	}
	d.queue = nil
	if err := d.waitSubmission(1); !errors.Is(err, ErrClosed) {
		t.Errorf("waitSubmission() after close error = %v, want ErrClosed", err)
	}
}
