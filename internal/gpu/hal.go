package gpu

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/gogpu/fractal/internal/view"
)

// Bounds of the sleep between completion polls of a submission.
const (
	pollMin = 50 * time.Microsecond
	pollMax = 2 * time.Millisecond
)

// HALDevice runs fractal programs as wgpu/hal compute pipelines.
//
// Each program is a WGSL module compiled to SPIR-V with naga and bound to a
// two-entry layout: the view uniform block and the packed pixel storage
// buffer. Per-tile buffers are pooled by tile byte size.
type HALDevice struct {
	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	external bool
	name     string
	limits   Limits

	pool    map[uint64][]*tileBuffers
	pending map[*submission]struct{}

	lost   atomic.Bool
	closed atomic.Bool
}

type halProgram struct {
	label      string
	owner      *HALDevice
	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline
}

func (p *halProgram) Label() string { return p.label }

type tileBuffers struct {
	size    uint64
	uniform hal.Buffer
	storage hal.Buffer
	staging hal.Buffer
}

// submission holds the per-dispatch objects the GPU reads while the
// command buffer executes. They are freed only after the queue reports
// the submission complete.
type submission struct {
	index     uint64
	bindGroup hal.BindGroup
	cmdBuf    hal.CommandBuffer
}

// OpenHALDevice creates a Vulkan instance and opens the first discrete or
// integrated adapter, falling back to the first adapter found.
func OpenHALDevice() (*HALDevice, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("%w: vulkan backend not available", ErrNoAdapter)
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("%w: create instance: %w", ErrNoAdapter, err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	limits := gputypes.DefaultLimits()
	openDev, err := selected.Adapter.Open(gputypes.Features(0), limits)
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("%w: open device: %w", ErrNoAdapter, err)
	}

	d := newHALDevice(openDev.Device, openDev.Queue, limits)
	d.instance = instance
	d.name = selected.Info.Name
	slogger().Info("gpu adapter selected", "name", d.name, "max_tile_dim", d.limits.MaxTileDim)
	return d, nil
}

// NewHALDeviceFromProvider borrows the device and queue of a collaborator
// that owns adapter selection. The provider's Device must expose
// HalDevice() and HalQueue(), as *wgpu.Device does. Close does not destroy
// borrowed objects.
func NewHALDeviceFromProvider(provider gpucontext.DeviceProvider) (*HALDevice, error) {
	type halSource interface {
		HalDevice() hal.Device
		HalQueue() hal.Queue
	}
	src, ok := provider.Device().(halSource)
	if !ok {
		return nil, errors.New("gpu: provider device does not expose HAL types")
	}
	device, queue := src.HalDevice(), src.HalQueue()
	if device == nil || queue == nil {
		return nil, errors.New("gpu: provider device has no HAL backend")
	}
	limits := gputypes.DefaultLimits()
	if l, ok := provider.Device().(interface{ Limits() gputypes.Limits }); ok {
		limits = l.Limits()
	}
	d := newHALDevice(device, queue, limits)
	d.external = true
	d.name = provider.AdapterInfo().Name
	if d.name == "" {
		d.name = "shared"
	}
	slogger().Info("gpu using shared device", "name", d.name, "max_tile_dim", d.limits.MaxTileDim)
	return d, nil
}

func newHALDevice(device hal.Device, queue hal.Queue, lim gputypes.Limits) *HALDevice {
	return &HALDevice{
		device: device,
		queue:  queue,
		limits: Limits{MaxTileDim: maxTileDim(
			uint64(lim.MaxTextureDimension2D),
			uint64(lim.MaxStorageBufferBindingSize),
			uint64(lim.MaxBufferSize),
		)},
		pool:    make(map[uint64][]*tileBuffers),
		pending: make(map[*submission]struct{}),
	}
}

// maxTileDim returns the largest power-of-two-reduced edge that fits the
// texture limit and whose RGBA8 pixel buffer fits both buffer limits.
func maxTileDim(texDim, bindingSize, bufferSize uint64) int {
	dim := texDim
	if dim == 0 {
		dim = 2048
	}
	limit := min(bindingSize, bufferSize)
	if limit == 0 {
		limit = bindingSize | bufferSize
	}
	for dim > 1 && limit > 0 && dim*dim*4 > limit {
		dim /= 2
	}
	return int(dim)
}

// Name returns the adapter name.
func (d *HALDevice) Name() string { return d.name }

func (d *HALDevice) Limits() Limits { return d.limits }

func (d *HALDevice) usable() error {
	if d.closed.Load() {
		return ErrClosed
	}
	if d.lost.Load() {
		return lost("use device", errors.New("device previously lost"))
	}
	return nil
}

func (d *HALDevice) CreateProgram(src ProgramSource) (Program, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	spirv, err := compileWGSL(src.WGSL)
	if err != nil {
		return nil, &DeviceError{Op: "compile " + src.Label, Err: err}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device == nil {
		return nil, ErrClosed
	}

	p := &halProgram{label: src.Label, owner: d}
	p.shader, err = d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  src.Label,
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return nil, &DeviceError{Op: "create shader module", Err: err}
	}
	p.bindLayout, err = d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: src.Label + "_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
			{Binding: 1, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		d.destroyProgramLocked(p)
		return nil, lost("create bind group layout", err)
	}
	p.pipeLayout, err = d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: src.Label + "_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{p.bindLayout},
	})
	if err != nil {
		d.destroyProgramLocked(p)
		return nil, lost("create pipeline layout", err)
	}
	p.pipeline, err = d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label: src.Label + "_pipeline", Layout: p.pipeLayout,
		Compute: hal.ComputeState{Module: p.shader, EntryPoint: "main"},
	})
	if err != nil {
		d.destroyProgramLocked(p)
		return nil, &DeviceError{Op: "create compute pipeline", Err: err}
	}
	slogger().Debug("gpu program created", "label", src.Label, "spirv_words", len(spirv))
	return p, nil
}

// compileWGSL compiles WGSL to little-endian SPIR-V words.
func compileWGSL(src string) ([]uint32, error) {
	b, err := naga.Compile(src)
	if err != nil {
		return nil, err
	}
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return words, nil
}

func (d *HALDevice) DestroyProgram(p Program) {
	prog, ok := p.(*halProgram)
	if !ok || prog.owner != d {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyProgramLocked(prog)
}

func (d *HALDevice) destroyProgramLocked(p *halProgram) {
	if d.device == nil {
		return
	}
	if p.pipeline != nil {
		d.device.DestroyComputePipeline(p.pipeline)
		p.pipeline = nil
	}
	if p.pipeLayout != nil {
		d.device.DestroyPipelineLayout(p.pipeLayout)
		p.pipeLayout = nil
	}
	if p.bindLayout != nil {
		d.device.DestroyBindGroupLayout(p.bindLayout)
		p.bindLayout = nil
	}
	if p.shader != nil {
		d.device.DestroyShaderModule(p.shader)
		p.shader = nil
	}
}

func (d *HALDevice) Execute(ctx context.Context, p Program, u view.Uniforms, sample uint32) ([]byte, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	prog, ok := p.(*halProgram)
	if !ok || prog.owner != d {
		return nil, ErrForeignProgram
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w, h := tileSize(u)
	if w <= 0 || h <= 0 || w > d.limits.MaxTileDim || h > d.limits.MaxTileDim {
		return nil, &DeviceError{Op: "execute", Err: fmt.Errorf("tile %dx%d exceeds limit %d", w, h, d.limits.MaxTileDim)}
	}
	pixelCount := w * h
	size := uint64(pixelCount * 4)

	d.mu.Lock()
	if d.device == nil {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	bufs, err := d.acquireLocked(size)
	if err != nil {
		d.mu.Unlock()
		return nil, d.markLost(lost("allocate tile buffers", err))
	}
	sub, err := d.encodeAndSubmitLocked(prog, bufs, u.Bytes(sample), uint32(w), uint32(h))
	d.mu.Unlock()
	if err != nil {
		d.release(bufs)
		return nil, d.markLost(err)
	}

	waitErr := d.waitSubmission(sub.index)

	d.mu.Lock()
	if d.device == nil {
		// Close waited for the queue and freed the submission.
		d.mu.Unlock()
		return nil, ErrClosed
	}
	d.freeSubmissionLocked(sub)
	var packed []byte
	if waitErr == nil {
		packed, err = d.readbackLocked(bufs.staging, size)
	}
	d.mu.Unlock()
	d.release(bufs)
	if waitErr != nil {
		return nil, d.markLost(waitErr)
	}
	if err != nil {
		return nil, d.markLost(lost("readback", err))
	}

	out := make([]byte, size)
	unpackPixels(packed, out, pixelCount)
	slogger().Debug("gpu tile executed", "program", prog.label, "w", w, "h", h, "sample", sample)
	return out, nil
}

// encodeAndSubmitLocked records one dispatch of p into bufs and submits
// it. On success the returned submission is registered as pending and
// must be passed to freeSubmissionLocked once the queue has completed it.
func (d *HALDevice) encodeAndSubmitLocked(p *halProgram, bufs *tileBuffers, uniforms []byte, w, h uint32) (*submission, error) {
	if err := d.queue.WriteBuffer(bufs.uniform, 0, uniforms); err != nil {
		return nil, lost("write uniforms", err)
	}

	bg, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: p.label + "_bind", Layout: p.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: bufs.uniform.NativeHandle(), Offset: 0, Size: view.UniformSize}},
			{Binding: 1, Resource: gputypes.BufferBinding{Buffer: bufs.storage.NativeHandle(), Offset: 0, Size: bufs.size}},
		},
	})
	if err != nil {
		return nil, lost("create bind group", err)
	}

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: p.label + "_encoder"})
	if err != nil {
		d.device.DestroyBindGroup(bg)
		return nil, lost("create command encoder", err)
	}
	if err := encoder.BeginEncoding(p.label); err != nil {
		d.device.DestroyBindGroup(bg)
		return nil, lost("begin encoding", err)
	}
	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: p.label + "_pass"})
	pass.SetPipeline(p.pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.Dispatch((w+7)/8, (h+7)/8, 1)
	pass.End()
	encoder.CopyBufferToBuffer(bufs.storage, bufs.staging, []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: bufs.size},
	})
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		d.device.DestroyBindGroup(bg)
		return nil, lost("end encoding", err)
	}

	index, err := d.queue.Submit([]hal.CommandBuffer{cmdBuf})
	if err != nil {
		d.device.FreeCommandBuffer(cmdBuf)
		d.device.DestroyBindGroup(bg)
		return nil, lost("submit", err)
	}
	sub := &submission{index: index, bindGroup: bg, cmdBuf: cmdBuf}
	d.pending[sub] = struct{}{}
	return sub, nil
}

// waitSubmission blocks until the queue reports submission index done.
// No deadline is imposed; a stuck device surfaces only through the
// backend or another dispatch marking the device lost.
func (d *HALDevice) waitSubmission(index uint64) error {
	delay := pollMin
	for {
		d.mu.Lock()
		q := d.queue
		done := q != nil && q.PollCompleted() >= index
		d.mu.Unlock()
		switch {
		case q == nil:
			return ErrClosed
		case done:
			return nil
		case d.lost.Load():
			return lost("wait for GPU", errors.New("device lost during dispatch"))
		}
		time.Sleep(delay)
		delay = min(delay*2, pollMax)
	}
}

func (d *HALDevice) freeSubmissionLocked(sub *submission) {
	if _, ok := d.pending[sub]; !ok {
		return
	}
	delete(d.pending, sub)
	d.device.FreeCommandBuffer(sub.cmdBuf)
	d.device.DestroyBindGroup(sub.bindGroup)
}

// readbackLocked copies size bytes out of a host-visible buffer.
func (d *HALDevice) readbackLocked(buf hal.Buffer, size uint64) ([]byte, error) {
	m, err := d.device.MapBuffer(buf, 0, size)
	if err != nil {
		return nil, err
	}
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(m.Ptr), size))
	if err := d.device.UnmapBuffer(buf); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *HALDevice) markLost(err error) error {
	if IsLost(err) && d.lost.CompareAndSwap(false, true) {
		slogger().Warn("gpu device lost", "err", err)
	}
	return err
}

func (d *HALDevice) acquireLocked(size uint64) (*tileBuffers, error) {
	if free := d.pool[size]; len(free) > 0 {
		b := free[len(free)-1]
		d.pool[size] = free[:len(free)-1]
		return b, nil
	}
	b := &tileBuffers{size: size}
	var err error
	b.uniform, err = d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "fractal_view", Size: view.UniformSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageMapWrite,
	})
	if err != nil {
		return nil, err
	}
	b.storage, err = d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "fractal_pixels", Size: size,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc,
	})
	if err != nil {
		d.destroyBuffersLocked(b)
		return nil, err
	}
	b.staging, err = d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "fractal_staging", Size: size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		d.destroyBuffersLocked(b)
		return nil, err
	}
	return b, nil
}

func (d *HALDevice) release(b *tileBuffers) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed.Load() || d.lost.Load() {
		d.destroyBuffersLocked(b)
		return
	}
	d.pool[b.size] = append(d.pool[b.size], b)
}

func (d *HALDevice) destroyBuffersLocked(b *tileBuffers) {
	if d.device == nil {
		return
	}
	for _, buf := range []hal.Buffer{b.uniform, b.storage, b.staging} {
		if buf != nil {
			d.device.DestroyBuffer(buf)
		}
	}
}

// Close waits for submitted work, then releases pending dispatch objects,
// pooled buffers and, unless the device was borrowed, the device and
// instance. Close is safe to call multiple times.
func (d *HALDevice) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device == nil {
		return nil
	}
	if !d.lost.Load() {
		if err := d.device.WaitIdle(); err != nil {
			slogger().Warn("gpu wait idle on close", "err", err)
		}
	}
	for sub := range d.pending {
		d.freeSubmissionLocked(sub)
	}
	for size, bufs := range d.pool {
		for _, b := range bufs {
			d.destroyBuffersLocked(b)
		}
		delete(d.pool, size)
	}
	if !d.external {
		d.device.Destroy()
		if d.instance != nil {
			d.instance.Destroy()
		}
	}
	d.device = nil
	d.queue = nil
	d.instance = nil
	return nil
}

func unpackPixels(packed []byte, dst []uint8, pixelCount int) {
	for i := 0; i < pixelCount; i++ {
		val := binary.LittleEndian.Uint32(packed[i*4:])
		dst[i*4+0] = uint8(val)
		dst[i*4+1] = uint8(val >> 8)
		dst[i*4+2] = uint8(val >> 16)
		dst[i*4+3] = uint8(val >> 24)
	}
}
