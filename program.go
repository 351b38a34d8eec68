package fractal

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/gogpu/fractal/internal/cache"
	"github.com/gogpu/fractal/internal/gpu"
	"github.com/gogpu/fractal/internal/tiling"
	"github.com/gogpu/fractal/shader"
)

// Slot and define names understood by the bundled main fragment.
const (
	slotSmoothing = "smoothing"
	slotIteration = "iteration"
	defineMulti   = "MULTISAMPLE"
)

// shaderParams returns the template parameters that specialize the bundled
// fragments for k.
func shaderParams(k ProgramKey) shader.Params {
	p := shader.Params{
		Entry: shader.DefaultEntry,
		Slots: map[string]string{
			slotSmoothing: smoothingFragment(k.Smoothing),
			slotIteration: "iteration/" + k.Kind.String(),
		},
		Values: map[string]string{
			"iterations":            strconv.FormatUint(uint64(k.Iterations), 10),
			"escape_radius_squared": wgslFloat(k.RadiusSquared),
			"sample_count":          strconv.FormatUint(uint64(k.SampleCount), 10),
			"sample_offsets":        wgslOffsets(tiling.Offsets(int(k.SampleCount))),
		},
	}
	if k.SampleCount > 1 {
		p.Defines = append(p.Defines, defineMulti)
	}
	if k.Kind == Julia {
		p.Values["julia_re"] = wgslFloat(k.SeedRe)
		p.Values["julia_im"] = wgslFloat(k.SeedIm)
	}
	if k.Smoothing == SmoothLogarithmicDistance {
		divisor, addend := logarithmicTerms(k.Radius, k.MaxPower)
		p.Values["log_divisor"] = wgslFloat(divisor)
		p.Values["log_addend"] = wgslFloat(addend)
	}
	return p
}

func smoothingFragment(s SmoothingKind) string {
	switch s {
	case SmoothNone:
		return "smoothing/none"
	case SmoothLinearIntersection:
		return "smoothing/linear_intersection"
	case SmoothLogarithmicDistance:
		return "smoothing/logarithmic_distance"
	}
	return ""
}

// logarithmicTerms returns the constants of
// n - ln(ln|z|^2)/divisor + addend.
func logarithmicTerms(radius, maxPower float32) (divisor, addend float32) {
	d := math.Log(float64(maxPower))
	a := (math.Ln2 + math.Log(math.Log(float64(radius)))) / d
	return float32(d), float32(a)
}

// wgslFloat formats f as a WGSL floating point literal.
func wgslFloat(f float32) string {
	s := strconv.FormatFloat(float64(f), 'f', -1, 32)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func wgslOffsets(offsets []tiling.Offset) string {
	parts := make([]string, len(offsets))
	for i, o := range offsets {
		parts[i] = "vec2<f32>(" + wgslFloat(o[0]) + ", " + wgslFloat(o[1]) + ")"
	}
	return strings.Join(parts, ", ")
}

// kernelFor returns the numeric description of k for devices that do not
// run WGSL.
func kernelFor(k ProgramKey) gpu.Kernel {
	kern := gpu.Kernel{
		Julia:         k.Kind == Julia,
		Seed:          complex(k.SeedRe, k.SeedIm),
		Iterations:    k.Iterations,
		RadiusSquared: k.RadiusSquared,
		Offsets:       tiling.Offsets(int(k.SampleCount)),
	}
	switch k.Smoothing {
	case SmoothNone:
		kern.Smoothing = gpu.SmoothNone
	case SmoothLinearIntersection:
		kern.Smoothing = gpu.SmoothLinearIntersection
	case SmoothLogarithmicDistance:
		kern.Smoothing = gpu.SmoothLogarithmicDistance
		kern.LogDivisor, kern.LogAddend = logarithmicTerms(k.Radius, k.MaxPower)
	}
	return kern
}

// program is a cached compiled program. refs counts generations currently
// using it; a retired program is destroyed when refs drops to zero.
type program struct {
	key     ProgramKey
	prog    gpu.Program
	source  shader.Source
	refs    int
	retired bool
}

var errStaleProgram = errors.New("fractal: program compiled for a cleared cache")

// programCache owns every program compiled on one device.
type programCache struct {
	dev gpu.Device
	log *slog.Logger

	mu    sync.Mutex
	epoch uint64

	entries  *cache.ShardedCache[ProgramKey, *program]
	group    singleflight.Group
	compiles atomic.Uint64
}

func newProgramCache(dev gpu.Device, capacity int, log *slog.Logger) *programCache {
	c := &programCache{dev: dev, log: log}
	c.entries = cache.NewSharded(capacity,
		func(k ProgramKey) uint64 { return cache.StringHasher(k.String()) },
		cache.WithEvict[ProgramKey, *program](func(_ ProgramKey, p *program) { c.retire(p) }),
	)
	return c
}

// acquire returns the program for key, compiling it from reg on a miss.
// Concurrent misses for one key share a single compilation. The caller
// must release the program.
func (c *programCache) acquire(ctx context.Context, reg *shader.Registry, key ProgramKey) (*program, error) {
	for {
		c.mu.Lock()
		if p, ok := c.entries.Get(key); ok && !p.retired {
			p.refs++
			c.mu.Unlock()
			return p, nil
		}
		epoch := c.epoch
		c.mu.Unlock()

		ch := c.group.DoChan(key.String(), func() (any, error) {
			return c.compile(reg, key, epoch)
		})
		var res singleflight.Result
		select {
		case res = <-ch:
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		}
		if errors.Is(res.Err, errStaleProgram) {
			continue
		}
		if res.Err != nil {
			return nil, res.Err
		}

		p := res.Val.(*program)
		c.mu.Lock()
		if p.retired {
			c.mu.Unlock()
			continue
		}
		p.refs++
		c.mu.Unlock()
		return p, nil
	}
}

func (c *programCache) compile(reg *shader.Registry, key ProgramKey, epoch uint64) (*program, error) {
	// A previous flight may have filled the entry after the caller missed.
	c.mu.Lock()
	if p, ok := c.entries.Get(key); ok && !p.retired && c.epoch == epoch {
		c.mu.Unlock()
		return p, nil
	}
	c.mu.Unlock()

	src, err := shader.Compile(reg, shaderParams(key))
	if err != nil {
		return nil, err
	}
	c.compiles.Add(1)

	prog, err := c.dev.CreateProgram(gpu.ProgramSource{
		Label:  key.String(),
		WGSL:   src.Code,
		Kernel: kernelFor(key),
	})
	if err != nil {
		return nil, err
	}
	p := &program{key: key, prog: prog, source: src}
	c.entries.Set(key, p)

	c.mu.Lock()
	stale := c.epoch != epoch
	c.mu.Unlock()
	if stale {
		c.entries.Delete(key)
		return nil, errStaleProgram
	}
	c.log.Info("program compiled", "key", key.String(), "fragments", len(src.Fragments))
	return p, nil
}

func (c *programCache) release(p *program) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p.refs--
	if p.refs == 0 && p.retired {
		c.destroyLocked(p)
	}
}

func (c *programCache) retire(p *program) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.retired {
		return
	}
	p.retired = true
	if p.refs == 0 {
		c.destroyLocked(p)
	}
}

func (c *programCache) destroyLocked(p *program) {
	if p.prog == nil {
		return
	}
	c.dev.DestroyProgram(p.prog)
	p.prog = nil
	c.log.Debug("program destroyed", "key", p.key.String())
}

// clear retires every cached program. Programs still in use are destroyed
// once released. Compilations in progress are discarded.
func (c *programCache) clear() {
	c.mu.Lock()
	c.epoch++
	c.mu.Unlock()
	c.entries.Clear()
}

func (c *programCache) len() int {
	return c.entries.Len()
}
