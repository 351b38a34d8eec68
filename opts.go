package fractal

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidOpts is returned by Submit and FractalOpts.Validate for options
// that cannot describe a fractal.
var ErrInvalidOpts = errors.New("fractal: invalid options")

// Kind selects the iteration function.
type Kind uint8

// Fractal kinds. The zero Kind is unset.
const (
	Mandelbrot Kind = iota + 1
	Julia
)

func (k Kind) String() string {
	switch k {
	case Mandelbrot:
		return "mandelbrot"
	case Julia:
		return "julia"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// ParseKind parses "mandelbrot" or "julia", ignoring case.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mandelbrot":
		return Mandelbrot, nil
	case "julia":
		return Julia, nil
	}
	return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidOpts, s)
}

// SmoothingKind selects how an escape iteration count is made continuous.
type SmoothingKind uint8

// Smoothing kinds. The zero SmoothingKind is unset and rejected; there is
// no default.
const (
	SmoothNone SmoothingKind = iota + 1
	SmoothLinearIntersection
	SmoothLogarithmicDistance
)

// Smoothing is a smoothing algorithm and its parameters.
type Smoothing struct {
	Kind SmoothingKind

	// Radius is the escape radius assumed by logarithmic distance
	// smoothing. Zero uses the square root of EscapeRadiusSquared.
	Radius float32

	// MaxPower is the highest power of z in the iteration, used by
	// logarithmic distance smoothing.
	MaxPower float32
}

var logarithmicPattern = regexp.MustCompile(
	`(?i)^logarithmic(?:distance)?\s*\(\s*(\d+(?:\.\d+)?|\.\d+)\s*(?:,\s*(\d+(?:\.\d+)?|\.\d+)\s*)?\)$`)

// ParseSmoothing parses "none", "linear", "linearintersection",
// "logarithmic(max_power)" or "logarithmic(radius, max_power)". The
// "logarithmicdistance" spelling is accepted too. Case is ignored.
func ParseSmoothing(s string) (Smoothing, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "none":
		return Smoothing{Kind: SmoothNone}, nil
	case "linear", "linearintersection":
		return Smoothing{Kind: SmoothLinearIntersection}, nil
	}
	m := logarithmicPattern.FindStringSubmatch(s)
	if m == nil {
		return Smoothing{}, fmt.Errorf("%w: unknown smoothing %q", ErrInvalidOpts, s)
	}
	first, err := strconv.ParseFloat(m[1], 32)
	if err != nil {
		return Smoothing{}, fmt.Errorf("%w: smoothing %q: %w", ErrInvalidOpts, s, err)
	}
	if m[2] == "" {
		return Smoothing{Kind: SmoothLogarithmicDistance, MaxPower: float32(first)}, nil
	}
	second, err := strconv.ParseFloat(m[2], 32)
	if err != nil {
		return Smoothing{}, fmt.Errorf("%w: smoothing %q: %w", ErrInvalidOpts, s, err)
	}
	return Smoothing{Kind: SmoothLogarithmicDistance, Radius: float32(first), MaxPower: float32(second)}, nil
}

func (s Smoothing) String() string {
	switch s.Kind {
	case SmoothNone:
		return "none"
	case SmoothLinearIntersection:
		return "linear"
	case SmoothLogarithmicDistance:
		if s.Radius == 0 {
			return "logarithmic(" + formatFloat(s.MaxPower) + ")"
		}
		return "logarithmic(" + formatFloat(s.Radius) + ", " + formatFloat(s.MaxPower) + ")"
	default:
		return fmt.Sprintf("SmoothingKind(%d)", uint8(s.Kind))
	}
}

func formatFloat(f float32) string {
	return strconv.FormatFloat(float64(f), 'g', -1, 32)
}

// MaxSampleCount is the largest SampleCount Validate accepts.
const MaxSampleCount = 256

// FractalOpts are the shader-affecting parameters of a request. Requests
// with equal Key values share one compiled program.
type FractalOpts struct {
	Kind Kind

	// JuliaSeed is the constant c of a Julia set. Ignored for Mandelbrot.
	JuliaSeed complex64

	Iterations          uint32
	EscapeRadiusSquared float32
	Smoothing           Smoothing

	// SampleCount is the number of jittered passes averaged per pixel,
	// at most MaxSampleCount.
	SampleCount uint32
}

// Validate reports whether o describes a renderable fractal. The error
// wraps ErrInvalidOpts.
func (o FractalOpts) Validate() error {
	r2 := float64(o.EscapeRadiusSquared)
	switch {
	case o.Kind != Mandelbrot && o.Kind != Julia:
		return fmt.Errorf("%w: kind not set", ErrInvalidOpts)
	case o.Iterations == 0:
		return fmt.Errorf("%w: iterations must be positive", ErrInvalidOpts)
	case o.SampleCount == 0:
		return fmt.Errorf("%w: sample count must be positive", ErrInvalidOpts)
	case o.SampleCount > MaxSampleCount:
		return fmt.Errorf("%w: sample count %d exceeds %d", ErrInvalidOpts, o.SampleCount, MaxSampleCount)
	case math.IsNaN(r2) || math.IsInf(r2, 0) || r2 <= 0:
		return fmt.Errorf("%w: escape radius squared %v", ErrInvalidOpts, o.EscapeRadiusSquared)
	case !finite(real(o.JuliaSeed)) || !finite(imag(o.JuliaSeed)):
		return fmt.Errorf("%w: julia seed %v", ErrInvalidOpts, o.JuliaSeed)
	}

	s := o.Smoothing
	switch s.Kind {
	case SmoothNone, SmoothLinearIntersection:
	case SmoothLogarithmicDistance:
		if r2 <= 1 {
			return fmt.Errorf("%w: logarithmic smoothing needs escape radius squared > 1", ErrInvalidOpts)
		}
		if !finite(s.MaxPower) || s.MaxPower <= 1 {
			return fmt.Errorf("%w: logarithmic smoothing max power %v", ErrInvalidOpts, s.MaxPower)
		}
		if !finite(s.Radius) || (s.Radius != 0 && s.Radius <= 1) {
			return fmt.Errorf("%w: logarithmic smoothing radius %v", ErrInvalidOpts, s.Radius)
		}
	case 0:
		return fmt.Errorf("%w: smoothing not set", ErrInvalidOpts)
	default:
		return fmt.Errorf("%w: unknown smoothing %d", ErrInvalidOpts, s.Kind)
	}
	return nil
}

func finite(f float32) bool {
	return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
}

// ProgramKey identifies a compiled program. Fields that do not affect the
// generated shader are zeroed so that equivalent options compare equal.
type ProgramKey struct {
	Kind          Kind
	SeedRe        float32
	SeedIm        float32
	Iterations    uint32
	RadiusSquared float32
	Smoothing     SmoothingKind
	Radius        float32
	MaxPower      float32
	SampleCount   uint32
}

// Key returns the structural cache key of o. o should be valid.
func (o FractalOpts) Key() ProgramKey {
	k := ProgramKey{
		Kind:          o.Kind,
		Iterations:    o.Iterations,
		RadiusSquared: canonical(o.EscapeRadiusSquared),
		Smoothing:     o.Smoothing.Kind,
		SampleCount:   o.SampleCount,
	}
	if o.Kind == Julia {
		k.SeedRe = canonical(real(o.JuliaSeed))
		k.SeedIm = canonical(imag(o.JuliaSeed))
	}
	if k.Smoothing == SmoothLogarithmicDistance {
		k.Radius = o.Smoothing.Radius
		if k.Radius == 0 {
			k.Radius = float32(math.Sqrt(float64(o.EscapeRadiusSquared)))
		}
		k.MaxPower = canonical(o.Smoothing.MaxPower)
	}
	return k
}

// canonical folds negative zero into zero.
func canonical(f float32) float32 {
	if f == 0 {
		return 0
	}
	return f
}

func (k ProgramKey) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s/i%d/r%s/s%d", k.Kind, k.Iterations, formatFloat(k.RadiusSquared), k.SampleCount)
	switch k.Smoothing {
	case SmoothNone:
		b.WriteString("/none")
	case SmoothLinearIntersection:
		b.WriteString("/linear")
	case SmoothLogarithmicDistance:
		fmt.Fprintf(&b, "/log(%s,%s)", formatFloat(k.Radius), formatFloat(k.MaxPower))
	}
	if k.Kind == Julia {
		fmt.Fprintf(&b, "/c(%s,%s)", formatFloat(k.SeedRe), formatFloat(k.SeedIm))
	}
	return b.String()
}
