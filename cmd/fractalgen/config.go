package main

import (
	"bytes"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/gogpu/fractal"
)

// config is the command configuration. It is read from an optional TOML
// file; command line flags override file values.
type config struct {
	Width    int     `toml:"width"`
	Height   int     `toml:"height"`
	CenterRe float64 `toml:"center_re"`
	CenterIm float64 `toml:"center_im"`
	Scale    float64 `toml:"scale"`

	Kind                string  `toml:"kind"`
	JuliaRe             float64 `toml:"julia_re"`
	JuliaIm             float64 `toml:"julia_im"`
	Iterations          uint    `toml:"iterations"`
	EscapeRadiusSquared float64 `toml:"escape_radius_squared"`
	Smoothing           string  `toml:"smoothing"`
	Samples             uint    `toml:"samples"`

	TileDim   int    `toml:"tile_dim"`
	InFlight  int    `toml:"in_flight"`
	Fragments string `toml:"fragments"`
	Software  bool   `toml:"software"`
	Output    string `toml:"output"`
	Watch     bool   `toml:"watch"`
	Verbose   bool   `toml:"verbose"`
}

func defaultConfig() config {
	return config{
		Width:               800,
		Height:              600,
		CenterRe:            -0.5,
		Scale:               0.005,
		Kind:                "mandelbrot",
		Iterations:          200,
		EscapeRadiusSquared: 16,
		Smoothing:           "linear",
		Samples:             1,
		Output:              "fractal.png",
	}
}

func (c *config) bind(fs *flag.FlagSet) *string {
	path := fs.String("config", "", "TOML configuration file")
	fs.IntVar(&c.Width, "width", c.Width, "image width")
	fs.IntVar(&c.Height, "height", c.Height, "image height")
	fs.Float64Var(&c.CenterRe, "re", c.CenterRe, "real part of the view centre")
	fs.Float64Var(&c.CenterIm, "im", c.CenterIm, "imaginary part of the view centre")
	fs.Float64Var(&c.Scale, "scale", c.Scale, "plane units per pixel")
	fs.StringVar(&c.Kind, "kind", c.Kind, "mandelbrot or julia")
	fs.Float64Var(&c.JuliaRe, "julia-re", c.JuliaRe, "real part of the Julia seed")
	fs.Float64Var(&c.JuliaIm, "julia-im", c.JuliaIm, "imaginary part of the Julia seed")
	fs.UintVar(&c.Iterations, "iterations", c.Iterations, "iteration limit")
	fs.Float64Var(&c.EscapeRadiusSquared, "radius2", c.EscapeRadiusSquared, "squared escape radius")
	fs.StringVar(&c.Smoothing, "smoothing", c.Smoothing, "none, linear or logarithmic([radius,] max_power)")
	fs.UintVar(&c.Samples, "samples", c.Samples, "multisample passes per pixel")
	fs.IntVar(&c.TileDim, "tile", c.TileDim, "tile edge limit (0 = device limit)")
	fs.IntVar(&c.InFlight, "in-flight", c.InFlight, "dispatches in flight (0 = default)")
	fs.StringVar(&c.Fragments, "fragments", c.Fragments, "directory of WGSL fragments (default: bundled)")
	fs.BoolVar(&c.Software, "software", c.Software, "render on the CPU")
	fs.StringVar(&c.Output, "o", c.Output, "output PNG file")
	fs.BoolVar(&c.Watch, "watch", c.Watch, "re-render when fragment files change")
	fs.BoolVar(&c.Verbose, "v", c.Verbose, "debug logging")
	return path
}

// loadConfig parses args. When -config names a file, the file is applied
// first and the flags are parsed again on top of it.
func loadConfig(args []string) (config, error) {
	cfg := defaultConfig()
	fs := flag.NewFlagSet("fractalgen", flag.ContinueOnError)
	path := cfg.bind(fs)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if *path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(filepath.Clean(*path))
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	cfg = defaultConfig()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", *path, err)
	}
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// request converts the configuration into an engine request.
func (c config) request() (fractal.Request, error) {
	kind, err := fractal.ParseKind(c.Kind)
	if err != nil {
		return fractal.Request{}, err
	}
	smoothing, err := fractal.ParseSmoothing(c.Smoothing)
	if err != nil {
		return fractal.Request{}, err
	}
	if uint64(c.Iterations) > math.MaxUint32 {
		return fractal.Request{}, fmt.Errorf("%w: iterations %d out of range", fractal.ErrInvalidOpts, c.Iterations)
	}
	if c.Samples > fractal.MaxSampleCount {
		return fractal.Request{}, fmt.Errorf("%w: samples %d exceeds %d", fractal.ErrInvalidOpts, c.Samples, fractal.MaxSampleCount)
	}
	req := fractal.Request{
		Viewport: fractal.Viewport{
			Center: complex(c.CenterRe, c.CenterIm),
			Scale:  c.Scale,
			Width:  c.Width,
			Height: c.Height,
		},
		Opts: fractal.FractalOpts{
			Kind:                kind,
			JuliaSeed:           complex(float32(c.JuliaRe), float32(c.JuliaIm)),
			Iterations:          uint32(c.Iterations),
			EscapeRadiusSquared: float32(c.EscapeRadiusSquared),
			Smoothing:           smoothing,
			SampleCount:         uint32(c.Samples),
		},
		Target: c.Output,
	}
	if err := req.Viewport.Validate(); err != nil {
		return req, err
	}
	return req, req.Opts.Validate()
}
