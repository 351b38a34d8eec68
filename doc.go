// Package fractal renders escape-time fractals on the GPU.
//
// # Overview
//
// An Engine turns a Request (a viewport on the complex plane plus the
// fractal options) into a finished RGBA image. Images may be larger than
// any single GPU texture: the engine splits them into tiles no larger than
// the device allows, renders every tile (once per multisample pass), and
// stitches the averaged tiles back together.
//
// The compute shader is assembled at request time from WGSL fragments in
// a shader.Registry. Iteration count, escape radius, smoothing and the
// sample jitter table are baked into the source as constants, so every
// distinct FractalOpts.Key compiles its own program. Programs are cached
// per engine and shared by requests with equal keys.
//
// # Quick Start
//
//	dev, _ := fractal.OpenDevice()
//	eng, err := fractal.New(dev)
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
//
//	h, err := eng.Submit(fractal.Request{
//	    Viewport: fractal.Viewport{Center: complex(-0.5, 0), Scale: 0.01, Width: 800, Height: 600},
//	    Opts: fractal.FractalOpts{
//	        Kind:                fractal.Mandelbrot,
//	        Iterations:          200,
//	        EscapeRadiusSquared: 16,
//	        Smoothing:           fractal.Smoothing{Kind: fractal.SmoothLinearIntersection},
//	        SampleCount:         1,
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	events, _ := eng.Subscribe(h)
//	for ev := range events {
//	    fmt.Println(ev)
//	}
//
// # Coordinate System
//
// Pixel (x, y) of a Width x Height image samples the plane at
//
//	Center + ((x, y) - (Width/2, Height/2)) * Scale
//
// with X increasing right and Y increasing down. Multisample passes shift
// the sample point by a fraction of a pixel.
//
// # Cancellation
//
// Requests with the same Target supersede each other. A superseded or
// explicitly cancelled request ends as Cancelled immediately; dispatches
// already on the device finish and their pixels are dropped. Each request
// renders into a private buffer, so Output only ever returns images of
// completed requests.
package fractal

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0
)
