package fractal

import (
	"log/slog"

	"github.com/gogpu/fractal/internal/cache"
	"github.com/gogpu/fractal/internal/gpu"
	"github.com/gogpu/fractal/shader"
)

// Option configures an Engine during creation.
//
// Example:
//
//	eng, err := fractal.New(dev,
//	    fractal.WithMaxTileDim(512),
//	    fractal.WithMaxInFlight(8),
//	)
type Option func(*engineOptions)

type engineOptions struct {
	maxTileDim    int
	maxInFlight   int
	cacheCapacity int
	registry      *shader.Registry
	logger        *slog.Logger
}

func defaultOptions() engineOptions {
	return engineOptions{
		maxInFlight:   gpu.DefaultMaxInFlight,
		cacheCapacity: cache.DefaultCapacity,
	}
}

// WithMaxTileDim caps the tile edge below the device limit. Values that are
// not positive or exceed the device limit are ignored.
func WithMaxTileDim(n int) Option {
	return func(o *engineOptions) {
		o.maxTileDim = n
	}
}

// WithMaxInFlight bounds the number of dispatches submitted to the device
// at once, across all requests. Values <= 0 keep the default.
func WithMaxInFlight(n int) Option {
	return func(o *engineOptions) {
		if n > 0 {
			o.maxInFlight = n
		}
	}
}

// WithRegistry sets the fragment registry programs are compiled from.
// The default is shader.DefaultRegistry.
func WithRegistry(r *shader.Registry) Option {
	return func(o *engineOptions) {
		o.registry = r
	}
}

// WithCacheCapacity bounds the number of compiled programs kept. Least
// recently used programs beyond the bound are destroyed once no request
// uses them.
func WithCacheCapacity(n int) Option {
	return func(o *engineOptions) {
		if n > 0 {
			o.cacheCapacity = n
		}
	}
}

// WithLogger sets a logger for this engine's request lifecycle messages.
// Without it the engine logs through Logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *engineOptions) {
		o.logger = l
	}
}
