// Command fractalgen renders a Mandelbrot or Julia set to a PNG file.
//
// Usage:
//
//	fractalgen [-config file.toml] [flags]
//
// Flags override values read from the configuration file. With -watch and
// -fragments, the image is rendered again every time a fragment file
// changes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/gogpu/fractal"
	"github.com/gogpu/fractal/shader"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "fractalgen:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	req, err := cfg.request()
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	fractal.SetLogger(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))

	var dev fractal.Device
	if cfg.Software {
		dev = fractal.NewSoftwareDevice(cfg.TileDim, 0)
	} else {
		dev, _ = fractal.OpenDevice()
	}
	defer dev.Close()

	opts := []fractal.Option{
		fractal.WithMaxTileDim(cfg.TileDim),
		fractal.WithMaxInFlight(cfg.InFlight),
	}
	if cfg.Fragments != "" && !cfg.Watch {
		reg, err := shader.LoadDir(os.DirFS(cfg.Fragments), ".")
		if err != nil {
			return err
		}
		opts = append(opts, fractal.WithRegistry(reg))
	}
	eng, err := fractal.New(dev, opts...)
	if err != nil {
		return err
	}
	defer eng.Close()

	rep := newReporter(stderr)
	if !cfg.Watch {
		return render(ctx, eng, req, rep)
	}
	if cfg.Fragments == "" {
		return errors.New("-watch needs -fragments")
	}

	err = shader.Watch(ctx, cfg.Fragments, func(reg *shader.Registry, err error) {
		if err != nil {
			rep.failure(err)
			return
		}
		eng.SetRegistry(reg)
		if err := render(ctx, eng, req, rep); err != nil {
			rep.failure(err)
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// render submits req, reports its progress and writes the result to
// req.Target.
func render(ctx context.Context, eng *fractal.Engine, req fractal.Request, rep *reporter) error {
	h, err := eng.Submit(req)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Forget(h) }()

	stop := context.AfterFunc(ctx, func() { _ = eng.Cancel(h) })
	defer stop()

	events, err := eng.Subscribe(h)
	if err != nil {
		return err
	}
	for ev := range events {
		switch ev.Kind {
		case fractal.EventProgress:
			rep.progress(req.Target, ev.Done, ev.Total)
		case fractal.EventComplete:
			if err := writePNG(req.Target, ev.Output); err != nil {
				return err
			}
			rep.complete(req.Target, ev.Output.Pixels(), eng.Stats())
		case fractal.EventCancelled:
			rep.cancelled(req.Target)
			return ctx.Err()
		case fractal.EventFailed:
			return fmt.Errorf("%s: %w", ev.ErrorKind, ev.Err)
		}
	}
	return nil
}

func writePNG(path string, img *fractal.PixelBuffer) (err error) {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return png.Encode(f, img)
}
