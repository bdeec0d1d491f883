// Command sdfgen rasterizes a set of demo features and writes their
// distance field as a PNG preview and an lz4 raster snapshot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image/png"
	"log"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/term"

	"github.com/gogpu/sdfgen"
	"github.com/gogpu/sdfgen/dispatch"
	"github.com/gogpu/sdfgen/gpu"
)

func main() {
	var (
		size     = flag.Int("size", 512, "raster size, a power of two")
		world    = flag.Float64("world", 1000, "extent side length in world units")
		maxDist  = flag.Float64("max", 60, "distance mapped to 1.0, world units")
		minDist  = flag.Float64("min", 0, "distance mapped to 0.0, world units")
		inverted = flag.Bool("inverted", false, "measure distance to the outside of features")
		device   = flag.String("device", "cpu", "nearest-neighbor path: cpu, host or gpu")
		output   = flag.String("output", "sdf.png", "PNG preview file")
		snapshot = flag.String("snapshot", "", "lz4 raster snapshot file")
		timeout  = flag.Duration("timeout", time.Minute, "abort after this long")
		verbose  = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	if *verbose {
		sdfgen.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	start := time.Now()
	sdf, err := run(ctx, *device, *size, *world, *minDist, *maxDist, *inverted)
	if err != nil {
		if errors.Is(err, sdfgen.ErrCanceled) {
			log.Fatalf("Canceled after %v", time.Since(start).Round(time.Millisecond))
		}
		log.Fatalf("Failed: %v", err)
	}
	status(fmt.Sprintf("distance field %dx%d in %v", *size, *size, time.Since(start).Round(time.Millisecond)))

	if err := writePNG(*output, sdf); err != nil {
		log.Fatalf("Failed to save: %v", err)
	}
	if *snapshot != "" {
		if err := writeSnapshot(*snapshot, sdf); err != nil {
			log.Fatalf("Failed to save snapshot: %v", err)
		}
	}
	log.Printf("Distance field saved to %s\n", *output)
}

func run(ctx context.Context, device string, size int, world, minDist, maxDist float64, inverted bool) (*sdfgen.Raster, error) {
	extent := sdfgen.NewExtent(0, 0, world, world)
	sdf, err := sdfgen.AllocateSDF(size, extent, sdfgen.FormatR32F)
	if err != nil {
		return nil, err
	}

	var opts []sdfgen.Option
	if device != "cpu" {
		main, err := openContext(device)
		if err != nil {
			return nil, err
		}
		defer main.Release()

		reg := dispatch.NewRegistry(main)
		defer func() { _ = reg.Shutdown(context.Background()) }()

		frames, stopFrames := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = reg.RunFrames(frames, time.Millisecond)
		}()
		defer func() {
			stopFrames()
			<-done
		}()

		opts = append(opts, sdfgen.WithDispatch(reg), sdfgen.WithGPU(true))
	}

	g := sdfgen.New(opts...)
	defer g.Close()

	status("rasterizing features")
	if err := g.GenerateDistanceField(ctx, demoFeatures(world), sdf, inverted, minDist, maxDist); err != nil {
		return nil, err
	}
	return sdf, nil
}

func openContext(device string) (*gpu.Context, error) {
	switch device {
	case "host":
		return gpu.NewHostContext(0), nil
	case "gpu":
		c, err := gpu.OpenContext()
		if err != nil {
			log.Printf("No GPU (%v), using the host device", err)
			return gpu.NewHostContext(0), nil
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown device %q", device)
	}
}

// demoFeatures is a small map: a river, a road grid, a lake and wells.
func demoFeatures(world float64) *sdfgen.Features {
	s := world / 1000
	f := &sdfgen.Features{LineWidth: 6 * s}

	var river []mgl64.Vec2
	for i := 0; i <= 40; i++ {
		x := float64(i) * 25 * s
		river = append(river, mgl64.Vec2{x, 500*s + 120*s*math.Sin(x/(160*s))})
	}
	f.Lines = append(f.Lines, river)

	for _, x := range []float64{200, 450, 800} {
		f.Lines = append(f.Lines, []mgl64.Vec2{{x * s, 0}, {x * s, world}})
	}
	f.Lines = append(f.Lines, []mgl64.Vec2{{0, 850 * s}, {world, 820 * s}})

	var lake []mgl64.Vec2
	for i := range 24 {
		a := float64(i) / 24 * 2 * math.Pi
		lake = append(lake, mgl64.Vec2{650*s + 90*s*math.Cos(a), 220*s + 60*s*math.Sin(a)})
	}
	f.Polygons = append(f.Polygons, lake)

	f.Points = []mgl64.Vec2{{100 * s, 100 * s}, {900 * s, 300 * s}, {320 * s, 700 * s}}
	return f
}

// status prints progress on interactive terminals only.
func status(msg string) {
	if term.IsTerminal(int(os.Stderr.Fd())) { //nolint:gosec // fd fits int
		fmt.Fprintln(os.Stderr, msg)
	}
}

func writePNG(path string, sdf *sdfgen.Raster) error {
	f, err := os.Create(path) //nolint:gosec // user-supplied output path
	if err != nil {
		return err
	}
	if err := png.Encode(f, sdf.ToImage()); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func writeSnapshot(path string, sdf *sdfgen.Raster) error {
	f, err := os.Create(path) //nolint:gosec // user-supplied output path
	if err != nil {
		return err
	}
	if err := sdf.WriteSnapshot(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
