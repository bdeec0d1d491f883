// Package sdfgen generates normalized distance fields from vector features
// or raster masks.
//
// # Overview
//
// Generation runs in two stages. CreateNearestNeighborField records, for
// every pixel, the coordinate of the nearest feature pixel (or the nearest
// non-feature pixel when inverted). CreateDistanceField turns that field
// into ground distances normalized to [0, 1] and merges them into an output
// raster, so several feature layers can accumulate into one field.
//
// # Quick Start
//
//	g := sdfgen.New()
//	defer g.Close()
//
//	extent := sdfgen.NewExtent(0, 0, 1000, 1000)
//	sdf, _ := sdfgen.AllocateSDF(512, extent, sdfgen.FormatR32F)
//
//	roads := &sdfgen.Features{Lines: lines, LineWidth: 4}
//	err := g.GenerateDistanceField(ctx, roads, sdf, false, 0, 50)
//
// # GPU Path
//
// With a dispatch registry the nearest-neighbor field can be built on the
// GPU. Each jump-flood pass is one invocation of a dispatch task, so the
// render loop never blocks on the device:
//
//	reg := dispatch.NewRegistry(gpu.NewHostContext(0))
//	g := sdfgen.New(sdfgen.WithDispatch(reg), sdfgen.WithGPU(true))
//	go reg.RunFrames(ctx, time.Millisecond)
//
// Builds wait for frames, so they must not run on the goroutine that calls
// Registry.Frame.
//
// Both paths evaluate the same kernel with integer distances and produce
// identical fields. If the GPU path fails the generator logs a warning and
// uses the CPU.
//
// # Coordinate System
//
// Rasters are square with a power-of-two side. Row 0 is the bottom row and
// maps to the extent's MinY; nearest-neighbor coordinates are pixel
// indices from the lower-left corner.
//
// # Cancellation
//
// Every operation takes a context.Context, checked once per row on the CPU
// and once per pass on the GPU. A canceled operation returns an error
// wrapping ErrCanceled and leaves its output partially written.
//
// # Logging
//
// Nothing is logged by default. See SetLogger.
package sdfgen
