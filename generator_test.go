// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package sdfgen

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/gogpu/sdfgen/compute"
	"github.com/gogpu/sdfgen/dispatch"
	"github.com/gogpu/sdfgen/gpu"
	"github.com/gogpu/sdfgen/internal/jfa"
)

// newGPUGenerator returns a generator whose GPU path runs on the host
// driver through pipeline, with a frame loop running until cleanup.
func newGPUGenerator(t *testing.T, pipeline string, opts ...dispatch.Option) *Generator {
	t.Helper()
	main := gpu.NewHostContext(2)
	reg := dispatch.NewRegistry(main, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = reg.RunFrames(ctx, time.Millisecond)
	}()

	g := New(WithDispatch(reg), WithPipeline(pipeline), WithGPU(true), WithWorkers(2))
	t.Cleanup(func() {
		cancel()
		<-done
		g.Close()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := reg.Shutdown(sctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
		main.Release()
	})
	return g
}

func newCPUGenerator(t *testing.T, opts ...Option) *Generator {
	t.Helper()
	g := New(append([]Option{WithWorkers(2)}, opts...)...)
	t.Cleanup(g.Close)
	return g
}

func pointMask(size int, points ...[2]int) *Mask {
	mask := NewMask(size, size)
	for _, p := range points {
		mask.Set(p[0], p[1], 255)
	}
	return mask
}

func buildNNF(t *testing.T, g *Generator, mask *Mask, size int, inverted bool) *Raster {
	t.Helper()
	nnf, err := AllocateNNF(size, NewExtent(0, 0, float64(size), float64(size)))
	if err != nil {
		t.Fatal(err)
	}
	if err := g.CreateNearestNeighborFieldFromMask(context.Background(), mask, size, nnf.Extent(), inverted, nnf); err != nil {
		t.Fatalf("CreateNearestNeighborFieldFromMask: %v", err)
	}
	return nnf
}

// countdownContext reports cancellation after its Err method has been
// called n times.
type countdownContext struct {
	context.Context
	left atomic.Int64
}

func newCountdownContext(n int64) *countdownContext {
	c := &countdownContext{Context: context.Background()}
	c.left.Store(n)
	return c
}

func (c *countdownContext) Err() error {
	if c.left.Add(-1) < 0 {
		return context.Canceled
	}
	return nil
}

func TestAllocateSDF(t *testing.T) {
	ext := NewExtent(0, 0, 1, 1)
	tests := []struct {
		size    int
		format  PixelFormat
		wantErr bool
	}{
		{1, FormatR32F, false},
		{64, FormatR32F, false},
		{256, FormatRGBA32F, false},
		{0, FormatR32F, true},
		{-4, FormatR32F, true},
		{3, FormatR32F, true},
		{100, FormatR32F, true},
		{MaxRasterSize * 2, FormatR32F, true},
		{64, FormatInvalid, true},
		{64, PixelFormat(42), true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%v", tt.size, tt.format), func(t *testing.T) {
			r, err := AllocateSDF(tt.size, ext, tt.format)
			if tt.wantErr {
				if !errors.Is(err, ErrAllocation) {
					t.Errorf("err = %v, want ErrAllocation", err)
				}
				if r != nil {
					t.Error("expected nil raster")
				}
				return
			}
			if err != nil {
				t.Fatalf("AllocateSDF: %v", err)
			}
			if len(r.Pix()) != tt.size*tt.size*tt.format.Channels() {
				t.Errorf("len(Pix) = %d", len(r.Pix()))
			}
		})
	}
}

func TestNearestNeighborFieldSinglePoint(t *testing.T) {
	const size = 32
	seed := [2]int{11, 5}
	mask := pointMask(size, seed)

	onCPU := buildNNF(t, newCPUGenerator(t), mask, size, false)
	for _, pipeline := range []string{"", "sdf"} {
		t.Run(fmt.Sprintf("%q", pipeline), func(t *testing.T) {
			onGPU := buildNNF(t, newGPUGenerator(t, pipeline), mask, size, false)
			if !slices.Equal(onCPU.Pix(), onGPU.Pix()) {
				t.Fatal("CPU and GPU fields differ")
			}
			for y := range size {
				for x := range size {
					nx, ny, ok := onGPU.Nearest(x, y)
					if !ok || nx != seed[0] || ny != seed[1] {
						t.Fatalf("pixel (%d,%d) -> (%d,%d,%v), want %v", x, y, nx, ny, ok, seed)
					}
				}
			}
		})
	}
}

func TestNearestNeighborFieldAgreement(t *testing.T) {
	const size = 64
	rng := rand.New(rand.NewPCG(1, 2))
	var points [][2]int
	for range 40 {
		points = append(points, [2]int{rng.IntN(size), rng.IntN(size)})
	}
	mask := pointMask(size, points...)

	for _, inverted := range []bool{false, true} {
		t.Run(fmt.Sprintf("inverted=%v", inverted), func(t *testing.T) {
			onCPU := buildNNF(t, newCPUGenerator(t), mask, size, inverted)
			onGPU := buildNNF(t, newGPUGenerator(t, "sdf"), mask, size, inverted)
			if !slices.Equal(onCPU.Pix(), onGPU.Pix()) {
				t.Error("CPU and GPU fields differ")
			}
			for y := range size {
				for x := range size {
					nx, ny, ok := onCPU.Nearest(x, y)
					if !ok || nx < 0 || ny < 0 || nx >= size || ny >= size {
						t.Fatalf("pixel (%d,%d) -> (%d,%d,%v) out of bounds", x, y, nx, ny, ok)
					}
					if mask.Covered(nx, ny) == inverted {
						t.Fatalf("pixel (%d,%d) points at a non-reference pixel", x, y)
					}
					if got, want := sqDist(x, y, nx, ny), nearestReference(mask, x, y, inverted); got != want {
						t.Fatalf("pixel (%d,%d) -> (%d,%d) d2=%d, nearest d2=%d", x, y, nx, ny, got, want)
					}
				}
			}
		})
	}
}

func sqDist(ax, ay, bx, by int) int {
	dx, dy := ax-bx, ay-by
	return dx*dx + dy*dy
}

// nearestReference returns the squared distance from (x, y) to the closest
// reference pixel of mask by exhaustive search.
func nearestReference(mask *Mask, x, y int, inverted bool) int {
	best := -1
	for ry := range mask.Height() {
		for rx := range mask.Width() {
			if mask.Covered(rx, ry) == inverted {
				continue
			}
			if d := sqDist(x, y, rx, ry); best < 0 || d < best {
				best = d
			}
		}
	}
	return best
}

func TestNearestNeighborFieldEmptyMask(t *testing.T) {
	const size = 8
	g := newCPUGenerator(t)
	nnf := buildNNF(t, g, NewMask(size, size), size, false)
	if _, _, ok := nnf.Nearest(3, 3); ok {
		t.Error("empty mask should leave the sentinel")
	}

	sdf, _ := AllocateSDF(size, nnf.Extent(), FormatR32F)
	if err := g.CreateDistanceField(context.Background(), nnf, sdf, 1, 0, 4); err != nil {
		t.Fatal(err)
	}
	for i, v := range sdf.Pix() {
		if v != 1 {
			t.Fatalf("pix[%d] = %g, want 1", i, v)
		}
	}
}

func TestNearestNeighborFieldResamplesMask(t *testing.T) {
	g := newCPUGenerator(t)
	mask := pointMask(4)
	mask.Set(0, 0, 255)
	nnf := buildNNF(t, g, mask, 16, false)
	// Mask pixel (0,0) covers pixels 0..3 on both axes.
	if nx, ny, _ := nnf.Nearest(15, 15); nx != 3 || ny != 3 {
		t.Errorf("Nearest(15,15) = (%d,%d), want (3,3)", nx, ny)
	}
}

func TestNearestNeighborFieldValidation(t *testing.T) {
	g := newCPUGenerator(t)
	ctx := context.Background()
	ext := NewExtent(0, 0, 1, 1)
	nnf, _ := AllocateNNF(16, ext)
	sdf, _ := AllocateSDF(16, ext, FormatR32F)

	if err := g.CreateNearestNeighborFieldFromMask(ctx, NewMask(12, 12), 12, ext, false, nnf); !errors.Is(err, ErrAllocation) {
		t.Errorf("non power of two: err = %v", err)
	}
	if err := g.CreateNearestNeighborFieldFromMask(ctx, NewMask(16, 16), 16, ext, false, sdf); !errors.Is(err, ErrAllocation) {
		t.Errorf("R32F field: err = %v", err)
	}
	if err := g.CreateNearestNeighborFieldFromMask(ctx, NewMask(8, 8), 8, ext, false, nnf); !errors.Is(err, ErrAllocation) {
		t.Errorf("size mismatch: err = %v", err)
	}
	if err := g.CreateDistanceField(ctx, nnf, sdf, 1, 5, 5); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("empty range: err = %v", err)
	}
}

func TestDistanceFieldMapping(t *testing.T) {
	const (
		size = 64
		maxD = 20.0
	)
	g := newCPUGenerator(t)
	seed := [2]int{10, 10}
	nnf := buildNNF(t, g, pointMask(size, seed), size, false)
	sdf, _ := AllocateSDF(size, nnf.Extent(), FormatR32F)
	if err := g.CreateDistanceField(context.Background(), nnf, sdf, 1, 0, maxD); err != nil {
		t.Fatal(err)
	}

	if got := sdf.At(seed[0], seed[1], 0); got != 0 {
		t.Errorf("feature pixel = %g, want 0", got)
	}
	for y := range size {
		for x := range size {
			v := sdf.At(x, y, 0)
			if v < 0 || v > 1 {
				t.Fatalf("(%d,%d) = %g outside [0,1]", x, y, v)
			}
			d := math.Hypot(float64(x-seed[0]), float64(y-seed[1]))
			if d >= maxD && v != 1 {
				t.Fatalf("(%d,%d) at distance %g = %g, want 1", x, y, d, v)
			}
		}
	}
	// Non-decreasing away from the seed.
	prev := float32(-1)
	for x := seed[0]; x < size; x++ {
		v := sdf.At(x, seed[1], 0)
		if v < prev {
			t.Fatalf("x=%d: %g < %g", x, v, prev)
		}
		prev = v
	}
	if got, want := sdf.At(seed[0]+5, seed[1], 0), float32(5/maxD); math.Abs(float64(got-want)) > 1e-6 {
		t.Errorf("distance 5 = %g, want %g", got, want)
	}
}

func TestDistanceFieldGroundScale(t *testing.T) {
	const size = 16
	g := newCPUGenerator(t)
	// 160 world units over 16 pixels: 10 units per pixel.
	ext := NewExtent(0, 0, 160, 160)
	nnf, _ := AllocateNNF(size, ext)
	if err := g.CreateNearestNeighborFieldFromMask(context.Background(), pointMask(size, [2]int{0, 0}), size, ext, false, nnf); err != nil {
		t.Fatal(err)
	}
	sdf, _ := AllocateSDF(size, ext, FormatR32F)
	if err := g.CreateDistanceField(context.Background(), nnf, sdf, 0, 10, 50); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		x    int
		want float32
	}{
		{0, 0}, {1, 0}, {3, 0.5}, {5, 1}, {9, 1},
	}
	for _, tt := range tests {
		if got := sdf.At(tt.x, 0, 0); math.Abs(float64(got-tt.want)) > 1e-6 {
			t.Errorf("x=%d: got %g, want %g", tt.x, got, tt.want)
		}
	}
}

func TestDistanceFieldAccumulates(t *testing.T) {
	const size = 32
	g := newCPUGenerator(t)
	nnf := buildNNF(t, g, pointMask(size, [2]int{4, 20}, [2]int{25, 3}), size, false)

	once, _ := AllocateSDF(size, nnf.Extent(), FormatR32F)
	twice, _ := AllocateSDF(size, nnf.Extent(), FormatR32F)
	ctx := context.Background()
	if err := g.CreateDistanceField(ctx, nnf, once, 1, 0, 16); err != nil {
		t.Fatal(err)
	}
	for range 2 {
		if err := g.CreateDistanceField(ctx, nnf, twice, 1, 0, 16); err != nil {
			t.Fatal(err)
		}
	}
	for i := range once.Pix() {
		if twice.Pix()[i] != 2*once.Pix()[i] {
			t.Fatalf("pix[%d] = %g, want %g", i, twice.Pix()[i], 2*once.Pix()[i])
		}
	}
}

func TestDistanceFieldCombineMin(t *testing.T) {
	const size = 32
	g := newCPUGenerator(t, WithCombineMode(CombineMin))
	if g.CombineMode() != CombineMin {
		t.Fatalf("CombineMode = %v", g.CombineMode())
	}
	left := buildNNF(t, g, pointMask(size, [2]int{0, 16}), size, false)
	right := buildNNF(t, g, pointMask(size, [2]int{31, 16}), size, false)
	both := buildNNF(t, g, pointMask(size, [2]int{0, 16}, [2]int{31, 16}), size, false)

	ctx := context.Background()
	layered, _ := AllocateSDF(size, left.Extent(), FormatR32F)
	layered.Fill(1)
	for _, nnf := range []*Raster{left, right} {
		if err := g.CreateDistanceField(ctx, nnf, layered, 1, 0, 40); err != nil {
			t.Fatal(err)
		}
	}
	single, _ := AllocateSDF(size, both.Extent(), FormatR32F)
	single.Fill(1)
	if err := g.CreateDistanceField(ctx, both, single, 1, 0, 40); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(layered.Pix(), single.Pix()) {
		t.Error("min of two layers differs from one layer with both features")
	}
}

func TestCancellation(t *testing.T) {
	const size = 128
	mask := pointMask(size, [2]int{1, 1}, [2]int{100, 90})

	t.Run("before start", func(t *testing.T) {
		g := newCPUGenerator(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		nnf, _ := AllocateNNF(size, NewExtent(0, 0, 1, 1))
		err := g.CreateNearestNeighborFieldFromMask(ctx, mask, size, nnf.Extent(), false, nnf)
		if !errors.Is(err, ErrCanceled) || !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want ErrCanceled wrapping context.Canceled", err)
		}
	})

	t.Run("cpu flood", func(t *testing.T) {
		g := newCPUGenerator(t)
		nnf, _ := AllocateNNF(size, NewExtent(0, 0, 1, 1))
		// Enough checks for the first passes, not for the whole flood.
		ctx := newCountdownContext(3 * size)
		err := g.CreateNearestNeighborFieldFromMask(ctx, mask, size, nnf.Extent(), false, nnf)
		if !errors.Is(err, ErrCanceled) {
			t.Fatalf("err = %v, want ErrCanceled", err)
		}
		for y := range size {
			for x := range size {
				if nx, ny, ok := nnf.Nearest(x, y); ok && (nx >= size || ny >= size) {
					t.Fatalf("pixel (%d,%d) -> (%d,%d) out of bounds", x, y, nx, ny)
				}
			}
		}
	})

	t.Run("distance", func(t *testing.T) {
		g := newCPUGenerator(t)
		nnf := buildNNF(t, g, mask, size, false)
		sdf, _ := AllocateSDF(size, nnf.Extent(), FormatR32F)
		ctx := newCountdownContext(size / 2)
		err := g.CreateDistanceField(ctx, nnf, sdf, 1, 0, 10)
		if !errors.Is(err, ErrCanceled) {
			t.Fatalf("err = %v, want ErrCanceled", err)
		}
		for i, v := range sdf.Pix() {
			if math.IsNaN(float64(v)) || v < 0 || v > 1 {
				t.Fatalf("pix[%d] = %g", i, v)
			}
		}
	})

	// The test goroutine stands in for a render loop that builds instead of
	// calling Frame: the build cannot finish and only the deadline ends it.
	for _, pipeline := range []string{"", "sdf"} {
		t.Run(fmt.Sprintf("gpu without frames %q", pipeline), func(t *testing.T) {
			main := gpu.NewHostContext(1)
			defer main.Release()
			reg := dispatch.NewRegistry(main)
			defer func() { _ = reg.Shutdown(context.Background()) }()
			g := New(WithDispatch(reg), WithPipeline(pipeline), WithGPU(true))
			defer g.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			nnf, _ := AllocateNNF(size, NewExtent(0, 0, 1, 1))
			err := g.CreateNearestNeighborFieldFromMask(ctx, mask, size, nnf.Extent(), false, nnf)
			if !errors.Is(err, ErrCanceled) || !errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("err = %v, want ErrCanceled wrapping DeadlineExceeded", err)
			}
			// No pass ran: only seeds have a neighbor.
			if nx, ny, ok := nnf.Nearest(100, 90); !ok || nx != 100 || ny != 90 {
				t.Errorf("seed pixel = (%d,%d,%v)", nx, ny, ok)
			}
			if _, _, ok := nnf.Nearest(50, 50); ok {
				t.Error("non-seed pixel was flooded")
			}
		})
	}
}

func TestGPUFallsBackToCPU(t *testing.T) {
	const size = 16
	g := newGPUGenerator(t, "broken", dispatch.WithContextFactory(func(*gpu.Context, string) (*gpu.Context, error) {
		return nil, errors.New("no adapter")
	}))
	want := buildNNF(t, newCPUGenerator(t), pointMask(size, [2]int{7, 7}), size, false)
	got := buildNNF(t, g, pointMask(size, [2]int{7, 7}), size, false)
	if !slices.Equal(want.Pix(), got.Pix()) {
		t.Error("fallback field differs from the CPU field")
	}
}

func TestSetUseGPU(t *testing.T) {
	g := newCPUGenerator(t)
	if g.UseGPU() {
		t.Error("GPU enabled by default")
	}
	g.SetUseGPU(true)
	if !g.UseGPU() {
		t.Error("SetUseGPU(true) not applied")
	}
	if _, ok := g.builder().(*cpuBuilder); !ok {
		t.Error("without a registry the CPU builder must be used")
	}
	g.Close()
	g.Close()
}

func TestGenerateDistanceFieldFromFeatures(t *testing.T) {
	const size = 64
	g := newGPUGenerator(t, "sdf")
	ext := NewExtent(0, 0, 640, 640)
	sdf, _ := AllocateSDF(size, ext, FormatR32F)

	// A horizontal road through the middle, four pixels wide.
	roads := &Features{
		Lines:     [][]mgl64.Vec2{{{0, 320}, {640, 320}}},
		LineWidth: 40,
	}
	if err := g.GenerateDistanceField(context.Background(), roads, sdf, false, 0, 100); err != nil {
		t.Fatal(err)
	}
	if v := sdf.At(10, size/2, 0); v != 0 {
		t.Errorf("on the road = %g, want 0", v)
	}
	if v := sdf.At(10, 0, 0); v != 1 {
		t.Errorf("far from the road = %g, want 1", v)
	}
	if a, b := sdf.At(10, size/2+3, 0), sdf.At(10, size/2+6, 0); !(a > 0 && a < b) {
		t.Errorf("distance should grow away from the road: %g, %g", a, b)
	}
}

func TestNearestNeighborFieldAgreementOnDevice(t *testing.T) {
	if testing.Short() {
		t.Skip("device test")
	}
	main, err := gpu.OpenContext()
	if err != nil {
		t.Skipf("no GPU: %v", err)
	}
	reg := dispatch.NewRegistry(main)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = reg.RunFrames(ctx, time.Millisecond)
	}()
	g := New(WithDispatch(reg), WithGPU(true))
	defer func() {
		cancel()
		<-done
		g.Close()
		_ = reg.Shutdown(context.Background())
		main.Release()
	}()

	const size = 128
	mask := pointMask(size, [2]int{3, 100}, [2]int{64, 64}, [2]int{120, 7})
	want := buildNNF(t, newCPUGenerator(t), mask, size, false)

	// Call the GPU builder directly so a CPU fallback cannot hide failures.
	field := make([]int32, 2*size*size)
	jfa.Seed(mask.coverage(size), size, false, field)
	if err := g.gpu.build(context.Background(), field, size); err != nil {
		t.Fatalf("gpu build: %v", err)
	}
	got, _ := AllocateNNF(size, want.Extent())
	storeField(field, got)
	if !slices.Equal(want.Pix(), got.Pix()) {
		t.Error("device field differs from the CPU field")
	}
}

func TestSharedSessionCache(t *testing.T) {
	const size = 16
	cache := compute.NewSessionCache()
	defer cache.Close()

	main := gpu.NewHostContext(2)
	reg := dispatch.NewRegistry(main)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = reg.RunFrames(ctx, time.Millisecond)
	}()
	defer func() {
		cancel()
		<-done
		_ = reg.Shutdown(context.Background())
		main.Release()
	}()

	mask := pointMask(size, [2]int{2, 3})
	for range 3 {
		g := New(WithDispatch(reg), WithGPU(true), WithSessionCache(cache))
		buildNNF(t, g, mask, size, false)
		g.Close()
	}
	if got := cache.Created(); got != 1 {
		t.Errorf("sessions created = %d, want 1", got)
	}
	if got := cache.Idle(); got != 1 {
		t.Errorf("idle sessions = %d, want 1", got)
	}
}

func TestCombineModeString(t *testing.T) {
	tests := []struct {
		m    CombineMode
		want string
	}{
		{CombineAdd, "add"},
		{CombineMin, "min"},
		{CombineMode(7), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.m.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
