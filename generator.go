// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package sdfgen

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gogpu/sdfgen/compute"
	"github.com/gogpu/sdfgen/internal/jfa"
	"github.com/gogpu/sdfgen/internal/parallel"
)

// Generator builds nearest-neighbor and distance fields.
//
// A Generator is safe for concurrent use. Close releases its workers.
type Generator struct {
	useGPU  atomic.Bool
	combine CombineMode
	workers *parallel.WorkerPool

	cpu *cpuBuilder
	gpu *gpuBuilder // nil without a dispatch registry

	ownsSessions bool
	closed       atomic.Bool
}

// New creates a generator.
func New(opts ...Option) *Generator {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	workers := parallel.NewWorkerPool(o.workers)
	g := &Generator{
		combine: o.combine,
		workers: workers,
		cpu:     &cpuBuilder{workers: workers},
	}
	if o.registry != nil {
		sessions := o.sessions
		if sessions == nil {
			sessions = compute.NewSessionCache()
			g.ownsSessions = true
		}
		g.gpu = &gpuBuilder{reg: o.registry, pipeline: o.pipeline, sessions: sessions}
	}
	g.useGPU.Store(o.useGPU)
	return g
}

// Close stops the worker pool and releases cached compute sessions owned
// by the generator. Close is safe to call multiple times.
func (g *Generator) Close() {
	if !g.closed.CompareAndSwap(false, true) {
		return
	}
	g.workers.Close()
	if g.gpu != nil && g.ownsSessions {
		g.gpu.sessions.Close()
	}
}

// SetUseGPU selects the GPU path for nearest-neighbor fields. It only
// takes effect with a dispatch registry whose frame loop is running;
// otherwise builds fall back to the CPU path.
func (g *Generator) SetUseGPU(use bool) { g.useGPU.Store(use) }

// UseGPU reports the GPU toggle.
func (g *Generator) UseGPU() bool { return g.useGPU.Load() }

// CombineMode returns how distance contributions merge.
func (g *Generator) CombineMode() CombineMode { return g.combine }

// CreateNearestNeighborField rasterizes src into a mask covering extent and
// builds the nearest-neighbor field of its feature pixels into nnf. With
// inverted set, the field points at the nearest non-feature pixel instead.
//
// On error nnf may be partially written; ErrCanceled reports cancellation.
func (g *Generator) CreateNearestNeighborField(ctx context.Context, src FeatureSource, size int, extent Extent, inverted bool, nnf *Raster) error {
	if err := checkNNF(nnf, size); err != nil {
		return err
	}
	mask := NewMask(size, size)
	if err := src.Rasterize(mask, extent); err != nil {
		return fmt.Errorf("sdfgen: rasterize features: %w", err)
	}
	return g.CreateNearestNeighborFieldFromMask(ctx, mask, size, extent, inverted, nnf)
}

// CreateNearestNeighborFieldFromMask is CreateNearestNeighborField for an
// already rasterized mask. Masks of another size are resampled.
func (g *Generator) CreateNearestNeighborFieldFromMask(ctx context.Context, mask *Mask, size int, extent Extent, inverted bool, nnf *Raster) error {
	if err := checkNNF(nnf, size); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return canceled(err)
	}
	nnf.extent = extent

	field := make([]int32, 2*size*size)
	seeds := jfa.Seed(mask.coverage(size), size, inverted, field)
	if seeds == 0 {
		// Nothing to point at: every pixel keeps the empty sentinel.
		storeField(field, nnf)
		Logger().Debug("sdfgen: empty reference set", "size", size, "inverted", inverted)
		return nil
	}

	b := g.builder()
	err := b.build(ctx, field, size)
	if _, onCPU := b.(*cpuBuilder); err != nil && !onCPU && !errors.Is(err, ErrCanceled) {
		Logger().Warn("sdfgen: gpu flood failed, using cpu", "err", err)
		jfa.Seed(mask.coverage(size), size, inverted, field)
		b = g.cpu
		err = b.build(ctx, field, size)
	}
	storeField(field, nnf)
	if err != nil {
		return err
	}
	Logger().Debug("sdfgen: nearest-neighbor field", "size", size, "seeds", seeds, "path", b.name())
	return nil
}

// builder selects the flood implementation.
func (g *Generator) builder() nnfBuilder {
	if !g.useGPU.Load() {
		return g.cpu
	}
	if g.gpu == nil {
		Logger().Warn("sdfgen: gpu path requested without dispatch registry, using cpu", "err", ErrGPUUnavailable)
		return g.cpu
	}
	return g.gpu
}

func checkNNF(nnf *Raster, size int) error {
	if !isPowerOfTwo(size) {
		return fmt.Errorf("%w: size %d is not a power of two", ErrAllocation, size)
	}
	if nnf == nil || nnf.Format() != FormatRG32F || nnf.Size() != size {
		return fmt.Errorf("%w: nearest-neighbor field must be a %dx%d RG32F raster", ErrAllocation, size, size)
	}
	return nil
}
