// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package sdfgen

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/gogpu/sdfgen/internal/jfa"
	"github.com/gogpu/sdfgen/internal/parallel"
)

// nnfBuilder turns a seeded jump-flood field into a nearest-neighbor field
// in place. Implementations run the same kernel and agree exactly.
type nnfBuilder interface {
	name() string

	// build floods field, a size x size grid of (x, y) pairs seeded by
	// jfa.Seed. On error field holds the last completed pass.
	build(ctx context.Context, field []int32, size int) error
}

// canceled wraps a context error in ErrCanceled.
func canceled(err error) error {
	return fmt.Errorf("%w: %w", ErrCanceled, err)
}

// cpuBuilder floods on the worker pool, one band of rows per worker.
type cpuBuilder struct {
	workers *parallel.WorkerPool
}

func (b *cpuBuilder) name() string { return "cpu" }

func (b *cpuBuilder) build(ctx context.Context, field []int32, size int) error {
	src := field
	dst := make([]int32, len(field))
	for _, step := range jfa.Steps(size) {
		var stopped atomic.Bool
		b.workers.Bands(size, func(lo, hi int) {
			for y := lo; y < hi; y++ {
				if stopped.Load() {
					return
				}
				if ctx.Err() != nil {
					stopped.Store(true)
					return
				}
				jfa.StepRow(src, dst, size, y, step)
			}
		})
		if stopped.Load() {
			if &src[0] != &field[0] {
				copy(field, src)
			}
			return canceled(ctx.Err())
		}
		src, dst = dst, src
	}
	if &src[0] != &field[0] {
		copy(field, src)
	}
	return nil
}

// storeField writes a flooded field into an RG32F raster.
func storeField(field []int32, nnf *Raster) {
	pix := nnf.Pix()
	for i, v := range field {
		pix[i] = float32(v)
	}
}
