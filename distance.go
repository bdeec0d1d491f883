// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package sdfgen

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
)

// CreateDistanceField converts a nearest-neighbor field into normalized
// distances and merges them into channel 0 of sdf.
//
// The pixel distance to the recorded neighbor is scaled by groundScale,
// world units per pixel, into a ground distance d. Distances at or below
// minDist become 0, at or above maxDist 1, and linear in between. Pixels
// without a neighbor count as 1. A groundScale of zero or less uses the
// ground resolution of the field's extent.
//
// sdf must have the field's size. Each contribution is added to the
// existing value (CombineAdd) or replaces it when smaller (CombineMin). On
// cancellation the rows already processed stay written and the error wraps
// ErrCanceled.
func (g *Generator) CreateDistanceField(ctx context.Context, nnf, sdf *Raster, groundScale, minDist, maxDist float64) error {
	if nnf == nil || nnf.Format() != FormatRG32F {
		return fmt.Errorf("%w: nearest-neighbor field must be RG32F", ErrAllocation)
	}
	if sdf == nil || sdf.Size() != nnf.Size() {
		return fmt.Errorf("%w: distance field must match the %dx%d neighbor field", ErrAllocation, nnf.Size(), nnf.Size())
	}
	if !(maxDist > minDist) {
		return fmt.Errorf("%w: [%g, %g]", ErrInvalidRange, minDist, maxDist)
	}
	if err := ctx.Err(); err != nil {
		return canceled(err)
	}

	size := nnf.Size()
	if groundScale <= 0 {
		groundScale = nnf.Extent().GroundResolution(size)
	}
	span := maxDist - minDist
	ch := sdf.Format().Channels()
	src, dst := nnf.Pix(), sdf.Pix()
	combine := g.combine

	var stopped atomic.Bool
	g.workers.Bands(size, func(lo, hi int) {
		for y := lo; y < hi; y++ {
			if stopped.Load() {
				return
			}
			if ctx.Err() != nil {
				stopped.Store(true)
				return
			}
			for x := range size {
				i := y*size + x
				v := float32(1)
				nx, ny := src[2*i], src[2*i+1]
				if nx >= 0 && ny >= 0 {
					d := math.Hypot(float64(nx)-float64(x), float64(ny)-float64(y)) * groundScale
					v = float32(min(max((d-minDist)/span, 0), 1))
				}
				j := i * ch
				switch combine {
				case CombineMin:
					dst[j] = min(dst[j], v)
				default:
					dst[j] += v
				}
			}
		}
	})
	if stopped.Load() {
		return canceled(ctx.Err())
	}
	return nil
}

// GenerateDistanceField builds the nearest-neighbor field of src and
// merges its distances into sdf in one call. The field is allocated with
// sdf's size and extent.
func (g *Generator) GenerateDistanceField(ctx context.Context, src FeatureSource, sdf *Raster, inverted bool, minDist, maxDist float64) error {
	nnf, err := AllocateNNF(sdf.Size(), sdf.Extent())
	if err != nil {
		return err
	}
	if err := g.CreateNearestNeighborField(ctx, src, sdf.Size(), sdf.Extent(), inverted, nnf); err != nil {
		return err
	}
	return g.CreateDistanceField(ctx, nnf, sdf, 0, minDist, maxDist)
}
