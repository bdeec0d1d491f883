// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package sdfgen

import (
	"errors"
	"image"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/image/vector"
)

// FeatureSource rasterizes vector features into a mask covering extent.
// Implementations add coverage and leave existing mask pixels alone.
type FeatureSource interface {
	Rasterize(mask *Mask, extent Extent) error
}

// FeatureFunc adapts a function to FeatureSource.
type FeatureFunc func(mask *Mask, extent Extent) error

// Rasterize calls f.
func (f FeatureFunc) Rasterize(mask *Mask, extent Extent) error { return f(mask, extent) }

// ErrInvalidExtent is returned when rasterizing into an empty extent.
var ErrInvalidExtent = errors.New("sdfgen: extent has no area")

// Features is a set of world-space vector features.
type Features struct {
	// Points are marked as single pixels.
	Points []mgl64.Vec2

	// Lines are polylines stroked LineWidth wide.
	Lines [][]mgl64.Vec2

	// Polygons are filled rings, closed implicitly. Overlapping rings
	// add coverage whatever their winding.
	Polygons [][]mgl64.Vec2

	// LineWidth is the stroke width in world units. Strokes are never
	// thinner than one pixel.
	LineWidth float64
}

// Empty reports whether there is nothing to rasterize.
func (f *Features) Empty() bool {
	return len(f.Points) == 0 && len(f.Lines) == 0 && len(f.Polygons) == 0
}

// Rasterize implements FeatureSource.
func (f *Features) Rasterize(mask *Mask, extent Extent) error {
	if !extent.Valid() {
		return ErrInvalidExtent
	}
	w, h := mask.Width(), mask.Height()
	sx := float64(w) / extent.Width()
	sy := float64(h) / extent.Height()

	// toImage maps world coordinates to rasterizer space, y down.
	toImage := func(p mgl64.Vec2) (float32, float32) {
		x := (p.X() - extent.MinX) * sx
		y := float64(h) - (p.Y()-extent.MinY)*sy
		return float32(x), float32(y)
	}

	// Each shape is rasterized on its own and composited over the others,
	// so opposite windings never cancel coverage.
	z := vector.NewRasterizer(w, h)
	alpha := image.NewAlpha(image.Rect(0, 0, w, h))
	drawn := false
	draw := func() {
		z.Draw(alpha, alpha.Bounds(), image.Opaque, image.Point{})
		z.Reset(w, h)
		drawn = true
	}

	for _, ring := range f.Polygons {
		if len(ring) < 3 {
			continue
		}
		x, y := toImage(ring[0])
		z.MoveTo(x, y)
		for _, p := range ring[1:] {
			x, y = toImage(p)
			z.LineTo(x, y)
		}
		z.ClosePath()
		draw()
	}

	half := math.Max(f.LineWidth*math.Max(sx, sy), 1) / 2
	for _, line := range f.Lines {
		for i := 1; i < len(line); i++ {
			ax, ay := toImage(line[i-1])
			bx, by := toImage(line[i])
			strokeSegment(z, ax, ay, bx, by, float32(half))
			draw()
		}
	}

	if drawn {
		for y := 0; y < h; y++ {
			row := alpha.Pix[(h-1-y)*alpha.Stride:]
			for x := 0; x < w; x++ {
				if row[x] > mask.At(x, y) {
					mask.Set(x, y, row[x])
				}
			}
		}
	}

	for _, p := range f.Points {
		x := int(math.Floor((p.X() - extent.MinX) * sx))
		y := int(math.Floor((p.Y() - extent.MinY) * sy))
		mask.Set(x, y, 255)
	}
	return nil
}

// strokeSegment adds a rectangle of half-width half around segment a-b,
// extended by half at both ends so joints close.
func strokeSegment(z *vector.Rasterizer, ax, ay, bx, by, half float32) {
	dx, dy := bx-ax, by-ay
	l := float32(math.Hypot(float64(dx), float64(dy)))
	if l == 0 {
		dx, dy, l = 1, 0, 1
	}
	// Unit direction scaled to half.
	ux, uy := dx/l*half, dy/l*half
	// Normal.
	nx, ny := -uy, ux
	ax, ay = ax-ux, ay-uy
	bx, by = bx+ux, by+uy

	z.MoveTo(ax+nx, ay+ny)
	z.LineTo(bx+nx, by+ny)
	z.LineTo(bx-nx, by-ny)
	z.LineTo(ax-nx, ay-ny)
	z.ClosePath()
}
