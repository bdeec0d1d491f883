// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package sdfgen

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Extent is a planar world rectangle covered by a raster. World units are
// whatever the caller's projection uses, typically meters.
type Extent struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

// NewExtent returns the extent spanning two corners in any order.
func NewExtent(x0, y0, x1, y1 float64) Extent {
	return Extent{
		MinX: math.Min(x0, x1), MinY: math.Min(y0, y1),
		MaxX: math.Max(x0, x1), MaxY: math.Max(y0, y1),
	}
}

// Width returns the world width.
func (e Extent) Width() float64 { return e.MaxX - e.MinX }

// Height returns the world height.
func (e Extent) Height() float64 { return e.MaxY - e.MinY }

// Valid reports whether the extent has positive area.
func (e Extent) Valid() bool { return e.Width() > 0 && e.Height() > 0 }

// String returns the extent as "[minX,minY - maxX,maxY]".
func (e Extent) String() string {
	return fmt.Sprintf("[%g,%g - %g,%g]", e.MinX, e.MinY, e.MaxX, e.MaxY)
}

// PixelToWorld returns the affine transform from pixel coordinates of a
// size x size raster to world coordinates. Pixel (0, 0) is the lower-left
// corner of the raster and pixel centers sit at half-integers.
func (e Extent) PixelToWorld(size int) mgl64.Mat3 {
	s := float64(size)
	return mgl64.Translate2D(e.MinX, e.MinY).Mul3(mgl64.Scale2D(e.Width()/s, e.Height()/s))
}

// WorldToPixel is the inverse of PixelToWorld.
func (e Extent) WorldToPixel(size int) mgl64.Mat3 {
	return e.PixelToWorld(size).Inv()
}

// ToWorld maps a pixel position to world coordinates.
func (e Extent) ToWorld(size int, p mgl64.Vec2) mgl64.Vec2 {
	return e.PixelToWorld(size).Mul3x1(p.Vec3(1)).Vec2()
}

// ToPixel maps a world position to pixel coordinates.
func (e Extent) ToPixel(size int, w mgl64.Vec2) mgl64.Vec2 {
	return e.WorldToPixel(size).Mul3x1(w.Vec3(1)).Vec2()
}

// GroundResolution returns the world size of one pixel of a size x size
// raster. Non-square extents use the larger axis.
func (e Extent) GroundResolution(size int) float64 {
	if size <= 0 {
		return 0
	}
	return math.Max(e.Width(), e.Height()) / float64(size)
}
