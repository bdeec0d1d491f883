// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package sdfgen

import (
	"image"

	"github.com/disintegration/imaging"
)

// CoverageThreshold is the smallest mask value counted as a feature pixel.
const CoverageThreshold = 128

// Mask is a rasterized feature layer. Values range from 0 (empty) to 255
// (fully covered); pixels at or above CoverageThreshold are feature pixels.
// Row 0 is the bottom row, matching Raster.
type Mask struct {
	width  int
	height int
	data   []uint8
}

// NewMask creates a new empty mask with the given dimensions.
func NewMask(width, height int) *Mask {
	return &Mask{
		width:  width,
		height: height,
		data:   make([]uint8, width*height),
	}
}

// NewMaskFromAlpha creates a mask from an image's alpha channel. The top
// row of the image becomes the top row of the mask.
func NewMaskFromAlpha(img image.Image) *Mask {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	mask := NewMask(w, h)

	for y := 0; y < h; y++ {
		row := mask.data[(h-1-y)*w:]
		for x := 0; x < w; x++ {
			_, _, _, a := img.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()
			// #nosec G115 -- safe: a>>8 is always in range [0, 255]
			row[x] = uint8(a >> 8)
		}
	}

	return mask
}

// Bounds returns the mask dimensions as an image.Rectangle.
func (m *Mask) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.width, m.height)
}

// Width returns the mask width.
func (m *Mask) Width() int { return m.width }

// Height returns the mask height.
func (m *Mask) Height() int { return m.height }

// At returns the mask value at (x, y).
// Returns 0 for coordinates outside the mask bounds.
func (m *Mask) At(x, y int) uint8 {
	if x < 0 || x >= m.width || y < 0 || y >= m.height {
		return 0
	}
	return m.data[y*m.width+x]
}

// Set sets the mask value at (x, y).
// Coordinates outside the mask bounds are ignored.
func (m *Mask) Set(x, y int, value uint8) {
	if x < 0 || x >= m.width || y < 0 || y >= m.height {
		return
	}
	m.data[y*m.width+x] = value
}

// Covered reports whether (x, y) is a feature pixel.
func (m *Mask) Covered(x, y int) bool {
	return m.At(x, y) >= CoverageThreshold
}

// Count returns the number of feature pixels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.data {
		if v >= CoverageThreshold {
			n++
		}
	}
	return n
}

// Fill fills the entire mask with a value.
func (m *Mask) Fill(value uint8) {
	for i := range m.data {
		m.data[i] = value
	}
}

// Invert inverts all mask values (255 - value).
func (m *Mask) Invert() {
	for i := range m.data {
		m.data[i] = 255 - m.data[i]
	}
}

// Clear clears the mask (sets all values to 0).
func (m *Mask) Clear() {
	clear(m.data)
}

// Clone creates a copy of the mask.
func (m *Mask) Clone() *Mask {
	clone := NewMask(m.width, m.height)
	copy(clone.data, m.data)
	return clone
}

// Data returns the underlying mask data slice, row-major from the bottom
// row.
func (m *Mask) Data() []uint8 {
	return m.data
}

// ToImage returns the mask as a grayscale image, top row first.
func (m *Mask) ToImage() *image.Gray {
	img := image.NewGray(m.Bounds())
	for y := 0; y < m.height; y++ {
		copy(img.Pix[(m.height-1-y)*img.Stride:], m.data[y*m.width:(y+1)*m.width])
	}
	return img
}

// Resize returns the mask resampled to width x height with
// nearest-neighbor filtering, so feature pixels stay binary.
func (m *Mask) Resize(width, height int) *Mask {
	if width == m.width && height == m.height {
		return m.Clone()
	}
	src := m.ToImage()
	dst := imaging.Resize(src, width, height, imaging.NearestNeighbor)
	out := NewMask(width, height)
	for y := 0; y < height; y++ {
		row := dst.Pix[(height-1-y)*dst.Stride:]
		for x := 0; x < width; x++ {
			// Gray values were copied into every NRGBA channel.
			out.data[y*width+x] = row[x*4]
		}
	}
	return out
}

// coverage returns the feature pixels of the mask resampled to a
// size x size grid.
func (m *Mask) coverage(size int) []bool {
	src := m
	if m.width != size || m.height != size {
		src = m.Resize(size, size)
	}
	bits := make([]bool, size*size)
	for i, v := range src.data {
		bits[i] = v >= CoverageThreshold
	}
	return bits
}
