// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package sdfgen

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"math"

	"github.com/pierrec/lz4/v4"
)

// MaxRasterSize is the largest raster side length.
const MaxRasterSize = 1 << 14

// PixelFormat is the layout of a raster pixel. All formats store float32
// channels.
type PixelFormat uint8

const (
	FormatInvalid PixelFormat = iota
	FormatR32F
	FormatRG32F
	FormatRGBA32F
)

// Channels returns the number of channels per pixel, 0 for unknown formats.
func (f PixelFormat) Channels() int {
	switch f {
	case FormatR32F:
		return 1
	case FormatRG32F:
		return 2
	case FormatRGBA32F:
		return 4
	default:
		return 0
	}
}

// String returns the format name.
func (f PixelFormat) String() string {
	switch f {
	case FormatR32F:
		return "R32F"
	case FormatRG32F:
		return "RG32F"
	case FormatRGBA32F:
		return "RGBA32F"
	default:
		return fmt.Sprintf("PixelFormat(%d)", uint8(f))
	}
}

// Raster is a square float raster georeferenced by an Extent. Row 0 is the
// bottom row.
type Raster struct {
	size   int
	extent Extent
	format PixelFormat
	pix    []float32
}

func isPowerOfTwo(n int) bool { return n > 0 && n&(n-1) == 0 }

// AllocateSDF allocates a zeroed size x size raster. Size must be a power of
// two no larger than MaxRasterSize and the format must be known; otherwise
// it returns ErrAllocation.
func AllocateSDF(size int, extent Extent, format PixelFormat) (*Raster, error) {
	if !isPowerOfTwo(size) || size > MaxRasterSize {
		return nil, fmt.Errorf("%w: size %d is not a power of two up to %d", ErrAllocation, size, MaxRasterSize)
	}
	ch := format.Channels()
	if ch == 0 {
		return nil, fmt.Errorf("%w: unknown format %v", ErrAllocation, format)
	}
	return &Raster{
		size:   size,
		extent: extent,
		format: format,
		pix:    make([]float32, size*size*ch),
	}, nil
}

// AllocateNNF allocates a nearest-neighbor field: an RG32F raster.
func AllocateNNF(size int, extent Extent) (*Raster, error) {
	return AllocateSDF(size, extent, FormatRG32F)
}

// Size returns the side length in pixels.
func (r *Raster) Size() int { return r.size }

// Extent returns the world rectangle covered by the raster.
func (r *Raster) Extent() Extent { return r.extent }

// Format returns the pixel format.
func (r *Raster) Format() PixelFormat { return r.format }

// Pix returns the channel data, row-major from the bottom row.
func (r *Raster) Pix() []float32 { return r.pix }

// At returns channel c of pixel (x, y), or 0 outside the raster.
func (r *Raster) At(x, y, c int) float32 {
	ch := r.format.Channels()
	if x < 0 || y < 0 || x >= r.size || y >= r.size || c < 0 || c >= ch {
		return 0
	}
	return r.pix[(y*r.size+x)*ch+c]
}

// Set sets channel c of pixel (x, y). Out-of-range writes are ignored.
func (r *Raster) Set(x, y, c int, v float32) {
	ch := r.format.Channels()
	if x < 0 || y < 0 || x >= r.size || y >= r.size || c < 0 || c >= ch {
		return
	}
	r.pix[(y*r.size+x)*ch+c] = v
}

// Fill sets every channel of every pixel to v.
func (r *Raster) Fill(v float32) {
	for i := range r.pix {
		r.pix[i] = v
	}
}

// Clone returns a deep copy.
func (r *Raster) Clone() *Raster {
	c := *r
	c.pix = append([]float32(nil), r.pix...)
	return &c
}

// Nearest returns the reference pixel recorded at (x, y) of a
// nearest-neighbor field. ok is false for pixels without a reference.
func (r *Raster) Nearest(x, y int) (nx, ny int, ok bool) {
	fx, fy := r.At(x, y, 0), r.At(x, y, 1)
	if fx < 0 || fy < 0 {
		return -1, -1, false
	}
	return int(fx), int(fy), true
}

// ToImage renders channel 0, clamped to [0, 1], as a grayscale image with
// the raster's top row first.
func (r *Raster) ToImage() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, r.size, r.size))
	ch := r.format.Channels()
	for y := range r.size {
		row := img.Pix[(r.size-1-y)*img.Stride:]
		for x := range r.size {
			v := r.pix[(y*r.size+x)*ch]
			v = min(max(v, 0), 1)
			row[x] = uint8(v*255 + 0.5)
		}
	}
	return img
}

// Snapshot format: magic, header, then an lz4 frame of little-endian
// float32 channel data.
var snapshotMagic = [4]byte{'S', 'D', 'F', 'R'}

const snapshotVersion = 1

type snapshotHeader struct {
	Magic   [4]byte
	Version uint16
	Format  uint16
	Size    uint32
	Extent  [4]float64
}

// ErrBadSnapshot is returned by ReadSnapshot for malformed input.
var ErrBadSnapshot = errors.New("sdfgen: malformed raster snapshot")

// WriteSnapshot writes the raster to w as an lz4-compressed snapshot.
func (r *Raster) WriteSnapshot(w io.Writer) error {
	h := snapshotHeader{
		Magic:   snapshotMagic,
		Version: snapshotVersion,
		Format:  uint16(r.format),
		Size:    uint32(r.size), //nolint:gosec // bounded by MaxRasterSize
		Extent:  [4]float64{r.extent.MinX, r.extent.MinY, r.extent.MaxX, r.extent.MaxY},
	}
	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("sdfgen: write snapshot header: %w", err)
	}
	zw := lz4.NewWriter(w)
	bw := bufio.NewWriter(zw)
	var buf [4]byte
	for _, v := range r.pix {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		if _, err := bw.Write(buf[:]); err != nil {
			return fmt.Errorf("sdfgen: write snapshot: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("sdfgen: write snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("sdfgen: write snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot reads a raster written by WriteSnapshot.
func ReadSnapshot(rd io.Reader) (*Raster, error) {
	var h snapshotHeader
	if err := binary.Read(rd, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrBadSnapshot, err)
	}
	if h.Magic != snapshotMagic || h.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: unknown magic or version %d", ErrBadSnapshot, h.Version)
	}
	if h.Format > math.MaxUint8 {
		return nil, fmt.Errorf("%w: format %d", ErrBadSnapshot, h.Format)
	}
	r, err := AllocateSDF(int(h.Size), Extent{h.Extent[0], h.Extent[1], h.Extent[2], h.Extent[3]}, PixelFormat(h.Format))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadSnapshot, err)
	}
	br := bufio.NewReader(lz4.NewReader(rd))
	var buf [4]byte
	for i := range r.pix {
		if _, err := io.ReadFull(br, buf[:]); err != nil {
			return nil, fmt.Errorf("%w: data: %w", ErrBadSnapshot, err)
		}
		r.pix[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[:]))
	}
	return r, nil
}
