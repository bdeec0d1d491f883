// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package jfa implements the jump flooding algorithm for nearest-neighbor
// fields.
//
// A field is a square grid of size*size seed coordinates stored as
// interleaved int32 pairs, row 0 at the bottom. A pixel without a known
// seed holds (Empty, Empty).
//
// Each pass visits the pixel itself and then its eight neighbors at
// distance step, in a fixed order, keeping a candidate only when its
// integer squared distance is strictly smaller. Steps ends with two
// correction passes so every pixel records its nearest seed. The host
// kernel and the
// WGSL shader evaluate exactly the same sequence, so CPU and GPU passes
// produce identical fields.
package jfa

import (
	_ "embed"
	"encoding/binary"
)

// Empty marks a pixel with no seed.
const Empty int32 = -1

// WorkgroupSize is the edge of the square compute workgroup.
const WorkgroupSize = 8

// ParamsSize is the byte size of the uniform block: size, step and padding.
const ParamsSize = 16

// WGSL is the compute shader for one pass.
//
//go:embed shaders/jfa.wgsl
var WGSL string

// neighbors lists offsets in evaluation order; the pixel itself comes first.
var neighbors = [9][2]int32{
	{0, 0},
	{-1, -1}, {0, -1}, {1, -1},
	{-1, 0}, {1, 0},
	{-1, 1}, {0, 1}, {1, 1},
}

// Seed initializes field from a mask. A pixel is a seed when its mask value
// differs from inverted. It returns the number of seeds.
func Seed(mask []bool, size int, inverted bool, field []int32) int {
	seeds := 0
	for y := range size {
		for x := range size {
			i := y*size + x
			if mask[i] != inverted {
				field[2*i] = int32(x)   //nolint:gosec // bounded by size
				field[2*i+1] = int32(y) //nolint:gosec // bounded by size
				seeds++
			} else {
				field[2*i] = Empty
				field[2*i+1] = Empty
			}
		}
	}
	return seeds
}

// Steps returns the step lengths of a full flood: size/2, size/4, ... 1,
// then two correction passes of 2 and 1. Without them a few pixels keep a
// seed that is not the nearest one.
func Steps(size int) []int {
	if size < 2 {
		return nil
	}
	var steps []int
	for k := size / 2; k >= 1; k /= 2 {
		steps = append(steps, k)
	}
	return append(steps, 2, 1)
}

// Best returns the closest seed visible from (x, y) at the given step.
func Best(src []int32, size int, x, y, step int32) (int32, int32) {
	bx, by, bd := Empty, Empty, int32(-1)
	n := int32(size) //nolint:gosec // field sizes fit int32
	for _, o := range neighbors {
		qx, qy := x+o[0]*step, y+o[1]*step
		if qx < 0 || qy < 0 || qx >= n || qy >= n {
			continue
		}
		j := 2 * (qy*n + qx)
		sx, sy := src[j], src[j+1]
		if sx < 0 {
			continue
		}
		dx, dy := sx-x, sy-y
		d := dx*dx + dy*dy
		if bd < 0 || d < bd {
			bx, by, bd = sx, sy, d
		}
	}
	return bx, by
}

// StepRow runs one pass over row y, reading src and writing dst.
func StepRow(src, dst []int32, size, y, step int) {
	s := int32(step) //nolint:gosec // step < size
	yy := int32(y)   //nolint:gosec // row < size
	for x := range size {
		bx, by := Best(src, size, int32(x), yy, s) //nolint:gosec // column < size
		i := 2 * (y*size + x)
		dst[i], dst[i+1] = bx, by
	}
}

// Encode writes field as little-endian int32 pairs.
func Encode(field []int32, dst []byte) {
	for i, v := range field {
		binary.LittleEndian.PutUint32(dst[4*i:], uint32(v)) //nolint:gosec // bit pattern round trip
	}
}

// Decode reads little-endian int32 pairs into field.
func Decode(src []byte, field []int32) {
	for i := range field {
		field[i] = int32(binary.LittleEndian.Uint32(src[4*i:])) //nolint:gosec // bit pattern round trip
	}
}

// Params encodes the uniform block for one pass.
func Params(size, step int) []byte {
	b := make([]byte, ParamsSize)
	binary.LittleEndian.PutUint32(b[0:], uint32(size)) //nolint:gosec // positive
	binary.LittleEndian.PutUint32(b[4:], uint32(step)) //nolint:gosec // positive
	return b
}

// HostKernel runs one workgroup of the WGSL shader on the CPU. Bindings
// are params, src and dst, matching the shader.
func HostKernel(group [3]uint32, buffers [][]byte) {
	params, src, dst := buffers[0], buffers[1], buffers[2]
	size := int32(binary.LittleEndian.Uint32(params[0:])) //nolint:gosec // written by Params
	step := int32(binary.LittleEndian.Uint32(params[4:])) //nolint:gosec // written by Params

	x0 := int32(group[0]) * WorkgroupSize //nolint:gosec // group count bounded by size
	y0 := int32(group[1]) * WorkgroupSize //nolint:gosec // group count bounded by size
	for y := y0; y < min(y0+WorkgroupSize, size); y++ {
		for x := x0; x < min(x0+WorkgroupSize, size); x++ {
			bx, by := bestBytes(src, size, x, y, step)
			i := 8 * (y*size + x)
			binary.LittleEndian.PutUint32(dst[i:], uint32(bx))   //nolint:gosec // bit pattern
			binary.LittleEndian.PutUint32(dst[i+4:], uint32(by)) //nolint:gosec // bit pattern
		}
	}
}

// bestBytes is Best over an encoded field.
func bestBytes(src []byte, n, x, y, step int32) (int32, int32) {
	bx, by, bd := Empty, Empty, int32(-1)
	for _, o := range neighbors {
		qx, qy := x+o[0]*step, y+o[1]*step
		if qx < 0 || qy < 0 || qx >= n || qy >= n {
			continue
		}
		j := 8 * (qy*n + qx)
		sx := int32(binary.LittleEndian.Uint32(src[j:]))   //nolint:gosec // bit pattern
		sy := int32(binary.LittleEndian.Uint32(src[j+4:])) //nolint:gosec // bit pattern
		if sx < 0 {
			continue
		}
		dx, dy := sx-x, sy-y
		d := dx*dx + dy*dy
		if bd < 0 || d < bd {
			bx, by, bd = sx, sy, d
		}
	}
	return bx, by
}

// Groups returns the workgroup count covering one edge of the field.
func Groups(size int) uint32 {
	return uint32((size + WorkgroupSize - 1) / WorkgroupSize) //nolint:gosec // positive
}
