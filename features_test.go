// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package sdfgen

import (
	"errors"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func TestFeaturesPoints(t *testing.T) {
	mask := NewMask(10, 10)
	f := &Features{Points: []mgl64.Vec2{{15, 25}, {99, 99}, {-1, 3}}}
	if err := f.Rasterize(mask, NewExtent(0, 0, 100, 100)); err != nil {
		t.Fatal(err)
	}
	if !mask.Covered(1, 2) || !mask.Covered(9, 9) {
		t.Error("points not marked")
	}
	if got := mask.Count(); got != 2 {
		t.Errorf("Count() = %d, want 2", got)
	}
}

func TestFeaturesPolygon(t *testing.T) {
	mask := NewMask(16, 16)
	// Lower-left quarter of the extent.
	f := &Features{Polygons: [][]mgl64.Vec2{{{0, 0}, {8, 0}, {8, 8}, {0, 8}}}}
	if err := f.Rasterize(mask, NewExtent(0, 0, 16, 16)); err != nil {
		t.Fatal(err)
	}
	if got := mask.Count(); got != 64 {
		t.Errorf("Count() = %d, want 64", got)
	}
	if !mask.Covered(0, 0) || !mask.Covered(7, 7) || mask.Covered(8, 8) || mask.Covered(15, 15) {
		t.Error("polygon is not the lower-left quarter")
	}
}

func TestFeaturesLine(t *testing.T) {
	mask := NewMask(32, 32)
	f := &Features{
		Lines:     [][]mgl64.Vec2{{{4, 16}, {28, 16}}},
		LineWidth: 2,
	}
	if err := f.Rasterize(mask, NewExtent(0, 0, 32, 32)); err != nil {
		t.Fatal(err)
	}
	for x := 4; x < 28; x++ {
		if !mask.Covered(x, 15) || !mask.Covered(x, 16) {
			t.Fatalf("line pixel (%d, 15..16) not covered", x)
		}
	}
	if mask.Covered(16, 20) || mask.Covered(16, 10) {
		t.Error("line is too wide")
	}
}

func TestFeaturesOverlapKeepsCoverage(t *testing.T) {
	ext := NewExtent(0, 0, 32, 32)
	square := []mgl64.Vec2{{8, 8}, {24, 8}, {24, 24}, {8, 24}}
	tests := []struct {
		name string
		f    *Features
	}{
		{"line across polygon", &Features{
			Polygons:  [][]mgl64.Vec2{square},
			Lines:     [][]mgl64.Vec2{{{28, 16}, {4, 16}}},
			LineWidth: 2,
		}},
		{"opposite rings", &Features{
			Polygons: [][]mgl64.Vec2{square, {{8, 8}, {8, 24}, {24, 24}, {24, 8}}},
		}},
		{"folded line", &Features{
			Lines:     [][]mgl64.Vec2{{{4, 16}, {28, 16}, {4, 16}}},
			LineWidth: 2,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mask := NewMask(32, 32)
			if err := tt.f.Rasterize(mask, ext); err != nil {
				t.Fatal(err)
			}
			for _, p := range [][2]int{{16, 15}, {16, 16}, {10, 15}, {20, 16}} {
				if !mask.Covered(p[0], p[1]) {
					t.Errorf("pixel %v not covered", p)
				}
			}
		})
	}
}

func TestFeaturesKeepsExistingCoverage(t *testing.T) {
	mask := NewMask(8, 8)
	mask.Set(7, 7, 255)
	f := &Features{Points: []mgl64.Vec2{{0, 0}}}
	if err := f.Rasterize(mask, NewExtent(0, 0, 8, 8)); err != nil {
		t.Fatal(err)
	}
	if !mask.Covered(7, 7) || !mask.Covered(0, 0) {
		t.Error("existing coverage lost")
	}
}

func TestFeaturesInvalidExtent(t *testing.T) {
	f := &Features{Points: []mgl64.Vec2{{0, 0}}}
	if err := f.Rasterize(NewMask(4, 4), Extent{}); !errors.Is(err, ErrInvalidExtent) {
		t.Errorf("err = %v, want ErrInvalidExtent", err)
	}
	if !(&Features{}).Empty() || f.Empty() {
		t.Error("Empty() mismatch")
	}
}

func TestFeatureFunc(t *testing.T) {
	called := false
	src := FeatureFunc(func(mask *Mask, _ Extent) error {
		called = true
		mask.Fill(255)
		return nil
	})
	mask := NewMask(2, 2)
	if err := src.Rasterize(mask, NewExtent(0, 0, 1, 1)); err != nil || !called {
		t.Fatalf("FeatureFunc not called: %v", err)
	}
	if mask.Count() != 4 {
		t.Error("mask not filled")
	}
}

func TestExtentTransforms(t *testing.T) {
	e := NewExtent(100, 50, -100, 250)
	if e.MinX != -100 || e.MaxY != 250 {
		t.Fatalf("NewExtent did not normalize corners: %v", e)
	}
	if e.Width() != 200 || e.Height() != 200 || !e.Valid() {
		t.Errorf("size %gx%g", e.Width(), e.Height())
	}

	const size = 100
	w := e.ToWorld(size, mgl64.Vec2{50, 25})
	if !w.ApproxEqual(mgl64.Vec2{0, 100}) {
		t.Errorf("ToWorld = %v, want [0 100]", w)
	}
	p := e.ToPixel(size, w)
	if !p.ApproxEqual(mgl64.Vec2{50, 25}) {
		t.Errorf("ToPixel = %v, want [50 25]", p)
	}
	if got := e.GroundResolution(size); got != 2 {
		t.Errorf("GroundResolution = %g, want 2", got)
	}
	if got := NewExtent(0, 0, 10, 40).GroundResolution(4); got != 10 {
		t.Errorf("GroundResolution of tall extent = %g, want 10", got)
	}
	if got := e.GroundResolution(0); got != 0 {
		t.Errorf("GroundResolution(0) = %g", got)
	}
	if (Extent{}).Valid() || math.IsNaN(e.GroundResolution(1)) {
		t.Error("Valid() on empty extent")
	}
	if got := e.String(); got != "[-100,50 - 100,250]" {
		t.Errorf("String() = %q", got)
	}
}
