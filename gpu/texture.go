// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"fmt"
	"sync"

	"github.com/gogpu/sdfgen/internal/driver"
)

// Filter is a texture sampling filter.
type Filter uint8

const (
	FilterNearest Filter = iota
	FilterLinear
)

// TextureProfile describes immutable texture storage.
type TextureProfile struct {
	Width     uint32
	Height    uint32
	Depth     uint32 // 0 or 1 for 2D textures
	MipLevels uint32
	Format    driver.TextureFormat
	MinFilter Filter
	MagFilter Filter

	// Anisotropy is the maximum anisotropic filtering ratio; 0 or 1 disables it.
	Anisotropy float32

	Usage driver.TextureUsage
}

// Bytes returns the storage size of the profile including the mip chain.
func (p TextureProfile) Bytes() uint64 {
	w, h, d := uint64(p.Width), uint64(p.Height), uint64(max(p.Depth, 1))
	bpp := uint64(p.Format.BytesPerPixel()) //nolint:gosec // small constant
	var total uint64
	for range max(p.MipLevels, 1) {
		total += w * h * d * bpp
		w, h = max(w/2, 1), max(h/2, 1)
		if p.Depth > 1 {
			d = max(d/2, 1)
		}
	}
	return total
}

// Texture is an image in device memory.
type Texture struct {
	resource

	mu       sync.Mutex
	tex      driver.Texture
	profile  TextureProfile
	resident bool
}

var _ Resource = (*Texture)(nil)

// NewTexture creates a texture without storage. Allocate it with Storage2D
// or Storage3D. The caller holds one reference and the texture is watched
// by the context pool.
func (c *Context) NewTexture(label string) (*Texture, error) {
	if c.released.Load() {
		return nil, ErrContextReleased
	}
	t := &Texture{}
	t.init(c, KindTexture, label)
	c.Pool().Watch(t)
	return t, nil
}

// Valid reports whether the texture has live storage.
func (t *Texture) Valid() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.released.Load() && t.tex != nil
}

// Profile returns the storage profile, zero before allocation.
func (t *Texture) Profile() TextureProfile {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.profile
}

// Handle returns the driver texture, nil before allocation.
func (t *Texture) Handle() driver.Texture {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tex
}

// Storage2D allocates immutable 2D storage.
func (t *Texture) Storage2D(p TextureProfile) error {
	if p.Depth > 1 {
		return fmt.Errorf("%w: 2D storage with depth %d", ErrInvalidSize, p.Depth)
	}
	p.Depth = 1
	return t.storage(p)
}

// Storage3D allocates immutable 3D storage.
func (t *Texture) Storage3D(p TextureProfile) error {
	if p.Depth == 0 {
		return fmt.Errorf("%w: 3D storage with zero depth", ErrInvalidSize)
	}
	return t.storage(p)
}

func (t *Texture) storage(p TextureProfile) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.released.Load() {
		return ErrReleased
	}
	if t.immutable.Load() {
		panic(fmt.Errorf("%w: texture %q already has storage", ErrImmutableStorage, t.label))
	}
	if p.Width == 0 || p.Height == 0 {
		return fmt.Errorf("%w: texture %q is %dx%d", ErrInvalidSize, t.label, p.Width, p.Height)
	}
	if limit := t.ctx.dev.Caps().MaxTextureSize; limit > 0 && (p.Width > limit || p.Height > limit) {
		return fmt.Errorf("%w: texture %q is %dx%d, limit %d", ErrInvalidSize, t.label, p.Width, p.Height, limit)
	}
	p.MipLevels = max(p.MipLevels, 1)

	tex, err := t.ctx.dev.NewTexture(driver.TextureDesc{
		Label:     t.label,
		Width:     p.Width,
		Height:    p.Height,
		Depth:     p.Depth,
		MipLevels: p.MipLevels,
		Format:    p.Format,
		Usage:     p.Usage,
	})
	if err != nil {
		return fmt.Errorf("gpu: allocate texture %q: %w", t.label, err)
	}
	t.tex = tex
	t.profile = p
	t.size.Store(p.Bytes())
	t.immutable.Store(true)
	return nil
}

// Upload replaces mip level 0.
func (t *Texture) Upload(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released.Load() {
		return ErrReleased
	}
	if t.tex == nil {
		return ErrNotAllocated
	}
	return t.tex.Upload(data)
}

// MakeResident makes the texture addressable through Address.
func (t *Texture) MakeResident() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released.Load() {
		return ErrReleased
	}
	if t.tex == nil {
		return ErrNotAllocated
	}
	if !t.ctx.dev.Caps().Bindless {
		return ErrBindlessUnsupported
	}
	t.resident = true
	return nil
}

// MakeNonResident revokes the address returned by Address.
func (t *Texture) MakeNonResident() {
	t.mu.Lock()
	t.resident = false
	t.mu.Unlock()
}

// Resident reports whether the texture is resident.
func (t *Texture) Resident() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resident
}

// Address returns the raw device handle of a resident texture. The value
// is only meaningful while the texture stays resident.
func (t *Texture) Address() (uintptr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.resident || t.tex == nil {
		return 0, ErrNotResident
	}
	return t.tex.NativeHandle(), nil
}

// Release destroys the storage. It is safe to call more than once.
func (t *Texture) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.markReleased() {
		return
	}
	t.resident = false
	if t.tex != nil {
		t.tex.Release()
		t.tex = nil
	}
}

func (t *Texture) discard() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.markReleased()
	t.resident = false
	t.tex = nil
}
