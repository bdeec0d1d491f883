// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/sdfgen/internal/driver"
)

// Framebuffer groups texture attachments.
type Framebuffer struct {
	resource

	mu          sync.Mutex
	fb          driver.Framebuffer
	attachments []*Texture
}

var _ Resource = (*Framebuffer)(nil)

// NewFramebuffer creates a framebuffer over allocated textures.
func (c *Context) NewFramebuffer(label string, attachments ...*Texture) (*Framebuffer, error) {
	if c.released.Load() {
		return nil, ErrContextReleased
	}
	handles := make([]driver.Texture, len(attachments))
	for i, t := range attachments {
		h := t.Handle()
		if h == nil {
			return nil, fmt.Errorf("gpu: framebuffer %q attachment %d: %w", label, i, ErrNotAllocated)
		}
		handles[i] = h
	}
	fb, err := c.dev.NewFramebuffer(label, handles)
	if err != nil {
		return nil, fmt.Errorf("gpu: framebuffer %q: %w", label, err)
	}
	f := &Framebuffer{fb: fb, attachments: slices.Clone(attachments)}
	f.init(c, KindFramebuffer, label)
	c.Pool().Watch(f)
	return f, nil
}

// Valid reports whether the framebuffer is live.
func (f *Framebuffer) Valid() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.released.Load() && f.fb != nil
}

// Attachments returns the attached textures.
func (f *Framebuffer) Attachments() []*Texture {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.attachments)
}

// Release destroys the framebuffer; the textures are untouched.
func (f *Framebuffer) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.markReleased() {
		return
	}
	if f.fb != nil {
		f.fb.Release()
		f.fb = nil
	}
	f.attachments = nil
}

func (f *Framebuffer) discard() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markReleased()
	f.fb = nil
	f.attachments = nil
}
