// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/sdfgen/internal/driver"
)

// VertexArray binds a set of buffers to the slots of a program. It is the
// bind-group counterpart of a vertex array object: created once per buffer
// combination and reused across dispatches.
type VertexArray struct {
	resource

	mu       sync.Mutex
	program  driver.Program
	buffers  []*Buffer
	bindings driver.Bindings
}

var _ Resource = (*VertexArray)(nil)

// NewVertexArray binds buffers, in slot order, to prog. Every buffer must
// already have storage.
func (c *Context) NewVertexArray(label string, prog driver.Program, buffers ...*Buffer) (*VertexArray, error) {
	if c.released.Load() {
		return nil, ErrContextReleased
	}
	handles := make([]driver.Buffer, len(buffers))
	for i, b := range buffers {
		h := b.Handle()
		if h == nil {
			return nil, fmt.Errorf("gpu: vertex array %q slot %d: %w", label, i, ErrNotAllocated)
		}
		handles[i] = h
	}
	bind, err := c.dev.NewBindings(label, prog, handles)
	if err != nil {
		return nil, fmt.Errorf("gpu: vertex array %q: %w", label, err)
	}
	va := &VertexArray{
		program:  prog,
		buffers:  slices.Clone(buffers),
		bindings: bind,
	}
	va.init(c, KindVertexArray, label)
	c.Pool().Watch(va)
	return va, nil
}

// Valid reports whether the binding set is live and its buffers still
// hold the storage it was created with.
func (va *VertexArray) Valid() bool {
	va.mu.Lock()
	defer va.mu.Unlock()
	if va.released.Load() || va.bindings == nil {
		return false
	}
	for _, b := range va.buffers {
		if !b.Valid() {
			return false
		}
	}
	return true
}

// Matches reports whether the vertex array binds exactly buffers to prog.
func (va *VertexArray) Matches(prog driver.Program, buffers ...*Buffer) bool {
	va.mu.Lock()
	defer va.mu.Unlock()
	return va.program == prog && slices.Equal(va.buffers, buffers)
}

// Buffers returns the bound buffers in slot order.
func (va *VertexArray) Buffers() []*Buffer {
	va.mu.Lock()
	defer va.mu.Unlock()
	return slices.Clone(va.buffers)
}

func (va *VertexArray) handle() (driver.Program, driver.Bindings) {
	va.mu.Lock()
	defer va.mu.Unlock()
	return va.program, va.bindings
}

// Release destroys the binding set; the buffers are untouched.
func (va *VertexArray) Release() {
	va.mu.Lock()
	defer va.mu.Unlock()
	if !va.markReleased() {
		return
	}
	if va.bindings != nil {
		va.bindings.Release()
		va.bindings = nil
	}
	va.buffers = nil
}

func (va *VertexArray) discard() {
	va.mu.Lock()
	defer va.mu.Unlock()
	va.markReleased()
	va.bindings = nil
	va.buffers = nil
}
