// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"fmt"
	"sync/atomic"
)

// Kind identifies a resource category.
type Kind uint8

const (
	KindVertexArray Kind = iota
	KindBuffer
	KindTexture
	KindFramebuffer
	KindQuery
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindVertexArray:
		return "VertexArray"
	case KindBuffer:
		return "Buffer"
	case KindTexture:
		return "Texture"
	case KindFramebuffer:
		return "Framebuffer"
	case KindQuery:
		return "Query"
	default:
		return fmt.Sprintf("Unknown(%d)", k)
	}
}

// Resource is a device object created by a Context.
//
// Ownership is explicit. A factory returns a resource holding one external
// reference for the caller; Acquire adds one and Unref drops one. A pool
// hands out only resources with no external references. Release destroys
// the device object regardless of references and is idempotent.
type Resource interface {
	Kind() Kind
	Label() string
	Valid() bool
	Size() uint64
	Acquire()
	Unref()
	Refs() int32
	Release()

	base() *resource
	// discard forgets the device handle without calling the driver.
	discard()
}

// resource is the state shared by all resource kinds.
type resource struct {
	ctx   *Context
	kind  Kind
	label string

	size       atomic.Uint64
	refs       atomic.Int32
	released   atomic.Bool
	immutable  atomic.Bool
	recyclable bool

	// idle counts frames without external references; guarded by the pool.
	idle int
}

func (r *resource) init(ctx *Context, kind Kind, label string) {
	r.ctx = ctx
	r.kind = kind
	r.label = label
	r.recyclable = true
	r.refs.Store(1)
}

func (r *resource) base() *resource { return r }

// Kind returns the resource category.
func (r *resource) Kind() Kind { return r.kind }

// Label returns the debug label.
func (r *resource) Label() string { return r.label }

// Size returns the allocated size in bytes, zero once released.
func (r *resource) Size() uint64 { return r.size.Load() }

// Acquire adds an external reference.
func (r *resource) Acquire() { r.refs.Add(1) }

// Unref drops an external reference. When the last one is dropped the
// resource becomes eligible for recycling by its pool.
func (r *resource) Unref() {
	if r.refs.Add(-1) < 0 {
		panic(fmt.Sprintf("gpu: %s %q unreferenced more times than acquired", r.kind, r.label))
	}
}

// Refs returns the number of external references.
func (r *resource) Refs() int32 { return r.refs.Load() }

// Immutable reports whether storage was allocated with an immutable call.
func (r *resource) Immutable() bool { return r.immutable.Load() }

// SetRecyclable controls whether the pool may hand the resource out again.
// Resources are recyclable by default.
func (r *resource) SetRecyclable(v bool) {
	if r.ctx != nil {
		r.ctx.Pool().mu.Lock()
		defer r.ctx.Pool().mu.Unlock()
	}
	r.recyclable = v
}

// markReleased flips the released flag and reports whether this call did.
func (r *resource) markReleased() bool {
	if r.released.Swap(true) {
		return false
	}
	r.size.Store(0)
	return true
}
