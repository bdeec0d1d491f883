// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package gpu manages device resources for a graphics context.
//
// A Context wraps a driver device and is the only factory for resources:
// buffers, textures, queries, vertex arrays (binding sets) and framebuffers.
// Every resource is tracked by the Pool of its context, which hands idle
// resources out again through Recycle and evicts long-idle ones once per
// frame.
//
// Ownership is explicit. A new or recycled resource carries one external
// reference for its caller; Unref gives it back to the pool:
//
//	buf, ok := ctx.Pool().RecycleBuffer(size, usage)
//	if !ok {
//	    buf, err = ctx.NewBuffer("staging", usage)
//	    ...
//	}
//	defer buf.Unref()
package gpu

import (
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/sdfgen/internal/driver"
	"github.com/gogpu/sdfgen/internal/driver/haldriver"
	"github.com/gogpu/sdfgen/internal/driver/host"
)

var nextContextID atomic.Uint64

// ContextConfig configures a Context.
type ContextConfig struct {
	// Pools is the registry holding the context's pool. Nil gives the
	// context a private registry.
	Pools *PoolRegistry

	// Pool configures the context's pool.
	Pool PoolConfig

	// OwnDevice makes Release destroy the device.
	OwnDevice bool
}

// Context is a graphics context: a device command stream plus the
// resources created on it.
type Context struct {
	id    uint64
	dev   driver.Device
	pools *PoolRegistry
	cfg   ContextConfig

	frame    atomic.Uint64
	released atomic.Bool
}

// NewContext creates a context on dev.
func NewContext(dev driver.Device, cfg ContextConfig) *Context {
	if cfg.Pools == nil {
		cfg.Pools = NewPoolRegistry()
	}
	c := &Context{
		id:    nextContextID.Add(1),
		dev:   dev,
		pools: cfg.Pools,
		cfg:   cfg,
	}
	slogger().Info("gpu: context created", "id", c.id, "device", dev.Name())
	return c
}

// NewHostContext creates a context on a software device with the given
// number of kernel workers (zero selects GOMAXPROCS). The context owns the
// device.
func NewHostContext(workers int) *Context {
	return NewContext(host.New(workers), ContextConfig{OwnDevice: true})
}

// OpenContext creates a context on the first usable GPU adapter. It fails
// with an error wrapping ErrNoAdapter when the machine has none;
// callers usually fall back to NewHostContext.
func OpenContext() (*Context, error) {
	dev, err := haldriver.Open()
	if err != nil {
		return nil, fmt.Errorf("gpu: %w", err)
	}
	return NewContext(dev, ContextConfig{OwnDevice: true}), nil
}

// NewContextFromProvider creates a context sharing the device of a
// gpucontext.DeviceProvider, such as a gogpu window. The provider must also
// expose HalDevice() and HalQueue(). The provider keeps ownership of the
// device.
func NewContextFromProvider(p gpucontext.DeviceProvider) (*Context, error) {
	dev, err := haldriver.FromProvider("provider", p)
	if err != nil {
		return nil, fmt.Errorf("gpu: %w", err)
	}
	return NewContext(dev, ContextConfig{}), nil
}

// NewSharedContext creates a context on the device of parent with its own
// pool in the same registry. Releasing it leaves the device alone.
func NewSharedContext(parent *Context) *Context {
	return NewContext(parent.dev, ContextConfig{
		Pools: parent.pools,
		Pool:  parent.cfg.Pool,
	})
}

// ID returns the process-unique context ID.
func (c *Context) ID() uint64 { return c.id }

// Device returns the driver device.
func (c *Context) Device() driver.Device { return c.dev }

// Pool returns the context's pool, creating it on first use.
func (c *Context) Pool() *Pool { return c.pools.Get(c) }

// Pools returns the registry holding the context's pool.
func (c *Context) Pools() *PoolRegistry { return c.pools }

// FrameCount returns the number of completed frames.
func (c *Context) FrameCount() uint64 { return c.frame.Load() }

// Frame marks a frame boundary and lets the pool age and evict idle
// resources.
func (c *Context) Frame() {
	if c.released.Load() {
		return
	}
	c.frame.Add(1)
	c.Pool().Frame()
}

// Released reports whether Release has been called.
func (c *Context) Released() bool { return c.released.Load() }

// Release releases every resource of the context and, when the context owns
// it, the device. It is safe to call more than once.
func (c *Context) Release() {
	if c.released.Swap(true) {
		return
	}
	c.pools.Release(c)
	if c.cfg.OwnDevice {
		c.dev.Release()
	}
	slogger().Info("gpu: context released", "id", c.id)
}

// Copy copies Size bytes from the start of Src to the start of Dst after
// a dispatch.
type Copy struct {
	Src, Dst *Buffer
	Size     uint64
}

// DispatchOp describes one compute pass.
type DispatchOp struct {
	Label  string
	Groups [3]uint32

	// Bindings names the program and buffers of the pass.
	Bindings *VertexArray

	// Copies run after the pass, in order.
	Copies []Copy

	// Query, when running, is signalled on completion and the call returns
	// without waiting. Without a query Dispatch blocks until the device is
	// done.
	Query *Query
}

// Dispatch submits a compute pass.
func (c *Context) Dispatch(op DispatchOp) error {
	if c.released.Load() {
		return ErrContextReleased
	}
	if op.Bindings == nil {
		return fmt.Errorf("gpu: dispatch %q without bindings", op.Label)
	}
	prog, bind := op.Bindings.handle()
	if bind == nil {
		return fmt.Errorf("gpu: dispatch %q: bindings: %w", op.Label, ErrReleased)
	}
	cmd := driver.DispatchCommand{
		Label:    op.Label,
		Program:  prog,
		Bindings: bind,
		Groups:   op.Groups,
	}
	for _, cp := range op.Copies {
		src, dst := cp.Src.Handle(), cp.Dst.Handle()
		if src == nil || dst == nil {
			return fmt.Errorf("gpu: dispatch %q copy: %w", op.Label, ErrNotAllocated)
		}
		cmd.Copies = append(cmd.Copies, driver.BufferCopy{Src: src, Dst: dst, Size: cp.Size})
	}
	if op.Query != nil {
		f, v, err := op.Query.attach()
		if err != nil {
			return err
		}
		cmd.Fence, cmd.FenceValue = f, v
	}
	if err := c.dev.Dispatch(cmd); err != nil {
		return fmt.Errorf("gpu: dispatch %q: %w", op.Label, err)
	}
	return nil
}
