// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package host implements a software driver.Device.
//
// Buffers and textures live in host memory and compute programs run their
// Go kernel (driver.ProgramSource.Host) once per workgroup, spread across a
// worker pool. Dispatches complete before Dispatch returns, so fences are
// signalled synchronously. The device is used for headless operation and
// for exercising GPU code paths in tests.
package host

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/sdfgen/internal/driver"
	"github.com/gogpu/sdfgen/internal/parallel"
)

const maxBufferSize = 1 << 30

// Device is a software device.
type Device struct {
	workers  *parallel.WorkerPool
	released atomic.Bool
	handles  atomic.Uintptr

	// Dispatches counts submitted compute passes.
	dispatches atomic.Uint64
}

var _ driver.Device = (*Device)(nil)

// New creates a software device running kernels on the given number of
// workers. Zero selects GOMAXPROCS.
func New(workers int) *Device {
	return &Device{workers: parallel.NewWorkerPool(workers)}
}

func (d *Device) Name() string { return "host" }

func (d *Device) Caps() driver.Caps {
	return driver.Caps{
		Compute:        true,
		Bindless:       true,
		HostKernels:    true,
		MaxBufferSize:  maxBufferSize,
		MaxTextureSize: 1 << 14,
	}
}

// Dispatches returns the number of compute passes executed so far.
func (d *Device) Dispatches() uint64 {
	return d.dispatches.Load()
}

func (d *Device) check() error {
	if d.released.Load() {
		return driver.ErrReleased
	}
	return nil
}

func (d *Device) NewBuffer(desc driver.BufferDesc) (driver.Buffer, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	if desc.Size == 0 || desc.Size > maxBufferSize {
		return nil, fmt.Errorf("%w: buffer %q size %d", driver.ErrInvalidDescriptor, desc.Label, desc.Size)
	}
	return &buffer{data: make([]byte, desc.Size)}, nil
}

func (d *Device) NewTexture(desc driver.TextureDesc) (driver.Texture, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	depth := max(desc.Depth, 1)
	if desc.Width == 0 || desc.Height == 0 {
		return nil, fmt.Errorf("%w: texture %q is %dx%d", driver.ErrInvalidDescriptor, desc.Label, desc.Width, desc.Height)
	}
	size := int(desc.Width) * int(desc.Height) * int(depth) * desc.Format.BytesPerPixel()
	return &texture{
		data:   make([]byte, size),
		handle: d.handles.Add(1),
	}, nil
}

func (d *Device) NewFence() (driver.Fence, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	return &fence{}, nil
}

func (d *Device) NewFramebuffer(label string, attachments []driver.Texture) (driver.Framebuffer, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	if len(attachments) == 0 {
		return nil, fmt.Errorf("%w: framebuffer %q has no attachments", driver.ErrInvalidDescriptor, label)
	}
	return &framebuffer{attachments: attachments}, nil
}

func (d *Device) NewComputeProgram(src driver.ProgramSource) (driver.Program, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	if src.Host == nil {
		return nil, fmt.Errorf("%w: %q", driver.ErrNoHostKernel, src.Label)
	}
	return &program{src: src}, nil
}

func (d *Device) NewBindings(label string, prog driver.Program, buffers []driver.Buffer) (driver.Bindings, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	p, ok := prog.(*program)
	if !ok {
		return nil, fmt.Errorf("%w: bindings %q: foreign program %T", driver.ErrInvalidDescriptor, label, prog)
	}
	if len(buffers) != len(p.src.Bindings) {
		return nil, fmt.Errorf("%w: bindings %q: %d buffers for %d slots",
			driver.ErrInvalidDescriptor, label, len(buffers), len(p.src.Bindings))
	}
	bufs := make([]*buffer, len(buffers))
	for i, b := range buffers {
		hb, ok := b.(*buffer)
		if !ok {
			return nil, fmt.Errorf("%w: bindings %q: foreign buffer %T", driver.ErrInvalidDescriptor, label, b)
		}
		bufs[i] = hb
	}
	return &bindings{buffers: bufs}, nil
}

// Dispatch runs the program's host kernel over every workgroup, then
// performs the buffer copies and signals the fence.
func (d *Device) Dispatch(cmd driver.DispatchCommand) error {
	if err := d.check(); err != nil {
		return err
	}
	p, ok := cmd.Program.(*program)
	if !ok || p.released.Load() {
		return fmt.Errorf("%w: dispatch %q: program", driver.ErrReleased, cmd.Label)
	}
	b, ok := cmd.Bindings.(*bindings)
	if !ok || b.released.Load() {
		return fmt.Errorf("%w: dispatch %q: bindings", driver.ErrReleased, cmd.Label)
	}

	data := make([][]byte, len(b.buffers))
	for i, buf := range b.buffers {
		if buf.released.Load() {
			return fmt.Errorf("%w: dispatch %q: binding %d", driver.ErrReleased, cmd.Label, i)
		}
		data[i] = buf.data
	}

	gx, gy, gz := cmd.Groups[0], max(cmd.Groups[1], 1), max(cmd.Groups[2], 1)
	rows := int(gy * gz)
	d.workers.Bands(rows, func(lo, hi int) {
		for r := lo; r < hi; r++ {
			y, z := uint32(r)%gy, uint32(r)/gy //nolint:gosec // row index bounded by gy*gz
			for x := uint32(0); x < gx; x++ {
				p.src.Host([3]uint32{x, y, z}, data)
			}
		}
	})

	for _, c := range cmd.Copies {
		src, ok1 := c.Src.(*buffer)
		dst, ok2 := c.Dst.(*buffer)
		if !ok1 || !ok2 {
			return fmt.Errorf("%w: dispatch %q: copy between foreign buffers", driver.ErrInvalidDescriptor, cmd.Label)
		}
		if c.Size > uint64(len(src.data)) || c.Size > uint64(len(dst.data)) {
			return fmt.Errorf("%w: dispatch %q: copy of %d bytes", driver.ErrOutOfRange, cmd.Label, c.Size)
		}
		copy(dst.data[:c.Size], src.data[:c.Size])
	}

	d.dispatches.Add(1)
	if cmd.Fence != nil {
		return d.Signal(cmd.Fence, cmd.FenceValue)
	}
	return nil
}

func (d *Device) Signal(f driver.Fence, value uint64) error {
	hf, ok := f.(*fence)
	if !ok {
		return fmt.Errorf("%w: foreign fence %T", driver.ErrInvalidDescriptor, f)
	}
	for {
		cur := hf.value.Load()
		if cur >= value || hf.value.CompareAndSwap(cur, value) {
			return nil
		}
	}
}

// Release stops the kernel workers.
func (d *Device) Release() {
	if d.released.Swap(true) {
		return
	}
	d.workers.Close()
}

type buffer struct {
	mu       sync.Mutex
	data     []byte
	released atomic.Bool
}

func (b *buffer) Size() uint64 { return uint64(len(b.data)) }

func (b *buffer) Upload(offset uint64, data []byte) error {
	if b.released.Load() {
		return driver.ErrReleased
	}
	if offset+uint64(len(data)) > uint64(len(b.data)) {
		return driver.ErrOutOfRange
	}
	b.mu.Lock()
	copy(b.data[offset:], data)
	b.mu.Unlock()
	return nil
}

func (b *buffer) Download(offset uint64, dst []byte) error {
	if b.released.Load() {
		return driver.ErrReleased
	}
	if offset+uint64(len(dst)) > uint64(len(b.data)) {
		return driver.ErrOutOfRange
	}
	b.mu.Lock()
	copy(dst, b.data[offset:])
	b.mu.Unlock()
	return nil
}

func (b *buffer) Release() { b.released.Store(true) }

type texture struct {
	data     []byte
	handle   uintptr
	released atomic.Bool
}

func (t *texture) Upload(data []byte) error {
	if t.released.Load() {
		return driver.ErrReleased
	}
	if len(data) > len(t.data) {
		return driver.ErrOutOfRange
	}
	copy(t.data, data)
	return nil
}

func (t *texture) NativeHandle() uintptr { return t.handle }

func (t *texture) Release() { t.released.Store(true) }

type fence struct {
	value    atomic.Uint64
	released atomic.Bool
}

// Reached never waits: host dispatches complete synchronously, so a value
// that has not been reached yet will only be reached by a later submission.
func (f *fence) Reached(value uint64, _ time.Duration) (bool, error) {
	if f.released.Load() {
		return false, driver.ErrReleased
	}
	return f.value.Load() >= value, nil
}

func (f *fence) Release() { f.released.Store(true) }

type framebuffer struct {
	attachments []driver.Texture
}

func (f *framebuffer) Release() { f.attachments = nil }

type program struct {
	src      driver.ProgramSource
	released atomic.Bool
}

func (p *program) Release() { p.released.Store(true) }

type bindings struct {
	buffers  []*buffer
	released atomic.Bool
}

func (b *bindings) Release() { b.released.Store(true) }
