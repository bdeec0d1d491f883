// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package haldriver implements driver.Device on top of gogpu/wgpu hal.
package haldriver

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/sdfgen/internal/driver"
)

// blockingTimeout bounds the synchronous waits in Dispatch and Signal.
const blockingTimeout = 5 * time.Second

// Device wraps a hal device and queue.
type Device struct {
	name   string
	device hal.Device
	queue  hal.Queue

	// owned is set when the device was opened by this package and must be
	// destroyed on Release.
	owned    bool
	instance hal.Instance

	mu       sync.Mutex
	inflight []inflight
	released atomic.Bool
}

// inflight is a submitted command buffer waiting for its fence.
type inflight struct {
	fence *fence
	value uint64
	cmd   hal.CommandBuffer
}

var _ driver.Device = (*Device)(nil)

// Wrap returns a Device that submits to an existing hal device and queue.
// The caller keeps ownership: Release does not destroy them.
func Wrap(name string, device hal.Device, queue hal.Queue) *Device {
	return &Device{name: name, device: device, queue: queue}
}

// FromProvider extracts hal types from a provider exposing HalDevice() and
// HalQueue(), such as a gogpu window.
func FromProvider(name string, provider any) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, fmt.Errorf("haldriver: provider %T does not expose HAL types", provider)
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("haldriver: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("haldriver: provider HalQueue is not hal.Queue")
	}
	return Wrap(name, device, queue), nil
}

// Name identifies the adapter.
func (d *Device) Name() string { return d.name }

func (d *Device) Caps() driver.Caps {
	limits := gputypes.DefaultLimits()
	return driver.Caps{
		Compute:        true,
		Bindless:       true,
		MaxBufferSize:  limits.MaxBufferSize,
		MaxTextureSize: limits.MaxTextureDimension2D,
	}
}

func (d *Device) check() error {
	if d.released.Load() {
		return driver.ErrReleased
	}
	return nil
}

func bufferUsage(u driver.BufferUsage) gputypes.BufferUsage {
	var out gputypes.BufferUsage
	if u.Has(driver.BufferUsageUniform) {
		out |= gputypes.BufferUsageUniform
	}
	if u.Has(driver.BufferUsageStorage) {
		out |= gputypes.BufferUsageStorage
	}
	if u.Has(driver.BufferUsageVertex) {
		out |= gputypes.BufferUsageVertex
	}
	if u.Has(driver.BufferUsageIndex) {
		out |= gputypes.BufferUsageIndex
	}
	if u.Has(driver.BufferUsageCopySrc) {
		out |= gputypes.BufferUsageCopySrc
	}
	if u.Has(driver.BufferUsageCopyDst) {
		out |= gputypes.BufferUsageCopyDst
	}
	if u.Has(driver.BufferUsageMapRead) {
		out |= gputypes.BufferUsageMapRead
	}
	return out
}

func textureFormat(f driver.TextureFormat) gputypes.TextureFormat {
	switch f {
	case driver.TextureFormatR8:
		return gputypes.TextureFormatR8Unorm
	case driver.TextureFormatR32F:
		return gputypes.TextureFormatR32Float
	case driver.TextureFormatRG32F:
		return gputypes.TextureFormatRG32Float
	case driver.TextureFormatRGBA32F:
		return gputypes.TextureFormatRGBA32Float
	case driver.TextureFormatRG32I:
		return gputypes.TextureFormatRG32Sint
	default:
		return gputypes.TextureFormatRGBA8Unorm
	}
}

func textureUsage(u driver.TextureUsage) gputypes.TextureUsage {
	var out gputypes.TextureUsage
	if u&driver.TextureUsageCopySrc != 0 {
		out |= gputypes.TextureUsageCopySrc
	}
	if u&driver.TextureUsageCopyDst != 0 {
		out |= gputypes.TextureUsageCopyDst
	}
	if u&driver.TextureUsageSampled != 0 {
		out |= gputypes.TextureUsageTextureBinding
	}
	if u&driver.TextureUsageStorage != 0 {
		out |= gputypes.TextureUsageStorageBinding
	}
	if u&driver.TextureUsageRenderAttachment != 0 {
		out |= gputypes.TextureUsageRenderAttachment
	}
	return out
}

func (d *Device) NewBuffer(desc driver.BufferDesc) (driver.Buffer, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	if desc.Size == 0 {
		return nil, fmt.Errorf("%w: buffer %q has zero size", driver.ErrInvalidDescriptor, desc.Label)
	}
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: bufferUsage(desc.Usage),
	})
	if err != nil {
		return nil, fmt.Errorf("haldriver: create buffer %q: %w", desc.Label, err)
	}
	return &buffer{dev: d, buf: buf, size: desc.Size}, nil
}

func (d *Device) NewTexture(desc driver.TextureDesc) (driver.Texture, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	if desc.Width == 0 || desc.Height == 0 {
		return nil, fmt.Errorf("%w: texture %q is %dx%d", driver.ErrInvalidDescriptor, desc.Label, desc.Width, desc.Height)
	}
	dim := gputypes.TextureDimension2D
	depth := max(desc.Depth, 1)
	if depth > 1 {
		dim = gputypes.TextureDimension3D
	}
	tex, err := d.device.CreateTexture(&hal.TextureDescriptor{
		Label:         desc.Label,
		Size:          hal.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: depth},
		MipLevelCount: max(desc.MipLevels, 1),
		SampleCount:   1,
		Dimension:     dim,
		Format:        textureFormat(desc.Format),
		Usage:         textureUsage(desc.Usage),
	})
	if err != nil {
		return nil, fmt.Errorf("haldriver: create texture %q: %w", desc.Label, err)
	}
	return &texture{dev: d, tex: tex, desc: desc, depth: depth}, nil
}

func (d *Device) NewFence() (driver.Fence, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	f, err := d.device.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("haldriver: create fence: %w", err)
	}
	return &fence{dev: d, fence: f}, nil
}

func (d *Device) NewFramebuffer(label string, attachments []driver.Texture) (driver.Framebuffer, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	if len(attachments) == 0 {
		return nil, fmt.Errorf("%w: framebuffer %q has no attachments", driver.ErrInvalidDescriptor, label)
	}
	fb := &framebuffer{dev: d}
	for i, a := range attachments {
		t, ok := a.(*texture)
		if !ok {
			fb.Release()
			return nil, fmt.Errorf("%w: framebuffer %q: foreign texture %T", driver.ErrInvalidDescriptor, label, a)
		}
		view, err := d.device.CreateTextureView(t.tex, &hal.TextureViewDescriptor{
			Label: fmt.Sprintf("%s_view_%d", label, i),
		})
		if err != nil {
			fb.Release()
			return nil, fmt.Errorf("haldriver: framebuffer %q view %d: %w", label, i, err)
		}
		fb.views = append(fb.views, view)
	}
	return fb, nil
}

func bindingType(b driver.BindingType) gputypes.BufferBindingType {
	switch b {
	case driver.BindingUniform:
		return gputypes.BufferBindingTypeUniform
	case driver.BindingReadOnlyStorage:
		return gputypes.BufferBindingTypeReadOnlyStorage
	default:
		return gputypes.BufferBindingTypeStorage
	}
}

// NewComputeProgram creates shader module, bind group layout, pipeline
// layout and compute pipeline. SPIR-V is preferred when present.
func (d *Device) NewComputeProgram(src driver.ProgramSource) (driver.Program, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	source := hal.ShaderSource{WGSL: src.WGSL}
	if len(src.SPIRV) > 0 {
		source = hal.ShaderSource{SPIRV: src.SPIRV}
	}
	entry := src.EntryPoint
	if entry == "" {
		entry = "main"
	}

	p := &program{dev: d, bindings: src.Bindings}
	var err error
	p.shader, err = d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  src.Label,
		Source: source,
	})
	if err != nil {
		return nil, fmt.Errorf("haldriver: compile %q: %w", src.Label, err)
	}

	entries := make([]gputypes.BindGroupLayoutEntry, len(src.Bindings))
	for i, b := range src.Bindings {
		entries[i] = gputypes.BindGroupLayoutEntry{
			Binding:    uint32(i), //nolint:gosec // binding count is small
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: bindingType(b)},
		}
	}
	p.bindLayout, err = d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   src.Label + "_bind_layout",
		Entries: entries,
	})
	if err != nil {
		p.Release()
		return nil, fmt.Errorf("haldriver: %q bind group layout: %w", src.Label, err)
	}

	p.pipeLayout, err = d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            src.Label + "_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{p.bindLayout},
	})
	if err != nil {
		p.Release()
		return nil, fmt.Errorf("haldriver: %q pipeline layout: %w", src.Label, err)
	}

	p.pipeline, err = d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   src.Label + "_pipeline",
		Layout:  p.pipeLayout,
		Compute: hal.ComputeState{Module: p.shader, EntryPoint: entry},
	})
	if err != nil {
		p.Release()
		return nil, fmt.Errorf("haldriver: %q compute pipeline: %w", src.Label, err)
	}
	return p, nil
}

func (d *Device) NewBindings(label string, prog driver.Program, buffers []driver.Buffer) (driver.Bindings, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	p, ok := prog.(*program)
	if !ok {
		return nil, fmt.Errorf("%w: bindings %q: foreign program %T", driver.ErrInvalidDescriptor, label, prog)
	}
	if len(buffers) != len(p.bindings) {
		return nil, fmt.Errorf("%w: bindings %q: %d buffers for %d slots",
			driver.ErrInvalidDescriptor, label, len(buffers), len(p.bindings))
	}
	entries := make([]gputypes.BindGroupEntry, len(buffers))
	for i, b := range buffers {
		hb, ok := b.(*buffer)
		if !ok {
			return nil, fmt.Errorf("%w: bindings %q: foreign buffer %T", driver.ErrInvalidDescriptor, label, b)
		}
		entries[i] = gputypes.BindGroupEntry{
			Binding:  uint32(i), //nolint:gosec // binding count is small
			Resource: gputypes.BufferBinding{Buffer: hb.buf.NativeHandle(), Offset: 0, Size: hb.size},
		}
	}
	bg, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   label,
		Layout:  p.bindLayout,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("haldriver: bind group %q: %w", label, err)
	}
	return &bindings{dev: d, group: bg}, nil
}

// Dispatch encodes one compute pass plus copies into a single command
// buffer. With a fence the call returns after submission and the command
// buffer is freed once the fence is observed reached.
func (d *Device) Dispatch(cmd driver.DispatchCommand) error {
	if err := d.check(); err != nil {
		return err
	}
	p, ok := cmd.Program.(*program)
	if !ok {
		return fmt.Errorf("%w: dispatch %q: foreign program %T", driver.ErrInvalidDescriptor, cmd.Label, cmd.Program)
	}
	b, ok := cmd.Bindings.(*bindings)
	if !ok {
		return fmt.Errorf("%w: dispatch %q: foreign bindings %T", driver.ErrInvalidDescriptor, cmd.Label, cmd.Bindings)
	}

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: cmd.Label + "_encoder"})
	if err != nil {
		return fmt.Errorf("haldriver: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(cmd.Label); err != nil {
		return fmt.Errorf("haldriver: begin encoding: %w", err)
	}

	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: cmd.Label})
	pass.SetPipeline(p.pipeline)
	pass.SetBindGroup(0, b.group, nil)
	pass.Dispatch(cmd.Groups[0], max(cmd.Groups[1], 1), max(cmd.Groups[2], 1))
	pass.End()

	for _, c := range cmd.Copies {
		src, ok1 := c.Src.(*buffer)
		dst, ok2 := c.Dst.(*buffer)
		if !ok1 || !ok2 {
			return fmt.Errorf("%w: dispatch %q: copy between foreign buffers", driver.ErrInvalidDescriptor, cmd.Label)
		}
		encoder.CopyBufferToBuffer(src.buf, dst.buf, []hal.BufferCopy{
			{SrcOffset: 0, DstOffset: 0, Size: c.Size},
		})
	}

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("haldriver: end encoding: %w", err)
	}

	if cmd.Fence != nil {
		f, ok := cmd.Fence.(*fence)
		if !ok {
			d.device.FreeCommandBuffer(cmdBuf)
			return fmt.Errorf("%w: dispatch %q: foreign fence %T", driver.ErrInvalidDescriptor, cmd.Label, cmd.Fence)
		}
		if err := d.queue.Submit([]hal.CommandBuffer{cmdBuf}, f.fence, cmd.FenceValue); err != nil {
			d.device.FreeCommandBuffer(cmdBuf)
			return fmt.Errorf("haldriver: submit %q: %w", cmd.Label, err)
		}
		d.mu.Lock()
		d.inflight = append(d.inflight, inflight{fence: f, value: cmd.FenceValue, cmd: cmdBuf})
		d.mu.Unlock()
		return nil
	}

	defer d.device.FreeCommandBuffer(cmdBuf)
	return d.submitAndWait(cmd.Label, []hal.CommandBuffer{cmdBuf})
}

func (d *Device) submitAndWait(label string, cmds []hal.CommandBuffer) error {
	f, err := d.device.CreateFence()
	if err != nil {
		return fmt.Errorf("haldriver: create fence: %w", err)
	}
	defer d.device.DestroyFence(f)
	if err := d.queue.Submit(cmds, f, 1); err != nil {
		return fmt.Errorf("haldriver: submit %q: %w", label, err)
	}
	ok, err := d.device.Wait(f, 1, blockingTimeout)
	if err != nil || !ok {
		return fmt.Errorf("haldriver: wait for %q: ok=%v err=%w", label, ok, err)
	}
	return nil
}

func (d *Device) Signal(f driver.Fence, value uint64) error {
	if err := d.check(); err != nil {
		return err
	}
	hf, ok := f.(*fence)
	if !ok {
		return fmt.Errorf("%w: foreign fence %T", driver.ErrInvalidDescriptor, f)
	}
	if err := d.queue.Submit(nil, hf.fence, value); err != nil {
		return fmt.Errorf("haldriver: signal: %w", err)
	}
	return nil
}

// retire frees command buffers whose fence has reached its value.
func (d *Device) retire(f *fence, reached uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.inflight[:0]
	for _, in := range d.inflight {
		if in.fence == f && in.value <= reached {
			d.device.FreeCommandBuffer(in.cmd)
			continue
		}
		kept = append(kept, in)
	}
	clear(d.inflight[len(kept):])
	d.inflight = kept
}

// Release waits for idle and, for devices opened by Open, destroys the
// device and instance.
func (d *Device) Release() {
	if d.released.Swap(true) {
		return
	}
	d.mu.Lock()
	for _, in := range d.inflight {
		_, _ = d.device.Wait(in.fence.fence, in.value, blockingTimeout)
		d.device.FreeCommandBuffer(in.cmd)
	}
	d.inflight = nil
	d.mu.Unlock()

	if d.owned {
		d.device.Destroy()
		if d.instance != nil {
			d.instance.Destroy()
		}
	}
	d.device = nil
	d.queue = nil
	d.instance = nil
}

type buffer struct {
	dev      *Device
	buf      hal.Buffer
	size     uint64
	released atomic.Bool
}

func (b *buffer) Size() uint64 { return b.size }

func (b *buffer) Upload(offset uint64, data []byte) error {
	if b.released.Load() || b.dev.released.Load() {
		return driver.ErrReleased
	}
	if offset+uint64(len(data)) > b.size {
		return driver.ErrOutOfRange
	}
	b.dev.queue.WriteBuffer(b.buf, offset, data)
	return nil
}

func (b *buffer) Download(offset uint64, dst []byte) error {
	if b.released.Load() || b.dev.released.Load() {
		return driver.ErrReleased
	}
	if offset+uint64(len(dst)) > b.size {
		return driver.ErrOutOfRange
	}
	if err := b.dev.queue.ReadBuffer(b.buf, offset, dst); err != nil {
		return fmt.Errorf("haldriver: readback: %w", err)
	}
	return nil
}

func (b *buffer) Release() {
	if b.released.Swap(true) || b.dev.released.Load() {
		return
	}
	b.dev.device.DestroyBuffer(b.buf)
}

type texture struct {
	dev      *Device
	tex      hal.Texture
	desc     driver.TextureDesc
	depth    uint32
	released atomic.Bool
}

func (t *texture) Upload(data []byte) error {
	if t.released.Load() || t.dev.released.Load() {
		return driver.ErrReleased
	}
	bpp := uint32(t.desc.Format.BytesPerPixel()) //nolint:gosec // small constant
	if uint64(len(data)) > uint64(t.desc.Width)*uint64(t.desc.Height)*uint64(t.depth)*uint64(bpp) {
		return driver.ErrOutOfRange
	}
	t.dev.queue.WriteTexture(
		&hal.ImageCopyTexture{
			Texture:  t.tex,
			MipLevel: 0,
			Origin:   hal.Origin3D{X: 0, Y: 0, Z: 0},
			Aspect:   gputypes.TextureAspectAll,
		},
		data,
		&hal.ImageDataLayout{Offset: 0, BytesPerRow: t.desc.Width * bpp, RowsPerImage: t.desc.Height},
		&hal.Extent3D{Width: t.desc.Width, Height: t.desc.Height, DepthOrArrayLayers: t.depth},
	)
	return nil
}

func (t *texture) NativeHandle() uintptr { return t.tex.NativeHandle() }

func (t *texture) Release() {
	if t.released.Swap(true) || t.dev.released.Load() {
		return
	}
	t.dev.device.DestroyTexture(t.tex)
}

type fence struct {
	dev      *Device
	fence    hal.Fence
	released atomic.Bool
}

func (f *fence) Reached(value uint64, timeout time.Duration) (bool, error) {
	if f.released.Load() || f.dev.released.Load() {
		return false, driver.ErrReleased
	}
	ok, err := f.dev.device.Wait(f.fence, value, timeout)
	if err != nil {
		return false, fmt.Errorf("haldriver: fence wait: %w", err)
	}
	if ok {
		f.dev.retire(f, value)
	}
	return ok, nil
}

func (f *fence) Release() {
	if f.released.Swap(true) || f.dev.released.Load() {
		return
	}
	f.dev.device.DestroyFence(f.fence)
}

type framebuffer struct {
	dev      *Device
	views    []hal.TextureView
	released atomic.Bool
}

func (fb *framebuffer) Release() {
	if fb.released.Swap(true) || fb.dev.released.Load() {
		return
	}
	for _, v := range fb.views {
		fb.dev.device.DestroyTextureView(v)
	}
	fb.views = nil
}

type program struct {
	dev        *Device
	bindings   []driver.BindingType
	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline
	released   atomic.Bool
}

func (p *program) Release() {
	if p.released.Swap(true) || p.dev.released.Load() {
		return
	}
	dev := p.dev.device
	if p.pipeline != nil {
		dev.DestroyComputePipeline(p.pipeline)
	}
	if p.pipeLayout != nil {
		dev.DestroyPipelineLayout(p.pipeLayout)
	}
	if p.bindLayout != nil {
		dev.DestroyBindGroupLayout(p.bindLayout)
	}
	if p.shader != nil {
		dev.DestroyShaderModule(p.shader)
	}
}

type bindings struct {
	dev      *Device
	group    hal.BindGroup
	released atomic.Bool
}

func (b *bindings) Release() {
	if b.released.Swap(true) || b.dev.released.Load() {
		return
	}
	b.dev.device.DestroyBindGroup(b.group)
}
