// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package driver defines the device abstraction graphics contexts run on.
package driver

import (
	"errors"
	"fmt"
	"time"
)

// Driver errors.
var (
	// ErrReleased is returned when operating on a released device or object.
	ErrReleased = errors.New("driver: object has been released")

	// ErrOutOfRange is returned when an upload or download exceeds the buffer.
	ErrOutOfRange = errors.New("driver: range out of bounds")

	// ErrNoHostKernel is returned by the host driver for programs without a
	// Go kernel.
	ErrNoHostKernel = errors.New("driver: program has no host kernel")

	// ErrInvalidDescriptor is returned for zero-sized or malformed descriptors.
	ErrInvalidDescriptor = errors.New("driver: invalid descriptor")
)

// Device abstracts over the GPU APIs a graphics context can run on.
//
// Resource lifecycle:
//   - Objects are created via New* methods
//   - Objects must be released explicitly; Release is idempotent
//   - Releasing an object still referenced by an in-flight dispatch is
//     undefined behavior
//
// Implementations must be safe for concurrent use.
type Device interface {
	// Name identifies the device for logging.
	Name() string

	// Caps reports device capabilities.
	Caps() Caps

	NewBuffer(desc BufferDesc) (Buffer, error)
	NewTexture(desc TextureDesc) (Texture, error)
	NewFence() (Fence, error)
	NewFramebuffer(label string, attachments []Texture) (Framebuffer, error)
	NewComputeProgram(src ProgramSource) (Program, error)

	// NewBindings binds buffers to the binding slots of a program, in order.
	NewBindings(label string, prog Program, buffers []Buffer) (Bindings, error)

	// Dispatch records and submits one compute pass followed by the
	// requested buffer copies. When cmd.Fence is set the fence is signalled
	// with cmd.FenceValue on completion and Dispatch returns without waiting;
	// otherwise Dispatch blocks until the GPU is done.
	Dispatch(cmd DispatchCommand) error

	// Signal submits an empty batch that signals f with value.
	Signal(f Fence, value uint64) error

	// Release destroys the device. Objects created from it become invalid.
	Release()
}

// Caps describes device capabilities.
type Caps struct {
	// Compute reports whether compute programs can be dispatched.
	Compute bool

	// Bindless reports whether textures expose a raw native address.
	Bindless bool

	// HostKernels reports whether programs run their HostKernel instead of
	// shader code.
	HostKernels bool

	// MaxBufferSize is the largest buffer the device accepts.
	MaxBufferSize uint64

	// MaxTextureSize is the largest texture dimension.
	MaxTextureSize uint32
}

// BufferUsage is a bitmask of buffer usages.
type BufferUsage uint32

const (
	BufferUsageUniform BufferUsage = 1 << iota
	BufferUsageStorage
	BufferUsageVertex
	BufferUsageIndex
	BufferUsageCopySrc
	BufferUsageCopyDst
	BufferUsageMapRead
)

// Has reports whether all bits of u2 are set in u.
func (u BufferUsage) Has(u2 BufferUsage) bool {
	return u&u2 == u2
}

// BufferDesc describes a buffer allocation.
type BufferDesc struct {
	Label string
	Size  uint64
	Usage BufferUsage
}

// Buffer is a block of device memory.
type Buffer interface {
	Size() uint64
	Upload(offset uint64, data []byte) error
	// Download copies buffer contents into dst. It blocks until the
	// device has produced the data.
	Download(offset uint64, dst []byte) error
	Release()
}

// TextureFormat is a texel format.
type TextureFormat uint8

const (
	TextureFormatRGBA8 TextureFormat = iota
	TextureFormatR8
	TextureFormatR32F
	TextureFormatRG32F
	TextureFormatRGBA32F
	TextureFormatRG32I
)

// String returns a human-readable name for the format.
func (f TextureFormat) String() string {
	switch f {
	case TextureFormatRGBA8:
		return "RGBA8"
	case TextureFormatR8:
		return "R8"
	case TextureFormatR32F:
		return "R32F"
	case TextureFormatRG32F:
		return "RG32F"
	case TextureFormatRGBA32F:
		return "RGBA32F"
	case TextureFormatRG32I:
		return "RG32I"
	default:
		return fmt.Sprintf("Unknown(%d)", f)
	}
}

// BytesPerPixel returns the texel size of the format.
func (f TextureFormat) BytesPerPixel() int {
	switch f {
	case TextureFormatR8:
		return 1
	case TextureFormatRGBA8, TextureFormatR32F:
		return 4
	case TextureFormatRG32F, TextureFormatRG32I:
		return 8
	case TextureFormatRGBA32F:
		return 16
	default:
		return 4
	}
}

// TextureUsage is a bitmask of texture usages.
type TextureUsage uint32

const (
	TextureUsageCopySrc TextureUsage = 1 << iota
	TextureUsageCopyDst
	TextureUsageSampled
	TextureUsageStorage
	TextureUsageRenderAttachment
)

// TextureDesc describes a texture allocation. Depth > 1 requests a 3D texture.
type TextureDesc struct {
	Label     string
	Width     uint32
	Height    uint32
	Depth     uint32
	MipLevels uint32
	Format    TextureFormat
	Usage     TextureUsage
}

// Texture is an image in device memory.
type Texture interface {
	// Upload replaces mip level 0 with data.
	Upload(data []byte) error
	// NativeHandle returns the raw device handle backing the texture.
	NativeHandle() uintptr
	Release()
}

// Fence is a monotonically increasing completion counter.
type Fence interface {
	// Reached reports whether the fence has been signalled with a value of at
	// least value, waiting up to timeout. A zero timeout polls.
	Reached(value uint64, timeout time.Duration) (bool, error)
	Release()
}

// Framebuffer groups texture attachments.
type Framebuffer interface {
	Release()
}

// Program is a compiled compute program.
type Program interface {
	Release()
}

// Bindings is a set of buffers bound to a program's binding slots.
type Bindings interface {
	Release()
}

// BindingType describes how a program reads a binding slot.
type BindingType uint8

const (
	BindingUniform BindingType = iota
	BindingReadOnlyStorage
	BindingStorage
)

// HostKernel emulates one compute workgroup on the CPU. buffers holds the
// bound buffer contents in binding order.
type HostKernel func(group [3]uint32, buffers [][]byte)

// ProgramSource describes a compute program.
type ProgramSource struct {
	Label      string
	WGSL       string
	SPIRV      []uint32
	EntryPoint string
	Bindings   []BindingType
	Host       HostKernel
}

// BufferCopy copies Size bytes from the start of Src to the start of Dst.
type BufferCopy struct {
	Src, Dst Buffer
	Size     uint64
}

// DispatchCommand is one compute pass submission.
type DispatchCommand struct {
	Label      string
	Program    Program
	Bindings   Bindings
	Groups     [3]uint32
	Copies     []BufferCopy
	Fence      Fence
	FenceValue uint64
}
