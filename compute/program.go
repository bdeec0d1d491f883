// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package compute runs single compute-shader passes over host images.
//
// A Session uploads an Image, dispatches its Program with one invocation
// per pixel, copies the result into a transfer buffer and from there back
// into the Image. Uniforms come from a Binder, the per-program hook.
// SessionCache hands every concurrent caller its own session.
package compute

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/naga"

	"github.com/gogpu/sdfgen/internal/driver"
)

// Binding slots of a session program.
const (
	BindingUniforms = 0
	BindingInput    = 1
	BindingOutput   = 2
)

// ErrNoProgram is returned when a session executes without a program.
var ErrNoProgram = errors.New("compute: no program set")

// ErrNoImage is returned when a session executes without an image.
var ErrNoImage = errors.New("compute: no image set")

// Program is a compute shader with the session binding layout: a uniform
// block at BindingUniforms, the input image at BindingInput (read-only
// storage) and the output image at BindingOutput (storage).
type Program struct {
	Label      string
	WGSL       string
	EntryPoint string

	// Workgroup is the shader's @workgroup_size in x and y.
	Workgroup [2]uint32

	// Host runs one workgroup on devices without shader support.
	Host driver.HostKernel

	spirvOnce sync.Once
	spirv     []uint32
	spirvErr  error
}

// SPIRV compiles the WGSL source with naga. The result is cached.
func (p *Program) SPIRV() ([]uint32, error) {
	p.spirvOnce.Do(func() {
		p.spirv, p.spirvErr = compileSPIRV(p.WGSL)
	})
	return p.spirv, p.spirvErr
}

func compileSPIRV(wgsl string) ([]uint32, error) {
	if wgsl == "" {
		return nil, errors.New("compute: empty WGSL source")
	}
	spirvBytes, err := naga.Compile(wgsl)
	if err != nil {
		return nil, fmt.Errorf("compute: compile shader: %w", err)
	}
	// SPIR-V is little-endian 32-bit words
	code := make([]uint32, len(spirvBytes)/4)
	for i := range code {
		code[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return code, nil
}

// Groups returns the workgroup counts covering a width x height image.
func (p *Program) Groups(width, height int) [3]uint32 {
	gx, gy := max(p.Workgroup[0], 1), max(p.Workgroup[1], 1)
	return [3]uint32{
		(uint32(width) + gx - 1) / gx,  //nolint:gosec // image sizes are small
		(uint32(height) + gy - 1) / gy, //nolint:gosec // image sizes are small
		1,
	}
}

// compile creates the driver program. Devices with a host kernel path get
// the kernel; GPU devices get SPIR-V, or WGSL when naga cannot compile it.
func (p *Program) compile(dev driver.Device) (driver.Program, error) {
	src := driver.ProgramSource{
		Label:      p.Label,
		WGSL:       p.WGSL,
		EntryPoint: p.EntryPoint,
		Bindings: []driver.BindingType{
			BindingUniforms: driver.BindingUniform,
			BindingInput:    driver.BindingReadOnlyStorage,
			BindingOutput:   driver.BindingStorage,
		},
		Host: p.Host,
	}
	if p.WGSL != "" && !dev.Caps().HostKernels {
		if code, err := p.SPIRV(); err == nil {
			src.SPIRV = code
		} else {
			slogger().Warn("compute: using WGSL source", "program", p.Label, "err", err)
		}
	}
	prog, err := dev.NewComputeProgram(src)
	if err != nil {
		return nil, fmt.Errorf("compute: program %q: %w", p.Label, err)
	}
	return prog, nil
}
