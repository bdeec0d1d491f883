// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package sdfgen

import (
	"context"
	"errors"
	"fmt"

	"github.com/gogpu/sdfgen/compute"
	"github.com/gogpu/sdfgen/dispatch"
	"github.com/gogpu/sdfgen/gpu"
	"github.com/gogpu/sdfgen/internal/jfa"
)

// jfaProgram is the jump-flood pass. Devices with host kernels run
// jfa.HostKernel, GPUs the WGSL shader.
var jfaProgram = &compute.Program{
	Label:      "jfa",
	WGSL:       jfa.WGSL,
	EntryPoint: "main",
	Workgroup:  [2]uint32{jfa.WorkgroupSize, jfa.WorkgroupSize},
	Host:       jfa.HostKernel,
}

// gpuBuilder floods through a dispatch pipeline. One task drives the whole
// flood: each invocation collects the previous pass and submits the next,
// so the pipeline is never blocked on the device.
type gpuBuilder struct {
	reg      *dispatch.Registry
	pipeline string
	sessions *compute.SessionCache
}

func (b *gpuBuilder) name() string { return "gpu" }

func (b *gpuBuilder) build(ctx context.Context, field []int32, size int) error {
	p, err := b.reg.Get(b.pipeline)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrGPUUnavailable, err)
	}
	if p.Context().Released() {
		return fmt.Errorf("%w: %w", ErrGPUUnavailable, gpu.ErrContextReleased)
	}

	img := compute.NewImage(size, size, 8)
	jfa.Encode(field, img.Pix)
	steps := jfa.Steps(size)
	if len(steps) == 0 {
		return nil
	}

	fut := dispatch.Submit(p, b.floodTask(ctx, p.Context(), img, steps))
	passes, err := fut.GetContext(ctx)
	if err != nil {
		if errors.Is(err, ErrCanceled) {
			return err
		}
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			// The task still owns img; field keeps its seeded state.
			return canceled(err)
		}
		return err
	}
	jfa.Decode(img.Pix, field)
	Logger().Debug("sdfgen: gpu flood done", "size", size, "passes", passes, "pipeline", b.pipeline)
	return nil
}

// floodTask returns the multi-invocation task running one pass of steps
// per invocation over img. It resolves to the number of passes.
func (b *gpuBuilder) floodTask(ctx context.Context, gctx *gpu.Context, img *compute.Image, steps []int) dispatch.Task[int] {
	var (
		sess *compute.Session
		pass int
	)
	size := img.Width
	release := func() {
		if sess != nil {
			b.sessions.Release(sess)
			sess = nil
		}
	}
	binder := compute.BinderFunc(func(*compute.Image) []byte {
		return jfa.Params(size, steps[pass])
	})

	return func(inv dispatch.Invocation) dispatch.Result[int] {
		if inv.Abandoned() || ctx.Err() != nil {
			release()
			if err := ctx.Err(); err != nil {
				return dispatch.Fail[int](canceled(err))
			}
			return dispatch.Fail[int](ErrCanceled)
		}

		if sess == nil {
			s, err := b.sessions.Acquire(gctx, jfaProgram)
			if err != nil {
				return dispatch.Fail[int](fmt.Errorf("%w: %w", ErrGPUUnavailable, err))
			}
			sess = s
			sess.SetImage(img)
			sess.SetUniforms(binder)
		} else {
			if !sess.Ready() {
				return dispatch.Continue[int]()
			}
			if err := sess.Collect(); err != nil {
				release()
				return dispatch.Fail[int](err)
			}
			pass++
			if pass == len(steps) {
				release()
				return dispatch.Done(pass)
			}
		}

		if err := sess.Submit(); err != nil {
			release()
			return dispatch.Fail[int](fmt.Errorf("sdfgen: jump flood pass %d: %w", pass, err))
		}
		return dispatch.Continue[int]()
	}
}
