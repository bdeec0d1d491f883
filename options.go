// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package sdfgen

import (
	"github.com/gogpu/sdfgen/compute"
	"github.com/gogpu/sdfgen/dispatch"
)

// CombineMode selects how CreateDistanceField merges new distances into
// the output raster.
type CombineMode uint8

const (
	// CombineAdd adds each contribution to the existing value. Several
	// feature layers accumulate into one field.
	CombineAdd CombineMode = iota

	// CombineMin keeps the smaller of the existing value and the
	// contribution. Fill the raster with 1 before the first layer.
	CombineMin
)

// String returns the mode name.
func (m CombineMode) String() string {
	switch m {
	case CombineAdd:
		return "add"
	case CombineMin:
		return "min"
	default:
		return "unknown"
	}
}

// Option configures a Generator.
//
// Example:
//
//	// CPU only, four workers
//	g := sdfgen.New(sdfgen.WithWorkers(4))
//
//	// GPU path on a named dispatch pipeline
//	g := sdfgen.New(sdfgen.WithDispatch(reg), sdfgen.WithPipeline("sdf"), sdfgen.WithGPU(true))
type Option func(*options)

type options struct {
	useGPU   bool
	registry *dispatch.Registry
	pipeline string
	workers  int
	combine  CombineMode
	sessions *compute.SessionCache
}

func defaultOptions() options {
	return options{
		pipeline: "sdf",
		combine:  CombineAdd,
	}
}

// WithGPU sets the initial value of the GPU toggle. See Generator.SetUseGPU.
func WithGPU(use bool) Option {
	return func(o *options) {
		o.useGPU = use
	}
}

// WithDispatch sets the registry whose pipelines run GPU passes. Without
// one the generator always uses the CPU path.
func WithDispatch(reg *dispatch.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithPipeline names the dispatch pipeline for GPU passes. The empty name
// selects the registry's default pipeline, which runs on the render loop.
//
// Every pass waits for a Registry.Frame call, and the default pipeline's
// tasks run inside it. A GPU build called from the goroutine that calls
// Frame therefore never completes: it blocks until ctx is done. Build from
// another goroutine.
func WithPipeline(name string) Option {
	return func(o *options) {
		o.pipeline = name
	}
}

// WithWorkers sets the CPU worker count. Zero selects GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithCombineMode sets how distance contributions merge. The default is
// CombineAdd.
func WithCombineMode(m CombineMode) Option {
	return func(o *options) {
		o.combine = m
	}
}

// WithSessionCache shares a compute session cache between generators.
// The caller keeps ownership and closes it.
func WithSessionCache(c *compute.SessionCache) Option {
	return func(o *options) {
		o.sessions = c
	}
}
