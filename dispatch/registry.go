// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package dispatch runs GPU work asynchronously on pipelines synchronized
// with a render loop.
//
// A Registry owns the default pipeline, which executes on the render loop
// itself, and any number of named pipelines, each with a dispatcher
// goroutine and its own graphics context. The render loop calls
// Registry.Frame once per frame:
//
//	reg := dispatch.NewRegistry(mainCtx)
//	defer reg.Shutdown(context.Background())
//
//	p, _ := reg.Get("sdf")
//	fut := dispatch.Submit(p, func(inv dispatch.Invocation) dispatch.Result[int] {
//	    if inv.Index() < 3 {
//	        return dispatch.Continue[int]()
//	    }
//	    return dispatch.Done(inv.Index())
//	})
//	for !fut.Available() {
//	    reg.Frame()
//	}
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/sdfgen/gpu"
)

// ContextFactory creates the graphics context of a named pipeline.
type ContextFactory func(main *gpu.Context, name string) (*gpu.Context, error)

// SharedContext is the default ContextFactory: a context on the main
// device with its own pool.
func SharedContext(main *gpu.Context, _ string) (*gpu.Context, error) {
	return gpu.NewSharedContext(main), nil
}

type options struct {
	factory    ContextFactory
	lockThread bool
}

// Option configures a Registry.
type Option func(*options)

// WithContextFactory sets how named pipelines get their contexts.
func WithContextFactory(f ContextFactory) Option {
	return func(o *options) {
		if f != nil {
			o.factory = f
		}
	}
}

// WithLockOSThread controls whether dispatcher goroutines lock their OS
// thread. Enabled by default.
func WithLockOSThread(lock bool) Option {
	return func(o *options) { o.lockThread = lock }
}

// Registry maps pipeline names to pipelines.
//
// Registry is safe for concurrent use. Frame must be called from one
// goroutine, the render loop.
type Registry struct {
	main *gpu.Context
	opts options

	def *Pipeline

	mu     sync.Mutex
	named  map[string]*Pipeline
	closed bool

	frames atomic.Uint64
}

// NewRegistry creates a registry whose default pipeline runs on main.
func NewRegistry(main *gpu.Context, opts ...Option) *Registry {
	o := options{factory: SharedContext, lockThread: true}
	for _, opt := range opts {
		opt(&o)
	}
	return &Registry{
		main:  main,
		opts:  o,
		def:   newPipeline("", main, true),
		named: make(map[string]*Pipeline),
	}
}

// Main returns the render loop's context.
func (r *Registry) Main() *gpu.Context { return r.main }

// Default returns the pipeline executing on the render loop.
func (r *Registry) Default() *Pipeline { return r.def }

// Get returns the pipeline called name, starting it on first use. The
// empty name selects the default pipeline.
func (r *Registry) Get(name string) (*Pipeline, error) {
	if name == "" {
		return r.def, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrPipelineClosed
	}
	if p, ok := r.named[name]; ok {
		return p, nil
	}
	ctx, err := r.opts.factory(r.main, name)
	if err != nil {
		return nil, fmt.Errorf("dispatch: context for pipeline %q: %w", name, err)
	}
	p := newPipeline(name, ctx, false)
	p.start(r.opts.lockThread)
	r.named[name] = p
	return p, nil
}

// Names returns the names of the started pipelines.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.named))
	for name := range r.named {
		names = append(names, name)
	}
	return names
}

// FrameCount returns the number of Frame calls.
func (r *Registry) FrameCount() uint64 { return r.frames.Load() }

// Frame runs one frame of the render loop: the default pipeline's queued
// tasks execute inline, once each and in submission order, and then every
// named pipeline gets its frame sync.
func (r *Registry) Frame() {
	r.frames.Add(1)
	r.def.runInline()
	r.main.Frame()

	r.mu.Lock()
	named := make([]*Pipeline, 0, len(r.named))
	for _, p := range r.named {
		named = append(named, p)
	}
	r.mu.Unlock()
	for _, p := range named {
		p.sync()
	}
}

// RunFrames calls Frame every interval until ctx is done, standing in for a
// render loop in headless programs. It returns ctx.Err().
func (r *Registry) RunFrames(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		r.Frame()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Wait blocks until every named pipeline has drained its current queue.
func (r *Registry) Wait(ctx context.Context) error {
	r.mu.Lock()
	named := make([]*Pipeline, 0, len(r.named))
	for _, p := range r.named {
		named = append(named, p)
	}
	r.mu.Unlock()
	for _, p := range named {
		if err := p.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown rejects all pending work with ErrPipelineClosed, stops the
// dispatcher goroutines and releases the contexts of named pipelines. It
// waits for running tasks to return or ctx to be done.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	named := r.named
	r.named = make(map[string]*Pipeline)
	r.mu.Unlock()

	var errs []error
	r.def.close()
	for name, p := range named {
		select {
		case <-p.close():
			p.ctx.Release()
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("dispatch: pipeline %q: %w", name, ctx.Err()))
		}
	}
	slogger().Info("dispatch: registry shut down", "pipelines", len(named))
	return errors.Join(errs...)
}
