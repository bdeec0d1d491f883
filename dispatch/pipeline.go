// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package dispatch

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/gogpu/sdfgen/gpu"
)

// State is the state of a pipeline's dispatcher.
type State int32

const (
	// StateIdle: not started, or the default pipeline between frames.
	StateIdle State = iota
	// StateWaiting: blocked until a frame sync hands it work.
	StateWaiting
	// StateExecuting: draining the current queue.
	StateExecuting
	// StateStopped: shut down.
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateWaiting:
		return "Waiting"
	case StateExecuting:
		return "Executing"
	case StateStopped:
		return "Stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Stats contains pipeline counters.
type Stats struct {
	Name string

	// Invocations counts task invocations, Completed counts finished tasks.
	Invocations uint64
	Completed   uint64

	// Pending is the number of queued tasks, current and next.
	Pending int

	// Cycles counts executed batches.
	Cycles uint64
}

// Pipeline serializes task execution on one graphics context.
//
// Submitted work always lands in the next queue. A frame sync moves it to
// the current queue, which the dispatcher drains in submission order; a
// task returning Continue goes back to the next queue, so it runs at most
// once per cycle and nothing accepted after a sync runs before the
// following one.
//
// A named pipeline drains on its own goroutine, locked to an OS thread by
// default. The default pipeline has no goroutine: Registry.Frame drains it
// inline on the render loop.
type Pipeline struct {
	name   string
	ctx    *gpu.Context
	inline bool

	mu         sync.Mutex
	current    []job
	next       []job
	closed     bool
	idle       chan struct{}
	idleClosed bool

	state       atomic.Int32
	invocations atomic.Uint64
	completed   atomic.Uint64
	cycles      atomic.Uint64

	wake    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
}

func newPipeline(name string, ctx *gpu.Context, inline bool) *Pipeline {
	p := &Pipeline{
		name:    name,
		ctx:     ctx,
		inline:  inline,
		idle:    make(chan struct{}),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	close(p.idle)
	p.idleClosed = true
	return p
}

// start runs the dispatcher goroutine of a named pipeline.
func (p *Pipeline) start(lockThread bool) {
	go func() {
		defer func() {
			p.state.Store(int32(StateStopped))
			close(p.stopped)
		}()
		if lockThread {
			runtime.LockOSThread()
			// Never unlocked: the thread dies with the goroutine.
		}
		slogger().Info("dispatch: pipeline started", "name", p.name, "context", p.ctx.ID())
		for {
			p.state.Store(int32(StateWaiting))
			select {
			case <-p.wake:
			case <-p.stop:
				return
			}
			if !p.drain() {
				return
			}
		}
	}()
}

// Name returns the pipeline name, empty for the default pipeline.
func (p *Pipeline) Name() string { return p.name }

// Context returns the graphics context tasks of the pipeline run on.
func (p *Pipeline) Context() *gpu.Context { return p.ctx }

// State returns the dispatcher state.
func (p *Pipeline) State() State { return State(p.state.Load()) }

// Stats returns pipeline counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	pending := len(p.current) + len(p.next)
	p.mu.Unlock()
	return Stats{
		Name:        p.name,
		Invocations: p.invocations.Load(),
		Completed:   p.completed.Load(),
		Pending:     pending,
		Cycles:      p.cycles.Load(),
	}
}

// Wait blocks until the dispatcher has drained its current queue or ctx is
// done. Work still in the next queue is not waited for.
func (p *Pipeline) Wait(ctx context.Context) error {
	p.mu.Lock()
	ch := p.idle
	p.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) push(j job) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		j.reject(ErrPipelineClosed)
		return
	}
	p.next = append(p.next, j)
	p.mu.Unlock()
	p.notify()
}

func (p *Pipeline) notify() {
	if p.inline {
		return
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// sync moves the next queue behind the current one.
func (p *Pipeline) sync() {
	p.mu.Lock()
	if p.closed || len(p.next) == 0 {
		p.mu.Unlock()
		return
	}
	p.current = append(p.current, p.next...)
	clear(p.next)
	p.next = p.next[:0]
	if p.idleClosed {
		p.idle = make(chan struct{})
		p.idleClosed = false
	}
	p.mu.Unlock()
	p.notify()
}

// drain runs batches until the current queue is empty. It returns false
// once the pipeline is stopped.
func (p *Pipeline) drain() bool {
	for {
		select {
		case <-p.stop:
			return false
		default:
		}

		p.mu.Lock()
		batch := p.current
		p.current = nil
		if len(batch) == 0 {
			if !p.idleClosed {
				close(p.idle)
				p.idleClosed = true
			}
			p.mu.Unlock()
			return true
		}
		p.mu.Unlock()

		p.state.Store(int32(StateExecuting))
		p.execute(batch)
		p.ctx.Frame()
	}
}

func (p *Pipeline) execute(batch []job) {
	p.cycles.Add(1)
	var again []job
	for _, j := range batch {
		p.invocations.Add(1)
		if j.invoke() {
			p.completed.Add(1)
			continue
		}
		again = append(again, j)
	}
	slogger().Debug("dispatch: cycle", "pipeline", p.name, "tasks", len(batch), "continuing", len(again))
	if len(again) == 0 {
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		for _, j := range again {
			j.reject(ErrPipelineClosed)
		}
		return
	}
	p.next = append(p.next, again...)
	p.mu.Unlock()
}

// runInline syncs and drains the default pipeline on the caller.
func (p *Pipeline) runInline() {
	p.sync()
	p.mu.Lock()
	batch := p.current
	p.current = nil
	if !p.idleClosed {
		close(p.idle)
		p.idleClosed = true
	}
	p.mu.Unlock()
	if len(batch) == 0 {
		return
	}
	p.state.Store(int32(StateExecuting))
	p.execute(batch)
	p.state.Store(int32(StateIdle))
}

// close rejects pending work and stops the dispatcher. It returns the
// channel closed when the dispatcher goroutine has exited.
func (p *Pipeline) close() <-chan struct{} {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return p.stopped
	}
	p.closed = true
	pending := append(p.current, p.next...)
	p.current, p.next = nil, nil
	if !p.idleClosed {
		close(p.idle)
		p.idleClosed = true
	}
	p.mu.Unlock()

	for _, j := range pending {
		j.reject(ErrPipelineClosed)
	}
	close(p.stop)
	if p.inline {
		close(p.stopped)
	}
	p.state.Store(int32(StateStopped))
	if len(pending) > 0 {
		slogger().Info("dispatch: rejected pending tasks", "pipeline", p.name, "count", len(pending))
	}
	return p.stopped
}
