// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package dispatch

import (
	"errors"
	"fmt"
)

// Invocation describes one call of a task.
type Invocation struct {
	index     int
	abandoned bool
}

// Index returns the invocation number, starting at 0.
func (i Invocation) Index() int { return i.index }

// Abandoned reports whether the reader of the task's future stopped
// waiting. The task should release what it holds and finish.
func (i Invocation) Abandoned() bool { return i.abandoned }

// Result is what a task returns from one invocation: either Continue, to be
// invoked again in the next dispatcher cycle, or a final value.
type Result[T any] struct {
	done  bool
	value T
	err   error
}

// Continue asks for another invocation in the next cycle.
func Continue[T any]() Result[T] { return Result[T]{} }

// Done finishes the task with v.
func Done[T any](v T) Result[T] { return Result[T]{done: true, value: v} }

// Fail finishes the task with err.
func Fail[T any](err error) Result[T] { return Result[T]{done: true, err: err} }

// Finished reports whether the result ends the task.
func (r Result[T]) Finished() bool { return r.done }

// Task is a resumable unit of pipeline work. A multi-pass algorithm keeps
// its state in the closure and does one pass per invocation.
type Task[T any] func(inv Invocation) Result[T]

// job is a type-erased task bound to its promise.
type job interface {
	// invoke runs one invocation and reports whether the job is finished.
	invoke() bool
	reject(err error)
}

type taskJob[T any] struct {
	task    Task[T]
	promise *Promise[T]
	next    int
}

func (j *taskJob[T]) invoke() (finished bool) {
	// Resolved early by the task itself.
	if j.promise.IsResolved() {
		return true
	}
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if err, ok := r.(error); ok && errors.Is(err, ErrAlreadyResolved) {
			panic(r)
		}
		slogger().Error("dispatch: task panicked", "invocation", j.next, "panic", r)
		var zero T
		j.promise.complete(zero, fmt.Errorf("%w: %v", ErrTaskPanicked, r))
		finished = true
	}()

	res := j.task(Invocation{index: j.next, abandoned: j.promise.Abandoned()})
	j.next++
	if !res.done {
		return j.promise.IsResolved()
	}
	j.promise.complete(res.value, res.err)
	return true
}

func (j *taskJob[T]) reject(err error) {
	var zero T
	j.promise.complete(zero, err)
}

// Submit enqueues task on p and returns its future. The future exists
// before the task can run.
func Submit[T any](p *Pipeline, task Task[T]) *Future[T] {
	promise := NewPromise[T]()
	SubmitPromise(p, promise, task)
	return promise.Future()
}

// SubmitPromise enqueues task on p, resolving promise when it finishes.
// A task may resolve promise itself; it is not invoked again afterwards.
func SubmitPromise[T any](p *Pipeline, promise *Promise[T], task Task[T]) {
	p.push(&taskJob[T]{task: task, promise: promise})
}

// Run enqueues a single-invocation function on p.
func Run[T any](p *Pipeline, fn func() (T, error)) *Future[T] {
	return Submit(p, func(Invocation) Result[T] {
		v, err := fn()
		return Result[T]{done: true, value: v, err: err}
	})
}
