// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var errRejectedNil = errors.New("dispatch: rejected with nil error")

// Promise is the write side of a single-assignment result cell.
type Promise[T any] struct {
	mu       sync.Mutex
	done     chan struct{}
	resolved bool
	value    T
	err      error

	abandoned atomic.Bool
}

// NewPromise creates an unresolved promise.
func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{done: make(chan struct{})}
}

// Future returns the read side of the promise.
func (p *Promise[T]) Future() *Future[T] { return &Future[T]{p: p} }

// Resolve stores v and wakes every reader. Resolving a promise twice panics
// with ErrAlreadyResolved.
func (p *Promise[T]) Resolve(v T) {
	if !p.complete(v, nil) {
		panic(ErrAlreadyResolved)
	}
}

// Reject stores err and wakes every reader. Rejecting a resolved promise
// panics with ErrAlreadyResolved.
func (p *Promise[T]) Reject(err error) {
	if err == nil {
		err = errRejectedNil
	}
	var zero T
	if !p.complete(zero, err) {
		panic(ErrAlreadyResolved)
	}
}

// IsResolved reports whether the promise holds a value or an error.
func (p *Promise[T]) IsResolved() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resolved
}

// Abandoned reports whether a reader gave up waiting.
func (p *Promise[T]) Abandoned() bool { return p.abandoned.Load() }

func (p *Promise[T]) complete(v T, err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resolved {
		return false
	}
	p.value, p.err = v, err
	p.resolved = true
	close(p.done)
	return true
}

// Future is the read side of a Promise.
type Future[T any] struct {
	p *Promise[T]
}

// Get blocks until the promise is resolved.
//
// A future whose task never finishes blocks forever. Readers that cannot
// trust the producer use GetContext.
func (f *Future[T]) Get() (T, error) {
	<-f.p.done
	return f.p.value, f.p.err
}

// GetContext blocks until the promise is resolved or ctx is done. In the
// latter case the result is abandoned: the producing task sees
// Invocation.Abandoned on its next invocation, and work already submitted
// to the device still runs to completion.
func (f *Future[T]) GetContext(ctx context.Context) (T, error) {
	select {
	case <-f.p.done:
		return f.p.value, f.p.err
	case <-ctx.Done():
		f.p.abandoned.Store(true)
		var zero T
		return zero, ctx.Err()
	}
}

// Available reports, without blocking, whether Get would return at once.
func (f *Future[T]) Available() bool {
	select {
	case <-f.p.done:
		return true
	default:
		return false
	}
}

// Resolved returns a channel closed once the promise is resolved.
func (f *Future[T]) Resolved() <-chan struct{} { return f.p.done }

// Resolve returns a future already resolved with v and err.
func Resolve[T any](v T, err error) *Future[T] {
	p := NewPromise[T]()
	p.complete(v, err)
	return p.Future()
}
