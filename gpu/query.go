// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/sdfgen/internal/driver"
)

// queryPoll bounds each blocking fence wait in Query.Result.
const queryPoll = 10 * time.Millisecond

type queryState uint8

const (
	queryIdle queryState = iota
	queryRunning
	queryWaiting
)

// Query tracks completion of device work submitted between Begin and End
// and measures how long it took.
//
// A query cycles idle -> running -> waiting -> idle. IsReady polls without
// blocking; Result blocks. Callers on latency-sensitive paths poll first.
type Query struct {
	resource

	mu       sync.Mutex
	fence    driver.Fence
	value    uint64
	state    queryState
	attached bool
	begin    time.Time
	elapsed  time.Duration
	done     bool
}

var _ Resource = (*Query)(nil)

// NewQuery creates a query. The caller holds one reference and the query
// is watched by the context pool.
func (c *Context) NewQuery(label string) (*Query, error) {
	if c.released.Load() {
		return nil, ErrContextReleased
	}
	f, err := c.dev.NewFence()
	if err != nil {
		return nil, fmt.Errorf("gpu: query %q: %w", label, err)
	}
	q := &Query{fence: f}
	q.init(c, KindQuery, label)
	q.size.Store(8)
	c.Pool().Watch(q)
	return q, nil
}

// Valid reports whether the query is usable.
func (q *Query) Valid() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.released.Load() && q.fence != nil
}

// Begin starts a new measurement.
func (q *Query) Begin() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.released.Load() {
		return ErrReleased
	}
	if q.state != queryIdle {
		return fmt.Errorf("%w: Begin on %q while not idle", ErrQueryState, q.label)
	}
	q.value++
	q.state = queryRunning
	q.attached = false
	q.done = false
	q.elapsed = 0
	q.begin = time.Now()
	return nil
}

// attach returns the fence and value a dispatch must signal on completion.
func (q *Query) attach() (driver.Fence, uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != queryRunning {
		return nil, 0, fmt.Errorf("%w: dispatch attached to %q outside Begin/End", ErrQueryState, q.label)
	}
	q.attached = true
	return q.fence, q.value, nil
}

// End closes the measurement. When no dispatch was attached the fence is
// signalled right behind the work already queued.
func (q *Query) End() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.released.Load() {
		return ErrReleased
	}
	if q.state != queryRunning {
		return fmt.Errorf("%w: End on %q without Begin", ErrQueryState, q.label)
	}
	if !q.attached {
		if err := q.ctx.dev.Signal(q.fence, q.value); err != nil {
			return fmt.Errorf("gpu: end query %q: %w", q.label, err)
		}
	}
	q.state = queryWaiting
	return nil
}

// IsReady reports, without blocking, whether the result is available.
func (q *Query) IsReady() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pollLocked(0)
}

func (q *Query) pollLocked(timeout time.Duration) bool {
	if q.done {
		return true
	}
	if q.state != queryWaiting || q.released.Load() {
		return false
	}
	ok, err := q.fence.Reached(q.value, timeout)
	if err != nil {
		slogger().Warn("gpu: query poll failed", "label", q.label, "err", err)
		return false
	}
	if ok {
		q.elapsed = time.Since(q.begin)
		q.done = true
	}
	return ok
}

// TryResult returns the elapsed time, or ErrResultNotReady if the device
// has not finished. A successful call returns the query to idle.
func (q *Query) TryResult() (time.Duration, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.pollLocked(0) {
		if q.state != queryWaiting {
			return 0, fmt.Errorf("%w: result of %q requested before End", ErrQueryState, q.label)
		}
		return 0, ErrResultNotReady
	}
	return q.takeLocked(), nil
}

// Result blocks until the device has finished and returns the time between
// Begin and the moment completion was observed.
func (q *Query) Result() (time.Duration, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != queryWaiting {
		if q.released.Load() {
			return 0, ErrReleased
		}
		return 0, fmt.Errorf("%w: result of %q requested before End", ErrQueryState, q.label)
	}
	for !q.pollLocked(queryPoll) {
		if q.released.Load() {
			return 0, ErrReleased
		}
		q.mu.Unlock()
		time.Sleep(time.Millisecond)
		q.mu.Lock()
	}
	return q.takeLocked(), nil
}

func (q *Query) takeLocked() time.Duration {
	q.state = queryIdle
	q.done = false
	return q.elapsed
}

// Release destroys the fence. It is safe to call more than once.
func (q *Query) Release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.markReleased() {
		return
	}
	if q.fence != nil {
		q.fence.Release()
		q.fence = nil
	}
}

func (q *Query) discard() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.markReleased()
	q.fence = nil
}
