// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package compute

import (
	"sync"

	"github.com/gogpu/sdfgen/gpu"
)

type cacheKey struct {
	ctx  *gpu.Context
	prog *Program
}

// SessionCache keeps idle sessions per context and program. Acquire checks
// one out for the exclusive use of the caller; concurrent callers always
// get distinct sessions, each bound to its program once.
//
// SessionCache is safe for concurrent use.
type SessionCache struct {
	mu      sync.Mutex
	idle    map[cacheKey][]*Session
	created int
	closed  bool
}

// NewSessionCache creates an empty cache.
func NewSessionCache() *SessionCache {
	return &SessionCache{idle: make(map[cacheKey][]*Session)}
}

// Acquire returns an idle session for prog on ctx, or a new one.
func (c *SessionCache) Acquire(ctx *gpu.Context, prog *Program) (*Session, error) {
	if ctx.Released() {
		return nil, gpu.ErrContextReleased
	}
	key := cacheKey{ctx, prog}

	c.mu.Lock()
	if list := c.idle[key]; len(list) > 0 {
		s := list[len(list)-1]
		list[len(list)-1] = nil
		c.idle[key] = list[:len(list)-1]
		c.mu.Unlock()
		return s, nil
	}
	c.created++
	c.mu.Unlock()

	s := NewSession(ctx)
	if err := s.SetProgram(prog); err != nil {
		return nil, err
	}
	slogger().Debug("compute: new session", "program", prog.Label, "context", ctx.ID())
	return s, nil
}

// Release returns s to the cache. Sessions of released contexts, and any
// session once the cache is closed, are released instead.
func (c *SessionCache) Release(s *Session) {
	if s == nil {
		return
	}
	if s.submitted {
		if err := s.Collect(); err != nil {
			// Still running or failed: do not cache a busy session.
			s.Release()
			return
		}
	}
	s.SetImage(nil)

	c.mu.Lock()
	if c.closed || s.ctx.Released() || s.prog == nil {
		c.mu.Unlock()
		s.Release()
		return
	}
	key := cacheKey{s.ctx, s.prog}
	c.idle[key] = append(c.idle[key], s)
	c.mu.Unlock()
}

// Idle returns the number of cached sessions.
func (c *SessionCache) Idle() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, list := range c.idle {
		n += len(list)
	}
	return n
}

// Created returns the number of sessions created by Acquire.
func (c *SessionCache) Created() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.created
}

// Purge releases the idle sessions of ctx.
func (c *SessionCache) Purge(ctx *gpu.Context) {
	c.mu.Lock()
	var drop []*Session
	for key, list := range c.idle {
		if key.ctx == ctx {
			drop = append(drop, list...)
			delete(c.idle, key)
		}
	}
	c.mu.Unlock()
	for _, s := range drop {
		s.Release()
	}
}

// Close releases every idle session. Sessions released to a closed cache
// are released immediately.
func (c *SessionCache) Close() {
	c.mu.Lock()
	idle := c.idle
	c.idle = make(map[cacheKey][]*Session)
	c.closed = true
	c.mu.Unlock()
	for _, list := range idle {
		for _, s := range list {
			s.Release()
		}
	}
}
