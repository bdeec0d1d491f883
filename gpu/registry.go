// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import "sync"

// PoolRegistry maps contexts to their pools. Each context gets exactly one
// pool, created on first lookup.
//
// PoolRegistry is safe for concurrent use.
type PoolRegistry struct {
	mu     sync.Mutex
	pools  map[uint64]*Pool
	closed bool
}

// NewPoolRegistry creates an empty registry.
func NewPoolRegistry() *PoolRegistry {
	return &PoolRegistry{pools: make(map[uint64]*Pool)}
}

// Get returns the pool of ctx, creating it if needed. Released contexts and
// closed registries get an empty pool that is not retained.
func (r *PoolRegistry) Get(ctx *Context) *Pool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pools[ctx.id]; ok {
		return p
	}
	p := newPool(ctx, ctx.cfg.Pool)
	if !r.closed && !ctx.Released() {
		r.pools[ctx.id] = p
	}
	return p
}

// Lookup returns the pool of the context with the given ID, if any.
func (r *PoolRegistry) Lookup(id uint64) (*Pool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[id]
	return p, ok
}

// Len returns the number of registered pools.
func (r *PoolRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pools)
}

// Release releases every resource of ctx and drops its pool.
func (r *PoolRegistry) Release(ctx *Context) {
	r.mu.Lock()
	p, ok := r.pools[ctx.id]
	delete(r.pools, ctx.id)
	r.mu.Unlock()
	if ok {
		p.ReleaseAll()
	}
}

// Close releases the resources of every registered pool. Pools handed out
// afterwards are not retained.
func (r *PoolRegistry) Close() {
	r.mu.Lock()
	pools := r.pools
	r.pools = make(map[uint64]*Pool)
	r.closed = true
	r.mu.Unlock()

	for _, p := range pools {
		p.ReleaseAll()
	}
}
