// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gogpu/sdfgen/internal/driver"
)

// Default pool settings.
const (
	// DefaultAvarice is the number of eviction candidates processed per
	// incremental flush.
	DefaultAvarice = 4

	// DefaultMaxIdleFrames is how many frames an unreferenced resource may
	// sit in the pool before it becomes an eviction candidate.
	DefaultMaxIdleFrames = 60

	// DefaultFlushBudget bounds the time Frame spends evicting.
	DefaultFlushBudget = 500 * time.Microsecond
)

// PoolConfig configures a Pool.
type PoolConfig struct {
	// Avarice is the number of idle resources evicted per incremental
	// flush. Zero disables incremental eviction; negative selects
	// DefaultAvarice.
	Avarice int

	// MaxIdleFrames is the idle age at which a resource may be evicted.
	// Zero or negative selects DefaultMaxIdleFrames.
	MaxIdleFrames int

	// FlushBudget bounds the time Frame spends evicting.
	// Zero or negative selects DefaultFlushBudget.
	FlushBudget time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Avarice < 0 {
		c.Avarice = DefaultAvarice
	}
	if c.MaxIdleFrames <= 0 {
		c.MaxIdleFrames = DefaultMaxIdleFrames
	}
	if c.FlushBudget <= 0 {
		c.FlushBudget = DefaultFlushBudget
	}
	return c
}

// PoolStats contains pool statistics.
type PoolStats struct {
	// Tracked is the number of resources watched by the pool.
	Tracked int

	// Idle is the number of tracked resources without external references.
	Idle int

	// Bytes is the total size of tracked resources.
	Bytes uint64

	// Hits and Misses count Recycle outcomes.
	Hits   uint64
	Misses uint64

	// Evictions counts resources released by the pool.
	Evictions uint64
}

// HitRate returns Hits / (Hits + Misses), or 0 with no recycle attempts.
func (s PoolStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// String returns a human-readable string of pool stats.
func (s PoolStats) String() string {
	return fmt.Sprintf("Pool[%d tracked, %d idle, %d KB, %.1f%% hits, %d evictions]",
		s.Tracked, s.Idle, s.Bytes/1024, s.HitRate()*100, s.Evictions)
}

// Pool tracks the resources of one Context for reuse.
//
// A tracked resource with no external references is idle: Recycle may hand
// it out again and the eviction hooks may release it. Pools are small, so
// lookups scan the tracked list.
//
// Pool is safe for concurrent use.
type Pool struct {
	mu sync.Mutex

	ctx     *Context
	cfg     PoolConfig
	entries []Resource

	hits      uint64
	misses    uint64
	evictions uint64
}

func newPool(ctx *Context, cfg PoolConfig) *Pool {
	return &Pool{ctx: ctx, cfg: cfg.withDefaults()}
}

// Context returns the context the pool belongs to.
func (p *Pool) Context() *Context { return p.ctx }

// Avarice returns the number of eviction candidates processed per flush.
func (p *Pool) Avarice() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.Avarice
}

// SetAvarice changes eviction aggressiveness. Zero disables incremental
// eviction.
func (p *Pool) SetAvarice(n int) {
	p.mu.Lock()
	p.cfg.Avarice = max(n, 0)
	p.mu.Unlock()
}

// Watch tracks r for recycling. The caller keeps its references; r becomes
// recyclable once they are all dropped. Watching a resource twice, or a
// resource of another context, has no effect.
func (p *Pool) Watch(r Resource) {
	if r == nil || r.base().ctx != p.ctx {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if slices.Contains(p.entries, r) {
		return
	}
	p.entries = append(p.entries, r)
}

// Tracks reports whether r is watched by the pool.
func (p *Pool) Tracks(r Resource) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Contains(p.entries, r)
}

// Recycle returns the first idle tracked resource of type T for which
// compatible returns true, holding one external reference for the caller.
// A nil predicate accepts any T. It never returns a resource referenced
// elsewhere. Every call counts as a hit or a miss.
func Recycle[T Resource](p *Pool, compatible func(T) bool) (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, r := range p.entries {
		t, ok := r.(T)
		if !ok {
			continue
		}
		b := r.base()
		if !b.recyclable || b.released.Load() || b.refs.Load() != 0 {
			continue
		}
		if compatible != nil && !compatible(t) {
			continue
		}
		if !b.refs.CompareAndSwap(0, 1) {
			continue
		}
		b.idle = 0
		p.hits++
		slogger().Debug("gpu: recycle hit", "kind", b.kind, "label", b.label, "bytes", b.size.Load())
		return t, true
	}
	p.misses++
	var zero T
	return zero, false
}

// RecycleBuffer returns an idle buffer with exactly size bytes of storage
// and the given usage.
func (p *Pool) RecycleBuffer(size uint64, usage driver.BufferUsage) (*Buffer, bool) {
	return Recycle(p, func(b *Buffer) bool {
		return b.usage == usage && b.Size() == size && b.Valid()
	})
}

// RecycleTexture returns an idle texture allocated with profile.
func (p *Pool) RecycleTexture(profile TextureProfile) (*Texture, bool) {
	if profile.Depth == 0 {
		profile.Depth = 1
	}
	profile.MipLevels = max(profile.MipLevels, 1)
	return Recycle(p, func(t *Texture) bool {
		return t.Valid() && t.Profile() == profile
	})
}

// TotalBytes returns the total size of tracked resources.
func (p *Pool) TotalBytes() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var total uint64
	for _, r := range p.entries {
		total += r.Size()
	}
	return total
}

// Stats returns current pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := PoolStats{
		Tracked:   len(p.entries),
		Hits:      p.hits,
		Misses:    p.misses,
		Evictions: p.evictions,
	}
	for _, r := range p.entries {
		s.Bytes += r.Size()
		if r.Refs() == 0 {
			s.Idle++
		}
	}
	return s
}

// Frame ages idle resources and runs an incremental flush. The owning
// context calls it once per frame.
func (p *Pool) Frame() {
	p.mu.Lock()
	kept := p.entries[:0]
	for _, r := range p.entries {
		b := r.base()
		if b.released.Load() {
			continue
		}
		if b.refs.Load() == 0 {
			b.idle++
		} else {
			b.idle = 0
		}
		kept = append(kept, r)
	}
	clear(p.entries[len(kept):])
	p.entries = kept
	budget := p.cfg.FlushBudget
	p.mu.Unlock()

	p.FlushDeletedGLObjects(time.Now(), budget)
}

// FlushDeletedGLObjects releases at most Avarice idle resources older than
// MaxIdleFrames, oldest first, stopping early once budget has elapsed since
// now. It returns the number of resources released.
func (p *Pool) FlushDeletedGLObjects(now time.Time, budget time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cfg.Avarice == 0 {
		return 0
	}
	var candidates []Resource
	for _, r := range p.entries {
		b := r.base()
		if b.refs.Load() == 0 && b.idle >= p.cfg.MaxIdleFrames {
			candidates = append(candidates, r)
		}
	}
	slices.SortStableFunc(candidates, func(a, b Resource) int {
		return b.base().idle - a.base().idle
	})

	deadline := now.Add(budget)
	evicted := 0
	for _, r := range candidates {
		if evicted >= p.cfg.Avarice || (budget > 0 && time.Now().After(deadline)) {
			break
		}
		if p.evictLocked(r) {
			evicted++
		}
	}
	return evicted
}

// FlushAllDeletedGLObjects releases every idle resource regardless of age
// and avarice. It returns the number of resources released.
func (p *Pool) FlushAllDeletedGLObjects() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	evicted := 0
	for _, r := range slices.Clone(p.entries) {
		if r.Refs() == 0 && p.evictLocked(r) {
			evicted++
		}
	}
	return evicted
}

// evictLocked releases an idle resource and stops tracking it.
// Caller must hold mu.
func (p *Pool) evictLocked(r Resource) bool {
	b := r.base()
	// Claim it; a late Acquire leaves refs negative and never recyclable.
	if !b.refs.CompareAndSwap(0, -1<<30) {
		return false
	}
	p.removeLocked(r)
	r.Release()
	p.evictions++
	slogger().Debug("gpu: evicted", "kind", b.kind, "label", b.label, "idle_frames", b.idle)
	return true
}

func (p *Pool) removeLocked(r Resource) {
	if i := slices.Index(p.entries, r); i >= 0 {
		p.entries = slices.Delete(p.entries, i, i+1)
	}
}

// DeleteAllGLObjects releases every tracked resource, including referenced
// ones, and empties the pool. Used when the context is torn down.
func (p *Pool) DeleteAllGLObjects() {
	p.mu.Lock()
	entries := p.entries
	p.entries = nil
	p.mu.Unlock()

	for _, r := range entries {
		r.Release()
	}
	if len(entries) > 0 {
		slogger().Debug("gpu: released pool", "context", p.ctx.ID(), "resources", len(entries))
	}
}

// DiscardAllGLObjects forgets every tracked resource without calling the
// driver. Used when the device is already gone.
func (p *Pool) DiscardAllGLObjects() {
	p.mu.Lock()
	entries := p.entries
	p.entries = nil
	p.mu.Unlock()

	for _, r := range entries {
		r.discard()
	}
}

// ReleaseAll forcibly releases every tracked resource.
func (p *Pool) ReleaseAll() {
	p.DeleteAllGLObjects()
}
