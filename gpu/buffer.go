// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"fmt"
	"sync"

	"github.com/gogpu/sdfgen/internal/driver"
)

// Buffer is a block of device memory.
//
// Storage is allocated lazily by the first UploadData or BufferStorage call.
type Buffer struct {
	resource

	usage driver.BufferUsage

	mu       sync.Mutex
	buf      driver.Buffer
	reallocs int
}

var _ Resource = (*Buffer)(nil)

// NewBuffer creates a buffer without storage. The caller holds one
// reference and the buffer is watched by the context pool.
func (c *Context) NewBuffer(label string, usage driver.BufferUsage) (*Buffer, error) {
	if c.released.Load() {
		return nil, ErrContextReleased
	}
	b := &Buffer{usage: usage}
	b.init(c, KindBuffer, label)
	c.Pool().Watch(b)
	return b, nil
}

// Usage returns the usage flags given at creation.
func (b *Buffer) Usage() driver.BufferUsage { return b.usage }

// Valid reports whether the buffer has live storage.
func (b *Buffer) Valid() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.released.Load() && b.buf != nil
}

// Handle returns the driver buffer, nil before allocation.
func (b *Buffer) Handle() driver.Buffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf
}

// Reallocations returns how many times storage was (re)allocated.
func (b *Buffer) Reallocations() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reallocs
}

// UploadData replaces the buffer contents. Storage is reallocated only when
// len(data) differs from the current size; otherwise the existing storage
// is updated in place.
//
// UploadData panics with ErrImmutableStorage when the buffer has immutable
// storage of a different size.
func (b *Buffer) UploadData(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released.Load() {
		return ErrReleased
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: empty upload to %q", ErrInvalidSize, b.label)
	}
	size := uint64(len(data))
	if b.buf != nil && b.size.Load() == size {
		return b.buf.Upload(0, data)
	}
	if b.immutable.Load() {
		panic(fmt.Errorf("%w: %q holds %d bytes, upload of %d", ErrImmutableStorage, b.label, b.size.Load(), size))
	}
	if err := b.allocLocked(size); err != nil {
		return err
	}
	return b.buf.Upload(0, data)
}

// UploadSubData writes data at offset without reallocating.
func (b *Buffer) UploadSubData(offset uint64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released.Load() {
		return ErrReleased
	}
	if b.buf == nil {
		return ErrNotAllocated
	}
	return b.buf.Upload(offset, data)
}

// BufferStorage allocates immutable storage of the given size, optionally
// initialized from data. Calling it on a buffer that already has immutable
// storage panics with ErrImmutableStorage.
func (b *Buffer) BufferStorage(size uint64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released.Load() {
		return ErrReleased
	}
	if b.immutable.Load() {
		panic(fmt.Errorf("%w: %q already has immutable storage", ErrImmutableStorage, b.label))
	}
	if size == 0 || uint64(len(data)) > size {
		return fmt.Errorf("%w: storage of %d bytes for %q with %d bytes of data", ErrInvalidSize, size, b.label, len(data))
	}
	if err := b.allocLocked(size); err != nil {
		return err
	}
	b.immutable.Store(true)
	if len(data) > 0 {
		return b.buf.Upload(0, data)
	}
	return nil
}

func (b *Buffer) allocLocked(size uint64) error {
	if limit := b.ctx.dev.Caps().MaxBufferSize; limit > 0 && size > limit {
		return fmt.Errorf("%w: %d bytes exceeds device limit %d", ErrInvalidSize, size, limit)
	}
	buf, err := b.ctx.dev.NewBuffer(driver.BufferDesc{Label: b.label, Size: size, Usage: b.usage})
	if err != nil {
		return fmt.Errorf("gpu: allocate %q: %w", b.label, err)
	}
	if b.buf != nil {
		b.buf.Release()
	}
	b.buf = buf
	b.size.Store(size)
	b.reallocs++
	slogger().Debug("gpu: buffer storage", "label", b.label, "bytes", size)
	return nil
}

// Download copies buffer contents starting at offset into dst. It blocks
// until the device has produced the data.
func (b *Buffer) Download(offset uint64, dst []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released.Load() {
		return ErrReleased
	}
	if b.buf == nil {
		return ErrNotAllocated
	}
	return b.buf.Download(offset, dst)
}

// GetBufferSubData is Download under its classic name.
func (b *Buffer) GetBufferSubData(offset uint64, dst []byte) error {
	return b.Download(offset, dst)
}

// Map returns a copy of the whole buffer. It blocks like Download.
func (b *Buffer) Map() ([]byte, error) {
	out := make([]byte, b.Size())
	if err := b.Download(0, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Release destroys the storage. It is safe to call more than once.
func (b *Buffer) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.markReleased() {
		return
	}
	if b.buf != nil {
		b.buf.Release()
		b.buf = nil
	}
}

func (b *Buffer) discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.markReleased()
	b.buf = nil
}
