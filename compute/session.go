// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package compute

import (
	"errors"
	"fmt"

	"github.com/gogpu/sdfgen/gpu"
	"github.com/gogpu/sdfgen/internal/driver"
)

const (
	uniformUsage  = driver.BufferUsageUniform | driver.BufferUsageCopyDst
	storageUsage  = driver.BufferUsageStorage | driver.BufferUsageCopySrc | driver.BufferUsageCopyDst
	transferUsage = driver.BufferUsageMapRead | driver.BufferUsageCopyDst

	// minUniformSize is the uniform block bound when the binder has none.
	minUniformSize = 16
)

// ErrNotSubmitted is returned by Collect without a pending Submit.
var ErrNotSubmitted = errors.New("compute: nothing submitted")

// ErrBusy is returned by Submit while a previous submission is pending.
var ErrBusy = errors.New("compute: previous submission not collected")

// Image is a host-resident image of fixed-size pixels.
type Image struct {
	Width, Height int

	// PixelSize is the number of bytes per pixel.
	PixelSize int

	Pix []byte
}

// NewImage allocates a zeroed image.
func NewImage(width, height, pixelSize int) *Image {
	return &Image{
		Width:     width,
		Height:    height,
		PixelSize: pixelSize,
		Pix:       make([]byte, width*height*pixelSize),
	}
}

func (img *Image) valid() bool {
	return img.Width > 0 && img.Height > 0 && img.PixelSize > 0 &&
		len(img.Pix) == img.Width*img.Height*img.PixelSize
}

// Binder supplies the uniform block of each execution.
type Binder interface {
	Uniforms(img *Image) []byte
}

// BinderFunc adapts a function to Binder.
type BinderFunc func(img *Image) []byte

// Uniforms calls f.
func (f BinderFunc) Uniforms(img *Image) []byte { return f(img) }

// Session runs a program over an image: upload, dispatch, copy to a
// transfer buffer, read back into the image.
//
// Buffers, binding sets and the completion query are taken from the
// context pool and given back when they no longer fit or on Release.
//
// Session is not safe for concurrent use. Use a SessionCache to give each
// caller its own.
type Session struct {
	ctx      *gpu.Context
	prog     *Program
	compiled driver.Program
	img      *Image
	binder   Binder

	params, input, output, transfer *gpu.Buffer

	bindings *gpu.VertexArray
	query    *gpu.Query

	submitted  bool
	executions uint64
}

// NewSession creates a session on ctx.
func NewSession(ctx *gpu.Context) *Session {
	return &Session{ctx: ctx}
}

// Context returns the session's graphics context.
func (s *Session) Context() *gpu.Context { return s.ctx }

// Program returns the bound program.
func (s *Session) Program() *Program { return s.prog }

// Executions returns the number of collected executions.
func (s *Session) Executions() uint64 { return s.executions }

// SetProgram binds p. Binding the current program again is a no-op.
func (s *Session) SetProgram(p *Program) error {
	if p == s.prog {
		return nil
	}
	if s.submitted {
		return ErrBusy
	}
	compiled, err := p.compile(s.ctx.Device())
	if err != nil {
		return err
	}
	s.dropBindings()
	if s.compiled != nil {
		s.compiled.Release()
	}
	s.prog, s.compiled = p, compiled
	return nil
}

// SetImage sets the image read and overwritten by executions.
func (s *Session) SetImage(img *Image) { s.img = img }

// SetUniforms sets the uniform source. Nil binds a zero block.
func (s *Session) SetUniforms(b Binder) { s.binder = b }

// Execute submits one pass and blocks until its result is in the image.
func (s *Session) Execute() error {
	if err := s.Submit(); err != nil {
		return err
	}
	if _, err := s.query.Result(); err != nil {
		s.submitted = false
		return fmt.Errorf("compute: wait for %q: %w", s.prog.Label, err)
	}
	return s.Collect()
}

// Submit uploads the image and uniforms and queues one pass without
// waiting for it. Poll Ready, then Collect.
func (s *Session) Submit() error {
	switch {
	case s.prog == nil:
		return ErrNoProgram
	case s.img == nil || !s.img.valid():
		return ErrNoImage
	case s.submitted:
		return ErrBusy
	}

	var uniforms []byte
	if s.binder != nil {
		uniforms = s.binder.Uniforms(s.img)
	}
	if len(uniforms) == 0 {
		uniforms = make([]byte, minUniformSize)
	}

	size := uint64(len(s.img.Pix)) //nolint:gosec // length is non-negative
	if err := s.ensure(&s.params, "params", uint64(len(uniforms)), uniformUsage); err != nil {
		return err
	}
	if err := s.ensure(&s.input, "input", size, storageUsage); err != nil {
		return err
	}
	if err := s.ensure(&s.output, "output", size, storageUsage); err != nil {
		return err
	}
	if err := s.ensure(&s.transfer, "transfer", size, transferUsage); err != nil {
		return err
	}
	if err := s.params.UploadData(uniforms); err != nil {
		return fmt.Errorf("compute: upload uniforms: %w", err)
	}
	if err := s.input.UploadData(s.img.Pix); err != nil {
		return fmt.Errorf("compute: upload image: %w", err)
	}
	if err := s.bind(); err != nil {
		return err
	}
	if err := s.ensureQuery(); err != nil {
		return err
	}

	if err := s.query.Begin(); err != nil {
		return err
	}
	err := s.ctx.Dispatch(gpu.DispatchOp{
		Label:    s.prog.Label,
		Groups:   s.prog.Groups(s.img.Width, s.img.Height),
		Bindings: s.bindings,
		Copies:   []gpu.Copy{{Src: s.output, Dst: s.transfer, Size: size}},
		Query:    s.query,
	})
	endErr := s.query.End()
	if err != nil {
		// Drain the query so it is idle for the next submission.
		if endErr == nil {
			_, _ = s.query.Result()
		}
		return err
	}
	if endErr != nil {
		return endErr
	}
	s.submitted = true
	return nil
}

// Ready reports, without blocking, whether a submitted pass has finished.
func (s *Session) Ready() bool {
	return s.submitted && s.query.IsReady()
}

// Collect copies the result of a finished pass into the image. It returns
// gpu.ErrResultNotReady while the device is still busy.
func (s *Session) Collect() error {
	if !s.submitted {
		return ErrNotSubmitted
	}
	elapsed, err := s.query.TryResult()
	if err != nil {
		return err
	}
	s.submitted = false
	if err := s.transfer.Download(0, s.img.Pix); err != nil {
		return fmt.Errorf("compute: read back %q: %w", s.prog.Label, err)
	}
	s.executions++
	slogger().Debug("compute: pass done", "program", s.prog.Label,
		"width", s.img.Width, "height", s.img.Height, "elapsed", elapsed)
	return nil
}

// ensure points slot at a buffer of exactly size bytes, recycling one from
// the pool when possible.
func (s *Session) ensure(slot **gpu.Buffer, label string, size uint64, usage driver.BufferUsage) error {
	if b := *slot; b != nil {
		if b.Valid() && b.Size() == size {
			return nil
		}
		b.Unref()
		*slot = nil
	}
	if b, ok := s.ctx.Pool().RecycleBuffer(size, usage); ok {
		*slot = b
		return nil
	}
	b, err := s.ctx.NewBuffer(label, usage)
	if err != nil {
		return fmt.Errorf("compute: %s buffer: %w", label, err)
	}
	if err := b.BufferStorage(size, nil); err != nil {
		b.Release()
		b.Unref()
		return fmt.Errorf("compute: %s buffer: %w", label, err)
	}
	*slot = b
	return nil
}

func (s *Session) bind() error {
	if s.bindings != nil && s.bindings.Valid() && s.bindings.Matches(s.compiled, s.params, s.input, s.output) {
		return nil
	}
	s.releaseBindings()
	compatible := func(va *gpu.VertexArray) bool {
		return va.Valid() && va.Matches(s.compiled, s.params, s.input, s.output)
	}
	if va, ok := gpu.Recycle(s.ctx.Pool(), compatible); ok {
		s.bindings = va
		return nil
	}
	va, err := s.ctx.NewVertexArray(s.prog.Label, s.compiled, s.params, s.input, s.output)
	if err != nil {
		return fmt.Errorf("compute: bind %q: %w", s.prog.Label, err)
	}
	s.bindings = va
	return nil
}

func (s *Session) releaseBindings() {
	if s.bindings != nil {
		s.bindings.Unref()
		s.bindings = nil
	}
}

// dropBindings destroys the binding set. Binding sets reference the
// compiled program, so they cannot outlive it in the pool.
func (s *Session) dropBindings() {
	if s.bindings != nil {
		s.bindings.Release()
		s.bindings.Unref()
		s.bindings = nil
	}
}

func (s *Session) ensureQuery() error {
	if s.query != nil && s.query.Valid() {
		return nil
	}
	if s.query != nil {
		s.query.Unref()
	}
	if q, ok := gpu.Recycle[*gpu.Query](s.ctx.Pool(), (*gpu.Query).Valid); ok {
		s.query = q
		return nil
	}
	q, err := s.ctx.NewQuery(s.prog.Label)
	if err != nil {
		return fmt.Errorf("compute: query: %w", err)
	}
	s.query = q
	return nil
}

// Release waits for a pending pass and hands every pooled object back to
// the context pool. The session stays usable.
func (s *Session) Release() {
	if s.submitted {
		if _, err := s.query.Result(); err != nil {
			slogger().Warn("compute: abandoning pending pass", "program", s.prog.Label, "err", err)
		}
		s.submitted = false
	}
	for _, slot := range []**gpu.Buffer{&s.params, &s.input, &s.output, &s.transfer} {
		if *slot != nil {
			(*slot).Unref()
			*slot = nil
		}
	}
	s.dropBindings()
	if s.query != nil {
		s.query.Unref()
		s.query = nil
	}
	if s.compiled != nil {
		s.compiled.Release()
		s.compiled = nil
	}
	s.prog = nil
	s.img = nil
}
