// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package dispatch

import "errors"

var (
	// ErrAlreadyResolved is the panic value when a promise is resolved twice.
	ErrAlreadyResolved = errors.New("dispatch: promise already resolved")

	// ErrPipelineClosed rejects work submitted to, or pending in, a pipeline
	// that has been shut down.
	ErrPipelineClosed = errors.New("dispatch: pipeline closed")

	// ErrTaskPanicked rejects the future of a task that panicked.
	ErrTaskPanicked = errors.New("dispatch: task panicked")
)
