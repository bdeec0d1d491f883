// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package sdfgen

import "errors"

var (
	// ErrAllocation is returned for raster sizes that are not a power of
	// two, unknown pixel formats and rasters that do not fit an operation.
	ErrAllocation = errors.New("sdfgen: invalid raster allocation")

	// ErrGPUUnavailable is returned when the GPU path is requested without
	// a dispatch registry or on a released context.
	ErrGPUUnavailable = errors.New("sdfgen: GPU path unavailable")

	// ErrCanceled is returned when the context is canceled mid-computation.
	// It wraps the context error.
	ErrCanceled = errors.New("sdfgen: canceled")

	// ErrInvalidRange is returned when maxDist does not exceed minDist.
	ErrInvalidRange = errors.New("sdfgen: invalid distance range")
)
