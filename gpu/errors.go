// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"errors"

	"github.com/gogpu/sdfgen/internal/driver/haldriver"
)

// Resource errors.
var (
	// ErrReleased is returned when operating on a released resource.
	ErrReleased = errors.New("gpu: resource has been released")

	// ErrContextReleased is returned by factories of a released context.
	ErrContextReleased = errors.New("gpu: context has been released")

	// ErrInvalidSize is returned for zero or oversized allocations.
	ErrInvalidSize = errors.New("gpu: invalid allocation size")

	// ErrImmutableStorage is the panic value when immutable storage would
	// have to change size or be allocated twice.
	ErrImmutableStorage = errors.New("gpu: immutable storage cannot be reallocated")

	// ErrNotAllocated is returned when a texture has no storage yet.
	ErrNotAllocated = errors.New("gpu: storage not allocated")

	// ErrNotResident is returned by Texture.Address for non-resident textures.
	ErrNotResident = errors.New("gpu: texture is not resident")

	// ErrBindlessUnsupported is returned by MakeResident on devices without
	// bindless access.
	ErrBindlessUnsupported = errors.New("gpu: device does not support bindless textures")

	// ErrResultNotReady is returned by Query.TryResult while the GPU has not
	// produced the result.
	ErrResultNotReady = errors.New("gpu: query result not ready")

	// ErrQueryState is returned when query calls are out of order.
	ErrQueryState = errors.New("gpu: query used out of order")

	// ErrNoAdapter is returned by OpenContext when no GPU adapter exists.
	ErrNoAdapter = haldriver.ErrNoAdapter
)
