// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build nogpu

package haldriver

// Open always fails in nogpu builds.
func Open() (*Device, error) {
	return nil, ErrNoAdapter
}
