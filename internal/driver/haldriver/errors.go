// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package haldriver

import "errors"

// ErrNoAdapter is returned by Open when no usable GPU adapter exists.
var ErrNoAdapter = errors.New("haldriver: no GPU adapter available")
