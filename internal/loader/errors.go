// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package loader orchestrates weight loading: it bridges training-side
// parameters into an inference model skeleton through format-specific
// transfer strategies, with a guaranteed-restore device migration scope.
package loader

import "errors"

// Sentinel errors callers branch on.
var (
	// ErrUnsupportedFormat reports a load format no loader handles.
	ErrUnsupportedFormat = errors.New("unsupported load format")

	// ErrExtraConfig reports extra loader config passed to a loader that
	// does not accept any.
	ErrExtraConfig = errors.New("load format does not accept extra config")

	// ErrBadSource reports a weight source whose form does not match what
	// the selected strategy expects.
	ErrBadSource = errors.New("weight source does not match expected form")

	// ErrLifecycle reports a load stage invoked out of order.
	ErrLifecycle = errors.New("load stage out of order")
)
