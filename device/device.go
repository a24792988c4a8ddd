// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package device provides the public API for parameter storage devices.
package device

import (
	"github.com/765859220/verl/internal/device"
)

// Device owns parameter storage on one compute target and moves tensors
// between it and the host.
type Device = device.Device

// Host is the CPU-backed device.
type Host = device.Host

// Fake is an in-process accelerator for tests and capacity probing.
type Fake = device.Fake

// NewHost creates the host device.
func NewHost() *Host {
	return device.NewHost()
}

// NewFake creates a fake accelerator device.
func NewFake() *Fake {
	return device.NewFake()
}

// PinnedMemoryAvailable reports whether page-locked host allocations work on
// this platform.
func PinnedMemoryAvailable() bool {
	return device.PinnedMemoryAvailable()
}

// AllocHost allocates host memory, pinned when requested and possible.
func AllocHost(size int, pinned bool) (data []byte, actuallyPinned bool) {
	return device.AllocHost(size, pinned)
}
