// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package webgpu provides the public API for the WebGPU-backed device.
package webgpu

import (
	"github.com/765859220/verl/internal/device/webgpu"
)

// Device holds parameter storage in WebGPU buffers.
type Device = webgpu.Device

// New creates a WebGPU compute device.
func New() (*Device, error) {
	return webgpu.New()
}

// IsAvailable checks if WebGPU is available on the current system.
func IsAvailable() bool {
	return webgpu.IsAvailable()
}
