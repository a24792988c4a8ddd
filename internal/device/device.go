// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package device abstracts where parameter storage lives and how it moves
// between host memory and a compute device.
package device

import (
	"github.com/765859220/verl/internal/tensor"
)

// Device is a compute device that can hold parameter storage.
//
// Implementations:
//   - Host: system memory, the source and restore target of every migration
//   - Fake: in-process accelerator used by tests and capacity probing
//   - webgpu.Device: a real accelerator behind WebGPU buffers
type Device interface {
	// Name returns a short identifier ("cpu", "fake", "webgpu").
	Name() string

	// Kind returns the tensor device tag storage gets while resident here.
	Kind() tensor.Device

	// IsHost reports whether this is the host device. Migrations to the
	// host device are pass-throughs; nothing moves.
	IsHost() bool

	// ToDevice moves a host-resident tensor's storage onto this device.
	ToDevice(t *tensor.RawTensor) error

	// ToHost moves a device-resident tensor into freshly allocated host
	// memory sized to the tensor's current layout. When pinned is true and
	// pinned allocation is available the new buffer is page-locked;
	// otherwise it degrades to a plain allocation.
	ToHost(t *tensor.RawTensor, pinned bool) error

	// Read copies the tensor's device data into a new host byte slice
	// without changing where the tensor resides.
	Read(t *tensor.RawTensor) ([]byte, error)

	// Write replaces the tensor's device data, reallocating when the size
	// differs from the current allocation.
	Write(t *tensor.RawTensor, data []byte) error

	// TransferCount returns the number of host<->device copies performed.
	TransferCount() uint64
}
