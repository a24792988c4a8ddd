// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package device

import (
	"fmt"

	"github.com/765859220/verl/internal/tensor"
)

// Host is the system-memory device. Tensors created by the tensor package
// start out resident here.
type Host struct{}

// NewHost returns the host device.
func NewHost() *Host {
	return &Host{}
}

// Name returns "cpu".
func (h *Host) Name() string {
	return "cpu"
}

// Kind returns tensor.CPU.
func (h *Host) Kind() tensor.Device {
	return tensor.CPU
}

// IsHost returns true.
func (h *Host) IsHost() bool {
	return true
}

// ToDevice is invalid on the host device: host-resident tensors are already
// here, and device-resident ones belong to their accelerator.
func (h *Host) ToDevice(t *tensor.RawTensor) error {
	if t.IsHost() {
		return nil
	}
	return fmt.Errorf("tensor resides on %s, not owned by host device", t.Device())
}

// ToHost is a no-op for host-resident tensors.
func (h *Host) ToHost(t *tensor.RawTensor, pinned bool) error {
	if !t.IsHost() {
		return fmt.Errorf("tensor resides on %s, not owned by host device", t.Device())
	}
	return nil
}

// Read returns a copy of the tensor's host data.
func (h *Host) Read(t *tensor.RawTensor) ([]byte, error) {
	if !t.IsHost() {
		return nil, fmt.Errorf("tensor resides on %s, not owned by host device", t.Device())
	}
	return append([]byte(nil), t.Data()...), nil
}

// Write copies data into the tensor's host storage, reallocating when the
// layout changed size.
func (h *Host) Write(t *tensor.RawTensor, data []byte) error {
	if !t.IsHost() {
		return fmt.Errorf("tensor resides on %s, not owned by host device", t.Device())
	}
	if len(data) == len(t.Data()) {
		copy(t.Data(), data)
		return nil
	}
	if len(data) != t.ByteSize() {
		return fmt.Errorf("write of %d bytes does not match tensor byte size %d", len(data), t.ByteSize())
	}
	t.AttachHostStorage(append([]byte(nil), data...), false)
	return nil
}

// TransferCount returns 0: the host device never crosses a bus.
func (h *Host) TransferCount() uint64 {
	return 0
}

// AllocHost allocates a host buffer for a restored parameter. When pinned is
// requested and page-locking is available the buffer is locked; failure to
// lock degrades to a plain allocation and is never an error.
func AllocHost(size int, pinned bool) (data []byte, actuallyPinned bool) {
	data = make([]byte, size)
	if pinned && size > 0 && lockPages(data) {
		return data, true
	}
	return data, false
}
