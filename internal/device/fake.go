// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package device

import (
	"fmt"
	"sync/atomic"

	"github.com/765859220/verl/internal/tensor"
)

// Verify that Fake implements Device.
var _ Device = (*Fake)(nil)

// Fake is an in-process accelerator for tests and dummy-format capacity
// probing. Device storage is a private host copy, so every migration
// performs a real byte transfer and every transfer is counted.
type Fake struct {
	name      string
	transfers atomic.Uint64
}

// NewFake creates a fake accelerator device.
func NewFake() *Fake {
	return &Fake{name: "fake"}
}

// fakeHandle is device-side storage for the fake accelerator.
type fakeHandle struct {
	bytes []byte
	freed bool
}

// Free releases the allocation.
func (h *fakeHandle) Free() {
	h.bytes = nil
	h.freed = true
}

// Name returns "fake".
func (f *Fake) Name() string {
	return f.name
}

// Kind returns tensor.CUDA: the fake device stands in for the accelerator.
func (f *Fake) Kind() tensor.Device {
	return tensor.CUDA
}

// IsHost returns false.
func (f *Fake) IsHost() bool {
	return false
}

// ToDevice copies a host-resident tensor's bytes into device storage.
func (f *Fake) ToDevice(t *tensor.RawTensor) error {
	if !t.IsHost() {
		if t.Device() == f.Kind() {
			return nil // already resident here
		}
		return fmt.Errorf("tensor resides on %s, cannot move to %s", t.Device(), f.name)
	}
	h := &fakeHandle{bytes: append([]byte(nil), t.Data()...)}
	t.AttachDeviceStorage(f.Kind(), h)
	f.transfers.Add(1)
	return nil
}

// ToHost moves a device-resident tensor back into fresh host memory sized to
// the tensor's current layout.
func (f *Fake) ToHost(t *tensor.RawTensor, pinned bool) error {
	if t.IsHost() {
		return nil
	}
	h, err := f.handle(t)
	if err != nil {
		return err
	}
	data, actuallyPinned := AllocHost(t.ByteSize(), pinned)
	if len(h.bytes) != len(data) {
		return fmt.Errorf("device storage holds %d bytes, tensor layout needs %d", len(h.bytes), len(data))
	}
	copy(data, h.bytes)
	h.Free()
	t.AttachHostStorage(data, actuallyPinned)
	f.transfers.Add(1)
	return nil
}

// Read copies the tensor's device data into a new host byte slice.
func (f *Fake) Read(t *tensor.RawTensor) ([]byte, error) {
	h, err := f.handle(t)
	if err != nil {
		return nil, err
	}
	f.transfers.Add(1)
	return append([]byte(nil), h.bytes...), nil
}

// Write replaces the tensor's device data.
func (f *Fake) Write(t *tensor.RawTensor, data []byte) error {
	h, err := f.handle(t)
	if err != nil {
		return err
	}
	h.bytes = append([]byte(nil), data...)
	f.transfers.Add(1)
	return nil
}

// TransferCount returns the number of copies crossing the fake bus.
func (f *Fake) TransferCount() uint64 {
	return f.transfers.Load()
}

func (f *Fake) handle(t *tensor.RawTensor) (*fakeHandle, error) {
	if t.IsHost() {
		return nil, fmt.Errorf("tensor is host-resident, no %s storage", f.name)
	}
	h, ok := t.Handle().(*fakeHandle)
	if !ok {
		return nil, fmt.Errorf("tensor storage belongs to another device (%s)", t.Device())
	}
	if h.freed {
		return nil, fmt.Errorf("device storage already freed")
	}
	return h, nil
}
