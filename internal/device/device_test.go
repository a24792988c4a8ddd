// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package device

import (
	"testing"

	"github.com/765859220/verl/internal/tensor"
)

func newFilled(t *testing.T, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.NewRaw(shape, tensor.Float32)
	if err != nil {
		t.Fatal(err)
	}
	vals := r.AsFloat32()
	for i := range vals {
		vals[i] = float32(i) + 1
	}
	return r
}

func TestFakeRoundTrip(t *testing.T) {
	dev := NewFake()
	r := newFilled(t, tensor.Shape{2, 3})
	orig := append([]byte(nil), r.Data()...)

	if err := dev.ToDevice(r); err != nil {
		t.Fatalf("ToDevice: %v", err)
	}
	if r.IsHost() {
		t.Fatal("tensor still host-resident after ToDevice")
	}
	if r.Device() != tensor.CUDA {
		t.Errorf("device = %s, want CUDA", r.Device())
	}

	raw, err := dev.Read(r)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(raw) != string(orig) {
		t.Error("device data does not match uploaded bytes")
	}

	if err := dev.ToHost(r, false); err != nil {
		t.Fatalf("ToHost: %v", err)
	}
	if !r.IsHost() {
		t.Fatal("tensor not host-resident after ToHost")
	}
	if string(r.Data()) != string(orig) {
		t.Error("restored data does not match original")
	}
}

func TestFakeToDeviceIdempotent(t *testing.T) {
	dev := NewFake()
	r := newFilled(t, tensor.Shape{2})
	if err := dev.ToDevice(r); err != nil {
		t.Fatal(err)
	}
	n := dev.TransferCount()
	if err := dev.ToDevice(r); err != nil {
		t.Fatalf("second ToDevice: %v", err)
	}
	if dev.TransferCount() != n {
		t.Error("re-upload of resident tensor should not transfer")
	}
}

func TestFakeTransferCount(t *testing.T) {
	dev := NewFake()
	r := newFilled(t, tensor.Shape{4})

	if dev.TransferCount() != 0 {
		t.Fatal("fresh device should have zero transfers")
	}
	if err := dev.ToDevice(r); err != nil {
		t.Fatal(err)
	}
	if _, err := dev.Read(r); err != nil {
		t.Fatal(err)
	}
	if err := dev.ToHost(r, false); err != nil {
		t.Fatal(err)
	}
	if got := dev.TransferCount(); got != 3 {
		t.Errorf("TransferCount() = %d, want 3", got)
	}
}

func TestFakeWriteThenLayoutChange(t *testing.T) {
	dev := NewFake()
	r := newFilled(t, tensor.Shape{2, 4})
	if err := dev.ToDevice(r); err != nil {
		t.Fatal(err)
	}

	// Shrink the representation while device-resident, as repacking does.
	packed := make([]byte, 8)
	for i := range packed {
		packed[i] = byte(i)
	}
	if err := dev.Write(r, packed); err != nil {
		t.Fatalf("Write: %v", err)
	}
	newShape := tensor.Shape{8}
	if err := r.SetLayout(newShape, newShape.ComputeStrides(), tensor.Int8); err != nil {
		t.Fatalf("SetLayout: %v", err)
	}

	// Restore allocates for the new layout, not the old one.
	if err := dev.ToHost(r, false); err != nil {
		t.Fatalf("ToHost: %v", err)
	}
	if r.ByteSize() != 8 || len(r.Data()) != 8 {
		t.Errorf("restored layout: %d bytes, want 8", len(r.Data()))
	}
	if string(r.Data()) != string(packed) {
		t.Error("restored bytes do not match repacked data")
	}
}

func TestFakeRejectsForeignTensor(t *testing.T) {
	dev := NewFake()
	r := newFilled(t, tensor.Shape{2})
	if _, err := dev.Read(r); err == nil {
		t.Error("Read of host-resident tensor should fail")
	}
	if err := dev.Write(r, nil); err == nil {
		t.Error("Write of host-resident tensor should fail")
	}
}

func TestHostDevice(t *testing.T) {
	h := NewHost()
	if !h.IsHost() {
		t.Fatal("host device must report IsHost")
	}
	r := newFilled(t, tensor.Shape{3})

	if err := h.ToDevice(r); err != nil {
		t.Errorf("ToDevice on host tensor should be a no-op, got %v", err)
	}
	raw, err := h.Read(r)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	raw[0] = 0xff
	if r.Data()[0] == 0xff {
		t.Error("Read must return a copy")
	}
	if h.TransferCount() != 0 {
		t.Error("host device never transfers")
	}
}

func TestAllocHostDegradesGracefully(t *testing.T) {
	data, pinned := AllocHost(4096, true)
	if len(data) != 4096 {
		t.Fatalf("len = %d, want 4096", len(data))
	}
	if pinned && !PinnedMemoryAvailable() {
		t.Error("pinned allocation reported without platform support")
	}

	data, pinned = AllocHost(16, false)
	if len(data) != 16 || pinned {
		t.Error("unpinned request must stay unpinned")
	}
}
