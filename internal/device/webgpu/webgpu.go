// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package webgpu implements the compute device on WebGPU buffers.
// Uses go-webgpu (github.com/go-webgpu/webgpu) for zero-CGO WebGPU bindings.
package webgpu

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/765859220/verl/internal/device"
	"github.com/765859220/verl/internal/tensor"
)

// Verify that Device implements device.Device.
var _ device.Device = (*Device)(nil)

// Device holds parameter storage in WebGPU buffers. Uploads go through
// MappedAtCreation buffers; readbacks go through a mapped staging buffer.
type Device struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	dev      *wgpu.Device
	queue    *wgpu.Queue

	transfers atomic.Uint64
}

// New creates a WebGPU compute device.
// Returns an error if WebGPU is not available or initialization fails.
func New() (d *Device, err error) {
	// Recover from panic if wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			d = nil
			err = fmt.Errorf("webgpu: native library not available: %v", r)
		}
	}()

	instance, instErr := wgpu.CreateInstance(nil)
	if instErr != nil {
		return nil, fmt.Errorf("webgpu: failed to create instance: %w", instErr)
	}
	adapter, adapterErr := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if adapterErr != nil {
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to request adapter: %w", adapterErr)
	}

	dev, deviceErr := adapter.RequestDevice(nil)
	if deviceErr != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to request device: %w", deviceErr)
	}

	queue := dev.GetQueue()
	if queue == nil {
		dev.Release()
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to get queue")
	}

	return &Device{
		instance: instance,
		adapter:  adapter,
		dev:      dev,
		queue:    queue,
	}, nil
}

// IsAvailable checks if WebGPU is available on the current system.
func IsAvailable() (available bool) {
	// Recover from panic if wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			available = false
		}
	}()

	instance, instErr := wgpu.CreateInstance(nil)
	if instErr != nil {
		return false
	}
	defer instance.Release()

	adapter, err := instance.RequestAdapter(nil)
	if err != nil {
		return false
	}
	adapter.Release()

	return true
}

// Release frees the underlying WebGPU objects.
func (d *Device) Release() {
	if d.dev != nil {
		d.dev.Release()
	}
	if d.adapter != nil {
		d.adapter.Release()
	}
	if d.instance != nil {
		d.instance.Release()
	}
}

// bufferHandle is device-side storage backed by a WebGPU buffer.
type bufferHandle struct {
	buf  *wgpu.Buffer
	size uint64
}

// Free releases the buffer.
func (h *bufferHandle) Free() {
	if h.buf != nil {
		h.buf.Release()
		h.buf = nil
	}
}

// Name returns "webgpu".
func (d *Device) Name() string {
	return "webgpu"
}

// Kind returns tensor.WebGPU.
func (d *Device) Kind() tensor.Device {
	return tensor.WebGPU
}

// IsHost returns false.
func (d *Device) IsHost() bool {
	return false
}

// ToDevice uploads a host-resident tensor into a storage buffer.
func (d *Device) ToDevice(t *tensor.RawTensor) error {
	if !t.IsHost() {
		if t.Device() == d.Kind() {
			return nil
		}
		return fmt.Errorf("webgpu: tensor resides on %s", t.Device())
	}
	buf := d.createBuffer(t.Data(), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc|wgpu.BufferUsageCopyDst)
	t.AttachDeviceStorage(d.Kind(), &bufferHandle{buf: buf, size: uint64(len(t.Data()))})
	d.transfers.Add(1)
	return nil
}

// ToHost reads the tensor back into fresh host memory sized to its current
// layout and releases the device buffer.
func (d *Device) ToHost(t *tensor.RawTensor, pinned bool) error {
	if t.IsHost() {
		return nil
	}
	h, err := d.handle(t)
	if err != nil {
		return err
	}
	raw, err := d.readBuffer(h.buf, h.size)
	if err != nil {
		return err
	}
	if len(raw) != t.ByteSize() {
		return fmt.Errorf("webgpu: buffer holds %d bytes, tensor layout needs %d", len(raw), t.ByteSize())
	}
	data, actuallyPinned := device.AllocHost(t.ByteSize(), pinned)
	copy(data, raw)
	h.Free()
	t.AttachHostStorage(data, actuallyPinned)
	d.transfers.Add(1)
	return nil
}

// Read copies the tensor's buffer contents into a new host byte slice.
func (d *Device) Read(t *tensor.RawTensor) ([]byte, error) {
	h, err := d.handle(t)
	if err != nil {
		return nil, err
	}
	raw, err := d.readBuffer(h.buf, h.size)
	if err != nil {
		return nil, err
	}
	d.transfers.Add(1)
	return raw, nil
}

// Write replaces the tensor's buffer contents, reallocating when the size
// changed (quantization repacking shrinks parameters in place).
func (d *Device) Write(t *tensor.RawTensor, data []byte) error {
	h, err := d.handle(t)
	if err != nil {
		return err
	}
	if uint64(len(data)) == h.size {
		d.queue.WriteBuffer(h.buf, 0, data)
	} else {
		h.Free()
		h.buf = d.createBuffer(data, wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc|wgpu.BufferUsageCopyDst)
		h.size = uint64(len(data))
	}
	d.transfers.Add(1)
	return nil
}

// TransferCount returns the number of copies crossing the bus.
func (d *Device) TransferCount() uint64 {
	return d.transfers.Load()
}

func (d *Device) handle(t *tensor.RawTensor) (*bufferHandle, error) {
	if t.IsHost() {
		return nil, fmt.Errorf("webgpu: tensor is host-resident")
	}
	h, ok := t.Handle().(*bufferHandle)
	if !ok {
		return nil, fmt.Errorf("webgpu: tensor storage belongs to another device (%s)", t.Device())
	}
	if h.buf == nil {
		return nil, fmt.Errorf("webgpu: buffer already released")
	}
	return h, nil
}

// createBuffer creates a GPU buffer and uploads initial data through the
// MappedAtCreation window.
func (d *Device) createBuffer(data []byte, usage wgpu.BufferUsage) *wgpu.Buffer {
	size := uint64(len(data))

	buffer := d.dev.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            usage,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})

	mappedPtr := buffer.GetMappedRange(0, size)
	mappedSlice := unsafe.Slice((*byte)(mappedPtr), size)
	copy(mappedSlice, data)
	buffer.Unmap()

	return buffer
}

// readBuffer reads data back from a GPU buffer to CPU memory.
// Uses a staging buffer since storage buffers can't be mapped directly.
func (d *Device) readBuffer(srcBuffer *wgpu.Buffer, size uint64) ([]byte, error) {
	stagingBuffer := d.dev.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer stagingBuffer.Release()

	encoder := d.dev.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(srcBuffer, 0, stagingBuffer, 0, size)
	cmdBuffer := encoder.Finish(nil)
	d.queue.Submit(cmdBuffer)

	err := stagingBuffer.MapAsync(d.dev, wgpu.MapModeRead, 0, size)
	if err != nil {
		return nil, fmt.Errorf("webgpu: failed to map staging buffer: %w", err)
	}

	mappedPtr := stagingBuffer.GetMappedRange(0, size)
	mappedSlice := unsafe.Slice((*byte)(mappedPtr), size)
	result := make([]byte, size)
	copy(result, mappedSlice)

	stagingBuffer.Unmap()

	return result, nil
}
