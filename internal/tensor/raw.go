// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"fmt"
	"unsafe"
)

// Device tags where tensor storage may reside.
type Device int

// Supported devices. CPU is the host; everything else is an accelerator.
const (
	CPU Device = iota
	CUDA
	WebGPU
)

// String returns a human-readable device name.
func (d Device) String() string {
	switch d {
	case CPU:
		return "CPU"
	case CUDA:
		return "CUDA"
	case WebGPU:
		return "WebGPU"
	default:
		return "Unknown"
	}
}

// DeviceHandle is opaque device-resident storage owned by a device backend.
// A tensor holds either a host buffer or a handle, never both.
type DeviceHandle interface {
	// Free releases the device allocation. Safe to call once.
	Free()
}

// RawTensor is the low-level parameter representation: shape, strides, dtype,
// and storage that lives either in host memory or on a compute device.
type RawTensor struct {
	data   []byte       // host storage; nil while device-resident
	handle DeviceHandle // device storage; nil while host-resident
	shape  Shape
	stride []int
	dtype  DataType
	device Device
	pinned bool
}

// NewRaw creates a host-resident tensor with the given shape and type.
// Memory is allocated zero-initialized.
func NewRaw(shape Shape, dtype DataType) (*RawTensor, error) {
	return NewRawStrided(shape, shape.ComputeStrides(), dtype)
}

// NewRawStrided creates a host-resident tensor with an explicit memory layout.
// Used when rebuilding host storage for a tensor whose layout changed while it
// was device-resident (e.g. after quantization repacking).
func NewRawStrided(shape Shape, stride []int, dtype DataType) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	if len(stride) != len(shape) {
		return nil, fmt.Errorf("stride rank %d does not match shape rank %d", len(stride), len(shape))
	}

	return &RawTensor{
		data:   make([]byte, shape.NumElements()*dtype.Size()),
		shape:  shape.Clone(),
		stride: append([]int(nil), stride...),
		dtype:  dtype,
		device: CPU,
	}, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// Strides returns the tensor's memory strides.
func (r *RawTensor) Strides() []int {
	return r.stride
}

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// Device returns the device where the tensor's storage currently resides.
func (r *RawTensor) Device() Device {
	return r.device
}

// IsHost reports whether the storage is host-resident.
func (r *RawTensor) IsHost() bool {
	return r.device == CPU
}

// Pinned reports whether the host storage was allocated as pinned memory.
// Always false while device-resident.
func (r *RawTensor) Pinned() bool {
	return r.pinned
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// ByteSize returns the total storage size in bytes.
func (r *RawTensor) ByteSize() int {
	return r.NumElements() * r.dtype.Size()
}

// Data returns the raw host byte slice.
// Panics if the tensor is device-resident.
func (r *RawTensor) Data() []byte {
	if r.data == nil {
		panic(fmt.Sprintf("tensor is resident on %s, host data unavailable", r.device))
	}
	return r.data
}

// Handle returns the device storage handle, or nil while host-resident.
func (r *RawTensor) Handle() DeviceHandle {
	return r.handle
}

// AsFloat32 interprets the host data as []float32.
// Panics if the tensor's dtype is not Float32.
func (r *RawTensor) AsFloat32() []float32 {
	if r.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", r.dtype))
	}
	data := r.Data()
	return unsafe.Slice((*float32)(unsafe.Pointer(&data[0])), r.NumElements())
}

// AsFloat64 interprets the host data as []float64.
// Panics if the tensor's dtype is not Float64.
func (r *RawTensor) AsFloat64() []float64 {
	if r.dtype != Float64 {
		panic(fmt.Sprintf("tensor dtype is %s, not float64", r.dtype))
	}
	data := r.Data()
	return unsafe.Slice((*float64)(unsafe.Pointer(&data[0])), r.NumElements())
}

// AsInt32 interprets the host data as []int32.
// Panics if the tensor's dtype is not Int32.
func (r *RawTensor) AsInt32() []int32 {
	if r.dtype != Int32 {
		panic(fmt.Sprintf("tensor dtype is %s, not int32", r.dtype))
	}
	data := r.Data()
	return unsafe.Slice((*int32)(unsafe.Pointer(&data[0])), r.NumElements())
}

// AsInt64 interprets the host data as []int64.
// Panics if the tensor's dtype is not Int64.
func (r *RawTensor) AsInt64() []int64 {
	if r.dtype != Int64 {
		panic(fmt.Sprintf("tensor dtype is %s, not int64", r.dtype))
	}
	data := r.Data()
	return unsafe.Slice((*int64)(unsafe.Pointer(&data[0])), r.NumElements())
}

// AsInt8 interprets the host data as []int8.
// Panics if the tensor's dtype is not Int8.
func (r *RawTensor) AsInt8() []int8 {
	if r.dtype != Int8 {
		panic(fmt.Sprintf("tensor dtype is %s, not int8", r.dtype))
	}
	data := r.Data()
	return unsafe.Slice((*int8)(unsafe.Pointer(&data[0])), r.NumElements())
}

// AsUint8 interprets the host data as []uint8.
// Panics if the tensor's dtype is not Uint8.
func (r *RawTensor) AsUint8() []uint8 {
	if r.dtype != Uint8 {
		panic(fmt.Sprintf("tensor dtype is %s, not uint8", r.dtype))
	}
	return r.Data()
}

// Clone creates a deep copy of a host-resident tensor.
func (r *RawTensor) Clone() *RawTensor {
	clone := &RawTensor{
		data:   append([]byte(nil), r.Data()...),
		shape:  r.shape.Clone(),
		stride: append([]int(nil), r.stride...),
		dtype:  r.dtype,
		device: CPU,
	}
	return clone
}

// CopyFrom copies src's host data into r. Shapes and dtypes must match.
func (r *RawTensor) CopyFrom(src *RawTensor) error {
	if r.dtype != src.dtype {
		return fmt.Errorf("dtype mismatch: %s vs %s", r.dtype, src.dtype)
	}
	if !r.shape.Equal(src.shape) {
		return fmt.Errorf("shape mismatch: %v vs %v", r.shape, src.shape)
	}
	copy(r.Data(), src.Data())
	return nil
}

// AttachDeviceStorage replaces the tensor's storage with a device allocation.
// The previous host buffer is dropped; the caller owns the handle lifetime.
func (r *RawTensor) AttachDeviceStorage(device Device, handle DeviceHandle) {
	r.data = nil
	r.pinned = false
	r.handle = handle
	r.device = device
}

// AttachHostStorage replaces the tensor's storage with a host buffer.
// The buffer must already be sized to the tensor's current ByteSize; the
// caller is responsible for freeing any previous device handle.
func (r *RawTensor) AttachHostStorage(data []byte, pinned bool) {
	if len(data) != r.ByteSize() {
		panic(fmt.Sprintf("host buffer size %d does not match tensor byte size %d", len(data), r.ByteSize()))
	}
	r.handle = nil
	r.data = data
	r.pinned = pinned
	r.device = CPU
}

// SetLayout rewrites the tensor's logical layout in place. Element count may
// change; the storage must already match the new layout's byte size. Used by
// post-load repacking that replaces a parameter's representation wholesale.
func (r *RawTensor) SetLayout(shape Shape, stride []int, dtype DataType) error {
	if err := shape.Validate(); err != nil {
		return fmt.Errorf("invalid shape: %w", err)
	}
	need := shape.NumElements() * dtype.Size()
	if r.data != nil && len(r.data) != need {
		return fmt.Errorf("storage holds %d bytes, new layout needs %d", len(r.data), need)
	}
	r.shape = shape.Clone()
	r.stride = append([]int(nil), stride...)
	r.dtype = dtype
	return nil
}
