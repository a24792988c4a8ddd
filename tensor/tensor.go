// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the public API for the raw tensor substrate.
//
// The package exposes the low-level parameter representation the weight
// bridge moves around:
//   - RawTensor: shape, strides, dtype, and host- or device-resident storage
//   - Distributed: a logical tensor backed by placement-aware shards
//   - Shape, DataType, Device: core type definitions
//
// Example:
//
//	t, err := tensor.NewRaw(tensor.Shape{4, 8}, tensor.Float32)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	copy(t.AsFloat32(), weights)
package tensor

import (
	"github.com/765859220/verl/internal/tensor"
)

// Type aliases for public API

// DataType identifies a tensor element type.
type DataType = tensor.DataType

// Supported data types.
const (
	Float32  = tensor.Float32
	Float64  = tensor.Float64
	Float16  = tensor.Float16
	BFloat16 = tensor.BFloat16
	Int32    = tensor.Int32
	Int64    = tensor.Int64
	Int8     = tensor.Int8
	Uint8    = tensor.Uint8
	Bool     = tensor.Bool
)

// Shape describes tensor dimensions.
type Shape = tensor.Shape

// Device tags where tensor storage resides.
type Device = tensor.Device

// Supported devices.
const (
	CPU    = tensor.CPU
	CUDA   = tensor.CUDA
	WebGPU = tensor.WebGPU
)

// RawTensor is the low-level parameter representation.
type RawTensor = tensor.RawTensor

// DeviceHandle is opaque device-resident storage.
type DeviceHandle = tensor.DeviceHandle

// Distributed is a logical tensor backed by placement-aware shards.
type Distributed = tensor.Distributed

// Shard is one placement-aware piece of a distributed tensor.
type Shard = tensor.Shard

// Placement locates a shard within the logical tensor.
type Placement = tensor.Placement

// ReplicatedAxis marks a shard that holds the whole logical tensor.
const ReplicatedAxis = tensor.ReplicatedAxis

// NewRaw creates a zero-filled host-resident tensor.
func NewRaw(shape Shape, dtype DataType) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype)
}

// NewRawStrided creates a host-resident tensor with an explicit layout.
func NewRawStrided(shape Shape, stride []int, dtype DataType) (*RawTensor, error) {
	return tensor.NewRawStrided(shape, stride, dtype)
}

// NewDistributed builds a distributed view over shards.
func NewDistributed(shards []Shard) (*Distributed, error) {
	return tensor.NewDistributed(shards)
}

// Concat concatenates host-resident tensors along an axis.
func Concat(parts []*RawTensor, axis int) (*RawTensor, error) {
	return tensor.Concat(parts, axis)
}

// Narrow copies out a range of a host-resident tensor along an axis.
func Narrow(t *RawTensor, axis, start, length int) (*RawTensor, error) {
	return tensor.Narrow(t, axis, start, length)
}

// ParseDataType resolves a dtype name, accepting common checkpoint aliases.
func ParseDataType(s string) (DataType, error) {
	return tensor.ParseDataType(s)
}
