// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the parameter tensor types shared by the weight
// bridge: raw host/device tensors, shapes, and distributed shard views.
package tensor

import "fmt"

// DataType represents runtime type information for tensors.
type DataType int

// Supported data types for parameters.
const (
	Float32 DataType = iota
	Float64
	Float16
	BFloat16
	Int32
	Int64
	Int8
	Uint8
	Bool
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32, Int32:
		return 4
	case Float64, Int64:
		return 8
	case Float16, BFloat16:
		return 2
	case Int8, Uint8, Bool:
		return 1
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Float16:
		return "float16"
	case BFloat16:
		return "bfloat16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Int8:
		return "int8"
	case Uint8:
		return "uint8"
	case Bool:
		return "bool"
	default:
		return "unknown"
	}
}

// ParseDataType maps a model-config dtype string to a DataType.
// Accepts the HF-style aliases ("half", "bf16", ...) seen in config.json files.
func ParseDataType(s string) (DataType, error) {
	switch s {
	case "float32", "fp32", "float":
		return Float32, nil
	case "float64", "fp64", "double":
		return Float64, nil
	case "float16", "fp16", "half":
		return Float16, nil
	case "bfloat16", "bf16":
		return BFloat16, nil
	case "int32":
		return Int32, nil
	case "int64":
		return Int64, nil
	case "int8":
		return Int8, nil
	case "uint8":
		return Uint8, nil
	default:
		return Float32, fmt.Errorf("unknown dtype %q", s)
	}
}
