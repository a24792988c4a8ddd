// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"github.com/765859220/verl/internal/device"
	"github.com/765859220/verl/internal/tensor"
)

// Module is a node in the model graph. Implementations return their own
// parameters and direct children; traversal helpers below produce the
// dot-qualified views the loaders consume.
type Module interface {
	// Parameters returns the module's own parameters in declaration order.
	Parameters() []*Parameter
	// Children returns direct sub-modules with their local names.
	Children() []NamedModule
}

// NamedModule pairs a module with its local name inside the parent.
type NamedModule struct {
	Name   string
	Module Module
}

// NamedParameter pairs a parameter with its dot-qualified name from the root.
type NamedParameter struct {
	Name  string
	Param *Parameter
}

// NamedTensor pairs a tensor with a checkpoint-style qualified name. It is
// the unit every weight source is normalized to before transfer.
type NamedTensor struct {
	Name   string
	Tensor *tensor.RawTensor
}

// NamedParameters walks the graph depth-first and returns every parameter
// under its qualified name. Tied parameters shared between modules appear
// once per owner; callers that need uniqueness deduplicate by pointer.
func NamedParameters(root Module) []NamedParameter {
	var out []NamedParameter
	var walk func(prefix string, m Module)
	walk = func(prefix string, m Module) {
		for _, p := range m.Parameters() {
			out = append(out, NamedParameter{Name: qualify(prefix, p.Name()), Param: p})
		}
		for _, c := range m.Children() {
			walk(qualify(prefix, c.Name), c.Module)
		}
	}
	walk("", root)
	return out
}

// Modules walks the graph depth-first and returns every module under its
// qualified name, the root first under "".
func Modules(root Module) []NamedModule {
	var out []NamedModule
	var walk func(prefix string, m Module)
	walk = func(prefix string, m Module) {
		out = append(out, NamedModule{Name: prefix, Module: m})
		for _, c := range m.Children() {
			walk(qualify(prefix, c.Name), c.Module)
		}
	}
	walk("", root)
	return out
}

func qualify(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// QuantMethod repacks a module's loaded weights into their final on-device
// representation. Implementations may change parameter shape, dtype, and
// byte size; all operands must be resident on dev when called.
type QuantMethod interface {
	ProcessWeightsAfterLoading(m Module, dev device.Device) error
}

// Quantized is implemented by modules whose weights carry a quantization
// method. A nil method means the module is unquantized.
type Quantized interface {
	QuantMethod() QuantMethod
}

// PostLoadProcessor is the module-level finishing hook, run after transfer
// for modules that rearrange their own weights without a quant method.
type PostLoadProcessor interface {
	ProcessWeightsAfterLoading(dev device.Device) error
}
