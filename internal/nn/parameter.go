// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides the module graph the weight bridge populates:
// parameters, structural layers, and the model skeleton.
package nn

import (
	"fmt"

	"github.com/765859220/verl/internal/tensor"
)

// Parameter is a named, trainable tensor slot. The storage behind it can be
// swapped wholesale (post-load repacking replaces representation in place).
type Parameter struct {
	name string
	data *tensor.RawTensor
}

// NewParameter wraps a tensor as a parameter.
func NewParameter(name string, data *tensor.RawTensor) *Parameter {
	return &Parameter{name: name, data: data}
}

// Name returns the parameter's local name within its owning module.
func (p *Parameter) Name() string {
	return p.name
}

// Data returns the backing tensor.
func (p *Parameter) Data() *tensor.RawTensor {
	return p.data
}

// SetData replaces the backing tensor.
func (p *Parameter) SetData(t *tensor.RawTensor) {
	p.data = t
}

// BuildContext carries the forced defaults every skeleton parameter is
// created under. Parameters start host-resident and zero-filled; the final
// lifecycle step migrates them to the compute device.
type BuildContext struct {
	DType tensor.DataType
}

// NewParameter allocates a fresh parameter under the context's defaults.
func (bc BuildContext) NewParameter(name string, dims ...int) (*Parameter, error) {
	t, err := tensor.NewRaw(tensor.Shape(dims), bc.DType)
	if err != nil {
		return nil, fmt.Errorf("parameter %s: %w", name, err)
	}
	return NewParameter(name, t), nil
}
