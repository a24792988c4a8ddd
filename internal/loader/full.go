// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package loader

import (
	"fmt"

	"github.com/765859220/verl/internal/checkpoint"
	"github.com/765859220/verl/internal/device"
	"github.com/765859220/verl/internal/nn"
	"github.com/765859220/verl/internal/tensor"
)

// FullSource maps checkpoint parameter names to whole, unsharded host
// tensors, the shape a consolidated checkpoint hands over.
type FullSource map[string]*tensor.RawTensor

// FullSourceFromFile reads a consolidated safetensors checkpoint into a
// FullSource.
func FullSourceFromFile(path string) (FullSource, error) {
	tensors, _, err := checkpoint.ReadSafeTensors(path)
	if err != nil {
		return nil, err
	}
	return FullSource(tensors), nil
}

// FullStrategy takes full tensors and cuts out the target rank's partition.
type FullStrategy struct{}

// Name returns "full".
func (FullStrategy) Name() string { return "full" }

// Transfer slices each full tensor down to this rank and loads the result.
// The source is either full tensors by name or a live parameter-owning
// module.
func (FullStrategy) Transfer(src any, target *nn.Model, dev device.Device) error {
	var full FullSource
	switch v := src.(type) {
	case FullSource:
		full = v
	case map[string]*tensor.RawTensor:
		full = v
	case nn.Module:
		return applyModule(v, target, dev)
	default:
		return fmt.Errorf("%w: full transfer needs a live module or full tensors by name, got %T", ErrBadSource, src)
	}

	weights := make([]nn.NamedTensor, 0, len(full))
	for _, name := range sortedNames(full) {
		t := full[name]
		if t == nil {
			return fmt.Errorf("%w: %q has no tensor", ErrBadSource, name)
		}
		sliced, err := sliceForRank(t, shardAxisFor(target, name), target.Parallel())
		if err != nil {
			return fmt.Errorf("partition %q: %w", name, err)
		}
		weights = append(weights, nn.NamedTensor{Name: name, Tensor: sliced})
	}
	return target.LoadWeights(weights)
}
