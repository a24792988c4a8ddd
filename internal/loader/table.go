// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package loader

import (
	"fmt"

	"github.com/765859220/verl/internal/device"
	"github.com/765859220/verl/internal/nn"
	"github.com/765859220/verl/internal/tensor"
)

// TensorTable maps checkpoint parameter names to either *tensor.RawTensor
// (whole host tensors) or *tensor.Distributed (placement-aware shards).
type TensorTable map[string]any

// TensorTableStrategy consumes a tensor table: distributed entries are
// materialized on the host, then every tensor is cut down to the target
// rank's partition. A live parameter-owning module is accepted in place of
// the table.
type TensorTableStrategy struct{}

// Name returns "tensor-table".
func (TensorTableStrategy) Name() string { return "tensor-table" }

// Transfer materializes the table into the target skeleton.
func (TensorTableStrategy) Transfer(src any, target *nn.Model, dev device.Device) error {
	table, ok := src.(TensorTable)
	if !ok {
		if m, isModule := src.(nn.Module); isModule {
			return applyModule(m, target, dev)
		}
		return fmt.Errorf("%w: tensor-table transfer needs a live module or a TensorTable, got %T", ErrBadSource, src)
	}

	weights := make([]nn.NamedTensor, 0, len(table))
	for _, name := range sortedNames(table) {
		var full *tensor.RawTensor
		switch e := table[name].(type) {
		case *tensor.RawTensor:
			full = e
		case *tensor.Distributed:
			var err error
			if full, err = e.Materialize(); err != nil {
				return fmt.Errorf("materialize %q: %w", name, err)
			}
		default:
			return fmt.Errorf("%w: table entry %q is %T", ErrBadSource, name, table[name])
		}

		sliced, err := sliceForRank(full, shardAxisFor(target, name), target.Parallel())
		if err != nil {
			return fmt.Errorf("partition %q: %w", name, err)
		}
		weights = append(weights, nn.NamedTensor{Name: name, Tensor: sliced})
	}
	return target.LoadWeights(weights)
}
