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

// ShardedSource maps checkpoint parameter names to their tensor-parallel
// shards in rank order. A single-element list means the tensor is whole.
type ShardedSource map[string][]*tensor.RawTensor

// ShardedStrategy reassembles per-rank shards into full tensors and cuts out
// the target rank's partition. The source is either a ShardedSource or a
// live module whose parameters are enumerated in place, without building an
// intermediate name-to-tensor table.
type ShardedStrategy struct{}

// Name returns "sharded".
func (ShardedStrategy) Name() string { return "sharded" }

// Transfer dispatches on the source form.
func (s ShardedStrategy) Transfer(src any, target *nn.Model, dev device.Device) error {
	switch v := src.(type) {
	case ShardedSource:
		return s.transferShards(v, target)
	case nn.Module:
		return s.transferModule(v, target, dev)
	default:
		return fmt.Errorf("%w: sharded transfer needs a live module or shard lists, got %T", ErrBadSource, src)
	}
}

func (ShardedStrategy) transferShards(src ShardedSource, target *nn.Model) error {
	weights := make([]nn.NamedTensor, 0, len(src))
	for _, name := range sortedNames(src) {
		parts := src[name]
		if len(parts) == 0 {
			return fmt.Errorf("%w: %q has no shards", ErrBadSource, name)
		}
		axis := shardAxisFor(target, name)

		full := parts[0]
		if len(parts) > 1 {
			if axis == tensor.ReplicatedAxis {
				return fmt.Errorf("%w: %q is replicated but arrived in %d shards", ErrBadSource, name, len(parts))
			}
			var err error
			if full, err = tensor.Concat(parts, axis); err != nil {
				return fmt.Errorf("assemble %q: %w", name, err)
			}
		}

		sliced, err := sliceForRank(full, axis, target.Parallel())
		if err != nil {
			return fmt.Errorf("partition %q: %w", name, err)
		}
		weights = append(weights, nn.NamedTensor{Name: name, Tensor: sliced})
	}
	return target.LoadWeights(weights)
}

// transferModule reads weights straight off the source module. The source is
// staged on the compute device for the duration of the transfer and restored
// to host afterwards.
func (ShardedStrategy) transferModule(src nn.Module, target *nn.Model, dev device.Device) error {
	return WithDeviceLoading(dev, src, func() error {
		return applyModule(src, target, dev)
	})
}
