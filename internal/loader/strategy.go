// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package loader

import (
	"fmt"
	"sort"
	"sync"

	"github.com/765859220/verl/internal/config"
	"github.com/765859220/verl/internal/device"
	"github.com/765859220/verl/internal/nn"
	"github.com/765859220/verl/internal/tensor"
)

// TransferStrategy moves weights from a source into the target skeleton.
// Each strategy accepts a specific source form and rejects everything else
// with ErrBadSource.
type TransferStrategy interface {
	Name() string
	Transfer(src any, target *nn.Model, dev device.Device) error
}

// Strategy registry. The selector installs the strategy for the chosen
// format once; loads resolve through here so a replacement strategy (tests,
// alternative transports) can be dropped in without touching the loaders.
var (
	registryMu sync.RWMutex
	registry   = make(map[Format]TransferStrategy)
)

// InstallStrategy registers the strategy for a transfer format, replacing
// any previous registration.
func InstallStrategy(f Format, s TransferStrategy) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[f] = s
}

// ResolveStrategy returns the installed strategy for a transfer format.
func ResolveStrategy(f Format) (TransferStrategy, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	s, ok := registry[f]
	if !ok {
		return nil, fmt.Errorf("%w: no transfer strategy installed for %q", ErrUnsupportedFormat, f)
	}
	return s, nil
}

// sortedNames returns map keys in deterministic order.
func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// shardAxisFor resolves the tensor-parallel split axis the target records
// for a checkpoint-side name, following fused remapping.
func shardAxisFor(target *nn.Model, name string) int {
	return target.ShardAxis(nn.CanonicalName(name))
}

// applyModule loads a live parameter-owning module into the target. Every
// strategy accepts this source form: parameters are enumerated per occurrence
// (tied weights are accounted once per name), read onto the host when
// device-resident, sliced to the target rank, and loaded.
func applyModule(src nn.Module, target *nn.Model, dev device.Device) error {
	var weights []nn.NamedTensor
	for _, np := range nn.NamedParameters(src) {
		t := np.Param.Data()
		host := t
		if !t.IsHost() {
			raw, err := dev.Read(t)
			if err != nil {
				return fmt.Errorf("read %q: %w", np.Name, err)
			}
			if host, err = tensor.NewRaw(t.Shape(), t.DType()); err != nil {
				return err
			}
			copy(host.Data(), raw)
		}

		sliced, err := sliceForRank(host, shardAxisFor(target, np.Name), target.Parallel())
		if err != nil {
			return fmt.Errorf("partition %q: %w", np.Name, err)
		}
		weights = append(weights, nn.NamedTensor{Name: np.Name, Tensor: sliced})
	}
	return target.LoadWeights(weights)
}

// sliceForRank cuts this rank's partition out of a full host tensor along
// axis. Replicated tensors pass through whole.
func sliceForRank(t *tensor.RawTensor, axis int, par config.ParallelConfig) (*tensor.RawTensor, error) {
	tp := par.Size()
	if axis == tensor.ReplicatedAxis || tp == 1 {
		return t, nil
	}
	dim := t.Shape()[axis]
	if dim%tp != 0 {
		return nil, fmt.Errorf("dim %d of size %d not divisible by tensor-parallel size %d", axis, dim, tp)
	}
	per := dim / tp
	return tensor.Narrow(t, axis, par.TPRank*per, per)
}
