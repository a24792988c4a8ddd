// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"fmt"
	"sort"
)

// ReplicatedAxis marks a shard that holds the whole logical tensor.
const ReplicatedAxis = -1

// Placement describes where a shard sits in the logical tensor: the axis it
// was split along and its position on that axis.
type Placement struct {
	Axis  int
	Index int
}

// Shard is one placement-aware piece of a distributed tensor.
type Shard struct {
	Placement
	Local *RawTensor
}

// Distributed is a logical tensor backed by placement-aware shards, the
// in-memory form a distributed tensor table hands over per parameter name.
type Distributed struct {
	shards []Shard
}

// NewDistributed builds a distributed view over shards. All shards must share
// one split axis (or be a single replicated shard).
func NewDistributed(shards []Shard) (*Distributed, error) {
	if len(shards) == 0 {
		return nil, fmt.Errorf("distributed tensor with zero shards")
	}
	axis := shards[0].Axis
	seen := make(map[int]bool, len(shards))
	for i, s := range shards {
		if s.Local == nil {
			return nil, fmt.Errorf("shard %d has no local tensor", i)
		}
		if s.Axis != axis {
			return nil, fmt.Errorf("mixed shard axes %d and %d", axis, s.Axis)
		}
		if seen[s.Index] {
			return nil, fmt.Errorf("duplicate shard index %d", s.Index)
		}
		seen[s.Index] = true
	}
	if axis == ReplicatedAxis && len(shards) > 1 {
		return nil, fmt.Errorf("replicated tensor with %d shards", len(shards))
	}
	return &Distributed{shards: append([]Shard(nil), shards...)}, nil
}

// NumShards returns the number of backing shards.
func (d *Distributed) NumShards() int {
	return len(d.shards)
}

// Materialize assembles the full logical tensor on the host: shards are
// ordered by index and concatenated along the split axis.
func (d *Distributed) Materialize() (*RawTensor, error) {
	if len(d.shards) == 1 {
		return d.shards[0].Local.Clone(), nil
	}
	ordered := append([]Shard(nil), d.shards...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })
	parts := make([]*RawTensor, len(ordered))
	for i, s := range ordered {
		parts[i] = s.Local
	}
	return Concat(parts, ordered[0].Axis)
}
