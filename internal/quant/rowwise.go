// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package quant implements post-load weight repacking methods.
package quant

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/765859220/verl/internal/device"
	"github.com/765859220/verl/internal/nn"
	"github.com/765859220/verl/internal/parallel"
	"github.com/765859220/verl/internal/tensor"
)

// New resolves a quantization method by config name. The empty name means no
// quantization.
func New(name string) (nn.QuantMethod, error) {
	switch name {
	case "":
		return nil, nil
	case "rowwise-int8":
		return RowwiseInt8{}, nil
	default:
		return nil, fmt.Errorf("unknown quantization method %q", name)
	}
}

// RowwiseInt8 repacks float32 projection weights into int8 with one float32
// scale per output row. Each packed row holds the in-dim int8 values followed
// by the 4 scale bytes, so the parameter becomes [out, in+4] of int8 and its
// byte size shrinks roughly 4x.
type RowwiseInt8 struct{}

var _ nn.QuantMethod = RowwiseInt8{}

// ProcessWeightsAfterLoading repacks the module's weight in place. Only
// Linear layers are touched; the weight must be resident on dev and float32.
func (RowwiseInt8) ProcessWeightsAfterLoading(m nn.Module, dev device.Device) error {
	l, ok := m.(*nn.Linear)
	if !ok {
		return nil
	}
	w := l.Weight().Data()
	if w.IsHost() {
		return fmt.Errorf("rowwise-int8: weight must be device-resident, found on host")
	}
	if w.DType() != tensor.Float32 {
		return fmt.Errorf("rowwise-int8: weight dtype is %s, need float32", w.DType())
	}
	shape := w.Shape()
	if len(shape) != 2 {
		return fmt.Errorf("rowwise-int8: weight rank %d, need 2", len(shape))
	}
	out, in := shape[0], shape[1]

	raw, err := dev.Read(w)
	if err != nil {
		return fmt.Errorf("rowwise-int8: read weight: %w", err)
	}
	if len(raw) != out*in*4 {
		return fmt.Errorf("rowwise-int8: weight holds %d bytes, expected %d", len(raw), out*in*4)
	}

	// Rows are independent, so the repack parallelizes cleanly.
	packed := make([]byte, out*(in+4))
	parallel.For(out, func(r int) {
		row := raw[r*in*4 : (r+1)*in*4]
		maxAbs := float32(0)
		for c := 0; c < in; c++ {
			v := math.Float32frombits(binary.LittleEndian.Uint32(row[c*4:]))
			if a := float32(math.Abs(float64(v))); a > maxAbs {
				maxAbs = a
			}
		}
		scale := maxAbs / 127
		if scale == 0 {
			scale = 1
		}
		dst := packed[r*(in+4) : (r+1)*(in+4)]
		for c := 0; c < in; c++ {
			v := math.Float32frombits(binary.LittleEndian.Uint32(row[c*4:]))
			q := math.RoundToEven(float64(v / scale))
			dst[c] = byte(int8(q))
		}
		binary.LittleEndian.PutUint32(dst[in:], math.Float32bits(scale))
	}, parallel.DefaultConfig())

	if err := dev.Write(w, packed); err != nil {
		return fmt.Errorf("rowwise-int8: write packed weight: %w", err)
	}
	newShape := tensor.Shape{out, in + 4}
	if err := w.SetLayout(newShape, newShape.ComputeStrides(), tensor.Int8); err != nil {
		return fmt.Errorf("rowwise-int8: %w", err)
	}
	return nil
}
