// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import "fmt"

// Concat concatenates host-resident tensors along an axis. Shapes must agree
// on every other dimension; dtypes must match.
func Concat(parts []*RawTensor, axis int) (*RawTensor, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("concat of zero tensors")
	}
	first := parts[0]
	rank := len(first.Shape())
	if axis < 0 || axis >= rank {
		return nil, fmt.Errorf("concat axis %d out of range for rank %d", axis, rank)
	}

	outShape := first.Shape().Clone()
	for i, p := range parts {
		if !p.IsHost() {
			return nil, fmt.Errorf("concat operand %d resides on %s", i, p.Device())
		}
		if p.DType() != first.DType() {
			return nil, fmt.Errorf("concat dtype mismatch: %s vs %s", p.DType(), first.DType())
		}
		shape := p.Shape()
		if len(shape) != rank {
			return nil, fmt.Errorf("concat rank mismatch: %d vs %d", len(shape), rank)
		}
		for d := 0; d < rank; d++ {
			if d == axis {
				continue
			}
			if shape[d] != outShape[d] {
				return nil, fmt.Errorf("concat shape mismatch on dim %d: %v vs %v", d, shape, outShape)
			}
		}
		if i > 0 {
			outShape[axis] += shape[axis]
		}
	}

	out, err := NewRaw(outShape, first.DType())
	if err != nil {
		return nil, err
	}

	// Row-major layout: copy one outer row per part in turn.
	outer := 1
	for d := 0; d < axis; d++ {
		outer *= outShape[d]
	}
	inner := first.DType().Size()
	for d := axis + 1; d < rank; d++ {
		inner *= outShape[d]
	}

	dst := out.Data()
	written := 0
	for o := 0; o < outer; o++ {
		for _, p := range parts {
			chunk := p.Shape()[axis] * inner
			src := p.Data()[o*chunk : (o+1)*chunk]
			copy(dst[written:written+chunk], src)
			written += chunk
		}
	}
	return out, nil
}

// Narrow copies out the [start, start+length) range of a host-resident tensor
// along an axis.
func Narrow(t *RawTensor, axis, start, length int) (*RawTensor, error) {
	shape := t.Shape()
	rank := len(shape)
	if axis < 0 || axis >= rank {
		return nil, fmt.Errorf("narrow axis %d out of range for rank %d", axis, rank)
	}
	if start < 0 || length <= 0 || start+length > shape[axis] {
		return nil, fmt.Errorf("narrow range [%d, %d) out of bounds for dim %d of size %d",
			start, start+length, axis, shape[axis])
	}
	if !t.IsHost() {
		return nil, fmt.Errorf("narrow operand resides on %s", t.Device())
	}

	outShape := shape.Clone()
	outShape[axis] = length
	out, err := NewRaw(outShape, t.DType())
	if err != nil {
		return nil, err
	}

	outer := 1
	for d := 0; d < axis; d++ {
		outer *= shape[d]
	}
	inner := t.DType().Size()
	for d := axis + 1; d < rank; d++ {
		inner *= shape[d]
	}

	srcRow := shape[axis] * inner
	dstRow := length * inner
	src := t.Data()
	dst := out.Data()
	for o := 0; o < outer; o++ {
		from := o*srcRow + start*inner
		copy(dst[o*dstRow:(o+1)*dstRow], src[from:from+dstRow])
	}
	return out, nil
}
