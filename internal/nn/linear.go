// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

// Linear is a dense projection with weight [out, in] and optional bias [out].
// ShardAxis records the layer's tensor-parallel layout: 0 for column-parallel
// (output dim partitioned), 1 for row-parallel (input dim partitioned), or
// tensor.ReplicatedAxis when the weight is held whole on every rank.
type Linear struct {
	inFeatures  int
	outFeatures int
	weight      *Parameter
	bias        *Parameter
	shardAxis   int
	quant       QuantMethod
}

// NewLinear creates a linear layer with zero-filled parameters.
func NewLinear(bc BuildContext, in, out int, withBias bool, shardAxis int) (*Linear, error) {
	w, err := bc.NewParameter("weight", out, in)
	if err != nil {
		return nil, err
	}
	l := &Linear{inFeatures: in, outFeatures: out, weight: w, shardAxis: shardAxis}
	if withBias {
		if l.bias, err = bc.NewParameter("bias", out); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// InFeatures returns the input dimension.
func (l *Linear) InFeatures() int { return l.inFeatures }

// OutFeatures returns the output dimension.
func (l *Linear) OutFeatures() int { return l.outFeatures }

// Weight returns the weight parameter.
func (l *Linear) Weight() *Parameter { return l.weight }

// Bias returns the bias parameter, or nil.
func (l *Linear) Bias() *Parameter { return l.bias }

// ShardAxis returns the tensor-parallel split axis of the weight.
func (l *Linear) ShardAxis() int { return l.shardAxis }

// SetQuantMethod attaches a post-load repacking method.
func (l *Linear) SetQuantMethod(m QuantMethod) { l.quant = m }

// QuantMethod returns the attached quantization method, nil when unquantized.
func (l *Linear) QuantMethod() QuantMethod { return l.quant }

// Parameters returns weight then bias.
func (l *Linear) Parameters() []*Parameter {
	if l.bias != nil {
		return []*Parameter{l.weight, l.bias}
	}
	return []*Parameter{l.weight}
}

// Children returns nil; a linear layer is a leaf.
func (l *Linear) Children() []NamedModule { return nil }
