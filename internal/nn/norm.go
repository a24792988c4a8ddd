// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

// RMSNorm holds a normalization gain [hidden], replicated on every rank.
type RMSNorm struct {
	dim    int
	eps    float64
	weight *Parameter
}

// NewRMSNorm creates an RMSNorm layer with zero-filled gain.
func NewRMSNorm(bc BuildContext, dim int, eps float64) (*RMSNorm, error) {
	w, err := bc.NewParameter("weight", dim)
	if err != nil {
		return nil, err
	}
	return &RMSNorm{dim: dim, eps: eps, weight: w}, nil
}

// Dim returns the normalized dimension.
func (n *RMSNorm) Dim() int { return n.dim }

// Eps returns the numerical stability epsilon.
func (n *RMSNorm) Eps() float64 { return n.eps }

// Weight returns the gain parameter.
func (n *RMSNorm) Weight() *Parameter { return n.weight }

// Parameters returns the gain.
func (n *RMSNorm) Parameters() []*Parameter { return []*Parameter{n.weight} }

// Children returns nil.
func (n *RMSNorm) Children() []NamedModule { return nil }
