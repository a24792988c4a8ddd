// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

// Embedding is a lookup table with weight [vocab, hidden], vocab-parallel
// (split along axis 0) under tensor parallelism.
type Embedding struct {
	vocabSize int
	embedDim  int
	weight    *Parameter
}

// NewEmbedding creates an embedding table with zero-filled weights.
func NewEmbedding(bc BuildContext, vocabSize, embedDim int) (*Embedding, error) {
	w, err := bc.NewParameter("weight", vocabSize, embedDim)
	if err != nil {
		return nil, err
	}
	return &Embedding{vocabSize: vocabSize, embedDim: embedDim, weight: w}, nil
}

// VocabSize returns the table's (possibly rank-local) vocabulary size.
func (e *Embedding) VocabSize() int { return e.vocabSize }

// EmbedDim returns the embedding dimension.
func (e *Embedding) EmbedDim() int { return e.embedDim }

// Weight returns the table parameter.
func (e *Embedding) Weight() *Parameter { return e.weight }

// Parameters returns the table weight.
func (e *Embedding) Parameters() []*Parameter { return []*Parameter{e.weight} }

// Children returns nil.
func (e *Embedding) Children() []NamedModule { return nil }
