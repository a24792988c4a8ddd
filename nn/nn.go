// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides the public API for the module graph the weight bridge
// populates: parameters, structural layers, and the model skeleton.
//
// Example:
//
//	model, err := nn.BuildSkeleton(cfg, par, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, p := range nn.NamedParameters(model) {
//	    fmt.Println(p.Name, p.Param.Data().Shape())
//	}
package nn

import (
	"github.com/765859220/verl/internal/config"
	"github.com/765859220/verl/internal/nn"
	"github.com/765859220/verl/internal/tensor"
)

// Type aliases for public API

// Module is a node in the model graph.
type Module = nn.Module

// Parameter is a named, trainable tensor slot.
type Parameter = nn.Parameter

// NamedModule pairs a module with its local name.
type NamedModule = nn.NamedModule

// NamedParameter pairs a parameter with its dot-qualified name.
type NamedParameter = nn.NamedParameter

// NamedTensor pairs a tensor with a checkpoint-style qualified name.
type NamedTensor = nn.NamedTensor

// Model is the inference skeleton the loader populates.
type Model = nn.Model

// Linear is a dense projection layer.
type Linear = nn.Linear

// Embedding is a lookup table layer.
type Embedding = nn.Embedding

// RMSNorm is a normalization layer.
type RMSNorm = nn.RMSNorm

// BuildContext carries the forced defaults for skeleton construction.
type BuildContext = nn.BuildContext

// QuantMethod repacks a module's weights after loading.
type QuantMethod = nn.QuantMethod

// Quantized is implemented by modules carrying a quantization method.
type Quantized = nn.Quantized

// PostLoadProcessor is the module-level post-load hook.
type PostLoadProcessor = nn.PostLoadProcessor

// BuildSkeleton constructs a model skeleton for one tensor-parallel rank.
func BuildSkeleton(cfg *config.ModelConfig, par config.ParallelConfig, quant QuantMethod) (*Model, error) {
	return nn.BuildSkeleton(cfg, par, quant)
}

// NamedParameters returns every parameter under its qualified name.
func NamedParameters(root Module) []NamedParameter {
	return nn.NamedParameters(root)
}

// Modules returns every module under its qualified name, the root first.
func Modules(root Module) []NamedModule {
	return nn.Modules(root)
}

// NewParameter wraps a tensor as a parameter.
func NewParameter(name string, data *tensor.RawTensor) *Parameter {
	return nn.NewParameter(name, data)
}

// CanonicalName folds fused checkpoint names onto their storing parameter.
func CanonicalName(name string) string {
	return nn.CanonicalName(name)
}
