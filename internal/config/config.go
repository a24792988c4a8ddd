// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package config holds the model, parallel, and load configuration consumed
// by the weight bridge.
package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/765859220/verl/internal/tensor"
)

// ModelConfig describes the target model skeleton. Field names follow the
// HF-style config.json the surrounding tooling writes.
type ModelConfig struct {
	ModelType    string `json:"model_type"`
	VocabSize    int    `json:"vocab_size"`
	HiddenSize   int    `json:"hidden_size"`
	NumLayers    int    `json:"num_hidden_layers"`
	NumHeads     int    `json:"num_attention_heads"`
	Intermediate int    `json:"intermediate_size"`
	NormEps      float64 `json:"rms_norm_eps"`
	TiedEmbed    bool   `json:"tie_word_embeddings"`
	DTypeName    string `json:"torch_dtype"`

	// Quantization selects a post-load repacking method ("" = none).
	Quantization string `json:"quantization"`
}

// DType resolves the forced default numeric type every skeleton parameter is
// created with. Defaults to float32 when the config carries no dtype.
func (c *ModelConfig) DType() (tensor.DataType, error) {
	if c.DTypeName == "" {
		return tensor.Float32, nil
	}
	return tensor.ParseDataType(c.DTypeName)
}

// Validate checks the dimensions a skeleton build needs.
func (c *ModelConfig) Validate() error {
	if c.VocabSize <= 0 || c.HiddenSize <= 0 || c.NumLayers < 0 {
		return fmt.Errorf("model config missing dimensions: vocab=%d hidden=%d layers=%d",
			c.VocabSize, c.HiddenSize, c.NumLayers)
	}
	if c.Intermediate <= 0 {
		return fmt.Errorf("model config missing intermediate_size")
	}
	if _, err := c.DType(); err != nil {
		return err
	}
	return nil
}

// ParseModelConfig decodes an HF-style config.json payload.
func ParseModelConfig(data []byte) (*ModelConfig, error) {
	var cfg ModelConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse model config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadModelConfig reads and decodes a config.json file.
func LoadModelConfig(path string) (*ModelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model config: %w", err)
	}
	return ParseModelConfig(data)
}

// ParallelConfig describes this process's slice of the tensor-parallel
// layout. The bridge performs no cross-process coordination; each process
// reconstructs only its own rank's partition.
type ParallelConfig struct {
	TPRank int
	TPSize int
}

// Validate checks rank/size consistency. The zero value means no parallelism.
func (p ParallelConfig) Validate() error {
	if p.TPSize == 0 {
		if p.TPRank != 0 {
			return fmt.Errorf("tensor-parallel rank %d with size 0", p.TPRank)
		}
		return nil
	}
	if p.TPSize < 1 || p.TPRank < 0 || p.TPRank >= p.TPSize {
		return fmt.Errorf("tensor-parallel rank %d out of range for size %d", p.TPRank, p.TPSize)
	}
	return nil
}

// Size returns the effective tensor-parallel degree (at least 1).
func (p ParallelConfig) Size() int {
	if p.TPSize < 1 {
		return 1
	}
	return p.TPSize
}
