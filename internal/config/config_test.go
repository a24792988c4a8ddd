// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/765859220/verl/internal/tensor"
)

func TestParseModelConfig(t *testing.T) {
	data := []byte(`{
		"model_type": "llama",
		"vocab_size": 32000,
		"hidden_size": 4096,
		"num_hidden_layers": 32,
		"num_attention_heads": 32,
		"intermediate_size": 11008,
		"rms_norm_eps": 1e-6,
		"tie_word_embeddings": true,
		"torch_dtype": "bfloat16",
		"quantization": "rowwise-int8"
	}`)
	cfg, err := ParseModelConfig(data)
	require.NoError(t, err)
	assert.Equal(t, "llama", cfg.ModelType)
	assert.Equal(t, 32, cfg.NumLayers)
	assert.True(t, cfg.TiedEmbed)
	assert.Equal(t, "rowwise-int8", cfg.Quantization)

	dt, err := cfg.DType()
	require.NoError(t, err)
	assert.Equal(t, tensor.BFloat16, dt)
}

func TestParseModelConfigErrors(t *testing.T) {
	_, err := ParseModelConfig([]byte(`{not json`))
	assert.Error(t, err)

	_, err = ParseModelConfig([]byte(`{"model_type": "llama"}`))
	assert.Error(t, err, "missing dimensions must fail validation")

	_, err = ParseModelConfig([]byte(`{
		"vocab_size": 8, "hidden_size": 4, "num_hidden_layers": 1,
		"intermediate_size": 6, "torch_dtype": "complex128"
	}`))
	assert.Error(t, err, "unknown dtype must fail validation")
}

func TestModelConfigDTypeDefault(t *testing.T) {
	cfg := &ModelConfig{VocabSize: 8, HiddenSize: 4, Intermediate: 6}
	dt, err := cfg.DType()
	require.NoError(t, err)
	assert.Equal(t, tensor.Float32, dt)
}

func TestParallelConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ParallelConfig
		wantErr bool
	}{
		{"zero value", ParallelConfig{}, false},
		{"single", ParallelConfig{TPRank: 0, TPSize: 1}, false},
		{"last rank", ParallelConfig{TPRank: 3, TPSize: 4}, false},
		{"rank out of range", ParallelConfig{TPRank: 4, TPSize: 4}, true},
		{"negative rank", ParallelConfig{TPRank: -1, TPSize: 2}, true},
		{"rank without size", ParallelConfig{TPRank: 1, TPSize: 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParallelConfigSize(t *testing.T) {
	assert.Equal(t, 1, ParallelConfig{}.Size())
	assert.Equal(t, 4, ParallelConfig{TPSize: 4}.Size())
}

func TestLoadEngineConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"model: /models/llama/config.json\nformat: dummy-sharded\ndevice: webgpu\ntp_size: 2\nlog_level: debug\n"), 0o644))

	cfg, err := LoadEngineConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/models/llama/config.json", cfg.Model)
	assert.Equal(t, "dummy-sharded", cfg.Format)
	assert.Equal(t, "webgpu", cfg.Device)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ParallelConfig{TPRank: 0, TPSize: 2}, cfg.Parallel())

	// Unset fields keep their defaults.
	assert.False(t, cfg.JSONLogs)
}

func TestLoadEngineConfigMissingFile(t *testing.T) {
	_, err := LoadEngineConfig("/nonexistent/engine.yaml")
	assert.Error(t, err)
}
