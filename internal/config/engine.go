// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EngineConfig carries the process-level defaults the CLI and embedding
// services start from. Flags override file values.
type EngineConfig struct {
	Model    string `yaml:"model"`
	Format   string `yaml:"format"`
	Device   string `yaml:"device"`
	TPSize   int    `yaml:"tp_size"`
	TPRank   int    `yaml:"tp_rank"`
	LogLevel string `yaml:"log_level"`
	JSONLogs bool   `yaml:"json_logs"`
}

// DefaultEngineConfig returns the built-in defaults.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		Format:   "auto",
		Device:   "fake",
		LogLevel: "info",
	}
}

// LoadEngineConfig reads a YAML engine config, layered over the defaults.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	cfg := DefaultEngineConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read engine config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse engine config: %w", err)
	}
	return cfg, nil
}

// Parallel builds the parallel config described by the engine config.
func (e *EngineConfig) Parallel() ParallelConfig {
	return ParallelConfig{TPRank: e.TPRank, TPSize: e.TPSize}
}
