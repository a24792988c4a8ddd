// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package loader provides the public API for bridging training-side weights
// into an inference model skeleton.
//
// A load is driven by a format-selected loader:
//
//	ml, err := loader.GetLoader(loader.Config{Format: "sharded"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	model, err := ml.Load(modelCfg, parCfg, source, dev)
//
// The "auto" format resolves to "sharded". The dummy variants build the
// skeleton without transferring weights, for memory capacity probing.
package loader

import (
	"github.com/765859220/verl/internal/config"
	"github.com/765859220/verl/internal/device"
	"github.com/765859220/verl/internal/loader"
	"github.com/765859220/verl/internal/nn"
)

// Type aliases for public API

// Format identifies how weights reach the model skeleton.
type Format = loader.Format

// Supported load formats.
const (
	FormatAuto             = loader.FormatAuto
	FormatSharded          = loader.FormatSharded
	FormatTensorTable      = loader.FormatTensorTable
	FormatFull             = loader.FormatFull
	FormatDummySharded     = loader.FormatDummySharded
	FormatDummyTensorTable = loader.FormatDummyTensorTable
	FormatDummyFull        = loader.FormatDummyFull
)

// Config selects and parameterizes a loader.
type Config = loader.Config

// ModelLoader runs the full load lifecycle for one format.
type ModelLoader = loader.ModelLoader

// TransferStrategy moves weights from a source into the target skeleton.
type TransferStrategy = loader.TransferStrategy

// Weight source forms accepted by the transfer strategies.
type (
	// ShardedSource maps names to tensor-parallel shards in rank order.
	ShardedSource = loader.ShardedSource
	// TensorTable maps names to plain or distributed tensors.
	TensorTable = loader.TensorTable
	// FullSource maps names to whole, unsharded host tensors.
	FullSource = loader.FullSource
)

// Sentinel errors callers branch on.
var (
	ErrUnsupportedFormat = loader.ErrUnsupportedFormat
	ErrExtraConfig       = loader.ErrExtraConfig
	ErrBadSource         = loader.ErrBadSource
	ErrLifecycle         = loader.ErrLifecycle
)

// GetLoader resolves the loader for a load configuration.
func GetLoader(cfg Config) (ModelLoader, error) {
	return loader.GetLoader(cfg)
}

// ParseFormat resolves a format identifier.
func ParseFormat(s string) (Format, error) {
	return loader.ParseFormat(s)
}

// WithDeviceLoading runs fn with m's host-resident parameters temporarily
// migrated to dev, restoring them to fresh host storage afterwards.
func WithDeviceLoading(dev device.Device, m nn.Module, fn func() error) error {
	return loader.WithDeviceLoading(dev, m, fn)
}

// InstallStrategy registers the transfer strategy for a format.
func InstallStrategy(f Format, s TransferStrategy) {
	loader.InstallStrategy(f, s)
}

// ResolveStrategy returns the installed strategy for a format.
func ResolveStrategy(f Format) (TransferStrategy, error) {
	return loader.ResolveStrategy(f)
}

// LoadConfig re-exports the configuration types loads are parameterized by.
type (
	// ModelConfig describes the target model skeleton.
	ModelConfig = config.ModelConfig
	// ParallelConfig describes this rank's tensor-parallel slice.
	ParallelConfig = config.ParallelConfig
)
