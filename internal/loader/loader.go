// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package loader

import (
	"fmt"
	"time"

	"github.com/765859220/verl/internal/config"
	"github.com/765859220/verl/internal/device"
	"github.com/765859220/verl/internal/logger"
	"github.com/765859220/verl/internal/nn"
	"github.com/765859220/verl/internal/quant"
)

// State tracks a load run through its lifecycle. Stages advance strictly in
// order; a stage entered out of order aborts the load.
type State int

// Load lifecycle states.
const (
	StateConstructed State = iota
	StateSkeletonBuilt
	StateWeightsTransferred
	StatePostProcessed
	StateFinalized
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StateSkeletonBuilt:
		return "skeleton-built"
	case StateWeightsTransferred:
		return "weights-transferred"
	case StatePostProcessed:
		return "post-processed"
	case StateFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// lifecycle is the per-run state machine. Every Load call gets its own, so
// loaders stay reusable and safe to share.
type lifecycle struct {
	state State
}

func (l *lifecycle) advance(from, to State) error {
	if l.state != from {
		return fmt.Errorf("%w: cannot enter %s from %s", ErrLifecycle, to, l.state)
	}
	l.state = to
	return nil
}

// ModelLoader builds a model skeleton, populates it from a weight source,
// and hands back a finalized inference-ready model.
type ModelLoader interface {
	// Format returns the load format this loader was selected for.
	Format() Format

	// Load runs the full lifecycle: skeleton build, weight transfer,
	// post-load processing on dev, and finalization (device residency
	// plus eval mode). The accepted src form depends on the format.
	Load(cfg *config.ModelConfig, par config.ParallelConfig, src any, dev device.Device) (*nn.Model, error)
}

// executeLoad drives the shared lifecycle. transfer is nil for dummy loads.
func executeLoad(format Format, cfg *config.ModelConfig, par config.ParallelConfig,
	dev device.Device, transfer func(*nn.Model) error) (*nn.Model, error) {

	start := time.Now()
	log := logger.Default().With("format", format.String(), "device", dev.Name())
	lc := &lifecycle{state: StateConstructed}

	qm, err := quant.New(cfg.Quantization)
	if err != nil {
		return nil, err
	}
	model, err := nn.BuildSkeleton(cfg, par, qm)
	if err != nil {
		return nil, fmt.Errorf("build skeleton: %w", err)
	}
	if err := lc.advance(StateConstructed, StateSkeletonBuilt); err != nil {
		return nil, err
	}
	log.Debug("skeleton built", "layers", cfg.NumLayers, "tp_size", par.Size())

	if transfer != nil {
		if err := transfer(model); err != nil {
			return nil, fmt.Errorf("transfer weights: %w", err)
		}
	}
	if err := lc.advance(StateSkeletonBuilt, StateWeightsTransferred); err != nil {
		return nil, err
	}

	// Sharded, tensor-table, and dummy skeletons go onto the compute device
	// as soon as their weights are in place. The full variant stays
	// host-built until finalize; its hooks reach the device through the
	// migration scope instead.
	if format.IsDummy() || format.Resolve() != FormatFull {
		if err := model.To(dev); err != nil {
			return nil, err
		}
	}

	if err := postProcess(model, dev); err != nil {
		return nil, fmt.Errorf("post-process weights: %w", err)
	}
	if err := lc.advance(StateWeightsTransferred, StatePostProcessed); err != nil {
		return nil, err
	}

	// The final move is idempotent and catches parameters the hooks left
	// on the host.
	if err := model.To(dev); err != nil {
		return nil, err
	}
	model.Eval()
	if err := lc.advance(StatePostProcessed, StateFinalized); err != nil {
		return nil, err
	}

	log.Info("model loaded",
		"duration", time.Since(start),
		"transfers", dev.TransferCount())
	return model, nil
}

// postProcess runs the per-module finishing hooks. A module's quantization
// method runs first; its direct hook, when present, runs on the same module
// afterwards. Each module's hooks run inside a device loading scope, so
// host-resident operands are on dev for the duration and restored after.
func postProcess(root nn.Module, dev device.Device) error {
	for _, nm := range nn.Modules(root) {
		q, _ := nm.Module.(nn.Quantized)
		hasQuant := q != nil && q.QuantMethod() != nil
		hook, hasHook := nm.Module.(nn.PostLoadProcessor)
		if !hasQuant && !hasHook {
			continue
		}
		mod := nm.Module
		err := WithDeviceLoading(dev, mod, func() error {
			if hasQuant {
				if err := q.QuantMethod().ProcessWeightsAfterLoading(mod, dev); err != nil {
					return err
				}
			}
			if hasHook {
				return hook.ProcessWeightsAfterLoading(dev)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("module %q: %w", nm.Name, err)
		}
	}
	return nil
}

// StrategyLoader loads through the transfer strategy installed for its
// resolved format. It backs the sharded, tensor-table, and full formats.
type StrategyLoader struct {
	format Format
}

// NewStrategyLoader creates a loader for a non-dummy format.
func NewStrategyLoader(format Format) *StrategyLoader {
	return &StrategyLoader{format: format}
}

// Format returns the nominal load format.
func (l *StrategyLoader) Format() Format { return l.format }

// Load runs the lifecycle with the installed strategy's transfer.
func (l *StrategyLoader) Load(cfg *config.ModelConfig, par config.ParallelConfig,
	src any, dev device.Device) (*nn.Model, error) {

	strategy, err := ResolveStrategy(l.format.Resolve())
	if err != nil {
		return nil, err
	}
	return executeLoad(l.format, cfg, par, dev, func(m *nn.Model) error {
		return strategy.Transfer(src, m, dev)
	})
}

// DummyLoader builds the skeleton without transferring any weights, leaving
// the skeleton's initialization in place. The resulting model is structurally
// valid but semantically meaningless; it exists for memory capacity probing.
type DummyLoader struct {
	format Format
}

// NewDummyLoader creates a loader for a dummy format.
func NewDummyLoader(format Format) *DummyLoader {
	return &DummyLoader{format: format}
}

// Format returns the nominal load format.
func (l *DummyLoader) Format() Format { return l.format }

// Load runs the lifecycle with no transfer. src must be nil.
func (l *DummyLoader) Load(cfg *config.ModelConfig, par config.ParallelConfig,
	src any, dev device.Device) (*nn.Model, error) {

	if src != nil {
		return nil, fmt.Errorf("%w: dummy load takes no weight source, got %T", ErrBadSource, src)
	}
	return executeLoad(l.format, cfg, par, dev, nil)
}
