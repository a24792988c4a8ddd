// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/765859220/verl/internal/config"
	"github.com/765859220/verl/internal/device"
	"github.com/765859220/verl/internal/device/webgpu"
	"github.com/765859220/verl/internal/loader"
	"github.com/765859220/verl/internal/logger"
	"github.com/765859220/verl/internal/nn"
)

func loadCmd() *cli.Command {
	var (
		engineFile string
		modelPath  string
		format     string
		weights    string
		devName    string
		tpSize     int64
		tpRank     int64
		logLevel   string
		jsonLogs   bool
	)

	return &cli.Command{
		Name:  "load",
		Usage: "Load a model: full format from a safetensors file, or a dummy format as a capacity probe",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "engine-config", Usage: "YAML engine config `FILE`", Destination: &engineFile},
			&cli.StringFlag{Name: "model", Usage: "HF-style config.json `FILE`", Destination: &modelPath},
			&cli.StringFlag{Name: "format", Usage: "load format", Destination: &format},
			&cli.StringFlag{Name: "weights", Usage: "safetensors checkpoint `FILE` (full format)", Destination: &weights},
			&cli.StringFlag{Name: "device", Usage: "compute device (cpu, fake, webgpu)", Destination: &devName},
			&cli.Int64Flag{Name: "tp-size", Usage: "tensor-parallel size", Destination: &tpSize},
			&cli.Int64Flag{Name: "tp-rank", Usage: "tensor-parallel rank", Destination: &tpRank},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn, error", Destination: &logLevel},
			&cli.BoolFlag{Name: "json-logs", Usage: "log as JSON", Destination: &jsonLogs},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			eng := config.DefaultEngineConfig()
			if engineFile != "" {
				var err error
				if eng, err = config.LoadEngineConfig(engineFile); err != nil {
					return err
				}
			}
			applyFlagOverrides(eng, modelPath, format, devName, int(tpSize), int(tpRank), logLevel, jsonLogs)
			logger.SetDefault(logger.New(os.Stderr, eng.LogLevel, eng.JSONLogs))

			if eng.Model == "" {
				return fmt.Errorf("no model config given (use --model or the engine config)")
			}
			modelCfg, err := config.LoadModelConfig(eng.Model)
			if err != nil {
				return err
			}

			f, err := loader.ParseFormat(eng.Format)
			if err != nil {
				return err
			}
			var src any
			switch {
			case weights != "":
				if f == loader.FormatAuto {
					f = loader.FormatFull
				}
				if f != loader.FormatFull {
					return fmt.Errorf("checkpoint files load with the %q format, not %q", loader.FormatFull, f)
				}
				if src, err = loader.FullSourceFromFile(weights); err != nil {
					return err
				}
			default:
				if f == loader.FormatAuto {
					f = loader.FormatDummySharded
				}
				if !f.IsDummy() {
					return fmt.Errorf("format %q needs a weight source; pass --weights or use a dummy format", f)
				}
			}

			dev, cleanup, err := openDevice(eng.Device)
			if err != nil {
				return err
			}
			defer cleanup()

			ml, err := loader.GetLoader(loader.Config{Format: f.String()})
			if err != nil {
				return err
			}
			model, err := ml.Load(modelCfg, eng.Parallel(), src, dev)
			if err != nil {
				return err
			}

			var bytes int64
			seen := make(map[*nn.Parameter]bool)
			for _, np := range nn.NamedParameters(model) {
				if seen[np.Param] {
					continue
				}
				seen[np.Param] = true
				bytes += int64(np.Param.Data().ByteSize())
			}
			fmt.Printf("loaded %s skeleton on %s: %d parameters, %d bytes, %d transfers\n",
				modelCfg.ModelType, dev.Name(), len(seen), bytes, dev.TransferCount())
			return nil
		},
	}
}

func applyFlagOverrides(eng *config.EngineConfig, model, format, dev string, tpSize, tpRank int, logLevel string, jsonLogs bool) {
	if model != "" {
		eng.Model = model
	}
	if format != "" {
		eng.Format = format
	}
	if dev != "" {
		eng.Device = dev
	}
	if tpSize != 0 {
		eng.TPSize = tpSize
	}
	if tpRank != 0 {
		eng.TPRank = tpRank
	}
	if logLevel != "" {
		eng.LogLevel = logLevel
	}
	if jsonLogs {
		eng.JSONLogs = true
	}
}

func openDevice(name string) (device.Device, func(), error) {
	switch strings.ToLower(name) {
	case "", "cpu":
		return device.NewHost(), func() {}, nil
	case "fake":
		return device.NewFake(), func() {}, nil
	case "webgpu":
		d, err := webgpu.New()
		if err != nil {
			return nil, nil, err
		}
		return d, d.Release, nil
	default:
		return nil, nil, fmt.Errorf("unknown device %q (cpu, fake, webgpu)", name)
	}
}
