// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package loader

import (
	"fmt"
)

// Config selects and parameterizes a loader. Custom, when set, bypasses
// format dispatch entirely and is returned as-is.
type Config struct {
	Format string
	Extra  map[string]any
	Custom ModelLoader
}

// GetLoader resolves the loader for a load configuration. Dispatch is pure
// apart from installing the resolved format's transfer strategy in the
// registry; "auto" resolves to the sharded format. Formats here accept no
// extra loader config, so any Extra payload is rejected.
func GetLoader(cfg Config) (ModelLoader, error) {
	if cfg.Custom != nil {
		return cfg.Custom, nil
	}

	f, err := ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	if len(cfg.Extra) > 0 {
		return nil, fmt.Errorf("%w: %q", ErrExtraConfig, f)
	}

	switch f.Resolve() {
	case FormatSharded:
		InstallStrategy(FormatSharded, ShardedStrategy{})
	case FormatTensorTable:
		InstallStrategy(FormatTensorTable, TensorTableStrategy{})
	case FormatFull:
		InstallStrategy(FormatFull, FullStrategy{})
	}

	if f.IsDummy() {
		return NewDummyLoader(f), nil
	}
	return NewStrategyLoader(f), nil
}
