// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package loader

import (
	"errors"
	"fmt"

	"github.com/765859220/verl/internal/device"
	"github.com/765859220/verl/internal/logger"
	"github.com/765859220/verl/internal/nn"
)

// WithDeviceLoading runs fn with m's host-resident parameters temporarily
// migrated to dev, then restores them to fresh host storage.
//
// Only parameters that are host-resident on entry are recorded and restored;
// parameters already on a device, and parameters fn creates, are left where
// fn put them. Restored storage is allocated for the parameter's layout at
// restore time, so repacking inside fn carries through, and is pinned when
// the platform supports it. Restoration happens even when fn fails or
// panics.
//
// When dev is the host the scope is a pass-through.
func WithDeviceLoading(dev device.Device, m nn.Module, fn func() error) error {
	if dev.IsHost() {
		return fn()
	}

	var recorded []nn.NamedParameter
	seen := make(map[*nn.Parameter]bool)
	for _, np := range nn.NamedParameters(m) {
		if seen[np.Param] || !np.Param.Data().IsHost() {
			continue
		}
		seen[np.Param] = true
		recorded = append(recorded, np)
		if err := dev.ToDevice(np.Param.Data()); err != nil {
			// Roll back what already moved before giving up.
			restoreErr := restoreRecorded(dev, recorded)
			return errors.Join(fmt.Errorf("migrate %s to %s: %w", np.Name, dev.Name(), err), restoreErr)
		}
	}
	logger.Default().Debug("device loading scope entered",
		"device", dev.Name(), "migrated", len(recorded))

	var restoreErr error
	fnErr := func() error {
		defer func() {
			restoreErr = restoreRecorded(dev, recorded)
		}()
		return fn()
	}()
	return errors.Join(fnErr, restoreErr)
}

func restoreRecorded(dev device.Device, recorded []nn.NamedParameter) error {
	pinned := device.PinnedMemoryAvailable()
	var errs []error
	for _, np := range recorded {
		if err := dev.ToHost(np.Param.Data(), pinned); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", np.Name, err))
		}
	}
	return errors.Join(errs...)
}
