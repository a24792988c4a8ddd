// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

//go:build linux || darwin

package device

import (
	"sync"

	"golang.org/x/sys/unix"
)

var pinProbe struct {
	once      sync.Once
	available bool
}

// PinnedMemoryAvailable reports whether page-locked host allocations work on
// this system. Probed once; a locked-memory rlimit of zero disables pinning.
func PinnedMemoryAvailable() bool {
	pinProbe.once.Do(func() {
		probe := make([]byte, unix.Getpagesize())
		if err := unix.Mlock(probe); err != nil {
			return
		}
		_ = unix.Munlock(probe)
		pinProbe.available = true
	})
	return pinProbe.available
}

// lockPages pins a buffer's pages into physical memory. Returns false when
// the lock fails; callers fall back to the unpinned buffer.
func lockPages(data []byte) bool {
	if !PinnedMemoryAvailable() {
		return false
	}
	return unix.Mlock(data) == nil
}
