// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

//go:build !linux && !darwin

package device

// PinnedMemoryAvailable reports whether page-locked host allocations work on
// this system. No page-locking facility is wired up on this platform.
func PinnedMemoryAvailable() bool {
	return false
}

func lockPages(data []byte) bool {
	return false
}
