// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package loader

import (
	"fmt"
	"strings"
)

// Format identifies how weights reach the model skeleton.
type Format string

// Supported load formats. Auto resolves to the sharded format. The dummy
// variants build the skeleton without transferring any weights, one per
// transfer format so capacity probing matches the real memory layout.
const (
	FormatAuto             Format = "auto"
	FormatSharded          Format = "sharded"
	FormatTensorTable      Format = "tensor-table"
	FormatFull             Format = "full"
	FormatDummySharded     Format = "dummy-sharded"
	FormatDummyTensorTable Format = "dummy-tensor-table"
	FormatDummyFull        Format = "dummy-full"
)

var allFormats = []Format{
	FormatAuto,
	FormatSharded,
	FormatTensorTable,
	FormatFull,
	FormatDummySharded,
	FormatDummyTensorTable,
	FormatDummyFull,
}

// ParseFormat resolves a format identifier. Unknown identifiers produce an
// ErrUnsupportedFormat error naming the identifier and the primary formats.
func ParseFormat(s string) (Format, error) {
	for _, f := range allFormats {
		if Format(s) == f {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q, only support %q and %q", ErrUnsupportedFormat, s, FormatSharded, FormatTensorTable)
}

// IsDummy reports whether the format skips weight transfer.
func (f Format) IsDummy() bool {
	return strings.HasPrefix(string(f), "dummy-")
}

// Resolve maps auto onto the sharded format and strips the dummy prefix,
// yielding the transfer format whose layout the load follows.
func (f Format) Resolve() Format {
	if f == FormatAuto {
		return FormatSharded
	}
	if f.IsDummy() {
		return Format(strings.TrimPrefix(string(f), "dummy-"))
	}
	return f
}

// String returns the format identifier.
func (f Format) String() string { return string(f) }
