// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package checkpoint

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	"github.com/goccy/go-json"

	"github.com/765859220/verl/internal/tensor"
)

// safeTensorsNames is the reverse dtype mapping for writing.
var safeTensorsNames = map[tensor.DataType]string{
	tensor.Float16:  "F16",
	tensor.Float32:  "F32",
	tensor.Float64:  "F64",
	tensor.BFloat16: "BF16",
	tensor.Int8:     "I8",
	tensor.Int32:    "I32",
	tensor.Int64:    "I64",
	tensor.Uint8:    "U8",
	tensor.Bool:     "BOOL",
}

// WriteSafeTensors writes host-resident tensors to a .safetensors file.
// Tensors are laid out in name order.
func WriteSafeTensors(path string, tensors map[string]*tensor.RawTensor, metadata map[string]string) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make(map[string]json.RawMessage, len(tensors)+1)
	if len(metadata) > 0 {
		m, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		entries["__metadata__"] = m
	}

	var offset int64
	for _, name := range names {
		t := tensors[name]
		if !t.IsHost() {
			return fmt.Errorf("tensor %s resides on %s, cannot serialize", name, t.Device())
		}
		dtype, ok := safeTensorsNames[t.DType()]
		if !ok {
			return fmt.Errorf("tensor %s: dtype %s has no serialized form", name, t.DType())
		}
		info, err := json.Marshal(tensorInfo{
			DType:       dtype,
			Shape:       t.Shape(),
			DataOffsets: [2]int64{offset, offset + int64(t.ByteSize())},
		})
		if err != nil {
			return err
		}
		entries[name] = info
		offset += int64(t.ByteSize())
	}

	headerJSON, err := json.Marshal(entries)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return err
	}
	buf.Write(headerJSON)
	for _, name := range names {
		buf.Write(tensors[name].Data())
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
