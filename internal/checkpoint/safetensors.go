// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package checkpoint reads consolidated weight files into host tensors.
//
// SafeTensors format:
// [8 bytes: header_size (uint64 LE)]
// [header_size bytes: JSON header]
// [tensor data: raw bytes]
package checkpoint

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/765859220/verl/internal/tensor"
)

// maxHeaderSize bounds the JSON header to reject corrupt files early.
const maxHeaderSize = 100 * 1024 * 1024

// safeTensorsDTypes maps the format's dtype tags onto tensor types.
var safeTensorsDTypes = map[string]tensor.DataType{
	"F16":  tensor.Float16,
	"F32":  tensor.Float32,
	"F64":  tensor.Float64,
	"BF16": tensor.BFloat16,
	"I8":   tensor.Int8,
	"I32":  tensor.Int32,
	"I64":  tensor.Int64,
	"U8":   tensor.Uint8,
	"BOOL": tensor.Bool,
}

// tensorInfo describes one tensor in the header.
type tensorInfo struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"` // [start, end] relative to the data section
}

// header is the parsed JSON header: tensor entries plus optional metadata.
type header struct {
	Metadata map[string]string
	Tensors  map[string]tensorInfo
}

func (h *header) UnmarshalJSON(data []byte) error {
	var rawMap map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawMap); err != nil {
		return err
	}
	if metadataRaw, ok := rawMap["__metadata__"]; ok {
		if err := json.Unmarshal(metadataRaw, &h.Metadata); err != nil {
			return fmt.Errorf("parse metadata: %w", err)
		}
	}
	h.Tensors = make(map[string]tensorInfo, len(rawMap))
	for key, value := range rawMap {
		if key == "__metadata__" {
			continue
		}
		var info tensorInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return fmt.Errorf("parse tensor %s: %w", key, err)
		}
		h.Tensors[key] = info
	}
	return nil
}

// ReadSafeTensors loads every tensor in a .safetensors file into host memory,
// keyed by checkpoint name. The file's metadata section is returned alongside.
func ReadSafeTensors(path string) (map[string]*tensor.RawTensor, map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open checkpoint: %w", err)
	}
	if len(raw) < 8 {
		return nil, nil, fmt.Errorf("checkpoint %s: truncated header size", path)
	}
	headerSize := binary.LittleEndian.Uint64(raw)
	if headerSize > maxHeaderSize || 8+headerSize > uint64(len(raw)) {
		return nil, nil, fmt.Errorf("checkpoint %s: invalid header size %d", path, headerSize)
	}

	var h header
	if err := json.Unmarshal(raw[8:8+headerSize], &h); err != nil {
		return nil, nil, fmt.Errorf("checkpoint %s: parse header: %w", path, err)
	}

	data := raw[8+headerSize:]
	out := make(map[string]*tensor.RawTensor, len(h.Tensors))
	for name, info := range h.Tensors {
		dtype, ok := safeTensorsDTypes[info.DType]
		if !ok {
			return nil, nil, fmt.Errorf("tensor %s: unsupported dtype %q", name, info.DType)
		}
		start, end := info.DataOffsets[0], info.DataOffsets[1]
		if start < 0 || end < start || end > int64(len(data)) {
			return nil, nil, fmt.Errorf("tensor %s: data offsets [%d, %d) out of range", name, start, end)
		}
		t, err := tensor.NewRaw(tensor.Shape(info.Shape), dtype)
		if err != nil {
			return nil, nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		if int64(t.ByteSize()) != end-start {
			return nil, nil, fmt.Errorf("tensor %s: %d bytes in file, layout needs %d",
				name, end-start, t.ByteSize())
		}
		copy(t.Data(), data[start:end])
		out[name] = t
	}
	return out, h.Metadata, nil
}
