// Copyright 2025 The verl Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/765859220/verl/internal/loader"
)

func formatsCmd() *cli.Command {
	return &cli.Command{
		Name:  "formats",
		Usage: "List supported load formats",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rows := []struct {
				format loader.Format
				desc   string
			}{
				{loader.FormatAuto, "alias for sharded"},
				{loader.FormatSharded, "tensor-parallel shards from a live training module"},
				{loader.FormatTensorTable, "name-keyed table of plain or distributed tensors"},
				{loader.FormatFull, "whole tensors from a consolidated checkpoint"},
				{loader.FormatDummySharded, "skeleton only, sharded layout"},
				{loader.FormatDummyTensorTable, "skeleton only, tensor-table layout"},
				{loader.FormatDummyFull, "skeleton only, full layout"},
			}
			for _, r := range rows {
				fmt.Printf("%-20s %s\n", r.format, r.desc)
			}
			return nil
		},
	}
}
