// Copyright (C) 2025 QLaib Lab (dev@qlaib.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/qlaiblab/qlaib/services/engine/acquisition"
	"github.com/qlaiblab/qlaib/services/engine/pipeline"
	"github.com/qlaiblab/qlaib/services/engine/server"
)

// runReplay runs the full default pipeline over a directory of recorded
// captures and prints one report line per chunk, the same line the TCP
// protocol would stream live.
func runReplay(cmd *cobra.Command, args []string) {
	backend, err := acquisition.NewReplayDir(args[0])
	if err != nil {
		log.Fatalf("Error opening captures: %v", err)
	}
	defer backend.Close()

	var opts []pipeline.Option
	if replayAccidentals {
		opts = append(opts, pipeline.WithAccidentals())
	}
	pipe, err := pipeline.New(pipeline.DefaultSpecs(cfg.WindowPs), opts...)
	if err != nil {
		log.Fatalf("Error building pipeline: %v", err)
	}

	ctx := context.Background()
	labels := pipe.Labels()
	for {
		b, err := backend.Capture(ctx, cfg.ExposureSec)
		if errors.Is(err, acquisition.ErrExhausted) {
			return
		}
		if err != nil {
			log.Fatalf("Error reading capture: %v", err)
		}
		res, err := pipe.Run(ctx, b)
		if err != nil {
			log.Fatalf("Error running pipeline: %v", err)
		}
		fmt.Println(server.FormatReport(res, labels))
	}
}
