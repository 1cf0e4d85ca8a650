// Copyright (C) 2025 QLaib Lab (dev@qlaib.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/spf13/cobra"

	"github.com/qlaiblab/qlaib/services/engine/batch"
	"github.com/qlaiblab/qlaib/services/engine/calibrate"
)

// runCalibrate scans the delay grid over the like-polarization reference
// pairs of a recorded capture and prints the per-channel delay table.
func runCalibrate(cmd *cobra.Command, args []string) {
	b, err := batch.ReadFile(args[0])
	if err != nil {
		log.Fatalf("Error reading capture: %v", err)
	}

	opts := calibrate.Options{
		WindowPs:     cfg.WindowPs,
		DelayStartPs: cfg.Scan.StartPs,
		DelayEndPs:   cfg.Scan.EndPs,
		DelayStepPs:  cfg.Scan.StepPs,
	}
	if calWindowPs != 0 {
		opts.WindowPs = calWindowPs
	}
	if calScanStartPs != 0 {
		opts.DelayStartPs = calScanStartPs
	}
	if calScanEndPs != 0 {
		opts.DelayEndPs = calScanEndPs
	}
	if calScanStepPs != 0 {
		opts.DelayStepPs = calScanStepPs
	}

	delays, warnings, err := calibrate.Calibrate(context.Background(), b, calibrate.DefaultRefPairs, opts)
	if err != nil {
		log.Fatalf("Error calibrating: %v", err)
	}

	channels := make([]batch.ChannelID, 0, len(delays))
	for ch := range delays {
		channels = append(channels, ch)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })

	fmt.Printf("Calibrated delays (window %g ps, scan %g..%g step %g):\n",
		opts.WindowPs, opts.DelayStartPs, opts.DelayEndPs, opts.DelayStepPs)
	for _, ch := range channels {
		fmt.Printf("  channel %d: %g ps\n", ch, delays[ch])
	}
	for _, w := range warnings {
		fmt.Printf("  warning: %s\n", w)
	}
}
