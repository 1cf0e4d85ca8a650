// Copyright (C) 2025 QLaib Lab (dev@qlaib.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/qlaiblab/qlaib/services/engine/batch"
	"github.com/qlaiblab/qlaib/services/engine/matcher"
)

// runCount counts pairwise coincidences between two channels of one
// recorded capture and prints the count plus the singles involved.
func runCount(cmd *cobra.Command, args []string) {
	b, err := batch.ReadFile(args[0])
	if err != nil {
		log.Fatalf("Error reading capture: %v", err)
	}

	window := countWindowPs
	if window == 0 {
		window = cfg.WindowPs
	}

	a := batch.ChannelID(countChannelA)
	bb := batch.ChannelID(countChannelB)
	count := matcher.CountPair(b.Flatten(a), b.Flatten(bb), window, countDelayPs)

	fmt.Printf("Channel%d singles: %d\n", a, b.TotalEvents(a))
	fmt.Printf("Channel%d singles: %d\n", bb, b.TotalEvents(bb))
	fmt.Printf("Coincidences (window %g ps, delay %g ps): %d\n", window, countDelayPs, count)
}
