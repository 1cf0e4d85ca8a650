// Copyright (C) 2025 QLaib Lab (dev@qlaib.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/qlaiblab/qlaib/cmd/qlaib/config"
	"github.com/qlaiblab/qlaib/pkg/logging"
)

// --- Global Command Variables ---
var (
	configPath string

	// count flags
	countChannelA int
	countChannelB int
	countWindowPs float64
	countDelayPs  float64

	// calibrate flags
	calScanStartPs float64
	calScanEndPs   float64
	calScanStepPs  float64
	calWindowPs    float64

	// replay flags
	replayAccidentals bool

	rootCmd = &cobra.Command{
		Use:   "qlaib",
		Short: "Coincidence detection and calibration engine for photon timestamp streams",
		Long: `qlaib counts multi-channel photon coincidences, auto-calibrates
per-channel timing delays, and serves live results over TCP and HTTP.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				log.Fatalf("Error loading configuration: %v", err)
			}
		},
	}

	countCmd = &cobra.Command{
		Use:   "count [capture.qraw]",
		Short: "Count coincidences between two channels of a recorded capture",
		Args:  cobra.ExactArgs(1),
		Run:   runCount, // Defined in cmd_count.go
	}

	calibrateCmd = &cobra.Command{
		Use:   "calibrate [capture.qraw]",
		Short: "Scan the delay grid on a recorded capture and print the delay table",
		Args:  cobra.ExactArgs(1),
		Run:   runCalibrate, // Defined in cmd_calibrate.go
	}

	replayCmd = &cobra.Command{
		Use:   "replay [capture dir]",
		Short: "Run the full pipeline over recorded captures and print one report per chunk",
		Args:  cobra.ExactArgs(1),
		Run:   runReplay, // Defined in cmd_replay.go
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the live engine: acquisition loop, HTTP API, and TCP control protocol",
		Run:   runServe, // Defined in cmd_serve.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.qlaib/qlaib.yaml)")

	countCmd.Flags().IntVar(&countChannelA, "a", 1, "first channel")
	countCmd.Flags().IntVar(&countChannelB, "b", 5, "second channel")
	countCmd.Flags().Float64Var(&countWindowPs, "window", 0, "coincidence window in ps (default from config)")
	countCmd.Flags().Float64Var(&countDelayPs, "delay", 0, "delay applied to the second channel in ps")

	calibrateCmd.Flags().Float64Var(&calScanStartPs, "start", 0, "scan start in ps (default from config)")
	calibrateCmd.Flags().Float64Var(&calScanEndPs, "end", 0, "scan end in ps (default from config)")
	calibrateCmd.Flags().Float64Var(&calScanStepPs, "step", 0, "scan step in ps (default from config)")
	calibrateCmd.Flags().Float64Var(&calWindowPs, "window", 0, "coincidence window in ps (default from config)")

	replayCmd.Flags().BoolVar(&replayAccidentals, "accidentals", true, "attach accidental estimates to each report")

	rootCmd.AddCommand(countCmd)
	rootCmd.AddCommand(calibrateCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(serveCmd)
}

// newLogger builds the process logger from the loaded configuration.
func newLogger(service string) *logging.Logger {
	level := logging.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = logging.LevelDebug
	case "warn":
		level = logging.LevelWarn
	case "error":
		level = logging.LevelError
	}
	return logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.LogDir,
		Service: service,
	})
}
