// Copyright (C) 2025 QLaib Lab (dev@qlaib.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config defines the engine's YAML configuration and its loader.
package config

// Config is the engine configuration, loaded from ~/.qlaib/qlaib.yaml by
// default. Zero values fall back to the defaults in Default().
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`

	// LogDir receives the JSON log files; empty disables file logging.
	LogDir string `yaml:"log_dir"`

	// WindowPs is the two-fold coincidence window in picoseconds.
	WindowPs float64 `yaml:"window_ps" validate:"gt=0"`

	// Accidentals enables false-coincidence estimation on every chunk.
	Accidentals bool `yaml:"accidentals"`

	// Calibrate runs a delay calibration pass at serve startup, so the
	// served pipeline uses relative delays measured from a fresh chunk.
	Calibrate bool `yaml:"calibrate"`

	// ExposureSec is the capture chunk length in seconds.
	ExposureSec float64 `yaml:"exposure_sec" validate:"gt=0"`

	// Scan bounds the calibration delay grid.
	Scan ScanConfig `yaml:"scan"`

	// HTTPAddr is the listen address for the HTTP API.
	HTTPAddr string `yaml:"http_addr" validate:"required"`

	// TCPAddr is the listen address for the legacy control protocol.
	TCPAddr string `yaml:"tcp_addr" validate:"required"`

	// Backend selects and configures the timestamp source.
	Backend BackendConfig `yaml:"backend"`
}

// ScanConfig bounds the calibration delay grid in picoseconds.
type ScanConfig struct {
	StartPs float64 `yaml:"start_ps"`
	EndPs   float64 `yaml:"end_ps"`
	StepPs  float64 `yaml:"step_ps" validate:"gt=0"`
}

// BackendConfig selects the timestamp source.
type BackendConfig struct {
	// Type is "mock" for the simulated source or "replay" for recorded
	// capture files.
	Type string `yaml:"type" validate:"oneof=mock replay"`

	// ReplayDir holds the .qraw files for the replay backend.
	ReplayDir string `yaml:"replay_dir"`

	// RecordDir, when set, makes the engine record every captured chunk
	// there as a .qraw file.
	RecordDir string `yaml:"record_dir"`

	// Seed makes the mock source reproducible.
	Seed int64 `yaml:"seed"`
}

// Default returns the configuration the engine ships with, matching the
// instrument's historical defaults: a 250 ps window, 5 s exposures, and a
// +-30 ns calibration scan in 10 ps steps.
func Default() Config {
	return Config{
		LogLevel:    "info",
		WindowPs:    250,
		ExposureSec: 5,
		Calibrate:   true,
		Scan: ScanConfig{
			StartPs: -30000,
			EndPs:   30000,
			StepPs:  10,
		},
		HTTPAddr: ":8080",
		TCPAddr:  ":5000",
		Backend: BackendConfig{
			Type: "mock",
			Seed: 1,
		},
	}
}
